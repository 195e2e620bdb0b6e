package ollama

// Options holds the sampling parameters forwarded to the model. Nil fields
// are omitted from the request body so the server keeps its own defaults.
type Options struct {
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	TopK        *int     `json:"top_k,omitempty"`
}

// IsZero reports whether no option is set.
func (o *Options) IsZero() bool {
	return o == nil || (o.Temperature == nil && o.TopP == nil && o.TopK == nil)
}
