package worker

// Listener receives worker events. Callbacks for a given task fire in order
// on the worker goroutine; no two tasks' events interleave because only one
// task executes at a time. Implementations must not block for long.
type Listener interface {
	// ModelsLoaded delivers the sorted model list (possibly empty).
	ModelsLoaded(models []string)
	// MessageChunk delivers one incremental content delta.
	MessageChunk(delta string)
	// MessageCompleted delivers the full accumulated response text.
	MessageCompleted(full string)
	// GenerationStopped signals a clean, user-requested stop.
	GenerationStopped()
	// ConnectionChanged reports server reachability transitions.
	ConnectionChanged(connected bool)
	// ErrorOccurred delivers a user-facing error message.
	ErrorOccurred(msg string)
}

// Hooks is a Listener made of optional funcs, for callers that only care
// about a subset of events.
type Hooks struct {
	OnModelsLoaded      func([]string)
	OnMessageChunk      func(string)
	OnMessageCompleted  func(string)
	OnGenerationStopped func()
	OnConnectionChanged func(bool)
	OnErrorOccurred     func(string)
}

func (h *Hooks) ModelsLoaded(models []string) {
	if h.OnModelsLoaded != nil {
		h.OnModelsLoaded(models)
	}
}

func (h *Hooks) MessageChunk(delta string) {
	if h.OnMessageChunk != nil {
		h.OnMessageChunk(delta)
	}
}

func (h *Hooks) MessageCompleted(full string) {
	if h.OnMessageCompleted != nil {
		h.OnMessageCompleted(full)
	}
}

func (h *Hooks) GenerationStopped() {
	if h.OnGenerationStopped != nil {
		h.OnGenerationStopped()
	}
}

func (h *Hooks) ConnectionChanged(connected bool) {
	if h.OnConnectionChanged != nil {
		h.OnConnectionChanged(connected)
	}
}

func (h *Hooks) ErrorOccurred(msg string) {
	if h.OnErrorOccurred != nil {
		h.OnErrorOccurred(msg)
	}
}
