package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync/atomic"
	"time"
)

const userAgent = "OllamaChat/1.0"

// Message represents a chat message in the Ollama API format.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// RequestState describes what the client is currently doing. It is purely
// observational; no control flow depends on it.
type RequestState int32

const (
	StateIdle RequestState = iota
	StateConnecting
	StateStreaming
	StateCompleted
	StateStopped
	StateError
)

func (s RequestState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateStopped:
		return "stopped"
	case StateError:
		return "error"
	}
	return "unknown"
}

// Config holds the network parameters for a Client.
type Config struct {
	BaseURL        string
	ConnectTimeout time.Duration // bounds dial + response headers
	ReadTimeout    time.Duration // bounds the gap between stream bytes
	MaxRetries     int           // extra attempts after the first
}

// Client communicates with a local Ollama instance over HTTP. A chat response
// may legitimately pause between tokens for longer than any sane
// connection-establishment bound, so the client keeps two timeouts: a short
// one for connecting and a longer per-read one for the stream itself.
type Client struct {
	baseURL        string
	connectTimeout time.Duration
	readTimeout    time.Duration
	maxRetries     int
	httpClient     *http.Client
	logger         *slog.Logger

	state atomic.Int32
}

// New creates a Client from cfg, filling in defaults for unset fields.
func New(cfg Config) *Client {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 15 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 120 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: cfg.ConnectTimeout,
		}).DialContext,
		ResponseHeaderTimeout: cfg.ConnectTimeout,
	}
	return &Client{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		connectTimeout: cfg.ConnectTimeout,
		readTimeout:    cfg.ReadTimeout,
		maxRetries:     cfg.MaxRetries,
		httpClient: &http.Client{
			// No overall timeout: streams are bounded per read instead.
			Timeout:   0,
			Transport: transport,
		},
		logger: slog.Default(),
	}
}

// State returns the current request state.
func (c *Client) State() RequestState {
	return RequestState(c.state.Load())
}

func (c *Client) setState(s RequestState) {
	c.state.Store(int32(s))
}

// tagsResponse mirrors the JSON returned by GET /api/tags. A missing models
// array decodes to an empty list rather than an error.
type tagsResponse struct {
	Models []modelEntry `json:"models"`
}

type modelEntry struct {
	Name string `json:"name"`
}

// ListModels returns the names of all available models, sorted
// alphabetically. Connection errors, timeouts, and 5xx responses are retried
// with exponential backoff; 4xx responses are terminal. After retries are
// exhausted it fails with ErrServerUnreachable.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		c.setState(StateConnecting)
		names, err := c.fetchModels(ctx)
		if err == nil {
			c.setState(StateCompleted)
			sort.Strings(names)
			return names, nil
		}

		lastErr = err
		c.setState(StateError)
		c.logger.Debug("model list attempt failed", "attempt", attempt+1, "error", err)

		if attempt < c.maxRetries && retryable(err) {
			delay := backoffDelay(attempt)
			c.logger.Debug("retrying model list", "delay", delay)
			if err := sleepOrDone(ctx, delay); err != nil {
				break
			}
			continue
		}
		break
	}
	return nil, fmt.Errorf("%w: %v", ErrServerUnreachable, lastErr)
}

func (c *Client) fetchModels(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting model list: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{code: resp.StatusCode}
	}

	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	names := make([]string, len(tags.Models))
	for i, m := range tags.Models {
		names[i] = m.Name
	}
	return names, nil
}

// TestConnection reports whether the server answers the model-list endpoint
// with 200 within the connect timeout. It never returns an error.
func (c *Client) TestConnection(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
