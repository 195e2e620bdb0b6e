package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"
)

// Stop is a cooperative cancellation flag shared between the caller and a
// running stream. Cancellation is checked before connecting, before each
// delivered chunk, and at each retry decision; it is never preemptive.
type Stop struct {
	flag atomic.Bool
}

// Request asks the stream to stop at its next checkpoint. It never blocks.
func (s *Stop) Request() {
	s.flag.Store(true)
}

// Requested reports whether a stop has been asked for. A nil Stop never
// stops.
func (s *Stop) Requested() bool {
	return s != nil && s.flag.Load()
}

// Clear resets the flag before a new task starts.
func (s *Stop) Clear() {
	s.flag.Store(false)
}

// Chunk is one line of the server's streamed chat response: an incremental
// content delta and/or the terminal done signal. Chunks are transient and
// never persisted.
type Chunk struct {
	Role    string
	Content string
	Done    bool
}

// chatRequest is the JSON body for POST /api/chat.
type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
	Options  *Options  `json:"options,omitempty"`
}

// errIdleTimeout marks a stream that went silent for longer than the read
// timeout. It is retryable like any other timeout.
var errIdleTimeout = errors.New("stream read timeout: no data received")

// ChatStream issues a streaming chat request and delivers each decoded chunk
// to fn in order. Malformed lines are skipped without failing the stream.
// The stream ends at the first done chunk or at EOF.
//
// Failures before or during the stream are retried with the same backoff
// policy as ListModels unless stop has been requested; an observed stop
// always wins over error reporting and surfaces as ErrStopped. After retries
// are exhausted the call fails with ErrStreamFailure.
func (c *Client) ChatStream(ctx context.Context, model string, messages []Message, opts *Options, stop *Stop, fn func(Chunk)) error {
	cr := chatRequest{Model: model, Messages: messages, Stream: true}
	if !opts.IsZero() {
		cr.Options = opts
	}
	body, err := json.Marshal(cr)
	if err != nil {
		return fmt.Errorf("encoding chat request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if stop.Requested() {
			c.setState(StateStopped)
			return ErrStopped
		}

		c.setState(StateConnecting)
		c.logger.Debug("starting chat stream", "model", model, "attempt", attempt+1)

		err := c.streamOnce(ctx, body, stop, fn)
		if err == nil {
			c.setState(StateCompleted)
			return nil
		}
		if errors.Is(err, ErrStopped) {
			c.setState(StateStopped)
			return ErrStopped
		}

		lastErr = err
		c.setState(StateError)
		c.logger.Debug("chat stream attempt failed", "attempt", attempt+1, "error", err)

		// A stop observed after a failure suppresses both retries and the
		// error itself.
		if stop.Requested() {
			c.setState(StateStopped)
			return ErrStopped
		}
		if attempt < c.maxRetries && retryable(err) {
			delay := backoffDelay(attempt)
			c.logger.Debug("retrying chat stream", "delay", delay)
			if err := sleepOrDone(ctx, delay); err != nil {
				break
			}
			continue
		}
		break
	}

	if stop.Requested() {
		c.setState(StateStopped)
		return ErrStopped
	}
	return fmt.Errorf("%w: %v", ErrStreamFailure, lastErr)
}

// streamOnce performs a single streaming attempt.
func (c *Client) streamOnce(ctx context.Context, body []byte, stop *Stop, fn func(Chunk)) error {
	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("chat request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &statusError{code: resp.StatusCode}
	}

	c.setState(StateStreaming)

	// The watchdog bounds the time between successive reads of the body, not
	// the whole stream. Each read pushes the deadline out again; if it fires,
	// the in-flight read fails via request cancellation.
	var timedOut atomic.Bool
	watchdog := time.AfterFunc(c.readTimeout, func() {
		timedOut.Store(true)
		cancel()
	})
	defer watchdog.Stop()

	reader := bufio.NewReader(&idleResetReader{
		r:       resp.Body,
		timer:   watchdog,
		timeout: c.readTimeout,
	})

	for {
		if stop.Requested() {
			return ErrStopped
		}

		line, err := reader.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			if chunk, ok := decodeChunk(line); ok {
				if stop.Requested() {
					return ErrStopped
				}
				fn(chunk)
				if chunk.Done {
					return nil
				}
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			if timedOut.Load() {
				return errIdleTimeout
			}
			return fmt.Errorf("reading stream: %w", err)
		}
	}
}

// decodeChunk parses one stream line. Lines that are not valid JSON are
// dropped silently; streaming continues.
func decodeChunk(line []byte) (Chunk, bool) {
	var raw struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		Done bool `json:"done"`
	}
	if err := json.Unmarshal(line, &raw); err != nil {
		return Chunk{}, false
	}
	return Chunk{
		Role:    raw.Message.Role,
		Content: raw.Message.Content,
		Done:    raw.Done,
	}, true
}

// idleResetReader pushes the watchdog deadline forward on every read.
type idleResetReader struct {
	r       io.Reader
	timer   *time.Timer
	timeout time.Duration
}

func (ir *idleResetReader) Read(p []byte) (int, error) {
	ir.timer.Reset(ir.timeout)
	return ir.r.Read(p)
}
