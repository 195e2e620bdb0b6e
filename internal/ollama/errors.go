package ollama

import (
	"errors"
	"fmt"
)

// ErrServerUnreachable is returned when the server could not be reached after
// all retry attempts for a non-streaming request.
var ErrServerUnreachable = errors.New("ollama server unreachable")

// ErrStreamFailure is returned when a streaming chat request failed after all
// retry attempts.
var ErrStreamFailure = errors.New("chat stream failed")

// ErrStopped is returned by ChatStream when the caller requested a stop.
// It marks a clean cancellation, never a failure.
var ErrStopped = errors.New("generation stopped")

// statusError carries a non-2xx HTTP status through the retry policy so it
// can distinguish 5xx (retryable) from 4xx (terminal).
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.code)
}
