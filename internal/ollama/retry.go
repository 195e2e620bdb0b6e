package ollama

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"time"
)

// Backoff parameters. Vars so tests can shrink the delays.
var (
	backoffBase   = 1 * time.Second
	backoffJitter = 1 * time.Second
	backoffCap    = 30 * time.Second
)

// backoffDelay computes the delay before retry number attempt (0-based):
// min(base * 2^attempt + jitter, cap). The jitter spreads out retry storms
// when several callers lose the server at once.
func backoffDelay(attempt int) time.Duration {
	d := backoffBase << uint(attempt)
	if d > backoffCap || d <= 0 {
		d = backoffCap
	}
	d += time.Duration(rand.Int63n(int64(backoffJitter) + 1))
	if d > backoffCap {
		d = backoffCap
	}
	return d
}

// retryable reports whether err is worth another attempt: connection errors,
// timeouts, and 5xx responses are transient; 4xx and everything else is not.
func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500 && se.code < 600
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	if errors.Is(err, errIdleTimeout) {
		return true
	}
	// Context deadline on the request itself counts as a timeout.
	return errors.Is(err, context.DeadlineExceeded)
}

// sleepOrDone waits for d unless ctx is cancelled first.
func sleepOrDone(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
