package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// fastBackoff shrinks retry delays for the duration of a test.
func fastBackoff(t *testing.T) {
	t.Helper()
	base, jitter := backoffBase, backoffJitter
	backoffBase = time.Millisecond
	backoffJitter = time.Millisecond
	t.Cleanup(func() {
		backoffBase = base
		backoffJitter = jitter
	})
}

// tagsJSON builds a /api/tags response with the given model names.
func tagsJSON(names ...string) []byte {
	type entry struct {
		Name string `json:"name"`
	}
	type resp struct {
		Models []entry `json:"models"`
	}
	r := resp{}
	for _, n := range names {
		r.Models = append(r.Models, entry{Name: n})
	}
	b, _ := json.Marshal(r)
	return b
}

func newTestClient(url string, retries int) *Client {
	return New(Config{
		BaseURL:        url,
		ConnectTimeout: 2 * time.Second,
		ReadTimeout:    2 * time.Second,
		MaxRetries:     retries,
	})
}

func TestTestConnection_Up(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(tagsJSON("phi3.5:latest"))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	if !c.TestConnection(context.Background()) {
		t.Error("TestConnection() = false, want true")
	}
}

func TestTestConnection_Down(t *testing.T) {
	// Point at a closed server to simulate connection refused.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := New(Config{BaseURL: srv.URL})
	if c.TestConnection(context.Background()) {
		t.Error("TestConnection() = true, want false")
	}
}

func TestListModels_Sorted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(tagsJSON("mistral-nemo:latest", "Phi3.5:latest", "nomic-embed-text:latest"))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	models, err := c.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}

	want := []string{"Phi3.5:latest", "mistral-nemo:latest", "nomic-embed-text:latest"}
	if len(models) != len(want) {
		t.Fatalf("got %d models, want %d", len(models), len(want))
	}
	for i, w := range want {
		if models[i] != w {
			t.Errorf("models[%d] = %q, want %q", i, models[i], w)
		}
	}
}

func TestListModels_MissingModelsArray(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	models, err := c.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(models) != 0 {
		t.Errorf("got %d models, want 0", len(models))
	}
}

func TestListModels_NoRetryOn4xx(t *testing.T) {
	fastBackoff(t)

	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 3)
	_, err := c.ListModels(context.Background())
	if !errors.Is(err, ErrServerUnreachable) {
		t.Fatalf("err = %v, want ErrServerUnreachable", err)
	}
	if got := attempts.Load(); got != 1 {
		t.Errorf("attempts = %d, want 1", got)
	}
}

func TestListModels_RetriesOn5xxThenSucceeds(t *testing.T) {
	fastBackoff(t)

	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write(tagsJSON("phi3.5:latest"))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 2)
	models, err := c.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(models) != 1 || models[0] != "phi3.5:latest" {
		t.Errorf("models = %v, want [phi3.5:latest]", models)
	}
	if got := attempts.Load(); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
}

func TestListModels_ExhaustsRetries(t *testing.T) {
	fastBackoff(t)

	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 2)
	_, err := c.ListModels(context.Background())
	if !errors.Is(err, ErrServerUnreachable) {
		t.Fatalf("err = %v, want ErrServerUnreachable", err)
	}
	// max_retries = 2 means 3 total attempts.
	if got := attempts.Load(); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
}

func TestBackoffDelay_GrowsAndCaps(t *testing.T) {
	for attempt := 0; attempt < 10; attempt++ {
		d := backoffDelay(attempt)
		if d > backoffCap {
			t.Errorf("backoffDelay(%d) = %v, exceeds cap %v", attempt, d, backoffCap)
		}
		floor := backoffBase << uint(attempt)
		if floor < backoffCap && d < floor {
			t.Errorf("backoffDelay(%d) = %v, below floor %v", attempt, d, floor)
		}
	}
}

func TestRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"5xx", &statusError{code: 502}, true},
		{"4xx", &statusError{code: 404}, false},
		{"idle timeout", errIdleTimeout, true},
		{"deadline", context.DeadlineExceeded, true},
		{"plain", errors.New("boom"), false},
	}
	for _, tc := range cases {
		if got := retryable(tc.err); got != tc.want {
			t.Errorf("%s: retryable() = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestRequestStateString(t *testing.T) {
	states := map[RequestState]string{
		StateIdle:       "idle",
		StateConnecting: "connecting",
		StateStreaming:  "streaming",
		StateCompleted:  "completed",
		StateStopped:    "stopped",
		StateError:      "error",
	}
	for s, want := range states {
		if s.String() != want {
			t.Errorf("%d.String() = %q, want %q", s, s.String(), want)
		}
	}
}
