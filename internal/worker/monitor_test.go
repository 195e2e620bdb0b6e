package worker

import (
	"context"
	"sync"
	"testing"
	"time"
)

// scriptedPinger returns a fixed sequence of probe results, repeating the
// last one once exhausted.
type scriptedPinger struct {
	mu      sync.Mutex
	results []bool
	idx     int
	panics  map[int]bool
}

func (p *scriptedPinger) TestConnection(ctx context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.idx
	if p.idx < len(p.results)-1 {
		p.idx++
	}
	if p.panics[i] {
		panic("probe blew up")
	}
	return p.results[i]
}

func collectChanges(t *testing.T, p Pinger, polls int) []bool {
	t.Helper()

	var mu sync.Mutex
	var changes []bool
	m := NewMonitor(p, time.Millisecond, func(connected bool) {
		mu.Lock()
		defer mu.Unlock()
		changes = append(changes, connected)
	})
	m.retryInterval = time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(polls)*5*time.Millisecond)
	defer cancel()
	m.Run(ctx)

	mu.Lock()
	defer mu.Unlock()
	out := make([]bool, len(changes))
	copy(out, changes)
	return out
}

func TestMonitor_EdgeTriggered(t *testing.T) {
	p := &scriptedPinger{results: []bool{true, true, false, false, true, true}}
	changes := collectChanges(t, p, 20)

	want := []bool{true, false, true}
	if len(changes) != len(want) {
		t.Fatalf("changes = %v, want %v (only transitions)", changes, want)
	}
	for i := range want {
		if changes[i] != want[i] {
			t.Errorf("changes[%d] = %t, want %t", i, changes[i], want[i])
		}
	}
}

func TestMonitor_FirstObservationEmits(t *testing.T) {
	p := &scriptedPinger{results: []bool{false, false, false}}
	changes := collectChanges(t, p, 10)

	if len(changes) != 1 || changes[0] != false {
		t.Fatalf("changes = %v, want single false", changes)
	}
}

func TestMonitor_ProbeFaultDegradesToDisconnected(t *testing.T) {
	p := &scriptedPinger{
		results: []bool{true, false, true, true},
		panics:  map[int]bool{1: true},
	}
	changes := collectChanges(t, p, 20)

	// true (initial), false (fault), true (recovered).
	want := []bool{true, false, true}
	if len(changes) != len(want) {
		t.Fatalf("changes = %v, want %v", changes, want)
	}
	for i := range want {
		if changes[i] != want[i] {
			t.Errorf("changes[%d] = %t, want %t", i, changes[i], want[i])
		}
	}
}
