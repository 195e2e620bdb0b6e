package worker

import (
	"context"
	"log/slog"
	"time"
)

// Pinger is the connectivity probe consumed by the Monitor.
type Pinger interface {
	TestConnection(ctx context.Context) bool
}

// Monitor periodically checks server reachability and reports transitions
// only: observers are told when the answer changes, not on every poll.
type Monitor struct {
	client        Pinger
	interval      time.Duration
	retryInterval time.Duration
	onChange      func(connected bool)
	logger        *slog.Logger
}

// NewMonitor creates a Monitor polling at interval (default 30s). onChange
// fires on every connectivity transition, including the first observation.
func NewMonitor(client Pinger, interval time.Duration, onChange func(bool)) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Monitor{
		client:        client,
		interval:      interval,
		retryInterval: 5 * time.Second,
		onChange:      onChange,
		logger:        slog.Default(),
	}
}

// Run polls until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	m.logger.Debug("connection monitor started", "interval", m.interval)
	defer m.logger.Debug("connection monitor stopped")

	var lastKnown, known bool
	for {
		connected, faulted := m.check(ctx)

		if !known || connected != lastKnown {
			m.logger.Debug("connectivity changed", "connected", connected)
			m.onChange(connected)
			lastKnown, known = connected, true
		}

		delay := m.interval
		if faulted {
			// A probe fault degrades to disconnected and rechecks sooner.
			delay = m.retryInterval
		}

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// check probes the server. TestConnection swallows its own errors, so a
// fault here should not normally occur; if one does, it is treated as
// disconnected rather than crashing the monitor loop.
func (m *Monitor) check(ctx context.Context) (connected, faulted bool) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Warn("connection probe fault", "panic", r)
			connected, faulted = false, true
		}
	}()
	return m.client.TestConnection(ctx), false
}
