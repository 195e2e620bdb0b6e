// Package worker runs the single-flight background executor that serializes
// model-list and send-message operations against the Ollama server, and the
// periodic connection monitor. All network I/O happens on the worker
// goroutine; callers never block beyond the enqueue check.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/FedericoBaratti/ollama-chat/internal/chat"
	"github.com/FedericoBaratti/ollama-chat/internal/ollama"
)

// Client abstracts the network layer for testing.
type Client interface {
	TestConnection(ctx context.Context) bool
	ListModels(ctx context.Context) ([]string, error)
	ChatStream(ctx context.Context, model string, messages []ollama.Message, opts *ollama.Options, stop *ollama.Stop, fn func(ollama.Chunk)) error
}

type taskKind int

const (
	taskLoadModels taskKind = iota
	taskSendMessage
)

// Worker is the task orchestrator. At most one task may be queued or
// in-flight at a time; Enqueue-style calls return false while busy.
type Worker struct {
	client Client
	conv   *chat.Conversation
	opts   *ollama.Options
	logger *slog.Logger

	tasks chan taskKind
	stop  ollama.Stop

	mu        sync.Mutex
	busy      bool
	model     string
	listeners []Listener
}

// New creates a Worker around the given client and conversation. opts may be
// nil when no sampling overrides are configured.
func New(client Client, conv *chat.Conversation, opts *ollama.Options) *Worker {
	return &Worker{
		client: client,
		conv:   conv,
		opts:   opts,
		logger: slog.Default(),
		// Capacity 1: the enqueue check-and-set guarantees a free slot.
		tasks: make(chan taskKind, 1),
	}
}

// Subscribe registers a listener for worker events.
func (w *Worker) Subscribe(l Listener) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listeners = append(w.listeners, l)
}

func (w *Worker) emit(fn func(Listener)) {
	w.mu.Lock()
	listeners := make([]Listener, len(w.listeners))
	copy(listeners, w.listeners)
	w.mu.Unlock()

	for _, l := range listeners {
		fn(l)
	}
}

func (w *Worker) emitError(msg string) {
	w.emit(func(l Listener) { l.ErrorOccurred(msg) })
}

// SetModel selects the model used by subsequent SendMessage calls.
func (w *Worker) SetModel(model string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.model = model
}

// Model returns the currently selected model.
func (w *Worker) Model() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.model
}

// Busy reports whether a task is queued or executing.
func (w *Worker) Busy() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.busy
}

// Conversation returns the underlying history.
func (w *Worker) Conversation() *chat.Conversation {
	return w.conv
}

// LoadModels queues a model-list task. Returns false without queueing if the
// worker is busy.
func (w *Worker) LoadModels() bool {
	return w.enqueue(taskLoadModels, nil)
}

// SendMessage appends the user message (with the knowledge context block
// prepended when non-blank) and queues a send task. Returns false if no
// model is selected or the worker is busy; the no-model case also emits an
// error event.
func (w *Worker) SendMessage(message, contextBlock string) bool {
	if w.Model() == "" {
		w.logger.Debug("send rejected: no model selected")
		w.emitError("no model selected")
		return false
	}

	final := chat.WithContext(contextBlock, message)
	if final != message {
		w.logger.Debug("adding knowledge context", "chars", len(contextBlock))
	}

	return w.enqueue(taskSendMessage, func() {
		w.conv.Append(chat.RoleUser, final)
	})
}

// enqueue performs the single-flight check-and-set. The lock covers only the
// check, the optional pre-task mutation, and the channel send; never task
// execution.
func (w *Worker) enqueue(task taskKind, before func()) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.busy {
		w.logger.Debug("worker busy, task rejected", "task", task)
		return false
	}
	if before != nil {
		before()
	}
	w.busy = true
	w.tasks <- task
	return true
}

// RequestStop sets the cancellation flag. It never blocks; the stop takes
// effect at the next checkpoint inside the streaming loop or before
// connection.
func (w *Worker) RequestStop() {
	w.logger.Debug("stop requested")
	w.stop.Request()
}

// ClearConversation drops the whole history.
func (w *Worker) ClearConversation() {
	w.conv.Clear()
}

// SetSystemMessage installs or replaces the pinned system message.
func (w *Worker) SetSystemMessage(content string) {
	w.conv.SetSystemMessage(content)
}

// IsConnected checks server reachability synchronously.
func (w *Worker) IsConnected(ctx context.Context) bool {
	return w.client.TestConnection(ctx)
}

// Run executes queued tasks until ctx is cancelled. It is the only goroutine
// that performs network I/O.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Debug("worker started")
	defer w.logger.Debug("worker stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case task := <-w.tasks:
			// A stop requested for a previous task must not leak into this one.
			w.stop.Clear()

			switch task {
			case taskLoadModels:
				w.handleLoadModels(ctx)
			case taskSendMessage:
				w.handleSendMessage(ctx)
			}

			w.mu.Lock()
			w.busy = false
			w.mu.Unlock()
		}
	}
}

func (w *Worker) handleLoadModels(ctx context.Context) {
	if !w.client.TestConnection(ctx) {
		w.logger.Debug("connection test failed")
		w.emit(func(l Listener) { l.ConnectionChanged(false) })
		w.emitError("cannot connect to the Ollama server; check that it is running")
		return
	}
	w.emit(func(l Listener) { l.ConnectionChanged(true) })

	models, err := w.client.ListModels(ctx)
	if err != nil {
		w.logger.Debug("model list failed", "error", err)
		w.emit(func(l Listener) { l.ConnectionChanged(false) })
		w.emitError(err.Error())
		return
	}

	w.logger.Debug("models loaded", "count", len(models))
	w.emit(func(l Listener) { l.ModelsLoaded(models) })
}

func (w *Worker) handleSendMessage(ctx context.Context) {
	model := w.Model()
	if model == "" {
		w.emitError("no model selected")
		return
	}
	if w.stop.Requested() {
		w.emit(func(l Listener) { l.GenerationStopped() })
		return
	}

	messages := w.conv.History()
	if len(messages) == 0 {
		w.emitError("no messages to send")
		return
	}

	w.logger.Debug("sending messages", "count", len(messages), "model", model)

	var full strings.Builder
	streamStarted := false

	err := w.client.ChatStream(ctx, model, messages, w.opts, &w.stop, func(ch ollama.Chunk) {
		streamStarted = true
		if ch.Content != "" {
			full.WriteString(ch.Content)
			w.emit(func(l Listener) { l.MessageChunk(ch.Content) })
		}
	})

	switch {
	case errors.Is(err, ollama.ErrStopped):
		w.emit(func(l Listener) { l.GenerationStopped() })
		return
	case err != nil:
		// Cancellation always takes precedence over error reporting.
		if w.stop.Requested() {
			w.emit(func(l Listener) { l.GenerationStopped() })
		} else {
			w.emitError(err.Error())
		}
		return
	}

	if w.stop.Requested() {
		// Stopped after the stream completed: no partial message is kept.
		w.emit(func(l Listener) { l.GenerationStopped() })
		return
	}

	if full.Len() > 0 {
		response := full.String()
		w.conv.Append(chat.RoleAssistant, response)
		w.logger.Debug("message completed", "chars", len(response))
		w.emit(func(l Listener) { l.MessageCompleted(response) })
		return
	}

	if streamStarted {
		// The model returned nothing, which is distinct from never connecting.
		w.emit(func(l Listener) { l.MessageCompleted("") })
		return
	}
	w.emitError("no response received from the model")
}
