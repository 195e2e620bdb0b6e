// Package chat holds the bounded, thread-safe conversation history shared
// between the caller and the background worker.
package chat

import (
	"strings"
	"sync"
	"time"

	"github.com/FedericoBaratti/ollama-chat/internal/ollama"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

const defaultCapacity = 200

// Message is one entry of the conversation. Messages are immutable once
// appended; trimming may drop them but never rewrites them.
type Message struct {
	Role      string
	Content   string
	CreatedAt time.Time
}

// Conversation is an ordered, capacity-bounded message history. At most one
// system message exists and it always sits at index 0; trimming never evicts
// it. All operations lock for their own duration only, never across any
// network call, so the caller and the worker goroutine can use the same
// Conversation concurrently.
type Conversation struct {
	mu       sync.Mutex
	messages []Message
	capacity int
}

// NewConversation creates a Conversation holding at most capacity messages.
func NewConversation(capacity int) *Conversation {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Conversation{capacity: capacity}
}

// Append adds a message and trims the history if it grew past capacity.
func (c *Conversation) Append(role, content string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.messages = append(c.messages, Message{
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	})
	c.trim()
}

// trim keeps all system messages plus the most recent messages up to
// capacity. With more system messages than capacity, only the system
// messages survive.
func (c *Conversation) trim() {
	if len(c.messages) <= c.capacity {
		return
	}

	var system, others []Message
	for _, m := range c.messages {
		if m.Role == RoleSystem {
			system = append(system, m)
		} else {
			others = append(others, m)
		}
	}

	if len(system) == 0 {
		c.messages = c.messages[len(c.messages)-c.capacity:]
		return
	}

	keep := c.capacity - len(system)
	if keep < 0 {
		keep = 0
	}
	if keep < len(others) {
		others = others[len(others)-keep:]
	}
	c.messages = append(system, others...)
}

// History returns the messages in wire format, timestamps stripped.
func (c *Conversation) History() []ollama.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]ollama.Message, len(c.messages))
	for i, m := range c.messages {
		out[i] = ollama.Message{Role: m.Role, Content: m.Content}
	}
	return out
}

// Clear removes every message, including the system message.
func (c *Conversation) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = nil
}

// SetSystemMessage replaces any existing system message. Blank content
// removes it entirely.
func (c *Conversation) SetSystemMessage(content string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	kept := c.messages[:0]
	for _, m := range c.messages {
		if m.Role != RoleSystem {
			kept = append(kept, m)
		}
	}
	c.messages = kept

	if strings.TrimSpace(content) == "" {
		return
	}
	c.messages = append([]Message{{
		Role:      RoleSystem,
		Content:   content,
		CreatedAt: time.Now(),
	}}, c.messages...)
}

// Len returns the number of stored messages.
func (c *Conversation) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

// SetCapacity updates the bound and trims immediately if needed.
func (c *Conversation) SetCapacity(capacity int) {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.capacity = capacity
	c.trim()
}
