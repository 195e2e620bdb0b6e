package chat

import "strings"

// WithContext wraps a user message with a knowledge-base context block so
// the model answers against the retrieved material. A blank block returns
// the message unchanged.
func WithContext(contextBlock, message string) string {
	block := strings.TrimSpace(contextBlock)
	if block == "" {
		return message
	}
	return block +
		"\n\nUSER QUESTION: " + message +
		"\n\nAnswer using the context information when relevant."
}
