package chat

import (
	"strings"
	"testing"
)

func TestWithContext(t *testing.T) {
	got := WithContext("CONTEXT FROM KNOWLEDGE BASE:\n\nstuff\n", "what is this?")
	if !strings.HasPrefix(got, "CONTEXT FROM KNOWLEDGE BASE:") {
		t.Errorf("got %q", got)
	}
	if !strings.Contains(got, "\n\nUSER QUESTION: what is this?\n\n") {
		t.Errorf("got %q", got)
	}
	if !strings.HasSuffix(got, "Answer using the context information when relevant.") {
		t.Errorf("got %q", got)
	}
}

func TestWithContextBlankBlock(t *testing.T) {
	if got := WithContext("   \n", "hello"); got != "hello" {
		t.Errorf("got %q, want message unchanged", got)
	}
}
