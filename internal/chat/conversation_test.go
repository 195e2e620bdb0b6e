package chat

import (
	"fmt"
	"testing"
)

func TestAppendAndHistory(t *testing.T) {
	c := NewConversation(10)
	c.Append(RoleUser, "hello")
	c.Append(RoleAssistant, "hi there")

	msgs := c.History()
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].Role != RoleUser || msgs[0].Content != "hello" {
		t.Errorf("msgs[0] = %+v", msgs[0])
	}
	if msgs[1].Role != RoleAssistant || msgs[1].Content != "hi there" {
		t.Errorf("msgs[1] = %+v", msgs[1])
	}
}

func TestNeverExceedsCapacity(t *testing.T) {
	c := NewConversation(5)
	for i := 0; i < 50; i++ {
		c.Append(RoleUser, fmt.Sprintf("msg %d", i))
		if c.Len() > 5 {
			t.Fatalf("after append %d: len = %d, exceeds capacity", i, c.Len())
		}
	}

	// Most recent messages survive.
	msgs := c.History()
	if msgs[len(msgs)-1].Content != "msg 49" {
		t.Errorf("last message = %q, want msg 49", msgs[len(msgs)-1].Content)
	}
}

func TestTrimKeepsSystemMessage(t *testing.T) {
	c := NewConversation(3)
	c.SetSystemMessage("you are helpful")
	for i := 0; i < 5; i++ {
		c.Append(RoleUser, fmt.Sprintf("msg %d", i))
	}

	msgs := c.History()
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	if msgs[0].Role != RoleSystem {
		t.Fatalf("msgs[0].Role = %q, want system", msgs[0].Role)
	}
	// System message plus the 2 most recent others.
	if msgs[1].Content != "msg 3" || msgs[2].Content != "msg 4" {
		t.Errorf("kept %q and %q, want msg 3 and msg 4", msgs[1].Content, msgs[2].Content)
	}
}

func TestSystemMessageAlwaysFirst(t *testing.T) {
	c := NewConversation(10)
	c.Append(RoleUser, "question")
	c.SetSystemMessage("be brief")
	c.Append(RoleAssistant, "answer")

	msgs := c.History()
	if msgs[0].Role != RoleSystem {
		t.Errorf("msgs[0].Role = %q, want system", msgs[0].Role)
	}
	for i := 1; i < len(msgs); i++ {
		if msgs[i].Role == RoleSystem {
			t.Errorf("second system message at index %d", i)
		}
	}
}

func TestSetSystemMessageReplaces(t *testing.T) {
	c := NewConversation(10)
	c.SetSystemMessage("first")
	c.SetSystemMessage("second")

	msgs := c.History()
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if msgs[0].Content != "second" {
		t.Errorf("system content = %q, want second", msgs[0].Content)
	}
}

func TestBlankSystemMessageRemoves(t *testing.T) {
	c := NewConversation(10)
	c.SetSystemMessage("something")
	c.SetSystemMessage("   ")

	if c.Len() != 0 {
		t.Errorf("len = %d, want 0 after blank system message", c.Len())
	}
}

func TestClear(t *testing.T) {
	c := NewConversation(10)
	c.SetSystemMessage("sys")
	c.Append(RoleUser, "hi")
	c.Clear()

	if c.Len() != 0 {
		t.Errorf("len = %d after Clear, want 0", c.Len())
	}
}

func TestSystemCountAtCapacity(t *testing.T) {
	// Pathological: capacity 1 with a system message present. Appends must
	// not crash and the system message must survive.
	c := NewConversation(1)
	c.SetSystemMessage("sys")
	c.Append(RoleUser, "a")
	c.Append(RoleUser, "b")

	msgs := c.History()
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if msgs[0].Role != RoleSystem {
		t.Errorf("survivor role = %q, want system", msgs[0].Role)
	}
}

func TestSetCapacityTrims(t *testing.T) {
	c := NewConversation(10)
	for i := 0; i < 10; i++ {
		c.Append(RoleUser, fmt.Sprintf("msg %d", i))
	}
	c.SetCapacity(4)

	if c.Len() != 4 {
		t.Fatalf("len = %d after SetCapacity(4), want 4", c.Len())
	}
	msgs := c.History()
	if msgs[0].Content != "msg 6" {
		t.Errorf("oldest kept = %q, want msg 6", msgs[0].Content)
	}
}
