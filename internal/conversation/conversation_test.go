package conversation

import (
	"fmt"
	"testing"
)

func TestLog_AddAndTurns(t *testing.T) {
	l := NewLog(0)

	first := l.Add(RoleUser, "what is a goroutine?")
	l.Add(RoleAssistant, "a lightweight thread")

	turns := l.Turns()
	if len(turns) != 2 {
		t.Fatalf("Expected 2 turns, got %d", len(turns))
	}
	if turns[0].ID != first.ID || turns[0].ID == "" {
		t.Errorf("Expected stable non-empty IDs, got %q and %q", turns[0].ID, first.ID)
	}
	if turns[1].Role != RoleAssistant {
		t.Errorf("Expected %q, got %q", RoleAssistant, turns[1].Role)
	}

	// Returned slice is a copy
	turns[0].Content = "mutated"
	if l.Turns()[0].Content != "what is a goroutine?" {
		t.Error("Turns() must return a copy")
	}
}

func TestLog_RelabelLastUser(t *testing.T) {
	l := NewLog(0)
	l.Add(RoleUser, "earlier question")
	l.Add(RoleAssistant, "earlier answer")
	l.Add(RoleUser, VoicePlaceholder)
	l.Add(RoleSystem, "note")

	turn, ok := l.RelabelLastUser("hello there")
	if !ok {
		t.Fatal("Expected a user turn to relabel")
	}
	if turn.Content != "🎤 hello there" {
		t.Errorf("Expected %q, got %q", "🎤 hello there", turn.Content)
	}

	turns := l.Turns()
	if turns[0].Content != "earlier question" {
		t.Error("Only the most recent user turn may change")
	}
	if turns[2].Content != "🎤 hello there" {
		t.Errorf("Expected relabelled turn, got %q", turns[2].Content)
	}
}

func TestLog_RelabelWithoutUserTurn(t *testing.T) {
	l := NewLog(0)
	l.Add(RoleAssistant, "hi")

	if _, ok := l.RelabelLastUser("x"); ok {
		t.Error("Expected no relabel without a user turn")
	}
}

func TestLog_Bounded(t *testing.T) {
	l := NewLog(3)
	for i := 0; i < 5; i++ {
		l.Add(RoleUser, fmt.Sprintf("q%d", i))
	}

	turns := l.Turns()
	if len(turns) != 3 {
		t.Fatalf("Expected 3 turns, got %d", len(turns))
	}
	if turns[0].Content != "q2" || turns[2].Content != "q4" {
		t.Errorf("Expected the newest turns kept, got %q..%q", turns[0].Content, turns[2].Content)
	}
}

func TestLog_Clear(t *testing.T) {
	l := NewLog(0)
	l.Add(RoleUser, "q")
	l.Clear()

	if l.Len() != 0 {
		t.Errorf("Expected empty log, got %d", l.Len())
	}
}
