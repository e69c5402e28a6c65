package clipboard

import (
	"errors"
	"testing"

	"github.com/yok-tottii/genie/internal/logger"
)

type recorder struct {
	writes []string
	err    error
}

func (r *recorder) write(text string) error {
	r.writes = append(r.writes, text)
	return r.err
}

const answerWithCode = "Use a two-pointer scan.\n```python\ndef solve(a):\n    return a\n```\nTime O(n)."

func TestParseMode(t *testing.T) {
	tests := []struct {
		input    string
		expected Mode
	}{
		{"answer", ModeAnswer},
		{" CODE ", ModeCode},
		{"off", ModeOff},
		{"", ModeOff},
		{"bogus", ModeOff},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseMode(tt.input); got != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestManager_Modes(t *testing.T) {
	tests := []struct {
		name     string
		mode     Mode
		text     string
		expected []string
	}{
		{"off", ModeOff, answerWithCode, nil},
		{"answer", ModeAnswer, answerWithCode, []string{answerWithCode}},
		{"code", ModeCode, answerWithCode, []string{"def solve(a):\n    return a"}},
		{"code without block", ModeCode, "plain answer", nil},
		{"empty answer", ModeAnswer, "  ", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &recorder{}
			m := NewManagerWithWriter(tt.mode, r.write, logger.Discard())

			m.OnInferenceResult(tt.text)

			if len(r.writes) != len(tt.expected) {
				t.Fatalf("Expected writes %q, got %q", tt.expected, r.writes)
			}
			for i := range tt.expected {
				if r.writes[i] != tt.expected[i] {
					t.Errorf("Expected %q, got %q", tt.expected[i], r.writes[i])
				}
			}
		})
	}
}

func TestManager_SetMode(t *testing.T) {
	r := &recorder{}
	m := NewManagerWithWriter(ModeOff, r.write, logger.Discard())

	m.SetMode(ModeAnswer)
	m.OnInferenceResult("hello")

	if len(r.writes) != 1 {
		t.Errorf("Expected one write after enabling, got %d", len(r.writes))
	}
}

func TestManager_WriteErrorIsLogged(t *testing.T) {
	r := &recorder{err: errors.New("no display")}
	m := NewManagerWithWriter(ModeAnswer, r.write, logger.Discard())

	// Must not panic
	m.OnInferenceResult("hello")
	m.OnInferenceError("x", "y")
}

func TestExtractCode(t *testing.T) {
	tests := []struct {
		name string
		text string
		code string
		ok   bool
	}{
		{"fenced", answerWithCode, "def solve(a):\n    return a", true},
		{"no language", "```\nx := 1\n```", "x := 1", true},
		{"unterminated", "```go\nx := 1", "", false},
		{"none", "no code here", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, ok := ExtractCode(tt.text)
			if code != tt.code || ok != tt.ok {
				t.Errorf("Expected (%q, %v), got (%q, %v)", tt.code, tt.ok, code, ok)
			}
		})
	}
}
