// Package conversation keeps the in-memory chat log shown by the overlay.
package conversation

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Role is who a turn belongs to
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "ai"
	RoleSystem    Role = "system"
)

// Labels used for turns whose content is not typed text
const (
	VoicePlaceholder = "🎤 Audio Question Sent"
	VoicePrefix      = "🎤 "
	FullCaptureLabel = "📸 Capturing full screen..."
	AreaCaptureLabel = "📸 Capturing area behind app..."
)

// DefaultMaxTurns bounds the log so a long session cannot grow it forever
const DefaultMaxTurns = 500

// Turn is one message in the log
type Turn struct {
	ID      string    `json:"id"`
	Role    Role      `json:"role"`
	Content string    `json:"content"`
	Time    time.Time `json:"time"`
}

// Log is a bounded, concurrency-safe conversation history
type Log struct {
	mu       sync.RWMutex
	turns    []Turn
	maxTurns int
}

// NewLog creates a log keeping at most maxTurns turns (DefaultMaxTurns if <= 0)
func NewLog(maxTurns int) *Log {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	return &Log{maxTurns: maxTurns}
}

// Add appends a turn and returns it
func (l *Log) Add(role Role, content string) Turn {
	t := Turn{ID: uuid.NewString(), Role: role, Content: content, Time: time.Now()}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.turns = append(l.turns, t)
	if over := len(l.turns) - l.maxTurns; over > 0 {
		l.turns = append([]Turn(nil), l.turns[over:]...)
	}
	return t
}

// RelabelLastUser replaces the content of the most recent user turn with
// "🎤 <transcription>". It reports false when there is no user turn.
func (l *Log) RelabelLastUser(transcription string) (Turn, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.turns) - 1; i >= 0; i-- {
		if l.turns[i].Role == RoleUser {
			l.turns[i].Content = VoicePrefix + transcription
			return l.turns[i], true
		}
	}
	return Turn{}, false
}

// Turns returns a copy of the log
func (l *Log) Turns() []Turn {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Turn(nil), l.turns...)
}

// Len returns the number of turns
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.turns)
}

// Clear drops every turn
func (l *Log) Clear() {
	l.mu.Lock()
	l.turns = nil
	l.mu.Unlock()
}
