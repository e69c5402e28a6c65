// Package clipboard copies answers to the system clipboard as they arrive.
package clipboard

import (
	"strings"
	"sync"

	"github.com/go-vgo/robotgo"

	"github.com/yok-tottii/genie/internal/domain"
	"github.com/yok-tottii/genie/internal/logger"
)

// Mode selects what is copied
type Mode string

const (
	ModeOff    Mode = "off"
	ModeAnswer Mode = "answer"
	ModeCode   Mode = "code"
)

// ParseMode maps a config value to a Mode; unknown values disable copying
func ParseMode(s string) Mode {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeAnswer:
		return ModeAnswer
	case ModeCode:
		return ModeCode
	default:
		return ModeOff
	}
}

// Writer puts text on the clipboard
type Writer func(text string) error

// Manager is an event sink that copies each answer, or its first code block,
// to the clipboard
type Manager struct {
	domain.NopSink

	mu     sync.Mutex
	mode   Mode
	write  Writer
	logger *logger.Logger
}

// NewManager creates a clipboard manager writing through robotgo
func NewManager(mode Mode, log *logger.Logger) *Manager {
	return NewManagerWithWriter(mode, robotgo.WriteAll, log)
}

// NewManagerWithWriter creates a clipboard manager with a custom writer
func NewManagerWithWriter(mode Mode, write Writer, log *logger.Logger) *Manager {
	return &Manager{mode: mode, write: write, logger: log}
}

// SetMode changes what later answers copy
func (m *Manager) SetMode(mode Mode) {
	m.mu.Lock()
	m.mode = mode
	m.mu.Unlock()
}

// OnInferenceResult copies the answer according to the mode
func (m *Manager) OnInferenceResult(text string) {
	m.mu.Lock()
	mode := m.mode
	m.mu.Unlock()

	var out string
	switch mode {
	case ModeAnswer:
		out = text
	case ModeCode:
		code, ok := ExtractCode(text)
		if !ok {
			return
		}
		out = code
	default:
		return
	}

	if strings.TrimSpace(out) == "" {
		return
	}
	if err := m.write(out); err != nil {
		m.logger.Warn("Failed to copy answer to clipboard: %v", err)
		return
	}
	m.logger.Debug("Copied %d chars to clipboard (%s)", len(out), mode)
}

// ExtractCode returns the body of the first fenced code block
func ExtractCode(text string) (string, bool) {
	start := strings.Index(text, "```")
	if start == -1 {
		return "", false
	}
	rest := text[start+3:]
	// Skip the language tag line
	nl := strings.Index(rest, "\n")
	if nl == -1 {
		return "", false
	}
	rest = rest[nl+1:]
	end := strings.Index(rest, "```")
	if end == -1 {
		return "", false
	}
	return strings.TrimRight(rest[:end], "\n"), true
}
