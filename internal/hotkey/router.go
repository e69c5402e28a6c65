package hotkey

import "strings"

// Action is what a key event asks the assistant to do
type Action int

const (
	// NoAction means the event is not bound to anything
	NoAction Action = iota
	// VoicePress starts a push-to-talk gesture
	VoicePress
	// VoiceRelease ends a push-to-talk gesture
	VoiceRelease
	// CaptureFull captures the whole screen
	CaptureFull
	// CaptureArea captures the region under the overlay window
	CaptureArea
)

// String returns the string representation of the action
func (a Action) String() string {
	switch a {
	case VoicePress:
		return "VoicePress"
	case VoiceRelease:
		return "VoiceRelease"
	case CaptureFull:
		return "CaptureFull"
	case CaptureArea:
		return "CaptureArea"
	default:
		return "None"
	}
}

// ModifierKey is the key name reported when the modifier itself is released
const ModifierKey = "Control"

// KeyEvent is a raw key edge, either from the OS chord listener or from the
// overlay window
type KeyEvent struct {
	Key  string `json:"key"`
	Ctrl bool   `json:"ctrl"`
	Down bool   `json:"down"`
}

// Shortcuts are the three letters combined with the fixed Ctrl modifier
type Shortcuts struct {
	Voice  string
	Screen string
	Area   string
}

// DefaultShortcuts returns Ctrl+L (voice), Ctrl+S (screen) and Ctrl+P (area)
func DefaultShortcuts() Shortcuts {
	return Shortcuts{Voice: "l", Screen: "s", Area: "p"}
}

// Router maps key events to actions
type Router struct {
	shortcuts Shortcuts
}

// NewRouter creates a router for the given shortcuts
func NewRouter(s Shortcuts) *Router {
	return &Router{shortcuts: s}
}

// Shortcuts returns the bound letters
func (r *Router) Shortcuts() Shortcuts {
	return r.shortcuts
}

// Route classifies one key edge. Key-down needs Ctrl held. A key-up of
// either the modifier or the voice letter ends the voice gesture, even when
// the letter was released after Ctrl; some platforms only report one of the
// two.
func (r *Router) Route(ev KeyEvent) Action {
	key := ev.Key
	if !ev.Down {
		if strings.EqualFold(key, ModifierKey) || strings.EqualFold(key, "ctrl") || matches(key, r.shortcuts.Voice) {
			return VoiceRelease
		}
		return NoAction
	}

	if !ev.Ctrl {
		return NoAction
	}
	switch {
	case matches(key, r.shortcuts.Voice):
		return VoicePress
	case matches(key, r.shortcuts.Screen):
		return CaptureFull
	case matches(key, r.shortcuts.Area):
		return CaptureArea
	}
	return NoAction
}

func matches(key, letter string) bool {
	return letter != "" && strings.EqualFold(key, letter)
}
