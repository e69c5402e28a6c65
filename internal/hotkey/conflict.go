package hotkey

import (
	"strings"

	"golang.design/x/hotkey"
)

// ConflictInfo represents information about a known shortcut conflict
type ConflictInfo struct {
	Name        string
	Description string
	Modifiers   []hotkey.Modifier
	Key         hotkey.Key
}

// knownConflicts lists common Ctrl chords that a global registration would
// steal from other applications
var knownConflicts = []ConflictInfo{
	{Name: "Copy", Description: "Clipboard copy", Modifiers: []hotkey.Modifier{hotkey.ModCtrl}, Key: hotkey.KeyC},
	{Name: "Paste", Description: "Clipboard paste", Modifiers: []hotkey.Modifier{hotkey.ModCtrl}, Key: hotkey.KeyV},
	{Name: "Cut", Description: "Clipboard cut", Modifiers: []hotkey.Modifier{hotkey.ModCtrl}, Key: hotkey.KeyX},
	{Name: "Undo", Description: "Undo in most editors", Modifiers: []hotkey.Modifier{hotkey.ModCtrl}, Key: hotkey.KeyZ},
	{Name: "Select All", Description: "Select all", Modifiers: []hotkey.Modifier{hotkey.ModCtrl}, Key: hotkey.KeyA},
	{Name: "Save", Description: "Save in most editors", Modifiers: []hotkey.Modifier{hotkey.ModCtrl}, Key: hotkey.KeyS},
	{Name: "Print", Description: "Print dialog", Modifiers: []hotkey.Modifier{hotkey.ModCtrl}, Key: hotkey.KeyP},
	{Name: "Address Bar", Description: "Browser address bar focus", Modifiers: []hotkey.Modifier{hotkey.ModCtrl}, Key: hotkey.KeyL},
	{Name: "Dev Tools", Description: "Browser developer tools", Modifiers: []hotkey.Modifier{hotkey.ModCtrl, hotkey.ModShift}, Key: hotkey.KeyI},
}

// CheckConflicts checks if the given hotkey conflicts with known shortcuts
func CheckConflicts(modifiers []hotkey.Modifier, key hotkey.Key) []ConflictInfo {
	var conflicts []ConflictInfo

	for _, known := range knownConflicts {
		if hotkeyMatches(modifiers, key, known.Modifiers, known.Key) {
			conflicts = append(conflicts, known)
		}
	}

	return conflicts
}

// CheckShortcuts reports the known conflicts of each bound Ctrl+letter chord,
// keyed by the letter
func CheckShortcuts(s Shortcuts) map[string][]ConflictInfo {
	out := make(map[string][]ConflictInfo)
	for _, letter := range []string{s.Voice, s.Screen, s.Area} {
		key, err := KeyFor(letter)
		if err != nil {
			continue
		}
		if c := CheckConflicts([]hotkey.Modifier{hotkey.ModCtrl}, key); len(c) > 0 {
			out[strings.ToLower(letter)] = c
		}
	}
	return out
}

// hotkeyMatches checks if two hotkey combinations are identical
func hotkeyMatches(mods1 []hotkey.Modifier, key1 hotkey.Key, mods2 []hotkey.Modifier, key2 hotkey.Key) bool {
	if key1 != key2 {
		return false
	}

	if len(mods1) != len(mods2) {
		return false
	}

	modMap1 := make(map[hotkey.Modifier]bool)
	modMap2 := make(map[hotkey.Modifier]bool)

	for _, mod := range mods1 {
		modMap1[mod] = true
	}

	for _, mod := range mods2 {
		modMap2[mod] = true
	}

	for mod := range modMap1 {
		if !modMap2[mod] {
			return false
		}
	}

	return true
}

// FormatHotkey returns a human-readable string representation of the hotkey
func FormatHotkey(modifiers []hotkey.Modifier, key hotkey.Key) string {
	var parts []string

	for _, mod := range modifiers {
		switch mod {
		case hotkey.ModCtrl:
			parts = append(parts, "Ctrl")
		case hotkey.ModShift:
			parts = append(parts, "Shift")
		}
	}

	parts = append(parts, keyToString(key))
	return strings.Join(parts, "+")
}

// FormatShortcuts renders the three chords for logs and the settings API
func FormatShortcuts(s Shortcuts) string {
	return "voice Ctrl+" + strings.ToUpper(s.Voice) +
		", screen Ctrl+" + strings.ToUpper(s.Screen) +
		", area Ctrl+" + strings.ToUpper(s.Area)
}

// keyToString converts a hotkey.Key to a display string. Key codes are not
// contiguous on every platform, so letters are looked up rather than offset.
func keyToString(key hotkey.Key) string {
	for letter, k := range letterKeys {
		if k == key {
			return strings.ToUpper(letter)
		}
	}

	keyMap := map[hotkey.Key]string{
		hotkey.KeySpace:  "Space",
		hotkey.KeyEscape: "Esc",
		hotkey.KeyReturn: "Return",
		hotkey.KeyTab:    "Tab",
		hotkey.KeyDelete: "Delete",
	}
	if name, ok := keyMap[key]; ok {
		return name
	}

	return "Unknown"
}
