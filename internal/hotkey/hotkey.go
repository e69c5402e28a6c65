package hotkey

import (
	"fmt"
	"strings"
	"sync"

	"golang.design/x/hotkey"
)

// EventType represents the type of hotkey event
type EventType int

const (
	// Pressed indicates the hotkey was pressed
	Pressed EventType = iota
	// Released indicates the hotkey was released
	Released
)

// Event represents a hotkey event for one registered chord
type Event struct {
	Key  string
	Type EventType
}

// KeyEvent converts the chord edge into the form the Router consumes
func (e Event) KeyEvent() KeyEvent {
	return KeyEvent{Key: e.Key, Ctrl: true, Down: e.Type == Pressed}
}

// Manager registers the Ctrl+letter chords with the OS and forwards their
// key-down and key-up edges on a single channel
type Manager struct {
	hks       []*hotkey.Hotkey
	shortcuts Shortcuts
	eventChan chan Event
	stopChan  chan struct{}
	wg        sync.WaitGroup
	mu        sync.Mutex
	running   bool
}

// New creates a new hotkey manager with the default shortcuts
func New() *Manager {
	return &Manager{
		shortcuts: DefaultShortcuts(),
		eventChan: make(chan Event, 10),
		stopChan:  make(chan struct{}),
	}
}

// Register registers the three chords. Either all of them are registered or
// none are.
func (m *Manager) Register(s Shortcuts) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("hotkey is already running, call Close() first")
	}

	letters := []string{s.Voice, s.Screen, s.Area}
	keys := make([]hotkey.Key, len(letters))
	for i, letter := range letters {
		key, err := KeyFor(letter)
		if err != nil {
			return err
		}
		keys[i] = key
	}

	// Recreate channels (they may have been closed by a previous Close())
	m.stopChan = make(chan struct{})
	m.eventChan = make(chan Event, 10)

	var registered []*hotkey.Hotkey
	for i, key := range keys {
		hk := hotkey.New([]hotkey.Modifier{hotkey.ModCtrl}, key)
		if err := hk.Register(); err != nil {
			for _, r := range registered {
				_ = r.Unregister()
			}
			return fmt.Errorf("failed to register hotkey Ctrl+%s: %w", strings.ToUpper(letters[i]), err)
		}
		registered = append(registered, hk)
	}

	m.hks = registered
	m.shortcuts = s
	m.running = true

	for i, hk := range registered {
		m.wg.Add(1)
		go m.listen(hk, strings.ToLower(letters[i]))
	}

	return nil
}

// RegisterDefault registers the default shortcuts
func (m *Manager) RegisterDefault() error {
	return m.Register(DefaultShortcuts())
}

// listen forwards one chord's edges until Close
func (m *Manager) listen(hk *hotkey.Hotkey, letter string) {
	defer m.wg.Done()

	for {
		var ev Event
		select {
		case <-hk.Keydown():
			ev = Event{Key: letter, Type: Pressed}
		case <-hk.Keyup():
			ev = Event{Key: letter, Type: Released}
		case <-m.stopChan:
			return
		}

		select {
		case m.eventChan <- ev:
		case <-m.stopChan:
			return
		}
	}
}

// Events returns the event channel for receiving hotkey events
func (m *Manager) Events() <-chan Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.eventChan
}

// Close unregisters the chords and stops listening
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}

	close(m.stopChan)
	m.wg.Wait()

	// Keep going on error so that the next Register() can succeed
	var unregisterErr error
	for _, hk := range m.hks {
		if err := hk.Unregister(); err != nil && unregisterErr == nil {
			unregisterErr = fmt.Errorf("failed to unregister hotkey: %w", err)
		}
	}
	m.hks = nil

	// Close event channel to notify consumers of shutdown
	if m.eventChan != nil {
		close(m.eventChan)
		m.eventChan = nil
	}

	m.running = false
	return unregisterErr
}

// IsRunning returns whether the chords are currently registered
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// GetShortcuts returns the registered (or default) shortcuts
func (m *Manager) GetShortcuts() Shortcuts {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shortcuts
}

var letterKeys = map[string]hotkey.Key{
	"a": hotkey.KeyA, "b": hotkey.KeyB, "c": hotkey.KeyC, "d": hotkey.KeyD,
	"e": hotkey.KeyE, "f": hotkey.KeyF, "g": hotkey.KeyG, "h": hotkey.KeyH,
	"i": hotkey.KeyI, "j": hotkey.KeyJ, "k": hotkey.KeyK, "l": hotkey.KeyL,
	"m": hotkey.KeyM, "n": hotkey.KeyN, "o": hotkey.KeyO, "p": hotkey.KeyP,
	"q": hotkey.KeyQ, "r": hotkey.KeyR, "s": hotkey.KeyS, "t": hotkey.KeyT,
	"u": hotkey.KeyU, "v": hotkey.KeyV, "w": hotkey.KeyW, "x": hotkey.KeyX,
	"y": hotkey.KeyY, "z": hotkey.KeyZ,
	"0": hotkey.Key0, "1": hotkey.Key1, "2": hotkey.Key2, "3": hotkey.Key3,
	"4": hotkey.Key4, "5": hotkey.Key5, "6": hotkey.Key6, "7": hotkey.Key7,
	"8": hotkey.Key8, "9": hotkey.Key9,
}

// KeyFor returns the platform key code for a single letter or digit
func KeyFor(letter string) (hotkey.Key, error) {
	if key, ok := letterKeys[strings.ToLower(letter)]; ok {
		return key, nil
	}
	return 0, fmt.Errorf("unsupported shortcut key: %q", letter)
}
