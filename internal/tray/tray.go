// Package tray shows the assistant's state in the system tray.
package tray

import (
	"context"
	"sync"

	"github.com/getlantern/systray"

	"github.com/yok-tottii/genie/internal/domain"
)

// State represents the current application state
type State int

const (
	StateIdle State = iota
	StateListening
	StateThinking
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateListening:
		return "Listening"
	case StateThinking:
		return "Thinking"
	default:
		return "Unknown"
	}
}

// Manager manages the system tray icon and menu. It is an event sink for
// capture state and answers.
type Manager struct {
	domain.NopSink

	stateMutex      sync.RWMutex
	state           State
	busy            bool
	onReadyCallback func()
	onShowOverlay   func()
	onClear         func()
	onDeviceChange  func(deviceID int)
	onQuit          func()

	menuOverlay       *systray.MenuItem
	menuDevices       *systray.MenuItem
	menuClear         *systray.MenuItem
	menuQuit          *systray.MenuItem
	deviceMenuItems   []*systray.MenuItem
	deviceCancelFuncs []context.CancelFunc

	setIcon    func([]byte)
	setTooltip func(string)
	icons      map[State][]byte
}

// Config holds tray manager configuration
type Config struct {
	OnReady        func() // Called when systray is ready for initialization
	OnShowOverlay  func()
	OnClear        func()
	OnDeviceChange func(deviceID int)
	OnQuit         func()
}

// NewManager creates a new tray manager
func NewManager(config Config) *Manager {
	return &Manager{
		state:           StateIdle,
		onReadyCallback: config.OnReady,
		onShowOverlay:   config.OnShowOverlay,
		onClear:         config.OnClear,
		onDeviceChange:  config.OnDeviceChange,
		onQuit:          config.OnQuit,
		setIcon:         systray.SetIcon,
		setTooltip:      systray.SetTooltip,
		icons:           stateIcons(),
	}
}

// Run starts the system tray (blocking call, must be on the main thread)
func (m *Manager) Run() {
	systray.Run(m.onReady, func() {})
}

func (m *Manager) onReady() {
	m.updateIcon()

	m.menuOverlay = systray.AddMenuItem("Show overlay", "Bring the assistant overlay back")
	m.menuDevices = systray.AddMenuItem("Microphone", "Select input device")
	m.menuClear = systray.AddMenuItem("Clear conversation", "Forget the conversation so far")
	systray.AddSeparator()
	m.menuQuit = systray.AddMenuItem("Quit", "Quit the application")

	go m.handleMenuEvents()

	if m.onReadyCallback != nil {
		m.onReadyCallback()
	}
}

func (m *Manager) handleMenuEvents() {
	for {
		select {
		case <-m.menuOverlay.ClickedCh:
			if m.onShowOverlay != nil {
				m.onShowOverlay()
			}
		case <-m.menuClear.ClickedCh:
			if m.onClear != nil {
				m.onClear()
			}
		case <-m.menuQuit.ClickedCh:
			if m.onQuit != nil {
				m.onQuit()
			}
			systray.Quit()
			return
		}
	}
}

// SetState updates the tray icon based on the current state
func (m *Manager) SetState(state State) {
	m.stateMutex.Lock()
	defer m.stateMutex.Unlock()
	m.state = state
	m.updateIcon()
}

// State returns the displayed state
func (m *Manager) State() State {
	m.stateMutex.RLock()
	defer m.stateMutex.RUnlock()
	return m.state
}

// SetBusy marks an inference as in flight. Listening takes precedence.
func (m *Manager) SetBusy(busy bool) {
	m.stateMutex.Lock()
	defer m.stateMutex.Unlock()
	m.busy = busy
	if m.state == StateListening {
		return
	}
	if busy {
		m.state = StateThinking
	} else {
		m.state = StateIdle
	}
	m.updateIcon()
}

// OnCaptureStateChanged mirrors the push-to-talk indicator
func (m *Manager) OnCaptureStateChanged(state domain.CaptureState) {
	m.stateMutex.Lock()
	defer m.stateMutex.Unlock()
	switch {
	case state != domain.CaptureIdle:
		m.state = StateListening
	case m.busy:
		m.state = StateThinking
	default:
		m.state = StateIdle
	}
	m.updateIcon()
}

// updateIcon must be called with stateMutex held
func (m *Manager) updateIcon() {
	m.setIcon(m.icons[m.state])
	m.setTooltip("Genie - " + m.state.String())
}

// Device represents an audio device for the menu
type Device struct {
	ID        int
	Name      string
	IsDefault bool
	IsCurrent bool
}

// UpdateDeviceMenu replaces the microphone submenu
func (m *Manager) UpdateDeviceMenu(devices []Device) {
	if m.menuDevices == nil {
		return
	}

	for _, cancel := range m.deviceCancelFuncs {
		cancel()
	}
	m.deviceCancelFuncs = nil

	for _, item := range m.deviceMenuItems {
		item.Hide()
	}
	m.deviceMenuItems = nil

	for _, device := range devices {
		prefix := ""
		if device.IsCurrent {
			prefix = "✓ "
		}
		tooltip := ""
		if device.IsDefault {
			tooltip = "System default device"
		}

		menuItem := m.menuDevices.AddSubMenuItem(prefix+device.Name, tooltip)
		m.deviceMenuItems = append(m.deviceMenuItems, menuItem)

		ctx, cancel := context.WithCancel(context.Background())
		m.deviceCancelFuncs = append(m.deviceCancelFuncs, cancel)

		go func(id int, item *systray.MenuItem) {
			for {
				select {
				case <-ctx.Done():
					return
				case <-item.ClickedCh:
					if m.onDeviceChange != nil {
						m.onDeviceChange(id)
					}
				}
			}
		}(device.ID, menuItem)
	}
}

// Quit quits the system tray
func (m *Manager) Quit() {
	systray.Quit()
}
