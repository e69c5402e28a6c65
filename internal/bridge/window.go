package bridge

import (
	"fmt"
	"image"
	"sync"

	"github.com/yok-tottii/genie/internal/screen"
)

// Window drives the overlay through the hub. Bounds are the last geometry
// the overlay reported.
type Window struct {
	hub *Hub

	mu     sync.RWMutex
	bounds image.Rectangle
	known  bool
}

// SetBounds records the overlay geometry in screen coordinates
func (w *Window) SetBounds(x, y, width, height int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.bounds = image.Rect(x, y, x+width, y+height)
	w.known = true
}

// Hide asks every overlay to hide itself
func (w *Window) Hide() error {
	if w.hub.Clients() == 0 {
		return screen.ErrWindowUnavailable
	}
	w.hub.Broadcast(Message{Type: TypeWindow, Action: "hide"})
	return nil
}

// Show asks every overlay to show itself again
func (w *Window) Show() error {
	w.hub.Broadcast(Message{Type: TypeWindow, Action: "show"})
	return nil
}

// Bounds returns the last reported geometry
func (w *Window) Bounds() (image.Rectangle, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if !w.known {
		return image.Rectangle{}, fmt.Errorf("overlay has not reported its bounds")
	}
	return w.bounds, nil
}
