// Package bridge connects the overlay presentation layer to the assistant
// over a localhost HTTP API and a websocket event stream.
package bridge

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/yok-tottii/genie/internal/domain"
	"github.com/yok-tottii/genie/internal/hotkey"
	"github.com/yok-tottii/genie/internal/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 64
)

// Message is sent from the assistant to the overlay
type Message struct {
	Type          string `json:"type"`
	State         string `json:"state,omitempty"`
	Text          string `json:"text,omitempty"`
	Kind          string `json:"kind,omitempty"`
	Message       string `json:"message,omitempty"`
	Transcription string `json:"transcription,omitempty"`
	Answer        string `json:"answer,omitempty"`
	Action        string `json:"action,omitempty"`
}

// Message types
const (
	TypeCaptureState       = "capture_state"
	TypeInferenceResult    = "inference_result"
	TypeInferenceError     = "inference_error"
	TypeTranscriptionSplit = "transcription_split"
	TypeWindow             = "window"
	TypeKey                = "key"
	TypeBounds             = "bounds"
)

// InboundMessage is sent from the overlay. Key fields are set for "key",
// geometry fields for "bounds".
type InboundMessage struct {
	Type   string `json:"type"`
	Key    string `json:"key"`
	Ctrl   bool   `json:"ctrl"`
	Down   bool   `json:"down"`
	X      int    `json:"x"`
	Y      int    `json:"y"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// Hub fans assistant events out to every connected overlay and routes
// overlay messages back in. It implements domain.EventSink.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*client

	upgrader websocket.Upgrader
	window   *Window
	keys     func(hotkey.KeyEvent)
	logger   *logger.Logger
}

// NewHub creates a hub. Only localhost origins may connect.
func NewHub(log *logger.Logger) *Hub {
	h := &Hub{
		clients: make(map[string]*client),
		logger:  log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return allowedOrigin(r.Header.Get("Origin")) },
		},
	}
	h.window = &Window{hub: h}
	return h
}

// Window returns the overlay window controller backed by this hub
func (h *Hub) Window() *Window {
	return h.window
}

// OnKey sets the receiver of overlay key events
func (h *Hub) OnKey(fn func(hotkey.KeyEvent)) {
	h.mu.Lock()
	h.keys = fn
	h.mu.Unlock()
}

// Clients returns the number of connected overlays
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and serves the connection until it closes
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed: %v", err)
		return
	}

	c := &client{id: uuid.NewString(), conn: conn, send: make(chan []byte, sendBuffer), done: make(chan struct{})}
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	h.logger.Info("Overlay connected (%s)", c.id)

	go h.writePump(c)
	h.readPump(c)

	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()
	c.close()
	h.logger.Info("Overlay disconnected (%s)", c.id)
}

func (h *Hub) readPump(c *client) {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("Websocket read error: %v", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg InboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.Warn("Failed to parse overlay message: %v", err)
			continue
		}
		h.dispatch(msg)
	}
}

func (h *Hub) dispatch(msg InboundMessage) {
	switch msg.Type {
	case TypeKey:
		h.mu.RLock()
		keys := h.keys
		h.mu.RUnlock()
		if keys != nil {
			keys(hotkey.KeyEvent{Key: msg.Key, Ctrl: msg.Ctrl, Down: msg.Down})
		}
	case TypeBounds:
		h.window.SetBounds(msg.X, msg.Y, msg.Width, msg.Height)
	default:
		h.logger.Debug("Ignoring overlay message %q", msg.Type)
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Warn("Websocket write error: %v", err)
				c.close()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}

// Broadcast queues msg for every overlay. Slow overlays miss messages
// rather than stall the assistant.
func (h *Hub) Broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to encode %s message: %v", msg.Type, err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.Warn("Overlay %s is not keeping up, dropped %s", c.id, msg.Type)
		}
	}
}

// Close disconnects every overlay
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		c.close()
		delete(h.clients, id)
	}
}

func (h *Hub) OnCaptureStateChanged(state domain.CaptureState) {
	h.Broadcast(Message{Type: TypeCaptureState, State: string(state)})
}

func (h *Hub) OnInferenceResult(text string) {
	h.Broadcast(Message{Type: TypeInferenceResult, Text: text})
}

func (h *Hub) OnInferenceError(kind domain.ErrorKind, message string) {
	h.Broadcast(Message{Type: TypeInferenceError, Kind: string(kind), Message: message})
}

func (h *Hub) OnTranscriptionSplit(transcription, answer string) {
	h.Broadcast(Message{Type: TypeTranscriptionSplit, Transcription: transcription, Answer: answer})
}

// allowedOrigin accepts requests without an Origin (native overlays) and
// localhost pages
func allowedOrigin(origin string) bool {
	if origin == "" {
		return true
	}
	return strings.HasPrefix(origin, "http://localhost") || strings.HasPrefix(origin, "http://127.0.0.1") ||
		strings.HasPrefix(origin, "file://")
}
