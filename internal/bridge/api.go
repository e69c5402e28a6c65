package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/yok-tottii/genie/internal/audio"
	"github.com/yok-tottii/genie/internal/config"
	"github.com/yok-tottii/genie/internal/conversation"
	"github.com/yok-tottii/genie/internal/domain"
	"github.com/yok-tottii/genie/internal/hotkey"
	"github.com/yok-tottii/genie/internal/logger"
)

// Assistant is the part of the application the overlay can drive directly
type Assistant interface {
	Ask(ctx context.Context, text string) (string, error)
	CaptureFull(ctx context.Context) (string, error)
	CaptureArea(ctx context.Context) (string, error)
}

// DeviceLister enumerates microphones
type DeviceLister func() ([]audio.Device, error)

// Handler serves the overlay API
type Handler struct {
	assistant  Assistant
	log        *conversation.Log
	config     *config.Config
	configPath string
	devices    DeviceLister
	hub        *Hub
	logger     *logger.Logger

	onSettingsChanged func(*config.Config) error
}

// HandlerOptions wires a Handler
type HandlerOptions struct {
	Assistant         Assistant
	Conversation      *conversation.Log
	Config            *config.Config
	ConfigPath        string
	Devices           DeviceLister
	Hub               *Hub
	OnSettingsChanged func(*config.Config) error
}

// NewHandler creates an API handler
func NewHandler(opts HandlerOptions, log *logger.Logger) *Handler {
	path := opts.ConfigPath
	if path == "" {
		path = config.GetConfigPath()
	}
	return &Handler{
		assistant:         opts.Assistant,
		log:               opts.Conversation,
		config:            opts.Config,
		configPath:        path,
		devices:           opts.Devices,
		hub:               opts.Hub,
		logger:            log,
		onSettingsChanged: opts.OnSettingsChanged,
	}
}

// RegisterRoutes registers all API routes on the given mux
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	if h.hub != nil {
		mux.Handle("/ws", h.hub)
	}
	mux.HandleFunc("/api/ask", h.handleAsk)
	mux.HandleFunc("/api/capture", h.handleCapture)
	mux.HandleFunc("/api/window/bounds", h.handleBounds)
	mux.HandleFunc("/api/conversation", h.handleConversation)
	mux.HandleFunc("/api/settings", h.handleSettings)
	mux.HandleFunc("/api/devices", h.handleDevices)
	mux.HandleFunc("/api/shortcuts/validate", h.handleShortcutsValidate)
	mux.HandleFunc("/api/health", h.handleHealth)
}

// Routes returns a mux with every route registered
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return mux
}

type errorResponse struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps a domain error to a status code and a {kind, message} body
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch domain.KindOf(err) {
	case domain.KindNoCredentials:
		status = http.StatusBadRequest
	case domain.KindAllCredentialsExhausted, domain.KindProviderRequestFailed:
		status = http.StatusBadGateway
	case domain.KindNoScreenSource:
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, errorResponse{Kind: string(domain.KindOf(err)), Message: domain.MessageOf(err)})
}

// handleAsk handles POST /api/ask
func (h *Handler) handleAsk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		http.Error(w, "Text cannot be empty", http.StatusBadRequest)
		return
	}

	answer, err := h.assistant.Ask(r.Context(), req.Text)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"text": answer})
}

// handleCapture handles POST /api/capture?mode=full|area
func (h *Handler) handleCapture(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var (
		answer string
		err    error
	)
	switch mode := r.URL.Query().Get("mode"); mode {
	case "", "full":
		answer, err = h.assistant.CaptureFull(r.Context())
	case "area":
		answer, err = h.assistant.CaptureArea(r.Context())
	default:
		http.Error(w, fmt.Sprintf("Unknown capture mode: %s", mode), http.StatusBadRequest)
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"text": answer})
}

// handleBounds handles PUT /api/window/bounds
func (h *Handler) handleBounds(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		X      int `json:"x"`
		Y      int `json:"y"`
		Width  int `json:"width"`
		Height int `json:"height"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Width <= 0 || req.Height <= 0 {
		http.Error(w, "Width and height must be positive", http.StatusBadRequest)
		return
	}

	h.hub.Window().SetBounds(req.X, req.Y, req.Width, req.Height)
	w.WriteHeader(http.StatusNoContent)
}

// handleConversation handles GET and DELETE /api/conversation
func (h *Handler) handleConversation(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]interface{}{"turns": h.log.Turns()})
	case http.MethodDelete:
		h.log.Clear()
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleSettings handles GET and PUT /api/settings
func (h *Handler) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, h.config.Redacted())
	case http.MethodPut:
		h.putSettings(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) putSettings(w http.ResponseWriter, r *http.Request) {
	var updates map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	// A masked value is what GET returned; keep the stored keys
	if v, ok := updates["api_keys"].(string); ok && strings.Contains(v, "****") {
		delete(updates, "api_keys")
	}

	if err := h.config.Update(updates); err != nil {
		http.Error(w, fmt.Sprintf("Failed to update config: %v", err), http.StatusBadRequest)
		return
	}

	if err := h.config.Save(h.configPath); err != nil {
		http.Error(w, fmt.Sprintf("Failed to save config: %v", err), http.StatusInternalServerError)
		return
	}

	if h.onSettingsChanged != nil {
		if err := h.onSettingsChanged(h.config); err != nil {
			h.logger.Warn("Failed to apply settings: %v", err)
			writeJSON(w, http.StatusOK, map[string]string{
				"status":  "partial",
				"message": fmt.Sprintf("Settings saved but could not be applied: %v", err),
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

// handleDevices handles GET /api/devices
func (h *Handler) handleDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	devices := []audio.Device{{ID: -1, Name: "System default", IsDefault: true}}
	if h.devices != nil {
		list, err := h.devices()
		if err != nil {
			h.logger.Warn("Failed to list audio devices: %v", err)
		} else {
			devices = list
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"devices": devices})
}

// handleShortcutsValidate handles POST /api/shortcuts/validate
func (h *Handler) handleShortcutsValidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req config.ShortcutConfig
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := req.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conflicts := map[string][]string{}
	for letter, infos := range hotkey.CheckShortcuts(hotkey.Shortcuts{Voice: req.Voice, Screen: req.Screen, Area: req.Area}) {
		for _, c := range infos {
			conflicts[letter] = append(conflicts[letter], c.Name)
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"conflicts": conflicts})
}

// handleHealth handles GET /api/health
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	clients := 0
	if h.hub != nil {
		clients = h.hub.Clients()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "overlays": clients})
}
