package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yok-tottii/genie/internal/audio"
	"github.com/yok-tottii/genie/internal/config"
	"github.com/yok-tottii/genie/internal/conversation"
	"github.com/yok-tottii/genie/internal/domain"
	"github.com/yok-tottii/genie/internal/hotkey"
	"github.com/yok-tottii/genie/internal/logger"
	"github.com/yok-tottii/genie/internal/screen"
)

type fakeAssistant struct {
	answer string
	err    error
	asked  []string
	mode   string
}

func (f *fakeAssistant) Ask(ctx context.Context, text string) (string, error) {
	f.asked = append(f.asked, text)
	return f.answer, f.err
}

func (f *fakeAssistant) CaptureFull(ctx context.Context) (string, error) {
	f.mode = "full"
	return f.answer, f.err
}

func (f *fakeAssistant) CaptureArea(ctx context.Context) (string, error) {
	f.mode = "area"
	return f.answer, f.err
}

type fixture struct {
	assistant *fakeAssistant
	hub       *Hub
	log       *conversation.Log
	config    *config.Config
	path      string
	applied   int
	server    *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		assistant: &fakeAssistant{answer: "42"},
		hub:       NewHub(logger.Discard()),
		log:       conversation.NewLog(0),
		config:    config.DefaultConfig(),
		path:      filepath.Join(t.TempDir(), "config.json"),
	}
	f.config.APIKeys = "key-one-1234,key-two-5678"

	h := NewHandler(HandlerOptions{
		Assistant:    f.assistant,
		Conversation: f.log,
		Config:       f.config,
		ConfigPath:   f.path,
		Devices: func() ([]audio.Device, error) {
			return []audio.Device{{ID: 3, Name: "USB Mic"}}, nil
		},
		Hub: f.hub,
		OnSettingsChanged: func(*config.Config) error {
			f.applied++
			return nil
		},
	}, logger.Discard())

	f.server = httptest.NewServer(h.Routes())
	t.Cleanup(func() {
		f.hub.Close()
		f.server.Close()
	})
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, f.server.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
}

func (f *fixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial websocket: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for f.hub.Clients() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Overlay never registered with the hub")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Port != 18765 {
		t.Errorf("Expected port 18765, got %d", cfg.Port)
	}
	if cfg.WriteTimeout < time.Minute {
		t.Errorf("Expected WriteTimeout to cover an inference round trip, got %v", cfg.WriteTimeout)
	}
	if cfg.ShutdownTimeout != 5*time.Second {
		t.Errorf("Expected ShutdownTimeout 5s, got %v", cfg.ShutdownTimeout)
	}
}

func TestServer_StartStop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Port = 0
	srv := NewServer(cfg, logger.Discard())

	if err := srv.Start(http.NotFoundHandler()); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	if !srv.IsRunning() {
		t.Error("Expected server to be running")
	}
	if srv.Port() == 0 {
		t.Error("Expected a port to be assigned")
	}
	if err := srv.Start(http.NotFoundHandler()); err == nil {
		t.Error("Expected error when starting twice")
	}

	resp, err := http.Get(srv.URL() + "/anything")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", resp.StatusCode)
	}

	if err := srv.Stop(); err != nil {
		t.Fatalf("Failed to stop server: %v", err)
	}
	if srv.IsRunning() {
		t.Error("Expected server to be stopped")
	}
	if err := srv.Stop(); err != nil {
		t.Errorf("Expected second Stop to be a no-op, got %v", err)
	}
}

func TestCORSMiddleware(t *testing.T) {
	tests := []struct {
		origin  string
		allowed bool
	}{
		{"http://localhost:3000", true},
		{"http://127.0.0.1:18765", true},
		{"https://evil.example", false},
		{"", false},
	}

	handler := corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodOptions, "/api/ask", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			got := rec.Header().Get("Access-Control-Allow-Origin")
			if tt.allowed && got != tt.origin {
				t.Errorf("Expected %q, got %q", tt.origin, got)
			}
			if !tt.allowed && got != "" {
				t.Errorf("Expected no CORS header, got %q", got)
			}
			if rec.Code != http.StatusOK {
				t.Errorf("Expected preflight 200, got %d", rec.Code)
			}
		})
	}
}

func TestAllowedOrigin(t *testing.T) {
	tests := []struct {
		origin   string
		expected bool
	}{
		{"", true},
		{"http://localhost:5173", true},
		{"http://127.0.0.1", true},
		{"file://", true},
		{"https://example.com", false},
	}

	for _, tt := range tests {
		if got := allowedOrigin(tt.origin); got != tt.expected {
			t.Errorf("allowedOrigin(%q): expected %v, got %v", tt.origin, tt.expected, got)
		}
	}
}

func TestAsk(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/api/ask", `{"text":"what is two plus two"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	var body map[string]string
	decode(t, resp, &body)
	if body["text"] != "42" {
		t.Errorf("Expected %q, got %q", "42", body["text"])
	}
	if len(f.assistant.asked) != 1 || f.assistant.asked[0] != "what is two plus two" {
		t.Errorf("Expected the question to reach the assistant, got %q", f.assistant.asked)
	}
}

func TestAsk_Validation(t *testing.T) {
	tests := []struct {
		name   string
		method string
		body   string
		status int
	}{
		{"wrong method", http.MethodGet, "", http.StatusMethodNotAllowed},
		{"bad json", http.MethodPost, "{", http.StatusBadRequest},
		{"empty text", http.MethodPost, `{"text":"  "}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			resp := f.do(t, tt.method, "/api/ask", tt.body)
			if resp.StatusCode != tt.status {
				t.Errorf("Expected %d, got %d", tt.status, resp.StatusCode)
			}
		})
	}
}

func TestAsk_ErrorKinds(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		kind   domain.ErrorKind
	}{
		{"no credentials", domain.NewError(domain.KindNoCredentials, "No valid API key provided.", nil), http.StatusBadRequest, domain.KindNoCredentials},
		{"exhausted", domain.NewError(domain.KindAllCredentialsExhausted, "quota exceeded", nil), http.StatusBadGateway, domain.KindAllCredentialsExhausted},
		{"no screen", domain.NewError(domain.KindNoScreenSource, "No screen sources found", nil), http.StatusServiceUnavailable, domain.KindNoScreenSource},
		{"other", errors.New("boom"), http.StatusInternalServerError, domain.KindOf(errors.New("boom"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.assistant.err = tt.err

			resp := f.do(t, http.MethodPost, "/api/ask", `{"text":"hi"}`)
			if resp.StatusCode != tt.status {
				t.Errorf("Expected %d, got %d", tt.status, resp.StatusCode)
			}
			var body errorResponse
			decode(t, resp, &body)
			if body.Kind != string(tt.kind) {
				t.Errorf("Expected kind %q, got %q", tt.kind, body.Kind)
			}
			if body.Message != domain.MessageOf(tt.err) {
				t.Errorf("Expected %q, got %q", domain.MessageOf(tt.err), body.Message)
			}
		})
	}
}

func TestCapture_Modes(t *testing.T) {
	tests := []struct {
		query  string
		mode   string
		status int
	}{
		{"", "full", http.StatusOK},
		{"?mode=full", "full", http.StatusOK},
		{"?mode=area", "area", http.StatusOK},
		{"?mode=window", "", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			f := newFixture(t)
			resp := f.do(t, http.MethodPost, "/api/capture"+tt.query, "")
			if resp.StatusCode != tt.status {
				t.Errorf("Expected %d, got %d", tt.status, resp.StatusCode)
			}
			if f.assistant.mode != tt.mode {
				t.Errorf("Expected mode %q, got %q", tt.mode, f.assistant.mode)
			}
		})
	}
}

func TestWindowBounds(t *testing.T) {
	f := newFixture(t)

	if _, err := f.hub.Window().Bounds(); err == nil {
		t.Error("Expected error before the overlay reports bounds")
	}

	resp := f.do(t, http.MethodPut, "/api/window/bounds", `{"x":10,"y":20,"width":300,"height":200}`)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("Expected 204, got %d", resp.StatusCode)
	}

	got, err := f.hub.Window().Bounds()
	if err != nil {
		t.Fatalf("Bounds failed: %v", err)
	}
	if want := image.Rect(10, 20, 310, 220); got != want {
		t.Errorf("Expected %v, got %v", want, got)
	}

	resp = f.do(t, http.MethodPut, "/api/window/bounds", `{"x":0,"y":0,"width":0,"height":10}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for empty bounds, got %d", resp.StatusCode)
	}
}

func TestConversation(t *testing.T) {
	f := newFixture(t)
	f.log.Add(conversation.RoleUser, "hello")
	f.log.Add(conversation.RoleAssistant, "hi there")

	resp := f.do(t, http.MethodGet, "/api/conversation", "")
	var body struct {
		Turns []conversation.Turn `json:"turns"`
	}
	decode(t, resp, &body)
	if len(body.Turns) != 2 || body.Turns[1].Content != "hi there" {
		t.Fatalf("Unexpected turns: %+v", body.Turns)
	}

	resp = f.do(t, http.MethodDelete, "/api/conversation", "")
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("Expected 204, got %d", resp.StatusCode)
	}
	if f.log.Len() != 0 {
		t.Errorf("Expected empty log, got %d turns", f.log.Len())
	}
}

func TestSettings_GetIsRedacted(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodGet, "/api/settings", "")
	data, _ := io.ReadAll(resp.Body)
	if bytes.Contains(data, []byte("key-one-1234")) {
		t.Errorf("Expected API keys to be masked, got %s", data)
	}
	if !bytes.Contains(data, []byte("1234")) {
		t.Errorf("Expected the key suffix to remain visible, got %s", data)
	}
}

func TestSettings_Put(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPut, "/api/settings", `{"coding_language":"python","api_keys":"****1234,****5678"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	if f.config.CodingLanguage != "python" {
		t.Errorf("Expected %q, got %q", "python", f.config.CodingLanguage)
	}
	if f.config.APIKeys != "key-one-1234,key-two-5678" {
		t.Errorf("Expected masked keys to be ignored, got %q", f.config.APIKeys)
	}
	if f.applied != 1 {
		t.Errorf("Expected settings callback once, got %d", f.applied)
	}

	saved, err := config.Load(f.path)
	if err != nil {
		t.Fatalf("Failed to load saved config: %v", err)
	}
	if saved.CodingLanguage != "python" {
		t.Errorf("Expected saved %q, got %q", "python", saved.CodingLanguage)
	}
}

func TestSettings_PutInvalid(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPut, "/api/settings", `{"clipboard":"everything"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", resp.StatusCode)
	}
	if f.applied != 0 {
		t.Errorf("Expected no callback, got %d", f.applied)
	}
}

func TestDevices(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodGet, "/api/devices", "")
	var body struct {
		Devices []audio.Device `json:"devices"`
	}
	decode(t, resp, &body)
	if len(body.Devices) != 1 || body.Devices[0].Name != "USB Mic" {
		t.Errorf("Unexpected devices: %+v", body.Devices)
	}
}

func TestShortcutsValidate(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/api/shortcuts/validate", `{"voice":"l","screen":"s","area":"k"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	var body struct {
		Conflicts map[string][]string `json:"conflicts"`
	}
	decode(t, resp, &body)
	if len(body.Conflicts["s"]) == 0 || body.Conflicts["s"][0] != "Save" {
		t.Errorf("Expected Ctrl+S to conflict with Save, got %v", body.Conflicts)
	}
	if _, ok := body.Conflicts["k"]; ok {
		t.Errorf("Expected no conflict for k, got %v", body.Conflicts["k"])
	}

	resp = f.do(t, http.MethodPost, "/api/shortcuts/validate", `{"voice":"l","screen":"l","area":"k"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for duplicate letters, got %d", resp.StatusCode)
	}
}

func TestHub_BroadcastsEvents(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t)

	f.hub.OnCaptureStateChanged(domain.CaptureRecording)
	f.hub.OnTranscriptionSplit("what is a mutex", "a lock")

	var got []Message
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for len(got) < 2 {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("Failed to read message: %v", err)
		}
		got = append(got, msg)
	}

	if got[0].Type != TypeCaptureState || got[0].State != string(domain.CaptureRecording) {
		t.Errorf("Unexpected first message: %+v", got[0])
	}
	if got[1].Type != TypeTranscriptionSplit || got[1].Transcription != "what is a mutex" || got[1].Answer != "a lock" {
		t.Errorf("Unexpected second message: %+v", got[1])
	}
}

func TestHub_RoutesInbound(t *testing.T) {
	f := newFixture(t)
	keys := make(chan hotkey.KeyEvent, 1)
	f.hub.OnKey(func(ev hotkey.KeyEvent) { keys <- ev })

	conn := f.dial(t)
	if err := conn.WriteJSON(InboundMessage{Type: TypeKey, Key: "l", Ctrl: true, Down: true}); err != nil {
		t.Fatalf("Failed to write key: %v", err)
	}

	select {
	case ev := <-keys:
		if ev.Key != "l" || !ev.Ctrl || !ev.Down {
			t.Errorf("Unexpected key event: %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for key event")
	}

	if err := conn.WriteJSON(InboundMessage{Type: TypeBounds, X: 1, Y: 2, Width: 3, Height: 4}); err != nil {
		t.Fatalf("Failed to write bounds: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		if b, err := f.hub.Window().Bounds(); err == nil {
			if b != image.Rect(1, 2, 4, 6) {
				t.Errorf("Unexpected bounds %v", b)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Bounds never arrived")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWindow_HideWithoutOverlay(t *testing.T) {
	hub := NewHub(logger.Discard())

	if err := hub.Window().Hide(); !errors.Is(err, screen.ErrWindowUnavailable) {
		t.Errorf("Expected ErrWindowUnavailable, got %v", err)
	}
}

func TestWindow_HideShowReachOverlay(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t)

	if err := f.hub.Window().Hide(); err != nil {
		t.Fatalf("Hide failed: %v", err)
	}
	if err := f.hub.Window().Show(); err != nil {
		t.Fatalf("Show failed: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for _, want := range []string{"hide", "show"} {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("Failed to read message: %v", err)
		}
		if msg.Type != TypeWindow || msg.Action != want {
			t.Errorf("Expected window %q, got %+v", want, msg)
		}
	}
}
