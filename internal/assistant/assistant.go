// Package assistant wires key events, the recorder, screen capture and the
// inference client together and reports every outcome to the event sinks
// and the conversation log.
package assistant

import (
	"context"
	"errors"
	"sync"

	"github.com/yok-tottii/genie/internal/config"
	"github.com/yok-tottii/genie/internal/conversation"
	"github.com/yok-tottii/genie/internal/domain"
	"github.com/yok-tottii/genie/internal/hotkey"
	"github.com/yok-tottii/genie/internal/inference"
	"github.com/yok-tottii/genie/internal/logger"
	"github.com/yok-tottii/genie/internal/recording"
	"github.com/yok-tottii/genie/internal/screen"
)

// Messages added to the conversation as system turns
const (
	msgSetAPIKey     = "⚠️ Please set your API key in settings first"
	msgErrorPrefix   = "❌ Error: "
	msgCapturePrefix = "❌ Screen capture failed: "
	msgAudioPrefix   = "❌ Could not access audio: "
)

const (
	keyBuffer  = 64
	clipBuffer = 4
)

// ErrBusy is reported when clips arrive faster than they can be answered
var ErrBusy = errors.New("previous voice question is still being answered")

// Recorder is the push-to-talk state machine
type Recorder interface {
	Press(ctx context.Context) error
	Release(ctx context.Context) error
	Abort(ctx context.Context)
}

// Capturer takes screen stills
type Capturer interface {
	Full(ctx context.Context) (screen.Capture, error)
	Area(ctx context.Context) (screen.Capture, error)
}

// Client answers inference requests
type Client interface {
	Infer(ctx context.Context, req inference.Request) (string, error)
	SetConfig(config inference.Config)
}

// Activity is told when an answer is being generated
type Activity interface {
	SetBusy(busy bool)
}

// Options wires an Assistant
type Options struct {
	Recorder  Recorder
	Capturer  Capturer
	Client    Client
	Log       *conversation.Log
	Sink      domain.EventSink
	Activity  Activity
	Shortcuts hotkey.Shortcuts
	// Hotkeys delivers OS-level chord edges; nil when global hotkeys are unavailable
	Hotkeys <-chan hotkey.Event
}

// Assistant runs one event loop for key events and one dispatcher for
// recorded clips
type Assistant struct {
	recorder Recorder
	capturer Capturer
	client   Client
	log      *conversation.Log
	sink     domain.EventSink
	activity Activity
	hotkeys  <-chan hotkey.Event
	logger   *logger.Logger

	mu     sync.RWMutex
	router *hotkey.Router

	keys   chan hotkey.KeyEvent
	clips  chan recording.Clip
	rebind chan (<-chan hotkey.Event)
	wg     sync.WaitGroup
}

// New creates an assistant
func New(opts Options, log *logger.Logger) *Assistant {
	sink := opts.Sink
	if sink == nil {
		sink = domain.NopSink{}
	}
	convo := opts.Log
	if convo == nil {
		convo = conversation.NewLog(0)
	}
	return &Assistant{
		recorder: opts.Recorder,
		capturer: opts.Capturer,
		client:   opts.Client,
		log:      convo,
		sink:     sink,
		activity: opts.Activity,
		hotkeys:  opts.Hotkeys,
		logger:   log,
		router:   hotkey.NewRouter(opts.Shortcuts),
		keys:     make(chan hotkey.KeyEvent, keyBuffer),
		clips:    make(chan recording.Clip, clipBuffer),
		rebind:   make(chan (<-chan hotkey.Event), 1),
	}
}

// Conversation returns the log the assistant writes to
func (a *Assistant) Conversation() *conversation.Log {
	return a.log
}

// Run processes key events and clips until ctx is done. In-flight captures
// and answers are waited for before it returns.
func (a *Assistant) Run(ctx context.Context) {
	a.logger.Info("Assistant event loop started")

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.dispatch(ctx)
	}()

	hotkeys := a.hotkeys
	for {
		select {
		case <-ctx.Done():
			a.recorder.Abort(context.Background())
			a.wg.Wait()
			a.logger.Info("Assistant event loop stopped")
			return
		case ev, ok := <-hotkeys:
			if !ok {
				hotkeys = nil
				continue
			}
			a.handleKey(ctx, ev.KeyEvent())
		case ev := <-a.keys:
			a.handleKey(ctx, ev)
		case ch := <-a.rebind:
			hotkeys = ch
		}
	}
}

// SetHotkeys replaces the OS chord channel after the chords are re-registered
func (a *Assistant) SetHotkeys(ch <-chan hotkey.Event) {
	// Only the newest channel matters
	select {
	case <-a.rebind:
	default:
	}
	a.rebind <- ch
}

// HandleKey queues a key event from the overlay. Events are dropped when
// the loop is not keeping up.
func (a *Assistant) HandleKey(ev hotkey.KeyEvent) {
	select {
	case a.keys <- ev:
	default:
		a.logger.Warn("Key event dropped: %+v", ev)
	}
}

func (a *Assistant) handleKey(ctx context.Context, ev hotkey.KeyEvent) {
	a.mu.RLock()
	action := a.router.Route(ev)
	a.mu.RUnlock()

	switch action {
	case hotkey.VoicePress:
		// Failures are reported to the sink by the recorder
		if err := a.recorder.Press(ctx); err != nil {
			a.logger.Debug("Voice press failed: %v", err)
		}
	case hotkey.VoiceRelease:
		if err := a.recorder.Release(ctx); err != nil {
			a.logger.Debug("Voice release failed: %v", err)
		}
	case hotkey.CaptureFull, hotkey.CaptureArea:
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			if action == hotkey.CaptureArea {
				a.CaptureArea(ctx)
			} else {
				a.CaptureFull(ctx)
			}
		}()
	}
}

// Handoff receives a finished clip from the recorder without blocking it
func (a *Assistant) Handoff(clip recording.Clip) {
	select {
	case a.clips <- clip:
	default:
		a.logger.Warn("Dropping clip %s: %v", clip.SessionID, ErrBusy)
		a.sink.OnInferenceError(domain.KindInternal, ErrBusy.Error())
	}
}

func (a *Assistant) dispatch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case clip := <-a.clips:
			a.answerClip(ctx, clip)
		}
	}
}

// answerClip sends a recorded question and relabels the placeholder turn
// with the transcription the model returns
func (a *Assistant) answerClip(ctx context.Context, clip recording.Clip) {
	a.log.Add(conversation.RoleUser, conversation.VoicePlaceholder)
	a.logger.Info("Answering clip %s (%d bytes, %v)", clip.SessionID, len(clip.Data), clip.Duration)

	text, err := a.infer(ctx, inference.Request{Audio: &inference.Blob{Data: clip.Data, MIMEType: clip.MIMEType}})
	if err != nil {
		a.report(err, msgErrorPrefix)
		return
	}

	if transcription, answer, ok := recording.SplitTranscription(text); ok {
		a.log.RelabelLastUser(transcription)
		a.sink.OnTranscriptionSplit(transcription, answer)
		text = answer
	}
	a.answered(text)
}

// Ask answers a typed question
func (a *Assistant) Ask(ctx context.Context, text string) (string, error) {
	a.log.Add(conversation.RoleUser, text)

	answer, err := a.infer(ctx, inference.Request{Text: text})
	if err != nil {
		a.report(err, msgErrorPrefix)
		return "", err
	}
	a.answered(answer)
	return answer, nil
}

// CaptureFull answers from a still of the whole primary screen
func (a *Assistant) CaptureFull(ctx context.Context) (string, error) {
	a.log.Add(conversation.RoleUser, conversation.FullCaptureLabel)
	return a.answerCapture(ctx, a.capturer.Full)
}

// CaptureArea answers from the screen region behind the overlay
func (a *Assistant) CaptureArea(ctx context.Context) (string, error) {
	a.log.Add(conversation.RoleUser, conversation.AreaCaptureLabel)
	return a.answerCapture(ctx, a.capturer.Area)
}

func (a *Assistant) answerCapture(ctx context.Context, capture func(context.Context) (screen.Capture, error)) (string, error) {
	still, err := capture(ctx)
	if err != nil {
		a.report(err, msgCapturePrefix)
		return "", err
	}
	a.logger.Info("Captured %s (%dx%d, %d bytes)", still.SourceID, still.Width, still.Height, len(still.Data))

	answer, err := a.infer(ctx, inference.Request{Image: &inference.Blob{Data: still.Data, MIMEType: still.MIMEType}})
	if err != nil {
		a.report(err, msgErrorPrefix)
		return "", err
	}
	a.answered(answer)
	return answer, nil
}

func (a *Assistant) infer(ctx context.Context, req inference.Request) (string, error) {
	if a.activity != nil {
		a.activity.SetBusy(true)
		defer a.activity.SetBusy(false)
	}
	return a.client.Infer(ctx, req)
}

func (a *Assistant) answered(text string) {
	a.log.Add(conversation.RoleAssistant, text)
	a.sink.OnInferenceResult(text)
}

// report adds a system turn and forwards the failure to the sinks
func (a *Assistant) report(err error, prefix string) {
	kind, message := domain.KindOf(err), domain.MessageOf(err)
	a.logger.Error("Request failed (%s): %v", kind, err)

	if kind == domain.KindNoCredentials {
		a.log.Add(conversation.RoleSystem, msgSetAPIKey)
	} else {
		a.log.Add(conversation.RoleSystem, prefix+message)
	}
	a.sink.OnInferenceError(kind, message)
}

// RecorderSink forwards recorder events to next and adds a system turn to
// log when a recording cannot start or finish
func RecorderSink(log *conversation.Log, next domain.EventSink) domain.EventSink {
	if next == nil {
		next = domain.NopSink{}
	}
	return recorderSink{EventSink: next, log: log}
}

type recorderSink struct {
	domain.EventSink
	log *conversation.Log
}

func (s recorderSink) OnInferenceError(kind domain.ErrorKind, message string) {
	s.log.Add(conversation.RoleSystem, msgAudioPrefix+message)
	s.EventSink.OnInferenceError(kind, message)
}

// Shortcuts returns the active bindings
func (a *Assistant) Shortcuts() hotkey.Shortcuts {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.router.Shortcuts()
}

// SetShortcuts rebinds the router
func (a *Assistant) SetShortcuts(s hotkey.Shortcuts) {
	a.mu.Lock()
	a.router = hotkey.NewRouter(s)
	a.mu.Unlock()
}

// ApplyConfig pushes settings changes to the client and router
func (a *Assistant) ApplyConfig(cfg *config.Config) {
	a.client.SetConfig(InferenceConfig(cfg))
	a.SetShortcuts(Shortcuts(cfg))
}

// InferenceConfig extracts the client's slice of the settings
func InferenceConfig(cfg *config.Config) inference.Config {
	c := cfg.Clone()
	return inference.Config{
		Credentials:    c.Credentials(),
		PreferredModel: c.ModelID,
		Models:         c.Models,
		Language:       c.CodingLanguage,
		Prompts: inference.Prompts{
			Text:  c.Prompts.Text,
			Voice: c.Prompts.Voice,
			Image: c.Prompts.Image,
		}.WithDefaults(),
	}
}

// Shortcuts extracts the key bindings from the settings
func Shortcuts(cfg *config.Config) hotkey.Shortcuts {
	c := cfg.Clone()
	return hotkey.Shortcuts{Voice: c.Shortcuts.Voice, Screen: c.Shortcuts.Screen, Area: c.Shortcuts.Area}
}
