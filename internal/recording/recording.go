package recording

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yok-tottii/genie/internal/audio"
	"github.com/yok-tottii/genie/internal/domain"
	"github.com/yok-tottii/genie/internal/logger"
)

// State represents the current recording state
type State int

const (
	// Idle means no capture session exists
	Idle State = iota
	// Acquiring means audio sources are being opened and mixed
	Acquiring
	// Recording means the encoder is consuming the mixed stream
	Recording
	// Finalizing means the encoder is draining and tracks are being released
	Finalizing
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Acquiring:
		return "Acquiring"
	case Recording:
		return "Recording"
	case Finalizing:
		return "Finalizing"
	default:
		return "Unknown"
	}
}

// Acquirer opens the microphone and (optionally) desktop audio
type Acquirer interface {
	Acquire(ctx context.Context) (mic, system audio.Stream, err error)
}

// Mixer turns the acquired streams into the stream to encode
type Mixer interface {
	Mix(mic, system audio.Stream) (audio.Stream, error)
}

// EncodeSession is a running encoder. Stop returns the drained payload.
type EncodeSession interface {
	Stop(ctx context.Context) ([]byte, error)
}

// StartEncoderFunc starts encoding a stream
type StartEncoderFunc func(ctx context.Context, src audio.Stream) (EncodeSession, error)

// Clip is the encoded result of one push-to-talk gesture
type Clip struct {
	SessionID string
	Data      []byte
	MIMEType  string
	Duration  time.Duration
	Stereo    bool
}

// HandoffFunc receives a finished clip. It must not block: inference runs
// elsewhere.
type HandoffFunc func(Clip)

// Config holds configuration for the recording manager
type Config struct {
	MaxDuration time.Duration
	MIMEType    string
	// ArchiveDir keeps a WAV copy of every session's mixed audio when set
	ArchiveDir string
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		MaxDuration: 120 * time.Second,
		MIMEType:    "audio/webm",
	}
}

type session struct {
	id        string
	startedAt time.Time
	mic       audio.Stream
	system    audio.Stream
	mixed     audio.Stream
	encoder   EncodeSession
}

// Manager runs the push-to-talk state machine. At most one session exists at
// a time; presses while a session is active are ignored.
type Manager struct {
	mu             sync.Mutex
	state          State
	held           bool
	releasePending bool
	current        *session
	stopTimer      *time.Timer

	config       Config
	acquirer     Acquirer
	mixer        Mixer
	startEncoder StartEncoderFunc
	handoff      HandoffFunc
	sink         domain.EventSink
	logger       *logger.Logger
}

// New creates a new recording manager
func New(config Config, acquirer Acquirer, mixer Mixer, startEncoder StartEncoderFunc, handoff HandoffFunc, sink domain.EventSink, log *logger.Logger) *Manager {
	if sink == nil {
		sink = domain.NopSink{}
	}
	if config.MIMEType == "" {
		config.MIMEType = DefaultConfig().MIMEType
	}
	return &Manager{
		state:        Idle,
		config:       config,
		acquirer:     acquirer,
		mixer:        mixer,
		startEncoder: startEncoder,
		handoff:      handoff,
		sink:         sink,
		logger:       log,
	}
}

// GetState returns the current recording state
func (m *Manager) GetState() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Held reports whether the push-to-talk gesture is considered held
func (m *Manager) Held() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.held
}

// Press handles the key-down edge. It returns once the session is recording
// or has failed; a press while a session is active is a no-op.
func (m *Manager) Press(ctx context.Context) error {
	m.mu.Lock()
	if m.state != Idle || m.held {
		m.mu.Unlock()
		return nil
	}
	m.held = true
	m.state = Acquiring
	s := &session{id: uuid.NewString(), startedAt: time.Now()}
	m.current = s
	m.mu.Unlock()

	m.sink.OnCaptureStateChanged(domain.CaptureInitializing)
	m.logger.Info("Capture session %s: acquiring audio sources", s.id)

	mic, system, err := m.acquirer.Acquire(ctx)
	if err != nil {
		return m.fail(s, err)
	}
	s.mic, s.system = mic, system

	mixed, err := m.mixer.Mix(mic, system)
	if err != nil {
		return m.fail(s, fmt.Errorf("failed to mix audio: %w", err))
	}
	s.mixed = mixed

	if m.config.ArchiveDir != "" {
		path := filepath.Join(m.config.ArchiveDir, s.startedAt.Format("20060102-150405")+"-"+s.id[:8]+".wav")
		if teed, err := audio.TeeWAV(mixed, path); err != nil {
			m.logger.Warn("Recording archive disabled for this session: %v", err)
		} else {
			s.mixed = teed
		}
	}

	enc, err := m.startEncoder(ctx, s.mixed)
	if err != nil {
		return m.fail(s, fmt.Errorf("failed to start encoder: %w", err))
	}
	s.encoder = enc

	m.mu.Lock()
	if m.current != s {
		// Aborted while acquiring
		m.mu.Unlock()
		_, _ = enc.Stop(ctx)
		m.release(s)
		return nil
	}
	m.state = Recording
	pending := m.releasePending
	m.releasePending = false
	if m.config.MaxDuration > 0 {
		id := s.id
		m.stopTimer = time.AfterFunc(m.config.MaxDuration, func() {
			m.logger.Warn("Capture session %s reached the maximum duration", id)
			if err := m.finalize(context.Background(), id); err != nil {
				m.logger.Error("Auto-stop failed: %v", err)
			}
		})
	}
	m.mu.Unlock()

	m.sink.OnCaptureStateChanged(domain.CaptureRecording)
	m.logger.Info("Capture session %s: recording (stereo: %v)", s.id, s.mixed.Format().Channels == 2)

	if pending {
		return m.finalize(ctx, s.id)
	}
	return nil
}

// Release handles the key-up edge. With no active session it is a no-op.
// A release that arrives while acquiring ends the session as soon as it
// starts recording.
func (m *Manager) Release(ctx context.Context) error {
	return m.finalize(ctx, "")
}

// finalize ends the session with the given id ("" for whichever is current)
func (m *Manager) finalize(ctx context.Context, id string) error {
	m.mu.Lock()
	s := m.current
	if s == nil || (id != "" && s.id != id) {
		if id == "" {
			m.held = false
		}
		m.mu.Unlock()
		return nil
	}

	switch m.state {
	case Acquiring:
		m.releasePending = true
		m.mu.Unlock()
		return nil
	case Recording:
	default:
		if id == "" {
			m.held = false
		}
		m.mu.Unlock()
		return nil
	}

	m.state = Finalizing
	if m.stopTimer != nil {
		m.stopTimer.Stop()
		m.stopTimer = nil
	}
	m.mu.Unlock()

	m.logger.Info("Capture session %s: finalizing", s.id)
	payload, err := s.encoder.Stop(ctx)
	m.release(s)

	// A timed-out session keeps the gesture held until the real key-up
	keepHeld := id != ""
	if err != nil {
		m.reset(s, keepHeld)
		m.reportFailure(fmt.Errorf("failed to finalize recording: %w", err))
		return err
	}

	clip := Clip{
		SessionID: s.id,
		Data:      payload,
		MIMEType:  m.config.MIMEType,
		Duration:  time.Since(s.startedAt),
		Stereo:    s.mixed.Format().Channels == 2,
	}
	m.logger.Info("Capture session %s: %d bytes over %v", s.id, len(payload), clip.Duration.Round(time.Millisecond))

	if m.handoff != nil {
		m.handoff(clip)
	}
	m.reset(s, keepHeld)
	return nil
}

// Abort discards the active session without handing anything off
func (m *Manager) Abort(ctx context.Context) {
	m.mu.Lock()
	s := m.current
	if s == nil {
		m.mu.Unlock()
		return
	}
	if m.stopTimer != nil {
		m.stopTimer.Stop()
		m.stopTimer = nil
	}
	if m.state == Acquiring {
		// Press notices the session is gone and releases what it opened
		m.current = nil
		m.state = Idle
		m.held = false
		m.releasePending = false
		m.mu.Unlock()
		m.sink.OnCaptureStateChanged(domain.CaptureIdle)
		m.logger.Info("Capture session %s aborted while acquiring", s.id)
		return
	}
	if m.state != Recording {
		m.mu.Unlock()
		return
	}
	m.state = Finalizing
	m.mu.Unlock()

	if _, err := s.encoder.Stop(ctx); err != nil {
		m.logger.Debug("Encoder stop during abort: %v", err)
	}
	m.release(s)
	m.reset(s, false)
	m.logger.Info("Capture session %s aborted", s.id)
}

// release stops every per-session track. The mixer engine itself persists.
func (m *Manager) release(s *session) {
	if err := audio.StopTracks(s.mixed, s.mic, s.system); err != nil {
		m.logger.Warn("Failed to release capture tracks: %v", err)
	}
}

func (m *Manager) reset(s *session, keepHeld bool) {
	m.mu.Lock()
	if m.current == s {
		m.current = nil
		m.state = Idle
		if !keepHeld {
			m.held = false
		}
		m.releasePending = false
	}
	m.mu.Unlock()

	m.sink.OnCaptureStateChanged(domain.CaptureIdle)
}

// fail releases whatever the session opened, returns to Idle and reports the
// error so the next press can retry.
func (m *Manager) fail(s *session, err error) error {
	m.release(s)
	m.reset(s, false)
	m.reportFailure(err)
	return err
}

func (m *Manager) reportFailure(err error) {
	m.logger.Error("Capture failed: %v", err)
	m.sink.OnInferenceError(domain.KindOf(err), domain.MessageOf(err))
}
