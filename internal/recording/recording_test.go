package recording

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/yok-tottii/genie/internal/audio"
	"github.com/yok-tottii/genie/internal/domain"
	"github.com/yok-tottii/genie/internal/logger"
)

// fakeAcquirer counts sessions whose tracks have not been released yet
type fakeAcquirer struct {
	mu        sync.Mutex
	calls     int
	active    int
	maxActive int
	err       error
	gate      chan struct{}
	withSys   bool
}

func (f *fakeAcquirer) Acquire(ctx context.Context) (audio.Stream, audio.Stream, error) {
	if f.gate != nil {
		<-f.gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, nil, f.err
	}
	f.active++
	if f.active > f.maxActive {
		f.maxActive = f.active
	}

	release := func() error {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
		return nil
	}
	mic := audio.NewStream(bytes.NewReader(nil), audio.Format{SampleRate: 48000, Channels: 1}, audio.NewTrack(audio.TrackAudio, release))
	var sys audio.Stream
	if f.withSys {
		sys = audio.NewStream(bytes.NewReader(nil), audio.Format{SampleRate: 48000, Channels: 1}, audio.NewTrack(audio.TrackAudio, func() error { return nil }))
	}
	return mic, sys, nil
}

func (f *fakeAcquirer) snapshot() (calls, active, maxActive int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls, f.active, f.maxActive
}

// passMixer returns the mic stream, or a 2-channel wrapper when system is present
type passMixer struct{}

func (passMixer) Mix(mic, system audio.Stream) (audio.Stream, error) {
	if system == nil {
		return mic, nil
	}
	tracks := append(append([]audio.Track(nil), mic.Tracks()...), system.Tracks()...)
	return audio.NewStream(mic, audio.Format{SampleRate: 48000, Channels: 2}, tracks...), nil
}

type fakeEncoder struct {
	mu       sync.Mutex
	started  int
	stopped  int
	startErr error
	stopErr  error
}

func (f *fakeEncoder) Start(ctx context.Context, src audio.Stream) (EncodeSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.started++
	return &fakeSession{enc: f}, nil
}

type fakeSession struct {
	enc *fakeEncoder
}

func (s *fakeSession) Stop(ctx context.Context) ([]byte, error) {
	s.enc.mu.Lock()
	defer s.enc.mu.Unlock()
	s.enc.stopped++
	if s.enc.stopErr != nil {
		return nil, s.enc.stopErr
	}
	return []byte("webm-payload"), nil
}

type sinkRecorder struct {
	domain.NopSink
	mu     sync.Mutex
	states []domain.CaptureState
	errs   []domain.ErrorKind
}

func (s *sinkRecorder) OnCaptureStateChanged(state domain.CaptureState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, state)
}

func (s *sinkRecorder) OnInferenceError(kind domain.ErrorKind, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, kind)
}

func (s *sinkRecorder) snapshot() ([]domain.CaptureState, []domain.ErrorKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.CaptureState(nil), s.states...), append([]domain.ErrorKind(nil), s.errs...)
}

type clipCollector struct {
	mu    sync.Mutex
	clips []Clip
}

func (c *clipCollector) handoff(clip Clip) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clips = append(c.clips, clip)
}

func (c *clipCollector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.clips)
}

type harness struct {
	acq   *fakeAcquirer
	enc   *fakeEncoder
	sink  *sinkRecorder
	clips *clipCollector
	m     *Manager
}

func newHarness(config Config) *harness {
	h := &harness{acq: &fakeAcquirer{}, enc: &fakeEncoder{}, sink: &sinkRecorder{}, clips: &clipCollector{}}
	h.m = New(config, h.acq, passMixer{}, h.enc.Start, h.clips.handoff, h.sink, logger.Discard())
	return h
}

func equalStates(a, b []domain.CaptureState) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.MaxDuration != 120*time.Second {
		t.Errorf("Expected MaxDuration 120s, got %v", config.MaxDuration)
	}
	if config.MIMEType != "audio/webm" {
		t.Errorf("Expected audio/webm, got %q", config.MIMEType)
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{Idle, "Idle"},
		{Acquiring, "Acquiring"},
		{Recording, "Recording"},
		{Finalizing, "Finalizing"},
		{State(99), "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			result := tt.state.String()
			if result != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, result)
			}
		})
	}
}

func TestPressRelease_HandsOffClip(t *testing.T) {
	h := newHarness(DefaultConfig())
	h.acq.withSys = true
	ctx := context.Background()

	if err := h.m.Press(ctx); err != nil {
		t.Fatalf("Press failed: %v", err)
	}
	if h.m.GetState() != Recording || !h.m.Held() {
		t.Fatalf("Expected held Recording, got %v (held %v)", h.m.GetState(), h.m.Held())
	}

	if err := h.m.Release(ctx); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	if h.m.GetState() != Idle || h.m.Held() {
		t.Errorf("Expected released Idle, got %v (held %v)", h.m.GetState(), h.m.Held())
	}
	if h.clips.count() != 1 {
		t.Fatalf("Expected 1 clip, got %d", h.clips.count())
	}
	clip := h.clips.clips[0]
	if string(clip.Data) != "webm-payload" || clip.MIMEType != "audio/webm" || !clip.Stereo {
		t.Errorf("Unexpected clip %+v", clip)
	}
	if _, active, _ := h.acq.snapshot(); active != 0 {
		t.Errorf("Expected all tracks released, %d sessions still active", active)
	}

	states, errs := h.sink.snapshot()
	want := []domain.CaptureState{domain.CaptureInitializing, domain.CaptureRecording, domain.CaptureIdle}
	if !equalStates(states, want) {
		t.Errorf("Expected states %v, got %v", want, states)
	}
	if len(errs) != 0 {
		t.Errorf("Expected no errors, got %v", errs)
	}
}

func TestPress_WhileActiveIsNoOp(t *testing.T) {
	h := newHarness(DefaultConfig())
	ctx := context.Background()

	h.m.Press(ctx)
	h.m.Press(ctx)
	h.m.Press(ctx)

	if calls, _, _ := h.acq.snapshot(); calls != 1 {
		t.Errorf("Expected one acquisition, got %d", calls)
	}
	h.m.Release(ctx)
}

func TestRelease_StrayIsNoOp(t *testing.T) {
	h := newHarness(DefaultConfig())

	if err := h.m.Release(context.Background()); err != nil {
		t.Errorf("Stray release returned %v", err)
	}

	if h.m.GetState() != Idle {
		t.Errorf("Expected Idle, got %v", h.m.GetState())
	}
	states, errs := h.sink.snapshot()
	if len(states) != 0 || len(errs) != 0 {
		t.Errorf("Stray release must not emit events, got %v %v", states, errs)
	}
	if h.clips.count() != 0 {
		t.Error("Stray release must not hand off anything")
	}
}

func TestPress_AcquireFailureResetsGesture(t *testing.T) {
	h := newHarness(DefaultConfig())
	h.acq.err = domain.NewError(domain.KindDeviceUnavailable, "Could not access microphone", errors.New("no device"))
	ctx := context.Background()

	err := h.m.Press(ctx)
	if !errors.Is(err, domain.ErrDeviceUnavailable) {
		t.Fatalf("Expected DeviceUnavailable, got %v", err)
	}
	if h.m.GetState() != Idle || h.m.Held() {
		t.Errorf("Expected Idle and not held after failure, got %v (held %v)", h.m.GetState(), h.m.Held())
	}

	states, errs := h.sink.snapshot()
	if !equalStates(states, []domain.CaptureState{domain.CaptureInitializing, domain.CaptureIdle}) {
		t.Errorf("Unexpected states %v", states)
	}
	if len(errs) != 1 || errs[0] != domain.KindDeviceUnavailable {
		t.Errorf("Expected one DeviceUnavailable report, got %v", errs)
	}

	// The next press retries
	h.acq.mu.Lock()
	h.acq.err = nil
	h.acq.mu.Unlock()
	if err := h.m.Press(ctx); err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	if h.m.GetState() != Recording {
		t.Errorf("Expected Recording after retry, got %v", h.m.GetState())
	}
	h.m.Release(ctx)
}

func TestPress_EncoderFailureReleasesTracks(t *testing.T) {
	h := newHarness(DefaultConfig())
	h.enc.startErr = errors.New("ffmpeg missing")

	if err := h.m.Press(context.Background()); err == nil {
		t.Fatal("Expected error")
	}

	if _, active, _ := h.acq.snapshot(); active != 0 {
		t.Errorf("Expected tracks released after encoder failure, %d active", active)
	}
	if h.m.GetState() != Idle {
		t.Errorf("Expected Idle, got %v", h.m.GetState())
	}
}

func TestRelease_StopFailureStillReleases(t *testing.T) {
	h := newHarness(DefaultConfig())
	h.enc.stopErr = errors.New("encoder crashed")
	ctx := context.Background()

	h.m.Press(ctx)
	if err := h.m.Release(ctx); err == nil {
		t.Fatal("Expected error")
	}

	if _, active, _ := h.acq.snapshot(); active != 0 {
		t.Error("Tracks must be released even when finalizing fails")
	}
	if h.clips.count() != 0 {
		t.Error("Failed session must not hand off")
	}
	if _, errs := h.sink.snapshot(); len(errs) != 1 {
		t.Errorf("Expected one reported failure, got %v", errs)
	}
}

func TestRelease_DuringAcquiring(t *testing.T) {
	h := newHarness(DefaultConfig())
	h.acq.gate = make(chan struct{})
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- h.m.Press(ctx) }()

	deadline := time.Now().Add(time.Second)
	for h.m.GetState() != Acquiring {
		if time.Now().After(deadline) {
			t.Fatal("never reached Acquiring")
		}
		time.Sleep(time.Millisecond)
	}

	if err := h.m.Release(ctx); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	close(h.acq.gate)

	if err := <-done; err != nil {
		t.Fatalf("Press failed: %v", err)
	}
	if h.m.GetState() != Idle {
		t.Errorf("Expected Idle, got %v", h.m.GetState())
	}
	if h.clips.count() != 1 {
		t.Errorf("Expected the early release to finalize the session, got %d clips", h.clips.count())
	}
}

func TestMaxDuration(t *testing.T) {
	h := newHarness(Config{MaxDuration: 20 * time.Millisecond})

	if err := h.m.Press(context.Background()); err != nil {
		t.Fatalf("Press failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for h.clips.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("session was not stopped at the maximum duration")
		}
		time.Sleep(5 * time.Millisecond)
	}

	for h.m.GetState() != Idle {
		if time.Now().After(deadline) {
			t.Fatal("session did not return to Idle after the auto-stop")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// The key is still down, so repeated keydowns must not start a new session
	if !h.m.Held() {
		t.Fatal("Expected the gesture to stay held after the auto-stop")
	}
	if err := h.m.Press(context.Background()); err != nil {
		t.Errorf("Repeated press returned %v", err)
	}
	if calls, _, _ := h.acq.snapshot(); calls != 1 {
		t.Errorf("Expected 1 acquisition after a repeated press, got %d", calls)
	}

	// The later key-up is a stray release that re-arms the gesture
	if err := h.m.Release(context.Background()); err != nil {
		t.Errorf("Release after auto-stop returned %v", err)
	}
	if h.m.Held() {
		t.Error("Expected the key-up to clear the held gesture")
	}
	if h.clips.count() != 1 {
		t.Errorf("Expected exactly one clip, got %d", h.clips.count())
	}

	if err := h.m.Press(context.Background()); err != nil {
		t.Fatalf("Press after key-up failed: %v", err)
	}
	if calls, _, _ := h.acq.snapshot(); calls != 2 {
		t.Errorf("Expected a fresh press to acquire again, got %d acquisitions", calls)
	}
	h.m.Abort(context.Background())
}

func TestAbort(t *testing.T) {
	h := newHarness(DefaultConfig())
	ctx := context.Background()

	h.m.Press(ctx)
	h.m.Abort(ctx)

	if h.m.GetState() != Idle {
		t.Errorf("Expected Idle, got %v", h.m.GetState())
	}
	if h.clips.count() != 0 {
		t.Error("Abort must not hand off")
	}
	if _, active, _ := h.acq.snapshot(); active != 0 {
		t.Error("Abort must release tracks")
	}

	h.m.Abort(ctx)
}

func TestArchiveDir(t *testing.T) {
	dir := t.TempDir()
	h := newHarness(Config{ArchiveDir: dir})
	ctx := context.Background()

	h.m.Press(ctx)
	h.m.Release(ctx)

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("Expected one archived wav, got %d", len(entries))
	}
}

// No two sessions may be open at once, whatever the interleaving of presses
// and releases.
func TestReentrancy_RandomSequences(t *testing.T) {
	h := newHarness(DefaultConfig())
	ctx := context.Background()

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			r := rand.New(rand.NewSource(seed))
			for i := 0; i < 200; i++ {
				if r.Intn(2) == 0 {
					h.m.Press(ctx)
				} else {
					h.m.Release(ctx)
				}
			}
		}(int64(g))
	}
	wg.Wait()

	h.m.Release(ctx)

	if _, active, maxActive := h.acq.snapshot(); maxActive > 1 || active != 0 {
		t.Errorf("Expected at most one session at a time and none left, got max %d, active %d", maxActive, active)
	}
	if h.m.GetState() != Idle {
		t.Errorf("Expected Idle at the end, got %v", h.m.GetState())
	}
}

func TestSplitTranscription(t *testing.T) {
	tests := []struct {
		name          string
		text          string
		transcription string
		answer        string
		ok            bool
	}{
		{"split", "TRANSCRIPTION: hello there\nThe answer is 42", "hello there", "The answer is 42", true},
		{"no newline", "TRANSCRIPTION: hello there", "", "TRANSCRIPTION: hello there", false},
		{"no marker", "Just an answer\nwith lines", "", "Just an answer\nwith lines", false},
		{"multi-line answer", "TRANSCRIPTION: [Interviewer] why Go?\n\nBecause.\nAlso fast.", "[Interviewer] why Go?", "Because.\nAlso fast.", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, ans, ok := SplitTranscription(tt.text)
			if tr != tt.transcription || ans != tt.answer || ok != tt.ok {
				t.Errorf("Expected (%q, %q, %v), got (%q, %q, %v)", tt.transcription, tt.answer, tt.ok, tr, ans, ok)
			}
		})
	}
}
