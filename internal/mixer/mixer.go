// Package mixer combines the microphone and desktop audio into one stereo
// stream.
package mixer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"

	goaudio "github.com/go-audio/audio"

	"github.com/yok-tottii/genie/internal/audio"
	"github.com/yok-tottii/genie/internal/logger"
)

// State is the engine run state
type State int

const (
	Suspended State = iota
	Running
	Closed
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case Suspended:
		return "Suspended"
	case Running:
		return "Running"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// ErrEngineClosed is returned by Mix after Close
var ErrEngineClosed = errors.New("mixer engine closed")

// Config holds mixing configuration
type Config struct {
	MicPan              float64
	SystemPan           float64
	FramesPerChunk      int
	SystemBufferSeconds int
}

// DefaultConfig pans the microphone hard left and desktop audio hard right
func DefaultConfig() Config {
	return Config{
		MicPan:              -1,
		SystemPan:           1,
		FramesPerChunk:      1024,
		SystemBufferSeconds: 2,
	}
}

// Engine is the long-lived mixing context. One engine serves every
// recording; it suspends itself when its last graph is released and Mix
// resumes it.
type Engine struct {
	mu     sync.Mutex
	config Config
	state  State
	graphs int
	logger *logger.Logger
}

// NewEngine creates a running engine
func NewEngine(config Config, log *logger.Logger) *Engine {
	if config.FramesPerChunk <= 0 {
		config.FramesPerChunk = 1024
	}
	if config.SystemBufferSeconds <= 0 {
		config.SystemBufferSeconds = 2
	}
	return &Engine{config: config, state: Running, logger: log}
}

// State returns the engine state
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// ActiveGraphs returns the number of graphs not yet released
func (e *Engine) ActiveGraphs() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.graphs
}

// Suspend marks the engine idle
func (e *Engine) Suspend() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == Running {
		e.state = Suspended
	}
}

// Resume returns a suspended engine to Running
func (e *Engine) Resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case Closed:
		return ErrEngineClosed
	case Suspended:
		e.state = Running
		e.logger.Debug("Mixer engine resumed")
	}
	return nil
}

// Close shuts the engine down for good
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = Closed
}

func (e *Engine) release() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.graphs > 0 {
		e.graphs--
	}
	if e.graphs == 0 && e.state == Running {
		e.state = Suspended
	}
}

// Mix routes mic through the left panner and system through the right one
// into a 2-channel destination. Without a system stream mic is returned
// unchanged and the engine state is left alone. Video tracks on system are
// stopped immediately.
func (e *Engine) Mix(mic, system audio.Stream) (audio.Stream, error) {
	if mic == nil {
		return nil, fmt.Errorf("mix: no microphone stream")
	}
	if e.State() == Closed {
		return nil, ErrEngineClosed
	}
	if system == nil {
		return mic, nil
	}

	if err := audio.StopVideoTracks(system); err != nil {
		e.logger.Warn("Failed to stop desktop video track: %v", err)
	}

	mf, sf := mic.Format(), system.Format()
	if mf.SampleRate != sf.SampleRate || !supportedChannels(mf.Channels) || !supportedChannels(sf.Channels) {
		e.logger.Warn("Cannot mix %+v with %+v, recording microphone only", mf, sf)
		if err := audio.StopTracks(system); err != nil {
			e.logger.Warn("Failed to release system audio: %v", err)
		}
		return mic, nil
	}

	if err := e.Resume(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.graphs++
	cfg := e.config
	e.mu.Unlock()

	return newGraph(e, cfg, mic, system), nil
}

func supportedChannels(n int) bool {
	return n == 1 || n == 2
}

// Graph is one session's mix: two panners feeding a stereo destination.
// It is read at the microphone's pace; desktop audio is pumped into a
// bounded buffer and zero-filled when it falls behind.
type Graph struct {
	engine    *Engine
	mic       audio.Stream
	micPan    *Panner
	sysPan    *Panner
	sysBuf    *audio.Buffer
	sysFormat audio.Format
	format    audio.Format
	tracks    []audio.Track
	frames    int

	micRaw   []byte
	micCarry int
	sysRaw   []byte
	micInts  *goaudio.IntBuffer
	sysInts  *goaudio.IntBuffer
	micOut   []float64
	sysOut   []float64
	pending  []byte
	finished bool
}

func newGraph(e *Engine, cfg Config, mic, system audio.Stream) *Graph {
	mf, sf := mic.Format(), system.Format()
	frames := cfg.FramesPerChunk

	g := &Graph{
		engine:    e,
		mic:       mic,
		micPan:    NewPanner(cfg.MicPan),
		sysPan:    NewPanner(cfg.SystemPan),
		sysBuf:    audio.NewBuffer(cfg.SystemBufferSeconds*sf.SampleRate*sf.FrameSize(), sf.FrameSize()),
		sysFormat: sf,
		format:    audio.Format{SampleRate: mf.SampleRate, Channels: 2},
		frames:    frames,
		micRaw:    make([]byte, frames*mf.FrameSize()),
		sysRaw:    make([]byte, frames*sf.FrameSize()),
		micInts:   &goaudio.IntBuffer{Format: &goaudio.Format{NumChannels: mf.Channels, SampleRate: mf.SampleRate}, SourceBitDepth: 16},
		sysInts:   &goaudio.IntBuffer{Format: &goaudio.Format{NumChannels: sf.Channels, SampleRate: sf.SampleRate}, SourceBitDepth: 16},
		micOut:    make([]float64, frames*2),
		sysOut:    make([]float64, frames*2),
	}

	g.tracks = append(g.tracks, audio.AudioTracks(mic)...)
	g.tracks = append(g.tracks, audio.AudioTracks(system)...)
	g.tracks = append(g.tracks, audio.NewTrack(audio.TrackAudio, func() error {
		g.sysBuf.Close()
		e.release()
		return nil
	}))

	go g.pump(system)
	return g
}

func (g *Graph) pump(system io.Reader) {
	_, _ = io.Copy(g.sysBuf, system)
	g.sysBuf.Close()
}

// Format returns the destination format (always 2 channels)
func (g *Graph) Format() audio.Format { return g.format }

// Tracks returns the input audio tracks plus the graph itself
func (g *Graph) Tracks() []audio.Track { return g.tracks }

// Read renders mixed interleaved stereo PCM
func (g *Graph) Read(p []byte) (int, error) {
	for len(g.pending) == 0 {
		if g.finished {
			return 0, io.EOF
		}
		if err := g.render(); err != nil {
			return 0, err
		}
	}
	n := copy(p, g.pending)
	g.pending = g.pending[n:]
	return n, nil
}

func (g *Graph) render() error {
	mfs := g.mic.Format().FrameSize()

	n, err := g.mic.Read(g.micRaw[g.micCarry:])
	total := g.micCarry + n
	frames := total / mfs

	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	if errors.Is(err, io.EOF) {
		g.finished = true
	}
	if frames == 0 {
		g.micCarry = total
		return nil
	}

	decodeInts(g.micInts, g.micRaw[:frames*mfs])
	g.micCarry = copy(g.micRaw, g.micRaw[frames*mfs:total])

	sfs := g.sysFormat.FrameSize()
	want := frames * sfs
	got := g.sysBuf.ReadAvailable(g.sysRaw[:want])
	clear(g.sysRaw[got:want])
	decodeInts(g.sysInts, g.sysRaw[:want])

	g.micPan.Process(g.micInts, g.micOut[:frames*2])
	g.sysPan.Process(g.sysInts, g.sysOut[:frames*2])

	out := make([]byte, frames*4)
	for i := 0; i < frames*2; i++ {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(clip16(g.micOut[i]+g.sysOut[i])))
	}
	g.pending = out
	return nil
}

func decodeInts(buf *goaudio.IntBuffer, raw []byte) {
	n := len(raw) / 2
	if cap(buf.Data) < n {
		buf.Data = make([]int, n)
	}
	buf.Data = buf.Data[:n]
	for i := 0; i < n; i++ {
		buf.Data[i] = int(int16(binary.LittleEndian.Uint16(raw[i*2:])))
	}
}

func clip16(v float64) int16 {
	v = math.Round(v)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
