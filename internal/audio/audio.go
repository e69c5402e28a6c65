package audio

import (
	"errors"
	"io"
	"sync"

	"github.com/google/uuid"
)

// Device represents an audio input device
type Device struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	IsDefault bool   `json:"is_default"`
}

// Format describes interleaved signed 16-bit little-endian PCM
type Format struct {
	SampleRate int
	Channels   int
}

// FrameSize returns the number of bytes per interleaved frame
func (f Format) FrameSize() int {
	return f.Channels * 2
}

// TrackKind distinguishes the media carried by a Track
type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
)

// Track is one media track owned by a capture session. Stop releases the
// underlying device or process and is safe to call more than once.
type Track interface {
	ID() string
	Kind() TrackKind
	Stop() error
}

// Stream is a readable PCM stream and the tracks that feed it
type Stream interface {
	io.Reader
	Format() Format
	Tracks() []Track
}

// LatencyMode defines the latency priority
type LatencyMode int

const (
	// LowLatency prioritizes low latency (real-time)
	LowLatency LatencyMode = iota
	// HighStability prioritizes stability (larger buffer)
	HighStability
)

// NewTrack returns a Track whose Stop runs stop exactly once
func NewTrack(kind TrackKind, stop func() error) Track {
	return &funcTrack{id: uuid.NewString(), kind: kind, stop: stop}
}

type funcTrack struct {
	id   string
	kind TrackKind
	once sync.Once
	stop func() error
	err  error
}

func (t *funcTrack) ID() string      { return t.id }
func (t *funcTrack) Kind() TrackKind { return t.kind }

func (t *funcTrack) Stop() error {
	t.once.Do(func() {
		if t.stop != nil {
			t.err = t.stop()
		}
	})
	return t.err
}

// NewStream wraps a reader as a Stream
func NewStream(r io.Reader, format Format, tracks ...Track) Stream {
	return &readerStream{Reader: r, format: format, tracks: tracks}
}

type readerStream struct {
	io.Reader
	format Format
	tracks []Track
}

func (s *readerStream) Format() Format  { return s.format }
func (s *readerStream) Tracks() []Track { return s.tracks }

// StopTracks stops every track of the given streams. Nil streams are skipped.
func StopTracks(streams ...Stream) error {
	var errs []error
	seen := map[string]bool{}
	for _, s := range streams {
		if s == nil {
			continue
		}
		for _, t := range s.Tracks() {
			if seen[t.ID()] {
				continue
			}
			seen[t.ID()] = true
			if err := t.Stop(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// StopVideoTracks stops only the video tracks of s
func StopVideoTracks(s Stream) error {
	var errs []error
	for _, t := range s.Tracks() {
		if t.Kind() == TrackVideo {
			if err := t.Stop(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// AudioTracks returns the audio tracks of s
func AudioTracks(s Stream) []Track {
	var out []Track
	for _, t := range s.Tracks() {
		if t.Kind() == TrackAudio {
			out = append(out, t)
		}
	}
	return out
}
