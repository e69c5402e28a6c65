package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WAVWriter archives PCM written to it as a 16-bit WAV file
type WAVWriter struct {
	mu      sync.Mutex
	file    *os.File
	enc     *wav.Encoder
	format  *goaudio.Format
	pending []byte
	closed  bool
}

// NewWAVWriter creates the file at path and writes a WAV header for format
func NewWAVWriter(path string, format Format) (*WAVWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create recordings directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create wav file: %w", err)
	}

	return &WAVWriter{
		file:   file,
		enc:    wav.NewEncoder(file, format.SampleRate, 16, format.Channels, 1),
		format: &goaudio.Format{NumChannels: format.Channels, SampleRate: format.SampleRate},
	}, nil
}

// Write accepts interleaved s16le bytes. A trailing odd byte is held until
// the next write.
func (w *WAVWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, io.ErrClosedPipe
	}

	data := append(w.pending, p...)
	n := len(data) / 2
	ints := make([]int, n)
	for i := 0; i < n; i++ {
		ints[i] = int(int16(binary.LittleEndian.Uint16(data[i*2:])))
	}
	w.pending = append(w.pending[:0], data[n*2:]...)

	buf := &goaudio.IntBuffer{Format: w.format, Data: ints, SourceBitDepth: 16}
	if err := w.enc.Write(buf); err != nil {
		return 0, fmt.Errorf("failed to write wav data: %w", err)
	}
	return len(p), nil
}

// Close finalizes the WAV header and closes the file
func (w *WAVWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.enc.Close(); err != nil {
		w.file.Close()
		return fmt.Errorf("failed to finalize wav: %w", err)
	}
	return w.file.Close()
}

// TeeWAV returns a stream that archives everything read from s into a WAV
// file at path. The file is finalized when the returned stream's tracks are
// stopped.
func TeeWAV(s Stream, path string) (Stream, error) {
	w, err := NewWAVWriter(path, s.Format())
	if err != nil {
		return nil, err
	}

	tracks := append([]Track(nil), s.Tracks()...)
	tracks = append(tracks, NewTrack(TrackAudio, w.Close))
	return NewStream(io.TeeReader(s, w), s.Format(), tracks...), nil
}
