package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"
)

// FFmpegSource captures desktop (loopback) audio by running ffmpeg against a
// monitor input such as PulseAudio's "default.monitor".
type FFmpegSource struct {
	Command      string
	InputFormat  string // ffmpeg -f, e.g. "pulse", "avfoundation", "dshow"
	InputDevice  string
	SampleRate   int
	Channels     int
	StartupGrace time.Duration
}

// NewFFmpegSource creates a desktop audio source with defaults filled in
func NewFFmpegSource(command, inputFormat, inputDevice string, sampleRate int) *FFmpegSource {
	if command == "" {
		command = "ffmpeg"
	}
	if inputFormat == "" {
		inputFormat = "pulse"
	}
	if inputDevice == "" {
		inputDevice = "default.monitor"
	}
	return &FFmpegSource{
		Command:      command,
		InputFormat:  inputFormat,
		InputDevice:  inputDevice,
		SampleRate:   sampleRate,
		Channels:     2,
		StartupGrace: 250 * time.Millisecond,
	}
}

// OpenSystemAudio starts ffmpeg and returns its PCM output once the process
// has survived the startup grace period. ctx bounds the process lifetime.
func (f *FFmpegSource) OpenSystemAudio(ctx context.Context) (Stream, error) {
	format := Format{SampleRate: f.SampleRate, Channels: f.Channels}
	if format.SampleRate <= 0 {
		format.SampleRate = 48000
	}
	if format.Channels <= 0 {
		format.Channels = 2
	}

	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", f.InputFormat,
		"-i", f.InputDevice,
		"-ac", strconv.Itoa(format.Channels),
		"-ar", strconv.Itoa(format.SampleRate),
		"-f", "s16le",
		"-",
	}

	cmd := exec.CommandContext(ctx, f.Command, args...)
	stderr := &lockedBuffer{}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	grace := f.StartupGrace
	if grace <= 0 {
		grace = 250 * time.Millisecond
	}

	select {
	case err := <-waitErr:
		if err != nil {
			return nil, fmt.Errorf("ffmpeg exited before capture started: %w: %s", err, stderr.Trimmed())
		}
		return nil, errors.New("ffmpeg exited before capture started")
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(grace):
	}

	proc := &ffmpegProcess{stdout: stdout, stderr: stderr, process: cmd.Process, waitErr: waitErr}
	return NewStream(proc, format, NewTrack(TrackAudio, proc.Stop)), nil
}

type ffmpegProcess struct {
	stdout  io.ReadCloser
	stderr  *lockedBuffer
	process *os.Process
	waitErr <-chan error
}

func (p *ffmpegProcess) Read(b []byte) (int, error) {
	return p.stdout.Read(b)
}

// Stop interrupts ffmpeg and kills it if it does not exit promptly
func (p *ffmpegProcess) Stop() error {
	var stopErr error
	if p.process != nil {
		_ = p.process.Signal(os.Interrupt)
	}

	select {
	case err, ok := <-p.waitErr:
		if ok {
			stopErr = normalizeStopErr(err)
		}
	case <-time.After(1200 * time.Millisecond):
		if p.process != nil {
			_ = p.process.Kill()
		}
		if err, ok := <-p.waitErr; ok {
			stopErr = normalizeStopErr(err)
		}
	}

	if err := p.stdout.Close(); err != nil && !errors.Is(err, os.ErrClosed) && stopErr == nil {
		stopErr = err
	}
	if stopErr != nil && p.stderr.Len() > 0 {
		stopErr = fmt.Errorf("%w: %s", stopErr, p.stderr.Trimmed())
	}
	return stopErr
}

// An exit status after an interrupt is the normal way for ffmpeg to stop
func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}

func (b *lockedBuffer) Trimmed() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(bytes.TrimSpace(b.buf.Bytes()))
}
