// Package encoder compresses a PCM stream into opus-in-webm with ffmpeg.
package encoder

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

	"github.com/yok-tottii/genie/internal/audio"
	"github.com/yok-tottii/genie/internal/logger"
)

// MIMEType is the container type of the encoded payload
const MIMEType = "audio/webm"

// DefaultBitrateKbps bounds the upload size of a clip
const DefaultBitrateKbps = 128

// Encoder starts ffmpeg encoding sessions
type Encoder struct {
	command     string
	bitrateKbps int
	stopTimeout time.Duration
	logger      *logger.Logger
}

// New creates an encoder
func New(command string, bitrateKbps int, log *logger.Logger) *Encoder {
	if command == "" {
		command = "ffmpeg"
	}
	if bitrateKbps <= 0 {
		bitrateKbps = DefaultBitrateKbps
	}
	return &Encoder{command: command, bitrateKbps: bitrateKbps, stopTimeout: 2 * time.Second, logger: log}
}

// Args returns the ffmpeg arguments used for a source format
func (e *Encoder) Args(format audio.Format) []string {
	return []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "error",
		"-f", "s16le",
		"-ar", strconv.Itoa(format.SampleRate),
		"-ac", strconv.Itoa(format.Channels),
		"-i", "pipe:0",
		"-c:a", "libopus",
		"-b:a", fmt.Sprintf("%dk", e.bitrateKbps),
		"-f", "webm",
		"pipe:1",
	}
}

// Session is one running encode. Chunks are collected in order as ffmpeg
// emits them.
type Session struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stderr  bytes.Buffer
	stop    chan struct{}
	pumped  chan error
	drained chan struct{}
	timeout time.Duration

	mu     sync.Mutex
	chunks [][]byte

	once    sync.Once
	payload []byte
	err     error
}

// Start launches ffmpeg and begins feeding src into it
func (e *Encoder) Start(ctx context.Context, src audio.Stream) (*Session, error) {
	cmd := exec.Command(e.command, e.Args(src.Format())...)

	s := &Session{
		cmd:     cmd,
		stop:    make(chan struct{}),
		pumped:  make(chan error, 1),
		drained: make(chan struct{}),
		timeout: e.stopTimeout,
	}
	cmd.Stderr = &s.stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder stdout: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start encoder: %w", err)
	}
	s.stdin = stdin

	go s.collect(stdout)
	go s.pump(src)

	e.logger.Debug("Encoder started (pid %d, %d kbit/s)", cmd.Process.Pid, e.bitrateKbps)
	return s, nil
}

// pump copies PCM into ffmpeg until the source ends or Stop is called
func (s *Session) pump(src io.Reader) {
	buf := make([]byte, 8192)
	var err error
	for {
		select {
		case <-s.stop:
			s.pumped <- nil
			return
		default:
		}

		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := s.stdin.Write(buf[:n]); werr != nil {
				err = fmt.Errorf("failed to feed encoder: %w", werr)
				break
			}
		}
		if rerr != nil {
			if !errors.Is(rerr, io.EOF) {
				err = fmt.Errorf("failed to read audio: %w", rerr)
			}
			break
		}
	}
	s.pumped <- err
}

func (s *Session) collect(stdout io.Reader) {
	defer close(s.drained)
	buf := make([]byte, 32*1024)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			s.mu.Lock()
			s.chunks = append(s.chunks, chunk)
			s.mu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

// Chunks returns the number of encoded chunks received so far
func (s *Session) Chunks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chunks)
}

// Stop ends the input, waits until every encoded chunk has been drained and
// returns them joined into one payload. Calling Stop again returns the same
// result.
func (s *Session) Stop(ctx context.Context) ([]byte, error) {
	s.once.Do(func() {
		s.payload, s.err = s.finish(ctx)
	})
	return s.payload, s.err
}

func (s *Session) finish(ctx context.Context) ([]byte, error) {
	close(s.stop)

	var pumpErr error
	select {
	case pumpErr = <-s.pumped:
	case <-time.After(s.timeout):
		// Source is blocked; closing stdin below unblocks ffmpeg regardless
	case <-ctx.Done():
	}
	s.stdin.Close()

	select {
	case <-s.drained:
	case <-ctx.Done():
		_ = s.cmd.Process.Kill()
		<-s.drained
		s.cmd.Wait()
		return nil, fmt.Errorf("encoder drain interrupted: %w", ctx.Err())
	}

	if err := s.cmd.Wait(); err != nil {
		return nil, fmt.Errorf("encoder failed: %w: %s", err, bytes.TrimSpace(s.stderr.Bytes()))
	}
	if pumpErr != nil && !errors.Is(pumpErr, os.ErrClosed) {
		return nil, pumpErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	payload := bytes.Join(s.chunks, nil)
	if len(payload) == 0 {
		return nil, errors.New("encoder produced no data")
	}
	return payload, nil
}
