package audio

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yok-tottii/genie/internal/domain"
	"github.com/yok-tottii/genie/internal/logger"
)

// MicrophoneOpener opens a microphone stream
type MicrophoneOpener interface {
	OpenMicrophone(ctx context.Context) (Stream, error)
}

// SystemAudioOpener opens a desktop (loopback) audio stream
type SystemAudioOpener interface {
	OpenSystemAudio(ctx context.Context) (Stream, error)
}

// Authorizer reports whether the host allows microphone access
type Authorizer interface {
	IsMicrophoneAuthorized() bool
}

// Resolver obtains the microphone and desktop audio streams for a capture session
type Resolver struct {
	mic    MicrophoneOpener
	system SystemAudioOpener
	auth   Authorizer
	logger *logger.Logger
}

// NewResolver creates a resolver. system and auth may be nil: without a
// system opener desktop audio is always unavailable, without an authorizer
// permission is assumed.
func NewResolver(mic MicrophoneOpener, system SystemAudioOpener, auth Authorizer, log *logger.Logger) *Resolver {
	return &Resolver{mic: mic, system: system, auth: auth, logger: log}
}

// AcquireMicrophone opens the microphone. Failures are DeviceUnavailable.
func (r *Resolver) AcquireMicrophone(ctx context.Context) (Stream, error) {
	if r.auth != nil && !r.auth.IsMicrophoneAuthorized() {
		return nil, domain.NewError(domain.KindDeviceUnavailable, "Microphone permission denied", nil)
	}
	if r.mic == nil {
		return nil, domain.NewError(domain.KindDeviceUnavailable, "No microphone configured", nil)
	}

	s, err := r.mic.OpenMicrophone(ctx)
	if err != nil {
		return nil, domain.NewError(domain.KindDeviceUnavailable, "Could not access microphone", err)
	}
	return s, nil
}

// AcquireSystemAudio opens desktop audio. Failures are DesktopCaptureUnavailable.
func (r *Resolver) AcquireSystemAudio(ctx context.Context) (Stream, error) {
	if r.system == nil {
		return nil, domain.NewError(domain.KindDesktopCaptureUnavailable, "Desktop audio capture disabled", nil)
	}

	s, err := r.system.OpenSystemAudio(ctx)
	if err != nil {
		return nil, domain.NewError(domain.KindDesktopCaptureUnavailable, "Could not capture system audio", err)
	}
	return s, nil
}

// Acquire opens the microphone and desktop audio concurrently and waits for
// both. A desktop failure is absorbed and reported as a nil system stream.
// A microphone failure releases any desktop stream that did open.
func (r *Resolver) Acquire(ctx context.Context) (mic, system Stream, err error) {
	started := time.Now()

	// Plain Group: a derived context would be cancelled on Wait and take the
	// ffmpeg process down with it.
	var g errgroup.Group
	var systemErr error

	g.Go(func() error {
		s, err := r.AcquireMicrophone(ctx)
		if err != nil {
			return err
		}
		mic = s
		return nil
	})
	g.Go(func() error {
		system, systemErr = r.AcquireSystemAudio(ctx)
		return nil
	})

	if err := g.Wait(); err != nil {
		if system != nil {
			if stopErr := StopTracks(system); stopErr != nil {
				r.logger.Warn("Failed to release system audio after microphone failure: %v", stopErr)
			}
		}
		return nil, nil, err
	}

	if systemErr != nil {
		if errors.Is(systemErr, domain.ErrDesktopCaptureUnavailable) {
			r.logger.Warn("System audio unavailable, recording microphone only: %v", systemErr)
		}
		system = nil
	}

	r.logger.Debug("Audio sources acquired in %v (system audio: %v)", time.Since(started), system != nil)
	return mic, system, nil
}
