package audio

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// MicConfig holds microphone capture configuration
type MicConfig struct {
	DeviceID   int // -1 = default input device
	SampleRate int
	Channels   int
	Latency    LatencyMode
	// BufferSeconds bounds how much unread audio is kept before the oldest is dropped
	BufferSeconds int
}

// DefaultMicConfig returns the default microphone configuration
func DefaultMicConfig() MicConfig {
	return MicConfig{
		DeviceID:      -1,
		SampleRate:    48000,
		Channels:      1,
		Latency:       LowLatency,
		BufferSeconds: 10,
	}
}

// PortAudioSource opens microphone streams through PortAudio
type PortAudioSource struct {
	mu          sync.Mutex
	config      MicConfig
	initialized bool
}

// NewPortAudioSource initializes PortAudio
func NewPortAudioSource(config MicConfig) (*PortAudioSource, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}

	return &PortAudioSource{config: config, initialized: true}, nil
}

// ListDevices returns a list of available audio input devices
func (s *PortAudioSource) ListDevices() ([]Device, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	defaultInput, err := portaudio.DefaultInputDevice()
	if err != nil {
		defaultInput = nil
	}

	var result []Device
	for i, dev := range devices {
		if dev.MaxInputChannels <= 0 {
			continue
		}
		result = append(result, Device{
			ID:        i,
			Name:      dev.Name,
			IsDefault: defaultInput != nil && dev.Name == defaultInput.Name,
		})
	}

	return result, nil
}

func (s *PortAudioSource) device() (*portaudio.DeviceInfo, error) {
	if s.config.DeviceID == -1 {
		device, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("failed to get default input device: %w", err)
		}
		return device, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	if s.config.DeviceID < 0 || s.config.DeviceID >= len(devices) {
		return nil, fmt.Errorf("invalid device ID: %d", s.config.DeviceID)
	}
	return devices[s.config.DeviceID], nil
}

// SetDevice selects the input device for later streams (-1 = default)
func (s *PortAudioSource) SetDevice(id int) {
	s.mu.Lock()
	s.config.DeviceID = id
	s.mu.Unlock()
}

// DeviceID returns the selected input device
func (s *PortAudioSource) DeviceID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config.DeviceID
}

// OpenMicrophone opens and starts a capture stream on the configured device.
// The stream runs until its track is stopped.
func (s *PortAudioSource) OpenMicrophone(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return nil, fmt.Errorf("PortAudio not initialized")
	}

	device, err := s.device()
	if err != nil {
		return nil, err
	}
	if device.MaxInputChannels <= 0 {
		return nil, fmt.Errorf("selected device '%s' (ID: %d) has no input channels (output-only device)",
			device.Name, s.config.DeviceID)
	}

	channels := s.config.Channels
	if channels <= 0 {
		channels = 1
	}
	format := Format{SampleRate: s.config.SampleRate, Channels: channels}

	latency := device.DefaultHighInputLatency
	if s.config.Latency == LowLatency {
		latency = device.DefaultLowInputLatency
	}

	seconds := s.config.BufferSeconds
	if seconds <= 0 {
		seconds = 10
	}
	buf := NewBuffer(seconds*format.SampleRate*format.FrameSize(), format.FrameSize())

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: channels,
			Latency:  latency,
		},
		SampleRate:      float64(format.SampleRate),
		FramesPerBuffer: 1024,
	}

	scratch := make([]byte, 0, 1024*channels*2)
	stream, err := portaudio.OpenStream(params, func(in []int16) {
		scratch = scratch[:0]
		for _, sample := range in {
			scratch = binary.LittleEndian.AppendUint16(scratch, uint16(sample))
		}
		_, _ = buf.Write(scratch)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("failed to start stream: %w", err)
	}

	track := NewTrack(TrackAudio, func() error {
		defer buf.Close()
		if err := stream.Stop(); err != nil {
			stream.Close()
			return fmt.Errorf("failed to stop stream: %w", err)
		}
		if err := stream.Close(); err != nil {
			return fmt.Errorf("failed to close stream: %w", err)
		}
		return nil
	})

	return &micStream{buf: buf, format: format, track: track}, nil
}

// Close terminates PortAudio. Open streams must be stopped first.
func (s *PortAudioSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return nil
	}
	s.initialized = false

	if err := portaudio.Terminate(); err != nil {
		return fmt.Errorf("failed to terminate PortAudio: %w", err)
	}
	return nil
}

type micStream struct {
	buf    *Buffer
	format Format
	track  Track
}

func (m *micStream) Read(p []byte) (int, error) { return m.buf.Read(p) }
func (m *micStream) Format() Format             { return m.format }
func (m *micStream) Tracks() []Track            { return []Track{m.track} }
