package audio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// PortAudioDriver opens blocking int16 input streams through PortAudio.
type PortAudioDriver struct {
	framesPerBuffer int
}

// NewPortAudioDriver initializes PortAudio. Call Close once all streams are
// closed.
func NewPortAudioDriver(framesPerBuffer int) (*PortAudioDriver, error) {
	if framesPerBuffer <= 0 {
		framesPerBuffer = 1024
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	return &PortAudioDriver{framesPerBuffer: framesPerBuffer}, nil
}

func (d *PortAudioDriver) Open(device *int, sampleRate int) (Stream, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}
	var def *portaudio.DeviceInfo
	if device == nil {
		def, err = portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("failed to get default input device: %w", err)
		}
	}
	info, err := selectDevice(devices, def, device)
	if err != nil {
		return nil, err
	}

	buffer := make([]int16, d.framesPerBuffer)
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   info,
			Channels: 1,
			Latency:  info.DefaultLowInputLatency,
		},
		SampleRate:      float64(sampleRate),
		FramesPerBuffer: len(buffer),
	}
	if err := portaudio.IsFormatSupported(params, buffer); err != nil {
		return nil, fmt.Errorf("%s does not support %d Hz: %w", info.Name, sampleRate, err)
	}

	stream, err := portaudio.OpenStream(params, buffer)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("failed to start audio stream: %w", err)
	}

	return &portAudioStream{stream: stream, buffer: buffer, rate: sampleRate}, nil
}

func (d *PortAudioDriver) Devices() ([]DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	def, _ := portaudio.DefaultInputDevice()
	return inputDevices(devices, def), nil
}

// Close terminates PortAudio.
func (d *PortAudioDriver) Close() error {
	return portaudio.Terminate()
}

type portAudioStream struct {
	stream *portaudio.Stream
	buffer []int16
	rate   int

	closeOnce sync.Once
	closeErr  error
}

func (s *portAudioStream) Read() ([]int16, error) {
	if err := s.stream.Read(); err != nil {
		// An overflow means frames were dropped, but the buffer holds valid
		// audio and the stream is still healthy.
		if errors.Is(err, portaudio.InputOverflowed) {
			return s.buffer, nil
		}
		return nil, err
	}
	return s.buffer, nil
}

func (s *portAudioStream) SampleRate() int {
	return s.rate
}

func (s *portAudioStream) Close() error {
	s.closeOnce.Do(func() {
		_ = s.stream.Stop()
		s.closeErr = s.stream.Close()
	})
	return s.closeErr
}

// selectDevice picks the input device with the given index, or def when
// index is nil.
func selectDevice(devices []*portaudio.DeviceInfo, def *portaudio.DeviceInfo, index *int) (*portaudio.DeviceInfo, error) {
	if index == nil {
		if def == nil || def.MaxInputChannels < 1 {
			return nil, fmt.Errorf("%w: no default input", ErrDeviceNotFound)
		}
		return def, nil
	}
	for _, d := range devices {
		if d.Index == *index {
			if d.MaxInputChannels < 1 {
				return nil, fmt.Errorf("%w: %q has no input channels", ErrDeviceNotFound, d.Name)
			}
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: index %d", ErrDeviceNotFound, *index)
}

func inputDevices(devices []*portaudio.DeviceInfo, def *portaudio.DeviceInfo) []DeviceInfo {
	result := make([]DeviceInfo, 0, len(devices))
	for _, d := range devices {
		if d.MaxInputChannels > 0 {
			result = append(result, DeviceInfo{
				Index:             d.Index,
				Name:              d.Name,
				Default:           d == def,
				DefaultSampleRate: d.DefaultSampleRate,
			})
		}
	}
	return result
}
