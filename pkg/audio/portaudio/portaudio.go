// Package portaudio provides an [audio.Backend] for local microphones backed
// by the PortAudio library (CGO).
//
// Devices are identified by their PortAudio name. Streams are opened mono at
// the device's default sample rate; [audio.Capture] converts to the pipeline
// rate.
package portaudio

import (
	"errors"
	"fmt"
	"sync"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/voxpipe/pkg/audio"
)

var _ audio.Backend = (*Backend)(nil)

// Backend implements [audio.Backend] using PortAudio. Create one with [New]
// and release it with [Backend.Close].
type Backend struct {
	closeOnce sync.Once
}

// New initialises the PortAudio library.
func New() (*Backend, error) {
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	return &Backend{}, nil
}

// Close terminates the PortAudio library. Open streams must be closed first.
func (b *Backend) Close() error {
	var err error
	b.closeOnce.Do(func() { err = pa.Terminate() })
	return err
}

// Devices implements [audio.Backend]. Only devices with at least one input
// channel are listed.
func (b *Backend) Devices() ([]audio.Device, error) {
	infos, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: list devices: %w", err)
	}
	def, _ := pa.DefaultInputDevice()

	var out []audio.Device
	for _, d := range infos {
		if d.MaxInputChannels < 1 {
			continue
		}
		out = append(out, audio.Device{
			ID:      d.Name,
			Name:    d.Name,
			Default: def != nil && d.Name == def.Name,
		})
	}
	return out, nil
}

// Open implements [audio.Backend].
func (b *Backend) Open(deviceID string, frameSize int, onData func([]float32, audio.Format)) (audio.Stream, error) {
	dev, err := lookup(deviceID)
	if err != nil {
		return nil, err
	}

	format := audio.Format{SampleRate: int(dev.DefaultSampleRate), Channels: 1}
	params := pa.StreamParameters{
		Input: pa.StreamDeviceParameters{
			Device:   dev,
			Channels: format.Channels,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      dev.DefaultSampleRate,
		FramesPerBuffer: frameSize,
	}

	// PortAudio reuses the callback buffer, so every frame is copied before it
	// leaves the callback.
	s, err := pa.OpenStream(params, func(in []float32) {
		frame := make([]float32, len(in))
		copy(frame, in)
		onData(frame, format)
	})
	if err != nil {
		return nil, fmt.Errorf("portaudio: open stream: %w", err)
	}
	if err := s.Start(); err != nil {
		s.Close()
		return nil, fmt.Errorf("portaudio: start stream: %w", err)
	}
	return &stream{s: s}, nil
}

func lookup(id string) (*pa.DeviceInfo, error) {
	if id == "" {
		dev, err := pa.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("portaudio: default input: %w", err)
		}
		return dev, nil
	}
	infos, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: list devices: %w", err)
	}
	for _, d := range infos {
		if d.Name == id && d.MaxInputChannels > 0 {
			return d, nil
		}
	}
	return nil, audio.ErrDeviceNotFound
}

type stream struct {
	s    *pa.Stream
	once sync.Once
}

// Close stops and closes the stream. Subsequent calls return nil.
func (st *stream) Close() error {
	var err error
	st.once.Do(func() {
		err = errors.Join(st.s.Stop(), st.s.Close())
	})
	return err
}
