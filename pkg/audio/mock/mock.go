// Package mock provides an in-memory mock implementation of [audio.Backend]
// for use in unit tests.
//
// The mock is safe for concurrent use. It records every Open call and exposes
// [Backend.Emit] so tests can push synthetic audio through the callback the
// capture stage registered.
//
// Typical usage:
//
//	backend := &mock.Backend{DevicesResult: []audio.Device{{ID: "mic"}}}
//	capture := audio.NewCapture(backend)
//	_ = capture.Start(func(f audio.Frame) { ... })
//	backend.Emit(samples, audio.Format{SampleRate: 16000, Channels: 1})
package mock

import (
	"sync"

	"github.com/MrWong99/voxpipe/pkg/audio"
)

// OpenCall records the arguments of a single [Backend.Open] invocation.
type OpenCall struct {
	DeviceID  string
	FrameSize int
}

// Backend is a mock implementation of [audio.Backend].
type Backend struct {
	mu sync.Mutex

	// DevicesResult is returned by Devices.
	DevicesResult []audio.Device

	// DevicesErr is returned by Devices.
	DevicesErr error

	// OpenErr is returned by Open when non-nil.
	OpenErr error

	// OpenCalls records all Open invocations.
	OpenCalls []OpenCall

	// CloseCount records how many times any opened stream was closed.
	CloseCount int

	onData func([]float32, audio.Format)
}

var _ audio.Backend = (*Backend)(nil)

// Devices implements [audio.Backend].
func (b *Backend) Devices() ([]audio.Device, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.DevicesResult, b.DevicesErr
}

// Open implements [audio.Backend]. The callback is retained until the returned
// stream is closed.
func (b *Backend) Open(deviceID string, frameSize int, onData func([]float32, audio.Format)) (audio.Stream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.OpenCalls = append(b.OpenCalls, OpenCall{DeviceID: deviceID, FrameSize: frameSize})
	if b.OpenErr != nil {
		return nil, b.OpenErr
	}
	b.onData = onData
	return &stream{b: b}, nil
}

// Emit delivers samples to the currently open stream's callback. It reports
// false if no stream is open.
func (b *Backend) Emit(samples []float32, f audio.Format) bool {
	b.mu.Lock()
	cb := b.onData
	b.mu.Unlock()
	if cb == nil {
		return false
	}
	cb(samples, f)
	return true
}

// IsOpen reports whether a stream is currently open.
func (b *Backend) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.onData != nil
}

type stream struct {
	b    *Backend
	once sync.Once
}

func (s *stream) Close() error {
	s.once.Do(func() {
		s.b.mu.Lock()
		s.b.onData = nil
		s.b.CloseCount++
		s.b.mu.Unlock()
	})
	return nil
}
