package audio

import (
	"errors"
	"fmt"
)

// ErrDeviceNotFound is returned when a device id no longer enumerates.
var ErrDeviceNotFound = errors.New("audio: device not found")

// EngineError reports that the underlying hardware stream could not be opened
// (busy, no permission, disconnected).
type EngineError struct {
	Device string
	Err    error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("audio: open input %q: %v", e.Device, e.Err)
}

func (e *EngineError) Unwrap() error { return e.Err }

// Device describes an input device offered by a [Backend].
type Device struct {
	// ID is the stable identifier passed to [Backend.Open].
	ID string

	// Name is a human-readable label.
	Name string

	// Default marks the backend's default input device.
	Default bool
}

// Format describes the sample rate and channel count of an input stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Stream is an open input stream. Close stops the callback and releases the
// device; it must be safe to call more than once.
type Stream interface {
	Close() error
}

// Backend is a host audio input system.
//
// Open starts delivering interleaved float32 samples to onData from a
// real-time callback. onData must never block; implementations call it from
// whatever goroutine or thread the host uses for audio delivery.
type Backend interface {
	// Devices enumerates the currently available input devices.
	Devices() ([]Device, error)

	// Open opens deviceID (empty selects the default device) and starts the
	// callback. frameSize is the requested number of frames per callback.
	Open(deviceID string, frameSize int, onData func(samples []float32, f Format)) (Stream, error)
}
