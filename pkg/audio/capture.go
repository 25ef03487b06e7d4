package audio

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCaptureActive is returned by [Capture.Start] while a stream is open.
var ErrCaptureActive = errors.New("audio: capture already started")

// DefaultFrameSize is the requested number of frames per callback.
const DefaultFrameSize = 730

// Capture owns the microphone input for the pipeline. It delivers every frame
// converted to the target rate in mono, tagged with its level, and
// accumulates the converted samples for whole-buffer consumers.
//
// Capture is safe for concurrent use. Frame delivery happens on the backend's
// callback goroutine and never blocks on I/O.
type Capture struct {
	backend    Backend
	targetRate int
	frameSize  int

	mu      sync.Mutex
	device  string
	stream  Stream
	running bool
	onFrame func(Frame)
	rs      *Resampler
	samples []float32
	elapsed time.Duration
}

// CaptureOption configures a [Capture].
type CaptureOption func(*Capture)

// WithTargetRate sets the rate frames are converted to. Default: 16000.
func WithTargetRate(rate int) CaptureOption {
	return func(c *Capture) { c.targetRate = rate }
}

// WithFrameSize sets the requested callback size in frames. Default: 730.
func WithFrameSize(n int) CaptureOption {
	return func(c *Capture) { c.frameSize = n }
}

// WithDevice preselects an input device without enumerating.
func WithDevice(id string) CaptureOption {
	return func(c *Capture) { c.device = id }
}

// NewCapture creates a Capture over backend.
func NewCapture(backend Backend, opts ...CaptureOption) *Capture {
	c := &Capture{
		backend:    backend,
		targetRate: DefaultSampleRate,
		frameSize:  DefaultFrameSize,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Devices enumerates the backend's input devices.
func (c *Capture) Devices() ([]Device, error) {
	return c.backend.Devices()
}

// Device returns the currently selected device id.
func (c *Capture) Device() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.device
}

// SelectDevice makes id the input used by the next [Capture.Start]. It fails
// with [ErrDeviceNotFound] if id does not enumerate. An empty id selects the
// backend default.
func (c *Capture) SelectDevice(id string) error {
	if id != "" {
		devices, err := c.backend.Devices()
		if err != nil {
			return err
		}
		found := false
		for _, d := range devices {
			if d.ID == id {
				found = true
				break
			}
		}
		if !found {
			return ErrDeviceNotFound
		}
	}
	c.mu.Lock()
	c.device = id
	c.mu.Unlock()
	return nil
}

// Start clears the accumulated recording, opens the selected device and
// begins invoking onFrame for every converted frame. onFrame runs on the
// audio callback and must not block.
func (c *Capture) Start(onFrame func(Frame)) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrCaptureActive
	}
	device := c.device
	c.samples = make([]float32, 0, c.targetRate*30)
	c.elapsed = 0
	c.rs = nil
	c.onFrame = onFrame
	c.running = true
	c.mu.Unlock()

	stream, err := c.backend.Open(device, c.frameSize, c.handle)
	if err != nil {
		c.mu.Lock()
		c.running = false
		c.onFrame = nil
		c.mu.Unlock()
		return &EngineError{Device: device, Err: err}
	}

	c.mu.Lock()
	c.stream = stream
	c.mu.Unlock()
	return nil
}

// handle is the backend callback. Resampling state lives for one stream and
// restarts when the device rate changes.
func (c *Capture) handle(in []float32, f Format) {
	mono := Downmix(in, f.Channels)
	level := ComputeLevel(mono)

	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	if c.rs == nil || c.rs.SourceRate() != f.SampleRate {
		c.rs = NewResampler(f.SampleRate, c.targetRate)
	}
	converted := c.rs.Process(mono)
	c.samples = append(c.samples, converted...)
	ts := c.elapsed
	if f.SampleRate > 0 {
		c.elapsed += time.Duration(len(mono)) * time.Second / time.Duration(f.SampleRate)
	}
	cb := c.onFrame
	c.mu.Unlock()

	if cb != nil {
		cb(Frame{Samples: converted, SampleRate: c.targetRate, Level: level, Timestamp: ts})
	}
}

// Stop closes the input stream. It is idempotent and safe to call after a
// failed Start. The accumulated recording stays available via [Capture.Buffer].
func (c *Capture) Stop() error {
	c.mu.Lock()
	stream := c.stream
	c.stream = nil
	c.running = false
	c.onFrame = nil
	c.mu.Unlock()

	if stream == nil {
		return nil
	}
	if err := stream.Close(); err != nil {
		slog.Warn("audio: close input stream", "err", err)
		return err
	}
	return nil
}

// Buffer returns a copy of the audio accumulated since the last Start.
func (c *Capture) Buffer() Buffer {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]float32, len(c.samples))
	copy(out, c.samples)
	return Buffer{Samples: out, SampleRate: c.targetRate}
}

// Discard drops the accumulated recording.
func (c *Capture) Discard() {
	c.mu.Lock()
	c.samples = nil
	c.mu.Unlock()
}
