// Package audio defines the sample containers, level math, format helpers and
// the capture abstraction of the voxpipe pipeline.
//
// The primary abstractions are:
//
//   - [Buffer]: an owned run of mono float32 PCM samples at a known rate.
//   - [Backend]: a host audio input system (microphone, voice channel) that
//     enumerates devices and opens callback-driven input streams.
//   - [Capture]: the pipeline's capture stage. It owns device selection,
//     computes per-frame levels, converts every frame to 16 kHz mono and
//     accumulates the recording.
//
// Backend implementations live in adapter packages (audio/portaudio,
// audio/discord). This package lives under pkg/ because external code is
// expected to implement [Backend].
package audio

import (
	"math"
	"time"
)

// DefaultSampleRate is the rate every stage downstream of capture expects.
const DefaultSampleRate = 16000

// Buffer is an ordered run of mono float32 PCM samples. A Buffer is owned by
// exactly one pipeline stage at a time and is never mutated concurrently;
// stages that transform audio return a new Buffer.
type Buffer struct {
	Samples    []float32
	SampleRate int
}

// Duration returns the playback length of b.
func (b Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(b.Samples)) * time.Second / time.Duration(b.SampleRate)
}

// Len returns the number of samples in b.
func (b Buffer) Len() int { return len(b.Samples) }

// Clone returns a deep copy of b.
func (b Buffer) Clone() Buffer {
	out := make([]float32, len(b.Samples))
	copy(out, b.Samples)
	return Buffer{Samples: out, SampleRate: b.SampleRate}
}

// Level is the loudness of a single frame.
type Level struct {
	RMS  float64
	Peak float64
}

// ComputeLevel returns the RMS (sqrt of mean square) and the peak absolute
// value of samples in a single pass. An empty slice has a zero level.
func ComputeLevel(samples []float32) Level {
	if len(samples) == 0 {
		return Level{}
	}
	var sum, peak float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
		if a := math.Abs(v); a > peak {
			peak = a
		}
	}
	return Level{RMS: math.Sqrt(sum / float64(len(samples))), Peak: peak}
}

// RMS returns the root mean square of samples.
func RMS(samples []float32) float64 {
	return ComputeLevel(samples).RMS
}

// Frame is one capture callback worth of audio after conversion to the
// capture's target format.
type Frame struct {
	Samples    []float32
	SampleRate int

	// Level is computed over the frame before resampling.
	Level Level

	// Timestamp is the offset of the frame from the start of capture.
	Timestamp time.Duration
}
