// Package vad defines the interfaces of the voice activity gate.
//
// A VAD engine wraps a frame-level speech detector and surfaces it as a
// stateful, per-recording session. The session applies hysteresis: it only
// flips between silent and speaking after sustained evidence, so short pauses
// inside continuous speech do not end a segment and short clicks do not start
// one.
//
// VAD is synchronous: Process returns immediately and performs arithmetic only,
// making it safe to drive from the frame-processing loop of a live recording.
//
// A second, stateless capability, [BufferAnalyzer], classifies an entire
// pre-recorded buffer in one shot. The session orchestrator uses it to skip
// transcription of silent recordings.
package vad

import "github.com/MrWong99/voxpipe/pkg/audio"

// Config holds the hysteresis parameters of a VAD session. Thresholds are
// RMS amplitudes on the [-1, 1] float scale.
type Config struct {
	// SpeechThreshold is the frame RMS above which a frame counts as speech.
	SpeechThreshold float64

	// SilenceThreshold is the frame RMS below which a frame counts as silence.
	// Frames between SilenceThreshold and SpeechThreshold are a dead zone that
	// leaves the session state untouched. Must be below SpeechThreshold.
	SilenceThreshold float64

	// MinSpeechFrames is the number of consecutive speech frames required to
	// enter the speaking state.
	MinSpeechFrames int

	// MinSilenceFrames is the number of consecutive silence frames required to
	// leave the speaking state.
	MinSilenceFrames int
}

// DefaultConfig returns the design constants of the gate: speech above 0.02,
// silence below 0.008, 3 frames to confirm onset and 10 to confirm silence.
// At ~730 samples per 16 kHz frame that is roughly 140 ms and 460 ms.
func DefaultConfig() Config {
	return Config{
		SpeechThreshold:  0.02,
		SilenceThreshold: 0.008,
		MinSpeechFrames:  3,
		MinSilenceFrames: 10,
	}
}

// SessionHandle is an active VAD session for a single recording. Each session
// keeps its own counters; Reset clears them without closing the session.
//
// A SessionHandle should not be shared between goroutines unless the
// implementation explicitly guarantees concurrent safety.
type SessionHandle interface {
	// Process analyses one frame of mono samples and returns the current
	// decision of the session, not just the energy of this frame.
	Process(frame []float32) Decision

	// Reset re-enters the silent state and zeroes all counters. It must be
	// called at the start of every recording.
	Reset()

	// Close releases the session. Calling Close more than once is safe.
	Close() error
}

// Engine is the factory for VAD sessions.
//
// Implementations must be safe for concurrent use.
type Engine interface {
	// NewSession creates a session in the silent state. It returns an error if
	// cfg is incoherent.
	NewSession(cfg Config) (SessionHandle, error)
}

// BufferAnalyzer classifies a whole recording as speech or silence.
type BufferAnalyzer interface {
	// AnalyzeBuffer reports whether buf contains speech. It is stateless.
	AnalyzeBuffer(buf audio.Buffer) bool
}
