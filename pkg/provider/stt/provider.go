// Package stt defines the provider interfaces for Speech-to-Text backends.
//
// Backends differ wildly in shape: an embedded inference engine, a platform
// streaming recognizer, synchronous multipart REST endpoints and asynchronous
// job APIs. They all reduce to one capability, [Provider.Transcribe], which
// maps a finished recording to text. Providers advertise what they need from
// the caller through [Capabilities].
//
// Recognizers that can listen while the user is still speaking additionally
// implement [LiveProvider]; they push partial results to a callback and hand
// out the final text when the recording stops. Such recognizers are usually
// built on a channel-based [StreamingProvider] session, which is the shape
// network streaming APIs naturally have.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"

	"github.com/MrWong99/voxpipe/pkg/audio"
)

// ErrNotSupported is returned by optional operations a provider does not
// implement.
var ErrNotSupported = errors.New("stt: operation not supported")

// Request is a single whole-recording transcription job.
type Request struct {
	// Audio is the recording as 16 kHz mono float32 samples.
	Audio audio.Buffer

	// File is the path of the same recording encoded as a 16-bit PCM mono
	// 16 kHz WAV file. It is set when the provider reports NeedsFile. The
	// caller owns the file and deletes it after Transcribe returns.
	File string

	// Language is a BCP-47 language hint. Empty lets the provider detect it.
	Language string

	// Keywords are vocabulary hints for providers that accept them.
	Keywords []KeywordBoost
}

// Capabilities tells the caller how to prepare a [Request].
type Capabilities struct {
	// NeedsFile is set by providers that upload a WAV file.
	NeedsFile bool

	// AnalyzeSilence is set by providers for which a whole-buffer silence
	// check should run before dispatch, sparing a round-trip or an inference
	// pass on silent recordings.
	AnalyzeSilence bool

	// Live is set by providers implementing [LiveProvider].
	Live bool
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe returns the text spoken in req. Remote failures are reported
	// with the error types of package voice: TransportError for network
	// failures, ServerError for structured error bodies and HTTPError for
	// bare non-2xx responses. Transcribe never retries on its own.
	Transcribe(ctx context.Context, req Request) (string, error)

	// Capabilities describes the provider.
	Capabilities() Capabilities
}

// LiveConfig configures a live recognition session.
type LiveConfig struct {
	// SampleRate of the samples passed to Feed.
	SampleRate int

	// Language is a BCP-47 language hint.
	Language string

	// Keywords are vocabulary hints.
	Keywords []KeywordBoost

	// OnPartial receives interim results. It is called from a provider
	// goroutine and must not block.
	OnPartial func(Transcript)
}

// LiveSession is an open live recognition session.
type LiveSession interface {
	// Feed delivers mono float32 samples while recording.
	Feed(samples []float32) error

	// Finish signals the end of audio and waits for the final text.
	Finish(ctx context.Context) (string, error)

	// Abort discards the session without waiting for results. It is safe to
	// call after Finish and more than once.
	Abort() error
}

// LiveProvider is a [Provider] that can recognize while audio is captured.
type LiveProvider interface {
	Provider

	// BeginLive opens a live session. The caller must call Finish or Abort.
	BeginLive(ctx context.Context, cfg LiveConfig) (LiveSession, error)
}

// StreamConfig describes the audio format and recognition hints for a new
// streaming session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz.
	SampleRate int

	// Channels is the number of audio channels. 1 = mono.
	Channels int

	// Language is the BCP-47 language tag for recognition. Empty lets the
	// provider auto-detect the language, if supported.
	Language string

	// Keywords is a list of vocabulary hints.
	Keywords []KeywordBoost
}

// SessionHandle represents an open streaming session. It is an interface so
// that test code can provide mock implementations without a live connection.
//
// Callers must call Close when the session is no longer needed. Failing to do
// so may leak goroutines and network connections inside the implementation.
// All methods must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of little-endian 16-bit PCM. Calling SendAudio
	// after Close returns an error.
	SendAudio(chunk []byte) error

	// Partials emits interim transcripts. The channel is closed when the
	// session ends.
	Partials() <-chan Transcript

	// Finals emits committed transcripts. The channel is closed when the
	// session ends, after every final has been delivered.
	Finals() <-chan Transcript

	// SetKeywords replaces the keyword list mid-session. Providers that do not
	// support it return ErrNotSupported.
	SetKeywords(keywords []KeywordBoost) error

	// Close flushes pending audio, asks the provider to finalize and releases
	// resources. Calling Close more than once is safe and returns nil.
	Close() error
}

// StreamingProvider opens channel-based streaming sessions.
type StreamingProvider interface {
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
