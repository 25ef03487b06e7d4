package session

import (
	"context"

	"github.com/MrWong99/voxpipe/internal/history"
	"github.com/MrWong99/voxpipe/pkg/audio"
	"github.com/MrWong99/voxpipe/pkg/provider/stt"
	"github.com/MrWong99/voxpipe/pkg/voice"
)

// Capture is the audio source of a session. [*audio.Capture] satisfies it.
type Capture interface {
	// Start begins delivering frames to onFrame from the audio callback.
	Start(onFrame func(audio.Frame)) error

	// Stop closes the input stream. It must be idempotent.
	Stop() error

	// Buffer returns the audio accumulated since Start.
	Buffer() audio.Buffer

	// Discard drops the accumulated audio.
	Discard()
}

// Denoiser cleans a whole recording. [*denoise.Service] satisfies it.
type Denoiser interface {
	Denoise(buf audio.Buffer) (audio.Buffer, error)
}

// Corrector post-processes a transcript. [*correction.Service] satisfies it.
type Corrector interface {
	Correct(ctx context.Context, text string, mode voice.Mode, vctx voice.Context) (string, error)
}

// Resolver maps a provider selection to a ready provider.
type Resolver interface {
	Resolve(cfg voice.ProviderConfig) (stt.Provider, error)
}

// ResolverFunc adapts a function to [Resolver].
type ResolverFunc func(cfg voice.ProviderConfig) (stt.Provider, error)

// Resolve calls f.
func (f ResolverFunc) Resolve(cfg voice.ProviderConfig) (stt.Provider, error) { return f(cfg) }

// PermissionProvider guards access to the microphone.
type PermissionProvider interface {
	HasMicrophonePermission() bool
	RequestMicrophonePermission(ctx context.Context) bool
}

// AlwaysGranted is a PermissionProvider for hosts without a consent model.
type AlwaysGranted struct{}

func (AlwaysGranted) HasMicrophonePermission() bool                    { return true }
func (AlwaysGranted) RequestMicrophonePermission(context.Context) bool { return true }

// ResultConsumer receives the result of every completed session.
type ResultConsumer interface {
	Deliver(ctx context.Context, res voice.Result) error
}

// PartialConsumer receives live partial transcripts.
type PartialConsumer interface {
	Partial(sessionID, text string) error
}

// HistorySink accepts records without blocking. [*history.Async] satisfies it.
type HistorySink interface {
	Submit(r history.Record) bool
}

// PhaseChange is delivered to phase observers.
type PhaseChange struct {
	SessionID string
	Phase     voice.Phase
}
