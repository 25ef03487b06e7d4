package voice_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/MrWong99/voxpipe/pkg/voice"
)

func TestResponseError(t *testing.T) {
	t.Parallel()

	err := voice.ResponseError(401, "invalid api key")
	var se *voice.ServerError
	if !errors.As(err, &se) {
		t.Fatalf("expected *ServerError, got %T", err)
	}
	if se.Message != "invalid api key" {
		t.Errorf("Message = %q", se.Message)
	}

	err = voice.ResponseError(502, "")
	var he *voice.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected *HTTPError, got %T", err)
	}
	if he.StatusCode != 502 {
		t.Errorf("StatusCode = %d, want 502", he.StatusCode)
	}
}

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	wrapped := fmt.Errorf("stt: %w", &voice.TransportError{Op: "post", Err: context.DeadlineExceeded})
	if !voice.IsRetryable(wrapped) {
		t.Error("wrapped TransportError should be retryable")
	}
	if voice.IsRetryable(&voice.ServerError{Message: "x"}) {
		t.Error("ServerError should not be retryable")
	}
	if !errors.Is(wrapped, context.DeadlineExceeded) {
		t.Error("TransportError should unwrap to its cause")
	}
}

func TestIsNoSpeech(t *testing.T) {
	t.Parallel()

	if !voice.IsNoSpeech(fmt.Errorf("local: %w", voice.ErrEmptyAudio)) {
		t.Error("ErrEmptyAudio should count as no speech")
	}
	if !voice.IsNoSpeech(voice.ErrNoSpeech) {
		t.Error("ErrNoSpeech should count as no speech")
	}
	if voice.IsNoSpeech(voice.ErrCancelled) {
		t.Error("ErrCancelled is not a no-speech outcome")
	}
}

func TestPhase_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		phase    voice.Phase
		want     string
		terminal bool
	}{
		{voice.PhaseIdle, "idle", false},
		{voice.PhaseRecording, "recording", false},
		{voice.PhaseCorrecting, "correcting", false},
		{voice.PhaseCompleted, "completed", true},
		{voice.PhaseCancelled, "cancelled", true},
		{voice.PhaseFailed, "failed", true},
		{voice.Phase(99), "unknown", false},
	}
	for _, tt := range tests {
		if got := tt.phase.String(); got != tt.want {
			t.Errorf("Phase(%d).String() = %q, want %q", int(tt.phase), got, tt.want)
		}
		if got := tt.phase.Terminal(); got != tt.terminal {
			t.Errorf("Phase(%d).Terminal() = %v, want %v", int(tt.phase), got, tt.terminal)
		}
	}
}
