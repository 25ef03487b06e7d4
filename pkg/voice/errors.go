package voice

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors of the pipeline. ErrEmptyAudio and ErrNoSpeech are not true
// failures: the orchestrator turns them into a successful empty result.
var (
	ErrPermissionDenied = errors.New("voice: microphone permission denied")
	ErrAlreadyActive    = errors.New("voice: a session is already active")
	ErrCancelled        = errors.New("voice: session cancelled")
	ErrEmptyAudio       = errors.New("voice: empty audio")
	ErrNoSpeech         = errors.New("voice: no speech detected")
)

// DeviceError reports a capture open or device switch failure.
type DeviceError struct {
	Op  string
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("voice: device %s: %v", e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// ModelError reports a missing or uninitializable local model, either the
// speech model of the local provider or the denoiser weights.
type ModelError struct {
	Model string
	Err   error
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("voice: model %q: %v", e.Model, e.Err)
}

func (e *ModelError) Unwrap() error { return e.Err }

// TransportError reports a network-layer failure (timeout, DNS, connection
// reset). It is retryable by the user but is never retried automatically.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("voice: transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ServerError reports a structured error returned by a remote API. Message is
// surfaced to the user verbatim.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return "voice: server error: " + e.Message
}

// HTTPError reports a non-2xx response that carried no usable body.
type HTTPError struct {
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("voice: http %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// LLMError reports a failed correction pass.
type LLMError struct {
	Reason string
	Err    error
}

func (e *LLMError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("voice: llm failed: %s: %v", e.Reason, e.Err)
	}
	return "voice: llm failed: " + e.Reason
}

func (e *LLMError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a transport-level failure that a user may
// reasonably retry.
func IsRetryable(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsNoSpeech reports whether err is a short-circuit outcome rather than a
// failure.
func IsNoSpeech(err error) bool {
	return errors.Is(err, ErrEmptyAudio) || errors.Is(err, ErrNoSpeech)
}

// ResponseError maps a non-2xx HTTP response to the error taxonomy: a
// ServerError when message is non-empty, otherwise an HTTPError.
func ResponseError(statusCode int, message string) error {
	if message != "" {
		return &ServerError{Message: message}
	}
	return &HTTPError{StatusCode: statusCode}
}
