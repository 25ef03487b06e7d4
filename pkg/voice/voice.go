// Package voice defines the data model shared by every stage of the voxpipe
// pipeline: the caller-supplied context, the voice mode that shapes a session,
// the provider selection, and the terminal result handed to the consumer.
//
// These types form the lingua franca between capture, providers, correction,
// and the session orchestrator. Each stage package defines its own internal
// types; only cross-cutting data structures live here.
package voice

import (
	"strings"
	"time"
)

// Context is free-form information about where the dictated text will land.
// It is supplied by the caller when a session starts and is consumed only by
// the correction stage to build its prompt.
type Context struct {
	// AppName is the human-readable name of the focused application.
	AppName string `json:"app_name,omitempty"`

	// BundleID is a platform identifier for the focused application.
	BundleID string `json:"bundle_id,omitempty"`

	// DocumentType describes what is being edited (e.g. "email", "code").
	DocumentType string `json:"document_type,omitempty"`

	// RecentText is text immediately preceding the cursor, used as a style hint.
	RecentText string `json:"recent_text,omitempty"`

	// Vocabulary lists custom terms the correction stage should prefer.
	Vocabulary []string `json:"vocabulary,omitempty"`
}

// IsZero reports whether c carries no information at all.
func (c Context) IsZero() bool {
	return c.AppName == "" && c.BundleID == "" && c.DocumentType == "" &&
		strings.TrimSpace(c.RecentText) == "" && len(c.Vocabulary) == 0
}

// Mode shapes how a session post-processes its transcript.
type Mode struct {
	// Name identifies the mode (e.g. "dictation", "transcription").
	Name string `json:"name"`

	// SystemPrompt is the base instruction handed to the correction stage.
	SystemPrompt string `json:"system_prompt,omitempty"`

	// SkipLLM disables the correction stage entirely. Results produced in a
	// SkipLLM mode never carry RawText.
	SkipLLM bool `json:"skip_llm"`

	// Denoise enables the optional denoise stage for this mode.
	Denoise bool `json:"denoise"`

	// Language overrides the provider language hint for this mode.
	Language string `json:"language,omitempty"`
}

// ProviderConfig identifies the selected STT backend for one session. It is
// immutable for the lifetime of the session.
type ProviderConfig struct {
	Name     string
	Endpoint string
	APIKey   string
	Model    string
	Language string
}

// Metrics carries the stage timings of a completed session.
type Metrics struct {
	// STT is the time spent in the transcription provider.
	STT time.Duration

	// LLM is the time spent in correction. It is nil when correction did not run.
	LLM *time.Duration

	// Total is the wall time from stop to result.
	Total time.Duration
}

// Result is the terminal artifact of a completed session. It is immutable
// once constructed.
type Result struct {
	// SessionID identifies the session that produced the result.
	SessionID string

	// Text is the final text to hand to the consumer. It is empty when the
	// recording contained no speech.
	Text string

	// RawText is the uncorrected provider output. It is set only when the
	// correction stage ran.
	RawText string

	// Language is the language hint the provider was asked to use.
	Language string

	// Provider is the name of the STT backend that produced Text.
	Provider string

	// SpeechDetected reports whether the live VAD saw speech during recording.
	SpeechDetected bool

	Metrics Metrics
}

// Phase is a state of the session orchestrator.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseRecording
	PhaseStopping
	PhaseTranscribing
	PhaseCorrecting
	PhaseCompleted
	PhaseCancelled
	PhaseFailed
)

var phaseNames = [...]string{
	PhaseIdle:         "idle",
	PhaseRecording:    "recording",
	PhaseStopping:     "stopping",
	PhaseTranscribing: "transcribing",
	PhaseCorrecting:   "correcting",
	PhaseCompleted:    "completed",
	PhaseCancelled:    "cancelled",
	PhaseFailed:       "failed",
}

// String implements fmt.Stringer.
func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "unknown"
	}
	return phaseNames[p]
}

// Terminal reports whether p ends a session.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseCancelled || p == PhaseFailed
}
