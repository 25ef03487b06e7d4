package vad

// Decision is the result of processing one frame.
type Decision struct {
	// IsSpeech is the current hysteresis state of the session.
	IsSpeech bool

	// Event describes how this frame moved the session.
	Event EventType

	// RMS is the energy of the processed frame.
	RMS float64
}

// EventType enumerates the transitions a frame can cause.
type EventType int

const (
	// EventSilence indicates the session is and remains silent.
	EventSilence EventType = iota

	// EventSpeechStart indicates this frame confirmed speech onset.
	EventSpeechStart

	// EventSpeechContinue indicates ongoing speech.
	EventSpeechContinue

	// EventSpeechEnd indicates this frame confirmed the end of speech.
	EventSpeechEnd
)

// String returns the event name.
func (e EventType) String() string {
	switch e {
	case EventSilence:
		return "silence"
	case EventSpeechStart:
		return "speech_start"
	case EventSpeechContinue:
		return "speech_continue"
	case EventSpeechEnd:
		return "speech_end"
	default:
		return "unknown"
	}
}
