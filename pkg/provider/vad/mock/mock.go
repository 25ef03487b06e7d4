// Package mock provides test doubles for the vad package interfaces.
//
// Use Engine to verify that sessions are created with the expected Config.
// Use Session to script decisions and inspect the frames that were submitted
// for processing. Use Analyzer to control whole-buffer classification.
//
// Example:
//
//	sess := &mock.Session{Decision: vad.Decision{IsSpeech: true}}
//	eng := &mock.Engine{Session: sess}
//	handle, _ := eng.NewSession(vad.DefaultConfig())
package mock

import (
	"sync"

	"github.com/MrWong99/voxpipe/pkg/audio"
	"github.com/MrWong99/voxpipe/pkg/provider/vad"
)

// Engine is a mock implementation of vad.Engine.
type Engine struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by NewSession. If nil, NewSession
	// returns a new default Session.
	Session vad.SessionHandle

	// NewSessionErr, if non-nil, is returned as the error from NewSession.
	NewSessionErr error

	// NewSessionCalls records the Config of every call to NewSession.
	NewSessionCalls []vad.Config
}

// NewSession records the call and returns Session, NewSessionErr.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewSessionCalls = append(e.NewSessionCalls, cfg)
	if e.NewSessionErr != nil {
		return nil, e.NewSessionErr
	}
	if e.Session != nil {
		return e.Session, nil
	}
	return &Session{}, nil
}

var _ vad.Engine = (*Engine)(nil)

// Session is a mock implementation of vad.SessionHandle.
type Session struct {
	mu sync.Mutex

	// Decision is returned by every Process call.
	Decision vad.Decision

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// Frames records a copy of every frame passed to Process.
	Frames [][]float32

	// ResetCallCount is the number of times Reset was called.
	ResetCallCount int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// Process records the frame and returns Decision.
func (s *Session) Process(frame []float32) vad.Decision {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]float32, len(frame))
	copy(cp, frame)
	s.Frames = append(s.Frames, cp)
	return s.Decision
}

// Reset increments ResetCallCount.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ResetCallCount++
}

// Close records the call and returns CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return s.CloseErr
}

// FrameCount returns the number of processed frames. Thread-safe.
func (s *Session) FrameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Frames)
}

// Resets returns ResetCallCount. Thread-safe.
func (s *Session) Resets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ResetCallCount
}

var _ vad.SessionHandle = (*Session)(nil)

// Analyzer is a mock implementation of vad.BufferAnalyzer.
type Analyzer struct {
	mu sync.Mutex

	// HasSpeech is returned by every AnalyzeBuffer call.
	HasSpeech bool

	// Calls counts AnalyzeBuffer invocations.
	Calls int
}

// AnalyzeBuffer records the call and returns HasSpeech.
func (a *Analyzer) AnalyzeBuffer(audio.Buffer) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Calls++
	return a.HasSpeech
}

var _ vad.BufferAnalyzer = (*Analyzer)(nil)
