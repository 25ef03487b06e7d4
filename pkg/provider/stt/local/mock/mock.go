// Package mock provides a stub inference engine for the local provider.
package mock

import (
	"sync"
	"time"

	"github.com/MrWong99/voxpipe/pkg/provider/stt/local"
)

// Engine is a mock implementation of local.Engine. Every successful Load
// returns a fresh *Runtime echoing Text.
type Engine struct {
	mu sync.Mutex

	// Text is returned by every runtime the engine creates.
	Text string

	// LoadErr, if non-nil, is returned by Load.
	LoadErr error

	// LoadDelay is slept inside Load to widen race windows in tests.
	LoadDelay time.Duration

	// Loads records the models passed to Load.
	Loads []local.Model

	// Runtimes records every runtime returned by Load.
	Runtimes []*Runtime
}

// Load records the call and returns a new Runtime.
func (e *Engine) Load(m local.Model) (local.Runtime, error) {
	if e.LoadDelay > 0 {
		time.Sleep(e.LoadDelay)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Loads = append(e.Loads, m)
	if e.LoadErr != nil {
		return nil, e.LoadErr
	}
	rt := &Runtime{Text: e.Text}
	e.Runtimes = append(e.Runtimes, rt)
	return rt, nil
}

// LoadCount returns the number of Load calls. Thread-safe.
func (e *Engine) LoadCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.Loads)
}

// Runtime returns the i-th runtime returned by Load, or nil. Thread-safe.
func (e *Engine) Runtime(i int) *Runtime {
	e.mu.Lock()
	defer e.mu.Unlock()
	if i < 0 || i >= len(e.Runtimes) {
		return nil
	}
	return e.Runtimes[i]
}

var _ local.Engine = (*Engine)(nil)

// TranscribeCall records a single Runtime.Transcribe invocation.
type TranscribeCall struct {
	Samples    int
	SampleRate int
	Language   string
}

// Runtime is a mock implementation of local.Runtime.
type Runtime struct {
	mu sync.Mutex

	Text string
	Err  error

	Calls  []TranscribeCall
	Closed bool
}

// Transcribe records the call and returns Text, Err.
func (r *Runtime) Transcribe(samples []float32, sampleRate int, language string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Calls = append(r.Calls, TranscribeCall{Samples: len(samples), SampleRate: sampleRate, Language: language})
	return r.Text, r.Err
}

// Close marks the runtime closed.
func (r *Runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Closed = true
	return nil
}

// CallLog returns a copy of the recorded Transcribe calls. Thread-safe.
func (r *Runtime) CallLog() []TranscribeCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]TranscribeCall(nil), r.Calls...)
}

// IsClosed reports whether Close was called. Thread-safe.
func (r *Runtime) IsClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Closed
}

var _ local.Runtime = (*Runtime)(nil)
