package resilience

import (
	"context"

	"github.com/MrWong99/voxpipe/pkg/provider/llm"
	"github.com/MrWong99/voxpipe/pkg/provider/stt"
)

// STT guards an [stt.Provider] with a circuit breaker.
type STT struct {
	inner   stt.Provider
	breaker *CircuitBreaker
}

var _ stt.Provider = (*STT)(nil)

// LiveSTT is an [STT] whose inner provider recognizes live. Opening a live
// session goes through the breaker; the session itself does not.
type LiveSTT struct {
	STT
	live stt.LiveProvider
}

var _ stt.LiveProvider = (*LiveSTT)(nil)

// WrapSTT returns p guarded by a breaker configured from cfg. Live providers
// stay live: the result implements [stt.LiveProvider] when p does.
func WrapSTT(p stt.Provider, cfg CircuitBreakerConfig) stt.Provider {
	base := STT{inner: p, breaker: NewCircuitBreaker(cfg)}
	if lp, ok := p.(stt.LiveProvider); ok {
		return &LiveSTT{STT: base, live: lp}
	}
	return &base
}

// Transcribe forwards to the inner provider unless the breaker is open.
func (s *STT) Transcribe(ctx context.Context, req stt.Request) (string, error) {
	var text string
	err := s.breaker.Execute(func() error {
		var err error
		text, err = s.inner.Transcribe(ctx, req)
		return err
	})
	return text, err
}

// Capabilities returns the capabilities of the inner provider.
func (s *STT) Capabilities() stt.Capabilities { return s.inner.Capabilities() }

// Breaker returns the breaker guarding the provider.
func (s *STT) Breaker() *CircuitBreaker { return s.breaker }

// Unwrap returns the guarded provider.
func (s *STT) Unwrap() stt.Provider { return s.inner }

// BeginLive opens a live session unless the breaker is open.
func (s *LiveSTT) BeginLive(ctx context.Context, cfg stt.LiveConfig) (stt.LiveSession, error) {
	var sess stt.LiveSession
	err := s.breaker.Execute(func() error {
		var err error
		sess, err = s.live.BeginLive(ctx, cfg)
		return err
	})
	return sess, err
}

// LLM guards an [llm.Provider] with a circuit breaker.
type LLM struct {
	inner   llm.Provider
	breaker *CircuitBreaker
}

var _ llm.Provider = (*LLM)(nil)

// WrapLLM returns p guarded by a breaker configured from cfg.
func WrapLLM(p llm.Provider, cfg CircuitBreakerConfig) *LLM {
	return &LLM{inner: p, breaker: NewCircuitBreaker(cfg)}
}

// Complete forwards to the inner provider unless the breaker is open.
func (l *LLM) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	var resp *llm.CompletionResponse
	err := l.breaker.Execute(func() error {
		var err error
		resp, err = l.inner.Complete(ctx, req)
		return err
	})
	return resp, err
}

// Capabilities returns the capabilities of the inner provider. It does not
// consult the breaker.
func (l *LLM) Capabilities() llm.ModelCapabilities { return l.inner.Capabilities() }

// Breaker returns the breaker guarding the provider.
func (l *LLM) Breaker() *CircuitBreaker { return l.breaker }
