// Package resilience guards cloud speech and correction backends with
// circuit breakers.
//
// A [CircuitBreaker] counts consecutive outages of one backend. Once
// MaxFailures have piled up it opens and every call fails at once with
// [ErrCircuitOpen], so a dictation against a dead endpoint ends in
// milliseconds instead of after another request timeout. After ResetTimeout
// a single trial call is let through: success closes the breaker, another
// outage opens it for a further ResetTimeout.
//
// Breakers never retry and never substitute another provider. Every error
// reaches the caller unchanged. [WrapSTT] and [WrapLLM] put a breaker in
// front of a provider.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/voxpipe/pkg/voice"
)

// ErrCircuitOpen is returned instead of calling a backend whose breaker is
// open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen].
	StateOpen

	// StateHalfOpen admits one trial call to decide whether the backend
	// recovered.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures a [CircuitBreaker]. Zero fields take their
// defaults.
type CircuitBreakerConfig struct {
	// Name labels logs and health checks, e.g. "stt:deepgram".
	Name string

	// MaxFailures is the number of consecutive outages that open the breaker.
	// Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open. Default: 30s.
	ResetTimeout time.Duration

	// Trips reports whether an error counts as an outage. Default: [IsOutage].
	Trips func(error) bool
}

// IsOutage reports whether err means the backend itself is failing: a
// transport error, a timeout or a 5xx answer. A structured [voice.ServerError],
// a 4xx answer or "no speech" came from a reachable backend and does not
// count, and neither does cancellation.
func IsOutage(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || voice.IsNoSpeech(err) {
		return false
	}
	var se *voice.ServerError
	if errors.As(err, &se) {
		return false
	}
	var he *voice.HTTPError
	if errors.As(err, &he) {
		return he.StatusCode >= 500
	}
	return true
}

// CircuitBreaker is safe for concurrent use.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	trips        func(error) bool
	now          func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	trial    bool // a half-open trial call is in flight
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.Trips == nil {
		cfg.Trips = IsOutage
	}
	return &CircuitBreaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		trips:        cfg.Trips,
		now:          time.Now,
	}
}

// Execute calls fn unless the breaker rejects the call, and returns fn's
// error unchanged. A cancelled call leaves the accounting untouched.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	trial, err := cb.admit()
	if err != nil {
		return err
	}

	err = fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if trial {
		cb.trial = false
	}
	switch {
	case errors.Is(err, context.Canceled):
	case cb.trips(err):
		cb.failures++
		if trial || cb.failures >= cb.maxFailures {
			cb.openedAt = cb.now()
			cb.transition(StateOpen, err)
		}
	default:
		cb.failures = 0
		if trial {
			cb.transition(StateClosed, nil)
		}
	}
	return err
}

// admit decides whether a call may go ahead and whether it is the trial.
func (cb *CircuitBreaker) admit() (trial bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.resetTimeout {
		cb.transition(StateHalfOpen, nil)
	}
	switch cb.state {
	case StateOpen:
		return false, ErrCircuitOpen
	case StateHalfOpen:
		if cb.trial {
			return false, ErrCircuitOpen
		}
		cb.trial = true
		return true, nil
	}
	return false, nil
}

// transition moves to state and logs the change. cb.mu must be held.
func (cb *CircuitBreaker) transition(state State, cause error) {
	if cb.state == state {
		return
	}
	from := cb.state
	cb.state = state
	if state == StateClosed {
		cb.failures = 0
	}

	level := slog.LevelInfo
	if state == StateOpen {
		level = slog.LevelWarn
	}
	attrs := []any{"name", cb.name, "from", from.String(), "to", state.String()}
	if cause != nil {
		attrs = append(attrs, "failures", cb.failures, "err", cause)
	}
	slog.Log(context.Background(), level, "circuit breaker state changed", attrs...)
}

// Name returns the breaker's label.
func (cb *CircuitBreaker) Name() string { return cb.name }

// State returns the current state. An open breaker whose reset timeout has
// passed reports [StateHalfOpen]; the trial call happens on the next
// [CircuitBreaker.Execute].
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset closes the breaker and forgets past failures.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.trial = false
	cb.transition(StateClosed, nil)
	cb.failures = 0
}
