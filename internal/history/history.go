// Package history records completed sessions for later review and analytics.
//
// A [Store] persists [Record] values. The session orchestrator never writes
// to a Store directly: it hands records to an [Async] dispatcher, which
// writes them on a worker goroutine so persistence stays off the critical
// path. A full queue drops the record with a warning.
package history

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/voxpipe/pkg/voice"
)

// DefaultQueueSize is the buffer of an [Async] dispatcher.
const DefaultQueueSize = 64

// ErrClosed is returned by [Async.Close] when called twice.
var ErrClosed = errors.New("history: dispatcher closed")

// Record is one completed session.
type Record struct {
	ID        int64
	SessionID string
	Provider  string
	Mode      string
	Language  string

	// OriginalText is the provider output.
	OriginalText string

	// CorrectedText is the correction output; empty when correction did not run.
	CorrectedText string

	STTDuration time.Duration

	// LLMDuration is nil when correction did not run.
	LLMDuration *time.Duration

	TotalDuration time.Duration
	CreatedAt     time.Time
}

// FromResult builds a Record from a session result.
func FromResult(res voice.Result, mode string, now time.Time) Record {
	r := Record{
		SessionID:     res.SessionID,
		Provider:      res.Provider,
		Mode:          mode,
		Language:      res.Language,
		OriginalText:  res.Text,
		STTDuration:   res.Metrics.STT,
		TotalDuration: res.Metrics.Total,
		CreatedAt:     now.UTC(),
	}
	if res.RawText != "" {
		r.OriginalText = res.RawText
		r.CorrectedText = res.Text
	}
	if res.Metrics.LLM != nil {
		d := *res.Metrics.LLM
		r.LLMDuration = &d
	}
	return r
}

// Store persists records. Implementations must be safe for concurrent use.
type Store interface {
	// Save appends r. ID and a zero CreatedAt are filled by the store.
	Save(ctx context.Context, r Record) error

	// Recent returns up to limit records, newest first.
	Recent(ctx context.Context, limit int) ([]Record, error)

	// Close releases the store.
	Close() error
}

// Async writes records to a Store on a single worker goroutine.
type Async struct {
	store   Store
	timeout time.Duration
	queue   chan Record
	done    chan struct{}

	mu     sync.Mutex
	closed bool
}

// NewAsync starts a dispatcher over store with a queue of size records.
// Non-positive sizes use [DefaultQueueSize].
func NewAsync(store Store, size int) *Async {
	if size <= 0 {
		size = DefaultQueueSize
	}
	a := &Async{
		store:   store,
		timeout: 5 * time.Second,
		queue:   make(chan Record, size),
		done:    make(chan struct{}),
	}
	go a.run()
	return a
}

// Submit enqueues r without blocking. It reports false when the record was
// dropped because the queue is full or the dispatcher is closed.
func (a *Async) Submit(r Record) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return false
	}
	select {
	case a.queue <- r:
		return true
	default:
		slog.Warn("history: queue full, dropping record", "session_id", r.SessionID)
		return false
	}
}

// Recent reads through to the underlying store.
func (a *Async) Recent(ctx context.Context, limit int) ([]Record, error) {
	return a.store.Recent(ctx, limit)
}

// Close stops accepting records and waits for queued ones to be written or
// for ctx to end. It does not close the underlying store.
func (a *Async) Close(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrClosed
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Async) run() {
	defer close(a.done)
	for r := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		if err := a.store.Save(ctx, r); err != nil {
			slog.Warn("history: save record", "session_id", r.SessionID, "err", err)
		}
		cancel()
	}
}
