// Package native adapts a platform streaming recognizer to the live provider
// interface of the pipeline.
//
// A streaming recognizer (a [stt.StreamingProvider] such as the Deepgram or
// Google Speech clients) exposes channels of partial and final transcripts.
// [Recognizer] turns that into what the session orchestrator expects: audio is
// fed while recording, every partial is pushed to a callback together with the
// text committed so far, and the final text is returned when recording stops.
package native

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/voxpipe/pkg/audio"
	"github.com/MrWong99/voxpipe/pkg/provider/stt"
	"github.com/MrWong99/voxpipe/pkg/voice"
)

var _ stt.LiveProvider = (*Recognizer)(nil)

// chunkSamples is the size of the chunks a whole recording is fed in by
// Transcribe: 100 ms at 16 kHz.
const chunkSamples = 1600

// Recognizer implements [stt.LiveProvider] over a [stt.StreamingProvider].
type Recognizer struct {
	stream       stt.StreamingProvider
	finalTimeout time.Duration
}

// Option configures a [Recognizer].
type Option func(*Recognizer)

// WithFinalTimeout bounds how long Finish waits for the recognizer to flush
// its last finals after the stream is closed. Default: 10s.
func WithFinalTimeout(d time.Duration) Option {
	return func(r *Recognizer) { r.finalTimeout = d }
}

// New creates a Recognizer over stream.
func New(stream stt.StreamingProvider, opts ...Option) *Recognizer {
	r := &Recognizer{stream: stream, finalTimeout: 10 * time.Second}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Capabilities implements [stt.Provider].
func (r *Recognizer) Capabilities() stt.Capabilities {
	return stt.Capabilities{Live: true}
}

// BeginLive implements [stt.LiveProvider].
func (r *Recognizer) BeginLive(ctx context.Context, cfg stt.LiveConfig) (stt.LiveSession, error) {
	rate := cfg.SampleRate
	if rate == 0 {
		rate = audio.DefaultSampleRate
	}
	h, err := r.stream.StartStream(ctx, stt.StreamConfig{
		SampleRate: rate,
		Channels:   1,
		Language:   cfg.Language,
		Keywords:   cfg.Keywords,
	})
	if err != nil {
		return nil, fmt.Errorf("native: start stream: %w", err)
	}
	s := &session{
		handle:       h,
		onPartial:    cfg.OnPartial,
		done:         make(chan struct{}),
		finalTimeout: r.finalTimeout,
	}
	go s.collect()
	return s, nil
}

// Transcribe implements [stt.Provider] by streaming the whole recording and
// waiting for the finals.
func (r *Recognizer) Transcribe(ctx context.Context, req stt.Request) (string, error) {
	if req.Audio.Len() == 0 {
		return "", voice.ErrEmptyAudio
	}
	ls, err := r.BeginLive(ctx, stt.LiveConfig{
		SampleRate: req.Audio.SampleRate,
		Language:   req.Language,
		Keywords:   req.Keywords,
	})
	if err != nil {
		return "", err
	}
	samples := req.Audio.Samples
	for start := 0; start < len(samples); start += chunkSamples {
		if err := ctx.Err(); err != nil {
			ls.Abort()
			return "", err
		}
		end := min(start+chunkSamples, len(samples))
		if err := ls.Feed(samples[start:end]); err != nil {
			ls.Abort()
			return "", err
		}
	}
	return ls.Finish(ctx)
}

// session is one live recognition.
type session struct {
	handle       stt.SessionHandle
	onPartial    func(stt.Transcript)
	finalTimeout time.Duration

	mu        sync.Mutex
	committed []string

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// collect drains both transcript channels until the provider closes them.
func (s *session) collect() {
	defer close(s.done)
	partials := s.handle.Partials()
	finals := s.handle.Finals()
	for partials != nil || finals != nil {
		select {
		case tr, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			if s.onPartial != nil {
				tr.Text = s.running(tr.Text)
				s.onPartial(tr)
			}
		case tr, ok := <-finals:
			if !ok {
				finals = nil
				continue
			}
			if text := strings.TrimSpace(tr.Text); text != "" {
				s.mu.Lock()
				s.committed = append(s.committed, text)
				s.mu.Unlock()
			}
		}
	}
}

// running prefixes an interim hypothesis with the text committed so far.
func (s *session) running(partial string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	parts := append(append([]string(nil), s.committed...), strings.TrimSpace(partial))
	return strings.TrimSpace(strings.Join(parts, " "))
}

func (s *session) Feed(samples []float32) error {
	return s.handle.SendAudio(audio.Float32ToBytes(samples))
}

func (s *session) close() error {
	s.closeOnce.Do(func() { s.closeErr = s.handle.Close() })
	return s.closeErr
}

// Finish closes the stream and waits for the remaining finals.
func (s *session) Finish(ctx context.Context) (string, error) {
	if err := s.close(); err != nil {
		return "", &voice.TransportError{Op: "close stream", Err: err}
	}

	timer := time.NewTimer(s.finalTimeout)
	defer timer.Stop()
	select {
	case <-s.done:
	case <-ctx.Done():
		return "", ctx.Err()
	case <-timer.C:
		return "", &voice.TransportError{Op: "await final", Err: context.DeadlineExceeded}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.Join(s.committed, " "), nil
}

// Abort closes the stream without waiting.
func (s *session) Abort() error {
	return s.close()
}
