// Package mock provides test doubles for the stt package interfaces.
//
// Use Provider for whole-recording transcription: it returns a canned text or
// error and records every Request. Set Block to hold Transcribe until the
// context is cancelled or Release is called, which lets tests cancel in-flight
// calls. Use LiveProvider for live sessions and StreamingProvider / Session for
// channel-based streaming sessions.
//
// Example:
//
//	p := &mock.Provider{Text: "hello world"}
//	text, _ := p.Transcribe(ctx, stt.Request{Audio: buf})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxpipe/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	Ctx context.Context
	Req stt.Request

	// FileExisted reports whether req.File could be read during the call.
	FileExisted bool
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Text is returned by Transcribe.
	Text string

	// Err, if non-nil, is returned by Transcribe.
	Err error

	// Caps is returned by Capabilities.
	Caps stt.Capabilities

	// Block, when true, makes Transcribe wait for ctx cancellation or Release.
	Block bool

	// Started, if non-nil, receives a value when a Transcribe call begins.
	Started chan struct{}

	// StatFile is consulted to fill TranscribeCall.FileExisted. Tests set it
	// to os.Stat based helpers; nil leaves FileExisted false.
	StatFile func(path string) bool

	// Calls records every call to Transcribe.
	Calls []TranscribeCall

	release chan struct{}
}

// Transcribe records the call and returns Text, Err.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (string, error) {
	p.mu.Lock()
	call := TranscribeCall{Ctx: ctx, Req: req}
	if p.StatFile != nil && req.File != "" {
		call.FileExisted = p.StatFile(req.File)
	}
	p.Calls = append(p.Calls, call)
	block := p.Block
	if block && p.release == nil {
		p.release = make(chan struct{})
	}
	release := p.release
	started := p.Started
	p.mu.Unlock()

	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	if block {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-release:
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Text, p.Err
}

// Release unblocks Transcribe calls waiting because of Block.
func (p *Provider) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.release == nil {
		p.release = make(chan struct{})
	}
	close(p.release)
}

// Capabilities returns Caps.
func (p *Provider) Capabilities() stt.Capabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Caps
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// LastCall returns the most recent call. It panics if there was none.
func (p *Provider) LastCall() TranscribeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Calls[len(p.Calls)-1]
}

var _ stt.Provider = (*Provider)(nil)

// LiveProvider is a mock implementation of stt.LiveProvider. Transcribe
// behaves like Provider; BeginLive returns Session (a new LiveSession when
// nil).
type LiveProvider struct {
	Provider

	// Session is returned by BeginLive.
	Session *LiveSession

	// BeginErr, if non-nil, is returned by BeginLive.
	BeginErr error

	// BeginCalls records the config of every BeginLive call.
	BeginCalls []stt.LiveConfig
}

// BeginLive records the call and returns Session, BeginErr.
func (p *LiveProvider) BeginLive(_ context.Context, cfg stt.LiveConfig) (stt.LiveSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.BeginCalls = append(p.BeginCalls, cfg)
	if p.BeginErr != nil {
		return nil, p.BeginErr
	}
	if p.Session == nil {
		p.Session = &LiveSession{}
	}
	p.Session.setConfig(cfg)
	return p.Session, nil
}

// Capabilities returns Caps with Live set.
func (p *LiveProvider) Capabilities() stt.Capabilities {
	c := p.Provider.Capabilities()
	c.Live = true
	return c
}

var _ stt.LiveProvider = (*LiveProvider)(nil)

// LiveSession is a mock implementation of stt.LiveSession.
type LiveSession struct {
	mu sync.Mutex

	// FinalText is returned by Finish.
	FinalText string

	// FinishErr, if non-nil, is returned by Finish.
	FinishErr error

	// FedSamples counts samples passed to Feed.
	FedSamples int

	// FeedCalls counts Feed invocations.
	FeedCalls int

	// Finished and Aborted record lifecycle calls.
	Finished bool
	Aborted  int

	cfg stt.LiveConfig
}

func (s *LiveSession) setConfig(cfg stt.LiveConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
}

// Feed records the samples.
func (s *LiveSession) Feed(samples []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FeedCalls++
	s.FedSamples += len(samples)
	return nil
}

// EmitPartial invokes the OnPartial callback of the last BeginLive config.
func (s *LiveSession) EmitPartial(text string) {
	s.mu.Lock()
	cb := s.cfg.OnPartial
	s.mu.Unlock()
	if cb != nil {
		cb(stt.Transcript{Text: text})
	}
}

// Finish returns FinalText, FinishErr.
func (s *LiveSession) Finish(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Finished = true
	return s.FinalText, s.FinishErr
}

// Abort records the call.
func (s *LiveSession) Abort() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Aborted++
	return nil
}

// Snapshot returns FeedCalls, Finished and Aborted. Thread-safe.
func (s *LiveSession) Snapshot() (feeds int, finished bool, aborted int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.FeedCalls, s.Finished, s.Aborted
}

var _ stt.LiveSession = (*LiveSession)(nil)

// StartStreamCall records a single invocation of StreamingProvider.StartStream.
type StartStreamCall struct {
	Ctx context.Context
	Cfg stt.StreamConfig
}

// StreamingProvider is a mock implementation of stt.StreamingProvider.
type StreamingProvider struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by StartStream. If nil,
	// StartStream returns a new default Session with buffered channels.
	Session stt.SessionHandle

	// StartStreamErr, if non-nil, is returned as the error from StartStream.
	StartStreamErr error

	// StartStreamCalls records every call to StartStream.
	StartStreamCalls []StartStreamCall
}

// StartStream records the call and returns Session, StartStreamErr.
func (p *StreamingProvider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = append(p.StartStreamCalls, StartStreamCall{Ctx: ctx, Cfg: cfg})
	if p.StartStreamErr != nil {
		return nil, p.StartStreamErr
	}
	if p.Session != nil {
		return p.Session, nil
	}
	return NewSession(), nil
}

var _ stt.StreamingProvider = (*StreamingProvider)(nil)

// Session is a mock implementation of stt.SessionHandle. Tests push
// transcripts into PartialsCh and FinalsCh. If CloseEmits is set, Close sends
// those finals and then closes both channels, emulating a provider that
// flushes on close.
type Session struct {
	mu sync.Mutex

	// PartialsCh is the channel returned by Partials.
	PartialsCh chan stt.Transcript

	// FinalsCh is the channel returned by Finals.
	FinalsCh chan stt.Transcript

	// CloseEmits lists finals delivered by Close before the channels close.
	CloseEmits []stt.Transcript

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// SentBytes counts the audio bytes received by SendAudio.
	SentBytes int

	// SendAudioCalls counts SendAudio invocations.
	SendAudioCalls int

	// Keywords records the last SetKeywords argument.
	Keywords []stt.KeywordBoost

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	closed bool
}

// NewSession returns a Session with buffered channels.
func NewSession() *Session {
	return &Session{
		PartialsCh: make(chan stt.Transcript, 16),
		FinalsCh:   make(chan stt.Transcript, 16),
	}
}

// SendAudio records the call and returns SendAudioErr.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SendAudioCalls++
	s.SentBytes += len(chunk)
	return s.SendAudioErr
}

// Partials returns PartialsCh.
func (s *Session) Partials() <-chan stt.Transcript {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.PartialsCh
}

// Finals returns FinalsCh.
func (s *Session) Finals() <-chan stt.Transcript {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.FinalsCh
}

// SetKeywords records the keywords.
func (s *Session) SetKeywords(keywords []stt.KeywordBoost) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Keywords = append([]stt.KeywordBoost(nil), keywords...)
	return nil
}

// Close emits CloseEmits, closes both channels on the first call and returns
// CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	if s.closed {
		return nil
	}
	s.closed = true
	for _, tr := range s.CloseEmits {
		s.FinalsCh <- tr
	}
	close(s.PartialsCh)
	close(s.FinalsCh)
	return s.CloseErr
}

// Counts returns SendAudioCalls and CloseCallCount. Thread-safe.
func (s *Session) Counts() (sends, closes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.SendAudioCalls, s.CloseCallCount
}

var _ stt.SessionHandle = (*Session)(nil)
