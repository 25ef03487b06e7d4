// Package session implements the session orchestrator: the state machine that
// drives one recording from capture through transcription and correction to a
// result.
//
// At most one session exists at a time. A session moves through
//
//	Idle → Recording → Stopping → Transcribing → (Correcting) → Completed
//
// with Cancelled reachable while recording or processing and Failed reachable
// from any non-terminal phase. Capture frames are handed from the audio
// callback to a bounded queue drained by a per-session goroutine, which feeds
// the voice activity gate and, for live providers, the recognizer. Temporary
// WAV files written for file-based providers are deleted on every exit path.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/voxpipe/internal/history"
	"github.com/MrWong99/voxpipe/internal/observe"
	"github.com/MrWong99/voxpipe/pkg/audio"
	"github.com/MrWong99/voxpipe/pkg/provider/stt"
	"github.com/MrWong99/voxpipe/pkg/provider/vad"
	"github.com/MrWong99/voxpipe/pkg/voice"
)

// DefaultQueueSize is the capacity of the frame queue.
const DefaultQueueSize = 256

// Config holds the collaborators of an [Orchestrator]. Capture and Resolver
// are required; everything else is optional.
type Config struct {
	Capture  Capture
	Resolver Resolver

	// Gate tracks speech during recording. It is reset at every start.
	Gate vad.SessionHandle

	// Analyzer enables the whole-buffer silence check for providers that
	// request it.
	Analyzer vad.BufferAnalyzer

	Denoiser    Denoiser
	Corrector   Corrector
	Permissions PermissionProvider
	Consumers   []ResultConsumer
	Partials    []PartialConsumer
	History     HistorySink
	Metrics     *observe.Metrics

	// TempDir holds session WAV files. Default: os.TempDir().
	TempDir string

	// QueueSize is the frame queue capacity. Default: 256.
	QueueSize int
}

// StartRequest describes a new session.
type StartRequest struct {
	Mode     voice.Mode
	Context  voice.Context
	Provider voice.ProviderConfig
}

// Orchestrator runs voice sessions. All methods are safe for concurrent use.
type Orchestrator struct {
	cfg     Config
	metrics *observe.Metrics

	mu        sync.Mutex
	phase     voice.Phase
	sess      *session
	level     audio.Level
	observers []func(PhaseChange)
}

// New creates an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	var errs []error
	if cfg.Capture == nil {
		errs = append(errs, errors.New("capture is required"))
	}
	if cfg.Resolver == nil {
		errs = append(errs, errors.New("resolver is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	if cfg.Permissions == nil {
		cfg.Permissions = AlwaysGranted{}
	}
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Orchestrator{cfg: cfg, metrics: m, phase: voice.PhaseIdle}, nil
}

// Phase returns the current phase.
func (o *Orchestrator) Phase() voice.Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

// Level returns the level of the most recent capture frame.
func (o *Orchestrator) Level() audio.Level {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.level
}

// ActiveSession returns the id of the current session, or "".
func (o *Orchestrator) ActiveSession() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.sess == nil {
		return ""
	}
	return o.sess.id
}

// OnPhase registers fn to be called after every phase change. Observers run
// synchronously on the goroutine that caused the change and must not block.
func (o *Orchestrator) OnPhase(fn func(PhaseChange)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.observers = append(o.observers, fn)
}

// session is the state of one recording.
type session struct {
	id       string
	req      StartRequest
	language string
	provider stt.Provider
	caps     stt.Capabilities
	live     stt.LiveSession

	ctx    context.Context
	cancel context.CancelFunc

	frames   chan audio.Frame
	stop     chan struct{}
	stopOnce sync.Once
	loopDone chan struct{}

	dropped   atomic.Int64
	speech    atomic.Bool
	cancelled atomic.Bool

	tmpMu     sync.Mutex
	tempFiles []string

	log *slog.Logger
}

// StartRecording opens the microphone and begins a session. It fails with
// [voice.ErrAlreadyActive] while another session exists,
// [voice.ErrPermissionDenied] when microphone access is refused and a
// [*voice.DeviceError] when capture cannot start.
func (o *Orchestrator) StartRecording(ctx context.Context, req StartRequest) (string, error) {
	s := &session{
		id:       uuid.NewString(),
		req:      req,
		stop:     make(chan struct{}),
		loopDone: make(chan struct{}),
		frames:   make(chan audio.Frame, o.cfg.QueueSize),
	}
	s.language = req.Provider.Language
	if req.Mode.Language != "" {
		s.language = req.Mode.Language
	}
	s.log = slog.With("session_id", s.id, "provider", req.Provider.Name)

	o.mu.Lock()
	if o.sess != nil {
		o.mu.Unlock()
		return "", voice.ErrAlreadyActive
	}
	// Reserve the slot while permissions and the provider are resolved.
	o.sess = s
	o.level = audio.Level{}
	o.mu.Unlock()

	if err := o.begin(ctx, s); err != nil {
		o.mu.Lock()
		if o.sess == s {
			o.sess = nil
		}
		o.mu.Unlock()
		if errors.Is(err, voice.ErrPermissionDenied) {
			return "", err
		}
		o.transition(s, voice.PhaseFailed, true)
		o.metrics.RecordSession(ctx, req.Provider.Name, observe.OutcomeFailed, 0)
		return "", err
	}

	o.metrics.ActiveSessions.Add(ctx, 1)
	s.log.Info("session: recording", "mode", req.Mode.Name, "live", s.live != nil)
	o.transition(s, voice.PhaseRecording, false)
	return s.id, nil
}

func (o *Orchestrator) begin(ctx context.Context, s *session) error {
	perms := o.cfg.Permissions
	if !perms.HasMicrophonePermission() && !perms.RequestMicrophonePermission(ctx) {
		return voice.ErrPermissionDenied
	}

	provider, err := o.cfg.Resolver.Resolve(s.req.Provider)
	if err != nil {
		return fmt.Errorf("session: resolve provider %q: %w", s.req.Provider.Name, err)
	}
	s.provider = provider
	s.caps = provider.Capabilities()
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))

	if o.cfg.Gate != nil {
		o.cfg.Gate.Reset()
	}

	if lp, ok := provider.(stt.LiveProvider); ok && s.caps.Live {
		live, err := lp.BeginLive(s.ctx, stt.LiveConfig{
			SampleRate: audio.DefaultSampleRate,
			Language:   s.language,
			Keywords:   stt.Keywords(s.req.Context.Vocabulary),
			OnPartial:  func(t stt.Transcript) { o.partial(s, t.Text) },
		})
		if err != nil {
			s.cancel()
			return fmt.Errorf("session: begin live recognition: %w", err)
		}
		s.live = live
	}

	go o.processFrames(s)

	if err := o.cfg.Capture.Start(func(f audio.Frame) { o.onFrame(s, f) }); err != nil {
		s.stopLoop()
		if s.live != nil {
			_ = s.live.Abort()
		}
		s.cancel()
		return &voice.DeviceError{Op: "start", Err: err}
	}
	return nil
}

// onFrame runs on the audio callback. It never blocks: when the queue is full
// the frame is dropped from the live path. The capture keeps it in the
// accumulated recording regardless.
func (o *Orchestrator) onFrame(s *session, f audio.Frame) {
	o.mu.Lock()
	if o.sess == s {
		o.level = f.Level
	}
	o.mu.Unlock()

	select {
	case s.frames <- f:
	default:
		s.dropped.Add(1)
	}
}

// processFrames drains the frame queue until the session stops.
func (o *Orchestrator) processFrames(s *session) {
	defer close(s.loopDone)
	feedFailed := false
	handle := func(f audio.Frame) {
		if gate := o.cfg.Gate; gate != nil {
			if d := gate.Process(f.Samples); d.IsSpeech {
				s.speech.Store(true)
			}
		}
		if s.live != nil && !feedFailed {
			if err := s.live.Feed(f.Samples); err != nil {
				feedFailed = true
				s.log.Warn("session: live feed failed", "err", err)
			}
		}
	}
	for {
		select {
		case f := <-s.frames:
			handle(f)
		case <-s.stop:
			for {
				select {
				case f := <-s.frames:
					handle(f)
				default:
					return
				}
			}
		}
	}
}

func (s *session) stopLoop() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.loopDone
}

func (o *Orchestrator) partial(s *session, text string) {
	if s.cancelled.Load() {
		return
	}
	for _, c := range o.cfg.Partials {
		if err := c.Partial(s.id, text); err != nil {
			s.log.Warn("session: deliver partial", "err", err)
		}
	}
}

// Cancel abandons the current session. It is valid while recording or
// processing; otherwise it does nothing. Capture stops immediately, buffered
// audio is discarded, in-flight provider calls are cancelled without being
// awaited and temporary files are deleted.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	s := o.sess
	// Before the Recording transition the slot is only reserved.
	if s == nil || o.phase.Terminal() || o.phase == voice.PhaseIdle {
		o.mu.Unlock()
		return
	}
	wasRecording := o.phase == voice.PhaseRecording
	s.cancelled.Store(true)
	o.mu.Unlock()

	s.cancel()
	if wasRecording {
		if err := o.cfg.Capture.Stop(); err != nil {
			s.log.Warn("session: stop capture", "err", err)
		}
		s.stopLoop()
		o.cfg.Capture.Discard()
	}
	if s.live != nil {
		if err := s.live.Abort(); err != nil {
			s.log.Warn("session: abort live recognition", "err", err)
		}
	}
	s.removeTempFiles()

	s.log.Info("session: cancelled")
	o.finish(s, voice.PhaseCancelled)
	o.metrics.RecordSession(context.Background(), s.req.Provider.Name, observe.OutcomeCancelled, 0)
}

// Complete stops recording and processes the audio. It returns a nil result
// and nil error when no session is recording, which tolerates duplicate stop
// signals. A cancelled session yields [voice.ErrCancelled].
func (o *Orchestrator) Complete(ctx context.Context) (*voice.Result, error) {
	o.mu.Lock()
	s := o.sess
	if s == nil || o.phase != voice.PhaseRecording {
		if s == nil && o.phase != voice.PhaseIdle {
			o.phase = voice.PhaseIdle
			defer o.notify(PhaseChange{Phase: voice.PhaseIdle})
		}
		o.mu.Unlock()
		return nil, nil
	}
	o.phase = voice.PhaseStopping
	o.mu.Unlock()
	o.notify(PhaseChange{SessionID: s.id, Phase: voice.PhaseStopping})

	stopped := time.Now()
	stopCancel := context.AfterFunc(ctx, s.cancel)
	defer stopCancel()
	defer s.removeTempFiles()

	ctx, span := observe.StartStage(ctx, "session.complete", s.id, s.req.Provider.Name)
	res, outcome, err := o.complete(ctx, s, stopped)
	observe.EndSpan(span, err)

	total := time.Since(stopped)
	o.metrics.RecordFramesDropped(ctx, s.dropped.Load())

	switch {
	case s.cancelled.Load() || errors.Is(err, context.Canceled):
		// Cancel already moved the session to Cancelled when it was user
		// initiated. Caller cancellation lands here without it.
		if !s.cancelled.Swap(true) {
			if s.live != nil {
				_ = s.live.Abort()
			}
			o.finish(s, voice.PhaseCancelled)
			o.metrics.RecordSession(ctx, s.req.Provider.Name, observe.OutcomeCancelled, total)
		}
		return nil, voice.ErrCancelled
	case err != nil:
		s.log.Error("session: failed", "err", err)
		o.finish(s, voice.PhaseFailed)
		o.metrics.RecordSession(ctx, s.req.Provider.Name, observe.OutcomeFailed, total)
		return nil, err
	}

	res.Metrics.Total = total
	if !o.finish(s, voice.PhaseCompleted) {
		return nil, voice.ErrCancelled
	}
	o.metrics.RecordSession(ctx, s.req.Provider.Name, outcome, total)
	s.log.Info("session: completed",
		"chars", len(res.Text),
		"stt", res.Metrics.STT,
		"total", res.Metrics.Total,
		"corrected", res.Metrics.LLM != nil,
	)

	o.deliver(ctx, s, *res)
	return res, nil
}

// complete runs the processing stages. It returns the session outcome label
// alongside the result.
func (o *Orchestrator) complete(ctx context.Context, s *session, stopped time.Time) (*voice.Result, string, error) {
	if err := o.cfg.Capture.Stop(); err != nil {
		s.log.Warn("session: stop capture", "err", err)
	}
	s.stopLoop()
	buf := o.cfg.Capture.Buffer()
	o.cfg.Capture.Discard()

	if s.cancelled.Load() {
		return nil, "", context.Canceled
	}
	o.transition(s, voice.PhaseTranscribing, false)

	res := &voice.Result{
		SessionID:      s.id,
		Language:       s.language,
		Provider:       s.req.Provider.Name,
		SpeechDetected: s.speech.Load(),
	}

	text, silent, err := o.transcribe(ctx, s, buf, res)
	if err != nil {
		return nil, "", err
	}
	if silent {
		return res, observe.OutcomeSilent, nil
	}
	res.Text = text

	mode := s.req.Mode
	if text == "" || mode.SkipLLM || o.cfg.Corrector == nil {
		return res, observe.OutcomeCompleted, nil
	}

	if err := s.ctx.Err(); err != nil {
		return nil, "", err
	}
	o.transition(s, voice.PhaseCorrecting, false)

	cctx, span := observe.StartStage(ctx, "llm.correct", s.id, s.req.Provider.Name)
	start := time.Now()
	corrected, err := o.cfg.Corrector.Correct(s.ctxFor(cctx), text, mode, s.req.Context)
	llmDur := time.Since(start)
	observe.EndSpan(span, err)
	o.metrics.LLMDuration.Record(ctx, llmDur.Seconds())
	if err != nil {
		if s.ctx.Err() != nil {
			return nil, "", context.Canceled
		}
		o.metrics.RecordProviderRequest(ctx, "correction", "llm", "error")
		var le *voice.LLMError
		if !errors.As(err, &le) {
			err = &voice.LLMError{Reason: "correction", Err: err}
		}
		return nil, "", err
	}
	o.metrics.RecordProviderRequest(ctx, "correction", "llm", "ok")

	res.RawText = text
	res.Text = strings.TrimSpace(corrected)
	res.Metrics.LLM = &llmDur
	return res, observe.OutcomeCompleted, nil
}

// transcribe dispatches buf to the session provider. silent reports the
// short-circuit of a recording without speech.
func (o *Orchestrator) transcribe(ctx context.Context, s *session, buf audio.Buffer, res *voice.Result) (text string, silent bool, err error) {
	name := s.req.Provider.Name

	if s.live != nil {
		start := time.Now()
		text, err = s.live.Finish(s.ctxFor(ctx))
		res.Metrics.STT = time.Since(start)
		o.metrics.STTDuration.Record(ctx, res.Metrics.STT.Seconds())
		if err != nil {
			return o.transcribeError(ctx, s, err)
		}
		o.metrics.RecordProviderRequest(ctx, name, "stt", "ok")
		return strings.TrimSpace(text), false, nil
	}

	if buf.Len() == 0 {
		s.log.Info("session: empty recording")
		return "", true, nil
	}
	if s.caps.AnalyzeSilence && o.cfg.Analyzer != nil && !o.cfg.Analyzer.AnalyzeBuffer(buf) {
		s.log.Info("session: no speech in recording, skipping provider")
		return "", true, nil
	}

	if s.req.Mode.Denoise && o.cfg.Denoiser != nil {
		buf = o.denoise(ctx, s, buf)
	}

	req := stt.Request{
		Audio:    buf,
		Language: s.language,
		Keywords: stt.Keywords(s.req.Context.Vocabulary),
	}
	if s.caps.NeedsFile {
		path, err := o.writeTempWAV(s, buf)
		if err != nil {
			return "", false, err
		}
		req.File = path
	}
	if err := s.ctx.Err(); err != nil {
		return "", false, err
	}

	sctx, span := observe.StartStage(ctx, "stt.transcribe", s.id, name)
	start := time.Now()
	text, err = s.provider.Transcribe(s.ctxFor(sctx), req)
	res.Metrics.STT = time.Since(start)
	observe.EndSpan(span, err)
	o.metrics.STTDuration.Record(ctx, res.Metrics.STT.Seconds())
	if err != nil {
		return o.transcribeError(ctx, s, err)
	}
	o.metrics.RecordProviderRequest(ctx, name, "stt", "ok")
	return strings.TrimSpace(text), false, nil
}

func (o *Orchestrator) transcribeError(ctx context.Context, s *session, err error) (string, bool, error) {
	if s.ctx.Err() != nil {
		return "", false, context.Canceled
	}
	if voice.IsNoSpeech(err) {
		s.log.Info("session: provider found no speech")
		return "", false, nil
	}
	name := s.req.Provider.Name
	o.metrics.RecordProviderRequest(ctx, name, "stt", "error")
	o.metrics.RecordProviderError(ctx, name, "stt")
	return "", false, err
}

// denoise returns the cleaned buffer, or buf unchanged when denoising fails.
func (o *Orchestrator) denoise(ctx context.Context, s *session, buf audio.Buffer) audio.Buffer {
	_, span := observe.StartStage(ctx, "denoise", s.id, s.req.Provider.Name)
	start := time.Now()
	out, err := o.cfg.Denoiser.Denoise(buf)
	observe.EndSpan(span, err)
	o.metrics.DenoiseDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		s.log.Warn("session: denoise failed, using original audio", "err", err)
		return buf
	}
	return out
}

func (o *Orchestrator) writeTempWAV(s *session, buf audio.Buffer) (string, error) {
	path := filepath.Join(o.cfg.TempDir, fmt.Sprintf("voxpipe-%s-%s.wav", s.id, uuid.NewString()))
	s.addTempFile(path)
	if err := audio.WriteWAVFile(path, buf, audio.DefaultSampleRate); err != nil {
		return "", fmt.Errorf("session: write recording: %w", err)
	}
	return path, nil
}

func (o *Orchestrator) deliver(ctx context.Context, s *session, res voice.Result) {
	for _, c := range o.cfg.Consumers {
		if err := c.Deliver(ctx, res); err != nil {
			s.log.Warn("session: deliver result", "err", err)
		}
	}
	if o.cfg.History != nil && res.Text != "" {
		o.cfg.History.Submit(history.FromResult(res, s.req.Mode.Name, time.Now()))
	}
}

// ctxFor returns ctx bound to the session's cancellation.
func (s *session) ctxFor(ctx context.Context) context.Context {
	if ctx == s.ctx {
		return ctx
	}
	merged, cancel := context.WithCancel(ctx)
	context.AfterFunc(s.ctx, cancel)
	return merged
}

func (s *session) addTempFile(path string) {
	s.tmpMu.Lock()
	defer s.tmpMu.Unlock()
	s.tempFiles = append(s.tempFiles, path)
}

// removeTempFiles deletes every temporary file of the session. Failures are
// logged only.
func (s *session) removeTempFiles() {
	s.tmpMu.Lock()
	files := s.tempFiles
	s.tempFiles = nil
	s.tmpMu.Unlock()
	for _, f := range files {
		if err := os.Remove(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.log.Warn("session: remove temp file", "path", f, "err", err)
		}
	}
}

// transition moves s to p. Unless force is set it is ignored once s is no
// longer the active session or was cancelled.
func (o *Orchestrator) transition(s *session, p voice.Phase, force bool) {
	o.mu.Lock()
	if !force && (o.sess != s || s.cancelled.Load()) {
		o.mu.Unlock()
		return
	}
	o.phase = p
	o.mu.Unlock()
	o.notify(PhaseChange{SessionID: s.id, Phase: p})
}

// finish moves s to the terminal phase p and releases the session slot. It
// reports false when s was no longer active.
func (o *Orchestrator) finish(s *session, p voice.Phase) bool {
	o.mu.Lock()
	if o.sess != s {
		o.mu.Unlock()
		return false
	}
	o.sess = nil
	o.phase = p
	o.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	o.metrics.ActiveSessions.Add(context.Background(), -1)
	o.notify(PhaseChange{SessionID: s.id, Phase: p})
	return true
}

func (o *Orchestrator) notify(c PhaseChange) {
	o.mu.Lock()
	observers := slices.Clone(o.observers)
	o.mu.Unlock()
	for _, fn := range observers {
		fn(c)
	}
}
