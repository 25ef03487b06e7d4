// Package app wires all voxpipe subsystems together and manages the
// application lifecycle.
//
// The [App] struct owns the audio capture, the session manager, the history
// and event sinks, the telemetry providers, and the HTTP control surface.
// Call [New] to construct an App, [App.Run] to serve, and [App.Shutdown] to
// tear everything down gracefully.
//
// For testing, inject doubles via functional options ([WithAudioBackend],
// [WithLLM], [WithHistoryStore], …). When an option is omitted, New creates
// the real implementation from the configuration and the provider registry.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxpipe/internal/config"
	"github.com/MrWong99/voxpipe/internal/correction"
	"github.com/MrWong99/voxpipe/internal/correction/phonetic"
	"github.com/MrWong99/voxpipe/internal/events"
	"github.com/MrWong99/voxpipe/internal/health"
	"github.com/MrWong99/voxpipe/internal/history"
	"github.com/MrWong99/voxpipe/internal/history/postgres"
	"github.com/MrWong99/voxpipe/internal/history/sqlite"
	"github.com/MrWong99/voxpipe/internal/observe"
	"github.com/MrWong99/voxpipe/internal/resilience"
	"github.com/MrWong99/voxpipe/internal/session"
	"github.com/MrWong99/voxpipe/pkg/audio"
	"github.com/MrWong99/voxpipe/pkg/provider/denoise"
	"github.com/MrWong99/voxpipe/pkg/provider/denoise/spectral"
	"github.com/MrWong99/voxpipe/pkg/provider/llm"
	"github.com/MrWong99/voxpipe/pkg/provider/stt"
	"github.com/MrWong99/voxpipe/pkg/provider/stt/local"
	"github.com/MrWong99/voxpipe/pkg/provider/vad"
	"github.com/MrWong99/voxpipe/pkg/provider/vad/energy"
	"github.com/MrWong99/voxpipe/pkg/voice"
)

// localProvider is the registry name of the on-device STT provider.
const localProvider = "local"

// shutdownGrace bounds how long Run waits for in-flight HTTP requests.
const shutdownGrace = 10 * time.Second

// App owns every subsystem of a running voxpipe instance.
type App struct {
	cfg atomic.Pointer[config.Config]

	reg         *config.Registry
	configPath  string
	level       *slog.LevelVar
	backend     audio.Backend
	localEngine local.Engine
	localSTT    *local.Service
	denoiser    denoise.Backend
	llm         llm.Provider
	store       history.Store
	telemetry   *observe.Telemetry

	capture   *audio.Capture
	sessions  *SessionManager
	corrector *liveCorrector
	history   *history.Async
	publisher *events.Publisher
	health    *health.Handler
	metrics   *observe.Metrics
	watcher   *config.Watcher
	handler   http.Handler

	// closers run in reverse order during shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for [New].
type Option func(*App)

// WithRegistry supplies the provider registry. Default: an empty registry.
func WithRegistry(reg *config.Registry) Option {
	return func(a *App) { a.reg = reg }
}

// WithConfigPath enables hot reloading of the given config file. Changes to
// modes, vocabulary, providers and correction apply to the next session.
func WithConfigPath(path string) Option {
	return func(a *App) { a.configPath = path }
}

// WithLogLevel lets config reloads adjust the level of the default logger.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithAudioBackend overrides the capture backend created from the registry.
func WithAudioBackend(b audio.Backend) Option {
	return func(a *App) { a.backend = b }
}

// WithLocalEngine registers the "local" STT provider over engine, using the
// model catalog from the config.
func WithLocalEngine(e local.Engine) Option {
	return func(a *App) { a.localEngine = e }
}

// WithDenoiseBackend overrides the denoise backend. Default: spectral.
func WithDenoiseBackend(b denoise.Backend) Option {
	return func(a *App) { a.denoiser = b }
}

// WithLLM overrides the correction LLM created from the registry.
func WithLLM(p llm.Provider) Option {
	return func(a *App) { a.llm = p }
}

// WithHistoryStore overrides the history store opened from the config.
func WithHistoryStore(s history.Store) Option {
	return func(a *App) { a.store = s }
}

// WithTelemetry supplies already initialised telemetry instead of calling
// [observe.InitProvider].
func WithTelemetry(t *observe.Telemetry) Option {
	return func(a *App) { a.telemetry = t }
}

// New creates an App from cfg. Every subsystem that can fail to initialise
// does so here, so a nil error means the App is ready to [App.Run].
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{}
	for _, o := range opts {
		o(a)
	}
	if a.reg == nil {
		a.reg = config.NewRegistry()
	}
	a.cfg.Store(cfg)

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"telemetry", a.initTelemetry},
		{"capture", a.initCapture},
		{"correction", a.initCorrection},
		{"history", a.initHistory},
		{"events", a.initEvents},
		{"sessions", a.initSessions},
		{"health", a.initHealth},
		{"watcher", a.initWatcher},
	}
	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			a.runClosers(context.Background())
			return nil, fmt.Errorf("app: init %s: %w", s.name, err)
		}
	}
	a.handler = a.routes()
	return a, nil
}

// Config returns the configuration new sessions are built from.
func (a *App) Config() *config.Config { return a.cfg.Load() }

// Sessions returns the session manager.
func (a *App) Sessions() *SessionManager { return a.sessions }

// Capture returns the audio capture.
func (a *App) Capture() *audio.Capture { return a.capture }

// Handler returns the HTTP control surface.
func (a *App) Handler() http.Handler { return a.handler }

func (a *App) initTelemetry(ctx context.Context) error {
	if a.telemetry == nil {
		t, err := observe.InitProvider(ctx, observe.ProviderConfig{
			OTLPEndpoint: a.Config().Server.OTLPEndpoint,
			OTLPInsecure: true,
		})
		if err != nil {
			return err
		}
		a.telemetry = t
		a.closers = append(a.closers, func() error {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return t.Shutdown(sctx)
		})
	}
	a.metrics = observe.DefaultMetrics()
	return nil
}

func (a *App) initCapture(context.Context) error {
	cfg := a.Config()
	if a.backend == nil {
		b, err := a.reg.CreateAudio(cfg.Audio)
		if err != nil {
			return err
		}
		a.backend = b
		if c, ok := b.(io.Closer); ok {
			a.closers = append(a.closers, c.Close)
		}
	}
	a.capture = audio.NewCapture(a.backend,
		audio.WithTargetRate(cfg.Audio.SampleRate),
		audio.WithFrameSize(cfg.Audio.FrameSize),
	)
	if cfg.Audio.Device != "" {
		if err := a.capture.SelectDevice(cfg.Audio.Device); err != nil {
			return fmt.Errorf("select device %q: %w", cfg.Audio.Device, err)
		}
	}
	return nil
}

func (a *App) initCorrection(context.Context) error {
	cfg := a.Config()
	p := a.llm
	if p == nil {
		if cfg.Providers.LLM.Name == "" {
			slog.Info("no llm provider configured, correction disabled")
			return nil
		}
		var err error
		if p, err = a.createLLM(cfg); err != nil {
			return err
		}
	}
	a.corrector = &liveCorrector{}
	a.corrector.set(newCorrector(cfg, p), p)
	return nil
}

func (a *App) createLLM(cfg *config.Config) (llm.Provider, error) {
	p, err := a.reg.CreateLLM(cfg.Providers.LLM)
	if err != nil {
		return nil, fmt.Errorf("create llm provider %q: %w", cfg.Providers.LLM.Name, err)
	}
	slog.Info("provider created", "kind", "llm", "name", cfg.Providers.LLM.Name, "model", cfg.Providers.LLM.Model)
	return resilience.WrapLLM(p, breakerConfig(cfg, "llm:"+cfg.Providers.LLM.Name)), nil
}

func newCorrector(cfg *config.Config, p llm.Provider) *correction.Service {
	cc := cfg.Correction
	var opts []correction.Option
	if cc.Temperature != nil {
		opts = append(opts, correction.WithTemperature(*cc.Temperature))
	}
	if cc.MaxTokens > 0 {
		opts = append(opts, correction.WithMaxTokens(cc.MaxTokens))
	}
	if cc.Timeout > 0 {
		opts = append(opts, correction.WithTimeout(cc.Timeout))
	}
	if cc.Phonetic {
		opts = append(opts, correction.WithPhonetic(phonetic.New()))
	}
	return correction.New(p, opts...)
}

func (a *App) initHistory(ctx context.Context) error {
	hc := a.Config().History
	if a.store == nil {
		var err error
		switch hc.Backend {
		case config.HistorySQLite:
			var s *sqlite.Store
			s, err = sqlite.Open(ctx, hc.Path)
			if err == nil {
				a.store = s
			}
		case config.HistoryPostgres:
			var s *postgres.Store
			s, err = postgres.Open(ctx, hc.DSN)
			if err == nil {
				a.store = s
			}
		default:
			return nil
		}
		if err != nil {
			return err
		}
		a.closers = append(a.closers, a.store.Close)
	}
	a.history = history.NewAsync(a.store, history.DefaultQueueSize)
	a.closers = append(a.closers, func() error {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.history.Close(sctx)
	})
	return nil
}

func (a *App) initEvents(context.Context) error {
	ec := a.Config().Events
	if ec.NATSURL == "" {
		return nil
	}
	p, err := events.Connect(ec.NATSURL, ec.Subject)
	if err != nil {
		return err
	}
	a.publisher = p
	a.closers = append(a.closers, p.Close)
	return nil
}

func (a *App) initSessions(ctx context.Context) error {
	cfg := a.Config()
	a.registerLocal()

	oc := session.Config{
		Capture:   a.capture,
		Gate:      energy.NewGate(vad.DefaultConfig()),
		Metrics:   a.metrics,
		TempDir:   cfg.TempDir,
		QueueSize: cfg.Audio.QueueSize,
	}
	if cfg.VAD.SkipSilentEnabled() {
		oc.Analyzer = energy.NewAnalyzer()
	}
	if cfg.Denoise.Enabled {
		b := a.denoiser
		if b == nil {
			b = spectral.Backend{}
		}
		d := denoise.New(b, cfg.Denoise.ModelPath)
		oc.Denoiser = d
		a.closers = append(a.closers, d.Close)
	}
	if a.corrector != nil {
		oc.Corrector = a.corrector
	}
	if a.history != nil {
		oc.History = a.history
	}
	if a.publisher != nil {
		oc.Consumers = append(oc.Consumers, a.publisher)
		oc.Partials = append(oc.Partials, a.publisher)
	}

	sm, err := NewSessionManager(SessionManagerConfig{
		Registry:     a.reg,
		Config:       a.Config,
		Orchestrator: oc,
	})
	if err != nil {
		return err
	}
	a.sessions = sm
	a.closers = append(a.closers, sm.Close)

	sm.Orchestrator().OnPhase(func(c session.PhaseChange) {
		slog.Debug("session phase", "session_id", c.SessionID, "phase", c.Phase)
		if a.publisher != nil {
			if err := a.publisher.Phase(c.SessionID, c.Phase); err != nil {
				slog.Warn("publish phase", "session_id", c.SessionID, "err", err)
			}
		}
	})

	if cfg.Providers.STT.Name == localProvider {
		a.prewarm(ctx)
	}
	return nil
}

// registerLocal registers the local STT provider when an engine is available.
// Every session shares one [local.Service]; the factory points it at the
// model catalog of the current config and the loaded model only changes when
// the selected model does.
func (a *App) registerLocal() {
	if a.localEngine == nil {
		return
	}
	a.localSTT = local.New(a.localEngine, nil)
	a.closers = append(a.closers, a.localSTT.Close)
	a.reg.RegisterSTT(localProvider, func(entry config.ProviderEntry) (stt.Provider, error) {
		lc := a.Config().Local
		models := make([]local.Model, 0, len(lc.Models))
		for _, m := range lc.Models {
			models = append(models, local.Model{ID: m.ID, Path: m.Path, TokensPath: m.TokensPath})
		}
		id := entry.Model
		if id == "" {
			id = lc.DefaultModel
		}
		a.localSTT.Configure(models, id)
		return a.localSTT, nil
	})
}

// prewarm loads the default local model in the background so the first
// session does not pay for it.
func (a *App) prewarm(ctx context.Context) {
	entry := a.Config().Providers.STT
	p, err := a.sessions.resolve(voice.ProviderConfig{
		Name:     entry.Name,
		Endpoint: entry.BaseURL,
		APIKey:   entry.APIKey,
		Model:    entry.Model,
		Language: entry.Language,
	})
	if err != nil {
		slog.Warn("local model prewarm skipped", "err", err)
		return
	}
	svc, ok := p.(*local.Service)
	if !ok {
		return
	}
	ctx = context.WithoutCancel(ctx)
	go func() {
		start := time.Now()
		if err := svc.Initialize(ctx, ""); err != nil {
			slog.Warn("local model prewarm failed", "err", err)
			return
		}
		slog.Info("local model loaded", "model", svc.Current(), "took", time.Since(start))
	}()
}

func (a *App) initHealth(context.Context) error {
	a.health = health.New(
		health.Flag("stt", a.sessions.STTHealthy, "stt circuit open"),
	)
	if a.corrector != nil {
		a.health.Add(health.Flag("llm", a.corrector.healthy, "llm circuit open"))
	}
	if a.publisher != nil {
		a.health.Add(health.Flag("nats", a.publisher.Healthy, "nats disconnected"))
	}
	if a.store != nil {
		a.health.Add(health.Ping("history", func(ctx context.Context) error {
			_, err := a.store.Recent(ctx, 1)
			return err
		}))
	}
	return nil
}

func (a *App) initWatcher(context.Context) error {
	if a.configPath == "" {
		return nil
	}
	w, err := config.NewWatcher(a.configPath, a.onConfigChange)
	if err != nil {
		return err
	}
	a.watcher = w
	return nil
}

// ErrReloadDisabled is returned by [App.Reload] when the app runs without a
// config file, see [WithConfigPath].
var ErrReloadDisabled = errors.New("app: no config file to reload")

// Reload rereads the config file now instead of waiting for the next poll.
// The result applies to the next session. A file that fails validation is
// reported and the running config is kept.
func (a *App) Reload(ctx context.Context) error {
	if a.watcher == nil {
		return ErrReloadDisabled
	}
	return a.watcher.Reload(ctx)
}

// onConfigChange publishes the reloaded config to the next session and
// rebuilds the correction stage when its inputs changed.
func (a *App) onConfigChange(_, next *config.Config, d config.ConfigDiff) {
	a.cfg.Store(next)

	if d.LogLevelChanged && a.level != nil {
		a.level.Set(next.Server.LogLevel.SlogLevel())
	}

	if !(d.LLMChanged || d.CorrectionChanged) || a.corrector == nil {
		return
	}
	p := a.llm
	if p == nil {
		if next.Providers.LLM.Name == "" {
			slog.Warn("llm provider removed; keeping the previous one until restart")
			p = a.corrector.provider()
		} else {
			var err error
			if p, err = a.createLLM(next); err != nil {
				slog.Error("config reload: keeping previous llm provider", "err", err)
				p = a.corrector.provider()
			}
		}
	}
	a.corrector.set(newCorrector(next, p), p)
	slog.Info("correction stage reloaded")
}

// Run serves the control surface on the configured address and blocks until
// ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.Config().Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("control api listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	slog.Info("app running", "stt", a.Config().Providers.STT.Name, "llm", a.Config().Providers.LLM.Name)
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// Shutdown cancels any active session and releases every subsystem in the
// reverse order of their creation. It is safe to call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if a.watcher != nil {
			a.watcher.Stop()
		}
		if a.sessions != nil {
			a.sessions.Cancel()
		}
		shutdownErr = a.runClosers(ctx)

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

func (a *App) runClosers(ctx context.Context) error {
	for i := len(a.closers) - 1; i >= 0; i-- {
		select {
		case <-ctx.Done():
			slog.Warn("shutdown deadline exceeded", "remaining", i+1)
			return ctx.Err()
		default:
		}
		if err := a.closers[i](); err != nil {
			slog.Warn("closer error", "index", i, "err", err)
		}
	}
	a.closers = nil
	return nil
}

// liveCorrector lets config reloads swap the correction stage between
// sessions without touching the orchestrator.
type liveCorrector struct {
	mu  sync.RWMutex
	svc *correction.Service
	llm llm.Provider
}

func (c *liveCorrector) set(svc *correction.Service, p llm.Provider) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.svc, c.llm = svc, p
}

func (c *liveCorrector) provider() llm.Provider {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.llm
}

// Correct implements [session.Corrector].
func (c *liveCorrector) Correct(ctx context.Context, text string, mode voice.Mode, vctx voice.Context) (string, error) {
	c.mu.RLock()
	svc := c.svc
	c.mu.RUnlock()
	return svc.Correct(ctx, text, mode, vctx)
}

func (c *liveCorrector) healthy() bool {
	w, ok := c.provider().(*resilience.LLM)
	return !ok || w.Breaker().State() != resilience.StateOpen
}
