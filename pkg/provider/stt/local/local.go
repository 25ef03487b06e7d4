// Package local runs speech recognition on an embedded inference engine.
//
// The [Service] owns exactly one loaded engine runtime at a time. Loading is
// cached by model identity: initialising the model that is already loaded is
// a no-op, switching models tears the previous runtime down first, and
// concurrent initialisations of the same model share a single load.
// Inference calls are serialised on the runtime handle.
package local

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/MrWong99/voxpipe/pkg/audio"
	"github.com/MrWong99/voxpipe/pkg/provider/stt"
	"github.com/MrWong99/voxpipe/pkg/voice"
)

// Sentinel errors returned by [Service].
var (
	ErrUnknownModel         = errors.New("local: unknown model")
	ErrModelFileNotFound    = errors.New("local: model file not found")
	ErrTokensFileNotFound   = errors.New("local: tokens file not found")
	ErrInitializationFailed = errors.New("local: initialization failed")
	ErrNotInitialized       = errors.New("local: engine not initialized")

	// ErrNoResult is returned when the engine decodes nothing. It matches
	// [voice.ErrNoSpeech] so the orchestrator treats it as an empty result.
	ErrNoResult = fmt.Errorf("local: no result: %w", voice.ErrNoSpeech)
)

// Model describes one on-disk model. TokensPath is optional; engines that
// embed their vocabulary in the weights file leave it empty.
type Model struct {
	ID         string
	Path       string
	TokensPath string
}

// Runtime is a loaded engine instance. Implementations need not be safe for
// concurrent use; [Service] serialises all calls.
type Runtime interface {
	// Transcribe decodes mono samples at sampleRate. language may be empty
	// for auto-detection.
	Transcribe(samples []float32, sampleRate int, language string) (string, error)

	Close() error
}

// Engine loads model files into a [Runtime].
type Engine interface {
	Load(m Model) (Runtime, error)
}

var _ stt.Provider = (*Service)(nil)

// Service is the local speech-to-text provider.
type Service struct {
	engine Engine

	catMu        sync.RWMutex
	models       map[string]Model
	defaultModel string

	group singleflight.Group

	// mu guards runtime and loaded and is held for the duration of a load
	// or an inference so the two never overlap.
	mu      sync.Mutex
	runtime Runtime
	loaded  Model
}

// Option configures a [Service].
type Option func(*Service)

// WithDefaultModel selects the model Transcribe loads when nothing has been
// initialised yet.
func WithDefaultModel(id string) Option {
	return func(s *Service) { s.defaultModel = id }
}

// New creates a Service over engine with the given model catalog. The first
// model in the catalog is the default unless [WithDefaultModel] is given.
func New(engine Engine, models []Model, opts ...Option) *Service {
	s := &Service{engine: engine}
	s.Configure(models, "")
	for _, o := range opts {
		o(s)
	}
	return s
}

// Configure replaces the model catalog and the default model. An empty
// defaultModel selects the first catalog entry. The loaded runtime is kept;
// the next [Service.Transcribe] switches to the new default if it differs
// from the loaded model.
func (s *Service) Configure(models []Model, defaultModel string) {
	catalog := make(map[string]Model, len(models))
	for _, m := range models {
		catalog[m.ID] = m
	}
	if defaultModel == "" && len(models) > 0 {
		defaultModel = models[0].ID
	}
	s.catMu.Lock()
	defer s.catMu.Unlock()
	s.models = catalog
	s.defaultModel = defaultModel
}

// lookup resolves id against the catalog. An empty id selects the default.
func (s *Service) lookup(id string) (Model, bool) {
	s.catMu.RLock()
	defer s.catMu.RUnlock()
	if id == "" {
		id = s.defaultModel
	}
	m, ok := s.models[id]
	if !ok {
		return Model{ID: id}, false
	}
	return m, true
}

// Capabilities implements [stt.Provider]. Local inference works on the
// in-memory buffer and benefits from skipping silent recordings.
func (s *Service) Capabilities() stt.Capabilities {
	return stt.Capabilities{AnalyzeSilence: true}
}

// Current returns the id of the loaded model, or "" if none is loaded.
func (s *Service) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runtime == nil {
		return ""
	}
	return s.loaded.ID
}

// ready reports whether the default model is the loaded one.
func (s *Service) ready() bool {
	want, ok := s.lookup("")
	if !ok {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runtime != nil && s.loaded == want
}

// Initialize loads the model with the given id. Calling it with the model
// that is already loaded returns immediately. Concurrent calls for the same
// id wait for a single load.
func (s *Service) Initialize(ctx context.Context, modelID string) error {
	m, ok := s.lookup(modelID)
	if !ok {
		return &voice.ModelError{Model: m.ID, Err: ErrUnknownModel}
	}

	ch := s.group.DoChan(m.ID+"|"+m.Path, func() (any, error) {
		return nil, s.load(m)
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) load(m Model) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.runtime != nil && s.loaded == m {
		return nil
	}

	if _, err := os.Stat(m.Path); err != nil {
		return &voice.ModelError{Model: m.ID, Err: fmt.Errorf("%w: %s", ErrModelFileNotFound, m.Path)}
	}
	if m.TokensPath != "" {
		if _, err := os.Stat(m.TokensPath); err != nil {
			return &voice.ModelError{Model: m.ID, Err: fmt.Errorf("%w: %s", ErrTokensFileNotFound, m.TokensPath)}
		}
	}

	if s.runtime != nil {
		if err := s.runtime.Close(); err != nil {
			slog.Warn("local stt: close previous runtime", "model", s.loaded.ID, "err", err)
		}
		s.runtime = nil
		s.loaded = Model{}
	}

	rt, err := s.engine.Load(m)
	if err != nil {
		return &voice.ModelError{Model: m.ID, Err: fmt.Errorf("%w: %w", ErrInitializationFailed, err)}
	}
	s.runtime = rt
	s.loaded = m
	slog.Info("local stt: model loaded", "model", m.ID)
	return nil
}

// TranscribeSamples decodes samples with the loaded runtime.
func (s *Service) TranscribeSamples(samples []float32, sampleRate int, language string) (string, error) {
	if len(samples) == 0 {
		return "", voice.ErrEmptyAudio
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runtime == nil {
		return "", ErrNotInitialized
	}
	text, err := s.runtime.Transcribe(samples, sampleRate, language)
	if err != nil {
		return "", &voice.ModelError{Model: s.loaded.ID, Err: err}
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrNoResult
	}
	return text, nil
}

// Transcribe implements [stt.Provider]. It loads the default model on first
// use and after the default changed. The runtime call itself is not
// interruptible; ctx is checked before it starts.
func (s *Service) Transcribe(ctx context.Context, req stt.Request) (string, error) {
	if req.Audio.Len() == 0 {
		return "", voice.ErrEmptyAudio
	}
	if !s.ready() {
		if err := s.Initialize(ctx, ""); err != nil {
			return "", err
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	rate := req.Audio.SampleRate
	if rate == 0 {
		rate = audio.DefaultSampleRate
	}
	return s.TranscribeSamples(req.Audio.Samples, rate, req.Language)
}

// Close releases the loaded runtime.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runtime == nil {
		return nil
	}
	err := s.runtime.Close()
	s.runtime = nil
	s.loaded = Model{}
	return err
}
