package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/voxpipe/internal/config"
	"github.com/MrWong99/voxpipe/internal/resilience"
	"github.com/MrWong99/voxpipe/internal/session"
	"github.com/MrWong99/voxpipe/pkg/provider/stt"
	"github.com/MrWong99/voxpipe/pkg/voice"
)

// ErrUnknownMode is returned by [SessionManager.Start] when the requested mode
// is not configured.
var ErrUnknownMode = errors.New("app: unknown mode")

// fallbackMode is used when the config declares no modes at all.
const fallbackMode = "dictation"

// SessionInfo holds metadata about the active session.
type SessionInfo struct {
	// SessionID is the unique identifier for this session.
	SessionID string `json:"session_id"`

	// Mode is the name of the voice mode the session runs in.
	Mode string `json:"mode"`

	// Provider is the STT provider the session resolved at start.
	Provider string `json:"provider"`

	// StartedAt is when recording began.
	StartedAt time.Time `json:"started_at"`
}

// SessionManager translates control requests into orchestrator sessions. It
// resolves modes and providers against the current configuration, so edits
// picked up by the config watcher apply to the next session only.
//
// All exported methods are safe for concurrent use.
type SessionManager struct {
	orch   *session.Orchestrator
	reg    *config.Registry
	config func() *config.Config

	mu      sync.Mutex
	info    SessionInfo
	current cachedProvider
	breaker *resilience.CircuitBreaker
}

// cachedProvider is the STT provider of the most recent session.
type cachedProvider struct {
	key      string
	provider stt.Provider
	closer   io.Closer
}

// SessionManagerConfig holds all dependencies for a [SessionManager].
type SessionManagerConfig struct {
	// Registry creates STT providers by name.
	Registry *config.Registry

	// Config returns the configuration new sessions are built from.
	Config func() *config.Config

	// Orchestrator configures the underlying orchestrator. Its Resolver is
	// replaced by the SessionManager.
	Orchestrator session.Config
}

// NewSessionManager creates a SessionManager with the given dependencies.
func NewSessionManager(cfg SessionManagerConfig) (*SessionManager, error) {
	if cfg.Registry == nil || cfg.Config == nil {
		return nil, errors.New("app: session manager needs a registry and a config source")
	}
	sm := &SessionManager{
		reg:    cfg.Registry,
		config: cfg.Config,
	}
	oc := cfg.Orchestrator
	oc.Resolver = session.ResolverFunc(sm.resolve)
	orch, err := session.New(oc)
	if err != nil {
		return nil, err
	}
	sm.orch = orch
	return sm, nil
}

// Start begins recording in the named mode. An empty mode selects the
// configured default. The configured vocabulary is merged into vctx.
func (sm *SessionManager) Start(ctx context.Context, mode string, vctx voice.Context) (SessionInfo, error) {
	cfg := sm.config()
	m, err := resolveMode(cfg, mode)
	if err != nil {
		return SessionInfo{}, err
	}
	vctx.Vocabulary = mergeVocabulary(cfg.Vocabulary, vctx.Vocabulary)

	entry := cfg.Providers.STT
	id, err := sm.orch.StartRecording(ctx, session.StartRequest{
		Mode:    m,
		Context: vctx,
		Provider: voice.ProviderConfig{
			Name:     entry.Name,
			Endpoint: entry.BaseURL,
			APIKey:   entry.APIKey,
			Model:    entry.Model,
			Language: entry.Language,
		},
	})
	if err != nil {
		return SessionInfo{}, err
	}

	info := SessionInfo{
		SessionID: id,
		Mode:      m.Name,
		Provider:  entry.Name,
		StartedAt: time.Now(),
	}
	sm.mu.Lock()
	sm.info = info
	sm.mu.Unlock()
	slog.Info("session started", "session_id", id, "mode", m.Name, "provider", entry.Name)
	return info, nil
}

// Stop ends recording and waits for the result. It returns (nil, nil) when
// no session is recording.
func (sm *SessionManager) Stop(ctx context.Context) (*voice.Result, error) {
	return sm.orch.Complete(ctx)
}

// Cancel aborts the active session, if any.
func (sm *SessionManager) Cancel() {
	sm.orch.Cancel()
}

// IsActive reports whether a session is currently running.
func (sm *SessionManager) IsActive() bool {
	return sm.orch.ActiveSession() != ""
}

// Info returns metadata about the active session.
// Returns zero value if no session is active.
func (sm *SessionManager) Info() SessionInfo {
	active := sm.orch.ActiveSession()
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if active == "" || active != sm.info.SessionID {
		return SessionInfo{}
	}
	return sm.info
}

// Orchestrator returns the underlying orchestrator.
func (sm *SessionManager) Orchestrator() *session.Orchestrator {
	return sm.orch
}

// STTHealthy reports false while the breaker of the most recently resolved
// cloud STT provider is open.
func (sm *SessionManager) STTHealthy() bool {
	sm.mu.Lock()
	cb := sm.breaker
	sm.mu.Unlock()
	return cb == nil || cb.State() != resilience.StateOpen
}

// Close releases the current provider.
func (sm *SessionManager) Close() error {
	sm.mu.Lock()
	cur := sm.current
	sm.current = cachedProvider{}
	sm.mu.Unlock()

	if cur.closer == nil {
		return nil
	}
	return cur.closer.Close()
}

// providerKey identifies the provider built from entry. The local engine is
// one process-wide instance whose factory reconfigures it, so all local
// entries share a key.
func providerKey(entry config.ProviderEntry) string {
	if entry.Name == localProvider {
		return localProvider
	}
	return fmt.Sprintf("%#v", entry)
}

// resolve returns the provider for pc. The provider of the previous session
// is reused while its configuration is unchanged and closed once it is
// replaced. Cloud providers are wrapped in a circuit breaker.
func (sm *SessionManager) resolve(pc voice.ProviderConfig) (stt.Provider, error) {
	cfg := sm.config()
	entry := cfg.Providers.STT
	entry.Name = pc.Name
	entry.BaseURL = pc.Endpoint
	entry.APIKey = pc.APIKey
	entry.Model = pc.Model
	entry.Language = pc.Language
	key := providerKey(entry)

	sm.mu.Lock()
	defer sm.mu.Unlock()
	if cur := sm.current; cur.provider != nil && cur.key == key && key != localProvider {
		return cur.provider, nil
	}

	p, err := sm.reg.CreateSTT(entry)
	if err != nil {
		return nil, fmt.Errorf("app: create stt provider %q: %w", entry.Name, err)
	}
	if prev := sm.current; prev.key != key {
		if prev.closer != nil {
			if err := prev.closer.Close(); err != nil {
				slog.Warn("close replaced stt provider", "err", err)
			}
		}
		slog.Info("provider created", "kind", "stt", "name", entry.Name, "model", entry.Model)
	}
	closer, _ := p.(io.Closer)
	if entry.Name != localProvider {
		p = resilience.WrapSTT(p, breakerConfig(cfg, "stt:"+entry.Name))
		if b, ok := p.(interface{ Breaker() *resilience.CircuitBreaker }); ok {
			sm.breaker = b.Breaker()
		}
	} else {
		sm.breaker = nil
	}
	sm.current = cachedProvider{key: key, provider: p, closer: closer}
	return p, nil
}

// resolveMode maps a mode name to a [voice.Mode].
func resolveMode(cfg *config.Config, name string) (voice.Mode, error) {
	if len(cfg.Modes) == 0 {
		if name == "" {
			name = fallbackMode
		}
		return voice.Mode{Name: name}, nil
	}
	mc, ok := cfg.Mode(name)
	if !ok {
		return voice.Mode{}, fmt.Errorf("%w: %q", ErrUnknownMode, name)
	}
	return voice.Mode{
		Name:         mc.Name,
		SystemPrompt: mc.SystemPrompt,
		SkipLLM:      mc.SkipLLM,
		Denoise:      mc.Denoise,
		Language:     mc.Language,
	}, nil
}

// mergeVocabulary appends the request terms to the configured ones, dropping
// blanks and case-insensitive duplicates.
func mergeVocabulary(configured, requested []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, term := range slices.Concat(configured, requested) {
		term = strings.TrimSpace(term)
		k := strings.ToLower(term)
		if term == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, term)
	}
	return out
}

func breakerConfig(cfg *config.Config, name string) resilience.CircuitBreakerConfig {
	return resilience.CircuitBreakerConfig{
		Name:         name,
		MaxFailures:  cfg.Resilience.MaxFailures,
		ResetTimeout: cfg.Resilience.ResetTimeout,
	}
}
