// Package config provides the configuration schema, loader, and provider registry
// for the voxpipe voice pipeline.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SlogLevel maps l to a [slog.Level]. Unknown values map to info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// AudioBackend selects the capture backend.
type AudioBackend string

const (
	// AudioPortAudio captures from a local microphone.
	AudioPortAudio AudioBackend = "portaudio"

	// AudioDiscord captures a speaker in a Discord voice channel.
	AudioDiscord AudioBackend = "discord"
)

// IsValid reports whether b is a recognised audio backend.
func (b AudioBackend) IsValid() bool {
	return b == AudioPortAudio || b == AudioDiscord
}

// HistoryBackend selects where session history is stored.
type HistoryBackend string

const (
	HistoryNone     HistoryBackend = ""
	HistorySQLite   HistoryBackend = "sqlite"
	HistoryPostgres HistoryBackend = "postgres"
)

// IsValid reports whether b is a recognised history backend.
func (b HistoryBackend) IsValid() bool {
	switch b {
	case HistoryNone, HistorySQLite, HistoryPostgres:
		return true
	}
	return false
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultSampleRate    = 16000
	DefaultFrameSize     = 730
	DefaultQueueSize     = 256
	DefaultTemperature   = 0.1
	DefaultEventsSubject = "voxpipe.results"
	DefaultMaxFailures   = 5
	DefaultResetTimeout  = 30 * time.Second
	DefaultListenAddr    = ":8080"
)

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server      ServerConfig     `yaml:"server"`
	Audio       AudioConfig      `yaml:"audio"`
	Providers   ProvidersConfig  `yaml:"providers"`
	Local       LocalConfig      `yaml:"local"`
	Denoise     DenoiseConfig    `yaml:"denoise"`
	VAD         VADConfig        `yaml:"vad"`
	Correction  CorrectionConfig `yaml:"correction"`
	Modes       []ModeConfig     `yaml:"modes"`
	DefaultMode string           `yaml:"default_mode"`
	Vocabulary  []string         `yaml:"vocabulary"`
	History     HistoryConfig    `yaml:"history"`
	Events      EventsConfig     `yaml:"events"`
	Resilience  ResilienceConfig `yaml:"resilience"`

	// TempDir holds session WAV files. Empty uses os.TempDir().
	TempDir string `yaml:"temp_dir"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the control API (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// OTLPEndpoint enables trace export over OTLP/gRPC when set.
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// AudioConfig configures capture.
type AudioConfig struct {
	Backend AudioBackend `yaml:"backend"`

	// Device is the initial input device. Empty selects the backend default.
	// For discord it is the voice channel ID.
	Device string `yaml:"device"`

	SampleRate int `yaml:"sample_rate"`
	FrameSize  int `yaml:"frame_size"`

	// QueueSize bounds the frame queue between the audio callback and the
	// session loop.
	QueueSize int `yaml:"queue_size"`

	// Options holds backend-specific values, e.g. token, guild_id and
	// speaker_user_id for discord.
	Options map[string]any `yaml:"options"`
}

// ProvidersConfig selects the provider for each pipeline stage.
type ProvidersConfig struct {
	STT ProviderEntry `yaml:"stt"`
	LLM ProviderEntry `yaml:"llm"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "deepgram").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "whisper-1", "nova-2").
	Model string `yaml:"model"`

	// Language is a BCP-47 hint. Modes may override it.
	Language string `yaml:"language"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// LocalConfig is the model catalog of the local STT provider.
type LocalConfig struct {
	Models       []LocalModel `yaml:"models"`
	DefaultModel string       `yaml:"default_model"`
}

// LocalModel is one on-disk model.
type LocalModel struct {
	ID         string `yaml:"id"`
	Path       string `yaml:"path"`
	TokensPath string `yaml:"tokens_path"`
}

// DenoiseConfig configures the denoiser.
type DenoiseConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Backend   string `yaml:"backend"`
	ModelPath string `yaml:"model_path"`
}

// VADConfig configures voice activity handling.
type VADConfig struct {
	// SkipSilent enables the whole-buffer silence check. Default: true.
	SkipSilent *bool `yaml:"skip_silent"`
}

// SkipSilentEnabled reports the effective SkipSilent value.
func (v VADConfig) SkipSilentEnabled() bool {
	return v.SkipSilent == nil || *v.SkipSilent
}

// CorrectionConfig tunes the LLM correction pass.
type CorrectionConfig struct {
	Temperature *float64      `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`

	// Phonetic enables vocabulary snapping before the LLM pass.
	Phonetic bool `yaml:"phonetic"`
}

// ModeConfig is a named processing mode.
type ModeConfig struct {
	Name         string `yaml:"name"`
	SystemPrompt string `yaml:"system_prompt"`
	SkipLLM      bool   `yaml:"skip_llm"`
	Denoise      bool   `yaml:"denoise"`
	Language     string `yaml:"language"`
}

// HistoryConfig selects the history sink.
type HistoryConfig struct {
	Backend HistoryBackend `yaml:"backend"`

	// Path is the SQLite database file.
	Path string `yaml:"path"`

	// DSN is the PostgreSQL connection string.
	DSN string `yaml:"dsn"`
}

// EventsConfig configures NATS publishing. Empty NATSURL disables it.
type EventsConfig struct {
	NATSURL string `yaml:"nats_url"`
	Subject string `yaml:"subject"`
}

// ResilienceConfig tunes the circuit breakers around cloud providers.
type ResilienceConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// ApplyDefaults fills zero values with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	if c.Audio.Backend == "" {
		c.Audio.Backend = AudioPortAudio
	}
	if c.Audio.SampleRate == 0 {
		c.Audio.SampleRate = DefaultSampleRate
	}
	if c.Audio.FrameSize == 0 {
		c.Audio.FrameSize = DefaultFrameSize
	}
	if c.Audio.QueueSize == 0 {
		c.Audio.QueueSize = DefaultQueueSize
	}
	if c.Denoise.Backend == "" {
		c.Denoise.Backend = "spectral"
	}
	if c.Correction.Temperature == nil {
		t := DefaultTemperature
		c.Correction.Temperature = &t
	}
	if c.Events.Subject == "" {
		c.Events.Subject = DefaultEventsSubject
	}
	if c.Resilience.MaxFailures == 0 {
		c.Resilience.MaxFailures = DefaultMaxFailures
	}
	if c.Resilience.ResetTimeout == 0 {
		c.Resilience.ResetTimeout = DefaultResetTimeout
	}
	if c.DefaultMode == "" && len(c.Modes) > 0 {
		c.DefaultMode = c.Modes[0].Name
	}
}

// Mode returns the mode called name, falling back to the default mode.
func (c *Config) Mode(name string) (ModeConfig, bool) {
	if name == "" {
		name = c.DefaultMode
	}
	for _, m := range c.Modes {
		if m.Name == name {
			return m, true
		}
	}
	return ModeConfig{}, false
}
