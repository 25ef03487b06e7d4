package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt": {"local", "native", "deepgram", "google", "openai", "elevenlabs", "glm", "whisper-server", "custom", "soniox"},
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. Unknown keys are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Audio.Backend != "" && !cfg.Audio.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("audio.backend %q is invalid; valid values: portaudio, discord", cfg.Audio.Backend))
	}
	if cfg.Audio.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must be positive", cfg.Audio.SampleRate))
	}
	if cfg.Audio.FrameSize < 0 {
		errs = append(errs, fmt.Errorf("audio.frame_size %d must be positive", cfg.Audio.FrameSize))
	}
	if cfg.Audio.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("audio.queue_size %d must be positive", cfg.Audio.QueueSize))
	}
	if cfg.Audio.Backend == AudioDiscord {
		for _, key := range []string{"token", "guild_id"} {
			if s, _ := cfg.Audio.Options[key].(string); s == "" {
				errs = append(errs, fmt.Errorf("audio.options.%s is required for the discord backend", key))
			}
		}
	}

	if cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt.name is required"))
	}
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)

	if cfg.Providers.STT.Name == "local" {
		if len(cfg.Local.Models) == 0 {
			errs = append(errs, errors.New("local.models must not be empty when providers.stt is local"))
		}
	}
	modelIDs := make(map[string]int, len(cfg.Local.Models))
	for i, m := range cfg.Local.Models {
		prefix := fmt.Sprintf("local.models[%d]", i)
		if m.ID == "" {
			errs = append(errs, fmt.Errorf("%s.id is required", prefix))
		} else if prev, ok := modelIDs[m.ID]; ok {
			errs = append(errs, fmt.Errorf("%s.id %q is a duplicate of local.models[%d]", prefix, m.ID, prev))
		} else {
			modelIDs[m.ID] = i
		}
		if m.Path == "" {
			errs = append(errs, fmt.Errorf("%s.path is required", prefix))
		}
	}
	if id := cfg.Local.DefaultModel; id != "" {
		if _, ok := modelIDs[id]; !ok {
			errs = append(errs, fmt.Errorf("local.default_model %q is not in local.models", id))
		}
	}

	if cfg.Denoise.Enabled {
		if cfg.Denoise.ModelPath == "" {
			errs = append(errs, errors.New("denoise.model_path is required when denoise is enabled"))
		}
		if cfg.Denoise.Backend != "" && cfg.Denoise.Backend != "spectral" {
			errs = append(errs, fmt.Errorf("denoise.backend %q is invalid; valid values: spectral", cfg.Denoise.Backend))
		}
	}

	if t := cfg.Correction.Temperature; t != nil && (*t < 0 || *t > 2) {
		errs = append(errs, fmt.Errorf("correction.temperature %.2f is out of range [0, 2]", *t))
	}
	if cfg.Correction.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("correction.max_tokens %d must not be negative", cfg.Correction.MaxTokens))
	}
	if cfg.Correction.Timeout < 0 {
		errs = append(errs, fmt.Errorf("correction.timeout %v must not be negative", cfg.Correction.Timeout))
	}

	modeNames := make(map[string]int, len(cfg.Modes))
	needsLLM := false
	for i, m := range cfg.Modes {
		prefix := fmt.Sprintf("modes[%d]", i)
		if m.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := modeNames[m.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of modes[%d]", prefix, m.Name, prev))
			}
			modeNames[m.Name] = i
		}
		if !m.SkipLLM {
			needsLLM = true
		}
		if m.Denoise && !cfg.Denoise.Enabled {
			slog.Warn("mode requests denoising but denoise is disabled", "mode", m.Name)
		}
	}
	if cfg.DefaultMode != "" {
		if _, ok := modeNames[cfg.DefaultMode]; !ok {
			errs = append(errs, fmt.Errorf("default_mode %q is not in modes", cfg.DefaultMode))
		}
	}
	if needsLLM && cfg.Providers.LLM.Name == "" {
		slog.Warn("modes request correction but providers.llm is not configured; transcripts will be returned uncorrected")
	}

	if !cfg.History.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("history.backend %q is invalid; valid values: sqlite, postgres", cfg.History.Backend))
	}
	if cfg.History.Backend == HistorySQLite && cfg.History.Path == "" {
		errs = append(errs, errors.New("history.path is required for the sqlite backend"))
	}
	if cfg.History.Backend == HistoryPostgres && cfg.History.DSN == "" {
		errs = append(errs, errors.New("history.dsn is required for the postgres backend"))
	}

	if cfg.Resilience.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("resilience.max_failures %d must not be negative", cfg.Resilience.MaxFailures))
	}
	if cfg.Resilience.ResetTimeout < 0 {
		errs = append(errs, fmt.Errorf("resilience.reset_timeout %v must not be negative", cfg.Resilience.ResetTimeout))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
