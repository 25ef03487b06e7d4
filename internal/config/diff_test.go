package config_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/voxpipe/internal/config"
)

func baseConfig() *config.Config {
	return &config.Config{
		Server:    config.ServerConfig{LogLevel: config.LogInfo, ListenAddr: ":8080"},
		Providers: config.ProvidersConfig{STT: config.ProviderEntry{Name: "openai", APIKey: "k"}},
		Modes: []config.ModeConfig{
			{Name: "dictation", SystemPrompt: "Fix."},
			{Name: "raw", SkipLLM: true},
		},
		Vocabulary: []string{"Kubernetes"},
	}
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	d := config.Diff(baseConfig(), baseConfig())
	if !d.Empty() {
		t.Errorf("expected empty diff, got %+v", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	new := baseConfig()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(baseConfig(), new)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("diff = %+v", d)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("log level must not require restart: %v", d.RestartRequired)
	}
}

func TestDiff_Modes(t *testing.T) {
	t.Parallel()
	new := baseConfig()
	new.Modes[0].SystemPrompt = "Fix grammar."
	new.Modes = append(new.Modes[:1], config.ModeConfig{Name: "email"})

	d := config.Diff(baseConfig(), new)
	if !d.ModesChanged {
		t.Fatal("expected ModesChanged")
	}
	want := []config.ModeDiff{
		{Name: "dictation"},
		{Name: "raw", Removed: true},
		{Name: "email", Added: true},
	}
	if !slices.Equal(d.ModeChanges, want) {
		t.Errorf("ModeChanges = %+v, want %+v", d.ModeChanges, want)
	}
}

func TestDiff_ProvidersAndVocabulary(t *testing.T) {
	t.Parallel()
	new := baseConfig()
	new.Providers.STT.Model = "whisper-1"
	new.Providers.LLM = config.ProviderEntry{Name: "ollama"}
	new.Vocabulary = append(new.Vocabulary, "Grafana")

	d := config.Diff(baseConfig(), new)
	if !d.STTChanged || !d.LLMChanged || !d.VocabularyChanged {
		t.Errorf("diff = %+v", d)
	}
	if d.ModesChanged {
		t.Error("modes did not change")
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	new := baseConfig()
	new.Server.ListenAddr = ":9090"
	new.Audio.Device = "Headset"
	new.History.Backend = config.HistorySQLite

	d := config.Diff(baseConfig(), new)
	want := []string{"server.listen_addr", "audio", "history"}
	if !slices.Equal(d.RestartRequired, want) {
		t.Errorf("RestartRequired = %v, want %v", d.RestartRequired, want)
	}
	if d.Empty() {
		t.Error("Empty() = true")
	}
}
