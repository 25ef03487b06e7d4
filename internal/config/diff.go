package config

import (
	"maps"
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Modes, vocabulary, providers and the log level apply to the next session;
// everything else needs a restart.
type ConfigDiff struct {
	ModesChanged       bool
	ModeChanges        []ModeDiff
	DefaultModeChanged bool
	VocabularyChanged  bool
	STTChanged         bool
	LLMChanged         bool
	CorrectionChanged  bool
	LogLevelChanged    bool
	NewLogLevel        LogLevel

	// RestartRequired lists top-level sections that changed but are only read
	// at startup.
	RestartRequired []string
}

// ModeDiff describes what changed for a single mode between two configs.
type ModeDiff struct {
	Name    string
	Added   bool
	Removed bool
}

// Empty reports whether d contains no changes.
func (d ConfigDiff) Empty() bool {
	return !d.ModesChanged && !d.DefaultModeChanged && !d.VocabularyChanged &&
		!d.STTChanged && !d.LLMChanged && !d.CorrectionChanged &&
		!d.LogLevelChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	oldModes := make(map[string]ModeConfig, len(old.Modes))
	for _, m := range old.Modes {
		oldModes[m.Name] = m
	}
	newModes := make(map[string]ModeConfig, len(new.Modes))
	for _, m := range new.Modes {
		newModes[m.Name] = m
	}
	for _, name := range slices.Sorted(maps.Keys(oldModes)) {
		nm, ok := newModes[name]
		switch {
		case !ok:
			d.ModeChanges = append(d.ModeChanges, ModeDiff{Name: name, Removed: true})
		case nm != oldModes[name]:
			d.ModeChanges = append(d.ModeChanges, ModeDiff{Name: name})
		}
	}
	for _, name := range slices.Sorted(maps.Keys(newModes)) {
		if _, ok := oldModes[name]; !ok {
			d.ModeChanges = append(d.ModeChanges, ModeDiff{Name: name, Added: true})
		}
	}
	d.ModesChanged = len(d.ModeChanges) > 0
	d.DefaultModeChanged = old.DefaultMode != new.DefaultMode

	d.VocabularyChanged = !slices.Equal(old.Vocabulary, new.Vocabulary)
	d.STTChanged = !reflect.DeepEqual(old.Providers.STT, new.Providers.STT) ||
		!reflect.DeepEqual(old.Local, new.Local)
	d.LLMChanged = !reflect.DeepEqual(old.Providers.LLM, new.Providers.LLM)
	d.CorrectionChanged = !reflect.DeepEqual(old.Correction, new.Correction)

	restart := []struct {
		name    string
		changed bool
	}{
		{"server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr},
		{"server.otlp_endpoint", old.Server.OTLPEndpoint != new.Server.OTLPEndpoint},
		{"audio", !reflect.DeepEqual(old.Audio, new.Audio)},
		{"denoise", old.Denoise != new.Denoise},
		{"history", old.History != new.History},
		{"events", old.Events != new.Events},
		{"resilience", old.Resilience != new.Resilience},
		{"temp_dir", old.TempDir != new.TempDir},
	}
	for _, r := range restart {
		if r.changed {
			d.RestartRequired = append(d.RestartRequired, r.name)
		}
	}
	return d
}
