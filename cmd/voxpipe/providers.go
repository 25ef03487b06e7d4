package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"
	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"google.golang.org/api/option"

	"github.com/MrWong99/voxpipe/internal/config"
	"github.com/MrWong99/voxpipe/pkg/audio"
	"github.com/MrWong99/voxpipe/pkg/audio/discord"
	"github.com/MrWong99/voxpipe/pkg/audio/portaudio"
	"github.com/MrWong99/voxpipe/pkg/provider/llm"
	"github.com/MrWong99/voxpipe/pkg/provider/llm/anyllm"
	oaillm "github.com/MrWong99/voxpipe/pkg/provider/llm/openai"
	"github.com/MrWong99/voxpipe/pkg/provider/stt"
	"github.com/MrWong99/voxpipe/pkg/provider/stt/deepgram"
	"github.com/MrWong99/voxpipe/pkg/provider/stt/google"
	"github.com/MrWong99/voxpipe/pkg/provider/stt/multipart"
	"github.com/MrWong99/voxpipe/pkg/provider/stt/native"
	"github.com/MrWong99/voxpipe/pkg/provider/stt/soniox"
)

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages. The local STT provider is
// registered by the app itself because it reads the model catalog.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oaillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(entry.BaseURL))
		}
		if org := entry.OptionString("organization"); org != "" {
			opts = append(opts, oaillm.WithOrganization(org))
		}
		return oaillm.New(entry.APIKey, entry.Model, opts...)
	})

	// Every other backend goes through any-llm: optional APIKey + optional BaseURL.
	for _, providerName := range anyllm.Backends() {
		if providerName == "openai" {
			continue
		}
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ── STT ───────────────────────────────────────────────────────────────────

	for name := range multipart.Presets {
		reg.RegisterSTT(name, func(entry config.ProviderEntry) (stt.Provider, error) {
			variant, err := multipart.Lookup(name)
			if err != nil {
				return nil, err
			}
			opts := []multipart.Option{multipart.WithAPIKey(entry.APIKey)}
			if entry.Model != "" {
				opts = append(opts, multipart.WithModel(entry.Model))
			}
			if entry.BaseURL != "" {
				opts = append(opts, multipart.WithEndpoint(entry.BaseURL))
			}
			if d, err := optDuration(entry, "timeout"); err != nil {
				return nil, err
			} else if d > 0 {
				opts = append(opts, multipart.WithTimeout(d))
			}
			return multipart.New(variant, opts...)
		})
	}

	reg.RegisterSTT("soniox", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []soniox.Option
		if entry.BaseURL != "" {
			opts = append(opts, soniox.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, soniox.WithModel(entry.Model))
		}
		return soniox.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		dg, err := newDeepgram(entry)
		if err != nil {
			return nil, err
		}
		return native.New(dg), nil
	})

	reg.RegisterSTT("google", func(entry config.ProviderEntry) (stt.Provider, error) {
		g, err := newGoogle(entry)
		if err != nil {
			return nil, err
		}
		if entry.OptionBool("live") {
			return &liveGoogle{Recognizer: native.New(g), google: g}, nil
		}
		return g, nil
	})

	// native is the live recognizer over whichever streaming backend the
	// options name. Default: deepgram.
	reg.RegisterSTT("native", func(entry config.ProviderEntry) (stt.Provider, error) {
		switch backend := entry.OptionString("backend"); backend {
		case "", "deepgram":
			dg, err := newDeepgram(entry)
			if err != nil {
				return nil, err
			}
			return native.New(dg), nil
		case "google":
			g, err := newGoogle(entry)
			if err != nil {
				return nil, err
			}
			return &liveGoogle{Recognizer: native.New(g), google: g}, nil
		default:
			return nil, fmt.Errorf("native: unknown streaming backend %q", backend)
		}
	})

	// ── Audio ─────────────────────────────────────────────────────────────────

	reg.RegisterAudio(config.AudioPortAudio, func(config.AudioConfig) (audio.Backend, error) {
		return portaudio.New()
	})

	reg.RegisterAudio(config.AudioDiscord, func(ac config.AudioConfig) (audio.Backend, error) {
		token := optString(ac.Options, "token")
		guildID := optString(ac.Options, "guild_id")
		if token == "" || guildID == "" {
			return nil, errors.New("discord: token and guild_id are required")
		}
		dg, err := discordgo.New("Bot " + token)
		if err != nil {
			return nil, fmt.Errorf("discord: create session: %w", err)
		}
		dg.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates
		if err := dg.Open(); err != nil {
			return nil, fmt.Errorf("discord: open gateway: %w", err)
		}
		var opts []discord.Option
		if speaker := optString(ac.Options, "speaker_user_id"); speaker != "" {
			opts = append(opts, discord.WithSpeaker(speaker))
		}
		slog.Info("discord gateway connected", "guild_id", guildID)
		return &discordBackend{Backend: discord.New(dg, guildID, opts...), session: dg}, nil
	})

	for _, name := range reg.STTNames() {
		slog.Debug("registered provider", "kind", "stt", "name", name)
	}
	for _, name := range reg.LLMNames() {
		slog.Debug("registered provider", "kind", "llm", "name", name)
	}
}

func newDeepgram(entry config.ProviderEntry) (*deepgram.Provider, error) {
	var opts []deepgram.Option
	if entry.Model != "" {
		opts = append(opts, deepgram.WithModel(entry.Model))
	}
	if entry.Language != "" {
		opts = append(opts, deepgram.WithLanguage(entry.Language))
	}
	if entry.BaseURL != "" {
		opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
	}
	return deepgram.New(entry.APIKey, opts...)
}

func newGoogle(entry config.ProviderEntry) (*google.Provider, error) {
	var copts []option.ClientOption
	if entry.APIKey != "" {
		copts = append(copts, option.WithAPIKey(entry.APIKey))
	}
	if entry.BaseURL != "" {
		copts = append(copts, option.WithEndpoint(entry.BaseURL))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return google.New(ctx, google.Config{
		LanguageCode:  entry.Language,
		Model:         entry.Model,
		ClientOptions: copts,
	})
}

// liveGoogle is the live Google recognizer. It closes the Speech client
// together with the recognizer.
type liveGoogle struct {
	*native.Recognizer
	google *google.Provider
}

func (l *liveGoogle) Close() error { return l.google.Close() }

// discordBackend owns the gateway session it captures from.
type discordBackend struct {
	*discord.Backend
	session *discordgo.Session
}

func (d *discordBackend) Close() error { return d.session.Close() }

// optDuration parses a duration option such as "90s".
func optDuration(entry config.ProviderEntry, key string) (time.Duration, error) {
	s := entry.OptionString(key)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("option %s: %w", key, err)
	}
	return d, nil
}

// optString extracts a string value from an Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	s, _ := opts[key].(string)
	return s
}
