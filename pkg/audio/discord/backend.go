// Package discord provides an [audio.Backend] that captures a speaker from a
// Discord voice channel via the bwmarrin/discordgo library.
//
// Voice channels of the configured guild play the role of input devices. The
// backend joins the selected channel muted, decodes the Opus stream of the
// configured speaker (or of every speaker when none is configured) and hands
// 48 kHz stereo PCM to the capture stage.
package discord

import (
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/voxpipe/pkg/audio"
)

var _ audio.Backend = (*Backend)(nil)

// Backend implements [audio.Backend] over a discordgo session. The session is
// owned by the caller and must be open.
//
// Backend is safe for concurrent use.
type Backend struct {
	session   *discordgo.Session
	guildID   string
	speakerID string
}

// Option configures a [Backend].
type Option func(*Backend)

// WithSpeaker restricts capture to the Discord user with the given id.
func WithSpeaker(userID string) Option {
	return func(b *Backend) { b.speakerID = userID }
}

// New creates a Backend for the guild identified by guildID.
func New(session *discordgo.Session, guildID string, opts ...Option) *Backend {
	b := &Backend{session: session, guildID: guildID}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Devices implements [audio.Backend]. Every voice channel of the guild is a
// device; the first one is marked default.
func (b *Backend) Devices() ([]audio.Device, error) {
	channels, err := b.session.GuildChannels(b.guildID)
	if err != nil {
		return nil, fmt.Errorf("discord: list channels: %w", err)
	}
	var out []audio.Device
	for _, ch := range channels {
		if ch.Type != discordgo.ChannelTypeGuildVoice {
			continue
		}
		out = append(out, audio.Device{ID: ch.ID, Name: ch.Name, Default: len(out) == 0})
	}
	return out, nil
}

// Open implements [audio.Backend]. It joins channelID muted (the pipeline
// never speaks) and starts decoding. frameSize is ignored; Discord delivers
// fixed 20 ms packets.
func (b *Backend) Open(channelID string, _ int, onData func([]float32, audio.Format)) (audio.Stream, error) {
	if channelID == "" {
		devices, err := b.Devices()
		if err != nil {
			return nil, err
		}
		if len(devices) == 0 {
			return nil, audio.ErrDeviceNotFound
		}
		channelID = devices[0].ID
	}

	vc, err := b.session.ChannelVoiceJoin(b.guildID, channelID, true, false)
	if err != nil {
		return nil, fmt.Errorf("discord: join voice channel %q: %w", channelID, err)
	}

	in := newInput(vc, b.speakerID, onData)
	vc.AddHandler(in.handleSpeakingUpdate)
	go in.recvLoop()
	return in, nil
}
