package discord

import (
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/voxpipe/pkg/audio"
)

var _ audio.Stream = (*input)(nil)

// input is an open capture on one voice channel.
type input struct {
	vc      *discordgo.VoiceConnection
	speaker string
	onData  func([]float32, audio.Format)

	mu       sync.RWMutex
	ssrcUser map[uint32]string

	done      chan struct{}
	closeOnce sync.Once

	// disconnectVC tears down the voice connection. Defaults to
	// vc.Disconnect; overridden in tests.
	disconnectVC func() error
}

func newInput(vc *discordgo.VoiceConnection, speaker string, onData func([]float32, audio.Format)) *input {
	return &input{
		vc:           vc,
		speaker:      speaker,
		onData:       onData,
		ssrcUser:     make(map[uint32]string),
		done:         make(chan struct{}),
		disconnectVC: vc.Disconnect,
	}
}

// Close leaves the voice channel and stops decoding. It is safe to call more
// than once; subsequent calls return nil.
func (in *input) Close() error {
	var err error
	in.closeOnce.Do(func() {
		close(in.done)
		if in.disconnectVC != nil {
			err = in.disconnectVC()
		}
	})
	return err
}

// handleSpeakingUpdate records which user owns an SSRC.
func (in *input) handleSpeakingUpdate(_ *discordgo.VoiceConnection, vs *discordgo.VoiceSpeakingUpdate) {
	in.mu.Lock()
	in.ssrcUser[uint32(vs.SSRC)] = vs.UserID
	in.mu.Unlock()
}

// accept reports whether packets from ssrc belong to the captured speaker.
func (in *input) accept(ssrc uint32) bool {
	if in.speaker == "" {
		return true
	}
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.ssrcUser[ssrc] == in.speaker
}

// recvLoop reads Opus packets, filters them by speaker, decodes them and
// forwards the PCM as float32.
func (in *input) recvLoop() {
	decoders := make(map[uint32]*opusDecoder)
	format := audio.Format{SampleRate: opusSampleRate, Channels: opusChannels}

	for {
		select {
		case <-in.done:
			return
		case pkt, ok := <-in.vc.OpusRecv:
			if !ok {
				return
			}
			if pkt == nil || !in.accept(pkt.SSRC) {
				continue
			}

			dec, exists := decoders[pkt.SSRC]
			if !exists {
				var err error
				dec, err = newOpusDecoder()
				if err != nil {
					slog.Error("discord: failed to create opus decoder", "ssrc", pkt.SSRC, "err", err)
					continue
				}
				decoders[pkt.SSRC] = dec
			}

			pcm, err := dec.decode(pkt.Opus)
			if err != nil {
				slog.Warn("discord: opus decode error", "ssrc", pkt.SSRC, "err", err)
				continue
			}

			select {
			case <-in.done:
				return
			default:
			}
			in.onData(audio.Int16ToFloat32(pcm), format)
		}
	}
}
