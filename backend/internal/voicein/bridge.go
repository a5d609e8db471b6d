// Package voicein decodes Discord voice capture and forwards each user's audio to
// their voice agent session.
package voicein

import (
	"context"
	"sync"

	"chorus/backend/internal/constants"
	"chorus/backend/internal/pcm"
	"chorus/backend/pkg/logger"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
	"gopkg.in/hraban/opus.v2"
)

// maxFrameSamples is the largest opus frame (120ms) per channel at 48kHz
const maxFrameSamples = 5760

// Sink receives 48kHz stereo PCM16 capture
type Sink interface {
	SendAudio(stereo48 []byte)
}

// TargetFunc returns the sink for a user, or nil when nobody is listening
type TargetFunc func(userID string) Sink

// Decoder decodes one opus packet into interleaved samples and returns the
// number of samples per channel
type Decoder interface {
	Decode(data []byte, pcm []int16) (int, error)
}

// NewOpusDecoder returns a libopus decoder for the Discord transport format
func NewOpusDecoder() (Decoder, error) {
	dec, err := opus.NewDecoder(constants.DiscordSampleRate, constants.DiscordChannels)
	if err != nil {
		return nil, err
	}
	return dec, nil
}

// Bridge routes one guild's inbound voice packets by SSRC
type Bridge struct {
	guildID string
	target  TargetFunc
	logger  *zap.Logger

	mu         sync.Mutex
	users      map[uint32]string
	decoders   map[uint32]Decoder
	newDecoder func() (Decoder, error)
}

// NewBridge creates a bridge for guildID
func NewBridge(guildID string, target TargetFunc, log *zap.Logger) *Bridge {
	return &Bridge{
		guildID:    guildID,
		target:     target,
		logger:     logger.OrDefault(log).Named("voicein").With(zap.String("guild_id", guildID)),
		users:      make(map[uint32]string),
		decoders:   make(map[uint32]Decoder),
		newDecoder: NewOpusDecoder,
	}
}

// MapSSRC records which user owns an SSRC
func (b *Bridge) MapSSRC(ssrc uint32, userID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if prev, ok := b.users[ssrc]; ok && prev != userID {
		delete(b.decoders, ssrc)
	}
	b.users[ssrc] = userID
}

// HandleSpeakingUpdate is registered on the voice connection to learn SSRCs
func (b *Bridge) HandleSpeakingUpdate(_ *discordgo.VoiceConnection, vs *discordgo.VoiceSpeakingUpdate) {
	b.logger.Debug("Speaking update",
		zap.String("user_id", vs.UserID),
		zap.Int("ssrc", vs.SSRC),
		zap.Bool("speaking", vs.Speaking),
	)
	b.MapSSRC(uint32(vs.SSRC), vs.UserID)
}

// HandlePacket decodes one opus packet and forwards it to the owner's sink.
// Packets from unknown SSRCs or users without a session are dropped.
func (b *Bridge) HandlePacket(ssrc uint32, packet []byte) {
	if len(packet) == 0 {
		return
	}

	b.mu.Lock()
	userID, known := b.users[ssrc]
	b.mu.Unlock()
	if !known {
		return
	}

	sink := b.target(userID)
	if sink == nil {
		return
	}

	dec, err := b.decoder(ssrc)
	if err != nil {
		b.logger.Warn("Failed to create opus decoder", zap.Uint32("ssrc", ssrc), zap.Error(err))
		return
	}

	samples := make([]int16, maxFrameSamples*constants.DiscordChannels)
	n, err := dec.Decode(packet, samples)
	if err != nil {
		b.logger.Debug("Dropping undecodable opus packet", zap.Uint32("ssrc", ssrc), zap.Error(err))
		return
	}

	sink.SendAudio(pcm.SamplesToBytes(samples[:n*constants.DiscordChannels]))
}

func (b *Bridge) decoder(ssrc uint32) (Decoder, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if dec, ok := b.decoders[ssrc]; ok {
		return dec, nil
	}
	dec, err := b.newDecoder()
	if err != nil {
		return nil, err
	}
	b.decoders[ssrc] = dec
	return dec, nil
}

// Run consumes packets until ctx is done or the channel closes
func (b *Bridge) Run(ctx context.Context, packets <-chan *discordgo.Packet) {
	for {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-packets:
			if !ok {
				return
			}
			if p != nil {
				b.HandlePacket(p.SSRC, p.Opus)
			}
		}
	}
}
