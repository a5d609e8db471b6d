package player

import (
	"context"
	"time"

	"chorus/backend/internal/constants"
	apperrors "chorus/backend/pkg/errors"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
	"gopkg.in/hraban/opus.v2"
)

// VoiceSink sends opus packets over a discordgo voice connection. discordgo's own
// sender paces OpusSend at 20ms, so a blocked channel means the connection stalled.
type VoiceSink struct {
	vc      *discordgo.VoiceConnection
	timeout time.Duration
}

// NewVoiceSink wraps a live voice connection
func NewVoiceSink(vc *discordgo.VoiceConnection) *VoiceSink {
	return &VoiceSink{vc: vc, timeout: constants.OpusSendTimeout}
}

// SendOpus hands one packet to the connection
func (s *VoiceSink) SendOpus(ctx context.Context, frame []byte) error {
	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case s.vc.OpusSend <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return apperrors.NewTimeout("opus send", s.timeout)
	}
}

// Speaking toggles the speaking indicator
func (s *VoiceSink) Speaking(speaking bool) error {
	return s.vc.Speaking(speaking)
}

// NewOpusEncoder returns a libopus encoder for the Discord transport format
func NewOpusEncoder() (Encoder, error) {
	enc, err := opus.NewEncoder(constants.DiscordSampleRate, constants.DiscordChannels, opus.AppAudio)
	if err != nil {
		return nil, err
	}
	return enc, nil
}

// ForConnection builds a player bound to vc with a fresh opus encoder
func ForConnection(vc *discordgo.VoiceConnection, log *zap.Logger) (*Player, error) {
	enc, err := NewOpusEncoder()
	if err != nil {
		return nil, apperrors.NewTransport("opus", "create encoder", err)
	}
	return New(NewVoiceSink(vc), enc, log), nil
}
