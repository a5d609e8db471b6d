package discord

import (
	"context"
	"sync"
	"time"

	"chorus/backend/internal/constants"
	"chorus/backend/internal/playback"
	"chorus/backend/internal/player"
	"chorus/backend/internal/voicein"
	apperrors "chorus/backend/pkg/errors"
	"chorus/backend/pkg/logger"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// PlayerHost borrows voice players for guilds
type PlayerHost interface {
	Attach(guildID string, p playback.AudioPlayer)
	Detach(guildID string)
}

// SinkLookup finds the capture sink for a user in a guild
type SinkLookup func(guildID, userID string) voicein.Sink

type voiceLink struct {
	vc     *discordgo.VoiceConnection
	cancel context.CancelFunc
}

// VoiceManager owns the bot's discordgo voice connections
type VoiceManager struct {
	session *discordgo.Session
	host    PlayerHost
	sinks   SinkLookup
	logger  *zap.Logger

	mu    sync.Mutex
	links map[string]*voiceLink
}

// NewVoiceManager creates a voice manager. sinks may be nil when no voice agent
// is configured.
func NewVoiceManager(session *discordgo.Session, host PlayerHost, sinks SinkLookup, log *zap.Logger) *VoiceManager {
	return &VoiceManager{
		session: session,
		host:    host,
		sinks:   sinks,
		logger:  logger.OrDefault(log).Named("voice"),
		links:   make(map[string]*voiceLink),
	}
}

// UserChannel returns the voice channel the user is in
func (v *VoiceManager) UserChannel(guildID, userID string) (string, error) {
	vs, err := v.session.State.VoiceState(guildID, userID)
	if err != nil || vs == nil || vs.ChannelID == "" {
		return "", apperrors.NewPrecondition("You need to be in a voice channel first.")
	}
	return vs.ChannelID, nil
}

// Join connects to channelID, attaches a player and starts forwarding capture
func (v *VoiceManager) Join(guildID, channelID string) error {
	v.mu.Lock()
	existing := v.links[guildID]
	v.mu.Unlock()
	if existing != nil {
		if existing.vc.ChannelID == channelID {
			return nil
		}
		v.logger.Debug("Moving to another voice channel", zap.String("guild_id", guildID))
		_ = v.Leave(guildID)
	}

	vc, err := v.session.ChannelVoiceJoin(guildID, channelID, false, false)
	if err != nil {
		return apperrors.NewTransport("discord", "join voice channel", err)
	}
	v.waitReady(vc)

	p, err := player.ForConnection(vc, v.logger)
	if err != nil {
		vc.Disconnect()
		return err
	}
	v.host.Attach(guildID, p)

	ctx, cancel := context.WithCancel(context.Background())
	if v.sinks != nil {
		bridge := voicein.NewBridge(guildID, func(userID string) voicein.Sink {
			return v.sinks(guildID, userID)
		}, v.logger)
		vc.AddHandler(bridge.HandleSpeakingUpdate)
		go bridge.Run(ctx, vc.OpusRecv)
	}

	v.mu.Lock()
	v.links[guildID] = &voiceLink{vc: vc, cancel: cancel}
	v.mu.Unlock()

	v.logger.Info("Joined voice channel",
		zap.String("guild_id", guildID),
		zap.String("channel_id", channelID),
	)
	return nil
}

func (v *VoiceManager) waitReady(vc *discordgo.VoiceConnection) {
	deadline := time.Now().Add(constants.VoiceReadyTimeout)
	for !isReady(vc) && time.Now().Before(deadline) {
		time.Sleep(100 * time.Millisecond)
	}
	if !isReady(vc) {
		v.logger.Warn("Voice connection not ready yet, continuing anyway")
	}
}

// isReady reads vc.Ready under the connection lock discordgo writes it with
func isReady(vc *discordgo.VoiceConnection) bool {
	vc.RLock()
	defer vc.RUnlock()
	return vc.Ready
}

// Leave disconnects from the guild's voice channel
func (v *VoiceManager) Leave(guildID string) error {
	v.mu.Lock()
	link := v.links[guildID]
	delete(v.links, guildID)
	v.mu.Unlock()

	if link == nil {
		return apperrors.ErrNotConnected
	}

	link.cancel()
	v.host.Detach(guildID)
	link.vc.Disconnect()

	v.logger.Info("Left voice channel", zap.String("guild_id", guildID))
	return nil
}

// Close leaves every voice channel
func (v *VoiceManager) Close() {
	v.mu.Lock()
	ids := make([]string, 0, len(v.links))
	for id := range v.links {
		ids = append(ids, id)
	}
	v.mu.Unlock()

	for _, id := range ids {
		_ = v.Leave(id)
	}
}
