package discord

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"

	"chorus/backend/internal/adapter"
	"chorus/backend/internal/health"
	"chorus/backend/internal/history"
	"chorus/backend/internal/playback"
	"chorus/backend/internal/realtime"
	"chorus/backend/internal/tools"
	apperrors "chorus/backend/pkg/errors"
	"chorus/backend/pkg/logger"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// Playback is the guild audio pipeline
type Playback interface {
	Speak(req playback.SpeakRequest) playback.Result
	PlayPCM(guildID string, mono48 []byte) playback.Result
	SetVolume(guildID string, v float64) float64
	Volume(guildID string) float64
	Stop(guildID string) bool
	Connected(guildID string) bool
	Evict(guildID string)
}

// History is the per-user conversation store
type History interface {
	Get(ctx context.Context, guildID, userID string) []history.Message
	Append(ctx context.Context, guildID, userID string, msg history.Message)
	Clear(ctx context.Context, guildID, userID string)
	VoicePreference(ctx context.Context, guildID, userID string) string
	SetVoicePreference(ctx context.Context, guildID, userID, voice string)
	TTSVoice(ctx context.Context, guildID, userID string) string
	SetTTSVoice(ctx context.Context, guildID, userID, voice string)
	ConversationMode(ctx context.Context, guildID, userID string) string
	SetConversationMode(ctx context.Context, guildID, userID, mode string)
}

// Chat generates text replies
type Chat interface {
	Generate(ctx context.Context, systemPrompt string, turns []adapter.Turn, tools []adapter.Tool) (*adapter.Response, error)
}

// Agents manages realtime voice agent sessions
type Agents interface {
	Start(ctx context.Context, guildID, userID string, onAudio func([]byte)) *realtime.Client
	Stop(guildID, userID string) bool
	CloseGuild(guildID string)
}

// ToolRunner executes catalog tools requested by the chat model
type ToolRunner interface {
	Execute(ctx context.Context, guildID, userID, name string, args map[string]any) (any, error)
}

// Voice joins and leaves voice channels
type Voice interface {
	UserChannel(guildID, userID string) (string, error)
	Join(guildID, channelID string) error
	Leave(guildID string) error
}

// Sender posts channel messages. *discordgo.Session satisfies it.
type Sender interface {
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Deps are the collaborators of the handler. Chat, Agents, Tools and Voices may be nil
// when the corresponding feature is not configured.
type Deps struct {
	Playback Playback
	History  History
	Voices   tools.SpeechVoices
	Chat     Chat
	Agents   Agents
	Tools    ToolRunner
	Voice    Voice
	Sender   Sender
	Flags    *health.Flags
}

// Options configure the command surface
type Options struct {
	Prefix  string
	Persona string
}

// Handler handles Discord messages and gateway events
type Handler struct {
	deps   Deps
	opts   Options
	logger *zap.Logger

	ready atomic.Bool

	mu       sync.Mutex
	channels map[string]string // guildID:userID -> last text channel
}

// NewHandler creates a new Discord message handler
func NewHandler(deps Deps, opts Options, log *zap.Logger) *Handler {
	if opts.Prefix == "" {
		opts.Prefix = "!"
	}
	return &Handler{
		deps:     deps,
		opts:     opts,
		logger:   logger.OrDefault(log).Named("discord"),
		channels: make(map[string]string),
	}
}

// incoming is a message reduced to what the handler needs
type incoming struct {
	GuildID   string
	ChannelID string
	UserID    string
	Content   string
	Mentioned bool
}

func (m incoming) isDM() bool {
	return m.GuildID == ""
}

// Ready reports whether the gateway session is ready
func (h *Handler) Ready() bool {
	return h.ready.Load()
}

func (h *Handler) setReady(ok bool) {
	h.ready.Store(ok)
	if h.deps.Flags != nil {
		h.deps.Flags.Set(health.FlagDiscordReady, ok)
	}
}

// HandleReady marks the bot ready
func (h *Handler) HandleReady(s *discordgo.Session, r *discordgo.Ready) {
	h.setReady(true)
	h.logger.Info("Discord session ready",
		zap.String("user", r.User.Username),
		zap.Int("guilds", len(r.Guilds)),
	)
}

// HandleDisconnect marks the bot not ready until the next Ready
func (h *Handler) HandleDisconnect(s *discordgo.Session, d *discordgo.Disconnect) {
	h.setReady(false)
	h.logger.Warn("Discord session disconnected")
}

// HandleGuildDelete releases everything held for a guild the bot left
func (h *Handler) HandleGuildDelete(s *discordgo.Session, g *discordgo.GuildDelete) {
	if g.Unavailable {
		// Outage, not a removal
		return
	}
	if err := h.LeaveVoice(g.ID); err != nil && !errors.Is(err, apperrors.ErrNotConnected) {
		h.logger.Warn("Failed to leave voice in removed guild", zap.String("guild_id", g.ID), zap.Error(err))
	}
}

func (h *Handler) evictGuild(guildID string) {
	if h.deps.Agents != nil {
		h.deps.Agents.CloseGuild(guildID)
	}
	h.deps.Playback.Evict(guildID)
	h.logger.Info("Released guild state", zap.String("guild_id", guildID))
}

// HandleMessage processes a Discord message
func (h *Handler) HandleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	// Ignore bots, including ourselves
	if m.Author == nil || m.Author.Bot {
		return
	}

	botID := s.State.User.ID
	content := strings.TrimSpace(m.Content)
	mentioned := false
	for _, mention := range m.Mentions {
		if mention.ID == botID {
			mentioned = true
			break
		}
	}
	for _, tag := range []string{"<@" + botID + ">", "<@!" + botID + ">"} {
		if strings.Contains(content, tag) {
			mentioned = true
			content = strings.TrimSpace(strings.ReplaceAll(content, tag, ""))
		}
	}

	h.handle(incoming{
		GuildID:   m.GuildID,
		ChannelID: m.ChannelID,
		UserID:    m.Author.ID,
		Content:   content,
		Mentioned: mentioned,
	})
}

func (h *Handler) handle(msg incoming) {
	if msg.Content == "" {
		return
	}

	if strings.HasPrefix(msg.Content, h.opts.Prefix) {
		h.rememberChannel(msg)
		h.handleCommand(msg)
		return
	}

	// Only chat on DMs or mentions
	if !msg.isDM() && !msg.Mentioned {
		return
	}
	h.rememberChannel(msg)
	h.handleChat(msg)
}

func channelKey(guildID, userID string) string {
	return guildID + ":" + userID
}

func (h *Handler) rememberChannel(msg incoming) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.channels[channelKey(msg.GuildID, msg.UserID)] = msg.ChannelID
}

func (h *Handler) lastChannel(guildID, userID string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.channels[channelKey(guildID, userID)]
}
