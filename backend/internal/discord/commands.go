package discord

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"chorus/backend/internal/constants"
	"chorus/backend/internal/history"
	"chorus/backend/internal/pcm"
	"chorus/backend/internal/playback"
	"chorus/backend/internal/tools"
	apperrors "chorus/backend/pkg/errors"

	"go.uber.org/zap"
)

// Command names
const (
	CmdJoin   = "join"
	CmdLeave  = "leave"
	CmdSay    = "say"
	CmdStop   = "stop"
	CmdVoice  = "voice"
	CmdVolume = "volume"
	CmdTalk   = "talk"
	CmdMode   = "mode"
	CmdForget = "forget"
	CmdHelp   = "help"
)

const helpText = "**Commands**\n" +
	"`%[1]sjoin` join your voice channel\n" +
	"`%[1]sleave` leave the voice channel\n" +
	"`%[1]ssay <text>` speak text in the voice channel\n" +
	"`%[1]sstop` stop the current clip\n" +
	"`%[1]svoice [name]` show or set your voice\n" +
	"`%[1]svolume [0-100]` show or set the volume\n" +
	"`%[1]stalk` start or stop a live voice conversation\n" +
	"`%[1]smode text|voice` reply to mentions in text only or also out loud\n" +
	"`%[1]sforget` clear our conversation history\n" +
	"Mention me to chat."

const msgGuildOnly = "That command only works in a server."

func (h *Handler) handleCommand(msg incoming) {
	body := strings.TrimSpace(strings.TrimPrefix(msg.Content, h.opts.Prefix))
	name, arg, _ := strings.Cut(body, " ")
	name = strings.ToLower(name)
	arg = strings.TrimSpace(arg)

	if name != CmdHelp && msg.isDM() {
		if isCommand(name) {
			h.reply(msg, msgGuildOnly)
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), constants.ChatTurnTimeout)
	defer cancel()

	h.logger.Debug("Handling command",
		zap.String("command", name),
		zap.String("guild_id", msg.GuildID),
		zap.String("user_id", msg.UserID),
	)

	switch name {
	case CmdJoin:
		h.cmdJoin(msg)
	case CmdLeave:
		h.cmdLeave(msg)
	case CmdSay:
		h.cmdSay(ctx, msg, arg)
	case CmdStop:
		if !h.deps.Playback.Stop(msg.GuildID) {
			h.reply(msg, "Nothing is playing.")
		}
	case CmdVoice:
		h.cmdVoice(ctx, msg, arg)
	case CmdVolume:
		h.cmdVolume(msg, arg)
	case CmdTalk:
		h.cmdTalk(ctx, msg)
	case CmdMode:
		h.cmdMode(ctx, msg, arg)
	case CmdForget:
		h.deps.History.Clear(ctx, msg.GuildID, msg.UserID)
		h.reply(msg, "Forgot our conversation.")
	case CmdHelp:
		h.reply(msg, fmt.Sprintf(helpText, h.opts.Prefix))
	}
}

func isCommand(name string) bool {
	switch name {
	case CmdJoin, CmdLeave, CmdSay, CmdStop, CmdVoice, CmdVolume, CmdTalk, CmdMode, CmdForget, CmdHelp:
		return true
	}
	return false
}

func (h *Handler) cmdJoin(msg incoming) {
	channelID, err := h.deps.Voice.UserChannel(msg.GuildID, msg.UserID)
	if err != nil {
		h.replyError(msg, err)
		return
	}
	if err := h.deps.Voice.Join(msg.GuildID, channelID); err != nil {
		h.logger.Error("Failed to join voice channel",
			zap.String("guild_id", msg.GuildID),
			zap.String("channel_id", channelID),
			zap.Error(err),
		)
		h.replyError(msg, err)
		return
	}
	h.reply(msg, fmt.Sprintf("Joined <#%s>.", channelID))
}

func (h *Handler) cmdLeave(msg incoming) {
	if err := h.LeaveVoice(msg.GuildID); err != nil {
		h.replyError(msg, err)
		return
	}
	h.reply(msg, "Left the voice channel.")
}

func (h *Handler) cmdSay(ctx context.Context, msg incoming, text string) {
	if text == "" {
		h.reply(msg, fmt.Sprintf("Usage: `%ssay <text>`", h.opts.Prefix))
		return
	}
	res := h.deps.Playback.Speak(playback.SpeakRequest{
		GuildID: msg.GuildID,
		Text:    text,
		Voice:   h.deps.History.TTSVoice(ctx, msg.GuildID, msg.UserID),
	})
	if !res.OK() {
		h.reply(msg, res.Message)
	}
}

func (h *Handler) cmdVoice(ctx context.Context, msg incoming, arg string) {
	available := strings.Join(tools.KnownVoices(h.deps.Voices), ", ")
	if arg == "" {
		agent := orDefault(h.deps.History.VoicePreference(ctx, msg.GuildID, msg.UserID))
		speech := orDefault(h.deps.History.TTSVoice(ctx, msg.GuildID, msg.UserID))
		h.reply(msg, fmt.Sprintf("Your agent voice is **%s** and your speech voice is **%s**. Available: %s", agent, speech, available))
		return
	}

	change, err := tools.ApplyVoice(ctx, h.deps.History, h.deps.Voices, msg.GuildID, msg.UserID, arg)
	if err != nil {
		h.reply(msg, fmt.Sprintf("Unknown voice. Choose one of: %s", available))
		return
	}
	switch {
	case change.Agent && change.Speech:
		h.reply(msg, fmt.Sprintf("Voice set to **%s**.", change.Voice))
	case change.Agent:
		h.reply(msg, fmt.Sprintf("Agent voice set to **%s**. `%ssay` keeps its current voice.", change.Voice, h.opts.Prefix))
	default:
		h.reply(msg, fmt.Sprintf("Speech voice set to **%s**. `%stalk` keeps its current voice.", change.Voice, h.opts.Prefix))
	}
}

func (h *Handler) cmdVolume(msg incoming, arg string) {
	if arg == "" {
		h.reply(msg, fmt.Sprintf("Volume is %d%%.", percent(h.deps.Playback.Volume(msg.GuildID))))
		return
	}

	level, err := strconv.Atoi(strings.TrimSuffix(arg, "%"))
	if err != nil || level < 0 || level > 100 {
		h.reply(msg, "Volume must be a number from 0 to 100.")
		return
	}
	applied := h.deps.Playback.SetVolume(msg.GuildID, float64(level)/100)
	h.reply(msg, fmt.Sprintf("Volume set to %d%%.", percent(applied)))
}

func percent(v float64) int {
	return int(math.Round(v * 100))
}

func (h *Handler) cmdTalk(ctx context.Context, msg incoming) {
	if h.deps.Agents == nil {
		h.replyError(msg, apperrors.ErrNotInitialized)
		return
	}
	if h.deps.Agents.Stop(msg.GuildID, msg.UserID) {
		h.reply(msg, "Voice conversation ended.")
		return
	}
	if !h.deps.Playback.Connected(msg.GuildID) {
		h.reply(msg, constants.MsgNotConnected)
		return
	}

	guildID := msg.GuildID
	client := h.deps.Agents.Start(ctx, guildID, msg.UserID, func(reply []byte) {
		res := h.deps.Playback.PlayPCM(guildID, pcm.Resample24To48(reply))
		if !res.OK() {
			h.logger.Warn("Dropped agent reply", zap.String("guild_id", guildID), zap.String("reason", res.Message))
		}
	})
	if client == nil {
		h.reply(msg, "The voice agent is unavailable right now, try again later.")
		return
	}
	h.reply(msg, "I'm listening. Talk to me in the voice channel.")
}

func (h *Handler) cmdMode(ctx context.Context, msg incoming, arg string) {
	mode := strings.ToLower(arg)
	switch mode {
	case history.ModeText, history.ModeVoice:
		h.deps.History.SetConversationMode(ctx, msg.GuildID, msg.UserID, mode)
		h.reply(msg, fmt.Sprintf("Conversation mode set to **%s**.", mode))
	case "":
		h.reply(msg, fmt.Sprintf("Conversation mode is **%s**.", h.deps.History.ConversationMode(ctx, msg.GuildID, msg.UserID)))
	default:
		h.reply(msg, fmt.Sprintf("Usage: `%smode text|voice`", h.opts.Prefix))
	}
}

// LeaveVoice disconnects from the guild's voice channel and releases its state
func (h *Handler) LeaveVoice(guildID string) error {
	err := h.deps.Voice.Leave(guildID)
	h.evictGuild(guildID)
	return err
}

// SendText posts text to the channel the user last talked to the bot in
func (h *Handler) SendText(guildID, userID, text string) error {
	channelID := h.lastChannel(guildID, userID)
	if channelID == "" {
		return apperrors.NewPrecondition("no text channel known for this conversation")
	}
	return h.sendLongMessage(channelID, text)
}

func orDefault(voice string) string {
	if voice == "" {
		return "default"
	}
	return voice
}
