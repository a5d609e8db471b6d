package discord

import (
	"context"
	"strings"

	"chorus/backend/internal/adapter"
	"chorus/backend/internal/constants"
	"chorus/backend/internal/history"
	"chorus/backend/internal/playback"
	"chorus/backend/internal/tools"
	apperrors "chorus/backend/pkg/errors"

	"github.com/bytedance/sonic"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// handleChat runs one text chat turn. In voice mode the reply is also spoken.
func (h *Handler) handleChat(msg incoming) {
	if h.deps.Chat == nil {
		h.replyError(msg, apperrors.ErrNotInitialized)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), constants.ChatTurnTimeout)
	defer cancel()

	h.logger.Info("Processing chat message",
		zap.String("guild_id", msg.GuildID),
		zap.String("user_id", msg.UserID),
		zap.String("channel_id", msg.ChannelID),
	)

	past := h.deps.History.Get(ctx, msg.GuildID, msg.UserID)
	turns := make([]adapter.Turn, 0, len(past)+1)
	for _, m := range past {
		turns = append(turns, adapter.Turn{Role: m.Role, Content: m.Content})
	}
	turns = append(turns, adapter.Turn{Role: openai.ChatMessageRoleUser, Content: msg.Content})

	reply, err := h.generate(ctx, msg, turns)
	if err != nil {
		h.logger.Error("Failed to generate chat reply",
			zap.String("user_id", msg.UserID),
			zap.Error(err),
		)
		h.replyError(msg, err)
		return
	}

	h.deps.History.Append(ctx, msg.GuildID, msg.UserID, history.Message{Role: history.RoleUser, Content: msg.Content})
	h.deps.History.Append(ctx, msg.GuildID, msg.UserID, history.Message{Role: history.RoleAssistant, Content: reply})

	if err := h.sendLongMessage(msg.ChannelID, reply); err != nil {
		return
	}

	if msg.isDM() || h.deps.History.ConversationMode(ctx, msg.GuildID, msg.UserID) != history.ModeVoice {
		return
	}
	res := h.deps.Playback.Speak(playback.SpeakRequest{
		GuildID: msg.GuildID,
		Text:    reply,
		Voice:   h.deps.History.TTSVoice(ctx, msg.GuildID, msg.UserID),
	})
	if !res.OK() {
		h.logger.Debug("Chat reply not spoken",
			zap.String("guild_id", msg.GuildID),
			zap.String("reason", res.Message),
		)
	}
}

// generate calls the model, running requested tools between rounds
func (h *Handler) generate(ctx context.Context, msg incoming, turns []adapter.Turn) (string, error) {
	persona := strings.TrimSpace(h.opts.Persona)
	if persona == "" {
		persona = constants.MsgChatNoPersona
	}

	var catalog []adapter.Tool
	if h.deps.Tools != nil && !msg.isDM() {
		catalog = tools.GetChatTools()
	}

	var content string
	for round := 0; round < constants.MaxChatToolRounds; round++ {
		resp, err := h.deps.Chat.Generate(ctx, persona, turns, catalog)
		if err != nil {
			return "", err
		}
		content = resp.Content
		if len(resp.ToolCalls) == 0 {
			break
		}

		turns = append(turns, adapter.Turn{
			Role:      openai.ChatMessageRoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, tc := range resp.ToolCalls {
			turns = append(turns, adapter.Turn{
				Role:       openai.ChatMessageRoleTool,
				ToolCallID: tc.ID,
				Content:    h.runTool(ctx, msg, tc),
			})
		}
	}

	if strings.TrimSpace(content) == "" {
		content = "Done."
	}
	return content, nil
}

func (h *Handler) runTool(ctx context.Context, msg incoming, tc adapter.ToolCall) string {
	value, err := h.deps.Tools.Execute(ctx, msg.GuildID, msg.UserID, tc.Name, tc.Arguments)

	result := map[string]any{"success": err == nil}
	if err != nil {
		result["error"] = err.Error()
		h.logger.Warn("Chat tool failed", zap.String("tool", tc.Name), zap.Error(err))
	} else if value != nil {
		result["result"] = value
	}

	out, encErr := sonic.MarshalString(result)
	if encErr != nil {
		return `{"success":false,"error":"tool result could not be encoded"}`
	}
	return out
}
