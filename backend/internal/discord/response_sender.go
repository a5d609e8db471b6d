package discord

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"chorus/backend/internal/constants"
	apperrors "chorus/backend/pkg/errors"

	"go.uber.org/zap"
)

// chunkPause spaces multi-part messages to stay clear of rate limits
var chunkPause = 100 * time.Millisecond

// reply sends content to the message's channel, logging failures
func (h *Handler) reply(msg incoming, content string) {
	_ = h.sendLongMessage(msg.ChannelID, content)
}

// replyError sends the canned message for err. Raw error text is never shown.
func (h *Handler) replyError(msg incoming, err error) {
	h.reply(msg, apperrors.UserMessage(err))
}

// sendLongMessage splits a message into chunks if it exceeds Discord's character limit
func (h *Handler) sendLongMessage(channelID, content string) error {
	if h.deps.Sender == nil || strings.TrimSpace(content) == "" {
		return nil
	}
	maxLength := constants.DiscordMaxMessageLength

	if len(content) <= maxLength {
		_, err := h.deps.Sender.ChannelMessageSend(channelID, content)
		if err != nil {
			h.logger.Error("Failed to send message",
				zap.Error(err),
				zap.String("channel_id", channelID),
			)
		}
		return err
	}

	// Reserve space for the "*(Part X/Y)*" indicator
	const partIndicatorReserve = 20
	chunks := splitMessage(content, maxLength-partIndicatorReserve)

	for i, chunk := range chunks {
		message := chunk + "\n" + fmt.Sprintf("*(Part %d/%d)*", i+1, len(chunks))

		if _, err := h.deps.Sender.ChannelMessageSend(channelID, message); err != nil {
			h.logger.Error("Failed to send message chunk",
				zap.Error(err),
				zap.String("channel_id", channelID),
				zap.Int("chunk", i+1),
				zap.Int("total_chunks", len(chunks)),
			)
			return err
		}

		if i < len(chunks)-1 && chunkPause > 0 {
			time.Sleep(chunkPause)
		}
	}
	return nil
}

// splitMessage splits content into chunks of at most maxLength bytes, preferring
// line breaks and then spaces. Code fences cut by a split are closed and reopened.
func splitMessage(content string, maxLength int) []string {
	if len(content) <= maxLength {
		return []string{content}
	}

	var chunks []string
	var current strings.Builder
	fence := "" // opening marker of the code block in progress

	onlyFence := func() bool {
		return fence != "" && current.String() == fence
	}
	flush := func() {
		if current.Len() == 0 || onlyFence() {
			return
		}
		text := current.String()
		if fence != "" {
			text += "\n```"
		}
		chunks = append(chunks, text)
		current.Reset()
		current.WriteString(fence)
	}
	limit := func() int {
		if fence != "" {
			return maxLength - len("\n```")
		}
		return maxLength
	}

	for _, original := range strings.Split(content, "\n") {
		line := original
		for {
			sep := 0
			if current.Len() > 0 {
				sep = 1
			}
			room := limit() - current.Len() - sep
			if len(line) <= room {
				if sep == 1 {
					current.WriteByte('\n')
				}
				current.WriteString(line)
				break
			}
			if current.Len() > 0 && !onlyFence() {
				flush()
				continue
			}

			// A single line longer than a chunk: hard split it
			cut := max(room, 1)
			if space := strings.LastIndex(line[:cut], " "); space > cut*3/4 {
				cut = space + 1
			}
			for cut > 1 && !utf8.RuneStart(line[cut]) {
				cut--
			}
			if sep == 1 {
				current.WriteByte('\n')
			}
			current.WriteString(line[:cut])
			line = line[cut:]
			flush()
			if line == "" {
				break
			}
		}

		if trimmed := strings.TrimSpace(original); strings.HasPrefix(trimmed, "```") {
			if fence == "" {
				fence = trimmed
			} else {
				fence = ""
			}
		}
	}

	if current.Len() > 0 && !onlyFence() {
		chunks = append(chunks, current.String())
	}
	return chunks
}
