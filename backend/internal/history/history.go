// Package history keeps a short rolling chat log and per-user voice settings in Redis.
// Every operation is best effort: store failures are logged and read as empty.
package history

import (
	"context"
	"errors"
	"fmt"

	"chorus/backend/internal/constants"
	"chorus/backend/pkg/logger"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Conversation modes
const (
	ModeText  = "text"
	ModeVoice = "voice"
)

// Message is one chat turn
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Store is the Redis-backed conversation history
type Store struct {
	client   redis.Cmdable
	maxItems int
	logger   *zap.Logger
}

// NewStore wraps a Redis client
func NewStore(client redis.Cmdable, log *zap.Logger) *Store {
	return &Store{
		client:   client,
		maxItems: constants.MaxHistoryEntries,
		logger:   logger.OrDefault(log).Named("history"),
	}
}

func historyKey(guildID, userID string) string {
	return fmt.Sprintf("history:%s:%s", guildID, userID)
}

func responseIDKey(guildID, userID string) string {
	return fmt.Sprintf("responseId:%s:%s", guildID, userID)
}

func voicePrefKey(guildID, userID string) string {
	return fmt.Sprintf("voicePref:%s:%s", guildID, userID)
}

func ttsVoiceKey(guildID, userID string) string {
	return fmt.Sprintf("ttsVoice:%s:%s", guildID, userID)
}

func modeKey(guildID, userID string) string {
	return fmt.Sprintf("conversationMode:%s:%s", guildID, userID)
}

// Ping reports whether the store is reachable
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return errors.New("history store not configured")
	}
	return s.client.Ping(ctx).Err()
}

// Get returns the conversation oldest first
func (s *Store) Get(ctx context.Context, guildID, userID string) []Message {
	if s == nil || s.client == nil {
		return []Message{}
	}
	msgs, err := s.load(ctx, guildID, userID)
	if err != nil {
		return []Message{}
	}
	return msgs
}

// load reads the stored conversation. A missing key is an empty conversation;
// read and decode failures are logged and returned.
func (s *Store) load(ctx context.Context, guildID, userID string) ([]Message, error) {
	raw, err := s.client.Get(ctx, historyKey(guildID, userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return []Message{}, nil
	}
	if err != nil {
		s.warn("read history", guildID, userID, err)
		return nil, err
	}

	var msgs []Message
	if err := sonic.Unmarshal(raw, &msgs); err != nil {
		s.warn("decode history", guildID, userID, err)
		return nil, err
	}
	return msgs, nil
}

// Append adds msg and trims the oldest entries past the cap. The read-modify-write
// is not atomic; traffic is effectively single writer per user. Nothing is written
// when the existing conversation cannot be read.
func (s *Store) Append(ctx context.Context, guildID, userID string, msg Message) {
	if s == nil || s.client == nil {
		return
	}
	msgs, err := s.load(ctx, guildID, userID)
	if err != nil {
		return
	}
	msgs = append(msgs, msg)
	if len(msgs) > s.maxItems {
		msgs = msgs[len(msgs)-s.maxItems:]
	}

	data, err := sonic.Marshal(msgs)
	if err != nil {
		s.warn("encode history", guildID, userID, err)
		return
	}
	if err := s.client.Set(ctx, historyKey(guildID, userID), data, 0).Err(); err != nil {
		s.warn("write history", guildID, userID, err)
	}
}

// Clear forgets the conversation and the last response id
func (s *Store) Clear(ctx context.Context, guildID, userID string) {
	if s == nil || s.client == nil {
		return
	}
	if err := s.client.Del(ctx, historyKey(guildID, userID), responseIDKey(guildID, userID)).Err(); err != nil {
		s.warn("clear history", guildID, userID, err)
	}
}

func (s *Store) getScalar(ctx context.Context, key, guildID, userID string) string {
	if s == nil || s.client == nil {
		return ""
	}
	v, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.warn("read "+key, guildID, userID, err)
		}
		return ""
	}
	return v
}

func (s *Store) setScalar(ctx context.Context, key, value, guildID, userID string) {
	if s == nil || s.client == nil {
		return
	}
	var err error
	if value == "" {
		err = s.client.Del(ctx, key).Err()
	} else {
		err = s.client.Set(ctx, key, value, 0).Err()
	}
	if err != nil {
		s.warn("write "+key, guildID, userID, err)
	}
}

// ResponseID returns the last realtime response id for the user
func (s *Store) ResponseID(ctx context.Context, guildID, userID string) string {
	return s.getScalar(ctx, responseIDKey(guildID, userID), guildID, userID)
}

// SetResponseID records the last realtime response id. Empty deletes it.
func (s *Store) SetResponseID(ctx context.Context, guildID, userID, id string) {
	s.setScalar(ctx, responseIDKey(guildID, userID), id, guildID, userID)
}

// VoicePreference returns the user's preferred realtime agent voice, or ""
func (s *Store) VoicePreference(ctx context.Context, guildID, userID string) string {
	return s.getScalar(ctx, voicePrefKey(guildID, userID), guildID, userID)
}

// SetVoicePreference stores the user's preferred agent voice. Empty deletes it.
func (s *Store) SetVoicePreference(ctx context.Context, guildID, userID, voice string) {
	s.setScalar(ctx, voicePrefKey(guildID, userID), voice, guildID, userID)
}

// TTSVoice returns the voice the user picked for synthesized speech, or ""
func (s *Store) TTSVoice(ctx context.Context, guildID, userID string) string {
	return s.getScalar(ctx, ttsVoiceKey(guildID, userID), guildID, userID)
}

// SetTTSVoice stores the user's synthesized speech voice. Empty deletes it.
func (s *Store) SetTTSVoice(ctx context.Context, guildID, userID, voice string) {
	s.setScalar(ctx, ttsVoiceKey(guildID, userID), voice, guildID, userID)
}

// ConversationMode returns ModeText or ModeVoice. Unset reads as ModeText.
func (s *Store) ConversationMode(ctx context.Context, guildID, userID string) string {
	if m := s.getScalar(ctx, modeKey(guildID, userID), guildID, userID); m == ModeVoice {
		return ModeVoice
	}
	return ModeText
}

// SetConversationMode stores the user's conversation mode
func (s *Store) SetConversationMode(ctx context.Context, guildID, userID, mode string) {
	s.setScalar(ctx, modeKey(guildID, userID), mode, guildID, userID)
}

func (s *Store) warn(op, guildID, userID string, err error) {
	s.logger.Warn("History store unavailable",
		zap.String("op", op),
		zap.String("guild_id", guildID),
		zap.String("user_id", userID),
		zap.Error(err),
	)
}
