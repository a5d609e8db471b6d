package tools

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"chorus/backend/pkg/logger"

	"go.uber.org/zap"
)

// AgentVoices are the voices the realtime agent accepts
var AgentVoices = []string{"alloy", "ash", "ballad", "coral", "echo", "sage", "shimmer", "verse", "marin", "cedar"}

// IsAgentVoice reports whether voice is a known realtime agent voice
func IsAgentVoice(voice string) bool {
	voice = strings.ToLower(strings.TrimSpace(voice))
	for _, v := range AgentVoices {
		if v == voice {
			return true
		}
	}
	return false
}

// SpeechVoices is the active TTS provider's voice allow-list
type SpeechVoices interface {
	IsVoice(voice string) bool
	Voices() []string
}

// VoiceChange reports which preferences a voice name updated
type VoiceChange struct {
	Voice  string `json:"voice"`
	Agent  bool   `json:"agent"`
	Speech bool   `json:"speech"`
}

// ApplyVoice stores voice as the user's agent voice, TTS voice, or both, depending on
// which allow-lists accept it. speech may be nil when no TTS provider is configured.
func ApplyVoice(ctx context.Context, prefs Preferences, speech SpeechVoices, guildID, userID, voice string) (VoiceChange, error) {
	change := VoiceChange{Voice: strings.ToLower(strings.TrimSpace(voice))}
	change.Agent = IsAgentVoice(change.Voice)
	change.Speech = speech != nil && speech.IsVoice(change.Voice)
	if !change.Agent && !change.Speech {
		return change, fmt.Errorf("unknown voice %q, choose one of %s", change.Voice, strings.Join(KnownVoices(speech), ", "))
	}

	if change.Agent {
		prefs.SetVoicePreference(ctx, guildID, userID, change.Voice)
	}
	if change.Speech {
		prefs.SetTTSVoice(ctx, guildID, userID, change.Voice)
	}
	return change, nil
}

// KnownVoices lists agent voices followed by any TTS-only voices
func KnownVoices(speech SpeechVoices) []string {
	names := append([]string(nil), AgentVoices...)
	if speech == nil {
		return names
	}
	for _, v := range speech.Voices() {
		if !IsAgentVoice(v) {
			names = append(names, v)
		}
	}
	return names
}

// Playback controls the guild's audio output
type Playback interface {
	SetVolume(guildID string, v float64) float64
	Stop(guildID string) bool
}

// Preferences persists per-user voice settings
type Preferences interface {
	SetVoicePreference(ctx context.Context, guildID, userID, voice string)
	SetTTSVoice(ctx context.Context, guildID, userID, voice string)
}

// Guild performs Discord-side actions for a guild
type Guild interface {
	LeaveVoice(guildID string) error
	SendText(guildID, userID, text string) error
}

// CommandExecutor runs catalog tools against the bot's live state
type CommandExecutor struct {
	playback Playback
	prefs    Preferences
	speech   SpeechVoices
	guild    Guild
	logger   *zap.Logger
}

// NewCommandExecutor creates a new tool executor. speech may be nil when TTS is off;
// guild may be set later with SetGuild.
func NewCommandExecutor(playback Playback, prefs Preferences, speech SpeechVoices, guild Guild, log *zap.Logger) *CommandExecutor {
	return &CommandExecutor{
		playback: playback,
		prefs:    prefs,
		speech:   speech,
		guild:    guild,
		logger:   logger.OrDefault(log).Named("tools"),
	}
}

// SetGuild sets the Discord-side action handler
func (e *CommandExecutor) SetGuild(g Guild) {
	e.guild = g
}

// Execute runs a tool call and returns its result
func (e *CommandExecutor) Execute(ctx context.Context, guildID, userID, name string, args map[string]any) (any, error) {
	e.logger.Debug("Executing tool",
		zap.String("tool", name),
		zap.String("guild_id", guildID),
		zap.String("user_id", userID),
	)

	switch name {
	// Playback Tools
	case ToolSetVolume:
		return e.executeSetVolume(guildID, args)
	case ToolStopSpeaking:
		stopped := e.playback.Stop(guildID)
		return map[string]any{"stopped": stopped}, nil

	// Voice Session Tools
	case ToolChangeVoice:
		return e.executeChangeVoice(ctx, guildID, userID, args)
	case ToolLeaveVoiceChannel:
		if e.guild == nil {
			return nil, fmt.Errorf("discord session not available")
		}
		if err := e.guild.LeaveVoice(guildID); err != nil {
			return nil, err
		}
		return map[string]any{"left": true}, nil

	// Discord Tools
	case ToolSendTextMessage:
		return e.executeSendText(guildID, userID, args)

	default:
		e.logger.Warn("Unknown tool", zap.String("tool", name))
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
}

func (e *CommandExecutor) executeSetVolume(guildID string, args map[string]any) (any, error) {
	level, err := numberArg(args, "level")
	if err != nil {
		return nil, err
	}
	if level < 0 || level > 100 {
		return nil, fmt.Errorf("level must be between 0 and 100, got %v", level)
	}

	applied := e.playback.SetVolume(guildID, level/100)
	return map[string]any{"level": int(math.Round(applied * 100))}, nil
}

func (e *CommandExecutor) executeChangeVoice(ctx context.Context, guildID, userID string, args map[string]any) (any, error) {
	voice, _ := args["voice"].(string)
	change, err := ApplyVoice(ctx, e.prefs, e.speech, guildID, userID, voice)
	if err != nil {
		return nil, err
	}
	return map[string]any{"voice": change.Voice, "agent": change.Agent, "speech": change.Speech}, nil
}

func (e *CommandExecutor) executeSendText(guildID, userID string, args map[string]any) (any, error) {
	text, _ := args["text"].(string)
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("text is required")
	}
	if e.guild == nil {
		return nil, fmt.Errorf("discord session not available")
	}
	if err := e.guild.SendText(guildID, userID, text); err != nil {
		return nil, err
	}
	return map[string]any{"sent": true}, nil
}

func numberArg(args map[string]any, key string) (float64, error) {
	switch v := args[key].(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("%s must be a number", key)
		}
		return f, nil
	case nil:
		return 0, fmt.Errorf("%s is required", key)
	default:
		return 0, fmt.Errorf("%s must be a number", key)
	}
}
