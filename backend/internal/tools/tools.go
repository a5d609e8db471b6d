package tools

import (
	"chorus/backend/internal/adapter"
)

// Tool names - Playback Tools
const (
	ToolSetVolume    = "set_volume"
	ToolStopSpeaking = "stop_speaking"
)

// Tool names - Voice Session Tools
const (
	ToolChangeVoice       = "change_voice"
	ToolLeaveVoiceChannel = "leave_voice_channel"
)

// Tool names - Discord Tools
const (
	ToolSendTextMessage = "send_text_message"
)

// Definition describes a tool offered to the voice agent and the text chat model
type Definition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

func objectSchema(properties map[string]interface{}, required ...string) map[string]interface{} {
	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// GetDefinitions returns the static tool catalog
func GetDefinitions() []Definition {
	return []Definition{
		{
			Name:        ToolSetVolume,
			Description: "Set the bot's playback volume in this server. Use when the user asks to be louder or quieter.",
			Parameters: objectSchema(map[string]interface{}{
				"level": map[string]interface{}{
					"type":        "integer",
					"description": "Volume level from 0 (silent) to 100 (full)",
					"minimum":     0,
					"maximum":     100,
				},
			}, "level"),
		},
		{
			Name:        ToolChangeVoice,
			Description: "Change the voice used for your spoken replies to this user.",
			Parameters: objectSchema(map[string]interface{}{
				"voice": map[string]interface{}{
					"type":        "string",
					"description": "Voice name. Agent voices: alloy, ash, ballad, coral, echo, sage, shimmer, verse, marin, cedar. Text to speech voices depend on the provider, e.g. nova or rachel",
				},
			}, "voice"),
		},
		{
			Name:        ToolStopSpeaking,
			Description: "Stop whatever the bot is currently playing in the voice channel.",
			Parameters:  objectSchema(map[string]interface{}{}),
		},
		{
			Name:        ToolLeaveVoiceChannel,
			Description: "Disconnect the bot from the voice channel. Use only when the user asks you to leave.",
			Parameters:  objectSchema(map[string]interface{}{}),
		},
		{
			Name:        ToolSendTextMessage,
			Description: "Post a text message in the channel the conversation started from, e.g. a link or a list the user asked for.",
			Parameters: objectSchema(map[string]interface{}{
				"text": map[string]interface{}{
					"type":        "string",
					"description": "Message content",
				},
			}, "text"),
		},
	}
}

// GetChatTools returns the catalog in chat-completion format
func GetChatTools() []adapter.Tool {
	defs := GetDefinitions()
	out := make([]adapter.Tool, 0, len(defs))
	for _, d := range defs {
		out = append(out, adapter.Tool{
			Type: "function",
			Function: adapter.FunctionDefinition{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.Parameters,
			},
		})
	}
	return out
}
