package realtime

import (
	"chorus/backend/internal/constants"
	"chorus/backend/internal/tools"
)

// Client → server event types
const (
	EventSessionUpdate      = "session.update"
	EventInputAudioAppend   = "input_audio_buffer.append"
	EventConversationCreate = "conversation.item.create"
	EventResponseCreate     = "response.create"
)

// Server → client event types
const (
	EventSessionCreated        = "session.created"
	EventSessionUpdated        = "session.updated"
	EventResponseCreated       = "response.created"
	EventResponseAudioDelta    = "response.output_audio.delta"
	EventResponseAudioDone     = "response.output_audio.done"
	EventFunctionArgumentsDone = "response.function_call_arguments.done"
	EventResponseDone          = "response.done"
	EventError                 = "error"
)

// serverEvent is the union of the inbound fields the client reads
type serverEvent struct {
	Type     string `json:"type"`
	Response struct {
		ID string `json:"id"`
	} `json:"response"`
	Delta     string `json:"delta"`
	CallID    string `json:"call_id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
	Error     struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type audioFormat struct {
	Type string `json:"type"`
	Rate int    `json:"rate"`
}

var agentAudioFormat = audioFormat{Type: "audio/pcm", Rate: constants.AgentSampleRate}

type turnDetection struct {
	Type string `json:"type"`
}

type audioInput struct {
	Format        audioFormat   `json:"format"`
	TurnDetection turnDetection `json:"turn_detection"`
}

type audioOutput struct {
	Format audioFormat `json:"format"`
	Voice  string      `json:"voice"`
}

type sessionAudio struct {
	Input  audioInput  `json:"input"`
	Output audioOutput `json:"output"`
}

type sessionTool struct {
	Type        string                 `json:"type"`
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

type sessionConfig struct {
	Type             string        `json:"type"`
	Instructions     string        `json:"instructions"`
	OutputModalities []string      `json:"output_modalities"`
	Audio            sessionAudio  `json:"audio"`
	Tools            []sessionTool `json:"tools,omitempty"`
	ToolChoice       string        `json:"tool_choice,omitempty"`
}

type sessionUpdateEvent struct {
	Type    string        `json:"type"`
	Session sessionConfig `json:"session"`
}

type audioAppendEvent struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

type functionOutputItem struct {
	Type   string `json:"type"`
	CallID string `json:"call_id"`
	Output string `json:"output"`
}

type conversationItemEvent struct {
	Type string             `json:"type"`
	Item functionOutputItem `json:"item"`
}

type responseCreateEvent struct {
	Type string `json:"type"`
}

// functionResult is the JSON body sent back for every function call
type functionResult struct {
	Success bool   `json:"success"`
	Result  any    `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

func toSessionTools(defs []tools.Definition) []sessionTool {
	out := make([]sessionTool, 0, len(defs))
	for _, d := range defs {
		out = append(out, sessionTool{
			Type:        "function",
			Name:        d.Name,
			Description: d.Description,
			Parameters:  d.Parameters,
		})
	}
	return out
}
