package adapter

import (
	"context"
	"fmt"
	"strings"
	"time"

	apperrors "chorus/backend/pkg/errors"
	"chorus/backend/pkg/logger"

	"github.com/bytedance/sonic"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// chatClient is the subset of the OpenAI client used by the adapter
type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// LLMAdapter handles text chat completions against an OpenAI-compatible endpoint
type LLMAdapter struct {
	client     chatClient
	model      string
	logger     *zap.Logger
	maxRetries int
	sleep      func(time.Duration)
}

// GetModel returns the model requests are sent to
func (a *LLMAdapter) GetModel() string {
	return a.model
}

// NewLLMAdapter creates a new LLM adapter. baseURL must include the API version path.
func NewLLMAdapter(baseURL, apiKey, modelID string, log *zap.Logger) (*LLMAdapter, error) {
	if apiKey == "" {
		return nil, apperrors.NewConfigMissingKey("OPENAI_API_KEY")
	}

	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = strings.TrimSuffix(baseURL, "/")
	}

	return newLLMAdapterWithClient(openai.NewClientWithConfig(config), modelID, log), nil
}

func newLLMAdapterWithClient(client chatClient, modelID string, log *zap.Logger) *LLMAdapter {
	return &LLMAdapter{
		client:     client,
		model:      modelID,
		logger:     logger.OrDefault(log).Named("llm"),
		maxRetries: 3,
		sleep:      time.Sleep,
	}
}

// Tool represents a function that can be called by the LLM
type Tool struct {
	Type     string             `json:"type"`
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition defines a function that can be called
type FunctionDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// Turn is one prior message in the conversation
type Turn struct {
	Role       string
	Content    string
	ToolCallID string     // set on tool result turns
	ToolCalls  []ToolCall // set on assistant turns that requested tools
}

// Response represents the LLM's response
type Response struct {
	Content   string
	ToolCalls []ToolCall
}

// ToolCall represents a function call from the LLM
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]interface{}
}

func toOpenAIMessages(systemPrompt string, turns []Turn) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(turns)+1)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: systemPrompt,
	})

	for _, t := range turns {
		msg := openai.ChatCompletionMessage{
			Role:       t.Role,
			Content:    t.Content,
			ToolCallID: t.ToolCallID,
		}
		for _, tc := range t.ToolCalls {
			args, _ := sonic.MarshalString(tc.Arguments)
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: args,
				},
			})
		}
		messages = append(messages, msg)
	}
	return messages
}

// Generate sends the conversation to the LLM and returns the response
func (a *LLMAdapter) Generate(ctx context.Context, systemPrompt string, turns []Turn, tools []Tool) (*Response, error) {
	// Convert tools to OpenAI format
	openaiTools := make([]openai.Tool, 0, len(tools))
	for _, tool := range tools {
		openaiTools = append(openaiTools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Function.Name,
				Description: tool.Function.Description,
				Parameters:  tool.Function.Parameters,
			},
		})
	}

	currentModel := a.GetModel()
	req := openai.ChatCompletionRequest{
		Model:       currentModel,
		Messages:    toOpenAIMessages(systemPrompt, turns),
		Tools:       openaiTools,
		Temperature: 0.7,
	}

	// Retry logic with linear backoff
	var resp openai.ChatCompletionResponse
	var err error
	for attempt := 0; attempt < a.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * time.Second
			a.logger.Warn("Retrying LLM request",
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", backoff),
			)
			a.sleep(backoff)
		}
		if ctx.Err() != nil {
			err = ctx.Err()
			break
		}

		resp, err = a.client.CreateChatCompletion(ctx, req)
		if err == nil {
			break
		}

		a.logger.Error("LLM request failed",
			zap.Error(err),
			zap.Int("attempt", attempt+1),
			zap.String("model", currentModel),
		)
	}

	if err != nil {
		return nil, apperrors.NewTransport("llm", fmt.Sprintf("chat completion failed after %d attempts", a.maxRetries), err)
	}

	if len(resp.Choices) == 0 {
		return nil, apperrors.NewProtocol("chat.completion", "no choices in response", nil)
	}

	choice := resp.Choices[0]
	response := &Response{
		Content:   choice.Message.Content,
		ToolCalls: []ToolCall{},
	}

	for _, tc := range choice.Message.ToolCalls {
		args, err := parseJSONArguments(tc.Function.Arguments)
		if err != nil {
			a.logger.Warn("Failed to parse tool call arguments",
				zap.String("tool_id", tc.ID),
				zap.Error(err),
			)
			args = make(map[string]interface{})
		}
		response.ToolCalls = append(response.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}

	a.logger.Debug("LLM response generated",
		zap.String("model", currentModel),
		zap.Int("tool_calls", len(response.ToolCalls)),
		zap.Bool("has_content", response.Content != ""),
	)

	return response, nil
}

// parseJSONArguments parses the JSON string arguments into a map
func parseJSONArguments(jsonStr string) (map[string]interface{}, error) {
	args := make(map[string]interface{})
	if strings.TrimSpace(jsonStr) == "" {
		return args, nil
	}

	if err := sonic.UnmarshalString(jsonStr, &args); err != nil {
		return nil, fmt.Errorf("failed to parse arguments: %w", err)
	}
	return args, nil
}
