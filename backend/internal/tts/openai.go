package tts

import (
	"context"
	"io"

	"chorus/backend/internal/constants"
	apperrors "chorus/backend/pkg/errors"

	openai "github.com/sashabaranov/go-openai"
)

const providerOpenAI = "openai"

// speechClient is the slice of the go-openai client used for synthesis
type speechClient interface {
	CreateSpeech(ctx context.Context, request openai.CreateSpeechRequest) (openai.RawResponse, error)
}

// OpenAI synthesizes speech through the OpenAI audio API. Its PCM output is
// 24kHz mono.
type OpenAI struct {
	client speechClient
	model  openai.SpeechModel
}

// NewOpenAI creates the OpenAI provider
func NewOpenAI(apiKey, model string) (*OpenAI, error) {
	if apiKey == "" {
		return nil, apperrors.NewConfigMissingKey("OPENAI_API_KEY")
	}
	return newOpenAIWithClient(openai.NewClient(apiKey), model), nil
}

func newOpenAIWithClient(client speechClient, model string) *OpenAI {
	if model == "" {
		model = string(openai.TTSModel1)
	}
	return &OpenAI{client: client, model: openai.SpeechModel(model)}
}

func (o *OpenAI) Name() string { return providerOpenAI }

func (o *OpenAI) SampleRate() int { return constants.AgentSampleRate }

func (o *OpenAI) ResolveVoice(voice string) string { return resolveOpenAIVoice(voice) }

func (o *OpenAI) Voices() []string { return voiceNames(OpenAIVoices) }

// Synthesize requests raw PCM for text
func (o *OpenAI) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	resp, err := o.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          o.model,
		Input:          text,
		Voice:          openai.SpeechVoice(voice),
		ResponseFormat: openai.SpeechResponseFormatPcm,
	})
	if err != nil {
		return nil, apperrors.NewTransport(providerOpenAI, "speech request failed", err)
	}
	defer resp.Close()

	audio, err := io.ReadAll(resp)
	if err != nil {
		return nil, apperrors.NewTransport(providerOpenAI, "read speech response", err)
	}
	return audio, nil
}
