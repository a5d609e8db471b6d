package tts

import (
	"context"
	"time"

	"chorus/backend/internal/constants"
	apperrors "chorus/backend/pkg/errors"

	"github.com/haguro/elevenlabs-go"
)

const (
	providerElevenLabs = "elevenlabs"
	// elevenLabsFormat asks for raw PCM already at the Discord rate
	elevenLabsFormat  = "pcm_48000"
	elevenLabsTimeout = 30 * time.Second
)

// ttsClient is the slice of the elevenlabs-go client used for synthesis
type ttsClient interface {
	TextToSpeech(voiceID string, ttsReq elevenlabs.TextToSpeechRequest, queries ...elevenlabs.QueryFunc) ([]byte, error)
}

// ElevenLabs synthesizes speech through the ElevenLabs API. Its PCM output is
// 48kHz mono.
type ElevenLabs struct {
	client ttsClient
	model  string
}

// NewElevenLabs creates the ElevenLabs provider
func NewElevenLabs(apiKey, model string) (*ElevenLabs, error) {
	if apiKey == "" {
		return nil, apperrors.NewConfigMissingKey("ELEVENLABS_API_KEY")
	}
	client := elevenlabs.NewClient(context.Background(), apiKey, elevenLabsTimeout)
	return newElevenLabsWithClient(client, model), nil
}

func newElevenLabsWithClient(client ttsClient, model string) *ElevenLabs {
	if model == "" {
		model = "eleven_turbo_v2_5"
	}
	return &ElevenLabs{client: client, model: model}
}

func (e *ElevenLabs) Name() string { return providerElevenLabs }

func (e *ElevenLabs) SampleRate() int { return constants.DiscordSampleRate }

func (e *ElevenLabs) ResolveVoice(voice string) string { return resolveElevenLabsVoice(voice) }

func (e *ElevenLabs) Voices() []string { return voiceNames(ElevenLabsVoices) }

// Synthesize requests raw PCM for text. The client carries its own request timeout
// and does not observe ctx, so cancellation is checked up front only.
func (e *ElevenLabs) Synthesize(ctx context.Context, text, voiceID string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	audio, err := e.client.TextToSpeech(voiceID, elevenlabs.TextToSpeechRequest{
		Text:    text,
		ModelID: e.model,
	}, elevenlabs.OutputFormat(elevenLabsFormat))
	if err != nil {
		return nil, apperrors.NewTransport(providerElevenLabs, "speech request failed", err)
	}
	return audio, nil
}
