package tts

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"chorus/backend/internal/pcm"
	"chorus/backend/pkg/config"
	apperrors "chorus/backend/pkg/errors"

	"github.com/haguro/elevenlabs-go"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockSpeechClient struct {
	audio []byte
	err   error
	req   openai.CreateSpeechRequest
}

func (m *mockSpeechClient) CreateSpeech(ctx context.Context, req openai.CreateSpeechRequest) (openai.RawResponse, error) {
	m.req = req
	if m.err != nil {
		return openai.RawResponse{}, m.err
	}
	return openai.RawResponse{ReadCloser: io.NopCloser(bytes.NewReader(m.audio))}, nil
}

type mockElevenLabsClient struct {
	audio   []byte
	err     error
	voiceID string
	req     elevenlabs.TextToSpeechRequest
}

func (m *mockElevenLabsClient) TextToSpeech(voiceID string, req elevenlabs.TextToSpeechRequest, queries ...elevenlabs.QueryFunc) ([]byte, error) {
	m.voiceID = voiceID
	m.req = req
	return m.audio, m.err
}

func TestGateway_OpenAIResamplesTo48k(t *testing.T) {
	native := pcm.SamplesToBytes([]int16{10, 20, 30, 40, 50})
	client := &mockSpeechClient{audio: native}
	g := NewGateway(newOpenAIWithClient(client, "gpt-4o-mini-tts"), zap.NewNop())

	out, err := g.Synthesize(context.Background(), "hello", "NOVA")
	require.NoError(t, err)

	samples := pcm.BytesToSamples(out)
	require.Len(t, samples, 10)
	assert.Equal(t, int16(30), samples[4])
	assert.Equal(t, openai.SpeechVoice("nova"), client.req.Voice)
	assert.Equal(t, openai.SpeechResponseFormatPcm, client.req.ResponseFormat)
	assert.Equal(t, "hello", client.req.Input)
}

func TestGateway_OpenAIInvalidVoiceFallsBack(t *testing.T) {
	client := &mockSpeechClient{audio: []byte{0, 0}}
	g := NewGateway(newOpenAIWithClient(client, ""), zap.NewNop())

	_, err := g.Synthesize(context.Background(), "hi", "not-a-voice")
	require.NoError(t, err)
	assert.Equal(t, openai.SpeechVoice(DefaultOpenAIVoice), client.req.Voice)
	assert.Equal(t, openai.TTSModel1, client.req.Model)
}

func TestGateway_ElevenLabsPassesThrough(t *testing.T) {
	native := pcm.SamplesToBytes([]int16{1, 2, 3})
	client := &mockElevenLabsClient{audio: native}
	g := NewGateway(newElevenLabsWithClient(client, ""), zap.NewNop())

	out, err := g.Synthesize(context.Background(), "hi", "")
	require.NoError(t, err)

	assert.Equal(t, native, out)
	assert.Equal(t, ElevenLabsVoices[DefaultElevenLabsVoice], client.voiceID)
	assert.Equal(t, "eleven_turbo_v2_5", client.req.ModelID)
}

func TestGateway_ElevenLabsKnownPreset(t *testing.T) {
	client := &mockElevenLabsClient{audio: []byte{0, 0}}
	g := NewGateway(newElevenLabsWithClient(client, "eleven_multilingual_v2"), zap.NewNop())

	_, err := g.Synthesize(context.Background(), "hi", "Josh")
	require.NoError(t, err)
	assert.Equal(t, "TxGEqnHWrfWFTfGW9XjX", client.voiceID)
}

func TestGateway_ProviderFailureIsTransport(t *testing.T) {
	client := &mockSpeechClient{err: errors.New("429 rate limited")}
	g := NewGateway(newOpenAIWithClient(client, ""), zap.NewNop())

	_, err := g.Synthesize(context.Background(), "hi", "")
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeTransport))
}

func TestGateway_Uninitialized(t *testing.T) {
	var g *Gateway
	_, err := g.Synthesize(context.Background(), "hi", "")
	assert.ErrorIs(t, err, apperrors.ErrNotInitialized)

	_, err = NewGateway(nil, zap.NewNop()).Synthesize(context.Background(), "hi", "")
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeConfig))
}

func TestNewFromConfig(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.Config
		provider string
		wantErr  bool
	}{
		{name: "openai", cfg: config.Config{TTSProvider: "openai", OpenAIAPIKey: "sk-test"}, provider: "openai"},
		{name: "elevenlabs", cfg: config.Config{TTSProvider: "ElevenLabs", ElevenLabsAPIKey: "xi-test"}, provider: "elevenlabs"},
		{name: "missing openai key", cfg: config.Config{TTSProvider: "openai"}, wantErr: true},
		{name: "missing elevenlabs key", cfg: config.Config{TTSProvider: "elevenlabs"}, wantErr: true},
		{name: "unknown provider", cfg: config.Config{TTSProvider: "polly", OpenAIAPIKey: "sk-test"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := NewFromConfig(&tt.cfg, zap.NewNop())
			if tt.wantErr {
				assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeConfig))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.provider, g.Provider())
		})
	}
}

func TestGateway_Voices(t *testing.T) {
	g := NewGateway(newOpenAIWithClient(&mockSpeechClient{}, ""), zap.NewNop())

	assert.Contains(t, g.Voices(), "nova")
	assert.True(t, g.IsVoice(" Nova "))
	assert.False(t, g.IsVoice("marin"))

	var none *Gateway
	assert.Empty(t, none.Voices())
	assert.False(t, none.IsVoice("nova"))
}
