// Package tts turns text into 48kHz mono PCM through the configured speech provider.
package tts

import (
	"context"
	"strings"
	"time"

	"chorus/backend/internal/constants"
	"chorus/backend/internal/pcm"
	"chorus/backend/pkg/config"
	apperrors "chorus/backend/pkg/errors"
	"chorus/backend/pkg/logger"

	"go.uber.org/zap"
)

// Provider synthesizes mono PCM16 at its native sample rate
type Provider interface {
	Name() string
	// SampleRate is the rate of the PCM returned by Synthesize
	SampleRate() int
	// ResolveVoice maps a requested voice onto the provider allow-list
	ResolveVoice(voice string) string
	// Voices lists the names ResolveVoice accepts, sorted
	Voices() []string
	Synthesize(ctx context.Context, text, voice string) ([]byte, error)
}

// Synthesizer is what the playback layer needs from the gateway
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) ([]byte, error)
}

// Gateway normalizes provider output to the Discord sample rate
type Gateway struct {
	provider Provider
	logger   *zap.Logger
}

// NewGateway wraps an already constructed provider
func NewGateway(provider Provider, log *zap.Logger) *Gateway {
	return &Gateway{provider: provider, logger: logger.OrDefault(log)}
}

// NewFromConfig selects the provider named by cfg.TTSProvider
func NewFromConfig(cfg *config.Config, log *zap.Logger) (*Gateway, error) {
	var (
		p   Provider
		err error
	)
	switch strings.ToLower(cfg.TTSProvider) {
	case config.TTSProviderOpenAI:
		p, err = NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAITTSModel)
	case config.TTSProviderElevenLabs:
		p, err = NewElevenLabs(cfg.ElevenLabsAPIKey, cfg.ElevenLabsModel)
	default:
		return nil, apperrors.NewConfigUnsupportedProvider(cfg.TTSProvider)
	}
	if err != nil {
		return nil, err
	}
	return NewGateway(p, log), nil
}

// Provider returns the active provider name
func (g *Gateway) Provider() string {
	if g == nil || g.provider == nil {
		return ""
	}
	return g.provider.Name()
}

// Voices lists the active provider's voice names. An uninitialized gateway has none.
func (g *Gateway) Voices() []string {
	if g == nil || g.provider == nil {
		return nil
	}
	return g.provider.Voices()
}

// IsVoice reports whether voice is on the active provider's allow-list
func (g *Gateway) IsVoice(voice string) bool {
	voice = strings.ToLower(strings.TrimSpace(voice))
	for _, v := range g.Voices() {
		if v == voice {
			return true
		}
	}
	return false
}

// Synthesize returns text spoken as 48kHz mono PCM16
func (g *Gateway) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	if g == nil || g.provider == nil {
		return nil, apperrors.ErrNotInitialized
	}

	resolved := g.provider.ResolveVoice(voice)
	start := time.Now()
	audio, err := g.provider.Synthesize(ctx, text, resolved)
	if err != nil {
		g.logger.Warn("Speech synthesis failed",
			zap.String("provider", g.provider.Name()),
			zap.String("voice", resolved),
			zap.Error(err),
		)
		return nil, err
	}

	switch g.provider.SampleRate() {
	case constants.AgentSampleRate:
		audio = pcm.Resample24To48(audio)
	case constants.DiscordSampleRate:
	default:
		return nil, apperrors.NewProtocol("tts", "unsupported provider sample rate", nil)
	}

	g.logger.Debug("Synthesized speech",
		zap.String("provider", g.provider.Name()),
		zap.String("voice", resolved),
		zap.Int("chars", len(text)),
		zap.Int("bytes", len(audio)),
		zap.Duration("latency", time.Since(start)),
	)
	return audio, nil
}
