package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("TTS_PROVIDER", "")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("REALTIME_API_KEY", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, TTSProviderOpenAI, cfg.TTSProvider)
	assert.Equal(t, "tts", cfg.TTSQueue)
	assert.Equal(t, "sk-test", cfg.RealtimeAPIKey, "realtime key falls back to the OpenAI key")
	assert.True(t, cfg.AgentToolsEnabled)
}

func TestLoad_ProviderIsCaseInsensitive(t *testing.T) {
	t.Setenv("TTS_PROVIDER", "ElevenLabs")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, TTSProviderElevenLabs, cfg.TTSProvider)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "unknown provider", mutate: func(c *Config) { c.TTSProvider = "polly" }, wantErr: true},
		{name: "volume too high", mutate: func(c *Config) { c.DefaultVolume = 1.5 }, wantErr: true},
		{name: "negative volume", mutate: func(c *Config) { c.DefaultVolume = -0.1 }, wantErr: true},
		{name: "missing redis", mutate: func(c *Config) { c.RedisAddr = "" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				TTSProvider:   TTSProviderOpenAI,
				DefaultVolume: 0.5,
				RedisAddr:     "localhost:6379",
				TTSQueue:      "tts",
			}
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestGetEnvBool(t *testing.T) {
	t.Setenv("FLAG_ON", "yes")
	t.Setenv("FLAG_OFF", "0")
	t.Setenv("FLAG_GARBAGE", "maybe")

	assert.True(t, getEnvBool("FLAG_ON", false))
	assert.False(t, getEnvBool("FLAG_OFF", true))
	assert.True(t, getEnvBool("FLAG_GARBAGE", true))
	assert.False(t, getEnvBool("FLAG_UNSET", false))
}
