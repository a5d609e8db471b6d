package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Supported TTS providers
const (
	TTSProviderOpenAI     = "openai"
	TTSProviderElevenLabs = "elevenlabs"
)

// Config holds all application configuration
type Config struct {
	// App
	Port     string
	Env      string
	LogLevel string

	// Discord
	DiscordBotToken string
	CommandPrefix   string

	// TTS
	TTSProvider      string // "openai" or "elevenlabs"
	OpenAIAPIKey     string
	OpenAITTSModel   string
	ElevenLabsAPIKey string
	ElevenLabsModel  string
	DefaultVolume    float64 // 0.0 - 1.0

	// Redis (history store + job queue)
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	TTSQueue      string

	// Realtime voice agent
	RealtimeURL       string
	RealtimeAPIKey    string
	AgentPersona      string
	AgentVoice        string
	AgentToolsEnabled bool

	// Text chat
	LLMBaseURL string
	ModelID    string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()

	cfg := &Config{
		Port:              getEnv("PORT", "8080"),
		Env:               getEnv("ENV", "development"),
		LogLevel:          getEnv("LOG_LEVEL", ""),
		DiscordBotToken:   getEnv("DISCORD_BOT_TOKEN", ""),
		CommandPrefix:     getEnv("COMMAND_PREFIX", "!"),
		TTSProvider:       strings.ToLower(getEnv("TTS_PROVIDER", TTSProviderOpenAI)),
		OpenAIAPIKey:      getEnv("OPENAI_API_KEY", ""),
		OpenAITTSModel:    getEnv("OPENAI_TTS_MODEL", "gpt-4o-mini-tts"),
		ElevenLabsAPIKey:  getEnv("ELEVENLABS_API_KEY", ""),
		ElevenLabsModel:   getEnv("ELEVENLABS_MODEL", "eleven_turbo_v2_5"),
		DefaultVolume:     getEnvFloat("DEFAULT_VOLUME", 0.8),
		RedisAddr:         getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:     getEnv("REDIS_PASSWORD", ""),
		RedisDB:           getEnvInt("REDIS_DB", 0),
		TTSQueue:          getEnv("TTS_QUEUE", "tts"),
		RealtimeURL:       getEnv("REALTIME_URL", "wss://api.openai.com/v1/realtime?model=gpt-realtime"),
		RealtimeAPIKey:    getEnv("REALTIME_API_KEY", ""),
		AgentPersona:      getEnv("AGENT_PERSONA", ""),
		AgentVoice:        getEnv("AGENT_VOICE", "marin"),
		AgentToolsEnabled: getEnvBool("AGENT_TOOLS_ENABLED", true),
		LLMBaseURL:        getEnv("LLM_BASE_URL", "https://api.openai.com/v1"),
		ModelID:           getEnv("MODEL_ID", "gpt-4o-mini"),
	}

	// The realtime endpoint accepts the same key as the TTS endpoint unless overridden
	if cfg.RealtimeAPIKey == "" {
		cfg.RealtimeAPIKey = cfg.OpenAIAPIKey
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration values are set
func (c *Config) Validate() error {
	switch c.TTSProvider {
	case TTSProviderOpenAI, TTSProviderElevenLabs:
	default:
		return fmt.Errorf("TTS_PROVIDER %q is not supported", c.TTSProvider)
	}
	if c.DefaultVolume < 0 || c.DefaultVolume > 1 {
		return fmt.Errorf("DEFAULT_VOLUME must be between 0 and 1")
	}
	if c.RedisAddr == "" {
		return fmt.Errorf("REDIS_ADDR is required")
	}
	if c.TTSQueue == "" {
		return fmt.Errorf("TTS_QUEUE is required")
	}
	// Provider API keys and Discord token are optional for development
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var result float64
		if _, err := fmt.Sscanf(value, "%f", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return defaultValue
	}
}
