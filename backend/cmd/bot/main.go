package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chorus/backend/internal/adapter"
	"chorus/backend/internal/constants"
	"chorus/backend/internal/discord"
	"chorus/backend/internal/health"
	"chorus/backend/internal/history"
	"chorus/backend/internal/jobs"
	"chorus/backend/internal/playback"
	"chorus/backend/internal/realtime"
	"chorus/backend/internal/tools"
	"chorus/backend/internal/tts"
	"chorus/backend/internal/voicein"
	"chorus/backend/pkg/config"
	"chorus/backend/pkg/logger"

	"github.com/bwmarrin/discordgo"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load configuration: %v", err))
	}

	// Initialize logger
	if err := logger.Init(cfg.Env, cfg.LogLevel); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	log := logger.Get()
	log.Info("Starting voice worker bot...")

	if cfg.DiscordBotToken == "" {
		log.Fatal("DISCORD_BOT_TOKEN is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	flags := health.NewFlags()

	// History store
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()
	store := history.NewStore(rdb, log)
	pingCtx, cancelPing := context.WithTimeout(ctx, 2*time.Second)
	if err := store.Ping(pingCtx); err != nil {
		log.Warn("History store unreachable, conversations will not be remembered", zap.Error(err))
		flags.Set(health.FlagHistoryStore, false)
	} else {
		flags.Set(health.FlagHistoryStore, true)
	}
	cancelPing()

	// TTS gateway. A nil gateway makes every speak request fail with a config error.
	gateway, err := tts.NewFromConfig(cfg, log)
	if err != nil {
		log.Warn("TTS disabled", zap.Error(err))
	} else {
		log.Info("TTS provider selected", zap.String("provider", gateway.Provider()))
	}
	registry := playback.NewRegistry(gateway, cfg.DefaultVolume, log)
	defer registry.Close()

	// Tools shared by the chat model and the voice agent
	executor := tools.NewCommandExecutor(registry, store, gateway, nil, log)

	agents := newAgentManager(cfg, store, executor, log)
	chat := newChat(cfg, log)

	// Create Discord session
	dg, err := discordgo.New("Bot " + cfg.DiscordBotToken)
	if err != nil {
		log.Fatal("Failed to create Discord session", zap.Error(err))
	}

	voice := discord.NewVoiceManager(dg, registry, sinkLookup(agents), log)

	deps := discord.Deps{
		Playback: registry,
		History:  store,
		Voices:   gateway,
		Tools:    executor,
		Voice:    voice,
		Sender:   dg,
		Flags:    flags,
	}
	if chat != nil {
		deps.Chat = chat
	}
	if agents != nil {
		deps.Agents = agents
	}
	handler := discord.NewHandler(deps, discord.Options{
		Prefix:  cfg.CommandPrefix,
		Persona: cfg.AgentPersona,
	}, log)
	executor.SetGuild(handler)

	dg.AddHandler(handler.HandleReady)
	dg.AddHandler(handler.HandleDisconnect)
	dg.AddHandler(handler.HandleMessage)
	dg.AddHandler(handler.HandleGuildDelete)
	dg.Identify.Intents = intents()

	log.Info("Discord bot intents configured",
		zap.Bool("guilds", (dg.Identify.Intents&discordgo.IntentsGuilds) != 0),
		zap.Bool("guild_messages", (dg.Identify.Intents&discordgo.IntentsGuildMessages) != 0),
		zap.Bool("message_content", (dg.Identify.Intents&discordgo.IntentsMessageContent) != 0),
		zap.Bool("direct_messages", (dg.Identify.Intents&discordgo.IntentsDirectMessages) != 0),
		zap.Bool("guild_voice_states", (dg.Identify.Intents&discordgo.IntentsGuildVoiceStates) != 0),
	)

	if err := dg.Open(); err != nil {
		log.Fatal("Failed to open Discord connection", zap.Error(err))
	}

	// Job worker
	rc := jobs.RedisConfig{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	worker := jobs.NewWorker(rc, cfg.TTSQueue, jobs.NewHandler(registry, jobs.ReadyFunc(handler.Ready), log), flags, log)

	// Health endpoint
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: health.NewRouter(flags, log, cfg.IsProduction()),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return worker.Run(gctx)
	})
	g.Go(func() error {
		log.Info("Health server started", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	log.Info("Discord bot is running. Press CTRL-C to exit.")

	if err := g.Wait(); err != nil {
		log.Error("Worker stopped with error", zap.Error(err))
	}

	log.Info("Shutting down Discord bot...")
	if agents != nil {
		agents.CloseAll()
	}
	voice.Close()
	if err := dg.Close(); err != nil {
		log.Warn("Failed to close Discord session", zap.Error(err))
	}
}

// intents are the gateway events the bot needs. Message content is privileged
// and must be enabled for the application.
func intents() discordgo.Intent {
	return discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsMessageContent |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsGuildVoiceStates
}

// agentConfig maps application config onto realtime session settings
func agentConfig(cfg *config.Config) realtime.Config {
	return realtime.Config{
		URL:           cfg.RealtimeURL,
		APIKey:        cfg.RealtimeAPIKey,
		Persona:       cfg.AgentPersona,
		Voice:         cfg.AgentVoice,
		ToolsEnabled:  cfg.AgentToolsEnabled,
		Tools:         tools.GetDefinitions(),
		MinAudioBytes: constants.MinAgentAudioBytes,
		DialTimeout:   constants.RealtimeDialTimeout,
	}
}

// newAgentManager returns nil when no realtime key is configured
func newAgentManager(cfg *config.Config, store realtime.SessionStore, exec realtime.ToolExecutor, log *zap.Logger) *realtime.Manager {
	if cfg.RealtimeAPIKey == "" {
		log.Warn("REALTIME_API_KEY not set, voice conversations disabled")
		return nil
	}
	return realtime.NewManager(agentConfig(cfg), store, exec, log)
}

// newChat returns nil when the chat model is not configured
func newChat(cfg *config.Config, log *zap.Logger) *adapter.LLMAdapter {
	llm, err := adapter.NewLLMAdapter(cfg.LLMBaseURL, cfg.OpenAIAPIKey, cfg.ModelID, log)
	if err != nil {
		log.Warn("Text chat disabled", zap.Error(err))
		return nil
	}
	return llm
}

// sinkLookup routes captured audio to the speaker's active agent session
func sinkLookup(agents *realtime.Manager) discord.SinkLookup {
	if agents == nil {
		return nil
	}
	return func(guildID, userID string) voicein.Sink {
		c := agents.Get(guildID, userID)
		if c == nil {
			return nil
		}
		return c
	}
}
