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

	"chorus/backend/internal/health"
	"chorus/backend/internal/jobs"
	"chorus/backend/pkg/config"
	apperrors "chorus/backend/pkg/errors"
	"chorus/backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// speakQueue submits TTS jobs
type speakQueue interface {
	Enqueue(ctx context.Context, p jobs.Payload) (*asynq.TaskInfo, error)
}

// statusReader reads job state back
type statusReader interface {
	Status(id string) (*jobs.TaskStatus, error)
	Stats() (*jobs.QueueStats, error)
}

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
	log.Info("Starting HTTP API server...")

	rc := jobs.RedisConfig{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	enqueuer := jobs.NewEnqueuer(rc, cfg.TTSQueue)
	defer enqueuer.Close()
	inspector := jobs.NewInspector(rc, cfg.TTSQueue)
	defer inspector.Close()

	flags := health.NewFlags()
	flags.Set(health.FlagQueueAvailable, true)
	router := newRouter(enqueuer, inspector, flags, log, cfg.IsProduction())

	// Start server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	log.Info("Server started", zap.String("port", cfg.Port), zap.String("queue", cfg.TTSQueue))

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited")
}

// newRouter registers the TTS API on top of the health routes
func newRouter(queue speakQueue, status statusReader, flags *health.Flags, log *zap.Logger, production bool) *gin.Engine {
	router := health.NewRouter(flags, log, production)

	// CORS middleware
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	api := router.Group("/api")
	{
		// Queue a line of speech for a guild
		api.POST("/tts", func(c *gin.Context) {
			var req struct {
				GuildID string `json:"guildId" binding:"required"`
				Text    string `json:"text" binding:"required"`
				Voice   string `json:"voice"`
			}

			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}

			info, err := queue.Enqueue(c.Request.Context(), jobs.Payload{
				GuildID: req.GuildID,
				Text:    req.Text,
				Voice:   req.Voice,
			})
			if err != nil {
				if apperrors.IsErrorType(err, apperrors.ErrorTypePrecondition) {
					c.JSON(http.StatusBadRequest, gin.H{"error": apperrors.UserMessage(err)})
					return
				}
				log.Error("Failed to enqueue TTS job", zap.String("guild_id", req.GuildID), zap.Error(err))
				flags.Set(health.FlagQueueAvailable, false)
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Job queue unavailable"})
				return
			}
			flags.Set(health.FlagQueueAvailable, true)

			c.JSON(http.StatusAccepted, gin.H{
				"taskId": info.ID,
				"queue":  info.Queue,
			})
		})

		// Look up a job by id
		api.GET("/tts/:id", func(c *gin.Context) {
			st, err := status.Status(c.Param("id"))
			if err != nil {
				if errors.Is(err, jobs.ErrTaskNotFound) {
					c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
					return
				}
				log.Error("Failed to fetch task status", zap.Error(err))
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Job queue unavailable"})
				return
			}
			c.JSON(http.StatusOK, st)
		})

		api.GET("/queue/stats", func(c *gin.Context) {
			stats, err := status.Stats()
			if err != nil {
				log.Error("Failed to fetch queue stats", zap.Error(err))
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Job queue unavailable"})
				return
			}
			c.JSON(http.StatusOK, stats)
		})
	}

	return router
}
