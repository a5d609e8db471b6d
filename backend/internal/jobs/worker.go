package jobs

import (
	"context"
	"io"
	"time"

	"chorus/backend/internal/constants"
	"chorus/backend/internal/health"
	apperrors "chorus/backend/pkg/errors"
	"chorus/backend/pkg/logger"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisConfig locates the queue's Redis instance
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// ConnOpt returns the asynq connection option for c
func (c RedisConfig) ConnOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: c.Addr, Password: c.Password, DB: c.DB}
}

// Backoff is a capped exponential retry schedule
type Backoff struct {
	Base     time.Duration
	Cap      time.Duration
	Attempts int
}

// DefaultBackoff is used for the initial queue connection
var DefaultBackoff = Backoff{
	Base:     constants.QueueConnectBase,
	Cap:      constants.QueueConnectCap,
	Attempts: constants.QueueConnectAttempts,
}

// Delay returns the wait after the given failed attempt (0-based)
func (b Backoff) Delay(attempt int) time.Duration {
	d := b.Base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= b.Cap {
			return b.Cap
		}
	}
	if d > b.Cap {
		return b.Cap
	}
	return d
}

// Pinger checks transport reachability
type Pinger interface {
	Ping(ctx context.Context) error
}

type redisPinger struct {
	client *redis.Client
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func (p redisPinger) Close() error {
	return p.client.Close()
}

// jobServer is the part of *asynq.Server the worker drives
type jobServer interface {
	Start(handler asynq.Handler) error
	Shutdown()
}

// Worker runs the TTS job server with concurrency 1
type Worker struct {
	redis   RedisConfig
	queue   string
	handler *Handler
	flags   *health.Flags
	logger  *zap.Logger

	pinger    Pinger
	backoff   Backoff
	sleep     func(ctx context.Context, d time.Duration) error
	newServer func() jobServer
}

// NewWorker creates a worker for queue
func NewWorker(rc RedisConfig, queue string, handler *Handler, flags *health.Flags, log *zap.Logger) *Worker {
	w := &Worker{
		redis:   rc,
		queue:   queue,
		handler: handler,
		flags:   flags,
		logger:  logger.OrDefault(log).Named("jobs"),
		pinger:  redisPinger{client: redis.NewClient(&redis.Options{Addr: rc.Addr, Password: rc.Password, DB: rc.DB})},
		backoff: DefaultBackoff,
		sleep:   sleepContext,
	}
	w.newServer = w.asynqServer
	return w
}

func (w *Worker) asynqServer() jobServer {
	return asynq.NewServer(w.redis.ConnOpt(), asynq.Config{
		Concurrency:  1,
		Queues:       map[string]int{w.queue: 1},
		Logger:       w.logger.Sugar(),
		ErrorHandler: asynq.ErrorHandlerFunc(w.reportFailure),
	})
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connect pings the queue transport with capped exponential backoff. On give-up
// the queue_available flag is cleared and a transport error returned.
func (w *Worker) Connect(ctx context.Context) error {
	var lastErr error
	for attempt := 0; attempt < w.backoff.Attempts; attempt++ {
		lastErr = w.pinger.Ping(ctx)
		if lastErr == nil {
			w.setAvailable(true)
			w.logger.Info("Connected to job queue",
				zap.String("addr", w.redis.Addr),
				zap.String("queue", w.queue),
			)
			return nil
		}

		if attempt == w.backoff.Attempts-1 {
			break
		}
		delay := w.backoff.Delay(attempt)
		w.logger.Warn("Job queue unreachable, retrying",
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(lastErr),
		)
		if err := w.sleep(ctx, delay); err != nil {
			lastErr = err
			break
		}
	}

	w.setAvailable(false)
	return apperrors.NewTransport("redis", "job queue unavailable", lastErr)
}

func (w *Worker) setAvailable(ok bool) {
	if w.flags != nil {
		w.flags.Set(health.FlagQueueAvailable, ok)
	}
}

// Run connects and processes jobs until ctx is done. A queue that cannot be
// reached, or a job server that will not start, degrades the health flag instead
// of failing the process.
func (w *Worker) Run(ctx context.Context) error {
	defer w.closePinger()

	if err := w.Connect(ctx); err != nil {
		w.logger.Error("Job queue disabled", zap.Error(err))
		<-ctx.Done()
		return nil
	}

	srv := w.newServer()

	mux := asynq.NewServeMux()
	mux.Handle(constants.TaskTypeSpeak, w.handler)

	if err := srv.Start(mux); err != nil {
		w.setAvailable(false)
		w.logger.Error("Job queue disabled",
			zap.Error(apperrors.NewTransport("asynq", "start job server", err)),
		)
		<-ctx.Done()
		return nil
	}
	w.logger.Info("Job worker started", zap.String("queue", w.queue))

	<-ctx.Done()
	srv.Shutdown()
	w.logger.Info("Job worker stopped")
	return nil
}

func (w *Worker) closePinger() {
	if c, ok := w.pinger.(io.Closer); ok {
		_ = c.Close()
	}
}

func (w *Worker) reportFailure(ctx context.Context, t *asynq.Task, err error) {
	w.logger.Error("Job failed",
		zap.String("type", t.Type()),
		zap.ByteString("payload", t.Payload()),
		zap.Error(err),
	)
}
