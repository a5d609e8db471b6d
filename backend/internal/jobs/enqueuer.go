package jobs

import (
	"context"
	"time"

	apperrors "chorus/backend/pkg/errors"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// resultRetention keeps completed task results readable by the caller
const resultRetention = 24 * time.Hour

// Enqueuer submits TTS jobs from any process
type Enqueuer struct {
	client *asynq.Client
	queue  string
}

// NewEnqueuer creates a queue client
func NewEnqueuer(rc RedisConfig, queue string) *Enqueuer {
	return &Enqueuer{client: asynq.NewClient(rc.ConnOpt()), queue: queue}
}

// Options returns the per-task options applied to every job
func (e *Enqueuer) Options(taskID string) []asynq.Option {
	return []asynq.Option{
		asynq.Queue(e.queue),
		asynq.MaxRetry(0),
		asynq.TaskID(taskID),
		asynq.Retention(resultRetention),
	}
}

// Enqueue validates p and submits it. The task ID is returned for lookups.
func (e *Enqueuer) Enqueue(ctx context.Context, p Payload) (*asynq.TaskInfo, error) {
	task, err := NewSpeakTask(p)
	if err != nil {
		return nil, err
	}
	info, err := e.client.EnqueueContext(ctx, task, e.Options(uuid.NewString())...)
	if err != nil {
		return nil, apperrors.NewTransport("asynq", "enqueue speak job", err)
	}
	return info, nil
}

// Close releases the Redis connection
func (e *Enqueuer) Close() error {
	return e.client.Close()
}
