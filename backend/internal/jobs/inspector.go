package jobs

import (
	"errors"
	"time"

	apperrors "chorus/backend/pkg/errors"

	"github.com/hibiken/asynq"
)

// TaskStatus is what callers can learn about a submitted job
type TaskStatus struct {
	ID          string    `json:"id"`
	State       string    `json:"state"`
	LastError   string    `json:"lastError,omitempty"`
	Result      string    `json:"result,omitempty"`
	CompletedAt time.Time `json:"completedAt,omitempty"`
}

// QueueStats summarizes the TTS queue
type QueueStats struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Completed int    `json:"completed"`
	Archived  int    `json:"archived"`
	Processed int    `json:"processed"`
	Failed    int    `json:"failed"`
	Paused    bool   `json:"paused"`
}

// ErrTaskNotFound is returned for unknown or expired task ids
var ErrTaskNotFound = errors.New("task not found")

type queueInspector interface {
	GetTaskInfo(queue, id string) (*asynq.TaskInfo, error)
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
	Close() error
}

// Inspector reads job state back out of the queue
type Inspector struct {
	inspector queueInspector
	queue     string
}

// NewInspector creates an inspector for queue
func NewInspector(rc RedisConfig, queue string) *Inspector {
	return &Inspector{inspector: asynq.NewInspector(rc.ConnOpt()), queue: queue}
}

// Status looks up a task by the id returned from Enqueue
func (i *Inspector) Status(id string) (*TaskStatus, error) {
	info, err := i.inspector.GetTaskInfo(i.queue, id)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, apperrors.NewTransport("asynq", "get task info", err)
	}
	return &TaskStatus{
		ID:          info.ID,
		State:       info.State.String(),
		LastError:   info.LastErr,
		Result:      string(info.Result),
		CompletedAt: info.CompletedAt,
	}, nil
}

// Stats returns the queue's counters. A queue that has never seen a job
// reports zeros.
func (i *Inspector) Stats() (*QueueStats, error) {
	info, err := i.inspector.GetQueueInfo(i.queue)
	if err != nil {
		if errors.Is(err, asynq.ErrQueueNotFound) {
			return &QueueStats{Queue: i.queue}, nil
		}
		return nil, apperrors.NewTransport("asynq", "get queue info", err)
	}
	return &QueueStats{
		Queue:     info.Queue,
		Pending:   info.Pending,
		Active:    info.Active,
		Completed: info.Completed,
		Archived:  info.Archived,
		Processed: info.Processed,
		Failed:    info.Failed,
		Paused:    info.Paused,
	}, nil
}

// Close releases the Redis connection
func (i *Inspector) Close() error {
	return i.inspector.Close()
}
