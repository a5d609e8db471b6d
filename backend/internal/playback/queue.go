package playback

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// task is one unit of serialized guild work
type task struct {
	name string
	run  func(ctx context.Context) error
}

// taskQueue runs tasks one at a time in submission order on a single goroutine.
// A failing or panicking task is logged and never blocks the ones behind it.
type taskQueue struct {
	items []task
	mu    sync.Mutex

	wake   chan struct{}
	quit   chan struct{}
	done   chan struct{}
	closed sync.Once

	ctx    context.Context
	logger *zap.Logger
}

// newTaskQueue starts the runner goroutine
func newTaskQueue(ctx context.Context, log *zap.Logger) *taskQueue {
	q := &taskQueue{
		items:  make([]task, 0),
		wake:   make(chan struct{}, 1),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		ctx:    ctx,
		logger: log,
	}
	go q.loop()
	return q
}

// Enqueue appends t behind any pending work
func (q *taskQueue) Enqueue(t task) {
	q.mu.Lock()
	q.items = append(q.items, t)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Length returns the number of tasks waiting to start
func (q *taskQueue) Length() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops the runner. Pending tasks are dropped; a task already running
// finishes on its own.
func (q *taskQueue) Close() {
	q.closed.Do(func() {
		close(q.quit)
		q.mu.Lock()
		dropped := len(q.items)
		q.items = nil
		q.mu.Unlock()
		if dropped > 0 {
			q.logger.Debug("Dropped pending playback tasks", zap.Int("count", dropped))
		}
	})
}

// Done is closed once the runner goroutine exits
func (q *taskQueue) Done() <-chan struct{} {
	return q.done
}

func (q *taskQueue) dequeue() (task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return task{}, false
	}
	t := q.items[0]
	q.items[0] = task{}
	q.items = q.items[1:]
	return t, true
}

func (q *taskQueue) loop() {
	defer close(q.done)
	for {
		select {
		case <-q.quit:
			return
		default:
		}

		t, ok := q.dequeue()
		if !ok {
			select {
			case <-q.wake:
				continue
			case <-q.quit:
				return
			}
		}
		q.runSafe(t)
	}
}

func (q *taskQueue) runSafe(t task) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("Playback task panicked",
				zap.String("task", t.name),
				zap.String("panic", fmt.Sprint(r)),
			)
		}
	}()

	if err := t.run(q.ctx); err != nil {
		q.logger.Warn("Playback task failed",
			zap.String("task", t.name),
			zap.Error(err),
		)
	}
}
