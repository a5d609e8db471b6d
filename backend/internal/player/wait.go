package player

import (
	"sync"
	"time"

	"chorus/backend/internal/constants"
	apperrors "chorus/backend/pkg/errors"
)

// EndWaiter observes the end of one playback. Create it before Play so a short
// clip cannot finish unobserved.
type EndWaiter struct {
	once        sync.Once
	done        chan error
	unsubscribe func()
}

// ExpectEnd subscribes to src and settles on the first Idle or Error event
func ExpectEnd(src Source) *EndWaiter {
	w := &EndWaiter{done: make(chan error, 1)}
	w.unsubscribe = src.Subscribe(func(ev Event) {
		switch ev.Type {
		case EventIdle:
			w.settle(nil)
		case EventError:
			w.settle(ev.Err)
		}
	})
	return w
}

func (w *EndWaiter) settle(err error) {
	w.once.Do(func() {
		w.done <- err
	})
}

// Wait blocks until playback ends or timeout elapses, then removes the listener.
// A zero timeout uses the default. Expiry returns an ErrTimeout.
func (w *EndWaiter) Wait(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = constants.DefaultPlaybackTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	defer w.unsubscribe()

	select {
	case err := <-w.done:
		return err
	case <-timer.C:
		w.settle(apperrors.NewTimeout("playback", timeout))
		return <-w.done
	}
}

// WaitForPlaybackEnd waits for the next Idle or Error event on src, bounded by timeout
func WaitForPlaybackEnd(src Source, timeout time.Duration) error {
	return ExpectEnd(src).Wait(timeout)
}
