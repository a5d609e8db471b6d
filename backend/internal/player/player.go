// Package player streams PCM resources to a voice connection as opus frames and
// reports Idle/Error events to subscribers.
package player

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"chorus/backend/internal/pcm"
	"chorus/backend/pkg/logger"

	"go.uber.org/zap"
)

// EventType identifies a player lifecycle event
type EventType int

const (
	// EventIdle fires when the current resource finished or was stopped
	EventIdle EventType = iota
	// EventError fires when a frame could not be encoded or delivered
	EventError
)

func (t EventType) String() string {
	switch t {
	case EventIdle:
		return "idle"
	case EventError:
		return "error"
	default:
		return fmt.Sprintf("event(%d)", int(t))
	}
}

// Event is delivered to every subscriber
type Event struct {
	Type EventType
	Err  error
}

// Source emits player events. The returned func removes the listener.
type Source interface {
	Subscribe(fn func(Event)) (unsubscribe func())
}

// Sink receives encoded opus frames
type Sink interface {
	SendOpus(ctx context.Context, frame []byte) error
	Speaking(speaking bool) error
}

// Encoder turns one frame of 48kHz stereo samples into an opus packet
type Encoder interface {
	Encode(pcm []int16, data []byte) (int, error)
}

// Resource is a single-pass PCM source with inline volume control
type Resource struct {
	frames *pcm.FrameReader
	gain   atomic.Uint64
}

// NewResource wraps frames of 48kHz stereo PCM at the given linear volume
func NewResource(frames *pcm.FrameReader, volume float64) *Resource {
	r := &Resource{frames: frames}
	r.SetVolume(volume)
	return r
}

// SetVolume retargets the gain applied to frames not yet played
func (r *Resource) SetVolume(v float64) {
	r.gain.Store(math.Float64bits(v))
}

// Volume returns the current linear gain
func (r *Resource) Volume() float64 {
	return math.Float64frombits(r.gain.Load())
}

func (r *Resource) next() ([]byte, bool) {
	frame, ok := r.frames.Next()
	if !ok {
		return nil, false
	}
	return pcm.ApplyGain(frame, r.Volume()), true
}

// Player plays one resource at a time on a sink
type Player struct {
	sink   Sink
	enc    Encoder
	logger *zap.Logger

	// ctl serializes Play and Stop so only one stream touches the encoder
	ctl sync.Mutex

	mu        sync.Mutex
	listeners map[uint64]func(Event)
	nextID    uint64
	cancel    context.CancelFunc
	done      chan struct{}
	playing   uint64
}

// New creates a player writing to sink
func New(sink Sink, enc Encoder, log *zap.Logger) *Player {
	return &Player{
		sink:      sink,
		enc:       enc,
		logger:    logger.OrDefault(log),
		listeners: make(map[uint64]func(Event)),
	}
}

// Subscribe registers fn for every subsequent event
func (p *Player) Subscribe(fn func(Event)) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.listeners, id)
			p.mu.Unlock()
		})
	}
}

// ListenerCount reports how many listeners are registered
func (p *Player) ListenerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.listeners)
}

func (p *Player) emit(ev Event) {
	p.mu.Lock()
	fns := make([]func(Event), 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// Play starts streaming res. A resource already playing is replaced without an
// Idle event for it; Play returns once the old stream has exited.
func (p *Player) Play(res *Resource) {
	p.ctl.Lock()
	defer p.ctl.Unlock()

	p.mu.Lock()
	prevCancel, prevDone := p.cancel, p.done
	p.playing++
	gen := p.playing
	p.mu.Unlock()

	if prevCancel != nil {
		prevCancel()
	}
	if prevDone != nil {
		<-prevDone
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	p.mu.Lock()
	p.cancel = cancel
	p.done = done
	p.mu.Unlock()

	go func() {
		defer close(done)
		p.stream(ctx, gen, res)
	}()
}

// Stop ends the current resource, if any, and waits for its stream to exit.
// Subscribers see Idle. Must not be called from an event listener.
func (p *Player) Stop() {
	p.ctl.Lock()
	defer p.ctl.Unlock()

	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel = nil
	p.playing++
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	if done != nil {
		<-done
	}
	if err := p.sink.Speaking(false); err != nil {
		p.logger.Debug("Failed to clear speaking state", zap.Error(err))
	}
	p.emit(Event{Type: EventIdle})
}

func (p *Player) finish(gen uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.playing != gen {
		return false
	}
	p.cancel = nil
	return true
}

func (p *Player) stream(ctx context.Context, gen uint64, res *Resource) {
	if err := p.sink.Speaking(true); err != nil {
		p.logger.Debug("Failed to set speaking state", zap.Error(err))
	}

	packet := make([]byte, 4000)
	var streamErr error
	for {
		if ctx.Err() != nil {
			return
		}
		frame, ok := res.next()
		if !ok {
			break
		}
		n, err := p.enc.Encode(pcm.BytesToSamples(frame), packet)
		if err != nil {
			streamErr = fmt.Errorf("opus encode: %w", err)
			break
		}
		out := make([]byte, n)
		copy(out, packet[:n])
		if err := p.sink.SendOpus(ctx, out); err != nil {
			if ctx.Err() != nil {
				return
			}
			streamErr = err
			break
		}
	}

	if !p.finish(gen) {
		return
	}
	if err := p.sink.Speaking(false); err != nil {
		p.logger.Debug("Failed to clear speaking state", zap.Error(err))
	}
	if streamErr != nil {
		p.logger.Warn("Playback failed", zap.Error(streamErr))
		p.emit(Event{Type: EventError, Err: streamErr})
	}
	p.emit(Event{Type: EventIdle})
}
