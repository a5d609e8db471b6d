package playback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"chorus/backend/internal/constants"
	"chorus/backend/internal/pcm"
	"chorus/backend/internal/player"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// Mock implementations for testing

type mockSynth struct {
	mu    sync.Mutex
	calls []string
	fn    func(text string) ([]byte, error)
}

func (m *mockSynth) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	m.mu.Lock()
	m.calls = append(m.calls, text)
	fn := m.fn
	m.mu.Unlock()
	if fn != nil {
		return fn(text)
	}
	return pcm.SamplesToBytes([]int16{1, 2, 3, 4}), nil
}

func (m *mockSynth) texts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// mockPlayer finishes every resource immediately unless hold is set
type mockPlayer struct {
	mu        sync.Mutex
	listeners map[int]func(player.Event)
	next      int
	played    []*player.Resource
	hold      bool
	stops     int
}

func newMockPlayer() *mockPlayer {
	return &mockPlayer{listeners: make(map[int]func(player.Event))}
}

func (m *mockPlayer) Subscribe(fn func(player.Event)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.next
	m.next++
	m.listeners[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.listeners, id)
	}
}

func (m *mockPlayer) emit(ev player.Event) {
	m.mu.Lock()
	fns := make([]func(player.Event), 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (m *mockPlayer) Play(res *player.Resource) {
	m.mu.Lock()
	m.played = append(m.played, res)
	hold := m.hold
	m.mu.Unlock()
	if !hold {
		m.emit(player.Event{Type: player.EventIdle})
	}
}

func (m *mockPlayer) Stop() {
	m.mu.Lock()
	m.stops++
	m.mu.Unlock()
	m.emit(player.Event{Type: player.EventIdle})
}

func (m *mockPlayer) playedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.played)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestRegistry(synth *mockSynth, clock *fakeClock) *Registry {
	return NewRegistry(synth, 0.8, zap.NewNop(), WithClock(clock.Now), WithPlaybackTimeout(time.Second))
}

func TestSpeak_NotConnected(t *testing.T) {
	synth := &mockSynth{}
	r := newTestRegistry(synth, &fakeClock{now: time.Unix(0, 0)})
	defer r.Close()

	res := r.Speak(SpeakRequest{GuildID: "g1", Text: "hello"})

	assert.Equal(t, Result{Status: StatusError, Message: "Not connected to voice channel"}, res)
	assert.Equal(t, 0, r.Guilds(), "rejected request must not create guild state")
	assert.Empty(t, synth.texts())
}

func TestSpeak_BurstDedupe(t *testing.T) {
	synth := &mockSynth{}
	clock := &fakeClock{now: time.Unix(1000, 0)}
	r := newTestRegistry(synth, clock)
	defer r.Close()
	p := newMockPlayer()
	r.Attach("g1", p)

	first := r.Speak(SpeakRequest{GuildID: "g1", Text: "Hello", Voice: "nova"})
	clock.Advance(500 * time.Millisecond)
	second := r.Speak(SpeakRequest{GuildID: "g1", Text: "hello", Voice: "NOVA"})

	assert.Equal(t, constants.MsgQueuedTTS, first.Message)
	assert.Equal(t, Result{Status: StatusSuccess, Message: "Dropped duplicate TTS (burst dedupe)"}, second)
	require.Eventually(t, func() bool { return p.playedCount() == 1 }, time.Second, time.Millisecond)
	assert.Len(t, synth.texts(), 1)

	clock.Advance(constants.DedupeWindow)
	third := r.Speak(SpeakRequest{GuildID: "g1", Text: "hello", Voice: "nova"})
	assert.Equal(t, constants.MsgQueuedTTS, third.Message)
	require.Eventually(t, func() bool { return p.playedCount() == 2 }, time.Second, time.Millisecond)
	assert.Len(t, synth.texts(), 2)
}

func TestSpeak_DedupeOnlyTracksLastKey(t *testing.T) {
	synth := &mockSynth{}
	r := newTestRegistry(synth, &fakeClock{now: time.Unix(1000, 0)})
	defer r.Close()
	p := newMockPlayer()
	r.Attach("g1", p)

	r.Speak(SpeakRequest{GuildID: "g1", Text: "a"})
	r.Speak(SpeakRequest{GuildID: "g1", Text: "b"})
	res := r.Speak(SpeakRequest{GuildID: "g1", Text: "a"})

	assert.Equal(t, constants.MsgQueuedTTS, res.Message)
	require.Eventually(t, func() bool { return p.playedCount() == 3 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"a", "b", "a"}, synth.texts())
}

func TestSpeak_FIFOSurvivesFailuresAndPanics(t *testing.T) {
	synth := &mockSynth{fn: func(text string) ([]byte, error) {
		switch text {
		case "fail":
			return nil, errors.New("provider down")
		case "panic":
			panic("provider exploded")
		}
		return pcm.SamplesToBytes([]int16{1, 2}), nil
	}}
	r := newTestRegistry(synth, &fakeClock{now: time.Unix(1000, 0)})
	defer r.Close()
	p := newMockPlayer()
	r.Attach("g1", p)

	for _, text := range []string{"one", "fail", "two", "panic", "three"} {
		require.True(t, r.Speak(SpeakRequest{GuildID: "g1", Text: text}).OK())
	}

	require.Eventually(t, func() bool { return p.playedCount() == 3 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"one", "fail", "two", "panic", "three"}, synth.texts())
}

func TestSpeak_PendingCountsQueuedWork(t *testing.T) {
	gate := make(chan struct{})
	synth := &mockSynth{fn: func(text string) ([]byte, error) {
		if text == "first" {
			<-gate
		}
		return pcm.SamplesToBytes([]int16{1, 2}), nil
	}}
	r := newTestRegistry(synth, &fakeClock{now: time.Unix(1000, 0)})
	defer r.Close()
	p := newMockPlayer()
	r.Attach("g1", p)

	for _, text := range []string{"first", "second", "third"} {
		require.True(t, r.Speak(SpeakRequest{GuildID: "g1", Text: text}).OK())
	}

	// first is running and blocked in synthesis
	require.Eventually(t, func() bool { return len(synth.texts()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 2, r.State("g1").Pending())

	close(gate)
	require.Eventually(t, func() bool { return p.playedCount() == 3 }, time.Second, time.Millisecond)
	assert.Equal(t, 0, r.State("g1").Pending())
}

func TestSpeak_FramesStereoAtGuildVolume(t *testing.T) {
	synth := &mockSynth{fn: func(string) ([]byte, error) {
		return make([]byte, constants.FrameBytes), nil
	}}
	r := newTestRegistry(synth, &fakeClock{now: time.Unix(1000, 0)})
	defer r.Close()
	p := newMockPlayer()
	r.Attach("g1", p)
	r.SetVolume("g1", 0.3)

	r.Speak(SpeakRequest{GuildID: "g1", Text: "hi"})
	require.Eventually(t, func() bool { return p.playedCount() == 1 }, time.Second, time.Millisecond)

	p.mu.Lock()
	res := p.played[0]
	p.mu.Unlock()
	assert.InDelta(t, 0.3, res.Volume(), 1e-9)
	assert.Eventually(t, func() bool { return r.State("g1").CurrentResource() == nil }, time.Second, time.Millisecond,
		"current resource is cleared after playback")
}

func TestSetVolume_RetargetsLiveResource(t *testing.T) {
	synth := &mockSynth{}
	r := newTestRegistry(synth, &fakeClock{now: time.Unix(1000, 0)})
	defer r.Close()
	p := newMockPlayer()
	p.hold = true
	r.Attach("g1", p)

	r.Speak(SpeakRequest{GuildID: "g1", Text: "long clip"})
	require.Eventually(t, func() bool { return r.State("g1").CurrentResource() != nil }, time.Second, time.Millisecond)

	assert.Equal(t, 1.0, r.SetVolume("g1", 1.7))
	assert.InDelta(t, 1.0, r.State("g1").CurrentResource().Volume(), 1e-9)
	assert.Equal(t, 0.0, r.SetVolume("g1", -2))
	assert.InDelta(t, 0.0, r.State("g1").CurrentResource().Volume(), 1e-9)

	assert.True(t, r.Stop("g1"))
	require.Eventually(t, func() bool { return r.State("g1").CurrentResource() == nil }, time.Second, time.Millisecond)
}

func TestPlayPCM_SharesGuildQueue(t *testing.T) {
	synth := &mockSynth{}
	r := newTestRegistry(synth, &fakeClock{now: time.Unix(1000, 0)})
	defer r.Close()
	p := newMockPlayer()
	r.Attach("g1", p)

	assert.True(t, r.Speak(SpeakRequest{GuildID: "g1", Text: "first"}).OK())
	assert.True(t, r.PlayPCM("g1", pcm.SamplesToBytes([]int16{5, 6})).OK())
	require.Eventually(t, func() bool { return p.playedCount() == 2 }, time.Second, time.Millisecond)

	assert.False(t, r.PlayPCM("g2", []byte{1, 2}).OK())
}

func TestEvict_RemovesStateAndStopsRunner(t *testing.T) {
	synth := &mockSynth{}
	r := newTestRegistry(synth, &fakeClock{now: time.Unix(1000, 0)})
	defer r.Close()
	p := newMockPlayer()
	r.Attach("g1", p)
	gs := r.State("g1")

	r.Evict("g1")

	assert.Equal(t, 0, r.Guilds())
	assert.False(t, r.Connected("g1"))
	p.mu.Lock()
	assert.Equal(t, 1, p.stops)
	p.mu.Unlock()
	select {
	case <-gs.queue.Done():
	case <-time.After(time.Second):
		t.Fatal("task runner did not exit")
	}
}

func TestPlay_TimeoutIsNormalCompletion(t *testing.T) {
	synth := &mockSynth{}
	r := NewRegistry(synth, 1, zap.NewNop(), WithPlaybackTimeout(10*time.Millisecond))
	defer r.Close()
	p := newMockPlayer()
	p.hold = true
	r.Attach("g1", p)

	r.Speak(SpeakRequest{GuildID: "g1", Text: "one"})
	r.Speak(SpeakRequest{GuildID: "g1", Text: "two"})

	require.Eventually(t, func() bool { return p.playedCount() == 2 }, time.Second, time.Millisecond)
}
