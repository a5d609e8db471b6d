// Package playback serializes speech synthesis and playback per guild.
package playback

import (
	"context"
	"strings"
	"sync"
	"time"

	"chorus/backend/internal/constants"
	"chorus/backend/internal/pcm"
	"chorus/backend/internal/player"
	"chorus/backend/internal/tts"
	apperrors "chorus/backend/pkg/errors"
	"chorus/backend/pkg/logger"

	"go.uber.org/zap"
)

// Status is the outcome class of a speak request
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Result is returned synchronously by Speak. Success means the request was
// queued or deliberately dropped; playback outcome is only logged.
type Result struct {
	Status  Status `json:"status"`
	Message string `json:"message"`
}

// OK reports whether the request was accepted
func (r Result) OK() bool {
	return r.Status == StatusSuccess
}

// SpeakRequest asks for text to be spoken in a guild
type SpeakRequest struct {
	GuildID string `json:"guildId"`
	Text    string `json:"text"`
	Voice   string `json:"voice,omitempty"`
}

// AudioPlayer is the per-guild player bound to a voice connection
type AudioPlayer interface {
	player.Source
	Play(res *player.Resource)
	Stop()
}

// GuildState is the playback state of one guild
type GuildState struct {
	guildID string

	mu      sync.Mutex
	player  AudioPlayer
	volume  float64
	lastKey string
	lastAt  time.Time
	current *player.Resource
	queue   *taskQueue
}

// GuildID returns the guild this state belongs to
func (gs *GuildState) GuildID() string {
	return gs.guildID
}

// Volume returns the guild's linear playback volume
func (gs *GuildState) Volume() float64 {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	return gs.volume
}

// Connected reports whether a player is attached
func (gs *GuildState) Connected() bool {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	return gs.player != nil
}

// CurrentResource returns the resource being played, or nil
func (gs *GuildState) CurrentResource() *player.Resource {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	return gs.current
}

// Pending returns the number of queued tasks that have not started
func (gs *GuildState) Pending() int {
	return gs.queue.Length()
}

func (gs *GuildState) audioPlayer() AudioPlayer {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	return gs.player
}

func (gs *GuildState) setCurrent(res *player.Resource) {
	gs.mu.Lock()
	gs.current = res
	gs.mu.Unlock()
}

func (gs *GuildState) clearCurrent(res *player.Resource) {
	gs.mu.Lock()
	if gs.current == res {
		gs.current = nil
	}
	gs.mu.Unlock()
}

// Option configures a Registry
type Option func(*Registry)

// WithClock replaces the wall clock used for burst dedupe
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithPlaybackTimeout bounds how long a synthesized clip may play
func WithPlaybackTimeout(d time.Duration) Option {
	return func(r *Registry) { r.playbackTimeout = d }
}

// Registry owns the playback state of every guild. Entries are created on first
// access and removed by Evict.
type Registry struct {
	synth           tts.Synthesizer
	defaultVolume   float64
	playbackTimeout time.Duration
	now             func() time.Time
	logger          *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	guilds map[string]*GuildState
}

// NewRegistry creates an empty registry
func NewRegistry(synth tts.Synthesizer, defaultVolume float64, log *zap.Logger, opts ...Option) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		synth:           synth,
		defaultVolume:   clampVolume(defaultVolume),
		playbackTimeout: constants.TTSPlaybackTimeout,
		now:             time.Now,
		logger:          logger.OrDefault(log).Named("playback"),
		ctx:             ctx,
		cancel:          cancel,
		guilds:          make(map[string]*GuildState),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// State returns the guild's state, creating it on first access
func (r *Registry) State(guildID string) *GuildState {
	r.mu.Lock()
	defer r.mu.Unlock()

	if gs, ok := r.guilds[guildID]; ok {
		return gs
	}
	gs := &GuildState{
		guildID: guildID,
		volume:  r.defaultVolume,
		queue:   newTaskQueue(r.ctx, r.logger.With(zap.String("guild_id", guildID))),
	}
	r.guilds[guildID] = gs
	return gs
}

// lookup returns the guild's state without creating it
func (r *Registry) lookup(guildID string) (*GuildState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	gs, ok := r.guilds[guildID]
	return gs, ok
}

// Guilds returns the number of tracked guilds
func (r *Registry) Guilds() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.guilds)
}

// Attach borrows p as the guild's player
func (r *Registry) Attach(guildID string, p AudioPlayer) {
	gs := r.State(guildID)
	gs.mu.Lock()
	old := gs.player
	gs.player = p
	gs.mu.Unlock()

	if old != nil && old != p {
		old.Stop()
	}
	r.logger.Info("Attached voice player", zap.String("guild_id", guildID))
}

// Detach stops playback and releases the guild's player. Queued tasks fail with
// ErrNotConnected when they reach the front.
func (r *Registry) Detach(guildID string) {
	gs, ok := r.lookup(guildID)
	if !ok {
		return
	}
	gs.mu.Lock()
	p := gs.player
	gs.player = nil
	gs.mu.Unlock()

	if p != nil {
		p.Stop()
		r.logger.Info("Detached voice player", zap.String("guild_id", guildID))
	}
}

// Connected reports whether the guild has an attached player
func (r *Registry) Connected(guildID string) bool {
	gs, ok := r.lookup(guildID)
	return ok && gs.Connected()
}

// Evict detaches the guild and discards its state and pending work
func (r *Registry) Evict(guildID string) {
	r.Detach(guildID)

	r.mu.Lock()
	gs, ok := r.guilds[guildID]
	delete(r.guilds, guildID)
	r.mu.Unlock()

	if !ok {
		return
	}
	gs.queue.Close()
	r.logger.Info("Evicted guild playback state", zap.String("guild_id", guildID))
}

// Close evicts every guild
func (r *Registry) Close() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.guilds))
	for id := range r.guilds {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.Evict(id)
	}
	r.cancel()
}

func dedupeKey(voice, text string) string {
	return strings.ToLower(voice) + "::" + strings.ToLower(text)
}

// Speak queues text for synthesis and playback in the guild. It returns as soon as
// the work is queued; an identical request repeated inside the dedupe window is
// dropped with a success result.
func (r *Registry) Speak(req SpeakRequest) Result {
	if !r.Connected(req.GuildID) {
		return Result{Status: StatusError, Message: constants.MsgNotConnected}
	}
	gs := r.State(req.GuildID)

	key := dedupeKey(req.Voice, req.Text)
	now := r.now()

	gs.mu.Lock()
	if gs.lastKey == key && now.Sub(gs.lastAt) < constants.DedupeWindow {
		gs.mu.Unlock()
		r.logger.Debug("Dropped duplicate speak request", zap.String("guild_id", req.GuildID))
		return Result{Status: StatusSuccess, Message: constants.MsgDuplicateTTS}
	}
	gs.lastKey = key
	gs.lastAt = now
	gs.mu.Unlock()

	text, voice := req.Text, req.Voice
	gs.queue.Enqueue(task{
		name: "speak",
		run: func(ctx context.Context) error {
			audio, err := r.synth.Synthesize(ctx, text, voice)
			if err != nil {
				return err
			}
			return r.play(gs, audio)
		},
	})
	r.logger.Debug("Queued speech",
		zap.String("guild_id", req.GuildID),
		zap.Int("pending", gs.Pending()),
	)
	return Result{Status: StatusSuccess, Message: constants.MsgQueuedTTS}
}

// PlayPCM queues already synthesized 48kHz mono PCM behind the guild's pending speech
func (r *Registry) PlayPCM(guildID string, mono48 []byte) Result {
	if !r.Connected(guildID) {
		return Result{Status: StatusError, Message: constants.MsgNotConnected}
	}
	gs := r.State(guildID)
	gs.queue.Enqueue(task{
		name: "pcm",
		run: func(ctx context.Context) error {
			return r.play(gs, mono48)
		},
	})
	return Result{Status: StatusSuccess, Message: constants.MsgQueuedTTS}
}

func (r *Registry) play(gs *GuildState, mono48 []byte) error {
	p := gs.audioPlayer()
	if p == nil {
		return apperrors.ErrNotConnected
	}

	frames := pcm.ChunkIntoFrames(pcm.MonoToStereo(mono48), constants.FrameBytes)
	if len(frames) == 0 {
		return nil
	}
	res := player.NewResource(pcm.NewFrameReader(frames), gs.Volume())

	gs.setCurrent(res)
	defer gs.clearCurrent(res)

	end := player.ExpectEnd(p)
	p.Play(res)
	err := end.Wait(r.playbackTimeout)
	if apperrors.IsErrorType(err, apperrors.ErrorTypeTimeout) {
		r.logger.Warn("Playback wait timed out",
			zap.String("guild_id", gs.guildID),
			zap.Duration("timeout", r.playbackTimeout),
		)
		return nil
	}
	return err
}

func clampVolume(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// SetVolume sets the guild volume, clamped to [0,1], and retargets the clip
// currently playing. It returns the applied value.
func (r *Registry) SetVolume(guildID string, v float64) float64 {
	v = clampVolume(v)
	gs := r.State(guildID)

	gs.mu.Lock()
	gs.volume = v
	res := gs.current
	gs.mu.Unlock()

	if res != nil {
		res.SetVolume(v)
	}
	return v
}

// Volume returns the guild volume
func (r *Registry) Volume(guildID string) float64 {
	if gs, ok := r.lookup(guildID); ok {
		return gs.Volume()
	}
	return r.defaultVolume
}

// Stop ends the clip currently playing. Queued work continues afterwards.
func (r *Registry) Stop(guildID string) bool {
	gs, ok := r.lookup(guildID)
	if !ok {
		return false
	}
	p := gs.audioPlayer()
	if p == nil || gs.CurrentResource() == nil {
		return false
	}
	p.Stop()
	return true
}
