// Package realtime streams Discord voice to a realtime conversational agent over
// one websocket per user and plays its spoken replies back.
package realtime

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"chorus/backend/internal/constants"
	"chorus/backend/internal/pcm"
	"chorus/backend/internal/tools"
	apperrors "chorus/backend/pkg/errors"
	"chorus/backend/pkg/logger"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// State is the session lifecycle
type State int32

const (
	StateConnecting State = iota
	StateAwaitingSessionAck
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAwaitingSessionAck:
		return "awaiting_session_ack"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// SessionStore supplies per-user settings and records response ids
type SessionStore interface {
	VoicePreference(ctx context.Context, guildID, userID string) string
	SetResponseID(ctx context.Context, guildID, userID, id string)
}

// ToolExecutor runs function calls requested by the agent
type ToolExecutor interface {
	Execute(ctx context.Context, guildID, userID, name string, args map[string]any) (any, error)
}

// Config holds the session settings
type Config struct {
	URL           string
	APIKey        string
	Persona       string
	Voice         string
	ToolsEnabled  bool
	Tools         []tools.Definition
	MinAudioBytes int
	DialTimeout   time.Duration
}

// Callbacks are invoked from the client's reader goroutine
type Callbacks struct {
	// OnAudioDone receives one complete reply as 24kHz mono PCM16
	OnAudioDone func(pcm []byte)
	// OnClose fires once when the session ends for any reason
	OnClose func()
}

// Client is one realtime agent session for a (guild, user) pair
type Client struct {
	guildID string
	userID  string
	cfg     Config
	store   SessionStore
	exec    ToolExecutor
	cb      Callbacks
	logger  *zap.Logger

	conn    *websocket.Conn
	writeMu sync.Mutex
	state   atomic.Int32

	mu         sync.Mutex // guards responseID, audio and the call bookkeeping
	responseID string
	audio      []string

	// Function calls of the current response. One response.create follows once
	// the response is done and every call has been answered.
	pendingCalls map[string]struct{}
	answered     int
	turnDone     bool

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	done      chan struct{}
}

// Dial opens a session and sends the initial session config. The returned client
// becomes Active once the server acknowledges the config.
func Dial(ctx context.Context, guildID, userID string, cfg Config, store SessionStore, exec ToolExecutor, cb Callbacks, log *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, apperrors.NewConfigMissingKey("REALTIME_API_KEY")
	}
	if cfg.MinAudioBytes <= 0 {
		cfg.MinAudioBytes = constants.MinAgentAudioBytes
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = constants.RealtimeDialTimeout
	}

	c := &Client{
		guildID: guildID,
		userID:  userID,
		cfg:     cfg,
		store:   store,
		exec:    exec,
		cb:      cb,
		logger: logger.OrDefault(log).Named("realtime").With(
			zap.String("guild_id", guildID),
			zap.String("user_id", userID),
		),
		done: make(chan struct{}),
	}
	c.state.Store(int32(StateConnecting))

	header := http.Header{}
	header.Set("Authorization", "Bearer "+cfg.APIKey)
	dialer := websocket.Dialer{HandshakeTimeout: cfg.DialTimeout}

	conn, _, err := dialer.DialContext(ctx, cfg.URL, header)
	if err != nil {
		c.state.Store(int32(StateClosed))
		return nil, apperrors.NewTransport("realtime", "dial agent", err)
	}
	c.conn = conn
	c.ctx, c.cancel = context.WithCancel(context.Background())

	c.state.Store(int32(StateAwaitingSessionAck))
	c.send(c.sessionUpdate())

	go c.readLoop()

	c.logger.Info("Realtime session opened", zap.String("url", cfg.URL))
	return c, nil
}

// State returns the current lifecycle state
func (c *Client) State() State {
	return State(c.state.Load())
}

// GuildID returns the session's guild
func (c *Client) GuildID() string { return c.guildID }

// UserID returns the session's user
func (c *Client) UserID() string { return c.userID }

// Done is closed once the session is closed
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// ResponseID returns the id of the response in progress, if any
func (c *Client) ResponseID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.responseID
}

// SendAudio forwards 48kHz stereo capture to the agent. It is a no-op until the
// session is Active, and chunks shorter than MinAudioBytes are dropped.
func (c *Client) SendAudio(stereo48 []byte) {
	if c.State() != StateActive || len(stereo48) < c.cfg.MinAudioBytes {
		return
	}
	mono := pcm.Stereo48ToMono24(stereo48)
	if len(mono) == 0 {
		return
	}
	c.send(audioAppendEvent{
		Type:  EventInputAudioAppend,
		Audio: base64.StdEncoding.EncodeToString(mono),
	})
}

// Close ends the session. Safe to call more than once and from any goroutine.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosing))
		c.cancel()

		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		_ = c.conn.Close()

		c.mu.Lock()
		c.audio = nil
		c.responseID = ""
		c.mu.Unlock()

		c.state.Store(int32(StateClosed))
		close(c.done)
		c.logger.Info("Realtime session closed")

		if c.cb.OnClose != nil {
			c.cb.OnClose()
		}
	})
}

func (c *Client) readLoop() {
	defer c.Close()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.State() < StateClosing {
				c.logger.Warn("Realtime socket closed by peer", zap.Error(err))
			}
			return
		}
		c.handle(data)
	}
}

func (c *Client) handle(data []byte) {
	var ev serverEvent
	if err := sonic.Unmarshal(data, &ev); err != nil || ev.Type == "" {
		c.logger.Debug("Dropping malformed realtime event", zap.Int("bytes", len(data)), zap.Error(err))
		return
	}

	switch ev.Type {
	case EventSessionUpdated:
		if c.state.CompareAndSwap(int32(StateAwaitingSessionAck), int32(StateActive)) {
			c.logger.Info("Realtime session active")
		}

	case EventResponseCreated:
		c.mu.Lock()
		c.responseID = ev.Response.ID
		c.mu.Unlock()
		c.recordResponseID(ev.Response.ID)

	case EventResponseAudioDelta:
		if ev.Delta != "" {
			c.mu.Lock()
			c.audio = append(c.audio, ev.Delta)
			c.mu.Unlock()
		}

	case EventResponseAudioDone:
		c.flushAudio()

	case EventFunctionArgumentsDone:
		c.mu.Lock()
		if c.pendingCalls == nil {
			c.pendingCalls = make(map[string]struct{})
		}
		c.pendingCalls[ev.CallID] = struct{}{}
		c.turnDone = false
		c.mu.Unlock()
		go c.handleFunctionCall(ev.CallID, ev.Name, ev.Arguments)

	case EventResponseDone:
		// Refresh persona and voice without reconnecting
		update := c.sessionUpdate()

		c.writeMu.Lock()
		c.writeLocked(update)
		c.mu.Lock()
		c.responseID = ""
		c.turnDone = true
		c.mu.Unlock()
		c.continueIfAnswered()
		c.writeMu.Unlock()

	case EventError:
		c.logger.Warn("Realtime agent error",
			zap.String("type", ev.Error.Type),
			zap.String("code", ev.Error.Code),
			zap.String("message", ev.Error.Message),
		)

	default:
		c.logger.Debug("Unhandled realtime event", zap.String("type", ev.Type))
	}
}

func (c *Client) flushAudio() {
	c.mu.Lock()
	chunks := c.audio
	c.audio = nil
	c.mu.Unlock()

	if len(chunks) == 0 {
		return
	}

	var out []byte
	for i, chunk := range chunks {
		decoded, err := base64.StdEncoding.DecodeString(chunk)
		if err != nil {
			c.logger.Debug("Dropping undecodable audio delta", zap.Int("index", i), zap.Error(err))
			continue
		}
		out = append(out, decoded...)
	}

	if len(out) > 0 && c.cb.OnAudioDone != nil {
		c.cb.OnAudioDone(out)
	}
}

func (c *Client) recordResponseID(id string) {
	if c.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(c.ctx, constants.RealtimeStoreTimeout)
	defer cancel()
	c.store.SetResponseID(ctx, c.guildID, c.userID, id)
}

func (c *Client) voice() string {
	if c.store != nil {
		ctx, cancel := context.WithTimeout(c.ctx, constants.RealtimeStoreTimeout)
		pref := c.store.VoicePreference(ctx, c.guildID, c.userID)
		cancel()
		if tools.IsAgentVoice(pref) {
			return strings.ToLower(strings.TrimSpace(pref))
		}
	}
	if tools.IsAgentVoice(c.cfg.Voice) {
		return strings.ToLower(strings.TrimSpace(c.cfg.Voice))
	}
	return constants.DefaultAgentVoice
}

func (c *Client) sessionUpdate() sessionUpdateEvent {
	instructions := strings.TrimSpace(c.cfg.Persona)
	if instructions == "" {
		instructions = constants.MsgAgentNoPersona
	}

	session := sessionConfig{
		Type:             "realtime",
		Instructions:     instructions,
		OutputModalities: []string{"audio"},
		Audio: sessionAudio{
			Input: audioInput{
				Format:        agentAudioFormat,
				TurnDetection: turnDetection{Type: "server_vad"},
			},
			Output: audioOutput{
				Format: agentAudioFormat,
				Voice:  c.voice(),
			},
		},
	}
	if c.cfg.ToolsEnabled && c.exec != nil && len(c.cfg.Tools) > 0 {
		session.Tools = toSessionTools(c.cfg.Tools)
		session.ToolChoice = "auto"
	}

	return sessionUpdateEvent{Type: EventSessionUpdate, Session: session}
}

// handleFunctionCall runs the tool and answers with one function_call_output item.
// The last answer of a finished response is followed by response.create.
func (c *Client) handleFunctionCall(callID, name, arguments string) {
	result := c.runTool(name, arguments)

	output, err := sonic.MarshalString(result)
	if err != nil {
		output = `{"success":false,"error":"tool result could not be encoded"}`
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.writeLocked(conversationItemEvent{
		Type: EventConversationCreate,
		Item: functionOutputItem{
			Type:   "function_call_output",
			CallID: callID,
			Output: output,
		},
	})

	c.mu.Lock()
	delete(c.pendingCalls, callID)
	c.answered++
	c.mu.Unlock()
	c.continueIfAnswered()
}

// continueIfAnswered asks for the next response once the current one is done and
// all of its function calls have outputs. writeMu must be held.
func (c *Client) continueIfAnswered() {
	c.mu.Lock()
	ready := c.turnDone && len(c.pendingCalls) == 0 && c.answered > 0
	if ready {
		c.answered = 0
		c.turnDone = false
	}
	c.mu.Unlock()

	if ready {
		c.writeLocked(responseCreateEvent{Type: EventResponseCreate})
	}
}

func (c *Client) runTool(name, arguments string) (res functionResult) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Tool panicked", zap.String("tool", name), zap.Any("panic", r))
			res = functionResult{Success: false, Error: fmt.Sprintf("tool %s failed", name)}
		}
	}()

	if c.exec == nil {
		return functionResult{Success: false, Error: "tools are not available"}
	}

	args := map[string]any{}
	if strings.TrimSpace(arguments) != "" {
		if err := sonic.UnmarshalString(arguments, &args); err != nil {
			return functionResult{Success: false, Error: "invalid tool arguments"}
		}
	}

	ctx, cancel := context.WithTimeout(c.ctx, constants.RealtimeToolTimeout)
	defer cancel()

	value, err := c.exec.Execute(ctx, c.guildID, c.userID, name, args)
	if err != nil {
		c.logger.Warn("Tool failed", zap.String("tool", name), zap.Error(err))
		return functionResult{Success: false, Error: err.Error()}
	}
	c.logger.Debug("Tool executed", zap.String("tool", name))
	return functionResult{Success: true, Result: value}
}

func (c *Client) send(v any) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.writeLocked(v)
}

// writeLocked must be called with writeMu held. Failures are logged and dropped.
func (c *Client) writeLocked(v any) {
	if c.State() >= StateClosing {
		return
	}
	data, err := sonic.Marshal(v)
	if err != nil {
		c.logger.Warn("Failed to encode realtime event", zap.Error(err))
		return
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(constants.RealtimeWriteTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.logger.Warn("Failed to send realtime event", zap.Error(err))
	}
}
