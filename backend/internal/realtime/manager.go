package realtime

import (
	"context"
	"sync"

	"chorus/backend/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type sessionKey struct {
	guildID string
	userID  string
}

type session struct {
	id     string
	client *Client
}

type dialFunc func(ctx context.Context, guildID, userID string, cb Callbacks) (*Client, error)

// Manager keeps at most one agent session per (guild, user)
type Manager struct {
	mu       sync.Mutex
	sessions map[sessionKey]session
	dial     dialFunc
	logger   *zap.Logger
}

// NewManager creates a session manager
func NewManager(cfg Config, store SessionStore, exec ToolExecutor, log *zap.Logger) *Manager {
	log = logger.OrDefault(log)
	return &Manager{
		sessions: make(map[sessionKey]session),
		dial: func(ctx context.Context, guildID, userID string, cb Callbacks) (*Client, error) {
			return Dial(ctx, guildID, userID, cfg, store, exec, cb, log)
		},
		logger: log.Named("realtime"),
	}
}

// Start opens a session for the user, closing any previous one. It returns nil
// when the agent cannot be reached.
func (m *Manager) Start(ctx context.Context, guildID, userID string, onAudio func([]byte)) *Client {
	key := sessionKey{guildID: guildID, userID: userID}
	m.Stop(guildID, userID)

	id := uuid.NewString()
	cb := Callbacks{
		OnAudioDone: onAudio,
		OnClose:     func() { m.remove(key, id) },
	}

	c, err := m.dial(ctx, guildID, userID, cb)
	if err != nil {
		m.logger.Warn("Voice agent unavailable",
			zap.String("guild_id", guildID),
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return nil
	}

	m.mu.Lock()
	if c.State() == StateClosed {
		m.mu.Unlock()
		return nil
	}
	prev, raced := m.sessions[key]
	m.sessions[key] = session{id: id, client: c}
	m.mu.Unlock()

	if raced {
		prev.client.Close()
	}
	return c
}

func (m *Manager) remove(key sessionKey, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[key]; ok && s.id == id {
		delete(m.sessions, key)
	}
}

// Get returns the user's live session, or nil
func (m *Manager) Get(guildID, userID string) *Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[sessionKey{guildID: guildID, userID: userID}]; ok {
		return s.client
	}
	return nil
}

// Stop closes the user's session. Reports whether one was open.
func (m *Manager) Stop(guildID, userID string) bool {
	key := sessionKey{guildID: guildID, userID: userID}
	m.mu.Lock()
	s, ok := m.sessions[key]
	delete(m.sessions, key)
	m.mu.Unlock()

	if ok {
		s.client.Close()
	}
	return ok
}

// CloseGuild closes every session in the guild
func (m *Manager) CloseGuild(guildID string) {
	m.closeWhere(func(k sessionKey) bool { return k.guildID == guildID })
}

// CloseAll closes every session
func (m *Manager) CloseAll() {
	m.closeWhere(func(sessionKey) bool { return true })
}

func (m *Manager) closeWhere(match func(sessionKey) bool) {
	var closing []*Client
	m.mu.Lock()
	for k, s := range m.sessions {
		if match(k) {
			closing = append(closing, s.client)
			delete(m.sessions, k)
		}
	}
	m.mu.Unlock()

	for _, c := range closing {
		c.Close()
	}
}

// Active returns the number of open sessions
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// ForGuild returns the guild's sessions keyed by user id
func (m *Manager) ForGuild(guildID string) map[string]*Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]*Client)
	for k, s := range m.sessions {
		if k.guildID == guildID {
			out[k.userID] = s.client
		}
	}
	return out
}
