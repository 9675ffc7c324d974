package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/haivivi/culprit/pkg/backend"
	"github.com/haivivi/culprit/pkg/kv"
	"github.com/haivivi/culprit/pkg/storage"
)

// ErrRoomExists is returned when creating a room that is already live.
var ErrRoomExists = errors.New("session: room exists")

// ManagerConfig holds the collaborators shared by every session.
type ManagerConfig struct {
	Backend       backend.Backend
	Store         kv.Store
	Archive       storage.FileStore
	RoundDuration time.Duration
	QueueSize     int
	Logger        *slog.Logger
}

// Manager owns the live sessions, one per room. Sessions never share
// state; the manager only routes by room id.
type Manager struct {
	cfg ManagerConfig

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

// NewManager creates an empty manager.
func NewManager(cfg ManagerConfig) *Manager {
	return &Manager{
		cfg:      cfg,
		sessions: make(map[string]*Session),
	}
}

// Get returns the live session for a room, or nil.
func (m *Manager) Get(roomID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[roomID]
}

// fill completes a per-room config with the manager's collaborators.
func (m *Manager) fill(cfg Config) Config {
	if cfg.Backend == nil {
		cfg.Backend = m.cfg.Backend
	}
	if cfg.Store == nil {
		cfg.Store = m.cfg.Store
	}
	if cfg.Archive == nil {
		cfg.Archive = m.cfg.Archive
	}
	if cfg.Logger == nil {
		cfg.Logger = m.cfg.Logger
	}
	if cfg.RoundDuration == 0 {
		cfg.RoundDuration = m.cfg.RoundDuration
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = m.cfg.QueueSize
	}
	return cfg
}

// Create starts a fresh session for the room.
func (m *Manager) Create(cfg Config) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if _, ok := m.sessions[cfg.RoomID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrRoomExists, cfg.RoomID)
	}
	s, err := New(m.fill(cfg))
	if err != nil {
		return nil, err
	}
	m.sessions[cfg.RoomID] = s
	return s, nil
}

// Resume rebuilds a room from its persisted snapshot. A room with no
// snapshot yields kv.ErrNotFound.
func (m *Manager) Resume(ctx context.Context, cfg Config) (*Session, error) {
	cfg = m.fill(cfg)
	if cfg.Store == nil {
		return nil, fmt.Errorf("session: resume without a store: %w", kv.ErrNotFound)
	}
	snap, err := LoadSnapshot(ctx, cfg.Store, cfg.RoomID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if _, ok := m.sessions[cfg.RoomID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrRoomExists, cfg.RoomID)
	}
	s, err := Resume(cfg, snap)
	if err != nil {
		return nil, err
	}
	m.sessions[cfg.RoomID] = s
	return s, nil
}

// Remove closes and forgets one room.
func (m *Manager) Remove(roomID string) {
	m.mu.Lock()
	s := m.sessions[roomID]
	delete(m.sessions, roomID)
	m.mu.Unlock()
	if s != nil {
		s.Close()
	}
}

// Close shuts down every live session.
func (m *Manager) Close() error {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.closed = true
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
	return nil
}
