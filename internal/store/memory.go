// internal/store/memory.go
//
// In-memory implementation of the session Store.
// A session is one browser tab's game: its owner and the Engine running
// the live round.
//
// Characteristics:
//   - Stores *Session objects keyed by ID in a map.
//   - Concurrency-safe via RWMutex (concurrent reads allowed, writes exclusive).
//   - State is lost when the process restarts.
//   - Delete closes the session's engine so no timer outlives it.
//   - Sweep drops sessions nobody has touched since a cutoff.

package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robalobadob/memory/go-server/internal/game"
)

// ErrNotFound is returned by Get for unknown session IDs.
var ErrNotFound = errors.New("not found")

// Session ties a running engine to the player that owns it.
type Session struct {
	ID         string
	PlayerID   string // authenticated user ID or anonymous cookie ID
	PlayerName string
	Daily      bool   // Daily Challenge session
	Date       string // YYYY-MM-DD for daily sessions
	CreatedAt  time.Time
	Engine     *game.Engine

	mu         sync.Mutex
	recorded   map[time.Time]bool // round start times already submitted
	lastActive time.Time
}

// Touch marks the session as used at t.
func (s *Session) Touch(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.After(s.lastActive) {
		s.lastActive = t
	}
}

// LastActive is the latest Touch, or CreatedAt for untouched sessions.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastActive.IsZero() {
		return s.CreatedAt
	}
	return s.lastActive
}

// ClaimWin reports whether the round that started at startedAt still needs
// to be submitted to the leaderboard, marking it submitted.
func (s *Session) ClaimWin(startedAt time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recorded == nil {
		s.recorded = make(map[time.Time]bool)
	}
	if s.recorded[startedAt] {
		return false
	}
	s.recorded[startedAt] = true
	return true
}

// Store defines the persistence interface for game sessions.
type Store interface {
	// Save persists or updates a session.
	Save(ctx context.Context, s *Session) error

	// Get retrieves a session by ID.
	// Returns ErrNotFound if the session is not found.
	Get(ctx context.Context, id string) (*Session, error)

	// Delete removes a session and stops its engine.
	Delete(ctx context.Context, id string) error

	// Sweep removes every session last active before idleSince, stopping
	// their engines, and reports how many were removed.
	Sweep(ctx context.Context, idleSince time.Time) int

	// Len reports how many sessions are held.
	Len() int
}

// memory is an in-memory map-based Store implementation.
type memory struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewMemoryStore constructs a new in-memory Store.
func NewMemoryStore() Store {
	return &memory{sessions: make(map[string]*Session)}
}

func (m *memory) Save(ctx context.Context, s *Session) error {
	if s == nil || s.ID == "" {
		return errors.New("session without id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return nil
}

func (m *memory) Get(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.sessions[id]; ok {
		return s, nil
	}
	return nil, ErrNotFound
}

func (m *memory) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	if s.Engine != nil {
		s.Engine.Close()
	}
	return nil
}

func (m *memory) Sweep(ctx context.Context, idleSince time.Time) int {
	var stale []*Session
	m.mu.Lock()
	for id, s := range m.sessions {
		if s.LastActive().Before(idleSince) {
			stale = append(stale, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range stale {
		if s.Engine != nil {
			s.Engine.Close()
		}
	}
	return len(stale)
}

func (m *memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
