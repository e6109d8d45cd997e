package session

import (
	"context"
	"sync"
	"time"
)

// Memory holds sessions in process memory. A restart drops every conversation.
type Memory struct {
	mu       sync.Mutex
	sessions map[int64]Session
	ttl      time.Duration
	now      func() time.Time
}

// NewMemory creates a store. Sessions untouched for longer than idleTimeout
// read as idle; zero disables expiry.
func NewMemory(idleTimeout time.Duration) *Memory {
	return &Memory{
		sessions: make(map[int64]Session),
		ttl:      idleTimeout,
		now:      time.Now,
	}
}

func (m *Memory) Get(_ context.Context, userID int64) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	if !ok {
		return New(userID), nil
	}
	if s.Expired(m.now(), m.ttl) {
		delete(m.sessions, userID)
		return New(userID), nil
	}
	return copySession(s), nil
}

func (m *Memory) Set(_ context.Context, userID int64, state State, data map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[userID] = copySession(Session{UserID: userID, State: state, Data: data, UpdatedAt: m.now()})
	return nil
}

func (m *Memory) Clear(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, userID)
	return nil
}

// Sweep drops expired sessions and returns how many were removed.
func (m *Memory) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	n := 0
	for id, s := range m.sessions {
		if s.Expired(now, m.ttl) {
			delete(m.sessions, id)
			n++
		}
	}
	return n
}

// Len returns the number of stored sessions.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func copySession(s Session) Session {
	if s.Data == nil {
		return s
	}
	data := make(map[string]string, len(s.Data))
	for k, v := range s.Data {
		data[k] = v
	}
	s.Data = data
	return s
}
