package session

import (
	"context"
	"strconv"
	"time"
)

// State tags a position in a workflow graph.
type State string

// Idle is the state of a session outside any workflow.
const Idle State = "idle"

// Session is the per-user conversation position and scratch data.
type Session struct {
	UserID    int64             `json:"user_id"`
	State     State             `json:"state"`
	Data      map[string]string `json:"data,omitempty"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// New returns the idle session of a user.
func New(userID int64) Session {
	return Session{UserID: userID, State: Idle}
}

// IsIdle reports whether the session is outside any workflow.
func (s Session) IsIdle() bool {
	return s.State == "" || s.State == Idle
}

// Get returns a scratch value or "".
func (s Session) Get(key string) string {
	return s.Data[key]
}

// Int64 parses a numeric scratch value.
func (s Session) Int64(key string) (int64, bool) {
	v, ok := s.Data[key]
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	return n, err == nil
}

// Expired reports whether the session was last touched more than ttl before
// now. A non-positive ttl never expires.
func (s Session) Expired(now time.Time, ttl time.Duration) bool {
	return ttl > 0 && !s.IsIdle() && now.Sub(s.UpdatedAt) > ttl
}

// Store keeps one session per user. Get never fails for an unknown user: it
// returns a fresh idle session.
type Store interface {
	Get(ctx context.Context, userID int64) (Session, error)
	Set(ctx context.Context, userID int64, state State, data map[string]string) error
	Clear(ctx context.Context, userID int64) error
}
