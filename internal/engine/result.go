package engine

import (
	"context"

	"schoolbot/internal/school"
	"schoolbot/internal/session"
)

// Request is the input of a handler: the event, the caller's session as it was
// read before dispatch, and the caller's user record (nil when unregistered).
type Request struct {
	Event   Event
	Session session.Session
	User    *school.User
}

// Handler processes one event. A returned error means the session is left as
// it was and the caller gets a generic failure reply.
type Handler func(ctx context.Context, req Request) (Result, error)

// Result describes the session update and the actions produced by a handler.
type Result struct {
	next    session.State
	data    map[string]string
	reset   bool
	clear   bool
	keep    bool
	Actions []Outbound
}

// Stay leaves the session untouched.
func Stay(actions ...Outbound) Result {
	return Result{keep: true, Actions: actions}
}

// Finish returns the session to idle and discards its data.
func Finish(actions ...Outbound) Result {
	return Result{clear: true, Actions: actions}
}

// Next moves to state and merges data into the current scratch data. An empty
// value removes the key.
func Next(state session.State, data map[string]string, actions ...Outbound) Result {
	return Result{next: state, data: data, Actions: actions}
}

// Start begins a workflow at state with fresh scratch data.
func Start(state session.State, data map[string]string, actions ...Outbound) Result {
	return Result{next: state, data: data, reset: true, Actions: actions}
}

// Clears reports whether the result returns the session to idle.
func (r Result) Clears() bool {
	return r.clear || (!r.keep && (r.next == session.Idle || r.next == ""))
}

// Keeps reports whether the result leaves the session untouched.
func (r Result) Keeps() bool {
	return r.keep
}

// State is the target state of a transition.
func (r Result) State() session.State {
	if r.Clears() {
		return session.Idle
	}
	return r.next
}

// apply computes the scratch data after the transition.
func (r Result) apply(prev map[string]string) map[string]string {
	out := make(map[string]string, len(prev)+len(r.data))
	if !r.reset {
		for k, v := range prev {
			out[k] = v
		}
	}
	for k, v := range r.data {
		if v == "" {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	return out
}
