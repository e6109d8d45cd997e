package engine

import (
	"strings"

	"schoolbot/internal/access"
	"schoolbot/internal/session"
)

// AnyState registers a route that applies whatever the session state.
const AnyState session.State = "*"

// Matcher selects the events a route accepts.
type Matcher func(Event) bool

// Route is one row of the routing table.
type Route struct {
	Name   string
	State  session.State
	Match  Matcher
	Gate   access.Workflow
	Handle Handler
}

// Router selects exactly one route per event. Wildcard routes are tried first
// in registration order, then the routes of the session's current state, then
// the fallback.
type Router struct {
	wildcard []Route
	scoped   map[session.State][]Route
	fallback *Route
}

// NewRouter creates an empty routing table.
func NewRouter() *Router {
	return &Router{scoped: make(map[session.State][]Route)}
}

// Add appends routes to the table.
func (r *Router) Add(routes ...Route) {
	for _, rt := range routes {
		if rt.Match == nil {
			rt.Match = Any
		}
		if rt.State == AnyState {
			r.wildcard = append(r.wildcard, rt)
			continue
		}
		if rt.State == "" {
			rt.State = session.Idle
		}
		r.scoped[rt.State] = append(r.scoped[rt.State], rt)
	}
}

// Fallback sets the handler for events no other route accepts.
func (r *Router) Fallback(name string, h Handler) {
	r.fallback = &Route{Name: name, State: AnyState, Match: Any, Handle: h}
}

// Match returns the route for ev given the caller's session.
func (r *Router) Match(ev Event, s session.Session) (Route, bool) {
	for _, rt := range r.wildcard {
		if rt.Match(ev) {
			return rt, true
		}
	}
	state := s.State
	if s.IsIdle() {
		state = session.Idle
	}
	for _, rt := range r.scoped[state] {
		if rt.Match(ev) {
			return rt, true
		}
	}
	if r.fallback != nil {
		return *r.fallback, true
	}
	return Route{}, false
}

// States lists every state that has scoped routes.
func (r *Router) States() []session.State {
	out := make([]session.State, 0, len(r.scoped))
	for s := range r.scoped {
		out = append(out, s)
	}
	return out
}

// Any accepts every event.
func Any(Event) bool { return true }

// OnCommand accepts the named commands.
func OnCommand(names ...string) Matcher {
	return func(ev Event) bool {
		if ev.Kind != KindCommand {
			return false
		}
		for _, n := range names {
			if strings.EqualFold(ev.Name, n) {
				return true
			}
		}
		return false
	}
}

// OnText accepts text events whose trimmed body equals one of labels.
func OnText(labels ...string) Matcher {
	return func(ev Event) bool {
		if ev.Kind != KindText {
			return false
		}
		body := strings.TrimSpace(ev.Body)
		for _, l := range labels {
			if body == l {
				return true
			}
		}
		return false
	}
}

// AnyText accepts every text event.
func AnyText(ev Event) bool { return ev.Kind == KindText }

// OnCallback accepts callbacks whose token starts with prefix.
func OnCallback(prefix string) Matcher {
	return func(ev Event) bool {
		return ev.Kind == KindCallback && strings.HasPrefix(ev.Body, prefix)
	}
}

// AnyCallback accepts every callback event.
func AnyCallback(ev Event) bool { return ev.Kind == KindCallback }

// OnPhoto accepts check-in submissions.
func OnPhoto(ev Event) bool { return ev.Kind == KindPhoto }

// Or accepts events any of ms accepts.
func Or(ms ...Matcher) Matcher {
	return func(ev Event) bool {
		for _, m := range ms {
			if m(ev) {
				return true
			}
		}
		return false
	}
}
