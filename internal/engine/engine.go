package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"schoolbot/internal/access"
	"schoolbot/internal/logging"
	"schoolbot/internal/metrics"
	"schoolbot/internal/school"
	"schoolbot/internal/session"
	"schoolbot/internal/texts"
)

// Notifier delivers Notify actions on behalf of the user who triggered them.
type Notifier interface {
	Notify(ctx context.Context, from int64, action Outbound) error
}

// UserLookup loads the caller's user record; nil, nil means unregistered.
type UserLookup interface {
	GetUser(ctx context.Context, id int64) (*school.User, error)
}

// Locker excludes concurrent dispatch of one user's events across processes
// that share a session store.
type Locker interface {
	Lock(ctx context.Context, userID int64) (unlock func(), err error)
}

// Config wires an Engine.
type Config struct {
	Router   *Router
	Sessions session.Store
	Users    UserLookup
	// Notifier is optional; without one Notify actions are returned undelivered.
	Notifier Notifier
	// Locker is required when several engines share Sessions.
	Locker Locker
	Texts  *texts.Catalog
	Logger logging.Logger
}

// Engine dispatches events, one at a time per user.
type Engine struct {
	router   *Router
	sessions session.Store
	users    UserLookup
	notifier Notifier
	locker   Locker
	texts    *texts.Catalog
	log      logging.Logger
	lanes    lanes
}

// New creates an engine.
func New(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	if cfg.Texts == nil {
		cfg.Texts = texts.Default()
	}
	return &Engine{
		router:   cfg.Router,
		sessions: cfg.Sessions,
		users:    cfg.Users,
		notifier: cfg.Notifier,
		locker:   cfg.Locker,
		texts:    cfg.Texts,
		log:      cfg.Logger,
		lanes:    lanes{m: make(map[int64]*lane)},
	}
}

// Handle dispatches ev after every earlier event of the same user has been
// handled, and returns the actions for the transport. It fails only when ctx
// ends while waiting for the user's earlier events or the user's lock cannot
// be taken.
func (e *Engine) Handle(ctx context.Context, ev Event) ([]Outbound, error) {
	var out []Outbound
	err := e.lanes.run(ctx, ev.UserID, func() error {
		if e.locker != nil {
			unlock, err := e.locker.Lock(ctx, ev.UserID)
			if err != nil {
				return fmt.Errorf("lock user %d: %w", ev.UserID, err)
			}
			defer unlock()
		}
		out = e.dispatch(ctx, ev)
		return nil
	})
	return out, err
}

func (e *Engine) dispatch(ctx context.Context, ev Event) []Outbound {
	sess, err := e.sessions.Get(ctx, ev.UserID)
	if err != nil {
		return e.fail(ev, "session", fmt.Errorf("load session: %w", err))
	}
	user, err := e.users.GetUser(ctx, ev.UserID)
	if err != nil {
		return e.fail(ev, "user", fmt.Errorf("load user: %w", err))
	}

	route, ok := e.router.Match(ev, sess)
	if !ok {
		metrics.Events.WithLabelValues(string(ev.Kind), "unmatched").Inc()
		return nil
	}
	if route.Gate != "" && !access.Allowed(user, route.Gate) {
		e.log.Warnf("access denied: user=%d workflow=%s route=%s state=%s", ev.UserID, route.Gate, route.Name, sess.State)
		metrics.Denials.WithLabelValues(string(route.Gate)).Inc()
		metrics.Events.WithLabelValues(string(ev.Kind), "denied").Inc()
		return []Outbound{Reply(ev.UserID, e.texts.Msg("access_denied"), nil)}
	}

	start := time.Now()
	res, err := e.invoke(ctx, route, Request{Event: ev, Session: sess, User: user})
	metrics.Dispatch.WithLabelValues(route.Name).Observe(time.Since(start).Seconds())
	if err != nil {
		return e.fail(ev, route.Name, err)
	}
	if err := e.commit(ctx, sess, res); err != nil {
		return e.fail(ev, route.Name, fmt.Errorf("save session: %w", err))
	}
	metrics.Events.WithLabelValues(string(ev.Kind), "ok").Inc()
	return e.deliver(ctx, ev.UserID, res.Actions)
}

func (e *Engine) invoke(ctx context.Context, route Route, req Request) (res Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panic: %v", p)
		}
	}()
	return route.Handle(ctx, req)
}

func (e *Engine) commit(ctx context.Context, prev session.Session, res Result) error {
	switch {
	case res.Keeps():
		return nil
	case res.Clears():
		if prev.IsIdle() && len(prev.Data) == 0 {
			return nil
		}
		return e.sessions.Clear(ctx, prev.UserID)
	default:
		return e.sessions.Set(ctx, prev.UserID, res.next, res.apply(prev.Data))
	}
}

func (e *Engine) deliver(ctx context.Context, from int64, actions []Outbound) []Outbound {
	if e.notifier == nil {
		return actions
	}
	failed := false
	for i := range actions {
		if actions[i].Kind != ActionNotify {
			continue
		}
		if err := e.notifier.Notify(ctx, from, actions[i]); err != nil {
			e.log.Warnf("notify user=%d from=%d: %v", actions[i].UserID, from, err)
			failed = true
			continue
		}
		actions[i].Delivered = true
	}
	if failed {
		actions = append(actions, Reply(from, e.texts.Msg("notify_failed"), nil))
	}
	return actions
}

func (e *Engine) fail(ev Event, where string, err error) []Outbound {
	e.log.Errorf("dispatch %s user=%d kind=%s: %v", where, ev.UserID, ev.Kind, err)
	metrics.Events.WithLabelValues(string(ev.Kind), "error").Inc()
	return []Outbound{Reply(ev.UserID, e.texts.Msg("internal_error"), nil)}
}

// lanes serializes work per user in arrival order.
type lanes struct {
	mu sync.Mutex
	m  map[int64]*lane
}

type lane struct {
	tail    chan struct{}
	waiters int
}

func (l *lanes) run(ctx context.Context, userID int64, fn func() error) error {
	l.mu.Lock()
	ln, ok := l.m[userID]
	if !ok {
		ln = &lane{}
		l.m[userID] = ln
	}
	prev := ln.tail
	done := make(chan struct{})
	ln.tail = done
	ln.waiters++
	l.mu.Unlock()

	release := func() {
		close(done)
		l.mu.Lock()
		ln.waiters--
		if ln.waiters == 0 {
			delete(l.m, userID)
		}
		l.mu.Unlock()
	}

	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			// keep the chain intact for later arrivals
			go func() {
				<-prev
				release()
			}()
			return ctx.Err()
		}
	}
	defer release()
	return fn()
}

// Pending returns the number of users with queued or running events.
func (e *Engine) Pending() int {
	e.lanes.mu.Lock()
	defer e.lanes.mu.Unlock()
	return len(e.lanes.m)
}
