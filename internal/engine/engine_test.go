package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schoolbot/internal/access"
	"schoolbot/internal/school"
	"schoolbot/internal/session"
	"schoolbot/internal/texts"
)

type userMap map[int64]*school.User

func (m userMap) GetUser(_ context.Context, id int64) (*school.User, error) {
	return m[id], nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	fail map[int64]bool
	sent []Outbound
}

func (n *recordingNotifier) Notify(_ context.Context, _ int64, a Outbound) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail[a.UserID] {
		return errors.New("blocked")
	}
	n.sent = append(n.sent, a)
	return nil
}

func named(name string) Handler {
	return func(_ context.Context, req Request) (Result, error) {
		return Stay(Reply(req.Event.UserID, name, nil)), nil
	}
}

func newTestEngine(r *Router, users userMap, n Notifier) (*Engine, *session.Memory) {
	sessions := session.NewMemory(0)
	return New(Config{Router: r, Sessions: sessions, Users: users, Notifier: n}), sessions
}

func only(t *testing.T, out []Outbound) string {
	t.Helper()
	require.Len(t, out, 1)
	return out[0].Text
}

func TestRouterPrecedence(t *testing.T) {
	ctx := context.Background()
	r := NewRouter()
	r.Add(
		Route{Name: "cancel", State: AnyState, Match: OnCommand("cancel"), Handle: named("cancel")},
		Route{Name: "idle-text", Match: AnyText, Handle: named("idle-text")},
		Route{Name: "step-cancel-text", State: "step", Match: OnCommand("cancel"), Handle: named("shadowed")},
		Route{Name: "step-text", State: "step", Match: AnyText, Handle: named("step-text")},
	)
	r.Fallback("fallback", named("fallback"))
	eng, sessions := newTestEngine(r, userMap{}, nil)

	tests := []struct {
		name  string
		state session.State
		ev    Event
		want  string
	}{
		{name: "wildcard from idle", ev: Command(1, "/cancel", ""), want: "cancel"},
		{name: "wildcard beats scoped", state: "step", ev: Command(1, "cancel", ""), want: "cancel"},
		{name: "idle scoped", ev: Text(1, "hello"), want: "idle-text"},
		{name: "state scoped", state: "step", ev: Text(1, "hello"), want: "step-text"},
		{name: "fallback in state", state: "step", ev: Callback(1, "x", ""), want: "fallback"},
		{name: "fallback unknown state", state: "nowhere", ev: Text(1, "hello"), want: "fallback"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, sessions.Clear(ctx, 1))
			if tt.state != "" {
				require.NoError(t, sessions.Set(ctx, 1, tt.state, nil))
			}
			out, err := eng.Handle(ctx, tt.ev)
			require.NoError(t, err)
			assert.Equal(t, tt.want, only(t, out))
		})
	}
}

func TestUnmatchedWithoutFallback(t *testing.T) {
	r := NewRouter()
	r.Add(Route{Name: "start", Match: OnCommand("start"), Handle: named("start")})
	eng, _ := newTestEngine(r, userMap{}, nil)
	out, err := eng.Handle(context.Background(), Text(1, "hi"))
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestSessionCommittedOnlyOnSuccess(t *testing.T) {
	ctx := context.Background()
	r := NewRouter()
	r.Add(
		Route{Name: "begin", Match: OnCommand("begin"), Handle: func(_ context.Context, req Request) (Result, error) {
			return Start("a", map[string]string{"k": "v"}), nil
		}},
		Route{Name: "boom", State: "a", Match: OnText("boom"), Handle: func(context.Context, Request) (Result, error) {
			return Next("b", map[string]string{"k": "changed"}), errors.New("store down")
		}},
		Route{Name: "panic", State: "a", Match: OnText("panic"), Handle: func(context.Context, Request) (Result, error) {
			panic("nil map")
		}},
	)
	eng, sessions := newTestEngine(r, userMap{}, nil)
	catalog := texts.Default()

	_, err := eng.Handle(ctx, Command(1, "begin", ""))
	require.NoError(t, err)

	for _, body := range []string{"boom", "panic"} {
		out, err := eng.Handle(ctx, Text(1, body))
		require.NoError(t, err)
		assert.Equal(t, catalog.Msg("internal_error"), only(t, out))

		s, _ := sessions.Get(ctx, 1)
		assert.Equal(t, session.State("a"), s.State)
		assert.Equal(t, "v", s.Get("k"))
	}
}

func TestGateDenialLeavesSession(t *testing.T) {
	ctx := context.Background()
	called := false
	r := NewRouter()
	r.Add(Route{Name: "qr", State: AnyState, Match: OnCommand("qr"), Gate: access.TokenIssue,
		Handle: func(context.Context, Request) (Result, error) {
			called = true
			return Finish(), nil
		}})
	g := "G1"
	users := userMap{
		1: {ID: 1, Role: school.RoleStudent, Status: school.StatusApproved, GroupCode: &g},
		2: {ID: 2, Role: school.RoleTeacher, Status: school.StatusPending},
	}
	eng, sessions := newTestEngine(r, users, nil)

	for _, uid := range []int64{1, 2, 3} {
		require.NoError(t, sessions.Set(ctx, uid, "grd_value", map[string]string{"student": "9"}))
		out, err := eng.Handle(ctx, Command(uid, "qr", ""))
		require.NoError(t, err)
		assert.Equal(t, texts.Default().Msg("access_denied"), only(t, out))

		s, _ := sessions.Get(ctx, uid)
		assert.Equal(t, session.State("grd_value"), s.State)
		assert.Equal(t, "9", s.Get("student"))
	}
	assert.False(t, called)
}

func TestNotifyDelivery(t *testing.T) {
	ctx := context.Background()
	r := NewRouter()
	r.Add(Route{Name: "grade", Match: OnCommand("grade"), Handle: func(_ context.Context, req Request) (Result, error) {
		return Finish(
			Reply(req.Event.UserID, "saved", nil),
			Notify(20, school.NotifyGrade, "you got 90"),
			Notify(21, school.NotifyGrade, "you got 80"),
		), nil
	}})
	n := &recordingNotifier{fail: map[int64]bool{21: true}}
	eng, _ := newTestEngine(r, userMap{}, n)

	out, err := eng.Handle(ctx, Command(10, "grade", ""))
	require.NoError(t, err)
	require.Len(t, out, 4)
	assert.Equal(t, "saved", out[0].Text)
	assert.True(t, out[1].Delivered)
	assert.False(t, out[2].Delivered)
	assert.Equal(t, ActionReply, out[3].Kind)
	assert.Equal(t, int64(10), out[3].UserID)
	assert.Equal(t, texts.Default().Msg("notify_failed"), out[3].Text)

	require.Len(t, n.sent, 1)
	assert.Equal(t, int64(20), n.sent[0].UserID)
}

func TestNotifyWithoutNotifierIsPassedThrough(t *testing.T) {
	r := NewRouter()
	r.Add(Route{Name: "n", Match: Any, Handle: func(context.Context, Request) (Result, error) {
		return Stay(Notify(5, school.NotifyGeneral, "hi")), nil
	}})
	eng, _ := newTestEngine(r, userMap{}, nil)
	out, err := eng.Handle(context.Background(), Text(1, "x"))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, ActionNotify, out[0].Kind)
	assert.False(t, out[0].Delivered)
}

func TestPerUserOrdering(t *testing.T) {
	ctx := context.Background()
	release := make(chan struct{})
	entered := make(chan struct{})
	var mu sync.Mutex
	var order []string

	r := NewRouter()
	r.Add(Route{Name: "log", Match: AnyText, Handle: func(_ context.Context, req Request) (Result, error) {
		if req.Event.Body == "first" {
			close(entered)
			<-release
		}
		mu.Lock()
		order = append(order, req.Event.Body)
		mu.Unlock()
		return Stay(), nil
	}})
	eng, _ := newTestEngine(r, userMap{}, nil)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = eng.Handle(ctx, Text(1, "first"))
	}()
	<-entered
	go func() {
		defer wg.Done()
		_, _ = eng.Handle(ctx, Text(1, "second"))
	}()

	// another user is not held up by user 1
	_, err := eng.Handle(ctx, Text(2, "other"))
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, []string{"other"}, order)
	mu.Unlock()
	assert.Equal(t, 1, eng.Pending())

	close(release)
	wg.Wait()
	assert.Equal(t, []string{"other", "first", "second"}, order)
	assert.Equal(t, 0, eng.Pending())
}

func TestWaitingEventHonoursContext(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	r := NewRouter()
	r.Add(Route{Name: "block", Match: AnyText, Handle: func(_ context.Context, req Request) (Result, error) {
		if req.Event.Body == "block" {
			close(entered)
			<-release
		}
		return Stay(Reply(req.Event.UserID, req.Event.Body, nil)), nil
	}})
	eng, _ := newTestEngine(r, userMap{}, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = eng.Handle(context.Background(), Text(1, "block"))
	}()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := eng.Handle(ctx, Text(1, "late"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	<-done

	out, err := eng.Handle(context.Background(), Text(1, "after"))
	require.NoError(t, err)
	assert.Equal(t, "after", only(t, out))
}

func TestReplicasSerializeOneUser(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	release := make(chan struct{})
	entered := make(chan struct{})
	var mu sync.Mutex
	var seen []session.State

	r := NewRouter()
	step := func(_ context.Context, req Request) (Result, error) {
		mu.Lock()
		seen = append(seen, req.Session.State)
		mu.Unlock()
		if req.Event.Body == "first" {
			close(entered)
			<-release
		}
		return Next("step", nil), nil
	}
	r.Add(
		Route{Name: "begin", Match: AnyText, Handle: step},
		Route{Name: "step", State: "step", Match: AnyText, Handle: step},
	)

	replica := func() *Engine {
		return New(Config{
			Router:   r,
			Sessions: session.NewRedis(client, "", 0),
			Users:    userMap{},
			Locker:   session.NewLocker(client, "", time.Minute),
		})
	}
	a, b := replica(), replica()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = a.Handle(ctx, Text(7, "first"))
	}()
	<-entered
	go func() {
		defer wg.Done()
		_, _ = b.Handle(ctx, Text(7, "second"))
	}()

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	assert.Len(t, seen, 1, "the second replica waits for the first")
	mu.Unlock()

	close(release)
	wg.Wait()
	assert.Equal(t, []session.State{session.Idle, "step"}, seen)
}

type failingLocker struct{}

func (failingLocker) Lock(context.Context, int64) (func(), error) {
	return nil, errors.New("redis down")
}

func TestLockFailureSkipsDispatch(t *testing.T) {
	called := false
	r := NewRouter()
	r.Add(Route{Name: "any", Match: AnyText, Handle: func(_ context.Context, req Request) (Result, error) {
		called = true
		return Stay(), nil
	}})
	eng := New(Config{Router: r, Sessions: session.NewMemory(0), Users: userMap{}, Locker: failingLocker{}})

	out, err := eng.Handle(context.Background(), Text(7, "hi"))
	require.Error(t, err)
	assert.Nil(t, out)
	assert.False(t, called)
	assert.Equal(t, 0, eng.Pending())
}
