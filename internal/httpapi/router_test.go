package httpapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schoolbot/internal/attendance"
	"schoolbot/internal/auth"
	"schoolbot/internal/engine"
	"schoolbot/internal/school"
)

const (
	testKey    = "0123456789abcdef"
	testIssuer = "schoolbot"
)

type fakeDispatcher struct {
	events []engine.Event
	err    error
}

func (d *fakeDispatcher) Handle(_ context.Context, ev engine.Event) ([]engine.Outbound, error) {
	d.events = append(d.events, ev)
	if d.err != nil {
		return nil, d.err
	}
	return []engine.Outbound{engine.Reply(ev.UserID, "ok", nil)}, nil
}

func init() {
	gin.SetMode(gin.TestMode)
}

func bearer(t *testing.T, role string) string {
	t.Helper()
	cred, err := auth.Issue("chat-gateway", role, testIssuer, testKey, time.Hour)
	require.NoError(t, err)
	return "Bearer " + cred.Token
}

func newTestRouter(d Dispatcher, log AttendanceLog, limit int, health map[string]HealthCheck) *gin.Engine {
	return NewRouter(Options{
		Engine:          d,
		Attendance:      log,
		SigningKey:      testKey,
		Issuer:          testIssuer,
		RateLimitPerMin: limit,
		Health:          health,
	})
}

func postEvent(t *testing.T, r http.Handler, authz, remote string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/v1/events", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	if remote != "" {
		req.RemoteAddr = remote
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestPostEventRequiresGatewayCredential(t *testing.T) {
	d := &fakeDispatcher{}
	r := newTestRouter(d, school.NewMemory(), 0, nil)
	body := map[string]any{"kind": "text", "user_id": 1, "body": "hi"}

	assert.Equal(t, http.StatusUnauthorized, postEvent(t, r, "", "", body).Code)
	assert.Equal(t, http.StatusForbidden, postEvent(t, r, bearer(t, "student"), "", body).Code)
	assert.Empty(t, d.events)
}

func TestPostEvent(t *testing.T) {
	authz := bearer(t, auth.RoleGateway)
	tests := []struct {
		name string
		body map[string]any
		code int
		want engine.Event
	}{
		{
			name: "command",
			body: map[string]any{"kind": "command", "user_id": 7, "name": "/start"},
			code: http.StatusOK,
			want: engine.Command(7, "start", ""),
		},
		{
			name: "callback",
			body: map[string]any{"kind": "callback", "user_id": 7, "body": "read:n1", "message_id": "m9"},
			code: http.StatusOK,
			want: engine.Callback(7, "read:n1", "m9"),
		},
		{
			name: "photo with payload",
			body: map[string]any{"kind": "photo", "user_id": 7, "body": "scanned"},
			code: http.StatusOK,
			want: engine.Photo(7, "scanned"),
		},
		{
			name: "photo with unreadable image",
			body: map[string]any{"kind": "photo", "user_id": 7, "image": "%%%"},
			code: http.StatusOK,
			want: engine.Photo(7, ""),
		},
		{name: "unknown kind", body: map[string]any{"kind": "voice", "user_id": 7}, code: http.StatusBadRequest},
		{name: "missing user", body: map[string]any{"kind": "text", "body": "x"}, code: http.StatusBadRequest},
		{name: "command without name", body: map[string]any{"kind": "command", "user_id": 7}, code: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &fakeDispatcher{}
			r := newTestRouter(d, school.NewMemory(), 0, nil)
			w := postEvent(t, r, authz, "", tt.body)
			require.Equal(t, tt.code, w.Code, w.Body.String())
			if tt.code != http.StatusOK {
				assert.Empty(t, d.events)
				return
			}
			require.Len(t, d.events, 1)
			assert.Equal(t, tt.want, d.events[0])

			var resp struct {
				Actions []engine.Outbound `json:"actions"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			require.Len(t, resp.Actions, 1)
			assert.Equal(t, "ok", resp.Actions[0].Text)
		})
	}
}

func TestPostEventScansPhoto(t *testing.T) {
	issued, err := attendance.NewIssuer(nil).Issue("G1", "Math")
	require.NoError(t, err)

	d := &fakeDispatcher{}
	r := newTestRouter(d, school.NewMemory(), 0, nil)
	image := "data:image/png;base64," + base64.StdEncoding.EncodeToString(issued.PNG)
	w := postEvent(t, r, bearer(t, auth.RoleGateway), "", map[string]any{"kind": "photo", "user_id": 7, "image": image})

	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, d.events, 1)
	assert.Equal(t, issued.Payload, d.events[0].Body)
}

func TestPostEventDispatcherGivesUp(t *testing.T) {
	d := &fakeDispatcher{err: errors.New("context canceled")}
	r := newTestRouter(d, school.NewMemory(), 0, nil)
	w := postEvent(t, r, bearer(t, auth.RoleGateway), "", map[string]any{"kind": "text", "user_id": 7, "body": "x"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestPostEventRateLimitedPerUser(t *testing.T) {
	d := &fakeDispatcher{}
	r := newTestRouter(d, school.NewMemory(), 1, nil)
	authz := bearer(t, auth.RoleGateway)

	first := postEvent(t, r, authz, "10.0.0.1:1000", map[string]any{"kind": "text", "user_id": 1, "body": "a"})
	again := postEvent(t, r, authz, "10.0.0.2:1000", map[string]any{"kind": "text", "user_id": 1, "body": "b"})
	other := postEvent(t, r, authz, "10.0.0.3:1000", map[string]any{"kind": "text", "user_id": 2, "body": "c"})

	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, http.StatusTooManyRequests, again.Code)
	assert.Equal(t, http.StatusOK, other.Code)
	assert.Len(t, d.events, 2)
}

func TestGroupAttendance(t *testing.T) {
	ctx := context.Background()
	store := school.NewMemory()
	g := "G1"
	for i := 0; i < 3; i++ {
		_, err := store.AppendAttendance(ctx, school.AttendanceRecord{
			StudentID: int64(i + 1), Subject: "Math", Status: school.ErrorExpired, GroupCode: &g,
			TokenIssuedAt: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		})
		require.NoError(t, err)
	}
	r := newTestRouter(&fakeDispatcher{}, store, 0, nil)
	authz := bearer(t, auth.RoleGateway)

	get := func(path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("Authorization", authz)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	w := get("/v1/groups/g1/attendance?limit=2")
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Group   string                    `json:"group"`
		Records []school.AttendanceRecord `json:"records"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "G1", resp.Group)
	require.Len(t, resp.Records, 2)
	assert.Equal(t, int64(3), resp.Records[0].StudentID)

	w = get("/v1/groups/G9/attendance")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"records":[]`)

	assert.Equal(t, http.StatusBadRequest, get("/v1/groups/G1/attendance?limit=0").Code)
	assert.Equal(t, http.StatusBadRequest, get("/v1/groups/G1/attendance?limit=ten").Code)
	assert.Equal(t, http.StatusBadRequest, get("/v1/groups/X/attendance").Code)
}

func TestHealthz(t *testing.T) {
	up := func(context.Context) bool { return true }
	down := func(context.Context) bool { return false }

	tests := []struct {
		name   string
		checks map[string]HealthCheck
		code   int
		status string
	}{
		{"no checks", nil, http.StatusOK, "ok"},
		{"all up", map[string]HealthCheck{"db": up, "redis": up}, http.StatusOK, "ok"},
		{"redis down", map[string]HealthCheck{"db": up, "redis": down}, http.StatusServiceUnavailable, "degraded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRouter(&fakeDispatcher{}, school.NewMemory(), 0, tt.checks)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
			assert.Equal(t, tt.code, w.Code)
			var body map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.status, body["status"])
			assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
		})
	}
}

func TestPostEventBodyLimit(t *testing.T) {
	d := &fakeDispatcher{}
	r := NewRouter(Options{
		Engine:        d,
		Attendance:    school.NewMemory(),
		SigningKey:    testKey,
		Issuer:        testIssuer,
		MaxEventBytes: 256,
	})
	authz := bearer(t, auth.RoleGateway)
	big := map[string]any{"kind": "photo", "user_id": 7, "image": strings.Repeat("A", 1024)}

	w := postEvent(t, r, authz, "", big)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	raw, err := json.Marshal(big)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/v1/events", bytes.NewReader(raw))
	req.Header.Set("Authorization", authz)
	req.ContentLength = -1
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code, "undeclared length is cut off while reading")

	assert.Empty(t, d.events)
	assert.Equal(t, http.StatusOK, postEvent(t, r, authz, "", map[string]any{"kind": "text", "user_id": 7, "body": "hi"}).Code)
}
