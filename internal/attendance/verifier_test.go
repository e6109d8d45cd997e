package attendance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schoolbot/internal/school"
)

type fixedClock struct{ t time.Time }

func (c *fixedClock) Now() time.Time { return c.t }

var issuedT = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) (*school.Memory, *fixedClock, *Verifier) {
	t.Helper()
	store := school.NewMemory()
	ctx := context.Background()
	g1, g2 := "G1", "G2"
	require.NoError(t, store.SaveUser(ctx, school.User{ID: 1, FullName: "Ann Lee", Role: school.RoleStudent, Status: school.StatusApproved, GroupCode: &g1}))
	require.NoError(t, store.SaveUser(ctx, school.User{ID: 2, FullName: "Bob Ray", Role: school.RoleStudent, Status: school.StatusApproved, GroupCode: &g2}))
	require.NoError(t, store.SaveUser(ctx, school.User{ID: 3, FullName: "No Group", Role: school.RoleStudent, Status: school.StatusApproved}))
	clock := &fixedClock{t: issuedT}
	return store, clock, NewVerifier(store, store, 10*time.Minute, clock)
}

func token(t *testing.T, group, subject string, issued time.Time) string {
	t.Helper()
	p, err := Encode(group, subject, issued)
	require.NoError(t, err)
	return p
}

func TestVerifierScenarios(t *testing.T) {
	ctx := context.Background()
	store, clock, v := newFixture(t)
	payload := token(t, "G1", "Math", issuedT)

	// A: fresh token from the student's own group
	clock.t = issuedT.Add(2 * time.Minute)
	out, err := v.Verify(ctx, 1, payload)
	require.NoError(t, err)
	assert.Equal(t, school.Present, out.Status)
	assert.Equal(t, "Math", out.Record.Subject)
	require.NotNil(t, out.Record.GroupCode)
	assert.Equal(t, "G1", *out.Record.GroupCode)
	assert.NotEmpty(t, out.Record.ID)

	// B: the same token again
	clock.t = issuedT.Add(3 * time.Minute)
	out, err = v.Verify(ctx, 1, payload)
	require.NoError(t, err)
	assert.Equal(t, school.ErrorDuplicate, out.Status)

	// C: past the window
	clock.t = issuedT.Add(11 * time.Minute)
	out, err = v.Verify(ctx, 1, payload)
	require.NoError(t, err)
	assert.Equal(t, school.ErrorExpired, out.Status)

	// D: student of another group
	clock.t = issuedT.Add(2 * time.Minute)
	out, err = v.Verify(ctx, 2, payload)
	require.NoError(t, err)
	assert.Equal(t, school.ErrorGroupMismatch, out.Status)

	log := store.AttendanceLog()
	require.Len(t, log, 4)
	present := 0
	for _, r := range log {
		if r.Status == school.Present {
			present++
		}
	}
	assert.Equal(t, 1, present)
}

func TestVerifierFreshnessBoundary(t *testing.T) {
	ctx := context.Background()
	_, clock, v := newFixture(t)

	clock.t = issuedT.Add(10 * time.Minute)
	out, err := v.Verify(ctx, 1, token(t, "G1", "Math", issuedT))
	require.NoError(t, err)
	assert.Equal(t, school.Present, out.Status, "exactly at the window end is still valid")

	out, err = v.Verify(ctx, 1, token(t, "G1", "Physics", issuedT.Add(-time.Nanosecond)))
	require.NoError(t, err)
	assert.Equal(t, school.ErrorExpired, out.Status, "one tick past the window is expired")
}

func TestVerifierCheckOrder(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name    string
		student int64
		payload func(t *testing.T) string
		at      time.Duration
		want    school.AttendanceStatus
	}{
		{name: "garbage", student: 1, payload: func(*testing.T) string { return "not a token" }, want: school.ErrorInvalid},
		{name: "empty", student: 1, payload: func(*testing.T) string { return "" }, want: school.ErrorInvalid},
		{name: "expired beats mismatch", student: 2, at: 30 * time.Minute,
			payload: func(t *testing.T) string { return token(t, "G1", "Math", issuedT) }, want: school.ErrorExpired},
		{name: "no group is a mismatch", student: 3,
			payload: func(t *testing.T) string { return token(t, "G1", "Math", issuedT) }, want: school.ErrorGroupMismatch},
		{name: "unknown student is a mismatch", student: 99,
			payload: func(t *testing.T) string { return token(t, "G1", "Math", issuedT) }, want: school.ErrorGroupMismatch},
		{name: "future token accepted", student: 1, at: -time.Minute,
			payload: func(t *testing.T) string { return token(t, "G1", "Math", issuedT) }, want: school.Present},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, clock, v := newFixture(t)
			clock.t = issuedT.Add(tt.at)
			out, err := v.Verify(ctx, tt.student, tt.payload(t))
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.Status)
		})
	}
}

func TestVerifierInvalidRecord(t *testing.T) {
	ctx := context.Background()
	store, clock, v := newFixture(t)
	clock.t = issuedT

	out, err := v.Verify(ctx, 1, `{"type":"lunch"}`)
	require.NoError(t, err)
	assert.Equal(t, school.ErrorInvalid, out.Status)
	assert.Equal(t, UnknownSubject, out.Record.Subject)
	assert.True(t, out.Record.TokenIssuedAt.Equal(issuedT))
	assert.Nil(t, out.Record.GroupCode)
	assert.Len(t, store.AttendanceLog(), 1)
}

func TestVerifierDeterministic(t *testing.T) {
	ctx := context.Background()
	payloads := []string{"junk", token(t, "G1", "Math", issuedT.Add(-time.Hour)), token(t, "G2", "Math", issuedT)}
	for _, p := range payloads {
		store, clock, v := newFixture(t)
		clock.t = issuedT.Add(time.Minute)
		first, err := v.Verify(ctx, 1, p)
		require.NoError(t, err)
		second, err := v.Verify(ctx, 1, p)
		require.NoError(t, err)
		assert.Equal(t, first.Status, second.Status)
		assert.Len(t, store.AttendanceLog(), 2, "one record per call")
	}
}

func TestVerifierDuplicateLaw(t *testing.T) {
	ctx := context.Background()
	store, clock, v := newFixture(t)
	payload := token(t, "G1", "Math", issuedT)
	clock.t = issuedT.Add(time.Minute)

	for i := 0; i < 5; i++ {
		out, err := v.Verify(ctx, 1, payload)
		require.NoError(t, err)
		if i == 0 {
			assert.Equal(t, school.Present, out.Status)
			continue
		}
		assert.Equal(t, school.ErrorDuplicate, out.Status)
	}
	assert.Len(t, store.AttendanceLog(), 5)

	// a different subject with the same issuance time is a separate session
	out, err := v.Verify(ctx, 1, token(t, "G1", "Physics", issuedT))
	require.NoError(t, err)
	assert.Equal(t, school.Present, out.Status)
}

// racyLedger reports no prior PRESENT row and then loses the insert race.
type racyLedger struct {
	*school.Memory
	appended []school.AttendanceStatus
}

func (r *racyLedger) HasPresent(context.Context, int64, string, time.Time) (bool, error) {
	return false, nil
}

func (r *racyLedger) AppendAttendance(ctx context.Context, rec school.AttendanceRecord) (school.AttendanceRecord, error) {
	if rec.Status == school.Present {
		return school.AttendanceRecord{}, school.ErrDuplicatePresent
	}
	r.appended = append(r.appended, rec.Status)
	return r.Memory.AppendAttendance(ctx, rec)
}

func TestVerifierLostRaceRecordsDuplicate(t *testing.T) {
	store, clock, _ := newFixture(t)
	ledger := &racyLedger{Memory: store}
	v := NewVerifier(ledger, store, 0, clock)
	clock.t = issuedT.Add(time.Minute)

	out, err := v.Verify(context.Background(), 1, token(t, "G1", "Math", issuedT))
	require.NoError(t, err)
	assert.Equal(t, school.ErrorDuplicate, out.Status)
	assert.Equal(t, []school.AttendanceStatus{school.ErrorDuplicate}, ledger.appended)
}

type brokenRoster struct{}

func (brokenRoster) GetUser(context.Context, int64) (*school.User, error) {
	return nil, errors.New("db down")
}

func TestVerifierStoreFailure(t *testing.T) {
	store, clock, _ := newFixture(t)
	v := NewVerifier(store, brokenRoster{}, time.Minute, clock)
	clock.t = issuedT
	_, err := v.Verify(context.Background(), 1, token(t, "G1", "Math", issuedT))
	assert.Error(t, err)
	assert.Empty(t, store.AttendanceLog())
}

func TestNewVerifierDefaults(t *testing.T) {
	v := NewVerifier(nil, nil, 0, nil)
	assert.Equal(t, DefaultValidity, v.Validity())
}
