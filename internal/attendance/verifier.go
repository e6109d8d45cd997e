package attendance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"schoolbot/internal/school"
)

// DefaultValidity is how long an issued token is accepted.
const DefaultValidity = 10 * time.Minute

// UnknownSubject is recorded for submissions whose payload could not be decoded.
const UnknownSubject = "unknown"

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

// SystemClock is the wall clock.
var SystemClock Clock = realClock{}

// Ledger is the part of the audit trail the verifier needs.
type Ledger interface {
	AppendAttendance(ctx context.Context, rec school.AttendanceRecord) (school.AttendanceRecord, error)
	HasPresent(ctx context.Context, studentID int64, subject string, issuedAt time.Time) (bool, error)
}

// Roster resolves a student's registered group.
type Roster interface {
	GetUser(ctx context.Context, id int64) (*school.User, error)
}

// Outcome is the verdict for one submission together with the record written for it.
type Outcome struct {
	Status school.AttendanceStatus
	Token  Token
	Record school.AttendanceRecord
}

// Verifier checks submitted tokens and appends one audit record per call.
type Verifier struct {
	ledger   Ledger
	roster   Roster
	validity time.Duration
	clock    Clock
}

// NewVerifier creates a verifier. A non-positive validity falls back to
// DefaultValidity and a nil clock to the system clock.
func NewVerifier(ledger Ledger, roster Roster, validity time.Duration, clock Clock) *Verifier {
	if validity <= 0 {
		validity = DefaultValidity
	}
	if clock == nil {
		clock = SystemClock
	}
	return &Verifier{ledger: ledger, roster: roster, validity: validity, clock: clock}
}

// Validity returns the configured acceptance window.
func (v *Verifier) Validity() time.Duration {
	return v.validity
}

// Verify runs the checks in order: decodability, freshness, group membership,
// duplicate. The first failing check decides the status. The returned error is
// non-nil only when the store fails, in which case no outcome is reported.
func (v *Verifier) Verify(ctx context.Context, studentID int64, payload string) (Outcome, error) {
	now := v.clock.Now().UTC()
	rec := school.AttendanceRecord{StudentID: studentID, SubmittedAt: now}

	tok, err := Decode(payload)
	if err != nil {
		rec.Subject = UnknownSubject
		rec.TokenIssuedAt = now
		return v.finish(ctx, rec, school.ErrorInvalid, Token{})
	}
	rec.Subject = tok.Subject
	rec.TokenIssuedAt = tok.IssuedAt
	group := tok.GroupRef
	rec.GroupCode = &group

	if now.Sub(tok.IssuedAt) > v.validity {
		return v.finish(ctx, rec, school.ErrorExpired, tok)
	}

	student, err := v.roster.GetUser(ctx, studentID)
	if err != nil {
		return Outcome{}, fmt.Errorf("attendance: lookup student %d: %w", studentID, err)
	}
	if student.Group() == "" || student.Group() != tok.GroupRef {
		return v.finish(ctx, rec, school.ErrorGroupMismatch, tok)
	}

	dup, err := v.ledger.HasPresent(ctx, studentID, tok.Subject, tok.IssuedAt)
	if err != nil {
		return Outcome{}, fmt.Errorf("attendance: duplicate lookup: %w", err)
	}
	if dup {
		return v.finish(ctx, rec, school.ErrorDuplicate, tok)
	}

	out, err := v.finish(ctx, rec, school.Present, tok)
	if errors.Is(err, school.ErrDuplicatePresent) {
		// lost a race with a concurrent submission of the same token
		return v.finish(ctx, rec, school.ErrorDuplicate, tok)
	}
	return out, err
}

func (v *Verifier) finish(ctx context.Context, rec school.AttendanceRecord, status school.AttendanceStatus, tok Token) (Outcome, error) {
	rec.Status = status
	saved, err := v.ledger.AppendAttendance(ctx, rec)
	if err != nil {
		if errors.Is(err, school.ErrDuplicatePresent) {
			return Outcome{}, err
		}
		return Outcome{}, fmt.Errorf("attendance: append %s record: %w", status, err)
	}
	return Outcome{Status: status, Token: tok, Record: saved}, nil
}
