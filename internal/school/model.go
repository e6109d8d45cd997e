package school

import (
	"time"

	"github.com/pkg/errors"
)

// Role of a registered user.
type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
	RoleAdmin   Role = "admin"
)

// Status is the approval status of a registered user.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// AttendanceStatus is the outcome of one check-in submission.
type AttendanceStatus string

const (
	Present            AttendanceStatus = "PRESENT"
	ErrorInvalid       AttendanceStatus = "ERROR_INVALID"
	ErrorExpired       AttendanceStatus = "ERROR_EXPIRED"
	ErrorGroupMismatch AttendanceStatus = "ERROR_GROUP_MISMATCH"
	ErrorDuplicate     AttendanceStatus = "ERROR_DUPLICATE"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrGroupExists      = errors.New("group already exists")
	ErrGroupNotEmpty    = errors.New("group has students or pending requests")
	ErrNotPending       = errors.New("user is not pending")
	ErrDuplicatePresent = errors.New("present record already exists")
)

// User is a registered chat participant.
type User struct {
	ID        int64     `db:"id" json:"id"`
	FullName  string    `db:"full_name" json:"full_name"`
	Role      Role      `db:"role" json:"role"`
	Status    Status    `db:"status" json:"status"`
	GroupCode *string   `db:"group_code" json:"group_code,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Group returns the user's group code or "".
func (u *User) Group() string {
	if u == nil || u.GroupCode == nil {
		return ""
	}
	return *u.GroupCode
}

// Approved reports whether the user passed approval.
func (u *User) Approved() bool {
	return u != nil && u.Status == StatusApproved
}

// Staff reports whether the user is a teacher or an admin.
func (u *User) Staff() bool {
	return u != nil && (u.Role == RoleTeacher || u.Role == RoleAdmin)
}

// Group is a class of students, optionally owned by a teacher.
type Group struct {
	Code      string    `db:"code" json:"code"`
	OwnerID   *int64    `db:"owner_id" json:"owner_id,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// OwnedBy reports whether teacherID owns the group.
func (g Group) OwnedBy(teacherID int64) bool {
	return g.OwnerID != nil && *g.OwnerID == teacherID
}

// Lesson is one timetable slot of a group.
type Lesson struct {
	ID        string `db:"id" json:"id"`
	GroupCode string `db:"group_code" json:"group_code"`
	Weekday   string `db:"weekday" json:"weekday"`
	StartsAt  string `db:"starts_at" json:"starts_at"`
	Subject   string `db:"subject" json:"subject"`
}

// Change kinds recorded in the schedule change log.
const (
	ChangeAdded   = "added"
	ChangeUpdated = "updated"
	ChangeDeleted = "deleted"
)

// ScheduleChange is an entry of the append-only schedule change log.
type ScheduleChange struct {
	ID        string    `db:"id" json:"id"`
	GroupCode string    `db:"group_code" json:"group_code"`
	LessonID  string    `db:"lesson_id" json:"lesson_id"`
	Kind      string    `db:"kind" json:"kind"`
	Summary   string    `db:"summary" json:"summary"`
	ChangedBy int64     `db:"changed_by" json:"changed_by"`
	ChangedAt time.Time `db:"changed_at" json:"changed_at"`
}

// Grade is a mark a teacher gave a student.
type Grade struct {
	ID        string    `db:"id" json:"id"`
	StudentID int64     `db:"student_id" json:"student_id"`
	TeacherID int64     `db:"teacher_id" json:"teacher_id"`
	Subject   string    `db:"subject" json:"subject"`
	Value     int       `db:"value" json:"value"`
	Comment   string    `db:"comment" json:"comment"`
	GivenAt   time.Time `db:"given_at" json:"given_at"`
}

// GivenGrade is a grade joined with the student's name for teacher listings.
type GivenGrade struct {
	Grade
	StudentName string `db:"student_name" json:"student_name"`
}

// Notification categories.
const (
	NotifyGeneral  = "general"
	NotifyGrade    = "grade"
	NotifySchedule = "schedule"
	NotifyGroup    = "group"
	NotifyStatus   = "status"
)

// Notification is a message addressed to a user, kept until read.
type Notification struct {
	ID        string    `db:"id" json:"id"`
	UserID    int64     `db:"user_id" json:"user_id"`
	Category  string    `db:"category" json:"category"`
	Text      string    `db:"text" json:"text"`
	Read      bool      `db:"is_read" json:"read"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// AttendanceRecord is one row of the append-only check-in audit trail.
type AttendanceRecord struct {
	ID            string           `db:"id" json:"id"`
	StudentID     int64            `db:"student_id" json:"student_id"`
	Subject       string           `db:"subject" json:"subject"`
	TokenIssuedAt time.Time        `db:"token_issued_at" json:"token_issued_at"`
	SubmittedAt   time.Time        `db:"submitted_at" json:"submitted_at"`
	Status        AttendanceStatus `db:"status" json:"status"`
	GroupCode     *string          `db:"group_code" json:"group_code,omitempty"`
}
