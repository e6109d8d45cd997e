package school

import (
	"context"
	"time"
)

// Users is user CRUD plus the approval and transfer mutations.
type Users interface {
	// GetUser returns nil, nil when the user is not registered.
	GetUser(ctx context.Context, id int64) (*User, error)
	SaveUser(ctx context.Context, u User) error
	// ApproveStudent marks a pending student approved and makes approverID the
	// owner of the student's group when it has none, in one atomic write.
	ApproveStudent(ctx context.Context, studentID, approverID int64) error
	RejectStudent(ctx context.Context, studentID int64) error
	MoveStudent(ctx context.Context, studentID int64, groupCode string) error
	// DeleteUser removes the user with their grades, notifications and attendance rows.
	DeleteUser(ctx context.Context, id int64) error
	PendingStudents(ctx context.Context) ([]User, error)
	// StudentsInGroup lists approved students of a group ordered by name.
	StudentsInGroup(ctx context.Context, groupCode string) ([]User, error)
}

// Groups is group CRUD.
type Groups interface {
	ListGroups(ctx context.Context) ([]Group, error)
	GetGroup(ctx context.Context, code string) (*Group, error)
	GroupsOwnedBy(ctx context.Context, teacherID int64) ([]Group, error)
	CreateGroup(ctx context.Context, g Group) error
	// DeleteGroup fails with ErrGroupNotEmpty while approved or pending students remain.
	DeleteGroup(ctx context.Context, code string) error
}

// Schedule is timetable CRUD with an append-only change log.
type Schedule interface {
	Lessons(ctx context.Context, groupCode string) ([]Lesson, error)
	GetLesson(ctx context.Context, id string) (*Lesson, error)
	AddLesson(ctx context.Context, l Lesson, by int64) (Lesson, error)
	UpdateLesson(ctx context.Context, l Lesson, by int64) error
	DeleteLesson(ctx context.Context, id string, by int64) error
	ScheduleChanges(ctx context.Context, groupCode string, limit int) ([]ScheduleChange, error)
	SubjectsForGroup(ctx context.Context, groupCode string) ([]string, error)
}

// Grades is grade append and query.
type Grades interface {
	AddGrade(ctx context.Context, g Grade) (Grade, error)
	StudentGrades(ctx context.Context, studentID int64) ([]Grade, error)
	// GradesGivenBy returns at most perStudent latest grades per student.
	GradesGivenBy(ctx context.Context, teacherID int64, perStudent int) ([]GivenGrade, error)
}

// Notifications is notification append and query.
type Notifications interface {
	AddNotification(ctx context.Context, n Notification) (Notification, error)
	UnreadNotifications(ctx context.Context, userID int64) ([]Notification, error)
	MarkNotificationRead(ctx context.Context, userID int64, id string) error
}

// Attendance is the audit trail.
type Attendance interface {
	// AppendAttendance fails with ErrDuplicatePresent if rec is PRESENT and a
	// PRESENT row for the same student, subject and issuance time exists.
	AppendAttendance(ctx context.Context, rec AttendanceRecord) (AttendanceRecord, error)
	HasPresent(ctx context.Context, studentID int64, subject string, issuedAt time.Time) (bool, error)
	GroupAttendance(ctx context.Context, groupCode string, limit int) ([]AttendanceRecord, error)
}

// Store is the full persistence boundary.
type Store interface {
	Users
	Groups
	Schedule
	Grades
	Notifications
	Attendance
}
