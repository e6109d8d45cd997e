package school

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process Store used for tests and single-process development.
type Memory struct {
	mu            sync.RWMutex
	now           func() time.Time
	users         map[int64]User
	groups        map[string]Group
	lessons       map[string]Lesson
	changes       []ScheduleChange
	grades        []Grade
	notifications []Notification
	attendance    []AttendanceRecord
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		now:     func() time.Time { return time.Now().UTC() },
		users:   make(map[int64]User),
		groups:  make(map[string]Group),
		lessons: make(map[string]Lesson),
	}
}

func (m *Memory) GetUser(_ context.Context, id int64) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (m *Memory) SaveUser(_ context.Context, u User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.users[u.ID]; ok {
		u.CreatedAt = prev.CreatedAt
	} else if u.CreatedAt.IsZero() {
		u.CreatedAt = m.now()
	}
	m.users[u.ID] = u
	return nil
}

func (m *Memory) ApproveStudent(_ context.Context, studentID, approverID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[studentID]
	if !ok {
		return ErrNotFound
	}
	if u.Status != StatusPending {
		return ErrNotPending
	}
	u.Status = StatusApproved
	m.users[studentID] = u
	if g, ok := m.groups[u.Group()]; ok && g.OwnerID == nil {
		owner := approverID
		g.OwnerID = &owner
		m.groups[g.Code] = g
	}
	return nil
}

func (m *Memory) RejectStudent(_ context.Context, studentID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[studentID]
	if !ok {
		return ErrNotFound
	}
	if u.Status != StatusPending {
		return ErrNotPending
	}
	u.Status = StatusRejected
	m.users[studentID] = u
	return nil
}

func (m *Memory) MoveStudent(_ context.Context, studentID int64, groupCode string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[studentID]
	if !ok {
		return ErrNotFound
	}
	if _, ok := m.groups[groupCode]; !ok {
		return ErrNotFound
	}
	code := groupCode
	u.GroupCode = &code
	m.users[studentID] = u
	return nil
}

func (m *Memory) DeleteUser(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.users, id)
	grades := m.grades[:0]
	for _, g := range m.grades {
		if g.StudentID != id {
			grades = append(grades, g)
		}
	}
	m.grades = grades
	notes := m.notifications[:0]
	for _, n := range m.notifications {
		if n.UserID != id {
			notes = append(notes, n)
		}
	}
	m.notifications = notes
	recs := m.attendance[:0]
	for _, r := range m.attendance {
		if r.StudentID != id {
			recs = append(recs, r)
		}
	}
	m.attendance = recs
	return nil
}

func (m *Memory) PendingStudents(_ context.Context) ([]User, error) {
	return m.filterUsers(func(u User) bool {
		return u.Role == RoleStudent && u.Status == StatusPending
	}), nil
}

func (m *Memory) StudentsInGroup(_ context.Context, groupCode string) ([]User, error) {
	return m.filterUsers(func(u User) bool {
		return u.Role == RoleStudent && u.Status == StatusApproved && u.Group() == groupCode
	}), nil
}

func (m *Memory) filterUsers(keep func(User) bool) []User {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []User
	for _, u := range m.users {
		if keep(u) {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FullName == out[j].FullName {
			return out[i].ID < out[j].ID
		}
		return out[i].FullName < out[j].FullName
	})
	return out
}

func (m *Memory) ListGroups(_ context.Context) ([]Group, error) {
	return m.filterGroups(func(Group) bool { return true }), nil
}

func (m *Memory) GroupsOwnedBy(_ context.Context, teacherID int64) ([]Group, error) {
	return m.filterGroups(func(g Group) bool { return g.OwnedBy(teacherID) }), nil
}

func (m *Memory) filterGroups(keep func(Group) bool) []Group {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Group
	for _, g := range m.groups {
		if keep(g) {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

func (m *Memory) GetGroup(_ context.Context, code string) (*Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.groups[code]
	if !ok {
		return nil, nil
	}
	return &g, nil
}

func (m *Memory) CreateGroup(_ context.Context, g Group) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.groups[g.Code]; ok {
		return ErrGroupExists
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = m.now()
	}
	m.groups[g.Code] = g
	return nil
}

func (m *Memory) DeleteGroup(_ context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.groups[code]; !ok {
		return ErrNotFound
	}
	for _, u := range m.users {
		if u.Role == RoleStudent && u.Status != StatusRejected && u.Group() == code {
			return ErrGroupNotEmpty
		}
	}
	delete(m.groups, code)
	for id, l := range m.lessons {
		if l.GroupCode == code {
			delete(m.lessons, id)
		}
	}
	changes := m.changes[:0]
	for _, c := range m.changes {
		if c.GroupCode != code {
			changes = append(changes, c)
		}
	}
	m.changes = changes
	return nil
}

func (m *Memory) Lessons(_ context.Context, groupCode string) ([]Lesson, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Lesson
	for _, l := range m.lessons {
		if l.GroupCode == groupCode {
			out = append(out, l)
		}
	}
	sortLessons(out)
	return out, nil
}

func (m *Memory) GetLesson(_ context.Context, id string) (*Lesson, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.lessons[id]
	if !ok {
		return nil, nil
	}
	return &l, nil
}

func (m *Memory) AddLesson(_ context.Context, l Lesson, by int64) (Lesson, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	m.lessons[l.ID] = l
	m.logChange(l, ChangeAdded, by)
	return l, nil
}

func (m *Memory) UpdateLesson(_ context.Context, l Lesson, by int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.lessons[l.ID]; !ok {
		return ErrNotFound
	}
	m.lessons[l.ID] = l
	m.logChange(l, ChangeUpdated, by)
	return nil
}

func (m *Memory) DeleteLesson(_ context.Context, id string, by int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lessons[id]
	if !ok {
		return ErrNotFound
	}
	delete(m.lessons, id)
	m.logChange(l, ChangeDeleted, by)
	return nil
}

func (m *Memory) logChange(l Lesson, kind string, by int64) {
	m.changes = append(m.changes, ScheduleChange{
		ID:        uuid.NewString(),
		GroupCode: l.GroupCode,
		LessonID:  l.ID,
		Kind:      kind,
		Summary:   l.Summary(),
		ChangedBy: by,
		ChangedAt: m.now(),
	})
}

func (m *Memory) ScheduleChanges(_ context.Context, groupCode string, limit int) ([]ScheduleChange, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ScheduleChange
	for i := len(m.changes) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if m.changes[i].GroupCode == groupCode {
			out = append(out, m.changes[i])
		}
	}
	return out, nil
}

func (m *Memory) SubjectsForGroup(_ context.Context, groupCode string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]bool)
	var out []string
	for _, l := range m.lessons {
		if l.GroupCode == groupCode && !seen[l.Subject] {
			seen[l.Subject] = true
			out = append(out, l.Subject)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) AddGrade(_ context.Context, g Grade) (Grade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if g.GivenAt.IsZero() {
		g.GivenAt = m.now()
	}
	m.grades = append(m.grades, g)
	return g, nil
}

func (m *Memory) StudentGrades(_ context.Context, studentID int64) ([]Grade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Grade
	for _, g := range m.grades {
		if g.StudentID == studentID {
			out = append(out, g)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Subject != out[j].Subject {
			return out[i].Subject < out[j].Subject
		}
		return out[i].GivenAt.After(out[j].GivenAt)
	})
	return out, nil
}

func (m *Memory) GradesGivenBy(_ context.Context, teacherID int64, perStudent int) ([]GivenGrade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := make(map[int64]int)
	var out []GivenGrade
	for i := len(m.grades) - 1; i >= 0; i-- {
		g := m.grades[i]
		if g.TeacherID != teacherID {
			continue
		}
		if perStudent > 0 && counts[g.StudentID] >= perStudent {
			continue
		}
		counts[g.StudentID]++
		out = append(out, GivenGrade{Grade: g, StudentName: m.users[g.StudentID].FullName})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StudentName < out[j].StudentName })
	return out, nil
}

func (m *Memory) AddNotification(_ context.Context, n Notification) (Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = m.now()
	}
	m.notifications = append(m.notifications, n)
	return n, nil
}

func (m *Memory) UnreadNotifications(_ context.Context, userID int64) ([]Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Notification
	for i := len(m.notifications) - 1; i >= 0; i-- {
		n := m.notifications[i]
		if n.UserID == userID && !n.Read {
			out = append(out, n)
		}
	}
	return out, nil
}

func (m *Memory) MarkNotificationRead(_ context.Context, userID int64, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.notifications {
		if m.notifications[i].ID == id && m.notifications[i].UserID == userID {
			m.notifications[i].Read = true
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) AppendAttendance(_ context.Context, rec AttendanceRecord) (AttendanceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.Status == Present && m.hasPresent(rec.StudentID, rec.Subject, rec.TokenIssuedAt) {
		return AttendanceRecord{}, ErrDuplicatePresent
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	m.attendance = append(m.attendance, rec)
	return rec, nil
}

func (m *Memory) HasPresent(_ context.Context, studentID int64, subject string, issuedAt time.Time) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hasPresent(studentID, subject, issuedAt), nil
}

func (m *Memory) hasPresent(studentID int64, subject string, issuedAt time.Time) bool {
	for _, r := range m.attendance {
		if r.Status == Present && r.StudentID == studentID && r.Subject == subject && r.TokenIssuedAt.Equal(issuedAt) {
			return true
		}
	}
	return false
}

func (m *Memory) GroupAttendance(_ context.Context, groupCode string, limit int) ([]AttendanceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []AttendanceRecord
	for i := len(m.attendance) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		r := m.attendance[i]
		if r.GroupCode != nil && *r.GroupCode == groupCode {
			out = append(out, r)
		}
	}
	return out, nil
}

// AttendanceLog returns a copy of the whole audit trail in append order.
func (m *Memory) AttendanceLog() []AttendanceRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]AttendanceRecord(nil), m.attendance...)
}
