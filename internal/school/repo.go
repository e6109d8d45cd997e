package school

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// Repository persists the school domain through sqlx. Queries are written with
// ? placeholders and rebound for the driver in use.
type Repository struct {
	db  *sqlx.DB
	now func() time.Time
}

var _ Store = (*Repository)(nil)

// NewRepository creates a repository on an open connection.
func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (r *Repository) q(query string) string {
	return r.db.Rebind(query)
}

func (r *Repository) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return errors.Wrap(tx.Commit(), "commit")
}

const userColumns = `id, full_name, role, status, group_code, created_at`

func (r *Repository) GetUser(ctx context.Context, id int64) (*User, error) {
	var u User
	err := r.db.GetContext(ctx, &u, r.q(`SELECT `+userColumns+` FROM users WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get user %d", id)
	}
	return &u, nil
}

func (r *Repository) SaveUser(ctx context.Context, u User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = r.now()
	}
	_, err := r.db.ExecContext(ctx, r.q(`
		INSERT INTO users (id, full_name, role, status, group_code, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			full_name = excluded.full_name,
			role = excluded.role,
			status = excluded.status,
			group_code = excluded.group_code`),
		u.ID, u.FullName, u.Role, u.Status, u.GroupCode, u.CreatedAt)
	return errors.Wrapf(err, "save user %d", u.ID)
}

func (r *Repository) ApproveStudent(ctx context.Context, studentID, approverID int64) error {
	return r.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := r.decide(ctx, tx, studentID, StatusApproved); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, tx.Rebind(`
			UPDATE class_groups SET owner_id = ?
			WHERE owner_id IS NULL AND code = (SELECT group_code FROM users WHERE id = ?)`),
			approverID, studentID)
		return errors.Wrapf(err, "claim group for student %d", studentID)
	})
}

func (r *Repository) RejectStudent(ctx context.Context, studentID int64) error {
	return r.inTx(ctx, func(tx *sqlx.Tx) error {
		return r.decide(ctx, tx, studentID, StatusRejected)
	})
}

func (r *Repository) decide(ctx context.Context, tx *sqlx.Tx, studentID int64, status Status) error {
	res, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE users SET status = ? WHERE id = ? AND status = ?`),
		status, studentID, StatusPending)
	if err != nil {
		return errors.Wrapf(err, "set status of %d", studentID)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	var exists int
	err = tx.GetContext(ctx, &exists, tx.Rebind(`SELECT COUNT(*) FROM users WHERE id = ?`), studentID)
	if err != nil {
		return errors.Wrapf(err, "lookup user %d", studentID)
	}
	if exists == 0 {
		return ErrNotFound
	}
	return ErrNotPending
}

func (r *Repository) MoveStudent(ctx context.Context, studentID int64, groupCode string) error {
	res, err := r.db.ExecContext(ctx, r.q(`
		UPDATE users SET group_code = ?
		WHERE id = ? AND EXISTS (SELECT 1 FROM class_groups WHERE code = ?)`),
		groupCode, studentID, groupCode)
	if err != nil {
		return errors.Wrapf(err, "move student %d", studentID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) DeleteUser(ctx context.Context, id int64) error {
	return r.inTx(ctx, func(tx *sqlx.Tx) error {
		for _, stmt := range []string{
			`DELETE FROM notifications WHERE user_id = ?`,
			`DELETE FROM attendance_records WHERE student_id = ?`,
			`DELETE FROM grades WHERE student_id = ?`,
			`DELETE FROM users WHERE id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, tx.Rebind(stmt), id); err != nil {
				return errors.Wrapf(err, "delete user %d", id)
			}
		}
		return nil
	})
}

func (r *Repository) PendingStudents(ctx context.Context) ([]User, error) {
	var out []User
	err := r.db.SelectContext(ctx, &out, r.q(`
		SELECT `+userColumns+` FROM users
		WHERE role = ? AND status = ? ORDER BY full_name, id`),
		RoleStudent, StatusPending)
	return out, errors.Wrap(err, "pending students")
}

func (r *Repository) StudentsInGroup(ctx context.Context, groupCode string) ([]User, error) {
	var out []User
	err := r.db.SelectContext(ctx, &out, r.q(`
		SELECT `+userColumns+` FROM users
		WHERE role = ? AND status = ? AND group_code = ? ORDER BY full_name, id`),
		RoleStudent, StatusApproved, groupCode)
	return out, errors.Wrapf(err, "students of %s", groupCode)
}

func (r *Repository) ListGroups(ctx context.Context) ([]Group, error) {
	var out []Group
	err := r.db.SelectContext(ctx, &out, `SELECT code, owner_id, created_at FROM class_groups ORDER BY code`)
	return out, errors.Wrap(err, "list groups")
}

func (r *Repository) GetGroup(ctx context.Context, code string) (*Group, error) {
	var g Group
	err := r.db.GetContext(ctx, &g, r.q(`SELECT code, owner_id, created_at FROM class_groups WHERE code = ?`), code)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get group %s", code)
	}
	return &g, nil
}

func (r *Repository) GroupsOwnedBy(ctx context.Context, teacherID int64) ([]Group, error) {
	var out []Group
	err := r.db.SelectContext(ctx, &out, r.q(`
		SELECT code, owner_id, created_at FROM class_groups WHERE owner_id = ? ORDER BY code`), teacherID)
	return out, errors.Wrapf(err, "groups of teacher %d", teacherID)
}

func (r *Repository) CreateGroup(ctx context.Context, g Group) error {
	if g.CreatedAt.IsZero() {
		g.CreatedAt = r.now()
	}
	_, err := r.db.ExecContext(ctx, r.q(`INSERT INTO class_groups (code, owner_id, created_at) VALUES (?, ?, ?)`),
		g.Code, g.OwnerID, g.CreatedAt)
	if isUniqueViolation(err) {
		return ErrGroupExists
	}
	return errors.Wrapf(err, "create group %s", g.Code)
}

func (r *Repository) DeleteGroup(ctx context.Context, code string) error {
	return r.inTx(ctx, func(tx *sqlx.Tx) error {
		var members int
		err := tx.GetContext(ctx, &members, tx.Rebind(`
			SELECT COUNT(*) FROM users WHERE group_code = ? AND role = ? AND status <> ?`),
			code, RoleStudent, StatusRejected)
		if err != nil {
			return errors.Wrapf(err, "count members of %s", code)
		}
		if members > 0 {
			return ErrGroupNotEmpty
		}
		res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM class_groups WHERE code = ?`), code)
		if err != nil {
			return errors.Wrapf(err, "delete group %s", code)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		for _, stmt := range []string{
			`DELETE FROM lessons WHERE group_code = ?`,
			`DELETE FROM schedule_changes WHERE group_code = ?`,
		} {
			if _, err := tx.ExecContext(ctx, tx.Rebind(stmt), code); err != nil {
				return errors.Wrapf(err, "delete schedule of %s", code)
			}
		}
		return nil
	})
}

const lessonColumns = `id, group_code, weekday, starts_at, subject`

func (r *Repository) Lessons(ctx context.Context, groupCode string) ([]Lesson, error) {
	var out []Lesson
	err := r.db.SelectContext(ctx, &out, r.q(`
		SELECT `+lessonColumns+` FROM lessons WHERE group_code = ? ORDER BY weekday, starts_at`), groupCode)
	return out, errors.Wrapf(err, "lessons of %s", groupCode)
}

func (r *Repository) GetLesson(ctx context.Context, id string) (*Lesson, error) {
	var l Lesson
	err := r.db.GetContext(ctx, &l, r.q(`SELECT `+lessonColumns+` FROM lessons WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get lesson %s", id)
	}
	return &l, nil
}

func (r *Repository) AddLesson(ctx context.Context, l Lesson, by int64) (Lesson, error) {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	err := r.inTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, tx.Rebind(`
			INSERT INTO lessons (id, group_code, weekday, starts_at, subject) VALUES (?, ?, ?, ?, ?)`),
			l.ID, l.GroupCode, l.Weekday, l.StartsAt, l.Subject)
		if err != nil {
			return errors.Wrap(err, "insert lesson")
		}
		return r.logChange(ctx, tx, l, ChangeAdded, by)
	})
	return l, err
}

func (r *Repository) UpdateLesson(ctx context.Context, l Lesson, by int64) error {
	return r.inTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, tx.Rebind(`
			UPDATE lessons SET weekday = ?, starts_at = ?, subject = ? WHERE id = ?`),
			l.Weekday, l.StartsAt, l.Subject, l.ID)
		if err != nil {
			return errors.Wrapf(err, "update lesson %s", l.ID)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return r.logChange(ctx, tx, l, ChangeUpdated, by)
	})
}

func (r *Repository) DeleteLesson(ctx context.Context, id string, by int64) error {
	return r.inTx(ctx, func(tx *sqlx.Tx) error {
		var l Lesson
		err := tx.GetContext(ctx, &l, tx.Rebind(`SELECT `+lessonColumns+` FROM lessons WHERE id = ?`), id)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return errors.Wrapf(err, "get lesson %s", id)
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM lessons WHERE id = ?`), id); err != nil {
			return errors.Wrapf(err, "delete lesson %s", id)
		}
		return r.logChange(ctx, tx, l, ChangeDeleted, by)
	})
}

func (r *Repository) logChange(ctx context.Context, tx *sqlx.Tx, l Lesson, kind string, by int64) error {
	_, err := tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO schedule_changes (id, group_code, lesson_id, kind, summary, changed_by, changed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		uuid.NewString(), l.GroupCode, l.ID, kind, l.Summary(), by, r.now())
	return errors.Wrap(err, "log schedule change")
}

func (r *Repository) ScheduleChanges(ctx context.Context, groupCode string, limit int) ([]ScheduleChange, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []ScheduleChange
	err := r.db.SelectContext(ctx, &out, r.q(`
		SELECT id, group_code, lesson_id, kind, summary, changed_by, changed_at
		FROM schedule_changes WHERE group_code = ? ORDER BY changed_at DESC LIMIT ?`), groupCode, limit)
	return out, errors.Wrapf(err, "schedule changes of %s", groupCode)
}

func (r *Repository) SubjectsForGroup(ctx context.Context, groupCode string) ([]string, error) {
	var out []string
	err := r.db.SelectContext(ctx, &out, r.q(`
		SELECT DISTINCT subject FROM lessons WHERE group_code = ? ORDER BY subject`), groupCode)
	return out, errors.Wrapf(err, "subjects of %s", groupCode)
}

func (r *Repository) AddGrade(ctx context.Context, g Grade) (Grade, error) {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if g.GivenAt.IsZero() {
		g.GivenAt = r.now()
	}
	_, err := r.db.ExecContext(ctx, r.q(`
		INSERT INTO grades (id, student_id, teacher_id, subject, value, comment, given_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		g.ID, g.StudentID, g.TeacherID, g.Subject, g.Value, g.Comment, g.GivenAt)
	if err != nil {
		return Grade{}, errors.Wrap(err, "insert grade")
	}
	return g, nil
}

const gradeColumns = `id, student_id, teacher_id, subject, value, comment, given_at`

func (r *Repository) StudentGrades(ctx context.Context, studentID int64) ([]Grade, error) {
	var out []Grade
	err := r.db.SelectContext(ctx, &out, r.q(`
		SELECT `+gradeColumns+` FROM grades WHERE student_id = ? ORDER BY subject, given_at DESC`), studentID)
	return out, errors.Wrapf(err, "grades of %d", studentID)
}

func (r *Repository) GradesGivenBy(ctx context.Context, teacherID int64, perStudent int) ([]GivenGrade, error) {
	if perStudent <= 0 {
		perStudent = 1 << 30
	}
	var out []GivenGrade
	err := r.db.SelectContext(ctx, &out, r.q(`
		SELECT g.id, g.student_id, g.teacher_id, g.subject, g.value, g.comment, g.given_at,
			COALESCE(u.full_name, '') AS student_name
		FROM (
			SELECT `+gradeColumns+`,
				ROW_NUMBER() OVER (PARTITION BY student_id ORDER BY given_at DESC) AS rn
			FROM grades WHERE teacher_id = ?
		) g
		LEFT JOIN users u ON u.id = g.student_id
		WHERE g.rn <= ?
		ORDER BY student_name, g.given_at DESC`), teacherID, perStudent)
	return out, errors.Wrapf(err, "grades given by %d", teacherID)
}

func (r *Repository) AddNotification(ctx context.Context, n Notification) (Notification, error) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = r.now()
	}
	_, err := r.db.ExecContext(ctx, r.q(`
		INSERT INTO notifications (id, user_id, category, text, is_read, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`),
		n.ID, n.UserID, n.Category, n.Text, n.Read, n.CreatedAt)
	if err != nil {
		return Notification{}, errors.Wrap(err, "insert notification")
	}
	return n, nil
}

func (r *Repository) UnreadNotifications(ctx context.Context, userID int64) ([]Notification, error) {
	var out []Notification
	err := r.db.SelectContext(ctx, &out, r.q(`
		SELECT id, user_id, category, text, is_read, created_at FROM notifications
		WHERE user_id = ? AND is_read = ? ORDER BY created_at DESC`), userID, false)
	return out, errors.Wrapf(err, "unread notifications of %d", userID)
}

func (r *Repository) MarkNotificationRead(ctx context.Context, userID int64, id string) error {
	res, err := r.db.ExecContext(ctx, r.q(`UPDATE notifications SET is_read = ? WHERE id = ? AND user_id = ?`),
		true, id, userID)
	if err != nil {
		return errors.Wrapf(err, "mark notification %s", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) AppendAttendance(ctx context.Context, rec AttendanceRecord) (AttendanceRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.TokenIssuedAt = rec.TokenIssuedAt.UTC()
	rec.SubmittedAt = rec.SubmittedAt.UTC()
	_, err := r.db.ExecContext(ctx, r.q(`
		INSERT INTO attendance_records (id, student_id, subject, token_issued_at, submitted_at, status, group_code)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		rec.ID, rec.StudentID, rec.Subject, rec.TokenIssuedAt, rec.SubmittedAt, rec.Status, rec.GroupCode)
	if isUniqueViolation(err) {
		return AttendanceRecord{}, ErrDuplicatePresent
	}
	if err != nil {
		return AttendanceRecord{}, errors.Wrap(err, "insert attendance record")
	}
	return rec, nil
}

func (r *Repository) HasPresent(ctx context.Context, studentID int64, subject string, issuedAt time.Time) (bool, error) {
	var n int
	err := r.db.GetContext(ctx, &n, r.q(`
		SELECT COUNT(*) FROM attendance_records
		WHERE student_id = ? AND subject = ? AND token_issued_at = ? AND status = ?`),
		studentID, subject, issuedAt.UTC(), Present)
	if err != nil {
		return false, errors.Wrap(err, "lookup present record")
	}
	return n > 0, nil
}

func (r *Repository) GroupAttendance(ctx context.Context, groupCode string, limit int) ([]AttendanceRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []AttendanceRecord
	err := r.db.SelectContext(ctx, &out, r.q(`
		SELECT id, student_id, subject, token_issued_at, submitted_at, status, group_code
		FROM attendance_records WHERE group_code = ? ORDER BY submitted_at DESC LIMIT ?`), groupCode, limit)
	return out, errors.Wrapf(err, "attendance of %s", groupCode)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique || liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
