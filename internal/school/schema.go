package school

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

// schema is valid for both Postgres and SQLite.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id BIGINT PRIMARY KEY,
		full_name TEXT NOT NULL,
		role TEXT NOT NULL,
		status TEXT NOT NULL,
		group_code TEXT,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS class_groups (
		code TEXT PRIMARY KEY,
		owner_id BIGINT,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS lessons (
		id TEXT PRIMARY KEY,
		group_code TEXT NOT NULL,
		weekday TEXT NOT NULL,
		starts_at TEXT NOT NULL,
		subject TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS schedule_changes (
		id TEXT PRIMARY KEY,
		group_code TEXT NOT NULL,
		lesson_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		summary TEXT NOT NULL,
		changed_by BIGINT NOT NULL,
		changed_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS grades (
		id TEXT PRIMARY KEY,
		student_id BIGINT NOT NULL,
		teacher_id BIGINT NOT NULL,
		subject TEXT NOT NULL,
		value INTEGER NOT NULL,
		comment TEXT NOT NULL DEFAULT '',
		given_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS notifications (
		id TEXT PRIMARY KEY,
		user_id BIGINT NOT NULL,
		category TEXT NOT NULL,
		text TEXT NOT NULL,
		is_read BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS attendance_records (
		id TEXT PRIMARY KEY,
		student_id BIGINT NOT NULL,
		subject TEXT NOT NULL,
		token_issued_at TIMESTAMP NOT NULL,
		submitted_at TIMESTAMP NOT NULL,
		status TEXT NOT NULL,
		group_code TEXT
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS attendance_present_once
		ON attendance_records (student_id, subject, token_issued_at) WHERE status = 'PRESENT'`,
	`CREATE INDEX IF NOT EXISTS attendance_by_group ON attendance_records (group_code, submitted_at)`,
	`CREATE INDEX IF NOT EXISTS users_by_group ON users (group_code, status)`,
	`CREATE INDEX IF NOT EXISTS lessons_by_group ON lessons (group_code)`,
	`CREATE INDEX IF NOT EXISTS notifications_unread ON notifications (user_id, is_read)`,
}

// Migrate creates missing tables and indexes.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "migrate")
		}
	}
	return nil
}
