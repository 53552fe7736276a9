package store

import "context"

// schema is applied with IF NOT EXISTS so startup stays idempotent.
// The partial unique index on attendance_records is what makes a
// concurrent double-scan lose at insert time instead of racing a read.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS classes (
		id          TEXT PRIMARY KEY,
		class_label TEXT NOT NULL,
		track_label TEXT NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (class_label, track_label)
	)`,
	`CREATE TABLE IF NOT EXISTS students (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		role        TEXT NOT NULL DEFAULT 'student',
		class_label TEXT,
		track_label TEXT,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS attendance_records (
		id          TEXT PRIMARY KEY,
		class_key   TEXT NOT NULL,
		student_id  TEXT NOT NULL,
		status      TEXT NOT NULL,
		hour        INT NOT NULL,
		minute      INT NOT NULL,
		day         INT NOT NULL,
		month       INT NOT NULL,
		year        INT NOT NULL,
		class_label TEXT NOT NULL,
		track_label TEXT NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS attendance_present_once
		ON attendance_records (class_key, student_id, day, month, year)
		WHERE status = 'present'`,
	`CREATE INDEX IF NOT EXISTS attendance_by_class_date
		ON attendance_records (class_key, year, month, day)`,
}

// EnsureSchema creates tables and indexes if they are missing.
func (d *DB) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := d.Client.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
