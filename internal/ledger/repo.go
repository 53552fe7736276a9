package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Repository persists attendance records in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const recordColumns = `id, class_key, student_id, status, hour, minute, day, month, year, class_label, track_label, created_at`

// FindPresent returns the "present" record for a student in a class on the
// given date, or nil. The caller reads its clock time for the
// already-marked rejection.
func (r *Repository) FindPresent(ctx context.Context, classKey, studentID string, day, month, year int) (*Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM attendance_records
		WHERE class_key = $1 AND student_id = $2 AND day = $3 AND month = $4 AND year = $5 AND status = $6
	`, classKey, studentID, day, month, year, StatusPresent)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// Insert writes a record. For "present" records the partial unique index on
// (class_key, student_id, day, month, year) arbitrates duplicates: the
// insert is attempted with ON CONFLICT DO NOTHING and inserted=false means
// another record already holds the slot.
func (r *Repository) Insert(ctx context.Context, rec Record) (bool, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance_records (`+recordColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (class_key, student_id, day, month, year) WHERE status = 'present' DO NOTHING
	`, rec.ID, rec.ClassKey, rec.StudentID, rec.Status, rec.Hour, rec.Minute,
		rec.Day, rec.Month, rec.Year, rec.ClassLabel, rec.TrackLabel, rec.CreatedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Get returns one record addressed by its full key path.
func (r *Repository) Get(ctx context.Context, classKey, studentID, recordID string) (*Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM attendance_records
		WHERE class_key = $1 AND student_id = $2 AND id = $3
	`, classKey, studentID, recordID)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// Query returns records matching the filter, newest first.
func (r *Repository) Query(ctx context.Context, f Filter) ([]Record, error) {
	query := `SELECT ` + recordColumns + ` FROM attendance_records`
	args := []any{}
	clauses := []string{}
	if f.ClassKey != "" {
		args = append(args, f.ClassKey)
		clauses = append(clauses, fmt.Sprintf("class_key = $%d", len(args)))
	}
	if f.StudentID != "" {
		args = append(args, f.StudentID)
		clauses = append(clauses, fmt.Sprintf("student_id = $%d", len(args)))
	}
	if f.Day != 0 {
		args = append(args, f.Day)
		clauses = append(clauses, fmt.Sprintf("day = $%d", len(args)))
	}
	if f.Month != 0 {
		args = append(args, f.Month)
		clauses = append(clauses, fmt.Sprintf("month = $%d", len(args)))
	}
	if f.Year != 0 {
		args = append(args, f.Year)
		clauses = append(clauses, fmt.Sprintf("year = $%d", len(args)))
	}
	if len(clauses) > 0 {
		query += " WHERE " + joinClauses(clauses, " AND ")
	}
	query += " ORDER BY year DESC, month DESC, day DESC, hour DESC, minute DESC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

// UpdateStatus sets the status of one record, for administrative correction.
func (r *Repository) UpdateStatus(ctx context.Context, classKey, studentID, recordID, status string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE attendance_records SET status = $4
		WHERE class_key = $1 AND student_id = $2 AND id = $3
	`, classKey, studentID, recordID, status)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Delete removes one record.
func (r *Repository) Delete(ctx context.Context, classKey, studentID, recordID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM attendance_records
		WHERE class_key = $1 AND student_id = $2 AND id = $3
	`, classKey, studentID, recordID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// StudentSummary is a per-student status tally for reporting.
type StudentSummary struct {
	StudentID string `json:"student_id"`
	Present   int    `json:"present"`
	Sick      int    `json:"sick"`
	Excused   int    `json:"excused"`
	Absent    int    `json:"absent"`
	Total     int    `json:"total"`
}

// Summary tallies records per student for a class, optionally narrowed to a
// month/year.
func (r *Repository) Summary(ctx context.Context, classKey string, month, year int) ([]StudentSummary, error) {
	query := `
		SELECT student_id,
			COUNT(*) FILTER (WHERE status = 'present'),
			COUNT(*) FILTER (WHERE status = 'sick'),
			COUNT(*) FILTER (WHERE status = 'excused'),
			COUNT(*) FILTER (WHERE status = 'absent'),
			COUNT(*)
		FROM attendance_records
		WHERE class_key = $1`
	args := []any{classKey}
	if month != 0 {
		args = append(args, month)
		query += fmt.Sprintf(" AND month = $%d", len(args))
	}
	if year != 0 {
		args = append(args, year)
		query += fmt.Sprintf(" AND year = $%d", len(args))
	}
	query += " GROUP BY student_id ORDER BY student_id"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []StudentSummary
	for rows.Next() {
		var s StudentSummary
		if err := rows.Scan(&s.StudentID, &s.Present, &s.Sick, &s.Excused, &s.Absent, &s.Total); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var rec Record
	err := row.Scan(&rec.ID, &rec.ClassKey, &rec.StudentID, &rec.Status, &rec.Hour, &rec.Minute,
		&rec.Day, &rec.Month, &rec.Year, &rec.ClassLabel, &rec.TrackLabel, &rec.CreatedAt)
	return rec, err
}

func joinClauses(parts []string, sep string) string {
	if len(parts) == 0 {
		return ""
	}
	out := parts[0]
	for i := 1; i < len(parts); i++ {
		out += sep + parts[i]
	}
	return out
}
