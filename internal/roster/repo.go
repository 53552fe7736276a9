package roster

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Student is a roster entry as stored in the user directory.
type Student struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Role       string    `json:"role"`
	ClassLabel string    `json:"class"`
	TrackLabel string    `json:"track"`
	CreatedAt  time.Time `json:"created_at"`
}

// Class is a class-directory entry. The (ClassLabel, TrackLabel) pair is a
// natural key; ID is the canonical key everything downstream uses.
type Class struct {
	ID         string    `json:"id"`
	ClassLabel string    `json:"class"`
	TrackLabel string    `json:"track"`
	CreatedAt  time.Time `json:"created_at"`
}

// Repository reads the user and class directories in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// GetStudent returns a student by id, or nil when absent.
func (r *Repository) GetStudent(ctx context.Context, id string) (*Student, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, role, COALESCE(class_label, ''), COALESCE(track_label, ''), created_at
		FROM students WHERE id = $1
	`, id)
	var s Student
	if err := row.Scan(&s.ID, &s.Name, &s.Role, &s.ClassLabel, &s.TrackLabel, &s.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// FindClassByLabels returns the class whose label pair matches exactly.
func (r *Repository) FindClassByLabels(ctx context.Context, classLabel, trackLabel string) (*Class, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, class_label, track_label, created_at
		FROM classes WHERE class_label = $1 AND track_label = $2
	`, classLabel, trackLabel)
	var c Class
	if err := row.Scan(&c.ID, &c.ClassLabel, &c.TrackLabel, &c.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

// GetClass returns a class by its canonical key, or nil when absent.
func (r *Repository) GetClass(ctx context.Context, id string) (*Class, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, class_label, track_label, created_at
		FROM classes WHERE id = $1
	`, id)
	var c Class
	if err := row.Scan(&c.ID, &c.ClassLabel, &c.TrackLabel, &c.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}
