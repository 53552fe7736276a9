package roster

import (
	"context"
	"errors"
	"fmt"
)

// RoleStudent is the role tag a directory entry must carry to be resolvable.
const RoleStudent = "student"

var (
	// ErrStudentNotFound means the identity is absent, not a student, or has
	// no class/track detail.
	ErrStudentNotFound = errors.New("student not found")
	// ErrClassNotFound means the student's label pair matches no class in the
	// directory. Kept distinct from ErrStudentNotFound so an orphaned roster
	// is diagnosable.
	ErrClassNotFound = errors.New("class not found for student labels")
)

// Directory is the slice of the repository the resolver needs.
type Directory interface {
	GetStudent(ctx context.Context, id string) (*Student, error)
	FindClassByLabels(ctx context.Context, classLabel, trackLabel string) (*Class, error)
}

// Membership is a student's resolved class placement.
type Membership struct {
	ClassKey   string
	ClassLabel string
	TrackLabel string
}

// Resolver maps a student identity to its canonical class key.
type Resolver struct {
	dir Directory
}

// NewResolver creates a resolver over a directory.
func NewResolver(dir Directory) *Resolver {
	return &Resolver{dir: dir}
}

// Resolve looks up the student and cross-references the class directory.
// Read-only; results must not be reused across requests.
func (r *Resolver) Resolve(ctx context.Context, studentID string) (Membership, error) {
	st, err := r.dir.GetStudent(ctx, studentID)
	if err != nil {
		return Membership{}, fmt.Errorf("get student %s: %w", studentID, err)
	}
	if st == nil || st.Role != RoleStudent || st.ClassLabel == "" || st.TrackLabel == "" {
		return Membership{}, ErrStudentNotFound
	}

	cls, err := r.dir.FindClassByLabels(ctx, st.ClassLabel, st.TrackLabel)
	if err != nil {
		return Membership{}, fmt.Errorf("find class %s/%s: %w", st.ClassLabel, st.TrackLabel, err)
	}
	if cls == nil {
		return Membership{}, ErrClassNotFound
	}

	return Membership{
		ClassKey:   cls.ID,
		ClassLabel: cls.ClassLabel,
		TrackLabel: cls.TrackLabel,
	}, nil
}
