package verify

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"absensi/internal/ledger"
	"absensi/internal/qrcode"
	"absensi/internal/roster"
)

// Reason tags a rejection so clients can branch without parsing messages.
type Reason string

const (
	ReasonBadRequest      Reason = "bad_request"
	ReasonStudentNotFound Reason = "student_not_found"
	ReasonClassNotFound   Reason = "class_not_found"
	ReasonInvalidCode     Reason = "invalid_or_expired_code"
	ReasonClassMismatch   Reason = "class_mismatch"
	ReasonExpired         Reason = "expired"
	ReasonAlreadyMarked   Reason = "already_marked"
)

// Rejection is an expected, user-facing outcome of a scan. It is a value,
// not an error; storage faults travel separately.
type Rejection struct {
	Reason  Reason `json:"reason"`
	Message string `json:"message"`

	// class_mismatch context: both label pairs, so the student can find the
	// right code without another lookup.
	CodeClass    string `json:"code_class,omitempty"`
	CodeTrack    string `json:"code_track,omitempty"`
	StudentClass string `json:"student_class,omitempty"`
	StudentTrack string `json:"student_track,omitempty"`

	// already_marked context: when the existing record was taken.
	MarkedAt string `json:"marked_at,omitempty"`
}

// Result is the outcome of VerifyAndRecord: either a committed record with a
// display time, or a rejection.
type Result struct {
	Record      *ledger.Record `json:"record,omitempty"`
	DisplayTime string         `json:"display_time,omitempty"`
	Rejection   *Rejection     `json:"rejection,omitempty"`
}

// Accepted reports whether the scan committed a record.
func (r Result) Accepted() bool { return r.Rejection == nil }

// Resolver resolves a student to their class placement.
type Resolver interface {
	Resolve(ctx context.Context, studentID string) (roster.Membership, error)
}

// Descriptors is the slice of the QR store the engine needs.
type Descriptors interface {
	LookupByCode(ctx context.Context, code string) (*qrcode.Descriptor, error)
	Revoke(ctx context.Context, classKey string) error
}

// Ledger is the slice of the attendance store the engine needs.
type Ledger interface {
	FindPresent(ctx context.Context, classKey, studentID string, day, month, year int) (*ledger.Record, error)
	Insert(ctx context.Context, rec ledger.Record) (bool, error)
}

// Engine runs the scan verification gates and commits accepted scans.
type Engine struct {
	resolver    Resolver
	descriptors Descriptors
	records     Ledger
	nowFunc     func() time.Time
}

// NewEngine creates an engine over its collaborators.
func NewEngine(resolver Resolver, descriptors Descriptors, records Ledger) *Engine {
	return &Engine{
		resolver:    resolver,
		descriptors: descriptors,
		records:     records,
		nowFunc:     time.Now,
	}
}

// VerifyAndRecord decides whether a scanned code becomes an attendance
// record for the student. Gates run in order and the first failure wins;
// nothing is written before the final insert. A non-nil error means a
// storage fault, never a business rejection.
func (e *Engine) VerifyAndRecord(ctx context.Context, code, studentID string) (Result, error) {
	if code == "" || studentID == "" {
		return e.reject(Rejection{
			Reason:  ReasonBadRequest,
			Message: "code and student identity are required",
		}), nil
	}

	member, err := e.resolver.Resolve(ctx, studentID)
	if err != nil {
		if errors.Is(err, roster.ErrStudentNotFound) {
			return e.reject(Rejection{
				Reason:  ReasonStudentNotFound,
				Message: "student data not found",
			}), nil
		}
		if errors.Is(err, roster.ErrClassNotFound) {
			return e.reject(Rejection{
				Reason:  ReasonClassNotFound,
				Message: "no class matches the student's class/track",
			}), nil
		}
		return Result{}, fmt.Errorf("resolve student: %w", err)
	}

	desc, err := e.descriptors.LookupByCode(ctx, code)
	if err != nil {
		return Result{}, fmt.Errorf("lookup code: %w", err)
	}
	if desc == nil {
		return e.reject(Rejection{
			Reason:  ReasonInvalidCode,
			Message: "code is invalid or no longer active",
		}), nil
	}

	// Labels are compared rather than opaque keys: historical data keys
	// descriptors by label pair and the match must survive that.
	if desc.ClassLabel != member.ClassLabel || desc.TrackLabel != member.TrackLabel {
		return e.reject(Rejection{
			Reason: ReasonClassMismatch,
			Message: fmt.Sprintf("code belongs to %s/%s but you are in %s/%s",
				desc.ClassLabel, desc.TrackLabel, member.ClassLabel, member.TrackLabel),
			CodeClass:    desc.ClassLabel,
			CodeTrack:    desc.TrackLabel,
			StudentClass: member.ClassLabel,
			StudentTrack: member.TrackLabel,
		}), nil
	}

	now := e.nowFunc()
	if desc.Expired(now) {
		return e.reject(Rejection{
			Reason:  ReasonExpired,
			Message: "code has expired, ask for a fresh one",
		}), nil
	}

	day, month, year := now.Day(), int(now.Month()), now.Year()

	// Fast path: report the existing record without attempting an insert.
	existing, err := e.records.FindPresent(ctx, member.ClassKey, studentID, day, month, year)
	if err != nil {
		return Result{}, fmt.Errorf("check today's record: %w", err)
	}
	if existing != nil {
		return e.reject(alreadyMarked(existing)), nil
	}

	rec := ledger.Record{
		ID:         uuid.NewString(),
		StudentID:  studentID,
		ClassKey:   member.ClassKey,
		Status:     ledger.StatusPresent,
		Hour:       now.Hour(),
		Minute:     now.Minute(),
		Day:        day,
		Month:      month,
		Year:       year,
		ClassLabel: desc.ClassLabel,
		TrackLabel: desc.TrackLabel,
		CreatedAt:  now,
	}
	inserted, err := e.records.Insert(ctx, rec)
	if err != nil {
		return Result{}, fmt.Errorf("record attendance: %w", err)
	}
	if !inserted {
		// Lost a concurrent double-scan; the surviving row carries the time.
		winner, err := e.records.FindPresent(ctx, member.ClassKey, studentID, day, month, year)
		if err != nil {
			return Result{}, fmt.Errorf("read winning record: %w", err)
		}
		if winner == nil {
			return Result{}, errors.New("duplicate insert conflict but no existing record")
		}
		return e.reject(alreadyMarked(winner)), nil
	}

	if desc.OneShot {
		if err := e.descriptors.Revoke(ctx, desc.ClassKey); err != nil {
			log.Printf("revoke one-shot code for %s failed: %v", desc.ClassKey, err)
		}
	}

	scansAccepted.Inc()
	return Result{Record: &rec, DisplayTime: rec.ClockTime()}, nil
}

func (e *Engine) reject(r Rejection) Result {
	scansRejected.WithLabelValues(string(r.Reason)).Inc()
	return Result{Rejection: &r}
}

func alreadyMarked(rec *ledger.Record) Rejection {
	return Rejection{
		Reason:   ReasonAlreadyMarked,
		Message:  fmt.Sprintf("already marked present today at %s", rec.ClockTime()),
		MarkedAt: rec.ClockTime(),
	}
}
