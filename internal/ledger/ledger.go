package ledger

import (
	"fmt"
	"time"
)

// Attendance statuses. Only StatusPresent is producible by a scan; the rest
// are set administratively.
const (
	StatusPresent = "present"
	StatusSick    = "sick"
	StatusExcused = "excused"
	StatusAbsent  = "absent"
)

// ValidStatus reports whether s is a known attendance status.
func ValidStatus(s string) bool {
	switch s {
	case StatusPresent, StatusSick, StatusExcused, StatusAbsent:
		return true
	}
	return false
}

// Record is one attendance event, dated in server-local time.
type Record struct {
	ID         string    `json:"id"`
	ClassKey   string    `json:"class_key"`
	StudentID  string    `json:"student_id"`
	Status     string    `json:"status"`
	Hour       int       `json:"hour"`
	Minute     int       `json:"minute"`
	Day        int       `json:"day"`
	Month      int       `json:"month"`
	Year       int       `json:"year"`
	ClassLabel string    `json:"class"`
	TrackLabel string    `json:"track"`
	CreatedAt  time.Time `json:"created_at"`
}

// ClockTime renders the record's time of day as HH:MM for display.
func (r Record) ClockTime() string {
	return fmt.Sprintf("%02d:%02d", r.Hour, r.Minute)
}

// Filter narrows ledger queries. Zero values mean "any".
type Filter struct {
	ClassKey  string
	StudentID string
	Day       int
	Month     int
	Year      int
}
