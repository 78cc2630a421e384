package database

import (
	"time"

	"github.com/google/uuid"

	"github.com/kozaktomas/presence-gate/internal/attendance"
)

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	StatusOpen   SessionStatus = "OPEN"
	StatusClosed SessionStatus = "CLOSED"
)

// Subject is a person who can be recognized at the gate.
type Subject struct {
	Key          string // stable unique identifier (student id)
	Name         string
	Code         string // normalized roll number, may be empty
	Active       bool
	RegisteredAt time.Time
	UpdatedAt    time.Time
}

// Scope is the unit of exclusivity for open sessions.
type Scope struct {
	SubjectKey string
	Date       time.Time // civil date, midnight UTC
	Category   string
}

// ScopeFor builds the scope of an event observed at the given instant.
// The calendar date is taken in loc so a gate running in a local time zone
// does not split a day at UTC midnight.
func ScopeFor(subjectKey string, at time.Time, loc *time.Location, category string) Scope {
	if loc == nil {
		loc = time.UTC
	}
	return Scope{
		SubjectKey: subjectKey,
		Date:       CivilDate(at.In(loc)),
		Category:   category,
	}
}

// CivilDate strips the clock from t and pins the date at midnight UTC.
func CivilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DateString returns the scope date as YYYY-MM-DD.
func (s Scope) DateString() string {
	return s.Date.Format(time.DateOnly)
}

// Key returns a printable identifier used for logs and in-memory maps.
func (s Scope) Key() string {
	return s.SubjectKey + "/" + s.DateString() + "/" + s.Category
}

// Session is one entry (and eventually exit) of a subject within a scope.
type Session struct {
	ID        uuid.UUID
	Scope     Scope
	EntryTime time.Time
	ExitTime  *time.Time
	Status    SessionStatus
}

// AttendanceRecord is the immutable outcome of a closed session.
type AttendanceRecord struct {
	ID              int64
	SessionID       uuid.UUID
	Scope           Scope
	EntryTime       time.Time
	ExitTime        time.Time
	DurationMinutes int
	Verdict         attendance.Verdict
	CreatedAt       time.Time
}

// EnrolledFace is one known embedding of a subject.
type EnrolledFace struct {
	ID         int64
	SubjectKey string
	Embedding  []float32
	Model      string
	CreatedAt  time.Time
}

// AttendanceFilter narrows attendance listings. Zero values mean "any".
type AttendanceFilter struct {
	SubjectKey string
	Date       *time.Time
	Category   string
	Verdict    attendance.Verdict
	Limit      int
	Offset     int
}

// SessionFilter narrows open-session listings.
type SessionFilter struct {
	SubjectKey string
	Date       *time.Time
	Category   string
}

// Summary aggregates the records of one day, optionally within a category.
type Summary struct {
	Date     time.Time
	Category string
	Total    int
	Present  int
	Absent   int
	Rate     float64 // present / total * 100, 0 when empty
}

// NewSummary fills in the derived attendance rate.
func NewSummary(date time.Time, category string, present, absent int) Summary {
	s := Summary{Date: date, Category: category, Present: present, Absent: absent, Total: present + absent}
	if s.Total > 0 {
		s.Rate = float64(present) / float64(s.Total) * 100
	}
	return s
}

// Setting keys understood by the service.
const (
	SettingMinimumMinutes = "minimum_duration_minutes"
	SettingActiveCategory = "active_category"
)
