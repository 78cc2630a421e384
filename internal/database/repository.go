package database

import (
	"context"
	"time"

	"github.com/kozaktomas/presence-gate/internal/attendance"
)

// LedgerReader provides snapshot reads over sessions and attendance records
type LedgerReader interface {
	// GetOpenSession returns the OPEN session of a scope, or nil when there is none
	GetOpenSession(ctx context.Context, scope Scope) (*Session, error)
	// ListOpenSessions returns OPEN sessions ordered by entry time
	ListOpenSessions(ctx context.Context, filter SessionFilter) ([]Session, error)
	// ListAttendance returns one page of records (newest first) and the total matching count
	ListAttendance(ctx context.Context, filter AttendanceFilter) ([]AttendanceRecord, int, error)
	// Summarize aggregates the verdicts of one day, category "" means all categories
	Summarize(ctx context.Context, date time.Time, category string) (Summary, error)
}

// Ledger is the authoritative session store.
type Ledger interface {
	LedgerReader

	// OpenSession creates an OPEN session. Returns ErrAlreadyOpen when the scope holds one.
	OpenSession(ctx context.Context, scope Scope, entryTime time.Time) (*Session, error)

	// CloseSession transitions the OPEN session of the scope to CLOSED and writes its
	// attendance record in one transaction. Returns ErrNoOpenSession when there is nothing
	// to close and attendance.ErrInvalidInterval (with nothing written) when exitTime
	// precedes the entry.
	CloseSession(ctx context.Context, scope Scope, exitTime time.Time, policy attendance.Policy) (*AttendanceRecord, error)

	// RecordCompleted writes an already completed session (manual attendance) as a CLOSED
	// session plus record. Returns ErrAlreadyOpen when the scope holds an OPEN session and
	// ErrDuplicateRecord when a record with the same entry time exists.
	RecordCompleted(ctx context.Context, scope Scope, entryTime, exitTime time.Time, policy attendance.Policy) (*AttendanceRecord, error)
}

// SubjectReader provides read-only access to the subject registry
type SubjectReader interface {
	// GetSubject returns ErrSubjectNotFound for unknown keys
	GetSubject(ctx context.Context, key string) (*Subject, error)
	ListSubjects(ctx context.Context, includeInactive bool) ([]Subject, error)
	CountSubjects(ctx context.Context) (int, error)
}

// SubjectWriter provides write access to the subject registry
type SubjectWriter interface {
	SubjectReader

	// CreateSubject returns ErrSubjectExists when the key is taken
	CreateSubject(ctx context.Context, subject Subject) (*Subject, error)
	// UpdateSubject changes display fields only
	UpdateSubject(ctx context.Context, key, name, code string) (*Subject, error)
	// DisableSubject soft-disables a subject; sessions keep referencing it
	DisableSubject(ctx context.Context, key string) error
	// UpsertSubjects inserts or refreshes display fields of many subjects, returns rows written
	UpsertSubjects(ctx context.Context, subjects []Subject) (int, error)
}

// FaceWriter stores enrolled embeddings
type FaceWriter interface {
	// ReplaceFaces replaces every embedding of a subject, returns how many were stored
	ReplaceFaces(ctx context.Context, subjectKey, model string, embeddings [][]float32) (int, error)
	// CountFaces returns the total number of enrolled embeddings
	CountFaces(ctx context.Context) (int, error)
}

// SettingsStore persists runtime-tunable parameters
type SettingsStore interface {
	// GetSetting returns ok=false when the key was never written
	GetSetting(ctx context.Context, key string) (value string, ok bool, err error)
	SetSetting(ctx context.Context, key, value string) error
	ListSettings(ctx context.Context) (map[string]string, error)
}
