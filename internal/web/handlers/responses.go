package handlers

import (
	"time"

	"github.com/kozaktomas/presence-gate/internal/attendance"
	"github.com/kozaktomas/presence-gate/internal/database"
)

// SessionResponse represents a session in API responses
type SessionResponse struct {
	ID         string     `json:"id"`
	SubjectKey string     `json:"subject_key"`
	Date       string     `json:"date"`
	Category   string     `json:"category"`
	EntryTime  time.Time  `json:"entry_time"`
	ExitTime   *time.Time `json:"exit_time,omitempty"`
	Status     string     `json:"status"`
}

func sessionToResponse(s database.Session) SessionResponse {
	return SessionResponse{
		ID:         s.ID.String(),
		SubjectKey: s.Scope.SubjectKey,
		Date:       s.Scope.DateString(),
		Category:   s.Scope.Category,
		EntryTime:  s.EntryTime,
		ExitTime:   s.ExitTime,
		Status:     string(s.Status),
	}
}

// RecordResponse represents an attendance record in API responses
type RecordResponse struct {
	ID              int64              `json:"id"`
	SessionID       string             `json:"session_id"`
	SubjectKey      string             `json:"subject_key"`
	Date            string             `json:"date"`
	Category        string             `json:"category"`
	EntryTime       time.Time          `json:"entry_time"`
	ExitTime        time.Time          `json:"exit_time"`
	DurationMinutes int                `json:"duration_minutes"`
	Duration        string             `json:"duration"`
	Verdict         attendance.Verdict `json:"verdict"`
}

func recordToResponse(r database.AttendanceRecord) RecordResponse {
	return RecordResponse{
		ID:              r.ID,
		SessionID:       r.SessionID.String(),
		SubjectKey:      r.Scope.SubjectKey,
		Date:            r.Scope.DateString(),
		Category:        r.Scope.Category,
		EntryTime:       r.EntryTime,
		ExitTime:        r.ExitTime,
		DurationMinutes: r.DurationMinutes,
		Duration:        attendance.FormatDuration(r.DurationMinutes),
		Verdict:         r.Verdict,
	}
}

// SubjectResponse represents a subject (person) in API responses
type SubjectResponse struct {
	Key          string    `json:"key"`
	Name         string    `json:"name"`
	Code         string    `json:"code,omitempty"`
	Active       bool      `json:"active"`
	RegisteredAt time.Time `json:"registered_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func subjectToResponse(s database.Subject) SubjectResponse {
	return SubjectResponse{
		Key:          s.Key,
		Name:         s.Name,
		Code:         s.Code,
		Active:       s.Active,
		RegisteredAt: s.RegisteredAt,
		UpdatedAt:    s.UpdatedAt,
	}
}

// SummaryResponse represents the verdict totals of one day
type SummaryResponse struct {
	Date     string  `json:"date"`
	Category string  `json:"category,omitempty"`
	Total    int     `json:"total"`
	Present  int     `json:"present"`
	Absent   int     `json:"absent"`
	Rate     float64 `json:"rate"`
}

func summaryToResponse(s database.Summary) SummaryResponse {
	return SummaryResponse{
		Date:     s.Date.Format(time.DateOnly),
		Category: s.Category,
		Total:    s.Total,
		Present:  s.Present,
		Absent:   s.Absent,
		Rate:     s.Rate,
	}
}
