package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kozaktomas/presence-gate/internal/attendance"
	"github.com/kozaktomas/presence-gate/internal/database"
)

func seedAttendance(t *testing.T, env *testEnv) {
	t.Helper()
	ctx := context.Background()
	day := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	env.subjects.AddSubject(database.Subject{Key: "s3", Name: "Meera Iyer", Active: true})

	if _, err := env.service.RecordAttendance(ctx, "s1", "General", day, day.Add(95*time.Minute)); err != nil {
		t.Fatal(err)
	}
	if _, err := env.service.RecordAttendance(ctx, "s3", "General", day, day.Add(30*time.Minute)); err != nil {
		t.Fatal(err)
	}
	if _, err := env.service.RecordAttendance(ctx, "s1", "Data Science", day.Add(24*time.Hour), day.Add(26*time.Hour)); err != nil {
		t.Fatal(err)
	}
}

func TestAttendanceHandler_List(t *testing.T) {
	env := newTestEnv(t)
	seedAttendance(t, env)
	handler := NewAttendanceHandler(env.service, env.ledger, time.UTC)

	tests := []struct {
		query     string
		wantTotal int
	}{
		{"", 3},
		{"?subject=s1", 2},
		{"?date=2026-01-10", 2},
		{"?date=2026-01-10&verdict=absent", 1},
		{"?category=Data%20Science", 1},
		{"?limit=1", 3},
	}
	for _, tc := range tests {
		t.Run(tc.query, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			handler.List(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/attendance"+tc.query, nil))
			assertStatusCode(t, recorder, http.StatusOK)

			var resp AttendanceListResponse
			parseJSONResponse(t, recorder, &resp)
			if resp.Total != tc.wantTotal {
				t.Errorf("total = %d, want %d", resp.Total, tc.wantTotal)
			}
			if len(resp.Records) > resp.Limit {
				t.Errorf("page holds %d records, limit %d", len(resp.Records), resp.Limit)
			}
		})
	}

	recorder := httptest.NewRecorder()
	handler.List(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/attendance?verdict=late", nil))
	assertStatusCode(t, recorder, http.StatusBadRequest)
}

func TestAttendanceHandler_Summary(t *testing.T) {
	env := newTestEnv(t)
	seedAttendance(t, env)
	handler := NewAttendanceHandler(env.service, env.ledger, time.UTC)

	recorder := httptest.NewRecorder()
	handler.Summary(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/attendance/summary?date=2026-01-10", nil))
	assertStatusCode(t, recorder, http.StatusOK)

	var summary SummaryResponse
	parseJSONResponse(t, recorder, &summary)
	if summary.Total != 2 || summary.Present != 1 || summary.Absent != 1 || summary.Rate != 50 {
		t.Errorf("unexpected summary: %+v", summary)
	}

	// Without a date the handler summarizes today.
	handler.now = func() time.Time { return time.Date(2026, 1, 11, 12, 0, 0, 0, time.UTC) }
	recorder = httptest.NewRecorder()
	handler.Summary(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/attendance/summary", nil))
	parseJSONResponse(t, recorder, &summary)
	if summary.Date != "2026-01-11" || summary.Total != 1 {
		t.Errorf("unexpected summary for today: %+v", summary)
	}

	env.ledger.SummaryError = fmt.Errorf("summarize: %w", database.ErrStoreUnavailable)
	recorder = httptest.NewRecorder()
	handler.Summary(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/attendance/summary", nil))
	assertStatusCode(t, recorder, http.StatusServiceUnavailable)
}

func TestAttendanceHandler_Manual(t *testing.T) {
	env := newTestEnv(t)
	handler := NewAttendanceHandler(env.service, env.ledger, time.UTC)

	recorder := httptest.NewRecorder()
	handler.Manual(recorder, jsonRequest(t, http.MethodPost, "/api/v1/attendance/manual", ManualAttendanceRequest{
		SubjectKey: "s1",
		EntryTime:  "2026-01-10T09:00:00Z",
		ExitTime:   "2026-01-10T10:30:00Z",
	}))
	assertStatusCode(t, recorder, http.StatusCreated)
	var rec RecordResponse
	parseJSONResponse(t, recorder, &rec)
	if rec.DurationMinutes != 90 || rec.Verdict != attendance.Present {
		t.Errorf("90 minutes at a threshold of 90 is PRESENT, got %+v", rec)
	}

	tests := []struct {
		name       string
		body       ManualAttendanceRequest
		wantStatus int
	}{
		{"duplicate", ManualAttendanceRequest{SubjectKey: "s1", EntryTime: "2026-01-10T09:00:00Z", ExitTime: "2026-01-10T10:30:00Z"}, http.StatusConflict},
		{"exit before entry", ManualAttendanceRequest{SubjectKey: "s1", EntryTime: "2026-01-10T12:00:00Z", ExitTime: "2026-01-10T11:00:00Z"}, http.StatusBadRequest},
		{"missing exit", ManualAttendanceRequest{SubjectKey: "s1", EntryTime: "2026-01-10T12:00:00Z"}, http.StatusBadRequest},
		{"unknown subject", ManualAttendanceRequest{SubjectKey: "nobody", EntryTime: "2026-01-10T09:00:00Z", ExitTime: "2026-01-10T10:00:00Z"}, http.StatusNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			handler.Manual(recorder, jsonRequest(t, http.MethodPost, "/api/v1/attendance/manual", tc.body))
			assertStatusCode(t, recorder, tc.wantStatus)
		})
	}
}
