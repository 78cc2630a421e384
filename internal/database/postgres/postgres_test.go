//go:build integration

package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/kozaktomas/presence-gate/internal/attendance"
	"github.com/kozaktomas/presence-gate/internal/config"
	"github.com/kozaktomas/presence-gate/internal/database"
)

func setupTestContainer(t *testing.T) (*Pool, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "pgvector/pgvector:pg16",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("Docker not available or container failed to start, skipping integration test: %v", err)
		return nil, func() {}
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	cfg := &config.DatabaseConfig{
		URL:          fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port()),
		MaxOpenConns: 20,
		MaxIdleConns: 5,
		MaxRetries:   3,
	}

	pool, err := Open(ctx, cfg)
	if err != nil {
		container.Terminate(ctx)
		t.Fatalf("Failed to open pool: %v", err)
	}

	cleanup := func() {
		pool.Close()
		container.Terminate(ctx)
	}
	return pool, cleanup
}

func mustSubject(t *testing.T, repo *SubjectRepository, key string) {
	t.Helper()
	s, err := database.NewSubject(key, "Subject "+key, "")
	if err != nil {
		t.Fatalf("NewSubject: %v", err)
	}
	if _, err := repo.CreateSubject(context.Background(), s); err != nil {
		t.Fatalf("CreateSubject(%s): %v", key, err)
	}
}

func TestLedgerRepository(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	subjects := NewSubjectRepository(pool)
	ledger := NewLedgerRepository(pool)
	policy := attendance.Policy{MinimumMinutes: 90}

	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	at := func(h, m int) time.Time { return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute) }

	for _, k := range []string{"alice", "bob", "carol", "dave", "erin"} {
		mustSubject(t, subjects, k)
	}

	t.Run("OpenAndClosePresent", func(t *testing.T) {
		scope := database.ScopeFor("alice", at(9, 0), time.UTC, "Data Science")
		session, err := ledger.OpenSession(ctx, scope, at(9, 0))
		if err != nil {
			t.Fatalf("OpenSession: %v", err)
		}
		if session.Status != database.StatusOpen {
			t.Errorf("expected OPEN, got %s", session.Status)
		}

		rec, err := ledger.CloseSession(ctx, scope, at(10, 45), policy)
		if err != nil {
			t.Fatalf("CloseSession: %v", err)
		}
		if rec.DurationMinutes != 105 || rec.Verdict != attendance.Present {
			t.Errorf("got %d minutes %s, want 105 PRESENT", rec.DurationMinutes, rec.Verdict)
		}
		if rec.SessionID != session.ID {
			t.Errorf("record session %s != opened session %s", rec.SessionID, session.ID)
		}

		if _, err := ledger.CloseSession(ctx, scope, at(11, 0), policy); !errors.Is(err, database.ErrNoOpenSession) {
			t.Errorf("second close: expected ErrNoOpenSession, got %v", err)
		}
	})

	t.Run("AbsentBelowThreshold", func(t *testing.T) {
		scope := database.ScopeFor("bob", at(9, 0), time.UTC, "Data Science")
		if _, err := ledger.OpenSession(ctx, scope, at(9, 0)); err != nil {
			t.Fatalf("OpenSession: %v", err)
		}
		rec, err := ledger.CloseSession(ctx, scope, at(9, 40), policy)
		if err != nil {
			t.Fatalf("CloseSession: %v", err)
		}
		if rec.DurationMinutes != 40 || rec.Verdict != attendance.Absent {
			t.Errorf("got %d minutes %s, want 40 ABSENT", rec.DurationMinutes, rec.Verdict)
		}
	})

	t.Run("CloseWithoutOpen", func(t *testing.T) {
		scope := database.ScopeFor("carol", at(9, 0), time.UTC, "Operating System")
		if _, err := ledger.CloseSession(ctx, scope, at(10, 0), policy); !errors.Is(err, database.ErrNoOpenSession) {
			t.Fatalf("expected ErrNoOpenSession, got %v", err)
		}
		records, _, err := ledger.ListAttendance(ctx, database.AttendanceFilter{SubjectKey: "carol"})
		if err != nil {
			t.Fatalf("ListAttendance: %v", err)
		}
		if len(records) != 0 {
			t.Errorf("no record should be fabricated, got %d", len(records))
		}
	})

	t.Run("InvalidIntervalRollsBack", func(t *testing.T) {
		scope := database.ScopeFor("carol", at(9, 0), time.UTC, "Compiler Design")
		if _, err := ledger.OpenSession(ctx, scope, at(10, 0)); err != nil {
			t.Fatalf("OpenSession: %v", err)
		}
		if _, err := ledger.CloseSession(ctx, scope, at(9, 0), policy); !errors.Is(err, attendance.ErrInvalidInterval) {
			t.Fatalf("expected ErrInvalidInterval, got %v", err)
		}
		open, err := ledger.GetOpenSession(ctx, scope)
		if err != nil {
			t.Fatalf("GetOpenSession: %v", err)
		}
		if open == nil {
			t.Fatal("session should still be OPEN after a rejected close")
		}
	})

	t.Run("ConcurrentOpens", func(t *testing.T) {
		scope := database.ScopeFor("dave", at(8, 0), time.UTC, "Machine Learning")
		const n = 16
		var wg sync.WaitGroup
		var mu sync.Mutex
		var ok, already int
		for range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := ledger.OpenSession(ctx, scope, at(8, 0))
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					ok++
				case errors.Is(err, database.ErrAlreadyOpen):
					already++
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()
		if ok != 1 || already != n-1 {
			t.Errorf("got %d successes and %d ErrAlreadyOpen, want 1 and %d", ok, already, n-1)
		}
	})

	t.Run("ConcurrentCloses", func(t *testing.T) {
		scope := database.ScopeFor("dave", at(8, 0), time.UTC, "Machine Learning")
		var wg sync.WaitGroup
		errs := make([]error, 2)
		for i := range errs {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, errs[i] = ledger.CloseSession(ctx, scope, at(9, 30), policy)
			}()
		}
		wg.Wait()

		succeeded, noOpen := 0, 0
		for _, err := range errs {
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, database.ErrNoOpenSession):
				noOpen++
			}
		}
		if succeeded != 1 || noOpen != 1 {
			t.Errorf("expected one success and one ErrNoOpenSession, got %v", errs)
		}
		_, total, err := ledger.ListAttendance(ctx, database.AttendanceFilter{SubjectKey: "dave"})
		if err != nil {
			t.Fatalf("ListAttendance: %v", err)
		}
		if total != 1 {
			t.Errorf("expected exactly one record, got %d", total)
		}
	})

	t.Run("RecordCompleted", func(t *testing.T) {
		scope := database.ScopeFor("erin", at(13, 0), time.UTC, "Data Science")
		rec, err := ledger.RecordCompleted(ctx, scope, at(13, 0), at(14, 30), policy)
		if err != nil {
			t.Fatalf("RecordCompleted: %v", err)
		}
		if rec.DurationMinutes != 90 || rec.Verdict != attendance.Present {
			t.Errorf("got %d %s, want 90 PRESENT", rec.DurationMinutes, rec.Verdict)
		}
		if _, err := ledger.RecordCompleted(ctx, scope, at(13, 0), at(14, 0), policy); !errors.Is(err, database.ErrDuplicateRecord) {
			t.Errorf("expected ErrDuplicateRecord, got %v", err)
		}
		if _, err := ledger.RecordCompleted(ctx, scope, at(15, 0), at(14, 0), policy); !errors.Is(err, attendance.ErrInvalidInterval) {
			t.Errorf("expected ErrInvalidInterval, got %v", err)
		}
	})

	t.Run("ListAndSummarize", func(t *testing.T) {
		records, total, err := ledger.ListAttendance(ctx, database.AttendanceFilter{
			Date: &day, Category: "Data Science", Limit: 1,
		})
		if err != nil {
			t.Fatalf("ListAttendance: %v", err)
		}
		if total != 3 || len(records) != 1 {
			t.Errorf("got total=%d page=%d, want total=3 page=1", total, len(records))
		}

		summary, err := ledger.Summarize(ctx, day, "Data Science")
		if err != nil {
			t.Fatalf("Summarize: %v", err)
		}
		if summary.Present != 2 || summary.Absent != 1 {
			t.Errorf("unexpected summary: %+v", summary)
		}

		open, err := ledger.ListOpenSessions(ctx, database.SessionFilter{Date: &day})
		if err != nil {
			t.Fatalf("ListOpenSessions: %v", err)
		}
		if len(open) != 1 || open[0].Scope.SubjectKey != "carol" {
			t.Errorf("expected carol's session to be the only open one, got %+v", open)
		}
	})

	// A retried write whose first attempt committed must find its own rows.
	t.Run("RetryFindsCommittedWrites", func(t *testing.T) {
		scope := database.ScopeFor("alice", at(15, 0), time.UTC, "Networks")
		session, err := ledger.OpenSession(ctx, scope, at(15, 0))
		if err != nil {
			t.Fatalf("OpenSession: %v", err)
		}
		if ok, err := ledger.sessionExists(ctx, session.ID); err != nil || !ok {
			t.Errorf("sessionExists(opened) = %v, %v", ok, err)
		}
		if ok, err := ledger.sessionExists(ctx, uuid.New()); err != nil || ok {
			t.Errorf("sessionExists(unknown) = %v, %v", ok, err)
		}

		exit := at(16, 40).Add(123456 * time.Nanosecond)
		closed, err := ledger.CloseSession(ctx, scope, exit, policy)
		if err != nil {
			t.Fatalf("CloseSession: %v", err)
		}
		found, err := ledger.closedAt(ctx, scope, exit)
		if err != nil || found == nil || found.ID != closed.ID || found.Verdict != attendance.Present {
			t.Errorf("closedAt = %+v, %v, want record %d", found, err, closed.ID)
		}
		if found, err := ledger.closedAt(ctx, scope, at(17, 0)); err != nil || found != nil {
			t.Errorf("closedAt(other exit) = %+v, %v, want nil", found, err)
		}

		byID, err := ledger.recordOf(ctx, closed.SessionID)
		if err != nil || byID == nil || byID.ID != closed.ID {
			t.Errorf("recordOf = %+v, %v", byID, err)
		}
		if byID, err := ledger.recordOf(ctx, uuid.New()); err != nil || byID != nil {
			t.Errorf("recordOf(unknown) = %+v, %v, want nil", byID, err)
		}
	})
}

func TestSubjectsFacesAndSettings(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	subjects := NewSubjectRepository(pool)
	faces := NewFaceRepository(pool)
	settings := NewSettingsRepository(pool)

	mustSubject(t, subjects, "alice")
	mustSubject(t, subjects, "bob")

	t.Run("DuplicateSubject", func(t *testing.T) {
		s, _ := database.NewSubject("alice", "Alice", "")
		if _, err := subjects.CreateSubject(ctx, s); !errors.Is(err, database.ErrSubjectExists) {
			t.Errorf("expected ErrSubjectExists, got %v", err)
		}
	})

	t.Run("FacesAndGallery", func(t *testing.T) {
		before, err := faces.Marker(ctx)
		if err != nil {
			t.Fatalf("Marker: %v", err)
		}
		n, err := faces.ReplaceFaces(ctx, "alice", "dlib", [][]float32{{0.1, 0.2, 0.3}, {0.3, 0.2, 0.1}})
		if err != nil || n != 2 {
			t.Fatalf("ReplaceFaces = %d, %v", n, err)
		}
		if _, err := faces.ReplaceFaces(ctx, "bob", "dlib", [][]float32{{0.5, 0.5, 0.5}}); err != nil {
			t.Fatalf("ReplaceFaces bob: %v", err)
		}
		after, err := faces.Marker(ctx)
		if err != nil {
			t.Fatalf("Marker: %v", err)
		}
		if before == after {
			t.Error("marker should change after enrollment")
		}

		gallery, err := faces.Load(ctx)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if len(gallery) != 3 || len(gallery[0].Embedding) != 3 {
			t.Fatalf("unexpected gallery: %+v", gallery)
		}

		if err := subjects.DisableSubject(ctx, "bob"); err != nil {
			t.Fatalf("DisableSubject: %v", err)
		}
		gallery, err = faces.Load(ctx)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if len(gallery) != 2 {
			t.Errorf("disabled subjects must leave the gallery, got %d rows", len(gallery))
		}

		if gallery, err = faces.ForModel("dlib").Load(ctx); err != nil || len(gallery) != 2 {
			t.Errorf("ForModel(dlib).Load = %d rows, %v, want 2", len(gallery), err)
		}
		if gallery, err = faces.ForModel("facenet").Load(ctx); err != nil || len(gallery) != 0 {
			t.Errorf("embeddings of another model must be left out, got %d rows, %v", len(gallery), err)
		}

		if _, err := faces.ReplaceFaces(ctx, "nobody", "dlib", [][]float32{{1}}); !errors.Is(err, database.ErrSubjectNotFound) {
			t.Errorf("expected ErrSubjectNotFound, got %v", err)
		}
	})

	t.Run("Settings", func(t *testing.T) {
		if _, ok, err := settings.GetSetting(ctx, database.SettingMinimumMinutes); err != nil || ok {
			t.Fatalf("expected missing setting, got ok=%v err=%v", ok, err)
		}
		if err := settings.SetSetting(ctx, database.SettingMinimumMinutes, "45"); err != nil {
			t.Fatalf("SetSetting: %v", err)
		}
		if err := settings.SetSetting(ctx, database.SettingMinimumMinutes, "60"); err != nil {
			t.Fatalf("SetSetting: %v", err)
		}
		v, ok, err := settings.GetSetting(ctx, database.SettingMinimumMinutes)
		if err != nil || !ok || v != "60" {
			t.Errorf("GetSetting = %q, %v, %v", v, ok, err)
		}
	})
}

func TestMigrationsIdempotent(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	if err := pool.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
	versions, err := pool.MigrationsApplied(ctx)
	if err != nil {
		t.Fatalf("MigrationsApplied: %v", err)
	}
	if len(versions) != 1 || versions[0] != "001_initial.sql" {
		t.Errorf("unexpected versions: %v", versions)
	}
}
