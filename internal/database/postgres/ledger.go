package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kozaktomas/presence-gate/internal/attendance"
	"github.com/kozaktomas/presence-gate/internal/database"
)

// LedgerRepository stores sessions and attendance records.
type LedgerRepository struct {
	pool *Pool
}

// NewLedgerRepository creates a new PostgreSQL session ledger.
func NewLedgerRepository(pool *Pool) *LedgerRepository {
	return &LedgerRepository{pool: pool}
}

var _ database.Ledger = (*LedgerRepository)(nil)

// OpenSession inserts an OPEN session. The partial unique index on OPEN sessions
// decides races between concurrent entries of the same scope.
func (r *LedgerRepository) OpenSession(ctx context.Context, scope database.Scope, entryTime time.Time) (*database.Session, error) {
	session := &database.Session{
		ID:        uuid.New(),
		Scope:     scope,
		EntryTime: entryTime,
		Status:    database.StatusOpen,
	}

	attempt := 0
	err := r.pool.retry(ctx, "open session", func(ctx context.Context) error {
		attempt++
		var id uuid.UUID
		err := r.pool.QueryRow(ctx, `
			INSERT INTO sessions (id, subject_key, session_date, category, entry_time, status)
			VALUES ($1, $2, $3::date, $4, $5, 'OPEN')
			ON CONFLICT (subject_key, session_date, category) WHERE status = 'OPEN' DO NOTHING
			RETURNING id
		`, session.ID, scope.SubjectKey, scope.DateString(), scope.Category, entryTime).Scan(&id)
		switch {
		case errors.Is(err, sql.ErrNoRows),
			isConstraint(err, codeUniqueViolation, "idx_sessions_one_open"):
			if attempt == 1 {
				return database.ErrAlreadyOpen
			}
			// An earlier attempt may have committed before its reply was lost.
			committed, lerr := r.sessionExists(ctx, session.ID)
			if lerr != nil {
				return lerr
			}
			if committed {
				return nil
			}
			return database.ErrAlreadyOpen
		case isConstraint(err, codeForeignKeyViolation, ""):
			return fmt.Errorf("%w: %s", database.ErrSubjectNotFound, scope.SubjectKey)
		case err != nil:
			return fmt.Errorf("insert session: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// CloseSession closes the OPEN session of the scope and writes its attendance record.
// The UPDATE takes the row lock, so a concurrent close waits and then finds no OPEN row.
func (r *LedgerRepository) CloseSession(
	ctx context.Context, scope database.Scope, exitTime time.Time, policy attendance.Policy,
) (*database.AttendanceRecord, error) {
	var record *database.AttendanceRecord
	attempt := 0
	err := r.pool.retry(ctx, "close session", func(ctx context.Context) error {
		attempt++
		tx, err := r.pool.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		var sessionID uuid.UUID
		var entryTime time.Time
		err = tx.QueryRowContext(ctx, `
			UPDATE sessions SET status = 'CLOSED', exit_time = $4
			WHERE subject_key = $1 AND session_date = $2::date AND category = $3 AND status = 'OPEN'
			RETURNING id, entry_time
		`, scope.SubjectKey, scope.DateString(), scope.Category, exitTime).Scan(&sessionID, &entryTime)
		if errors.Is(err, sql.ErrNoRows) {
			if attempt == 1 {
				return database.ErrNoOpenSession
			}
			rec, lerr := r.closedAt(ctx, scope, exitTime)
			if lerr != nil {
				return lerr
			}
			if rec == nil {
				return database.ErrNoOpenSession
			}
			record = rec
			return nil
		}
		if err != nil {
			return fmt.Errorf("close session: %w", err)
		}

		result, err := policy.Evaluate(entryTime, exitTime)
		if err != nil {
			return err
		}

		rec, err := insertRecord(ctx, tx, sessionID, scope, entryTime, exitTime, result)
		if err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit close session: %w", err)
		}
		record = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// RecordCompleted writes a session that is already over, e.g. attendance marked by staff.
func (r *LedgerRepository) RecordCompleted(
	ctx context.Context, scope database.Scope, entryTime, exitTime time.Time, policy attendance.Policy,
) (*database.AttendanceRecord, error) {
	result, err := policy.Evaluate(entryTime, exitTime)
	if err != nil {
		return nil, err
	}

	var record *database.AttendanceRecord
	sessionID := uuid.New()
	attempt := 0
	err = r.pool.retry(ctx, "record attendance", func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			rec, err := r.recordOf(ctx, sessionID)
			if err != nil {
				return err
			}
			if rec != nil {
				record = rec
				return nil
			}
		}
		tx, err := r.pool.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		var open bool
		if err := tx.QueryRowContext(ctx, `
			SELECT EXISTS(SELECT 1 FROM sessions
			WHERE subject_key = $1 AND session_date = $2::date AND category = $3 AND status = 'OPEN')
		`, scope.SubjectKey, scope.DateString(), scope.Category).Scan(&open); err != nil {
			return fmt.Errorf("check open session: %w", err)
		}
		if open {
			return database.ErrAlreadyOpen
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO sessions (id, subject_key, session_date, category, entry_time, exit_time, status)
			VALUES ($1, $2, $3::date, $4, $5, $6, 'CLOSED')
		`, sessionID, scope.SubjectKey, scope.DateString(), scope.Category, entryTime, exitTime)
		if isConstraint(err, codeForeignKeyViolation, "") {
			return fmt.Errorf("%w: %s", database.ErrSubjectNotFound, scope.SubjectKey)
		}
		if err != nil {
			return fmt.Errorf("insert session: %w", err)
		}

		rec, err := insertRecord(ctx, tx, sessionID, scope, entryTime, exitTime, result)
		if err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit attendance: %w", err)
		}
		record = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

func insertRecord(
	ctx context.Context, tx *sql.Tx, sessionID uuid.UUID, scope database.Scope,
	entryTime, exitTime time.Time, result attendance.Result,
) (*database.AttendanceRecord, error) {
	rec := &database.AttendanceRecord{
		SessionID:       sessionID,
		Scope:           scope,
		EntryTime:       entryTime,
		ExitTime:        exitTime,
		DurationMinutes: result.DurationMinutes,
		Verdict:         result.Verdict,
	}
	err := tx.QueryRowContext(ctx, `
		INSERT INTO attendance (session_id, subject_key, session_date, category, entry_time, exit_time,
		                        duration_minutes, verdict)
		VALUES ($1, $2, $3::date, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`, sessionID, scope.SubjectKey, scope.DateString(), scope.Category, entryTime, exitTime,
		result.DurationMinutes, string(result.Verdict)).Scan(&rec.ID, &rec.CreatedAt)
	if isConstraint(err, codeUniqueViolation, "") {
		return nil, database.ErrDuplicateRecord
	}
	if err != nil {
		return nil, fmt.Errorf("insert attendance record: %w", err)
	}
	return rec, nil
}

// sessionExists reports whether a session with id was committed.
func (r *LedgerRepository) sessionExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM sessions WHERE id = $1)", id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check session: %w", err)
	}
	return exists, nil
}

const recordColumns = `a.id, a.session_id, a.subject_key, a.session_date, a.category, a.entry_time,
	a.exit_time, a.duration_minutes, a.verdict, a.created_at`

// closedAt returns the record of the scope's session closed at exitTime, nil if none.
func (r *LedgerRepository) closedAt(ctx context.Context, scope database.Scope, exitTime time.Time) (*database.AttendanceRecord, error) {
	return scanRecord(r.pool.QueryRow(ctx, `
		SELECT `+recordColumns+`
		FROM attendance a JOIN sessions s ON s.id = a.session_id
		WHERE s.subject_key = $1 AND s.session_date = $2::date AND s.category = $3
		  AND s.status = 'CLOSED' AND s.exit_time = $4
		ORDER BY a.id DESC
		LIMIT 1
	`, scope.SubjectKey, scope.DateString(), scope.Category, exitTime))
}

// recordOf returns the attendance record of a session, nil if none.
func (r *LedgerRepository) recordOf(ctx context.Context, sessionID uuid.UUID) (*database.AttendanceRecord, error) {
	return scanRecord(r.pool.QueryRow(ctx,
		"SELECT "+recordColumns+" FROM attendance a WHERE a.session_id = $1", sessionID))
}

func scanRecord(row *sql.Row) (*database.AttendanceRecord, error) {
	var rec database.AttendanceRecord
	var verdict string
	err := row.Scan(&rec.ID, &rec.SessionID, &rec.Scope.SubjectKey, &rec.Scope.Date, &rec.Scope.Category,
		&rec.EntryTime, &rec.ExitTime, &rec.DurationMinutes, &verdict, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load attendance record: %w", err)
	}
	rec.Scope.Date = database.CivilDate(rec.Scope.Date)
	rec.Verdict = attendance.Verdict(verdict)
	return &rec, nil
}

// GetOpenSession returns the OPEN session of a scope, nil if none.
func (r *LedgerRepository) GetOpenSession(ctx context.Context, scope database.Scope) (*database.Session, error) {
	sessions, err := r.ListOpenSessions(ctx, database.SessionFilter{
		SubjectKey: scope.SubjectKey,
		Date:       &scope.Date,
		Category:   scope.Category,
	})
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, nil
	}
	return &sessions[0], nil
}

// whereBuilder accumulates AND-ed conditions with positional arguments.
type whereBuilder struct {
	conds []string
	args  []any
}

func (w *whereBuilder) add(cond string, arg any) {
	w.args = append(w.args, arg)
	w.conds = append(w.conds, strings.ReplaceAll(cond, "?", fmt.Sprintf("$%d", len(w.args))))
}

func (w *whereBuilder) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(w.conds, " AND ")
}

// ListOpenSessions returns OPEN sessions ordered by entry time.
func (r *LedgerRepository) ListOpenSessions(ctx context.Context, filter database.SessionFilter) ([]database.Session, error) {
	w := &whereBuilder{conds: []string{"status = 'OPEN'"}}
	if filter.SubjectKey != "" {
		w.add("subject_key = ?", filter.SubjectKey)
	}
	if filter.Date != nil {
		w.add("session_date = ?::date", filter.Date.Format(time.DateOnly))
	}
	if filter.Category != "" {
		w.add("category = ?", filter.Category)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, subject_key, session_date, category, entry_time
		FROM sessions `+w.String()+`
		ORDER BY entry_time, subject_key
	`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("query open sessions: %w", err)
	}
	defer rows.Close()

	var sessions []database.Session
	for rows.Next() {
		var s database.Session
		if err := rows.Scan(&s.ID, &s.Scope.SubjectKey, &s.Scope.Date, &s.Scope.Category, &s.EntryTime); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		s.Scope.Date = database.CivilDate(s.Scope.Date)
		s.Status = database.StatusOpen
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// ListAttendance returns one page of records and the total count, read from one snapshot.
func (r *LedgerRepository) ListAttendance(
	ctx context.Context, filter database.AttendanceFilter,
) ([]database.AttendanceRecord, int, error) {
	limit, offset := database.ClampPage(filter.Limit, filter.Offset)

	w := &whereBuilder{}
	if filter.SubjectKey != "" {
		w.add("subject_key = ?", filter.SubjectKey)
	}
	if filter.Date != nil {
		w.add("session_date = ?::date", filter.Date.Format(time.DateOnly))
	}
	if filter.Category != "" {
		w.add("category = ?", filter.Category)
	}
	if filter.Verdict != "" {
		w.add("verdict = ?", string(filter.Verdict))
	}

	tx, err := r.pool.BeginTx(ctx, snapshot)
	if err != nil {
		return nil, 0, err
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM attendance "+w.String(), w.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count attendance: %w", err)
	}

	args := append(w.args, limit, offset)
	rows, err := tx.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, session_id, subject_key, session_date, category, entry_time, exit_time,
		       duration_minutes, verdict, created_at
		FROM attendance %s
		ORDER BY exit_time DESC, id DESC
		LIMIT $%d OFFSET $%d
	`, w.String(), len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query attendance: %w", err)
	}
	defer rows.Close()

	var records []database.AttendanceRecord
	for rows.Next() {
		var rec database.AttendanceRecord
		var verdict string
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.Scope.SubjectKey, &rec.Scope.Date, &rec.Scope.Category,
			&rec.EntryTime, &rec.ExitTime, &rec.DurationMinutes, &verdict, &rec.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan attendance: %w", err)
		}
		rec.Scope.Date = database.CivilDate(rec.Scope.Date)
		rec.Verdict = attendance.Verdict(verdict)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate attendance: %w", err)
	}
	return records, total, nil
}

// Summarize counts verdicts of one day.
func (r *LedgerRepository) Summarize(ctx context.Context, date time.Time, category string) (database.Summary, error) {
	var present, absent int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FILTER (WHERE verdict = 'PRESENT'), COUNT(*) FILTER (WHERE verdict = 'ABSENT')
		FROM attendance
		WHERE session_date = $1::date AND ($2 = '' OR category = $2)
	`, date.Format(time.DateOnly), category).Scan(&present, &absent)
	if err != nil {
		return database.Summary{}, fmt.Errorf("summarize attendance: %w", err)
	}
	return database.NewSummary(database.CivilDate(date), category, present, absent), nil
}
