package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kozaktomas/presence-gate/internal/database"
)

// SubjectRepository is the PostgreSQL subject registry.
type SubjectRepository struct {
	pool *Pool
}

// NewSubjectRepository creates a new PostgreSQL subject repository.
func NewSubjectRepository(pool *Pool) *SubjectRepository {
	return &SubjectRepository{pool: pool}
}

var _ database.SubjectWriter = (*SubjectRepository)(nil)

const subjectColumns = "key, name, code, active, registered_at, updated_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubject(row rowScanner) (*database.Subject, error) {
	var s database.Subject
	if err := row.Scan(&s.Key, &s.Name, &s.Code, &s.Active, &s.RegisteredAt, &s.UpdatedAt); err != nil {
		return nil, err //nolint:wrapcheck
	}
	return &s, nil
}

// GetSubject returns a subject by key. It sits on the recognition path, so
// transient failures are retried like ledger writes.
func (r *SubjectRepository) GetSubject(ctx context.Context, key string) (*database.Subject, error) {
	var subject *database.Subject
	err := r.pool.retry(ctx, "get subject", func(ctx context.Context) error {
		s, err := scanSubject(r.pool.QueryRow(ctx, "SELECT "+subjectColumns+" FROM subjects WHERE key = $1", key))
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", database.ErrSubjectNotFound, key)
		}
		if err != nil {
			return fmt.Errorf("get subject: %w", err)
		}
		subject = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return subject, nil
}

// ListSubjects returns subjects ordered by name.
func (r *SubjectRepository) ListSubjects(ctx context.Context, includeInactive bool) ([]database.Subject, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+subjectColumns+` FROM subjects
		WHERE $1 OR active
		ORDER BY name, key
	`, includeInactive)
	if err != nil {
		return nil, fmt.Errorf("query subjects: %w", err)
	}
	defer rows.Close()

	var subjects []database.Subject
	for rows.Next() {
		s, err := scanSubject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subject: %w", err)
		}
		subjects = append(subjects, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subjects: %w", err)
	}
	return subjects, nil
}

// CountSubjects returns the number of active subjects.
func (r *SubjectRepository) CountSubjects(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM subjects WHERE active").Scan(&count); err != nil {
		return 0, fmt.Errorf("count subjects: %w", err)
	}
	return count, nil
}

// CreateSubject registers a new subject.
func (r *SubjectRepository) CreateSubject(ctx context.Context, subject database.Subject) (*database.Subject, error) {
	s, err := scanSubject(r.pool.QueryRow(ctx, `
		INSERT INTO subjects (key, name, code, active)
		VALUES ($1, $2, $3, TRUE)
		RETURNING `+subjectColumns,
		subject.Key, subject.Name, subject.Code))
	if isConstraint(err, codeUniqueViolation, "") {
		return nil, fmt.Errorf("%w: %s", database.ErrSubjectExists, subject.Key)
	}
	if err != nil {
		return nil, fmt.Errorf("insert subject: %w", err)
	}
	return s, nil
}

// UpdateSubject changes the display fields of a subject.
func (r *SubjectRepository) UpdateSubject(ctx context.Context, key, name, code string) (*database.Subject, error) {
	s, err := scanSubject(r.pool.QueryRow(ctx, `
		UPDATE subjects SET name = $2, code = $3, updated_at = NOW()
		WHERE key = $1
		RETURNING `+subjectColumns,
		key, name, code))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("%w: %s", database.ErrSubjectNotFound, key)
	case isConstraint(err, codeUniqueViolation, "idx_subjects_code"):
		return nil, fmt.Errorf("%w: code %s is taken", database.ErrSubjectExists, code)
	case err != nil:
		return nil, fmt.Errorf("update subject: %w", err)
	}
	return s, nil
}

// DisableSubject soft-disables a subject.
func (r *SubjectRepository) DisableSubject(ctx context.Context, key string) error {
	res, err := r.pool.Exec(ctx, "UPDATE subjects SET active = FALSE, updated_at = NOW() WHERE key = $1", key)
	if err != nil {
		return fmt.Errorf("disable subject: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", database.ErrSubjectNotFound, key)
	}
	return nil
}

// UpsertSubjects inserts new subjects and refreshes display fields of existing ones.
// The active flag of existing subjects is left alone.
func (r *SubjectRepository) UpsertSubjects(ctx context.Context, subjects []database.Subject) (int, error) {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO subjects (key, name, code, active)
		VALUES ($1, $2, $3, TRUE)
		ON CONFLICT (key) DO UPDATE SET name = EXCLUDED.name, code = EXCLUDED.code, updated_at = NOW()
	`)
	if err != nil {
		return 0, fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, s := range subjects {
		if _, err := stmt.ExecContext(ctx, s.Key, s.Name, s.Code); err != nil {
			return 0, fmt.Errorf("upsert subject %s: %w", s.Key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit upsert: %w", err)
	}
	return len(subjects), nil
}
