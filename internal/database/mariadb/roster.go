package mariadb

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/kozaktomas/presence-gate/internal/database"
	"github.com/kozaktomas/presence-gate/internal/facematch"
)

// DefaultTable is the roster table read when none is configured.
const DefaultTable = "students"

var tableRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Student is one roster row.
type Student struct {
	ID         string
	Name       string
	RollNumber string
}

// ListStudents reads (student_id, name, roll_number) from table.
func (p *Pool) ListStudents(ctx context.Context, table string) ([]Student, error) {
	if table == "" {
		table = DefaultTable
	}
	if !tableRe.MatchString(table) {
		return nil, fmt.Errorf("invalid roster table name %q", table)
	}

	// The table name is validated above; identifiers cannot be bound as parameters.
	query := fmt.Sprintf( //nolint:gosec
		"SELECT COALESCE(student_id, ''), COALESCE(name, ''), COALESCE(roll_number, '') FROM %s ORDER BY student_id",
		quoteIdent(table))

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query roster: %w", err)
	}
	defer rows.Close()

	var students []Student
	for rows.Next() {
		var s Student
		if err := rows.Scan(&s.ID, &s.Name, &s.RollNumber); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		students = append(students, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return students, nil
}

func quoteIdent(table string) string {
	parts := strings.Split(table, ".")
	for i, p := range parts {
		parts[i] = "`" + p + "`"
	}
	return strings.Join(parts, ".")
}

// RejectedStudent is a roster row that could not become a subject.
type RejectedStudent struct {
	Student Student
	Err     error
}

// ToSubjects validates roster rows. Rows without an id get a key derived from
// the name; duplicate keys keep the first row.
func ToSubjects(students []Student) ([]database.Subject, []RejectedStudent) {
	var (
		subjects []database.Subject
		rejected []RejectedStudent
		seen     = make(map[string]bool)
	)
	for _, st := range students {
		key := strings.TrimSpace(st.ID)
		if key == "" {
			key = facematch.SubjectSlug(st.Name)
		}
		subject, err := database.NewSubject(key, st.Name, st.RollNumber)
		if err != nil {
			rejected = append(rejected, RejectedStudent{Student: st, Err: err})
			continue
		}
		if seen[subject.Key] {
			rejected = append(rejected, RejectedStudent{
				Student: st,
				Err:     fmt.Errorf("%w: duplicate key %s", database.ErrInvalidSubject, subject.Key),
			})
			continue
		}
		seen[subject.Key] = true
		subjects = append(subjects, subject)
	}
	return subjects, rejected
}

// Import copies the roster into the subject registry in batches, calling
// progress after each batch with the number of rows written so far.
func Import(ctx context.Context, subjects []database.Subject, store database.SubjectWriter, batchSize int, progress func(done int)) (int, error) {
	if batchSize <= 0 {
		batchSize = 200
	}
	written := 0
	for start := 0; start < len(subjects); start += batchSize {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		end := min(start+batchSize, len(subjects))
		n, err := store.UpsertSubjects(ctx, subjects[start:end])
		if err != nil {
			return written, fmt.Errorf("writing subjects %d-%d: %w", start, end, err)
		}
		written += n
		if progress != nil {
			progress(end)
		}
	}
	return written, nil
}

// ErrEmptyRoster is returned when the roster table has no usable rows.
var ErrEmptyRoster = errors.New("roster is empty")
