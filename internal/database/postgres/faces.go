package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/kozaktomas/presence-gate/internal/database"
	"github.com/kozaktomas/presence-gate/internal/facematch"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

// FaceRepository stores enrolled embeddings and serves them as a gallery source.
type FaceRepository struct {
	pool  *Pool
	model string
}

// NewFaceRepository creates a new PostgreSQL face repository.
func NewFaceRepository(pool *Pool) *FaceRepository {
	return &FaceRepository{pool: pool}
}

// ForModel returns a repository whose gallery only holds embeddings produced by
// model. Embeddings of other models are not comparable and are left out.
func (r *FaceRepository) ForModel(model string) *FaceRepository {
	return &FaceRepository{pool: r.pool, model: model}
}

var (
	_ database.FaceWriter = (*FaceRepository)(nil)
	_ facematch.Source    = (*FaceRepository)(nil)
)

// ReplaceFaces replaces every embedding of a subject in one transaction.
func (r *FaceRepository) ReplaceFaces(ctx context.Context, subjectKey, model string, embeddings [][]float32) (int, error) {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM subject_faces WHERE subject_key = $1", subjectKey); err != nil {
		return 0, fmt.Errorf("delete faces: %w", err)
	}

	stored := 0
	for _, emb := range embeddings {
		if len(emb) == 0 {
			continue
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO subject_faces (subject_key, embedding, model, dim)
			VALUES ($1, $2, $3, $4)
		`, subjectKey, pgvector.NewVector(emb), model, len(emb))
		if isConstraint(err, codeForeignKeyViolation, "") {
			return 0, fmt.Errorf("%w: %s", database.ErrSubjectNotFound, subjectKey)
		}
		if err != nil {
			return 0, fmt.Errorf("insert face: %w", err)
		}
		stored++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit faces: %w", err)
	}
	return stored, nil
}

// CountFaces returns the total number of enrolled embeddings.
func (r *FaceRepository) CountFaces(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM subject_faces").Scan(&count); err != nil {
		return 0, fmt.Errorf("count faces: %w", err)
	}
	return count, nil
}

// Marker changes whenever faces are added or removed or a subject is enabled or disabled.
func (r *FaceRepository) Marker(ctx context.Context) (string, error) {
	var count, maxID int64
	var facesAt, subjectsAt time.Time
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(MAX(id), 0), COALESCE(MAX(created_at), 'epoch'),
		       (SELECT COALESCE(MAX(updated_at), 'epoch') FROM subjects)
		FROM subject_faces
	`).Scan(&count, &maxID, &facesAt, &subjectsAt)
	if err != nil {
		return "", fmt.Errorf("gallery marker: %w", err)
	}
	return fmt.Sprintf("%d:%d:%d:%d", count, maxID, facesAt.UnixNano(), subjectsAt.UnixNano()), nil
}

// Load returns the embeddings of all active subjects, limited to the
// repository's model when one is set.
func (r *FaceRepository) Load(ctx context.Context) ([]facematch.Enrollment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT f.subject_key, f.embedding
		FROM subject_faces f
		JOIN subjects s ON s.key = f.subject_key
		WHERE s.active AND ($1 = '' OR f.model = $1)
		ORDER BY f.id
	`, r.model)
	if err != nil {
		return nil, fmt.Errorf("query gallery: %w", err)
	}
	defer rows.Close()

	var out []facematch.Enrollment
	for rows.Next() {
		var key string
		var vec pgvector.Vector
		if err := rows.Scan(&key, &vec); err != nil {
			return nil, fmt.Errorf("scan gallery row: %w", err)
		}
		out = append(out, facematch.Enrollment{SubjectKey: key, Embedding: vec.Slice()})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate gallery: %w", err)
	}
	return out, nil
}

// FacesBySubjects returns how many embeddings each of the given subjects has.
func (r *FaceRepository) FacesBySubjects(ctx context.Context, keys []string) (map[string]int, error) {
	counts := make(map[string]int, len(keys))
	if len(keys) == 0 {
		return counts, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT subject_key, COUNT(*) FROM subject_faces
		WHERE subject_key = ANY($1)
		GROUP BY subject_key
	`, pq.Array(keys))
	if err != nil {
		return nil, fmt.Errorf("count faces by subject: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return nil, fmt.Errorf("scan face count: %w", err)
		}
		counts[key] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate face counts: %w", err)
	}
	return counts, nil
}
