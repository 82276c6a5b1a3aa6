package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/kozaktomas/memento/internal/database"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

// FaceVectorRepository stores face embeddings for the self-hosted matcher.
type FaceVectorRepository struct {
	pool *Pool
}

// NewFaceVectorRepository creates a new pgvector-backed face vector repository.
func NewFaceVectorRepository(pool *Pool) *FaceVectorRepository {
	return &FaceVectorRepository{pool: pool}
}

// CreateCollection registers a new collection.
func (r *FaceVectorRepository) CreateCollection(ctx context.Context, name string) error {
	_, err := r.pool.Exec(ctx, "INSERT INTO face_collections (name) VALUES ($1)", name)
	if err != nil {
		return fmt.Errorf("create collection: %w", translateError(err, database.ErrNotFound))
	}
	return nil
}

// DeleteCollection drops a collection and all of its vectors.
func (r *FaceVectorRepository) DeleteCollection(ctx context.Context, name string) error {
	result, err := r.pool.Exec(ctx, "DELETE FROM face_collections WHERE name = $1", name)
	if err != nil {
		return fmt.Errorf("delete collection: %w", err)
	}
	ok, err := rowsAffected(result)
	if err != nil {
		return err
	}
	if !ok {
		return database.ErrNotFound
	}
	return nil
}

// HasCollection reports whether the collection exists.
func (r *FaceVectorRepository) HasCollection(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM face_collections WHERE name = $1)", name).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check collection: %w", err)
	}
	return exists, nil
}

// SaveVector stores one face embedding.
func (r *FaceVectorRepository) SaveVector(ctx context.Context, v *database.StoredFaceVector) error {
	if v.FaceID == uuid.Nil {
		v.FaceID = uuid.New()
	}

	query := `
		INSERT INTO face_vectors (face_id, collection, external_image_id, embedding, det_score)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`
	err := r.pool.QueryRow(ctx, query,
		v.FaceID, v.Collection, v.ExternalImageID, pgvector.NewVector(v.Embedding), v.DetScore,
	).Scan(&v.CreatedAt)
	if err != nil {
		return fmt.Errorf("save face vector: %w", translateError(err, database.ErrNotFound))
	}
	return nil
}

// DeleteVectors removes the given faces from a collection.
func (r *FaceVectorRepository) DeleteVectors(ctx context.Context, collection string, faceIDs []uuid.UUID) (int64, error) {
	if len(faceIDs) == 0 {
		return 0, nil
	}
	ids := make([]string, len(faceIDs))
	for i, id := range faceIDs {
		ids[i] = id.String()
	}

	result, err := r.pool.Exec(ctx,
		"DELETE FROM face_vectors WHERE collection = $1 AND face_id = ANY($2::uuid[])",
		collection, pq.Array(ids))
	if err != nil {
		return 0, fmt.Errorf("delete face vectors: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}
	return n, nil
}

// ListVectors returns every vector of a collection, used to build the in-memory index.
func (r *FaceVectorRepository) ListVectors(ctx context.Context, collection string) ([]database.StoredFaceVector, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT face_id, collection, external_image_id, embedding, det_score, created_at
		FROM face_vectors
		WHERE collection = $1
		ORDER BY created_at
	`, collection)
	if err != nil {
		return nil, fmt.Errorf("query face vectors: %w", err)
	}
	defer rows.Close()

	vectors, _, err := scanFaceVectors(rows, false)
	return vectors, err
}

// FindSimilar returns the nearest vectors in a collection by cosine distance.
func (r *FaceVectorRepository) FindSimilar(
	ctx context.Context, collection string, embedding []float32, limit int, maxDistance float64,
) ([]database.StoredFaceVector, []float64, error) {
	query := `
		SELECT face_id, collection, external_image_id, embedding, det_score, created_at,
		       embedding <=> $2::vector AS distance
		FROM face_vectors
		WHERE collection = $1 AND embedding <=> $2::vector <= $3
		ORDER BY distance
		LIMIT $4
	`
	rows, err := r.pool.Query(ctx, query, collection, pgvector.NewVector(embedding), maxDistance, limit)
	if err != nil {
		return nil, nil, fmt.Errorf("query similar faces: %w", err)
	}
	defer rows.Close()

	return scanFaceVectors(rows, true)
}

func scanFaceVectors(rows *sql.Rows, withDistance bool) ([]database.StoredFaceVector, []float64, error) {
	var vectors []database.StoredFaceVector
	var distances []float64
	for rows.Next() {
		var v database.StoredFaceVector
		var vec pgvector.Vector
		dest := []any{&v.FaceID, &v.Collection, &v.ExternalImageID, &vec, &v.DetScore, &v.CreatedAt}
		var distance float64
		if withDistance {
			dest = append(dest, &distance)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, nil, fmt.Errorf("scan face vector: %w", err)
		}
		v.Embedding = vec.Slice()
		vectors = append(vectors, v)
		if withDistance {
			distances = append(distances, distance)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate face vectors: %w", err)
	}
	return vectors, distances, nil
}

var _ database.FaceVectorStore = (*FaceVectorRepository)(nil)
