package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/kozaktomas/memento/internal/database"
)

// FaceDirectoryRepository maps faces indexed in an event collection to users
type FaceDirectoryRepository struct {
	pool *Pool
}

// NewFaceDirectoryRepository creates a new PostgreSQL face directory repository
func NewFaceDirectoryRepository(pool *Pool) *FaceDirectoryRepository {
	return &FaceDirectoryRepository{pool: pool}
}

func (r *FaceDirectoryRepository) getOne(ctx context.Context, query string, args ...any) (*database.FaceDirectoryEntry, error) {
	var e database.FaceDirectoryEntry
	err := r.pool.QueryRow(ctx, query, args...).Scan(&e.EventID, &e.ExternalFaceID, &e.UserID, &e.IndexedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get face entry: %w", err)
	}
	return &e, nil
}

// ResolveFace looks up the owner of an external face ID within an event
func (r *FaceDirectoryRepository) ResolveFace(ctx context.Context, eventID uuid.UUID, externalFaceID string) (*database.FaceDirectoryEntry, error) {
	return r.getOne(ctx, `
		SELECT event_id, external_face_id, user_id, indexed_at
		FROM face_directory
		WHERE event_id = $1 AND external_face_id = $2
	`, eventID, externalFaceID)
}

// GetUserFace returns the user's entry for an event, nil if not enrolled
func (r *FaceDirectoryRepository) GetUserFace(ctx context.Context, eventID, userID uuid.UUID) (*database.FaceDirectoryEntry, error) {
	return r.getOne(ctx, `
		SELECT event_id, external_face_id, user_id, indexed_at
		FROM face_directory
		WHERE event_id = $1 AND user_id = $2
	`, eventID, userID)
}

// ListEventFaces returns every enrolled face of an event
func (r *FaceDirectoryRepository) ListEventFaces(ctx context.Context, eventID uuid.UUID) ([]database.FaceDirectoryEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT event_id, external_face_id, user_id, indexed_at
		FROM face_directory
		WHERE event_id = $1
		ORDER BY indexed_at
	`, eventID)
	if err != nil {
		return nil, fmt.Errorf("query event faces: %w", err)
	}
	defer rows.Close()

	var entries []database.FaceDirectoryEntry
	for rows.Next() {
		var e database.FaceDirectoryEntry
		if err := rows.Scan(&e.EventID, &e.ExternalFaceID, &e.UserID, &e.IndexedAt); err != nil {
			return nil, fmt.Errorf("scan face entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate face entries: %w", err)
	}
	return entries, nil
}

// SaveFace stores a new directory entry. A user has at most one face per event.
func (r *FaceDirectoryRepository) SaveFace(ctx context.Context, entry *database.FaceDirectoryEntry) error {
	query := `
		INSERT INTO face_directory (event_id, external_face_id, user_id)
		VALUES ($1, $2, $3)
		RETURNING indexed_at
	`
	err := r.pool.QueryRow(ctx, query, entry.EventID, entry.ExternalFaceID, entry.UserID).Scan(&entry.IndexedAt)
	if err != nil {
		return fmt.Errorf("save face entry: %w", translateError(err, database.ErrNotMember))
	}
	return nil
}

// DeleteUserFace removes the user's entry for an event
func (r *FaceDirectoryRepository) DeleteUserFace(ctx context.Context, eventID, userID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, "DELETE FROM face_directory WHERE event_id = $1 AND user_id = $2", eventID, userID)
	if err != nil {
		return fmt.Errorf("delete face entry: %w", err)
	}
	return nil
}

// DeleteEventFaces removes all entries of an event
func (r *FaceDirectoryRepository) DeleteEventFaces(ctx context.Context, eventID uuid.UUID) (int64, error) {
	result, err := r.pool.Exec(ctx, "DELETE FROM face_directory WHERE event_id = $1", eventID)
	if err != nil {
		return 0, fmt.Errorf("delete event faces: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}
	return n, nil
}

var _ database.FaceDirectoryWriter = (*FaceDirectoryRepository)(nil)
