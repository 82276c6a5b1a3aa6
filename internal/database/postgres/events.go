package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kozaktomas/memento/internal/database"
)

// EventRepository provides PostgreSQL-backed event storage and the
// status transitions used by the lifecycle controller.
type EventRepository struct {
	pool *Pool
}

// NewEventRepository creates a new PostgreSQL event repository
func NewEventRepository(pool *Pool) *EventRepository {
	return &EventRepository{pool: pool}
}

const eventColumns = `
	e.id, e.name, e.description, e.location, e.starts_at, e.ends_at, e.created_by, e.is_active,
	e.indexing_status, e.indexing_started_at, e.indexed_at, e.cleanup_status, e.cleaned_at,
	e.created_at, e.updated_at
`

func scanEvent(scanner interface{ Scan(...any) error }) (database.Event, error) {
	var e database.Event
	var endsAt, startedAt, indexedAt, cleanedAt sql.NullTime
	var createdBy uuid.NullUUID
	var indexing, cleanup string

	err := scanner.Scan(
		&e.ID,
		&e.Name,
		&e.Description,
		&e.Location,
		&e.StartsAt,
		&endsAt,
		&createdBy,
		&e.IsActive,
		&indexing,
		&startedAt,
		&indexedAt,
		&cleanup,
		&cleanedAt,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return e, err //nolint:wrapcheck // callers wrap with context
	}

	e.EndsAt = timePtr(endsAt)
	e.CreatedBy = createdBy.UUID
	e.IndexingStatus = database.Status(indexing)
	e.IndexingStartedAt = timePtr(startedAt)
	e.IndexedAt = timePtr(indexedAt)
	e.CleanupStatus = database.Status(cleanup)
	e.CleanedAt = timePtr(cleanedAt)
	return e, nil
}

func scanEvents(rows *sql.Rows) ([]database.Event, error) {
	var events []database.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// GetEvent retrieves an event by ID, returns nil if not found
func (r *EventRepository) GetEvent(ctx context.Context, id uuid.UUID) (*database.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events e WHERE e.id = $1`

	e, err := scanEvent(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	return &e, nil
}

// ListUserEvents returns the active events the user is a member of
func (r *EventRepository) ListUserEvents(ctx context.Context, userID uuid.UUID) ([]database.Event, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM events e
		JOIN memberships m ON m.event_id = e.id
		WHERE m.user_id = $1 AND e.is_active
		ORDER BY e.starts_at
	`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query user events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// ListIndexingCandidates returns active pending events starting within the lookahead window
func (r *EventRepository) ListIndexingCandidates(ctx context.Context, now time.Time, lookahead time.Duration) ([]database.Event, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM events e
		WHERE e.is_active
		  AND e.indexing_status = 'pending'
		  AND e.starts_at <= $1
		  AND (e.ends_at IS NULL OR e.ends_at > $2)
		ORDER BY e.starts_at
	`
	rows, err := r.pool.Query(ctx, query, now.Add(lookahead), now)
	if err != nil {
		return nil, fmt.Errorf("query indexing candidates: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// ListCleanupCandidates returns finished events whose face collection can be dropped.
// Deactivated events qualify as soon as their indexing pass is over.
func (r *EventRepository) ListCleanupCandidates(ctx context.Context, now time.Time, grace time.Duration) ([]database.Event, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM events e
		WHERE e.cleanup_status = 'pending'
		  AND e.indexing_status IN ('completed', 'failed')
		  AND (NOT e.is_active OR (e.ends_at IS NOT NULL AND e.ends_at <= $1))
		ORDER BY e.ends_at NULLS FIRST
	`
	rows, err := r.pool.Query(ctx, query, now.Add(-grace))
	if err != nil {
		return nil, fmt.Errorf("query cleanup candidates: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// CreateEvent stores the event and adds its creator as organizer with an opted-out consent row
func (r *EventRepository) CreateEvent(ctx context.Context, e *database.Event) error {
	if !e.ValidWindow() {
		return database.ErrInvalidWindow
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}

	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := ensureProfile(ctx, tx, e.CreatedBy); err != nil {
		return err
	}

	query := `
		INSERT INTO events (id, name, description, location, starts_at, ends_at, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING is_active, indexing_status, cleanup_status, created_at, updated_at
	`
	var indexing, cleanup string
	err = tx.QueryRowContext(ctx, query,
		e.ID, e.Name, e.Description, e.Location, e.StartsAt, nullTime(e.EndsAt), e.CreatedBy,
	).Scan(&e.IsActive, &indexing, &cleanup, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert event: %w", translateError(err, database.ErrNotFound))
	}
	e.IndexingStatus = database.Status(indexing)
	e.CleanupStatus = database.Status(cleanup)

	if _, err := insertMembership(ctx, tx, e.ID, e.CreatedBy, database.RoleOrganizer); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	return nil
}

// UpdateEvent replaces the event metadata
func (r *EventRepository) UpdateEvent(ctx context.Context, e *database.Event) error {
	if !e.ValidWindow() {
		return database.ErrInvalidWindow
	}

	query := `
		UPDATE events
		SET name = $2, description = $3, location = $4, starts_at = $5, ends_at = $6, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`
	err := r.pool.QueryRow(ctx, query,
		e.ID, e.Name, e.Description, e.Location, e.StartsAt, nullTime(e.EndsAt),
	).Scan(&e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return database.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("update event: %w", translateError(err, database.ErrNotFound))
	}
	return nil
}

// DeactivateEvent soft-deletes an event
func (r *EventRepository) DeactivateEvent(ctx context.Context, id uuid.UUID) error {
	result, err := r.pool.Exec(ctx,
		"UPDATE events SET is_active = FALSE, updated_at = NOW() WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("deactivate event: %w", err)
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

// ClaimIndexing atomically moves a pending event to in_progress.
// Only one caller can win the conditional update.
func (r *EventRepository) ClaimIndexing(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE events
		SET indexing_status = 'in_progress', indexing_started_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND indexing_status = 'pending' AND is_active
	`
	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("claim indexing: %w", err)
	}
	return rowsAffected(result)
}

// FinishIndexing records the outcome of an indexing pass
func (r *EventRepository) FinishIndexing(ctx context.Context, id uuid.UUID, status database.Status) error {
	if status != database.StatusCompleted && status != database.StatusFailed {
		return fmt.Errorf("invalid final indexing status %q", status)
	}

	query := `
		UPDATE events
		SET indexing_status = $2::text,
		    indexed_at = CASE WHEN $2::text = 'completed' THEN NOW() ELSE indexed_at END,
		    updated_at = NOW()
		WHERE id = $1 AND indexing_status = 'in_progress'
	`
	result, err := r.pool.Exec(ctx, query, id, string(status))
	if err != nil {
		return fmt.Errorf("finish indexing: %w", err)
	}
	ok, err := rowsAffected(result)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("event %s is not being indexed: %w", id, database.ErrNotFound)
	}
	return nil
}

// RequeueIndexing resets a failed or stuck event so the next sweep picks it up again
func (r *EventRepository) RequeueIndexing(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE events
		SET indexing_status = 'pending', indexing_started_at = NULL, updated_at = NOW()
		WHERE id = $1 AND indexing_status IN ('failed', 'in_progress')
	`
	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("requeue indexing: %w", err)
	}
	return rowsAffected(result)
}

// ClaimCleanup atomically moves a pending cleanup to in_progress
func (r *EventRepository) ClaimCleanup(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE events
		SET cleanup_status = 'in_progress', updated_at = NOW()
		WHERE id = $1 AND cleanup_status = 'pending'
	`
	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("claim cleanup: %w", err)
	}
	return rowsAffected(result)
}

// FinishCleanup records the outcome of a cleanup pass
func (r *EventRepository) FinishCleanup(ctx context.Context, id uuid.UUID, status database.Status) error {
	if status != database.StatusCompleted && status != database.StatusFailed {
		return fmt.Errorf("invalid final cleanup status %q", status)
	}

	query := `
		UPDATE events
		SET cleanup_status = $2::text,
		    cleaned_at = CASE WHEN $2::text = 'completed' THEN NOW() ELSE cleaned_at END,
		    updated_at = NOW()
		WHERE id = $1 AND cleanup_status = 'in_progress'
	`
	result, err := r.pool.Exec(ctx, query, id, string(status))
	if err != nil {
		return fmt.Errorf("finish cleanup: %w", err)
	}
	ok, err := rowsAffected(result)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("event %s is not being cleaned up: %w", id, database.ErrNotFound)
	}
	return nil
}

// Ensure EventRepository implements the interfaces
var _ database.EventWriter = (*EventRepository)(nil)
