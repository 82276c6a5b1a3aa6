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

// MembershipRepository provides PostgreSQL-backed event membership storage
type MembershipRepository struct {
	pool *Pool
}

// NewMembershipRepository creates a new PostgreSQL membership repository
func NewMembershipRepository(pool *Pool) *MembershipRepository {
	return &MembershipRepository{pool: pool}
}

const membershipColumns = `event_id, user_id, role, joined_at, checked_in_at`

func scanMembership(scanner interface{ Scan(...any) error }) (database.Membership, error) {
	var m database.Membership
	var role string
	var checkedIn sql.NullTime
	if err := scanner.Scan(&m.EventID, &m.UserID, &role, &m.JoinedAt, &checkedIn); err != nil {
		return m, err //nolint:wrapcheck // callers wrap with context
	}
	m.Role = database.Role(role)
	m.CheckedInAt = timePtr(checkedIn)
	return m, nil
}

func scanMemberships(rows *sql.Rows) ([]database.Membership, error) {
	var memberships []database.Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		memberships = append(memberships, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memberships: %w", err)
	}
	return memberships, nil
}

// insertMembership adds a membership together with its opted-out consent row.
func insertMembership(ctx context.Context, tx *sql.Tx, eventID, userID uuid.UUID, role database.Role) (*database.Membership, error) {
	query := `
		INSERT INTO memberships (event_id, user_id, role)
		VALUES ($1, $2, $3)
		RETURNING ` + membershipColumns

	m, err := scanMembership(tx.QueryRowContext(ctx, query, eventID, userID, string(role)))
	if err != nil {
		return nil, fmt.Errorf("insert membership: %w", translateError(err, database.ErrNotFound))
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO consents (event_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING",
		eventID, userID,
	); err != nil {
		return nil, fmt.Errorf("insert default consent: %w", err)
	}
	return &m, nil
}

// GetMembership retrieves a membership, returns nil if the user is not a member
func (r *MembershipRepository) GetMembership(ctx context.Context, eventID, userID uuid.UUID) (*database.Membership, error) {
	query := `SELECT ` + membershipColumns + ` FROM memberships WHERE event_id = $1 AND user_id = $2`

	m, err := scanMembership(r.pool.QueryRow(ctx, query, eventID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get membership: %w", err)
	}
	return &m, nil
}

// ListMembers returns all memberships of an event in join order
func (r *MembershipRepository) ListMembers(ctx context.Context, eventID uuid.UUID) ([]database.Membership, error) {
	query := `SELECT ` + membershipColumns + ` FROM memberships WHERE event_id = $1 ORDER BY joined_at, user_id`

	rows, err := r.pool.Query(ctx, query, eventID)
	if err != nil {
		return nil, fmt.Errorf("query members: %w", err)
	}
	defer rows.Close()

	return scanMemberships(rows)
}

// ListUserMemberships returns all memberships of a user, newest first
func (r *MembershipRepository) ListUserMemberships(ctx context.Context, userID uuid.UUID) ([]database.Membership, error) {
	query := `SELECT ` + membershipColumns + ` FROM memberships WHERE user_id = $1 ORDER BY joined_at DESC`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query user memberships: %w", err)
	}
	defer rows.Close()

	return scanMemberships(rows)
}

// Join adds the user to an event as an attendee
func (r *MembershipRepository) Join(ctx context.Context, eventID, userID uuid.UUID) (*database.Membership, error) {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := ensureProfile(ctx, tx, userID); err != nil {
		return nil, err
	}

	m, err := insertMembership(ctx, tx, eventID, userID, database.RoleAttendee)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit membership: %w", err)
	}
	return m, nil
}

// AddMember adds an existing user to an event with the given role
func (r *MembershipRepository) AddMember(ctx context.Context, eventID, userID uuid.UUID, role database.Role) (*database.Membership, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("invalid role %q", role)
	}

	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	m, err := insertMembership(ctx, tx, eventID, userID, role)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit membership: %w", err)
	}
	return m, nil
}

// CheckIn marks the member as present at the event
func (r *MembershipRepository) CheckIn(ctx context.Context, eventID, userID uuid.UUID, at time.Time) error {
	result, err := r.pool.Exec(ctx,
		"UPDATE memberships SET checked_in_at = $3 WHERE event_id = $1 AND user_id = $2",
		eventID, userID, at)
	if err != nil {
		return fmt.Errorf("check in: %w", err)
	}
	ok, err := rowsAffected(result)
	if err != nil {
		return err
	}
	if !ok {
		return database.ErrNotMember
	}
	return nil
}

// Leave removes the membership; consent and face directory rows cascade
func (r *MembershipRepository) Leave(ctx context.Context, eventID, userID uuid.UUID) error {
	result, err := r.pool.Exec(ctx,
		"DELETE FROM memberships WHERE event_id = $1 AND user_id = $2", eventID, userID)
	if err != nil {
		return fmt.Errorf("leave event: %w", err)
	}
	ok, err := rowsAffected(result)
	if err != nil {
		return err
	}
	if !ok {
		return database.ErrNotMember
	}
	return nil
}

var _ database.MembershipWriter = (*MembershipRepository)(nil)
