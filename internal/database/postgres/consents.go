package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/kozaktomas/memento/internal/database"
)

// ConsentRepository provides PostgreSQL-backed per-event consent storage
type ConsentRepository struct {
	pool *Pool
}

// NewConsentRepository creates a new PostgreSQL consent repository
func NewConsentRepository(pool *Pool) *ConsentRepository {
	return &ConsentRepository{pool: pool}
}

const consentColumns = `
	event_id, user_id, allow_profile_display, allow_recognition, consented_at, revoked_at, updated_at
`

func scanConsent(scanner interface{ Scan(...any) error }) (database.Consent, error) {
	var c database.Consent
	var consentedAt, revokedAt sql.NullTime
	err := scanner.Scan(
		&c.EventID,
		&c.UserID,
		&c.AllowProfileDisplay,
		&c.AllowRecognition,
		&consentedAt,
		&revokedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return c, err //nolint:wrapcheck // callers wrap with context
	}
	c.ConsentedAt = timePtr(consentedAt)
	c.RevokedAt = timePtr(revokedAt)
	return c, nil
}

// capabilityColumn maps a capability to its flag column.
func capabilityColumn(capability database.Capability) (string, error) {
	switch capability {
	case database.CapabilityRecognition:
		return "allow_recognition", nil
	case database.CapabilityProfileDisplay:
		return "allow_profile_display", nil
	}
	return "", fmt.Errorf("unknown capability %q", capability)
}

// GetConsent reads the subject's consent for an event, returns nil if no row exists
func (r *ConsentRepository) GetConsent(ctx context.Context, eventID, userID uuid.UUID) (*database.Consent, error) {
	query := `SELECT ` + consentColumns + ` FROM consents WHERE event_id = $1 AND user_id = $2`

	c, err := scanConsent(r.pool.QueryRow(ctx, query, eventID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get consent: %w", err)
	}
	return &c, nil
}

// ListUserConsents returns all consent rows of a user
func (r *ConsentRepository) ListUserConsents(ctx context.Context, userID uuid.UUID) ([]database.Consent, error) {
	query := `SELECT ` + consentColumns + ` FROM consents WHERE user_id = $1 ORDER BY updated_at DESC`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query user consents: %w", err)
	}
	defer rows.Close()

	var consents []database.Consent
	for rows.Next() {
		c, err := scanConsent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan consent: %w", err)
		}
		consents = append(consents, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate consents: %w", err)
	}
	return consents, nil
}

// ListConsentedMembers returns members whose unrevoked consent allows the capability
func (r *ConsentRepository) ListConsentedMembers(ctx context.Context, eventID uuid.UUID, capability database.Capability) ([]uuid.UUID, error) {
	column, err := capabilityColumn(capability)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT c.user_id
		FROM consents c
		JOIN memberships m ON m.event_id = c.event_id AND m.user_id = c.user_id
		WHERE c.event_id = $1 AND c.revoked_at IS NULL AND c.` + column + `
		ORDER BY m.joined_at, c.user_id
	`
	rows, err := r.pool.Query(ctx, query, eventID)
	if err != nil {
		return nil, fmt.Errorf("query consented members: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate consented members: %w", err)
	}
	return ids, nil
}

const upsertConsent = `
	INSERT INTO consents (event_id, user_id, allow_profile_display, allow_recognition,
	                      consented_at, revoked_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, NOW())
	ON CONFLICT (event_id, user_id) DO UPDATE SET
		allow_profile_display = EXCLUDED.allow_profile_display,
		allow_recognition = EXCLUDED.allow_recognition,
		consented_at = EXCLUDED.consented_at,
		revoked_at = EXCLUDED.revoked_at,
		updated_at = NOW()
	RETURNING updated_at
`

// SaveConsent upserts the subject's own consent row.
// The composite foreign key to memberships rejects subjects without a membership.
func (r *ConsentRepository) SaveConsent(ctx context.Context, actor uuid.UUID, c *database.Consent) error {
	if actor != c.UserID {
		return database.ErrNotOwner
	}

	err := r.pool.QueryRow(ctx, upsertConsent,
		c.EventID, c.UserID, c.AllowProfileDisplay, c.AllowRecognition,
		nullTime(c.ConsentedAt), nullTime(c.RevokedAt),
	).Scan(&c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save consent: %w", translateError(err, database.ErrNotMember))
	}
	return nil
}

// ModifyConsent locks the membership row, reads the consent, applies modify
// and upserts the result in one transaction. The membership lock serializes
// writers even before the consent row exists.
func (r *ConsentRepository) ModifyConsent(
	ctx context.Context, subject, eventID uuid.UUID, modify func(current *database.Consent) database.Consent,
) (*database.Consent, error) {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin consent update: %w", err)
	}
	defer tx.Rollback()

	var one int
	err = tx.QueryRowContext(ctx,
		`SELECT 1 FROM memberships WHERE event_id = $1 AND user_id = $2 FOR NO KEY UPDATE`,
		eventID, subject,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrNotMember
	}
	if err != nil {
		return nil, fmt.Errorf("lock membership: %w", err)
	}

	var current *database.Consent
	row := tx.QueryRowContext(ctx,
		`SELECT `+consentColumns+` FROM consents WHERE event_id = $1 AND user_id = $2 FOR UPDATE`,
		eventID, subject)
	c, err := scanConsent(row)
	switch {
	case err == nil:
		current = &c
	case !errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("get consent: %w", err)
	}

	next := modify(current)
	next.EventID, next.UserID = eventID, subject
	err = tx.QueryRowContext(ctx, upsertConsent,
		next.EventID, next.UserID, next.AllowProfileDisplay, next.AllowRecognition,
		nullTime(next.ConsentedAt), nullTime(next.RevokedAt),
	).Scan(&next.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("save consent: %w", translateError(err, database.ErrNotMember))
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit consent: %w", err)
	}
	return &next, nil
}

var _ database.ConsentWriter = (*ConsentRepository)(nil)
