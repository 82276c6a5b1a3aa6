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

// ProfileRepository provides PostgreSQL-backed profile storage
type ProfileRepository struct {
	pool *Pool
}

// NewProfileRepository creates a new PostgreSQL profile repository
func NewProfileRepository(pool *Pool) *ProfileRepository {
	return &ProfileRepository{pool: pool}
}

const profileColumns = `
	user_id, full_name, headline, bio, location, company, major, graduation_year,
	linkedin_url, photo_path, one_liner, summary, summary_provider, summary_updated_at,
	created_at, updated_at
`

// GetProfile retrieves a profile by user ID, returns nil if not found
func (r *ProfileRepository) GetProfile(ctx context.Context, userID uuid.UUID) (*database.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE user_id = $1`

	var p database.Profile
	var gradYear sql.NullInt32
	var summaryAt sql.NullTime
	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&p.UserID,
		&p.FullName,
		&p.Headline,
		&p.Bio,
		&p.Location,
		&p.Company,
		&p.Major,
		&gradYear,
		&p.LinkedInURL,
		&p.PhotoPath,
		&p.OneLiner,
		&p.Summary,
		&p.SummaryProvider,
		&summaryAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}

	if gradYear.Valid {
		p.GraduationYear = int(gradYear.Int32)
	}
	p.SummaryUpdatedAt = timePtr(summaryAt)
	return &p, nil
}

// UpsertProfile creates or replaces the editable profile fields
func (r *ProfileRepository) UpsertProfile(ctx context.Context, p *database.Profile) error {
	query := `
		INSERT INTO profiles (user_id, full_name, headline, bio, location, company, major,
		                      graduation_year, linkedin_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id) DO UPDATE SET
			full_name = EXCLUDED.full_name,
			headline = EXCLUDED.headline,
			bio = EXCLUDED.bio,
			location = EXCLUDED.location,
			company = EXCLUDED.company,
			major = EXCLUDED.major,
			graduation_year = EXCLUDED.graduation_year,
			linkedin_url = EXCLUDED.linkedin_url,
			updated_at = NOW()
		RETURNING created_at, updated_at
	`

	var gradYear sql.NullInt32
	if p.GraduationYear > 0 {
		gradYear = sql.NullInt32{Int32: int32(p.GraduationYear), Valid: true} //nolint:gosec // years fit in int32
	}

	err := r.pool.QueryRow(ctx, query,
		p.UserID, p.FullName, p.Headline, p.Bio, p.Location, p.Company, p.Major,
		gradYear, p.LinkedInURL,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

// SetPhotoPath records the object key of the user's profile photo
func (r *ProfileRepository) SetPhotoPath(ctx context.Context, userID uuid.UUID, path string) error {
	result, err := r.pool.Exec(ctx,
		"UPDATE profiles SET photo_path = $2, updated_at = NOW() WHERE user_id = $1", userID, path)
	if err != nil {
		return fmt.Errorf("set photo path: %w", err)
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

// SetSummary stores the generated one-liner and summary
func (r *ProfileRepository) SetSummary(ctx context.Context, userID uuid.UUID, oneLiner, summary, provider string, at time.Time) error {
	query := `
		UPDATE profiles
		SET one_liner = $2, summary = $3, summary_provider = $4, summary_updated_at = $5
		WHERE user_id = $1
	`
	result, err := r.pool.Exec(ctx, query, userID, oneLiner, summary, provider, at)
	if err != nil {
		return fmt.Errorf("set summary: %w", err)
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

// DeleteProfile removes the profile. Foreign keys cascade to memberships,
// consents and face directory rows and clear events.created_by.
func (r *ProfileRepository) DeleteProfile(ctx context.Context, userID uuid.UUID) (bool, error) {
	result, err := r.pool.Exec(ctx, "DELETE FROM profiles WHERE user_id = $1", userID)
	if err != nil {
		return false, fmt.Errorf("delete profile: %w", err)
	}
	return rowsAffected(result)
}

// ensureProfile inserts an empty profile row so membership and event foreign keys hold.
func ensureProfile(ctx context.Context, tx *sql.Tx, userID uuid.UUID) error {
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO profiles (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING", userID); err != nil {
		return fmt.Errorf("ensure profile: %w", err)
	}
	return nil
}

// Ensure ProfileRepository implements the interfaces
var _ database.ProfileWriter = (*ProfileRepository)(nil)
