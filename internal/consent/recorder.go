package consent

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kozaktomas/memento/internal/database"
)

// Update is a partial change to a consent row. Nil fields are left as they are.
type Update struct {
	AllowProfileDisplay *bool `json:"allow_profile_display"`
	AllowRecognition    *bool `json:"allow_recognition"`
}

// Empty reports whether the update changes nothing.
func (u Update) Empty() bool {
	return u.AllowProfileDisplay == nil && u.AllowRecognition == nil
}

// Apply returns current with u applied at now.
//
// Turning a capability on stamps consented_at and clears revoked_at. Ending
// with both capabilities off after at least one was in effect stamps
// revoked_at. current may be nil, which reads as the opted-out default.
func Apply(current *database.Consent, u Update, now time.Time) database.Consent {
	var next database.Consent
	if current != nil {
		next = *current
	}

	wasOn := current.Allows(database.CapabilityRecognition) || current.Allows(database.CapabilityProfileDisplay)
	turnedOn := false

	if u.AllowRecognition != nil {
		if *u.AllowRecognition && !current.Allows(database.CapabilityRecognition) {
			turnedOn = true
		}
		next.AllowRecognition = *u.AllowRecognition
	}
	if u.AllowProfileDisplay != nil {
		if *u.AllowProfileDisplay && !current.Allows(database.CapabilityProfileDisplay) {
			turnedOn = true
		}
		next.AllowProfileDisplay = *u.AllowProfileDisplay
	}

	switch {
	case turnedOn:
		next.ConsentedAt = &now
		next.RevokedAt = nil
	case wasOn && !next.AllowRecognition && !next.AllowProfileDisplay:
		next.RevokedAt = &now
	}
	next.UpdatedAt = now
	return next
}

// Recorder writes a subject's own consent rows.
type Recorder struct {
	store database.ConsentWriter
	now   func() time.Time
}

// NewRecorder creates a recorder writing to store
func NewRecorder(store database.ConsentWriter) *Recorder {
	return &Recorder{store: store, now: time.Now}
}

// Update applies u to the actor's consent for eventID. The actor is always
// the subject; there is no way to author another user's consent. The read and
// the write happen as one step, so concurrent updates never undo each other.
func (r *Recorder) Update(ctx context.Context, actor, eventID uuid.UUID, u Update) (*database.Consent, error) {
	now := r.now().UTC()
	c, err := r.store.ModifyConsent(ctx, actor, eventID, func(current *database.Consent) database.Consent {
		return Apply(current, u, now)
	})
	if err != nil {
		return nil, fmt.Errorf("update consent: %w", err)
	}
	return c, nil
}

// GrantAll turns both capabilities on.
func (r *Recorder) GrantAll(ctx context.Context, actor, eventID uuid.UUID) (*database.Consent, error) {
	on := true
	return r.Update(ctx, actor, eventID, Update{AllowProfileDisplay: &on, AllowRecognition: &on})
}

// RevokeAll turns both capabilities off.
func (r *Recorder) RevokeAll(ctx context.Context, actor, eventID uuid.UUID) (*database.Consent, error) {
	off := false
	return r.Update(ctx, actor, eventID, Update{AllowProfileDisplay: &off, AllowRecognition: &off})
}
