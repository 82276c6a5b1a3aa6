package database

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Single-row getters return (nil, nil) when the row does not exist.

// ProfileReader provides read access to user profiles
type ProfileReader interface {
	GetProfile(ctx context.Context, userID uuid.UUID) (*Profile, error)
}

// ProfileWriter provides write access to user profiles
type ProfileWriter interface {
	ProfileReader

	// UpsertProfile creates or replaces the editable profile fields.
	// Photo and generated summary columns are left untouched.
	UpsertProfile(ctx context.Context, p *Profile) error
	SetPhotoPath(ctx context.Context, userID uuid.UUID, path string) error
	SetSummary(ctx context.Context, userID uuid.UUID, oneLiner, summary, provider string, at time.Time) error
	// DeleteProfile removes the account. Its memberships, consents and face
	// directory entries go with it; events it created stay without a
	// creator. Reports false when there was no profile.
	DeleteProfile(ctx context.Context, userID uuid.UUID) (bool, error)
}

// EventReader provides read access to events
type EventReader interface {
	GetEvent(ctx context.Context, id uuid.UUID) (*Event, error)
	// ListUserEvents returns the active events the user is a member of, soonest first.
	ListUserEvents(ctx context.Context, userID uuid.UUID) ([]Event, error)
	// ListIndexingCandidates returns active pending events that start within
	// lookahead of now and have not ended yet.
	ListIndexingCandidates(ctx context.Context, now time.Time, lookahead time.Duration) ([]Event, error)
	// ListCleanupCandidates returns events whose indexing finished, whose cleanup
	// is pending and that ended at least grace ago.
	ListCleanupCandidates(ctx context.Context, now time.Time, grace time.Duration) ([]Event, error)
}

// EventWriter provides write access to events
type EventWriter interface {
	EventReader

	// CreateEvent stores the event and makes its creator an organizer member.
	CreateEvent(ctx context.Context, e *Event) error
	// UpdateEvent replaces the event metadata. Status columns are not touched.
	UpdateEvent(ctx context.Context, e *Event) error
	DeactivateEvent(ctx context.Context, id uuid.UUID) error

	// ClaimIndexing flips indexing_status from pending to in_progress.
	// It returns false when another worker already claimed the event.
	ClaimIndexing(ctx context.Context, id uuid.UUID) (bool, error)
	FinishIndexing(ctx context.Context, id uuid.UUID, status Status) error
	// RequeueIndexing resets a failed or in_progress event back to pending.
	RequeueIndexing(ctx context.Context, id uuid.UUID) (bool, error)

	ClaimCleanup(ctx context.Context, id uuid.UUID) (bool, error)
	FinishCleanup(ctx context.Context, id uuid.UUID, status Status) error
}

// MembershipReader provides read access to event memberships
type MembershipReader interface {
	GetMembership(ctx context.Context, eventID, userID uuid.UUID) (*Membership, error)
	ListMembers(ctx context.Context, eventID uuid.UUID) ([]Membership, error)
	ListUserMemberships(ctx context.Context, userID uuid.UUID) ([]Membership, error)
}

// MembershipWriter provides write access to event memberships
type MembershipWriter interface {
	MembershipReader

	// Join adds the user to the event as an attendee together with an
	// opted-out consent row. Returns ErrConflict when already a member.
	Join(ctx context.Context, eventID, userID uuid.UUID) (*Membership, error)
	// AddMember adds another user with the given role.
	AddMember(ctx context.Context, eventID, userID uuid.UUID, role Role) (*Membership, error)
	CheckIn(ctx context.Context, eventID, userID uuid.UUID, at time.Time) error
	// Leave removes the membership. Consent and face directory rows go with it.
	Leave(ctx context.Context, eventID, userID uuid.UUID) error
}

// ConsentReader provides read access to per-event consent
type ConsentReader interface {
	GetConsent(ctx context.Context, eventID, userID uuid.UUID) (*Consent, error)
	ListUserConsents(ctx context.Context, userID uuid.UUID) ([]Consent, error)
	// ListConsentedMembers returns members whose consent currently allows the capability.
	ListConsentedMembers(ctx context.Context, eventID uuid.UUID, capability Capability) ([]uuid.UUID, error)
}

// ConsentWriter provides write access to per-event consent
type ConsentWriter interface {
	ConsentReader

	// SaveConsent upserts c on behalf of actor. It fails with ErrNotOwner when
	// actor is not c.UserID and with ErrNotMember when the subject has no
	// membership in c.EventID.
	SaveConsent(ctx context.Context, actor uuid.UUID, c *Consent) error

	// ModifyConsent reads the subject's consent for eventID (nil when no row
	// exists), stores what modify returns and returns the stored row.
	// Concurrent calls for the same (event, subject) are serialized, so no
	// call works on a row another call has already changed. Fails with
	// ErrNotMember when the subject has no membership.
	ModifyConsent(ctx context.Context, subject, eventID uuid.UUID, modify func(current *Consent) Consent) (*Consent, error)
}

// IdentityReader is the read-only view the consent gate decides on.
type IdentityReader interface {
	MembershipReader
	ConsentReader
}

// FaceDirectoryReader resolves indexed faces back to their owners
type FaceDirectoryReader interface {
	ResolveFace(ctx context.Context, eventID uuid.UUID, externalFaceID string) (*FaceDirectoryEntry, error)
	GetUserFace(ctx context.Context, eventID, userID uuid.UUID) (*FaceDirectoryEntry, error)
	ListEventFaces(ctx context.Context, eventID uuid.UUID) ([]FaceDirectoryEntry, error)
}

// FaceDirectoryWriter provides write access to the face directory
type FaceDirectoryWriter interface {
	FaceDirectoryReader

	SaveFace(ctx context.Context, entry *FaceDirectoryEntry) error
	DeleteUserFace(ctx context.Context, eventID, userID uuid.UUID) error
	// DeleteEventFaces removes every entry of an event and returns how many were removed.
	DeleteEventFaces(ctx context.Context, eventID uuid.UUID) (int64, error)
}

// FaceVectorStore persists face embeddings for the self-hosted matcher
type FaceVectorStore interface {
	// CreateCollection returns ErrConflict when the collection exists.
	CreateCollection(ctx context.Context, name string) error
	// DeleteCollection returns ErrNotFound when the collection does not exist.
	DeleteCollection(ctx context.Context, name string) error
	HasCollection(ctx context.Context, name string) (bool, error)

	SaveVector(ctx context.Context, v *StoredFaceVector) error
	DeleteVectors(ctx context.Context, collection string, faceIDs []uuid.UUID) (int64, error)
	ListVectors(ctx context.Context, collection string) ([]StoredFaceVector, error)
	// FindSimilar returns the nearest vectors with their cosine distances.
	FindSimilar(ctx context.Context, collection string, embedding []float32, limit int, maxDistance float64) ([]StoredFaceVector, []float64, error)
}
