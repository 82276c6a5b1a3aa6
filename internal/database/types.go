package database

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an event's indexing or cleanup pass.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Role is a member's role within an event.
type Role string

const (
	RoleAttendee  Role = "attendee"
	RoleOrganizer Role = "organizer"
	RoleAdmin     Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAttendee, RoleOrganizer, RoleAdmin:
		return true
	}
	return false
}

// CanManage reports whether the role may add members to an event.
func (r Role) CanManage() bool {
	return r == RoleOrganizer || r == RoleAdmin
}

// Capability is a per-event permission a subject can grant.
type Capability string

const (
	CapabilityRecognition    Capability = "recognition"
	CapabilityProfileDisplay Capability = "profile_display"
)

// Valid reports whether c is one of the known capabilities.
func (c Capability) Valid() bool {
	return c == CapabilityRecognition || c == CapabilityProfileDisplay
}

// Profile is the single global profile of a user.
type Profile struct {
	UserID         uuid.UUID
	FullName       string
	Headline       string
	Bio            string
	Location       string
	Company        string
	Major          string
	GraduationYear int // 0 when unknown
	LinkedInURL    string
	PhotoPath      string // object key of the stored profile photo, empty if none

	// Generated by the summary provider
	OneLiner         string
	Summary          string
	SummaryProvider  string
	SummaryUpdatedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasPhoto reports whether a profile photo has been stored.
func (p *Profile) HasPhoto() bool {
	return p != nil && p.PhotoPath != ""
}

// DisplayName returns the name shown to other attendees.
func (p *Profile) DisplayName() string {
	if p == nil || p.FullName == "" {
		return "Unknown"
	}
	return p.FullName
}

// Event is a bounded social occasion whose attendees can recognize each other.
type Event struct {
	ID          uuid.UUID
	Name        string
	Description string
	Location    string
	StartsAt    time.Time
	EndsAt      *time.Time
	CreatedBy   uuid.UUID // uuid.Nil once the creator deleted their account
	IsActive    bool

	IndexingStatus    Status
	IndexingStartedAt *time.Time
	IndexedAt         *time.Time
	CleanupStatus     Status
	CleanedAt         *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ValidWindow reports whether the event's time window is well formed.
func (e *Event) ValidWindow() bool {
	return e.EndsAt == nil || !e.StartsAt.After(*e.EndsAt)
}

// Membership links a user to an event.
type Membership struct {
	EventID     uuid.UUID
	UserID      uuid.UUID
	Role        Role
	JoinedAt    time.Time
	CheckedInAt *time.Time
}

// Consent holds a subject's per-event opt-in flags.
// A missing row means both flags are off.
type Consent struct {
	EventID             uuid.UUID
	UserID              uuid.UUID
	AllowProfileDisplay bool
	AllowRecognition    bool
	ConsentedAt         *time.Time
	RevokedAt           *time.Time
	UpdatedAt           time.Time
}

// Allows reports whether the consent grants the capability right now.
// A nil consent allows nothing.
func (c *Consent) Allows(capability Capability) bool {
	if c == nil || c.RevokedAt != nil {
		return false
	}
	switch capability {
	case CapabilityRecognition:
		return c.AllowRecognition
	case CapabilityProfileDisplay:
		return c.AllowProfileDisplay
	}
	return false
}

// FaceDirectoryEntry maps a face indexed in an event's collection to its owner.
type FaceDirectoryEntry struct {
	EventID        uuid.UUID
	ExternalFaceID string
	UserID         uuid.UUID
	IndexedAt      time.Time
}

// StoredFaceVector is a face embedding kept by the self-hosted matcher.
type StoredFaceVector struct {
	FaceID          uuid.UUID
	Collection      string
	ExternalImageID string
	Embedding       []float32
	DetScore        float64
	CreatedAt       time.Time
}
