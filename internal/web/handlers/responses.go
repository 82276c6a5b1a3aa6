package handlers

import (
	"github.com/google/uuid"
	"github.com/kozaktomas/memento/internal/database"
)

type profileResponse struct {
	UserID           string  `json:"user_id"`
	FullName         string  `json:"full_name"`
	Headline         string  `json:"headline"`
	Bio              string  `json:"bio"`
	Location         string  `json:"location"`
	Company          string  `json:"company"`
	Major            string  `json:"major"`
	GraduationYear   int     `json:"graduation_year,omitempty"`
	LinkedInURL      string  `json:"linkedin_url"`
	HasPhoto         bool    `json:"has_photo"`
	OneLiner         string  `json:"one_liner"`
	Summary          string  `json:"summary"`
	SummaryProvider  string  `json:"summary_provider,omitempty"`
	SummaryUpdatedAt *string `json:"summary_updated_at"`
	CreatedAt        string  `json:"created_at"`
	UpdatedAt        string  `json:"updated_at"`
}

func toProfileResponse(p *database.Profile) profileResponse {
	return profileResponse{
		UserID:           p.UserID.String(),
		FullName:         p.FullName,
		Headline:         p.Headline,
		Bio:              p.Bio,
		Location:         p.Location,
		Company:          p.Company,
		Major:            p.Major,
		GraduationYear:   p.GraduationYear,
		LinkedInURL:      p.LinkedInURL,
		HasPhoto:         p.HasPhoto(),
		OneLiner:         p.OneLiner,
		Summary:          p.Summary,
		SummaryProvider:  p.SummaryProvider,
		SummaryUpdatedAt: formatTimePtr(p.SummaryUpdatedAt),
		CreatedAt:        formatTime(p.CreatedAt),
		UpdatedAt:        formatTime(p.UpdatedAt),
	}
}

type eventResponse struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Description    string  `json:"description"`
	Location       string  `json:"location"`
	StartsAt       string  `json:"starts_at"`
	EndsAt         *string `json:"ends_at"`
	CreatedBy      *string `json:"created_by"`
	IsActive       bool    `json:"is_active"`
	IndexingStatus string  `json:"indexing_status"`
	IndexedAt      *string `json:"indexed_at"`
	CleanupStatus  string  `json:"cleanup_status"`
	CreatedAt      string  `json:"created_at"`
}

func toEventResponse(e *database.Event) eventResponse {
	return eventResponse{
		ID:             e.ID.String(),
		Name:           e.Name,
		Description:    e.Description,
		Location:       e.Location,
		StartsAt:       formatTime(e.StartsAt),
		EndsAt:         formatTimePtr(e.EndsAt),
		CreatedBy:      formatUUID(e.CreatedBy),
		IsActive:       e.IsActive,
		IndexingStatus: string(e.IndexingStatus),
		IndexedAt:      formatTimePtr(e.IndexedAt),
		CleanupStatus:  string(e.CleanupStatus),
		CreatedAt:      formatTime(e.CreatedAt),
	}
}

// formatUUID returns nil for uuid.Nil
func formatUUID(id uuid.UUID) *string {
	if id == uuid.Nil {
		return nil
	}
	s := id.String()
	return &s
}

type membershipResponse struct {
	EventID     string  `json:"event_id"`
	UserID      string  `json:"user_id"`
	Role        string  `json:"role"`
	JoinedAt    string  `json:"joined_at"`
	CheckedInAt *string `json:"checked_in_at"`
}

func toMembershipResponse(m *database.Membership) membershipResponse {
	return membershipResponse{
		EventID:     m.EventID.String(),
		UserID:      m.UserID.String(),
		Role:        string(m.Role),
		JoinedAt:    formatTime(m.JoinedAt),
		CheckedInAt: formatTimePtr(m.CheckedInAt),
	}
}

type consentResponse struct {
	EventID             string  `json:"event_id"`
	UserID              string  `json:"user_id"`
	AllowProfileDisplay bool    `json:"allow_profile_display"`
	AllowRecognition    bool    `json:"allow_recognition"`
	ConsentedAt         *string `json:"consented_at"`
	RevokedAt           *string `json:"revoked_at"`
	UpdatedAt           string  `json:"updated_at"`
}

func toConsentResponse(c *database.Consent) consentResponse {
	return consentResponse{
		EventID:             c.EventID.String(),
		UserID:              c.UserID.String(),
		AllowProfileDisplay: c.AllowProfileDisplay,
		AllowRecognition:    c.AllowRecognition,
		ConsentedAt:         formatTimePtr(c.ConsentedAt),
		RevokedAt:           formatTimePtr(c.RevokedAt),
		UpdatedAt:           formatTime(c.UpdatedAt),
	}
}
