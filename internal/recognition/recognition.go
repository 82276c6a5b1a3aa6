// Package recognition turns a probe image into the list of event attendees
// the requester is allowed to see.
//
// Privacy rule: a candidate the requester may not recognize is dropped from
// the result without a trace. The result of a request where everybody was
// filtered out looks exactly like one where nobody matched.
package recognition

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log"
	"slices"

	"github.com/google/uuid"
	"github.com/kozaktomas/memento/internal/consent"
	"github.com/kozaktomas/memento/internal/database"
	"github.com/kozaktomas/memento/internal/matcher"
	"github.com/kozaktomas/memento/internal/summary"
)

var (
	// ErrForbidden is returned when the requester is not a member of the event.
	ErrForbidden = errors.New("FORBIDDEN: requester is not a member of this event")
	// ErrEmptyImage is returned for an empty probe image.
	ErrEmptyImage = errors.New("probe image is empty")
)

// Resolver maps matcher face IDs back to users.
type Resolver interface {
	Resolve(ctx context.Context, externalFaceID string, eventID uuid.UUID) (uuid.UUID, bool, error)
}

// ProfileDetails are the fields shown only with profile_display consent.
type ProfileDetails struct {
	Bio             string   `json:"bio,omitempty"`
	Location        string   `json:"location,omitempty"`
	Company         string   `json:"company,omitempty"`
	Major           string   `json:"major,omitempty"`
	GraduationYear  int      `json:"graduation_year,omitempty"`
	LinkedInURL     string   `json:"linkedin_url,omitempty"`
	OneLiner        string   `json:"one_liner,omitempty"`
	Summary         string   `json:"summary,omitempty"`
	SharedInterests []string `json:"shared_interests,omitempty"`
}

// Match is one recognized attendee.
type Match struct {
	UserID      uuid.UUID       `json:"user_id"`
	DisplayName string          `json:"display_name"`
	Headline    string          `json:"headline,omitempty"`
	Similarity  float64         `json:"similarity"`
	Profile     *ProfileDetails `json:"profile,omitempty"`
}

// Options configure the pipeline.
type Options struct {
	TopN int // maximum number of matches returned (default 5)
}

// Pipeline runs recognition requests. It holds no per-request state and is
// safe for concurrent use.
type Pipeline struct {
	gate        *consent.Gate
	memberships database.MembershipReader
	profiles    database.ProfileReader
	faces       Resolver
	matcher     matcher.Matcher
	opts        Options
}

// New creates a pipeline. m should already be bounded by a timeout, see
// matcher.WithTimeout.
func New(
	gate *consent.Gate,
	memberships database.MembershipReader,
	profiles database.ProfileReader,
	faces Resolver,
	m matcher.Matcher,
	opts Options,
) *Pipeline {
	if opts.TopN <= 0 {
		opts.TopN = 5
	}
	return &Pipeline{
		gate:        gate,
		memberships: memberships,
		profiles:    profiles,
		faces:       faces,
		matcher:     m,
		opts:        opts,
	}
}

// Recognize returns the attendees of eventID whose faces match image and
// who consent to being recognized by requester, best match first.
// Matcher outages are returned as errors satisfying matcher.IsTransient.
func (p *Pipeline) Recognize(ctx context.Context, requester, eventID uuid.UUID, image []byte) ([]Match, error) {
	if len(image) == 0 {
		return nil, ErrEmptyImage
	}

	m, err := p.memberships.GetMembership(ctx, eventID, requester)
	if err != nil {
		return nil, fmt.Errorf("get membership: %w", err)
	}
	if m == nil {
		return nil, ErrForbidden
	}

	candidates, err := p.matcher.SearchFaces(ctx, eventID, image)
	switch {
	case errors.Is(err, matcher.ErrNoFace), errors.Is(err, matcher.ErrCollectionNotFound):
		return []Match{}, nil
	case err != nil:
		return nil, fmt.Errorf("search faces: %w", err)
	}
	slices.SortStableFunc(candidates, func(a, b matcher.Candidate) int {
		return cmp.Compare(b.Similarity, a.Similarity)
	})

	out := []Match{}
	seen := make(map[uuid.UUID]bool)
	var requesterProfile *database.Profile
	loadedRequester := false

	for _, c := range candidates {
		if len(out) >= p.opts.TopN {
			break
		}
		userID, ok, err := p.faces.Resolve(ctx, c.ExternalFaceID, eventID)
		if err != nil {
			log.Printf("recognition: skipping face %s in event %s: %v", c.ExternalFaceID, eventID, err)
			continue
		}
		if !ok || seen[userID] {
			continue
		}
		seen[userID] = true

		decisions, err := p.gate.AuthorizeEach(ctx, requester, userID, eventID,
			database.CapabilityRecognition, database.CapabilityProfileDisplay)
		if err != nil {
			return nil, fmt.Errorf("authorize: %w", err)
		}
		if !decisions[database.CapabilityRecognition].Allowed {
			continue
		}

		profile, err := p.profiles.GetProfile(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("get profile: %w", err)
		}
		match := Match{
			UserID:      userID,
			DisplayName: profile.DisplayName(),
			Similarity:  c.Similarity,
		}
		if profile != nil {
			match.Headline = profile.Headline
		}

		if decisions[database.CapabilityProfileDisplay].Allowed && profile != nil {
			if !loadedRequester {
				requesterProfile, err = p.profiles.GetProfile(ctx, requester)
				if err != nil {
					return nil, fmt.Errorf("get requester profile: %w", err)
				}
				loadedRequester = true
			}
			match.Profile = details(profile, requesterProfile)
		}
		out = append(out, match)
	}
	return out, nil
}

func details(subject, requester *database.Profile) *ProfileDetails {
	d := &ProfileDetails{
		Bio:            subject.Bio,
		Location:       subject.Location,
		Company:        subject.Company,
		Major:          subject.Major,
		GraduationYear: subject.GraduationYear,
		LinkedInURL:    subject.LinkedInURL,
		OneLiner:       subject.OneLiner,
		Summary:        subject.Summary,
	}
	if requester != nil && requester.UserID != subject.UserID {
		d.SharedInterests = summary.SharedInterests(requester, subject)
	}
	return d
}
