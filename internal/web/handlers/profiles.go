package handlers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kozaktomas/memento/internal/consent"
	"github.com/kozaktomas/memento/internal/database"
	"github.com/kozaktomas/memento/internal/imaging"
	"github.com/kozaktomas/memento/internal/photostore"
	"github.com/kozaktomas/memento/internal/summary"
)

// ProfilesHandler handles profile endpoints
type ProfilesHandler struct {
	profiles      database.ProfileWriter
	events        database.EventReader
	memberships   database.MembershipReader
	gate          *consent.Gate
	faces         FaceForgetter
	photos        photostore.Store
	summaries     *summary.Service
	maxImageBytes int64
	photoMaxSize  int
}

// NewProfilesHandler creates a new profiles handler. summaries may be nil,
// in which case no summary is generated.
func NewProfilesHandler(
	profiles database.ProfileWriter,
	events database.EventReader,
	memberships database.MembershipReader,
	gate *consent.Gate,
	faces FaceForgetter,
	photos photostore.Store,
	summaries *summary.Service,
	maxImageBytes int64,
	photoMaxSize int,
) *ProfilesHandler {
	return &ProfilesHandler{
		profiles:      profiles,
		events:        events,
		memberships:   memberships,
		gate:          gate,
		faces:         faces,
		photos:        photos,
		summaries:     summaries,
		maxImageBytes: maxImageBytes,
		photoMaxSize:  photoMaxSize,
	}
}

// completionFields are the profile fields a complete profile has filled in
var completionFields = []struct {
	name   string
	filled func(p *database.Profile) bool
}{
	{"full_name", func(p *database.Profile) bool { return strings.TrimSpace(p.FullName) != "" }},
	{"location", func(p *database.Profile) bool { return strings.TrimSpace(p.Location) != "" }},
	{"company", func(p *database.Profile) bool { return strings.TrimSpace(p.Company) != "" }},
	{"photo", func(p *database.Profile) bool { return p.HasPhoto() }},
	{"major", func(p *database.Profile) bool { return strings.TrimSpace(p.Major) != "" }},
	{"bio", func(p *database.Profile) bool { return strings.TrimSpace(p.Bio) != "" }},
}

type completionResponse struct {
	IsComplete      bool     `json:"is_complete"`
	CompletionScore int      `json:"completion_score"`
	MissingFields   []string `json:"missing_fields"`
}

func profileCompletion(p *database.Profile) completionResponse {
	missing := make([]string, 0, len(completionFields))
	for _, f := range completionFields {
		if !f.filled(p) {
			missing = append(missing, f.name)
		}
	}
	done := len(completionFields) - len(missing)
	return completionResponse{
		IsComplete:      len(missing) == 0,
		CompletionScore: int(math.Round(float64(done) / float64(len(completionFields)) * 100)),
		MissingFields:   missing,
	}
}

type updateProfileRequest struct {
	FullName       string `json:"full_name"`
	Headline       string `json:"headline"`
	Bio            string `json:"bio"`
	Location       string `json:"location"`
	Company        string `json:"company"`
	Major          string `json:"major"`
	GraduationYear int    `json:"graduation_year"`
	LinkedInURL    string `json:"linkedin_url"`
}

// Me returns the caller's profile
func (h *ProfilesHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	profile, err := h.profiles.GetProfile(r.Context(), userID)
	if err != nil {
		respondStoreError(w, err, "get profile")
		return
	}
	if profile == nil {
		respondError(w, http.StatusNotFound, "profile not found")
		return
	}
	respondJSON(w, http.StatusOK, toProfileResponse(profile))
}

// Get returns another user's profile. It is visible only when the caller
// shares an active event in which the subject allows profile display; every
// other case answers the same 404 as an unknown user.
func (h *ProfilesHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	subjectID, ok := uuidParam(w, r, "user_id")
	if !ok {
		return
	}
	ctx := r.Context()

	if subjectID != userID {
		visible, err := h.displayable(ctx, userID, subjectID)
		if err != nil {
			respondStoreError(w, err, "authorize profile")
			return
		}
		if !visible {
			respondError(w, http.StatusNotFound, "profile not found")
			return
		}
	}

	profile, err := h.profiles.GetProfile(ctx, subjectID)
	if err != nil {
		respondStoreError(w, err, "get profile")
		return
	}
	if profile == nil {
		respondError(w, http.StatusNotFound, "profile not found")
		return
	}
	respondJSON(w, http.StatusOK, toProfileResponse(profile))
}

// displayable reports whether any active event of the requester allows
// profile display of subject.
func (h *ProfilesHandler) displayable(ctx context.Context, requester, subject uuid.UUID) (bool, error) {
	events, err := h.events.ListUserEvents(ctx, requester)
	if err != nil {
		return false, fmt.Errorf("list events: %w", err)
	}
	for _, e := range events {
		decision, err := h.gate.Authorize(ctx, requester, subject, e.ID, database.CapabilityProfileDisplay)
		if err != nil {
			return false, err
		}
		if decision.Allowed {
			return true, nil
		}
	}
	return false, nil
}

// Completion reports which profile fields the caller still has to fill in
func (h *ProfilesHandler) Completion(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	profile, err := h.profiles.GetProfile(r.Context(), userID)
	if err != nil {
		respondStoreError(w, err, "get profile")
		return
	}
	if profile == nil {
		respondError(w, http.StatusNotFound, "profile not found")
		return
	}
	respondJSON(w, http.StatusOK, profileCompletion(profile))
}

// Delete removes the caller's account. Indexed faces are removed from every
// event first, then the profile row takes memberships and consents with it,
// then the stored photo is deleted.
func (h *ProfilesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	profile, err := h.profiles.GetProfile(ctx, userID)
	if err != nil {
		respondStoreError(w, err, "get profile")
		return
	}
	if profile == nil {
		respondError(w, http.StatusNotFound, "profile not found")
		return
	}

	memberships, err := h.memberships.ListUserMemberships(ctx, userID)
	if err != nil {
		respondStoreError(w, err, "list memberships")
		return
	}
	for _, m := range memberships {
		if err := h.faces.Forget(ctx, m.EventID, userID); err != nil {
			respondStoreError(w, err, "remove face")
			return
		}
	}

	deleted, err := h.profiles.DeleteProfile(ctx, userID)
	if err != nil {
		respondStoreError(w, err, "delete profile")
		return
	}
	if !deleted {
		respondError(w, http.StatusNotFound, "profile not found")
		return
	}

	if profile.PhotoPath != "" {
		if err := h.photos.Delete(ctx, profile.PhotoPath); err != nil && !errors.Is(err, photostore.ErrNotFound) {
			log.Printf("Failed to delete photo %s: %v", sanitizeForLog(profile.PhotoPath), err)
		}
	}
	log.Printf("Deleted account %s", userID)
	w.WriteHeader(http.StatusNoContent)
}

// Update creates or replaces the caller's profile and regenerates its summary
func (h *ProfilesHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req updateProfileRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.FullName = strings.TrimSpace(req.FullName)
	if req.FullName == "" {
		respondError(w, http.StatusBadRequest, "full_name is required")
		return
	}
	if req.GraduationYear < 0 || req.GraduationYear > 3000 {
		respondError(w, http.StatusBadRequest, "invalid graduation_year")
		return
	}

	profile := &database.Profile{
		UserID:         userID,
		FullName:       req.FullName,
		Headline:       strings.TrimSpace(req.Headline),
		Bio:            strings.TrimSpace(req.Bio),
		Location:       strings.TrimSpace(req.Location),
		Company:        strings.TrimSpace(req.Company),
		Major:          strings.TrimSpace(req.Major),
		GraduationYear: req.GraduationYear,
		LinkedInURL:    strings.TrimSpace(req.LinkedInURL),
	}
	if err := h.profiles.UpsertProfile(r.Context(), profile); err != nil {
		respondStoreError(w, err, "save profile")
		return
	}

	h.refreshSummary(r, profile)

	updated, err := h.profiles.GetProfile(r.Context(), userID)
	if err != nil || updated == nil {
		updated = profile
	}
	respondJSON(w, http.StatusOK, toProfileResponse(updated))
}

// refreshSummary regenerates the profile summary. Failures leave the old
// summary in place.
func (h *ProfilesHandler) refreshSummary(r *http.Request, profile *database.Profile) {
	if h.summaries == nil {
		return
	}
	res, err := h.summaries.Generate(r.Context(), profile)
	if err != nil {
		log.Printf("Failed to generate summary for user %s: %v", profile.UserID, err)
		return
	}
	if err := h.profiles.SetSummary(r.Context(), profile.UserID, res.OneLiner, res.Summary, res.Provider, time.Now().UTC()); err != nil {
		log.Printf("Failed to save summary for user %s: %v", profile.UserID, err)
	}
}

// UploadPhoto replaces the caller's profile photo. The image is normalized to
// JPEG before it is stored.
func (h *ProfilesHandler) UploadPhoto(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxImageBytes+1<<20)
	if err := r.ParseMultipartForm(h.maxImageBytes); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}
	data, err := readUpload(r, "photo", h.maxImageBytes)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	profile, err := h.profiles.GetProfile(r.Context(), userID)
	if err != nil {
		respondStoreError(w, err, "get profile")
		return
	}
	if profile == nil {
		respondError(w, http.StatusNotFound, "create a profile before uploading a photo")
		return
	}

	jpeg, err := imaging.NormalizeJPEG(data, h.photoMaxSize, imaging.DefaultQuality)
	if err != nil {
		if errors.Is(err, imaging.ErrTooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, err.Error())
			return
		}
		respondError(w, http.StatusBadRequest, "unsupported image")
		return
	}

	key := photostore.ProfileKey(userID)
	if err := h.photos.Put(r.Context(), key, jpeg, "image/jpeg"); err != nil {
		log.Printf("Failed to store photo for user %s: %v", userID, err)
		respondError(w, http.StatusInternalServerError, "failed to store photo")
		return
	}
	if err := h.profiles.SetPhotoPath(r.Context(), userID, key); err != nil {
		respondStoreError(w, err, "save photo")
		return
	}
	if old := profile.PhotoPath; old != "" && old != key {
		if err := h.photos.Delete(r.Context(), old); err != nil && !errors.Is(err, photostore.ErrNotFound) {
			log.Printf("Failed to delete old photo %s: %v", sanitizeForLog(old), err)
		}
	}

	profile.PhotoPath = key
	respondJSON(w, http.StatusOK, toProfileResponse(profile))
}
