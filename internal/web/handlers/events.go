package handlers

import (
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/kozaktomas/memento/internal/consent"
	"github.com/kozaktomas/memento/internal/database"
	"github.com/kozaktomas/memento/internal/summary"
)

// EventsHandler handles event endpoints
type EventsHandler struct {
	events      database.EventWriter
	memberships database.MembershipReader
	consents    database.ConsentReader
	profiles    database.ProfileReader
	gate        *consent.Gate
}

// NewEventsHandler creates a new events handler
func NewEventsHandler(
	events database.EventWriter,
	memberships database.MembershipReader,
	consents database.ConsentReader,
	profiles database.ProfileReader,
	gate *consent.Gate,
) *EventsHandler {
	return &EventsHandler{
		events:      events,
		memberships: memberships,
		consents:    consents,
		profiles:    profiles,
		gate:        gate,
	}
}

type eventRequest struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Location    string     `json:"location"`
	StartsAt    time.Time  `json:"starts_at"`
	EndsAt      *time.Time `json:"ends_at"`
}

type eventPatchRequest struct {
	Name        *string    `json:"name"`
	Description *string    `json:"description"`
	Location    *string    `json:"location"`
	StartsAt    *time.Time `json:"starts_at"`
	EndsAt      *time.Time `json:"ends_at"`
}

type directoryEntry struct {
	UserID          string   `json:"user_id"`
	DisplayName     string   `json:"display_name"`
	Headline        string   `json:"headline"`
	OneLiner        string   `json:"one_liner"`
	Company         string   `json:"company"`
	Location        string   `json:"location"`
	HasPhoto        bool     `json:"has_photo"`
	SharedInterests []string `json:"shared_interests"`
}

// List returns the active events the caller belongs to
func (h *EventsHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	events, err := h.events.ListUserEvents(r.Context(), userID)
	if err != nil {
		respondStoreError(w, err, "list events")
		return
	}
	result := make([]eventResponse, 0, len(events))
	for i := range events {
		result = append(result, toEventResponse(&events[i]))
	}
	respondJSON(w, http.StatusOK, result)
}

// Create creates an event; the caller becomes its organizer
func (h *EventsHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req eventRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.StartsAt.IsZero() {
		respondError(w, http.StatusBadRequest, "starts_at is required")
		return
	}

	event := &database.Event{
		Name:        req.Name,
		Description: strings.TrimSpace(req.Description),
		Location:    strings.TrimSpace(req.Location),
		StartsAt:    req.StartsAt.UTC(),
		EndsAt:      utcPtr(req.EndsAt),
		CreatedBy:   userID,
	}
	if !event.ValidWindow() {
		respondError(w, http.StatusBadRequest, database.ErrInvalidWindow.Error())
		return
	}
	if err := h.events.CreateEvent(r.Context(), event); err != nil {
		respondStoreError(w, err, "create event")
		return
	}
	log.Printf("Event %s created by %s", event.ID, userID)
	respondJSON(w, http.StatusCreated, toEventResponse(event))
}

// Get returns an event. Deactivated events are only visible to their creator.
func (h *EventsHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	eventID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	event, err := h.events.GetEvent(r.Context(), eventID)
	if err != nil {
		respondStoreError(w, err, "get event")
		return
	}
	if event == nil || (!event.IsActive && event.CreatedBy != userID) {
		respondError(w, http.StatusNotFound, "event not found")
		return
	}
	respondJSON(w, http.StatusOK, toEventResponse(event))
}

// Update changes the event metadata. Only the creator may update an event.
func (h *EventsHandler) Update(w http.ResponseWriter, r *http.Request) {
	event, ok := h.ownedEvent(w, r)
	if !ok {
		return
	}

	var req eventPatchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			respondError(w, http.StatusBadRequest, "name must not be empty")
			return
		}
		event.Name = name
	}
	if req.Description != nil {
		event.Description = strings.TrimSpace(*req.Description)
	}
	if req.Location != nil {
		event.Location = strings.TrimSpace(*req.Location)
	}
	if req.StartsAt != nil {
		event.StartsAt = req.StartsAt.UTC()
	}
	if req.EndsAt != nil {
		event.EndsAt = utcPtr(req.EndsAt)
	}
	if !event.ValidWindow() {
		respondError(w, http.StatusBadRequest, database.ErrInvalidWindow.Error())
		return
	}

	if err := h.events.UpdateEvent(r.Context(), event); err != nil {
		respondStoreError(w, err, "update event")
		return
	}
	respondJSON(w, http.StatusOK, toEventResponse(event))
}

// Deactivate soft-deletes an event. Its face collection is removed by the
// next cleanup sweep.
func (h *EventsHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	event, ok := h.ownedEvent(w, r)
	if !ok {
		return
	}
	if err := h.events.DeactivateEvent(r.Context(), event.ID); err != nil {
		respondStoreError(w, err, "deactivate event")
		return
	}
	log.Printf("Event %s deactivated", event.ID)
	w.WriteHeader(http.StatusNoContent)
}

// ownedEvent loads the event in the URL and checks the caller created it.
func (h *EventsHandler) ownedEvent(w http.ResponseWriter, r *http.Request) (*database.Event, bool) {
	userID, ok := currentUser(w, r)
	if !ok {
		return nil, false
	}
	eventID, ok := uuidParam(w, r, "id")
	if !ok {
		return nil, false
	}

	event, err := h.events.GetEvent(r.Context(), eventID)
	if err != nil {
		respondStoreError(w, err, "get event")
		return nil, false
	}
	if event == nil {
		respondError(w, http.StatusNotFound, "event not found")
		return nil, false
	}
	if event.CreatedBy != userID {
		respondError(w, http.StatusForbidden, "only the event creator may modify this event")
		return nil, false
	}
	return event, true
}

// Directory lists the members of an event who let the caller see their
// profile. Members who have not opted in are absent.
func (h *EventsHandler) Directory(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	eventID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	ctx := r.Context()

	membership, err := h.memberships.GetMembership(ctx, eventID, userID)
	if err != nil {
		respondStoreError(w, err, "get membership")
		return
	}
	if membership == nil {
		respondError(w, http.StatusForbidden, "not a member of this event")
		return
	}

	subjects, err := h.consents.ListConsentedMembers(ctx, eventID, database.CapabilityProfileDisplay)
	if err != nil {
		respondStoreError(w, err, "list directory")
		return
	}

	var requester *database.Profile
	requesterLoaded := false
	entries := make([]directoryEntry, 0, len(subjects))
	for _, subjectID := range subjects {
		if subjectID == userID {
			continue
		}
		decision, err := h.gate.Authorize(ctx, userID, subjectID, eventID, database.CapabilityProfileDisplay)
		if err != nil {
			respondStoreError(w, err, "authorize directory entry")
			return
		}
		if !decision.Allowed {
			continue
		}
		profile, err := h.profiles.GetProfile(ctx, subjectID)
		if err != nil {
			respondStoreError(w, err, "get profile")
			return
		}
		if profile == nil {
			continue
		}
		if !requesterLoaded {
			if requester, err = h.profiles.GetProfile(ctx, userID); err != nil {
				respondStoreError(w, err, "get profile")
				return
			}
			requesterLoaded = true
		}
		entries = append(entries, directoryEntry{
			UserID:          subjectID.String(),
			DisplayName:     profile.DisplayName(),
			Headline:        profile.Headline,
			OneLiner:        profile.OneLiner,
			Company:         profile.Company,
			Location:        profile.Location,
			HasPhoto:        profile.HasPhoto(),
			SharedInterests: nonNil(summary.SharedInterests(requester, profile)),
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"event_id": eventID.String(),
		"members":  entries,
	})
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
