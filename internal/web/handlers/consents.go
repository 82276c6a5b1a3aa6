package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/kozaktomas/memento/internal/consent"
	"github.com/kozaktomas/memento/internal/database"
)

// ConsentsHandler lets members manage their own per-event consent. There is
// no endpoint that writes another user's consent.
type ConsentsHandler struct {
	consents    database.ConsentReader
	memberships database.MembershipReader
	recorder    *consent.Recorder
}

// NewConsentsHandler creates a new consents handler
func NewConsentsHandler(consents database.ConsentReader, memberships database.MembershipReader, recorder *consent.Recorder) *ConsentsHandler {
	return &ConsentsHandler{consents: consents, memberships: memberships, recorder: recorder}
}

// List returns the caller's consent rows across events
func (h *ConsentsHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	consents, err := h.consents.ListUserConsents(r.Context(), userID)
	if err != nil {
		respondStoreError(w, err, "list consents")
		return
	}
	result := make([]consentResponse, 0, len(consents))
	for i := range consents {
		result = append(result, toConsentResponse(&consents[i]))
	}
	respondJSON(w, http.StatusOK, result)
}

// Get returns the caller's consent for an event. A member without a consent
// row gets the opted-out default.
func (h *ConsentsHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	eventID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	membership, err := h.memberships.GetMembership(r.Context(), eventID, userID)
	if err != nil {
		respondStoreError(w, err, "get membership")
		return
	}
	if membership == nil {
		respondError(w, http.StatusNotFound, "not a member of this event")
		return
	}

	c, err := h.consents.GetConsent(r.Context(), eventID, userID)
	if err != nil {
		respondStoreError(w, err, "get consent")
		return
	}
	if c == nil {
		c = &database.Consent{EventID: eventID, UserID: userID}
	}
	respondJSON(w, http.StatusOK, toConsentResponse(c))
}

// Update changes one or both consent flags
func (h *ConsentsHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	eventID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	var req consent.Update
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Empty() {
		respondError(w, http.StatusBadRequest, "nothing to update")
		return
	}

	c, err := h.recorder.Update(r.Context(), userID, eventID, req)
	if err != nil {
		respondStoreError(w, err, "update consent")
		return
	}
	respondJSON(w, http.StatusOK, toConsentResponse(c))
}

// GrantAll turns on every capability for the event
func (h *ConsentsHandler) GrantAll(w http.ResponseWriter, r *http.Request) {
	h.setAll(w, r, h.recorder.GrantAll)
}

// RevokeAll turns off every capability for the event
func (h *ConsentsHandler) RevokeAll(w http.ResponseWriter, r *http.Request) {
	h.setAll(w, r, h.recorder.RevokeAll)
}

func (h *ConsentsHandler) setAll(w http.ResponseWriter, r *http.Request, apply func(ctx context.Context, actor, eventID uuid.UUID) (*database.Consent, error)) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	eventID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	c, err := apply(r.Context(), userID, eventID)
	if err != nil {
		respondStoreError(w, err, "update consent")
		return
	}
	respondJSON(w, http.StatusOK, toConsentResponse(c))
}
