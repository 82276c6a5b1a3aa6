package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/google/uuid"
	"github.com/kozaktomas/memento/internal/database"
	"github.com/kozaktomas/memento/internal/facedir"
	"github.com/kozaktomas/memento/internal/matcher"
)

// FaceEnroller indexes and removes a member's face in an event collection.
type FaceEnroller interface {
	FaceForgetter
	Enroll(ctx context.Context, eventID, userID uuid.UUID, image []byte) (*database.FaceDirectoryEntry, error)
}

// CollectionCreator makes sure an event's face collection exists.
type CollectionCreator interface {
	CreateCollection(ctx context.Context, eventID uuid.UUID) error
}

// FacesHandler lets members enroll their own face after the event was indexed
type FacesHandler struct {
	faces       FaceEnroller
	collections CollectionCreator
}

// NewFacesHandler creates a new faces handler
func NewFacesHandler(faces FaceEnroller, collections CollectionCreator) *FacesHandler {
	return &FacesHandler{faces: faces, collections: collections}
}

type faceResponse struct {
	EventID   string `json:"event_id"`
	UserID    string `json:"user_id"`
	IndexedAt string `json:"indexed_at"`
}

// EnrollMe indexes the caller's stored profile photo into the event
// collection. The caller must consent to recognition in that event.
func (h *FacesHandler) EnrollMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	eventID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	if err := h.collections.CreateCollection(r.Context(), eventID); err != nil {
		respondEnrollError(w, err, eventID, userID)
		return
	}
	entry, err := h.faces.Enroll(r.Context(), eventID, userID, nil)
	if err != nil {
		respondEnrollError(w, err, eventID, userID)
		return
	}
	respondJSON(w, http.StatusCreated, faceResponse{
		EventID:   entry.EventID.String(),
		UserID:    entry.UserID.String(),
		IndexedAt: formatTime(entry.IndexedAt),
	})
}

// DeleteMe removes the caller's face from the event collection
func (h *FacesHandler) DeleteMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	eventID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	if err := h.faces.Forget(r.Context(), eventID, userID); err != nil {
		respondEnrollError(w, err, eventID, userID)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func respondEnrollError(w http.ResponseWriter, err error, eventID, userID uuid.UUID) {
	switch {
	case errors.Is(err, facedir.ErrNotConsented):
		respondError(w, http.StatusForbidden, "recognition consent is required to enroll")
	case errors.Is(err, facedir.ErrNoProfilePhoto):
		respondError(w, http.StatusBadRequest, "upload a profile photo first")
	case errors.Is(err, matcher.ErrNoFace):
		respondError(w, http.StatusUnprocessableEntity, "no face detected in profile photo")
	case errors.Is(err, matcher.ErrInvalidImage):
		respondError(w, http.StatusUnprocessableEntity, "profile photo could not be processed")
	case matcher.IsTransient(err):
		log.Printf("Enrollment of user %s in event %s unavailable: %v", userID, eventID, err)
		respondUnavailable(w)
	default:
		respondStoreError(w, err, "enroll face")
	}
}
