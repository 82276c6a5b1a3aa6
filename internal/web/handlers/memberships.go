package handlers

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/kozaktomas/memento/internal/database"
)

// FaceForgetter removes a member's indexed face from an event.
type FaceForgetter interface {
	Forget(ctx context.Context, eventID, userID uuid.UUID) error
}

// MembershipsHandler handles event membership endpoints
type MembershipsHandler struct {
	events      database.EventReader
	memberships database.MembershipWriter
	faces       FaceForgetter
}

// NewMembershipsHandler creates a new memberships handler
func NewMembershipsHandler(events database.EventReader, memberships database.MembershipWriter, faces FaceForgetter) *MembershipsHandler {
	return &MembershipsHandler{events: events, memberships: memberships, faces: faces}
}

type joinRequest struct {
	EventID string `json:"event_id"`
}

type addMemberRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// ListMine returns the caller's memberships
func (h *MembershipsHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	memberships, err := h.memberships.ListUserMemberships(r.Context(), userID)
	if err != nil {
		respondStoreError(w, err, "list memberships")
		return
	}
	respondJSON(w, http.StatusOK, toMembershipResponses(memberships))
}

// Join adds the caller to an active event as an attendee with consent off
func (h *MembershipsHandler) Join(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req joinRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	eventID, err := uuid.Parse(req.EventID)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid event_id")
		return
	}

	event, err := h.events.GetEvent(r.Context(), eventID)
	if err != nil {
		respondStoreError(w, err, "get event")
		return
	}
	if event == nil || !event.IsActive {
		respondError(w, http.StatusNotFound, "event not found")
		return
	}

	membership, err := h.memberships.Join(r.Context(), eventID, userID)
	if err != nil {
		respondStoreError(w, err, "join event")
		return
	}
	respondJSON(w, http.StatusCreated, toMembershipResponse(membership))
}

// ListMembers returns the members of an event. The caller must be a member.
func (h *MembershipsHandler) ListMembers(w http.ResponseWriter, r *http.Request) {
	eventID, _, ok := h.requireMember(w, r)
	if !ok {
		return
	}

	members, err := h.memberships.ListMembers(r.Context(), eventID)
	if err != nil {
		respondStoreError(w, err, "list members")
		return
	}
	respondJSON(w, http.StatusOK, toMembershipResponses(members))
}

// AddMember adds another user to the event. Only organizers and admins may.
func (h *MembershipsHandler) AddMember(w http.ResponseWriter, r *http.Request) {
	eventID, caller, ok := h.requireMember(w, r)
	if !ok {
		return
	}
	if !caller.Role.CanManage() {
		respondError(w, http.StatusForbidden, "only organizers may add members")
		return
	}

	var req addMemberRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid user_id")
		return
	}
	role := database.RoleAttendee
	if req.Role != "" {
		role = database.Role(req.Role)
	}
	if !role.Valid() {
		respondError(w, http.StatusBadRequest, "invalid role")
		return
	}

	membership, err := h.memberships.AddMember(r.Context(), eventID, userID, role)
	if err != nil {
		respondStoreError(w, err, "add member")
		return
	}
	log.Printf("User %s added to event %s as %s by %s", userID, eventID, role, caller.UserID)
	respondJSON(w, http.StatusCreated, toMembershipResponse(membership))
}

// Me returns the caller's membership in an event
func (h *MembershipsHandler) Me(w http.ResponseWriter, r *http.Request) {
	_, membership, ok := h.requireMember(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, toMembershipResponse(membership))
}

// CheckIn records that the caller arrived at the event
func (h *MembershipsHandler) CheckIn(w http.ResponseWriter, r *http.Request) {
	eventID, membership, ok := h.requireMember(w, r)
	if !ok {
		return
	}

	now := time.Now().UTC()
	if err := h.memberships.CheckIn(r.Context(), eventID, membership.UserID, now); err != nil {
		respondStoreError(w, err, "check in")
		return
	}
	membership.CheckedInAt = &now
	respondJSON(w, http.StatusOK, toMembershipResponse(membership))
}

// Leave removes the caller from the event together with their consent and
// indexed face.
func (h *MembershipsHandler) Leave(w http.ResponseWriter, r *http.Request) {
	eventID, membership, ok := h.requireMember(w, r)
	if !ok {
		return
	}

	if err := h.faces.Forget(r.Context(), eventID, membership.UserID); err != nil {
		respondStoreError(w, err, "remove face")
		return
	}
	if err := h.memberships.Leave(r.Context(), eventID, membership.UserID); err != nil {
		respondStoreError(w, err, "leave event")
		return
	}
	log.Printf("User %s left event %s", membership.UserID, eventID)
	w.WriteHeader(http.StatusNoContent)
}

// requireMember resolves the event in the URL and the caller's membership in
// it, answering 404 when the caller is not a member.
func (h *MembershipsHandler) requireMember(w http.ResponseWriter, r *http.Request) (uuid.UUID, *database.Membership, bool) {
	userID, ok := currentUser(w, r)
	if !ok {
		return uuid.Nil, nil, false
	}
	eventID, ok := uuidParam(w, r, "id")
	if !ok {
		return uuid.Nil, nil, false
	}

	membership, err := h.memberships.GetMembership(r.Context(), eventID, userID)
	if err != nil {
		respondStoreError(w, err, "get membership")
		return uuid.Nil, nil, false
	}
	if membership == nil {
		respondError(w, http.StatusNotFound, "not a member of this event")
		return uuid.Nil, nil, false
	}
	return eventID, membership, true
}

func toMembershipResponses(memberships []database.Membership) []membershipResponse {
	result := make([]membershipResponse, 0, len(memberships))
	for i := range memberships {
		result = append(result, toMembershipResponse(&memberships[i]))
	}
	return result
}
