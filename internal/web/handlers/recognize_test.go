package handlers

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/kozaktomas/memento/internal/database"
	"github.com/kozaktomas/memento/internal/matcher"
	"github.com/kozaktomas/memento/internal/recognition"
)

// stubRecognizer returns a canned result and remembers its inputs
type stubRecognizer struct {
	matches   []recognition.Match
	err       error
	requester uuid.UUID
	eventID   uuid.UUID
	image     []byte
}

func (s *stubRecognizer) Recognize(ctx context.Context, requester, eventID uuid.UUID, image []byte) ([]recognition.Match, error) {
	s.requester, s.eventID, s.image = requester, eventID, image
	return s.matches, s.err
}

func TestRecognitionHandler_JSONBody(t *testing.T) {
	stub := &stubRecognizer{matches: []recognition.Match{}}
	h := NewRecognitionHandler(stub, 1<<20)
	user := uuid.New()
	eventID := uuid.New()

	recorder := httptest.NewRecorder()
	h.Recognize(recorder, requestAs(user, "POST", "/api/v1/recognize", map[string]string{
		"event_id":     eventID.String(),
		"image_base64": "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString([]byte("probe")),
		"requester_id": uuid.NewString(),
	}))

	assertStatusCode(t, recorder, http.StatusOK)
	if stub.requester != user {
		t.Errorf("requester must be the authenticated user, got %s", stub.requester)
	}
	if string(stub.image) != "probe" || stub.eventID != eventID {
		t.Errorf("unexpected recognizer input: event %s image %q", stub.eventID, stub.image)
	}
	var resp struct {
		EventID string           `json:"event_id"`
		Matches []map[string]any `json:"matches"`
	}
	parseJSONResponse(t, recorder, &resp)
	if resp.EventID != eventID.String() || resp.Matches == nil {
		t.Errorf("unexpected response %s", recorder.Body.String())
	}
}

func TestRecognitionHandler_Multipart(t *testing.T) {
	stub := &stubRecognizer{matches: []recognition.Match{}}
	eventID := uuid.New()

	recorder := httptest.NewRecorder()
	NewRecognitionHandler(stub, 1<<20).Recognize(recorder, multipartRequestAs(t, uuid.New(), "POST", "/api/v1/recognize", "image", []byte("probe"),
		map[string]string{"event_id": eventID.String()}))

	assertStatusCode(t, recorder, http.StatusOK)
	if string(stub.image) != "probe" || stub.eventID != eventID {
		t.Errorf("unexpected recognizer input: event %s image %q", stub.eventID, stub.image)
	}
}

func TestRecognitionHandler_Errors(t *testing.T) {
	validImage := base64.StdEncoding.EncodeToString([]byte("probe"))

	tests := []struct {
		name       string
		body       any
		err        error
		maxBytes   int64
		wantStatus int
	}{
		{"bad json", "{", nil, 1 << 20, http.StatusBadRequest},
		{"missing image", map[string]string{"event_id": uuid.NewString()}, nil, 1 << 20, http.StatusBadRequest},
		{"bad event id", map[string]string{"event_id": "x", "image_base64": validImage}, nil, 1 << 20, http.StatusBadRequest},
		{"too large", map[string]string{"event_id": uuid.NewString(), "image_base64": validImage}, nil, 2, http.StatusRequestEntityTooLarge},
		{"not a member", nil, recognition.ErrForbidden, 1 << 20, http.StatusForbidden},
		{"invalid image", nil, fmt.Errorf("search: %w", matcher.ErrInvalidImage), 1 << 20, http.StatusBadRequest},
		{"matcher down", nil, fmt.Errorf("search: %w", matcher.ErrUnavailable), 1 << 20, http.StatusServiceUnavailable},
		{"store error", nil, errors.New("connection refused"), 1 << 20, http.StatusInternalServerError},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			body := tc.body
			if body == nil {
				body = map[string]string{"event_id": uuid.NewString(), "image_base64": validImage}
			}
			stub := &stubRecognizer{err: tc.err}

			recorder := httptest.NewRecorder()
			NewRecognitionHandler(stub, tc.maxBytes).Recognize(recorder, requestAs(uuid.New(), "POST", "/api/v1/recognize", body))

			assertStatusCode(t, recorder, tc.wantStatus)
		})
	}
}

func TestRecognitionHandler_EndToEnd_ConsentFiltering(t *testing.T) {
	f := newFixture(t)
	requester := uuid.New()
	eventID := f.activeEvent(uuid.New())

	probe := []byte("same-face")
	consenting := uuid.New()
	revoked := uuid.New()
	for _, u := range []uuid.UUID{requester, consenting, revoked} {
		f.store.AddMembership(eventID, u, database.RoleAttendee)
		f.store.AddProfile(database.Profile{UserID: u, FullName: "User " + u.String()[:4], PhotoPath: u.String() + ".jpg"})
		f.photos.objects[u.String()+".jpg"] = probe
	}
	f.consent(eventID, consenting, true, false)
	f.consent(eventID, revoked, true, true)
	f.matcher.CreateCollection(t.Context(), eventID)
	for _, u := range []uuid.UUID{consenting, revoked} {
		if _, err := f.dir.Enroll(t.Context(), eventID, u, nil); err != nil {
			t.Fatalf("enroll: %v", err)
		}
	}
	// revoke after indexing; the face stays in the collection
	f.consent(eventID, revoked, false, false)

	pipeline := recognition.New(f.gate, f.store, f.store, f.dir, f.matcher, recognition.Options{})
	recorder := httptest.NewRecorder()
	NewRecognitionHandler(pipeline, 1<<20).Recognize(recorder, requestAs(requester, "POST", "/api/v1/recognize", map[string]string{
		"event_id":     eventID.String(),
		"image_base64": base64.StdEncoding.EncodeToString(probe),
	}))

	assertStatusCode(t, recorder, http.StatusOK)
	var resp recognizeResponse
	parseJSONResponse(t, recorder, &resp)
	if len(resp.Matches) != 1 || resp.Matches[0].UserID != consenting {
		t.Fatalf("expected only the consenting attendee, got %+v", resp.Matches)
	}
	if resp.Matches[0].Profile != nil {
		t.Error("profile details must be absent without profile_display consent")
	}
}
