package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kozaktomas/memento/internal/consent"
	"github.com/kozaktomas/memento/internal/database"
	"github.com/kozaktomas/memento/internal/database/mock"
	"github.com/kozaktomas/memento/internal/facedir"
	matchermock "github.com/kozaktomas/memento/internal/matcher/mock"
	"github.com/kozaktomas/memento/internal/photostore"
	"github.com/kozaktomas/memento/internal/web/middleware"
)

// fixture wires the handlers' collaborators to in-memory fakes
type fixture struct {
	store   *mock.Store
	matcher *matchermock.Matcher
	photos  *memPhotos
	gate    *consent.Gate
	dir     *facedir.Directory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := mock.NewStore()
	m := matchermock.NewMatcher()
	photos := newMemPhotos()
	gate := consent.NewGate(store)
	return &fixture{
		store:   store,
		matcher: m,
		photos:  photos,
		gate:    gate,
		dir:     facedir.New(gate, store, photos, store, m, facedir.Options{Backoff: time.Millisecond}),
	}
}

// activeEvent stores an active event created by organizer
func (f *fixture) activeEvent(organizer uuid.UUID) uuid.UUID {
	id := uuid.New()
	f.store.AddEvent(database.Event{
		ID:        id,
		Name:      "Alumni Mixer",
		StartsAt:  time.Now().Add(time.Hour),
		CreatedBy: organizer,
		IsActive:  true,
	})
	f.store.AddMembership(id, organizer, database.RoleOrganizer)
	return id
}

func (f *fixture) consent(eventID, userID uuid.UUID, recognition, display bool) {
	now := time.Now()
	f.store.SetConsent(database.Consent{
		EventID:             eventID,
		UserID:              userID,
		AllowRecognition:    recognition,
		AllowProfileDisplay: display,
		ConsentedAt:         &now,
		UpdatedAt:           now,
	})
}

// memPhotos is an in-memory photostore.Store
type memPhotos struct {
	objects map[string][]byte
	deleted []string
}

func newMemPhotos() *memPhotos {
	return &memPhotos{objects: make(map[string][]byte)}
}

func (m *memPhotos) Put(ctx context.Context, key string, data []byte, contentType string) error {
	m.objects[key] = data
	return nil
}

func (m *memPhotos) Get(ctx context.Context, key string) ([]byte, error) {
	data, ok := m.objects[key]
	if !ok {
		return nil, photostore.ErrNotFound
	}
	return data, nil
}

func (m *memPhotos) Delete(ctx context.Context, key string) error {
	delete(m.objects, key)
	m.deleted = append(m.deleted, key)
	return nil
}

// requestAs creates a request authenticated as user
func requestAs(user uuid.UUID, method, path string, body any) *http.Request {
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		data, _ := json.Marshal(b)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req.WithContext(middleware.SetUserInContext(req.Context(), user))
}

// multipartRequestAs creates an authenticated multipart request with one file
// field and optional plain fields
func multipartRequestAs(t *testing.T, user uuid.UUID, method, path, field string, data []byte, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("failed to write field: %v", err)
		}
	}
	fw, err := mw.CreateFormFile(field, "upload.jpg")
	if err != nil {
		t.Fatalf("failed to create form file: %v", err)
	}
	fw.Write(data)
	mw.Close()

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req.WithContext(middleware.SetUserInContext(req.Context(), user))
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// withEventID sets the {id} URL parameter
func withEventID(r *http.Request, eventID uuid.UUID) *http.Request {
	return requestWithChiParams(r, map[string]string{"id": eventID.String()})
}

// parseJSONResponse parses a JSON response body into the target type
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertContentType checks if the response has the expected content type
func assertContentType(t *testing.T, recorder *httptest.ResponseRecorder, expected string) {
	t.Helper()
	ct := recorder.Header().Get("Content-Type")
	if ct != expected {
		t.Errorf("expected Content-Type '%s', got '%s'", expected, ct)
	}
}

// assertJSONError checks if the response is a JSON error with the expected message
func assertJSONError(t *testing.T, recorder *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var result map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse error response: %v\nBody: %s", err, recorder.Body.String())
	}
	if result["error"] != expectedMessage {
		t.Errorf("expected error '%s', got '%s'", expectedMessage, result["error"])
	}
}
