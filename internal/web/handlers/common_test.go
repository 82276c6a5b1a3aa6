package handlers

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kozaktomas/memento/internal/database"
	"github.com/kozaktomas/memento/internal/matcher"
)

func TestRespondError_ContainsErrorKey(t *testing.T) {
	recorder := httptest.NewRecorder()

	respondError(recorder, http.StatusBadRequest, "something went wrong")

	assertStatusCode(t, recorder, http.StatusBadRequest)
	assertContentType(t, recorder, "application/json")
	assertJSONError(t, recorder, "something went wrong")
}

func TestRespondJSON_NilData(t *testing.T) {
	recorder := httptest.NewRecorder()

	respondJSON(recorder, http.StatusOK, nil)

	if recorder.Body.Len() != 0 {
		t.Errorf("expected empty body for nil data, got '%s'", recorder.Body.String())
	}
}

func TestRespondStoreError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		retryAfter bool
	}{
		{"not found", fmt.Errorf("update: %w", database.ErrNotFound), http.StatusNotFound, false},
		{"not member", database.ErrNotMember, http.StatusNotFound, false},
		{"conflict", database.ErrConflict, http.StatusConflict, false},
		{"not owner", database.ErrNotOwner, http.StatusForbidden, false},
		{"invalid window", database.ErrInvalidWindow, http.StatusBadRequest, false},
		{"matcher down", fmt.Errorf("index: %w", matcher.ErrUnavailable), http.StatusServiceUnavailable, true},
		{"unknown", errors.New("connection reset"), http.StatusInternalServerError, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			respondStoreError(recorder, tc.err, "do thing")

			assertStatusCode(t, recorder, tc.wantStatus)
			if got := recorder.Header().Get("Retry-After") != ""; got != tc.retryAfter {
				t.Errorf("Retry-After present = %v, want %v", got, tc.retryAfter)
			}
		})
	}
}

func TestDecodeImage(t *testing.T) {
	raw := []byte{0xff, 0xd8, 0xff, 0xe0}
	encoded := base64.StdEncoding.EncodeToString(raw)

	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"plain", encoded, false},
		{"data url", "data:image/jpeg;base64," + encoded, false},
		{"surrounding whitespace", "  " + encoded + "\n", false},
		{"data url without payload separator", "data:image/jpeg;base64", true},
		{"not base64", "%%%", true},
		{"empty", "", true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := decodeImage(tc.input)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(got) != string(raw) {
				t.Errorf("decoded %v, want %v", got, raw)
			}
		})
	}
}

func TestSanitizeForLog(t *testing.T) {
	if got := sanitizeForLog("a\r\nfake entry"); got != "afake entry" {
		t.Errorf("sanitizeForLog() = %q", got)
	}
}

func TestHealthCheck_ReturnsStatusOk(t *testing.T) {
	req := httptest.NewRequest("GET", "/health", nil)
	recorder := httptest.NewRecorder()

	HealthCheck(recorder, req)

	assertStatusCode(t, recorder, http.StatusOK)
	var result map[string]string
	parseJSONResponse(t, recorder, &result)
	if result["status"] != "ok" {
		t.Errorf("expected status 'ok', got '%s'", result["status"])
	}
}

func TestCurrentUser_Missing(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/v1/profiles/me", nil)
	recorder := httptest.NewRecorder()

	if _, ok := currentUser(recorder, req); ok {
		t.Fatal("expected no user")
	}
	assertStatusCode(t, recorder, http.StatusUnauthorized)
}
