package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kozaktomas/memento/internal/matcher"
	"github.com/kozaktomas/memento/internal/recognition"
)

// Recognizer runs a recognition request on behalf of requester.
type Recognizer interface {
	Recognize(ctx context.Context, requester, eventID uuid.UUID, image []byte) ([]recognition.Match, error)
}

// RecognitionHandler handles probe image uploads
type RecognitionHandler struct {
	recognizer    Recognizer
	maxImageBytes int64
}

// NewRecognitionHandler creates a new recognition handler
func NewRecognitionHandler(recognizer Recognizer, maxImageBytes int64) *RecognitionHandler {
	return &RecognitionHandler{recognizer: recognizer, maxImageBytes: maxImageBytes}
}

type recognizeRequest struct {
	EventID     string `json:"event_id"`
	ImageBase64 string `json:"image_base64"`
}

type recognizeResponse struct {
	EventID          string              `json:"event_id"`
	Matches          []recognition.Match `json:"matches"`
	ProcessingTimeMs int64               `json:"processing_time_ms"`
}

// Recognize identifies consenting attendees in a probe image. The body is
// either JSON with a base64 image or a multipart form with an "image" file.
// The requester is always the authenticated user.
func (h *RecognitionHandler) Recognize(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	// base64 inflates the payload by a third, plus room for the form envelope
	r.Body = http.MaxBytesReader(w, r.Body, h.maxImageBytes*4/3+1<<20)

	rawEventID, image, err := h.readProbe(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, "image too large")
			return
		}
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	eventID, err := uuid.Parse(rawEventID)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid event_id")
		return
	}
	if int64(len(image)) > h.maxImageBytes {
		respondError(w, http.StatusRequestEntityTooLarge, "image too large")
		return
	}

	matches, err := h.recognizer.Recognize(r.Context(), userID, eventID, image)
	if err != nil {
		switch {
		case errors.Is(err, recognition.ErrForbidden):
			respondError(w, http.StatusForbidden, "not a member of this event")
		case errors.Is(err, recognition.ErrEmptyImage), errors.Is(err, matcher.ErrInvalidImage):
			respondError(w, http.StatusBadRequest, "invalid image")
		case matcher.IsTransient(err):
			log.Printf("Recognition in event %s unavailable: %v", eventID, err)
			respondUnavailable(w)
		default:
			log.Printf("Recognition in event %s failed: %v", eventID, err)
			respondError(w, http.StatusInternalServerError, "recognition failed")
		}
		return
	}

	respondJSON(w, http.StatusOK, recognizeResponse{
		EventID:          eventID.String(),
		Matches:          matches,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
	})
}

// readProbe extracts the event ID and the decoded image from the request.
func (h *RecognitionHandler) readProbe(r *http.Request) (string, []byte, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(h.maxImageBytes); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return "", nil, err
			}
			return "", nil, errors.New("failed to parse multipart form")
		}
		image, err := readUpload(r, "image", h.maxImageBytes)
		if err != nil {
			return "", nil, err
		}
		return r.FormValue("event_id"), image, nil
	}

	var req recognizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return "", nil, err
		}
		return "", nil, errors.New(errInvalidRequestBody)
	}
	if req.ImageBase64 == "" {
		return "", nil, errors.New("image_base64 is required")
	}
	image, err := decodeImage(req.ImageBase64)
	if err != nil {
		return "", nil, err
	}
	return req.EventID, image, nil
}
