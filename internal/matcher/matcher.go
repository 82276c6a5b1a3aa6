// Package matcher defines the external face matcher the recognition core
// consumes. Implementations index faces into one collection per event and
// search those collections by image.
package matcher

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	// ErrUnavailable marks transient failures: timeouts, throttling and
	// service outages. Callers may retry a bounded number of times.
	ErrUnavailable = errors.New("face matcher unavailable")
	// ErrNoFace is returned when the image contains no detectable face.
	ErrNoFace = errors.New("no face detected in image")
	// ErrCollectionNotFound is returned when the event has no collection.
	ErrCollectionNotFound = errors.New("face collection not found")
	// ErrInvalidImage is returned for images the matcher cannot decode or that are too large.
	ErrInvalidImage = errors.New("invalid image")
)

// Candidate is one search hit. Similarity is in [0, 1].
type Candidate struct {
	ExternalFaceID string
	Similarity     float64
}

// Matcher is an external face matcher.
type Matcher interface {
	// CreateCollection creates the event's collection. An existing collection is not an error.
	CreateCollection(ctx context.Context, eventID uuid.UUID) error
	// DeleteCollection drops the event's collection and every face in it.
	DeleteCollection(ctx context.Context, eventID uuid.UUID) error
	// IndexFace indexes the most prominent face of image and returns its external face ID.
	IndexFace(ctx context.Context, eventID, userID uuid.UUID, image []byte) (string, error)
	// SearchFaces returns candidates ordered by descending similarity.
	SearchFaces(ctx context.Context, eventID uuid.UUID, image []byte) ([]Candidate, error)
	// DeleteFaces removes faces from the event's collection.
	DeleteFaces(ctx context.Context, eventID uuid.UUID, faceIDs []string) error
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// CollectionName returns the collection name of an event.
func CollectionName(prefix string, eventID uuid.UUID) string {
	return prefix + eventID.String()
}
