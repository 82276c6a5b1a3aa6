// Package mock provides an in-memory face matcher for testing.
package mock

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kozaktomas/memento/internal/matcher"
)

type face struct {
	id    string
	user  uuid.UUID
	image []byte
}

// Matcher is an in-memory matcher. Indexed faces are matched by exact image
// bytes, and SearchResults lets tests script the candidates of a search.
type Matcher struct {
	mu          sync.Mutex
	collections map[uuid.UUID][]face
	seq         int

	// SearchResults overrides search output per event
	SearchResults map[uuid.UUID][]matcher.Candidate

	// Error injection
	CreateCollectionError error
	DeleteCollectionError error
	SearchError           error
	// IndexErrors fails IndexFace for specific users
	IndexErrors map[uuid.UUID]error
	// IndexFailures makes the first n IndexFace calls fail with ErrUnavailable
	IndexFailures int
	// CreateCollectionErrors fails CreateCollection for specific events
	CreateCollectionErrors map[uuid.UUID]error

	// SearchDelay makes SearchFaces wait, honouring ctx
	SearchDelay time.Duration

	IndexCalls    int
	SearchCalls   int
	SearchStarted chan struct{}
	SearchDone    chan struct{}
}

// NewMatcher creates an empty matcher
func NewMatcher() *Matcher {
	return &Matcher{
		collections:            make(map[uuid.UUID][]face),
		SearchResults:          make(map[uuid.UUID][]matcher.Candidate),
		IndexErrors:            make(map[uuid.UUID]error),
		CreateCollectionErrors: make(map[uuid.UUID]error),
	}
}

// HasCollection reports whether the event's collection exists
func (m *Matcher) HasCollection(eventID uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.collections[eventID]
	return ok
}

// Faces returns the face IDs indexed for an event
func (m *Matcher) Faces(eventID uuid.UUID) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for _, f := range m.collections[eventID] {
		ids = append(ids, f.id)
	}
	return ids
}

func (m *Matcher) CreateCollection(ctx context.Context, eventID uuid.UUID) error {
	if m.CreateCollectionError != nil {
		return m.CreateCollectionError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.CreateCollectionErrors[eventID]; err != nil {
		return err
	}
	if _, ok := m.collections[eventID]; !ok {
		m.collections[eventID] = nil
	}
	return nil
}

func (m *Matcher) DeleteCollection(ctx context.Context, eventID uuid.UUID) error {
	if m.DeleteCollectionError != nil {
		return m.DeleteCollectionError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[eventID]; !ok {
		return matcher.ErrCollectionNotFound
	}
	delete(m.collections, eventID)
	return nil
}

func (m *Matcher) IndexFace(ctx context.Context, eventID, userID uuid.UUID, image []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.IndexCalls++
	if m.IndexFailures > 0 {
		m.IndexFailures--
		return "", fmt.Errorf("%w: throttled", matcher.ErrUnavailable)
	}
	if err := m.IndexErrors[userID]; err != nil {
		return "", err
	}
	if len(image) == 0 {
		return "", matcher.ErrNoFace
	}
	faces, ok := m.collections[eventID]
	if !ok {
		return "", matcher.ErrCollectionNotFound
	}
	m.seq++
	id := fmt.Sprintf("face-%d", m.seq)
	m.collections[eventID] = append(faces, face{id: id, user: userID, image: slices.Clone(image)})
	return id, nil
}

func (m *Matcher) SearchFaces(ctx context.Context, eventID uuid.UUID, image []byte) ([]matcher.Candidate, error) {
	m.mu.Lock()
	m.SearchCalls++
	started, done, delay := m.SearchStarted, m.SearchDone, m.SearchDelay
	m.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if done != nil {
		defer func() { done <- struct{}{} }()
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.SearchError != nil {
		return nil, m.SearchError
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	faces, ok := m.collections[eventID]
	if scripted, ok := m.SearchResults[eventID]; ok {
		return slices.Clone(scripted), nil
	}
	if !ok {
		return nil, matcher.ErrCollectionNotFound
	}
	var out []matcher.Candidate
	for _, f := range faces {
		if bytes.Equal(f.image, image) {
			out = append(out, matcher.Candidate{ExternalFaceID: f.id, Similarity: 1})
		}
	}
	return out, nil
}

func (m *Matcher) DeleteFaces(ctx context.Context, eventID uuid.UUID, faceIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	faces, ok := m.collections[eventID]
	if !ok {
		return matcher.ErrCollectionNotFound
	}
	m.collections[eventID] = slices.DeleteFunc(faces, func(f face) bool {
		return slices.Contains(faceIDs, f.id)
	})
	return nil
}

var _ matcher.Matcher = (*Matcher)(nil)
