// Package vector implements the face matcher on the self-hosted embedding
// server, with embeddings kept in PostgreSQL (pgvector). Searches run either
// as exact pgvector queries or against a cached in-memory HNSW index.
package vector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kozaktomas/memento/internal/database"
	"github.com/kozaktomas/memento/internal/fingerprint"
	"github.com/kozaktomas/memento/internal/matcher"
)

// FaceEmbedder computes the embedding of the most prominent face in an image.
type FaceEmbedder interface {
	LargestFace(ctx context.Context, imageData []byte) (fingerprint.FaceDetection, error)
}

// Options tune the matcher.
type Options struct {
	CollectionPrefix string
	Threshold        float64 // minimum cosine similarity
	MaxFaces         int
	ANN              bool          // search the HNSW index instead of pgvector
	IndexTTL         time.Duration // rebuild cached indexes older than this
}

// Matcher is a pgvector-backed matcher.
type Matcher struct {
	faces FaceEmbedder
	store database.FaceVectorStore
	opts  Options
	now   func() time.Time

	mu      sync.Mutex
	indexes map[string]*index
}

// New creates a matcher
func New(faces FaceEmbedder, store database.FaceVectorStore, opts Options) *Matcher {
	if opts.MaxFaces <= 0 {
		opts.MaxFaces = 10
	}
	if opts.IndexTTL <= 0 {
		opts.IndexTTL = 30 * time.Second
	}
	return &Matcher{
		faces:   faces,
		store:   store,
		opts:    opts,
		now:     time.Now,
		indexes: make(map[string]*index),
	}
}

func (m *Matcher) collection(eventID uuid.UUID) string {
	return matcher.CollectionName(m.opts.CollectionPrefix, eventID)
}

func (m *Matcher) CreateCollection(ctx context.Context, eventID uuid.UUID) error {
	err := m.store.CreateCollection(ctx, m.collection(eventID))
	if err != nil && !errors.Is(err, database.ErrConflict) {
		return fmt.Errorf("create collection: %w", err)
	}
	return nil
}

func (m *Matcher) DeleteCollection(ctx context.Context, eventID uuid.UUID) error {
	name := m.collection(eventID)
	m.dropIndex(name)
	if err := m.store.DeleteCollection(ctx, name); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return matcher.ErrCollectionNotFound
		}
		return fmt.Errorf("delete collection: %w", err)
	}
	return nil
}

func (m *Matcher) IndexFace(ctx context.Context, eventID, userID uuid.UUID, image []byte) (string, error) {
	face, err := m.embed(ctx, image)
	if err != nil {
		return "", fmt.Errorf("index face: %w", err)
	}

	v := &database.StoredFaceVector{
		FaceID:          uuid.New(),
		Collection:      m.collection(eventID),
		ExternalImageID: userID.String(),
		Embedding:       face.Embedding,
		DetScore:        face.DetScore,
	}
	if err := m.store.SaveVector(ctx, v); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return "", matcher.ErrCollectionNotFound
		}
		return "", fmt.Errorf("save face vector: %w", err)
	}

	if idx := m.cachedIndex(v.Collection); idx != nil {
		idx.add(v.FaceID, v.Embedding)
	}
	return v.FaceID.String(), nil
}

func (m *Matcher) SearchFaces(ctx context.Context, eventID uuid.UUID, image []byte) ([]matcher.Candidate, error) {
	name := m.collection(eventID)
	exists, err := m.store.HasCollection(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("%w: check collection: %w", matcher.ErrUnavailable, err)
	}
	if !exists {
		m.dropIndex(name)
		return nil, matcher.ErrCollectionNotFound
	}

	face, err := m.embed(ctx, image)
	if err != nil {
		return nil, fmt.Errorf("search faces: %w", err)
	}

	if m.opts.ANN {
		return m.searchIndex(ctx, name, face.Embedding)
	}
	return m.searchExact(ctx, name, face.Embedding)
}

func (m *Matcher) searchExact(ctx context.Context, collection string, embedding []float32) ([]matcher.Candidate, error) {
	vectors, distances, err := m.store.FindSimilar(ctx, collection, embedding, m.opts.MaxFaces, 1-m.opts.Threshold)
	if err != nil {
		return nil, fmt.Errorf("%w: find similar: %w", matcher.ErrUnavailable, err)
	}
	out := make([]matcher.Candidate, len(vectors))
	for i, v := range vectors {
		out[i] = matcher.Candidate{ExternalFaceID: v.FaceID.String(), Similarity: 1 - distances[i]}
	}
	return out, nil
}

func (m *Matcher) searchIndex(ctx context.Context, collection string, embedding []float32) ([]matcher.Candidate, error) {
	idx, err := m.loadIndex(ctx, collection)
	if err != nil {
		return nil, err
	}
	hits := idx.search(embedding, m.opts.MaxFaces, m.opts.Threshold)
	out := make([]matcher.Candidate, len(hits))
	for i, h := range hits {
		out[i] = matcher.Candidate{ExternalFaceID: h.faceID, Similarity: h.similarity}
	}
	return out, nil
}

func (m *Matcher) DeleteFaces(ctx context.Context, eventID uuid.UUID, faceIDs []string) error {
	if len(faceIDs) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, 0, len(faceIDs))
	for _, s := range faceIDs {
		id, err := uuid.Parse(s)
		if err != nil {
			return fmt.Errorf("invalid face id %q: %w", s, err)
		}
		ids = append(ids, id)
	}

	name := m.collection(eventID)
	if _, err := m.store.DeleteVectors(ctx, name, ids); err != nil {
		return fmt.Errorf("delete face vectors: %w", err)
	}
	if idx := m.cachedIndex(name); idx != nil {
		idx.remove(faceIDs)
	}
	return nil
}

func (m *Matcher) embed(ctx context.Context, image []byte) (fingerprint.FaceDetection, error) {
	face, err := m.faces.LargestFace(ctx, image)
	switch {
	case err == nil:
		return face, nil
	case errors.Is(err, fingerprint.ErrNoFace):
		return face, matcher.ErrNoFace
	case errors.Is(err, fingerprint.ErrRejected):
		return face, fmt.Errorf("%w: %w", matcher.ErrInvalidImage, err)
	case errors.Is(err, context.Canceled):
		return face, err
	}
	return face, fmt.Errorf("%w: %w", matcher.ErrUnavailable, err)
}

// cachedIndex returns the cached index of a collection, nil when none is loaded.
func (m *Matcher) cachedIndex(collection string) *index {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.indexes[collection]
}

func (m *Matcher) dropIndex(collection string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.indexes, collection)
}

// loadIndex returns a fresh index, rebuilding it from the store when it is
// missing or older than IndexTTL. Faces written by other processes show up
// after the next rebuild.
func (m *Matcher) loadIndex(ctx context.Context, collection string) (*index, error) {
	now := m.now()
	if idx := m.cachedIndex(collection); idx != nil && now.Sub(idx.loadedAt) < m.opts.IndexTTL {
		return idx, nil
	}

	vectors, err := m.store.ListVectors(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("%w: load face vectors: %w", matcher.ErrUnavailable, err)
	}
	idx := buildIndex(vectors, now)

	m.mu.Lock()
	m.indexes[collection] = idx
	m.mu.Unlock()
	return idx, nil
}

var _ matcher.Matcher = (*Matcher)(nil)
