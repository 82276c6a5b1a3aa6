package mock

import (
	"context"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kozaktomas/memento/internal/database"
)

// FaceVectorStore is an in-memory implementation of database.FaceVectorStore
type FaceVectorStore struct {
	mu          sync.RWMutex
	collections map[string]map[uuid.UUID]*database.StoredFaceVector

	// Error injection
	SaveVectorError  error
	ListVectorsError error
	FindSimilarError error
}

// NewFaceVectorStore creates an empty vector store
func NewFaceVectorStore() *FaceVectorStore {
	return &FaceVectorStore{
		collections: make(map[string]map[uuid.UUID]*database.StoredFaceVector),
	}
}

// CreateCollection registers a collection
func (m *FaceVectorStore) CreateCollection(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[name]; ok {
		return database.ErrConflict
	}
	m.collections[name] = make(map[uuid.UUID]*database.StoredFaceVector)
	return nil
}

// DeleteCollection drops a collection
func (m *FaceVectorStore) DeleteCollection(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[name]; !ok {
		return database.ErrNotFound
	}
	delete(m.collections, name)
	return nil
}

// HasCollection reports whether a collection exists
func (m *FaceVectorStore) HasCollection(ctx context.Context, name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.collections[name]
	return ok, nil
}

// SaveVector stores a vector in an existing collection
func (m *FaceVectorStore) SaveVector(ctx context.Context, v *database.StoredFaceVector) error {
	if m.SaveVectorError != nil {
		return m.SaveVectorError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[v.Collection]
	if !ok {
		return database.ErrNotFound
	}
	if v.FaceID == uuid.Nil {
		v.FaceID = uuid.New()
	}
	v.CreatedAt = time.Now()
	cp := *v
	c[v.FaceID] = &cp
	return nil
}

// DeleteVectors removes vectors from a collection
func (m *FaceVectorStore) DeleteVectors(ctx context.Context, collection string, faceIDs []uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[collection]
	if !ok {
		return 0, nil
	}
	var n int64
	for _, id := range faceIDs {
		if _, ok := c[id]; ok {
			delete(c, id)
			n++
		}
	}
	return n, nil
}

// ListVectors returns every vector in a collection
func (m *FaceVectorStore) ListVectors(ctx context.Context, collection string) ([]database.StoredFaceVector, error) {
	if m.ListVectorsError != nil {
		return nil, m.ListVectorsError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []database.StoredFaceVector
	for _, v := range m.collections[collection] {
		out = append(out, *v)
	}
	slices.SortFunc(out, func(a, b database.StoredFaceVector) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, nil
}

// FindSimilar does a brute-force cosine search
func (m *FaceVectorStore) FindSimilar(
	ctx context.Context, collection string, embedding []float32, limit int, maxDistance float64,
) ([]database.StoredFaceVector, []float64, error) {
	if m.FindSimilarError != nil {
		return nil, nil, m.FindSimilarError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	type scored struct {
		v    database.StoredFaceVector
		dist float64
	}
	var all []scored
	for _, v := range m.collections[collection] {
		d := cosineDistance(embedding, v.Embedding)
		if d <= maxDistance {
			all = append(all, scored{*v, d})
		}
	}
	slices.SortFunc(all, func(a, b scored) int {
		switch {
		case a.dist < b.dist:
			return -1
		case a.dist > b.dist:
			return 1
		}
		return 0
	})
	if len(all) > limit {
		all = all[:limit]
	}

	vectors := make([]database.StoredFaceVector, len(all))
	distances := make([]float64, len(all))
	for i, s := range all {
		vectors[i] = s.v
		distances[i] = s.dist
	}
	return vectors, distances, nil
}

func cosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 2
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 2
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

var _ database.FaceVectorStore = (*FaceVectorStore)(nil)
