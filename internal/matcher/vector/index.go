package vector

import (
	"slices"
	"sync"
	"time"

	"github.com/coder/hnsw"
	"github.com/google/uuid"
	"github.com/kozaktomas/memento/internal/database"
)

// hnswMaxNeighbors is the M parameter of the graph.
const hnswMaxNeighbors = 16

// index is an in-memory HNSW graph over one collection.
type index struct {
	mu       sync.RWMutex
	graph    *hnsw.Graph[string]
	live     map[string]struct{} // deleted faces stay in the graph but drop out of live
	loadedAt time.Time
}

func newGraph() *hnsw.Graph[string] {
	g := hnsw.NewGraph[string]()
	g.M = hnswMaxNeighbors
	g.Ml = 1.0 / float64(hnswMaxNeighbors)
	g.Distance = hnsw.CosineDistance
	return g
}

func buildIndex(vectors []database.StoredFaceVector, now time.Time) *index {
	idx := &index{
		graph:    newGraph(),
		live:     make(map[string]struct{}, len(vectors)),
		loadedAt: now,
	}
	for _, v := range vectors {
		idx.addLocked(v.FaceID, v.Embedding)
	}
	return idx
}

func (i *index) addLocked(id uuid.UUID, embedding []float32) {
	if len(embedding) == 0 {
		return
	}
	key := id.String()
	i.graph.Add(hnsw.MakeNode(key, embedding))
	i.live[key] = struct{}{}
}

func (i *index) add(id uuid.UUID, embedding []float32) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.addLocked(id, embedding)
}

func (i *index) remove(ids []string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	for _, id := range ids {
		delete(i.live, id)
	}
}

func (i *index) len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.live)
}

type hit struct {
	faceID     string
	similarity float64
}

// search returns up to k live faces with similarity >= threshold, best first.
func (i *index) search(query []float32, k int, threshold float64) []hit {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if len(i.live) == 0 {
		return nil
	}

	// Deleted nodes still occupy graph slots, so ask for extra neighbours.
	want := min(k+i.graph.Len()-len(i.live), i.graph.Len())
	neighbors := i.graph.Search(query, want)

	hits := make([]hit, 0, len(neighbors))
	for _, n := range neighbors {
		if _, ok := i.live[n.Key]; !ok {
			continue
		}
		sim := 1 - float64(hnsw.CosineDistance(query, n.Value))
		if sim >= threshold {
			hits = append(hits, hit{faceID: n.Key, similarity: sim})
		}
	}
	slices.SortStableFunc(hits, func(a, b hit) int {
		switch {
		case a.similarity > b.similarity:
			return -1
		case a.similarity < b.similarity:
			return 1
		}
		return 0
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}
