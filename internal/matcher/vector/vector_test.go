package vector

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kozaktomas/memento/internal/database/mock"
	"github.com/kozaktomas/memento/internal/fingerprint"
	"github.com/kozaktomas/memento/internal/matcher"
)

// fakeEmbedder maps image bytes to fixed embeddings
type fakeEmbedder struct {
	embeddings map[string][]float32
	err        error
}

func (f *fakeEmbedder) LargestFace(ctx context.Context, imageData []byte) (fingerprint.FaceDetection, error) {
	if f.err != nil {
		return fingerprint.FaceDetection{}, f.err
	}
	e, ok := f.embeddings[string(imageData)]
	if !ok {
		return fingerprint.FaceDetection{}, fingerprint.ErrNoFace
	}
	return fingerprint.FaceDetection{Embedding: e, DetScore: 0.99}, nil
}

func newTestMatcher(ann bool) (*Matcher, *fakeEmbedder, *mock.FaceVectorStore) {
	emb := &fakeEmbedder{embeddings: map[string][]float32{
		"alice":       {1, 0, 0},
		"alice-probe": {0.98, 0.2, 0},
		"bob":         {0, 1, 0},
		"carol":       {0, 0, 1},
	}}
	store := mock.NewFaceVectorStore()
	m := New(emb, store, Options{CollectionPrefix: "evt_", Threshold: 0.8, MaxFaces: 5, ANN: ann, IndexTTL: time.Minute})
	return m, emb, store
}

func TestMatcher_IndexAndSearch(t *testing.T) {
	for _, ann := range []bool{false, true} {
		t.Run(fmt.Sprintf("ann=%v", ann), func(t *testing.T) {
			m, _, _ := newTestMatcher(ann)
			ctx := context.Background()
			event := uuid.New()

			if err := m.CreateCollection(ctx, event); err != nil {
				t.Fatalf("create: %v", err)
			}
			if err := m.CreateCollection(ctx, event); err != nil {
				t.Fatalf("second create should be a no-op, got %v", err)
			}

			ids := map[string]string{}
			for _, name := range []string{"alice", "bob", "carol"} {
				id, err := m.IndexFace(ctx, event, uuid.New(), []byte(name))
				if err != nil {
					t.Fatalf("index %s: %v", name, err)
				}
				ids[name] = id
			}

			got, err := m.SearchFaces(ctx, event, []byte("alice-probe"))
			if err != nil {
				t.Fatalf("search: %v", err)
			}
			if len(got) != 1 {
				t.Fatalf("expected only alice above threshold, got %+v", got)
			}
			if got[0].ExternalFaceID != ids["alice"] {
				t.Errorf("expected alice's face %s, got %s", ids["alice"], got[0].ExternalFaceID)
			}
			if got[0].Similarity < 0.8 || got[0].Similarity > 1 {
				t.Errorf("similarity out of range: %f", got[0].Similarity)
			}
		})
	}
}

func TestMatcher_SearchMissingCollection(t *testing.T) {
	m, _, _ := newTestMatcher(false)
	_, err := m.SearchFaces(context.Background(), uuid.New(), []byte("alice"))
	if !errors.Is(err, matcher.ErrCollectionNotFound) {
		t.Errorf("expected ErrCollectionNotFound, got %v", err)
	}
}

func TestMatcher_NoFaceInProbe(t *testing.T) {
	m, _, _ := newTestMatcher(false)
	ctx := context.Background()
	event := uuid.New()
	if err := m.CreateCollection(ctx, event); err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err := m.SearchFaces(ctx, event, []byte("landscape"))
	if !errors.Is(err, matcher.ErrNoFace) {
		t.Errorf("expected ErrNoFace, got %v", err)
	}
}

func TestMatcher_EmbeddingServerDownIsTransient(t *testing.T) {
	m, emb, _ := newTestMatcher(false)
	ctx := context.Background()
	event := uuid.New()
	if err := m.CreateCollection(ctx, event); err != nil {
		t.Fatalf("create: %v", err)
	}
	emb.err = fmt.Errorf("%w: connection refused", fingerprint.ErrServerUnavailable)

	_, err := m.IndexFace(ctx, event, uuid.New(), []byte("alice"))
	if !matcher.IsTransient(err) {
		t.Errorf("expected transient error, got %v", err)
	}
}

func TestMatcher_IndexIntoMissingCollection(t *testing.T) {
	m, _, _ := newTestMatcher(false)
	_, err := m.IndexFace(context.Background(), uuid.New(), uuid.New(), []byte("alice"))
	if !errors.Is(err, matcher.ErrCollectionNotFound) {
		t.Errorf("expected ErrCollectionNotFound, got %v", err)
	}
}

func TestMatcher_DeleteFacesHidesThemFromIndex(t *testing.T) {
	m, _, _ := newTestMatcher(true)
	ctx := context.Background()
	event := uuid.New()
	if err := m.CreateCollection(ctx, event); err != nil {
		t.Fatalf("create: %v", err)
	}
	id, err := m.IndexFace(ctx, event, uuid.New(), []byte("alice"))
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	// Load the index so the delete has to update it in place.
	if _, err := m.SearchFaces(ctx, event, []byte("alice")); err != nil {
		t.Fatalf("search: %v", err)
	}

	if err := m.DeleteFaces(ctx, event, []string{id}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, err := m.SearchFaces(ctx, event, []byte("alice"))
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("deleted face still returned: %+v", got)
	}
	if n := m.cachedIndex(m.collection(event)).len(); n != 0 {
		t.Errorf("expected no live faces, got %d", n)
	}
}

func TestMatcher_IndexRebuildsAfterTTL(t *testing.T) {
	m, _, store := newTestMatcher(true)
	ctx := context.Background()
	event := uuid.New()
	if err := m.CreateCollection(ctx, event); err != nil {
		t.Fatalf("create: %v", err)
	}

	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	if got, _ := m.SearchFaces(ctx, event, []byte("bob")); len(got) != 0 {
		t.Fatalf("expected empty collection, got %+v", got)
	}

	// Another process writes a face straight into the store.
	other := New(&fakeEmbedder{embeddings: map[string][]float32{"bob": {0, 1, 0}}}, store,
		Options{CollectionPrefix: "evt_", Threshold: 0.8})
	if _, err := other.IndexFace(ctx, event, uuid.New(), []byte("bob")); err != nil {
		t.Fatalf("index: %v", err)
	}

	if got, _ := m.SearchFaces(ctx, event, []byte("bob")); len(got) != 0 {
		t.Fatalf("cached index should still be used within the TTL, got %+v", got)
	}

	now = now.Add(2 * time.Minute)
	got, err := m.SearchFaces(ctx, event, []byte("bob"))
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("expected rebuilt index to find bob, got %+v", got)
	}
}

func TestMatcher_DeleteCollection(t *testing.T) {
	m, _, _ := newTestMatcher(false)
	ctx := context.Background()
	event := uuid.New()

	if err := m.DeleteCollection(ctx, event); !errors.Is(err, matcher.ErrCollectionNotFound) {
		t.Errorf("expected ErrCollectionNotFound, got %v", err)
	}
	if err := m.CreateCollection(ctx, event); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := m.DeleteCollection(ctx, event); err != nil {
		t.Errorf("delete: %v", err)
	}
}

func TestMatcher_DeleteFacesRejectsBadIDs(t *testing.T) {
	m, _, _ := newTestMatcher(false)
	if err := m.DeleteFaces(context.Background(), uuid.New(), []string{"not-a-uuid"}); err == nil {
		t.Error("expected error for malformed face id")
	}
}
