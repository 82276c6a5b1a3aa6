package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kozaktomas/memento/internal/consent"
	"github.com/kozaktomas/memento/internal/database"
	"github.com/kozaktomas/memento/internal/database/mock"
	"github.com/kozaktomas/memento/internal/facedir"
	"github.com/kozaktomas/memento/internal/matcher"
	matchermock "github.com/kozaktomas/memento/internal/matcher/mock"
	"github.com/kozaktomas/memento/internal/photostore"
)

type memPhotos struct {
	mu     sync.Mutex
	photos map[string][]byte
}

func (p *memPhotos) Get(ctx context.Context, key string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	data, ok := p.photos[key]
	if !ok {
		return nil, photostore.ErrNotFound
	}
	return data, nil
}

var testNow = time.Date(2026, 6, 1, 18, 0, 0, 0, time.UTC)

type fixture struct {
	store   *mock.Store
	matcher *matchermock.Matcher
	photos  *memPhotos
	dir     *facedir.Directory
}

func newFixture() *fixture {
	f := &fixture{
		store:   mock.NewStore(),
		matcher: matchermock.NewMatcher(),
		photos:  &memPhotos{photos: map[string][]byte{}},
	}
	f.dir = facedir.New(consent.NewGate(f.store), f.store, f.photos, f.store, f.matcher,
		facedir.Options{MaxRetries: 1, Backoff: time.Millisecond})
	return f
}

func (f *fixture) controller(opts Options) *Controller {
	c := NewController(f.store, f.store, f.dir, f.matcher, opts)
	c.now = func() time.Time { return testNow }
	return c
}

// event adds an active pending event starting in startsIn.
func (f *fixture) event(startsIn time.Duration) uuid.UUID {
	id := uuid.New()
	f.store.AddEvent(database.Event{ID: id, Name: "Meetup", IsActive: true, StartsAt: testNow.Add(startsIn)})
	return id
}

// member adds a member with a profile photo and recognition consent.
func (f *fixture) member(eventID uuid.UUID, recognition bool) uuid.UUID {
	user := uuid.New()
	key := photostore.ProfileKey(user)
	f.store.AddProfile(database.Profile{UserID: user, FullName: "Member", PhotoPath: key})
	f.photos.mu.Lock()
	f.photos.photos[key] = []byte("photo-" + user.String())
	f.photos.mu.Unlock()
	f.store.AddMembership(eventID, user, database.RoleAttendee)
	f.store.SetConsent(database.Consent{EventID: eventID, UserID: user, AllowRecognition: recognition})
	return user
}

func TestSweep_IndexesConsentingMembers(t *testing.T) {
	f := newFixture()
	event := f.event(10 * time.Minute)
	a := f.member(event, true)
	b := f.member(event, true)
	f.member(event, false)

	var progress []ProgressInfo
	var mu sync.Mutex
	c := f.controller(Options{Lookahead: 20 * time.Minute, OnProgress: func(p ProgressInfo) {
		mu.Lock()
		progress = append(progress, p)
		mu.Unlock()
	}})

	res, err := c.Sweep(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Events) != 1 {
		t.Fatalf("expected one indexed event, got %+v", res.Events)
	}
	er := res.Events[0]
	if er.Status != database.StatusCompleted || er.Enrolled != 2 || er.Total != 2 {
		t.Errorf("unexpected result %+v", er)
	}
	if got := f.store.Event(event).IndexingStatus; got != database.StatusCompleted {
		t.Errorf("status = %s, want completed", got)
	}
	if !f.matcher.HasCollection(event) {
		t.Error("collection was not created")
	}
	for _, u := range []uuid.UUID{a, b} {
		if entry, _ := f.store.GetUserFace(context.Background(), event, u); entry == nil {
			t.Errorf("user %s not enrolled", u)
		}
	}
	if len(progress) != 2 {
		t.Errorf("expected 2 progress callbacks, got %d", len(progress))
	}
}

func TestSweep_SkipsEventsOutsideWindow(t *testing.T) {
	f := newFixture()
	later := f.event(3 * time.Hour)
	f.member(later, true)

	res, err := f.controller(Options{Lookahead: 20 * time.Minute}).Sweep(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Candidates != 0 || len(res.Events) != 0 {
		t.Errorf("expected no candidates, got %+v", res)
	}
	if got := f.store.Event(later).IndexingStatus; got != database.StatusPending {
		t.Errorf("status = %s, want pending", got)
	}
}

func TestSweep_PerUserIsolation(t *testing.T) {
	f := newFixture()
	event := f.event(time.Minute)
	good := f.member(event, true)
	bad := f.member(event, true)
	noPhoto := uuid.New()
	f.store.AddProfile(database.Profile{UserID: noPhoto, FullName: "No Photo"})
	f.store.AddMembership(event, noPhoto, database.RoleAttendee)
	f.store.SetConsent(database.Consent{EventID: event, UserID: noPhoto, AllowRecognition: true})
	f.matcher.IndexErrors[bad] = matcher.ErrNoFace

	res, err := f.controller(Options{}).Sweep(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	er := res.Events[0]
	if er.Status != database.StatusCompleted {
		t.Errorf("status = %s, want completed", er.Status)
	}
	if er.Enrolled != 1 || er.Failed != 1 || er.Skipped != 1 {
		t.Errorf("unexpected counts %+v", er)
	}
	if entry, _ := f.store.GetUserFace(context.Background(), event, good); entry == nil {
		t.Error("good user should still be enrolled")
	}
}

func TestSweep_PerEventIsolation(t *testing.T) {
	f := newFixture()
	broken := f.event(time.Minute)
	healthy := f.event(2 * time.Minute)
	f.member(broken, true)
	f.member(healthy, true)
	f.matcher.CreateCollectionErrors[broken] = errors.New("access denied")

	res, err := f.controller(Options{EventConcurrency: 2}).Sweep(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Events) != 2 {
		t.Fatalf("expected 2 events, got %+v", res.Events)
	}
	if got := f.store.Event(broken).IndexingStatus; got != database.StatusFailed {
		t.Errorf("broken event status = %s, want failed", got)
	}
	if got := f.store.Event(healthy).IndexingStatus; got != database.StatusCompleted {
		t.Errorf("healthy event status = %s, want completed", got)
	}
}

func TestSweep_MatcherDownFailsEvent(t *testing.T) {
	f := newFixture()
	event := f.event(time.Minute)
	f.member(event, true)
	f.member(event, true)
	f.matcher.IndexFailures = 100

	res, err := f.controller(Options{}).Sweep(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if er := res.Events[0]; er.Status != database.StatusFailed || !matcher.IsTransient(er.Err) {
		t.Errorf("expected transient failure, got %+v", er)
	}
	if got := f.store.Event(event).IndexingStatus; got != database.StatusFailed {
		t.Errorf("status = %s, want failed", got)
	}
}

func TestSweep_EmptyEventCompletes(t *testing.T) {
	f := newFixture()
	event := f.event(time.Minute)

	if _, err := f.controller(Options{}).Sweep(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := f.store.Event(event).IndexingStatus; got != database.StatusCompleted {
		t.Errorf("status = %s, want completed", got)
	}
}

func TestSweep_ConcurrentWorkersClaimOnce(t *testing.T) {
	f := newFixture()
	event := f.event(time.Minute)
	for range 5 {
		f.member(event, true)
	}

	// Two independent workers, as two processes would be.
	workers := []*Controller{f.controller(Options{}), f.controller(Options{})}
	results := make([]*SweepResult, len(workers))
	var wg sync.WaitGroup
	for i, c := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := c.Sweep(context.Background())
			if err != nil {
				t.Errorf("worker %d: %v", i, err)
				return
			}
			results[i] = res
		}()
	}
	wg.Wait()

	indexed := 0
	for _, r := range results {
		if r != nil {
			indexed += len(r.Events)
		}
	}
	if indexed != 1 {
		t.Errorf("event indexed %d times, want exactly once", indexed)
	}
	if f.matcher.IndexCalls != 5 {
		t.Errorf("expected 5 index calls, got %d", f.matcher.IndexCalls)
	}
}

type blockingEnroller struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingEnroller) Enroll(ctx context.Context, eventID, userID uuid.UUID, image []byte) (*database.FaceDirectoryEntry, error) {
	b.started <- struct{}{}
	<-b.release
	return &database.FaceDirectoryEntry{EventID: eventID, UserID: userID}, nil
}

func (b *blockingEnroller) ForgetEvent(ctx context.Context, eventID uuid.UUID) (int64, error) {
	return 0, nil
}

func TestSweep_OverlappingSweepIsSkipped(t *testing.T) {
	f := newFixture()
	event := f.event(time.Minute)
	f.member(event, true)

	enroller := &blockingEnroller{started: make(chan struct{}, 1), release: make(chan struct{})}
	c := NewController(f.store, f.store, enroller, f.matcher, Options{})
	c.now = func() time.Time { return testNow }

	done := make(chan error, 1)
	go func() {
		_, err := c.Sweep(context.Background())
		done <- err
	}()
	<-enroller.started

	if _, err := c.Sweep(context.Background()); !errors.Is(err, ErrSweepInProgress) {
		t.Errorf("expected ErrSweepInProgress, got %v", err)
	}
	close(enroller.release)
	if err := <-done; err != nil {
		t.Errorf("first sweep: %v", err)
	}

	// A finished sweep releases the guard.
	if _, err := c.Sweep(context.Background()); err != nil {
		t.Errorf("third sweep: %v", err)
	}
}

func TestSweep_ListError(t *testing.T) {
	f := newFixture()
	f.store.ListCandidatesError = errors.New("connection refused")
	if _, err := f.controller(Options{}).Sweep(context.Background()); err == nil {
		t.Error("expected error")
	}
}

func TestIndexEvent(t *testing.T) {
	f := newFixture()
	event := f.event(48 * time.Hour)
	f.member(event, true)
	c := f.controller(Options{})

	res, err := c.IndexEvent(context.Background(), event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != database.StatusCompleted || res.Enrolled != 1 {
		t.Errorf("unexpected result %+v", res)
	}

	if _, err := c.IndexEvent(context.Background(), event); !errors.Is(err, ErrNotClaimed) {
		t.Errorf("expected ErrNotClaimed on second run, got %v", err)
	}
}

func TestCleanupSweep(t *testing.T) {
	f := newFixture()
	event := f.event(-48 * time.Hour)
	user := f.member(event, true)
	c := f.controller(Options{CleanupGrace: 24 * time.Hour})
	ctx := context.Background()

	if _, err := c.IndexEvent(ctx, event); err != nil {
		t.Fatalf("index: %v", err)
	}
	ended := testNow.Add(-25 * time.Hour)
	e := f.store.Event(event)
	e.EndsAt = &ended
	f.store.AddEvent(e)

	res, err := c.CleanupSweep(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Cleaned != 1 || res.FacesRemoved != 1 {
		t.Errorf("unexpected result %+v", res)
	}
	if f.matcher.HasCollection(event) {
		t.Error("collection should be deleted")
	}
	if entry, _ := f.store.GetUserFace(ctx, event, user); entry != nil {
		t.Error("face directory entry should be deleted")
	}
	if cons, _ := f.store.GetConsent(ctx, event, user); cons == nil || !cons.AllowRecognition {
		t.Error("consent must survive cleanup")
	}
	if got := f.store.Event(event).CleanupStatus; got != database.StatusCompleted {
		t.Errorf("cleanup status = %s, want completed", got)
	}
}

func TestCleanupSweep_WithinGraceIsKept(t *testing.T) {
	f := newFixture()
	ended := testNow.Add(-time.Hour)
	event := uuid.New()
	f.store.AddEvent(database.Event{
		ID: event, IsActive: true, StartsAt: testNow.Add(-3 * time.Hour), EndsAt: &ended,
		IndexingStatus: database.StatusCompleted,
	})

	res, err := f.controller(Options{CleanupGrace: 24 * time.Hour}).CleanupSweep(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Candidates != 0 {
		t.Errorf("expected no candidates, got %+v", res)
	}
}

func TestCleanupSweep_FailureIsRecorded(t *testing.T) {
	f := newFixture()
	event := uuid.New()
	f.store.AddEvent(database.Event{ID: event, IsActive: false, IndexingStatus: database.StatusCompleted})
	f.matcher.DeleteCollectionError = errors.New("throttled")

	res, err := f.controller(Options{}).CleanupSweep(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Failed != 1 {
		t.Errorf("expected one failure, got %+v", res)
	}
	if got := f.store.Event(event).CleanupStatus; got != database.StatusFailed {
		t.Errorf("cleanup status = %s, want failed", got)
	}
}

// cancellingEnroller cancels the sweep context after its n-th enrollment.
type cancellingEnroller struct {
	Enroller
	mu     sync.Mutex
	calls  int
	after  int
	cancel context.CancelFunc
}

func (e *cancellingEnroller) Enroll(ctx context.Context, eventID, userID uuid.UUID, image []byte) (*database.FaceDirectoryEntry, error) {
	entry, err := e.Enroller.Enroll(ctx, eventID, userID, image)
	e.mu.Lock()
	e.calls++
	if e.calls == e.after {
		e.cancel()
	}
	e.mu.Unlock()
	return entry, err
}

func TestIndexEvent_Cancellation(t *testing.T) {
	tests := []struct {
		name        string
		cancelAfter int
		wantStatus  database.Status
	}{
		{"cancelled after the last member", 2, database.StatusCompleted},
		{"cancelled with a member left", 1, database.StatusFailed},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture()
			event := f.event(5 * time.Minute)
			f.member(event, true)
			f.member(event, true)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			enroller := &cancellingEnroller{Enroller: f.dir, after: tc.cancelAfter, cancel: cancel}
			c := NewController(f.store, f.store, enroller, f.matcher, Options{Concurrency: 1})
			c.now = func() time.Time { return testNow }

			res, err := c.IndexEvent(ctx, event)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.Status != tc.wantStatus {
				t.Errorf("status = %s, want %s (result %+v)", res.Status, tc.wantStatus, res)
			}
			if got := f.store.Event(event).IndexingStatus; got != tc.wantStatus {
				t.Errorf("stored status = %s, want %s", got, tc.wantStatus)
			}
		})
	}
}
