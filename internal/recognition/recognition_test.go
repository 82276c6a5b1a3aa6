package recognition

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kozaktomas/memento/internal/consent"
	"github.com/kozaktomas/memento/internal/database"
	"github.com/kozaktomas/memento/internal/database/mock"
	"github.com/kozaktomas/memento/internal/facedir"
	"github.com/kozaktomas/memento/internal/matcher"
	matchermock "github.com/kozaktomas/memento/internal/matcher/mock"
)

var probe = []byte("probe-frame")

type fixture struct {
	store     *mock.Store
	matcher   *matchermock.Matcher
	pipeline  *Pipeline
	event     uuid.UUID
	requester uuid.UUID
	faceSeq   int
}

func newFixture(t *testing.T, topN int) *fixture {
	t.Helper()
	f := &fixture{
		store:     mock.NewStore(),
		matcher:   matchermock.NewMatcher(),
		event:     uuid.New(),
		requester: uuid.New(),
	}
	f.store.AddEvent(database.Event{ID: f.event, Name: "Demo day", IsActive: true})
	f.store.AddProfile(database.Profile{UserID: f.requester, FullName: "Requester", Company: "Acme", Location: "Prague"})
	f.store.AddMembership(f.event, f.requester, database.RoleAttendee)

	gate := consent.NewGate(f.store)
	dir := facedir.New(gate, f.store, nil, f.store, f.matcher, facedir.Options{})
	f.pipeline = New(gate, f.store, f.store, dir, f.matcher, Options{TopN: topN})
	return f
}

// subject adds an enrolled member. consent nil means no consent row at all.
func (f *fixture) subject(name string, c *database.Consent) (uuid.UUID, string) {
	user := uuid.New()
	f.store.AddProfile(database.Profile{
		UserID:   user,
		FullName: name,
		Headline: name + " headline",
		Bio:      name + " bio",
		Company:  "acme",
		Location: "Brno",
	})
	f.store.AddMembership(f.event, user, database.RoleAttendee)
	if c != nil {
		c.EventID, c.UserID = f.event, user
		f.store.SetConsent(*c)
	}
	f.faceSeq++
	faceID := fmt.Sprintf("face-%d", f.faceSeq)
	f.store.AddFace(database.FaceDirectoryEntry{EventID: f.event, ExternalFaceID: faceID, UserID: user})
	return user, faceID
}

func (f *fixture) script(candidates ...matcher.Candidate) {
	f.matcher.SearchResults[f.event] = candidates
}

func both() *database.Consent {
	return &database.Consent{AllowRecognition: true, AllowProfileDisplay: true}
}

func recognitionOnly() *database.Consent {
	return &database.Consent{AllowRecognition: true}
}

func userIDs(matches []Match) []uuid.UUID {
	ids := make([]uuid.UUID, len(matches))
	for i, m := range matches {
		ids[i] = m.UserID
	}
	return ids
}

func TestRecognize_DeniedTopMatchIsAbsent(t *testing.T) {
	f := newFixture(t, 5)
	denied, deniedFace := f.subject("Denied", &database.Consent{AllowProfileDisplay: true})
	second, secondFace := f.subject("Second", both())
	third, thirdFace := f.subject("Third", recognitionOnly())
	f.script(
		matcher.Candidate{ExternalFaceID: deniedFace, Similarity: 0.95},
		matcher.Candidate{ExternalFaceID: secondFace, Similarity: 0.80},
		matcher.Candidate{ExternalFaceID: thirdFace, Similarity: 0.60},
	)

	got, err := f.pipeline.Recognize(context.Background(), f.requester, f.event, probe)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []uuid.UUID{second, third}
	if !reflect.DeepEqual(userIDs(got), want) {
		t.Fatalf("got %v, want %v (denied %s)", userIDs(got), want, denied)
	}
	if got[0].Similarity != 0.80 || got[1].Similarity != 0.60 {
		t.Errorf("similarities = %f, %f", got[0].Similarity, got[1].Similarity)
	}
}

func TestRecognize_ProfileDisplayIsIndependent(t *testing.T) {
	f := newFixture(t, 5)
	f.store.SetConsent(database.Consent{EventID: f.event, UserID: f.requester, AllowRecognition: true, AllowProfileDisplay: true})
	b, bFace := f.subject("B", recognitionOnly())
	f.script(matcher.Candidate{ExternalFaceID: bFace, Similarity: 0.97})

	got, err := f.pipeline.Recognize(context.Background(), f.requester, f.event, probe)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected B only, got %+v", got)
	}
	m := got[0]
	if m.UserID != b || m.Similarity != 0.97 {
		t.Errorf("unexpected match %+v", m)
	}
	if m.DisplayName != "B" || m.Headline != "B headline" {
		t.Errorf("name and headline should be shown, got %q / %q", m.DisplayName, m.Headline)
	}
	if m.Profile != nil {
		t.Errorf("extended profile must be withheld without profile_display, got %+v", m.Profile)
	}
}

func TestRecognize_ProfileDisplayAllowed(t *testing.T) {
	f := newFixture(t, 5)
	_, face := f.subject("A", both())
	f.script(matcher.Candidate{ExternalFaceID: face, Similarity: 0.9})

	got, err := f.pipeline.Recognize(context.Background(), f.requester, f.event, probe)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].Profile == nil {
		t.Fatalf("expected extended profile, got %+v", got)
	}
	if got[0].Profile.Bio != "A bio" {
		t.Errorf("bio = %q", got[0].Profile.Bio)
	}
	if want := []string{"company: acme"}; !reflect.DeepEqual(got[0].Profile.SharedInterests, want) {
		t.Errorf("shared interests = %v, want %v", got[0].Profile.SharedInterests, want)
	}
}

func TestRecognize_NoConsentRowIsAbsent(t *testing.T) {
	f := newFixture(t, 5)
	_, cFace := f.subject("C", nil)
	f.script(matcher.Candidate{ExternalFaceID: cFace, Similarity: 0.99})

	got, err := f.pipeline.Recognize(context.Background(), f.requester, f.event, probe)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("expected an empty, non-nil result, got %#v", got)
	}
}

func TestRecognize_Idempotent(t *testing.T) {
	f := newFixture(t, 5)
	_, f1 := f.subject("One", both())
	_, f2 := f.subject("Two", nil)
	_, f3 := f.subject("Three", recognitionOnly())
	f.script(
		matcher.Candidate{ExternalFaceID: f1, Similarity: 0.9},
		matcher.Candidate{ExternalFaceID: f2, Similarity: 0.85},
		matcher.Candidate{ExternalFaceID: f3, Similarity: 0.82},
	)

	ctx := context.Background()
	first, err := f.pipeline.Recognize(ctx, f.requester, f.event, probe)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := f.pipeline.Recognize(ctx, f.requester, f.event, probe)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("results differ:\n%+v\n%+v", first, second)
	}
}

func TestRecognize_RevocationAfterEnrollment(t *testing.T) {
	f := newFixture(t, 5)
	user, face := f.subject("Revoker", both())
	f.script(matcher.Candidate{ExternalFaceID: face, Similarity: 0.9})
	ctx := context.Background()

	got, err := f.pipeline.Recognize(ctx, f.requester, f.event, probe)
	if err != nil || len(got) != 1 {
		t.Fatalf("expected a match before revocation, got %+v, %v", got, err)
	}

	now := time.Now()
	f.store.SetConsent(database.Consent{EventID: f.event, UserID: user, RevokedAt: &now})

	got, err = f.pipeline.Recognize(ctx, f.requester, f.event, probe)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("revoked subject still recognized: %+v", got)
	}
}

func TestRecognize_RequesterNotMember(t *testing.T) {
	f := newFixture(t, 5)
	_, err := f.pipeline.Recognize(context.Background(), uuid.New(), f.event, probe)
	if !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
	if f.matcher.SearchCalls != 0 {
		t.Error("matcher must not be called for non-members")
	}
}

func TestRecognize_EmptyImage(t *testing.T) {
	f := newFixture(t, 5)
	if _, err := f.pipeline.Recognize(context.Background(), f.requester, f.event, nil); !errors.Is(err, ErrEmptyImage) {
		t.Errorf("expected ErrEmptyImage, got %v", err)
	}
}

func TestRecognize_NoMatchOutcomes(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"no face in frame", matcher.ErrNoFace},
		{"event not indexed", matcher.ErrCollectionNotFound},
		{"no candidates", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 5)
			f.matcher.SearchError = tt.err
			f.script()

			got, err := f.pipeline.Recognize(context.Background(), f.requester, f.event, probe)
			if err != nil {
				t.Fatalf("expected empty success, got %v", err)
			}
			if got == nil || len(got) != 0 {
				t.Errorf("expected empty result, got %#v", got)
			}
		})
	}
}

func TestRecognize_MatcherUnavailableIsTransient(t *testing.T) {
	f := newFixture(t, 5)
	f.matcher.SearchError = fmt.Errorf("%w: throttled", matcher.ErrUnavailable)

	_, err := f.pipeline.Recognize(context.Background(), f.requester, f.event, probe)
	if !matcher.IsTransient(err) {
		t.Errorf("expected transient error, got %v", err)
	}
}

func TestRecognize_MatcherTimeout(t *testing.T) {
	f := newFixture(t, 5)
	f.matcher.SearchDelay = time.Second
	gate := consent.NewGate(f.store)
	dir := facedir.New(gate, f.store, nil, f.store, f.matcher, facedir.Options{})
	p := New(gate, f.store, f.store, dir, matcher.WithTimeout(f.matcher, 10*time.Millisecond), Options{})

	_, err := p.Recognize(context.Background(), f.requester, f.event, probe)
	if !matcher.IsTransient(err) {
		t.Errorf("expected transient timeout, got %v", err)
	}
}

func TestRecognize_SkipsOrphanedFaces(t *testing.T) {
	f := newFixture(t, 5)
	user, face := f.subject("Known", both())
	f.script(
		matcher.Candidate{ExternalFaceID: "face-orphan", Similarity: 0.99},
		matcher.Candidate{ExternalFaceID: face, Similarity: 0.9},
	)

	got, err := f.pipeline.Recognize(context.Background(), f.requester, f.event, probe)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(userIDs(got), []uuid.UUID{user}) {
		t.Errorf("got %v, want [%s]", userIDs(got), user)
	}
}

func TestRecognize_SubjectLeftEvent(t *testing.T) {
	f := newFixture(t, 5)
	outsider := uuid.New()
	f.store.AddProfile(database.Profile{UserID: outsider, FullName: "Outsider"})
	f.store.AddFace(database.FaceDirectoryEntry{EventID: f.event, ExternalFaceID: "face-stale", UserID: outsider})
	f.script(matcher.Candidate{ExternalFaceID: "face-stale", Similarity: 0.99})

	got, err := f.pipeline.Recognize(context.Background(), f.requester, f.event, probe)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("non-member subject leaked: %+v", got)
	}
}

func TestRecognize_TopNAppliedAfterFiltering(t *testing.T) {
	f := newFixture(t, 2)
	_, d1 := f.subject("Denied1", nil)
	_, d2 := f.subject("Denied2", nil)
	a, af := f.subject("A", recognitionOnly())
	b, bf := f.subject("B", recognitionOnly())
	_, cf := f.subject("C", recognitionOnly())
	f.script(
		matcher.Candidate{ExternalFaceID: d1, Similarity: 0.99},
		matcher.Candidate{ExternalFaceID: d2, Similarity: 0.98},
		matcher.Candidate{ExternalFaceID: af, Similarity: 0.97},
		matcher.Candidate{ExternalFaceID: bf, Similarity: 0.96},
		matcher.Candidate{ExternalFaceID: cf, Similarity: 0.95},
	)

	got, err := f.pipeline.Recognize(context.Background(), f.requester, f.event, probe)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(userIDs(got), []uuid.UUID{a, b}) {
		t.Errorf("got %v, want [%s %s]", userIDs(got), a, b)
	}
}

func TestRecognize_OrdersBySimilarityAndDedupes(t *testing.T) {
	f := newFixture(t, 5)
	a, af := f.subject("A", recognitionOnly())
	b, bf := f.subject("B", recognitionOnly())
	f.store.AddFace(database.FaceDirectoryEntry{EventID: f.event, ExternalFaceID: "face-a2", UserID: a})
	f.script(
		matcher.Candidate{ExternalFaceID: bf, Similarity: 0.85},
		matcher.Candidate{ExternalFaceID: "face-a2", Similarity: 0.81},
		matcher.Candidate{ExternalFaceID: af, Similarity: 0.93},
	)

	got, err := f.pipeline.Recognize(context.Background(), f.requester, f.event, probe)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(userIDs(got), []uuid.UUID{a, b}) {
		t.Fatalf("got %v, want [%s %s]", userIDs(got), a, b)
	}
	if got[0].Similarity != 0.93 {
		t.Errorf("expected the best similarity for A, got %f", got[0].Similarity)
	}
}

func TestRecognize_StoreErrorFailsRequest(t *testing.T) {
	f := newFixture(t, 5)
	_, face := f.subject("A", both())
	f.script(matcher.Candidate{ExternalFaceID: face, Similarity: 0.9})
	f.store.GetConsentError = errors.New("connection reset")

	if _, err := f.pipeline.Recognize(context.Background(), f.requester, f.event, probe); err == nil {
		t.Error("expected error")
	}
}

// failingResolver fails lookups of one face and delegates the rest.
type failingResolver struct {
	Resolver
	face string
}

func (r failingResolver) Resolve(ctx context.Context, externalFaceID string, eventID uuid.UUID) (uuid.UUID, bool, error) {
	if externalFaceID == r.face {
		return uuid.Nil, false, errors.New("connection reset")
	}
	return r.Resolver.Resolve(ctx, externalFaceID, eventID)
}

func TestRecognize_ResolveErrorSkipsCandidate(t *testing.T) {
	f := newFixture(t, 5)
	_, brokenFace := f.subject("Broken", both())
	next, nextFace := f.subject("Next", recognitionOnly())
	f.script(
		matcher.Candidate{ExternalFaceID: brokenFace, Similarity: 0.95},
		matcher.Candidate{ExternalFaceID: nextFace, Similarity: 0.80},
	)
	gate := consent.NewGate(f.store)
	dir := facedir.New(gate, f.store, nil, f.store, f.matcher, facedir.Options{})
	pipeline := New(gate, f.store, f.store, failingResolver{Resolver: dir, face: brokenFace}, f.matcher, Options{TopN: 5})

	got, err := pipeline.Recognize(context.Background(), f.requester, f.event, probe)
	if err != nil {
		t.Fatalf("a failed lookup must not fail the request: %v", err)
	}
	if !reflect.DeepEqual(userIDs(got), []uuid.UUID{next}) {
		t.Errorf("got %v, want [%s]", userIDs(got), next)
	}
}
