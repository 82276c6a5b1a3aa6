// Package mock provides mock implementations of database interfaces for testing.
package mock

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kozaktomas/memento/internal/database"
)

type memberKey struct {
	event uuid.UUID
	user  uuid.UUID
}

type faceKey struct {
	event  uuid.UUID
	faceID string
}

// Store is an in-memory identity store implementing every identity writer.
// It mirrors the constraints of the PostgreSQL schema: consent and face
// directory rows require a membership and are removed with it.
type Store struct {
	mu          sync.RWMutex
	profiles    map[uuid.UUID]*database.Profile
	events      map[uuid.UUID]*database.Event
	memberships map[memberKey]*database.Membership
	consents    map[memberKey]*database.Consent
	faces       map[faceKey]*database.FaceDirectoryEntry
	joinSeq     int

	// Error injection
	GetMembershipError   error
	GetConsentError      error
	ListConsentedError   error
	GetProfileError      error
	SaveConsentError     error
	ResolveFaceError     error
	SaveFaceError        error
	ClaimIndexingError   error
	FinishIndexingError  error
	ListCandidatesError  error
	DeleteEventFaceError error

	// Calls records method names in call order for assertions.
	Calls []string
}

// NewStore creates an empty in-memory store
func NewStore() *Store {
	return &Store{
		profiles:    make(map[uuid.UUID]*database.Profile),
		events:      make(map[uuid.UUID]*database.Event),
		memberships: make(map[memberKey]*database.Membership),
		consents:    make(map[memberKey]*database.Consent),
		faces:       make(map[faceKey]*database.FaceDirectoryEntry),
	}
}

func (s *Store) record(name string) {
	s.Calls = append(s.Calls, name)
}

// CallCount returns how many times the named method was called
func (s *Store) CallCount(name string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, c := range s.Calls {
		if c == name {
			n++
		}
	}
	return n
}

// AddProfile stores a profile directly, bypassing validation
func (s *Store) AddProfile(p database.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.UserID] = &p
}

// AddEvent stores an event directly, bypassing validation
func (s *Store) AddEvent(e database.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.IndexingStatus == "" {
		e.IndexingStatus = database.StatusPending
	}
	if e.CleanupStatus == "" {
		e.CleanupStatus = database.StatusPending
	}
	s.events[e.ID] = &e
}

// AddMembership stores a membership without creating a consent row, which is
// how a member who never touched their consent settings looks.
func (s *Store) AddMembership(eventID, userID uuid.UUID, role database.Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.joinSeq++
	s.memberships[memberKey{eventID, userID}] = &database.Membership{
		EventID:  eventID,
		UserID:   userID,
		Role:     role,
		JoinedAt: time.Unix(int64(s.joinSeq), 0),
	}
}

// SetConsent stores a consent row directly
func (s *Store) SetConsent(c database.Consent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consents[memberKey{c.EventID, c.UserID}] = &c
}

// AddFace stores a face directory entry directly, even without a membership
func (s *Store) AddFace(e database.FaceDirectoryEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faces[faceKey{e.EventID, e.ExternalFaceID}] = &e
}

// Event returns a copy of the stored event
func (s *Store) Event(id uuid.UUID) database.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.events[id]; ok {
		return *e
	}
	return database.Event{}
}

// --- profiles ---

// GetProfile returns a copy of the profile or nil
func (s *Store) GetProfile(ctx context.Context, userID uuid.UUID) (*database.Profile, error) {
	if s.GetProfileError != nil {
		return nil, s.GetProfileError
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[userID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

// UpsertProfile replaces editable fields, keeping photo and summary
func (s *Store) UpsertProfile(ctx context.Context, p *database.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if existing, ok := s.profiles[p.UserID]; ok {
		p.PhotoPath = existing.PhotoPath
		p.OneLiner = existing.OneLiner
		p.Summary = existing.Summary
		p.SummaryProvider = existing.SummaryProvider
		p.SummaryUpdatedAt = existing.SummaryUpdatedAt
		p.CreatedAt = existing.CreatedAt
	} else {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	cp := *p
	s.profiles[p.UserID] = &cp
	return nil
}

// SetPhotoPath updates the stored photo key
func (s *Store) SetPhotoPath(ctx context.Context, userID uuid.UUID, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		return database.ErrNotFound
	}
	p.PhotoPath = path
	return nil
}

// SetSummary updates the generated summary fields
func (s *Store) SetSummary(ctx context.Context, userID uuid.UUID, oneLiner, summary, provider string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		return database.ErrNotFound
	}
	p.OneLiner = oneLiner
	p.Summary = summary
	p.SummaryProvider = provider
	p.SummaryUpdatedAt = &at
	return nil
}

// DeleteProfile removes the profile with its memberships, consents and faces
// and clears the creator of the events it created
func (s *Store) DeleteProfile(ctx context.Context, userID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("DeleteProfile")
	if _, ok := s.profiles[userID]; !ok {
		return false, nil
	}
	delete(s.profiles, userID)
	for k := range s.memberships {
		if k.user == userID {
			delete(s.memberships, k)
		}
	}
	for k := range s.consents {
		if k.user == userID {
			delete(s.consents, k)
		}
	}
	for k, f := range s.faces {
		if f.UserID == userID {
			delete(s.faces, k)
		}
	}
	for _, e := range s.events {
		if e.CreatedBy == userID {
			e.CreatedBy = uuid.Nil
		}
	}
	return true, nil
}

func (s *Store) ensureProfileLocked(userID uuid.UUID) {
	if _, ok := s.profiles[userID]; !ok {
		now := time.Now()
		s.profiles[userID] = &database.Profile{UserID: userID, CreatedAt: now, UpdatedAt: now}
	}
}

// --- events ---

// GetEvent returns a copy of the event or nil
func (s *Store) GetEvent(ctx context.Context, id uuid.UUID) (*database.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.events[id]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

// ListUserEvents returns active events the user belongs to
func (s *Store) ListUserEvents(ctx context.Context, userID uuid.UUID) ([]database.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []database.Event
	for k := range s.memberships {
		if k.user != userID {
			continue
		}
		if e, ok := s.events[k.event]; ok && e.IsActive {
			out = append(out, *e)
		}
	}
	sortEvents(out)
	return out, nil
}

// ListIndexingCandidates mirrors the PostgreSQL candidate query
func (s *Store) ListIndexingCandidates(ctx context.Context, now time.Time, lookahead time.Duration) ([]database.Event, error) {
	if s.ListCandidatesError != nil {
		return nil, s.ListCandidatesError
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []database.Event
	for _, e := range s.events {
		if !e.IsActive || e.IndexingStatus != database.StatusPending {
			continue
		}
		if e.StartsAt.After(now.Add(lookahead)) {
			continue
		}
		if e.EndsAt != nil && !e.EndsAt.After(now) {
			continue
		}
		out = append(out, *e)
	}
	sortEvents(out)
	return out, nil
}

// ListCleanupCandidates mirrors the PostgreSQL cleanup query
func (s *Store) ListCleanupCandidates(ctx context.Context, now time.Time, grace time.Duration) ([]database.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cutoff := now.Add(-grace)
	var out []database.Event
	for _, e := range s.events {
		if e.CleanupStatus != database.StatusPending {
			continue
		}
		if e.IndexingStatus != database.StatusCompleted && e.IndexingStatus != database.StatusFailed {
			continue
		}
		ended := e.EndsAt != nil && !e.EndsAt.After(cutoff)
		if e.IsActive && !ended {
			continue
		}
		out = append(out, *e)
	}
	sortEvents(out)
	return out, nil
}

func sortEvents(events []database.Event) {
	slices.SortFunc(events, func(a, b database.Event) int {
		return a.StartsAt.Compare(b.StartsAt)
	})
}

// CreateEvent stores the event and makes the creator an organizer
func (s *Store) CreateEvent(ctx context.Context, e *database.Event) error {
	if !e.ValidWindow() {
		return database.ErrInvalidWindow
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	now := time.Now()
	e.IsActive = true
	e.IndexingStatus = database.StatusPending
	e.CleanupStatus = database.StatusPending
	e.CreatedAt = now
	e.UpdatedAt = now
	cp := *e
	s.events[e.ID] = &cp
	s.ensureProfileLocked(e.CreatedBy)
	s.insertMembershipLocked(e.ID, e.CreatedBy, database.RoleOrganizer)
	return nil
}

// UpdateEvent replaces event metadata
func (s *Store) UpdateEvent(ctx context.Context, e *database.Event) error {
	if !e.ValidWindow() {
		return database.ErrInvalidWindow
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.events[e.ID]
	if !ok {
		return database.ErrNotFound
	}
	existing.Name = e.Name
	existing.Description = e.Description
	existing.Location = e.Location
	existing.StartsAt = e.StartsAt
	existing.EndsAt = e.EndsAt
	existing.UpdatedAt = time.Now()
	e.UpdatedAt = existing.UpdatedAt
	return nil
}

// DeactivateEvent soft-deletes an event
func (s *Store) DeactivateEvent(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok {
		return database.ErrNotFound
	}
	e.IsActive = false
	return nil
}

// ClaimIndexing flips pending to in_progress under the store lock
func (s *Store) ClaimIndexing(ctx context.Context, id uuid.UUID) (bool, error) {
	if s.ClaimIndexingError != nil {
		return false, s.ClaimIndexingError
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("ClaimIndexing")
	e, ok := s.events[id]
	if !ok || !e.IsActive || e.IndexingStatus != database.StatusPending {
		return false, nil
	}
	now := time.Now()
	e.IndexingStatus = database.StatusInProgress
	e.IndexingStartedAt = &now
	return true, nil
}

// FinishIndexing records the final indexing status
func (s *Store) FinishIndexing(ctx context.Context, id uuid.UUID, status database.Status) error {
	if s.FinishIndexingError != nil {
		return s.FinishIndexingError
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("FinishIndexing")
	e, ok := s.events[id]
	if !ok || e.IndexingStatus != database.StatusInProgress {
		return database.ErrNotFound
	}
	e.IndexingStatus = status
	if status == database.StatusCompleted {
		now := time.Now()
		e.IndexedAt = &now
	}
	return nil
}

// RequeueIndexing resets failed or in-progress events to pending
func (s *Store) RequeueIndexing(ctx context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok || (e.IndexingStatus != database.StatusFailed && e.IndexingStatus != database.StatusInProgress) {
		return false, nil
	}
	e.IndexingStatus = database.StatusPending
	e.IndexingStartedAt = nil
	return true, nil
}

// ClaimCleanup flips cleanup pending to in_progress
func (s *Store) ClaimCleanup(ctx context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok || e.CleanupStatus != database.StatusPending {
		return false, nil
	}
	e.CleanupStatus = database.StatusInProgress
	return true, nil
}

// FinishCleanup records the final cleanup status
func (s *Store) FinishCleanup(ctx context.Context, id uuid.UUID, status database.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok || e.CleanupStatus != database.StatusInProgress {
		return database.ErrNotFound
	}
	e.CleanupStatus = status
	if status == database.StatusCompleted {
		now := time.Now()
		e.CleanedAt = &now
	}
	return nil
}

// --- memberships ---

func (s *Store) insertMembershipLocked(eventID, userID uuid.UUID, role database.Role) *database.Membership {
	s.joinSeq++
	m := &database.Membership{
		EventID:  eventID,
		UserID:   userID,
		Role:     role,
		JoinedAt: time.Unix(int64(s.joinSeq), 0),
	}
	key := memberKey{eventID, userID}
	s.memberships[key] = m
	if _, ok := s.consents[key]; !ok {
		s.consents[key] = &database.Consent{EventID: eventID, UserID: userID, UpdatedAt: time.Now()}
	}
	cp := *m
	return &cp
}

// GetMembership returns the membership or nil
func (s *Store) GetMembership(ctx context.Context, eventID, userID uuid.UUID) (*database.Membership, error) {
	if s.GetMembershipError != nil {
		return nil, s.GetMembershipError
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("GetMembership")
	m, ok := s.memberships[memberKey{eventID, userID}]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

// ListMembers returns event members in join order
func (s *Store) ListMembers(ctx context.Context, eventID uuid.UUID) ([]database.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []database.Membership
	for k, m := range s.memberships {
		if k.event == eventID {
			out = append(out, *m)
		}
	}
	slices.SortFunc(out, func(a, b database.Membership) int { return a.JoinedAt.Compare(b.JoinedAt) })
	return out, nil
}

// ListUserMemberships returns the user's memberships, newest first
func (s *Store) ListUserMemberships(ctx context.Context, userID uuid.UUID) ([]database.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []database.Membership
	for k, m := range s.memberships {
		if k.user == userID {
			out = append(out, *m)
		}
	}
	slices.SortFunc(out, func(a, b database.Membership) int { return b.JoinedAt.Compare(a.JoinedAt) })
	return out, nil
}

// Join adds an attendee with an opted-out consent row
func (s *Store) Join(ctx context.Context, eventID, userID uuid.UUID) (*database.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[eventID]; !ok {
		return nil, database.ErrNotFound
	}
	if _, ok := s.memberships[memberKey{eventID, userID}]; ok {
		return nil, database.ErrConflict
	}
	s.ensureProfileLocked(userID)
	return s.insertMembershipLocked(eventID, userID, database.RoleAttendee), nil
}

// AddMember adds an existing user with a role
func (s *Store) AddMember(ctx context.Context, eventID, userID uuid.UUID, role database.Role) (*database.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[eventID]; !ok {
		return nil, database.ErrNotFound
	}
	if _, ok := s.profiles[userID]; !ok {
		return nil, database.ErrNotFound
	}
	if _, ok := s.memberships[memberKey{eventID, userID}]; ok {
		return nil, database.ErrConflict
	}
	return s.insertMembershipLocked(eventID, userID, role), nil
}

// CheckIn sets the check-in time
func (s *Store) CheckIn(ctx context.Context, eventID, userID uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memberships[memberKey{eventID, userID}]
	if !ok {
		return database.ErrNotMember
	}
	m.CheckedInAt = &at
	return nil
}

// Leave removes the membership and everything that depends on it
func (s *Store) Leave(ctx context.Context, eventID, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := memberKey{eventID, userID}
	if _, ok := s.memberships[key]; !ok {
		return database.ErrNotMember
	}
	delete(s.memberships, key)
	delete(s.consents, key)
	for k, f := range s.faces {
		if f.EventID == eventID && f.UserID == userID {
			delete(s.faces, k)
		}
	}
	return nil
}

// --- consents ---

// GetConsent returns the consent row or nil
func (s *Store) GetConsent(ctx context.Context, eventID, userID uuid.UUID) (*database.Consent, error) {
	if s.GetConsentError != nil {
		return nil, s.GetConsentError
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("GetConsent")
	c, ok := s.consents[memberKey{eventID, userID}]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

// ListUserConsents returns all consent rows of a user
func (s *Store) ListUserConsents(ctx context.Context, userID uuid.UUID) ([]database.Consent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []database.Consent
	for k, c := range s.consents {
		if k.user == userID {
			out = append(out, *c)
		}
	}
	return out, nil
}

// ListConsentedMembers returns members whose consent allows the capability, in join order
func (s *Store) ListConsentedMembers(ctx context.Context, eventID uuid.UUID, capability database.Capability) ([]uuid.UUID, error) {
	if s.ListConsentedError != nil {
		return nil, s.ListConsentedError
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var members []database.Membership
	for k, m := range s.memberships {
		if k.event != eventID {
			continue
		}
		if c, ok := s.consents[k]; ok && c.Allows(capability) {
			members = append(members, *m)
		}
	}
	slices.SortFunc(members, func(a, b database.Membership) int { return a.JoinedAt.Compare(b.JoinedAt) })
	ids := make([]uuid.UUID, len(members))
	for i, m := range members {
		ids[i] = m.UserID
	}
	return ids, nil
}

// SaveConsent upserts the actor's own consent row
func (s *Store) SaveConsent(ctx context.Context, actor uuid.UUID, c *database.Consent) error {
	if s.SaveConsentError != nil {
		return s.SaveConsentError
	}
	if actor != c.UserID {
		return database.ErrNotOwner
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := memberKey{c.EventID, c.UserID}
	if _, ok := s.memberships[key]; !ok {
		return database.ErrNotMember
	}
	c.UpdatedAt = time.Now()
	cp := *c
	s.consents[key] = &cp
	return nil
}

// ModifyConsent runs modify and the write under the store lock
func (s *Store) ModifyConsent(
	ctx context.Context, subject, eventID uuid.UUID, modify func(current *database.Consent) database.Consent,
) (*database.Consent, error) {
	if s.SaveConsentError != nil {
		return nil, s.SaveConsentError
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("ModifyConsent")
	key := memberKey{eventID, subject}
	if _, ok := s.memberships[key]; !ok {
		return nil, database.ErrNotMember
	}
	var current *database.Consent
	if c, ok := s.consents[key]; ok {
		cp := *c
		current = &cp
	}
	next := modify(current)
	next.EventID, next.UserID = eventID, subject
	next.UpdatedAt = time.Now()
	s.consents[key] = &next
	out := next
	return &out, nil
}

// --- face directory ---

// ResolveFace returns the entry for an external face ID or nil
func (s *Store) ResolveFace(ctx context.Context, eventID uuid.UUID, externalFaceID string) (*database.FaceDirectoryEntry, error) {
	if s.ResolveFaceError != nil {
		return nil, s.ResolveFaceError
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.faces[faceKey{eventID, externalFaceID}]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

// GetUserFace returns the user's entry for an event or nil
func (s *Store) GetUserFace(ctx context.Context, eventID, userID uuid.UUID) (*database.FaceDirectoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.faces {
		if e.EventID == eventID && e.UserID == userID {
			cp := *e
			return &cp, nil
		}
	}
	return nil, nil
}

// ListEventFaces returns all entries of an event
func (s *Store) ListEventFaces(ctx context.Context, eventID uuid.UUID) ([]database.FaceDirectoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []database.FaceDirectoryEntry
	for _, e := range s.faces {
		if e.EventID == eventID {
			out = append(out, *e)
		}
	}
	slices.SortFunc(out, func(a, b database.FaceDirectoryEntry) int { return a.IndexedAt.Compare(b.IndexedAt) })
	return out, nil
}

// SaveFace stores a directory entry for a member
func (s *Store) SaveFace(ctx context.Context, entry *database.FaceDirectoryEntry) error {
	if s.SaveFaceError != nil {
		return s.SaveFaceError
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.memberships[memberKey{entry.EventID, entry.UserID}]; !ok {
		return database.ErrNotMember
	}
	for _, e := range s.faces {
		if e.EventID == entry.EventID && e.UserID == entry.UserID {
			return database.ErrConflict
		}
	}
	entry.IndexedAt = time.Now()
	cp := *entry
	s.faces[faceKey{entry.EventID, entry.ExternalFaceID}] = &cp
	return nil
}

// DeleteUserFace removes the user's entry for an event
func (s *Store) DeleteUserFace(ctx context.Context, eventID, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, e := range s.faces {
		if e.EventID == eventID && e.UserID == userID {
			delete(s.faces, k)
		}
	}
	return nil
}

// DeleteEventFaces removes all entries of an event
func (s *Store) DeleteEventFaces(ctx context.Context, eventID uuid.UUID) (int64, error) {
	if s.DeleteEventFaceError != nil {
		return 0, s.DeleteEventFaceError
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, e := range s.faces {
		if e.EventID == eventID {
			delete(s.faces, k)
			n++
		}
	}
	return n, nil
}

// Ensure Store implements the interfaces
var (
	_ database.ProfileWriter       = (*Store)(nil)
	_ database.EventWriter         = (*Store)(nil)
	_ database.MembershipWriter    = (*Store)(nil)
	_ database.ConsentWriter       = (*Store)(nil)
	_ database.FaceDirectoryWriter = (*Store)(nil)
)
