// Package facedir maintains the per-event mapping from matcher face IDs to
// users. Entries are only created for subjects who consent to recognition,
// but the directory is never treated as proof of consent: readers re-check
// consent on every use.
package facedir

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/kozaktomas/memento/internal/consent"
	"github.com/kozaktomas/memento/internal/database"
	"github.com/kozaktomas/memento/internal/matcher"
	"github.com/kozaktomas/memento/internal/photostore"
)

var (
	// ErrNotConsented is returned when the subject has not opted in to recognition.
	ErrNotConsented = errors.New("subject has not consented to recognition")
	// ErrNoProfilePhoto is returned when the subject has no usable profile photo.
	ErrNoProfilePhoto = errors.New("subject has no profile photo")
	// ErrIndexing wraps matcher failures during enrollment. Transient causes
	// still satisfy matcher.IsTransient.
	ErrIndexing = errors.New("face indexing failed")
)

// PhotoSource loads stored profile photos.
type PhotoSource interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// Options configure enrollment retries.
type Options struct {
	MaxRetries int
	Backoff    time.Duration
}

// Directory enrolls and resolves faces.
type Directory struct {
	gate     *consent.Gate
	profiles database.ProfileReader
	photos   PhotoSource
	faces    database.FaceDirectoryWriter
	matcher  matcher.Matcher
	opts     Options
}

// New creates a directory
func New(
	gate *consent.Gate,
	profiles database.ProfileReader,
	photos PhotoSource,
	faces database.FaceDirectoryWriter,
	m matcher.Matcher,
	opts Options,
) *Directory {
	if opts.Backoff <= 0 {
		opts.Backoff = 500 * time.Millisecond
	}
	return &Directory{gate: gate, profiles: profiles, photos: photos, faces: faces, matcher: m, opts: opts}
}

// Enroll indexes the user's face into the event collection and records the
// returned face ID. When image is nil the stored profile photo is used.
// Enrolling an already enrolled user returns the existing entry.
func (d *Directory) Enroll(ctx context.Context, eventID, userID uuid.UUID, image []byte) (*database.FaceDirectoryEntry, error) {
	decision, err := d.gate.SubjectConsents(ctx, userID, eventID, database.CapabilityRecognition)
	if err != nil {
		return nil, fmt.Errorf("check consent: %w", err)
	}
	if !decision.Allowed {
		return nil, ErrNotConsented
	}

	existing, err := d.faces.GetUserFace(ctx, eventID, userID)
	if err != nil {
		return nil, fmt.Errorf("get face entry: %w", err)
	}
	if existing != nil {
		return existing, nil
	}

	if image == nil {
		image, err = d.profilePhoto(ctx, userID)
		if err != nil {
			return nil, err
		}
	}

	faceID, err := matcher.Retry(ctx, d.opts.MaxRetries, d.opts.Backoff, func() (string, error) {
		return d.matcher.IndexFace(ctx, eventID, userID, image)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIndexing, err)
	}

	entry := &database.FaceDirectoryEntry{EventID: eventID, ExternalFaceID: faceID, UserID: userID}
	err = d.faces.SaveFace(ctx, entry)
	switch {
	case err == nil:
		return entry, nil
	case errors.Is(err, database.ErrConflict):
		// A concurrent enrollment won; keep its face and drop ours.
		d.dropFace(ctx, eventID, faceID)
		winner, getErr := d.faces.GetUserFace(ctx, eventID, userID)
		if getErr != nil {
			return nil, fmt.Errorf("get face entry: %w", getErr)
		}
		if winner == nil {
			return nil, fmt.Errorf("save face entry: %w", err)
		}
		return winner, nil
	case errors.Is(err, database.ErrNotMember):
		// The user left the event while we were indexing.
		d.dropFace(ctx, eventID, faceID)
		return nil, ErrNotConsented
	}
	d.dropFace(ctx, eventID, faceID)
	return nil, fmt.Errorf("save face entry: %w", err)
}

func (d *Directory) profilePhoto(ctx context.Context, userID uuid.UUID) ([]byte, error) {
	profile, err := d.profiles.GetProfile(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	if !profile.HasPhoto() {
		return nil, ErrNoProfilePhoto
	}
	data, err := d.photos.Get(ctx, profile.PhotoPath)
	if errors.Is(err, photostore.ErrNotFound) {
		return nil, ErrNoProfilePhoto
	}
	if err != nil {
		return nil, fmt.Errorf("load profile photo: %w", err)
	}
	return data, nil
}

func (d *Directory) dropFace(ctx context.Context, eventID uuid.UUID, faceID string) {
	if err := d.matcher.DeleteFaces(ctx, eventID, []string{faceID}); err != nil {
		log.Printf("facedir: failed to delete orphaned face %s in event %s: %v", faceID, eventID, err)
	}
}

// Resolve returns the owner of an external face ID, false when unknown.
// It does not check consent.
func (d *Directory) Resolve(ctx context.Context, externalFaceID string, eventID uuid.UUID) (uuid.UUID, bool, error) {
	entry, err := d.faces.ResolveFace(ctx, eventID, externalFaceID)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("resolve face: %w", err)
	}
	if entry == nil {
		return uuid.Nil, false, nil
	}
	return entry.UserID, true, nil
}

// Forget removes the user's face from the event collection and directory.
func (d *Directory) Forget(ctx context.Context, eventID, userID uuid.UUID) error {
	entry, err := d.faces.GetUserFace(ctx, eventID, userID)
	if err != nil {
		return fmt.Errorf("get face entry: %w", err)
	}
	if entry == nil {
		return nil
	}

	err = d.matcher.DeleteFaces(ctx, eventID, []string{entry.ExternalFaceID})
	if err != nil && !errors.Is(err, matcher.ErrCollectionNotFound) {
		return fmt.Errorf("delete face: %w", err)
	}
	if err := d.faces.DeleteUserFace(ctx, eventID, userID); err != nil {
		return fmt.Errorf("delete face entry: %w", err)
	}
	return nil
}

// ForgetEvent removes every directory entry of an event. The collection
// itself is dropped by the caller.
func (d *Directory) ForgetEvent(ctx context.Context, eventID uuid.UUID) (int64, error) {
	n, err := d.faces.DeleteEventFaces(ctx, eventID)
	if err != nil {
		return 0, fmt.Errorf("delete event faces: %w", err)
	}
	return n, nil
}
