package matcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Guarded bounds every call of the wrapped matcher with a timeout. An expired
// timeout is reported as ErrUnavailable.
//
// Searches run detached from the caller's cancellation: when the caller goes
// away the search still runs to completion (or to its own timeout) and its
// result is discarded. Writes are not detached.
type Guarded struct {
	next    Matcher
	timeout time.Duration
}

// WithTimeout wraps m so that no call blocks longer than timeout.
func WithTimeout(m Matcher, timeout time.Duration) *Guarded {
	return &Guarded{next: m, timeout: timeout}
}

func (g *Guarded) CreateCollection(ctx context.Context, eventID uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	return deadline(g.next.CreateCollection(ctx, eventID))
}

func (g *Guarded) DeleteCollection(ctx context.Context, eventID uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	return deadline(g.next.DeleteCollection(ctx, eventID))
}

func (g *Guarded) IndexFace(ctx context.Context, eventID, userID uuid.UUID, image []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	id, err := g.next.IndexFace(ctx, eventID, userID, image)
	return id, deadline(err)
}

func (g *Guarded) DeleteFaces(ctx context.Context, eventID uuid.UUID, faceIDs []string) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	return deadline(g.next.DeleteFaces(ctx, eventID, faceIDs))
}

func (g *Guarded) SearchFaces(ctx context.Context, eventID uuid.UUID, image []byte) ([]Candidate, error) {
	return detached(ctx, g.timeout, func(ctx context.Context) ([]Candidate, error) {
		return g.next.SearchFaces(ctx, eventID, image)
	})
}

type result[T any] struct {
	val T
	err error
}

// detached runs fn under its own timeout, ignoring cancellation of ctx.
// When ctx is done first, detached returns ctx.Err() and fn keeps running
// until it finishes or times out.
func detached[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	done := make(chan result[T], 1)

	go func() {
		defer cancel()
		v, err := fn(callCtx)
		done <- result[T]{v, deadline(err)}
	}()

	select {
	case r := <-done:
		return r.val, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func deadline(err error) error {
	if err != nil && errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrUnavailable) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return err
}

var _ Matcher = (*Guarded)(nil)
