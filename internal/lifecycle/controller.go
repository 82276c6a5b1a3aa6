// Package lifecycle prepares event face collections before an event starts
// and removes them after it ends.
//
// The pending -> in_progress status flip in the store is the only mutual
// exclusion between sweep workers, so any number of processes may sweep the
// same database.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/kozaktomas/memento/internal/database"
	"github.com/kozaktomas/memento/internal/facedir"
	"github.com/kozaktomas/memento/internal/matcher"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrSweepInProgress is returned when a sweep is started while the
	// previous one in this process is still running.
	ErrSweepInProgress = errors.New("sweep already in progress")
	// ErrNotClaimed is returned by IndexEvent when the event is not pending.
	ErrNotClaimed = errors.New("event is not pending or was claimed by another worker")
)

// Enroller is the face directory as seen by the controller.
type Enroller interface {
	Enroll(ctx context.Context, eventID, userID uuid.UUID, image []byte) (*database.FaceDirectoryEntry, error)
	ForgetEvent(ctx context.Context, eventID uuid.UUID) (int64, error)
}

// ProgressInfo is reported after every enrollment attempt.
type ProgressInfo struct {
	EventID   uuid.UUID
	UserID    uuid.UUID
	Processed int
	Total     int
	Err       error
}

// Options configure the controller.
type Options struct {
	Lookahead        time.Duration // index events starting within this window
	CleanupGrace     time.Duration // clean up events this long after they end
	Concurrency      int           // parallel enrollments per event
	EventConcurrency int           // events indexed in parallel per sweep
	OnProgress       func(ProgressInfo)
}

// EventResult summarizes the indexing of one event.
type EventResult struct {
	EventID  uuid.UUID
	Status   database.Status
	Total    int
	Enrolled int
	Skipped  int // no longer consenting or no profile photo
	Failed   int
	Err      error
}

// SweepResult summarizes one indexing sweep.
type SweepResult struct {
	Candidates int
	Events     []EventResult
}

// CleanupResult summarizes one cleanup sweep.
type CleanupResult struct {
	Candidates   int
	Cleaned      int
	Failed       int
	FacesRemoved int64
}

// Controller runs indexing and cleanup sweeps.
type Controller struct {
	events   database.EventWriter
	consents database.ConsentReader
	faces    Enroller
	matcher  matcher.Matcher
	opts     Options
	now      func() time.Time

	sweeping atomic.Bool
}

// NewController creates a controller
func NewController(
	events database.EventWriter,
	consents database.ConsentReader,
	faces Enroller,
	m matcher.Matcher,
	opts Options,
) *Controller {
	if opts.Lookahead <= 0 {
		opts.Lookahead = 20 * time.Minute
	}
	if opts.CleanupGrace <= 0 {
		opts.CleanupGrace = 24 * time.Hour
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.EventConcurrency <= 0 {
		opts.EventConcurrency = 1
	}
	return &Controller{
		events:   events,
		consents: consents,
		faces:    faces,
		matcher:  m,
		opts:     opts,
		now:      time.Now,
	}
}

// Sweep claims every pending event that starts within the lookahead window
// and indexes its consenting members. A failing event is marked failed and
// does not affect the others. Only listing the candidates can fail the sweep.
func (c *Controller) Sweep(ctx context.Context) (*SweepResult, error) {
	if !c.sweeping.CompareAndSwap(false, true) {
		return nil, ErrSweepInProgress
	}
	defer c.sweeping.Store(false)

	candidates, err := c.events.ListIndexingCandidates(ctx, c.now(), c.opts.Lookahead)
	if err != nil {
		return nil, fmt.Errorf("list indexing candidates: %w", err)
	}

	result := &SweepResult{Candidates: len(candidates)}
	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(c.opts.EventConcurrency)

	for _, e := range candidates {
		g.Go(func() error {
			claimed, err := c.events.ClaimIndexing(ctx, e.ID)
			if err != nil {
				log.Printf("lifecycle: failed to claim event %s: %v", e.ID, err)
				return nil
			}
			if !claimed {
				return nil
			}
			res := c.index(ctx, e.ID)
			mu.Lock()
			result.Events = append(result.Events, res)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return result, nil
}

// IndexEvent claims and indexes a single event regardless of its start time.
func (c *Controller) IndexEvent(ctx context.Context, eventID uuid.UUID) (*EventResult, error) {
	claimed, err := c.events.ClaimIndexing(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("claim event: %w", err)
	}
	if !claimed {
		return nil, ErrNotClaimed
	}
	res := c.index(ctx, eventID)
	return &res, nil
}

// index runs a claimed event to completion and records its final status.
func (c *Controller) index(ctx context.Context, eventID uuid.UUID) EventResult {
	res := c.enrollAll(ctx, eventID)
	res.Status = database.StatusCompleted
	if res.Err != nil {
		res.Status = database.StatusFailed
		log.Printf("lifecycle: indexing event %s failed: %v", eventID, res.Err)
	} else {
		log.Printf("lifecycle: indexed event %s: %d enrolled, %d skipped, %d failed",
			eventID, res.Enrolled, res.Skipped, res.Failed)
	}

	// Record the outcome even when ctx was cancelled, otherwise the event
	// stays in_progress until requeued.
	if err := c.events.FinishIndexing(context.WithoutCancel(ctx), eventID, res.Status); err != nil {
		log.Printf("lifecycle: failed to record status of event %s: %v", eventID, err)
		if res.Err == nil {
			res.Err = fmt.Errorf("finish indexing: %w", err)
		}
	}
	return res
}

func (c *Controller) enrollAll(ctx context.Context, eventID uuid.UUID) EventResult {
	res := EventResult{EventID: eventID}

	if err := c.matcher.CreateCollection(ctx, eventID); err != nil {
		res.Err = fmt.Errorf("create collection: %w", err)
		return res
	}
	users, err := c.consents.ListConsentedMembers(ctx, eventID, database.CapabilityRecognition)
	if err != nil {
		res.Err = fmt.Errorf("list consented members: %w", err)
		return res
	}
	res.Total = len(users)

	var mu sync.Mutex
	transient, interrupted := 0, 0
	var g errgroup.Group
	g.SetLimit(c.opts.Concurrency)

	for _, userID := range users {
		g.Go(func() error {
			if ctx.Err() != nil {
				mu.Lock()
				interrupted++
				mu.Unlock()
				return nil
			}
			_, err := c.faces.Enroll(ctx, eventID, userID, nil)

			mu.Lock()
			switch {
			case err == nil:
				res.Enrolled++
			case errors.Is(err, facedir.ErrNotConsented), errors.Is(err, facedir.ErrNoProfilePhoto):
				res.Skipped++
			default:
				res.Failed++
				if ctx.Err() != nil {
					interrupted++
				}
				if matcher.IsTransient(err) {
					transient++
				}
				log.Printf("lifecycle: failed to enroll user %s in event %s: %v", userID, eventID, err)
			}
			processed := res.Enrolled + res.Skipped + res.Failed
			mu.Unlock()

			if c.opts.OnProgress != nil {
				c.opts.OnProgress(ProgressInfo{EventID: eventID, UserID: userID, Processed: processed, Total: res.Total, Err: err})
			}
			return nil
		})
	}
	_ = g.Wait()

	switch {
	case ctx.Err() != nil && interrupted > 0:
		res.Err = fmt.Errorf("%d of %d members not indexed: %w", interrupted, res.Total, ctx.Err())
	case res.Enrolled == 0 && transient > 0:
		res.Err = fmt.Errorf("%w: every enrollment failed", matcher.ErrUnavailable)
	}
	return res
}

// CleanupSweep deletes the face collections and directory entries of events
// that ended at least CleanupGrace ago or were deactivated. Consent rows are
// kept.
func (c *Controller) CleanupSweep(ctx context.Context) (*CleanupResult, error) {
	candidates, err := c.events.ListCleanupCandidates(ctx, c.now(), c.opts.CleanupGrace)
	if err != nil {
		return nil, fmt.Errorf("list cleanup candidates: %w", err)
	}

	result := &CleanupResult{Candidates: len(candidates)}
	for _, e := range candidates {
		claimed, err := c.events.ClaimCleanup(ctx, e.ID)
		if err != nil {
			log.Printf("lifecycle: failed to claim cleanup of event %s: %v", e.ID, err)
			continue
		}
		if !claimed {
			continue
		}

		removed, err := c.cleanup(ctx, e.ID)
		status := database.StatusCompleted
		if err != nil {
			status = database.StatusFailed
			result.Failed++
			log.Printf("lifecycle: cleanup of event %s failed: %v", e.ID, err)
		} else {
			result.Cleaned++
			result.FacesRemoved += removed
		}
		if err := c.events.FinishCleanup(context.WithoutCancel(ctx), e.ID, status); err != nil {
			log.Printf("lifecycle: failed to record cleanup status of event %s: %v", e.ID, err)
		}
	}
	return result, nil
}

func (c *Controller) cleanup(ctx context.Context, eventID uuid.UUID) (int64, error) {
	err := c.matcher.DeleteCollection(ctx, eventID)
	if err != nil && !errors.Is(err, matcher.ErrCollectionNotFound) {
		return 0, fmt.Errorf("delete collection: %w", err)
	}
	n, err := c.faces.ForgetEvent(ctx, eventID)
	if err != nil {
		return 0, err
	}
	return n, nil
}
