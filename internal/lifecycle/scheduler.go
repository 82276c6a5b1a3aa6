package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/go-co-op/gocron"
)

// Scheduler runs the indexing and cleanup sweeps periodically. A sweep still
// running when its next tick comes makes that tick skip.
type Scheduler struct {
	cron       *gocron.Scheduler
	controller *Controller
	interval   time.Duration
}

// NewScheduler creates a scheduler running both sweeps every interval
func NewScheduler(controller *Controller, interval time.Duration) *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	return &Scheduler{cron: s, controller: controller, interval: interval}
}

// Start registers the jobs and starts the scheduler in the background.
// Jobs stop picking up new work once ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.Every(s.interval).Tag("index").Do(func() { s.sweep(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule indexing sweep: %w", err)
	}
	if _, err := s.cron.Every(s.interval).Tag("cleanup").Do(func() { s.cleanup(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule cleanup sweep: %w", err)
	}
	s.cron.StartAsync()
	log.Printf("Lifecycle scheduler started (every %s)", s.interval)
	return nil
}

// Stop stops the scheduler and waits for running jobs
func (s *Scheduler) Stop() {
	s.cron.Stop()
	log.Println("Lifecycle scheduler stopped")
}

func (s *Scheduler) sweep(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	res, err := s.controller.Sweep(ctx)
	if errors.Is(err, ErrSweepInProgress) {
		return
	}
	if err != nil {
		log.Printf("lifecycle: indexing sweep failed: %v", err)
		return
	}
	if len(res.Events) > 0 {
		log.Printf("lifecycle: indexing sweep processed %d of %d candidate events", len(res.Events), res.Candidates)
	}
}

func (s *Scheduler) cleanup(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	res, err := s.controller.CleanupSweep(ctx)
	if err != nil {
		log.Printf("lifecycle: cleanup sweep failed: %v", err)
		return
	}
	if res.Cleaned > 0 || res.Failed > 0 {
		log.Printf("lifecycle: cleaned up %d events (%d failed), removed %d faces", res.Cleaned, res.Failed, res.FacesRemoved)
	}
}
