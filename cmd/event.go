package cmd

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/kozaktomas/memento/internal/config"
	"github.com/kozaktomas/memento/internal/lifecycle"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var eventCmd = &cobra.Command{
	Use:   "event",
	Short: "Operate on a single event",
}

var eventIndexCmd = &cobra.Command{
	Use:   "index <event-id>",
	Short: "Index one event now, regardless of its start time",
	Long: `Claim a pending event and index the faces of its members who consented
to recognition. Fails when the event is not pending; use "event requeue" to
retry a failed event.`,
	Args: cobra.ExactArgs(1),
	RunE: runEventIndex,
}

var eventRequeueCmd = &cobra.Command{
	Use:   "requeue <event-id>",
	Short: "Reset a failed or stuck event to pending",
	Long: `Reset the indexing status of a failed or in_progress event to pending so
the next sweep picks it up again. Use after a worker crashed mid-sweep.`,
	Args: cobra.ExactArgs(1),
	RunE: runEventRequeue,
}

func init() {
	rootCmd.AddCommand(eventCmd)
	eventCmd.AddCommand(eventIndexCmd)
	eventCmd.AddCommand(eventRequeueCmd)

	eventIndexCmd.Flags().Bool("quiet", false, "Do not show a progress bar")
}

// progressReporter draws a progress bar once the number of members is known.
type progressReporter struct {
	once sync.Once
	bar  *progressbar.ProgressBar
}

func (p *progressReporter) report(info lifecycle.ProgressInfo) {
	p.once.Do(func() {
		p.bar = progressbar.NewOptions(info.Total,
			progressbar.OptionSetDescription("Enrolling faces"),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("faces"),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionFullWidth(),
		)
	})
	p.bar.Add(1)
}

func runEventIndex(cmd *cobra.Command, args []string) error {
	eventID, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid event id: %w", err)
	}

	var onProgress func(lifecycle.ProgressInfo)
	if !mustGetBool(cmd, "quiet") {
		onProgress = (&progressReporter{}).report
	}

	ctx := context.Background()
	a, err := newApp(ctx, config.Load(), onProgress)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.controller.IndexEvent(ctx, eventID)
	if errors.Is(err, lifecycle.ErrNotClaimed) {
		return fmt.Errorf("event %s is not pending; requeue it first if it failed", eventID)
	}
	if err != nil {
		return err
	}

	fmt.Printf("\nEvent %s: %s\n", eventID, res.Status)
	fmt.Printf("  Members consenting: %d\n", res.Total)
	fmt.Printf("  Enrolled:           %d\n", res.Enrolled)
	fmt.Printf("  Skipped:            %d\n", res.Skipped)
	fmt.Printf("  Failed:             %d\n", res.Failed)
	if res.Err != nil {
		return fmt.Errorf("indexing failed: %w", res.Err)
	}
	return nil
}

func runEventRequeue(cmd *cobra.Command, args []string) error {
	eventID, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid event id: %w", err)
	}

	ctx := context.Background()
	a, err := newApp(ctx, config.Load(), nil)
	if err != nil {
		return err
	}
	defer a.Close()

	ok, err := a.store.RequeueIndexing(ctx, eventID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("event %s is not failed or in progress", eventID)
	}
	fmt.Printf("Event %s requeued\n", eventID)
	return nil
}
