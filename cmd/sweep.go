package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/kozaktomas/memento/internal/config"
	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one indexing sweep and exit",
	Long: `Claim every pending event starting within SWEEP_LOOKAHEAD and index the
faces of its members who consented to recognition. Suitable for cron.`,
	RunE: runSweep,
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Run one cleanup sweep and exit",
	Long: `Delete the face collections and directory entries of events that ended
more than CLEANUP_GRACE ago or were deactivated. Consent records are kept.`,
	RunE: runCleanup,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(cleanupCmd)

	sweepCmd.Flags().Bool("json", false, "Output as JSON")
	cleanupCmd.Flags().Bool("json", false, "Output as JSON")
}

func runSweep(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := newApp(ctx, config.Load(), nil)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.controller.Sweep(ctx)
	if err != nil {
		return err
	}

	if mustGetBool(cmd, "json") {
		type eventOut struct {
			EventID  string `json:"event_id"`
			Status   string `json:"status"`
			Total    int    `json:"total"`
			Enrolled int    `json:"enrolled"`
			Skipped  int    `json:"skipped"`
			Failed   int    `json:"failed"`
			Error    string `json:"error,omitempty"`
		}
		out := struct {
			Candidates int        `json:"candidates"`
			Events     []eventOut `json:"events"`
		}{Candidates: res.Candidates, Events: []eventOut{}}
		for _, e := range res.Events {
			o := eventOut{
				EventID:  e.EventID.String(),
				Status:   string(e.Status),
				Total:    e.Total,
				Enrolled: e.Enrolled,
				Skipped:  e.Skipped,
				Failed:   e.Failed,
			}
			if e.Err != nil {
				o.Error = e.Err.Error()
			}
			out.Events = append(out.Events, o)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	fmt.Printf("Candidates: %d, indexed: %d\n", res.Candidates, len(res.Events))
	for _, e := range res.Events {
		fmt.Printf("  %s  %-9s  %d enrolled, %d skipped, %d failed\n", e.EventID, e.Status, e.Enrolled, e.Skipped, e.Failed)
	}
	return nil
}

func runCleanup(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := newApp(ctx, config.Load(), nil)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.controller.CleanupSweep(ctx)
	if err != nil {
		return err
	}

	if mustGetBool(cmd, "json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"candidates":    res.Candidates,
			"cleaned":       res.Cleaned,
			"failed":        res.Failed,
			"faces_removed": res.FacesRemoved,
		})
	}
	fmt.Printf("Cleaned %d of %d events (%d failed), removed %d faces\n", res.Cleaned, res.Candidates, res.Failed, res.FacesRemoved)
	return nil
}
