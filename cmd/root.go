package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "memento",
	Short: "Event-scoped face recognition for attendees who opted in",
	Long: `Memento lets attendees of an event recognize each other from a photo.
Only members who consented to recognition in that event can be matched,
and only members who consented to profile display have their profile shown.

The serve command runs the HTTP API together with the background sweeps that
index events shortly before they start and clean them up after they end.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}
