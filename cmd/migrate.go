package cmd

import (
	"context"
	"fmt"

	"github.com/kozaktomas/memento/internal/config"
	"github.com/kozaktomas/memento/internal/database/postgres"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.Flags().Bool("status", false, "List applied and pending migrations without applying")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	ctx := context.Background()

	pool, err := postgres.NewPool(&cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	if mustGetBool(cmd, "status") {
		applied, err := pool.MigrationsApplied(ctx)
		if err != nil {
			return err
		}
		pending, err := pool.MigrationsPending(ctx)
		if err != nil {
			return err
		}
		for _, m := range applied {
			fmt.Printf("  applied  %s\n", m)
		}
		for _, m := range pending {
			fmt.Printf("  pending  %s\n", m)
		}
		return nil
	}

	if err := pool.Migrate(ctx); err != nil {
		return err
	}
	fmt.Println("Database is up to date")
	return nil
}
