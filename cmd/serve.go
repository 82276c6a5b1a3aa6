package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kozaktomas/memento/internal/config"
	"github.com/kozaktomas/memento/internal/lifecycle"
	"github.com/kozaktomas/memento/internal/recognition"
	"github.com/kozaktomas/memento/internal/summary"
	"github.com/kozaktomas/memento/internal/web"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and the lifecycle scheduler",
	Long: `Start the Memento HTTP API.
Unless --no-scheduler is given, the indexing and cleanup sweeps run in the
background every SWEEP_INTERVAL. Several instances may run the scheduler
against the same database; each event is claimed by exactly one of them.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Bool("no-scheduler", false, "Do not run the indexing and cleanup sweeps")
}

// resolveServeHostPort resolves port and host from flags and environment variables.
func resolveServeHostPort(cmd *cobra.Command) (int, string) {
	port := mustGetInt(cmd, "port")
	host := mustGetString(cmd, "host")

	if envPort := os.Getenv("WEB_PORT"); envPort != "" {
		fmt.Sscanf(envPort, "%d", &port)
	}
	if envHost := os.Getenv("WEB_HOST"); envHost != "" {
		host = envHost
	}
	return port, host
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET environment variable is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	summaries, err := summary.FromConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to configure summaries: %w", err)
	}

	port, host := resolveServeHostPort(cmd)
	server := web.NewServer(cfg, port, host, web.Deps{
		Store:     a.store,
		Photos:    a.photos,
		Summaries: summaries,
		Gate:      a.gate,
		Faces:     a.faces,
		Matcher:   a.matcher,
		Recognizer: recognition.New(a.gate, a.store, a.store, a.faces, a.matcher, recognition.Options{
			TopN: cfg.Recognition.TopN,
		}),
	})

	var scheduler *lifecycle.Scheduler
	if !mustGetBool(cmd, "no-scheduler") {
		scheduler = lifecycle.NewScheduler(a.controller, cfg.Lifecycle.Interval)
		if err := scheduler.Start(ctx); err != nil {
			return err
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")
		cancel()
		if scheduler != nil {
			scheduler.Stop()
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
	}()

	fmt.Printf("Starting Memento API on http://%s:%d\n", host, port)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
