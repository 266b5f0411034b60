package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomas/slidemanager-daemon/internal/config"
	"github.com/tomas/slidemanager-daemon/internal/constants"
	"github.com/tomas/slidemanager-daemon/internal/controlapi"
	"github.com/tomas/slidemanager-daemon/internal/eventbus"
	"github.com/tomas/slidemanager-daemon/internal/jobmanager"
	"github.com/tomas/slidemanager-daemon/internal/logging"
	"github.com/tomas/slidemanager-daemon/internal/ratelimit"
	"github.com/tomas/slidemanager-daemon/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve <library-root>",
	Short: "Start the indexing daemon",
	Long: `Start the slidemanager indexing daemon for one library root.
The daemon opens (or creates) that root's .slidemanager/index.sqlite
index and serves the HTTP control API described in the project's
specification: job lifecycle endpoints plus an SSE progress stream.`,
	Args: cobra.ExactArgs(1),
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 8787, "Port to listen on")
	serveCmd.Flags().String("host", "127.0.0.1", "Host to bind to")
	serveCmd.Flags().String("converter-bin", "soffice", "Path to the headless presentation-to-PDF converter binary")
}

func resolveServeHostPort(cmd *cobra.Command) (int, string) {
	port := mustGetInt(cmd, "port")
	host := mustGetString(cmd, "host")
	if envPort := os.Getenv("DAEMON_PORT"); envPort != "" {
		fmt.Sscanf(envPort, "%d", &port)
	}
	if envHost := os.Getenv("DAEMON_HOST"); envHost != "" {
		host = envHost
	}
	return port, host
}

func runServe(cmd *cobra.Command, args []string) error {
	libraryRoot := args[0]
	cfg := config.Load()

	if cfg.OpenAI.APIKey == "" {
		return errors.New("OPENAI_TOKEN environment variable is required")
	}
	if info, err := os.Stat(libraryRoot); err != nil {
		return fmt.Errorf("invalid library root %s: %w", libraryRoot, err)
	} else if !info.IsDir() {
		return fmt.Errorf("invalid library root %s: not a directory", libraryRoot)
	}

	ctx := context.Background()
	s, err := store.Open(ctx, libraryRoot)
	if err != nil {
		return fmt.Errorf("opening index for %s: %w", libraryRoot, err)
	}
	defer s.Close()

	log := logging.Default()
	bus := eventbus.New()
	limiter := ratelimit.New(cfg.Defaults.ReqPerMin, cfg.Defaults.TokPerMin)
	converterBin := mustGetString(cmd, "converter-bin")

	mgr := jobmanager.New(jobmanager.Deps{
		Store:        s,
		Bus:          bus,
		Log:          log,
		Limiter:      limiter,
		OpenAIKey:    cfg.OpenAI.APIKey,
		ConverterBin: converterBin,
		ProfileRoot:  "",
		LibraryRoot:  libraryRoot,
	})

	watchdogThreshold := time.Duration(cfg.Defaults.WatchdogThresholdSec) * time.Second
	go func() {
		t := time.NewTicker(constants.DefaultWatchdogTickSecs * time.Second)
		defer t.Stop()
		for range t.C {
			if err := mgr.WatchdogTick(ctx, watchdogThreshold); err != nil {
				log.Error("watchdog tick: %v", err)
			}
		}
	}()

	port, host := resolveServeHostPort(cmd)
	addr := fmt.Sprintf("%s:%d", host, port)
	server := controlapi.NewServer(addr, mgr, s, bus, log, libraryRoot)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
	}()

	log.Info("indexing daemon listening on http://%s (library root %s)", addr, libraryRoot)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.ListenAndServe(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
