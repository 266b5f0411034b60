package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomas/slidemanager-daemon/internal/config"
	"github.com/tomas/slidemanager-daemon/internal/eventbus"
	"github.com/tomas/slidemanager-daemon/internal/jobmanager"
	"github.com/tomas/slidemanager-daemon/internal/logging"
	"github.com/tomas/slidemanager-daemon/internal/ratelimit"
	"github.com/tomas/slidemanager-daemon/internal/store"
)

var watchdogTickCmd = &cobra.Command{
	Use:   "watchdog-tick <library-root>",
	Short: "Run one watchdog sweep against a library root and exit",
	Long: `Scan for tasks whose heartbeat has gone stale and fail them with
WATCHDOG_TIMEOUT, then exit. The running daemon does this on its own
periodic ticker; this command exists for manual recovery and debugging
when the daemon isn't running.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatchdogTick,
}

func init() {
	rootCmd.AddCommand(watchdogTickCmd)
	watchdogTickCmd.Flags().Int("threshold-sec", 0, "Heartbeat staleness threshold in seconds (defaults to the configured watchdog threshold)")
}

func runWatchdogTick(cmd *cobra.Command, args []string) error {
	libraryRoot := args[0]
	cfg := config.Load()

	ctx := context.Background()
	s, err := store.Open(ctx, libraryRoot)
	if err != nil {
		return fmt.Errorf("opening index for %s: %w", libraryRoot, err)
	}
	defer s.Close()

	threshold := mustGetInt(cmd, "threshold-sec")
	if threshold <= 0 {
		threshold = cfg.Defaults.WatchdogThresholdSec
	}

	mgr := jobmanager.New(jobmanager.Deps{
		Store:       s,
		Bus:         eventbus.New(),
		Log:         logging.Default(),
		Limiter:     ratelimit.New(cfg.Defaults.ReqPerMin, cfg.Defaults.TokPerMin),
		LibraryRoot: libraryRoot,
	})

	if err := mgr.WatchdogTick(ctx, time.Duration(threshold)*time.Second); err != nil {
		return fmt.Errorf("watchdog tick: %w", err)
	}
	fmt.Println("watchdog tick complete")
	return nil
}
