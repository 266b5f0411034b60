package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/tomas/slidemanager-daemon/internal/config"
	"github.com/tomas/slidemanager-daemon/internal/constants"
	"github.com/tomas/slidemanager-daemon/internal/eventbus"
	"github.com/tomas/slidemanager-daemon/internal/jobmanager"
	"github.com/tomas/slidemanager-daemon/internal/logging"
	"github.com/tomas/slidemanager-daemon/internal/ratelimit"
	"github.com/tomas/slidemanager-daemon/internal/store"
)

var indexCmd = &cobra.Command{
	Use:   "index <library-root>",
	Short: "Run one indexing job against a library root and wait for it to finish",
	Long: `Run a single indexing job in-process, printing live progress to the
terminal, and exit once the job reaches a terminal status. Useful for
scripting and for verifying a library root outside of the daemon.`,
	Args: cobra.ExactArgs(1),
	RunE: runIndex,
}

func init() {
	rootCmd.AddCommand(indexCmd)

	indexCmd.Flags().BoolP("recursive", "r", false, "Scan subdirectories of the library root")
	indexCmd.Flags().Bool("force", false, "Rebuild every artifact even if already ready")
	indexCmd.Flags().String("converter-bin", "soffice", "Path to the headless presentation-to-PDF converter binary")
}

func runIndex(cmd *cobra.Command, args []string) error {
	libraryRoot := args[0]
	cfg := config.Load()
	if cfg.OpenAI.APIKey == "" {
		return fmt.Errorf("OPENAI_TOKEN environment variable is required")
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

	mgr := jobmanager.New(jobmanager.Deps{
		Store:        s,
		Bus:          bus,
		Log:          log,
		Limiter:      limiter,
		OpenAIKey:    cfg.OpenAI.APIKey,
		ConverterBin: mustGetString(cmd, "converter-bin"),
		ProfileRoot:  "",
		LibraryRoot:  libraryRoot,
	})

	opts := cfg.Defaults
	opts.Recursive = mustGetBool(cmd, "recursive")
	opts.ForceRebuild = mustGetBool(cmd, "force")

	jobID, err := mgr.StartJob(ctx, opts)
	if err != nil {
		return fmt.Errorf("starting job: %w", err)
	}

	events, unsubscribe := bus.Subscribe(jobID)
	defer unsubscribe()

	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription("indexing"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("pages"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionFullWidth(),
	)

	for {
		select {
		case event := <-events:
			switch event.Type {
			case constants.EventArtifactStateChanged:
				_ = bar.Add(1)
			case constants.EventTaskError:
				fmt.Println()
				fmt.Printf("task error: %v\n", event.Payload)
			case constants.EventJobFinished:
				_ = bar.Finish()
				fmt.Printf("\njob %s finished: %v\n", jobID, event.Payload)
				return nil
			}
		case <-time.After(10 * time.Minute):
			return fmt.Errorf("job %s did not finish within the watchdog window", jobID)
		}
	}
}
