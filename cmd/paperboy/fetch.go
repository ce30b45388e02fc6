package main

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/matsen/paperboy/internal/feed"
	"github.com/matsen/paperboy/internal/ingest"
	"github.com/matsen/paperboy/internal/judge"
)

func init() {
	rootCmd.AddCommand(fetchCmd)
}

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch, judge, and store the latest arXiv papers",
	Long: `Fetch recent papers from the arXiv Atom feeds, skip ones already
stored, score the rest with Gemini, embed them, and insert them into
the store. Safe to re-run: duplicates are detected and skipped.`,
	Args: cobra.NoArgs,
	RunE: runFetch,
}

func runFetch(cmd *cobra.Command, args []string) error {
	cfg := mustLoadConfig()
	if err := cfg.ValidateIngest(); err != nil {
		exitWithError(ExitConfigError, "%v", err)
	}
	log := newLogger(cfg)

	ctx, stop := signalContext()
	defer stop()

	st := mustOpenStore(ctx, cfg)
	defer st.Close()

	judgeClient, err := judge.New(ctx, cfg.GeminiKey)
	if err != nil {
		exitWithError(ExitError, "creating judge: %v", err)
	}

	runner := ingest.NewRunner(feed.NewClient(), mustEmbeddingClient(cfg), judgeClient, st, log)

	var stopSpin func()
	if humanOutput {
		stopSpin = spinWhile(newSpinner("Fetching papers"))
	}
	stats, err := runner.Run(ctx)
	if stopSpin != nil {
		stopSpin()
		outputHuman("\n")
	}
	if err != nil {
		exitWithError(ExitError, "%v", err)
	}

	if humanOutput {
		color.Green("✓ Run %s complete\n", stats.RunID)
		outputHuman("  fetched:    %d\n", stats.Fetched)
		outputHuman("  new:        %d\n", stats.New)
		outputHuman("  duplicates: %d\n", stats.Duplicates)
		outputHuman("  errors:     %d\n", stats.Errors)
	} else {
		outputJSON(stats)
	}
	return nil
}
