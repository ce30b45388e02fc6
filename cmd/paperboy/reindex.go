package main

import (
	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/matsen/paperboy/internal/ingest"
)

func init() {
	rootCmd.AddCommand(reindexCmd)
}

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Recompute every stored paper's embedding",
	Long: `Re-embed every stored paper with the current embedding service.
Run this after changing the embedding model, since vectors from
different models do not share a space.`,
	Args: cobra.NoArgs,
	RunE: runReindex,
}

func runReindex(cmd *cobra.Command, args []string) error {
	cfg := mustLoadConfig()
	if err := cfg.ValidateQuery(); err != nil {
		exitWithError(ExitConfigError, "%v", err)
	}
	log := newLogger(cfg)

	ctx, stop := signalContext()
	defer stop()

	st := mustOpenStore(ctx, cfg)
	defer st.Close()

	var opts []ingest.ReindexerOption
	var bar *progressbar.ProgressBar
	if humanOutput {
		bar = newCountBar("Re-embedding")
		opts = append(opts, ingest.WithProgress(func(processed int) {
			_ = bar.Set(processed)
		}))
	}

	stats, err := ingest.NewReindexer(st, mustEmbeddingClient(cfg), log, opts...).Run(ctx)
	if bar != nil {
		_ = bar.Finish()
	}
	if err != nil {
		exitWithError(ExitError, "%v", err)
	}

	if humanOutput {
		color.Green("\n✓ Reindexed %d papers (%d updated, %d errors)\n", stats.Processed, stats.Updated, stats.Errors)
	} else {
		outputJSON(stats)
	}
	return nil
}
