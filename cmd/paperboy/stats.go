package main

import (
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statsCmd)
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show corpus statistics",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg := mustLoadConfig()
	if err := cfg.ValidateQuery(); err != nil {
		exitWithError(ExitConfigError, "%v", err)
	}
	log := newLogger(cfg)

	ctx, stop := signalContext()
	defer stop()

	st := mustOpenStore(ctx, cfg)
	defer st.Close()

	stats, err := searchService(st, cfg, log).Stats(ctx)
	if err != nil {
		exitWithError(ExitError, "reading stats: %v", err)
	}

	if humanOutput {
		outputHuman("Papers:      %d\n", stats.Total)
		outputHuman("Posted:      %d\n", stats.Posted)
		outputHuman("Last 7 days: %d\n", stats.LastWeek)
		outputHuman("Avg score:   %.1f\n", stats.AvgScore)
	} else {
		outputJSON(stats)
	}
	return nil
}
