package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/matsen/paperboy/internal/search"
	"github.com/matsen/paperboy/internal/store"
)

var latestLimit int

func init() {
	latestCmd.Flags().IntVar(&latestLimit, "limit", search.DefaultLimit, "Maximum papers to list (1-20)")
	rootCmd.AddCommand(latestCmd)
}

var latestCmd = &cobra.Command{
	Use:   "latest",
	Short: "List the most recently published papers",
	Args:  cobra.NoArgs,
	RunE:  runLatest,
}

func runLatest(cmd *cobra.Command, args []string) error {
	cfg := mustLoadConfig()
	if err := cfg.ValidateQuery(); err != nil {
		exitWithError(ExitConfigError, "%v", err)
	}
	log := newLogger(cfg)

	ctx, stop := signalContext()
	defer stop()

	st := mustOpenStore(ctx, cfg)
	defer st.Close()

	papers, err := searchService(st, cfg, log).Latest(ctx, latestLimit)
	if errors.Is(err, search.ErrNoResults) {
		papers = []store.Paper{}
	} else if err != nil {
		exitWithError(ExitError, "listing papers: %v", err)
	}

	if humanOutput {
		if len(papers) == 0 {
			outputHuman("No papers stored yet\n")
			return nil
		}
		for i, p := range papers {
			outputHuman("[%d] %s (%d/10, published %s)\n", i+1, p.ArxivID, p.ImpactScore, p.Published.UTC().Format("2006-01-02"))
			outputHuman("    %s\n", p.Title)
			outputHuman("    %s\n\n", p.URL)
		}
	} else {
		outputJSON(papers)
	}
	return nil
}
