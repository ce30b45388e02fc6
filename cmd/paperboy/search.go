package main

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"github.com/matsen/paperboy/internal/search"
)

var searchLimit int

func init() {
	searchCmd.Flags().IntVar(&searchLimit, "limit", search.DefaultLimit, "Maximum results to return (1-20)")
	rootCmd.AddCommand(searchCmd)
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search stored papers by meaning",
	Long: `Search stored papers by embedding similarity, falling back to
full-text matching when nothing is semantically close.`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func runSearch(cmd *cobra.Command, args []string) error {
	cfg := mustLoadConfig()
	if err := cfg.ValidateQuery(); err != nil {
		exitWithError(ExitConfigError, "%v", err)
	}
	log := newLogger(cfg)

	ctx, stop := signalContext()
	defer stop()

	st := mustOpenStore(ctx, cfg)
	defer st.Close()

	resp, err := searchService(st, cfg, log).Search(ctx, args[0], searchLimit)
	if errors.Is(err, search.ErrNoResults) {
		resp = &search.Response{Query: args[0], Results: []search.Result{}}
	} else if err != nil {
		exitWithError(ExitError, "searching: %v", err)
	}

	if humanOutput {
		printSearchHuman(resp)
	} else {
		outputJSON(resp)
	}
	return nil
}

func printSearchHuman(resp *search.Response) {
	if len(resp.Results) == 0 {
		outputHuman("No matching papers found\n")
		return
	}
	if resp.Fallback {
		outputHuman("Full-text matches (nothing was semantically close):\n\n")
	}
	for i, r := range resp.Results {
		if r.Similarity > 0 {
			outputHuman("[%d] %s (%s match)\n", i+1, r.ArxivID, r.Percent())
		} else {
			outputHuman("[%d] %s\n", i+1, r.ArxivID)
		}
		outputHuman("    %s\n", r.Title)
		if len(r.Authors) > 0 {
			outputHuman("    %s\n", strings.Join(r.Authors, ", "))
		}
		outputHuman("    %d/10  %s\n\n", r.ImpactScore, r.URL)
	}
}
