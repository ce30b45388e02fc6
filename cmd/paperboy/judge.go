package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/matsen/paperboy/internal/config"
	"github.com/matsen/paperboy/internal/judge"
)

func init() {
	rootCmd.AddCommand(judgeCmd)
}

var judgeCmd = &cobra.Command{
	Use:   "judge <title> <abstract>",
	Short: "Score a single paper without storing it",
	Long: `Send one title and abstract to Gemini and print the judgment.
Useful for tuning the prompt and sanity-checking scores.`,
	Args: cobra.ExactArgs(2),
	RunE: runJudge,
}

func runJudge(cmd *cobra.Command, args []string) error {
	cfg := mustLoadConfig()
	if cfg.GeminiKey == "" {
		exitWithError(ExitConfigError, "missing required settings: %s", config.EnvGeminiKey)
	}

	ctx, stop := signalContext()
	defer stop()

	client, err := judge.New(ctx, cfg.GeminiKey)
	if err != nil {
		exitWithError(ExitError, "creating judge: %v", err)
	}

	judgment, err := client.Judge(ctx, args[0], args[1])
	if err != nil {
		exitWithError(ExitError, "judging: %v", err)
	}

	if humanOutput {
		outputHuman("Score:   %d/10\n", judgment.Score)
		outputHuman("Summary: %s\n", judgment.Summary)
		outputHuman("Tags:    %s\n", strings.Join(judgment.Tags, ", "))
	} else {
		outputJSON(judgment)
	}
	return nil
}
