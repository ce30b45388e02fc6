package main

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/matsen/paperboy/internal/config"
	"github.com/matsen/paperboy/internal/tui"
)

func init() {
	rootCmd.AddCommand(setupCmd)
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactively configure paperboy",
	Long: `Walk through the required settings, validate the embedding service,
and write the config file. Existing values are offered as defaults.`,
	Args: cobra.NoArgs,
	RunE: runSetup,
}

func runSetup(cmd *cobra.Command, args []string) error {
	path := config.Path(configPath)
	existing, err := config.Load(path)
	if err != nil {
		// Unreadable config means starting fresh, not aborting setup.
		existing = nil
	}

	final, err := tea.NewProgram(tui.NewSetupModel(existing)).Run()
	if err != nil {
		exitWithError(ExitError, "running setup: %v", err)
	}

	model, ok := final.(tui.SetupModel)
	if !ok || !model.ShouldSave() {
		outputHuman("Setup cancelled; nothing written.\n")
		return nil
	}

	cfg := model.Result()
	if existing != nil {
		// The wizard covers the hosted defaults; keep any hand-edited
		// driver settings.
		cfg.Driver = existing.Driver
		cfg.DatabaseURL = existing.DatabaseURL
		cfg.DBPath = existing.DBPath
		cfg.LogLevel = existing.LogLevel
	}
	if err := cfg.Save(path); err != nil {
		exitWithError(ExitError, "%v", err)
	}

	outputHuman("Wrote %s\n", path)
	return nil
}
