// Package main provides the paperboy CLI entry point.
package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags
var Version = "dev"

// humanOutput controls whether to use human-readable output
var humanOutput bool

// configPath is the --config flag; empty falls back to PAPERBOY_CONFIG
// and then the default file.
var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(ExitError)
	}
}

var rootCmd = &cobra.Command{
	Use:   "paperboy",
	Short: "arXiv paper pipeline and Discord bot",
	Long: `paperboy watches arXiv for new CS papers, scores them with Gemini,
embeds them for semantic search, and announces the notable ones on
Discord.

All commands output JSON by default for easy integration with other
tools; pass --human for terminal-friendly rendering.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		_ = godotenv.Load()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&humanOutput, "human", false, "Use human-readable output instead of JSON")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to the config file")
	rootCmd.Version = Version
}
