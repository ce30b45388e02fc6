package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/matsen/paperboy/internal/mcp"
)

func init() {
	rootCmd.AddCommand(mcpCmd)
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the paper corpus over the Model Context Protocol",
	Long: `Run an MCP server on stdio so AI agents can search and browse the
stored papers. Runs until the client disconnects or the process is
interrupted.`,
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	cfg := mustLoadConfig()
	if err := cfg.ValidateQuery(); err != nil {
		exitWithError(ExitConfigError, "%v", err)
	}
	log := newLogger(cfg)

	ctx, stop := signalContext()
	defer stop()

	st := mustOpenStore(ctx, cfg)
	defer st.Close()

	server, err := mcp.NewServer(searchService(st, cfg, log))
	if err != nil {
		exitWithError(ExitError, "%v", err)
	}

	log.Info("mcp server listening on stdio")
	if err := server.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		exitWithError(ExitError, "mcp server: %v", err)
	}
	return nil
}
