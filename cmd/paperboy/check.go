package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/matsen/paperboy/internal/config"
	"github.com/matsen/paperboy/internal/embedding"
	"github.com/matsen/paperboy/internal/store"
)

func init() {
	rootCmd.AddCommand(checkCmd)
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Probe every external dependency",
	Long: `Run health probes against the configuration, the store, the
embedding service, and the API credentials. Exits non-zero if any
probe fails.`,
	Args: cobra.NoArgs,
	RunE: runCheck,
}

// probeResult is one probe's outcome.
type probeResult struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

// CheckResult is the full probe report.
type CheckResult struct {
	Status string        `json:"status"`
	Probes []probeResult `json:"probes"`
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg := mustLoadConfig()

	ctx, stop := signalContext()
	defer stop()

	results := []probeResult{
		probeConfig(cfg),
		probeStore(ctx, cfg),
		probeEmbedding(ctx, cfg),
		probeDiscordToken(cfg),
		probeGeminiKey(cfg),
	}

	failed := 0
	for _, r := range results {
		if !r.OK {
			failed++
		}
	}

	if humanOutput {
		for _, r := range results {
			status := color.GreenString("PASS")
			if !r.OK {
				status = color.RedString("FAIL")
			}
			line := fmt.Sprintf("%s  %-14s", status, r.Name)
			if r.Detail != "" {
				line += " " + r.Detail
			}
			outputHuman("%s\n", line)
		}
		if failed > 0 {
			outputHuman("\n%d of %d probes failed\n", failed, len(results))
		}
	} else {
		report := CheckResult{Status: "ok", Probes: results}
		if failed > 0 {
			report.Status = "failed"
		}
		outputJSON(report)
	}

	if failed > 0 {
		os.Exit(ExitCheckFailed)
	}
	return nil
}

// probeConfig checks that every setting any command might need is present.
func probeConfig(cfg *config.Config) probeResult {
	res := probeResult{Name: "config"}
	var missing []string
	if err := cfg.ValidateIngest(); err != nil {
		missing = append(missing, err.Error())
	}
	if err := cfg.ValidateServe(); err != nil {
		missing = append(missing, err.Error())
	}
	if len(missing) > 0 {
		res.Detail = strings.Join(missing, "; ")
		return res
	}
	res.OK = true
	return res
}

func probeStore(ctx context.Context, cfg *config.Config) probeResult {
	res := probeResult{Name: "store"}
	st, err := store.Open(ctx, cfg.StoreConfig())
	if err != nil {
		res.Detail = err.Error()
		return res
	}
	defer st.Close()

	stats, err := st.Stats(ctx)
	if err != nil {
		res.Detail = err.Error()
		return res
	}
	res.OK = true
	res.Detail = fmt.Sprintf("%d papers stored", stats.Total)
	return res
}

// probeEmbedding checks reachability, then that a real embed call
// returns vectors matching the advertised dimensions.
func probeEmbedding(ctx context.Context, cfg *config.Config) probeResult {
	res := probeResult{Name: "embedding"}
	client, err := embedding.New(cfg.EmbedURL)
	if err != nil {
		res.Detail = err.Error()
		return res
	}

	info, err := client.Health(ctx)
	if err != nil {
		res.Detail = err.Error()
		return res
	}

	vec, err := client.Embed(ctx, "paperboy")
	if err != nil {
		res.Detail = err.Error()
		return res
	}
	if len(vec) != info.Dimensions {
		res.Detail = fmt.Sprintf("health reports %d dimensions but embed returned %d", info.Dimensions, len(vec))
		return res
	}
	res.OK = true
	res.Detail = fmt.Sprintf("%s, %d dimensions", info.Model, info.Dimensions)
	return res
}

// probeDiscordToken checks shape only; the gateway handshake is serve's job.
func probeDiscordToken(cfg *config.Config) probeResult {
	res := probeResult{Name: "discord token"}
	if cfg.DiscordToken == "" {
		res.Detail = "not set"
		return res
	}
	if parts := strings.Split(cfg.DiscordToken, "."); len(parts) != 3 {
		res.Detail = "does not look like a bot token (want three dot-separated parts)"
		return res
	}
	res.OK = true
	return res
}

func probeGeminiKey(cfg *config.Config) probeResult {
	res := probeResult{Name: "gemini key"}
	if cfg.GeminiKey == "" {
		res.Detail = "not set"
		return res
	}
	res.OK = true
	return res
}
