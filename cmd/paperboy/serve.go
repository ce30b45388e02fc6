package main

import (
	"github.com/spf13/cobra"

	"github.com/matsen/paperboy/internal/discord"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Discord bot and the posting loop",
	Long: `Connect to the Discord gateway, register the slash commands, and
post newly judged papers that clear the impact threshold to the
configured channel. Runs until interrupted.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := mustLoadConfig()
	if err := cfg.ValidateServe(); err != nil {
		exitWithError(ExitConfigError, "%v", err)
	}
	log := newLogger(cfg)

	ctx, stop := signalContext()
	defer stop()

	st := mustOpenStore(ctx, cfg)
	defer st.Close()

	bot, err := discord.NewBot(cfg.DiscordToken, searchService(st, cfg, log), log)
	if err != nil {
		exitWithError(ExitError, "%v", err)
	}

	sender := discord.NewChannelSender(bot.Session(), cfg.ChannelID)
	poster := discord.NewPoster(st, sender, cfg.MinPostScore, log)
	go poster.Run(ctx)

	log.Info("serving", "channel", cfg.ChannelID, "min_post_score", cfg.MinPostScore)
	if err := bot.Run(ctx); err != nil {
		exitWithError(ExitError, "%v", err)
	}
	return nil
}
