// Package discord is the chat surface: slash commands over the search
// service, plus the scheduler that announces newly ingested papers.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/matsen/paperboy/internal/search"
	"github.com/matsen/paperboy/internal/store"
)

// commandTimeout bounds the store and embedding work behind one slash
// command. Interactions are deferred first, so this can exceed
// Discord's three-second acknowledgement deadline.
const commandTimeout = 15 * time.Second

// Searcher answers the read-path commands.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) (*search.Response, error)
	Latest(ctx context.Context, limit int) ([]store.Paper, error)
	Stats(ctx context.Context) (*store.Stats, error)
}

// commands are registered globally on startup.
var commands = []*discordgo.ApplicationCommand{
	{
		Name:        "search",
		Description: "Search stored papers by meaning",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "query",
				Description: "What to look for",
				Required:    true,
			},
			{
				Type:        discordgo.ApplicationCommandOptionInteger,
				Name:        "limit",
				Description: "Max results (1-20)",
			},
		},
	},
	{
		Name:        "latest",
		Description: "Most recently published papers",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionInteger,
				Name:        "limit",
				Description: "Max results (1-20)",
			},
		},
	},
	{
		Name:        "stats",
		Description: "Corpus totals",
	},
}

// Bot serves the slash commands.
type Bot struct {
	session *discordgo.Session
	search  Searcher
	log     *slog.Logger
}

// NewBot creates the gateway session and wires the handlers. The
// session is not opened until Run.
func NewBot(token string, svc Searcher, log *slog.Logger) (*Bot, error) {
	if token == "" {
		return nil, errors.New("discord bot token is required")
	}
	if log == nil {
		log = slog.Default()
	}

	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("creating discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds

	b := &Bot{session: session, search: svc, log: log}
	session.AddHandler(b.onReady)
	session.AddHandler(b.onInteraction)
	return b, nil
}

// Session exposes the underlying gateway session so the caller can
// hang a ChannelSender off the same connection.
func (b *Bot) Session() *discordgo.Session {
	return b.session
}

// Run opens the gateway, registers the commands, and serves until ctx
// ends.
func (b *Bot) Run(ctx context.Context) error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("opening discord session: %w", err)
	}
	defer b.session.Close()

	if err := b.registerCommands(); err != nil {
		return err
	}

	<-ctx.Done()
	return nil
}

func (b *Bot) registerCommands() error {
	appID := b.session.State.User.ID
	for _, cmd := range commands {
		if _, err := b.session.ApplicationCommandCreate(appID, "", cmd); err != nil {
			return fmt.Errorf("registering /%s: %w", cmd.Name, err)
		}
	}
	return nil
}

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	b.log.Info("discord gateway ready", "user", r.User.Username, "id", r.User.ID)
}

func (b *Bot) onInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	data := i.ApplicationCommandData()

	// Acknowledge immediately; the real reply follows as a followup.
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	})
	if err != nil {
		b.log.Error("deferring interaction failed", "command", data.Name, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	var embed *discordgo.MessageEmbed
	switch data.Name {
	case "search":
		embed, err = b.handleSearch(ctx, data)
	case "latest":
		embed, err = b.handleLatest(ctx, data)
	case "stats":
		embed, err = b.handleStats(ctx)
	default:
		err = fmt.Errorf("unknown command %q", data.Name)
	}

	if err != nil {
		b.followupError(i, data.Name, err)
		return
	}
	if _, err := s.FollowupMessageCreate(i.Interaction, true, &discordgo.WebhookParams{
		Embeds: []*discordgo.MessageEmbed{embed},
	}); err != nil {
		b.log.Error("followup failed", "command", data.Name, "error", err)
	}
}

func (b *Bot) handleSearch(ctx context.Context, data discordgo.ApplicationCommandInteractionData) (*discordgo.MessageEmbed, error) {
	query := optionString(data, "query")
	limit := optionInt(data, "limit")

	resp, err := b.search.Search(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	return searchEmbed(resp), nil
}

func (b *Bot) handleLatest(ctx context.Context, data discordgo.ApplicationCommandInteractionData) (*discordgo.MessageEmbed, error) {
	papers, err := b.search.Latest(ctx, optionInt(data, "limit"))
	if err != nil {
		return nil, err
	}
	return latestEmbed(papers), nil
}

func (b *Bot) handleStats(ctx context.Context) (*discordgo.MessageEmbed, error) {
	st, err := b.search.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return statsEmbed(st), nil
}

// followupError replies ephemerally, keeping "nothing found" distinct
// from a service failure.
func (b *Bot) followupError(i *discordgo.InteractionCreate, command string, err error) {
	msg := "Something went wrong on my end. Try again in a bit."
	if errors.Is(err, search.ErrNoResults) {
		msg = "No matching papers found."
	} else {
		b.log.Error("command failed", "command", command, "error", err)
	}

	if _, ferr := b.session.FollowupMessageCreate(i.Interaction, true, &discordgo.WebhookParams{
		Content: msg,
		Flags:   discordgo.MessageFlagsEphemeral,
	}); ferr != nil {
		b.log.Error("error followup failed", "command", command, "error", ferr)
	}
}

func optionString(data discordgo.ApplicationCommandInteractionData, name string) string {
	for _, opt := range data.Options {
		if opt.Name == name {
			return opt.StringValue()
		}
	}
	return ""
}

func optionInt(data discordgo.ApplicationCommandInteractionData, name string) int {
	for _, opt := range data.Options {
		if opt.Name == name {
			return int(opt.IntValue())
		}
	}
	return 0
}
