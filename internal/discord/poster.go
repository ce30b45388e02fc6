package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/matsen/paperboy/internal/store"
)

// DefaultPostInterval is the spacing between posting ticks.
const DefaultPostInterval = time.Hour

// Sender delivers one paper to the channel.
type Sender interface {
	Send(ctx context.Context, p *store.Paper) error
}

// PosterStore is the queue side of persistence.
type PosterStore interface {
	Unposted(ctx context.Context, minScore int) ([]store.Paper, error)
	MarkPosted(ctx context.Context, arxivID string, at time.Time) error
}

// Poster announces unposted papers at or above the score threshold.
// Delivery is at-least-once: a paper is marked posted only after a
// successful send, so a failed mark repeats that paper on a later tick.
type Poster struct {
	store    PosterStore
	sender   Sender
	minScore int
	interval time.Duration
	log      *slog.Logger
	now      func() time.Time

	mu sync.Mutex
}

// PosterOption configures a Poster.
type PosterOption func(*Poster)

// WithInterval sets the tick spacing.
func WithInterval(d time.Duration) PosterOption {
	return func(p *Poster) {
		if d > 0 {
			p.interval = d
		}
	}
}

// NewPoster wires a posting scheduler.
func NewPoster(st PosterStore, sender Sender, minScore int, log *slog.Logger, opts ...PosterOption) *Poster {
	if log == nil {
		log = slog.Default()
	}
	p := &Poster{
		store:    st,
		sender:   sender,
		minScore: minScore,
		interval: DefaultPostInterval,
		log:      log,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run ticks immediately, then on every interval, until ctx ends.
func (p *Poster) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Tick(ctx)
		}
	}
}

// Tick drains the queue once and reports how many papers were sent.
// A tick that starts while another is still running returns without
// doing anything.
func (p *Poster) Tick(ctx context.Context) (int, error) {
	if !p.mu.TryLock() {
		p.log.Debug("posting tick already in flight, skipping")
		return 0, nil
	}
	defer p.mu.Unlock()

	papers, err := p.store.Unposted(ctx, p.minScore)
	if err != nil {
		return 0, fmt.Errorf("querying unposted papers: %w", err)
	}

	posted := 0
	for i := range papers {
		paper := &papers[i]
		if err := p.sender.Send(ctx, paper); err != nil {
			p.log.Warn("posting failed", "arxiv_id", paper.ArxivID, "error", err)
			continue
		}
		posted++
		if err := p.store.MarkPosted(ctx, paper.ArxivID, p.now().UTC()); err != nil {
			p.log.Warn("mark-posted failed, paper may repeat next tick",
				"arxiv_id", paper.ArxivID, "error", err)
		}
	}

	if posted > 0 {
		p.log.Info("posted papers", "count", posted)
	}
	return posted, nil
}

// ChannelSender posts paper embeds to a fixed channel.
type ChannelSender struct {
	session   *discordgo.Session
	channelID string
}

var _ Sender = (*ChannelSender)(nil)

// NewChannelSender creates a sender for the given channel.
func NewChannelSender(session *discordgo.Session, channelID string) *ChannelSender {
	return &ChannelSender{session: session, channelID: channelID}
}

// Send posts one paper announcement.
func (c *ChannelSender) Send(ctx context.Context, p *store.Paper) error {
	_, err := c.session.ChannelMessageSendEmbed(c.channelID, PaperEmbed(p), discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("sending to channel %s: %w", c.channelID, err)
	}
	return nil
}
