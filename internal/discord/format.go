package discord

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/matsen/paperboy/internal/search"
	"github.com/matsen/paperboy/internal/store"
)

const (
	// maxEmbedTitle is Discord's embed title limit.
	maxEmbedTitle = 256

	// maxListedAuthors caps the authors line before "et al."
	maxListedAuthors = 3
)

// PaperEmbed renders one paper announcement.
func PaperEmbed(p *store.Paper) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       truncate(p.Title, maxEmbedTitle),
		URL:         p.URL,
		Description: p.Summary,
		Color:       scoreColor(p.ImpactScore),
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Impact", Value: fmt.Sprintf("%d/10", p.ImpactScore), Inline: true},
		},
		Footer:    &discordgo.MessageEmbedFooter{Text: p.ArxivID},
		Timestamp: p.Published.UTC().Format(time.RFC3339),
	}
	if len(p.Tags) > 0 {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name: "Tags", Value: strings.Join(p.Tags, ", "), Inline: true,
		})
	}
	if line := authorsLine(p.Authors); line != "" {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name: "Authors", Value: line, Inline: false,
		})
	}
	return embed
}

// searchEmbed renders a ranked result list.
func searchEmbed(resp *search.Response) *discordgo.MessageEmbed {
	var body strings.Builder
	for i, r := range resp.Results {
		fmt.Fprintf(&body, "**%d.** [%s](%s)", i+1, truncate(r.Title, 100), r.URL)
		if r.Similarity > 0 {
			fmt.Fprintf(&body, " (%s match)", r.Percent())
		}
		body.WriteString("\n")
		if r.Summary != "" {
			body.WriteString(truncate(r.Summary, 150))
			body.WriteString("\n")
		}
	}

	embed := &discordgo.MessageEmbed{
		Title:       truncate(fmt.Sprintf("Results for %q", resp.Query), maxEmbedTitle),
		Description: body.String(),
		Color:       0x3498DB,
	}
	if resp.Fallback {
		embed.Footer = &discordgo.MessageEmbedFooter{Text: "Full-text matches; no similar papers above threshold"}
	}
	return embed
}

// latestEmbed renders the most recent papers.
func latestEmbed(papers []store.Paper) *discordgo.MessageEmbed {
	var body strings.Builder
	for i, p := range papers {
		fmt.Fprintf(&body, "**%d.** [%s](%s) (%d/10)\n", i+1, truncate(p.Title, 100), p.URL, p.ImpactScore)
		fmt.Fprintf(&body, "published %s\n", p.Published.UTC().Format("2006-01-02"))
	}
	return &discordgo.MessageEmbed{
		Title:       "Latest papers",
		Description: body.String(),
		Color:       0x3498DB,
	}
}

// statsEmbed renders corpus totals.
func statsEmbed(st *store.Stats) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title: "Paper stats",
		Color: 0x3498DB,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Total", Value: fmt.Sprintf("%d", st.Total), Inline: true},
			{Name: "Posted", Value: fmt.Sprintf("%d", st.Posted), Inline: true},
			{Name: "Last 7 days", Value: fmt.Sprintf("%d", st.LastWeek), Inline: true},
			{Name: "Average score", Value: fmt.Sprintf("%.1f", st.AvgScore), Inline: true},
		},
	}
}

// scoreColor maps an impact score to the embed accent.
func scoreColor(score int) int {
	switch {
	case score >= 9:
		return 0xF1C40F // gold
	case score >= 7:
		return 0xE67E22 // orange
	case score >= 5:
		return 0x3498DB // blue
	default:
		return 0x95A5A6 // gray
	}
}

func authorsLine(authors []string) string {
	if len(authors) == 0 {
		return ""
	}
	if len(authors) > maxListedAuthors {
		return strings.Join(authors[:maxListedAuthors], ", ") + " et al."
	}
	return strings.Join(authors, ", ")
}

// truncate limits s to max characters, appending an ellipsis when cut.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}
