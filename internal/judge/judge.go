// Package judge scores papers with a chat model: an impact score in
// [1,10], a one-sentence summary, and category tags from a fixed
// vocabulary. Every failure mode degrades toward defaults rather than
// aborting the caller's run.
package judge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
)

const (
	// maxCallDuration bounds one model call.
	maxCallDuration = 90 * time.Second

	// maxAbstractChars caps each abstract inside the batch prompt.
	maxAbstractChars = 1500

	// maxSummaryChars caps the stored one-line summary.
	maxSummaryChars = 150

	// maxTags caps the tags kept per judgment.
	maxTags = 5
)

// Vocabulary is the fixed tag set judgments draw from.
var Vocabulary = []string{
	"CV", "NLP", "LLM", "Transformers", "Diffusion", "RL",
	"Robotics", "ML", "Theory", "Systems", "Security", "Other",
}

// Item is one paper submitted for scoring.
type Item struct {
	ID       string
	Title    string
	Abstract string
}

// Judgment is the scoring result for one paper.
type Judgment struct {
	Score   int      `json:"score"`
	Summary string   `json:"summary"`
	Tags    []string `json:"tags"`
}

// Default is the judgment used when the model fails or omits a paper.
func Default(title string) Judgment {
	return Judgment{
		Score:   5,
		Summary: truncate(title, maxSummaryChars),
		Tags:    []string{"Other"},
	}
}

// Client scores papers through an llms.Model.
type Client struct {
	model llms.Model
}

// NewWithModel wraps an existing model. Tests inject fakes here.
func NewWithModel(model llms.Model) *Client {
	return &Client{model: model}
}

// JudgeBatch scores every item in one model call. The returned map is
// keyed by item id and may omit items the model skipped or garbled;
// the caller backfills those with Default. On total failure the map is
// empty (never nil) and the error describes what went wrong. Rate
// pacing between consecutive batches is the caller's job.
func (c *Client) JudgeBatch(ctx context.Context, items []Item) (map[string]Judgment, error) {
	judgments := make(map[string]Judgment, len(items))
	if len(items) == 0 {
		return judgments, nil
	}

	ctx, cancel := context.WithTimeout(ctx, maxCallDuration)
	defer cancel()

	resp, err := c.model.GenerateContent(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, buildPrompt(items)),
	})
	if err != nil {
		return judgments, fmt.Errorf("generating judgments: %w", err)
	}
	if len(resp.Choices) == 0 {
		return judgments, errors.New("model returned no choices")
	}

	return parseResponse(resp.Choices[0].Content, items)
}

// Judge scores a single paper. Debug path; ingestion always batches.
func (c *Client) Judge(ctx context.Context, title, abstract string) (Judgment, error) {
	const id = "paper-1"
	judgments, err := c.JudgeBatch(ctx, []Item{{ID: id, Title: title, Abstract: abstract}})
	if err != nil {
		return Default(title), err
	}
	j, ok := judgments[id]
	if !ok {
		return Default(title), errors.New("model omitted the paper from its response")
	}
	return j, nil
}

// buildPrompt enumerates the items and asks for a JSON array echoing
// each submitted id.
func buildPrompt(items []Item) string {
	var papers strings.Builder
	for i, item := range items {
		fmt.Fprintf(&papers, "Paper %d (id: %s)\nTitle: %s\nAbstract: %s\n\n",
			i+1, item.ID, item.Title, truncate(item.Abstract, maxAbstractChars))
	}

	tagList, _ := json.Marshal(Vocabulary)

	return fmt.Sprintf(`Rate the following research papers. For each paper provide:

1. "score": an integer from 1-10 for the paper's potential impact
   - 1-2: poor or fundamentally flawed
   - 3-4: weak, limited novelty
   - 5-6: solid contribution
   - 7-8: strong, notable contribution
   - 9: exceptional, likely influential
   - 10: revolutionary, field-changing
   Most papers belong in the 4-6 range. Reserve 7+ for genuinely notable work.

2. "tldr": a single concise sentence (max 150 characters) summarizing the key contribution

3. "tags": an array of 2-5 relevant category tags from this list:
   %s

Papers:

%sReturn ONLY a valid JSON array with one object per paper, echoing each paper's id, in this exact format:
[{"id": "<id>", "score": <number>, "tldr": "<string>", "tags": [<strings>]}]`,
		tagList, papers.String())
}

// judgedItem is the wire shape of one element of the model's reply.
// Score is a pointer so an absent field is distinguishable from zero.
type judgedItem struct {
	ID    string   `json:"id"`
	Score *float64 `json:"score"`
	TLDR  string   `json:"tldr"`
	Tags  []string `json:"tags"`
}

// parseResponse extracts judgments from the model reply. Elements with
// a missing or unrequested id, a repeated id, no score, or an empty
// summary are dropped; scores are clamped and summaries truncated.
func parseResponse(text string, items []Item) (map[string]Judgment, error) {
	judgments := make(map[string]Judgment, len(items))

	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = extractFromCodeBlock(text)
	}

	var raw []judgedItem
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return judgments, fmt.Errorf("parsing model response: %w", err)
	}

	requested := make(map[string]bool, len(items))
	for _, item := range items {
		requested[item.ID] = true
	}

	for _, item := range raw {
		if item.ID == "" || !requested[item.ID] {
			continue
		}
		if _, seen := judgments[item.ID]; seen {
			continue
		}
		summary := strings.TrimSpace(item.TLDR)
		if item.Score == nil || summary == "" {
			continue
		}
		judgments[item.ID] = Judgment{
			Score:   clampScore(int(*item.Score)),
			Summary: truncate(summary, maxSummaryChars),
			Tags:    filterTags(item.Tags),
		}
	}
	return judgments, nil
}

// extractFromCodeBlock strips a markdown code fence wrapper.
func extractFromCodeBlock(text string) string {
	lines := strings.Split(text, "\n")
	if len(lines) < 2 {
		return text
	}
	end := len(lines)
	if strings.TrimSpace(lines[len(lines)-1]) == "```" {
		end = len(lines) - 1
	}
	return strings.Join(lines[1:end], "\n")
}

func clampScore(score int) int {
	if score < 1 {
		return 1
	}
	if score > 10 {
		return 10
	}
	return score
}

// truncate limits s to max characters, not bytes.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

// filterTags keeps known, unrepeated tags up to the cap. An empty
// result collapses to ["Other"] so a judgment always carries a tag.
func filterTags(tags []string) []string {
	var kept []string
	for _, tag := range tags {
		if !isValidTag(tag) || containsTag(kept, tag) {
			continue
		}
		kept = append(kept, tag)
		if len(kept) == maxTags {
			break
		}
	}
	if len(kept) == 0 {
		return []string{"Other"}
	}
	return kept
}

func isValidTag(tag string) bool {
	for _, t := range Vocabulary {
		if t == tag {
			return true
		}
	}
	return false
}

func containsTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}
