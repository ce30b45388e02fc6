// Package feed fetches candidate papers from the arXiv Atom API.
package feed

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	// BaseURL is the arXiv API query endpoint.
	BaseURL = "http://export.arxiv.org/api/query"

	// DefaultTimeout is the per-page request timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultPageSize is results per request.
	DefaultPageSize = 100

	// DefaultMaxResults caps one fetch across all pages.
	DefaultMaxResults = 300

	// rateInterval spaces successive requests per arXiv's usage policy.
	rateInterval = 3 * time.Second

	// queryWindowDays is how far back the submittedDate query reaches.
	// arXiv indexes papers with a lag, so this is wider than the publish
	// cutoff applied afterwards.
	queryWindowDays = 3

	// publishCutoffDays drops entries published earlier than this many
	// days before now.
	publishCutoffDays = 2
)

// Candidate is one feed entry before enrichment.
type Candidate struct {
	ArxivID   string
	Title     string
	Abstract  string
	Authors   []string
	Published time.Time
	URL       string
}

// Client is a rate-limited client for the arXiv API.
type Client struct {
	baseURL    string
	client     *http.Client
	limiter    *rate.Limiter
	pageSize   int
	maxResults int
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL sets a custom API endpoint (for testing).
func WithBaseURL(url string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(url, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.client = hc
	}
}

// WithMaxResults caps the total entries fetched per call.
func WithMaxResults(n int) Option {
	return func(c *Client) {
		c.maxResults = n
	}
}

// WithRateInterval adjusts the spacing between successive requests.
func WithRateInterval(d time.Duration) Option {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

// NewClient creates an arXiv API client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:    BaseURL,
		client:     &http.Client{Timeout: DefaultTimeout},
		limiter:    rate.NewLimiter(rate.Every(rateInterval), 1),
		pageSize:   DefaultPageSize,
		maxResults: DefaultMaxResults,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Recent returns cs.* papers submitted within the query window, keeping
// those published no earlier than the cutoff before now. The feed is
// not assumed ordered or complete; paging stops at the first short page
// or at the result cap.
func (c *Client) Recent(ctx context.Context, now time.Time) ([]Candidate, error) {
	query := buildQuery(now)
	cutoff := now.UTC().AddDate(0, 0, -publishCutoffDays)

	var candidates []Candidate
	for start := 0; start < c.maxResults; start += c.pageSize {
		count := c.pageSize
		if remaining := c.maxResults - start; remaining < count {
			count = remaining
		}

		page, err := c.fetch(ctx, query, start, count)
		if err != nil {
			return nil, err
		}

		for _, entry := range page.Entries {
			cand, err := toCandidate(entry)
			if err != nil {
				continue
			}
			if cand.Published.Before(cutoff) {
				continue
			}
			candidates = append(candidates, cand)
		}

		if len(page.Entries) < count {
			break
		}
	}
	return candidates, nil
}

// buildQuery covers the last queryWindowDays of cs.* submissions.
func buildQuery(now time.Time) string {
	end := now.UTC()
	start := end.AddDate(0, 0, -queryWindowDays)
	return fmt.Sprintf("cat:cs.* AND submittedDate:[%s0000 TO %s2359]",
		start.Format("20060102"), end.Format("20060102"))
}

func (c *Client) fetch(ctx context.Context, query string, start, count int) (*atomFeed, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	q := url.Values{}
	q.Set("search_query", query)
	q.Set("start", strconv.Itoa(start))
	q.Set("max_results", strconv.Itoa(count))
	q.Set("sortBy", "submittedDate")
	q.Set("sortOrder", "descending")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("arxiv returned status %d", resp.StatusCode)
	}

	var feed atomFeed
	if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, fmt.Errorf("decoding feed: %w", err)
	}
	return &feed, nil
}

// atomFeed is the subset of the Atom response the pipeline consumes.
type atomFeed struct {
	XMLName xml.Name    `xml:"feed"`
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	ID        string       `xml:"id"`
	Title     string       `xml:"title"`
	Summary   string       `xml:"summary"`
	Published string       `xml:"published"`
	Authors   []atomAuthor `xml:"author"`
}

type atomAuthor struct {
	Name string `xml:"name"`
}

func toCandidate(entry atomEntry) (Candidate, error) {
	id := arxivID(entry.ID)
	if id == "" {
		return Candidate{}, fmt.Errorf("entry id %q has no abs segment", entry.ID)
	}

	published, err := time.Parse(time.RFC3339, strings.TrimSpace(entry.Published))
	if err != nil {
		return Candidate{}, fmt.Errorf("parsing published time: %w", err)
	}

	authors := make([]string, 0, len(entry.Authors))
	for _, a := range entry.Authors {
		if name := strings.TrimSpace(a.Name); name != "" {
			authors = append(authors, name)
		}
	}

	return Candidate{
		ArxivID:   id,
		Title:     collapseSpace(entry.Title),
		Abstract:  collapseSpace(entry.Summary),
		Authors:   authors,
		Published: published.UTC(),
		URL:       strings.TrimSpace(entry.ID),
	}, nil
}

// arxivID extracts the id (with version) from an abs URL.
func arxivID(entryID string) string {
	const marker = "/abs/"
	idx := strings.LastIndex(entryID, marker)
	if idx < 0 {
		return ""
	}
	return strings.TrimSpace(entryID[idx+len(marker):])
}

// collapseSpace flattens the line-wrapped whitespace arXiv embeds in
// titles and abstracts.
func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
