// Package embedding is the HTTP client for the sentence-embedding
// service (all-MiniLM-L6-v2 behind a small JSON API).
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultDimensions is the output dimensionality of all-MiniLM-L6-v2.
	DefaultDimensions = 384

	// DefaultTimeout is the timeout for embedding requests.
	DefaultTimeout = 30 * time.Second

	// MaxBatchSize is the largest batch the service accepts per request.
	MaxBatchSize = 100

	// apiPathEmbed embeds a single text.
	apiPathEmbed = "/embed"

	// apiPathBatchEmbed embeds up to MaxBatchSize texts in one call.
	apiPathBatchEmbed = "/batch_embed"
)

var (
	// ErrEmptyText is returned when the input is empty or whitespace-only.
	ErrEmptyText = errors.New("text is empty")

	// ErrBatchTooLarge is returned when a batch exceeds MaxBatchSize.
	ErrBatchTooLarge = errors.New("batch exceeds maximum size")
)

// Client calls the embedding service.
type Client struct {
	baseURL    string
	dimensions int
	client     *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the HTTP client timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.client.Timeout = timeout
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.client = hc
	}
}

// WithDimensions sets the expected vector dimensions.
func WithDimensions(dims int) Option {
	return func(c *Client) {
		c.dimensions = dims
	}
}

// New creates a client for the embedding service at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("embedding service url is required")
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		dimensions: DefaultDimensions,
		client:     &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Dimensions returns the expected vector dimensions.
func (c *Client) Dimensions() int {
	return c.dimensions
}

// Embed generates an embedding for the given text. Empty or
// whitespace-only input fails before any request is made.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	var result embedResponse
	if err := c.post(ctx, apiPathEmbed, embedRequest{Text: text}, &result); err != nil {
		return nil, err
	}

	if len(result.Embedding) != c.dimensions {
		return nil, fmt.Errorf("unexpected embedding dimensions: got %d, want %d", len(result.Embedding), c.dimensions)
	}
	return result.Embedding, nil
}

// EmbedBatch generates embeddings for up to MaxBatchSize texts in one
// request. Oversized and empty batches fail before any request is made;
// the caller chunks, the client never truncates.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, errors.New("no texts to embed")
	}
	if len(texts) > MaxBatchSize {
		return nil, fmt.Errorf("%w: got %d, max %d", ErrBatchTooLarge, len(texts), MaxBatchSize)
	}

	var result batchEmbedResponse
	if err := c.post(ctx, apiPathBatchEmbed, batchEmbedRequest{Texts: texts}, &result); err != nil {
		return nil, err
	}

	if result.Count != len(texts) || len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("batch size mismatch: sent %d texts, got %d embeddings", len(texts), len(result.Embeddings))
	}
	for i, emb := range result.Embeddings {
		if len(emb) != c.dimensions {
			return nil, fmt.Errorf("unexpected dimensions at index %d: got %d, want %d", i, len(emb), c.dimensions)
		}
	}
	return result.Embeddings, nil
}

// HealthInfo is the service's self-description.
type HealthInfo struct {
	Status     string `json:"status"`
	Model      string `json:"model"`
	Dimensions int    `json:"dimensions"`
}

// Health fetches the service root, which reports model and dimensions.
func (c *Client) Health(ctx context.Context) (*HealthInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding service returned status %d: %s", resp.StatusCode, formatErrorBody(resp.Body))
	}

	var info HealthInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return &info, nil
}

// post sends a JSON request and decodes the JSON response into out.
func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("embedding service returned status %d: %s", resp.StatusCode, formatErrorBody(resp.Body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// formatErrorBody reads and formats the response body for error messages.
func formatErrorBody(body io.Reader) string {
	respBody, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil {
		return fmt.Sprintf("(failed to read response body: %v)", err)
	}
	return string(respBody)
}

// embedRequest is the request body for the single-text endpoint.
type embedRequest struct {
	Text string `json:"text"`
}

// embedResponse is the response from the single-text endpoint.
type embedResponse struct {
	Embedding  []float32 `json:"embedding"`
	Dimensions int       `json:"dimensions"`
}

// batchEmbedRequest is the request body for the batch endpoint.
type batchEmbedRequest struct {
	Texts []string `json:"texts"`
}

// batchEmbedResponse is the response from the batch endpoint.
type batchEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Count      int         `json:"count"`
	Dimensions int         `json:"dimensions"`
}
