// Package search provides the HTTP client for the external media search API
// used to resolve tracks to playable media IDs and to serve browse searches.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/auralisfm/auralis-playback-backend/internal/domain/resolve"
)

const (
	// DefaultBaseURL is the search API base URL.
	DefaultBaseURL = "https://search.auralis.fm"

	// DefaultUserAgent identifies this backend to the search provider.
	DefaultUserAgent = "Auralis/0.3.0 (https://github.com/auralisfm/auralis-playback-backend)"

	// DefaultTimeout for HTTP requests.
	DefaultTimeout = 10 * time.Second

	// DefaultRateLimit - requests per second against the search quota.
	DefaultRateLimit = 5

	// musicCategory scopes searches to music content.
	musicCategory = "music"
)

// Client talks to the media search API.
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	limiter    *rateLimiter
}

// Option is a functional option for configuring the search client.
type Option func(*Client)

// WithBaseURL sets a custom base URL (useful for testing).
func WithBaseURL(url string) Option {
	return func(c *Client) {
		c.baseURL = url
	}
}

// WithUserAgent sets a custom User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithRateLimit sets the request rate against the provider quota.
func WithRateLimit(requestsPerSecond int) Option {
	return func(c *Client) {
		if requestsPerSecond > 0 {
			c.limiter = newRateLimiter(requestsPerSecond)
		}
	}
}

// NewClient creates a new search API client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:   DefaultBaseURL,
		userAgent: DefaultUserAgent,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter: newRateLimiter(DefaultRateLimit),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// searchItem is one hit in a search response.
type searchItem struct {
	MediaID      string `json:"mediaId"`
	Title        string `json:"title"`
	AuthorLabel  string `json:"authorLabel"`
	ThumbnailURL string `json:"thumbnailUrl"`
}

// searchResponse is the search API response envelope.
type searchResponse struct {
	Items []searchItem `json:"items"`
}

// ResolveTrack requests the single best music-category match for query and
// returns its media ID. This is the playback-binding path: only the first
// result is ever considered.
func (c *Client) ResolveTrack(ctx context.Context, query string) (string, error) {
	items, err := c.search(ctx, query, 1)
	if err != nil {
		return "", err
	}
	if len(items) == 0 || items[0].MediaID == "" {
		return "", resolve.ErrNoMatch
	}
	return items[0].MediaID, nil
}

// Search runs a browse search: free text, up to maxResults rich results.
// Results are never cached; browsing tolerates approximate matches.
func (c *Client) Search(ctx context.Context, query string, maxResults int) ([]resolve.SearchResult, error) {
	if maxResults <= 0 {
		maxResults = 10
	}

	items, err := c.search(ctx, query, maxResults)
	if err != nil {
		return nil, err
	}

	results := make([]resolve.SearchResult, 0, len(items))
	for _, item := range items {
		results = append(results, resolve.SearchResult{
			MediaID:      item.MediaID,
			Title:        item.Title,
			AuthorLabel:  item.AuthorLabel,
			ThumbnailURL: item.ThumbnailURL,
		})
	}
	return results, nil
}

// search issues one rate-limited request against the search endpoint.
func (c *Client) search(ctx context.Context, query string, maxResults int) ([]searchItem, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	searchURL := fmt.Sprintf("%s/api/v1/search?q=%s&category=%s&maxResults=%s",
		c.baseURL,
		url.QueryEscape(query),
		musicCategory,
		strconv.Itoa(maxResults))

	log.Debug().Str("query", query).Int("maxResults", maxResults).Msg("Searching media provider")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("search API: %w", errRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search API returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var parsed searchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	return parsed.Items, nil
}

var errRateLimited = fmt.Errorf("rate limited")

// rateLimiter implements a simple token bucket rate limiter.
type rateLimiter struct {
	mu          sync.Mutex
	interval    time.Duration
	lastRequest time.Time
}

func newRateLimiter(requestsPerSecond int) *rateLimiter {
	return &rateLimiter{
		interval: time.Second / time.Duration(requestsPerSecond),
	}
}

// Wait blocks until a request can be made.
func (r *rateLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	nextAllowed := r.lastRequest.Add(r.interval)

	if now.Before(nextAllowed) {
		select {
		case <-time.After(nextAllowed.Sub(now)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	r.lastRequest = time.Now()
	return nil
}
