// Package scholar is a small client for the Semantic Scholar graph API used by
// the find_citers job.
package scholar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL           = "https://api.semanticscholar.org/graph/v1"
	DefaultMaxRetries        = 3
	DefaultRetryDelay        = 5 * time.Second
	DefaultRequestsPerSecond = 1.0
	DefaultTimeout           = 30 * time.Second

	authorFields    = "name,paperCount,papers.paperId,papers.title,papers.year"
	paperCountField = "name,paperCount"
	paperFields     = "paperId,title,year,authors,citations.paperId,citations.title,citations.year,citations.authors"
)

// ErrNotFound is returned when the API has no record for the requested ID
var ErrNotFound = errors.New("semantic scholar: not found")

// Config holds client settings
type Config struct {
	BaseURL           string
	APIKey            string
	Timeout           time.Duration
	MaxRetries        int
	RetryDelay        time.Duration
	RequestsPerSecond float64
}

// AuthorRef is an author as listed on a paper
type AuthorRef struct {
	AuthorID string `json:"authorId"`
	Name     string `json:"name"`
}

// PaperRef is a paper as listed on an author or as a citation
type PaperRef struct {
	PaperID string      `json:"paperId"`
	Title   string      `json:"title"`
	Year    *int        `json:"year"`
	Authors []AuthorRef `json:"authors,omitempty"`
}

// Author is an author record with their papers
type Author struct {
	AuthorID   string     `json:"authorId"`
	Name       string     `json:"name"`
	PaperCount int        `json:"paperCount"`
	Papers     []PaperRef `json:"papers"`
}

// Paper is a paper record with its authors and citing papers
type Paper struct {
	PaperID   string      `json:"paperId"`
	Title     string      `json:"title"`
	Year      *int        `json:"year"`
	Authors   []AuthorRef `json:"authors"`
	Citations []PaperRef  `json:"citations"`
}

// Client calls the Semantic Scholar graph API. Calls are serialized through a
// shared rate limiter and retried with exponential backoff.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	limiter    *rate.Limiter
	retry      RetryPolicy
	logger     *slog.Logger
}

// NewClient creates a Client. Zero config values fall back to the defaults.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = DefaultRequestsPerSecond
	}

	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		retry:      RetryPolicy{MaxRetries: cfg.MaxRetries, RetryDelay: cfg.RetryDelay},
		logger:     logger,
	}
}

// GetAuthor fetches an author and the author's papers
func (c *Client) GetAuthor(ctx context.Context, authorID string) (*Author, error) {
	var author Author
	if err := c.get(ctx, "get_author", "/author/"+url.PathEscape(authorID), authorFields, &author); err != nil {
		return nil, err
	}
	return &author, nil
}

// GetAuthorPaperCount fetches only the number of papers an author has published
func (c *Client) GetAuthorPaperCount(ctx context.Context, authorID string) (int, error) {
	var author Author
	if err := c.get(ctx, "get_author_paper_count", "/author/"+url.PathEscape(authorID), paperCountField, &author); err != nil {
		return 0, err
	}
	return author.PaperCount, nil
}

// GetPaper fetches a paper with its authors and citing papers
func (c *Client) GetPaper(ctx context.Context, paperID string) (*Paper, error) {
	var paper Paper
	if err := c.get(ctx, "get_paper", "/paper/"+url.PathEscape(paperID), paperFields, &paper); err != nil {
		return nil, err
	}
	return &paper, nil
}

func (c *Client) get(ctx context.Context, op, path, fields string, out any) error {
	endpoint := c.baseURL + path + "?fields=" + url.QueryEscape(fields)

	return WithRetry(ctx, c.retry, c.logger, op, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return fmt.Errorf("failed to build request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if c.apiKey != "" {
			req.Header.Set("x-api-key", c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return retryable(fmt.Errorf("request failed: %w", err))
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
		case resp.StatusCode == http.StatusNotFound:
			return ErrNotFound
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return retryable(fmt.Errorf("unexpected status %d", resp.StatusCode))
		default:
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body)
		}

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		return nil
	})
}
