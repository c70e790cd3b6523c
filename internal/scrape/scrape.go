// Package scrape fetches a web page server-side and extracts its readable
// text for manual cataloguing.
package scrape

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	readability "github.com/go-shiori/go-readability"

	"github.com/cymbiose/kb/internal/log"
)

// userAgent mimics a desktop browser; many sites refuse default Go clients.
const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// ContentLimit caps the extracted text returned to clients, counted in
// characters. Longer pages are truncated on a rune boundary with an
// ellipsis marker; ContentLength still reports the full character count.
const ContentLimit = 50000

// Result is the extracted page.
type Result struct {
	Success       bool      `json:"success"`
	URL           string    `json:"url"`
	Title         string    `json:"title"`
	Content       string    `json:"content"`
	ContentLength int       `json:"contentLength"`
	Timestamp     time.Time `json:"timestamp"`
}

// FetchError distinguishes bad upstream responses from extraction bugs so
// the handler can map them to a client error.
type FetchError struct {
	Status string
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to fetch URL: %s", e.Status)
}

// Scraper fetches and extracts pages.
//
// Scraper is safe for concurrent use by multiple goroutines.
type Scraper struct {
	client       *http.Client
	maxBodyBytes int64
	logger       log.Logger
}

// New creates a Scraper. timeout bounds the whole fetch; maxBodyBytes caps
// how much of the response body is read.
func New(timeout time.Duration, maxBodyBytes int64, logger log.Logger) *Scraper {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if maxBodyBytes <= 0 {
		maxBodyBytes = 10 << 20
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Scraper{
		client:       &http.Client{Timeout: timeout},
		maxBodyBytes: maxBodyBytes,
		logger:       logger,
	}
}

// Scrape fetches rawURL and returns its readable text, boilerplate
// stripped and whitespace collapsed.
func (s *Scraper) Scrape(ctx context.Context, rawURL string) (*Result, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("url is required")
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid url %q", rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching url: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FetchError{Status: resp.Status}
	}

	body := io.LimitReader(resp.Body, s.maxBodyBytes)
	article, err := readability.FromReader(body, parsed)
	if err != nil {
		return nil, fmt.Errorf("extracting content: %w", err)
	}

	title := strings.TrimSpace(article.Title)
	if title == "" {
		title = "Untitled"
	}
	content := collapseWhitespace(article.TextContent)

	full := utf8.RuneCountInString(content)
	if full > ContentLimit {
		content = string([]rune(content)[:ContentLimit]) + "..."
	}

	s.logger.Debug("page scraped", "url", rawURL, "content_length", full)
	return &Result{
		Success:       true,
		URL:           rawURL,
		Title:         title,
		Content:       content,
		ContentLength: full,
		Timestamp:     time.Now().UTC(),
	}, nil
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
