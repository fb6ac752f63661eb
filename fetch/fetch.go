// Package fetch retrieves web pages and extracts the metadata the pipeline
// needs from them: title, description and preview image.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultUserAgent is sent when no user agent is configured. Several
// sites serve an empty shell to unknown clients, so it mimics a browser.
const DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// DefaultTimeout bounds a single request when the caller's context has no deadline.
const DefaultTimeout = 10 * time.Second

// maxBody caps how much of a response is read.
const maxBody = 2 << 20

// Page is the scraped form of a URL.
type Page struct {
	URL         string `json:"url"`
	FinalURL    string `json:"final_url,omitempty"`
	StatusCode  int    `json:"status_code"`
	ContentType string `json:"content_type,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
	SiteName    string `json:"site_name,omitempty"`
}

// StatusError is returned for HTTP responses with status >= 400.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
}

// Client fetches pages over HTTP.
//
// Client is safe for concurrent use; the worker pool calls Scrape from
// several goroutines at once.
//
// Example usage:
//
//	c := fetch.NewClient(fetch.WithTimeout(5 * time.Second))
//	page, err := c.Scrape(ctx, "https://example.com")
//	fmt.Println(page.Title, page.ImageURL)
type Client struct {
	client    *http.Client
	userAgent string
	timeout   time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-request timeout. Non-positive values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithUserAgent overrides DefaultUserAgent.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.client = hc
		}
	}
}

// NewClient creates a Client with default settings.
func NewClient(opts ...Option) *Client {
	c := &Client{
		client:    &http.Client{},
		userAgent: DefaultUserAgent,
		timeout:   DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Scrape fetches url and extracts its page metadata.
//
// Non-HTML responses succeed with only the transport fields populated.
func (c *Client) Scrape(ctx context.Context, url string) (Page, error) {
	resp, err := c.get(ctx, url)
	if err != nil {
		return Page{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	page := Page{
		URL:         url,
		FinalURL:    resp.Request.URL.String(),
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
	}
	if page.FinalURL == url {
		page.FinalURL = ""
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return page, &StatusError{URL: url, StatusCode: resp.StatusCode}
	}
	if !isHTML(page.ContentType) {
		return page, nil
	}

	meta, err := ExtractMetadata(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return page, fmt.Errorf("failed to parse %s: %w", url, err)
	}
	page.Title = meta.Title
	page.Description = meta.Description
	page.ImageURL = resolveRef(resp.Request.URL, meta.Image)
	page.SiteName = meta.SiteName
	return page, nil
}

func (c *Client) get(ctx context.Context, url string) (*http.Response, error) {
	if _, ok := ctx.Deadline(); !ok && c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		// The body is read after get returns; release the timer with it.
		resp, err := c.do(ctx, http.MethodGet, url)
		if err != nil {
			cancel()
			return nil, err
		}
		resp.Body = &cancelBody{ReadCloser: resp.Body, cancel: cancel}
		return resp, nil
	}
	return c.do(ctx, http.MethodGet, url)
}

func (c *Client) do(ctx context.Context, method, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,*/*;q=0.8")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	return resp, nil
}

type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

func isHTML(contentType string) bool {
	if contentType == "" {
		return true
	}
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml")
}
