package scraper

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/html"
)

const (
	maxPageBytes  = 8 << 20
	maxImageBytes = 64 << 20
)

// Fetcher loads and parses the source page.
type Fetcher interface {
	Fetch(ctx context.Context, pageURL, userAgent string) (*html.Node, error)
}

// Downloader loads an image payload.
type Downloader interface {
	Download(ctx context.Context, imageURL string) ([]byte, error)
}

// HTTPClient implements Fetcher and Downloader over net/http.
type HTTPClient struct {
	client    *http.Client
	userAgent string
}

// NewHTTPClient returns a client with the given per-request timeout. The user
// agent is sent on downloads; page fetches pass their own.
func NewHTTPClient(timeout time.Duration, userAgent string) *HTTPClient {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = 4
	transport.IdleConnTimeout = 90 * time.Second
	return &HTTPClient{
		client:    &http.Client{Timeout: timeout, Transport: transport},
		userAgent: userAgent,
	}
}

func (c *HTTPClient) Fetch(ctx context.Context, pageURL, userAgent string) (*html.Node, error) {
	body, err := c.get(ctx, pageURL, userAgent, maxPageBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrFetch, pageURL, err)
	}
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: parse %s: %w", ErrFetch, pageURL, err)
	}
	return doc, nil
}

func (c *HTTPClient) Download(ctx context.Context, imageURL string) ([]byte, error) {
	body, err := c.get(ctx, imageURL, c.userAgent, maxImageBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDownload, imageURL, err)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: %s: empty body", ErrDownload, imageURL)
	}
	return body, nil
}

func (c *HTTPClient) get(ctx context.Context, rawURL, userAgent string, limit int64) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported URL scheme %q", u.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("body exceeds %d bytes", limit)
	}
	return body, nil
}
