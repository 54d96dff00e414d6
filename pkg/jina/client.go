// Package jina reads web pages and searches the web through Jina AI, returning
// markdown ready to paste into a prompt. Retries are left to the caller.
package jina

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

const (
	defaultReadURL   = "https://r.jina.ai"
	defaultSearchURL = "https://s.jina.ai"
)

// Client reads and searches the web.
type Client interface {
	// Read fetches targetURL and returns it as markdown.
	Read(ctx context.Context, targetURL string, opts ...ReadOption) (*Page, error)
	// Search returns the top results for query. No results is not an error.
	Search(ctx context.Context, query string, opts ...SearchOption) ([]Page, error)
}

// Page is a fetched page or a search hit.
type Page struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
	Content     string `json:"content"`
	Usage       struct {
		Tokens int `json:"tokens"`
	} `json:"usage"`
}

type envelope[T any] struct {
	Code int `json:"code"`
	Data T   `json:"data"`
}

// ReadOption tunes a single read.
type ReadOption func(http.Header)

// WithSelector keeps only the elements matching a CSS selector.
func WithSelector(css string) ReadOption {
	return func(h http.Header) { h.Set("X-Target-Selector", css) }
}

// WithoutImages drops image references from the markdown.
func WithoutImages() ReadOption {
	return func(h http.Header) { h.Set("X-Retain-Images", "none") }
}

// WithNoCache bypasses Jina's page cache.
func WithNoCache() ReadOption {
	return func(h http.Header) { h.Set("X-No-Cache", "true") }
}

// SearchOption tunes a single search.
type SearchOption func(*searchOpts)

type searchOpts struct {
	site  string
	limit int
}

// WithSiteFilter restricts results to one domain.
func WithSiteFilter(domain string) SearchOption {
	return func(o *searchOpts) { o.site = domain }
}

// WithLimit caps the number of results returned.
func WithLimit(n int) SearchOption {
	return func(o *searchOpts) { o.limit = n }
}

// StatusError is returned for a non-2xx response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("jina: unexpected status %d: %s", e.Code, e.Body)
}

// StatusCode returns the HTTP status of the failed response.
func (e *StatusError) StatusCode() int { return e.Code }

// Option configures the client.
type Option func(*client)

// WithBaseURL overrides the reader endpoint.
func WithBaseURL(u string) Option {
	return func(c *client) { c.readURL = strings.TrimRight(u, "/") }
}

// WithSearchBaseURL overrides the search endpoint.
func WithSearchBaseURL(u string) Option {
	return func(c *client) { c.searchURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *client) { c.http = hc }
}

type client struct {
	apiKey    string
	readURL   string
	searchURL string
	http      *http.Client
}

// NewClient creates a Jina client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &client{
		apiKey:    apiKey,
		readURL:   defaultReadURL,
		searchURL: defaultSearchURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *client) Read(ctx context.Context, targetURL string, opts ...ReadOption) (*Page, error) {
	h := http.Header{}
	h.Set("X-Return-Format", "markdown")
	for _, opt := range opts {
		opt(h)
	}

	var env envelope[Page]
	if _, err := c.get(ctx, c.readURL+"/"+targetURL, h, &env); err != nil {
		return nil, eris.Wrapf(err, "jina: read %s", targetURL)
	}
	return &env.Data, nil
}

func (c *client) Search(ctx context.Context, query string, opts ...SearchOption) ([]Page, error) {
	var so searchOpts
	for _, opt := range opts {
		opt(&so)
	}

	reqURL := c.searchURL + "/" + url.PathEscape(query)
	if so.site != "" {
		reqURL += "?site=" + url.QueryEscape(so.site)
	}

	var env envelope[[]Page]
	status, err := c.get(ctx, reqURL, nil, &env)
	// Jina answers 422 when a query has no results.
	if status == http.StatusUnprocessableEntity {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "jina: search %q", query)
	}

	pages := env.Data
	if so.limit > 0 && len(pages) > so.limit {
		pages = pages[:so.limit]
	}
	return pages, nil
}

// get issues an authenticated GET and decodes a 200 body into out.
func (c *client) get(ctx context.Context, reqURL string, h http.Header, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return 0, eris.Wrap(err, "create request")
	}
	for k, vs := range h {
		req.Header[k] = vs
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, eris.Wrap(err, "send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, eris.Wrap(err, "read response")
	}
	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, &StatusError{Code: resp.StatusCode, Body: string(body)}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return resp.StatusCode, eris.Wrap(err, "decode response")
	}
	return resp.StatusCode, nil
}

// Digest renders search hits as a markdown list, stopping before maxChars.
func Digest(pages []Page, maxChars int) string {
	var b strings.Builder
	for _, p := range pages {
		summary := p.Description
		if summary == "" {
			summary = p.Content
		}
		summary = strings.Join(strings.Fields(summary), " ")
		if len(summary) > 300 {
			summary = strings.ToValidUTF8(summary[:300], "") + "..."
		}
		line := fmt.Sprintf("- %s (%s): %s\n", p.Title, p.URL, summary)
		if maxChars > 0 && b.Len()+len(line) > maxChars {
			break
		}
		b.WriteString(line)
	}
	return b.String()
}
