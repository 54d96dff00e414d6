// Package pdf submits markdown reports to a rendering service and waits for
// the finished PDF.
package pdf

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/strategy-cli/internal/poll"
)

// Job states reported by the render service.
const (
	StatusQueued    = "queued"
	StatusRendering = "rendering"
	StatusDone      = "done"
	StatusFailed    = "failed"
)

// Client defines the render service operations.
type Client interface {
	Submit(ctx context.Context, doc Document) (*Job, error)
	GetJob(ctx context.Context, id string) (*Job, error)
}

// Document is a report to render.
type Document struct {
	ReportID string            `json:"report_id"`
	Title    string            `json:"title"`
	Markdown string            `json:"markdown"`
	Meta     map[string]string `json:"meta,omitempty"`
}

// Job is a render job as returned by the service.
type Job struct {
	ID       string `json:"id"`
	ReportID string `json:"report_id"`
	Status   string `json:"status"`
	URL      string `json:"url,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Terminal reports whether the job will not change again.
func (j *Job) Terminal() bool {
	return j.Status == StatusDone || j.Status == StatusFailed
}

// APIError is returned when the service responds with a non-2xx status.
type APIError struct {
	Code int
	Body string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("pdf: HTTP %d: %s", e.Code, e.Body)
}

// StatusCode returns the HTTP status of the failed response.
func (e *APIError) StatusCode() int { return e.Code }

// Option configures the httpClient.
type Option func(*httpClient)

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a render service client.
func NewClient(baseURL, apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: baseURL,
		http: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Submit(ctx context.Context, doc Document) (*Job, error) {
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, eris.Wrap(err, "pdf: marshal document")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/render", bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "pdf: create request")
	}
	req.Header.Set("Content-Type", "application/json")

	var job Job
	if err := c.do(req, &job); err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("pdf: submit %s", doc.ReportID))
	}
	return &job, nil
}

func (c *httpClient) GetJob(ctx context.Context, id string) (*Job, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/render/"+id, nil)
	if err != nil {
		return nil, eris.Wrap(err, "pdf: create request")
	}

	var job Job
	if err := c.do(req, &job); err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("pdf: get job %s", id))
	}
	return &job, nil
}

func (c *httpClient) do(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "execute request")
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "read response body")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Code: resp.StatusCode, Body: string(data)}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return eris.Wrap(err, "decode response")
	}
	return nil
}

// Render submits doc and polls until the job finishes, returning the URL of
// the rendered PDF.
func Render(ctx context.Context, c Client, doc Document, opts ...poll.Option) (string, error) {
	job, err := c.Submit(ctx, doc)
	if err != nil {
		return "", err
	}
	if !job.Terminal() {
		jobID := job.ID
		job, err = poll.Until(ctx,
			func(ctx context.Context) (*Job, error) { return c.GetJob(ctx, jobID) },
			func(j *Job) bool { return j.Terminal() },
			opts...,
		)
		if err != nil {
			return "", eris.Wrap(err, fmt.Sprintf("pdf: wait for %s", doc.ReportID))
		}
	}

	if job.Status == StatusFailed {
		return "", eris.Errorf("pdf: render %s failed: %s", doc.ReportID, job.Error)
	}
	if job.URL == "" {
		return "", eris.Errorf("pdf: render %s finished without a url", doc.ReportID)
	}
	return job.URL, nil
}

// Renderer binds a Client to polling options.
type Renderer struct {
	Client Client
	Poll   []poll.Option
}

// Render submits doc and waits for the PDF URL.
func (r Renderer) Render(ctx context.Context, doc Document) (string, error) {
	return Render(ctx, r.Client, doc, r.Poll...)
}
