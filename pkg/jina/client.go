// Package jina is a minimal client for the Jina AI reader, which renders a
// page server-side and returns it as markdown.
package jina

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// DefaultBaseURL is the public reader endpoint.
const DefaultBaseURL = "https://r.jina.ai"

const (
	maxBody      = 8 << 20
	maxErrorBody = 512
)

// Client reads pages through the reader.
type Client interface {
	Read(ctx context.Context, targetURL string) (*ReadResponse, error)
}

// ReadResponse is the reader's JSON envelope.
type ReadResponse struct {
	Code int      `json:"code"`
	Data ReadData `json:"data"`
}

// ReadData is the rendered page.
type ReadData struct {
	Title   string    `json:"title"`
	URL     string    `json:"url"`
	Content string    `json:"content"`
	Usage   ReadUsage `json:"usage"`
}

// ReadUsage is the reader's token accounting.
type ReadUsage struct {
	Tokens int `json:"tokens"`
}

// StatusError is a non-200 answer. Body holds the start of the response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("jina: unexpected status %d: %s", e.StatusCode, e.Body)
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// Option configures NewClient.
type Option func(*httpClient)

// WithBaseURL overrides DefaultBaseURL. Empty keeps the default.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		if url != "" {
			c.baseURL = strings.TrimSuffix(url, "/")
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

// WithTimeout bounds each request. Non-positive keeps the default.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// NewClient creates a reader client. Each Read is a single attempt; an
// empty apiKey uses the anonymous tier.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: DefaultBaseURL,
		http: &http.Client{
			Timeout:   30 * time.Second,
			Transport: &http.Transport{MaxIdleConnsPerHost: 20, IdleConnTimeout: 90 * time.Second},
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) Read(ctx context.Context, targetURL string) (*ReadResponse, error) {
	req, err := c.newRequest(ctx, targetURL)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "jina: request failed")
	}
	defer resp.Body.Close() //nolint:errcheck

	body := io.LimitReader(resp.Body, maxBody)
	if resp.StatusCode != http.StatusOK {
		head, _ := io.ReadAll(io.LimitReader(body, maxErrorBody+1))
		msg := string(head)
		if len(head) > maxErrorBody {
			msg = string(head[:maxErrorBody]) + "..."
		}
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: msg}
	}

	var out ReadResponse
	if err := json.NewDecoder(body).Decode(&out); err != nil {
		return nil, eris.Wrap(err, "jina: decode response")
	}
	return &out, nil
}

func (c *httpClient) newRequest(ctx context.Context, targetURL string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+targetURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "jina: create request")
	}
	h := req.Header
	h.Set("Accept", "application/json")
	h.Set("X-Return-Format", "markdown")
	h.Set("X-With-Links-Summary", "true")
	if c.apiKey != "" {
		h.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}
