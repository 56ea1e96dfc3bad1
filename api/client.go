// ABOUTME: Request/response client for the generation backend with timeouts and the shared login boundary.
// ABOUTME: Also owns the StreamTransport used by the streaming exchange operations.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/2389-research/kiwi/auth"
	"github.com/2389-research/kiwi/transport"
)

const (
	DefaultTimeout       = 10 * time.Second
	DefaultRevertTimeout = 30 * time.Second
)

// Client talks to the backend. It is safe for concurrent use.
type Client struct {
	baseURL       string
	http          *http.Client
	boundary      *auth.Boundary
	stream        *transport.Transport
	timeout       time.Duration
	revertTimeout time.Duration
	logger        *log.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-request timeout for non-streaming calls.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithRevertTimeout sets the longer timeout used by Revert.
func WithRevertTimeout(d time.Duration) Option {
	return func(c *Client) { c.revertTimeout = d }
}

// WithHTTPClient replaces the client used for request/response calls.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithLogger sets the logger for the client and its stream transport.
func WithLogger(l *log.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New builds a Client for baseURL (e.g. "http://127.0.0.1:7780/api").
func New(baseURL string, boundary *auth.Boundary, opts ...Option) *Client {
	c := &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		http:          &http.Client{},
		boundary:      boundary,
		timeout:       DefaultTimeout,
		revertTimeout: DefaultRevertTimeout,
		logger:        log.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.stream = transport.New(boundary, transport.WithLogger(c.logger))
	return c
}

// BaseURL returns the configured base URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// do sends a JSON request and decodes a JSON response into out (if non-nil).
// timeout <= 0 falls back to the client default.
func (c *Client) do(ctx context.Context, method, path string, body, out any, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = c.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.boundary.Authorize(req.Header)

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Printf("component=api action=request method=%s path=%s err=%v", method, path, err)
		return &NetworkError{Op: method + " " + path, Cause: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if err := c.boundary.Check(resp.StatusCode); err != nil {
		return err
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &NetworkError{Op: "read " + path, Cause: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := errorFromBody(resp.StatusCode, data)
		c.logger.Printf("component=api action=request method=%s path=%s status=%d err=%q", method, path, resp.StatusCode, apiErr.Message)
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
