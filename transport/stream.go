// ABOUTME: StreamTransport opens a cancellable HTTP request whose response is a live SSE stream.
// ABOUTME: Dispatches named events and open/close/error lifecycle callbacks to a caller-supplied Listener.
package transport

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/2389-research/kiwi/auth"
	"github.com/2389-research/kiwi/sse"
)

// Listener receives stream callbacks. Callbacks for one stream are delivered
// sequentially from the goroutine running the stream.
type Listener interface {
	// OnOpen runs after the status check passed. A non-nil error aborts the stream.
	OnOpen(status int) error
	OnMessage(ev sse.Event)
	// OnClose runs when the server ended the stream normally.
	OnClose()
	OnError(err error)
}

// Request describes the connection to open. Body, when set, is JSON-encoded.
type Request struct {
	URL    string
	Method string
	Header http.Header
	Body   any
}

// StatusError is reported when the server answers with a non-success status.
type StatusError struct {
	Code   int
	Reason string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("failed to connect with status %d: %s", e.Code, e.Reason)
}

// Transport opens streams. It holds no per-stream state and is safe for
// concurrent use.
type Transport struct {
	client   *http.Client
	boundary *auth.Boundary
	logger   *log.Logger
}

// Option configures a Transport.
type Option func(*Transport)

// WithHTTPClient replaces the default client. It must not set a Timeout:
// streams are expected to stay open for the whole generation job.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Transport) { t.client = c }
}

// WithLogger sets the logger used for transport diagnostics.
func WithLogger(l *log.Logger) Option {
	return func(t *Transport) { t.logger = l }
}

// New returns a Transport authenticating through boundary.
func New(boundary *auth.Boundary, opts ...Option) *Transport {
	t := &Transport{
		client:   &http.Client{},
		boundary: boundary,
		logger:   log.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Open runs the stream in the background and returns immediately.
func (t *Transport) Open(tok *Token, req Request, l Listener) {
	go func() {
		_ = t.Stream(tok, req, l)
	}()
}

// Stream runs the stream to completion on the calling goroutine. Once tok
// is cancelled no further callbacks are made and Stream returns nil.
func (t *Transport) Stream(tok *Token, req Request, l Listener) error {
	if tok.Cancelled() {
		return nil
	}

	httpReq, err := t.newRequest(tok, req)
	if err != nil {
		l.OnError(err)
		return err
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		if tok.Cancelled() {
			return nil
		}
		l.OnError(err)
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if tok.Cancelled() {
		return nil
	}
	if err := t.boundary.Check(resp.StatusCode); err != nil {
		l.OnError(err)
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := &StatusError{Code: resp.StatusCode, Reason: reasonText(resp)}
		l.OnError(err)
		return err
	}
	if err := l.OnOpen(resp.StatusCode); err != nil {
		if !tok.Cancelled() {
			l.OnError(err)
		}
		return err
	}

	dec := sse.NewDecoder(resp.Body)
	for {
		ev, err := dec.Next()
		if tok.Cancelled() {
			return nil
		}
		if errors.Is(err, io.EOF) {
			l.OnClose()
			return nil
		}
		if err != nil {
			t.logger.Printf("component=transport action=read url=%s err=%v", req.URL, err)
			l.OnError(err)
			return err
		}
		l.OnMessage(ev)
	}
}

func (t *Transport) newRequest(tok *Token, req Request) (*http.Request, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("encode stream request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(tok.Context(), method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("build stream request: %w", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	t.boundary.Authorize(httpReq.Header)
	return httpReq, nil
}

// reasonText prefers the server's error body, falling back to the status text.
func reasonText(resp *http.Response) string {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var payload struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &payload) == nil && payload.Message != "" {
		return payload.Message
	}
	if text := strings.TrimSpace(string(data)); text != "" && !strings.HasPrefix(text, "{") {
		return text
	}
	return http.StatusText(resp.StatusCode)
}
