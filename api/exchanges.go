// ABOUTME: Typed builders for the exchange operations: start, reconnect, retry, cancel, revert and history.
// ABOUTME: Streaming operations decode "generation" events into Exchange snapshots for a GenerationListener.
package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/url"

	"github.com/2389-research/kiwi/exchange"
	"github.com/2389-research/kiwi/sse"
	"github.com/2389-research/kiwi/transport"
)

// GenerationEvent is the SSE event name carrying exchange snapshots.
const GenerationEvent = "generation"

// DefaultHistoryPageSize is large enough to mean "all exchanges of an app".
const DefaultHistoryPageSize = 100

// GenerateRequest starts a generation. AppID is omitted when empty so the
// server creates a new application.
type GenerateRequest struct {
	Prompt             string   `json:"prompt"`
	AppID              string   `json:"appId,omitempty"`
	AttachmentURLs     []string `json:"attachmentUrls,omitempty"`
	SkipPageGeneration bool     `json:"skipPageGeneration,omitempty"`
}

// HistoryQuery selects a page of exchanges for an application.
type HistoryQuery struct {
	AppID    string `json:"appId"`
	Prompt   string `json:"prompt,omitempty"`
	Page     int    `json:"page,omitempty"`
	PageSize int    `json:"pageSize,omitempty"`
}

// GenerationListener receives decoded snapshots from a generation stream.
type GenerationListener interface {
	OnSnapshot(ex exchange.Exchange)
	OnClose()
	OnError(err error)
}

type exchangeIDBody struct {
	ExchangeID string `json:"exchangeId"`
}

// StartGeneration opens the POST /generate stream.
func (c *Client) StartGeneration(tok *transport.Token, req GenerateRequest, l GenerationListener) {
	c.stream.Open(tok, transport.Request{
		URL:    c.baseURL + "/generate",
		Method: http.MethodPost,
		Body:   req,
	}, c.adapt(l))
}

// Reconnect resumes an exchange discovered already in flight.
func (c *Client) Reconnect(tok *transport.Token, exchangeID string, l GenerationListener) {
	q := url.Values{}
	q.Set("exchange-id", exchangeID)
	c.stream.Open(tok, transport.Request{
		URL:    c.baseURL + "/generate/reconnect?" + q.Encode(),
		Method: http.MethodGet,
	}, c.adapt(l))
}

// Retry re-drives a FAILED exchange.
func (c *Client) Retry(tok *transport.Token, exchangeID string, l GenerationListener) {
	c.stream.Open(tok, transport.Request{
		URL:    c.baseURL + "/generate/retry",
		Method: http.MethodPost,
		Body:   exchangeIDBody{ExchangeID: exchangeID},
	}, c.adapt(l))
}

// Cancel asks the server to stop an exchange.
func (c *Client) Cancel(ctx context.Context, exchangeID string) error {
	return c.do(ctx, http.MethodPost, "/generate/cancel", exchangeIDBody{ExchangeID: exchangeID}, nil, 0)
}

// Revert rolls back a SUCCESSFUL exchange. Server-side reverts are slow, so
// this uses the extended revert timeout.
func (c *Client) Revert(ctx context.Context, exchangeID string) error {
	return c.do(ctx, http.MethodPost, "/generate/revert", exchangeIDBody{ExchangeID: exchangeID}, nil, c.revertTimeout)
}

// FetchHistory returns a page of exchanges, newest first.
func (c *Client) FetchHistory(ctx context.Context, q HistoryQuery) (exchange.Page[exchange.Exchange], error) {
	if q.PageSize <= 0 {
		q.PageSize = DefaultHistoryPageSize
	}
	var page exchange.Page[exchange.Exchange]
	if err := c.do(ctx, http.MethodPost, "/generate/history", q, &page, 0); err != nil {
		return exchange.Page[exchange.Exchange]{}, err
	}
	return page, nil
}

func (c *Client) adapt(l GenerationListener) transport.Listener {
	return &snapshotDecoder{target: l, logger: c.logger}
}

// snapshotDecoder turns raw SSE events into exchange snapshots. Undecodable
// payloads are logged and dropped; the stream stays open.
type snapshotDecoder struct {
	target GenerationListener
	logger *log.Logger
}

func (d *snapshotDecoder) OnOpen(int) error { return nil }

func (d *snapshotDecoder) OnMessage(ev sse.Event) {
	if ev.Name != GenerationEvent || ev.Data == "" {
		return
	}
	var ex exchange.Exchange
	if err := json.Unmarshal([]byte(ev.Data), &ex); err != nil {
		d.logger.Printf("component=api action=decode_snapshot err=%v data=%q", err, truncate(ev.Data, 200))
		return
	}
	d.target.OnSnapshot(ex)
}

func (d *snapshotDecoder) OnClose()          { d.target.OnClose() }
func (d *snapshotDecoder) OnError(err error) { d.target.OnError(err) }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
