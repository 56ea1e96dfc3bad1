// ABOUTME: Tests for the backend client: request shapes, error mapping, timeouts and snapshot decoding.
// ABOUTME: Uses an httptest server standing in for the generation backend.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/2389-research/kiwi/auth"
	"github.com/2389-research/kiwi/exchange"
	"github.com/2389-research/kiwi/sse"
	"github.com/2389-research/kiwi/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedRequest struct {
	Method string
	Path   string
	Query  string
	Body   map[string]any
	Auth   string
}

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) (*Client, *auth.MemoryStore) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	store := auth.NewMemoryStore("tok")
	opts = append([]Option{WithLogger(log.New(io.Discard, "", 0))}, opts...)
	return New(srv.URL+"/api/", auth.NewBoundary(store, nil, nil), opts...), store
}

func capture(r *http.Request) capturedRequest {
	c := capturedRequest{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery, Auth: r.Header.Get("Authorization")}
	_ = json.NewDecoder(r.Body).Decode(&c.Body)
	return c
}

func TestCancelAndRevertRequestShape(t *testing.T) {
	var got []capturedRequest
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = append(got, capture(r))
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, c.Cancel(context.Background(), "ex-1"))
	require.NoError(t, c.Revert(context.Background(), "ex-2"))

	require.Len(t, got, 2)
	assert.Equal(t, "/api/generate/cancel", got[0].Path)
	assert.Equal(t, "ex-1", got[0].Body["exchangeId"])
	assert.Equal(t, "Bearer tok", got[0].Auth)
	assert.Equal(t, "/api/generate/revert", got[1].Path)
	assert.Equal(t, "ex-2", got[1].Body["exchangeId"])
}

func TestRevertUsesLongerTimeout(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(80 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}, WithTimeout(20*time.Millisecond), WithRevertTimeout(2*time.Second))

	err := c.Cancel(context.Background(), "ex-1")
	require.Error(t, err)
	assert.True(t, IsRetryable(err))

	assert.NoError(t, c.Revert(context.Background(), "ex-1"))
}

func TestErrorMessageFromBody(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"message":"exchange is not revertible"}`))
	})

	err := c.Revert(context.Background(), "ex-1")
	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, "exchange is not revertible", apiErr.Error())
	assert.False(t, IsRetryable(err))
}

func TestErrorWithoutMessage(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`not json`))
	})
	_, err := c.GetApplication(context.Background(), "missing")
	assert.True(t, IsNotFound(err))
	assert.Equal(t, "API request failed with status 404", err.Error())
}

func TestUnauthorizedGoesThroughBoundary(t *testing.T) {
	c, store := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	_, err := c.FetchHistory(context.Background(), HistoryQuery{AppID: "a"})
	assert.ErrorIs(t, err, auth.ErrUnauthorized)
	token, _ := store.Token()
	assert.Empty(t, token)
}

func TestFetchHistoryDefaultsPageSize(t *testing.T) {
	var got capturedRequest
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = capture(r)
		_ = json.NewEncoder(w).Encode(exchange.Page[exchange.Exchange]{
			Items: []exchange.Exchange{{ID: "b", Status: exchange.StatusSuccessful}, {ID: "a", Status: exchange.StatusFailed}},
			Total: 2,
		})
	})

	page, err := c.FetchHistory(context.Background(), HistoryQuery{AppID: "app-1"})
	require.NoError(t, err)
	assert.Equal(t, "/api/generate/history", got.Path)
	assert.Equal(t, "app-1", got.Body["appId"])
	assert.EqualValues(t, DefaultHistoryPageSize, got.Body["pageSize"])
	require.Len(t, page.Items, 2)
	assert.Equal(t, "b", page.Items[0].ID)
	assert.Equal(t, 2, page.Total)
}

func TestApplicationsEndpoints(t *testing.T) {
	var got []capturedRequest
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = append(got, capture(r))
		switch r.URL.Path {
		case "/api/app/app-1":
			if r.Method == http.MethodDelete {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			_ = json.NewEncoder(w).Encode(exchange.Application{ID: "app-1", Name: "Todo"})
		case "/api/app/search":
			_ = json.NewEncoder(w).Encode(exchange.Page[exchange.Application]{Items: []exchange.Application{{ID: "app-1"}}, Total: 1})
		case "/api/app":
			_ = json.NewEncoder(w).Encode("app-9")
		}
	})
	ctx := context.Background()

	app, err := c.GetApplication(ctx, "app-1")
	require.NoError(t, err)
	assert.Equal(t, "Todo", app.Name)

	page, err := c.SearchApplications(ctx, AppQuery{Name: "to"})
	require.NoError(t, err)
	assert.Len(t, page.Items, 1)

	id, err := c.SaveApplication(ctx, exchange.Application{Name: "New"})
	require.NoError(t, err)
	assert.Equal(t, "app-9", id)

	require.NoError(t, c.DeleteApplication(ctx, "app-1"))

	require.Len(t, got, 4)
	assert.EqualValues(t, 1, got[1].Body["page"])
	assert.Equal(t, http.MethodDelete, got[3].Method)
}

func TestLoginStoresToken(t *testing.T) {
	c, store := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body := capture(r)
		if body.Body["userName"] != "ada" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"token":"fresh"}`))
	})
	require.NoError(t, store.Clear())

	token, err := c.Login(context.Background(), "ada", "pw")
	require.NoError(t, err)
	assert.Equal(t, "fresh", token)
	stored, _ := store.Token()
	assert.Equal(t, "fresh", stored)
}

type snapshotRecorder struct {
	mu        sync.Mutex
	snapshots []exchange.Exchange
	errs      []error
	closed    chan struct{}
}

func newSnapshotRecorder() *snapshotRecorder {
	return &snapshotRecorder{closed: make(chan struct{})}
}

func (r *snapshotRecorder) OnSnapshot(ex exchange.Exchange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, ex)
}

func (r *snapshotRecorder) OnClose() { close(r.closed) }

func (r *snapshotRecorder) OnError(err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
	close(r.closed)
}

func (r *snapshotRecorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.closed:
	case <-time.After(5 * time.Second):
		t.Fatal("stream never finished")
	}
}

func TestStartGenerationDropsMalformedEvents(t *testing.T) {
	var got capturedRequest
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = capture(r)
		w.Header().Set("Content-Type", "text/event-stream")
		_ = sse.Encode(w, sse.Event{Name: GenerationEvent, Data: `{"id":"ex-1","status":"PLANNING","stages":[]}`, Retry: -1})
		_ = sse.Encode(w, sse.Event{Name: GenerationEvent, Data: `{not json`, Retry: -1})
		_ = sse.Encode(w, sse.Event{Name: "heartbeat", Data: `{}`, Retry: -1})
		_ = sse.Encode(w, sse.Event{Name: GenerationEvent, Data: `{"id":"ex-1","status":"SUCCESSFUL","stages":[]}`, Retry: -1})
	})

	rec := newSnapshotRecorder()
	c.StartGeneration(transport.NewToken(context.Background()), GenerateRequest{Prompt: "todo"}, rec)
	rec.wait(t)

	assert.Equal(t, "/api/generate", got.Path)
	assert.Equal(t, http.MethodPost, got.Method)
	assert.Equal(t, "todo", got.Body["prompt"])
	_, hasApp := got.Body["appId"]
	assert.False(t, hasApp, "appId must be omitted when no application is selected")

	require.Len(t, rec.snapshots, 2)
	assert.Equal(t, exchange.StatusPlanning, rec.snapshots[0].Status)
	assert.Equal(t, exchange.StatusSuccessful, rec.snapshots[1].Status)
	assert.Empty(t, rec.errs)
}

func TestReconnectAndRetryRequestShape(t *testing.T) {
	var got []capturedRequest
	var mu sync.Mutex
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		got = append(got, capture(r))
		mu.Unlock()
		w.Header().Set("Content-Type", "text/event-stream")
	})

	rec := newSnapshotRecorder()
	c.Reconnect(transport.NewToken(context.Background()), "ex 7", rec)
	rec.wait(t)

	rec = newSnapshotRecorder()
	c.Retry(transport.NewToken(context.Background()), "ex-8", rec)
	rec.wait(t)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 2)
	assert.Equal(t, http.MethodGet, got[0].Method)
	assert.Equal(t, "/api/generate/reconnect", got[0].Path)
	assert.Equal(t, "exchange-id=ex+7", got[0].Query)
	assert.Equal(t, http.MethodPost, got[1].Method)
	assert.Equal(t, "/api/generate/retry", got[1].Path)
	assert.Equal(t, "ex-8", got[1].Body["exchangeId"])
}
