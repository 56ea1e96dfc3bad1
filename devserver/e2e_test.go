// ABOUTME: End-to-end tests: orchestrator, backend client and stream transport against a live development backend.
package devserver_test

import (
	"context"
	"io"
	"log"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/2389-research/kiwi/api"
	"github.com/2389-research/kiwi/apps"
	"github.com/2389-research/kiwi/auth"
	"github.com/2389-research/kiwi/devserver"
	"github.com/2389-research/kiwi/exchange"
	"github.com/2389-research/kiwi/orchestrator"
)

type harness struct {
	orch *orchestrator.Orchestrator
	apps *apps.Collection
	url  string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	quiet := log.New(io.Discard, "", 0)
	srv := devserver.New(devserver.Config{Token: "e2e", StepDelay: 40 * time.Millisecond, Logger: quiet})
	ts := httptest.NewServer(srv)

	boundary := auth.NewBoundary(auth.NewMemoryStore("e2e"), nil, quiet)
	client := api.New(ts.URL, boundary, api.WithLogger(quiet))
	collection := apps.NewCollection()
	policy := api.RetryPolicy{MaxRetries: 5, Delay: 20 * time.Millisecond}
	orch := orchestrator.New(orchestrator.Options{
		Backend:      client,
		Apps:         collection,
		Logger:       quiet,
		HistoryRetry: &policy,
	})
	t.Cleanup(func() {
		orch.Close()
		ts.Close()
		srv.Close()
	})
	return &harness{orch: orch, apps: collection, url: ts.URL}
}

func (h *harness) waitFor(t *testing.T, cond func(s orchestrator.State) bool) orchestrator.State {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		s := h.orch.State()
		if cond(s) {
			return s
		}
		if time.Now().After(deadline) {
			t.Fatalf("state never settled, last: generating=%v active=%v history=%d err=%q",
				s.Generating, s.ActiveExchange != nil, len(s.History), s.Err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func settled(n int, status exchange.Status) func(s orchestrator.State) bool {
	return func(s orchestrator.State) bool {
		return !s.Generating && s.ActiveExchange == nil && len(s.History) == n && s.History[n-1].Status == status
	}
}

func TestNewApplicationGeneratesEndToEnd(t *testing.T) {
	h := newHarness(t)

	h.orch.SendMessage("Build a todo app")
	s := h.orch.State()
	if s.ActiveExchange == nil || !s.ActiveExchange.IsPlaceholder() {
		t.Fatalf("expected a placeholder active exchange, got %+v", s.ActiveExchange)
	}

	s = h.waitFor(t, settled(1, exchange.StatusSuccessful))
	done := s.History[0]
	if done.Prompt != "Build a todo app" {
		t.Errorf("expected prompt %q, got %q", "Build a todo app", done.Prompt)
	}
	if done.IsPlaceholder() {
		t.Error("expected the settled exchange to carry a server id")
	}
	if len(done.Stages) != 2 {
		t.Fatalf("expected 2 stages, got %d", len(done.Stages))
	}

	sel := h.apps.Selected()
	if sel == nil {
		t.Fatal("expected the new application to be selected")
	}
	if sel.ID != done.AppID {
		t.Errorf("expected selected app %q, got %q", done.AppID, sel.ID)
	}
	if sel.Name != "Build A Todo App" {
		t.Errorf("expected name %q, got %q", "Build A Todo App", sel.Name)
	}
	if h.apps.PendingRename(sel.ID) {
		t.Error("expected the pending rename to be cleared")
	}

	wantPreview := h.url + "/preview/" + sel.ID + "?" + orchestrator.CacheBustParam + "="
	if !strings.HasPrefix(s.ProductURL, wantPreview) {
		t.Errorf("expected product url to start with %q, got %q", wantPreview, s.ProductURL)
	}
	if want := h.url + "/manage/" + sel.ID; s.ManagementURL != want {
		t.Errorf("expected management url %q, got %q", want, s.ManagementURL)
	}
}

func TestRetryAndRevertEndToEnd(t *testing.T) {
	h := newHarness(t)

	h.orch.SendMessage("flaky service " + devserver.FailMarker)
	s := h.waitFor(t, settled(1, exchange.StatusFailed))
	failed := s.History[0]
	if msg := exchange.Deref(failed.ErrorMessage); !strings.Contains(msg, "Backend build failed") {
		t.Errorf("expected backend failure message, got %q", msg)
	}

	h.orch.RetryGeneration(failed.ID)
	s = h.waitFor(t, settled(1, exchange.StatusSuccessful))
	if s.History[0].ID != failed.ID {
		t.Errorf("expected retry to reuse %q, got %q", failed.ID, s.History[0].ID)
	}

	if !h.orch.CanRevert(failed.ID) {
		t.Fatal("expected the retried exchange to be revertible")
	}
	if err := h.orch.RevertGeneration(context.Background(), failed.ID); err != nil {
		t.Fatalf("revert: %v", err)
	}
	s = h.orch.State()
	if s.History[0].Status != exchange.StatusReverted {
		t.Errorf("expected status %s, got %s", exchange.StatusReverted, s.History[0].Status)
	}
	if s.Reverting {
		t.Error("expected reverting flag cleared")
	}
}

func TestCancelEndToEnd(t *testing.T) {
	h := newHarness(t)

	h.orch.SendMessage("first turn")
	h.waitFor(t, settled(1, exchange.StatusSuccessful))

	h.orch.SendMessage("second turn")
	s := h.waitFor(t, func(s orchestrator.State) bool {
		return s.ActiveExchange != nil && !s.ActiveExchange.IsPlaceholder()
	})
	h.orch.CancelGeneration(context.Background(), s.ActiveExchange.ID)

	s = h.orch.State()
	if len(s.History) != 2 {
		t.Fatalf("expected 2 exchanges, got %d", len(s.History))
	}
	if s.History[1].Status != exchange.StatusCancelled {
		t.Errorf("expected status %s, got %s", exchange.StatusCancelled, s.History[1].Status)
	}
	if s.Generating {
		t.Error("expected generating cleared after cancel")
	}

	if err := h.orch.FetchExchangeHistory(context.Background()); err != nil {
		t.Fatalf("fetch history: %v", err)
	}
	s = h.orch.State()
	if len(s.History) != 2 {
		t.Fatalf("expected 2 exchanges after refetch, got %d", len(s.History))
	}
	if s.History[0].Prompt != "first turn" {
		t.Errorf("expected oldest prompt %q, got %q", "first turn", s.History[0].Prompt)
	}
	if s.History[1].Status != exchange.StatusCancelled {
		t.Errorf("expected status %s after refetch, got %s", exchange.StatusCancelled, s.History[1].Status)
	}
}
