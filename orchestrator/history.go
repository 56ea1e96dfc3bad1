// ABOUTME: Exchange history discovery for the selected application.
// ABOUTME: Rebuilds history from the backend and reconnects to a generation that is still running.
package orchestrator

import (
	"context"
	"errors"

	"github.com/2389-research/kiwi/api"
	"github.com/2389-research/kiwi/apps"
	"github.com/2389-research/kiwi/auth"
	"github.com/2389-research/kiwi/exchange"
)

// FetchExchangeHistory abandons any stream, clears the view and reloads the
// selected application's exchanges. A running exchange becomes the active one
// and a reconnect stream is opened for it. Returns ErrNoHistory when the
// application has no exchanges.
func (o *Orchestrator) FetchExchangeHistory(ctx context.Context) error {
	o.mu.Lock()
	o.token.Cancel()
	o.token = nil
	o.epoch++
	epoch := o.epoch
	o.active = nil
	o.history = nil
	o.generating = false
	o.productURL = ""
	o.managementURL = ""
	o.publishLocked()
	o.mu.Unlock()

	sel := o.apps.Selected()
	if sel == nil {
		return nil
	}

	page, err := o.backend.FetchHistory(ctx, api.HistoryQuery{AppID: sel.ID, Page: 1, PageSize: o.pageSize})
	if err != nil {
		return err
	}
	if len(page.Items) == 0 {
		return ErrNoHistory
	}

	// The server lists newest first; history is kept oldest first.
	var running *exchange.Exchange
	completed := make([]exchange.Exchange, 0, len(page.Items))
	for i := len(page.Items) - 1; i >= 0; i-- {
		ex := page.Items[i]
		if ex.Status.IsRunning() && running == nil {
			running = &ex
			continue
		}
		completed = append(completed, ex)
	}

	o.mu.Lock()
	if o.epoch != epoch {
		o.mu.Unlock()
		o.logger.Printf("component=orchestrator action=fetch_history app=%s result=superseded", sel.ID)
		return nil
	}
	o.history = completed
	o.active = running
	o.refreshPreviewLocked()
	if running == nil {
		o.publishLocked()
		o.mu.Unlock()
		return nil
	}
	tok := o.replaceTokenLocked()
	o.generating = true
	o.publishLocked()
	o.mu.Unlock()

	o.logger.Printf("component=orchestrator action=reconnect exchange=%s", running.ID)
	o.backend.Reconnect(tok, running.ID, o.listener(tok, ""))
	return nil
}

// SyncHistory runs FetchExchangeHistory under the history retry policy,
// absorbing the lag between creating an application and its first exchange
// becoming visible. It stops early if a command replaces the view meanwhile.
// A final failure is also recorded in State.Err.
func (o *Orchestrator) SyncHistory(ctx context.Context) error {
	o.mu.Lock()
	seen := o.epoch
	o.mu.Unlock()

	policy := o.historyRetry
	policy.ShouldRetry = func(err error) bool {
		return errors.Is(err, ErrNoHistory) || (api.IsRetryable(err) && !errors.Is(err, auth.ErrUnauthorized))
	}
	policy.OnRetry = func(err error, attempt int) {
		o.logger.Printf("component=orchestrator action=sync_history attempt=%d err=%v", attempt+1, err)
	}

	err := api.Retry(ctx, policy, func() error {
		o.mu.Lock()
		superseded := o.epoch != seen
		o.mu.Unlock()
		if superseded {
			return nil
		}
		err := o.FetchExchangeHistory(ctx)
		o.mu.Lock()
		seen = o.epoch
		o.mu.Unlock()
		return err
	})
	if err != nil {
		o.mu.Lock()
		o.lastErr = err.Error()
		o.publishLocked()
		o.mu.Unlock()
	}
	return err
}

// SwitchApplication selects app (nil for "new application" mode) and loads
// its history. Selecting the already-selected application does nothing.
func (o *Orchestrator) SwitchApplication(ctx context.Context, app *exchange.Application) error {
	cur := o.apps.Selected()
	if (cur == nil && app == nil) || (cur != nil && app != nil && cur.ID == app.ID) {
		return nil
	}
	o.apps.Select(app, apps.SelectOptions{})

	o.mu.Lock()
	o.lastErr = ""
	o.mu.Unlock()

	err := o.FetchExchangeHistory(ctx)
	if errors.Is(err, ErrNoHistory) {
		return nil
	}
	return err
}
