// ABOUTME: Stream callbacks: reconciles every streamed Exchange snapshot into orchestrator state.
// ABOUTME: Each listener is bound to the token it was opened with so late callbacks from a replaced stream are ignored.
package orchestrator

import (
	"context"

	"github.com/2389-research/kiwi/apps"
	"github.com/2389-research/kiwi/exchange"
	"github.com/2389-research/kiwi/transport"
)

type streamListener struct {
	o      *Orchestrator
	tok    *transport.Token
	prompt string
}

func (o *Orchestrator) listener(tok *transport.Token, prompt string) *streamListener {
	return &streamListener{o: o, tok: tok, prompt: prompt}
}

func (l *streamListener) OnSnapshot(ex exchange.Exchange) { l.o.receiveSnapshot(l.tok, ex, l.prompt) }
func (l *streamListener) OnClose()                        { l.o.onStreamClose(l.tok) }
func (l *streamListener) OnError(err error)               { l.o.onStreamError(l.tok, err) }

// owns reports whether tok is still the live token.
func (o *Orchestrator) owns(tok *transport.Token) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.token == tok && !tok.Cancelled()
}

func (o *Orchestrator) receiveSnapshot(tok *transport.Token, ex exchange.Exchange, prompt string) {
	if !o.owns(tok) {
		return
	}

	if ex.AppID != "" && o.apps.Selected() == nil {
		o.adoptApplication(tok, ex.AppID)
	}
	o.captureApplicationName(ex)

	o.mu.Lock()
	// adoptApplication cancels tok itself, so only identity matters here.
	if o.token != tok {
		o.mu.Unlock()
		return
	}
	if prompt != "" {
		ex.Prompt = prompt
	}
	if ex.Status.IsTerminal() {
		o.finalizeLocked(ex)
	} else {
		o.active = &ex
	}
	o.publishLocked()
	o.mu.Unlock()
}

// adoptApplication handles the first snapshot that reveals a freshly created
// application. The stream that announced it is abandoned, the application is
// selected as new, and a background history sync reconnects to the job that
// is still running for it.
func (o *Orchestrator) adoptApplication(tok *transport.Token, appID string) {
	tok.Cancel()
	o.logger.Printf("component=orchestrator action=adopt_app app=%s", appID)

	app, err := o.backend.GetApplication(o.ctx, appID)
	if err != nil {
		o.logger.Printf("component=orchestrator action=adopt_app app=%s err=%v", appID, err)
		app = exchange.Application{ID: appID}
	}
	o.apps.Add(app)
	o.apps.Select(&app, apps.SelectOptions{IsNew: true})

	o.goBackground(func(ctx context.Context) {
		if err := o.SyncHistory(ctx); err != nil && ctx.Err() == nil {
			o.logger.Printf("component=orchestrator action=sync_history app=%s err=%v", appID, err)
		}
	})
}

// captureApplicationName refreshes an auto-created application once its
// backend stage has started, which is when the server has named it.
func (o *Orchestrator) captureApplicationName(ex exchange.Exchange) {
	sel := o.apps.Selected()
	if sel == nil || !o.apps.PendingRename(sel.ID) {
		return
	}
	stage, ok := ex.Stage(exchange.StageTypeBackend)
	if !ok || (stage.Status != exchange.StageGenerating && stage.Status != exchange.StageSuccessful) {
		return
	}

	app, err := o.backend.GetApplication(o.ctx, sel.ID)
	o.apps.ClearPendingRename()
	if err != nil {
		o.logger.Printf("component=orchestrator action=rename_app app=%s err=%v", sel.ID, err)
		return
	}
	o.apps.Update(app)
}

// onStreamClose treats a close before any terminal snapshot as a failure:
// the job may still be running server-side but this client has lost it.
func (o *Orchestrator) onStreamClose(tok *transport.Token) {
	o.mu.Lock()
	if o.token != tok {
		o.mu.Unlock()
		return
	}
	o.abandonLocked(o.closedMsg)
	o.publishLocked()
	o.mu.Unlock()
}

func (o *Orchestrator) onStreamError(tok *transport.Token, err error) {
	o.mu.Lock()
	if o.token != tok {
		o.mu.Unlock()
		return
	}
	if tok.Cancelled() {
		o.generating = false
		o.token = nil
		o.publishLocked()
		o.mu.Unlock()
		return
	}
	o.abandonLocked(o.connErrMsg)
	o.publishLocked()
	o.mu.Unlock()

	o.logger.Printf("component=orchestrator action=stream_error err=%v", err)
}

// abandonLocked ends the current stream, failing the active exchange locally
// with msg if there is one.
func (o *Orchestrator) abandonLocked(msg string) {
	if o.active == nil {
		o.generating = false
		o.token.Cancel()
		o.token = nil
		return
	}
	failed := o.active.WithStatus(exchange.StatusFailed)
	failed.ErrorMessage = exchange.StringPtr(msg)
	o.finalizeLocked(failed)
}
