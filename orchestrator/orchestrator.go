// ABOUTME: Exchange Generation Orchestrator: owns the single active generation stream and the exchange history.
// ABOUTME: Commands (send, retry, cancel, revert) and stream callbacks are the only mutators of its state.
package orchestrator

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/2389-research/kiwi/api"
	"github.com/2389-research/kiwi/apps"
	"github.com/2389-research/kiwi/exchange"
	"github.com/2389-research/kiwi/transport"
)

const (
	DefaultConnectionErrorMessage = "Connection to the generation service was lost. Please try again."
	DefaultStreamClosedMessage    = "The generation stream closed unexpectedly."
)

// ErrNoHistory is returned by FetchExchangeHistory when the selected
// application has no exchanges yet, which right after creation usually means
// the backend has not caught up.
var ErrNoHistory = errors.New("no exchange history found")

// Backend is the ExchangeAPI surface the orchestrator drives.
type Backend interface {
	StartGeneration(tok *transport.Token, req api.GenerateRequest, l api.GenerationListener)
	Reconnect(tok *transport.Token, exchangeID string, l api.GenerationListener)
	Retry(tok *transport.Token, exchangeID string, l api.GenerationListener)
	Cancel(ctx context.Context, exchangeID string) error
	Revert(ctx context.Context, exchangeID string) error
	FetchHistory(ctx context.Context, q api.HistoryQuery) (exchange.Page[exchange.Exchange], error)
	GetApplication(ctx context.Context, id string) (exchange.Application, error)
}

// Applications is the part of the Application Collection the orchestrator
// reads and mutates as a side effect of generation.
type Applications interface {
	Selected() *exchange.Application
	Add(app exchange.Application)
	Update(app exchange.Application)
	Select(app *exchange.Application, opts apps.SelectOptions)
	PendingRename(appID string) bool
	ClearPendingRename()
}

// Preferences persists the user's preview toggle.
type Preferences interface {
	PreviewEnabled() bool
	SetPreviewEnabled(enabled bool) error
}

// Options configures New. Backend and Apps are required.
type Options struct {
	Backend Backend
	Apps    Applications
	Prefs   Preferences
	Logger  *log.Logger
	Now     func() time.Time

	// Context bounds every stream and background task. Defaults to Background.
	Context context.Context

	HistoryPageSize int
	HistoryRetry    *api.RetryPolicy

	ConnectionErrorMessage string
	StreamClosedMessage    string
}

// State is an immutable snapshot of the orchestrator.
type State struct {
	ActiveExchange *exchange.Exchange
	History        []exchange.Exchange // oldest first
	Generating     bool
	Reverting      bool
	PreviewEnabled bool
	ProductURL     string
	ManagementURL  string
	// Err is the last background failure worth showing, e.g. history
	// discovery that ran out of retries after an application was created.
	Err string
}

// Orchestrator is safe for concurrent use. It performs no network I/O while
// holding its lock.
type Orchestrator struct {
	backend Backend
	apps    Applications
	prefs   Preferences
	logger  *log.Logger
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	bg     sync.WaitGroup

	pageSize     int
	historyRetry api.RetryPolicy
	connErrMsg   string
	closedMsg    string

	broadcaster stateBroadcaster

	mu             sync.Mutex
	active         *exchange.Exchange
	history        []exchange.Exchange
	generating     bool
	reverting      bool
	previewEnabled bool
	productURL     string
	managementURL  string
	lastErr        string
	token          *transport.Token
	// epoch increments whenever a command replaces the current view, so a
	// history fetch that finishes late can tell its result is stale.
	epoch uint64
}

// New builds an Orchestrator. The host owns its lifetime and must Close it.
func New(opts Options) *Orchestrator {
	parent := opts.Context
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	o := &Orchestrator{
		backend:        opts.Backend,
		apps:           opts.Apps,
		prefs:          opts.Prefs,
		logger:         opts.Logger,
		now:            opts.Now,
		ctx:            ctx,
		cancel:         cancel,
		pageSize:       opts.HistoryPageSize,
		connErrMsg:     opts.ConnectionErrorMessage,
		closedMsg:      opts.StreamClosedMessage,
		previewEnabled: true,
	}
	if o.logger == nil {
		o.logger = log.Default()
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.pageSize <= 0 {
		o.pageSize = api.DefaultHistoryPageSize
	}
	if opts.HistoryRetry != nil {
		o.historyRetry = *opts.HistoryRetry
	} else {
		o.historyRetry = api.HistoryRetryPolicy()
	}
	if o.connErrMsg == "" {
		o.connErrMsg = DefaultConnectionErrorMessage
	}
	if o.closedMsg == "" {
		o.closedMsg = DefaultStreamClosedMessage
	}
	if o.prefs != nil {
		o.previewEnabled = o.prefs.PreviewEnabled()
	}
	return o
}

// State returns a deep copy of the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stateLocked()
}

// Subscribe returns a channel of state snapshots and a function to stop
// receiving them. The current state is delivered first. After Close the
// channel comes back already closed.
func (o *Orchestrator) Subscribe() (<-chan State, func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	ch, ok := o.broadcaster.subscribe()
	if ok {
		ch <- o.stateLocked()
	}
	return ch, func() { o.broadcaster.unsubscribe(ch) }
}

// Close aborts the current stream, stops background work and closes every
// subscription.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.token.Cancel()
	o.token = nil
	o.mu.Unlock()
	o.cancel()
	o.bg.Wait()

	o.mu.Lock()
	o.broadcaster.closeAll()
	o.mu.Unlock()
}

// SendOption adjusts a SendMessage request.
type SendOption func(*api.GenerateRequest)

// WithAttachments attaches uploaded file URLs to the prompt.
func WithAttachments(urls ...string) SendOption {
	return func(r *api.GenerateRequest) { r.AttachmentURLs = append(r.AttachmentURLs, urls...) }
}

// WithSkipPageGeneration asks the backend to skip the page generation stage.
func WithSkipPageGeneration() SendOption {
	return func(r *api.GenerateRequest) { r.SkipPageGeneration = true }
}

// SendMessage starts a generation for prompt. Blank prompts are ignored.
// Any running stream is cancelled before the new request is issued.
func (o *Orchestrator) SendMessage(prompt string, opts ...SendOption) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return
	}

	var appID string
	if sel := o.apps.Selected(); sel != nil {
		appID = sel.ID
	}
	req := api.GenerateRequest{Prompt: prompt, AppID: appID}
	for _, opt := range opts {
		opt(&req)
	}

	o.mu.Lock()
	tok := o.replaceTokenLocked()
	o.generating = true
	o.lastErr = ""
	placeholder := exchange.NewPlaceholder(prompt, appID, o.now())
	o.active = &placeholder
	o.publishLocked()
	o.mu.Unlock()

	o.logger.Printf("component=orchestrator action=send app=%q", appID)
	o.backend.StartGeneration(tok, req, o.listener(tok, prompt))
}

// RetryGeneration re-drives a FAILED history entry. It is a no-op while a
// generation is running or when no FAILED entry has exchangeID.
func (o *Orchestrator) RetryGeneration(exchangeID string) {
	o.mu.Lock()
	if o.generating {
		o.mu.Unlock()
		return
	}
	idx := o.historyIndexLocked(exchangeID)
	if idx < 0 || o.history[idx].Status != exchange.StatusFailed {
		o.mu.Unlock()
		return
	}
	entry := o.history[idx]
	o.history = append(o.history[:idx:idx], o.history[idx+1:]...)

	tok := o.replaceTokenLocked()
	o.generating = true
	o.lastErr = ""
	retrying := entry.WithStatus(exchange.StatusPlanning)
	o.active = &retrying
	o.publishLocked()
	o.mu.Unlock()

	o.logger.Printf("component=orchestrator action=retry exchange=%s", exchangeID)
	o.backend.Retry(tok, exchangeID, o.listener(tok, entry.Prompt))
}

// CancelGeneration asks the backend to cancel exchangeID and applies the
// cancellation locally whether or not that call succeeded: the server may
// never emit a terminal event after a cancel.
func (o *Orchestrator) CancelGeneration(ctx context.Context, exchangeID string) {
	if err := o.backend.Cancel(ctx, exchangeID); err != nil {
		o.logger.Printf("component=orchestrator action=cancel exchange=%s err=%v", exchangeID, err)
	}

	o.mu.Lock()
	switch {
	case o.active != nil && o.active.ID == exchangeID:
		o.finalizeLocked(o.active.WithStatus(exchange.StatusCancelled))
	case o.historyIndexLocked(exchangeID) >= 0:
		idx := o.historyIndexLocked(exchangeID)
		o.history[idx] = o.history[idx].WithStatus(exchange.StatusCancelled)
	default:
		o.mu.Unlock()
		return
	}
	o.publishLocked()
	o.mu.Unlock()
}

// CanRevert reports whether exchangeID is the newest history entry, is
// SUCCESSFUL, and nothing is generating or reverting. The view layer uses it
// to guard RevertGeneration.
func (o *Orchestrator) CanRevert(exchangeID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.generating || o.reverting || len(o.history) == 0 {
		return false
	}
	last := o.history[len(o.history)-1]
	return last.ID == exchangeID && last.Status == exchange.StatusSuccessful
}

// RevertGeneration reverts exchangeID on the backend and marks it REVERTED.
// The reverting flag is always cleared; on failure the entry is left as-is
// and the error returned.
func (o *Orchestrator) RevertGeneration(ctx context.Context, exchangeID string) error {
	o.mu.Lock()
	if o.historyIndexLocked(exchangeID) < 0 {
		o.mu.Unlock()
		return nil
	}
	o.reverting = true
	o.publishLocked()
	o.mu.Unlock()

	err := o.backend.Revert(ctx, exchangeID)

	o.mu.Lock()
	o.reverting = false
	if err == nil {
		if idx := o.historyIndexLocked(exchangeID); idx >= 0 {
			o.history[idx] = o.history[idx].WithStatus(exchange.StatusReverted)
		}
	}
	o.publishLocked()
	o.mu.Unlock()

	if err != nil {
		o.logger.Printf("component=orchestrator action=revert exchange=%s err=%v", exchangeID, err)
	}
	return err
}

// TogglePreviewEnabled flips and persists the preview preference.
func (o *Orchestrator) TogglePreviewEnabled() bool {
	o.mu.Lock()
	o.previewEnabled = !o.previewEnabled
	enabled := o.previewEnabled
	o.publishLocked()
	o.mu.Unlock()

	if o.prefs != nil {
		if err := o.prefs.SetPreviewEnabled(enabled); err != nil {
			o.logger.Printf("component=orchestrator action=save_preview err=%v", err)
		}
	}
	return enabled
}

// replaceTokenLocked cancels the owned token before minting its successor,
// so the old stream is abandoned before the new request goes out.
func (o *Orchestrator) replaceTokenLocked() *transport.Token {
	o.token.Cancel()
	o.token = transport.NewToken(o.ctx)
	o.epoch++
	return o.token
}

// finalizeLocked moves a terminal exchange into history and releases the stream.
func (o *Orchestrator) finalizeLocked(ex exchange.Exchange) {
	o.history = append(o.history, ex)
	o.active = nil
	o.generating = false
	o.token.Cancel()
	o.token = nil
	o.refreshPreviewLocked()
}

func (o *Orchestrator) refreshPreviewLocked() {
	product, management := previewURLs(o.active, o.history)
	if product != "" {
		o.productURL = withCacheBuster(product, o.now())
	}
	if management != "" {
		o.managementURL = management
	}
}

func (o *Orchestrator) historyIndexLocked(id string) int {
	for i := range o.history {
		if o.history[i].ID == id {
			return i
		}
	}
	return -1
}

// publishLocked sends the current state to subscribers. Publishing under o.mu
// delivers snapshots in the order the mutations happened.
func (o *Orchestrator) publishLocked() {
	o.broadcaster.broadcast(o.stateLocked())
}

func (o *Orchestrator) stateLocked() State {
	s := State{
		Generating:     o.generating,
		Reverting:      o.reverting,
		PreviewEnabled: o.previewEnabled,
		ProductURL:     o.productURL,
		ManagementURL:  o.managementURL,
		Err:            o.lastErr,
		History:        make([]exchange.Exchange, len(o.history)),
	}
	if o.active != nil {
		a := o.active.Clone()
		s.ActiveExchange = &a
	}
	for i := range o.history {
		s.History[i] = o.history[i].Clone()
	}
	return s
}

// goBackground runs fn on a tracked goroutine bound to the orchestrator's lifetime.
func (o *Orchestrator) goBackground(fn func(ctx context.Context)) {
	o.bg.Add(1)
	go func() {
		defer o.bg.Done()
		fn(o.ctx)
	}()
}
