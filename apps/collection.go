// ABOUTME: In-memory Application Collection: the app list, the selected app and the "just auto-created" marker.
// ABOUTME: Selection observers let the host react to selection changes, e.g. an application created by a generation.
package apps

import (
	"context"
	"sync"

	"github.com/2389-research/kiwi/api"
	"github.com/2389-research/kiwi/exchange"
)

// SelectOptions qualifies a selection.
type SelectOptions struct {
	// IsNew marks the application as auto-created by a generation job, so the
	// host can avoid a jarring reset and the orchestrator can pick up the
	// server-assigned name once it exists.
	IsNew bool
}

// SelectFunc observes selection changes. app is nil in "new application" mode.
type SelectFunc func(app *exchange.Application, opts SelectOptions)

// Searcher is the slice of the backend client the collection needs.
type Searcher interface {
	SearchApplications(ctx context.Context, q api.AppQuery) (exchange.Page[exchange.Application], error)
	DeleteApplication(ctx context.Context, id string) error
}

// Collection is safe for concurrent use. Observers run synchronously after
// the collection lock is released.
type Collection struct {
	mu        sync.RWMutex
	apps      []exchange.Application
	selected  *exchange.Application
	newAppID  string
	observers []SelectFunc
}

// NewCollection returns an empty collection in "new application" mode.
func NewCollection() *Collection {
	return &Collection{}
}

// List returns a copy of the applications, newest first.
func (c *Collection) List() []exchange.Application {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]exchange.Application(nil), c.apps...)
}

func (c *Collection) replace(list []exchange.Application) {
	c.mu.Lock()
	c.apps = append([]exchange.Application(nil), list...)
	c.mu.Unlock()
}

// Add prepends app.
func (c *Collection) Add(app exchange.Application) {
	c.mu.Lock()
	c.apps = append([]exchange.Application{app}, c.apps...)
	c.mu.Unlock()
}

// Update replaces the entry with app's id, and the selection if it matches.
func (c *Collection) Update(app exchange.Application) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.apps {
		if c.apps[i].ID == app.ID {
			c.apps[i] = app
		}
	}
	if c.selected != nil && c.selected.ID == app.ID {
		sel := app
		c.selected = &sel
	}
}

// Remove drops the entry with id, deselecting it if selected.
func (c *Collection) Remove(id string) {
	c.mu.Lock()
	out := c.apps[:0]
	for _, a := range c.apps {
		if a.ID != id {
			out = append(out, a)
		}
	}
	c.apps = out
	deselect := c.selected != nil && c.selected.ID == id
	c.mu.Unlock()

	if deselect {
		c.Select(nil, SelectOptions{})
	}
}

// Select changes the selected application. Selecting with IsNew sets the
// one-shot pending-rename marker; any other selection clears it.
func (c *Collection) Select(app *exchange.Application, opts SelectOptions) {
	c.mu.Lock()
	if app == nil {
		c.selected = nil
	} else {
		sel := *app
		c.selected = &sel
	}
	c.newAppID = ""
	if opts.IsNew && app != nil {
		c.newAppID = app.ID
	}
	observers := append([]SelectFunc(nil), c.observers...)
	selected := c.selectedCopy()
	c.mu.Unlock()

	for _, fn := range observers {
		fn(selected, opts)
	}
}

// Lookup returns the listed application with id.
func (c *Collection) Lookup(id string) (exchange.Application, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, a := range c.apps {
		if a.ID == id {
			return a, true
		}
	}
	return exchange.Application{}, false
}

// Selected returns a copy of the selected application, or nil.
func (c *Collection) Selected() *exchange.Application {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.selectedCopy()
}

// PendingRename reports whether appID was just auto-created and still
// awaits its server-assigned name.
func (c *Collection) PendingRename(appID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return appID != "" && c.newAppID == appID
}

// ClearPendingRename drops the one-shot marker.
func (c *Collection) ClearPendingRename() {
	c.mu.Lock()
	c.newAppID = ""
	c.mu.Unlock()
}

// OnSelect registers an observer for selection changes.
func (c *Collection) OnSelect(fn SelectFunc) {
	c.mu.Lock()
	c.observers = append(c.observers, fn)
	c.mu.Unlock()
}

// Refresh reloads the list from the backend with q. q.NewlyChangedID names
// an application just created or renamed, so the server can include it even
// before its search index catches up. On failure the list is emptied and the
// error returned.
func (c *Collection) Refresh(ctx context.Context, s Searcher, q api.AppQuery) ([]exchange.Application, error) {
	if q.Page <= 0 {
		q.Page = 1
	}
	if q.PageSize <= 0 {
		q.PageSize = api.DefaultHistoryPageSize
	}
	page, err := s.SearchApplications(ctx, q)
	if err != nil {
		c.replace(nil)
		return nil, err
	}
	c.replace(page.Items)
	return c.List(), nil
}

// Delete removes the application on the backend, then locally.
func (c *Collection) Delete(ctx context.Context, s Searcher, id string) error {
	if err := s.DeleteApplication(ctx, id); err != nil {
		return err
	}
	c.Remove(id)
	return nil
}

func (c *Collection) selectedCopy() *exchange.Application {
	if c.selected == nil {
		return nil
	}
	sel := *c.selected
	return &sel
}
