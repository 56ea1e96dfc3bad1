// ABOUTME: In-memory applications and exchanges for the development backend.
// ABOUTME: Every exchange keeps a set of watchers that receive full snapshots as the simulated job advances.
package devserver

import (
	"context"
	"crypto/rand"
	"sort"
	"strings"
	"sync"

	"github.com/2389-research/kiwi/exchange"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

const watcherBuffer = 16

// newExchangeID returns a sortable exchange id.
func newExchangeID() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}

type record struct {
	ex       exchange.Exchange
	seq      int
	runs     int
	req      startParams
	stop     context.CancelFunc
	watchers map[chan exchange.Exchange]struct{}
}

// Store is safe for concurrent use.
type Store struct {
	mu        sync.Mutex
	apps      map[string]exchange.Application
	appOrder  []string // newest first
	exchanges map[string]*record
	seq       int
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		apps:      make(map[string]exchange.Application),
		exchanges: make(map[string]*record),
	}
}

// CreateApplication stores app, minting an id when it has none.
func (s *Store) CreateApplication(app exchange.Application) exchange.Application {
	s.mu.Lock()
	defer s.mu.Unlock()
	if app.ID == "" {
		app.ID = uuid.NewString()
	}
	if _, exists := s.apps[app.ID]; !exists {
		s.appOrder = append([]string{app.ID}, s.appOrder...)
	}
	s.apps[app.ID] = app
	return app
}

// Application returns the application with id.
func (s *Store) Application(id string) (exchange.Application, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	app, ok := s.apps[id]
	return app, ok
}

// RenameApplication sets the name if the application exists.
func (s *Store) RenameApplication(id, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if app, ok := s.apps[id]; ok {
		app.Name = name
		s.apps[id] = app
	}
}

// DeleteApplication removes the application and stops its jobs.
func (s *Store) DeleteApplication(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.apps[id]; !ok {
		return false
	}
	delete(s.apps, id)
	for i, appID := range s.appOrder {
		if appID == id {
			s.appOrder = append(s.appOrder[:i], s.appOrder[i+1:]...)
			break
		}
	}
	for exID, rec := range s.exchanges {
		if rec.ex.AppID == id {
			if rec.stop != nil {
				rec.stop()
			}
			s.closeWatchersLocked(rec)
			delete(s.exchanges, exID)
		}
	}
	return true
}

// SearchApplications pages through applications whose name contains name.
func (s *Store) SearchApplications(name string, page, pageSize int) exchange.Page[exchange.Application] {
	s.mu.Lock()
	defer s.mu.Unlock()
	needle := strings.ToLower(name)
	var matched []exchange.Application
	for _, id := range s.appOrder {
		app := s.apps[id]
		if needle == "" || strings.Contains(strings.ToLower(app.Name), needle) {
			matched = append(matched, app)
		}
	}
	return paginate(matched, page, pageSize)
}

// Insert stores a new exchange.
func (s *Store) Insert(ex exchange.Exchange, req startParams) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.exchanges[ex.ID] = &record{ex: ex, seq: s.seq, req: req, watchers: make(map[chan exchange.Exchange]struct{})}
}

// Exchange returns a copy of the exchange with id.
func (s *Store) Exchange(id string) (exchange.Exchange, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.exchanges[id]
	if !ok {
		return exchange.Exchange{}, false
	}
	return rec.ex.Clone(), true
}

// HasExchanges reports whether appID has any exchange yet.
func (s *Store) HasExchanges(appID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.exchanges {
		if rec.ex.AppID == appID {
			return true
		}
	}
	return false
}

// Running returns the ids of running exchanges of appID.
func (s *Store) Running(appID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, rec := range s.exchanges {
		if rec.ex.AppID == appID && rec.ex.Status.IsRunning() {
			ids = append(ids, id)
		}
	}
	return ids
}

// History pages through appID's exchanges newest first, optionally
// filtered by a prompt substring.
func (s *Store) History(appID, prompt string, page, pageSize int) exchange.Page[exchange.Exchange] {
	s.mu.Lock()
	defer s.mu.Unlock()
	var recs []*record
	for _, rec := range s.exchanges {
		if rec.ex.AppID != appID {
			continue
		}
		if prompt != "" && !strings.Contains(strings.ToLower(rec.ex.Prompt), strings.ToLower(prompt)) {
			continue
		}
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].seq > recs[j].seq })
	items := make([]exchange.Exchange, len(recs))
	for i, rec := range recs {
		items[i] = rec.ex.Clone()
	}
	return paginate(items, page, pageSize)
}

// LatestSuccessful returns the id of appID's newest exchange if it is SUCCESSFUL.
func (s *Store) LatestSuccessful(appID string) string {
	page := s.History(appID, "", 1, 1)
	if len(page.Items) == 0 || page.Items[0].Status != exchange.StatusSuccessful {
		return ""
	}
	return page.Items[0].ID
}

// Watch subscribes to snapshots of exchange id. The current snapshot is
// returned alongside the channel; the channel is closed once the exchange
// reaches a terminal state or the watcher unsubscribes.
func (s *Store) Watch(id string) (exchange.Exchange, <-chan exchange.Exchange, func(), bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.exchanges[id]
	if !ok {
		return exchange.Exchange{}, nil, func() {}, false
	}
	ch := make(chan exchange.Exchange, watcherBuffer)
	if !rec.ex.Status.IsRunning() {
		close(ch)
		return rec.ex.Clone(), ch, func() {}, true
	}
	rec.watchers[ch] = struct{}{}
	unwatch := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := rec.watchers[ch]; ok {
			delete(rec.watchers, ch)
			close(ch)
		}
	}
	return rec.ex.Clone(), ch, unwatch, true
}

// Update applies fn to exchange id and publishes the result to its
// watchers. Returns false if the exchange is gone.
func (s *Store) Update(id string, fn func(ex *exchange.Exchange)) (exchange.Exchange, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.exchanges[id]
	if !ok {
		return exchange.Exchange{}, false
	}
	fn(&rec.ex)
	snap := rec.ex.Clone()
	for ch := range rec.watchers {
		publish(ch, snap.Clone())
	}
	if !snap.Status.IsRunning() {
		s.closeWatchersLocked(rec)
	}
	return snap, true
}

// Restart moves a FAILED exchange back to PLANNING for another run and
// returns the run number. ok is false if id is unknown or not FAILED.
func (s *Store) Restart(id string) (run int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, found := s.exchanges[id]
	if !found || rec.ex.Status != exchange.StatusFailed {
		return 0, false
	}
	rec.runs++
	rec.ex.Status = exchange.StatusPlanning
	rec.ex.ErrorMessage = nil
	return rec.runs, true
}

// setStop records the cancel function of the job driving id.
func (s *Store) setStop(id string, stop context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.exchanges[id]; ok {
		rec.stop = stop
	}
}

// stopJob cancels the job driving id, if any.
func (s *Store) stopJob(id string) {
	s.mu.Lock()
	rec, ok := s.exchanges[id]
	var stop context.CancelFunc
	if ok {
		stop = rec.stop
		rec.stop = nil
	}
	s.mu.Unlock()
	if stop != nil {
		stop()
	}
}

func (s *Store) params(id string) (startParams, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.exchanges[id]
	if !ok {
		return startParams{}, false
	}
	return rec.req, true
}

func (s *Store) closeWatchersLocked(rec *record) {
	for ch := range rec.watchers {
		close(ch)
		delete(rec.watchers, ch)
	}
}

// publish never blocks; a full buffer loses its oldest snapshot.
func publish(ch chan exchange.Exchange, ex exchange.Exchange) {
	select {
	case ch <- ex:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- ex:
	default:
	}
}

func paginate[T any](items []T, page, pageSize int) exchange.Page[T] {
	total := len(items)
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = total
	}
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	out := make([]T, end-start)
	copy(out, items[start:end])
	return exchange.Page[T]{Items: out, Total: total}
}
