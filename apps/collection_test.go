// ABOUTME: Tests for the in-memory Application Collection.
package apps

import (
	"context"
	"errors"
	"testing"

	"github.com/2389-research/kiwi/api"
	"github.com/2389-research/kiwi/exchange"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddPrependsAndUpdateReplaces(t *testing.T) {
	c := NewCollection()
	c.Add(exchange.Application{ID: "a", Name: "A"})
	c.Add(exchange.Application{ID: "b", Name: "B"})

	list := c.List()
	require.Len(t, list, 2)
	assert.Equal(t, "b", list[0].ID)

	c.Select(&list[1], SelectOptions{})
	c.Update(exchange.Application{ID: "a", Name: "Renamed"})
	assert.Equal(t, "Renamed", c.List()[1].Name)
	assert.Equal(t, "Renamed", c.Selected().Name)
}

func TestSelectNewSetsOneShotMarker(t *testing.T) {
	c := NewCollection()
	app := exchange.Application{ID: "app_1"}

	c.Select(&app, SelectOptions{IsNew: true})
	assert.True(t, c.PendingRename("app_1"))
	assert.False(t, c.PendingRename("other"))
	assert.False(t, c.PendingRename(""))

	c.ClearPendingRename()
	assert.False(t, c.PendingRename("app_1"))

	c.Select(&app, SelectOptions{IsNew: true})
	c.Select(&app, SelectOptions{})
	assert.False(t, c.PendingRename("app_1"), "a plain selection clears the marker")
}

func TestSelectedIsACopy(t *testing.T) {
	c := NewCollection()
	app := exchange.Application{ID: "x", Name: "X"}
	c.Select(&app, SelectOptions{})
	app.Name = "mutated"
	sel := c.Selected()
	sel.Name = "also mutated"
	assert.Equal(t, "X", c.Selected().Name)
}

func TestObserversSeeSelection(t *testing.T) {
	c := NewCollection()
	var seen []string
	c.OnSelect(func(app *exchange.Application, opts SelectOptions) {
		if app == nil {
			seen = append(seen, "<none>")
			return
		}
		if opts.IsNew {
			seen = append(seen, app.ID+"*")
			return
		}
		seen = append(seen, app.ID)
	})

	c.Add(exchange.Application{ID: "a"})
	a, ok := c.Lookup("a")
	require.True(t, ok)
	c.Select(&a, SelectOptions{})
	_, ok = c.Lookup("zzz")
	assert.False(t, ok)
	c.Select(&exchange.Application{ID: "n"}, SelectOptions{IsNew: true})
	c.Select(nil, SelectOptions{})

	assert.Equal(t, []string{"a", "n*", "<none>"}, seen)
}

func TestRemoveDeselects(t *testing.T) {
	c := NewCollection()
	c.Add(exchange.Application{ID: "a"})
	c.Select(&exchange.Application{ID: "a"}, SelectOptions{})
	c.Remove("a")
	assert.Nil(t, c.Selected())
	assert.Empty(t, c.List())
}

type fakeSearcher struct {
	page    exchange.Page[exchange.Application]
	err     error
	query   api.AppQuery
	deleted []string
}

func (f *fakeSearcher) SearchApplications(_ context.Context, q api.AppQuery) (exchange.Page[exchange.Application], error) {
	f.query = q
	return f.page, f.err
}

func (f *fakeSearcher) DeleteApplication(_ context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	return f.err
}

func TestRefreshAndDelete(t *testing.T) {
	c := NewCollection()
	s := &fakeSearcher{page: exchange.Page[exchange.Application]{Items: []exchange.Application{{ID: "a"}, {ID: "b"}}, Total: 2}}

	list, err := c.Refresh(context.Background(), s, api.AppQuery{Name: "todo", NewlyChangedID: "b"})
	require.NoError(t, err)
	assert.Len(t, list, 2)
	assert.Equal(t, api.AppQuery{Name: "todo", Page: 1, PageSize: api.DefaultHistoryPageSize, NewlyChangedID: "b"}, s.query)
	got, ok := c.Lookup("b")
	require.True(t, ok)
	assert.Equal(t, "b", got.ID)

	require.NoError(t, c.Delete(context.Background(), s, "a"))
	assert.Equal(t, []string{"a"}, s.deleted)
	assert.Len(t, c.List(), 1)

	s.err = errors.New("down")
	_, err = c.Refresh(context.Background(), s, api.AppQuery{})
	assert.Error(t, err)
	assert.Empty(t, c.List())
}
