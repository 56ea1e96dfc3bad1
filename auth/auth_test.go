// ABOUTME: Tests for credential stores and the login boundary.
// ABOUTME: Keyring tests run against the go-keyring in-memory mock provider.
package auth

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func TestKeyringStoreLifecycle(t *testing.T) {
	keyring.MockInit()
	s := NewKeyringStore("alice")

	token, err := s.Token()
	require.NoError(t, err)
	assert.Empty(t, token)

	require.NoError(t, s.SetToken("secret"))
	token, err = s.Token()
	require.NoError(t, err)
	assert.Equal(t, "secret", token)

	require.NoError(t, s.Clear())
	token, err = s.Token()
	require.NoError(t, err)
	assert.Empty(t, token)

	// clearing twice is fine
	require.NoError(t, s.Clear())
}

func TestKeyringStoreSurfacesBackendErrors(t *testing.T) {
	keyring.MockInitWithError(errors.New("locked"))
	s := NewKeyringStore("bob")

	_, err := s.Token()
	assert.Error(t, err)
	assert.Error(t, s.SetToken("x"))
}

func TestMemoryStoreRejectsEmptyToken(t *testing.T) {
	s := NewMemoryStore("")
	assert.Error(t, s.SetToken(""))
}

func TestBoundaryAuthorize(t *testing.T) {
	b := NewBoundary(NewMemoryStore("tok"), nil, nil)
	h := http.Header{}
	b.Authorize(h)
	assert.Equal(t, "Bearer tok", h.Get("Authorization"))

	empty := NewBoundary(NewMemoryStore(""), nil, nil)
	h = http.Header{}
	empty.Authorize(h)
	assert.Empty(t, h.Get("Authorization"))
}

func TestBoundaryCheck(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		store := NewMemoryStore("tok")
		redirects := 0
		b := NewBoundary(store, func() { redirects++ }, nil)

		err := b.Check(status)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrUnauthorized)
		assert.Equal(t, 1, redirects)

		token, _ := store.Token()
		assert.Empty(t, token, "credential must be cleared on %d", status)
	}

	store := NewMemoryStore("tok")
	b := NewBoundary(store, func() { t.Fatal("no redirect expected") }, nil)
	for _, status := range []int{200, 204, 404, 500} {
		assert.NoError(t, b.Check(status))
	}
	token, _ := store.Token()
	assert.Equal(t, "tok", token)
}
