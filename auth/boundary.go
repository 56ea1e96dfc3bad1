// ABOUTME: Login boundary shared by the streaming and request/response transports.
// ABOUTME: Attaches the bearer credential and turns 401/403 into a cleared session plus a login redirect.
package auth

import (
	"errors"
	"fmt"
	"log"
	"net/http"
)

// ErrUnauthorized is wrapped by every error produced for a 401/403 response.
var ErrUnauthorized = errors.New("unauthorized")

// Boundary owns the credential store for outgoing requests and reacts to
// authentication failures on their responses.
type Boundary struct {
	store    Store
	redirect func()
	logger   *log.Logger
}

// NewBoundary builds a Boundary. redirect is the host's "go to login" hook
// and may be nil.
func NewBoundary(store Store, redirect func(), logger *log.Logger) *Boundary {
	if logger == nil {
		logger = log.Default()
	}
	return &Boundary{store: store, redirect: redirect, logger: logger}
}

// Store returns the underlying credential store.
func (b *Boundary) Store() Store {
	return b.store
}

// Authorize sets the Authorization header when a credential is stored.
func (b *Boundary) Authorize(h http.Header) {
	token, err := b.store.Token()
	if err != nil {
		b.logger.Printf("component=auth action=read_token err=%v", err)
		return
	}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
}

// Check inspects a response status. For 401/403 it clears the stored
// credential, runs the redirect hook and returns an ErrUnauthorized error.
// Any other status returns nil; non-auth failures are the caller's concern.
func (b *Boundary) Check(status int) error {
	if status != http.StatusUnauthorized && status != http.StatusForbidden {
		return nil
	}
	if err := b.store.Clear(); err != nil {
		b.logger.Printf("component=auth action=clear_token err=%v", err)
	}
	if b.redirect != nil {
		b.redirect()
	}
	return fmt.Errorf("%w: authentication failed with status %d", ErrUnauthorized, status)
}
