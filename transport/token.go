// ABOUTME: Cancellation token owned by whoever opened a stream.
// ABOUTME: Lets handlers tell "closed because I cancelled it" apart from an unexpected disconnect.
package transport

import (
	"context"
	"sync/atomic"
)

// Token marks an in-flight stream as intentionally abandoned. A nil *Token
// is valid and behaves as a token that is never cancelled.
type Token struct {
	ctx       context.Context
	cancel    context.CancelFunc
	cancelled atomic.Bool
}

// NewToken derives a token from parent.
func NewToken(parent context.Context) *Token {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	return &Token{ctx: ctx, cancel: cancel}
}

// Cancel marks the token cancelled and aborts any request bound to it.
// Safe to call more than once.
func (t *Token) Cancel() {
	if t == nil {
		return
	}
	t.cancelled.Store(true)
	t.cancel()
}

// Cancelled reports whether Cancel was called. A token whose parent context
// ended also counts as cancelled.
func (t *Token) Cancelled() bool {
	if t == nil {
		return false
	}
	return t.cancelled.Load() || t.ctx.Err() != nil
}

// Context returns the context requests should be bound to.
func (t *Token) Context() context.Context {
	if t == nil {
		return context.Background()
	}
	return t.ctx
}

// Done is closed once the token is cancelled.
func (t *Token) Done() <-chan struct{} {
	return t.Context().Done()
}
