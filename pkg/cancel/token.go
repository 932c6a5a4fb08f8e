// Package cancel provides a cooperative cancellation token shared by every attempt
// and every backoff step of a logical request (or of a whole batch).
//
// The token is write-once: Cancel flips it to signalled and it never resets. Reads
// are lock-free and safe from any goroutine. A nil *Token is valid and never
// signalled, so callers that do not need cancellation can pass nil.
package cancel

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/jzx17/gorelay/pkg/types"
)

// Token is a settable-once cancellation flag
type Token struct {
	cancelled atomic.Bool
	done      chan struct{}
	once      sync.Once
}

// New creates an unsignalled token
func New() *Token {
	return &Token{done: make(chan struct{})}
}

// Cancel signals the token. Calling it more than once is a no-op.
func (t *Token) Cancel() {
	if t == nil {
		return
	}
	t.once.Do(func() {
		t.cancelled.Store(true)
		close(t.done)
	})
}

// IsCancelled reports whether Cancel has been called
func (t *Token) IsCancelled() bool {
	return t != nil && t.cancelled.Load()
}

// Done returns a channel closed on cancellation; nil for a nil token
func (t *Token) Done() <-chan struct{} {
	if t == nil {
		return nil
	}
	return t.done
}

// Bind derives a context that is cancelled when either the parent is done or the
// token is signalled. The context's cause is types.ErrCancelled in the latter case.
// The returned stop function must be called to release the watcher.
func (t *Token) Bind(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(parent)
	if t == nil {
		return ctx, func() { cancel(nil) }
	}
	if t.IsCancelled() {
		cancel(types.ErrCancelled)
		return ctx, func() {}
	}
	// the watcher exits on whichever fires first; stop always fires ctx.Done
	go func() {
		select {
		case <-t.done:
			cancel(types.ErrCancelled)
		case <-ctx.Done():
		}
	}()
	return ctx, func() { cancel(nil) }
}
