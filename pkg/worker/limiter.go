package worker

import (
	"context"
	"errors"
)

// ErrLimiterFull is returned by TryAcquire when every slot is taken
var ErrLimiterFull = errors.New("concurrency limit reached")

// Limiter caps the number of callers inside a section at once.
// Slots are tokens in a buffered channel.
type Limiter struct {
	size int
	sem  chan struct{}
}

// NewLimiter creates a limiter with n slots; n <= 0 means DefaultConcurrency()
func NewLimiter(n int) *Limiter {
	if n <= 0 {
		n = DefaultConcurrency()
	}
	return &Limiter{
		size: n,
		sem:  make(chan struct{}, n),
	}
}

// Acquire blocks until a slot is free or ctx is done
func (l *Limiter) Acquire(ctx context.Context) error {
	// fast path
	select {
	case l.sem <- struct{}{}:
		return nil
	default:
	}

	select {
	case l.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryAcquire takes a slot without waiting
func (l *Limiter) TryAcquire() error {
	select {
	case l.sem <- struct{}{}:
		return nil
	default:
		return ErrLimiterFull
	}
}

// Release returns a slot. Releasing more than was acquired is a no-op.
func (l *Limiter) Release() {
	select {
	case <-l.sem:
	default:
	}
}

// Do runs fn while holding a slot. The slot is released even if fn panics.
func (l *Limiter) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := l.Acquire(ctx); err != nil {
		return err
	}
	defer l.Release()

	return fn(ctx)
}

// Available returns the number of free slots
func (l *Limiter) Available() int {
	return l.size - len(l.sem)
}

// InUse returns the number of held slots
func (l *Limiter) InUse() int {
	return len(l.sem)
}

// Size returns the slot count
func (l *Limiter) Size() int {
	return l.size
}
