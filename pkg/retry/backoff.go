// Package retry provides backoff algorithm implementations
package retry

import (
	"math/rand/v2"
	"sync"
	"time"
)

// BackoffStrategy defines the backoff strategy interface
type BackoffStrategy interface {
	// NextDelay calculates the delay cap for the given 1-based attempt
	NextDelay(attempt int) time.Duration
}

// Cap returns the un-jittered delay for attempt.
//
// Exponential mode yields min(base*2^(attempt-1), maxDelay). Linear mode yields
// base*attempt and leaves clamping to the caller.
func Cap(attempt int, exponential bool, base, maxDelay time.Duration) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	if base <= 0 {
		return 0
	}
	if !exponential {
		return base * time.Duration(attempt)
	}

	delay := base
	for i := 1; i < attempt; i++ {
		// doubling past max (or past int64) only ever saturates
		if delay >= maxDelay || delay > (1<<62)/2 {
			return maxDelay
		}
		delay *= 2
	}
	if delay > maxDelay {
		delay = maxDelay
	}
	return delay
}

// ExponentialBackoff implements exponential backoff strategy
type ExponentialBackoff struct {
	initialDelay time.Duration
	maxDelay     time.Duration
}

// NewExponentialBackoff creates an exponential backoff strategy
func NewExponentialBackoff(initialDelay, maxDelay time.Duration) *ExponentialBackoff {
	return &ExponentialBackoff{
		initialDelay: initialDelay,
		maxDelay:     maxDelay,
	}
}

// NextDelay calculates the delay for the next retry
func (b *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	return Cap(attempt, true, b.initialDelay, b.maxDelay)
}

// LinearBackoff implements linear backoff strategy
type LinearBackoff struct {
	step     time.Duration
	maxDelay time.Duration
}

// NewLinearBackoff creates a linear backoff strategy; maxDelay of 0 disables clamping
func NewLinearBackoff(step, maxDelay time.Duration) *LinearBackoff {
	return &LinearBackoff{
		step:     step,
		maxDelay: maxDelay,
	}
}

// NextDelay calculates the delay for the next retry
func (b *LinearBackoff) NextDelay(attempt int) time.Duration {
	delay := Cap(attempt, false, b.step, 0)
	if b.maxDelay > 0 && delay > b.maxDelay {
		delay = b.maxDelay
	}
	return delay
}

// Jitter draws full-jitter delays from a seeded source.
// Two Jitters built from the same seed produce the same sequence for the same caps.
type Jitter struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewJitter creates a deterministic jitter source
func NewJitter(seed uint64) *Jitter {
	return &Jitter{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Draw returns a uniform delay in [0, cap]
func (j *Jitter) Draw(cap time.Duration) time.Duration {
	if cap <= 0 {
		return 0
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return time.Duration(j.rng.Uint64N(uint64(cap) + 1))
}

// FullJitter draws a uniform delay in [0, delay] from the global source
func FullJitter(delay time.Duration) time.Duration {
	if delay <= 0 {
		return 0
	}
	return time.Duration(rand.Uint64N(uint64(delay) + 1))
}
