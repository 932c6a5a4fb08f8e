// Package retry provides retry mechanism strategies and implementations
package retry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/jzx17/gorelay/pkg/types"
)

// Default policy parameters
const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 100 * time.Millisecond
	DefaultMaxDelay    = 30 * time.Second
)

// RetryPolicy defines the retry strategy interface
type RetryPolicy interface {
	// ShouldRetry decides whether attempt (1-based) should be followed by another.
	// statusCode is 0 when the attempt produced no status.
	ShouldRetry(attempt int, statusCode int, networkError bool) bool

	// Delay returns the wait before the attempt following attempt
	Delay(attempt int) time.Duration

	// MaxAttempts returns the maximum number of backend calls
	MaxAttempts() int
}

// RetryCondition decides retriability of a failed attempt, independent of the attempt cap
type RetryCondition func(statusCode int, networkError bool) bool

// DefaultRetryCondition retries network errors, 5xx, 429 and 408
func DefaultRetryCondition(statusCode int, networkError bool) bool {
	if networkError {
		return true
	}
	switch {
	case statusCode >= 500 && statusCode <= 599:
		return true
	case statusCode == http.StatusTooManyRequests, statusCode == http.StatusRequestTimeout:
		return true
	default:
		return false
	}
}

// Policy is an immutable backoff retry policy.
// It is safe to share across concurrent executions.
type Policy struct {
	maxAttempts    int
	baseDelay      time.Duration
	maxDelay       time.Duration
	exponential    bool
	jitterSeed     *uint64
	jitter         *Jitter
	globalJitter   bool
	retryCondition RetryCondition
}

// PolicyOption is a configuration option for retry policies
type PolicyOption func(*Policy)

// WithLinear switches the policy to linear backoff (base*attempt, clamped to max when max > 0)
func WithLinear() PolicyOption {
	return func(p *Policy) {
		p.exponential = false
	}
}

// WithJitterSeed enables full jitter drawn from a source seeded with seed
func WithJitterSeed(seed uint64) PolicyOption {
	return func(p *Policy) {
		p.jitterSeed = &seed
	}
}

// WithJitter enables full jitter drawn from the process-wide source.
// WithJitterSeed takes precedence when both are given.
func WithJitter() PolicyOption {
	return func(p *Policy) {
		p.globalJitter = true
	}
}

// WithRetryCondition replaces the default status classification
func WithRetryCondition(condition RetryCondition) PolicyOption {
	return func(p *Policy) {
		if condition != nil {
			p.retryCondition = condition
		}
	}
}

// NewPolicy creates an exponential backoff policy.
// maxAttempts counts every backend call, including the first. A maxDelay below
// baseDelay clamps every delay to maxDelay.
func NewPolicy(maxAttempts int, baseDelay, maxDelay time.Duration, opts ...PolicyOption) (*Policy, error) {
	if maxAttempts < 1 {
		return nil, fmt.Errorf("%w: max attempts must be at least 1, got %d", types.ErrInvalidPolicy, maxAttempts)
	}
	if baseDelay < 0 || maxDelay < 0 {
		return nil, fmt.Errorf("%w: delays must not be negative (base %v, max %v)", types.ErrInvalidPolicy, baseDelay, maxDelay)
	}

	p := &Policy{
		maxAttempts:    maxAttempts,
		baseDelay:      baseDelay,
		maxDelay:       maxDelay,
		exponential:    true,
		retryCondition: DefaultRetryCondition,
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.exponential && p.maxDelay == 0 {
		p.maxDelay = DefaultMaxDelay
	}
	if p.jitterSeed != nil {
		p.jitter = NewJitter(*p.jitterSeed)
	}
	return p, nil
}

// MustPolicy is NewPolicy for statically known parameters; it panics on invalid input
func MustPolicy(maxAttempts int, baseDelay, maxDelay time.Duration, opts ...PolicyOption) *Policy {
	p, err := NewPolicy(maxAttempts, baseDelay, maxDelay, opts...)
	if err != nil {
		panic(err)
	}
	return p
}

// DefaultPolicy returns 3 attempts with 100ms exponential backoff capped at 30s
func DefaultPolicy() *Policy {
	return MustPolicy(DefaultMaxAttempts, DefaultBaseDelay, DefaultMaxDelay)
}

// NoRetry returns a single-shot policy
func NoRetry() *Policy {
	return MustPolicy(1, 0, 0)
}

// ShouldRetry determines whether to retry
func (p *Policy) ShouldRetry(attempt int, statusCode int, networkError bool) bool {
	if attempt >= p.maxAttempts {
		return false
	}
	return p.retryCondition(statusCode, networkError)
}

// Delay returns the delay before the next attempt
func (p *Policy) Delay(attempt int) time.Duration {
	delay := Cap(attempt, p.exponential, p.baseDelay, p.maxDelay)
	if !p.exponential && p.maxDelay > 0 && delay > p.maxDelay {
		delay = p.maxDelay
	}
	switch {
	case p.jitter != nil:
		delay = p.jitter.Draw(delay)
	case p.globalJitter:
		delay = FullJitter(delay)
	}
	return delay
}

// MaxAttempts returns the maximum number of backend calls
func (p *Policy) MaxAttempts() int {
	return p.maxAttempts
}

// BaseDelay returns the configured base delay
func (p *Policy) BaseDelay() time.Duration { return p.baseDelay }

// MaxDelay returns the configured maximum delay
func (p *Policy) MaxDelay() time.Duration { return p.maxDelay }

// Exponential reports whether the policy backs off exponentially
func (p *Policy) Exponential() bool { return p.exponential }

// Jittered reports whether delays are randomized
func (p *Policy) Jittered() bool { return p.jitter != nil || p.globalJitter }

// Resolve returns the first non-nil policy, falling back to DefaultPolicy.
// A nil *Policy stored in the interface counts as nil.
func Resolve(policies ...RetryPolicy) RetryPolicy {
	for _, p := range policies {
		if p == nil {
			continue
		}
		if concrete, ok := p.(*Policy); ok && concrete == nil {
			continue
		}
		return p
	}
	return DefaultPolicy()
}

// Backoff returns the un-jittered strategy this policy follows
func (p *Policy) Backoff() BackoffStrategy {
	if p.exponential {
		return NewExponentialBackoff(p.baseDelay, p.maxDelay)
	}
	return NewLinearBackoff(p.baseDelay, p.maxDelay)
}
