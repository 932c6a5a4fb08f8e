// Package retry provides retry executor implementation
package retry

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jzx17/gorelay/pkg/cancel"
	"github.com/jzx17/gorelay/pkg/logger"
	"github.com/jzx17/gorelay/pkg/types"
)

// DefaultPollInterval is the granularity at which backoff sleeps observe cancellation
const DefaultPollInterval = 10 * time.Millisecond

// Executor drives the attempt loop of a single logical request.
// It holds no per-request state and is safe for concurrent use.
type Executor struct {
	clock        types.Clock
	pollInterval time.Duration
	eventHandler EventHandler
	logger       *logger.Logger

	// statistics
	attempts   atomic.Int64
	retries    atomic.Int64
	successes  atomic.Int64
	failures   atomic.Int64
	cancels    atomic.Int64
	retryDelay atomic.Int64
}

// Stats contains retry statistics
type Stats struct {
	TotalAttempts   int64         // backend calls performed
	TotalRetries    int64         // backoff waits entered
	TotalSuccesses  int64         // requests that succeeded
	TotalFailures   int64         // requests that exhausted their policy
	TotalCancelled  int64         // requests that observed cancellation
	TotalRetryDelay time.Duration // sum of computed backoff delays
}

// ExecutorOption is a configuration option for the executor
type ExecutorOption func(*Executor)

// WithClock sets the clock for time operations
func WithClock(clock types.Clock) ExecutorOption {
	return func(e *Executor) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithPollInterval sets the backoff sleep granularity
func WithPollInterval(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		if d > 0 {
			e.pollInterval = d
		}
	}
}

// WithEventHandler sets the event handler
func WithEventHandler(handler EventHandler) ExecutorOption {
	return func(e *Executor) {
		e.eventHandler = handler
	}
}

// WithLogger sets the logger used for adapter faults
func WithLogger(l *logger.Logger) ExecutorOption {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewExecutor creates a retry executor
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{
		clock:        types.NewRealClock(),
		pollInterval: DefaultPollInterval,
		logger:       logger.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.WithComponent("executor")
	return e
}

// Execute runs req against backend until it succeeds, the policy gives up, or
// cancellation is observed. It never panics on adapter faults and never performs
// more than policy.MaxAttempts() backend calls. A nil policy means DefaultPolicy.
func (e *Executor) Execute(ctx context.Context, backend types.Backend, req *types.Request, policy RetryPolicy, token *cancel.Token) *types.ExecutionResult {
	policy = Resolve(policy)
	if req == nil {
		req = &types.Request{}
	}

	start := e.clock.Now()
	res := &types.ExecutionResult{
		RequestID: req.ID,
		Backend:   backend.Name(),
		State:     types.StateIdle,
	}

	for attempt := 1; ; attempt++ {
		if e.cancelled(ctx, token) {
			return e.finish(ctx, req, e.markCancelled(ctx, res), start)
		}

		res.State = types.StateAttempting
		e.attempts.Add(1)
		if e.eventHandler != nil {
			e.eventHandler.OnAttempt(ctx, req, attempt)
		}

		outcome := e.attempt(ctx, backend, req, token)
		res.Attempts = attempt
		res.Outcome = outcome

		// the outcome is kept for diagnostics but never retried on
		if e.cancelled(ctx, token) {
			return e.finish(ctx, req, e.markCancelled(ctx, res), start)
		}

		if outcome.Success {
			res.State = types.StateSucceeded
			res.Kind = types.KindNone
			return e.finish(ctx, req, res, start)
		}

		res.Kind = types.Classify(outcome)
		if attempt >= policy.MaxAttempts() || !policy.ShouldRetry(attempt, outcome.StatusCode, outcome.NetworkError) {
			res.State = types.StateExhausted
			res.Err = &types.RequestError{
				Kind:       res.Kind,
				StatusCode: outcome.StatusCode,
				Attempts:   attempt,
				Exhausted:  true,
				Message:    outcome.Message,
				Cause:      outcome.Err,
			}
			return e.finish(ctx, req, res, start)
		}

		delay := policy.Delay(attempt)
		res.State = types.StateRetrying
		e.retries.Add(1)
		e.retryDelay.Add(int64(delay))
		if e.eventHandler != nil {
			e.eventHandler.OnRetry(ctx, req, attempt, outcome, delay)
		}

		if !e.sleep(ctx, token, delay) {
			return e.finish(ctx, req, e.markCancelled(ctx, res), start)
		}
	}
}

// ExecuteAsync runs Execute in its own goroutine
func (e *Executor) ExecuteAsync(ctx context.Context, backend types.Backend, req *types.Request, policy RetryPolicy, token *cancel.Token) <-chan *types.ExecutionResult {
	resultChan := make(chan *types.ExecutionResult, 1)

	go func() {
		defer close(resultChan)
		resultChan <- e.Execute(ctx, backend, req, policy, token)
	}()

	return resultChan
}

// attempt performs one backend call, converting errors and panics into network failures
func (e *Executor) attempt(ctx context.Context, backend types.Backend, req *types.Request, token *cancel.Token) (outcome types.Outcome) {
	attemptCtx, stop := token.Bind(ctx)
	defer stop()

	if req.Options.Timeout > 0 {
		var cancelTimeout context.CancelFunc
		attemptCtx, cancelTimeout = context.WithTimeout(attemptCtx, req.Options.Timeout)
		defer cancelTimeout()
	}

	defer func() {
		if r := recover(); r != nil {
			outcome = types.NetworkFailure(fmt.Errorf("backend %s panicked: %v", backend.Name(), r))
			outcome.AdapterFault = true
			e.logger.Error("backend panicked", map[string]interface{}{
				logger.FieldBackend:   backend.Name(),
				logger.FieldRequestID: req.ID,
				"panic":               fmt.Sprint(r),
			})
		}
	}()

	out, err := backend.Send(attemptCtx, req)
	if err != nil {
		return types.NetworkFailure(err)
	}
	return out
}

// sleep waits out delay in pollInterval steps; it returns false when cancellation was observed
func (e *Executor) sleep(ctx context.Context, token *cancel.Token, delay time.Duration) bool {
	deadline := e.clock.Now().Add(delay)
	for {
		if e.cancelled(ctx, token) {
			return false
		}
		remaining := deadline.Sub(e.clock.Now())
		if remaining <= 0 {
			return true
		}

		timer := e.clock.NewTimer(min(e.pollInterval, remaining))
		select {
		case <-timer.C():
		case <-token.Done():
		case <-ctx.Done():
		}
		timer.Stop()
	}
}

func (e *Executor) cancelled(ctx context.Context, token *cancel.Token) bool {
	return token.IsCancelled() || ctx.Err() != nil
}

func (e *Executor) markCancelled(ctx context.Context, res *types.ExecutionResult) *types.ExecutionResult {
	res.State = types.StateCancelled
	res.Kind = types.KindCancelled
	res.Err = &types.RequestError{
		Kind:       types.KindCancelled,
		StatusCode: res.Outcome.StatusCode,
		Attempts:   res.Attempts,
		Message:    "cancellation requested",
		Cause:      ctx.Err(),
	}
	return res
}

func (e *Executor) finish(ctx context.Context, req *types.Request, res *types.ExecutionResult, start time.Time) *types.ExecutionResult {
	res.Elapsed = e.clock.Since(start)

	switch res.State {
	case types.StateSucceeded:
		e.successes.Add(1)
	case types.StateCancelled:
		e.cancels.Add(1)
	default:
		e.failures.Add(1)
	}

	if e.eventHandler != nil {
		e.eventHandler.OnComplete(ctx, req, res)
	}
	return res
}

// GetStats gets retry statistics
func (e *Executor) GetStats() Stats {
	return Stats{
		TotalAttempts:   e.attempts.Load(),
		TotalRetries:    e.retries.Load(),
		TotalSuccesses:  e.successes.Load(),
		TotalFailures:   e.failures.Load(),
		TotalCancelled:  e.cancels.Load(),
		TotalRetryDelay: time.Duration(e.retryDelay.Load()),
	}
}

// ResetStats resets statistics
func (e *Executor) ResetStats() {
	e.attempts.Store(0)
	e.retries.Store(0)
	e.successes.Store(0)
	e.failures.Store(0)
	e.cancels.Store(0)
	e.retryDelay.Store(0)
}
