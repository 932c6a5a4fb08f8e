package worker

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jzx17/gorelay/pkg/logger"
	"github.com/jzx17/gorelay/pkg/types"
)

// DefaultConcurrency returns the fan-out used when a batch names no limit
func DefaultConcurrency() int {
	if n := runtime.GOMAXPROCS(0); n > 0 {
		return n
	}
	return 4
}

// Dispatcher fans batches out over short-lived fixed pools.
// An optional shared Limiter bounds in-flight items across every batch it runs.
type Dispatcher struct {
	limiter *Limiter
	clock   types.Clock
	base    *logger.Logger
	logger  *logger.Logger

	// statistics
	batches     atomic.Int64
	items       atomic.Int64
	panics      atomic.Int64
	unscheduled atomic.Int64
	busy        atomic.Int64
}

// DispatchStats summarizes every batch a dispatcher has run
type DispatchStats struct {
	Batches     int64         // non-empty Dispatch calls
	Items       int64         // items that ran, including panicked ones
	Panics      int64         // items whose fn panicked
	Unscheduled int64         // items the pool refused to queue
	BusyTime    time.Duration // summed item run time
	SharedInUse int           // slots currently held on the shared limiter
}

// DispatcherOption configures a Dispatcher
type DispatcherOption func(*Dispatcher)

// WithSharedLimiter makes every item of every batch hold a slot of l while it runs
func WithSharedLimiter(l *Limiter) DispatcherOption {
	return func(d *Dispatcher) {
		d.limiter = l
	}
}

// WithDispatchClock sets the clock handed to pool workers
func WithDispatchClock(clock types.Clock) DispatcherOption {
	return func(d *Dispatcher) {
		if clock != nil {
			d.clock = clock
		}
	}
}

// WithDispatchLogger sets the logger that records item panics
func WithDispatchLogger(l *logger.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if l != nil {
			d.base = l
		}
	}
}

// NewDispatcher creates a dispatcher
func NewDispatcher(opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		clock: types.NewRealClock(),
		base:  logger.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.base.WithComponent("dispatcher")
	return d
}

// Limiter returns the shared limiter, or nil
func (d *Dispatcher) Limiter() *Limiter {
	return d.limiter
}

// Stats returns cumulative dispatch statistics
func (d *Dispatcher) Stats() DispatchStats {
	s := DispatchStats{
		Batches:     d.batches.Load(),
		Items:       d.items.Load(),
		Panics:      d.panics.Load(),
		Unscheduled: d.unscheduled.Load(),
		BusyTime:    time.Duration(d.busy.Load()),
	}
	if d.limiter != nil {
		s.SharedInUse = d.limiter.InUse()
	}
	return s
}

// Dispatch runs fn once per item with at most limit items in flight and returns
// the results in input order. limit <= 0 means DefaultConcurrency().
//
// Every item runs even when ctx is already done; fn receives ctx (tagged with
// the worker id) and is expected to observe it. A panicking fn is logged and
// leaves the zero value in its slot without disturbing the other items.
func Dispatch[R, T any](ctx context.Context, d *Dispatcher, items []R, limit int, fn func(ctx context.Context, index int, item R) T) ([]T, error) {
	if d == nil {
		d = NewDispatcher()
	}

	results := make([]T, len(items))
	if len(items) == 0 {
		return results, nil
	}
	if limit <= 0 {
		limit = DefaultConcurrency()
	}

	pool, err := NewFixedWorkerPool(FixedWorkerPoolConfig{
		Workers:    min(limit, len(items)),
		QueueDepth: len(items),
		Clock:      d.clock,
		Logger:     d.base,
		OnComplete: func(elapsed time.Duration, _ bool) {
			d.busy.Add(int64(elapsed))
		},
	})
	if err != nil {
		return nil, err
	}

	// the pool outlives caller cancellation so queued items still produce results
	poolCtx := context.WithoutCancel(ctx)
	if err := pool.Start(poolCtx); err != nil {
		return nil, err
	}

	var wg sync.WaitGroup
	for i, item := range items {
		task := NewBasicTaskWithID(fmt.Sprintf("item-%d", i), func(workerCtx context.Context) error {
			defer wg.Done()

			itemCtx := types.WithWorkerID(ctx, types.WorkerIDFromContext(workerCtx))
			if d.limiter != nil {
				// a done ctx still runs fn so the item can report its own cancellation
				if err := d.limiter.Acquire(itemCtx); err == nil {
					defer d.limiter.Release()
				}
			}

			results[i] = fn(itemCtx, i, item)
			return nil
		})

		wg.Add(1)
		if err := pool.SubmitContext(poolCtx, task); err != nil {
			wg.Done()
			d.unscheduled.Add(1)
			d.logger.WithError(err).Error("item was not scheduled", map[string]interface{}{"index": i})
		}
	}

	wg.Wait()
	// workers finish their completion callbacks before Close returns
	if err := pool.Close(); err != nil {
		d.logger.WithError(err).Warn("worker pool close failed")
	}
	ps := pool.Stats()
	d.batches.Add(1)
	d.items.Add(ps.Completed + ps.Failed)
	d.panics.Add(ps.Failed)
	return results, nil
}
