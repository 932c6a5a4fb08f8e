/*
Package worker provides the concurrency primitives behind batch execution: a
fixed-size worker pool, a counting Limiter, and a Dispatcher that fans a batch
out over a short-lived pool and returns results in input order.

# Core Components

## FixedWorkerPool

Fixed number of worker goroutines reading from a buffered task queue:
- Context-bound task submission
- Completed and failed counts that stay readable after Close
- Panic recovery; a panicking task is logged as a *PanicError
- Each task context carries the executing worker's id (types.WorkerIDFromContext)

## Limiter

A counting semaphore. Acquire blocks until a slot frees or the context ends;
TryAcquire fails fast with ErrLimiterFull. Release is idempotent when no slot is held.

## Dispatcher

Dispatch runs fn once per item with at most limit items in flight. Results are
stored by index, so completion order never affects result order. Items run
even when the caller's context is already done, so each one can report its own
cancellation. A shared Limiter bounds in-flight items across concurrent batches.
Dispatcher.Stats accumulates batch, item, panic and busy-time counts.

# Usage Examples

Ordered fan-out:

	d := worker.NewDispatcher(worker.WithSharedLimiter(worker.NewLimiter(16)))
	lengths, err := worker.Dispatch(ctx, d, urls, 4, func(ctx context.Context, i int, url string) int {
		return len(fetch(ctx, url))
	})

Plain pool:

	pool, err := worker.NewFixedWorkerPool(worker.FixedWorkerPoolConfig{Workers: 4, QueueDepth: 64})
	if err != nil {
		log.Fatal(err)
	}
	if err := pool.Start(ctx); err != nil {
		log.Fatal(err)
	}

	submitCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := pool.SubmitContext(submitCtx, task); err != nil {
		log.Println("queue stayed full:", err)
	}
	_ = pool.Close()
	fmt.Println(pool.Stats().Completed)
*/
package worker
