// Package retry implements the attempt state machine, retry policies and backoff
// calculation for logical requests.
//
// Key Features:
//
// 1. Backoff calculation:
//   - Cap: exponential min(base*2^(n-1), max) or linear base*n
//   - Jitter: seeded full jitter in [0, cap], reproducible for a given seed
//
// 2. Retry policy:
//   - Retries network errors, 5xx, 429 and 408 while attempt < maxAttempts
//   - Never retries other 4xx
//   - NoRetry for single-shot semantics
//
// 3. Executor:
//   - Idle -> Attempting -> {Succeeded | Retrying | Cancelled | Exhausted}
//   - Backoff sleeps poll the cancellation token every 10ms by default
//   - Adapter errors and panics become network-error outcomes
//   - Statistics and event hooks
//
// Basic usage example:
//
//	policy, err := retry.NewPolicy(3, 100*time.Millisecond, time.Second)
//	if err != nil {
//		return err
//	}
//	executor := retry.NewExecutor()
//	token := cancel.New()
//	result := executor.Execute(ctx, backend, req, policy, token)
//	if !result.Succeeded() {
//		log.Printf("gave up: %v", result.Err)
//	}
//
// Jitter configuration:
//
//	policy := retry.MustPolicy(5, 200*time.Millisecond, 5*time.Second,
//		retry.WithJitterSeed(42))
//
// Thread safety:
//
// Policies are immutable after construction and may be shared by concurrent
// executions. The executor keeps only atomic counters.
package retry
