// Package types defines core interfaces and types shared by the engine packages
package types

import (
	"context"
	"maps"
	"time"
)

// Backend sends one logical request to a provider and reports a normalized outcome.
//
// A non-nil error means the call failed below the protocol level (connection refused,
// DNS, deadline); the executor treats it as a network error. Protocol-level failures
// are reported through Outcome.StatusCode with a nil error.
type Backend interface {
	// Name returns the provider name
	Name() string

	// Send performs a single attempt
	Send(ctx context.Context, req *Request) (Outcome, error)
}

// SendFunc is the function form of Backend.Send
type SendFunc func(ctx context.Context, req *Request) (Outcome, error)

// BackendFunc adapts a SendFunc into a named Backend
type BackendFunc struct {
	ProviderName string
	Fn           SendFunc
}

// Name returns the provider name
func (b BackendFunc) Name() string { return b.ProviderName }

// Send calls the wrapped function
func (b BackendFunc) Send(ctx context.Context, req *Request) (Outcome, error) {
	return b.Fn(ctx, req)
}

// Request is one caller-level unit of work
type Request struct {
	// ID identifies the request in logs and artifacts; generated when empty
	ID string

	// Backend selects a registered provider; empty uses the default
	Backend string

	// Method, Path, Headers and Body are passed through to the adapter untouched
	Method  string
	Path    string
	Headers map[string]string
	Body    []byte

	// Options override the engine defaults for this request
	Options Options
}

// Clone returns a copy whose maps can be modified independently
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	c := *r
	c.Headers = maps.Clone(r.Headers)
	c.Options = r.Options.Clone()
	return &c
}

// Options are per-request settings merged over engine defaults
type Options struct {
	// Timeout bounds each individual attempt; zero means no per-attempt deadline
	Timeout time.Duration

	// Headers are added to the request unless the request already sets them
	Headers map[string]string

	// Tags are free-form labels surfaced in logs and artifacts
	Tags map[string]string
}

// Clone returns a deep copy of the options
func (o Options) Clone() Options {
	return Options{
		Timeout: o.Timeout,
		Headers: maps.Clone(o.Headers),
		Tags:    maps.Clone(o.Tags),
	}
}

// Merge returns defaults overridden by o
func (o Options) Merge(defaults Options) Options {
	merged := defaults.Clone()
	if o.Timeout > 0 {
		merged.Timeout = o.Timeout
	}
	merged.Headers = mergeMaps(merged.Headers, o.Headers)
	merged.Tags = mergeMaps(merged.Tags, o.Tags)
	return merged
}

func mergeMaps(base, override map[string]string) map[string]string {
	if len(override) == 0 {
		return base
	}
	if base == nil {
		base = make(map[string]string, len(override))
	}
	for k, v := range override {
		base[k] = v
	}
	return base
}

// Task defines a unit of work run by a worker pool
type Task interface {
	// Execute executes the task
	Execute(ctx context.Context) error

	// ID returns the task ID
	ID() string
}

type workerIDKey struct{}

// WithWorkerID records the executing worker's identity in the context
func WithWorkerID(ctx context.Context, id int) context.Context {
	return context.WithValue(ctx, workerIDKey{}, id)
}

// WorkerIDFromContext returns the worker identity, or -1 outside a worker
func WorkerIDFromContext(ctx context.Context) int {
	if id, ok := ctx.Value(workerIDKey{}).(int); ok {
		return id
	}
	return -1
}
