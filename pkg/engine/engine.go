// Package engine is the caller-facing entry point: it resolves a backend and a
// retry policy for each request, runs the attempt loop, fans batches out under
// a concurrency bound and records per-request artifacts when debug is on.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jzx17/gorelay/pkg/artifact"
	"github.com/jzx17/gorelay/pkg/cancel"
	"github.com/jzx17/gorelay/pkg/config"
	"github.com/jzx17/gorelay/pkg/logger"
	"github.com/jzx17/gorelay/pkg/metrics"
	"github.com/jzx17/gorelay/pkg/resource"
	"github.com/jzx17/gorelay/pkg/retry"
	"github.com/jzx17/gorelay/pkg/types"
	"github.com/jzx17/gorelay/pkg/worker"
)

// ErrClosed is reported for requests submitted after Close
var ErrClosed = errors.New("engine closed")

// Engine executes requests against registered backends. It is safe for concurrent use.
type Engine struct {
	store      *Store
	executor   *retry.Executor
	dispatcher *worker.Dispatcher
	allocator  *resource.Allocator
	logger     *logger.Logger
	batchLimit int

	mu     sync.RWMutex
	closed bool
	active sync.WaitGroup
}

// Stats contains engine statistics
type Stats struct {
	Retry     retry.Stats
	Resources resource.Stats
	Batches   worker.DispatchStats
}

type options struct {
	logger       *logger.Logger
	clock        types.Clock
	handlers     []retry.EventHandler
	pollInterval time.Duration
	batchLimit   int
	sharedLimit  int
	allocator    *resource.Allocator
	createDirs   bool
}

// Option configures an Engine
type Option func(*options)

// WithLogger sets the logger
func WithLogger(l *logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock sets the clock used for backoff sleeps and resource ids
func WithClock(clock types.Clock) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithEventHandler adds a handler notified of every attempt, retry and completion
func WithEventHandler(h retry.EventHandler) Option {
	return func(o *options) {
		if h != nil {
			o.handlers = append(o.handlers, h)
		}
	}
}

// WithMetrics records executions into c
func WithMetrics(c *metrics.Collector) Option {
	return func(o *options) {
		if c != nil {
			o.handlers = append(o.handlers, c)
		}
	}
}

// WithPollInterval sets how often backoff sleeps check for cancellation
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		o.pollInterval = d
	}
}

// WithConcurrency sets the batch fan-out used when ExecuteBatch is given no limit
func WithConcurrency(limit int) Option {
	return func(o *options) {
		o.batchLimit = limit
	}
}

// WithSharedLimit caps in-flight requests across all concurrent batches
func WithSharedLimit(n int) Option {
	return func(o *options) {
		o.sharedLimit = n
	}
}

// WithAllocator replaces the resource id allocator
func WithAllocator(a *resource.Allocator) Option {
	return func(o *options) {
		o.allocator = a
	}
}

// WithCreateDirs makes the default allocator create each resource directory
func WithCreateDirs() Option {
	return func(o *options) {
		o.createDirs = true
	}
}

// New creates an engine. backend, when non-nil, is registered as the default.
func New(backend types.Backend, opts ...Option) *Engine {
	o := &options{
		logger: logger.Nop(),
		clock:  types.NewRealClock(),
	}
	for _, opt := range opts {
		opt(o)
	}

	handlers := append([]retry.EventHandler{retry.NewLogEventHandler(o.logger)}, o.handlers...)
	executorOpts := []retry.ExecutorOption{
		retry.WithClock(o.clock),
		retry.WithLogger(o.logger),
		retry.WithEventHandler(retry.Handlers(handlers...)),
	}
	if o.pollInterval > 0 {
		executorOpts = append(executorOpts, retry.WithPollInterval(o.pollInterval))
	}

	dispatchOpts := []worker.DispatcherOption{
		worker.WithDispatchClock(o.clock),
		worker.WithDispatchLogger(o.logger),
	}
	if o.sharedLimit > 0 {
		dispatchOpts = append(dispatchOpts, worker.WithSharedLimiter(worker.NewLimiter(o.sharedLimit)))
	}

	allocator := o.allocator
	if allocator == nil {
		allocOpts := []resource.Option{resource.WithClock(o.clock), resource.WithLogger(o.logger)}
		if o.createDirs {
			allocOpts = append(allocOpts, resource.WithCreateDir())
		}
		allocator = resource.NewAllocator(allocOpts...)
	}

	e := &Engine{
		store:      NewStore(Settings{ArtifactDir: config.DefaultArtifactDir}),
		executor:   retry.NewExecutor(executorOpts...),
		dispatcher: worker.NewDispatcher(dispatchOpts...),
		allocator:  allocator,
		logger:     o.logger.WithComponent("engine"),
		batchLimit: o.batchLimit,
	}
	if backend != nil {
		if err := e.RegisterBackend(backend); err != nil {
			e.logger.WithError(err).Warn("default backend not registered")
		}
	}
	return e
}

// NewFromConfig builds an engine with every configured provider, policy and default.
// Options are applied after the ones derived from cfg.
func NewFromConfig(cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("engine: config is nil")
	}

	policy, err := cfg.Policy()
	if err != nil {
		return nil, fmt.Errorf("engine: retry policy: %w", err)
	}
	providerPolicies, err := cfg.ProviderPolicies()
	if err != nil {
		return nil, fmt.Errorf("engine: provider policies: %w", err)
	}
	backends, err := cfg.Backends()
	if err != nil {
		return nil, fmt.Errorf("engine: backends: %w", err)
	}

	base := []Option{
		WithLogger(logger.New(cfg.Logging)),
		WithConcurrency(cfg.Concurrency.Limit),
		WithSharedLimit(cfg.Concurrency.Shared),
	}
	if cfg.Artifacts.CreateDir {
		base = append(base, WithCreateDirs())
	}
	e := New(nil, append(base, opts...)...)

	e.store.Mutate(func(s *Settings) {
		s.Defaults = types.Options{
			Timeout: cfg.Defaults.Timeout,
			Headers: cfg.Defaults.Headers,
			Tags:    cfg.Defaults.Tags,
		}.Clone()
		s.Policy = policy
		for name, p := range providerPolicies {
			s.ProviderPolicies[name] = p
		}
		for _, b := range backends {
			s.Backends[b.Name()] = b
		}
		s.DefaultBackend = cfg.DefaultProvider
		s.ArtifactDir = cfg.Artifacts.Dir
		if cfg.Artifacts.Enabled {
			s.Sink = artifact.NewFileSink(artifact.WithFileName(cfg.Artifacts.FileName))
			s.Debug = true
		}
	})

	e.logger.Info("engine configured", map[string]interface{}{
		"providers":        len(backends),
		"default_provider": cfg.DefaultProvider,
		"artifacts":        cfg.Artifacts.Enabled,
	})
	return e, nil
}

// Execute runs one logical request with retry. A nil policy, including a nil
// *retry.Policy, falls back to the backend's policy, then the engine's, then
// retry.DefaultPolicy. A nil token never cancels. Failures are reported in the result, never returned or panicked.
func (e *Engine) Execute(ctx context.Context, req *types.Request, policy retry.RetryPolicy, token *cancel.Token) *types.ExecutionResult {
	if !e.enter() {
		return failure(req, types.KindClient, ErrClosed)
	}
	defer e.active.Done()

	return e.execute(ctx, req, policy, token)
}

// ExecuteAsync runs Execute in its own goroutine
func (e *Engine) ExecuteAsync(ctx context.Context, req *types.Request, policy retry.RetryPolicy, token *cancel.Token) <-chan *types.ExecutionResult {
	resultChan := make(chan *types.ExecutionResult, 1)

	go func() {
		defer close(resultChan)
		resultChan <- e.Execute(ctx, req, policy, token)
	}()

	return resultChan
}

// ExecuteBatch runs reqs with at most limit in flight and returns one result per
// request in input order. limit <= 0 uses the configured concurrency, or
// GOMAXPROCS when none is configured. policy and token are shared by every item.
func (e *Engine) ExecuteBatch(ctx context.Context, reqs []*types.Request, limit int, policy retry.RetryPolicy, token *cancel.Token) []*types.ExecutionResult {
	if !e.enter() {
		results := make([]*types.ExecutionResult, len(reqs))
		for i, req := range reqs {
			results[i] = failure(req, types.KindClient, ErrClosed)
		}
		return results
	}
	defer e.active.Done()

	if limit <= 0 {
		limit = e.batchLimit
	}

	results, err := worker.Dispatch(ctx, e.dispatcher, reqs, limit, func(ctx context.Context, _ int, req *types.Request) *types.ExecutionResult {
		return e.execute(ctx, req, policy, token)
	})
	if err != nil {
		e.logger.WithError(err).Error("batch dispatch failed", map[string]interface{}{"size": len(reqs)})
		results = make([]*types.ExecutionResult, len(reqs))
	}

	for i, res := range results {
		if res == nil {
			results[i] = failure(reqs[i], types.KindUnknown, errors.New("request was not executed"))
		}
	}
	return results
}

// NewCancellationToken returns an unsignalled token for Execute or ExecuteBatch
func (e *Engine) NewCancellationToken() *cancel.Token {
	return cancel.New()
}

// SetDefaultOptions replaces the options merged under every request's own
func (e *Engine) SetDefaultOptions(opts types.Options) {
	e.store.Mutate(func(s *Settings) {
		s.Defaults = opts.Clone()
	})
}

// SetRetryPolicy sets the process-wide policy; nil restores retry.DefaultPolicy
func (e *Engine) SetRetryPolicy(p retry.RetryPolicy) {
	e.store.Mutate(func(s *Settings) {
		s.Policy = p
	})
}

// SetProviderPolicy sets the policy for one backend; nil removes the override
func (e *Engine) SetProviderPolicy(name string, p retry.RetryPolicy) {
	e.store.Mutate(func(s *Settings) {
		if p == nil {
			delete(s.ProviderPolicies, name)
			return
		}
		s.ProviderPolicies[name] = p
	})
}

// AddInterceptor appends i to the interceptor chain
func (e *Engine) AddInterceptor(i Interceptor) {
	if i == nil {
		return
	}
	e.store.Mutate(func(s *Settings) {
		s.Interceptors = append(s.Interceptors, i)
	})
}

// RegisterBackend registers b under its name, replacing any backend of that
// name. The first backend registered becomes the default.
func (e *Engine) RegisterBackend(b types.Backend) error {
	if b == nil {
		return errors.New("engine: backend is nil")
	}
	name := b.Name()
	if name == "" {
		return errors.New("engine: backend name is required")
	}

	e.store.Mutate(func(s *Settings) {
		s.Backends[name] = b
		if s.DefaultBackend == "" {
			s.DefaultBackend = name
		}
	})
	return nil
}

// SetDefaultBackend selects the backend used by requests that name none
func (e *Engine) SetDefaultBackend(name string) error {
	var err error
	e.store.Mutate(func(s *Settings) {
		if _, ok := s.Backends[name]; !ok {
			err = fmt.Errorf("%w: %q", types.ErrUnknownBackend, name)
			return
		}
		s.DefaultBackend = name
	})
	return err
}

// SetArtifactSink sets the sink and the base directory for resource ids.
// An empty dir keeps the current one.
func (e *Engine) SetArtifactSink(sink artifact.Sink, dir string) {
	e.store.Mutate(func(s *Settings) {
		s.Sink = sink
		if dir != "" {
			s.ArtifactDir = dir
		}
	})
}

// SetDebug toggles artifact output
func (e *Engine) SetDebug(enabled bool) {
	e.store.Mutate(func(s *Settings) {
		s.Debug = enabled
	})
}

// Settings returns the current configuration snapshot
func (e *Engine) Settings() Settings {
	return e.store.Read()
}

// Stats returns engine statistics
func (e *Engine) Stats() Stats {
	return Stats{
		Retry:     e.executor.GetStats(),
		Resources: e.allocator.Stats(),
		Batches:   e.dispatcher.Stats(),
	}
}

// Close rejects new requests and waits for in-flight ones to finish.
// Calling it more than once is a no-op.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.active.Wait()

	stats := e.executor.GetStats()
	batches := e.dispatcher.Stats()
	e.logger.Info("engine closed", map[string]interface{}{
		"attempts":    stats.TotalAttempts,
		"successes":   stats.TotalSuccesses,
		"failures":    stats.TotalFailures,
		"cancelled":   stats.TotalCancelled,
		"batches":     batches.Batches,
		"batch_items": batches.Items,
	})
	return nil
}

func (e *Engine) enter() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return false
	}
	e.active.Add(1)
	return true
}

func (e *Engine) execute(ctx context.Context, req *types.Request, policy retry.RetryPolicy, token *cancel.Token) (res *types.ExecutionResult) {
	snap := e.store.Read()
	req = prepare(req, snap)

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("request panicked", map[string]interface{}{
				logger.FieldRequestID: req.ID,
				logger.FieldBackend:   req.Backend,
				"panic":               fmt.Sprint(r),
			})
			res = failure(req, types.KindUnknown, fmt.Errorf("request panicked: %v", r))
		}
	}()

	backend, ok := snap.Backends[req.Backend]
	if !ok {
		e.logger.Warn("unknown backend", map[string]interface{}{
			logger.FieldRequestID: req.ID,
			logger.FieldBackend:   req.Backend,
		})
		return failure(req, types.KindClient, fmt.Errorf("%w: %q", types.ErrUnknownBackend, req.Backend))
	}

	policy = retry.Resolve(policy, snap.ProviderPolicies[req.Backend], snap.Policy)

	// cancelled requests still get an id so their artifact can be written
	resourceID, err := e.allocator.Allocate(context.WithoutCancel(ctx), snap.ArtifactDir)
	if err != nil {
		e.logger.WithError(err).Warn("resource id not allocated", map[string]interface{}{
			logger.FieldRequestID: req.ID,
		})
	} else {
		defer e.allocator.Release(resourceID)
	}

	send := types.BackendFunc{
		ProviderName: req.Backend,
		Fn:           chain(snap.Interceptors, backend.Send),
	}
	res = e.executor.Execute(ctx, send, req, policy, token)
	res.ResourceID = resourceID

	if snap.Debug && snap.Sink != nil && resourceID != "" {
		e.writeArtifact(ctx, snap.Sink, resourceID, req, res)
	}
	return res
}

// writeArtifact calls the sink once; its failures are logged only
func (e *Engine) writeArtifact(ctx context.Context, sink artifact.Sink, resourceID string, req *types.Request, res *types.ExecutionResult) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("artifact sink panicked", map[string]interface{}{
				logger.FieldRequestID:  req.ID,
				logger.FieldResourceID: resourceID,
				"panic":                fmt.Sprint(r),
			})
		}
	}()

	// cancelled requests still leave a record
	if err := sink.Write(context.WithoutCancel(ctx), resourceID, req, res); err != nil {
		e.logger.WithError(err).Error("artifact write failed", map[string]interface{}{
			logger.FieldRequestID:  req.ID,
			logger.FieldResourceID: resourceID,
		})
	}
}

// prepare returns a private copy of req with its id, backend and options resolved
func prepare(req *types.Request, snap Settings) *types.Request {
	if req == nil {
		req = &types.Request{}
	}
	req = req.Clone()
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Backend == "" {
		req.Backend = snap.DefaultBackend
	}
	req.Options = req.Options.Merge(snap.Defaults)
	return req
}

// failure builds the result of a request that never reached a backend
func failure(req *types.Request, kind types.Kind, cause error) *types.ExecutionResult {
	res := &types.ExecutionResult{
		State: types.StateExhausted,
		Kind:  kind,
		Err: &types.RequestError{
			Kind:    kind,
			Message: cause.Error(),
			Cause:   cause,
		},
	}
	if req != nil {
		res.RequestID = req.ID
		res.Backend = req.Backend
	}
	return res
}
