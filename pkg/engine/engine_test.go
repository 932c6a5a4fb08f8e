package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jzx17/gorelay/internal/testutils"
	"github.com/jzx17/gorelay/pkg/artifact"
	"github.com/jzx17/gorelay/pkg/backend/httpbackend"
	"github.com/jzx17/gorelay/pkg/config"
	"github.com/jzx17/gorelay/pkg/logger"
	"github.com/jzx17/gorelay/pkg/metrics"
	"github.com/jzx17/gorelay/pkg/retry"
	"github.com/jzx17/gorelay/pkg/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastRetry = retry.MustPolicy(3, time.Millisecond, 2*time.Millisecond)

func newTestEngine(t *testing.T, backend types.Backend, opts ...Option) *Engine {
	t.Helper()
	e := New(backend, append([]Option{WithPollInterval(time.Millisecond)}, opts...)...)
	e.SetArtifactSink(nil, t.TempDir())
	t.Cleanup(func() { _ = e.Close() })
	return e
}

// delayBackend sleeps for the duration encoded in the request path
type delayBackend struct {
	name     string
	inFlight atomic.Int32
	peak     atomic.Int32
	calls    atomic.Int32
}

func (b *delayBackend) Name() string { return b.name }

func (b *delayBackend) Send(ctx context.Context, req *types.Request) (types.Outcome, error) {
	b.calls.Add(1)
	n := b.inFlight.Add(1)
	defer b.inFlight.Add(-1)
	for {
		peak := b.peak.Load()
		if n <= peak || b.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	delay, err := time.ParseDuration(strings.TrimPrefix(req.Path, "/"))
	if err != nil {
		delay = 0
	}
	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return types.Outcome{}, ctx.Err()
	}
	return types.Outcome{Success: true, StatusCode: 200, Payload: []byte(req.ID)}, nil
}

func TestEngine_Execute_Success(t *testing.T) {
	backend := testutils.NewScriptedBackend("primary", testutils.Status(500), testutils.OK("hello"))
	e := newTestEngine(t, backend)
	dir := e.Settings().ArtifactDir

	res := e.Execute(context.Background(), &types.Request{Path: "/v1"}, fastRetry, nil)

	require.True(t, res.Succeeded())
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, "primary", res.Backend)
	assert.Equal(t, "hello", string(res.Outcome.Payload))
	assert.NotEmpty(t, res.RequestID, "an id is generated")
	assert.True(t, strings.HasPrefix(res.ResourceID, dir+string(filepath.Separator)))

	seen := backend.Requests()
	require.Len(t, seen, 2)
	assert.Equal(t, res.RequestID, seen[0].ID)
	assert.Equal(t, "primary", seen[0].Backend)

	stats := e.Stats()
	assert.Equal(t, int64(2), stats.Retry.TotalAttempts)
	assert.Equal(t, int64(1), stats.Resources.Allocated)
	assert.Equal(t, int64(0), stats.Resources.Live, "released after the request")
}

func TestEngine_Execute_DoesNotModifyRequest(t *testing.T) {
	e := newTestEngine(t, testutils.NewScriptedBackend("primary"))
	e.SetDefaultOptions(types.Options{Tags: map[string]string{"suite": "nightly"}})

	req := &types.Request{Path: "/v1"}
	res := e.Execute(context.Background(), req, nil, nil)

	require.True(t, res.Succeeded())
	assert.Empty(t, req.ID)
	assert.Empty(t, req.Backend)
	assert.Nil(t, req.Options.Tags)
}

func TestEngine_Execute_UnknownBackend(t *testing.T) {
	backend := testutils.NewScriptedBackend("primary")
	e := newTestEngine(t, backend)

	res := e.Execute(context.Background(), &types.Request{ID: "r1", Backend: "missing"}, nil, nil)

	assert.Equal(t, types.KindClient, res.Kind)
	assert.Equal(t, 0, res.Attempts)
	assert.Equal(t, "r1", res.RequestID)
	assert.True(t, errors.Is(res.Err, types.ErrUnknownBackend))
	assert.False(t, errors.Is(res.Err, types.ErrExhaustedRetries))
	assert.Equal(t, 0, backend.Calls())
}

func TestEngine_Execute_NoBackends(t *testing.T) {
	e := newTestEngine(t, nil)

	res := e.Execute(context.Background(), &types.Request{}, nil, nil)
	assert.True(t, errors.Is(res.Err, types.ErrUnknownBackend))
}

func TestEngine_PolicyPriority(t *testing.T) {
	always500 := func() *testutils.ScriptedBackend {
		return testutils.NewScriptedBackend("primary", testutils.Status(500))
	}
	policy := func(n int) retry.RetryPolicy {
		return retry.MustPolicy(n, time.Millisecond, time.Millisecond)
	}

	tests := []struct {
		name     string
		call     retry.RetryPolicy
		provider retry.RetryPolicy
		process  retry.RetryPolicy
		want     int
	}{
		{name: "call wins", call: policy(1), provider: policy(2), process: policy(4), want: 1},
		{name: "provider over process", provider: policy(2), process: policy(4), want: 2},
		{name: "process", process: policy(4), want: 4},
		{name: "default", want: retry.DefaultMaxAttempts},
		{name: "nil call pointer falls through", call: (*retry.Policy)(nil), provider: policy(2), process: policy(4), want: 2},
		{name: "nil provider pointer falls through", call: (*retry.Policy)(nil), provider: (*retry.Policy)(nil), process: policy(4), want: 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := always500()
			e := newTestEngine(t, backend)
			e.SetRetryPolicy(tt.process)
			e.SetProviderPolicy("primary", tt.provider)

			res := e.Execute(context.Background(), &types.Request{}, tt.call, nil)

			assert.Equal(t, types.StateExhausted, res.State)
			assert.Equal(t, types.KindServer, res.Kind)
			assert.Equal(t, tt.want, res.Attempts)
			assert.Equal(t, tt.want, backend.Calls())
		})
	}
}

func TestEngine_DefaultOptionsMerge(t *testing.T) {
	backend := testutils.NewScriptedBackend("primary")
	e := newTestEngine(t, backend)
	e.SetDefaultOptions(types.Options{
		Timeout: time.Second,
		Headers: map[string]string{"x-team": "relay", "x-env": "test"},
	})

	res := e.Execute(context.Background(), &types.Request{
		Options: types.Options{Headers: map[string]string{"x-env": "prod"}},
	}, nil, nil)
	require.True(t, res.Succeeded())

	seen := backend.Requests()[0]
	assert.Equal(t, time.Second, seen.Options.Timeout)
	assert.Equal(t, map[string]string{"x-team": "relay", "x-env": "prod"}, seen.Options.Headers)
}

func TestEngine_PerAttemptTimeout(t *testing.T) {
	backend := testutils.NewScriptedBackend("primary", testutils.Step{Delay: time.Second})
	e := newTestEngine(t, backend)
	e.SetDefaultOptions(types.Options{Timeout: 20 * time.Millisecond})

	res := e.Execute(context.Background(), &types.Request{}, retry.MustPolicy(2, time.Millisecond, time.Millisecond), nil)

	assert.Equal(t, types.KindTimeout, res.Kind)
	assert.Equal(t, 2, res.Attempts)
}

func TestEngine_InterceptorOrder(t *testing.T) {
	e := newTestEngine(t, testutils.NewScriptedBackend("primary"))

	var (
		mu    sync.Mutex
		trace []string
	)
	record := func(s string) {
		mu.Lock()
		trace = append(trace, s)
		mu.Unlock()
	}
	named := func(name string) Interceptor {
		return func(next types.SendFunc) types.SendFunc {
			return func(ctx context.Context, req *types.Request) (types.Outcome, error) {
				record(name + ">")
				out, err := next(ctx, req)
				record("<" + name)
				return out, err
			}
		}
	}

	e.AddInterceptor(named("a"))
	e.AddInterceptor(nil)
	e.AddInterceptor(named("b"))

	res := e.Execute(context.Background(), &types.Request{}, nil, nil)
	require.True(t, res.Succeeded())
	assert.Equal(t, []string{"a>", "b>", "<b", "<a"}, trace)
}

func TestEngine_InterceptorSeesEveryAttempt(t *testing.T) {
	e := newTestEngine(t, testutils.NewScriptedBackend("primary", testutils.Status(503), testutils.Status(503), testutils.OK("")))

	var calls atomic.Int32
	e.AddInterceptor(func(next types.SendFunc) types.SendFunc {
		return func(ctx context.Context, req *types.Request) (types.Outcome, error) {
			calls.Add(1)
			return next(ctx, req)
		}
	})

	res := e.Execute(context.Background(), &types.Request{}, fastRetry, nil)
	require.True(t, res.Succeeded())
	assert.Equal(t, int32(3), calls.Load())
}

func TestEngine_InterceptorPanicIsAdapterFault(t *testing.T) {
	e := newTestEngine(t, testutils.NewScriptedBackend("primary"))
	e.AddInterceptor(func(next types.SendFunc) types.SendFunc {
		return func(ctx context.Context, req *types.Request) (types.Outcome, error) {
			panic("broken interceptor")
		}
	})

	res := e.Execute(context.Background(), &types.Request{}, retry.NoRetry(), nil)

	assert.Equal(t, types.KindNetwork, res.Kind)
	assert.True(t, res.Outcome.AdapterFault)
}

func TestEngine_Execute_CancelledBeforeStart(t *testing.T) {
	backend := testutils.NewScriptedBackend("primary")
	e := newTestEngine(t, backend)
	token := e.NewCancellationToken()
	token.Cancel()

	res := e.Execute(context.Background(), &types.Request{}, nil, token)

	assert.True(t, res.Cancelled())
	assert.Equal(t, types.KindCancelled, res.Kind)
	assert.Equal(t, 0, backend.Calls())
	assert.True(t, types.IsCancelled(res.Err))
}

func TestEngine_Execute_CancelDuringBackoff(t *testing.T) {
	backend := testutils.NewScriptedBackend("primary", testutils.Status(500))
	e := newTestEngine(t, backend)
	token := e.NewCancellationToken()

	time.AfterFunc(30*time.Millisecond, token.Cancel)
	start := time.Now()
	res := e.Execute(context.Background(), &types.Request{}, retry.MustPolicy(5, 5*time.Second, 5*time.Second), token)

	assert.True(t, res.Cancelled())
	assert.Equal(t, 1, res.Attempts)
	assert.Less(t, time.Since(start), time.Second)
}

func TestEngine_ExecuteAsync(t *testing.T) {
	e := newTestEngine(t, testutils.NewScriptedBackend("primary", testutils.OK("async")))

	select {
	case res := <-e.ExecuteAsync(context.Background(), &types.Request{}, nil, nil):
		require.True(t, res.Succeeded())
		assert.Equal(t, "async", string(res.Outcome.Payload))
	case <-time.After(2 * time.Second):
		t.Fatal("async execution did not complete")
	}
}

func TestEngine_ExecuteBatch_Order(t *testing.T) {
	for _, limit := range []int{1, 2, 3, 0} {
		t.Run(fmt.Sprintf("limit=%d", limit), func(t *testing.T) {
			backend := &delayBackend{name: "primary"}
			e := newTestEngine(t, backend)

			reqs := []*types.Request{
				{ID: "A", Path: "/30ms"},
				{ID: "B", Path: "/1ms"},
				{ID: "C", Path: "/15ms"},
			}
			results := e.ExecuteBatch(context.Background(), reqs, limit, nil, nil)

			require.Len(t, results, 3)
			for i, res := range results {
				require.True(t, res.Succeeded(), "item %d", i)
				assert.Equal(t, reqs[i].ID, res.RequestID)
				assert.Equal(t, reqs[i].ID, string(res.Outcome.Payload))
			}
			if limit == 1 {
				assert.Equal(t, int32(1), backend.peak.Load())
			}
		})
	}
}

func TestEngine_ExecuteBatch_RespectsLimit(t *testing.T) {
	backend := &delayBackend{name: "primary"}
	e := newTestEngine(t, backend)

	reqs := make([]*types.Request, 12)
	for i := range reqs {
		reqs[i] = &types.Request{Path: "/10ms"}
	}
	results := e.ExecuteBatch(context.Background(), reqs, 3, nil, nil)

	require.Len(t, results, 12)
	assert.LessOrEqual(t, backend.peak.Load(), int32(3))
	assert.Equal(t, int32(12), backend.calls.Load())

	ids := make(map[string]bool)
	resources := make(map[string]bool)
	for _, res := range results {
		assert.True(t, res.Succeeded())
		ids[res.RequestID] = true
		resources[res.ResourceID] = true
	}
	assert.Len(t, ids, 12, "each item gets its own request id")
	assert.Len(t, resources, 12, "each item gets its own resource id")
}

func TestEngine_ExecuteBatch_ConfiguredConcurrency(t *testing.T) {
	backend := &delayBackend{name: "primary"}
	e := newTestEngine(t, backend, WithConcurrency(2))

	reqs := make([]*types.Request, 8)
	for i := range reqs {
		reqs[i] = &types.Request{Path: "/5ms"}
	}
	e.ExecuteBatch(context.Background(), reqs, 0, nil, nil)

	assert.LessOrEqual(t, backend.peak.Load(), int32(2))
}

func TestEngine_ExecuteBatch_SharedLimit(t *testing.T) {
	backend := &delayBackend{name: "primary"}
	e := newTestEngine(t, backend, WithSharedLimit(2))

	reqs := make([]*types.Request, 6)
	for i := range reqs {
		reqs[i] = &types.Request{Path: "/10ms"}
	}

	var wg sync.WaitGroup
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, res := range e.ExecuteBatch(context.Background(), reqs, 6, nil, nil) {
				assert.True(t, res.Succeeded())
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, backend.peak.Load(), int32(2))
	assert.Equal(t, int32(18), backend.calls.Load())
}

func TestEngine_ExecuteBatch_Empty(t *testing.T) {
	e := newTestEngine(t, testutils.NewScriptedBackend("primary"))

	results := e.ExecuteBatch(context.Background(), nil, 4, nil, nil)
	assert.Empty(t, results)
}

func TestEngine_ExecuteBatch_CancelledToken(t *testing.T) {
	backend := testutils.NewScriptedBackend("primary")
	e := newTestEngine(t, backend)
	token := e.NewCancellationToken()
	token.Cancel()

	reqs := []*types.Request{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	results := e.ExecuteBatch(context.Background(), reqs, 2, nil, token)

	require.Len(t, results, 3)
	for i, res := range results {
		assert.True(t, res.Cancelled())
		assert.Equal(t, reqs[i].ID, res.RequestID)
	}
	assert.Equal(t, 0, backend.Calls())
}

func TestEngine_ExecuteBatch_CancelledContext(t *testing.T) {
	backend := testutils.NewScriptedBackend("primary")
	e := newTestEngine(t, backend)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := e.ExecuteBatch(ctx, []*types.Request{{}, {}}, 1, nil, nil)

	require.Len(t, results, 2)
	for _, res := range results {
		assert.True(t, res.Cancelled())
	}
	assert.Equal(t, 0, backend.Calls())
}

func TestEngine_ExecuteBatch_MixedBackends(t *testing.T) {
	primary := testutils.NewScriptedBackend("primary", testutils.OK("p"))
	secondary := testutils.NewScriptedBackend("secondary", testutils.Status(404))
	e := newTestEngine(t, primary)
	require.NoError(t, e.RegisterBackend(secondary))

	results := e.ExecuteBatch(context.Background(), []*types.Request{
		{ID: "1"},
		{ID: "2", Backend: "secondary"},
		{ID: "3", Backend: "nope"},
	}, 3, fastRetry, nil)

	assert.True(t, results[0].Succeeded())
	assert.Equal(t, types.KindClient, results[1].Kind)
	assert.Equal(t, 1, results[1].Attempts)
	assert.True(t, errors.Is(results[2].Err, types.ErrUnknownBackend))
}

func TestEngine_Artifacts(t *testing.T) {
	backend := testutils.NewScriptedBackend("primary", testutils.Status(429))
	e := newTestEngine(t, backend)

	var (
		mu      sync.Mutex
		written []string
	)
	dir := t.TempDir()
	e.SetArtifactSink(artifact.SinkFunc(func(ctx context.Context, resourceID string, req *types.Request, res *types.ExecutionResult) error {
		mu.Lock()
		defer mu.Unlock()
		written = append(written, resourceID)
		assert.Equal(t, resourceID, res.ResourceID)
		assert.Equal(t, types.KindRateLimited, res.Kind)
		return nil
	}), dir)

	res := e.Execute(context.Background(), &types.Request{}, fastRetry, nil)
	assert.Empty(t, written, "debug is off")

	e.SetDebug(true)
	res = e.Execute(context.Background(), &types.Request{}, fastRetry, nil)

	require.Len(t, written, 1)
	assert.Equal(t, res.ResourceID, written[0])
	assert.Equal(t, dir, filepath.Dir(written[0]))
}

func TestEngine_ArtifactFailureIsLogged(t *testing.T) {
	var buf bytes.Buffer
	l := logger.NewWithWriter(logger.Config{Level: "info", Format: "json"}, &syncWriter{w: &buf})
	e := newTestEngine(t, testutils.NewScriptedBackend("primary"), WithLogger(l))
	e.SetArtifactSink(artifact.SinkFunc(func(context.Context, string, *types.Request, *types.ExecutionResult) error {
		return errors.New("disk full")
	}), "")
	e.SetDebug(true)

	res := e.Execute(context.Background(), &types.Request{}, nil, nil)

	assert.True(t, res.Succeeded())
	assert.NoError(t, res.Err)
	assert.Contains(t, buf.String(), "artifact write failed")
	assert.Contains(t, buf.String(), "disk full")
}

func TestEngine_CancelledRequestWritesArtifact(t *testing.T) {
	e := newTestEngine(t, testutils.NewScriptedBackend("primary"))
	e.SetArtifactSink(artifact.NewFileSink(), "")
	e.SetDebug(true)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := e.Execute(ctx, &types.Request{ID: "gone"}, nil, nil)
	require.True(t, res.Cancelled())

	rec, err := artifact.ReadRecord(filepath.Join(res.ResourceID, artifact.DefaultFileName))
	require.NoError(t, err)
	assert.Equal(t, "gone", rec.RequestID)
	assert.Equal(t, "cancelled", rec.State)
}

func TestEngine_SnapshotIsolation(t *testing.T) {
	e := newTestEngine(t, testutils.NewScriptedBackend("primary"))
	before := e.Settings()

	e.AddInterceptor(func(next types.SendFunc) types.SendFunc { return next })
	e.SetDefaultOptions(types.Options{Tags: map[string]string{"k": "v"}})
	e.SetProviderPolicy("primary", retry.NoRetry())

	assert.Empty(t, before.Interceptors)
	assert.Nil(t, before.Defaults.Tags)
	assert.NotContains(t, before.ProviderPolicies, "primary")

	after := e.Settings()
	assert.Len(t, after.Interceptors, 1)
	assert.Equal(t, "v", after.Defaults.Tags["k"])
}

func TestEngine_ConcurrentMutation(t *testing.T) {
	backend := testutils.NewScriptedBackend("primary")
	e := newTestEngine(t, backend)

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for range 20 {
				res := e.Execute(context.Background(), &types.Request{}, nil, nil)
				assert.True(t, res.Succeeded())
			}
		}()
		go func() {
			defer wg.Done()
			e.AddInterceptor(func(next types.SendFunc) types.SendFunc { return next })
			e.SetDefaultOptions(types.Options{Tags: map[string]string{"writer": fmt.Sprint(i)}})
			e.SetRetryPolicy(retry.NoRetry())
		}()
	}
	wg.Wait()

	assert.Len(t, e.Settings().Interceptors, 8)
	assert.Equal(t, 160, backend.Calls())
}

func TestEngine_RegisterBackend(t *testing.T) {
	e := newTestEngine(t, nil)

	assert.Error(t, e.RegisterBackend(nil))
	assert.Error(t, e.RegisterBackend(testutils.NewScriptedBackend("")))

	require.NoError(t, e.RegisterBackend(testutils.NewScriptedBackend("first")))
	require.NoError(t, e.RegisterBackend(testutils.NewScriptedBackend("second")))
	assert.Equal(t, "first", e.Settings().DefaultBackend)

	require.NoError(t, e.SetDefaultBackend("second"))
	assert.Equal(t, "second", e.Settings().DefaultBackend)

	err := e.SetDefaultBackend("third")
	assert.True(t, errors.Is(err, types.ErrUnknownBackend))
	assert.Equal(t, "second", e.Settings().DefaultBackend)

	res := e.Execute(context.Background(), &types.Request{}, nil, nil)
	assert.Equal(t, "second", res.Backend)
}

func TestEngine_Metrics(t *testing.T) {
	collector := metrics.NewCollector("engine_test")
	e := newTestEngine(t, testutils.NewScriptedBackend("primary", testutils.Status(500), testutils.OK("")), WithMetrics(collector))

	res := e.Execute(context.Background(), &types.Request{}, fastRetry, nil)
	require.True(t, res.Succeeded())

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.Attempts.WithLabelValues("primary")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.Requests.WithLabelValues("primary", "succeeded", "none")))
}

func TestEngine_StatsIncludeBatches(t *testing.T) {
	backend := &delayBackend{name: "primary"}
	e := newTestEngine(t, backend)

	reqs := []*types.Request{{ID: "A", Path: "/2ms"}, {ID: "B", Path: "/2ms"}, {ID: "C", Path: "/1ms"}}
	results := e.ExecuteBatch(context.Background(), reqs, 2, nil, nil)
	require.Len(t, results, 3)

	stats := e.Stats()
	assert.Equal(t, int64(1), stats.Batches.Batches)
	assert.Equal(t, int64(3), stats.Batches.Items)
	assert.Zero(t, stats.Batches.Panics)
	assert.Positive(t, stats.Batches.BusyTime)
	assert.Equal(t, int64(3), stats.Retry.TotalSuccesses)
}

func TestEngine_Close(t *testing.T) {
	backend := testutils.NewScriptedBackend("primary", testutils.Step{Delay: 50 * time.Millisecond, Outcome: types.Outcome{Success: true}})
	e := New(backend)
	e.SetArtifactSink(nil, t.TempDir())

	inflight := e.ExecuteAsync(context.Background(), &types.Request{}, nil, nil)
	time.Sleep(10 * time.Millisecond)

	require.NoError(t, e.Close())
	res := <-inflight
	assert.True(t, res.Succeeded(), "in-flight requests finish")

	res = e.Execute(context.Background(), &types.Request{ID: "late"}, nil, nil)
	assert.True(t, errors.Is(res.Err, ErrClosed))
	assert.Equal(t, "late", res.RequestID)

	results := e.ExecuteBatch(context.Background(), []*types.Request{{}, {}}, 2, nil, nil)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.True(t, errors.Is(r.Err, ErrClosed))
	}

	assert.NoError(t, e.Close())
	assert.Equal(t, 1, backend.Calls())
}

func TestNewFromConfig(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "relay", r.Header.Get("X-Team"))
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("pong"))
	}))
	defer srv.Close()

	artifacts := t.TempDir()
	cfg := &config.Config{
		Retry: config.RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
		Providers: []config.ProviderConfig{
			{Config: httpbackend.Config{Name: "local", BaseURL: srv.URL}},
		},
		Defaults:  config.DefaultsConfig{Headers: map[string]string{"x-team": "relay"}},
		Artifacts: config.ArtifactsConfig{Enabled: true, Dir: artifacts, CreateDir: true},
		Logging:   logger.Config{Output: "stderr", Level: "error"},
	}
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())

	e, err := NewFromConfig(cfg)
	require.NoError(t, err)
	defer e.Close()

	settings := e.Settings()
	assert.Equal(t, "local", settings.DefaultBackend)
	assert.True(t, settings.Debug)
	assert.Equal(t, artifacts, settings.ArtifactDir)

	res := e.Execute(context.Background(), &types.Request{Path: "/ping"}, nil, nil)
	require.True(t, res.Succeeded())
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, "pong", string(res.Outcome.Payload))

	rec, err := artifact.ReadRecord(filepath.Join(res.ResourceID, artifact.DefaultFileName))
	require.NoError(t, err)
	assert.Equal(t, "local", rec.Backend)
	assert.Equal(t, 2, rec.Attempts)
	assert.Equal(t, "pong", rec.Payload)
}

func TestNewFromConfig_Nil(t *testing.T) {
	_, err := NewFromConfig(nil)
	assert.Error(t, err)
}

type syncWriter struct {
	mu sync.Mutex
	w  *bytes.Buffer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
