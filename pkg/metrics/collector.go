// Package metrics exports executor events as Prometheus metrics.
package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/jzx17/gorelay/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
)

// DefaultNamespace prefixes every metric name
const DefaultNamespace = "gorelay"

// Collector records attempts, retries and terminal outcomes per backend.
// It satisfies retry.EventHandler.
type Collector struct {
	Attempts        *prometheus.CounterVec
	Retries         *prometheus.CounterVec
	RetryDelay      *prometheus.HistogramVec
	Requests        *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// NewCollector creates a collector under namespace; empty means DefaultNamespace
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	return &Collector{
		Attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "backend",
				Name:      "attempts_total",
				Help:      "Total number of backend calls",
			},
			[]string{"backend"},
		),

		Retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "backend",
				Name:      "retries_total",
				Help:      "Total number of retries by failure kind",
			},
			[]string{"backend", "kind", "status"},
		),

		RetryDelay: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "backend",
				Name:      "retry_delay_seconds",
				Help:      "Backoff delay chosen before a retry",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"backend"},
		),

		Requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "requests",
				Name:      "total",
				Help:      "Total number of logical requests by terminal state",
			},
			[]string{"backend", "state", "kind"},
		),

		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "requests",
				Name:      "duration_seconds",
				Help:      "Wall time of logical requests including backoff",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"backend", "state"},
		),
	}
}

// Register registers every metric with reg
func (c *Collector) Register(reg prometheus.Registerer) error {
	for _, col := range []prometheus.Collector{c.Attempts, c.Retries, c.RetryDelay, c.Requests, c.RequestDuration} {
		if err := reg.Register(col); err != nil {
			return err
		}
	}
	return nil
}

// OnAttempt counts a backend call
func (c *Collector) OnAttempt(_ context.Context, req *types.Request, _ int) {
	c.Attempts.WithLabelValues(req.Backend).Inc()
}

// OnRetry counts a retry and observes its delay
func (c *Collector) OnRetry(_ context.Context, req *types.Request, _ int, outcome types.Outcome, delay time.Duration) {
	c.Retries.WithLabelValues(req.Backend, types.Classify(outcome).String(), strconv.Itoa(outcome.StatusCode)).Inc()
	c.RetryDelay.WithLabelValues(req.Backend).Observe(delay.Seconds())
}

// OnComplete counts the terminal state
func (c *Collector) OnComplete(_ context.Context, _ *types.Request, res *types.ExecutionResult) {
	state := res.State.String()
	c.Requests.WithLabelValues(res.Backend, state, res.Kind.String()).Inc()
	c.RequestDuration.WithLabelValues(res.Backend, state).Observe(res.Elapsed.Seconds())
}
