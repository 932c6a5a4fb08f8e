package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jzx17/gorelay/pkg/logger"
	"github.com/jzx17/gorelay/pkg/types"
)

// DefaultStopTimeout bounds how long Close waits for running tasks
const DefaultStopTimeout = 10 * time.Second

var (
	errPoolRunning = errors.New("worker pool is already running")
	errPoolIdle    = errors.New("worker pool is not started")
	errPoolClosed  = errors.New("worker pool is closed")
)

type poolState int

const (
	poolIdle poolState = iota
	poolRunning
	poolClosed
)

// FixedWorkerPoolConfig sizes a pool and hooks into task completion
type FixedWorkerPoolConfig struct {
	// Workers is the number of goroutines reading the queue
	Workers int

	// QueueDepth is the capacity of the task queue
	QueueDepth int

	// Clock for time operations (optional, defaults to real clock)
	Clock types.Clock

	// OnComplete observes every finished task, failed or not (optional)
	OnComplete func(elapsed time.Duration, failed bool)

	// Logger receives task failures and shutdown problems (optional)
	Logger *logger.Logger

	// StopTimeout bounds Close; 0 means DefaultStopTimeout
	StopTimeout time.Duration
}

// PoolStats is a point-in-time view of a pool
type PoolStats struct {
	Workers    int
	Busy       int
	Queued     int
	QueueDepth int
	Completed  int64 // tasks that returned nil
	Failed     int64 // tasks that returned an error or panicked
}

// FixedWorkerPool runs queued tasks on a fixed set of workers. It is started
// once and closed once; a closed pool keeps reporting Stats.
type FixedWorkerPool struct {
	workers     []*Worker
	queue       chan types.Task
	clock       types.Clock
	logger      *logger.Logger
	stopTimeout time.Duration

	mu     sync.Mutex
	state  poolState
	ctx    context.Context
	cancel context.CancelFunc
}

// NewFixedWorkerPool builds a pool; it does not start any goroutine
func NewFixedWorkerPool(cfg FixedWorkerPoolConfig) (*FixedWorkerPool, error) {
	if cfg.Workers <= 0 {
		return nil, fmt.Errorf("worker count must be positive, got %d", cfg.Workers)
	}
	if cfg.QueueDepth <= 0 {
		return nil, fmt.Errorf("queue depth must be positive, got %d", cfg.QueueDepth)
	}
	if cfg.Clock == nil {
		cfg.Clock = types.NewRealClock()
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}

	p := &FixedWorkerPool{
		workers:     make([]*Worker, cfg.Workers),
		queue:       make(chan types.Task, cfg.QueueDepth),
		clock:       cfg.Clock,
		logger:      log.WithComponent("worker_pool"),
		stopTimeout: cfg.StopTimeout,
	}
	for i := range p.workers {
		w := NewWorkerWithClock(i, p.queue, cfg.Clock)
		w.SetLogger(p.logger)
		if cfg.OnComplete != nil {
			w.SetCompletionCallback(cfg.OnComplete)
		}
		p.workers[i] = w
	}
	return p, nil
}

// Start launches the workers; they stop when ctx ends or the pool closes
func (p *FixedWorkerPool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case poolRunning:
		return errPoolRunning
	case poolClosed:
		return errPoolClosed
	}

	p.ctx, p.cancel = context.WithCancel(ctx)
	for _, w := range p.workers {
		go w.Start(p.ctx)
	}
	p.state = poolRunning
	return nil
}

// SubmitContext blocks until task is queued, ctx is done, or the pool stops
func (p *FixedWorkerPool) SubmitContext(ctx context.Context, task types.Task) error {
	if task == nil {
		return errors.New("task cannot be nil")
	}

	p.mu.Lock()
	state, poolCtx := p.state, p.ctx
	p.mu.Unlock()
	switch state {
	case poolIdle:
		return errPoolIdle
	case poolClosed:
		return errPoolClosed
	}

	select {
	case p.queue <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-poolCtx.Done():
		return poolCtx.Err()
	}
}

// Close stops the workers, waits for the tasks they are running and drops
// whatever is still queued. Calling Close again is a no-op.
func (p *FixedWorkerPool) Close() error {
	p.mu.Lock()
	if p.state == poolClosed {
		p.mu.Unlock()
		return nil
	}
	wasRunning := p.state == poolRunning
	p.state = poolClosed
	if p.cancel != nil {
		p.cancel()
	}
	p.mu.Unlock()

	if !wasRunning {
		return nil
	}
	return p.awaitWorkers()
}

func (p *FixedWorkerPool) awaitWorkers() error {
	var wg sync.WaitGroup
	for _, w := range p.workers {
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			if err := w.Stop(); err != nil {
				p.logger.WithError(err).Warn("worker did not stop cleanly")
			}
		}(w)
	}

	stopped := make(chan struct{})
	go func() {
		wg.Wait()
		close(stopped)
	}()

	select {
	case <-stopped:
		return nil
	case <-p.clock.After(p.stopTimeout):
		return fmt.Errorf("workers still running after %v", p.stopTimeout)
	}
}

// Stats aggregates the workers' counters
func (p *FixedWorkerPool) Stats() PoolStats {
	s := PoolStats{
		Workers:    len(p.workers),
		Queued:     len(p.queue),
		QueueDepth: cap(p.queue),
	}
	for _, w := range p.workers {
		ws := w.Stats()
		if ws.State == WorkerStateWorking {
			s.Busy++
		}
		s.Completed += ws.TotalProcessed
		s.Failed += ws.TotalFailed
	}
	return s
}
