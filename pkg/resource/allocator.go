// Package resource hands out collision-free per-request resource paths.
package resource

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/jzx17/gorelay/pkg/logger"
	"github.com/jzx17/gorelay/pkg/types"
)

// DefaultMaxCandidates bounds how many candidates one Allocate call tries
const DefaultMaxCandidates = 10

// stampLayout is the coarse, second-resolution timestamp leading every id
const stampLayout = "20060102_150405"

// ErrAllocationExhausted is returned when every tried candidate was taken
var ErrAllocationExhausted = errors.New("unique resource allocation exhausted")

// Checker reports whether path is already taken
type Checker func(path string) (bool, error)

// LstatChecker treats any existing filesystem entry as taken
func LstatChecker(path string) (bool, error) {
	_, err := os.Lstat(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

// MkdirChecker claims path by creating it; an existing entry means taken
func MkdirChecker(path string) (bool, error) {
	err := os.Mkdir(path, 0o755)
	switch {
	case err == nil:
		return false, nil
	case errors.Is(err, os.ErrExist):
		return true, nil
	default:
		return false, err
	}
}

// Stats reports allocator counters
type Stats struct {
	Allocated  int64
	Collisions int64
	Live       int64
}

// Allocator composes ids from a timestamp, a worker identity hash, a global
// counter and a random salt, then checks each candidate in memory and on disk.
type Allocator struct {
	clock         types.Clock
	check         Checker
	maxCandidates int
	identity      string
	salt          func() uint16
	logger        *logger.Logger

	counter    atomic.Uint64
	allocated  atomic.Int64
	collisions atomic.Int64
	live       atomic.Int64
	reserved   sync.Map
}

// Option configures an Allocator
type Option func(*Allocator)

// WithClock sets the clock used for the timestamp component
func WithClock(clock types.Clock) Option {
	return func(a *Allocator) {
		if clock != nil {
			a.clock = clock
		}
	}
}

// WithChecker replaces the existence check
func WithChecker(c Checker) Option {
	return func(a *Allocator) {
		if c != nil {
			a.check = c
		}
	}
}

// WithCreateDir claims each id by creating its directory
func WithCreateDir() Option {
	return WithChecker(MkdirChecker)
}

// WithMaxCandidates sets the per-call candidate bound
func WithMaxCandidates(n int) Option {
	return func(a *Allocator) {
		if n > 0 {
			a.maxCandidates = n
		}
	}
}

// WithIdentity overrides the host/pid identity mixed into the worker hash
func WithIdentity(identity string) Option {
	return func(a *Allocator) {
		a.identity = identity
	}
}

// WithSalt overrides the random salt source
func WithSalt(fn func() uint16) Option {
	return func(a *Allocator) {
		if fn != nil {
			a.salt = fn
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *logger.Logger) Option {
	return func(a *Allocator) {
		if l != nil {
			a.logger = l
		}
	}
}

// NewAllocator creates an allocator
func NewAllocator(opts ...Option) *Allocator {
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}

	a := &Allocator{
		clock:         types.NewRealClock(),
		check:         LstatChecker,
		maxCandidates: DefaultMaxCandidates,
		identity:      fmt.Sprintf("%s/%d", host, os.Getpid()),
		salt:          func() uint16 { return uint16(rand.Uint32()) },
		logger:        logger.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.WithComponent("allocator")
	return a
}

// Allocate returns a path under base that no other live allocation holds and
// that the checker reports free. The worker id in ctx feeds the identity hash.
func (a *Allocator) Allocate(ctx context.Context, base string) (string, error) {
	candidate := filepath.Join(base, a.compose(types.WorkerIDFromContext(ctx)))

	for try := 1; try <= a.maxCandidates; try++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		if _, held := a.reserved.LoadOrStore(candidate, struct{}{}); !held {
			taken, err := a.check(candidate)
			if err != nil {
				a.reserved.Delete(candidate)
				return "", fmt.Errorf("check %s: %w", candidate, err)
			}
			if !taken {
				a.allocated.Add(1)
				a.live.Add(1)
				return candidate, nil
			}
			a.reserved.Delete(candidate)
		}

		a.collisions.Add(1)
		a.logger.Debug("resource id collision", map[string]interface{}{
			logger.FieldResourceID: candidate,
			"try":                  try,
		})
		candidate = candidate + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	}

	return "", fmt.Errorf("%w after %d candidates under %s", ErrAllocationExhausted, a.maxCandidates, base)
}

// Release drops the in-process reservation of path. Files on disk are left alone.
func (a *Allocator) Release(path string) {
	if _, ok := a.reserved.LoadAndDelete(path); ok {
		a.live.Add(-1)
	}
}

// Stats returns allocator counters
func (a *Allocator) Stats() Stats {
	return Stats{
		Allocated:  a.allocated.Load(),
		Collisions: a.collisions.Load(),
		Live:       a.live.Load(),
	}
}

func (a *Allocator) compose(workerID int) string {
	hash := xxhash.Sum64String(fmt.Sprintf("%s/%d", a.identity, workerID))
	return fmt.Sprintf("%s_%08x_%06d_%04x",
		a.clock.Now().UTC().Format(stampLayout),
		uint32(hash),
		a.counter.Add(1),
		a.salt(),
	)
}
