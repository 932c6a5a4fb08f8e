package engine

import (
	"maps"
	"slices"
	"sync"

	"github.com/jzx17/gorelay/pkg/artifact"
	"github.com/jzx17/gorelay/pkg/retry"
	"github.com/jzx17/gorelay/pkg/types"
)

// Interceptor wraps the send path of every attempt. The first registered
// interceptor is the outermost.
type Interceptor func(next types.SendFunc) types.SendFunc

// chain composes interceptors around send
func chain(interceptors []Interceptor, send types.SendFunc) types.SendFunc {
	for i := len(interceptors) - 1; i >= 0; i-- {
		send = interceptors[i](send)
	}
	return send
}

// Settings is the engine-wide configuration every request reads once.
//
// A Settings value returned by Store.Read is a view: its maps and slices are
// never modified after publication, so it must be treated as read-only.
type Settings struct {
	// Defaults are merged under each request's options
	Defaults types.Options

	// Interceptors wrap each attempt, first is outermost
	Interceptors []Interceptor

	// Policy is the process-wide retry policy; nil means retry.DefaultPolicy
	Policy retry.RetryPolicy

	// ProviderPolicies override Policy per backend name
	ProviderPolicies map[string]retry.RetryPolicy

	// Backends maps provider names to adapters
	Backends map[string]types.Backend

	// DefaultBackend serves requests that name no backend
	DefaultBackend string

	// Sink receives one record per request while Debug is on
	Sink artifact.Sink

	// ArtifactDir is the base directory resource ids are allocated under
	ArtifactDir string

	// Debug enables artifact output
	Debug bool
}

func (s Settings) clone() Settings {
	c := s
	c.Defaults = s.Defaults.Clone()
	c.Interceptors = slices.Clone(s.Interceptors)
	c.ProviderPolicies = maps.Clone(s.ProviderPolicies)
	c.Backends = maps.Clone(s.Backends)
	if c.ProviderPolicies == nil {
		c.ProviderPolicies = make(map[string]retry.RetryPolicy)
	}
	if c.Backends == nil {
		c.Backends = make(map[string]types.Backend)
	}
	return c
}

// Store publishes Settings snapshots. Readers copy the current snapshot under
// a shared lock; writers build a new snapshot under the exclusive lock.
type Store struct {
	mu      sync.RWMutex
	current Settings
}

// NewStore creates a store holding a private copy of initial
func NewStore(initial Settings) *Store {
	return &Store{current: initial.clone()}
}

// Read returns the current snapshot
func (s *Store) Read() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Mutate applies fn to a copy of the current settings and publishes the copy.
// fn runs under the exclusive lock and must not block.
func (s *Store) Mutate(fn func(*Settings)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.current.clone()
	fn(&next)
	s.current = next
}
