// Package testutils provides scripted backends and helpers shared by package tests
package testutils

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jzx17/gorelay/pkg/types"
)

// ErrConnRefused is a stand-in for a connection-level failure
var ErrConnRefused = errors.New("connection refused")

// Step scripts one backend call
type Step struct {
	Outcome types.Outcome
	Err     error
	Panic   any

	// Delay holds the call for this long unless the context ends first
	Delay time.Duration

	// Before runs at the start of the call, e.g. to cancel a token mid-flight
	Before func()
}

// OK scripts a successful call
func OK(payload string) Step {
	return Step{Outcome: types.Outcome{Success: true, StatusCode: 200, Payload: []byte(payload)}}
}

// Status scripts a call answered with a non-success status
func Status(code int) Step {
	return Step{Outcome: types.Failure(code, "scripted status")}
}

// NetErr scripts a connection-level failure
func NetErr() Step {
	return Step{Err: ErrConnRefused}
}

// ScriptedBackend replays steps in order, repeating the last one once exhausted
type ScriptedBackend struct {
	name  string
	steps []Step
	calls atomic.Int32

	mu   sync.Mutex
	seen []*types.Request
}

// NewScriptedBackend creates a backend that replays steps
func NewScriptedBackend(name string, steps ...Step) *ScriptedBackend {
	if len(steps) == 0 {
		steps = []Step{OK("")}
	}
	return &ScriptedBackend{name: name, steps: steps}
}

// Name returns the provider name
func (b *ScriptedBackend) Name() string {
	return b.name
}

// Send replays the next step
func (b *ScriptedBackend) Send(ctx context.Context, req *types.Request) (types.Outcome, error) {
	n := int(b.calls.Add(1))
	b.mu.Lock()
	b.seen = append(b.seen, req)
	b.mu.Unlock()

	step := b.steps[min(n, len(b.steps))-1]
	if step.Before != nil {
		step.Before()
	}
	if step.Delay > 0 {
		timer := time.NewTimer(step.Delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return types.Outcome{}, ctx.Err()
		}
	}
	if step.Panic != nil {
		panic(step.Panic)
	}
	return step.Outcome, step.Err
}

// Calls returns how many times Send ran
func (b *ScriptedBackend) Calls() int {
	return int(b.calls.Load())
}

// Requests returns the requests seen so far
func (b *ScriptedBackend) Requests() []*types.Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*types.Request(nil), b.seen...)
}
