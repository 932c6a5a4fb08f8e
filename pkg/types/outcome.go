package types

import (
	"time"
)

// Outcome is the normalized result of one backend attempt
type Outcome struct {
	// Success is set when the backend produced a usable reply
	Success bool

	// StatusCode is the provider status, 0 when the attempt never got one
	StatusCode int

	// NetworkError marks connection-level failures
	NetworkError bool

	// AdapterFault marks an adapter that panicked; always paired with NetworkError
	AdapterFault bool

	// Payload is the raw reply body; the engine never inspects it
	Payload []byte

	// Message is a human-readable failure description
	Message string

	// Err is the error returned by the adapter, if any
	Err error
}

// Failure builds a non-success outcome for the given status
func Failure(status int, message string) Outcome {
	return Outcome{StatusCode: status, Message: message}
}

// NetworkFailure builds an outcome for an error returned below the protocol level
func NetworkFailure(err error) Outcome {
	o := Outcome{NetworkError: true, Err: err}
	if err != nil {
		o.Message = err.Error()
	}
	return o
}

// State is the terminal state of the attempt state machine
type State int

const (
	// StateIdle is the state before the first attempt
	StateIdle State = iota
	// StateAttempting is the state while a backend call is in flight
	StateAttempting
	// StateRetrying is the state while waiting out a backoff delay
	StateRetrying
	// StateSucceeded means the last attempt succeeded
	StateSucceeded
	// StateCancelled means the caller asked to stop
	StateCancelled
	// StateExhausted means the policy declined further attempts or the cap was reached
	StateExhausted
)

// String returns the string representation of State
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAttempting:
		return "attempting"
	case StateRetrying:
		return "retrying"
	case StateSucceeded:
		return "succeeded"
	case StateCancelled:
		return "cancelled"
	case StateExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// ExecutionResult is what a logical request returns to its caller
type ExecutionResult struct {
	// RequestID echoes Request.ID
	RequestID string

	// Backend is the provider that served the request
	Backend string

	// ResourceID is the unique per-request resource identifier
	ResourceID string

	// State is the terminal state
	State State

	// Kind classifies the final outcome; KindCancelled when State is StateCancelled
	Kind Kind

	// Outcome is the last attempt's outcome; for cancelled requests it is diagnostic only
	Outcome Outcome

	// Attempts is the number of backend calls performed, never above the policy maximum
	Attempts int

	// Elapsed is the wall time spent in the attempt loop
	Elapsed time.Duration

	// Err is nil on success and a *RequestError otherwise
	Err error
}

// Succeeded reports whether the request succeeded
func (r *ExecutionResult) Succeeded() bool {
	return r != nil && r.State == StateSucceeded
}

// Cancelled reports whether the request was cancelled
func (r *ExecutionResult) Cancelled() bool {
	return r != nil && r.State == StateCancelled
}
