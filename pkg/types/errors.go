// Package types defines error types
package types

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Predefined errors
var (
	// ErrCancelled indicates the caller asked the request to stop
	ErrCancelled = errors.New("request cancelled")

	// ErrExhaustedRetries indicates the policy declined further attempts
	ErrExhaustedRetries = errors.New("retries exhausted")

	// ErrInvalidPolicy indicates a retry policy was constructed with invalid parameters
	ErrInvalidPolicy = errors.New("invalid retry policy")

	// ErrUnknownBackend indicates the request named a backend that is not registered
	ErrUnknownBackend = errors.New("unknown backend")

	// ErrTimeout indicates operation timeout
	ErrTimeout = errors.New("operation timeout")
)

// Kind classifies a failed outcome
type Kind int

const (
	// KindNone is the kind of a successful outcome
	KindNone Kind = iota
	// KindNetwork is a connection-level failure, including adapter faults
	KindNetwork
	// KindTimeout is a deadline exceeded or HTTP 408
	KindTimeout
	// KindRateLimited is HTTP 429
	KindRateLimited
	// KindServer is any 5xx status
	KindServer
	// KindClient is any 4xx status other than 408 and 429
	KindClient
	// KindCancelled means cooperative stop was requested
	KindCancelled
	// KindUnknown is a non-success outcome without a recognizable status
	KindUnknown
)

// String returns the string representation of Kind
func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindNetwork:
		return "network_error"
	case KindTimeout:
		return "timeout"
	case KindRateLimited:
		return "rate_limited"
	case KindServer:
		return "server_error"
	case KindClient:
		return "client_error"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Classify maps an outcome to its Kind
func Classify(o Outcome) Kind {
	if o.Success {
		return KindNone
	}
	if o.NetworkError {
		if isTimeout(o.Err) {
			return KindTimeout
		}
		return KindNetwork
	}
	switch {
	case o.StatusCode == http.StatusTooManyRequests:
		return KindRateLimited
	case o.StatusCode == http.StatusRequestTimeout:
		return KindTimeout
	case o.StatusCode >= 500 && o.StatusCode <= 599:
		return KindServer
	case o.StatusCode >= 400 && o.StatusCode <= 499:
		return KindClient
	default:
		return KindUnknown
	}
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrTimeout) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// RequestError describes why a logical request did not succeed
type RequestError struct {
	// Kind is the classification of the final outcome
	Kind Kind

	// StatusCode is the last status reported by the backend, 0 when none
	StatusCode int

	// Attempts is the number of backend calls performed
	Attempts int

	// Exhausted is set when the policy declined further attempts
	Exhausted bool

	// Message is the adapter's error message
	Message string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface
func (e *RequestError) Error() string {
	msg := fmt.Sprintf("%s after %d attempt(s)", e.Kind, e.Attempts)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Message != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Message)
	}
	return msg
}

// Unwrap returns the underlying error
func (e *RequestError) Unwrap() error {
	return e.Cause
}

// Is matches ErrCancelled and ErrExhaustedRetries by classification
func (e *RequestError) Is(target error) bool {
	switch target {
	case ErrCancelled:
		return e.Kind == KindCancelled
	case ErrExhaustedRetries:
		return e.Exhausted
	}
	return false
}

// IsCancelled reports whether err describes a cancelled request
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}
