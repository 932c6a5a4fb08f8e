package types

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
)

func TestPredefinedErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"ErrCancelled", ErrCancelled},
		{"ErrExhaustedRetries", ErrExhaustedRetries},
		{"ErrInvalidPolicy", ErrInvalidPolicy},
		{"ErrUnknownBackend", ErrUnknownBackend},
		{"ErrTimeout", ErrTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err == nil {
				t.Errorf("expected error, got nil")
			}
			if tt.err.Error() == "" {
				t.Errorf("expected non-empty error message")
			}
		})
	}
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

var _ net.Error = timeoutError{}

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		outcome Outcome
		want    Kind
	}{
		{"success", Outcome{Success: true, StatusCode: 200}, KindNone},
		{"rate limited", Failure(429, ""), KindRateLimited},
		{"request timeout", Failure(408, ""), KindTimeout},
		{"server error", Failure(500, ""), KindServer},
		{"bad gateway", Failure(502, ""), KindServer},
		{"not found", Failure(404, ""), KindClient},
		{"no status", Failure(0, ""), KindUnknown},
		{"redirect", Failure(302, ""), KindUnknown},
		{"network", NetworkFailure(errors.New("connection refused")), KindNetwork},
		{"deadline", NetworkFailure(context.DeadlineExceeded), KindTimeout},
		{"wrapped deadline", NetworkFailure(fmt.Errorf("send: %w", context.DeadlineExceeded)), KindTimeout},
		{"net timeout", NetworkFailure(timeoutError{}), KindTimeout},
		{"nil network error", NetworkFailure(nil), KindNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.outcome); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestKind_String(t *testing.T) {
	tests := []struct {
		kind     Kind
		expected string
	}{
		{KindNone, "none"},
		{KindNetwork, "network_error"},
		{KindTimeout, "timeout"},
		{KindRateLimited, "rate_limited"},
		{KindServer, "server_error"},
		{KindClient, "client_error"},
		{KindCancelled, "cancelled"},
		{KindUnknown, "unknown"},
		{Kind(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.kind.String(); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestRequestError(t *testing.T) {
	t.Run("Message", func(t *testing.T) {
		err := &RequestError{Kind: KindRateLimited, StatusCode: 429, Attempts: 3, Exhausted: true, Message: "slow down"}
		expected := "rate_limited after 3 attempt(s) (status 429): slow down"
		if err.Error() != expected {
			t.Errorf("expected message %q, got %q", expected, err.Error())
		}

		bare := &RequestError{Kind: KindNetwork, Attempts: 1}
		if bare.Error() != "network_error after 1 attempt(s)" {
			t.Errorf("unexpected message %q", bare.Error())
		}
	})

	t.Run("Exhausted", func(t *testing.T) {
		var err error = &RequestError{Kind: KindServer, Exhausted: true}
		if !errors.Is(err, ErrExhaustedRetries) {
			t.Errorf("expected exhausted error to match ErrExhaustedRetries")
		}
		if errors.Is(err, ErrCancelled) {
			t.Errorf("exhausted error must not match ErrCancelled")
		}
	})

	t.Run("Cancelled", func(t *testing.T) {
		var err error = &RequestError{Kind: KindCancelled, Cause: context.Canceled}
		if !IsCancelled(err) {
			t.Errorf("expected cancelled error")
		}
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected cause to be reachable through Unwrap")
		}
		if IsCancelled(errors.New("other")) {
			t.Errorf("plain error must not be cancelled")
		}
	})

	t.Run("Wrapped Cause", func(t *testing.T) {
		cause := fmt.Errorf("%w: %q", ErrUnknownBackend, "nope")
		var err error = &RequestError{Kind: KindClient, Cause: cause}
		if !errors.Is(err, ErrUnknownBackend) {
			t.Errorf("expected ErrUnknownBackend through the cause chain")
		}

		var reqErr *RequestError
		if !errors.As(fmt.Errorf("outer: %w", err), &reqErr) || reqErr.Kind != KindClient {
			t.Errorf("expected errors.As to find the RequestError")
		}
	})
}
