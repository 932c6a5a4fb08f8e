package retry

import (
	"context"
	"time"

	"github.com/jzx17/gorelay/pkg/logger"
	"github.com/jzx17/gorelay/pkg/types"
)

// EventHandler handles retry events
type EventHandler interface {
	OnAttempt(ctx context.Context, req *types.Request, attempt int)
	OnRetry(ctx context.Context, req *types.Request, attempt int, outcome types.Outcome, delay time.Duration)
	OnComplete(ctx context.Context, req *types.Request, result *types.ExecutionResult)
}

// Handlers fans events out to every non-nil handler in order
func Handlers(handlers ...EventHandler) EventHandler {
	out := make(multiHandler, 0, len(handlers))
	for _, h := range handlers {
		if h != nil {
			out = append(out, h)
		}
	}
	return out
}

type multiHandler []EventHandler

func (m multiHandler) OnAttempt(ctx context.Context, req *types.Request, attempt int) {
	for _, h := range m {
		h.OnAttempt(ctx, req, attempt)
	}
}

func (m multiHandler) OnRetry(ctx context.Context, req *types.Request, attempt int, outcome types.Outcome, delay time.Duration) {
	for _, h := range m {
		h.OnRetry(ctx, req, attempt, outcome, delay)
	}
}

func (m multiHandler) OnComplete(ctx context.Context, req *types.Request, result *types.ExecutionResult) {
	for _, h := range m {
		h.OnComplete(ctx, req, result)
	}
}

// LogEventHandler is the default event handler implementation
type LogEventHandler struct {
	logger *logger.Logger
}

// NewLogEventHandler creates an event handler that logs through l
func NewLogEventHandler(l *logger.Logger) *LogEventHandler {
	if l == nil {
		l = logger.Nop()
	}
	return &LogEventHandler{logger: l.WithComponent("retry")}
}

// OnAttempt handles attempt events
func (h *LogEventHandler) OnAttempt(ctx context.Context, req *types.Request, attempt int) {
	h.logger.Debug("attempt starting", map[string]interface{}{
		logger.FieldRequestID: req.ID,
		logger.FieldAttempt:   attempt,
	})
}

// OnRetry handles retry events
func (h *LogEventHandler) OnRetry(ctx context.Context, req *types.Request, attempt int, outcome types.Outcome, delay time.Duration) {
	h.logger.Warn("attempt failed, backing off", map[string]interface{}{
		logger.FieldRequestID: req.ID,
		logger.FieldAttempt:   attempt,
		"status":              outcome.StatusCode,
		"kind":                types.Classify(outcome).String(),
		"delay":               delay.String(),
	})
}

// OnComplete handles terminal events
func (h *LogEventHandler) OnComplete(ctx context.Context, req *types.Request, result *types.ExecutionResult) {
	fields := map[string]interface{}{
		logger.FieldRequestID: req.ID,
		logger.FieldBackend:   result.Backend,
		"state":               result.State.String(),
		"attempts":            result.Attempts,
		"elapsed":             result.Elapsed.String(),
	}
	switch result.State {
	case types.StateSucceeded:
		h.logger.Debug("request succeeded", fields)
	case types.StateCancelled:
		h.logger.Info("request cancelled", fields)
	default:
		fields["kind"] = result.Kind.String()
		h.logger.Warn("request failed", fields)
	}
}
