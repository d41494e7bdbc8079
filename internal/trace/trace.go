// Package trace propagates an opaque trace id across the worker-pool thread
// boundary, mirroring how internal/logger installs a logger on a context.
package trace

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chainverify/verifyd/internal/logger"
)

type contextKey struct{}

var traceKey = contextKey{}

// New generates a fresh trace id. Called once per job submission; the same
// id is carried by every worker task and log line belonging to that job.
func New() string {
	return uuid.NewString()
}

// With installs a trace id on the context.
func With(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey, id)
}

// FromContext returns the trace id installed on ctx, or "" if none.
func FromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(traceKey).(string); ok {
		return id
	}
	return ""
}

// Install re-installs a trace id explicitly passed into a worker task,
// together with the fields that should accompany every log line the task
// emits, and returns the context a task body should use for the remainder
// of its execution. This is the explicit boundary crossing described for
// the worker pool: the trace id is a value, never a process-global.
func Install(ctx context.Context, base *zap.Logger, id string, fields ...zap.Field) context.Context {
	ctx = With(ctx, id)
	l := base.With(append([]zap.Field{zap.String("trace_id", id)}, fields...)...)
	return logger.WithLogger(ctx, l)
}
