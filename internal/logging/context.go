package logging

import (
	"context"
	"regexp"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Task identifies the task invocation a log line belongs to.
type Task struct {
	ID    string
	Round int
	Nonce string
	Email string
}

type taskCtxKey struct{}
type invocationCtxKey struct{}
type requestCtxKey struct{}
type loggerCtxKey struct{}

const maxIDLen = 128

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 8)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}

	if id := RequestIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("request.id", id))
	}
	if id := InvocationIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("invocation.id", id))
	}

	if t, ok := TaskFromContext(ctx); ok {
		fields = append(fields,
			zap.String("task.id", t.ID),
			zap.Int("task.round", t.Round),
			zap.String("task.nonce", t.Nonce),
			zap.String("task.email", t.Email),
		)
	}

	return fields
}

// WithTask adds task identity to context.
func WithTask(ctx context.Context, t Task) context.Context {
	return context.WithValue(ctx, taskCtxKey{}, t)
}

// TaskFromContext extracts task identity from context.
func TaskFromContext(ctx context.Context) (Task, bool) {
	t, ok := ctx.Value(taskCtxKey{}).(Task)
	return t, ok
}

// WithInvocationID adds the per-run invocation ID to context.
// Invalid IDs are ignored.
func WithInvocationID(ctx context.Context, id string) context.Context {
	if !validID(id) {
		return ctx
	}
	return context.WithValue(ctx, invocationCtxKey{}, id)
}

// InvocationIDFromContext extracts the invocation ID from context.
func InvocationIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(invocationCtxKey{}).(string)
	return id
}

// WithRequestID adds the HTTP request ID to context. Request IDs may come
// from client headers, so invalid values are dropped rather than logged.
func WithRequestID(ctx context.Context, id string) context.Context {
	if !validID(id) {
		return ctx
	}
	return context.WithValue(ctx, requestCtxKey{}, id)
}

// RequestIDFromContext extracts request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestCtxKey{}).(string)
	return id
}

func validID(id string) bool {
	return id != "" && len(id) <= maxIDLen && idPattern.MatchString(id)
}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves logger from context.
// Returns a nop logger if not found.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return NewNop()
}
