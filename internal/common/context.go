package common

import (
	"context"
	"log/slog"
)

// Context keys for storing values in context
type contextKey string

const (
	ContextKeyRequestID contextKey = "request_id"
	ContextKeyTaskID    contextKey = "task_id"
	ContextKeyDocument  contextKey = "document"
)

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// RequestIDFromContext extracts the request ID from context
func RequestIDFromContext(ctx context.Context) string {
	if requestID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return requestID
	}
	return ""
}

func WithTaskID(ctx context.Context, taskID string) context.Context {
	return context.WithValue(ctx, ContextKeyTaskID, taskID)
}

func TaskIDFromContext(ctx context.Context) string {
	if taskID, ok := ctx.Value(ContextKeyTaskID).(string); ok {
		return taskID
	}
	return ""
}

// WithDocument tags the context with the source document being processed.
func WithDocument(ctx context.Context, doc string) context.Context {
	return context.WithValue(ctx, ContextKeyDocument, doc)
}

func DocumentFromContext(ctx context.Context) string {
	if doc, ok := ctx.Value(ContextKeyDocument).(string); ok {
		return doc
	}
	return ""
}

// LogAttrs returns the correlation attributes stored in ctx.
func LogAttrs(ctx context.Context) []any {
	var attrs []any
	if v := RequestIDFromContext(ctx); v != "" {
		attrs = append(attrs, slog.String("req_id", v))
	}
	if v := TaskIDFromContext(ctx); v != "" {
		attrs = append(attrs, slog.String("task_id", v))
	}
	if v := DocumentFromContext(ctx); v != "" {
		attrs = append(attrs, slog.String("document", v))
	}
	return attrs
}
