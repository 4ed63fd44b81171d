package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Logger is the destination interface for audit events.
type Logger interface {
	// Log records an audit event. Implementations fill in ID and
	// CreatedAt when the caller leaves them zero.
	Log(ctx context.Context, event *Event) error

	// Close flushes and releases the destination.
	Close() error
}

// stamp fills in the generated fields of an event.
func stamp(event *Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
}

type contextKey string

const loggerKey contextKey = "audit_logger"

// WithLogger attaches an audit logger to the context.
func WithLogger(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext retrieves the audit logger from the context, or a NopLogger
// when none is attached.
func FromContext(ctx context.Context) Logger {
	if logger, ok := ctx.Value(loggerKey).(Logger); ok {
		return logger
	}
	return NopLogger{}
}

// NopLogger discards all events.
type NopLogger struct{}

func (NopLogger) Log(ctx context.Context, event *Event) error { return nil }
func (NopLogger) Close() error                                { return nil }
