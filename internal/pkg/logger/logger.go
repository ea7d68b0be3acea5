// internal/pkg/logger/logger.go
package logger

import (
	"context"
	"log/slog"
	"os"
)

// ContextKey represents keys for context values
type ContextKey string

// Context keys propagated by the HTTP middleware and surfaced on log lines.
const (
	ContextKeyRequestID  ContextKey = "request_id"
	ContextKeyTraceID    ContextKey = "trace_id"
	ContextKeyClientIP   ContextKey = "client_ip"
	ContextKeyUserAgent  ContextKey = "user_agent"
	ContextKeyMethod     ContextKey = "method"
	ContextKeyPath       ContextKey = "path"
	ContextKeyStatusCode ContextKey = "status_code"
	ContextKeyDuration   ContextKey = "duration_ms"
)

func defaultContextKeys() []ContextKey {
	return []ContextKey{
		ContextKeyRequestID,
		ContextKeyTraceID,
		ContextKeyClientIP,
		ContextKeyUserAgent,
		ContextKeyMethod,
		ContextKeyPath,
		ContextKeyStatusCode,
		ContextKeyDuration,
	}
}

// Logger wraps slog.Logger with context field extraction
type Logger struct {
	*slog.Logger
	contextKeys []ContextKey
}

// SetupLogger initializes the structured logger and installs it as the
// slog default.
func SetupLogger(level string, format string) *Logger {
	opts := &slog.HandlerOptions{
		Level:     parseLevel(level),
		AddSource: true,
	}

	var handler slog.Handler
	switch format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	logger := &Logger{
		Logger:      slog.New(handler),
		contextKeys: defaultContextKeys(),
	}
	slog.SetDefault(logger.Logger)

	return logger
}

// WithContext creates a logger carrying any request-scoped values found in
// ctx as attributes.
func (l *Logger) WithContext(ctx context.Context) *slog.Logger {
	attrs := extractContextAttrs(ctx, l.contextKeys)
	if len(attrs) > 0 {
		return l.Logger.With(attrs...)
	}
	return l.Logger
}

func extractContextAttrs(ctx context.Context, keys []ContextKey) []any {
	var attrs []any
	for _, key := range keys {
		if v := ctx.Value(key); v != nil {
			attrs = append(attrs, slog.Any(string(key), v))
		}
	}
	return attrs
}

func parseLevel(level string) slog.Leveler {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
