package audit

import (
	"context"
	"log/slog"
	"strconv"
	"time"
)

type requestIDKey struct{}

// WithRequestID attaches a request ID for audit correlation.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the request ID attached by the middleware, if any.
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}

// Logger emits structured audit events for security-relevant actions:
// logins, cache invalidations and permission denials.
type Logger struct {
	logger *slog.Logger
}

func NewLogger(logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{logger: logger}
}

func (al *Logger) LogAction(ctx context.Context, tenantID, userID, action, resource, resourceID, status, details string) {
	al.logger.Info("audit",
		slog.String("action", action),
		slog.String("resource", resource),
		slog.String("resource_id", resourceID),
		slog.String("tenant_id", tenantID),
		slog.String("user_id", userID),
		slog.String("status", status),
		slog.String("details", details),
		slog.String("request_id", RequestID(ctx)),
		slog.Time("timestamp", time.Now()),
	)
}

func (al *Logger) LogLogin(ctx context.Context, tenantID, userID, status string) {
	al.LogAction(ctx, tenantID, userID, "login", "session", "", status, "")
}

func (al *Logger) LogInvalidation(ctx context.Context, tenantID, userID, scope string, removed int) {
	al.LogAction(ctx, tenantID, userID, "invalidate_cache", "cache", scope, "completed",
		"removed="+strconv.Itoa(removed))
}

func (al *Logger) LogDenied(ctx context.Context, tenantID, userID, reason string) {
	al.LogAction(ctx, tenantID, userID, "access_denied", "api", "", "denied", reason)
}
