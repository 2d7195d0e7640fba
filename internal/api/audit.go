package api

import (
	"log/slog"
	"net/http"

	"github.com/alecgard/indexgate/internal/auth"
)

// auditLog emits a structured audit log entry for a settings change.
func auditLog(r *http.Request, action, indexID string, detail ...any) {
	attrs := []any{
		"action", action,
		"index_id", indexID,
		"ip", clientIP(r),
		"request_id", RequestIDFromContext(r.Context()),
	}
	if tok := auth.AccessTokenFromContext(r.Context()); tok != nil {
		attrs = append(attrs, "user_id", tok.UserID)
	}
	attrs = append(attrs, detail...)
	slog.Info("audit", attrs...)
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}
