package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alecgard/indexgate/internal/auth"
	"github.com/alecgard/indexgate/internal/metering"
)

// UsageReader summarizes metered invocations.
type UsageReader interface {
	GetSummary(ctx context.Context, q metering.UsageQuery) (*metering.UsageSummary, error)
}

type usageHandler struct {
	store UsageReader
}

func newUsageHandler(store UsageReader) *usageHandler {
	return &usageHandler{store: store}
}

// parseTimeParam parses a date query param in YYYY-MM-DD or RFC3339 format.
func parseTimeParam(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

// buildUsageQuery scopes the query to the caller.
func buildUsageQuery(r *http.Request, userID string) (metering.UsageQuery, error) {
	q := metering.UsageQuery{
		UserID:   userID,
		ToolName: r.URL.Query().Get("tool"),
	}

	var err error
	if q.From, err = parseTimeParam(r.URL.Query().Get("from")); err != nil {
		return q, err
	}
	if q.To, err = parseTimeParam(r.URL.Query().Get("to")); err != nil {
		return q, err
	}
	return q, nil
}

// GetUsage handles GET /api/usage.
func (h *usageHandler) GetUsage(w http.ResponseWriter, r *http.Request) {
	tok := auth.AccessTokenFromContext(r.Context())
	if tok == nil {
		auth.WriteUnauthorized(w)
		return
	}

	q, err := buildUsageQuery(r, tok.UserID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_params", "invalid query parameters: "+err.Error())
		return
	}

	summary, err := h.store.GetSummary(r.Context(), q)
	if err != nil {
		slog.Error("failed to get usage summary", "user_id", tok.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to get usage summary")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
