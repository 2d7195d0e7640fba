package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alecgard/indexgate/internal/auth"
	"github.com/alecgard/indexgate/internal/registry"
)

// ToolSettings enables and disables a user's indexes as tools.
type ToolSettings interface {
	Enable(ctx context.Context, userID, indexID string, config json.RawMessage) (*registry.ToolConfig, error)
	Disable(ctx context.Context, userID, indexID string) error
}

type toolsHandler struct {
	settings ToolSettings
}

func newToolsHandler(settings ToolSettings) *toolsHandler {
	return &toolsHandler{settings: settings}
}

type toolUpdateRequest struct {
	IndexID string          `json:"indexId"`
	Enabled *bool           `json:"enabled"`
	Config  json.RawMessage `json:"config"`
}

// UpdateTool handles POST /api/tool/update.
func (h *toolsHandler) UpdateTool(w http.ResponseWriter, r *http.Request) {
	tok := auth.AccessTokenFromContext(r.Context())
	if tok == nil {
		auth.WriteUnauthorized(w)
		return
	}

	var req toolUpdateRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}
	if req.IndexID == "" {
		writeError(w, http.StatusBadRequest, "invalid_body", "indexId is required")
		return
	}
	if req.Enabled == nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "enabled must be a boolean")
		return
	}

	if !*req.Enabled {
		if err := h.settings.Disable(r.Context(), tok.UserID, req.IndexID); err != nil {
			slog.Error("failed to disable tool", "user_id", tok.UserID, "index_id", req.IndexID, "error", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to update tool")
			return
		}
		auditLog(r, "disable", req.IndexID)
		writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}

	cfg, err := h.settings.Enable(r.Context(), tok.UserID, req.IndexID, req.Config)
	switch {
	case err == nil:
	case errors.Is(err, registry.ErrInvalidName):
		writeError(w, http.StatusUnprocessableEntity, "validation_error", err.Error())
		return
	case errors.Is(err, registry.ErrDuplicateName):
		writeError(w, http.StatusConflict, "duplicate_name", err.Error())
		return
	case errors.Is(err, registry.ErrInvalidConfig), errors.Is(err, registry.ErrIndexIDRequired):
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	default:
		slog.Error("failed to enable tool", "user_id", tok.UserID, "index_id", req.IndexID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to update tool")
		return
	}

	auditLog(r, "enable", req.IndexID, "tool", cfg.ToolName)
	writeJSON(w, http.StatusOK, map[string]string{"status": "enabled"})
}
