package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alecgard/indexgate/internal/auth"
	"github.com/alecgard/indexgate/internal/gateway"
	"github.com/alecgard/indexgate/internal/metrics"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pinger reports whether the database is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterDeps holds all dependencies for the API router.
type RouterDeps struct {
	Gateway  *gateway.Handler
	Auth     *auth.Authenticator
	Tools    ToolSettings
	Usage    UsageReader
	DB       Pinger
	Metrics  *metrics.Metrics
	BasePath string
}

// NewRouter builds the chi router with all routes and middleware.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(slogRequestLogger)
	if deps.Metrics != nil {
		r.Use(metricsMiddleware(deps.Metrics))
	}
	r.Use(secureHeaders)

	var failures auth.FailureRecorder
	if deps.Metrics != nil {
		failures = deps.Metrics
	}
	requireAuth := auth.RequireAccessToken(deps.Auth, failures)

	r.Get("/health", healthHandler(deps.DB))

	if deps.Metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Metrics.Registry(), promhttp.HandlerOpts{}))
		r.Get("/metrics/summary", deps.Metrics.SummaryHandler())
	}

	basePath := deps.BasePath
	if basePath == "" {
		basePath = "/mcp"
	}
	r.Mount(basePath, deps.Gateway.Routes(requireAuth))

	r.Group(func(ar chi.Router) {
		ar.Use(requireAuth)
		if deps.Tools != nil {
			ar.Post("/api/tool/update", newToolsHandler(deps.Tools).UpdateTool)
		}
		if deps.Usage != nil {
			ar.Get("/api/usage", newUsageHandler(deps.Usage).GetUsage)
		}
	})

	return r
}

func healthHandler(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			if err := db.Ping(r.Context()); err != nil {
				slog.Warn("health check failed", "error", err)
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{
					"status":   "unavailable",
					"database": "disconnected",
				})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"status":   "ok",
			"database": "connected",
		})
	}
}
