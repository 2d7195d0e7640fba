package gateway

import (
	"context"
	"encoding/json"
	"iter"
	"log/slog"
	"net/http"
	"time"

	"github.com/alecgard/indexgate/internal/auth"
	"github.com/alecgard/indexgate/internal/registry"
	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ConfigLoader loads a user's enabled tool descriptors.
type ConfigLoader interface {
	Load(ctx context.Context, userID string) (iter.Seq[registry.Descriptor], error)
}

// LoadFailureRecorder is an optional interface for counting failed loads.
type LoadFailureRecorder interface {
	IncConfigLoadError()
}

// Options configures the MCP transports.
type Options struct {
	// Stateless serves every request with the server built for it.
	Stateless bool
	// Logger is handed to the SDK transports. Nil disables SDK logging.
	Logger *slog.Logger
	// EventStore enables stream resumption for stateful streamable sessions.
	EventStore mcp.EventStore
	// SessionTimeout closes idle stateful sessions.
	SessionTimeout time.Duration
}

type serverContextKey struct{}

// Handler authenticates MCP requests, builds the caller's server and hands
// the request to the transport named in the URL.
type Handler struct {
	loader     ConfigLoader
	registrar  *Registrar
	transports map[string]http.Handler
	stateless  bool
	metrics    LoadFailureRecorder
}

// NewHandler creates a Handler serving the sse, mcp and stream transports.
func NewHandler(loader ConfigLoader, registrar *Registrar, opts Options) *Handler {
	streamOpts := &mcp.StreamableHTTPOptions{
		Stateless: opts.Stateless,
		Logger:    opts.Logger,
	}
	if !opts.Stateless {
		streamOpts.EventStore = opts.EventStore
		streamOpts.SessionTimeout = opts.SessionTimeout
	}

	streamable := mcp.NewStreamableHTTPHandler(serverFromRequest, streamOpts)
	return &Handler{
		loader:    loader,
		registrar: registrar,
		stateless: opts.Stateless,
		transports: map[string]http.Handler{
			"sse":    mcp.NewSSEHandler(serverFromRequest, &mcp.SSEOptions{}),
			"mcp":    streamable,
			"stream": streamable,
		},
	}
}

// SetMetrics sets the optional metrics recorder.
func (h *Handler) SetMetrics(m LoadFailureRecorder) {
	h.metrics = m
}

// Routes returns a router serving /{transport}. Preflight requests are
// answered before requireAuth runs.
func (h *Handler) Routes(requireAuth func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Options("/{transport}", Preflight)
	r.Group(func(ar chi.Router) {
		ar.Use(requireAuth)
		ar.Get("/{transport}", h.ServeHTTP)
		ar.Post("/{transport}", h.ServeHTTP)
		ar.Delete("/{transport}", h.ServeHTTP)
	})
	return r
}

// ServeHTTP expects an authenticated request routed with a {transport} URL
// parameter.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "transport")
	transport, ok := h.transports[name]
	if !ok {
		writeError(w, http.StatusNotFound, "Unknown transport: "+name)
		return
	}

	tok := auth.AccessTokenFromContext(r.Context())
	if tok == nil {
		auth.WriteUnauthorized(w)
		return
	}

	if h.joinsSession(name, r) {
		transport.ServeHTTP(w, r)
		return
	}

	descriptors, err := h.loader.Load(r.Context(), tok.UserID)
	if err != nil {
		slog.Error("failed to load tool configs", "user_id", tok.UserID, "error", err)
		if h.metrics != nil {
			h.metrics.IncConfigLoadError()
		}
		writeError(w, http.StatusInternalServerError, "Failed to load tool configurations")
		return
	}

	server := h.registrar.NewServer(tok.UserID, descriptors)
	ctx := context.WithValue(r.Context(), serverContextKey{}, server)
	transport.ServeHTTP(w, r.WithContext(ctx))
}

// joinsSession reports whether the transport serves r from a session it
// already holds. Those requests never reach serverFromRequest, so the config
// load is skipped. Unknown session ids are rejected by the transport.
func (h *Handler) joinsSession(transport string, r *http.Request) bool {
	if transport == "sse" {
		return r.Method == http.MethodPost && r.URL.Query().Get("sessionid") != ""
	}
	return !h.stateless && r.Header.Get("Mcp-Session-Id") != ""
}

func serverFromRequest(r *http.Request) *mcp.Server {
	s, _ := r.Context().Value(serverContextKey{}).(*mcp.Server)
	return s
}

// Preflight answers CORS preflight requests for the MCP endpoints.
func Preflight(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.WriteHeader(http.StatusOK)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
