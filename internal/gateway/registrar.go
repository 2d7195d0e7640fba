// Package gateway turns a user's enabled index configurations into an MCP
// server and routes MCP transport requests to it.
package gateway

import (
	"context"
	"iter"
	"log/slog"

	"github.com/alecgard/indexgate/internal/proxy"
	"github.com/alecgard/indexgate/internal/registry"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ServerName is the MCP implementation name reported to clients.
const ServerName = "indexgate"

// ToolInvoker runs one retrieval on behalf of a user.
type ToolInvoker interface {
	Invoke(ctx context.Context, userID string, d registry.Descriptor, query string) proxy.Result
}

// RegistrationRecorder is an optional interface for recording registration
// metrics.
type RegistrationRecorder interface {
	ObserveToolsRegistered(n int)
	IncDuplicateTool()
}

type queryInput struct {
	Query string `json:"query" jsonschema:"Query string for the tool"`
}

// Registrar builds per-request MCP servers.
type Registrar struct {
	invoker ToolInvoker
	version string
	logger  *slog.Logger
	metrics RegistrationRecorder
}

// NewRegistrar creates a Registrar whose tools call invoker.
func NewRegistrar(invoker ToolInvoker, version string) *Registrar {
	return &Registrar{invoker: invoker, version: version}
}

// SetMetrics sets the optional metrics recorder.
func (r *Registrar) SetMetrics(m RegistrationRecorder) {
	r.metrics = m
}

// SetServerLogger passes logger to every server built afterwards. A nil
// logger keeps the SDK quiet.
func (r *Registrar) SetServerLogger(logger *slog.Logger) {
	r.logger = logger
}

// NewServer returns a fresh server carrying one tool per descriptor.
func (r *Registrar) NewServer(userID string, descriptors iter.Seq[registry.Descriptor]) *mcp.Server {
	server := mcp.NewServer(
		&mcp.Implementation{Name: ServerName, Version: r.version},
		&mcp.ServerOptions{Logger: r.logger},
	)
	n := r.RegisterAll(server, userID, descriptors)
	if r.metrics != nil {
		r.metrics.ObserveToolsRegistered(n)
	}
	return server
}

// RegisterAll adds a tool to server for each descriptor and reports how many
// were added. When two descriptors share a name the first one wins.
func (r *Registrar) RegisterAll(server *mcp.Server, userID string, descriptors iter.Seq[registry.Descriptor]) int {
	seen := make(map[string]string)
	for d := range descriptors {
		if first, dup := seen[d.Name]; dup {
			slog.Warn("duplicate tool name skipped",
				"user_id", userID, "tool", d.Name, "index_id", d.IndexID, "registered_index_id", first)
			if r.metrics != nil {
				r.metrics.IncDuplicateTool()
			}
			continue
		}
		seen[d.Name] = d.IndexID

		mcp.AddTool(server, &mcp.Tool{
			Name:        d.Name,
			Description: d.Description,
		}, r.handler(userID, d))
	}
	return len(seen)
}

func (r *Registrar) handler(userID string, d registry.Descriptor) mcp.ToolHandlerFor[queryInput, any] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, in queryInput) (*mcp.CallToolResult, any, error) {
		res := r.invoker.Invoke(ctx, userID, d, in.Query)
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: res.Text}},
		}, nil, nil
	}
}
