// Package mcpserver exposes the scaffold's MCP surface: a streamable HTTP
// MCP server whose tools read the authenticated identity from the request
// context populated by the bearer middleware.
package mcpserver

import (
	"context"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	mcpgo "github.com/mark3labs/mcp-go/server"

	httpserver "github.com/jdutton/mcp-scaffold/pkg/server"
)

// Server wraps the MCP server and its streamable HTTP transport.
type Server struct {
	mcpServer  *mcpgo.MCPServer
	streamable *mcpgo.StreamableHTTPServer
}

// New builds the MCP server with the identity tools registered.
func New(name, version string) *Server {
	mcpServer := mcpgo.NewMCPServer(
		name,
		version,
		mcpgo.WithToolCapabilities(false),
		mcpgo.WithLogging(),
	)

	mcpServer.AddTool(mcp.Tool{
		Name:        "whoami",
		Description: "Report the authenticated user's identity",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, handleWhoami)

	streamable := mcpgo.NewStreamableHTTPServer(
		mcpServer,
		mcpgo.WithEndpointPath("/mcp"),
		mcpgo.WithHTTPContextFunc(carryIdentity),
	)

	return &Server{mcpServer: mcpServer, streamable: streamable}
}

// Handler returns the streamable HTTP handler, for mounting behind the
// bearer middleware.
func (s *Server) Handler() http.Handler {
	return s.streamable
}

// carryIdentity copies the authenticated identity from the HTTP request
// context into the context tool handlers receive.
func carryIdentity(ctx context.Context, r *http.Request) context.Context {
	if identity, ok := httpserver.IdentityFromContext(r.Context()); ok {
		return httpserver.WithIdentity(ctx, identity)
	}
	return ctx
}

// whoamiResult is the structured payload returned by the whoami tool.
type whoamiResult struct {
	Subject  string `json:"subject"`
	Email    string `json:"email,omitempty"`
	Name     string `json:"name,omitempty"`
	Provider string `json:"provider,omitempty"`
}

func handleWhoami(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	identity, ok := httpserver.IdentityFromContext(ctx)
	if !ok {
		return mcp.NewToolResultError("no authenticated identity in request context"), nil
	}

	return mcp.NewToolResultStructuredOnly(whoamiResult{
		Subject:  identity.Subject,
		Email:    identity.Email,
		Name:     identity.Name,
		Provider: identity.Provider,
	}), nil
}
