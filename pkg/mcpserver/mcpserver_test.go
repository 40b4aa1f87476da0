package mcpserver

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpserver "github.com/jdutton/mcp-scaffold/pkg/server"
	"github.com/jdutton/mcp-scaffold/pkg/storage"
)

func TestNewReturnsHandler(t *testing.T) {
	t.Parallel()

	srv := New("test-scaffold", "0.1.0")
	require.NotNil(t, srv)
	assert.NotNil(t, srv.Handler())
}

func TestWhoamiWithIdentity(t *testing.T) {
	t.Parallel()

	ctx := httpserver.WithIdentity(context.Background(), &storage.UserInfo{
		Subject:  "user-42",
		Email:    "user@example.com",
		Name:     "Test User",
		Provider: "github",
	})

	result, err := handleWhoami(ctx, mcp.CallToolRequest{})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.False(t, result.IsError)

	payload, ok := result.StructuredContent.(whoamiResult)
	require.True(t, ok)
	assert.Equal(t, "user-42", payload.Subject)
	assert.Equal(t, "github", payload.Provider)
}

func TestWhoamiWithoutIdentity(t *testing.T) {
	t.Parallel()

	result, err := handleWhoami(context.Background(), mcp.CallToolRequest{})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.True(t, result.IsError)
}

func TestCarryIdentity(t *testing.T) {
	t.Parallel()

	identity := &storage.UserInfo{Subject: "user-7"}
	req := httptest.NewRequest("POST", "/mcp", nil)
	req = req.WithContext(httpserver.WithIdentity(req.Context(), identity))

	toolCtx := carryIdentity(context.Background(), req)
	got, ok := httpserver.IdentityFromContext(toolCtx)
	require.True(t, ok)
	assert.Equal(t, "user-7", got.Subject)
}

func TestCarryIdentityWithoutIdentity(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest("POST", "/mcp", nil)
	toolCtx := carryIdentity(context.Background(), req)

	_, ok := httpserver.IdentityFromContext(toolCtx)
	assert.False(t, ok)
}
