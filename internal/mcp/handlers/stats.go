package handlers

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/btouchard/courier/internal/middleware"
)

// ConnectionCounter reports live stream connections.
type ConnectionCounter interface {
	CountAll() int
	CountForUser(userID string) int
}

// ConnectionStats returns a handler reporting how many streams are open.
// counter is nil when this process does not hold the registry.
func ConnectionStats(counter ConnectionCounter) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if counter == nil {
			return mcp.NewToolResultText("Connection stats are only available on the relay."), nil
		}

		text := fmt.Sprintf("🔌 Open streams: %d\n", counter.CountAll())
		if userID := middleware.UserIDFromContext(ctx); userID != "" {
			text += fmt.Sprintf("Yours: %d\n", counter.CountForUser(userID))
		}
		return mcp.NewToolResultText(text), nil
	}
}
