package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/btouchard/courier/internal/invite"
	"github.com/btouchard/courier/internal/middleware"
	"github.com/btouchard/courier/internal/store"
)

// Invites is the slice of invite.Service the tools need.
// Defined at the consumer side per Go convention.
type Invites interface {
	Send(ctx context.Context, fromID, toID, message string) (*invite.Invite, error)
	Respond(ctx context.Context, userID, inviteID string, action invite.Action) (*invite.Invite, error)
	Overview(ctx context.Context, userID string) (*invite.Overview, error)
}

const notAuthenticated = "not authenticated"

// SendInvite returns a handler that invites another user to a game.
func SendInvite(svc Invites) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID := middleware.UserIDFromContext(ctx)
		if userID == "" {
			return mcp.NewToolResultError(notAuthenticated), nil
		}

		args := req.GetArguments()
		toUserID, _ := args["to_user_id"].(string)
		if toUserID == "" {
			return mcp.NewToolResultError("to_user_id is required"), nil
		}
		message, _ := args["message"].(string)

		inv, err := svc.Send(ctx, userID, toUserID, message)
		if err != nil {
			return mcp.NewToolResultError(inviteErrorText(err)), nil
		}

		return mcp.NewToolResultText(fmt.Sprintf("✉️ Invite sent\n\nID: %s\nTo: %s\n", inv.ID, inv.ToID)), nil
	}
}

// RespondInvite returns a handler that accepts or rejects a received invite.
func RespondInvite(svc Invites) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID := middleware.UserIDFromContext(ctx)
		if userID == "" {
			return mcp.NewToolResultError(notAuthenticated), nil
		}

		args := req.GetArguments()
		inviteID, _ := args["invite_id"].(string)
		if inviteID == "" {
			return mcp.NewToolResultError("invite_id is required"), nil
		}
		raw, _ := args["action"].(string)
		action, err := invite.ParseAction(raw)
		if err != nil {
			return mcp.NewToolResultError("action must be accept or reject"), nil
		}

		inv, err := svc.Respond(ctx, userID, inviteID, action)
		if err != nil {
			return mcp.NewToolResultError(inviteErrorText(err)), nil
		}

		icon := "✅"
		if inv.Status != store.StatusAccepted {
			icon = "🚫"
		}
		return mcp.NewToolResultText(fmt.Sprintf("%s Invite %s is now %s\n", icon, inv.ID, inv.Status)), nil
	}
}

// ListInvites returns a handler that summarises pending invites and the
// users that can be invited.
func ListInvites(svc Invites) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID := middleware.UserIDFromContext(ctx)
		if userID == "" {
			return mcp.NewToolResultError(notAuthenticated), nil
		}

		ov, err := svc.Overview(ctx, userID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Cannot list invites: %s", err)), nil
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "📥 Received (%d)\n", len(ov.Received))
		for _, inv := range ov.Received {
			fmt.Fprintf(&sb, "- **%s** from %s", inv.ID, inv.FromUsername)
			if inv.Message != "" {
				fmt.Fprintf(&sb, ": %q", inv.Message)
			}
			sb.WriteString("\n")
		}

		fmt.Fprintf(&sb, "\n📤 Sent (%d)\n", len(ov.Sent))
		for _, inv := range ov.Sent {
			fmt.Fprintf(&sb, "- **%s** to %s\n", inv.ID, inv.ToUsername)
		}

		fmt.Fprintf(&sb, "\n👥 Players (%d)\n", len(ov.Users))
		for _, u := range ov.Users {
			fmt.Fprintf(&sb, "- %s (%s)\n", u.Username, u.ID)
		}

		return mcp.NewToolResultText(sb.String()), nil
	}
}

func inviteErrorText(err error) string {
	switch {
	case errors.Is(err, invite.ErrUserNotFound),
		errors.Is(err, invite.ErrInviteNotFound),
		errors.Is(err, invite.ErrAlreadyPending),
		errors.Is(err, invite.ErrAlreadyResponded),
		errors.Is(err, invite.ErrForbidden),
		errors.Is(err, invite.ErrSelfInvite),
		errors.Is(err, invite.ErrInvalidAction):
		return err.Error()
	default:
		return "internal error"
	}
}
