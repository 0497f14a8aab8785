package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/btouchard/courier/internal/mcp/handlers"
)

func registerTools(s *server.MCPServer, deps *Deps) {
	// send_invite: invite another player
	s.AddTool(
		mcp.NewTool("send_invite",
			mcp.WithDescription("Invite another player to a game. The recipient is notified immediately if they are online."),
			mcp.WithString("to_user_id",
				mcp.Required(),
				mcp.Description("ID of the player to invite (see list_invites)"),
			),
			mcp.WithString("message",
				mcp.Description("Optional note shown with the invite"),
			),
		),
		handlers.SendInvite(deps.Invites),
	)

	// respond_invite: accept or reject a received invite
	s.AddTool(
		mcp.NewTool("respond_invite",
			mcp.WithDescription("Accept or reject an invite you received. The sender is notified."),
			mcp.WithString("invite_id",
				mcp.Required(),
				mcp.Description("The invite ID"),
			),
			mcp.WithString("action",
				mcp.Required(),
				mcp.Description("Your answer"),
				mcp.Enum("accept", "reject"),
			),
		),
		handlers.RespondInvite(deps.Invites),
	)

	// list_invites: pending invites and invitable players
	s.AddTool(
		mcp.NewTool("list_invites",
			mcp.WithDescription("List your pending received and sent invites, and players you can invite."),
		),
		handlers.ListInvites(deps.Invites),
	)

	// connection_stats: open notification streams
	s.AddTool(
		mcp.NewTool("connection_stats",
			mcp.WithDescription("Show how many notification streams are open, overall and for you."),
		),
		handlers.ConnectionStats(deps.Connections),
	)
}
