package notify

import (
	"context"
	"log/slog"
	"sync"
)

// MCPSender abstracts the mcp-go server notification method.
// Defined consumer-side per Go convention.
type MCPSender interface {
	SendNotificationToSpecificClient(sessionID string, method string, params map[string]any) error
}

// MCPNotifier pushes invite events to the MCP sessions a user has opened.
// Sessions are learned through Bind as authenticated MCP requests arrive
// and forgotten the first time a push to them fails.
type MCPNotifier struct {
	mu       sync.Mutex
	sender   MCPSender
	sessions map[string]map[string]struct{} // userID → MCP session IDs
	owners   map[string]string              // session ID → userID
}

// NewMCPNotifier returns a notifier with no sender. Until SetSender is
// called every Notify delivers nothing.
func NewMCPNotifier() *MCPNotifier {
	return &MCPNotifier{
		sessions: make(map[string]map[string]struct{}),
		owners:   make(map[string]string),
	}
}

// SetSender sets the MCP server used for pushes.
func (n *MCPNotifier) SetSender(s MCPSender) {
	n.mu.Lock()
	n.sender = s
	n.mu.Unlock()
}

// Bind associates an MCP session with userID. A session already bound to
// another user keeps its owner.
func (n *MCPNotifier) Bind(userID, sessionID string) {
	if userID == "" || sessionID == "" {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	if owner, ok := n.owners[sessionID]; ok {
		if owner != userID {
			slog.Warn("mcp session already bound to another user",
				"session_id", sessionID,
				"user_id", userID)
		}
		return
	}
	n.owners[sessionID] = userID

	bucket, ok := n.sessions[userID]
	if !ok {
		bucket = make(map[string]struct{})
		n.sessions[userID] = bucket
	}
	bucket[sessionID] = struct{}{}
}

func (n *MCPNotifier) forget(userID, sessionID string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.owners[sessionID] == userID {
		delete(n.owners, sessionID)
	}
	bucket, ok := n.sessions[userID]
	if !ok {
		return
	}
	delete(bucket, sessionID)
	if len(bucket) == 0 {
		delete(n.sessions, userID)
	}
}

// Notify sends a notifications/message to each of the user's sessions and
// reports how many accepted it.
func (n *MCPNotifier) Notify(_ context.Context, userID string, ev Event) (int, error) {
	n.mu.Lock()
	sender := n.sender
	ids := make([]string, 0, len(n.sessions[userID]))
	for id := range n.sessions[userID] {
		ids = append(ids, id)
	}
	n.mu.Unlock()

	if sender == nil || len(ids) == 0 {
		return 0, nil
	}

	params := messageParams(ev)
	delivered := 0
	for _, id := range ids {
		if err := sender.SendNotificationToSpecificClient(id, "notifications/message", params); err != nil {
			slog.Debug("mcp notification failed, dropping session",
				"user_id", userID,
				"session_id", id,
				"error", err)
			n.forget(userID, id)
			continue
		}
		delivered++
	}
	return delivered, nil
}

func messageParams(ev Event) map[string]any {
	p := ev.Payload()
	data := map[string]any{
		"type":          ev.Kind().String(),
		"invite_id":     p.ID,
		"from_id":       p.FromID,
		"from_username": p.FromUsername,
		"to_id":         p.ToID,
	}
	if p.Message != "" {
		data["message"] = p.Message
	}
	return map[string]any{
		"level":  "info",
		"logger": "courier",
		"data":   data,
	}
}
