// Package invite implements game invites between users: sending,
// answering, and listing them. Every state change is pushed to the other
// party through a notify.Notifier once it has been stored.
package invite

import (
	"errors"
	"time"

	"github.com/btouchard/courier/internal/store"
)

// Domain errors. The HTTP and MCP layers map these to their own codes.
var (
	ErrUserNotFound     = errors.New("user not found")
	ErrSelfInvite       = errors.New("cannot invite yourself")
	ErrAlreadyPending   = errors.New("invite already sent")
	ErrInvalidAction    = errors.New("invalid action")
	ErrInviteNotFound   = errors.New("invite not found")
	ErrForbidden        = errors.New("not the recipient of this invite")
	ErrAlreadyResponded = errors.New("invite already responded to")
	ErrInvalidUsername  = errors.New("invalid username")
)

// Action is a recipient's answer to an invite.
type Action string

const (
	ActionAccept Action = "accept"
	ActionReject Action = "reject"
)

// ParseAction validates a raw action string.
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionAccept, ActionReject:
		return a, nil
	default:
		return "", ErrInvalidAction
	}
}

func (a Action) status() string {
	if a == ActionAccept {
		return store.StatusAccepted
	}
	return store.StatusRejected
}

// User is the public view of a user.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name,omitempty"`
}

// Invite is the public view of an invite.
type Invite struct {
	ID           string    `json:"id"`
	FromID       string    `json:"fromId"`
	FromUsername string    `json:"fromUsername,omitempty"`
	ToID         string    `json:"toId"`
	ToUsername   string    `json:"toUsername,omitempty"`
	Message      string    `json:"message,omitempty"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Overview is what a user sees on the invites page.
type Overview struct {
	UserID   string   `json:"userId"`
	Users    []User   `json:"users"`
	Sent     []Invite `json:"sentInvites"`
	Received []Invite `json:"receivedInvites"`
}

func fromRecord(r *store.InviteRecord) Invite {
	return Invite{
		ID:        r.ID,
		FromID:    r.FromUserID,
		ToID:      r.ToUserID,
		Message:   r.Message,
		Status:    r.Status,
		CreatedAt: r.CreatedAt,
	}
}
