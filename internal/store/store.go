package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when a unique constraint is violated.
	ErrDuplicate = errors.New("record already exists")
	// ErrConflict is returned when a record is no longer in the state a
	// conditional update expects.
	ErrConflict = errors.New("record changed concurrently")
)

// Invite statuses.
const (
	StatusPending  = "pending"
	StatusAccepted = "accepted"
	StatusRejected = "rejected"
)

// Store is the persistence interface for courier.
// Defined at the consumer side per Go conventions.
type Store interface {
	// Users
	CreateUser(ctx context.Context, u *UserRecord) error
	GetUser(ctx context.Context, id string) (*UserRecord, error)
	ListUsers(ctx context.Context, excludeID string, limit int) ([]UserRecord, error)

	// Invites
	CreateInvite(ctx context.Context, inv *InviteRecord) error
	GetInvite(ctx context.Context, id string) (*InviteRecord, error)
	FindPendingInvite(ctx context.Context, fromUserID, toUserID string) (*InviteRecord, error)
	// AnswerInvite moves a pending invite to status. It returns
	// ErrConflict when the invite exists but is no longer pending.
	AnswerInvite(ctx context.Context, id, status string, at time.Time) error
	ListInvites(ctx context.Context, f InviteFilter) ([]InviteRecord, error)

	Close() error
}

// UserRecord represents a persisted user.
type UserRecord struct {
	ID        string
	Username  string
	Name      string
	CreatedAt time.Time
}

// InviteRecord represents a persisted game invite.
type InviteRecord struct {
	ID         string
	FromUserID string
	ToUserID   string
	Message    string
	Status     string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// InviteFilter specifies criteria for listing invites. Empty fields match
// everything.
type InviteFilter struct {
	FromUserID string
	ToUserID   string
	Status     string
	Limit      int
}
