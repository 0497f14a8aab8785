package invite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/btouchard/courier/internal/notify"
	"github.com/btouchard/courier/internal/store"
)

const (
	// maxListedUsers caps the "people you can invite" list.
	maxListedUsers = 20
	maxMessageLen  = 500
	unknownSender  = "Unknown"
)

var validUsername = regexp.MustCompile(`^[a-zA-Z0-9_.-]{2,32}$`)

// Service handles the invite lifecycle.
type Service struct {
	store    store.Store
	notifier notify.Notifier
	now      func() time.Time
	newID    func() string
}

// NewService creates a Service. A nil notifier disables dispatch.
func NewService(st store.Store, n notify.Notifier) *Service {
	return &Service{
		store:    st,
		notifier: n,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// CreateUser registers a new user.
func (s *Service) CreateUser(ctx context.Context, username, name string) (*User, error) {
	if !validUsername.MatchString(username) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidUsername, username)
	}
	rec := &store.UserRecord{
		ID:        s.newID(),
		Username:  username,
		Name:      name,
		CreatedAt: s.now(),
	}
	if err := s.store.CreateUser(ctx, rec); err != nil {
		return nil, err
	}

	slog.Info("user created", "user_id", rec.ID, "username", username)
	return &User{ID: rec.ID, Username: rec.Username, Name: rec.Name}, nil
}

// Send creates a pending invite from fromID to toID and notifies the
// recipient.
func (s *Service) Send(ctx context.Context, fromID, toID, message string) (*Invite, error) {
	if toID == fromID {
		return nil, ErrSelfInvite
	}
	if r := []rune(message); len(r) > maxMessageLen {
		message = string(r[:maxMessageLen])
	}

	if _, err := s.store.GetUser(ctx, toID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("looking up recipient: %w", err)
	}

	if _, err := s.store.FindPendingInvite(ctx, fromID, toID); err == nil {
		return nil, ErrAlreadyPending
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("checking pending invites: %w", err)
	}

	fromUsername := s.username(ctx, fromID)

	now := s.now()
	rec := &store.InviteRecord{
		ID:         s.newID(),
		FromUserID: fromID,
		ToUserID:   toID,
		Message:    message,
		Status:     store.StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.CreateInvite(ctx, rec); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, ErrAlreadyPending
		}
		return nil, fmt.Errorf("storing invite: %w", err)
	}

	slog.Info("invite sent", "invite_id", rec.ID, "from_user_id", fromID, "to_user_id", toID)

	s.dispatch(ctx, toID, notify.NewEvent(notify.KindInviteOffered,
		rec.ID, fromID, fromUsername, toID, message, rec.CreatedAt))

	inv := fromRecord(rec)
	inv.FromUsername = fromUsername
	return &inv, nil
}

// Respond records the recipient's answer and notifies the original sender.
func (s *Service) Respond(ctx context.Context, userID, inviteID string, action Action) (*Invite, error) {
	if _, err := ParseAction(string(action)); err != nil {
		return nil, err
	}

	rec, err := s.store.GetInvite(ctx, inviteID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInviteNotFound
		}
		return nil, fmt.Errorf("looking up invite: %w", err)
	}
	if rec.ToUserID != userID {
		return nil, ErrForbidden
	}
	if rec.Status != store.StatusPending {
		return nil, ErrAlreadyResponded
	}

	now := s.now()
	// Only the answer that moves the invite out of pending is dispatched.
	if err := s.store.AnswerInvite(ctx, rec.ID, action.status(), now); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, ErrAlreadyResponded
		}
		return nil, fmt.Errorf("updating invite: %w", err)
	}
	rec.Status = action.status()
	rec.UpdatedAt = now

	slog.Info("invite answered", "invite_id", rec.ID, "user_id", userID, "action", string(action))

	kind := notify.KindInviteDeclined
	if action == ActionAccept {
		kind = notify.KindInviteAccepted
	}
	responder := s.username(ctx, userID)
	s.dispatch(ctx, rec.FromUserID, notify.NewEvent(kind,
		rec.ID, userID, responder, rec.FromUserID, "", now))

	inv := fromRecord(rec)
	inv.ToUsername = responder
	return &inv, nil
}

// Overview lists the users userID can invite and its pending invites,
// newest first.
func (s *Service) Overview(ctx context.Context, userID string) (*Overview, error) {
	users, err := s.store.ListUsers(ctx, userID, maxListedUsers)
	if err != nil {
		return nil, err
	}
	sent, err := s.store.ListInvites(ctx, store.InviteFilter{FromUserID: userID, Status: store.StatusPending})
	if err != nil {
		return nil, err
	}
	received, err := s.store.ListInvites(ctx, store.InviteFilter{ToUserID: userID, Status: store.StatusPending})
	if err != nil {
		return nil, err
	}

	ov := &Overview{
		UserID:   userID,
		Users:    make([]User, 0, len(users)),
		Sent:     make([]Invite, 0, len(sent)),
		Received: make([]Invite, 0, len(received)),
	}
	for _, u := range users {
		ov.Users = append(ov.Users, User{ID: u.ID, Username: u.Username, Name: u.Name})
	}

	names := make(map[string]string)
	lookup := func(id string) string {
		if n, ok := names[id]; ok {
			return n
		}
		n := s.username(ctx, id)
		names[id] = n
		return n
	}
	for i := range sent {
		inv := fromRecord(&sent[i])
		inv.ToUsername = lookup(inv.ToID)
		ov.Sent = append(ov.Sent, inv)
	}
	for i := range received {
		inv := fromRecord(&received[i])
		inv.FromUsername = lookup(inv.FromID)
		ov.Received = append(ov.Received, inv)
	}
	return ov, nil
}

// username resolves a display name, falling back to "Unknown".
func (s *Service) username(ctx context.Context, userID string) string {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			slog.Warn("username lookup failed", "user_id", userID, "error", err)
		}
		return unknownSender
	}
	return u.Username
}

// dispatch pushes ev after the state change has been stored. Failures
// are logged and never undo the change.
func (s *Service) dispatch(ctx context.Context, userID string, ev notify.Event) {
	if s.notifier == nil {
		return
	}
	delivered, err := s.notifier.Notify(ctx, userID, ev)
	if err != nil {
		slog.Error("notification dispatch failed",
			"user_id", userID,
			"kind", ev.Kind().String(),
			"invite_id", ev.ID(),
			"error", err)
		return
	}
	slog.Debug("notification dispatched",
		"user_id", userID,
		"kind", ev.Kind().String(),
		"delivered", delivered)
}
