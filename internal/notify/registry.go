package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrDuplicateConnection is returned when a connection ID is registered twice.
var ErrDuplicateConnection = errors.New("connection already registered")

// Sink is a writable, long-lived push channel. Implementations must make
// each WriteFrame atomic with respect to other writes on the same sink
// and fail every write once the underlying transport is gone.
type Sink interface {
	WriteFrame(f Frame) error
}

// Registry maps users to their live connections. A single mutex guards
// the whole map; event rates are human-paced.
type Registry struct {
	mu     sync.Mutex
	users  map[string]map[string]Sink // userID → connectionID → sink
	owners map[string]string          // connectionID → userID
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		users:  make(map[string]map[string]Sink),
		owners: make(map[string]string),
	}
}

// Register adds a connection for userID. A user may hold any number of
// connections.
func (r *Registry) Register(userID, connectionID string, sink Sink) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if owner, ok := r.owners[connectionID]; ok {
		return fmt.Errorf("%w: %s (user %s)", ErrDuplicateConnection, connectionID, owner)
	}

	conns, ok := r.users[userID]
	if !ok {
		conns = make(map[string]Sink)
		r.users[userID] = conns
	}
	conns[connectionID] = sink
	r.owners[connectionID] = userID

	slog.Info("stream connected",
		"user_id", userID,
		"connection_id", connectionID,
		"user_connections", len(conns))
	return nil
}

// Unregister removes a connection. Removing an unknown connection is a no-op.
func (r *Registry) Unregister(userID, connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(userID, connectionID)
}

func (r *Registry) removeLocked(userID, connectionID string) {
	conns, ok := r.users[userID]
	if !ok {
		return
	}
	if _, ok := conns[connectionID]; !ok {
		return
	}

	delete(conns, connectionID)
	delete(r.owners, connectionID)
	if len(conns) == 0 {
		delete(r.users, userID)
	}

	slog.Info("stream disconnected",
		"user_id", userID,
		"connection_id", connectionID,
		"user_connections", len(conns))
}

type target struct {
	id   string
	sink Sink
}

// SendToUser writes ev to every connection of userID and returns how many
// writes succeeded. A connection whose write fails is unregistered and
// skipped. With no connections the event is dropped.
func (r *Registry) SendToUser(userID string, ev Event) int {
	frame, err := EncodeEvent(ev)
	if err != nil {
		slog.Error("cannot encode event", "user_id", userID, "error", err)
		return 0
	}

	r.mu.Lock()
	conns := r.users[userID]
	targets := make([]target, 0, len(conns))
	for id, sink := range conns {
		targets = append(targets, target{id: id, sink: sink})
	}
	r.mu.Unlock()

	if len(targets) == 0 {
		slog.Debug("no active streams for user", "user_id", userID, "kind", ev.Kind().String())
		return 0
	}

	delivered := 0
	for _, t := range targets {
		if err := t.sink.WriteFrame(frame); err != nil {
			slog.Warn("stream write failed, dropping connection",
				"user_id", userID,
				"connection_id", t.id,
				"error", err)
			r.Unregister(userID, t.id)
			continue
		}
		delivered++
	}

	slog.Debug("event sent",
		"user_id", userID,
		"kind", ev.Kind().String(),
		"delivered", delivered,
		"attempted", len(targets))
	return delivered
}

// Notify implements Notifier for in-process dispatch.
func (r *Registry) Notify(_ context.Context, userID string, ev Event) (int, error) {
	return r.SendToUser(userID, ev), nil
}

// CountForUser returns the number of live connections of userID.
func (r *Registry) CountForUser(userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users[userID])
}

// CountAll returns the number of live connections across all users.
func (r *Registry) CountAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.owners)
}
