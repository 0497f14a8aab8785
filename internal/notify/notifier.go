package notify

import (
	"context"
	"errors"
)

// Notifier submits an event for a user. It is called after a domain
// mutation commits; the returned count is informational and callers
// treat errors as non-fatal.
type Notifier interface {
	Notify(ctx context.Context, userID string, ev Event) (int, error)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, userID string, ev Event) (int, error)

func (f NotifierFunc) Notify(ctx context.Context, userID string, ev Event) (int, error) {
	return f(ctx, userID, ev)
}

// Multi submits each event to every notifier in order. Delivered counts
// are summed; errors are joined and do not stop later notifiers.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, userID string, ev Event) (int, error) {
	var (
		total int
		errs  []error
	)
	for _, n := range m {
		delivered, err := n.Notify(ctx, userID, ev)
		total += delivered
		if err != nil {
			errs = append(errs, err)
		}
	}
	return total, errors.Join(errs...)
}
