// Package notify delivers authentication lifecycle events to external
// collaborators. Delivery is best-effort: a failing notifier never fails
// the login that triggered it.
package notify

import (
	"context"

	"github.com/grantly/grantly/pkg/interfaces"
	"github.com/grantly/grantly/pkg/types"
)

// Callbacks adapts plain functions to the Notifier interface
type Callbacks struct {
	OnLogin  func(ctx context.Context, event types.LoginEvent) error
	OnLogout func(ctx context.Context, userID string) error
}

var _ interfaces.Notifier = (*Callbacks)(nil)

// LoginSucceeded invokes the login callback when set
func (c *Callbacks) LoginSucceeded(ctx context.Context, event types.LoginEvent) error {
	if c.OnLogin == nil {
		return nil
	}
	return c.OnLogin(ctx, event)
}

// LoggedOut invokes the logout callback when set
func (c *Callbacks) LoggedOut(ctx context.Context, userID string) error {
	if c.OnLogout == nil {
		return nil
	}
	return c.OnLogout(ctx, userID)
}

// Multi fans an event out to several notifiers. Every notifier is invoked;
// the first error is returned.
type Multi struct {
	notifiers []interfaces.Notifier
	logger    interfaces.Logger
}

// NewMulti composes notifiers
func NewMulti(logger interfaces.Logger, notifiers ...interfaces.Notifier) *Multi {
	return &Multi{notifiers: notifiers, logger: logger}
}

var _ interfaces.Notifier = (*Multi)(nil)

// LoginSucceeded fans out the login event
func (m *Multi) LoginSucceeded(ctx context.Context, event types.LoginEvent) error {
	var first error
	for _, n := range m.notifiers {
		if err := n.LoginSucceeded(ctx, event); err != nil {
			m.logger.Warn("login notifier failed", map[string]interface{}{
				"user_id": event.UserID,
				"error":   err.Error(),
			})
			if first == nil {
				first = err
			}
		}
	}
	return first
}

// LoggedOut fans out the logout event
func (m *Multi) LoggedOut(ctx context.Context, userID string) error {
	var first error
	for _, n := range m.notifiers {
		if err := n.LoggedOut(ctx, userID); err != nil {
			m.logger.Warn("logout notifier failed", map[string]interface{}{
				"user_id": userID,
				"error":   err.Error(),
			})
			if first == nil {
				first = err
			}
		}
	}
	return first
}
