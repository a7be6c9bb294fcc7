// Package notify delivers fire-and-forget user notifications for committed
// engine events. Delivery failures are logged and dropped; they never roll
// back engine state.
package notify

import (
	"context"
	"log/slog"
)

// Notification is one message to one user.
type Notification struct {
	UserID  string
	Title   string
	Message string
	Type    string
	Link    string
}

// Notifier is the external delivery collaborator.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// SlogNotifier writes notifications to the log. It stands in for a real
// push/email transport.
type SlogNotifier struct {
	Log *slog.Logger
}

func (n *SlogNotifier) Notify(_ context.Context, msg Notification) error {
	log := n.Log
	if log == nil {
		log = slog.Default()
	}
	log.Info("notification",
		"user_id", msg.UserID,
		"type", msg.Type,
		"title", msg.Title,
		"message", msg.Message,
		"link", msg.Link,
	)
	return nil
}
