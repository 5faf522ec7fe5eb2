// Package notify alerts the user when an account needs interactive
// re-authentication. Notifiers fire only for that condition: transient
// service trouble is the loop's business and self-heals, but an
// expired trust token stalls a headless machine until a human types a
// code.
package notify

import (
	"context"
	"log/slog"
	"time"
)

// Notifier delivers one re-authentication alert.
type Notifier interface {
	Name() string
	AuthExpired(ctx context.Context, username string) error
}

// Multi fans an alert out to every configured notifier. Delivery
// failures are logged and swallowed: a broken SMTP server must not
// take down the sync loop the alert is about.
type Multi struct {
	notifiers []Notifier
	logger    *slog.Logger
}

// NewMulti builds a fan-out over the given notifiers.
func NewMulti(notifiers []Notifier, logger *slog.Logger) *Multi {
	return &Multi{notifiers: notifiers, logger: logger}
}

// Empty reports whether no notifiers are configured.
func (m *Multi) Empty() bool {
	return len(m.notifiers) == 0
}

// AuthExpired delivers the alert through every notifier.
func (m *Multi) AuthExpired(ctx context.Context, username string) {
	for _, n := range m.notifiers {
		if err := n.AuthExpired(ctx, username); err != nil {
			m.logger.Warn("notification failed",
				slog.String("notifier", n.Name()),
				slog.String("username", username),
				slog.String("error", err.Error()),
			)

			continue
		}

		m.logger.Info("notification sent",
			slog.String("notifier", n.Name()),
			slog.String("username", username),
		)
	}
}

// subject and body shared by the textual notifiers.
func messageText(username string, now time.Time) (subject, body string) {
	subject = "icloud-go: authentication required for " + username

	body = "The iCloud session for " + username + " expired on " +
		now.Format(time.RFC1123Z) + ".\n\n" +
		"Sign in again on the machine running icloud-go to resume syncing:\n\n" +
		"    icloud-go auth --username " + username + "\n"

	return subject, body
}
