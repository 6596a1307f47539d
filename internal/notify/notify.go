// Package notify is the outbound notification boundary. Send failures are
// logged by callers, never retried here; retry belongs to whoever scheduled
// the send.
package notify

import (
	"context"
	"log/slog"
)

// Message is one notification: a recipient, a subject line and pre-rendered
// HTML content.
type Message struct {
	To      string
	Subject string
	HTML    string
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender writes notifications to the log instead of delivering them.
// Used in development and tests.
type LogSender struct{}

func (LogSender) Send(ctx context.Context, msg Message) error {
	slog.InfoContext(ctx, "Notification (log only)",
		"to", msg.To,
		"subject", msg.Subject,
		"bytes", len(msg.HTML))
	return nil
}
