package mail

import (
	"context"
	"log/slog"
)

// ConsoleSender logs messages instead of delivering them. Used in local
// development and by the seeder, where a SendGrid key is not configured.
type ConsoleSender struct {
	logger *slog.Logger
}

var _ Sender = (*ConsoleSender)(nil)

func NewConsoleSender(logger *slog.Logger) *ConsoleSender {
	return &ConsoleSender{logger: logger}
}

func (s *ConsoleSender) Send(ctx context.Context, msg *Message) error {
	s.logger.Info("email (console)",
		"to", msg.ToEmail,
		"subject", msg.Subject,
		"body", msg.TextContent)
	return nil
}
