package mail

import "context"

// Message is a rendered email ready for delivery.
type Message struct {
	ToName      string
	ToEmail     string
	Subject     string
	TextContent string
	HTMLContent string
}

// Sender is any service that can deliver an email. Delivery is best effort
// for every caller in this codebase; senders report errors, callers log and
// move on.
type Sender interface {
	Send(ctx context.Context, msg *Message) error
}
