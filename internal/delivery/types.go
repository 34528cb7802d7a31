// Package delivery hands outbound messages to the chat transport.
//
// Delivery is fire-and-forget: each message runs as its own task on a worker
// pool, failures are logged and never retried, and one failing send never
// holds back the rest of a batch.
package delivery

import (
	"context"
	"strings"
)

// OutboundMessage is a message the bot wants posted in a channel.
type OutboundMessage struct {
	TenantID    string
	ChannelID   string
	Content     string
	MentionRole string
}

// Text renders the message body with the optional mention in front.
func (m OutboundMessage) Text() string {
	role := strings.TrimSpace(m.MentionRole)
	if role == "" {
		return m.Content
	}
	return role + " " + m.Content
}

// Deliverer pushes one message into a channel.
type Deliverer interface {
	Deliver(ctx context.Context, m OutboundMessage) error
}

// DelivererFunc adapts a function to Deliverer.
type DelivererFunc func(ctx context.Context, m OutboundMessage) error

func (f DelivererFunc) Deliver(ctx context.Context, m OutboundMessage) error { return f(ctx, m) }
