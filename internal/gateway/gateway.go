// Package gateway is the outbound notification boundary. It decides which
// sender handles a channel and reports whether the carrier accepted the
// request; delivery beyond acceptance is the carrier's concern.
package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirenhq/sos-dispatch/internal/domain"
)

// ErrChannelUnavailable is returned when no sender handles the channel.
var ErrChannelUnavailable = errors.New("no sender for notification channel")

// Notification is one outbound message to one recipient.
type Notification struct {
	To      string
	Subject string
	Body    string
}

// Sender delivers notifications over one channel.
type Sender interface {
	Channel() domain.NotificationChannel
	Send(ctx context.Context, n Notification) error
}

// Gateway routes notifications to channel senders.
type Gateway struct {
	senders map[domain.NotificationChannel]Sender
}

// New creates a gateway from the given senders.
func New(senders ...Sender) *Gateway {
	m := make(map[domain.NotificationChannel]Sender, len(senders))
	for _, s := range senders {
		m[s.Channel()] = s
	}
	return &Gateway{senders: m}
}

// Notify asks the channel's sender to deliver a message. A nil error means
// the request was accepted by the carrier, not that a human saw it.
func (g *Gateway) Notify(ctx context.Context, channel domain.NotificationChannel, recipient, subject, body string) error {
	sender, ok := g.senders[channel]
	if !ok {
		return fmt.Errorf("%w: %s", ErrChannelUnavailable, channel)
	}
	return sender.Send(ctx, Notification{To: recipient, Subject: subject, Body: body})
}
