package gateway

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirenhq/sos-dispatch/internal/domain"
)

type stubSender struct {
	channel domain.NotificationChannel
	last    Notification
	err     error
}

func (s *stubSender) Channel() domain.NotificationChannel { return s.channel }

func (s *stubSender) Send(_ context.Context, n Notification) error {
	s.last = n
	return s.err
}

func TestNotifyRoutesToChannelSender(t *testing.T) {
	smsSender := &stubSender{channel: domain.ChannelSMS}
	pushSender := &stubSender{channel: domain.ChannelPush}
	g := New(smsSender, pushSender)

	err := g.Notify(context.Background(), domain.ChannelSMS, "+15550100", "subject", "body")
	require.NoError(t, err)

	assert.Equal(t, "+15550100", smsSender.last.To)
	assert.Equal(t, "subject", smsSender.last.Subject)
	assert.Equal(t, "body", smsSender.last.Body)
	assert.Empty(t, pushSender.last.To)
}

func TestNotifyUnknownChannel(t *testing.T) {
	g := New(&stubSender{channel: domain.ChannelSMS})

	err := g.Notify(context.Background(), domain.ChannelEmail, "a@b.c", "s", "b")
	assert.ErrorIs(t, err, ErrChannelUnavailable)
}

func TestNotifyPropagatesSenderError(t *testing.T) {
	sender := &stubSender{channel: domain.ChannelPush, err: errors.New("gateway down")}
	g := New(sender)

	err := g.Notify(context.Background(), domain.ChannelPush, "svc-1", "s", "b")
	assert.ErrorContains(t, err, "gateway down")
}
