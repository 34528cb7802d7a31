package delivery

import (
	"context"

	logx "hansbot/pkg/logx"
)

// LogDeliverer writes messages to the log instead of a chat. It is the
// default driver, useful for dry runs.
type LogDeliverer struct {
	Log logx.Logger
}

func (d LogDeliverer) Deliver(ctx context.Context, m OutboundMessage) error {
	_ = ctx
	d.Log.Info("outbound message",
		logx.String("tenant", m.TenantID),
		logx.String("channel", m.ChannelID),
		logx.String("text", m.Text()),
	)
	return nil
}
