package notify

import (
	"context"

	"sentinel/core"

	"go.uber.org/zap"
)

// InAppDispatcher handles the in-app channel. The notification row and
// its recipient links are already persisted by the time a delivery is
// scheduled, so delivery succeeds immediately; the read receipt arrives
// later through MarkRead.
type InAppDispatcher struct {
	logger *zap.SugaredLogger
}

// NewInAppDispatcher creates an in-app dispatcher.
func NewInAppDispatcher(logger *zap.SugaredLogger) *InAppDispatcher {
	return &InAppDispatcher{logger: logger}
}

func (d *InAppDispatcher) Type() core.ChannelType {
	return core.ChannelInApp
}

func (d *InAppDispatcher) Deliver(ctx context.Context, channel *core.NotificationChannel, notification *core.Notification, recipient *core.User) (Result, error) {
	d.logger.Debugf("In-app notification %s available to user %s", notification.ID, recipient.ID)
	return Result{}, nil
}
