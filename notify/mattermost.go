package notify

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"sentinel/core"

	"go.uber.org/zap"
)

// PreferenceSource answers whether a recipient accepts a delivery, and
// why not. The engine's preference service implements it.
type PreferenceSource interface {
	Allows(userID, category string, channelType core.ChannelType, priority string) (bool, string, error)
}

// MattermostDispatcher posts notifications to a Mattermost incoming
// webhook. Recipient preferences are checked before any network call so
// opted-out users cost nothing.
type MattermostDispatcher struct {
	prefs  PreferenceSource
	client *http.Client
	logger *zap.SugaredLogger
}

// NewMattermostDispatcher creates a Mattermost dispatcher.
func NewMattermostDispatcher(prefs PreferenceSource, timeout time.Duration, logger *zap.SugaredLogger) *MattermostDispatcher {
	return &MattermostDispatcher{prefs: prefs, client: httpClient(timeout), logger: logger}
}

func (d *MattermostDispatcher) Type() core.ChannelType {
	return core.ChannelMattermost
}

// Deliver posts a markdown message to the webhook, or skips without
// sending when the recipient's preferences reject the delivery.
func (d *MattermostDispatcher) Deliver(ctx context.Context, channel *core.NotificationChannel, notification *core.Notification, recipient *core.User) (Result, error) {
	cfg, err := channel.MattermostConfig()
	if err != nil {
		return Result{}, err
	}

	if d.prefs != nil {
		allowed, reason, err := d.prefs.Allows(recipient.ID, notification.Category, core.ChannelMattermost, notification.Priority)
		if err != nil {
			d.logger.Warnf("Preference check failed for user %s, delivering anyway: %v", recipient.ID, err)
		} else if !allowed {
			return Result{Skipped: true, Detail: reason}, nil
		}
	}

	color := priorityColor[notification.Priority]
	if color == "" {
		color = "#757575"
	}

	attachmentText := fmt.Sprintf("%s\n\n**Priority:** %s | **Category:** %s",
		notification.Message, notification.Priority, notification.Category)
	if cfg.IncludeActions && cfg.AppBaseURL != "" && notification.RelatedID != "" {
		attachmentText += fmt.Sprintf("\n[View details](%s/%s/%s)", cfg.AppBaseURL, notification.RelatedType, notification.RelatedID)
	}

	payload := map[string]interface{}{
		"text": fmt.Sprintf("#### %s", notification.Title),
		"attachments": []map[string]interface{}{
			{"color": color, "text": attachmentText},
		},
	}
	if cfg.Username != "" {
		payload["username"] = cfg.Username
	}
	if cfg.Channel != "" {
		payload["channel"] = cfg.Channel
	}
	if cfg.IconURL != "" {
		payload["icon_url"] = cfg.IconURL
	}

	if err := postJSON(ctx, d.client, cfg.WebhookURL, payload); err != nil {
		return Result{}, fmt.Errorf("mattermost delivery failed: %w", err)
	}

	d.logger.Infof("Sent Mattermost notification %s via channel %s", notification.ID, channel.Name)
	return Result{}, nil
}
