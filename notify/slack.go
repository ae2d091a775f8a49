package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"sentinel/core"

	"go.uber.org/zap"
)

var priorityColor = map[string]string{
	core.PriorityCritical: "#d32f2f",
	core.PriorityHigh:     "#f44336",
	core.PriorityMedium:   "#ff9800",
	core.PriorityLow:      "#2196f3",
}

// SlackDispatcher posts notifications to a Slack incoming webhook. Slack
// webhooks address a workspace channel, so the recipient only shapes the
// message body.
type SlackDispatcher struct {
	client *http.Client
	logger *zap.SugaredLogger
}

// NewSlackDispatcher creates a Slack dispatcher.
func NewSlackDispatcher(timeout time.Duration, logger *zap.SugaredLogger) *SlackDispatcher {
	return &SlackDispatcher{client: httpClient(timeout), logger: logger}
}

func (d *SlackDispatcher) Type() core.ChannelType {
	return core.ChannelSlack
}

// Deliver posts an attachment-formatted message to the webhook.
func (d *SlackDispatcher) Deliver(ctx context.Context, channel *core.NotificationChannel, notification *core.Notification, recipient *core.User) (Result, error) {
	cfg, err := channel.SlackConfig()
	if err != nil {
		return Result{}, err
	}

	color := priorityColor[notification.Priority]
	if color == "" {
		color = "#757575"
	}

	payload := map[string]interface{}{
		"text": fmt.Sprintf("*%s*", notification.Title),
		"attachments": []map[string]interface{}{
			{
				"color": color,
				"text":  notification.Message,
				"fields": []map[string]interface{}{
					{"title": "Priority", "value": notification.Priority, "short": true},
					{"title": "Category", "value": notification.Category, "short": true},
				},
				"ts": notification.CreatedAt.Unix(),
			},
		},
	}
	if cfg.Username != "" {
		payload["username"] = cfg.Username
	}
	if cfg.IconEmoji != "" {
		payload["icon_emoji"] = cfg.IconEmoji
	}

	if err := postJSON(ctx, d.client, cfg.WebhookURL, payload); err != nil {
		return Result{}, fmt.Errorf("slack delivery failed: %w", err)
	}

	d.logger.Infof("Sent Slack notification %s via channel %s", notification.ID, channel.Name)
	return Result{}, nil
}

// postJSON POSTs a JSON body and converts non-2xx responses into
// HTTPStatusError so retry logic can classify them.
func postJSON(ctx context.Context, client *http.Client, url string, payload interface{}) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Sentinel-Notify/1.0")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &HTTPStatusError{Code: resp.StatusCode, Body: string(bytes.TrimSpace(body))}
	}
	return nil
}
