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

// WebhookDispatcher POSTs a normalized notification envelope to an
// arbitrary HTTP endpoint.
type WebhookDispatcher struct {
	client *http.Client
	logger *zap.SugaredLogger
}

// NewWebhookDispatcher creates a generic webhook dispatcher.
func NewWebhookDispatcher(timeout time.Duration, logger *zap.SugaredLogger) *WebhookDispatcher {
	return &WebhookDispatcher{client: httpClient(timeout), logger: logger}
}

func (d *WebhookDispatcher) Type() core.ChannelType {
	return core.ChannelWebhook
}

// Deliver POSTs the notification envelope with the channel's extra
// headers merged in. Content-Type cannot be overridden.
func (d *WebhookDispatcher) Deliver(ctx context.Context, channel *core.NotificationChannel, notification *core.Notification, recipient *core.User) (Result, error) {
	cfg, err := channel.WebhookConfig()
	if err != nil {
		return Result{}, err
	}

	payload := map[string]interface{}{
		"id":         notification.ID,
		"title":      notification.Title,
		"message":    notification.Message,
		"category":   notification.Category,
		"priority":   notification.Priority,
		"created_at": notification.CreatedAt.Format(time.RFC3339),
		"recipient": map[string]interface{}{
			"id":    recipient.ID,
			"email": recipient.Email,
		},
	}
	if notification.RelatedType != "" {
		payload["related_type"] = notification.RelatedType
		payload["related_id"] = notification.RelatedID
	}
	if cfg.IncludeCompany {
		payload["tenant_id"] = notification.TenantID
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return Result{}, fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewBuffer(jsonData))
	if err != nil {
		return Result{}, fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Sentinel-Notify/1.0")
	for key, value := range cfg.Headers {
		if http.CanonicalHeaderKey(key) == "Content-Type" {
			continue
		}
		req.Header.Set(key, value)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("failed to send webhook: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			d.logger.Debugf("Failed to close response body: %v", err)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Result{}, &HTTPStatusError{Code: resp.StatusCode, Body: string(bytes.TrimSpace(body))}
	}

	d.logger.Infof("Sent webhook notification %s via channel %s", notification.ID, channel.Name)
	return Result{}, nil
}
