package engine

import (
	"context"
	"fmt"
	"time"

	"sentinel/core"
	"sentinel/metrics"
	"sentinel/notify"
	"sentinel/storage"

	"go.uber.org/zap"
)

// prefsExempt marks channel types the scheduler does not run the
// per-user preference filter for. The Mattermost and SMS dispatchers
// apply the check themselves so they can record the skip in their own
// result, and Slack webhooks post to a workspace channel rather than an
// individual user, so opt-outs have nothing to act on there.
var prefsExempt = map[core.ChannelType]bool{
	core.ChannelMattermost: true,
	core.ChannelSMS:        true,
	core.ChannelSlack:      true,
}

// Scheduler fans a notification out into per-(channel, recipient)
// delivery tasks on a worker pool. Scheduling never blocks on provider
// I/O; each task owns its delivery row and retries transient failures
// in place until the budget is spent.
type Scheduler struct {
	channels   storage.ChannelStorageInterface
	deliveries storage.DeliveryStorageInterface
	resolver   *Resolver
	prefs      *PreferenceService
	registry   *notify.Registry
	pool       *core.WorkerPool
	policy     RetryPolicy
	logger     *zap.SugaredLogger
}

// NewScheduler creates a delivery scheduler over the given worker pool.
func NewScheduler(
	channels storage.ChannelStorageInterface,
	deliveries storage.DeliveryStorageInterface,
	resolver *Resolver,
	prefs *PreferenceService,
	registry *notify.Registry,
	pool *core.WorkerPool,
	policy RetryPolicy,
	logger *zap.SugaredLogger,
) *Scheduler {
	if policy.MaxAttempts <= 0 {
		policy = DefaultRetryPolicy()
	}
	return &Scheduler{
		channels:   channels,
		deliveries: deliveries,
		resolver:   resolver,
		prefs:      prefs,
		registry:   registry,
		pool:       pool,
		policy:     policy,
		logger:     logger,
	}
}

// Schedule expands a notification across the given channels and its
// resolved recipients, creating one pending delivery row and one worker
// task per (channel, recipient). Re-scheduling reuses existing rows and
// only re-enqueues the ones still pending.
func (s *Scheduler) Schedule(ctx context.Context, notification *core.Notification, channelIDs []string) error {
	recipients, err := s.resolver.Resolve(ctx, notification)
	if err != nil {
		return fmt.Errorf("failed to resolve recipients for notification %s: %w", notification.ID, err)
	}
	if len(recipients) == 0 {
		s.logger.Infof("Notification %s has no recipients, nothing to schedule", notification.ID)
		return nil
	}

	channels, err := s.channels.GetChannelsByIDs(channelIDs)
	if err != nil {
		return fmt.Errorf("failed to load channels for notification %s: %w", notification.ID, err)
	}

	for i := range channels {
		channel := &channels[i]
		if !channel.Enabled {
			metrics.DeliveriesSkipped.WithLabelValues(string(channel.Type), "channel_disabled").Inc()
			s.logger.Debugf("Skipping disabled channel %s for notification %s", channel.Name, notification.ID)
			continue
		}

		for j := range recipients {
			recipient := recipients[j]
			delivery, created, err := s.deliveries.GetOrCreateDelivery(notification.ID, channel.ID, recipient.ID)
			if err != nil {
				s.logger.Errorf("Failed to create delivery row for notification %s channel %s user %s: %v",
					notification.ID, channel.ID, recipient.ID, err)
				continue
			}
			if !created && delivery.Terminal() {
				continue
			}
			s.enqueue(delivery, channel, notification, &recipient)
		}
	}
	return nil
}

func (s *Scheduler) enqueue(delivery *core.DeliveryStatus, channel *core.NotificationChannel, notification *core.Notification, recipient *core.User) {
	task := func() {
		s.runDelivery(delivery, channel, notification, recipient)
	}
	if err := s.pool.Submit(task); err != nil {
		s.logger.Errorf("Failed to enqueue delivery %s: %v", delivery.ID, err)
		if markErr := s.deliveries.MarkFailed(delivery.ID, delivery.Attempts, fmt.Sprintf("enqueue failed: %v", err)); markErr != nil {
			s.logger.Errorf("Failed to mark delivery %s failed: %v", delivery.ID, markErr)
		}
		metrics.DeliveriesTotal.WithLabelValues(string(channel.Type), core.DeliveryFailed).Inc()
	}
}

// runDelivery executes one delivery to completion inside a single worker
// task: attempt, back off on transient errors, and leave the row
// delivered or failed. The task holds its worker for the whole retry
// cycle so a row never sits half-done in the queue.
func (s *Scheduler) runDelivery(delivery *core.DeliveryStatus, channel *core.NotificationChannel, notification *core.Notification, recipient *core.User) {
	ctx := context.Background()

	if s.prefs != nil && !prefsExempt[channel.Type] {
		allowed, reason, err := s.prefs.Allows(recipient.ID, notification.Category, channel.Type, notification.Priority)
		if err != nil {
			s.logger.Warnf("Preference check failed for user %s, delivering anyway: %v", recipient.ID, err)
		} else if !allowed {
			s.finishSkipped(delivery, channel, reason)
			return
		}
	}

	var lastErr error
	attempts := delivery.Attempts

	for attempts < s.policy.MaxAttempts {
		attempts++

		result, err := s.registry.Deliver(ctx, channel, notification, recipient)
		if err == nil {
			if result.Skipped {
				s.finishSkipped(delivery, channel, result.Detail)
				return
			}
			if markErr := s.deliveries.MarkDelivered(delivery.ID, attempts, "", time.Now().UTC()); markErr != nil {
				s.logger.Errorf("Failed to mark delivery %s delivered: %v", delivery.ID, markErr)
			}
			metrics.DeliveriesTotal.WithLabelValues(string(channel.Type), core.DeliveryDelivered).Inc()
			return
		}

		lastErr = err
		s.logger.Warnf("Delivery %s attempt %d/%d failed: %v", delivery.ID, attempts, s.policy.MaxAttempts, err)

		if IsPermanent(err) {
			s.logger.Infof("Delivery %s failed permanently, not retrying", delivery.ID)
			break
		}
		if attempts < s.policy.MaxAttempts {
			metrics.DeliveryRetries.WithLabelValues(string(channel.Type)).Inc()
			time.Sleep(s.policy.Backoff)
		}
	}

	errText := "retry budget exhausted"
	if lastErr != nil {
		errText = lastErr.Error()
	}
	if markErr := s.deliveries.MarkFailed(delivery.ID, attempts, errText); markErr != nil {
		s.logger.Errorf("Failed to mark delivery %s failed: %v", delivery.ID, markErr)
	}
	metrics.DeliveriesTotal.WithLabelValues(string(channel.Type), core.DeliveryFailed).Inc()
}

// finishSkipped records a preference skip as a successful delivery with
// an explanatory note. Skips cost no attempts.
func (s *Scheduler) finishSkipped(delivery *core.DeliveryStatus, channel *core.NotificationChannel, reason string) {
	note := "skipped: " + reason
	if err := s.deliveries.MarkDelivered(delivery.ID, delivery.Attempts, note, time.Now().UTC()); err != nil {
		s.logger.Errorf("Failed to mark delivery %s skipped: %v", delivery.ID, err)
	}
	metrics.DeliveriesSkipped.WithLabelValues(string(channel.Type), "preference").Inc()
	metrics.DeliveriesTotal.WithLabelValues(string(channel.Type), core.DeliveryDelivered).Inc()
	s.logger.Debugf("Delivery %s skipped: %s", delivery.ID, reason)
}

// RecoverPending re-enqueues deliveries left pending by a previous run.
// Called once at startup so a crash mid-delivery loses nothing.
func (s *Scheduler) RecoverPending(notifications storage.NotificationStorageInterface, users storage.UserStorageInterface, limit int) (int, error) {
	pending, err := s.deliveries.GetPendingDeliveries(limit)
	if err != nil {
		return 0, fmt.Errorf("failed to load pending deliveries: %w", err)
	}

	recovered := 0
	for i := range pending {
		delivery := pending[i]

		notification, err := notifications.GetNotification(delivery.NotificationID)
		if err != nil {
			s.logger.Warnf("Skipping recovery of delivery %s: %v", delivery.ID, err)
			continue
		}
		channel, err := s.channels.GetChannel(delivery.ChannelID)
		if err != nil {
			s.logger.Warnf("Skipping recovery of delivery %s: %v", delivery.ID, err)
			continue
		}
		if !channel.Enabled {
			metrics.DeliveriesSkipped.WithLabelValues(string(channel.Type), "channel_disabled").Inc()
			continue
		}
		recipient, err := users.GetUser(delivery.RecipientID)
		if err != nil {
			s.logger.Warnf("Skipping recovery of delivery %s: %v", delivery.ID, err)
			continue
		}

		s.enqueue(&delivery, channel, notification, recipient)
		recovered++
	}

	if recovered > 0 {
		s.logger.Infof("Re-enqueued %d pending deliveries from previous run", recovered)
	}
	return recovered, nil
}
