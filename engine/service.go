package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sentinel/core"
	"sentinel/notify"
	"sentinel/storage"

	"go.uber.org/zap"
)

// PermissionChecker is the authorization collaborator. The service asks
// it before any mutating channel or rule operation; everything else about
// identity and role management lives outside this module.
type PermissionChecker interface {
	HasPermission(ctx context.Context, userID, tenantID, permission string) (bool, error)
}

// PermManageNotifications guards channel and rule mutations.
const PermManageNotifications = "manage_notifications"

// ErrPermissionDenied is returned when the authorization collaborator
// rejects an operation.
var ErrPermissionDenied = errors.New("permission denied")

// ErrNotificationAccess is returned when a user asks for a notification
// that is neither addressed to them nor company-wide for their tenant.
var ErrNotificationAccess = errors.New("notification not accessible to user")

// Service is the operation surface of the dispatch engine: channel and
// rule management, notification reads, read receipts, preference access
// and the channel test hook. Callers are identified by an already
// authenticated user.
type Service struct {
	channels      storage.ChannelStorageInterface
	rules         storage.RuleStorageInterface
	notifications storage.NotificationStorageInterface
	deliveries    storage.DeliveryStorageInterface
	users         storage.UserStorageInterface
	prefs         *PreferenceService
	registry      *notify.Registry
	perms         PermissionChecker
	cache         *core.RedisCache
	logger        *zap.SugaredLogger
}

// NewService creates the engine service facade.
func NewService(
	channels storage.ChannelStorageInterface,
	rules storage.RuleStorageInterface,
	notifications storage.NotificationStorageInterface,
	deliveries storage.DeliveryStorageInterface,
	users storage.UserStorageInterface,
	prefs *PreferenceService,
	registry *notify.Registry,
	perms PermissionChecker,
	cache *core.RedisCache,
	logger *zap.SugaredLogger,
) *Service {
	return &Service{
		channels:      channels,
		rules:         rules,
		notifications: notifications,
		deliveries:    deliveries,
		users:         users,
		prefs:         prefs,
		registry:      registry,
		perms:         perms,
		cache:         cache,
		logger:        logger,
	}
}

func (s *Service) requireManage(ctx context.Context, userID, tenantID string) error {
	if s.perms == nil {
		return nil
	}
	allowed, err := s.perms.HasPermission(ctx, userID, tenantID, PermManageNotifications)
	if err != nil {
		return fmt.Errorf("permission check failed: %w", err)
	}
	if !allowed {
		return ErrPermissionDenied
	}
	return nil
}

// CreateChannel validates the channel config against its type schema and
// stores it.
func (s *Service) CreateChannel(ctx context.Context, userID string, channel *core.NotificationChannel) error {
	if err := s.requireManage(ctx, userID, channel.TenantID); err != nil {
		return err
	}
	if _, err := core.ValidateChannelConfig(channel.Type, channel.Config); err != nil {
		return err
	}
	return s.channels.CreateChannel(channel)
}

// GetChannel retrieves a channel scoped to the caller's tenant.
func (s *Service) GetChannel(ctx context.Context, tenantID, channelID string) (*core.NotificationChannel, error) {
	channel, err := s.channels.GetChannel(channelID)
	if err != nil {
		return nil, err
	}
	if channel.TenantID != tenantID {
		return nil, storage.ErrChannelNotFound
	}
	return channel, nil
}

// ListChannels lists a tenant's channels.
func (s *Service) ListChannels(ctx context.Context, tenantID string) ([]core.NotificationChannel, error) {
	return s.channels.GetChannelsByTenant(tenantID)
}

// UpdateChannel revalidates the config and saves the channel.
func (s *Service) UpdateChannel(ctx context.Context, userID string, channel *core.NotificationChannel) error {
	if err := s.requireManage(ctx, userID, channel.TenantID); err != nil {
		return err
	}
	if _, err := core.ValidateChannelConfig(channel.Type, channel.Config); err != nil {
		return err
	}
	if err := s.channels.UpdateChannel(channel.ID, channel); err != nil {
		return err
	}
	s.invalidateChannel(ctx, channel.ID)
	return nil
}

// DeleteChannel removes a channel.
func (s *Service) DeleteChannel(ctx context.Context, userID, tenantID, channelID string) error {
	if err := s.requireManage(ctx, userID, tenantID); err != nil {
		return err
	}
	if _, err := s.GetChannel(ctx, tenantID, channelID); err != nil {
		return err
	}
	if err := s.channels.DeleteChannel(channelID); err != nil {
		return err
	}
	s.invalidateChannel(ctx, channelID)
	return nil
}

// SetChannelEnabled flips a channel on or off. Disabling affects future
// scheduling only; already-enqueued deliveries run to completion.
func (s *Service) SetChannelEnabled(ctx context.Context, userID, tenantID, channelID string, enabled bool) error {
	if err := s.requireManage(ctx, userID, tenantID); err != nil {
		return err
	}
	if _, err := s.GetChannel(ctx, tenantID, channelID); err != nil {
		return err
	}
	var err error
	if enabled {
		err = s.channels.EnableChannel(channelID)
	} else {
		err = s.channels.DisableChannel(channelID)
	}
	if err != nil {
		return err
	}
	s.invalidateChannel(ctx, channelID)
	return nil
}

func (s *Service) invalidateChannel(ctx context.Context, channelID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, core.ChannelCacheKey(channelID)); err != nil {
		s.logger.Warnf("Channel cache invalidation failed for %s: %v", channelID, err)
	}
}

// CreateRule validates and stores a rule, checking that every referenced
// channel exists in the tenant.
func (s *Service) CreateRule(ctx context.Context, userID string, rule *core.NotificationRule) error {
	if err := s.requireManage(ctx, userID, rule.TenantID); err != nil {
		return err
	}
	if err := rule.Validate(); err != nil {
		return err
	}
	for _, channelID := range rule.ChannelIDs {
		if _, err := s.GetChannel(ctx, rule.TenantID, channelID); err != nil {
			return fmt.Errorf("rule references unknown channel %s: %w", channelID, err)
		}
	}
	return s.rules.CreateRule(rule)
}

// GetRule retrieves a rule scoped to the caller's tenant.
func (s *Service) GetRule(ctx context.Context, tenantID, ruleID string) (*core.NotificationRule, error) {
	rule, err := s.rules.GetRule(ruleID)
	if err != nil {
		return nil, err
	}
	if rule.TenantID != tenantID {
		return nil, storage.ErrRuleNotFound
	}
	return rule, nil
}

// ListRules lists a tenant's rules.
func (s *Service) ListRules(ctx context.Context, tenantID string) ([]core.NotificationRule, error) {
	return s.rules.GetRulesByTenant(tenantID)
}

// UpdateRule validates and saves a rule.
func (s *Service) UpdateRule(ctx context.Context, userID string, rule *core.NotificationRule) error {
	if err := s.requireManage(ctx, userID, rule.TenantID); err != nil {
		return err
	}
	if err := rule.Validate(); err != nil {
		return err
	}
	for _, channelID := range rule.ChannelIDs {
		if _, err := s.GetChannel(ctx, rule.TenantID, channelID); err != nil {
			return fmt.Errorf("rule references unknown channel %s: %w", channelID, err)
		}
	}
	return s.rules.UpdateRule(rule.ID, rule)
}

// DeleteRule removes a rule. Notifications it fired keep existing with
// the rule reference cleared.
func (s *Service) DeleteRule(ctx context.Context, userID, tenantID, ruleID string) error {
	if err := s.requireManage(ctx, userID, tenantID); err != nil {
		return err
	}
	if _, err := s.GetRule(ctx, tenantID, ruleID); err != nil {
		return err
	}
	return s.rules.DeleteRule(ruleID)
}

// SetRuleActive flips a rule on or off. Deactivation blocks future
// events only, never already-scheduled deliveries.
func (s *Service) SetRuleActive(ctx context.Context, userID, tenantID, ruleID string, active bool) error {
	if err := s.requireManage(ctx, userID, tenantID); err != nil {
		return err
	}
	if _, err := s.GetRule(ctx, tenantID, ruleID); err != nil {
		return err
	}
	if active {
		return s.rules.ActivateRule(ruleID)
	}
	return s.rules.DeactivateRule(ruleID)
}

// GetNotification returns a notification if the caller is a recipient or
// it is company-wide for the caller's tenant.
func (s *Service) GetNotification(ctx context.Context, userID, tenantID, notificationID string) (*core.Notification, error) {
	notification, err := s.notifications.GetNotification(notificationID)
	if err != nil {
		return nil, err
	}
	if notification.TenantID != tenantID {
		return nil, storage.ErrNotificationNotFound
	}
	if notification.CompanyWide {
		return notification, nil
	}
	for _, recipientID := range notification.Recipients {
		if recipientID == userID {
			return notification, nil
		}
	}
	return nil, ErrNotificationAccess
}

// ListNotifications pages through the notifications visible to a user:
// those addressed to them plus their tenant's company-wide ones.
func (s *Service) ListNotifications(ctx context.Context, userID, tenantID string, limit, offset int) ([]core.Notification, error) {
	return s.notifications.GetNotificationsForUser(tenantID, userID, limit, offset)
}

// MarkRead records a read receipt on every delivery row for the
// notification and user. Delivery status is untouched.
func (s *Service) MarkRead(ctx context.Context, userID, tenantID, notificationID string) error {
	if _, err := s.GetNotification(ctx, userID, tenantID, notificationID); err != nil {
		return err
	}
	return s.deliveries.MarkRead(notificationID, userID, time.Now().UTC())
}

// GetPreferences returns the caller's preferences, defaults included.
func (s *Service) GetPreferences(ctx context.Context, userID string) (*core.NotificationPreferences, error) {
	return s.prefs.Get(ctx, userID)
}

// UpdatePreferences saves the caller's preferences.
func (s *Service) UpdatePreferences(ctx context.Context, userID string, prefs *core.NotificationPreferences) error {
	prefs.UserID = userID
	return s.prefs.Update(ctx, prefs)
}

// TestChannel sends one test message through a channel using the normal
// dispatcher path, delivered to the caller.
func (s *Service) TestChannel(ctx context.Context, userID, tenantID, channelID, message string) error {
	if err := s.requireManage(ctx, userID, tenantID); err != nil {
		return err
	}
	channel, err := s.GetChannel(ctx, tenantID, channelID)
	if err != nil {
		return err
	}
	recipient, err := s.users.GetUser(userID)
	if err != nil {
		return err
	}

	if message == "" {
		message = fmt.Sprintf("Test message for channel %q.", channel.Name)
	}
	notification := core.NewNotification(tenantID, "Test notification", message, core.CategorySystem, core.PriorityLow)
	notification.Recipients = []string{userID}

	result, err := s.registry.Deliver(ctx, channel, notification, recipient)
	if err != nil {
		return fmt.Errorf("test delivery failed: %w", err)
	}
	if result.Skipped {
		s.logger.Infof("Test delivery on channel %s skipped: %s", channel.Name, result.Detail)
	}
	return nil
}
