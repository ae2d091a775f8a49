package storage

import (
	"time"

	"sentinel/core"
)

// ChannelStorageInterface defines the interface for notification channel storage
type ChannelStorageInterface interface {
	CreateChannel(channel *core.NotificationChannel) error
	GetChannel(id string) (*core.NotificationChannel, error)
	GetChannelsByTenant(tenantID string) ([]core.NotificationChannel, error)
	GetChannelsByIDs(ids []string) ([]core.NotificationChannel, error)
	UpdateChannel(id string, channel *core.NotificationChannel) error
	DeleteChannel(id string) error
	EnableChannel(id string) error
	DisableChannel(id string) error
}

// RuleStorageInterface defines the interface for notification rule storage
type RuleStorageInterface interface {
	CreateRule(rule *core.NotificationRule) error
	GetRule(id string) (*core.NotificationRule, error)
	GetRulesByTenant(tenantID string) ([]core.NotificationRule, error)
	GetActiveRules(tenantID, eventType string) ([]core.NotificationRule, error)
	UpdateRule(id string, rule *core.NotificationRule) error
	DeleteRule(id string) error
	ActivateRule(id string) error
	DeactivateRule(id string) error
}

// NotificationStorageInterface defines the interface for notification storage
type NotificationStorageInterface interface {
	CreateNotification(notification *core.Notification) error
	GetNotification(id string) (*core.Notification, error)
	GetNotificationsForUser(tenantID, userID string, limit, offset int) ([]core.Notification, error)
	AddRecipient(notificationID, userID string) error
}

// DeliveryStorageInterface defines the interface for per-recipient delivery
// state. GetOrCreateDelivery must be idempotent under the
// (notification, channel, recipient) uniqueness constraint.
type DeliveryStorageInterface interface {
	GetOrCreateDelivery(notificationID, channelID, recipientID string) (*core.DeliveryStatus, bool, error)
	GetDelivery(id string) (*core.DeliveryStatus, error)
	GetDeliveriesForNotification(notificationID string) ([]core.DeliveryStatus, error)
	GetPendingDeliveries(limit int) ([]core.DeliveryStatus, error)
	MarkDelivered(id string, attempts int, note string, sentAt time.Time) error
	MarkFailed(id string, attempts int, errorMessage string) error
	MarkRead(notificationID, recipientID string, readAt time.Time) error
}

// PreferenceStorageInterface defines the interface for user notification
// preferences. GetPreferences returns ErrPreferencesNotFound for users
// without a stored row; reads never create rows.
type PreferenceStorageInterface interface {
	GetPreferences(userID string) (*core.NotificationPreferences, error)
	SavePreferences(prefs *core.NotificationPreferences) error
}

// UserStorageInterface defines the read-only view of the tenant directory
// the engine consumes for recipient resolution.
type UserStorageInterface interface {
	GetUser(id string) (*core.User, error)
	GetActiveUsersByTenant(tenantID string) ([]core.User, error)
	GetActiveUsersByRoles(tenantID string, roles []string) ([]core.User, error)
	CreateUser(user *core.User) error
}
