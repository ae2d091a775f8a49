package storage

import "errors"

// Storage error constants
var (
	// ErrChannelNotFound is returned when a notification channel is not found
	ErrChannelNotFound = errors.New("notification channel not found")

	// ErrChannelNameExists is returned when a channel name is already taken
	// within the tenant
	ErrChannelNameExists = errors.New("channel with this name already exists for tenant")

	// ErrRuleNotFound is returned when a notification rule is not found
	ErrRuleNotFound = errors.New("notification rule not found")

	// ErrNotificationNotFound is returned when a notification is not found
	ErrNotificationNotFound = errors.New("notification not found")

	// ErrDeliveryNotFound is returned when a delivery status row is not found
	ErrDeliveryNotFound = errors.New("delivery status not found")

	// ErrUserNotFound is returned when a user is not found
	ErrUserNotFound = errors.New("user not found")

	// ErrPreferencesNotFound is returned when a user has no stored
	// preference row; callers fall back to defaults
	ErrPreferencesNotFound = errors.New("notification preferences not found")

	// ErrNotFound is a generic "not found" error
	ErrNotFound = errors.New("not found")

	// ErrConstraintViolation is returned when a database constraint is violated
	ErrConstraintViolation = errors.New("constraint violation")
)
