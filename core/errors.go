package core

import "errors"

// Domain validation errors
var (
	// ErrEventTypeRequired is returned when an event has no event type
	ErrEventTypeRequired = errors.New("event type is required")

	// ErrTenantRequired is returned when a tenant-scoped object has no tenant
	ErrTenantRequired = errors.New("tenant ID is required")

	// ErrIDRequired is returned when an object has no ID
	ErrIDRequired = errors.New("ID is required")

	// ErrTitleRequired is returned when a notification has no title
	ErrTitleRequired = errors.New("title is required")

	// ErrNameRequired is returned when a named object has no name
	ErrNameRequired = errors.New("name is required")

	// ErrRecipientsExclusive is returned when a notification sets neither or
	// both of explicit recipients and the company-wide flag
	ErrRecipientsExclusive = errors.New("exactly one of recipients or company-wide must be set")

	// ErrNoChannels is returned when a rule declares no delivery channels
	ErrNoChannels = errors.New("rule must reference at least one channel")

	// ErrCustomEventIDRequired is returned when a custom-event rule has no
	// custom event ID
	ErrCustomEventIDRequired = errors.New("custom event rules require a custom event ID")

	// ErrUnknownChannelType is returned for channel types outside the
	// supported set
	ErrUnknownChannelType = errors.New("unknown channel type")

	// ErrInvalidChannelConfig is returned when a channel configuration fails
	// schema validation
	ErrInvalidChannelConfig = errors.New("invalid channel configuration")

	// ErrUnknownSMSProvider is returned for SMS providers outside the
	// supported set
	ErrUnknownSMSProvider = errors.New("unknown SMS provider")
)
