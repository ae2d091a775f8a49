package core

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// ChannelType identifies a delivery mechanism.
type ChannelType string

const (
	ChannelEmail      ChannelType = "email"
	ChannelSlack      ChannelType = "slack"
	ChannelMattermost ChannelType = "mattermost"
	ChannelWebhook    ChannelType = "webhook"
	ChannelSMS        ChannelType = "sms"
	ChannelInApp      ChannelType = "in_app"
)

// ChannelTypes lists every supported channel type.
var ChannelTypes = []ChannelType{
	ChannelEmail, ChannelSlack, ChannelMattermost,
	ChannelWebhook, ChannelSMS, ChannelInApp,
}

// Valid reports whether the channel type is one of the supported set.
func (t ChannelType) Valid() bool {
	for _, ct := range ChannelTypes {
		if t == ct {
			return true
		}
	}
	return false
}

// NotificationChannel is a tenant-scoped delivery target. Config holds the
// per-type configuration blob, validated at create/update so dispatchers
// never see a malformed one. Disabling a channel skips future dispatch
// without deleting delivery history.
type NotificationChannel struct {
	ID        string          `json:"id"`
	TenantID  string          `json:"tenant_id"`
	Name      string          `json:"name"` // unique per tenant
	Type      ChannelType     `json:"channel_type"`
	Enabled   bool            `json:"enabled"`
	Config    json.RawMessage `json:"config"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// EmailConfig carries SMTP settings for the email channel.
type EmailConfig struct {
	SMTPHost     string `json:"smtp_host" validate:"required"`
	SMTPPort     int    `json:"smtp_port" validate:"required,min=1,max=65535"`
	SMTPUsername string `json:"smtp_username" validate:"required"`
	SMTPPassword string `json:"smtp_password" validate:"required"`
	FromEmail    string `json:"from_email" validate:"required,email"`
}

// SlackConfig carries an incoming-webhook target for Slack.
type SlackConfig struct {
	WebhookURL string `json:"webhook_url" validate:"required,url"`
	Username   string `json:"username,omitempty"`
	IconEmoji  string `json:"icon_emoji,omitempty"`
}

// MattermostConfig carries an incoming-webhook target for Mattermost.
type MattermostConfig struct {
	WebhookURL     string `json:"webhook_url" validate:"required,url"`
	Username       string `json:"username,omitempty"`
	Channel        string `json:"channel,omitempty"`
	IconURL        string `json:"icon_url,omitempty" validate:"omitempty,url"`
	IncludeActions bool   `json:"include_actions,omitempty"`
	AppBaseURL     string `json:"app_base_url,omitempty" validate:"omitempty,url"`
}

// WebhookConfig carries a generic webhook target.
type WebhookConfig struct {
	URL            string            `json:"url" validate:"required,url"`
	Headers        map[string]string `json:"headers,omitempty"`
	IncludeCompany bool              `json:"include_company,omitempty"`
}

// SMS provider names.
const (
	SMSProviderTwilio = "twilio"
	SMSProviderNexmo  = "nexmo"
	SMSProviderAWSSNS = "aws_sns"
)

// SMSConfig carries provider-specific SMS settings. Required provider
// fields are validated at channel creation time, not send time.
type SMSConfig struct {
	Provider string `json:"provider" validate:"required,oneof=twilio nexmo aws_sns"`
	APIKey   string `json:"api_key" validate:"required"`

	// twilio
	AccountSID string `json:"account_sid,omitempty"`
	FromNumber string `json:"from_number,omitempty"`

	// nexmo
	APISecret string `json:"api_secret,omitempty"`

	// aws_sns
	Region          string `json:"region,omitempty"`
	AccessKeyID     string `json:"access_key_id,omitempty"`
	SecretAccessKey string `json:"secret_access_key,omitempty"`
}

// InAppConfig has no settings; in-app delivery is persistence.
type InAppConfig struct{}

var channelValidate = validator.New()

// ValidateChannelConfig parses and validates a raw config blob against the
// schema for the given channel type. It returns the typed config so callers
// can use the parsed form directly.
func ValidateChannelConfig(channelType ChannelType, raw json.RawMessage) (interface{}, error) {
	switch channelType {
	case ChannelEmail:
		var cfg EmailConfig
		return validateConfigInto(raw, &cfg, func() error { return nil })
	case ChannelSlack:
		var cfg SlackConfig
		return validateConfigInto(raw, &cfg, func() error {
			if !strings.HasPrefix(cfg.WebhookURL, "https://hooks.slack.com/") {
				return fmt.Errorf("%w: webhook_url must start with https://hooks.slack.com/", ErrInvalidChannelConfig)
			}
			return nil
		})
	case ChannelMattermost:
		var cfg MattermostConfig
		return validateConfigInto(raw, &cfg, func() error {
			return requireHTTPScheme("webhook_url", cfg.WebhookURL)
		})
	case ChannelWebhook:
		var cfg WebhookConfig
		return validateConfigInto(raw, &cfg, func() error {
			return requireHTTPScheme("url", cfg.URL)
		})
	case ChannelSMS:
		var cfg SMSConfig
		return validateConfigInto(raw, &cfg, func() error { return cfg.validateProviderFields() })
	case ChannelInApp:
		return &InAppConfig{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownChannelType, channelType)
	}
}

// validateConfigInto unmarshals, runs struct tags, then the per-type check.
func validateConfigInto(raw json.RawMessage, cfg interface{}, extra func() error) (interface{}, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: config is required", ErrInvalidChannelConfig)
	}
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidChannelConfig, err)
	}
	if err := channelValidate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidChannelConfig, err)
	}
	if err := extra(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func requireHTTPScheme(field, rawURL string) error {
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		return fmt.Errorf("%w: %s must use http or https", ErrInvalidChannelConfig, field)
	}
	return nil
}

// validateProviderFields checks the fields each SMS provider requires.
func (c *SMSConfig) validateProviderFields() error {
	switch c.Provider {
	case SMSProviderTwilio:
		if c.AccountSID == "" || c.FromNumber == "" {
			return fmt.Errorf("%w: twilio requires account_sid and from_number", ErrInvalidChannelConfig)
		}
	case SMSProviderNexmo:
		if c.APISecret == "" || c.FromNumber == "" {
			return fmt.Errorf("%w: nexmo requires api_secret and from_number", ErrInvalidChannelConfig)
		}
	case SMSProviderAWSSNS:
		if c.Region == "" || c.AccessKeyID == "" || c.SecretAccessKey == "" {
			return fmt.Errorf("%w: aws_sns requires region, access_key_id and secret_access_key", ErrInvalidChannelConfig)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownSMSProvider, c.Provider)
	}
	return nil
}

// Validate enforces the channel invariants, including config schema.
func (c *NotificationChannel) Validate() error {
	if c.ID == "" {
		return ErrIDRequired
	}
	if c.TenantID == "" {
		return ErrTenantRequired
	}
	if c.Name == "" {
		return ErrNameRequired
	}
	if !c.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownChannelType, c.Type)
	}
	_, err := ValidateChannelConfig(c.Type, c.Config)
	return err
}

// Typed config accessors. Each returns the parsed config or an error when
// the stored blob does not satisfy the schema (which validation at
// create/update should have prevented).

func (c *NotificationChannel) EmailConfig() (*EmailConfig, error) {
	cfg, err := ValidateChannelConfig(ChannelEmail, c.Config)
	if err != nil {
		return nil, err
	}
	return cfg.(*EmailConfig), nil
}

func (c *NotificationChannel) SlackConfig() (*SlackConfig, error) {
	cfg, err := ValidateChannelConfig(ChannelSlack, c.Config)
	if err != nil {
		return nil, err
	}
	return cfg.(*SlackConfig), nil
}

func (c *NotificationChannel) MattermostConfig() (*MattermostConfig, error) {
	cfg, err := ValidateChannelConfig(ChannelMattermost, c.Config)
	if err != nil {
		return nil, err
	}
	return cfg.(*MattermostConfig), nil
}

func (c *NotificationChannel) WebhookConfig() (*WebhookConfig, error) {
	cfg, err := ValidateChannelConfig(ChannelWebhook, c.Config)
	if err != nil {
		return nil, err
	}
	return cfg.(*WebhookConfig), nil
}

func (c *NotificationChannel) SMSConfig() (*SMSConfig, error) {
	cfg, err := ValidateChannelConfig(ChannelSMS, c.Config)
	if err != nil {
		return nil, err
	}
	return cfg.(*SMSConfig), nil
}
