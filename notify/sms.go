package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"sentinel/core"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sns"
	"github.com/aws/aws-sdk-go/service/sns/snsiface"
	"go.uber.org/zap"
)

const smsBodyLimit = 1600

// SMSProvider sends one text message. Implementations wrap a specific
// upstream API.
type SMSProvider interface {
	Send(ctx context.Context, cfg *core.SMSConfig, to, body string) error
}

// SMSDispatcher delivers notifications as text messages through the
// provider named in the channel config. SMS is opt-in, so recipient
// preferences gate every send before a provider is touched.
type SMSDispatcher struct {
	prefs     PreferenceSource
	providers map[string]SMSProvider
	logger    *zap.SugaredLogger
}

// NewSMSDispatcher creates an SMS dispatcher with the standard provider
// set.
func NewSMSDispatcher(prefs PreferenceSource, timeout time.Duration, logger *zap.SugaredLogger) *SMSDispatcher {
	client := httpClient(timeout)
	return &SMSDispatcher{
		prefs: prefs,
		providers: map[string]SMSProvider{
			core.SMSProviderTwilio: &twilioProvider{client: client},
			core.SMSProviderNexmo:  &nexmoProvider{client: client},
			core.SMSProviderAWSSNS: &snsProvider{},
		},
		logger: logger,
	}
}

func (d *SMSDispatcher) Type() core.ChannelType {
	return core.ChannelSMS
}

// RegisterProvider replaces a provider implementation. Tests use this to
// stub out the upstream APIs.
func (d *SMSDispatcher) RegisterProvider(name string, provider SMSProvider) {
	d.providers[name] = provider
}

// Deliver sends a truncated title-plus-message text to the recipient's
// phone number.
func (d *SMSDispatcher) Deliver(ctx context.Context, channel *core.NotificationChannel, notification *core.Notification, recipient *core.User) (Result, error) {
	cfg, err := channel.SMSConfig()
	if err != nil {
		return Result{}, err
	}

	if d.prefs != nil {
		allowed, reason, err := d.prefs.Allows(recipient.ID, notification.Category, core.ChannelSMS, notification.Priority)
		if err != nil {
			d.logger.Warnf("Preference check failed for user %s, delivering anyway: %v", recipient.ID, err)
		} else if !allowed {
			return Result{Skipped: true, Detail: reason}, nil
		}
	}

	if recipient.Phone == "" {
		return Result{Skipped: true, Detail: "recipient has no phone number"}, nil
	}

	provider, ok := d.providers[cfg.Provider]
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", core.ErrUnknownSMSProvider, cfg.Provider)
	}

	body := notification.Title + "\n" + notification.Message
	if len(body) > smsBodyLimit {
		body = body[:smsBodyLimit]
	}

	if err := provider.Send(ctx, cfg, recipient.Phone, body); err != nil {
		return Result{}, fmt.Errorf("sms delivery via %s failed: %w", cfg.Provider, err)
	}

	d.logger.Infof("Sent SMS notification %s to user %s via %s", notification.ID, recipient.ID, cfg.Provider)
	return Result{}, nil
}

// twilioProvider posts to the Twilio Messages API with basic auth.
type twilioProvider struct {
	client *http.Client
}

func (p *twilioProvider) Send(ctx context.Context, cfg *core.SMSConfig, to, body string) error {
	endpoint := fmt.Sprintf("https://api.twilio.com/2010-04-01/Accounts/%s/Messages.json", cfg.AccountSID)

	form := url.Values{}
	form.Set("To", to)
	form.Set("From", cfg.FromNumber)
	form.Set("Body", body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create twilio request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(cfg.AccountSID, cfg.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send twilio request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &HTTPStatusError{Code: resp.StatusCode}
	}
	return nil
}

// nexmoProvider posts to the Vonage (Nexmo) SMS API.
type nexmoProvider struct {
	client *http.Client
}

func (p *nexmoProvider) Send(ctx context.Context, cfg *core.SMSConfig, to, body string) error {
	payload := map[string]interface{}{
		"api_key":    cfg.APIKey,
		"api_secret": cfg.APISecret,
		"from":       cfg.FromNumber,
		"to":         to,
		"text":       body,
	}
	return postJSON(ctx, p.client, "https://rest.nexmo.com/sms/json", payload)
}

// snsProvider publishes through AWS SNS. The client is built lazily per
// config and stubbed in tests via the snsiface interface.
type snsProvider struct {
	// override lets tests inject a fake SNS API.
	override snsiface.SNSAPI
}

func (p *snsProvider) Send(ctx context.Context, cfg *core.SMSConfig, to, body string) error {
	api := p.override
	if api == nil {
		sess, err := session.NewSession(&aws.Config{
			Region:      aws.String(cfg.Region),
			Credentials: credentials.NewStaticCredentials(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		})
		if err != nil {
			return fmt.Errorf("failed to create AWS session: %w", err)
		}
		api = sns.New(sess)
	}

	_, err := api.PublishWithContext(ctx, &sns.PublishInput{
		PhoneNumber: aws.String(to),
		Message:     aws.String(body),
	})
	if err != nil {
		return fmt.Errorf("failed to publish to SNS: %w", err)
	}
	return nil
}
