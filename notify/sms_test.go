package notify

import (
	"context"
	"strings"
	"testing"
	"time"

	"sentinel/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// recordingSMSProvider captures the last send without hitting an upstream
// API.
type recordingSMSProvider struct {
	to   string
	body string
	err  error
}

func (p *recordingSMSProvider) Send(ctx context.Context, cfg *core.SMSConfig, to, body string) error {
	p.to = to
	p.body = body
	return p.err
}

func twilioChannel(t *testing.T) *core.NotificationChannel {
	t.Helper()
	return makeChannel(t, core.ChannelSMS, map[string]interface{}{
		"provider":    "twilio",
		"api_key":     "key",
		"account_sid": "AC123",
		"from_number": "+15550000000",
	})
}

func TestSMSDispatcher_SendsThroughProvider(t *testing.T) {
	provider := &recordingSMSProvider{}
	d := NewSMSDispatcher(&stubPrefs{allowed: true}, 5*time.Second, zap.NewNop().Sugar())
	d.RegisterProvider(core.SMSProviderTwilio, provider)

	result, err := d.Deliver(context.Background(), twilioChannel(t), testNotification(), testRecipient())
	require.NoError(t, err)
	assert.False(t, result.Skipped)

	assert.Equal(t, "+15551234567", provider.to)
	assert.Contains(t, provider.body, "Disk usage critical")
	assert.Contains(t, provider.body, "Host db-1 is at 97% disk usage.")
}

func TestSMSDispatcher_TruncatesLongBody(t *testing.T) {
	provider := &recordingSMSProvider{}
	d := NewSMSDispatcher(&stubPrefs{allowed: true}, 5*time.Second, zap.NewNop().Sugar())
	d.RegisterProvider(core.SMSProviderTwilio, provider)

	notification := testNotification()
	notification.Message = strings.Repeat("a", smsBodyLimit*2)

	_, err := d.Deliver(context.Background(), twilioChannel(t), notification, testRecipient())
	require.NoError(t, err)
	assert.Len(t, provider.body, smsBodyLimit)
}

func TestSMSDispatcher_SkipsOptedOutRecipient(t *testing.T) {
	provider := &recordingSMSProvider{}
	d := NewSMSDispatcher(&stubPrefs{allowed: false, reason: "sms notifications disabled"}, 5*time.Second, zap.NewNop().Sugar())
	d.RegisterProvider(core.SMSProviderTwilio, provider)

	result, err := d.Deliver(context.Background(), twilioChannel(t), testNotification(), testRecipient())
	require.NoError(t, err)

	assert.True(t, result.Skipped)
	assert.Equal(t, "sms notifications disabled", result.Detail)
	assert.Empty(t, provider.to)
}

func TestSMSDispatcher_SkipsRecipientWithoutPhone(t *testing.T) {
	provider := &recordingSMSProvider{}
	d := NewSMSDispatcher(&stubPrefs{allowed: true}, 5*time.Second, zap.NewNop().Sugar())
	d.RegisterProvider(core.SMSProviderTwilio, provider)

	recipient := testRecipient()
	recipient.Phone = ""

	result, err := d.Deliver(context.Background(), twilioChannel(t), testNotification(), recipient)
	require.NoError(t, err)

	assert.True(t, result.Skipped)
	assert.Contains(t, result.Detail, "no phone number")
	assert.Empty(t, provider.to)
}

func TestSMSDispatcher_PreferenceErrorDeliversAnyway(t *testing.T) {
	provider := &recordingSMSProvider{}
	d := NewSMSDispatcher(&stubPrefs{err: assert.AnError}, 5*time.Second, zap.NewNop().Sugar())
	d.RegisterProvider(core.SMSProviderTwilio, provider)

	result, err := d.Deliver(context.Background(), twilioChannel(t), testNotification(), testRecipient())
	require.NoError(t, err)
	assert.False(t, result.Skipped)
	assert.Equal(t, "+15551234567", provider.to)
}

func TestSMSDispatcher_ProviderErrorPropagates(t *testing.T) {
	provider := &recordingSMSProvider{err: &HTTPStatusError{Code: 401}}
	d := NewSMSDispatcher(&stubPrefs{allowed: true}, 5*time.Second, zap.NewNop().Sugar())
	d.RegisterProvider(core.SMSProviderTwilio, provider)

	_, err := d.Deliver(context.Background(), twilioChannel(t), testNotification(), testRecipient())
	require.Error(t, err)

	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, 401, statusErr.Code)
}
