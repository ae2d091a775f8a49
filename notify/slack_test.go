package notify

import (
	"context"
	"testing"
	"time"

	"sentinel/core"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestSlackDispatcher_RejectsNonSlackWebhookURL(t *testing.T) {
	channel := makeChannel(t, core.ChannelSlack, map[string]interface{}{"webhook_url": "https://example.com/hook"})

	d := NewSlackDispatcher(5*time.Second, zap.NewNop().Sugar())
	_, err := d.Deliver(context.Background(), channel, testNotification(), testRecipient())
	assert.ErrorIs(t, err, core.ErrInvalidChannelConfig)
}

func TestPriorityColors(t *testing.T) {
	assert.Equal(t, "#d32f2f", priorityColor[core.PriorityCritical])
	assert.Equal(t, "#f44336", priorityColor[core.PriorityHigh])
	assert.Equal(t, "#ff9800", priorityColor[core.PriorityMedium])
	assert.Equal(t, "#2196f3", priorityColor[core.PriorityLow])
	assert.Empty(t, priorityColor["unknown"])
}
