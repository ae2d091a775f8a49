package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"sentinel/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWebhookDispatcher_SendsEnvelope(t *testing.T) {
	var gotBody map[string]interface{}
	var gotHeaders http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	channel := makeChannel(t, core.ChannelWebhook, map[string]interface{}{
		"url":     server.URL,
		"headers": map[string]string{"X-Api-Key": "secret", "Content-Type": "text/plain"},
	})
	notification := testNotification()
	notification.RelatedType = "alert"
	notification.RelatedID = "alert-42"

	d := NewWebhookDispatcher(5*time.Second, zap.NewNop().Sugar())
	result, err := d.Deliver(context.Background(), channel, notification, testRecipient())
	require.NoError(t, err)
	assert.False(t, result.Skipped)

	assert.Equal(t, notification.ID, gotBody["id"])
	assert.Equal(t, "Disk usage critical", gotBody["title"])
	assert.Equal(t, core.CategoryAlert, gotBody["category"])
	assert.Equal(t, core.PriorityHigh, gotBody["priority"])
	assert.Equal(t, "alert", gotBody["related_type"])
	assert.Equal(t, "alert-42", gotBody["related_id"])
	assert.NotContains(t, gotBody, "tenant_id")

	recipient, ok := gotBody["recipient"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "user-1", recipient["id"])
	assert.Equal(t, "analyst@example.com", recipient["email"])

	assert.Equal(t, "secret", gotHeaders.Get("X-Api-Key"))
	assert.Equal(t, "application/json", gotHeaders.Get("Content-Type"))
	assert.Equal(t, "Sentinel-Notify/1.0", gotHeaders.Get("User-Agent"))
}

func TestWebhookDispatcher_IncludeCompanyAddsTenant(t *testing.T) {
	var gotBody map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &gotBody))
	}))
	defer server.Close()

	channel := makeChannel(t, core.ChannelWebhook, map[string]interface{}{
		"url":             server.URL,
		"include_company": true,
	})

	d := NewWebhookDispatcher(5*time.Second, zap.NewNop().Sugar())
	_, err := d.Deliver(context.Background(), channel, testNotification(), testRecipient())
	require.NoError(t, err)

	assert.Equal(t, "tenant-1", gotBody["tenant_id"])
}

func TestWebhookDispatcher_NonSuccessStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream unavailable"))
	}))
	defer server.Close()

	channel := makeChannel(t, core.ChannelWebhook, map[string]interface{}{"url": server.URL})

	d := NewWebhookDispatcher(5*time.Second, zap.NewNop().Sugar())
	_, err := d.Deliver(context.Background(), channel, testNotification(), testRecipient())
	require.Error(t, err)

	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadGateway, statusErr.Code)
	assert.Contains(t, statusErr.Body, "upstream unavailable")
}

func TestWebhookDispatcher_BadConfig(t *testing.T) {
	channel := makeChannel(t, core.ChannelWebhook, map[string]interface{}{"url": "https://example.com/hook"})
	channel.Config = []byte(`{"url": "not-a-url"}`)

	d := NewWebhookDispatcher(5*time.Second, zap.NewNop().Sugar())
	_, err := d.Deliver(context.Background(), channel, testNotification(), testRecipient())
	assert.ErrorIs(t, err, core.ErrInvalidChannelConfig)
}
