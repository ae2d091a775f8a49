package engine

import (
	"context"
	"net/http"
	"testing"
	"time"

	"sentinel/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestEventBus_PublishReturnsBeforeDelivery(t *testing.T) {
	env := newTestEnv(t)
	logger := zap.NewNop().Sugar()

	server, hits := countingServer(t, http.StatusOK)
	env.seedUser(t, "admin-1", "tenant-1", "admin", true)
	env.createWebhookChannel(t, "chan-1", "tenant-1", server.URL, true)
	require.NoError(t, env.rules.CreateRule(&core.NotificationRule{
		ID:         "rule-1",
		TenantID:   "tenant-1",
		Name:       "alerts",
		EventType:  core.EventAlertCreated,
		Active:     true,
		Template:   "Alert fired",
		ChannelIDs: []string{"chan-1"},
	}))

	eventPool := core.NewWorkerPool(context.Background(), 2, 10, "test-event", logger)
	require.NoError(t, eventPool.Start())
	t.Cleanup(eventPool.Stop)

	bus := NewEventBus(env.engine, eventPool, logger)
	require.NoError(t, bus.Publish(&core.Event{
		EventType: core.EventAlertCreated,
		TenantID:  "tenant-1",
		Subject:   map[string]interface{}{"id": "alert-1"},
	}))

	require.Eventually(t, func() bool {
		return hits.Load() == 1
	}, 5*time.Second, 20*time.Millisecond)
}

func TestEventBus_PublishRejectsInvalidEvent(t *testing.T) {
	env := newTestEnv(t)
	logger := zap.NewNop().Sugar()

	eventPool := core.NewWorkerPool(context.Background(), 1, 1, "test-event", logger)
	require.NoError(t, eventPool.Start())
	t.Cleanup(eventPool.Stop)

	bus := NewEventBus(env.engine, eventPool, logger)
	err := bus.Publish(&core.Event{TenantID: "tenant-1"})
	assert.ErrorIs(t, err, core.ErrEventTypeRequired)
}

func TestEventBus_PublishFailsWhenPoolUnavailable(t *testing.T) {
	env := newTestEnv(t)
	logger := zap.NewNop().Sugar()

	// pool never started: submissions are rejected
	eventPool := core.NewWorkerPool(context.Background(), 1, 1, "test-event", logger)

	bus := NewEventBus(env.engine, eventPool, logger)
	err := bus.Publish(&core.Event{
		EventType: core.EventAlertCreated,
		TenantID:  "tenant-1",
	})
	assert.ErrorIs(t, err, core.ErrWorkerPoolNotRunning)
}
