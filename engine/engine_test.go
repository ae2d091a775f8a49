package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"sentinel/core"
	"sentinel/notify"
	"sentinel/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// testEnv wires the engine stack over a temp SQLite database and a fast
// retry policy so delivery outcomes settle within the test.
type testEnv struct {
	users         *storage.SQLiteUserStorage
	channels      *storage.SQLiteChannelStorage
	rules         *storage.SQLiteRuleStorage
	notifications *storage.SQLiteNotificationStorage
	deliveries    *storage.SQLiteDeliveryStorage
	prefStore     *storage.SQLitePreferenceStorage
	prefs         *PreferenceService
	resolver      *Resolver
	registry      *notify.Registry
	pool          *core.WorkerPool
	scheduler     *Scheduler
	engine        *Engine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zap.NewNop().Sugar()

	db, err := storage.NewSQLite(filepath.Join(t.TempDir(), "engine_test.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	env := &testEnv{
		users:         storage.NewSQLiteUserStorage(db, logger),
		channels:      storage.NewSQLiteChannelStorage(db, logger),
		rules:         storage.NewSQLiteRuleStorage(db, logger),
		notifications: storage.NewSQLiteNotificationStorage(db, logger),
		deliveries:    storage.NewSQLiteDeliveryStorage(db, logger),
		prefStore:     storage.NewSQLitePreferenceStorage(db, logger),
	}

	env.prefs = NewPreferenceService(env.prefStore, nil, logger)
	env.resolver = NewResolver(env.users, nil, logger)

	env.registry = notify.NewRegistry(notify.RateConfig{PerSecond: 1000, Burst: 1000}, logger)
	env.registry.Register(notify.NewWebhookDispatcher(2*time.Second, logger))
	env.registry.Register(notify.NewInAppDispatcher(logger))

	env.pool = core.NewWorkerPool(context.Background(), 4, 100, "test-delivery", logger)
	require.NoError(t, env.pool.Start())
	t.Cleanup(env.pool.Stop)

	env.scheduler = NewScheduler(env.channels, env.deliveries, env.resolver, env.prefs, env.registry, env.pool,
		RetryPolicy{MaxAttempts: 2, Backoff: 10 * time.Millisecond}, logger)
	env.engine = NewEngine(env.rules, env.notifications, core.NewRenderer(logger), env.resolver, env.scheduler, logger)

	return env
}

func (env *testEnv) seedUser(t *testing.T, id, tenantID, role string, active bool) {
	t.Helper()
	require.NoError(t, env.users.CreateUser(&core.User{
		ID:       id,
		TenantID: tenantID,
		Email:    id + "@example.com",
		Role:     role,
		Active:   active,
	}))
}

func (env *testEnv) createWebhookChannel(t *testing.T, id, tenantID, url string, enabled bool) {
	t.Helper()
	config, err := json.Marshal(map[string]interface{}{"url": url})
	require.NoError(t, err)
	require.NoError(t, env.channels.CreateChannel(&core.NotificationChannel{
		ID:       id,
		TenantID: tenantID,
		Name:     "webhook " + id,
		Type:     core.ChannelWebhook,
		Enabled:  enabled,
		Config:   config,
	}))
}

// waitForTerminalDeliveries polls until the notification has count
// delivery rows, all in a terminal state, and returns them.
func (env *testEnv) waitForTerminalDeliveries(t *testing.T, notificationID string, count int) []core.DeliveryStatus {
	t.Helper()
	var deliveries []core.DeliveryStatus
	require.Eventually(t, func() bool {
		var err error
		deliveries, err = env.deliveries.GetDeliveriesForNotification(notificationID)
		if err != nil || len(deliveries) != count {
			return false
		}
		for i := range deliveries {
			if !deliveries[i].Terminal() {
				return false
			}
		}
		return true
	}, 5*time.Second, 20*time.Millisecond)
	return deliveries
}

// countingServer returns an httptest server answering status and the hit
// counter.
func countingServer(t *testing.T, status int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(status)
	}))
	t.Cleanup(server.Close)
	return server, &hits
}

func TestEngine_HandleEvent_FiresMatchingRule(t *testing.T) {
	env := newTestEnv(t)
	server, hits := countingServer(t, http.StatusOK)

	env.seedUser(t, "admin-1", "tenant-1", "admin", true)
	env.seedUser(t, "analyst-1", "tenant-1", "analyst", true)
	env.seedUser(t, "responder-1", "tenant-1", "responder", true)
	env.seedUser(t, "inactive-1", "tenant-1", "admin", false)
	env.createWebhookChannel(t, "chan-1", "tenant-1", server.URL, true)

	require.NoError(t, env.rules.CreateRule(&core.NotificationRule{
		ID:         "rule-1",
		TenantID:   "tenant-1",
		Name:       "critical alerts",
		EventType:  core.EventAlertCreated,
		Active:     true,
		Conditions: core.Conditions{"severity": "critical"},
		Template:   "Alert {{ title }} raised\nSeverity is {{ severity }}.",
		ChannelIDs: []string{"chan-1"},
	}))

	err := env.engine.HandleEvent(context.Background(), &core.Event{
		EventType: core.EventAlertCreated,
		TenantID:  "tenant-1",
		Subject: map[string]interface{}{
			"id":       "alert-9",
			"title":    "Lateral movement",
			"severity": "critical",
		},
	})
	require.NoError(t, err)

	visible, err := env.notifications.GetNotificationsForUser("tenant-1", "admin-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, visible, 1)

	notification := visible[0]
	assert.Equal(t, "Alert Lateral movement raised", notification.Title)
	assert.Equal(t, "Alert Lateral movement raised\nSeverity is critical.", notification.Message)
	assert.Equal(t, core.CategoryAlert, notification.Category)
	assert.Equal(t, core.PriorityCritical, notification.Priority)
	assert.Equal(t, "rule-1", notification.RuleID)
	assert.Equal(t, core.CategoryAlert, notification.RelatedType)
	assert.Equal(t, "alert-9", notification.RelatedID)

	// admin and analyst are on the alert allow-list; the responder and
	// the inactive admin are not.
	deliveries := env.waitForTerminalDeliveries(t, notification.ID, 2)
	for _, d := range deliveries {
		assert.Equal(t, core.DeliveryDelivered, d.Status)
		assert.NotContains(t, []string{"responder-1", "inactive-1"}, d.RecipientID)
	}
	assert.Equal(t, int32(2), hits.Load())
}

func TestEngine_HandleEvent_ConditionsRejectEvent(t *testing.T) {
	env := newTestEnv(t)
	server, hits := countingServer(t, http.StatusOK)

	env.seedUser(t, "admin-1", "tenant-1", "admin", true)
	env.createWebhookChannel(t, "chan-1", "tenant-1", server.URL, true)

	require.NoError(t, env.rules.CreateRule(&core.NotificationRule{
		ID:         "rule-1",
		TenantID:   "tenant-1",
		Name:       "critical alerts",
		EventType:  core.EventAlertCreated,
		Active:     true,
		Conditions: core.Conditions{"severity": "critical"},
		Template:   "Alert fired",
		ChannelIDs: []string{"chan-1"},
	}))

	err := env.engine.HandleEvent(context.Background(), &core.Event{
		EventType: core.EventAlertCreated,
		TenantID:  "tenant-1",
		Subject:   map[string]interface{}{"severity": "low"},
	})
	require.NoError(t, err)

	visible, err := env.notifications.GetNotificationsForUser("tenant-1", "admin-1", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, visible)
	assert.Equal(t, int32(0), hits.Load())
}

func TestEngine_HandleEvent_AssigneeJoinsRecipients(t *testing.T) {
	env := newTestEnv(t)
	server, _ := countingServer(t, http.StatusOK)

	env.seedUser(t, "admin-1", "tenant-1", "admin", true)
	env.seedUser(t, "viewer-1", "tenant-1", "viewer", true)
	env.createWebhookChannel(t, "chan-1", "tenant-1", server.URL, true)

	require.NoError(t, env.rules.CreateRule(&core.NotificationRule{
		ID:         "rule-1",
		TenantID:   "tenant-1",
		Name:       "task assignments",
		EventType:  core.EventTaskAssigned,
		Active:     true,
		Template:   "Task assigned: {{ title }}",
		ChannelIDs: []string{"chan-1"},
	}))

	err := env.engine.HandleEvent(context.Background(), &core.Event{
		EventType: core.EventTaskAssigned,
		TenantID:  "tenant-1",
		Subject: map[string]interface{}{
			"id":          "task-3",
			"title":       "Rotate credentials",
			"assignee_id": "viewer-1",
		},
	})
	require.NoError(t, err)

	// The assignee receives the notification even though the viewer role
	// is not on the task allow-list.
	visible, err := env.notifications.GetNotificationsForUser("tenant-1", "viewer-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, visible, 1)

	env.waitForTerminalDeliveries(t, visible[0].ID, 2)
}

func TestEngine_HandleEvent_NoRecipientsSkipsNotification(t *testing.T) {
	env := newTestEnv(t)
	server, hits := countingServer(t, http.StatusOK)

	// No users in the tenant at all.
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

	err := env.engine.HandleEvent(context.Background(), &core.Event{
		EventType: core.EventAlertCreated,
		TenantID:  "tenant-1",
		Subject:   map[string]interface{}{"id": "alert-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, int32(0), hits.Load())
}

func TestEngine_HandleEvent_InvalidEvent(t *testing.T) {
	env := newTestEnv(t)

	err := env.engine.HandleEvent(context.Background(), &core.Event{TenantID: "tenant-1"})
	assert.ErrorIs(t, err, core.ErrEventTypeRequired)

	err = env.engine.HandleEvent(context.Background(), &core.Event{EventType: core.EventAlertCreated})
	assert.ErrorIs(t, err, core.ErrTenantRequired)
}

func TestEngine_Notify_CompanyWideFanOut(t *testing.T) {
	env := newTestEnv(t)
	server, hits := countingServer(t, http.StatusOK)

	env.seedUser(t, "u1", "tenant-1", "admin", true)
	env.seedUser(t, "u2", "tenant-1", "viewer", true)
	env.seedUser(t, "u3", "tenant-1", "analyst", true)
	env.seedUser(t, "gone", "tenant-1", "admin", false)
	env.seedUser(t, "other", "tenant-2", "admin", true)
	env.createWebhookChannel(t, "chan-1", "tenant-1", server.URL, true)

	notification := core.NewNotification("tenant-1", "Maintenance window", "Systems go down at midnight.", core.CategorySystem, core.PriorityMedium)
	notification.CompanyWide = true

	require.NoError(t, env.engine.Notify(context.Background(), notification, []string{"chan-1"}))

	deliveries := env.waitForTerminalDeliveries(t, notification.ID, 3)
	recipients := make(map[string]bool)
	for _, d := range deliveries {
		assert.Equal(t, core.DeliveryDelivered, d.Status)
		recipients[d.RecipientID] = true
	}
	assert.Equal(t, map[string]bool{"u1": true, "u2": true, "u3": true}, recipients)
	assert.Equal(t, int32(3), hits.Load())
}

func TestEngine_Notify_RequiresChannels(t *testing.T) {
	env := newTestEnv(t)

	notification := core.NewNotification("tenant-1", "Hello", "body", core.CategoryGeneral, core.PriorityLow)
	notification.Recipients = []string{"u1"}

	err := env.engine.Notify(context.Background(), notification, nil)
	assert.ErrorIs(t, err, core.ErrNoChannels)
}

func TestEngine_HandleEvent_InactiveRuleDoesNotFire(t *testing.T) {
	env := newTestEnv(t)
	server, hits := countingServer(t, http.StatusOK)

	env.seedUser(t, "admin-1", "tenant-1", "admin", true)
	env.createWebhookChannel(t, "chan-1", "tenant-1", server.URL, true)

	rule := &core.NotificationRule{
		ID:         "rule-1",
		TenantID:   "tenant-1",
		Name:       "alerts",
		EventType:  core.EventAlertCreated,
		Active:     true,
		Template:   "Alert fired",
		ChannelIDs: []string{"chan-1"},
	}
	require.NoError(t, env.rules.CreateRule(rule))
	require.NoError(t, env.rules.DeactivateRule(rule.ID))

	err := env.engine.HandleEvent(context.Background(), &core.Event{
		EventType: core.EventAlertCreated,
		TenantID:  "tenant-1",
		Subject:   map[string]interface{}{"id": "alert-1"},
	})
	require.NoError(t, err)

	visible, err := env.notifications.GetNotificationsForUser("tenant-1", "admin-1", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, visible)
	assert.Equal(t, int32(0), hits.Load())
}

func TestEngine_HandleEvent_CustomEventMatchesByID(t *testing.T) {
	env := newTestEnv(t)
	server, _ := countingServer(t, http.StatusOK)

	env.seedUser(t, "admin-1", "tenant-1", "admin", true)
	env.createWebhookChannel(t, "chan-1", "tenant-1", server.URL, true)

	for i, customID := range []string{"deploy-done", "backup-done"} {
		require.NoError(t, env.rules.CreateRule(&core.NotificationRule{
			ID:            fmt.Sprintf("rule-%d", i+1),
			TenantID:      "tenant-1",
			Name:          customID,
			EventType:     core.EventCustom,
			Active:        true,
			Template:      "Custom: " + customID,
			CustomEventID: customID,
			ChannelIDs:    []string{"chan-1"},
		}))
	}

	err := env.engine.HandleEvent(context.Background(), &core.Event{
		EventType: core.EventCustom,
		TenantID:  "tenant-1",
		Subject:   map[string]interface{}{"custom_event_id": "deploy-done"},
	})
	require.NoError(t, err)

	visible, err := env.notifications.GetNotificationsForUser("tenant-1", "admin-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, visible, 1)
	assert.Equal(t, "Custom: deploy-done", visible[0].Title)
	env.waitForTerminalDeliveries(t, visible[0].ID, 1)
}
