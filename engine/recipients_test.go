package engine

import (
	"context"
	"testing"

	"sentinel/core"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestResolver_Resolve_ExplicitRecipients(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "u1", "tenant-1", "admin", true)
	env.seedUser(t, "u2", "tenant-1", "analyst", false)

	notification := core.NewNotification("tenant-1", "t", "m", core.CategoryAlert, core.PriorityLow)
	notification.Recipients = []string{"u1", "u2", "ghost"}

	users, err := env.resolver.Resolve(context.Background(), notification)
	require.NoError(t, err)

	// inactive and unknown recipients drop out
	require.Len(t, users, 1)
	assert.Equal(t, "u1", users[0].ID)
}

func TestResolver_Resolve_CompanyWide(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "u1", "tenant-1", "admin", true)
	env.seedUser(t, "u2", "tenant-1", "viewer", true)
	env.seedUser(t, "u3", "tenant-1", "admin", false)
	env.seedUser(t, "other", "tenant-2", "admin", true)

	notification := core.NewNotification("tenant-1", "t", "m", core.CategorySystem, core.PriorityLow)
	notification.CompanyWide = true

	users, err := env.resolver.Resolve(context.Background(), notification)
	require.NoError(t, err)

	ids := make(map[string]bool)
	for _, u := range users {
		ids[u.ID] = true
	}
	assert.Equal(t, map[string]bool{"u1": true, "u2": true}, ids)
}

func TestResolver_ResolveForRule_AssigneeDeduplicated(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "admin-1", "tenant-1", "admin", true)
	env.seedUser(t, "analyst-1", "tenant-1", "analyst", true)

	event := &core.Event{
		EventType: core.EventAlertCreated,
		TenantID:  "tenant-1",
		Subject:   map[string]interface{}{"assignee_id": "admin-1"},
	}

	recipients, err := env.resolver.ResolveForRule(context.Background(), event, core.CategoryAlert)
	require.NoError(t, err)

	// the assignee is already on the role allow-list; they appear once,
	// first
	require.Len(t, recipients, 2)
	assert.Equal(t, "admin-1", recipients[0])
	assert.Contains(t, recipients, "analyst-1")
}

func TestResolver_ResolveForRule_CrossTenantAssigneeExcluded(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "admin-1", "tenant-1", "admin", true)
	env.seedUser(t, "outsider", "tenant-2", "admin", true)

	event := &core.Event{
		EventType: core.EventAlertCreated,
		TenantID:  "tenant-1",
		Subject:   map[string]interface{}{"assignee_id": "outsider"},
	}

	recipients, err := env.resolver.ResolveForRule(context.Background(), event, core.CategoryAlert)
	require.NoError(t, err)
	assert.Equal(t, []string{"admin-1"}, recipients)
}

func TestResolver_ResolveForRule_UnknownCategoryFallsBack(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "admin-1", "tenant-1", "admin", true)
	env.seedUser(t, "analyst-1", "tenant-1", "analyst", true)
	env.seedUser(t, "responder-1", "tenant-1", "responder", true)

	event := &core.Event{
		EventType: core.EventCustom,
		TenantID:  "tenant-1",
		Subject:   map[string]interface{}{},
	}

	// custom/general categories use the alert allow-list
	recipients, err := env.resolver.ResolveForRule(context.Background(), event, core.CategoryCustom)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"admin-1", "analyst-1"}, recipients)
}

func TestResolver_RoleRecipientsCached(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "admin-1", "tenant-1", "admin", true)

	mr := miniredis.RunT(t)
	cache := core.NewRedisCache(mr.Addr(), "", 0, 5, zap.NewNop().Sugar())
	t.Cleanup(func() { cache.Close() })
	resolver := NewResolver(env.users, cache, zap.NewNop().Sugar())

	event := &core.Event{
		EventType: core.EventAlertCreated,
		TenantID:  "tenant-1",
		Subject:   map[string]interface{}{},
	}

	recipients, err := resolver.ResolveForRule(context.Background(), event, core.CategoryAlert)
	require.NoError(t, err)
	require.Equal(t, []string{"admin-1"}, recipients)

	// a new allow-list user is invisible until the cache entry expires
	env.seedUser(t, "admin-2", "tenant-1", "admin", true)
	recipients, err = resolver.ResolveForRule(context.Background(), event, core.CategoryAlert)
	require.NoError(t, err)
	assert.Equal(t, []string{"admin-1"}, recipients)

	mr.FastForward(recipientCacheTTL * 2)
	recipients, err = resolver.ResolveForRule(context.Background(), event, core.CategoryAlert)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"admin-1", "admin-2"}, recipients)
}
