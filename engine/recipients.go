package engine

import (
	"context"
	"fmt"
	"time"

	"sentinel/core"
	"sentinel/metrics"
	"sentinel/storage"

	"go.uber.org/zap"
)

// categoryRoles maps an event category to the tenant roles that should be
// notified alongside the subject's assignee.
var categoryRoles = map[string][]string{
	core.CategoryAlert:    {"admin", "analyst"},
	core.CategoryIncident: {"admin", "analyst", "responder"},
	core.CategoryTask:     {"admin"},
	core.CategorySystem:   {"admin"},
}

const recipientCacheTTL = 5 * time.Minute

// Resolver expands a notification into concrete recipient users. Explicit
// recipients are taken as-is; rule-fired notifications combine the
// subject's assignee with a role allow-list for the category; company-wide
// notifications expand to all active tenant users at scheduling time.
type Resolver struct {
	users  storage.UserStorageInterface
	cache  *core.RedisCache
	logger *zap.SugaredLogger
}

// NewResolver creates a recipient resolver. The cache is optional.
func NewResolver(users storage.UserStorageInterface, cache *core.RedisCache, logger *zap.SugaredLogger) *Resolver {
	return &Resolver{users: users, cache: cache, logger: logger}
}

// Resolve returns the users a notification should reach. Company-wide
// notifications expand to every active tenant user; explicit recipient
// lists are loaded by ID, skipping unknown or inactive users.
func (r *Resolver) Resolve(ctx context.Context, notification *core.Notification) ([]core.User, error) {
	if notification.CompanyWide {
		return r.users.GetActiveUsersByTenant(notification.TenantID)
	}

	users := make([]core.User, 0, len(notification.Recipients))
	for _, userID := range notification.Recipients {
		user, err := r.users.GetUser(userID)
		if err == storage.ErrUserNotFound {
			r.logger.Warnf("Skipping unknown recipient %s for notification %s", userID, notification.ID)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load recipient %s: %w", userID, err)
		}
		if !user.Active {
			continue
		}
		users = append(users, *user)
	}
	return users, nil
}

// ResolveForRule determines recipient user IDs when a rule fires: the
// subject's assignee plus active tenant users whose role is on the
// category's allow-list, deduplicated.
func (r *Resolver) ResolveForRule(ctx context.Context, event *core.Event, category string) ([]string, error) {
	seen := make(map[string]bool)
	var recipients []string

	if assigneeID, ok := event.SubjectString("assignee_id"); ok && assigneeID != "" {
		user, err := r.users.GetUser(assigneeID)
		if err != nil && err != storage.ErrUserNotFound {
			return nil, fmt.Errorf("failed to load assignee %s: %w", assigneeID, err)
		}
		if err == nil && user.Active && user.TenantID == event.TenantID {
			seen[assigneeID] = true
			recipients = append(recipients, assigneeID)
		}
	}

	roleUsers, err := r.roleRecipients(ctx, event.TenantID, category)
	if err != nil {
		return nil, err
	}
	for _, userID := range roleUsers {
		if !seen[userID] {
			seen[userID] = true
			recipients = append(recipients, userID)
		}
	}

	return recipients, nil
}

// roleRecipients loads the role-allow-list recipients for a tenant and
// category, cached briefly in Redis since the same event burst hits the
// same list repeatedly.
func (r *Resolver) roleRecipients(ctx context.Context, tenantID, category string) ([]string, error) {
	roles := categoryRoles[category]
	if len(roles) == 0 {
		roles = categoryRoles[core.CategoryAlert]
	}

	cacheKey := core.RecipientsCacheKey(tenantID, category)
	if r.cache != nil {
		var cached []string
		found, err := r.cache.Get(ctx, cacheKey, &cached)
		if err != nil {
			r.logger.Warnf("Recipient cache read failed for %s: %v", cacheKey, err)
		} else if found {
			metrics.CacheHits.WithLabelValues("recipients").Inc()
			return cached, nil
		} else {
			metrics.CacheMisses.WithLabelValues("recipients").Inc()
		}
	}

	users, err := r.users.GetActiveUsersByRoles(tenantID, roles)
	if err != nil {
		return nil, fmt.Errorf("failed to load role recipients: %w", err)
	}

	userIDs := make([]string, 0, len(users))
	for _, user := range users {
		userIDs = append(userIDs, user.ID)
	}

	if r.cache != nil {
		if err := r.cache.Set(ctx, cacheKey, userIDs, recipientCacheTTL); err != nil {
			r.logger.Warnf("Recipient cache write failed for %s: %v", cacheKey, err)
		}
	}

	return userIDs, nil
}
