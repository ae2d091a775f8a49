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

const preferenceCacheTTL = 10 * time.Minute

// PreferenceService reads and writes per-user notification preferences.
// Users without a stored row get defaults; reading never creates a row,
// so a user who never customizes anything never occupies storage.
type PreferenceService struct {
	store  storage.PreferenceStorageInterface
	cache  *core.RedisCache
	logger *zap.SugaredLogger
}

// NewPreferenceService creates a preference service. The cache is
// optional.
func NewPreferenceService(store storage.PreferenceStorageInterface, cache *core.RedisCache, logger *zap.SugaredLogger) *PreferenceService {
	return &PreferenceService{store: store, cache: cache, logger: logger}
}

// Get returns the user's preferences, falling back to defaults when none
// are stored.
func (ps *PreferenceService) Get(ctx context.Context, userID string) (*core.NotificationPreferences, error) {
	cacheKey := core.PreferencesCacheKey(userID)
	if ps.cache != nil {
		var cached core.NotificationPreferences
		found, err := ps.cache.Get(ctx, cacheKey, &cached)
		if err != nil {
			ps.logger.Warnf("Preference cache read failed for user %s: %v", userID, err)
		} else if found {
			metrics.CacheHits.WithLabelValues("preferences").Inc()
			return &cached, nil
		} else {
			metrics.CacheMisses.WithLabelValues("preferences").Inc()
		}
	}

	prefs, err := ps.store.GetPreferences(userID)
	if err == storage.ErrPreferencesNotFound {
		prefs = core.DefaultPreferences(userID)
	} else if err != nil {
		return nil, fmt.Errorf("failed to load preferences for user %s: %w", userID, err)
	}

	if ps.cache != nil {
		if err := ps.cache.Set(ctx, cacheKey, prefs, preferenceCacheTTL); err != nil {
			ps.logger.Warnf("Preference cache write failed for user %s: %v", userID, err)
		}
	}
	return prefs, nil
}

// Update persists the user's preferences and invalidates the cache entry.
func (ps *PreferenceService) Update(ctx context.Context, prefs *core.NotificationPreferences) error {
	if err := ps.store.SavePreferences(prefs); err != nil {
		return err
	}
	if ps.cache != nil {
		if err := ps.cache.Delete(ctx, core.PreferencesCacheKey(prefs.UserID)); err != nil {
			ps.logger.Warnf("Preference cache invalidation failed for user %s: %v", prefs.UserID, err)
		}
	}
	return nil
}

// Allows reports whether a delivery to the user passes their preferences,
// with a human-readable reason on rejection. Implements the dispatcher
// preference contract.
func (ps *PreferenceService) Allows(userID, category string, channelType core.ChannelType, priority string) (bool, string, error) {
	prefs, err := ps.Get(context.Background(), userID)
	if err != nil {
		return false, "", err
	}
	allowed, reason := prefs.Allows(category, channelType, priority)
	return allowed, reason, nil
}
