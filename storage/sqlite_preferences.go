package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"sentinel/core"

	"go.uber.org/zap"
)

// SQLitePreferenceStorage persists per-user notification preferences as a
// single JSON document per user. Absence of a row means the user never
// customized anything and defaults apply; reads never create rows.
type SQLitePreferenceStorage struct {
	db     *SQLite
	logger *zap.SugaredLogger
}

// NewSQLitePreferenceStorage creates a new SQLite preference storage handler
func NewSQLitePreferenceStorage(db *SQLite, logger *zap.SugaredLogger) *SQLitePreferenceStorage {
	return &SQLitePreferenceStorage{db: db, logger: logger}
}

// GetPreferences returns the stored preferences for a user, or
// ErrPreferencesNotFound when the user has never saved any.
func (sps *SQLitePreferenceStorage) GetPreferences(userID string) (*core.NotificationPreferences, error) {
	var prefsJSON string
	var updatedAt string

	err := sps.db.ReadDB.QueryRow(
		"SELECT prefs, updated_at FROM notification_preferences WHERE user_id = ?", userID).
		Scan(&prefsJSON, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrPreferencesNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get preferences: %w", err)
	}

	var prefs core.NotificationPreferences
	if err := json.Unmarshal([]byte(prefsJSON), &prefs); err != nil {
		return nil, fmt.Errorf("corrupted preferences for user %s: %w", userID, err)
	}
	prefs.UserID = userID

	if prefs.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("corrupted updated_at timestamp for user %s preferences: %w", userID, err)
	}

	return &prefs, nil
}

// SavePreferences upserts the full preference document for a user.
func (sps *SQLitePreferenceStorage) SavePreferences(prefs *core.NotificationPreferences) error {
	if prefs == nil || prefs.UserID == "" {
		return core.ErrIDRequired
	}

	prefs.UpdatedAt = time.Now().UTC()

	prefsJSON, err := json.Marshal(prefs)
	if err != nil {
		return fmt.Errorf("failed to marshal preferences: %w", err)
	}

	_, err = sps.db.WriteDB.Exec(`
		INSERT INTO notification_preferences (user_id, prefs, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET prefs = excluded.prefs, updated_at = excluded.updated_at`,
		prefs.UserID,
		string(prefsJSON),
		prefs.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save preferences: %w", err)
	}
	return nil
}

// DeletePreferences removes a user's stored preferences, reverting them
// to defaults.
func (sps *SQLitePreferenceStorage) DeletePreferences(userID string) error {
	_, err := sps.db.WriteDB.Exec(
		"DELETE FROM notification_preferences WHERE user_id = ?", userID)
	if err != nil {
		return fmt.Errorf("failed to delete preferences: %w", err)
	}
	return nil
}
