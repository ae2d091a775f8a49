package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"sentinel/core"

	"go.uber.org/zap"
)

// SQLiteChannelStorage handles notification channel persistence in SQLite
type SQLiteChannelStorage struct {
	db     *SQLite
	logger *zap.SugaredLogger
}

// NewSQLiteChannelStorage creates a new SQLite channel storage handler
func NewSQLiteChannelStorage(db *SQLite, logger *zap.SugaredLogger) *SQLiteChannelStorage {
	return &SQLiteChannelStorage{db: db, logger: logger}
}

// CreateChannel creates a new channel. The name must be unique within the
// tenant; the config blob is expected to be validated by the caller.
func (scs *SQLiteChannelStorage) CreateChannel(channel *core.NotificationChannel) error {
	if channel.ID == "" {
		return errors.New("channel ID cannot be empty")
	}

	return scs.db.WithTransaction(func(tx *sql.Tx) error {
		var count int
		err := tx.QueryRow("SELECT COUNT(*) FROM notification_channels WHERE tenant_id = ? AND name = ?",
			channel.TenantID, channel.Name).Scan(&count)
		if err != nil {
			return fmt.Errorf("failed to check name uniqueness: %w", err)
		}
		if count > 0 {
			return ErrChannelNameExists
		}

		now := time.Now().UTC()
		channel.CreatedAt = now
		channel.UpdatedAt = now

		query := `
			INSERT INTO notification_channels (id, tenant_id, name, channel_type, enabled, config, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`
		_, err = tx.Exec(query,
			channel.ID,
			channel.TenantID,
			channel.Name,
			string(channel.Type),
			channel.Enabled,
			string(channel.Config),
			channel.CreatedAt.Format(time.RFC3339),
			channel.UpdatedAt.Format(time.RFC3339),
		)
		if err != nil {
			if strings.Contains(err.Error(), "UNIQUE constraint failed") {
				return ErrChannelNameExists
			}
			return fmt.Errorf("failed to insert channel: %w", err)
		}

		scs.logger.Infof("Created %s channel %s (%s)", channel.Type, channel.Name, channel.ID)
		return nil
	})
}

const channelColumns = "id, tenant_id, name, channel_type, enabled, config, created_at, updated_at"

func scanChannel(row interface{ Scan(...interface{}) error }) (*core.NotificationChannel, error) {
	var channel core.NotificationChannel
	var channelType, config, createdAt, updatedAt string

	err := row.Scan(
		&channel.ID,
		&channel.TenantID,
		&channel.Name,
		&channelType,
		&channel.Enabled,
		&config,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	channel.Type = core.ChannelType(channelType)
	channel.Config = json.RawMessage(config)

	channel.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("corrupted created_at timestamp for channel %s: %w", channel.ID, err)
	}
	channel.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("corrupted updated_at timestamp for channel %s: %w", channel.ID, err)
	}

	return &channel, nil
}

// GetChannel retrieves a single channel by ID.
func (scs *SQLiteChannelStorage) GetChannel(id string) (*core.NotificationChannel, error) {
	if id == "" {
		return nil, errors.New("channel ID cannot be empty")
	}

	row := scs.db.ReadDB.QueryRow(
		"SELECT "+channelColumns+" FROM notification_channels WHERE id = ?", id)

	channel, err := scanChannel(row)
	if err == sql.ErrNoRows {
		return nil, ErrChannelNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get channel: %w", err)
	}
	return channel, nil
}

// GetChannelsByTenant retrieves all channels belonging to a tenant.
func (scs *SQLiteChannelStorage) GetChannelsByTenant(tenantID string) ([]core.NotificationChannel, error) {
	rows, err := scs.db.ReadDB.Query(
		"SELECT "+channelColumns+" FROM notification_channels WHERE tenant_id = ? ORDER BY name", tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query channels: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			scs.logger.Warnf("Failed to close rows: %v", err)
		}
	}()

	var channels []core.NotificationChannel
	for rows.Next() {
		channel, err := scanChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan channel: %w", err)
		}
		channels = append(channels, *channel)
	}
	return channels, rows.Err()
}

// GetChannelsByIDs retrieves channels by ID, preserving the input order.
// Missing IDs are skipped, not errors; rules may reference channels that
// were deleted since.
func (scs *SQLiteChannelStorage) GetChannelsByIDs(ids []string) ([]core.NotificationChannel, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := scs.db.ReadDB.Query(
		"SELECT "+channelColumns+" FROM notification_channels WHERE id IN ("+placeholders+")", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query channels: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			scs.logger.Warnf("Failed to close rows: %v", err)
		}
	}()

	byID := make(map[string]core.NotificationChannel, len(ids))
	for rows.Next() {
		channel, err := scanChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan channel: %w", err)
		}
		byID[channel.ID] = *channel
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	ordered := make([]core.NotificationChannel, 0, len(byID))
	for _, id := range ids {
		if channel, ok := byID[id]; ok {
			ordered = append(ordered, channel)
		}
	}
	return ordered, nil
}

// UpdateChannel updates an existing channel.
func (scs *SQLiteChannelStorage) UpdateChannel(id string, channel *core.NotificationChannel) error {
	if id == "" {
		return errors.New("channel ID cannot be empty")
	}

	return scs.db.WithTransaction(func(tx *sql.Tx) error {
		var count int
		err := tx.QueryRow(
			"SELECT COUNT(*) FROM notification_channels WHERE tenant_id = ? AND name = ? AND id != ?",
			channel.TenantID, channel.Name, id).Scan(&count)
		if err != nil {
			return fmt.Errorf("failed to check name uniqueness: %w", err)
		}
		if count > 0 {
			return ErrChannelNameExists
		}

		channel.UpdatedAt = time.Now().UTC()

		result, err := tx.Exec(`
			UPDATE notification_channels
			SET name = ?, channel_type = ?, enabled = ?, config = ?, updated_at = ?
			WHERE id = ?`,
			channel.Name,
			string(channel.Type),
			channel.Enabled,
			string(channel.Config),
			channel.UpdatedAt.Format(time.RFC3339),
			id,
		)
		if err != nil {
			return fmt.Errorf("failed to update channel: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to check update result: %w", err)
		}
		if affected == 0 {
			return ErrChannelNotFound
		}
		return nil
	})
}

// DeleteChannel removes a channel. Delivery history referencing it is kept.
func (scs *SQLiteChannelStorage) DeleteChannel(id string) error {
	result, err := scs.db.WriteDB.Exec("DELETE FROM notification_channels WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete channel: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if affected == 0 {
		return ErrChannelNotFound
	}
	scs.logger.Infof("Deleted channel %s", id)
	return nil
}

// EnableChannel marks a channel enabled.
func (scs *SQLiteChannelStorage) EnableChannel(id string) error {
	return scs.setEnabled(id, true)
}

// DisableChannel marks a channel disabled; future dispatch skips it.
func (scs *SQLiteChannelStorage) DisableChannel(id string) error {
	return scs.setEnabled(id, false)
}

func (scs *SQLiteChannelStorage) setEnabled(id string, enabled bool) error {
	result, err := scs.db.WriteDB.Exec(
		"UPDATE notification_channels SET enabled = ?, updated_at = ? WHERE id = ?",
		enabled, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("failed to update channel enabled flag: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return ErrChannelNotFound
	}
	return nil
}
