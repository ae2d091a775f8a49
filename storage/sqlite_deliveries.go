package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"sentinel/core"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SQLiteDeliveryStorage handles per-recipient delivery state in SQLite.
// The UNIQUE(notification_id, channel_id, recipient_id) constraint makes
// scheduling idempotent: concurrent schedulers and user-triggered retries
// converge on a single row.
type SQLiteDeliveryStorage struct {
	db     *SQLite
	logger *zap.SugaredLogger
}

// NewSQLiteDeliveryStorage creates a new SQLite delivery storage handler
func NewSQLiteDeliveryStorage(db *SQLite, logger *zap.SugaredLogger) *SQLiteDeliveryStorage {
	return &SQLiteDeliveryStorage{db: db, logger: logger}
}

// GetOrCreateDelivery returns the delivery row for the triple, creating a
// pending one when none exists. The boolean reports whether a row was
// created. INSERT OR IGNORE under the uniqueness constraint makes this
// safe against races between batch scheduling and manual retries.
func (sds *SQLiteDeliveryStorage) GetOrCreateDelivery(notificationID, channelID, recipientID string) (*core.DeliveryStatus, bool, error) {
	if notificationID == "" || channelID == "" || recipientID == "" {
		return nil, false, errors.New("notification, channel and recipient IDs are required")
	}

	now := time.Now().UTC()
	result, err := sds.db.WriteDB.Exec(`
		INSERT OR IGNORE INTO delivery_statuses (id, notification_id, channel_id, recipient_id, status, attempts, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?)`,
		uuid.New().String(),
		notificationID,
		channelID,
		recipientID,
		core.DeliveryPending,
		now.Format(time.RFC3339),
		now.Format(time.RFC3339),
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert delivery status: %w", err)
	}

	inserted, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to check insert result: %w", err)
	}

	delivery, err := sds.getByTriple(notificationID, channelID, recipientID)
	if err != nil {
		return nil, false, err
	}
	return delivery, inserted > 0, nil
}

const deliveryColumns = "id, notification_id, channel_id, recipient_id, status, attempts, error_message, sent_at, delivered_at, read_at, created_at, updated_at"

func scanDelivery(row interface{ Scan(...interface{}) error }) (*core.DeliveryStatus, error) {
	var d core.DeliveryStatus
	var errorMessage sql.NullString
	var sentAt, deliveredAt, readAt sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(
		&d.ID,
		&d.NotificationID,
		&d.ChannelID,
		&d.RecipientID,
		&d.Status,
		&d.Attempts,
		&errorMessage,
		&sentAt,
		&deliveredAt,
		&readAt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.ErrorMessage = errorMessage.String

	parseNullTime := func(ns sql.NullString, field string) (*time.Time, error) {
		if !ns.Valid || ns.String == "" {
			return nil, nil
		}
		t, err := time.Parse(time.RFC3339, ns.String)
		if err != nil {
			return nil, fmt.Errorf("corrupted %s timestamp for delivery %s: %w", field, d.ID, err)
		}
		return &t, nil
	}

	if d.SentAt, err = parseNullTime(sentAt, "sent_at"); err != nil {
		return nil, err
	}
	if d.DeliveredAt, err = parseNullTime(deliveredAt, "delivered_at"); err != nil {
		return nil, err
	}
	if d.ReadAt, err = parseNullTime(readAt, "read_at"); err != nil {
		return nil, err
	}

	if d.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("corrupted created_at timestamp for delivery %s: %w", d.ID, err)
	}
	if d.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("corrupted updated_at timestamp for delivery %s: %w", d.ID, err)
	}

	return &d, nil
}

func (sds *SQLiteDeliveryStorage) getByTriple(notificationID, channelID, recipientID string) (*core.DeliveryStatus, error) {
	row := sds.db.ReadDB.QueryRow(
		"SELECT "+deliveryColumns+" FROM delivery_statuses WHERE notification_id = ? AND channel_id = ? AND recipient_id = ?",
		notificationID, channelID, recipientID)

	delivery, err := scanDelivery(row)
	if err == sql.ErrNoRows {
		return nil, ErrDeliveryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get delivery status: %w", err)
	}
	return delivery, nil
}

// GetDelivery retrieves a delivery row by ID.
func (sds *SQLiteDeliveryStorage) GetDelivery(id string) (*core.DeliveryStatus, error) {
	row := sds.db.ReadDB.QueryRow(
		"SELECT "+deliveryColumns+" FROM delivery_statuses WHERE id = ?", id)

	delivery, err := scanDelivery(row)
	if err == sql.ErrNoRows {
		return nil, ErrDeliveryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get delivery status: %w", err)
	}
	return delivery, nil
}

func (sds *SQLiteDeliveryStorage) queryDeliveries(query string, args ...interface{}) ([]core.DeliveryStatus, error) {
	rows, err := sds.db.ReadDB.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query delivery statuses: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			sds.logger.Warnf("Failed to close rows: %v", err)
		}
	}()

	var deliveries []core.DeliveryStatus
	for rows.Next() {
		delivery, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan delivery status: %w", err)
		}
		deliveries = append(deliveries, *delivery)
	}
	return deliveries, rows.Err()
}

// GetDeliveriesForNotification lists all delivery rows for a notification.
func (sds *SQLiteDeliveryStorage) GetDeliveriesForNotification(notificationID string) ([]core.DeliveryStatus, error) {
	return sds.queryDeliveries(
		"SELECT "+deliveryColumns+" FROM delivery_statuses WHERE notification_id = ? ORDER BY created_at", notificationID)
}

// GetPendingDeliveries lists pending rows oldest-first, for startup
// re-enqueue after a crash or restart.
func (sds *SQLiteDeliveryStorage) GetPendingDeliveries(limit int) ([]core.DeliveryStatus, error) {
	if limit <= 0 {
		limit = 1000
	}
	return sds.queryDeliveries(
		"SELECT "+deliveryColumns+" FROM delivery_statuses WHERE status = ? ORDER BY created_at LIMIT ?",
		core.DeliveryPending, limit)
}

// MarkDelivered transitions a row to delivered. The note records why a
// delivery was short-circuited (preference skip) and stays empty for real
// sends.
func (sds *SQLiteDeliveryStorage) MarkDelivered(id string, attempts int, note string, sentAt time.Time) error {
	now := time.Now().UTC()
	result, err := sds.db.WriteDB.Exec(`
		UPDATE delivery_statuses
		SET status = ?, attempts = ?, error_message = ?, sent_at = ?, delivered_at = ?, updated_at = ?
		WHERE id = ?`,
		core.DeliveryDelivered,
		attempts,
		nullIfEmpty(note),
		sentAt.UTC().Format(time.RFC3339),
		now.Format(time.RFC3339),
		now.Format(time.RFC3339),
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark delivery delivered: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return ErrDeliveryNotFound
	}
	return nil
}

// MarkFailed transitions a row to failed, persisting the last error text.
func (sds *SQLiteDeliveryStorage) MarkFailed(id string, attempts int, errorMessage string) error {
	now := time.Now().UTC()
	result, err := sds.db.WriteDB.Exec(`
		UPDATE delivery_statuses
		SET status = ?, attempts = ?, error_message = ?, updated_at = ?
		WHERE id = ?`,
		core.DeliveryFailed,
		attempts,
		errorMessage,
		now.Format(time.RFC3339),
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark delivery failed: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return ErrDeliveryNotFound
	}
	return nil
}

// MarkRead sets read_at on every delivery row for (notification,
// recipient) that has not been read yet. Status is untouched: a failed
// delivery can still be marked read through another surface.
func (sds *SQLiteDeliveryStorage) MarkRead(notificationID, recipientID string, readAt time.Time) error {
	_, err := sds.db.WriteDB.Exec(`
		UPDATE delivery_statuses
		SET read_at = ?, updated_at = ?
		WHERE notification_id = ? AND recipient_id = ? AND read_at IS NULL`,
		readAt.UTC().Format(time.RFC3339),
		time.Now().UTC().Format(time.RFC3339),
		notificationID,
		recipientID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark deliveries read: %w", err)
	}
	return nil
}
