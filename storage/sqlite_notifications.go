package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"sentinel/core"

	"go.uber.org/zap"
)

// SQLiteNotificationStorage handles notification persistence in SQLite
type SQLiteNotificationStorage struct {
	db     *SQLite
	logger *zap.SugaredLogger
}

// NewSQLiteNotificationStorage creates a new SQLite notification storage handler
func NewSQLiteNotificationStorage(db *SQLite, logger *zap.SugaredLogger) *SQLiteNotificationStorage {
	return &SQLiteNotificationStorage{db: db, logger: logger}
}

// CreateNotification persists a notification and its explicit recipient
// set in one transaction. Company-wide notifications carry no recipient
// rows; fan-out happens at delivery scheduling time.
func (sns *SQLiteNotificationStorage) CreateNotification(notification *core.Notification) error {
	if err := notification.Validate(); err != nil {
		return err
	}

	return sns.db.WithTransaction(func(tx *sql.Tx) error {
		if notification.CreatedAt.IsZero() {
			notification.CreatedAt = time.Now().UTC()
		}

		_, err := tx.Exec(`
			INSERT INTO notifications (id, tenant_id, title, message, category, priority, rule_id, related_type, related_id, company_wide, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			notification.ID,
			notification.TenantID,
			notification.Title,
			notification.Message,
			notification.Category,
			notification.Priority,
			nullIfEmpty(notification.RuleID),
			nullIfEmpty(notification.RelatedType),
			nullIfEmpty(notification.RelatedID),
			notification.CompanyWide,
			notification.CreatedAt.Format(time.RFC3339),
		)
		if err != nil {
			return fmt.Errorf("failed to insert notification: %w", err)
		}

		for _, userID := range notification.Recipients {
			_, err := tx.Exec(
				"INSERT OR IGNORE INTO notification_recipients (notification_id, user_id) VALUES (?, ?)",
				notification.ID, userID)
			if err != nil {
				return fmt.Errorf("failed to insert recipient %s: %w", userID, err)
			}
		}

		sns.logger.Infof("Created notification %s (%s/%s) for tenant %s",
			notification.ID, notification.Category, notification.Priority, notification.TenantID)
		return nil
	})
}

const notificationColumns = "id, tenant_id, title, message, category, priority, rule_id, related_type, related_id, company_wide, created_at"

func scanNotification(row interface{ Scan(...interface{}) error }) (*core.Notification, error) {
	var n core.Notification
	var message, ruleID, relatedType, relatedID sql.NullString
	var createdAt string

	err := row.Scan(
		&n.ID,
		&n.TenantID,
		&n.Title,
		&message,
		&n.Category,
		&n.Priority,
		&ruleID,
		&relatedType,
		&relatedID,
		&n.CompanyWide,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	n.Message = message.String
	n.RuleID = ruleID.String
	n.RelatedType = relatedType.String
	n.RelatedID = relatedID.String

	n.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("corrupted created_at timestamp for notification %s: %w", n.ID, err)
	}
	return &n, nil
}

// GetNotification retrieves a notification with its recipient set.
func (sns *SQLiteNotificationStorage) GetNotification(id string) (*core.Notification, error) {
	if id == "" {
		return nil, errors.New("notification ID cannot be empty")
	}

	row := sns.db.ReadDB.QueryRow(
		"SELECT "+notificationColumns+" FROM notifications WHERE id = ?", id)

	notification, err := scanNotification(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotificationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get notification: %w", err)
	}

	rows, err := sns.db.ReadDB.Query(
		"SELECT user_id FROM notification_recipients WHERE notification_id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("failed to query recipients: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			sns.logger.Warnf("Failed to close rows: %v", err)
		}
	}()

	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("failed to scan recipient: %w", err)
		}
		notification.Recipients = append(notification.Recipients, userID)
	}
	return notification, rows.Err()
}

// GetNotificationsForUser lists notifications visible to a user within a
// tenant: those naming the user as recipient plus company-wide ones.
func (sns *SQLiteNotificationStorage) GetNotificationsForUser(tenantID, userID string, limit, offset int) ([]core.Notification, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := sns.db.ReadDB.Query(`
		SELECT `+notificationColumns+` FROM notifications n
		WHERE n.tenant_id = ?
		  AND (n.company_wide = 1
		       OR EXISTS (SELECT 1 FROM notification_recipients r WHERE r.notification_id = n.id AND r.user_id = ?))
		ORDER BY n.created_at DESC
		LIMIT ? OFFSET ?`,
		tenantID, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			sns.logger.Warnf("Failed to close rows: %v", err)
		}
	}()

	var notifications []core.Notification
	for rows.Next() {
		notification, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		notifications = append(notifications, *notification)
	}
	return notifications, rows.Err()
}

// AddRecipient adds a user to an existing notification's recipient set.
// Recipient membership is the only mutable part of a notification.
func (sns *SQLiteNotificationStorage) AddRecipient(notificationID, userID string) error {
	var count int
	err := sns.db.ReadDB.QueryRow(
		"SELECT COUNT(*) FROM notifications WHERE id = ?", notificationID).Scan(&count)
	if err != nil {
		return fmt.Errorf("failed to check notification: %w", err)
	}
	if count == 0 {
		return ErrNotificationNotFound
	}

	_, err = sns.db.WriteDB.Exec(
		"INSERT OR IGNORE INTO notification_recipients (notification_id, user_id) VALUES (?, ?)",
		notificationID, userID)
	if err != nil {
		return fmt.Errorf("failed to add recipient: %w", err)
	}
	return nil
}
