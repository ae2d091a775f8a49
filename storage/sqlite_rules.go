package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"sentinel/core"

	"go.uber.org/zap"
)

// SQLiteRuleStorage handles notification rule persistence in SQLite
type SQLiteRuleStorage struct {
	db     *SQLite
	logger *zap.SugaredLogger
}

// NewSQLiteRuleStorage creates a new SQLite rule storage handler
func NewSQLiteRuleStorage(db *SQLite, logger *zap.SugaredLogger) *SQLiteRuleStorage {
	return &SQLiteRuleStorage{db: db, logger: logger}
}

// CreateRule creates a new notification rule.
func (srs *SQLiteRuleStorage) CreateRule(rule *core.NotificationRule) error {
	if rule.ID == "" {
		return errors.New("rule ID cannot be empty")
	}
	if err := rule.Validate(); err != nil {
		return err
	}

	conditionsJSON, err := json.Marshal(rule.Conditions)
	if err != nil {
		return fmt.Errorf("failed to marshal conditions: %w", err)
	}
	channelsJSON, err := json.Marshal(rule.ChannelIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal channel IDs: %w", err)
	}

	now := time.Now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	query := `
		INSERT INTO notification_rules (id, tenant_id, name, event_type, active, conditions, template, custom_event_id, channel_ids, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = srs.db.WriteDB.Exec(query,
		rule.ID,
		rule.TenantID,
		rule.Name,
		rule.EventType,
		rule.Active,
		string(conditionsJSON),
		rule.Template,
		nullIfEmpty(rule.CustomEventID),
		string(channelsJSON),
		rule.CreatedAt.Format(time.RFC3339),
		rule.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert rule: %w", err)
	}

	srs.logger.Infof("Created rule %s (%s) for event type %s", rule.Name, rule.ID, rule.EventType)
	return nil
}

const ruleColumns = "id, tenant_id, name, event_type, active, conditions, template, custom_event_id, channel_ids, created_at, updated_at"

func scanRule(row interface{ Scan(...interface{}) error }) (*core.NotificationRule, error) {
	var rule core.NotificationRule
	var conditionsJSON, channelsJSON string
	var customEventID sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(
		&rule.ID,
		&rule.TenantID,
		&rule.Name,
		&rule.EventType,
		&rule.Active,
		&conditionsJSON,
		&rule.Template,
		&customEventID,
		&channelsJSON,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if conditionsJSON != "" && conditionsJSON != "null" {
		if err := json.Unmarshal([]byte(conditionsJSON), &rule.Conditions); err != nil {
			return nil, fmt.Errorf("failed to parse conditions for rule %s: %w", rule.ID, err)
		}
	}
	if err := json.Unmarshal([]byte(channelsJSON), &rule.ChannelIDs); err != nil {
		return nil, fmt.Errorf("failed to parse channel IDs for rule %s: %w", rule.ID, err)
	}
	if customEventID.Valid {
		rule.CustomEventID = customEventID.String
	}

	rule.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("corrupted created_at timestamp for rule %s: %w", rule.ID, err)
	}
	rule.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("corrupted updated_at timestamp for rule %s: %w", rule.ID, err)
	}

	return &rule, nil
}

// GetRule retrieves a single rule by ID.
func (srs *SQLiteRuleStorage) GetRule(id string) (*core.NotificationRule, error) {
	row := srs.db.ReadDB.QueryRow(
		"SELECT "+ruleColumns+" FROM notification_rules WHERE id = ?", id)

	rule, err := scanRule(row)
	if err == sql.ErrNoRows {
		return nil, ErrRuleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return rule, nil
}

func (srs *SQLiteRuleStorage) queryRules(query string, args ...interface{}) ([]core.NotificationRule, error) {
	rows, err := srs.db.ReadDB.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			srs.logger.Warnf("Failed to close rows: %v", err)
		}
	}()

	var rules []core.NotificationRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rules = append(rules, *rule)
	}
	return rules, rows.Err()
}

// GetRulesByTenant retrieves every rule belonging to a tenant.
func (srs *SQLiteRuleStorage) GetRulesByTenant(tenantID string) ([]core.NotificationRule, error) {
	return srs.queryRules(
		"SELECT "+ruleColumns+" FROM notification_rules WHERE tenant_id = ? ORDER BY created_at", tenantID)
}

// GetActiveRules retrieves active rules matching (tenant, event type) in
// creation order. Evaluation order is deliberately unspecified to callers.
func (srs *SQLiteRuleStorage) GetActiveRules(tenantID, eventType string) ([]core.NotificationRule, error) {
	return srs.queryRules(
		"SELECT "+ruleColumns+" FROM notification_rules WHERE tenant_id = ? AND event_type = ? AND active = 1 ORDER BY created_at",
		tenantID, eventType)
}

// UpdateRule updates an existing rule.
func (srs *SQLiteRuleStorage) UpdateRule(id string, rule *core.NotificationRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}

	conditionsJSON, err := json.Marshal(rule.Conditions)
	if err != nil {
		return fmt.Errorf("failed to marshal conditions: %w", err)
	}
	channelsJSON, err := json.Marshal(rule.ChannelIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal channel IDs: %w", err)
	}

	rule.UpdatedAt = time.Now().UTC()

	result, err := srs.db.WriteDB.Exec(`
		UPDATE notification_rules
		SET name = ?, event_type = ?, active = ?, conditions = ?, template = ?, custom_event_id = ?, channel_ids = ?, updated_at = ?
		WHERE id = ?`,
		rule.Name,
		rule.EventType,
		rule.Active,
		string(conditionsJSON),
		rule.Template,
		nullIfEmpty(rule.CustomEventID),
		string(channelsJSON),
		rule.UpdatedAt.Format(time.RFC3339),
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return ErrRuleNotFound
	}
	return nil
}

// DeleteRule removes a rule. The notifications it fired keep existing with
// a nulled rule reference (ON DELETE SET NULL).
func (srs *SQLiteRuleStorage) DeleteRule(id string) error {
	result, err := srs.db.WriteDB.Exec("DELETE FROM notification_rules WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if affected == 0 {
		return ErrRuleNotFound
	}
	srs.logger.Infof("Deleted rule %s", id)
	return nil
}

// ActivateRule marks a rule active.
func (srs *SQLiteRuleStorage) ActivateRule(id string) error {
	return srs.setActive(id, true)
}

// DeactivateRule marks a rule inactive. Already-scheduled deliveries are
// unaffected; only future events stop matching.
func (srs *SQLiteRuleStorage) DeactivateRule(id string) error {
	return srs.setActive(id, false)
}

func (srs *SQLiteRuleStorage) setActive(id string, active bool) error {
	result, err := srs.db.WriteDB.Exec(
		"UPDATE notification_rules SET active = ?, updated_at = ? WHERE id = ?",
		active, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("failed to update rule active flag: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return ErrRuleNotFound
	}
	return nil
}

// nullIfEmpty converts empty strings to NULL for nullable columns.
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
