package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"sentinel/core"

	"go.uber.org/zap"
)

// SQLiteUserStorage reads the user directory. The dispatch engine treats
// users as externally managed; only creation is supported here, for
// provisioning and tests.
type SQLiteUserStorage struct {
	db     *SQLite
	logger *zap.SugaredLogger
}

// NewSQLiteUserStorage creates a new SQLite user storage handler
func NewSQLiteUserStorage(db *SQLite, logger *zap.SugaredLogger) *SQLiteUserStorage {
	return &SQLiteUserStorage{db: db, logger: logger}
}

// CreateUser inserts a user record.
func (sus *SQLiteUserStorage) CreateUser(user *core.User) error {
	if user == nil || user.ID == "" {
		return core.ErrIDRequired
	}
	if user.TenantID == "" {
		return core.ErrTenantRequired
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := sus.db.WriteDB.Exec(`
		INSERT INTO users (id, tenant_id, email, phone, role, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		user.ID,
		user.TenantID,
		user.Email,
		user.Phone,
		user.Role,
		boolToInt(user.Active),
		user.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

const userColumns = "id, tenant_id, email, phone, role, active, created_at"

func scanUser(row interface{ Scan(...interface{}) error }) (*core.User, error) {
	var u core.User
	var active int
	var createdAt string

	err := row.Scan(&u.ID, &u.TenantID, &u.Email, &u.Phone, &u.Role, &active, &createdAt)
	if err != nil {
		return nil, err
	}

	u.Active = active != 0
	if u.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("corrupted created_at timestamp for user %s: %w", u.ID, err)
	}
	return &u, nil
}

// GetUser retrieves a user by ID.
func (sus *SQLiteUserStorage) GetUser(id string) (*core.User, error) {
	row := sus.db.ReadDB.QueryRow(
		"SELECT "+userColumns+" FROM users WHERE id = ?", id)

	user, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

func (sus *SQLiteUserStorage) queryUsers(query string, args ...interface{}) ([]core.User, error) {
	rows, err := sus.db.ReadDB.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			sus.logger.Warnf("Failed to close rows: %v", err)
		}
	}()

	var users []core.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, *user)
	}
	return users, rows.Err()
}

// GetActiveUsersByTenant lists every active user in a tenant, for
// company-wide fan-out.
func (sus *SQLiteUserStorage) GetActiveUsersByTenant(tenantID string) ([]core.User, error) {
	return sus.queryUsers(
		"SELECT "+userColumns+" FROM users WHERE tenant_id = ? AND active = 1 ORDER BY created_at", tenantID)
}

// GetActiveUsersByRoles lists active tenant users holding any of the given
// roles. An empty role list returns no users.
func (sus *SQLiteUserStorage) GetActiveUsersByRoles(tenantID string, roles []string) ([]core.User, error) {
	if len(roles) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(roles))
	args := make([]interface{}, 0, len(roles)+1)
	args = append(args, tenantID)
	for i, role := range roles {
		placeholders[i] = "?"
		args = append(args, role)
	}

	query := fmt.Sprintf(
		"SELECT %s FROM users WHERE tenant_id = ? AND active = 1 AND role IN (%s) ORDER BY created_at",
		userColumns, strings.Join(placeholders, ","))
	return sus.queryUsers(query, args...)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
