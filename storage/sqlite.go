package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLite holds the database connections for the notification engine.
// Separate read and write pools leverage WAL mode's concurrent read
// capability: a single writer, many readers.
type SQLite struct {
	DB      *sql.DB // write pool, same as WriteDB
	WriteDB *sql.DB
	ReadDB  *sql.DB
	Path    string
	Logger  *zap.SugaredLogger
}

// configureSQLiteConnection sets up WAL mode, foreign keys and the busy
// timeout on a connection pool. Foreign keys must be enabled explicitly;
// SQLite disables them by default and the schema relies on ON DELETE
// behavior for rule references.
func configureSQLiteConnection(db *sql.DB, logger *zap.SugaredLogger, dbPath, poolType string) error {
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	var fkEnabled int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&fkEnabled); err != nil {
		return fmt.Errorf("failed to verify foreign keys: %w", err)
	}
	if fkEnabled != 1 {
		return fmt.Errorf("foreign keys not enabled (got: %d)", fkEnabled)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to ping SQLite database: %w", err)
	}

	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		return fmt.Errorf("failed to query journal mode: %w", err)
	}
	// in-memory databases report "memory", not "wal"
	if dbPath != ":memory:" && journalMode != "wal" {
		return fmt.Errorf("WAL mode not enabled (got: %s)", journalMode)
	}
	logger.Infof("SQLite %s pool: journal mode %s, foreign keys on", poolType, journalMode)

	return nil
}

// NewSQLite opens the database and creates the schema.
func NewSQLite(dbPath string, logger *zap.SugaredLogger) (*SQLite, error) {
	dir := filepath.Dir(dbPath)
	if dbPath != ":memory:" && dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// in-memory databases need shared cache so both pools see one database
	actualPath := dbPath
	if dbPath == ":memory:" {
		actualPath = "file::memory:?cache=shared"
	}

	writeDB, err := sql.Open("sqlite", actualPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite write database: %w", err)
	}
	if err := configureSQLiteConnection(writeDB, logger, dbPath, "write"); err != nil {
		_ = writeDB.Close()
		return nil, fmt.Errorf("failed to configure write connection: %w", err)
	}

	// WAL requires exactly one writer at a time
	writeDB.SetMaxOpenConns(1)
	writeDB.SetMaxIdleConns(1)
	writeDB.SetConnMaxLifetime(0)
	writeDB.SetConnMaxIdleTime(10 * time.Minute)

	readDB, err := sql.Open("sqlite", actualPath)
	if err != nil {
		_ = writeDB.Close()
		return nil, fmt.Errorf("failed to open SQLite read database: %w", err)
	}
	if err := configureSQLiteConnection(readDB, logger, dbPath, "read"); err != nil {
		_ = writeDB.Close()
		_ = readDB.Close()
		return nil, fmt.Errorf("failed to configure read connection: %w", err)
	}

	if _, err := readDB.Exec("PRAGMA query_only=ON"); err != nil {
		_ = writeDB.Close()
		_ = readDB.Close()
		return nil, fmt.Errorf("failed to enable query_only mode on read pool: %w", err)
	}

	readDB.SetMaxOpenConns(10)
	readDB.SetMaxIdleConns(5)
	readDB.SetConnMaxLifetime(5 * time.Minute)
	readDB.SetConnMaxIdleTime(10 * time.Minute)

	sqlite := &SQLite{
		DB:      writeDB,
		WriteDB: writeDB,
		ReadDB:  readDB,
		Path:    dbPath,
		Logger:  logger,
	}

	if err := sqlite.createTables(); err != nil {
		_ = writeDB.Close()
		_ = readDB.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Infof("SQLite database initialized at %s", dbPath)

	return sqlite, nil
}

// WithTransaction executes fn within a transaction, rolling back on error
// or panic.
func (s *SQLite) WithTransaction(fn func(*sql.Tx) error) error {
	tx, err := s.WriteDB.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("failed to rollback transaction (original error: %w, rollback error: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// createTables creates the notification engine schema.
func (s *SQLite) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tenants (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		email TEXT NOT NULL,
		phone TEXT,
		role TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_users_tenant ON users(tenant_id);
	CREATE INDEX IF NOT EXISTS idx_users_tenant_role ON users(tenant_id, role);

	CREATE TABLE IF NOT EXISTS notification_channels (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		name TEXT NOT NULL,
		channel_type TEXT NOT NULL,
		enabled INTEGER NOT NULL DEFAULT 1,
		config TEXT NOT NULL, -- JSON
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE(tenant_id, name)
	);
	CREATE INDEX IF NOT EXISTS idx_channels_tenant ON notification_channels(tenant_id);

	CREATE TABLE IF NOT EXISTS notification_rules (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		name TEXT NOT NULL,
		event_type TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		conditions TEXT, -- JSON object
		template TEXT NOT NULL,
		custom_event_id TEXT,
		channel_ids TEXT NOT NULL, -- JSON array, ordered
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_rules_tenant_event ON notification_rules(tenant_id, event_type, active);

	CREATE TABLE IF NOT EXISTS notifications (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		title TEXT NOT NULL,
		message TEXT,
		category TEXT NOT NULL,
		priority TEXT NOT NULL,
		rule_id TEXT REFERENCES notification_rules(id) ON DELETE SET NULL,
		related_type TEXT,
		related_id TEXT,
		company_wide INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_notifications_tenant ON notifications(tenant_id, created_at DESC);

	CREATE TABLE IF NOT EXISTS notification_recipients (
		notification_id TEXT NOT NULL REFERENCES notifications(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL,
		PRIMARY KEY (notification_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS delivery_statuses (
		id TEXT PRIMARY KEY,
		notification_id TEXT NOT NULL REFERENCES notifications(id) ON DELETE CASCADE,
		channel_id TEXT NOT NULL,
		recipient_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		attempts INTEGER NOT NULL DEFAULT 0,
		error_message TEXT,
		sent_at DATETIME,
		delivered_at DATETIME,
		read_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE(notification_id, channel_id, recipient_id)
	);
	CREATE INDEX IF NOT EXISTS idx_deliveries_status ON delivery_statuses(status);
	CREATE INDEX IF NOT EXISTS idx_deliveries_recipient ON delivery_statuses(recipient_id, notification_id);

	CREATE TABLE IF NOT EXISTS notification_preferences (
		user_id TEXT PRIMARY KEY,
		prefs TEXT NOT NULL, -- JSON
		updated_at DATETIME NOT NULL
	);
	`

	if _, err := s.WriteDB.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// Close closes both connection pools.
func (s *SQLite) Close() error {
	var firstErr error
	if err := s.WriteDB.Close(); err != nil {
		firstErr = err
	}
	if s.ReadDB != s.WriteDB {
		if err := s.ReadDB.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
