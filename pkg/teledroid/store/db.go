// Package store provides the central SQLite database for TeleDroid.
// A single teledroid.db file holds users, devices, commands, scheduled
// tasks, auth tokens, device stats and the operation log.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3" // SQLite driver.
)

// ErrNotFound is returned when a referenced row does not exist.
var ErrNotFound = errors.New("not found")

// schema is the DDL executed on every startup (idempotent via IF NOT EXISTS).
const schema = `
-- Chat users.
CREATE TABLE IF NOT EXISTS users (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    chat_id    TEXT NOT NULL UNIQUE,
    username   TEXT DEFAULT '',
    first_name TEXT DEFAULT '',
    last_name  TEXT DEFAULT '',
    is_active  INTEGER NOT NULL DEFAULT 1,
    is_admin   INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_users_chat ON users(chat_id);

-- Linked devices.
CREATE TABLE IF NOT EXISTS devices (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id         INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    device_id       TEXT NOT NULL UNIQUE,
    device_name     TEXT DEFAULT '',
    device_model    TEXT DEFAULT '',
    android_version TEXT DEFAULT '',
    push_token      TEXT DEFAULT '',
    is_online       INTEGER NOT NULL DEFAULT 0,
    last_seen       TEXT NOT NULL,
    created_at      TEXT NOT NULL,
    updated_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_devices_user ON devices(user_id);
CREATE INDEX IF NOT EXISTS idx_devices_device ON devices(device_id);

-- Device commands.
CREATE TABLE IF NOT EXISTS commands (
    id            TEXT PRIMARY KEY,
    user_id       INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    device_id     INTEGER REFERENCES devices(id) ON DELETE CASCADE,
    command_type  TEXT NOT NULL,
    action        TEXT NOT NULL,
    parameters    TEXT NOT NULL DEFAULT '{}',
    status        TEXT NOT NULL DEFAULT 'pending',
    result        TEXT,
    error_message TEXT,
    created_at    TEXT NOT NULL,
    completed_at  TEXT
);
CREATE INDEX IF NOT EXISTS idx_commands_device_status ON commands(device_id, status);
CREATE INDEX IF NOT EXISTS idx_commands_user ON commands(user_id);

-- Scheduled tasks (command templates).
CREATE TABLE IF NOT EXISTS scheduled_tasks (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    device_id     INTEGER NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
    name          TEXT NOT NULL,
    command_type  TEXT NOT NULL,
    action        TEXT NOT NULL,
    parameters    TEXT NOT NULL DEFAULT '{}',
    schedule_kind TEXT NOT NULL,
    schedule_expr TEXT DEFAULT '',
    is_active     INTEGER NOT NULL DEFAULT 1,
    last_run      TEXT,
    next_run      TEXT,
    created_at    TEXT NOT NULL,
    updated_at    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_device ON scheduled_tasks(device_id);
CREATE INDEX IF NOT EXISTS idx_tasks_due ON scheduled_tasks(is_active, next_run);

-- Device auth tokens and linking OTPs. Tokens are stored hashed.
CREATE TABLE IF NOT EXISTS auth_tokens (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id        INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    device_id      TEXT NOT NULL,
    token_hash     TEXT NOT NULL DEFAULT '',
    otp_code       TEXT DEFAULT '',
    otp_expires_at TEXT,
    is_used        INTEGER NOT NULL DEFAULT 0,
    expires_at     TEXT NOT NULL,
    created_at     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tokens_device ON auth_tokens(device_id);
CREATE INDEX IF NOT EXISTS idx_tokens_hash ON auth_tokens(token_hash);

-- Device telemetry snapshots.
CREATE TABLE IF NOT EXISTS device_stats (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    device_id      TEXT NOT NULL,
    battery_level  INTEGER,
    battery_status TEXT DEFAULT '',
    storage_total  REAL,
    storage_used   REAL,
    network_type   TEXT DEFAULT '',
    network_speed  REAL,
    memory_total   REAL,
    memory_used    REAL,
    cpu_usage      REAL,
    created_at     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_stats_device ON device_stats(device_id, created_at);

-- Operation audit log.
CREATE TABLE IF NOT EXISTS operation_logs (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id        INTEGER NOT NULL,
    device_id      INTEGER,
    command_id     TEXT,
    operation_type TEXT NOT NULL,
    description    TEXT NOT NULL,
    ip_address     TEXT DEFAULT '',
    user_agent     TEXT DEFAULT '',
    created_at     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_logs_user ON operation_logs(user_id, created_at);
`

// Store wraps the central database with typed accessors.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the central teledroid.db at the given path.
// It enables WAL mode for concurrent read performance and creates all
// tables.
func Open(path string) (*Store, error) {
	if path == "" {
		path = "./data/teledroid.db"
	}

	// Ensure parent directory exists.
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create database directory %q: %w", dir, err)
	}

	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", path, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the raw handle for health checks.
func (s *Store) DB() *sql.DB {
	return s.db
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
