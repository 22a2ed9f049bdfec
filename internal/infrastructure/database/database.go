package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const (
	dirPermissions  = 0750
	filePermissions = 0600

	// openPingTimeout bounds the connectivity check during Open.
	openPingTimeout = 5 * time.Second
)

// DB is the gateway's SQLite handle. It embeds *sql.DB and adds the
// migration runner and a health check.
type DB struct {
	*sql.DB
	path string
}

// Config holds the database settings from the config file.
type Config struct {
	// Path is the SQLite file path. The parent directory is created on
	// first open.
	Path string

	// WALMode enables write-ahead logging so the recorder's writes do not
	// block reads.
	WALMode bool

	// BusyTimeout is how long (in seconds) a statement waits on a locked
	// database before failing.
	BusyTimeout int
}

// Open opens (creating if necessary) the SQLite database and verifies it
// responds. The connection pool is pinned to a single connection because
// SQLite allows only one writer and the gateway's write volume is a trickle
// of group updates.
func Open(cfg Config) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), dirPermissions); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_foreign_keys=on",
		cfg.Path, cfg.BusyTimeout*1000)
	if cfg.WALMode {
		dsn += "&_journal_mode=WAL&_synchronous=NORMAL"
	}

	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)

	db := &DB{DB: sqlDB, path: cfg.Path}

	ctx, cancel := context.WithTimeout(context.Background(), openPingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		sqlDB.Close() //nolint:errcheck // already failing, nothing to report
		return nil, fmt.Errorf("verifying database connection: %w", err)
	}

	// Owner read/write only. The file may not exist yet on a fresh
	// database (SQLite creates it lazily), so the error is ignored.
	_ = os.Chmod(cfg.Path, filePermissions)

	return db, nil
}

// Close closes the database. Safe to call on a zero-value handle.
func (db *DB) Close() error {
	if db.DB == nil {
		return nil
	}
	if err := db.DB.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// HealthCheck runs a trivial query to confirm the database is reachable.
func (db *DB) HealthCheck(ctx context.Context) error {
	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}
