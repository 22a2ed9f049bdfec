package cbus

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-cbus/internal/cgate"
)

// GroupRecorder persists the groups seen on the installation: discovery
// results and every observed level change land in the cbus_groups table,
// building a registry of the network over time.
//
// It is a commissioning aid. Nothing reads it back at runtime and it never
// seeds the level cache; the table exists so an installer can see what the
// network actually contains and when each group last moved.
//
// Thread Safety: all methods are safe for concurrent use.
type GroupRecorder struct {
	db     *sql.DB
	logger cgate.Logger

	// Prepared statements for upserts (created once, reused)
	groupUpsertStmt *sql.Stmt
	levelUpsertStmt *sql.Stmt
	stmtMu          sync.Mutex

	// Shutdown coordination
	closed bool
	mu     sync.RWMutex
}

// NewGroupRecorder creates a recorder. The database must have the
// cbus_groups table created.
func NewGroupRecorder(db *sql.DB) *GroupRecorder {
	return &GroupRecorder{db: db}
}

// SetLogger sets the logger for the recorder.
func (r *GroupRecorder) SetLogger(logger cgate.Logger) {
	r.logger = logger
}

// Start prepares the recorder for use. Must be called before RecordGroup
// or RecordLevel.
func (r *GroupRecorder) Start() error {
	r.stmtMu.Lock()
	defer r.stmtMu.Unlock()

	if r.groupUpsertStmt != nil {
		return nil // Already started
	}

	groupStmt, err := r.db.Prepare(`
		INSERT INTO cbus_groups (address, name, device_class, is_load, units, last_seen)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET
			name = excluded.name,
			device_class = excluded.device_class,
			is_load = excluded.is_load,
			units = excluded.units,
			last_seen = excluded.last_seen
	`)
	if err != nil {
		return fmt.Errorf("preparing group upsert statement: %w", err)
	}

	levelStmt, err := r.db.Prepare(`
		INSERT INTO cbus_groups (address, last_level, last_seen, update_count)
		VALUES (?, ?, ?, 1)
		ON CONFLICT(address) DO UPDATE SET
			last_level = excluded.last_level,
			last_seen = excluded.last_seen,
			update_count = update_count + 1
	`)
	if err != nil {
		groupStmt.Close()
		return fmt.Errorf("preparing level upsert statement: %w", err)
	}

	r.groupUpsertStmt = groupStmt
	r.levelUpsertStmt = levelStmt
	r.log("group recorder started")
	return nil
}

// Stop closes the recorder and releases resources.
func (r *GroupRecorder) Stop() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.stmtMu.Lock()
	defer r.stmtMu.Unlock()

	if r.groupUpsertStmt != nil {
		r.groupUpsertStmt.Close()
		r.groupUpsertStmt = nil
	}
	if r.levelUpsertStmt != nil {
		r.levelUpsertStmt.Close()
		r.levelUpsertStmt = nil
	}

	r.log("group recorder stopped")
}

// RecordModel records every group in a discovery result.
func (r *GroupRecorder) RecordModel(m *Model) {
	for appID, app := range m.Applications {
		for gid, info := range app.Groups {
			addr := cgate.GroupAddress{
				Project:     m.Project,
				Network:     m.Network,
				Application: appID,
				Group:       gid,
			}
			r.RecordGroup(addr, info)
		}
	}
}

// RecordGroup records one discovered group's metadata.
func (r *GroupRecorder) RecordGroup(addr cgate.GroupAddress, info GroupInfo) {
	stmt := r.stmt(&r.groupUpsertStmt)
	if stmt == nil {
		return
	}

	isLoad := 0
	if info.IsLoad {
		isLoad = 1
	}
	if _, err := stmt.Exec(addr.String(), info.Name, info.DeviceClass, isLoad, info.Units, time.Now().Unix()); err != nil {
		r.logError("recording group", err)
	}
}

// RecordLevel records one observed level change. Called for every update,
// including groups discovery never saw; those appear with empty metadata.
func (r *GroupRecorder) RecordLevel(u cgate.GroupUpdate) {
	stmt := r.stmt(&r.levelUpsertStmt)
	if stmt == nil {
		return
	}

	if _, err := stmt.Exec(u.Addr.String(), u.Level, time.Now().Unix()); err != nil {
		r.logError("recording level", err)
	}
}

// stmt returns the prepared statement if the recorder is started and not
// closed, nil otherwise.
func (r *GroupRecorder) stmt(field **sql.Stmt) *sql.Stmt {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return nil
	}
	r.mu.RUnlock()

	r.stmtMu.Lock()
	defer r.stmtMu.Unlock()
	return *field
}

// GroupCount returns the number of recorded groups.
func (r *GroupRecorder) GroupCount(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cbus_groups`).Scan(&count)
	return count, err
}

// KnownAddresses returns every recorded group address, most recently seen
// first.
func (r *GroupRecorder) KnownAddresses(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT address FROM cbus_groups
		ORDER BY last_seen DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var addresses []string
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, err
		}
		addresses = append(addresses, addr)
	}
	return addresses, rows.Err()
}

// log logs an info message if logger is set.
func (r *GroupRecorder) log(msg string, keysAndValues ...any) {
	if r.logger != nil {
		r.logger.Info(msg, keysAndValues...)
	}
}

// logError logs an error if logger is set.
func (r *GroupRecorder) logError(msg string, err error) {
	if r.logger != nil {
		r.logger.Error(msg, "error", err)
	}
}
