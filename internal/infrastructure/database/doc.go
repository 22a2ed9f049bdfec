// Package database provides the gateway's SQLite storage.
//
// The database holds the cbus_groups registry: every group address seen on
// the installation, its discovery metadata, and the last observed level.
// It is a commissioning aid, not runtime state; the level cache is rebuilt
// from gateway traffic on every start.
//
// The connection is opened in WAL mode with a busy timeout and a
// single-connection pool (SQLite has one writer, and the gateway writes at
// device-event rate). Schema migrations are embedded into the binary by the
// migrations package and applied on startup, each in its own transaction.
//
//	db, err := database.Open(cfg)
//	if err != nil { ... }
//	defer db.Close()
//	if err := db.Migrate(ctx); err != nil { ... }
package database
