package cbus

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nerrad567/gray-logic-cbus/internal/cgate"
)

func openRecorderDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("opening in-memory database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE cbus_groups (
			address      TEXT PRIMARY KEY,
			name         TEXT NOT NULL DEFAULT '',
			device_class TEXT NOT NULL DEFAULT '',
			is_load      INTEGER NOT NULL DEFAULT 0,
			units        TEXT NOT NULL DEFAULT '',
			last_level   INTEGER,
			last_seen    INTEGER NOT NULL,
			update_count INTEGER NOT NULL DEFAULT 0
		)
	`)
	if err != nil {
		t.Fatalf("creating cbus_groups table: %v", err)
	}
	return db
}

func TestGroupRecorderRecordGroup(t *testing.T) {
	db := openRecorderDB(t)
	r := NewGroupRecorder(db)
	if err := r.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer r.Stop()

	addr := testAddr(6)
	r.RecordGroup(addr, GroupInfo{Name: "Lounge", DeviceClass: ClassLight, IsLoad: true, Units: "12,14"})

	// Re-recording updates in place instead of duplicating.
	r.RecordGroup(addr, GroupInfo{Name: "Lounge Downlights", DeviceClass: ClassLight, IsLoad: true, Units: "12,14"})

	count, err := r.GroupCount(context.Background())
	if err != nil {
		t.Fatalf("GroupCount() failed: %v", err)
	}
	if count != 1 {
		t.Errorf("GroupCount() = %d, want 1", count)
	}

	var name string
	if err := db.QueryRow(`SELECT name FROM cbus_groups WHERE address = ?`, addr.String()).Scan(&name); err != nil {
		t.Fatalf("reading back group: %v", err)
	}
	if name != "Lounge Downlights" {
		t.Errorf("name = %q, want updated name", name)
	}
}

func TestGroupRecorderRecordLevel(t *testing.T) {
	db := openRecorderDB(t)
	r := NewGroupRecorder(db)
	if err := r.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer r.Stop()

	addr := testAddr(9)
	r.RecordLevel(cgate.GroupUpdate{Addr: addr, Level: 255})
	r.RecordLevel(cgate.GroupUpdate{Addr: addr, Level: 40})

	var level, count int
	err := db.QueryRow(`SELECT last_level, update_count FROM cbus_groups WHERE address = ?`, addr.String()).
		Scan(&level, &count)
	if err != nil {
		t.Fatalf("reading back level: %v", err)
	}
	if level != 40 {
		t.Errorf("last_level = %d, want 40", level)
	}
	if count != 2 {
		t.Errorf("update_count = %d, want 2", count)
	}
}

func TestGroupRecorderLevelPreservesMetadata(t *testing.T) {
	db := openRecorderDB(t)
	r := NewGroupRecorder(db)
	if err := r.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer r.Stop()

	addr := testAddr(1)
	r.RecordGroup(addr, GroupInfo{Name: "Kitchen", DeviceClass: ClassSwitch, IsLoad: true, Units: "12"})
	r.RecordLevel(cgate.GroupUpdate{Addr: addr, Level: 255})

	var name string
	var level int
	err := db.QueryRow(`SELECT name, last_level FROM cbus_groups WHERE address = ?`, addr.String()).
		Scan(&name, &level)
	if err != nil {
		t.Fatalf("reading back: %v", err)
	}
	if name != "Kitchen" {
		t.Errorf("name = %q, level upsert must not clear metadata", name)
	}
	if level != 255 {
		t.Errorf("last_level = %d, want 255", level)
	}
}

func TestGroupRecorderStoppedIsNoop(t *testing.T) {
	db := openRecorderDB(t)
	r := NewGroupRecorder(db)
	if err := r.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	r.Stop()

	// Must not panic or write after Stop.
	r.RecordLevel(cgate.GroupUpdate{Addr: testAddr(1), Level: 1})
	r.RecordGroup(testAddr(1), GroupInfo{Name: "x"})

	count, err := r.GroupCount(context.Background())
	if err != nil {
		t.Fatalf("GroupCount() failed: %v", err)
	}
	if count != 0 {
		t.Errorf("GroupCount() = %d after Stop, want 0", count)
	}
}

func TestGroupRecorderRecordModel(t *testing.T) {
	db := openRecorderDB(t)
	r := NewGroupRecorder(db)
	if err := r.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer r.Stop()

	m := &Model{
		Project: "HOME",
		Network: "254",
		Applications: map[int]Application{
			LightingApplication: {
				Type: "lighting",
				Groups: map[int]GroupInfo{
					1: {Name: "Kitchen", DeviceClass: ClassSwitch, IsLoad: true, Units: "12"},
					2: {Name: "Scene", DeviceClass: ClassKeypad},
				},
			},
		},
	}
	r.RecordModel(m)

	addrs, err := r.KnownAddresses(context.Background())
	if err != nil {
		t.Fatalf("KnownAddresses() failed: %v", err)
	}
	if len(addrs) != 2 {
		t.Errorf("KnownAddresses() = %v, want 2 entries", addrs)
	}
}
