package database

import (
	"context"
	"embed"
	"testing"
	"time"
)

//go:embed testdata/*.sql
var testMigrationsFS embed.FS

// useTestMigrations points the package at the testdata migration files for
// the duration of one test.
func useTestMigrations(t *testing.T) {
	t.Helper()

	origFS, origDir := MigrationsFS, MigrationsDir
	t.Cleanup(func() {
		MigrationsFS = origFS
		MigrationsDir = origDir
	})

	MigrationsFS = testMigrationsFS
	MigrationsDir = "testdata"
}

func TestMigrate(t *testing.T) {
	useTestMigrations(t)
	db := openTestDB(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	var tableName string
	err := db.QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type='table' AND name='cbus_groups'",
	).Scan(&tableName)
	if err != nil {
		t.Fatalf("table cbus_groups not created: %v", err)
	}

	applied, err := db.appliedRecords(ctx)
	if err != nil {
		t.Fatalf("appliedRecords() error = %v", err)
	}
	if len(applied) != 1 {
		t.Fatalf("applied migrations = %d, want 1", len(applied))
	}
	if applied[0].Version != "20260301_100000" {
		t.Errorf("Version = %q, want 20260301_100000", applied[0].Version)
	}
	if applied[0].AppliedAt.IsZero() {
		t.Error("AppliedAt not recorded")
	}

	// Idempotent: running again applies nothing and fails nothing
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
	applied, err = db.appliedRecords(ctx)
	if err != nil {
		t.Fatalf("appliedRecords() error = %v", err)
	}
	if len(applied) != 1 {
		t.Errorf("applied migrations after rerun = %d, want 1", len(applied))
	}
}

func TestMigrateDown(t *testing.T) {
	useTestMigrations(t)
	db := openTestDB(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := db.MigrateDown(ctx); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}

	var count int
	err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='cbus_groups'",
	).Scan(&count)
	if err != nil {
		t.Fatalf("query error: %v", err)
	}
	if count != 0 {
		t.Error("cbus_groups should have been dropped")
	}

	applied, err := db.appliedRecords(ctx)
	if err != nil {
		t.Fatalf("appliedRecords() error = %v", err)
	}
	if len(applied) != 0 {
		t.Errorf("applied migrations after rollback = %d, want 0", len(applied))
	}

	// Rolling back an empty database is a no-op
	if err := db.MigrateDown(ctx); err != nil {
		t.Fatalf("MigrateDown() on empty database error = %v", err)
	}
}

func TestMigrateNoEmbeddedFiles(t *testing.T) {
	origFS, origDir := MigrationsFS, MigrationsDir
	t.Cleanup(func() {
		MigrationsFS = origFS
		MigrationsDir = origDir
	})

	var emptyFS embed.FS
	MigrationsFS = emptyFS
	MigrationsDir = "."

	db := openTestDB(t)

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() with no migrations error = %v", err)
	}
}

func TestMigrationFilenameParsing(t *testing.T) {
	tests := []struct {
		filename    string
		wantVersion string
		wantName    string
		wantDir     string
		wantMatch   bool
	}{
		{"20260301_100000_cbus_groups.up.sql", "20260301_100000", "cbus_groups", "up", true},
		{"20260301_100000_cbus_groups.down.sql", "20260301_100000", "cbus_groups", "down", true},
		{"20260301_100000_add_zone_column.up.sql", "20260301_100000", "add_zone_column", "up", true},
		{"readme.txt", "", "", "", false},
		{"20260301_100000_missing_direction.sql", "", "", "", false},
		{"nodate.up.sql", "", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			m := migrationFileRE.FindStringSubmatch(tt.filename)
			if (m != nil) != tt.wantMatch {
				t.Fatalf("match = %v, want %v", m != nil, tt.wantMatch)
			}
			if m == nil {
				return
			}
			if m[1] != tt.wantVersion || m[2] != tt.wantName || m[3] != tt.wantDir {
				t.Errorf("captures = %q/%q/%q, want %q/%q/%q",
					m[1], m[2], m[3], tt.wantVersion, tt.wantName, tt.wantDir)
			}
		})
	}
}

func TestLoadMigrationsPairsFiles(t *testing.T) {
	useTestMigrations(t)

	migrations, err := loadMigrations()
	if err != nil {
		t.Fatalf("loadMigrations() error = %v", err)
	}
	if len(migrations) != 1 {
		t.Fatalf("migrations = %d, want 1", len(migrations))
	}

	m := migrations[0]
	if m.Name != "cbus_groups" {
		t.Errorf("Name = %q, want cbus_groups", m.Name)
	}
	if m.UpSQL == "" || m.DownSQL == "" {
		t.Errorf("up/down SQL not both loaded: up=%d bytes down=%d bytes",
			len(m.UpSQL), len(m.DownSQL))
	}
}
