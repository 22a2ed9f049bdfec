// Package migrations compiles the gateway's SQL migration files into the
// binary, so a deployment is just the executable and a config file.
package migrations

import (
	"embed"

	"github.com/nerrad567/gray-logic-cbus/internal/infrastructure/database"
)

//go:embed *.sql
var files embed.FS

// Registration happens at import time; cmd/cbusgate blank-imports this
// package before calling Migrate.
func init() {
	database.MigrationsFS = files
	database.MigrationsDir = "."
}
