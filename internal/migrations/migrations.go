package migrations

import "github.com/uptrace/bun/migrate"

// Migrations collects every schema migration. Files register themselves in init.
var Migrations = migrate.NewMigrations()
