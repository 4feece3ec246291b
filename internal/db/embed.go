// Package db holds the SQL schema applied by internal/db/migrate.
package db

import "embed"

// MigrationFS embeds the SQL migration files.
//
//go:embed migrations/*.sql
var MigrationFS embed.FS
