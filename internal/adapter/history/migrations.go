// Package history содержит долговременные реализации scheduler.HistoryStore
// на SQLite и PostgreSQL.
package history

import "embed"

// Migrations содержит схемы для обоих бэкендов.
//
//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var Migrations embed.FS

const (
	sqliteMigrationsDir   = "migrations/sqlite"
	postgresMigrationsDir = "migrations/postgres"
)
