package queue

import (
	_ "embed"
	"fmt"
)

//go:embed schema_sqlite.sql
var sqliteSchemaSQL string

//go:embed schema_postgres.sql
var postgresSchemaSQL string

// schemaVersion is the current schema version. Bump this when the schema changes.
// Operators clear the queue database after schema changes.
const schemaVersion = 1

func schemaMismatch(found int) error {
	return fmt.Errorf("%w: database has version %d, expected %d (remove the queue database or drop the jobs table)",
		ErrSchemaMismatch, found, schemaVersion)
}
