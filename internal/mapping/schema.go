package mapping

// SQL schema for the persistent real<->fake mapping table.

// schemaMappings matches spec.md §6's literal SQL schema: mappings(kind,
// real, fake, created_at, last_used_at) with created_at/last_used_at as
// Unix INTEGER timestamps, not TEXT.
const schemaMappings = `
CREATE TABLE IF NOT EXISTS mappings (
    kind TEXT NOT NULL,
    real TEXT NOT NULL,
    fake TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    last_used_at INTEGER NOT NULL,
    PRIMARY KEY (kind, real)
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_mappings_kind_fake ON mappings(kind, fake);
CREATE INDEX IF NOT EXISTS idx_mappings_last_used ON mappings(last_used_at);
`

// schemaVersionTable matches spec.md §6's schema_version(version INT)
// table, used to gate forward-only migrations.
const schemaVersionTable = `
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at INTEGER NOT NULL
);
`

// allSchemas is the ordered list of DDL statements that form schema
// version 1. Later versions, if any, are additive ALTER TABLE migrations
// appended to the migrations slice in migrations.go — this list is never
// edited after release.
var allSchemas = []string{
	schemaVersionTable,
	schemaMappings,
}
