package mapping

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// migration represents a single forward-only schema migration step.
type migration struct {
	Version int
	SQL     string
}

// migrations is the ordered list of all migrations; version 1 applies
// allSchemas as a whole. Schema changes are additive only — never rewrite
// a released migration, append a new version instead.
var migrations = []migration{
	{Version: 1, SQL: ""}, // handled specially: applies allSchemas
}

// latestKnownVersion is the highest schema version this binary knows how
// to read and write.
func latestKnownVersion() int {
	latest := 0
	for _, m := range migrations {
		if m.Version > latest {
			latest = m.Version
		}
	}
	return latest
}

// ErrSchemaTooNew is returned when the database's schema_version is ahead
// of the highest version this binary knows about — spec §4.1 requires
// refusing to open a database written by a newer binary rather than
// silently operating on an unrecognized schema.
var ErrSchemaTooNew = errors.New("mapping: database schema is newer than this binary supports")

// Migrate brings the database up to the latest schema version, applying
// each pending migration inside its own transaction.
func (s *Store) Migrate() error {
	if _, err := s.writer.Exec(schemaVersionTable); err != nil {
		return fmt.Errorf("mapping: create schema_version table: %w", err)
	}

	current, err := s.currentVersion()
	if err != nil {
		return fmt.Errorf("mapping: read schema version: %w", err)
	}
	if latest := latestKnownVersion(); current > latest {
		return fmt.Errorf("%w: database is at v%d, binary supports up to v%d", ErrSchemaTooNew, current, latest)
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		if err := s.applyMigration(m); err != nil {
			return fmt.Errorf("mapping: migration v%d: %w", m.Version, err)
		}
	}
	return nil
}

func (s *Store) currentVersion() (int, error) {
	var version int
	err := s.writer.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		return 0, err
	}
	return version, nil
}

func (s *Store) applyMigration(m migration) error {
	tx, err := s.writer.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	if m.Version == 1 {
		if err := applyInitialSchema(tx); err != nil {
			return err
		}
	} else if m.SQL != "" {
		if _, err := tx.Exec(m.SQL); err != nil {
			return err
		}
	}

	_, err = tx.Exec(
		"INSERT INTO schema_version (version, applied_at) VALUES (?, ?)",
		m.Version, time.Now().Unix(),
	)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func applyInitialSchema(tx *sql.Tx) error {
	for _, ddl := range allSchemas {
		if _, err := tx.Exec(ddl); err != nil {
			return fmt.Errorf("exec schema: %w", err)
		}
	}
	return nil
}
