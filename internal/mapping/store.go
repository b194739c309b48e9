// Package mapping implements the persistent real<->fake value store (spec
// §4.1): a SQLite-backed, bijective, per-kind mapping that keeps a given
// real value anonymized to the same fake value for the lifetime of the
// database, and two different real values from ever colliding onto the
// same fake one.
//
// The writer/reader connection split and WAL pragmas are grounded on
// tokenman's internal/store package; modernc.org/sqlite is used instead
// of a cgo driver for the same reason tokenman picked it — no CGO
// toolchain dependency at build time.
package mapping

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	_ "modernc.org/sqlite"

	"mcpshield/internal/detect"
	"mcpshield/internal/pseudonym"
)

// maxCollisionAttempts bounds the retry loop when a freshly drawn fake
// value already belongs to a different real value of the same kind.
const maxCollisionAttempts = 16

// ErrCollisionExhausted is returned when maxCollisionAttempts consecutive
// draws all collided with an existing mapping.
var ErrCollisionExhausted = errors.New("mapping: exhausted collision retry budget")

type cacheKey struct {
	kind detect.Kind
	real string
}

// Store is the persistent, cached real<->fake mapping table.
type Store struct {
	writer *sql.DB
	reader *sql.DB
	path   string

	gen *pseudonym.Generator
	log zerolog.Logger

	cache     *lru.Cache[cacheKey, string]
	closeOnce sync.Once
}

// Open opens (creating if necessary) the SQLite database at path, applies
// pending migrations, and wraps it in an lruSize-entry read-through cache.
func Open(path string, gen *pseudonym.Generator, lruSize int, log zerolog.Logger) (*Store, error) {
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("mapping: create directory %s: %w", dir, err)
		}
	}

	writerDSN := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	writer, err := sql.Open("sqlite", writerDSN)
	if err != nil {
		return nil, fmt.Errorf("mapping: open writer: %w", err)
	}
	writer.SetMaxOpenConns(1)
	writer.SetMaxIdleConns(1)
	writer.SetConnMaxLifetime(0)
	if err := writer.Ping(); err != nil {
		writer.Close()
		return nil, fmt.Errorf("mapping: ping writer: %w", err)
	}

	readerDSN := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=query_only(ON)"
	reader, err := sql.Open("sqlite", readerDSN)
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("mapping: open reader: %w", err)
	}
	reader.SetMaxOpenConns(4)
	reader.SetMaxIdleConns(4)
	if err := reader.Ping(); err != nil {
		writer.Close()
		reader.Close()
		return nil, fmt.Errorf("mapping: ping reader: %w", err)
	}

	cache, err := lru.New[cacheKey, string](lruSize)
	if err != nil {
		writer.Close()
		reader.Close()
		return nil, fmt.Errorf("mapping: new lru cache: %w", err)
	}

	s := &Store{
		writer: writer,
		reader: reader,
		path:   path,
		gen:    gen,
		log:    log,
		cache:  cache,
	}
	if err := s.Migrate(); err != nil {
		s.Close()
		return nil, fmt.Errorf("mapping: migrate: %w", err)
	}
	return s, nil
}

// Close releases both database connections; safe to call more than once.
func (s *Store) Close() error {
	var firstErr error
	s.closeOnce.Do(func() {
		if err := s.writer.Close(); err != nil {
			firstErr = err
		}
		if err := s.reader.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	})
	return firstErr
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// GetOrCreate returns the fake value mapped to real under kind, creating
// and persisting one if no mapping exists yet. Every lookup bumps
// last_used_at, even on a cache hit, by issuing a (cheap) writer update
// whose failure is only logged.
func (s *Store) GetOrCreate(kind detect.Kind, real string) (string, error) {
	key := cacheKey{kind, real}
	if fake, ok := s.cache.Get(key); ok {
		s.touch(kind, real)
		return fake, nil
	}

	fake, err := s.lookup(kind, real)
	if err != nil {
		return "", err
	}
	if fake != "" {
		s.cache.Add(key, fake)
		s.touch(kind, real)
		return fake, nil
	}

	fake, err = s.create(kind, real)
	if err != nil {
		return "", err
	}
	s.cache.Add(key, fake)
	return fake, nil
}

func (s *Store) lookup(kind detect.Kind, real string) (string, error) {
	var fake string
	err := s.reader.QueryRow(
		"SELECT fake FROM mappings WHERE kind = ? AND real = ?",
		string(kind), real,
	).Scan(&fake)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("mapping: lookup: %w", err)
	}
	return fake, nil
}

// create draws fresh fake values until one does not already belong to a
// different real value of the same kind, then inserts the mapping.
// Concurrent creators for the same (kind, real) are serialised by the
// writer's single connection; the PRIMARY KEY makes a duplicate INSERT
// fail cleanly rather than silently diverge.
func (s *Store) create(kind detect.Kind, real string) (string, error) {
	now := time.Now().Unix()

	for attempt := uint64(0); attempt < maxCollisionAttempts; attempt++ {
		candidate := s.gen.DrawAttempt(kind, real, attempt)
		if candidate == real {
			continue // a surrogate never equals the value it replaces
		}

		_, err := s.writer.Exec(
			`INSERT INTO mappings (kind, real, fake, created_at, last_used_at) VALUES (?, ?, ?, ?, ?)`,
			string(kind), real, candidate, now, now,
		)
		if err == nil {
			return candidate, nil
		}
		if !isUniqueViolation(err) {
			return "", fmt.Errorf("mapping: insert: %w", err)
		}

		// Either this (kind, real) was created concurrently (re-fetch wins),
		// or (kind, fake) collided with someone else's mapping (retry).
		if existing, lookupErr := s.lookup(kind, real); lookupErr == nil && existing != "" {
			return existing, nil
		}
		s.log.Warn().Str("kind", string(kind)).Uint64("attempt", attempt).Msg("mapping: fake value collision, retrying")
	}
	return "", ErrCollisionExhausted
}

func isUniqueViolation(err error) bool {
	// modernc.org/sqlite wraps sqlite3 error text rather than exposing typed
	// codes; matching on the driver's constraint message is how tokenman's
	// own store distinguishes collisions from other write failures.
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (s *Store) touch(kind detect.Kind, real string) {
	now := time.Now().Unix()
	if _, err := s.writer.Exec(
		"UPDATE mappings SET last_used_at = ? WHERE kind = ? AND real = ?",
		now, string(kind), real,
	); err != nil {
		s.log.Warn().Err(err).Msg("mapping: touch last_used_at failed")
	}
}

// Purge deletes mappings whose last_used_at is older than retentionDays,
// run once at startup and then on a periodic ticker (spec §4.1 TTL purge).
func (s *Store) Purge(retentionDays uint32) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -int(retentionDays)).Unix()
	result, err := s.writer.Exec("DELETE FROM mappings WHERE last_used_at <= ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("mapping: purge: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mapping: purge rows affected: %w", err)
	}
	if n > 0 {
		s.cache.Purge() // stale entries may linger in cache; cheap to drop them all
	}
	return n, nil
}

// RunPurgeLoop purges expired mappings once immediately, then on every
// tick of interval, until ctx is cancelled.
func (s *Store) RunPurgeLoop(ctx context.Context, interval time.Duration, retentionDays uint32) {
	if n, err := s.Purge(retentionDays); err != nil {
		s.log.Warn().Err(err).Msg("mapping: startup purge failed")
	} else if n > 0 {
		s.log.Info().Int64("rows", n).Msg("mapping: purged expired mappings")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := s.Purge(retentionDays); err != nil {
				s.log.Warn().Err(err).Msg("mapping: periodic purge failed")
			} else if n > 0 {
				s.log.Info().Int64("rows", n).Msg("mapping: purged expired mappings")
			}
		}
	}
}
