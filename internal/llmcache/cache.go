// Package llmcache is the persistent memoization layer for LLM detection
// results (spec §4.3): hash(prompt_template_id ⊕ model ⊕ text) ->
// DetectionResult, so identical text is not re-classified by the LLM
// detector while its entry is still cached (an entry evicted by the
// S3-FIFO layer is deleted from the backing store too).
//
// Adapted from the teacher's internal/anonymizer cache.go/s3fifo_cache.go
// pair, which memoized Ollama-assigned tokens the same way: a bbolt
// backing store fronted by an in-memory S3-FIFO eviction layer. Values
// here are JSON-encoded detect.DetectionResult blobs instead of bare
// token strings.
package llmcache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"
	"github.com/rs/zerolog"

	"mcpshield/internal/detect"
)

// backingStore is the on-disk persistence interface. Two implementations
// are provided: bboltStore (production) and memoryStore (tests, or any
// Open with an empty path).
type backingStore interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte)
	Delete(key string)
	Close() error
}

// Cache is the read-through LLM detection result cache.
type Cache struct {
	s3fifo backingStore
	log    zerolog.Logger
}

// Open opens (or creates) a cache backed by a bbolt database at path,
// fronted by an S3-FIFO layer bounding the hot set to capacity entries.
// An empty path yields a memory-only cache.
func Open(path string, capacity int, log zerolog.Logger) (*Cache, error) {
	var backing backingStore
	if path == "" {
		backing = newMemoryStore()
	} else {
		b, err := newBboltStore(path)
		if err != nil {
			return nil, err
		}
		backing = b
	}
	return &Cache{s3fifo: newS3FIFOStore(backing, capacity, log), log: log}, nil
}

// Close releases the backing store's resources.
func (c *Cache) Close() error { return c.s3fifo.Close() }

// Fingerprint computes the cache key for a (prompt template, model, text)
// triple: sha256(templateID ‖ 0x00 ‖ model ‖ 0x00 ‖ text), hex-encoded.
func Fingerprint(templateID, model, text string) string {
	h := sha256.New()
	h.Write([]byte(templateID))
	h.Write([]byte{0})
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

// Lookup returns the cached DetectionResult for fingerprint, if present.
func (c *Cache) Lookup(fingerprint string) (detect.DetectionResult, bool) {
	raw, ok := c.s3fifo.Get(fingerprint)
	if !ok {
		return detect.DetectionResult{}, false
	}
	var result detect.DetectionResult
	if err := json.Unmarshal(raw, &result); err != nil {
		c.log.Warn().Err(err).Msg("llmcache: corrupt cache entry, treating as miss")
		return detect.DetectionResult{}, false
	}
	return result, true
}

// Store persists result under fingerprint.
func (c *Cache) Store(fingerprint string, result detect.DetectionResult) {
	raw, err := json.Marshal(result)
	if err != nil {
		c.log.Warn().Err(err).Msg("llmcache: marshal detection result")
		return
	}
	c.s3fifo.Set(fingerprint, raw)
}

// --- memoryStore -----------------------------------------------------------

type memoryStore struct {
	data map[string][]byte
}

func newMemoryStore() backingStore {
	return &memoryStore{data: make(map[string][]byte)}
}

func (m *memoryStore) Get(key string) ([]byte, bool) { v, ok := m.data[key]; return v, ok }
func (m *memoryStore) Set(key string, value []byte)  { m.data[key] = value }
func (m *memoryStore) Delete(key string)             { delete(m.data, key) }
func (m *memoryStore) Close() error                  { return nil }

// --- bboltStore --------------------------------------------------------------

const bboltBucket = "llm_detection_cache"

type bboltStore struct {
	db *bolt.DB
}

func newBboltStore(path string) (backingStore, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("llmcache: open bbolt %q: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bboltBucket))
		return err
	}); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("llmcache: create bucket: %w", err)
	}
	return &bboltStore{db: db}, nil
}

func (s *bboltStore) Get(key string) ([]byte, bool) {
	var value []byte
	_ = s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bboltBucket))
		if b == nil {
			return nil
		}
		if v := b.Get([]byte(key)); v != nil {
			value = append([]byte(nil), v...)
		}
		return nil
	})
	return value, value != nil
}

func (s *bboltStore) Set(key string, value []byte) {
	_ = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bboltBucket))
		if b == nil {
			return fmt.Errorf("bucket %q not found", bboltBucket)
		}
		return b.Put([]byte(key), value)
	})
}

func (s *bboltStore) Delete(key string) {
	_ = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bboltBucket))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(key))
	})
}

func (s *bboltStore) Close() error { return s.db.Close() }
