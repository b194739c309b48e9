// S3-FIFO ("Simple, Scalable, FIFO-based cache eviction", Yang et al.,
// 2023) in-memory layer in front of a backingStore, adapted from the
// teacher's internal/anonymizer/s3fifo_cache.go with the cached value
// type widened from string to []byte.
//
// Two FIFO queues and a bounded ghost set:
//
//   - S (small, ~10% of capacity): probationary queue. New keys land here.
//   - M (main, ~90% of capacity): protected queue. Promoted from S after
//     at least one access (freq > 0).
//   - G (ghost): bounded ring of keys recently evicted from S. A key
//     found in G on insert bypasses S and goes straight to M.
//
// Per-key state: saturating frequency counter (uint8, max 3), incremented
// on every Get hit, reset to 0 on M promotion. Evictions from either
// queue delete the key from the backing store, so on-disk size stays
// bounded.
package llmcache

import (
	"container/list"
	"sync"

	"github.com/rs/zerolog"
)

type s3fifoEntry struct {
	value []byte
	freq  uint8
	elem  *list.Element
	inM   bool
}

type s3fifoStore struct {
	mu sync.Mutex

	capacity int
	sTarget  int
	ghostCap int

	entries map[string]*s3fifoEntry
	sQueue  *list.List
	mQueue  *list.List

	ghostBuf   []string
	ghostSet   map[string]struct{}
	ghostHead  int
	ghostCount int

	backing backingStore
	log     zerolog.Logger
}

// newS3FIFOStore returns a backingStore applying S3-FIFO eviction in
// front of backing. capacity below 2 is clamped to 2.
func newS3FIFOStore(backing backingStore, capacity int, log zerolog.Logger) backingStore {
	if capacity < 2 {
		capacity = 2
	}
	sTarget := capacity / 10
	if sTarget < 1 {
		sTarget = 1
	}
	ghostCap := 2 * sTarget
	if ghostCap < 4 {
		ghostCap = 4
	}
	return &s3fifoStore{
		capacity: capacity,
		sTarget:  sTarget,
		ghostCap: ghostCap,
		entries:  make(map[string]*s3fifoEntry, capacity),
		sQueue:   list.New(),
		mQueue:   list.New(),
		ghostBuf: make([]string, ghostCap),
		ghostSet: make(map[string]struct{}, ghostCap),
		backing:  backing,
		log:      log,
	}
}

func (c *s3fifoStore) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		if e.freq < 3 {
			e.freq++
		}
		v := e.value
		c.mu.Unlock()
		return v, true
	}
	c.mu.Unlock()

	value, ok := c.backing.Get(key)
	if !ok {
		return nil, false
	}
	c.insertLocked(key, value)
	return value, true
}

func (c *s3fifoStore) Set(key string, value []byte) {
	c.insertLocked(key, value)
	c.backing.Set(key, value)
}

func (c *s3fifoStore) Delete(key string) {
	c.mu.Lock()
	c.removeFromMemory(key)
	c.mu.Unlock()
	c.backing.Delete(key)
}

func (c *s3fifoStore) Close() error { return c.backing.Close() }

func (c *s3fifoStore) insertLocked(key string, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		return
	}

	inM := c.ghostContains(key)
	var elem *list.Element
	if inM {
		elem = c.mQueue.PushBack(key)
	} else {
		elem = c.sQueue.PushBack(key)
	}
	c.entries[key] = &s3fifoEntry{value: value, freq: 0, elem: elem, inM: inM}

	for c.sQueue.Len()+c.mQueue.Len() > c.capacity {
		c.evictOne()
	}
}

func (c *s3fifoStore) evictOne() {
	if c.sQueue.Len() > 0 {
		c.evictFromS()
		return
	}
	c.evictFromM()
}

func (c *s3fifoStore) evictFromS() {
	front := c.sQueue.Front()
	if front == nil {
		return
	}
	key, ok := front.Value.(string)
	if !ok {
		c.sQueue.Remove(front)
		return
	}
	c.sQueue.Remove(front)

	e, ok := c.entries[key]
	if !ok {
		return
	}

	if e.freq > 0 {
		e.freq = 0
		e.inM = true
		e.elem = c.mQueue.PushBack(key)
		mTarget := c.capacity - c.sTarget
		if c.mQueue.Len() > mTarget {
			c.evictFromM()
		}
	} else {
		delete(c.entries, key)
		c.ghostAdd(key)
		go c.backing.Delete(key)
	}
}

func (c *s3fifoStore) evictFromM() {
	front := c.mQueue.Front()
	if front == nil {
		return
	}
	key, ok := front.Value.(string)
	if !ok {
		c.mQueue.Remove(front)
		return
	}
	c.mQueue.Remove(front)
	delete(c.entries, key)
	go c.backing.Delete(key)
}

func (c *s3fifoStore) removeFromMemory(key string) {
	e, ok := c.entries[key]
	if !ok {
		return
	}
	if e.inM {
		c.mQueue.Remove(e.elem)
	} else {
		c.sQueue.Remove(e.elem)
	}
	delete(c.entries, key)
}

func (c *s3fifoStore) ghostContains(key string) bool {
	_, ok := c.ghostSet[key]
	return ok
}

func (c *s3fifoStore) ghostAdd(key string) {
	if _, exists := c.ghostSet[key]; exists {
		return
	}
	if c.ghostCount == c.ghostCap {
		oldest := c.ghostBuf[c.ghostHead]
		delete(c.ghostSet, oldest)
		c.ghostHead = (c.ghostHead + 1) % c.ghostCap
		c.ghostCount--
	}
	writeIdx := (c.ghostHead + c.ghostCount) % c.ghostCap
	c.ghostBuf[writeIdx] = key
	c.ghostSet[key] = struct{}{}
	c.ghostCount++
}
