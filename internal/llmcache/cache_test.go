package llmcache

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"mcpshield/internal/detect"
)

func TestFingerprint_Stable(t *testing.T) {
	a := Fingerprint("default", "qwen2.5:3b", "call support at 555-0142")
	b := Fingerprint("default", "qwen2.5:3b", "call support at 555-0142")
	if a != b {
		t.Fatalf("fingerprint not stable: %q != %q", a, b)
	}

	c := Fingerprint("default", "qwen2.5:3b", "a different sentence")
	if a == c {
		t.Fatal("distinct text produced the same fingerprint")
	}
}

func TestCache_StoreLookup_Memory(t *testing.T) {
	c, err := Open("", 16, zerolog.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	want := detect.DetectionResult{Entities: []detect.Entity{
		{Kind: detect.KindEmail, Value: "a@b.com", Start: 0, End: 7, Confidence: 0.9},
	}}
	fp := Fingerprint("default", "m", "text")
	c.Store(fp, want)

	got, ok := c.Lookup(fp)
	if !ok {
		t.Fatal("expected cache hit")
	}
	if len(got.Entities) != 1 || got.Entities[0].Value != "a@b.com" {
		t.Fatalf("unexpected cached result: %+v", got)
	}
}

func TestCache_Lookup_Miss(t *testing.T) {
	c, err := Open("", 16, zerolog.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	if _, ok := c.Lookup("nonexistent"); ok {
		t.Fatal("expected miss on empty cache")
	}
}

func TestCache_SurvivesBboltReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "llm-cache.db")

	c1, err := Open(path, 16, zerolog.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	fp := Fingerprint("default", "m", "persisted text")
	want := detect.DetectionResult{Entities: []detect.Entity{
		{Kind: detect.KindPhone, Value: "555-0101", Start: 0, End: 8, Confidence: 1},
	}}
	c1.Store(fp, want)
	if err := c1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	c2, err := Open(path, 16, zerolog.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer c2.Close()

	got, ok := c2.Lookup(fp)
	if !ok {
		t.Fatal("expected hit after reopen")
	}
	if got.Entities[0].Value != "555-0101" {
		t.Fatalf("unexpected value after reopen: %+v", got)
	}
}

func TestS3FIFOStore_CapacityBounded(t *testing.T) {
	backing := newMemoryStore()
	store := newS3FIFOStore(backing, 10, zerolog.Nop())

	for i := 0; i < 50; i++ {
		store.Set(string(rune('a'+i%26))+"-key", []byte("v"))
	}

	resident := 0
	s := store.(*s3fifoStore)
	s.mu.Lock()
	resident = len(s.entries)
	s.mu.Unlock()
	if resident > 10 {
		t.Fatalf("resident set exceeded capacity: %d > 10", resident)
	}
}
