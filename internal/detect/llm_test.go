package detect

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"mcpshield/internal/llmcache"
	"mcpshield/internal/prompts"
)

func newTestLoader(t *testing.T) *prompts.Loader {
	t.Helper()
	l, err := prompts.NewLoader(t.TempDir(), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	return l
}

func newTestCache(t *testing.T) *llmcache.Cache {
	t.Helper()
	c, err := llmcache.Open("", 16, zerolog.Nop())
	if err != nil {
		t.Fatalf("llmcache.Open: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestLLMDetector_ParsesAndPostProcesses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inner, _ := json.Marshal(llmEntities{Entities: []llmEntity{
			{Type: "email", Value: "alice@example.com", Start: 999, End: 999, Confidence: 0.95},
			{Type: "person_name", Value: "nonexistent in text", Start: 0, End: 0, Confidence: 0.95},
			{Type: "phone", Value: "555-0101", Start: 0, End: 0, Confidence: 0.1}, // below threshold
		}})
		resp, _ := json.Marshal(llmResponse{Response: string(inner)})
		w.Write(resp) //nolint:errcheck
	}))
	defer srv.Close()

	d := NewLLMDetector(srv.URL, "test-model", "default", 5*time.Second, 0.5, 4000,
		newTestLoader(t), newTestCache(t), zerolog.Nop())

	result := d.Detect("email alice@example.com please, 555-0101")
	if len(result.Entities) != 1 {
		t.Fatalf("expected exactly 1 validated entity, got %+v", result.Entities)
	}
	e := result.Entities[0]
	if e.Kind != KindEmail || e.Value != "alice@example.com" {
		t.Fatalf("unexpected surviving entity: %+v", e)
	}
	if e.Start != 6 || e.End != 6+len(e.Value) {
		t.Fatalf("offsets not recomputed by literal search: %+v", e)
	}
}

func TestLLMDetector_MalformedResponseIsEmptyNotFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json")) //nolint:errcheck
	}))
	defer srv.Close()

	d := NewLLMDetector(srv.URL, "test-model", "default", 5*time.Second, 0.5, 4000,
		newTestLoader(t), newTestCache(t), zerolog.Nop())

	result := d.Detect("some text")
	if !result.Empty() {
		t.Fatalf("expected empty result on malformed response, got %+v", result.Entities)
	}
}

func TestLLMDetector_SizeGateBypassesRequest(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	d := NewLLMDetector(srv.URL, "test-model", "default", 5*time.Second, 0.5, 4,
		newTestLoader(t), newTestCache(t), zerolog.Nop())

	d.Detect("this text exceeds the 4-byte gate")
	if called {
		t.Fatal("expected the size gate to bypass the LLM entirely")
	}
}

func TestLLMDetector_CachesResult(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		inner, _ := json.Marshal(llmEntities{Entities: []llmEntity{
			{Type: "email", Value: "a@b.com", Confidence: 0.9},
		}})
		resp, _ := json.Marshal(llmResponse{Response: string(inner)})
		w.Write(resp) //nolint:errcheck
	}))
	defer srv.Close()

	d := NewLLMDetector(srv.URL, "test-model", "default", 5*time.Second, 0.5, 4000,
		newTestLoader(t), newTestCache(t), zerolog.Nop())

	text := "contact a@b.com"
	d.Detect(text)
	d.Detect(text)
	if hits != 1 {
		t.Fatalf("expected cache hit on second call, server was hit %d times", hits)
	}
}
