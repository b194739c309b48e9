// Package metrics provides lightweight, lock-minimal performance counters
// for the MCP PII proxy.
//
// Counters use sync/atomic so hot paths (frame handling, entity
// substitution) incur no mutex contention. Latency statistics use a
// single mutex per dimension; they are updated at most once per frame.
package metrics

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics holds all runtime counters for a running proxy instance.
// The zero value is valid and ready to use; prefer New() for clarity.
type Metrics struct {
	// Frame counters
	FramesIn      atomic.Int64
	FramesOut     atomic.Int64
	FramesDropped atomic.Int64 // FrameTooLarge, torn-down streams

	// Detection counters
	EntitiesDetected   atomic.Int64
	EntitiesSubstituted atomic.Int64
	RegexOnlyHits      atomic.Int64
	LLMDispatches      atomic.Int64
	LLMErrors          atomic.Int64
	LLMCacheHits       atomic.Int64
	LLMCacheMisses     atomic.Int64

	// Mapping store counters
	MappingCollisions atomic.Int64
	MappingDBErrors    atomic.Int64

	// Latency statistics (mutex-guarded because they accumulate floats)
	anonMu   sync.Mutex
	anonStat latencyStats

	llmMu   sync.Mutex
	llmStat latencyStats

	startTime time.Time
}

// New returns a new Metrics with the start time recorded.
func New() *Metrics {
	return &Metrics{startTime: time.Now()}
}

// RecordAnonLatency records the duration of one frame's detect+rewrite pass.
func (m *Metrics) RecordAnonLatency(d time.Duration) {
	m.anonMu.Lock()
	m.anonStat.record(float64(d.Microseconds()) / 1000.0)
	m.anonMu.Unlock()
}

// RecordLLMLatency records the round-trip time to the LLM classification endpoint.
func (m *Metrics) RecordLLMLatency(d time.Duration) {
	m.llmMu.Lock()
	m.llmStat.record(float64(d.Microseconds()) / 1000.0)
	m.llmMu.Unlock()
}

// Snapshot returns a point-in-time copy of all metrics, safe for JSON encoding.
func (m *Metrics) Snapshot() Snapshot {
	m.anonMu.Lock()
	anon := m.anonStat.snapshot()
	m.anonMu.Unlock()

	m.llmMu.Lock()
	llm := m.llmStat.snapshot()
	m.llmMu.Unlock()

	return Snapshot{
		Frames: FrameSnapshot{
			In:      m.FramesIn.Load(),
			Out:     m.FramesOut.Load(),
			Dropped: m.FramesDropped.Load(),
		},
		Detection: DetectionSnapshot{
			EntitiesDetected:    m.EntitiesDetected.Load(),
			EntitiesSubstituted: m.EntitiesSubstituted.Load(),
			RegexOnlyHits:       m.RegexOnlyHits.Load(),
			LLMDispatches:       m.LLMDispatches.Load(),
			LLMErrors:           m.LLMErrors.Load(),
			LLMCacheHits:        m.LLMCacheHits.Load(),
			LLMCacheMisses:      m.LLMCacheMisses.Load(),
		},
		Mapping: MappingSnapshot{
			Collisions: m.MappingCollisions.Load(),
			DBErrors:   m.MappingDBErrors.Load(),
		},
		Latency: LatencyGroup{
			AnonymizationMs: anon,
			LLMMs:           llm,
		},
		UptimeSecs: time.Since(m.startTime).Seconds(),
	}
}

// --- JSON-serialisable snapshot types ---

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Frames     FrameSnapshot     `json:"frames"`
	Detection  DetectionSnapshot `json:"detection"`
	Mapping    MappingSnapshot   `json:"mapping"`
	Latency    LatencyGroup      `json:"latency"`
	UptimeSecs float64           `json:"uptimeSecs"`
}

// FrameSnapshot holds JSON-RPC frame counters.
type FrameSnapshot struct {
	In      int64 `json:"in"`
	Out     int64 `json:"out"`
	Dropped int64 `json:"dropped"`
}

// DetectionSnapshot holds detector/cache counters.
type DetectionSnapshot struct {
	EntitiesDetected    int64 `json:"entitiesDetected"`
	EntitiesSubstituted int64 `json:"entitiesSubstituted"`
	RegexOnlyHits       int64 `json:"regexOnlyHits"`
	LLMDispatches       int64 `json:"llmDispatches"`
	LLMErrors           int64 `json:"llmErrors"`
	LLMCacheHits        int64 `json:"llmCacheHits"`
	LLMCacheMisses      int64 `json:"llmCacheMisses"`
}

// MappingSnapshot holds mapping-store counters.
type MappingSnapshot struct {
	Collisions int64 `json:"collisions"`
	DBErrors   int64 `json:"dbErrors"`
}

// LatencyGroup groups the two latency dimensions.
type LatencyGroup struct {
	AnonymizationMs LatencySnapshot `json:"anonymizationMs"`
	LLMMs           LatencySnapshot `json:"llmMs"`
}

// LatencySnapshot is a min/mean/max summary for one latency dimension.
type LatencySnapshot struct {
	Count  int64   `json:"count"`
	MinMs  float64 `json:"minMs"`
	MeanMs float64 `json:"meanMs"`
	MaxMs  float64 `json:"maxMs"`
}

// --- internal accumulator ---

type latencyStats struct {
	count int64
	sum   float64
	min   float64
	max   float64
}

func (s *latencyStats) record(ms float64) {
	s.count++
	s.sum += ms
	if s.count == 1 || ms < s.min {
		s.min = ms
	}
	if ms > s.max {
		s.max = ms
	}
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func (s *latencyStats) snapshot() LatencySnapshot {
	if s.count == 0 {
		return LatencySnapshot{}
	}
	return LatencySnapshot{
		Count:  s.count,
		MinMs:  round2(s.min),
		MeanMs: round2(s.sum / float64(s.count)),
		MaxMs:  round2(s.max),
	}
}
