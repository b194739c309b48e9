// Package detect implements PII detection: a deterministic regex pass, an
// LLM classification pass, and a hybrid orchestrator that merges the two.
//
// All three variants satisfy the same Detector capability so the rewriter
// can treat them interchangeably.
package detect

import "sort"

// Kind classifies the type of sensitive data an Entity carries.
type Kind string

// Supported entity kinds.
const (
	KindPersonName Kind = "person_name"
	KindEmail      Kind = "email"
	KindPhone      Kind = "phone"
	KindSSN        Kind = "ssn"
	KindCreditCard Kind = "credit_card"
	KindIPAddress  Kind = "ip_address"
	KindHostname   Kind = "hostname"
	KindNodeName   Kind = "node_name"
	KindURL        Kind = "url"
)

// priority ranks kinds for overlap resolution, highest first, per spec
// §4.6: ssn > credit_card > email > phone > ip_address > url >
// person_name > hostname > node_name.
var priority = map[Kind]int{
	KindSSN:        9,
	KindCreditCard: 8,
	KindEmail:      7,
	KindPhone:      6,
	KindIPAddress:  5,
	KindURL:        4,
	KindPersonName: 3,
	KindHostname:   2,
	KindNodeName:   1,
}

// Entity is a single detected PII span within a text.
type Entity struct {
	Kind       Kind    `json:"type"`
	Value      string  `json:"value"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Confidence float32 `json:"confidence"`
}

// DetectionResult is an ordered, non-overlapping sequence of entities.
type DetectionResult struct {
	Entities []Entity
}

// Empty reports whether the result carries no entities.
func (r DetectionResult) Empty() bool { return len(r.Entities) == 0 }

// Detector is the capability shared by the regex, LLM, and hybrid
// detectors: find PII spans in a string.
type Detector interface {
	Detect(text string) DetectionResult
}

// NoopDetector finds nothing, for [detection].enabled = false: the proxy
// still runs its full frame pipeline, just never substitutes anything.
type NoopDetector struct{}

// Detect always returns an empty result.
func (NoopDetector) Detect(text string) DetectionResult { return DetectionResult{} }

// sortEntities orders entities by start ascending, ties broken by longer
// span first, then by higher confidence, then stably by kind. This is a
// presentation order only — the rewriter splices entities in ascending
// start order — and plays no part in overlap resolution.
func sortEntities(entities []Entity) {
	sort.SliceStable(entities, func(i, j int) bool {
		a, b := entities[i], entities[j]
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		lenA, lenB := a.End-a.Start, b.End-b.Start
		if lenA != lenB {
			return lenA > lenB
		}
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		return priority[a.Kind] > priority[b.Kind]
	})
}

// resolutionOrder ranks entities by the spec §4.6 overlap-resolution
// precedence: higher confidence first, then longer span, then earlier
// start, then higher kind priority. dedupeOverlaps walks entities in this
// order so a candidate's fate is always decided against this precedence,
// never against an unrelated presentation order.
func resolutionOrder(entities []Entity) {
	sort.SliceStable(entities, func(i, j int) bool {
		a, b := entities[i], entities[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		lenA, lenB := a.End-a.Start, b.End-b.Start
		if lenA != lenB {
			return lenA > lenB
		}
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		return priority[a.Kind] > priority[b.Kind]
	})
}

// overlaps reports whether two half-open spans [Start,End) intersect.
func overlaps(a, b Entity) bool {
	return a.Start < b.End && b.Start < a.End
}

// dedupeOverlaps resolves overlaps by precedence (spec §4.6: higher
// confidence, then longer span, then earlier start, then kind priority),
// comparing each candidate directly against every already-accepted entity
// it overlaps rather than relying on a confidence-insensitive
// presentation sort. Exact (kind, start, end) duplicates are dropped.
// The result is re-sorted into ascending-start presentation order before
// returning.
func dedupeOverlaps(entities []Entity) []Entity {
	ranked := append([]Entity(nil), entities...)
	resolutionOrder(ranked)

	var accepted []Entity
	seen := make(map[[3]int]bool, len(ranked))

	for _, cand := range ranked {
		key := [3]int{kindIndex(cand.Kind), cand.Start, cand.End}
		if seen[key] {
			continue
		}
		seen[key] = true

		blocked := false
		for _, acc := range accepted {
			if overlaps(cand, acc) {
				blocked = true
				break
			}
		}
		if !blocked {
			accepted = append(accepted, cand)
		}
	}

	sortEntities(accepted)
	return accepted
}

// kindIndex gives a stable integer for a Kind so it can be used as a map
// key alongside integer offsets.
func kindIndex(k Kind) int {
	if p, ok := priority[k]; ok {
		return p
	}
	return 0
}

// Merge unions entity slices from multiple detector passes, resolves
// overlaps by (higher confidence, longer span, earlier start, kind
// priority), and deduplicates exact (kind, start, end) triples.
func Merge(results ...DetectionResult) DetectionResult {
	var all []Entity
	for _, r := range results {
		all = append(all, r.Entities...)
	}
	return DetectionResult{Entities: dedupeOverlaps(all)}
}
