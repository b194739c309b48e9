package detect

import "testing"

func TestNoopDetector_AlwaysEmpty(t *testing.T) {
	var d NoopDetector
	if !d.Detect("alice@example.com, 123-45-6789").Empty() {
		t.Fatal("expected NoopDetector to find nothing")
	}
}

func TestMerge_DeduplicatesExactTriples(t *testing.T) {
	a := DetectionResult{Entities: []Entity{{Kind: KindEmail, Start: 0, End: 5, Confidence: 0.9}}}
	b := DetectionResult{Entities: []Entity{{Kind: KindEmail, Start: 0, End: 5, Confidence: 0.9}}}

	merged := Merge(a, b)
	if len(merged.Entities) != 1 {
		t.Fatalf("expected 1 entity after dedup, got %d", len(merged.Entities))
	}
}

func TestMerge_OverlapResolvedByPriority(t *testing.T) {
	// Same span and confidence, so kind priority decides: SSN (priority 9)
	// should win over person_name (priority 3).
	ssn := DetectionResult{Entities: []Entity{{Kind: KindSSN, Start: 0, End: 11, Confidence: 1.0}}}
	name := DetectionResult{Entities: []Entity{{Kind: KindPersonName, Start: 0, End: 11, Confidence: 1.0}}}

	merged := Merge(ssn, name)
	if len(merged.Entities) != 1 {
		t.Fatalf("expected overlap collapsed to 1 entity, got %d: %+v", len(merged.Entities), merged.Entities)
	}
	if merged.Entities[0].Kind != KindSSN {
		t.Fatalf("expected ssn to win overlap, got %v", merged.Entities[0].Kind)
	}
}

func TestMerge_OverlapResolvedByConfidenceOverStart(t *testing.T) {
	// a starts earlier but has lower confidence than the later-starting,
	// overlapping b; b must win even though a would sort first by start.
	a := DetectionResult{Entities: []Entity{{Kind: KindPersonName, Start: 0, End: 15, Confidence: 0.6}}}
	b := DetectionResult{Entities: []Entity{{Kind: KindPersonName, Start: 8, End: 20, Confidence: 0.95}}}

	merged := Merge(a, b)
	if len(merged.Entities) != 1 {
		t.Fatalf("expected overlap collapsed to 1 entity, got %d: %+v", len(merged.Entities), merged.Entities)
	}
	if merged.Entities[0].Start != 8 || merged.Entities[0].Confidence != 0.95 {
		t.Fatalf("expected higher-confidence entity to win overlap, got %+v", merged.Entities[0])
	}
}

func TestMerge_NonOverlappingKept(t *testing.T) {
	a := DetectionResult{Entities: []Entity{{Kind: KindEmail, Start: 0, End: 5, Confidence: 1}}}
	b := DetectionResult{Entities: []Entity{{Kind: KindPhone, Start: 10, End: 20, Confidence: 1}}}

	merged := Merge(a, b)
	if len(merged.Entities) != 2 {
		t.Fatalf("expected both entities kept, got %d", len(merged.Entities))
	}
}

func TestMerge_AscendingStartOrder(t *testing.T) {
	a := DetectionResult{Entities: []Entity{
		{Kind: KindPhone, Start: 20, End: 30, Confidence: 1},
		{Kind: KindEmail, Start: 0, End: 5, Confidence: 1},
	}}
	merged := Merge(a)
	if merged.Entities[0].Start > merged.Entities[1].Start {
		t.Fatalf("entities not in ascending start order: %+v", merged.Entities)
	}
}
