package detect

import "testing"

func TestRegexDetector_Builtins(t *testing.T) {
	d, err := NewRegexDetector(nil)
	if err != nil {
		t.Fatalf("NewRegexDetector: %v", err)
	}

	result := d.Detect("contact alice@example.com or 192.168.1.5")
	if result.Empty() {
		t.Fatal("expected matches")
	}

	var sawEmail, sawIP bool
	for _, e := range result.Entities {
		if e.Kind == KindEmail && e.Value == "alice@example.com" {
			sawEmail = true
		}
		if e.Kind == KindIPAddress && e.Value == "192.168.1.5" {
			sawIP = true
		}
		if e.Confidence != 1.0 {
			t.Errorf("regex match confidence %v, want 1.0", e.Confidence)
		}
	}
	if !sawEmail || !sawIP {
		t.Fatalf("missing expected entities: email=%v ip=%v, got %+v", sawEmail, sawIP, result.Entities)
	}
}

func TestRegexDetector_InvalidPatternFails(t *testing.T) {
	_, err := NewRegexDetector(map[string]string{"email": "("})
	if err == nil {
		t.Fatal("expected error for invalid regex")
	}
}

func TestRegexDetector_OverrideWins(t *testing.T) {
	d, err := NewRegexDetector(map[string]string{"ssn": `\bCUSTOM-\d+\b`})
	if err != nil {
		t.Fatalf("NewRegexDetector: %v", err)
	}
	result := d.Detect("id CUSTOM-123 here")
	if result.Empty() {
		t.Fatal("expected override pattern to match")
	}
	if result.Entities[0].Value != "CUSTOM-123" {
		t.Fatalf("unexpected match: %q", result.Entities[0].Value)
	}
}

func TestRegexDetector_NoMatch(t *testing.T) {
	d, err := NewRegexDetector(nil)
	if err != nil {
		t.Fatalf("NewRegexDetector: %v", err)
	}
	if !d.Detect("nothing interesting here").Empty() {
		t.Fatal("expected no matches")
	}
}
