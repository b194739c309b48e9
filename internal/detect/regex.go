package detect

import (
	"fmt"
	"regexp"
)

// builtinPatterns is the default kind -> pattern table used when a config
// supplies no override for a given kind. Patterns are deliberately
// conservative; operators tune precision via [detection].patterns.
var builtinPatterns = map[Kind]string{
	KindEmail:      `[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`,
	KindSSN:        `\b\d{3}-\d{2}-\d{4}\b`,
	KindCreditCard: `\b(?:\d[ -]?){13,16}\b`,
	KindPhone:      `\(?\d{3}\)?[ .\-]?\d{3}[ .\-]?\d{4}\b`,
	KindIPAddress:  `\b(?:\d{1,3}\.){3}\d{1,3}\b`,
	KindURL:        `\bhttps?://[^\s"'<>]+`,
}

// RegexDetector is the deterministic first-pass detector (spec §4.4):
// compiled named patterns scanned independently, then merged by the
// ordering/overlap rule in Merge. Every match carries confidence 1.0.
type RegexDetector struct {
	compiled map[Kind]*regexp.Regexp
}

// NewRegexDetector compiles patterns, falling back to builtinPatterns for
// any kind the caller does not override. An invalid pattern is a fatal
// load-time error per spec.
func NewRegexDetector(overrides map[string]string) (*RegexDetector, error) {
	merged := map[Kind]string{}
	for k, v := range builtinPatterns {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[Kind(k)] = v
	}

	compiled := make(map[Kind]*regexp.Regexp, len(merged))
	for kind, pattern := range merged {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("detect: invalid pattern for kind %q: %w", kind, err)
		}
		compiled[kind] = re
	}
	return &RegexDetector{compiled: compiled}, nil
}

// Detect scans text with every compiled pattern and merges the results.
func (d *RegexDetector) Detect(text string) DetectionResult {
	var entities []Entity
	for kind, re := range d.compiled {
		for _, loc := range re.FindAllStringIndex(text, -1) {
			entities = append(entities, Entity{
				Kind:       kind,
				Value:      text[loc[0]:loc[1]],
				Start:      loc[0],
				End:        loc[1],
				Confidence: 1.0,
			})
		}
	}
	return Merge(DetectionResult{Entities: entities})
}
