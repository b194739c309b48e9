package detect

import "regexp"

// wordChar matches characters the "coverage" heuristic below treats as
// meaningful content rather than punctuation/whitespace filler.
var wordChar = regexp.MustCompile(`\w`)

// coverageThreshold bounds how many uncovered word characters regex_llm
// tolerates before it falls back to the LLM pass.
const coverageThreshold = 0

// HybridDetector orchestrates the regex and LLM detectors per the
// configured mode (spec §4.6).
type HybridDetector struct {
	mode  string
	regex Detector
	llm   Detector
}

// Supported detection modes, mirroring config.Mode's string values.
const (
	ModeRegex    = "regex"
	ModeLLM      = "llm"
	ModeRegexLLM = "regex_llm"
)

// NewHybridDetector builds a HybridDetector for mode, wiring in regex
// and/or llm as the mode requires. Either detector may be nil if the
// mode never calls it.
func NewHybridDetector(mode string, regex, llm Detector) *HybridDetector {
	return &HybridDetector{mode: mode, regex: regex, llm: llm}
}

// Detect runs the configured strategy and returns the merged result.
func (d *HybridDetector) Detect(text string) DetectionResult {
	switch d.mode {
	case ModeRegex:
		return d.regex.Detect(text)
	case ModeLLM:
		return d.llm.Detect(text)
	case ModeRegexLLM:
		regexResult := d.regex.Detect(text)
		if !regexResult.Empty() && covers(text, regexResult) {
			return regexResult
		}
		llmResult := d.llm.Detect(text)
		return Merge(regexResult, llmResult)
	default:
		return DetectionResult{}
	}
}

// covers reports whether result's spans account for every word character
// in text, modulo coverageThreshold stray characters left unmatched —
// the "regex alone was enough" test that short-circuits the LLM pass.
func covers(text string, result DetectionResult) bool {
	covered := make([]bool, len(text))
	for _, e := range result.Entities {
		for i := e.Start; i < e.End && i < len(covered); i++ {
			covered[i] = true
		}
	}

	uncovered := 0
	for _, loc := range wordChar.FindAllStringIndex(text, -1) {
		if !covered[loc[0]] {
			uncovered++
		}
	}
	return uncovered <= coverageThreshold
}
