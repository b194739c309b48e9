package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"mcpshield/internal/llmcache"
	"mcpshield/internal/prompts"
)

// llmRequest is the body posted to the chat endpoint (spec §4.5): a single
// JSON object, never streamed, with a strict JSON response format.
type llmRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Format string `json:"format"`
	Stream bool   `json:"stream"`
}

// llmResponse is the chat endpoint's generation envelope; Response carries
// the model's raw text, which must itself parse as llmEntities.
type llmResponse struct {
	Response string `json:"response"`
}

type llmEntities struct {
	Entities []llmEntity `json:"entities"`
}

type llmEntity struct {
	Type       string  `json:"type"`
	Value      string  `json:"value"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Confidence float32 `json:"confidence"`
}

// LLMDetector classifies text via an external chat endpoint (spec §4.5),
// memoizing results in an LLM Cache keyed on (prompt template, model, text).
type LLMDetector struct {
	client              *http.Client
	endpoint            string
	model               string
	timeout             time.Duration
	confidenceThreshold float64
	maxTextLength       int

	templates *prompts.Loader
	templateName string

	cache *llmcache.Cache
	log   zerolog.Logger
}

// NewLLMDetector wires an HTTP client, prompt loader, and cache into a
// ready-to-use LLMDetector.
func NewLLMDetector(
	endpoint, model, templateName string,
	timeout time.Duration,
	confidenceThreshold float64,
	maxTextLength int,
	templates *prompts.Loader,
	cache *llmcache.Cache,
	log zerolog.Logger,
) *LLMDetector {
	return &LLMDetector{
		client:              &http.Client{Timeout: timeout},
		endpoint:            endpoint,
		model:               model,
		timeout:             timeout,
		confidenceThreshold: confidenceThreshold,
		maxTextLength:       maxTextLength,
		templates:           templates,
		templateName:        templateName,
		cache:               cache,
		log:                 log,
	}
}

// Detect classifies text, consulting the cache first. Any failure along
// the way (size gate aside) degrades to an empty result with a logged
// warning — never fatal, per spec §4.5/§7.
func (d *LLMDetector) Detect(text string) DetectionResult {
	if d.maxTextLength > 0 && len(text) > d.maxTextLength {
		return DetectionResult{}
	}

	fingerprint := llmcache.Fingerprint(d.templateName, d.model, text)
	if d.cache != nil {
		if cached, ok := d.cache.Lookup(fingerprint); ok {
			return cached
		}
	}

	result := d.classify(text)
	if d.cache != nil {
		d.cache.Store(fingerprint, result)
	}
	return result
}

func (d *LLMDetector) classify(text string) DetectionResult {
	tmpl, err := d.templates.Load(d.templateName)
	if err != nil {
		d.log.Warn().Err(err).Msg("llm detector: prompt template load failed")
		return DetectionResult{}
	}
	prompt := strings.ReplaceAll(tmpl, "{text}", text)

	reqBody, err := json.Marshal(llmRequest{
		Model:  d.model,
		Prompt: prompt,
		Format: "json",
		Stream: false,
	})
	if err != nil {
		d.log.Warn().Err(err).Msg("llm detector: marshal request")
		return DetectionResult{}
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		d.log.Warn().Err(err).Msg("llm detector: build request")
		return DetectionResult{}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		d.log.Warn().Err(err).Msg("llm detector: request failed")
		return DetectionResult{}
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		d.log.Warn().Err(err).Msg("llm detector: read response")
		return DetectionResult{}
	}

	var envelope llmResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		d.log.Warn().Err(err).Msg("llm detector: parse envelope")
		return DetectionResult{}
	}

	var parsed llmEntities
	if err := json.Unmarshal([]byte(strings.TrimSpace(envelope.Response)), &parsed); err != nil {
		d.log.Warn().Err(err).Str("raw", truncate(envelope.Response, 200)).Msg("llm detector: parse entities JSON")
		return DetectionResult{}
	}

	return DetectionResult{Entities: d.postProcess(text, parsed.Entities)}
}

// postProcess applies spec §4.5's validation pass: drop entities whose
// value does not literally occur in text, recompute offsets by searching
// for the first not-yet-claimed occurrence, drop sub-threshold entities.
// The survivors are returned in ascending start order.
func (d *LLMDetector) postProcess(text string, raw []llmEntity) []Entity {
	claimed := make([]bool, len(text)+1)
	var out []Entity

	for _, e := range raw {
		if float64(e.Confidence) < d.confidenceThreshold {
			continue
		}
		if e.Value == "" {
			continue
		}
		start := findUnclaimed(text, e.Value, claimed)
		if start < 0 {
			continue
		}
		end := start + len(e.Value)
		for i := start; i < end; i++ {
			claimed[i] = true
		}
		out = append(out, Entity{
			Kind:       Kind(e.Type),
			Value:      e.Value,
			Start:      start,
			End:        end,
			Confidence: e.Confidence,
		})
	}
	sortEntities(out)
	return out
}

// findUnclaimed returns the offset of the first occurrence of value in
// text whose bytes are all still unclaimed, or -1.
func findUnclaimed(text, value string, claimed []bool) int {
	from := 0
	for {
		idx := strings.Index(text[from:], value)
		if idx < 0 {
			return -1
		}
		start := from + idx
		end := start + len(value)
		free := true
		for i := start; i < end; i++ {
			if claimed[i] {
				free = false
				break
			}
		}
		if free {
			return start
		}
		from = start + 1
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "...(" + strconv.Itoa(len(s)-n) + " more bytes)"
}
