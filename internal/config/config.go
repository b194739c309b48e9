// Package config loads and holds all proxy configuration.
//
// Settings come from a single TOML file (required, passed via --config);
// unknown keys are rejected at load time. Config is immutable once
// returned from Load — callers pass the *Config handle around rather than
// reaching for a global.
package config

import (
	"bytes"
	"fmt"
	"net"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Mode is the PII detection strategy.
type Mode string

// Supported detection modes.
const (
	ModeRegex    Mode = "regex"
	ModeLLM      Mode = "llm"
	ModeRegexLLM Mode = "regex_llm"
)

// Config is the top-level proxy configuration, decoded from TOML.
type Config struct {
	Logging   LoggingConfig   `toml:"logging"`
	Detection DetectionConfig `toml:"detection"`
	Faker     FakerConfig     `toml:"faker"`
	Mapping   MappingConfig   `toml:"mapping"`
	LLM       LLMConfig       `toml:"llm"`
	LLMCache  LLMCacheConfig  `toml:"llm_cache"`
}

// LoggingConfig controls where and how verbosely the proxy logs. Log
// output never goes to stdout/stderr (internal/logger), so a file path is
// always required.
type LoggingConfig struct {
	Path  string `toml:"path"`
	Level string `toml:"level"`
}

// DetectionConfig controls the hybrid detector.
type DetectionConfig struct {
	Mode                Mode              `toml:"mode"`
	Enabled             bool              `toml:"enabled"`
	ConfidenceThreshold float64           `toml:"confidence_threshold"`
	Patterns            map[string]string `toml:"patterns"`
}

// FakerConfig controls the pseudonym generator.
type FakerConfig struct {
	Locale      string `toml:"locale"`
	Seed        uint64 `toml:"seed"`
	Consistency bool   `toml:"consistency"`
	LRUSize     int    `toml:"lru_size"`
}

// MappingConfig controls the mapping store and, as a domain extension, the
// optional operator status server.
type MappingConfig struct {
	DatabasePath  string `toml:"database_path"`
	RetentionDays uint32 `toml:"retention_days"`
	StatusAddr    string `toml:"status_addr"`
	StatusToken   string `toml:"status_token"`
}

// LLMConfig controls the LLM detector's HTTP client.
type LLMConfig struct {
	Model          string `toml:"model"`
	Endpoint       string `toml:"endpoint"`
	TimeoutSeconds uint32 `toml:"timeout_seconds"`
	PromptTemplate string `toml:"prompt_template"`
}

// LLMCacheConfig controls the LLM detection result cache.
type LLMCacheConfig struct {
	Enabled       bool   `toml:"enabled"`
	DatabasePath  string `toml:"database_path"`
	MaxTextLength uint32 `toml:"max_text_length"`
}

// Defaults returns the built-in defaults, applied before the TOML file is
// read so every field has a sane value even in a minimal config.
func Defaults() *Config {
	return &Config{
		Logging: LoggingConfig{
			Path:  "mcpshield.log",
			Level: "info",
		},
		Detection: DetectionConfig{
			Mode:                ModeRegexLLM,
			Enabled:             true,
			ConfidenceThreshold: 0.7,
			Patterns:            map[string]string{},
		},
		Faker: FakerConfig{
			Locale:      "en_US",
			Seed:        0,
			Consistency: true,
			LRUSize:     4096,
		},
		Mapping: MappingConfig{
			DatabasePath:  "mapping.db",
			RetentionDays: 90,
		},
		LLM: LLMConfig{
			Model:          "qwen2.5:3b",
			Endpoint:       "http://localhost:11434/api/generate",
			TimeoutSeconds: 30,
			PromptTemplate: "default",
		},
		LLMCache: LLMCacheConfig{
			Enabled:       true,
			DatabasePath:  "llm-cache.db",
			MaxTextLength: 4000,
		},
	}
}

// Load reads and validates a TOML config file at path, overlaying it on
// Defaults(). Unknown keys are a fatal ConfigInvalid error, per spec.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is an operator-supplied --config flag
	if err != nil {
		return nil, &InvalidError{Reason: fmt.Sprintf("read config %q: %v", path, err)}
	}

	cfg := Defaults()
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, &InvalidError{Reason: fmt.Sprintf("parse config %q: %v", path, err)}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks field-level invariants that TOML decoding alone cannot
// enforce (range checks, enum membership, required combinations).
func (c *Config) validate() error {
	switch c.Detection.Mode {
	case ModeRegex, ModeLLM, ModeRegexLLM:
	default:
		return &InvalidError{Reason: fmt.Sprintf("detection.mode: unknown mode %q", c.Detection.Mode)}
	}
	if c.Detection.ConfidenceThreshold < 0 || c.Detection.ConfidenceThreshold > 1 {
		return &InvalidError{Reason: "detection.confidence_threshold must be in [0,1]"}
	}
	if c.Mapping.DatabasePath == "" {
		return &InvalidError{Reason: "mapping.database_path must not be empty"}
	}
	if c.Mapping.StatusAddr != "" {
		host, _, err := net.SplitHostPort(c.Mapping.StatusAddr)
		if err != nil {
			return &InvalidError{Reason: fmt.Sprintf("mapping.status_addr: %v", err)}
		}
		if ip := net.ParseIP(host); host != "localhost" && (ip == nil || !ip.IsLoopback()) {
			return &InvalidError{Reason: fmt.Sprintf("mapping.status_addr %q is not a loopback address", c.Mapping.StatusAddr)}
		}
	}
	if c.LLM.TimeoutSeconds == 0 {
		c.LLM.TimeoutSeconds = 30
	}
	if c.Faker.LRUSize <= 0 {
		c.Faker.LRUSize = 4096
	}
	return nil
}

// InvalidError signals a load-time configuration problem; the CLI maps it
// to exit code 2 per spec §6.
type InvalidError struct {
	Reason string
}

func (e *InvalidError) Error() string { return "config invalid: " + e.Reason }
