package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Detection.Mode != ModeRegexLLM {
		t.Errorf("Detection.Mode: got %s, want %s", cfg.Detection.Mode, ModeRegexLLM)
	}
	if cfg.Detection.ConfidenceThreshold != 0.7 {
		t.Errorf("Detection.ConfidenceThreshold: got %f, want 0.7", cfg.Detection.ConfidenceThreshold)
	}
	if cfg.Faker.LRUSize != 4096 {
		t.Errorf("Faker.LRUSize: got %d, want 4096", cfg.Faker.LRUSize)
	}
	if cfg.Mapping.DatabasePath != "mapping.db" {
		t.Errorf("Mapping.DatabasePath: got %s", cfg.Mapping.DatabasePath)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level: got %s, want info", cfg.Logging.Level)
	}
}

func TestLoad_MinimalFileOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	contents := `
[detection]
mode = "regex"
`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Detection.Mode != ModeRegex {
		t.Errorf("Detection.Mode: got %s, want %s", cfg.Detection.Mode, ModeRegex)
	}
	// Untouched sections should still carry their defaults.
	if cfg.Mapping.DatabasePath != "mapping.db" {
		t.Errorf("Mapping.DatabasePath: got %s, want default", cfg.Mapping.DatabasePath)
	}
}

func TestLoad_RejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	contents := `
[detection]
mode = "regex"
bogus_field = true
`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for an unknown field")
	}
}

func TestLoad_RejectsInvalidMode(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	contents := `
[detection]
mode = "telepathy"
`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected an error for an unknown detection mode")
	}
	if _, ok := err.(*InvalidError); !ok {
		t.Fatalf("expected *InvalidError, got %T", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/config.toml"); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}

func TestSplitArgs(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"--flag value", []string{"--flag", "value"}},
		{`--name "John Smith" --verbose`, []string{"--name", "John Smith", "--verbose"}},
		{"--path '/tmp/a b'", []string{"--path", "/tmp/a b"}},
	}
	for _, c := range cases {
		got := SplitArgs(c.in)
		if len(got) != len(c.want) {
			t.Fatalf("SplitArgs(%q) = %v, want %v", c.in, got, c.want)
		}
		for i := range got {
			if got[i] != c.want[i] {
				t.Fatalf("SplitArgs(%q) = %v, want %v", c.in, got, c.want)
			}
		}
	}
}
