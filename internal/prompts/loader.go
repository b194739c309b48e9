// Package prompts resolves and live-reloads LLM detection prompt
// templates (spec §4.9): `prompt_template = "name"` resolves to
// `<data_dir>/prompts/<name>.md`, where data_dir is the OS-appropriate
// per-user config directory. The directory-watch pattern is grounded on
// hector's config/provider FileProvider, generalized from a single
// watched file to an entire templates directory.
package prompts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const defaultTemplateName = "default"

// defaultTemplate is materialized to <data_dir>/prompts/default.md on
// first run if no operator override exists.
const defaultTemplate = `Analyze the following text for personally identifiable information (PII).
Return ONLY a JSON object of the form {"entities":[{"type":"...","value":"...","start":0,"end":0,"confidence":0.0}, ...]}.
Supported "type" values: person_name, email, phone, ssn, credit_card, ip_address, hostname, node_name, url.

Text to analyze:
{text}

Return ONLY the JSON object, no explanation.
`

// Loader resolves template names to file contents, caching the result in
// memory and invalidating the cache when the backing file changes.
type Loader struct {
	dir string
	log zerolog.Logger

	mu    sync.RWMutex
	cache map[string]string
}

// NewLoader resolves the prompts directory under dataDir (the caller
// passes an OS-appropriate per-user directory, typically os.UserConfigDir
// joined with the binary name) and materializes the default template if
// absent.
func NewLoader(dataDir string, log zerolog.Logger) (*Loader, error) {
	dir := filepath.Join(dataDir, "prompts")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("prompts: create directory %s: %w", dir, err)
	}

	l := &Loader{dir: dir, log: log, cache: make(map[string]string)}
	if err := l.materializeDefault(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Loader) materializeDefault() error {
	path := l.path(defaultTemplateName)
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("prompts: stat %s: %w", path, err)
	}
	if err := os.WriteFile(path, []byte(defaultTemplate), 0o600); err != nil {
		return fmt.Errorf("prompts: write default template: %w", err)
	}
	return nil
}

func (l *Loader) path(name string) string {
	return filepath.Join(l.dir, name+".md")
}

// Load returns the contents of the named template, reading from disk on
// first access and from an in-memory cache afterward (invalidated by
// Watch). A missing template is a fatal error for any name other than
// "default", which Loader always materializes.
func (l *Loader) Load(name string) (string, error) {
	l.mu.RLock()
	if text, ok := l.cache[name]; ok {
		l.mu.RUnlock()
		return text, nil
	}
	l.mu.RUnlock()

	data, err := os.ReadFile(l.path(name)) // #nosec G304 -- name comes from trusted config, constrained to a fixed directory
	if errors.Is(err, os.ErrNotExist) && name == defaultTemplateName {
		if err = l.materializeDefault(); err == nil {
			data, err = os.ReadFile(l.path(name)) // #nosec G304 -- fixed default template path
		}
	}
	if err != nil {
		return "", fmt.Errorf("prompts: load template %q: %w", name, err)
	}

	l.mu.Lock()
	l.cache[name] = string(data)
	l.mu.Unlock()
	return string(data), nil
}

// Watch starts watching the templates directory for changes and evicts
// the in-memory cache entry for any template that changes on disk, so the
// next Load re-reads it. Watch returns once the initial watcher is
// established; the watch loop itself runs until ctx is cancelled.
func (l *Loader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("prompts: new watcher: %w", err)
	}
	if err := watcher.Add(l.dir); err != nil {
		watcher.Close() //nolint:errcheck
		return fmt.Errorf("prompts: watch %s: %w", l.dir, err)
	}

	go l.watchLoop(ctx, watcher)
	return nil
}

func (l *Loader) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close() //nolint:errcheck

	debounce := make(map[string]*time.Timer)
	const debounceDelay = 100 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			for _, t := range debounce {
				t.Stop()
			}
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			name := templateNameFromPath(event.Name)
			if name == "" {
				continue
			}
			if t := debounce[name]; t != nil {
				t.Stop()
			}
			debounce[name] = time.AfterFunc(debounceDelay, func() {
				l.mu.Lock()
				delete(l.cache, name)
				l.mu.Unlock()
				l.log.Debug().Str("template", name).Msg("prompts: reload scheduled")
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			l.log.Warn().Err(err).Msg("prompts: watcher error")
		}
	}
}

func templateNameFromPath(path string) string {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	if ext != ".md" {
		return ""
	}
	return base[:len(base)-len(ext)]
}
