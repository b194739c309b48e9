package proxy

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"mcpshield/internal/config"
	"mcpshield/internal/detect"
	"mcpshield/internal/metrics"
	"mcpshield/internal/rewrite"
)

// passthroughStore resolves every value to a "[kind]" placeholder; with
// noopDetector it is never consulted, so rewriting is a no-op — enough to
// exercise frame plumbing without a real mapping store.
type passthroughStore struct{}

func (passthroughStore) GetOrCreate(kind detect.Kind, real string) (string, error) {
	return "[" + string(kind) + "]", nil
}

// noopDetector finds nothing, so every frame passes through unchanged
// except for JSON re-encoding.
type noopDetector struct{}

func (noopDetector) Detect(text string) detect.DetectionResult { return detect.DetectionResult{} }

func newTestProxy(target config.TargetSpec) *Proxy {
	r := rewrite.New(noopDetector{}, passthroughStore{}, nil)
	return New(target, r, metrics.New(), zerolog.Nop())
}

// catTarget spawns cat, which echoes stdin to stdout, standing in for a
// real MCP tool-server child process.
func catTarget() config.TargetSpec {
	return config.TargetSpec{Command: "cat"}
}

func TestProxy_PassesThroughValidJSON(t *testing.T) {
	p := newTestProxy(catTarget())

	in := strings.NewReader(`{"jsonrpc":"2.0","id":1,"result":{"ok":true}}` + "\n")
	var out, errOut bytes.Buffer

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	code, err := p.Run(ctx, in, &out, &errOut)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
	if !strings.Contains(out.String(), `"jsonrpc":"2.0"`) {
		t.Fatalf("expected envelope preserved, got %q", out.String())
	}
	if p.State() != StateExited {
		t.Fatalf("expected final state Exited, got %v", p.State())
	}
}

func TestProxy_ForwardsMalformedJSONUnchanged(t *testing.T) {
	p := newTestProxy(catTarget())

	malformed := `{not valid json at all`
	in := strings.NewReader(malformed + "\n")
	var out, errOut bytes.Buffer

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := p.Run(ctx, in, &out, &errOut); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if strings.TrimSpace(out.String()) != malformed {
		t.Fatalf("expected malformed frame forwarded verbatim, got %q", out.String())
	}
}

func TestProxy_StderrPassthrough(t *testing.T) {
	p := newTestProxy(config.TargetSpec{Command: "sh", Args: []string{"-c", "echo boom >&2"}})

	var out, errOut bytes.Buffer
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := p.Run(ctx, strings.NewReader(""), &out, &errOut); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(errOut.String(), "boom") {
		t.Fatalf("expected child stderr forwarded, got %q", errOut.String())
	}
}

func TestProxy_PropagatesChildExitCode(t *testing.T) {
	p := newTestProxy(config.TargetSpec{Command: "sh", Args: []string{"-c", "exit 7"}})

	var out, errOut bytes.Buffer
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	code, err := p.Run(ctx, strings.NewReader(""), &out, &errOut)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if code != 7 {
		t.Fatalf("expected propagated exit code 7, got %d", code)
	}
}
