// Package rewrite substitutes detected PII spans inside a parsed JSON-RPC
// message (spec §4.7), generalizing the teacher's walkValue/AnonymizeJSON
// pair from "replace with an opaque token" to "look up a realistic
// surrogate and splice it into the original string".
package rewrite

import (
	"mcpshield/internal/detect"
)

// minStringLength is the shortest string leaf eligible for rewriting.
const minStringLength = 3

// Surrogates is the capability the rewriter needs from the mapping store:
// resolve a (kind, real) pair to its persistent fake value.
type Surrogates interface {
	GetOrCreate(kind detect.Kind, real string) (string, error)
}

// Rewriter walks a decoded JSON-RPC message, substituting detected PII in
// every string leaf the path policy makes eligible.
type Rewriter struct {
	detector   detect.Detector
	store      Surrogates
	onMapError func(err error)
}

// New builds a Rewriter backed by detector for finding PII and store for
// resolving surrogates. onMapError, if non-nil, is called whenever the
// mapping store fails; the offending span is left unchanged (spec §7:
// mapping failures degrade to pass-through, never tear down the stream).
func New(detector detect.Detector, store Surrogates, onMapError func(err error)) *Rewriter {
	return &Rewriter{detector: detector, store: store, onMapError: onMapError}
}

// RewriteMessage mutates msg in place (if it's a map or slice) and
// returns it, applying the server→client path policy: every string
// within result, error.message, error.data, and notification params.* is
// eligible; jsonrpc/id/method are never touched.
func (r *Rewriter) RewriteMessage(msg map[string]any) map[string]any {
	if v, ok := msg["result"]; ok {
		msg["result"] = r.walk(v)
	}
	if errVal, ok := msg["error"].(map[string]any); ok {
		if m, ok := errVal["message"].(string); ok {
			errVal["message"] = r.rewriteString(m)
		}
		if data, ok := errVal["data"]; ok {
			errVal["data"] = r.walk(data)
		}
	}
	// A message with no "id" and a "method" is a notification; its params
	// are eligible the same way a response's result is.
	if _, hasID := msg["id"]; !hasID {
		if _, hasMethod := msg["method"]; hasMethod {
			if params, ok := msg["params"]; ok {
				msg["params"] = r.walk(params)
			}
		}
	}
	return msg
}

// walk recursively rewrites string leaves within v, leaving structure,
// numbers, bools, and null untouched.
func (r *Rewriter) walk(v any) any {
	switch val := v.(type) {
	case string:
		return r.rewriteString(val)
	case map[string]any:
		for k, sub := range val {
			val[k] = r.walk(sub)
		}
		return val
	case []any:
		for i, sub := range val {
			val[i] = r.walk(sub)
		}
		return val
	default:
		return v
	}
}

// rewriteString detects PII in s and splices in surrogates at each
// detected span, in ascending start order, per spec §4.7. Offsets are
// computed once against the original string before any substitution.
func (r *Rewriter) rewriteString(s string) string {
	if len(s) < minStringLength {
		return s
	}

	result := r.detector.Detect(s)
	if result.Empty() {
		return s
	}

	var out []byte
	cursor := 0
	for _, e := range result.Entities {
		if e.Start < cursor || e.End > len(s) || e.Start > e.End {
			continue // defensive: detector offsets must be monotonic and in-bounds
		}
		out = append(out, s[cursor:e.Start]...)

		fake, err := r.store.GetOrCreate(e.Kind, s[e.Start:e.End])
		if err != nil {
			if r.onMapError != nil {
				r.onMapError(err)
			}
			out = append(out, s[e.Start:e.End]...) // pass through unchanged on mapping failure
		} else {
			out = append(out, fake...)
		}
		cursor = e.End
	}
	out = append(out, s[cursor:]...)
	return string(out)
}
