// Package logger provides structured, level-gated logging for the proxy.
//
// Every entry carries a "module" field identifying the component that
// logged it, the way the teacher's hand-rolled logger tagged each line
// with a fixed-width module column — here the tagging is a zerolog
// sub-logger rather than a format string.
//
// Log output always goes to a file, never to stdout or stderr: those file
// descriptors carry the MCP JSON-RPC stream and the passthrough child
// stderr stream respectively, and interleaving diagnostics into either
// would corrupt the protocol spec §4.8 requires the proxy to preserve.
package logger

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// New opens (creating if necessary) a log file at path and returns a root
// zerolog.Logger gated at the level named by levelStr ("debug", "info",
// "warn", "error"; unrecognized strings default to "info", mirroring the
// RUST_LOG-style filter spec §6 describes).
func New(path, levelStr string) (zerolog.Logger, func() error, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644) // #nosec G304 -- path comes from trusted config
	if err != nil {
		return zerolog.Logger{}, nil, fmt.Errorf("logger: open %q: %w", path, err)
	}

	zerolog.SetGlobalLevel(parseLevel(levelStr))
	log := zerolog.New(f).With().Timestamp().Logger()
	return log, f.Close, nil
}

// Module returns a sub-logger tagged with the given component name, the
// way every teacher log line carried a "[ANONYMIZER]"/"[PROXY]" prefix.
func Module(base zerolog.Logger, name string) zerolog.Logger {
	return base.With().Str("module", name).Logger()
}

// parseLevel converts a filter string to a zerolog.Level, defaulting to
// InfoLevel for anything unrecognized.
func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "":
		return zerolog.InfoLevel
	default:
		return zerolog.InfoLevel
	}
}
