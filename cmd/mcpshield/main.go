// Command mcpshield is a transparent MCP stdio proxy that detects and
// pseudonymizes PII in a tool-server's JSON-RPC responses before they
// reach the client, while preserving the exact envelope shape.
//
// Usage:
//
//	mcpshield --config mcpshield.toml --target-command /path/to/server \
//	    --target-args "--flag value" [--target-cwd dir] [--target-env KEY=VALUE ...]
//
// Exit codes (spec §6): 0 on a clean child exit (or the child's own exit
// code on a non-zero exit), 2 on configuration error, 3 on spawn failure.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"mcpshield/internal/config"
	"mcpshield/internal/detect"
	"mcpshield/internal/llmcache"
	"mcpshield/internal/logger"
	"mcpshield/internal/mapping"
	"mcpshield/internal/metrics"
	"mcpshield/internal/prompts"
	"mcpshield/internal/proxy"
	"mcpshield/internal/pseudonym"
	"mcpshield/internal/rewrite"
	"mcpshield/internal/statusserver"
)

const (
	exitConfigError   = 2
	exitSpawnFailure  = 3
	purgeLoopInterval = 1 * time.Hour
)

// envFlag collects repeated --target-env KEY=VALUE flags.
type envFlag []string

func (e *envFlag) String() string { return fmt.Sprint([]string(*e)) }
func (e *envFlag) Set(v string) error {
	*e = append(*e, v)
	return nil
}

func main() {
	os.Exit(run())
}

func run() int {
	var (
		targetCommand string
		targetArgs    string
		targetCwd     string
		targetEnv     envFlag
	)
	configPath := flag.String("config", "", "path to the TOML configuration file (required)")
	flag.StringVar(&targetCommand, "target-command", "", "path to the MCP tool-server executable (required)")
	flag.StringVar(&targetArgs, "target-args", "", "space-separated arguments passed to the target command")
	flag.StringVar(&targetCwd, "target-cwd", "", "working directory for the target command")
	flag.Var(&targetEnv, "target-env", "KEY=VALUE pair appended to the target's environment; may be repeated")
	flag.Parse()

	if *configPath == "" || targetCommand == "" {
		fmt.Fprintln(os.Stderr, "mcpshield: --config and --target-command are required")
		return exitConfigError
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mcpshield: %v\n", err)
		return exitConfigError
	}

	logLevel := cfg.Logging.Level
	if envLevel := os.Getenv("MCPSHIELD_LOG"); envLevel != "" {
		logLevel = envLevel
	}
	log, closeLog, err := logger.New(cfg.Logging.Path, logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mcpshield: %v\n", err)
		return exitConfigError
	}
	defer closeLog() //nolint:errcheck

	target := config.TargetSpec{
		Command: targetCommand,
		Args:    config.SplitArgs(targetArgs),
		Cwd:     targetCwd,
		Env:     targetEnv,
	}

	m := metrics.New()
	gen := pseudonym.New(cfg.Faker.Seed)

	store, err := mapping.Open(cfg.Mapping.DatabasePath, gen, cfg.Faker.LRUSize, logger.Module(log, "mapping"))
	if err != nil {
		log.Error().Err(err).Msg("mcpshield: open mapping store")
		return exitConfigError
	}
	defer store.Close() //nolint:errcheck

	det, err := buildDetector(cfg, logger.Module(log, "detect"))
	if err != nil {
		log.Error().Err(err).Msg("mcpshield: build detector")
		return exitConfigError
	}

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go store.RunPurgeLoop(rootCtx, purgeLoopInterval, cfg.Mapping.RetentionDays)

	rewriter := rewrite.New(det, store, func(err error) {
		m.MappingDBErrors.Add(1)
		log.Warn().Err(err).Msg("mcpshield: mapping lookup failed, passing value through unchanged")
	})

	p := proxy.New(target, rewriter, m, logger.Module(log, "proxy"))

	if cfg.Mapping.StatusAddr != "" {
		srv := statusserver.New(cfg.Mapping.StatusToken, m, p, logger.Module(log, "statusserver"))
		go func() {
			if err := srv.ListenAndServe(cfg.Mapping.StatusAddr); err != nil {
				log.Warn().Err(err).Msg("mcpshield: status server stopped")
			}
		}()
	}

	sigCtx, stop := signal.NotifyContext(rootCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	code, runErr := p.Run(sigCtx, os.Stdin, os.Stdout, os.Stderr)
	if runErr != nil {
		log.Error().Err(runErr).Msg("mcpshield: proxy run ended with an error")
		if code == 0 {
			return exitSpawnFailure
		}
	}
	return code
}

// buildDetector wires the regex, LLM, and hybrid detectors per
// [detection].mode, matching the Hybrid Detector's own dispatch so an
// unused leg (e.g. no LLM client in "regex" mode) is simply never built.
func buildDetector(cfg *config.Config, log zerolog.Logger) (detect.Detector, error) {
	if !cfg.Detection.Enabled {
		return detect.NoopDetector{}, nil
	}

	var regexDet detect.Detector
	var llmDet detect.Detector

	if cfg.Detection.Mode == config.ModeRegex || cfg.Detection.Mode == config.ModeRegexLLM {
		rd, err := detect.NewRegexDetector(cfg.Detection.Patterns)
		if err != nil {
			return nil, err
		}
		regexDet = rd
	}

	if cfg.Detection.Mode == config.ModeLLM || cfg.Detection.Mode == config.ModeRegexLLM {
		dataDir, err := os.UserConfigDir()
		if err != nil {
			dataDir = "."
		}
		loader, err := prompts.NewLoader(dataDir+"/mcpshield", log)
		if err != nil {
			return nil, err
		}
		if err := loader.Watch(context.Background()); err != nil {
			log.Warn().Err(err).Msg("mcpshield: prompt template watch disabled")
		}

		var cache *llmcache.Cache
		if cfg.LLMCache.Enabled {
			cache, err = llmcache.Open(cfg.LLMCache.DatabasePath, cfg.Faker.LRUSize, log)
			if err != nil {
				return nil, err
			}
		}

		llmDet = detect.NewLLMDetector(
			cfg.LLM.Endpoint, cfg.LLM.Model, cfg.LLM.PromptTemplate,
			time.Duration(cfg.LLM.TimeoutSeconds)*time.Second,
			cfg.Detection.ConfidenceThreshold,
			int(cfg.LLMCache.MaxTextLength),
			loader, cache, log,
		)
	}

	return detect.NewHybridDetector(string(cfg.Detection.Mode), regexDet, llmDet), nil
}
