// Package proxy implements the Proxy Core (spec §4.8): it spawns the
// target MCP tool-server as a child process and pumps three streams
// between it and the client's own stdio, rewriting PII out of the
// child's stdout frames on the way back.
//
// The three-pump concurrency shape (goroutine-per-direction plus a done
// channel) is grounded on the teacher's handleTunnel bidirectional
// io.Copy pattern in internal/proxy/proxy.go, generalized from a raw TCP
// tunnel to child-process pipes with JSON decode/rewrite/encode inserted
// into one direction.
package proxy

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"mcpshield/internal/config"
	"mcpshield/internal/metrics"
	"mcpshield/internal/rewrite"
)

// maxFrameBytes is the hard cap on a single newline-delimited frame
// (spec §4.8). Frames larger than this tear the connection down.
const maxFrameBytes = 8 * 1024 * 1024

// childTerminationGrace is how long the proxy waits after a soft
// termination signal before force-killing the child.
const childTerminationGrace = 5 * time.Second

// State is one of the Proxy Core's four lifecycle states.
type State int32

// Lifecycle states (spec §4.9): Starting -> Running -> Draining -> Exited.
const (
	StateStarting State = iota
	StateRunning
	StateDraining
	StateExited
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateExited:
		return "exited"
	default:
		return "unknown"
	}
}

// ErrFrameTooLarge is returned (and logged) when a child stdout frame
// exceeds maxFrameBytes.
var ErrFrameTooLarge = fmt.Errorf("proxy: frame exceeds %d byte cap", maxFrameBytes)

// Proxy owns the spawned child process and the three pumps connecting it
// to the client's own stdio.
type Proxy struct {
	target   config.TargetSpec
	rewriter *rewrite.Rewriter
	metrics  *metrics.Metrics
	log      zerolog.Logger

	state atomic.Int32
	cmd   *exec.Cmd
}

// New builds a Proxy ready to Run against target.
func New(target config.TargetSpec, rewriter *rewrite.Rewriter, m *metrics.Metrics, log zerolog.Logger) *Proxy {
	p := &Proxy{target: target, rewriter: rewriter, metrics: m, log: log}
	p.state.Store(int32(StateStarting))
	return p
}

// State returns the proxy's current lifecycle state.
func (p *Proxy) State() State { return State(p.state.Load()) }

func (p *Proxy) setState(s State) { p.state.Store(int32(s)) }

// Run spawns the child, wires the three pumps against clientIn/clientOut/
// clientErr, and blocks until the session ends (either stdio endpoint
// closes, or the child exits on its own). It returns the exit code to
// propagate to the proxy's own exit status, per spec §6: 0 if the child
// exited 0, the child's exit code otherwise.
func (p *Proxy) Run(ctx context.Context, clientIn io.Reader, clientOut, clientErr io.Writer) (int, error) {
	cmd := exec.CommandContext(ctx, p.target.Command, p.target.Args...) // #nosec G204 -- command comes from trusted operator-supplied --target-command
	if p.target.Cwd != "" {
		cmd.Dir = p.target.Cwd
	}
	cmd.Env = append(os.Environ(), p.target.Env...)

	childIn, err := cmd.StdinPipe()
	if err != nil {
		return 0, fmt.Errorf("proxy: stdin pipe: %w", err)
	}
	childOut, err := cmd.StdoutPipe()
	if err != nil {
		return 0, fmt.Errorf("proxy: stdout pipe: %w", err)
	}
	childErrPipe, err := cmd.StderrPipe()
	if err != nil {
		return 0, fmt.Errorf("proxy: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("proxy: spawn %q: %w", p.target.Command, err)
	}
	p.cmd = cmd
	p.setState(StateRunning)

	sessionID := uuid.New().String()
	log := p.log.With().Str("session", sessionID).Logger()
	p.log = log
	log.Info().Str("command", p.target.Command).Strs("args", p.target.Args).Msg("proxy: child started")

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	done := make(chan struct{}, 3)
	var frameErr error
	var frameErrOnce sync.Once

	// client stdin -> child stdin: pure byte pass-through, never parsed.
	go func() {
		defer func() { childIn.Close(); done <- struct{}{} }() //nolint:errcheck
		io.Copy(childIn, clientIn) //nolint:errcheck
	}()

	// child stderr -> client stderr: pure byte pass-through.
	go func() {
		defer func() { done <- struct{}{} }()
		io.Copy(clientErr, childErrPipe) //nolint:errcheck
	}()

	// child stdout -> frame split -> decode -> rewrite -> encode -> client stdout.
	go func() {
		defer func() { done <- struct{}{} }()
		if err := p.pumpStdout(childOut, clientOut); err != nil {
			frameErrOnce.Do(func() { frameErr = err })
			p.log.Error().Err(err).Msg("proxy: stdout pump terminated")
		}
	}()

	<-done // first pipe to finish EOFs (or errors) triggers draining
	p.setState(StateDraining)
	waitErr := p.terminateChild(waitCh)
	p.setState(StateExited)

	exitCode := exitCodeOf(waitErr)
	if frameErr != nil {
		return exitCode, frameErr
	}
	return exitCode, nil
}

// pumpStdout is the one pump that actually looks at frame contents: it
// scans newline-delimited frames, JSON-decodes each, runs it through the
// rewriter, re-encodes, and writes it to clientOut. Malformed JSON is
// forwarded unchanged (spec §4.8: the proxy is not a JSON-RPC validator).
func (p *Proxy) pumpStdout(childOut io.Reader, clientOut io.Writer) error {
	scanner := bufio.NewScanner(childOut)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameBytes)

	for scanner.Scan() {
		line := scanner.Bytes()
		p.metrics.FramesIn.Add(1)

		out := p.processFrame(line)

		if _, err := clientOut.Write(out); err != nil {
			return fmt.Errorf("proxy: write client stdout: %w", err)
		}
		p.metrics.FramesOut.Add(1)
	}

	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			p.metrics.FramesDropped.Add(1)
			return ErrFrameTooLarge
		}
		return fmt.Errorf("proxy: scan child stdout: %w", err)
	}
	return nil
}

// processFrame decodes, rewrites, and re-encodes one frame, falling back
// to the original bytes (plus trailing newline) on any decode failure or
// detection/rewrite error — those never tear down the stream (spec §7).
func (p *Proxy) processFrame(line []byte) []byte {
	var msg map[string]any
	if err := json.Unmarshal(line, &msg); err != nil {
		return appendNewline(line)
	}

	start := time.Now()
	rewritten := p.rewriter.RewriteMessage(msg)
	p.metrics.RecordAnonLatency(time.Since(start))

	encoded, err := json.Marshal(rewritten)
	if err != nil {
		p.log.Warn().Err(err).Msg("proxy: re-encode failed, forwarding original frame")
		return appendNewline(line)
	}
	return appendNewline(encoded)
}

func appendNewline(b []byte) []byte {
	if bytes.HasSuffix(b, []byte("\n")) {
		return b
	}
	return append(append([]byte(nil), b...), '\n')
}

// terminateChild signals the child to stop, escalating to a hard kill if
// it has not exited within childTerminationGrace (spec §4.8/§7). It is
// the sole reader of waitCh, so cmd.Wait() is only ever invoked once,
// from the goroutine started in Run.
func (p *Proxy) terminateChild(waitCh <-chan error) error {
	if p.cmd == nil || p.cmd.Process == nil {
		return <-waitCh
	}
	if err := p.cmd.Process.Signal(os.Interrupt); err != nil {
		p.log.Debug().Err(err).Msg("proxy: soft termination signal failed, will hard-kill")
	}

	select {
	case err := <-waitCh:
		return err
	case <-time.After(childTerminationGrace):
		p.log.Warn().Msg("proxy: grace period expired, sending SIGKILL")
		p.cmd.Process.Kill() //nolint:errcheck
		return <-waitCh
	}
}

func exitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return 1
}
