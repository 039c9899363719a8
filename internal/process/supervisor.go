// Package process implements the process supervisor: spawning child agent
// CLIs with a sanitized environment, piping their stdout/stderr as line
// events, and escalating a graceful kill request into a forceful one.
// Adapted from the teacher's internal/provider/process.Manager, which
// covered spawn/pipe/Stop/Kill but did not sanitize the environment or track
// PIDs per session key; both are added here per spec §4.2 and §6.
package process

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/beamcode/beamcode/internal/circuit"
)

// DefaultKillGracePeriod is the default wait between SIGTERM and SIGKILL.
const DefaultKillGracePeriod = 5 * time.Second

// SelfEntrypointVar is the process-identification environment variable that
// is always stripped from a spawned child's environment, in addition to
// Config.DenyListEnv, so a spawned CLI does not inherit it and recursively
// launch another BeamCode-supervised session of itself.
const SelfEntrypointVar = "BEAMCODE_ENTRYPOINT"

// EventType enumerates the supervisor's lifecycle event stream (spec §4.2).
type EventType string

const (
	EventSpawned      EventType = "process:spawned"
	EventStdout       EventType = "process:stdout"
	EventStderr       EventType = "process:stderr"
	EventExited       EventType = "process:exited"
	EventResumeFailed EventType = "process:resume_failed"
	EventError        EventType = "error"
)

// Event is one item from a Supervisor's Events() stream.
type Event struct {
	Type       EventType
	SessionKey string
	Line       string
	Err        error
	ExitCode   int
	Pid        int
}

// Config describes how to launch one child process.
type Config struct {
	Command     string
	Args        []string
	WorkingDir  string
	Environment map[string]string

	// DenyListEnv names environment variables stripped from the child's
	// inherited environment before Environment overrides are applied.
	DenyListEnv []string

	// KillGracePeriod overrides DefaultKillGracePeriod when non-zero.
	KillGracePeriod time.Duration

	// QuickExitWindow is how soon after spawn an exit counts as a circuit
	// breaker failure rather than a normal termination.
	QuickExitWindow time.Duration

	// Resume, when true, marks this launch as a `--resume`-style attempt;
	// a quick exit clears UpstreamSessionID via the caller-supplied
	// ClearUpstreamSessionID hook (spec §4.2's resume/quick-exit rule).
	Resume                  bool
	ClearUpstreamSessionID  func()

	// RawStdout, when true, skips the supervisor's own line-scanning of
	// stdout and leaves it for the caller to read directly via
	// Process.Stdout() — needed by stdio JSON-RPC adapters (ACP, Gemini)
	// that frame their own protocol over the raw stream rather than
	// consuming discrete EventStdout log lines.
	RawStdout bool
}

func sanitizedEnviron(denyList []string) []string {
	deny := make(map[string]bool, len(denyList)+1)
	deny[SelfEntrypointVar] = true
	for _, k := range denyList {
		deny[k] = true
	}

	base := os.Environ()
	out := make([]string, 0, len(base))
	for _, kv := range base {
		key := kv
		for i, c := range kv {
			if c == '=' {
				key = kv[:i]
				break
			}
		}
		if deny[key] {
			continue
		}
		out = append(out, kv)
	}
	return out
}

// Process is one supervised child with graceful→forceful kill escalation.
type Process struct {
	sessionKey string
	cmd        *exec.Cmd
	stdin      io.WriteCloser
	stdout     io.ReadCloser // non-nil only when Config.RawStdout was set
	killGrace  time.Duration

	mu        sync.Mutex
	cleanedUp bool
}

// Supervisor owns a registry of live Processes keyed by session id and a
// per-key circuit breaker guarding restart attempts.
type Supervisor struct {
	mu       sync.Mutex
	procs    map[string]*Process
	breakers map[string]*circuit.Breaker
	breakerCfg circuit.Config

	events chan Event
}

// New constructs a Supervisor. breakerCfg is applied to every session key's
// breaker the first time it is needed.
func New(breakerCfg circuit.Config) *Supervisor {
	return &Supervisor{
		procs:      make(map[string]*Process),
		breakers:   make(map[string]*circuit.Breaker),
		breakerCfg: breakerCfg,
		events:     make(chan Event, 256),
	}
}

// Events returns the supervisor's shared event stream. Consume it
// continuously; when the buffer is full a new event is dropped silently
// rather than block a spawn.
func (s *Supervisor) Events() <-chan Event {
	return s.events
}

func (s *Supervisor) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
	}
}

func (s *Supervisor) breakerFor(sessionKey string) *circuit.Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.breakers[sessionKey]
	if !ok {
		b = circuit.New(s.breakerCfg)
		s.breakers[sessionKey] = b
	}
	return b
}

// Breaker exposes the per-session breaker for callers (e.g. the session
// bridge) that need to surface CircuitBreakerOpen without spawning.
func (s *Supervisor) Breaker(sessionKey string) *circuit.Breaker {
	return s.breakerFor(sessionKey)
}

// Spawn starts a child process for sessionKey. It refuses (returning
// ErrCircuitOpen) if that key's breaker is open.
func (s *Supervisor) Spawn(ctx context.Context, sessionKey string, cfg Config) (*Process, error) {
	breaker := s.breakerFor(sessionKey)
	if !breaker.Allow() {
		return nil, ErrCircuitOpen
	}

	if cfg.Command == "" {
		breaker.RecordFailure()
		return nil, fmt.Errorf("process: command cannot be empty")
	}
	killGrace := cfg.KillGracePeriod
	if killGrace <= 0 {
		killGrace = DefaultKillGracePeriod
	}
	quickExit := cfg.QuickExitWindow
	if quickExit <= 0 {
		quickExit = 2 * time.Second
	}

	cmd := exec.CommandContext(ctx, cfg.Command, cfg.Args...)
	if cfg.WorkingDir != "" {
		cmd.Dir = cfg.WorkingDir
	}
	cmd.Env = sanitizedEnviron(cfg.DenyListEnv)
	for k, v := range cfg.Environment {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		breaker.RecordFailure()
		return nil, fmt.Errorf("process: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		_ = stdin.Close()
		breaker.RecordFailure()
		return nil, fmt.Errorf("process: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		_ = stdin.Close()
		_ = stdout.Close()
		breaker.RecordFailure()
		return nil, fmt.Errorf("process: stderr pipe: %w", err)
	}

	spawnedAt := time.Now()
	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		_ = stdout.Close()
		_ = stderr.Close()
		breaker.RecordFailure()
		s.emit(Event{Type: EventError, SessionKey: sessionKey, Err: err})
		return nil, fmt.Errorf("process: start: %w", err)
	}

	p := &Process{sessionKey: sessionKey, cmd: cmd, stdin: stdin, killGrace: killGrace}
	if cfg.RawStdout {
		p.stdout = stdout
	}

	s.mu.Lock()
	s.procs[sessionKey] = p
	s.mu.Unlock()

	s.emit(Event{Type: EventSpawned, SessionKey: sessionKey, Pid: cmd.Process.Pid})

	var pipes sync.WaitGroup
	if !cfg.RawStdout {
		pipes.Add(1)
		go func() { defer pipes.Done(); s.pipeLines(sessionKey, stdout, EventStdout) }()
	}
	pipes.Add(1)
	go func() { defer pipes.Done(); s.pipeLines(sessionKey, stderr, EventStderr) }()

	go func() {
		// cmd.Wait closes the pipes, so let the line readers finish first.
		pipes.Wait()
		waitErr := cmd.Wait()
		exitCode := 0
		if cmd.ProcessState != nil {
			exitCode = cmd.ProcessState.ExitCode()
		}

		s.mu.Lock()
		delete(s.procs, sessionKey)
		s.mu.Unlock()

		quickExited := time.Since(spawnedAt) <= quickExit
		if waitErr != nil || quickExited {
			breaker.RecordFailure()
			if cfg.Resume && quickExited && cfg.ClearUpstreamSessionID != nil {
				cfg.ClearUpstreamSessionID()
				s.emit(Event{Type: EventResumeFailed, SessionKey: sessionKey, Err: waitErr, ExitCode: exitCode})
			}
		} else {
			breaker.RecordSuccess()
		}

		s.emit(Event{Type: EventExited, SessionKey: sessionKey, Err: waitErr, ExitCode: exitCode})
	}()

	return p, nil
}

func (s *Supervisor) pipeLines(sessionKey string, r io.Reader, typ EventType) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		s.emit(Event{Type: typ, SessionKey: sessionKey, Line: scanner.Text()})
	}
}

// MarkReady records a successful spawn+ready signal against the session's
// breaker, per spec §4.2 ("successful spawn + ready signal counts as a
// success").
func (s *Supervisor) MarkReady(sessionKey string) {
	s.breakerFor(sessionKey).RecordSuccess()
}

// Stdin returns the child's stdin pipe for writing outbound frames.
func (p *Process) Stdin() io.WriteCloser { return p.stdin }

// Stdout returns the child's raw stdout reader. Only non-nil when the
// process was spawned with Config.RawStdout set.
func (p *Process) Stdout() io.ReadCloser { return p.stdout }

// Pid returns the OS process id, or 0 if not running.
func (p *Process) Pid() int {
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Stop sends SIGTERM, waits up to killGrace, then sends SIGKILL. Idempotent.
func (p *Process) Stop() error {
	p.mu.Lock()
	if p.cleanedUp {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	if p.cmd == nil || p.cmd.Process == nil {
		return nil
	}

	if p.stdin != nil {
		_ = p.stdin.Close()
	}

	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		p.finishCleanup()
		return nil
	}

	done := make(chan struct{})
	go func() {
		_ = p.cmd.Wait()
		close(done)
	}()

	select {
	case <-time.After(p.killGrace):
		_ = p.cmd.Process.Kill()
		<-done
	case <-done:
	}

	p.finishCleanup()
	return nil
}

// Kill sends SIGKILL immediately.
func (p *Process) Kill() error {
	if p.cmd == nil || p.cmd.Process == nil {
		return nil
	}
	err := p.cmd.Process.Kill()
	p.finishCleanup()
	return err
}

func (p *Process) finishCleanup() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cleanedUp = true
}

// ErrCircuitOpen is returned by Spawn when the session's breaker is open.
var ErrCircuitOpen = fmt.Errorf("process: circuit breaker open, restart refused")
