// Terminal support for the ACP adapter's server-initiated terminal/*
// requests, adapted from the teacher's internal/provider/common/acp's
// TerminalManager/ACPTerminal (terminal_manager.go) and internal/terminal's
// OutputLog ring buffer (output_log.go), both folded directly into this
// package since BeamCode has no separate live-terminal-broadcast UI to
// serve — only ACP's own request/response terminal/* methods need a
// rendered snapshot of the command's output.
package acp

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/ricochet1k/termemu"
)

const (
	maxConcurrentTerminals = 10
	terminalOutputLimit    = 1024 * 1024 // 1MB, matches the teacher's OutputLog sizing
)

var (
	ErrTerminalNotFound      = errors.New("acp: terminal not found")
	ErrTerminalAlreadyExists = errors.New("acp: terminal already exists")
	ErrTooManyTerminals      = errors.New("acp: max concurrent terminals exceeded")
)

// terminalRingBuffer is the teacher's OutputLog, trimmed to exactly the
// Write/ReadAll shape this adapter needs.
type terminalRingBuffer struct {
	mu        sync.RWMutex
	buf       []byte
	writePos  int
	wrapped   bool
	truncated bool
}

func newTerminalRingBuffer(size int) *terminalRingBuffer {
	return &terminalRingBuffer{buf: make([]byte, size)}
}

func (l *terminalRingBuffer) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, b := range p {
		l.buf[l.writePos] = b
		l.writePos++
		if l.writePos >= len(l.buf) {
			l.writePos = 0
			l.wrapped = true
			l.truncated = true
		}
	}
	return len(p), nil
}

func (l *terminalRingBuffer) ReadAll() (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if !l.wrapped {
		return string(l.buf[:l.writePos]), l.truncated
	}
	return string(l.buf[l.writePos:]) + string(l.buf[:l.writePos]), l.truncated
}

// nullFrontend discards every termemu.Frontend callback; this adapter only
// needs termemu's screen reconstruction (Terminal.Line), not live
// region/style change notifications the way the teacher's UI broadcaster
// used them.
type nullFrontend struct{}

func (nullFrontend) Bell()                                               {}
func (nullFrontend) RegionChanged(termemu.Region, termemu.ChangeReason)   {}
func (nullFrontend) ScrollLines(int)                                     {}
func (nullFrontend) CursorMoved(int, int)                                {}
func (nullFrontend) StyleChanged(termemu.Style)                          {}
func (nullFrontend) ViewFlagChanged(termemu.ViewFlag, bool)              {}
func (nullFrontend) ViewIntChanged(termemu.ViewInt, int)                 {}
func (nullFrontend) ViewStringChanged(termemu.ViewString, string)        {}

// acpTerminal is one workspace command spawned on behalf of the agent via
// terminal/create.
type acpTerminal struct {
	id      string
	cmd     *exec.Cmd
	backend *termemu.PTYBackend
	term    termemu.Terminal
	ring    *terminalRingBuffer

	mu       sync.Mutex
	exitCode *int
	done     chan struct{}
}

func (t *acpTerminal) output() (text string, truncated bool) {
	raw, truncated := t.ring.ReadAll()
	if t.term == nil {
		return raw, truncated
	}
	var rendered string
	t.term.WithLock(func() {
		w, h := t.term.Size()
		if w <= 0 || h <= 0 {
			return
		}
		lines := make([]string, h)
		for y := 0; y < h; y++ {
			lines[y] = t.term.Line(y)
		}
		rendered = strings.TrimRight(strings.Join(lines, "\n"), "\n")
	})
	if rendered == "" {
		return raw, truncated
	}
	return rendered, truncated
}

func (t *acpTerminal) exitStatus() *int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.exitCode
}

func (t *acpTerminal) waitForExit(ctx context.Context) (*int, error) {
	select {
	case <-t.done:
		return t.exitStatus(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *acpTerminal) kill() error {
	if t.cmd == nil || t.cmd.Process == nil {
		return nil
	}
	return t.cmd.Process.Kill()
}

func (t *acpTerminal) watch() {
	defer close(t.done)
	if t.cmd == nil || t.cmd.Process == nil {
		return
	}
	state, _ := t.cmd.Process.Wait()
	if state == nil {
		return
	}
	code := state.ExitCode()
	t.mu.Lock()
	t.exitCode = &code
	t.mu.Unlock()
}

// terminalManager owns every live workspace command terminal for one ACP
// session, keyed by the agent-assigned terminal id.
type terminalManager struct {
	workingDir string

	mu        sync.Mutex
	terminals map[string]*acpTerminal
}

func newTerminalManager(workingDir string) *terminalManager {
	return &terminalManager{workingDir: workingDir, terminals: make(map[string]*acpTerminal)}
}

func (m *terminalManager) create(id, command string, args []string) (*acpTerminal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.terminals[id]; exists {
		return nil, ErrTerminalAlreadyExists
	}
	if len(m.terminals) >= maxConcurrentTerminals {
		return nil, ErrTooManyTerminals
	}

	cmd := exec.Command(command, args...)
	cmd.Dir = m.workingDir

	backend := &termemu.PTYBackend{}
	if err := backend.StartCommand(cmd); err != nil {
		return nil, fmt.Errorf("acp: start terminal command: %w", err)
	}

	ring := newTerminalRingBuffer(terminalOutputLimit)
	tee := termemu.NewTeeBackend(backend)
	tee.SetTee(ring)

	term := termemu.NewWithMode(nullFrontend{}, tee, termemu.TextReadModeRune)
	if term == nil {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		return nil, errors.New("acp: failed to initialize terminal emulator")
	}

	t := &acpTerminal{id: id, cmd: cmd, backend: backend, term: term, ring: ring, done: make(chan struct{})}
	m.terminals[id] = t
	go t.watch()
	return t, nil
}

func (m *terminalManager) get(id string) (*acpTerminal, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.terminals[id]
	return t, ok
}

func (m *terminalManager) release(id string) {
	m.mu.Lock()
	t, ok := m.terminals[id]
	delete(m.terminals, id)
	m.mu.Unlock()
	if ok {
		_ = t.kill()
	}
}

func (m *terminalManager) closeAll() {
	m.mu.Lock()
	terminals := m.terminals
	m.terminals = make(map[string]*acpTerminal)
	m.mu.Unlock()
	for _, t := range terminals {
		_ = t.kill()
	}
}
