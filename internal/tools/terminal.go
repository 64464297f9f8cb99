package tools

import (
	"bytes"
	"context"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/titan/ralph-orchestrator/internal/protocol"
)

// killGrace is how long Kill waits after SIGTERM before escalating to
// SIGKILL.
const killGrace = 2 * time.Second

// CreateTerminalParams is the inbound terminal/create payload.
type CreateTerminalParams struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Cwd     string             `json:"cwd,omitempty"`
	Env     map[string]string  `json:"env,omitempty"`
}

// CreateTerminalResult carries the new terminal's id.
type CreateTerminalResult struct {
	TerminalID string `json:"terminalId"`
}

// TerminalOutputResult is the terminal/output response: the buffered
// output captured so far, whether the process is still running, and its
// exit code once known.
type TerminalOutputResult struct {
	Output       string `json:"output"`
	Truncated    bool   `json:"truncated"`
	ExitCode     *int   `json:"exitCode,omitempty"`
	ExitSignaled bool   `json:"exitSignaled,omitempty"`
}

// WaitForExitResult is the terminal/wait_for_exit response.
type WaitForExitResult struct {
	ExitCode int `json:"exitCode"`
}

// TerminalTable owns every terminal created by the agent for this session,
// keyed by a generated uuid (spec §3: "Terminal table").
type TerminalTable struct {
	mu      sync.Mutex
	entries map[string]*TerminalEntry
}

// NewTerminalTable returns an empty table.
func NewTerminalTable() *TerminalTable {
	return &TerminalTable{entries: make(map[string]*TerminalEntry)}
}

// Create spawns a command and tracks its output in a growing in-memory
// buffer so terminal/output can be polled without blocking on the child.
func (t *TerminalTable) Create(p CreateTerminalParams) (*CreateTerminalResult, error) {
	cmd := exec.Command(p.Command, p.Args...)
	if p.Cwd != "" {
		cmd.Dir = p.Cwd
	}
	if len(p.Env) > 0 {
		env := cmd.Environ()
		for k, v := range p.Env {
			env = append(env, k+"="+v)
		}
		cmd.Env = env
	}

	buf := &threadSafeBuffer{}
	entry := &TerminalEntry{ID: uuid.NewString(), cmd: cmd, running: true, buf: buf}

	cmd.Stdout = buf
	cmd.Stderr = buf

	if err := cmd.Start(); err != nil {
		return nil, ApplicationError(protocol.ErrCodeOSError, "starting terminal command %s: %v", p.Command, err)
	}

	go func() {
		err := cmd.Wait()
		entry.mu.Lock()
		entry.running = false
		entry.hasExit = true
		entry.exit = exitCodeFrom(err)
		entry.mu.Unlock()
	}()

	t.mu.Lock()
	t.entries[entry.ID] = entry
	t.mu.Unlock()

	return &CreateTerminalResult{TerminalID: entry.ID}, nil
}

// Output returns everything captured so far and the current run state.
func (t *TerminalTable) Output(terminalID string) (*TerminalOutputResult, error) {
	entry, err := t.lookup(terminalID)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	hasExit := entry.hasExit
	code := entry.exit
	entry.mu.Unlock()

	res := &TerminalOutputResult{Output: string(entry.buf.Bytes())}
	if hasExit {
		res.ExitCode = &code
	}
	return res, nil
}

// WaitForExit blocks until the process exits or ctx is done.
func (t *TerminalTable) WaitForExit(ctx context.Context, terminalID string) (*WaitForExitResult, error) {
	entry, err := t.lookup(terminalID)
	if err != nil {
		return nil, err
	}

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		entry.mu.Lock()
		exited := entry.hasExit
		code := entry.exit
		entry.mu.Unlock()
		if exited {
			return &WaitForExitResult{ExitCode: code}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ApplicationError(protocol.ErrCodeOSError, "wait_for_exit cancelled: %v", ctx.Err())
		case <-ticker.C:
		}
	}
}

// Kill sends SIGTERM and escalates to SIGKILL after killGrace if the
// process hasn't exited.
func (t *TerminalTable) Kill(terminalID string) error {
	entry, err := t.lookup(terminalID)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	running := entry.running
	proc := entry.cmd.Process
	entry.mu.Unlock()
	if !running || proc == nil {
		return nil
	}

	_ = proc.Signal(syscall.SIGTERM)

	deadline := time.Now().Add(killGrace)
	for time.Now().Before(deadline) {
		entry.mu.Lock()
		stillRunning := entry.running
		entry.mu.Unlock()
		if !stillRunning {
			return nil
		}
		time.Sleep(20 * time.Millisecond)
	}

	entry.mu.Lock()
	stillRunning := entry.running
	entry.mu.Unlock()
	if stillRunning {
		_ = proc.Kill()
	}
	return nil
}

// Release kills the process if still running and removes it from the
// table.
func (t *TerminalTable) Release(terminalID string) error {
	if err := t.Kill(terminalID); err != nil {
		return err
	}
	t.mu.Lock()
	delete(t.entries, terminalID)
	t.mu.Unlock()
	return nil
}

// IDs returns every tracked terminal id, used by shutdown paths that need
// to release all terminals.
func (t *TerminalTable) IDs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(t.entries))
	for id := range t.entries {
		ids = append(ids, id)
	}
	return ids
}

func (t *TerminalTable) lookup(terminalID string) (*TerminalEntry, error) {
	t.mu.Lock()
	entry, ok := t.entries[terminalID]
	t.mu.Unlock()
	if !ok {
		return nil, ApplicationError(protocol.ErrCodeOSError, "unknown terminal: %s", terminalID)
	}
	return entry, nil
}

func exitCodeFrom(err error) int {
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return -1
}

// threadSafeBuffer wraps bytes.Buffer with a mutex so the child's stdout
// and stderr writers (which may be invoked concurrently) never race with
// Output() reads.
type threadSafeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *threadSafeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *threadSafeBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, b.buf.Len())
	copy(out, b.buf.Bytes())
	return out
}
