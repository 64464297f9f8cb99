// Package acp adapts an ACP-compliant agent subprocess (Gemini CLI and
// others) into Ralph's iteration loop: it owns the initialize/session/new
// handshake, routes session/update notifications into per-prompt session
// state, and serves inbound fs/terminal/permission requests.
package acp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/titan/ralph-orchestrator/internal/console"
	"github.com/titan/ralph-orchestrator/internal/rpcerr"
	"github.com/titan/ralph-orchestrator/internal/subprocess"
	"github.com/titan/ralph-orchestrator/internal/tools"
)

// protocolVersion is the ACP protocol version this adapter speaks,
// encoded as an integer per the ACP spec.
const protocolVersion = 1

// Config configures one Adapter instance.
type Config struct {
	AgentCommand        string
	AgentArgs           []string
	Timeout             time.Duration
	PermissionMode      tools.PermissionMode
	PermissionAllowlist []string
	Prompter            tools.UserPrompter
	Formatter           console.Formatter
}

// PromptResult mirrors the orchestrator-facing ToolResponse shape for one
// session/prompt call.
type PromptResult struct {
	Success        bool
	Output         string
	Error          string
	StopReason     string
	SessionID      string
	ToolCallsCount int
	HasThoughts    bool
}

// Adapter manages one agent subprocess's ACP lifecycle.
type Adapter struct {
	cfg Config

	mu          sync.Mutex
	client      *subprocess.Client
	dispatcher  *tools.Dispatcher
	permHist    *tools.PermissionHistory
	sessionID   string
	session     *Session
	initialized bool
	verbose     atomic.Bool

	shutdownRequested atomic.Bool
	sigCh             chan os.Signal
}

// New constructs an unstarted Adapter.
func New(cfg Config) *Adapter {
	if cfg.Timeout == 0 {
		cfg.Timeout = 300 * time.Second
	}
	if cfg.Formatter == nil {
		cfg.Formatter = console.NoOpFormatter{}
	}
	permHist := &tools.PermissionHistory{}
	dispatcher := tools.NewDispatcher(&tools.PermissionHandler{
		Mode:      cfg.PermissionMode,
		Allowlist: cfg.PermissionAllowlist,
		Prompter:  cfg.Prompter,
		History:   permHist,
	})
	return &Adapter{cfg: cfg, dispatcher: dispatcher, permHist: permHist}
}

// augmentArgsForGemini appends the flags Gemini CLI requires to enter ACP
// mode, only when the agent binary's basename is literally "gemini" and
// the caller hasn't already supplied them.
func augmentArgsForGemini(command string, args []string) []string {
	if filepath.Base(command) != "gemini" {
		return args
	}

	out := append([]string(nil), args...)
	has := func(flag string) bool {
		for _, a := range out {
			if a == flag {
				return true
			}
		}
		return false
	}

	if !has("--experimental-acp") {
		out = append(out, "--experimental-acp")
	}
	if !has("--yolo") {
		out = append(out, "--yolo")
	}
	if !has("--allowed-tools") {
		out = append(out, "--allowed-tools",
			"list_directory", "read_many_files", "read_file", "web_fetch", "google_web_search")
	}
	return out
}

// Initialize performs the ACP handshake: spawn, initialize, session/new.
// It is a no-op if already initialized.
func (a *Adapter) Initialize(ctx context.Context) error {
	a.mu.Lock()
	if a.initialized {
		a.mu.Unlock()
		return nil
	}
	a.mu.Unlock()

	effectiveArgs := augmentArgsForGemini(a.cfg.AgentCommand, a.cfg.AgentArgs)
	client := subprocess.New(a.cfg.AgentCommand, effectiveArgs)
	client.OnNotification(a.handleNotification)
	client.OnRequest(a.dispatcher.Handle)

	if err := client.Start(ctx); err != nil {
		return err
	}

	initCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	initResult, err := client.SendRequest(initCtx, "initialize", map[string]any{
		"protocolVersion": protocolVersion,
		"clientCapabilities": map[string]any{
			"fs": map[string]any{
				"readTextFile":  true,
				"writeTextFile": true,
			},
			"terminal": true,
		},
		"clientInfo": map[string]any{
			"name":    "ralph-orchestrator",
			"title":   "Ralph Orchestrator",
			"version": "1.2.0",
		},
	})
	if err != nil {
		_ = client.Stop(ctx)
		return err
	}

	var initResponse struct {
		ProtocolVersion any `json:"protocolVersion"`
	}
	if err := json.Unmarshal(initResult, &initResponse); err != nil || initResponse.ProtocolVersion == nil {
		_ = client.Stop(ctx)
		return rpcerr.New(rpcerr.ProtocolFailure, "invalid initialize response: missing protocolVersion")
	}

	cwd, _ := os.Getwd()
	sessionResult, err := client.SendRequest(initCtx, "session/new", map[string]any{
		"cwd":        cwd,
		"mcpServers": []any{},
	})
	if err != nil {
		_ = client.Stop(ctx)
		return err
	}

	var sessionResponse struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(sessionResult, &sessionResponse); err != nil || sessionResponse.SessionID == "" {
		_ = client.Stop(ctx)
		return rpcerr.New(rpcerr.ProtocolFailure, "invalid session/new response: missing sessionId")
	}

	a.mu.Lock()
	a.client = client
	a.sessionID = sessionResponse.SessionID
	a.session = NewSession(sessionResponse.SessionID)
	a.initialized = true
	a.mu.Unlock()

	a.installSignalHandlers()

	return nil
}

func (a *Adapter) handleNotification(method string, params json.RawMessage) {
	if method != "session/update" {
		return
	}

	a.mu.Lock()
	session := a.session
	a.mu.Unlock()
	if session == nil {
		return
	}

	payload := normalizeUpdate(params)
	if a.verbose.Load() {
		a.stream(payload)
	}
	session.ProcessUpdate(payload)
}

func (a *Adapter) stream(p UpdatePayload) {
	f := a.cfg.Formatter
	switch p.Kind {
	case "agent_message_chunk":
		if p.Content != "" {
			f.Message(p.Content)
		}
	case "agent_thought_chunk":
		if p.Content != "" {
			f.Thought(p.Content)
		}
	case "tool_call":
		f.Separator()
		f.Status(fmt.Sprintf("TOOL CALL: %s", nonEmpty(p.ToolName, "unknown")))
		f.Info(fmt.Sprintf("ID: %s", truncate(p.ToolCallID, 12)))
	case "tool_call_update":
		id := truncate(p.ToolCallID, 12)
		switch p.Status {
		case "completed":
			f.Success(fmt.Sprintf("Tool %s... completed", id))
		case "failed":
			f.Error(fmt.Sprintf("Tool %s... failed", id))
			if p.Error != "" {
				f.Error(fmt.Sprintf("Error: %s", p.Error))
			}
		case "running":
			f.Status(fmt.Sprintf("Tool %s... running", id))
		}
	}
}

// Prompt sends one session/prompt request and waits for its response,
// streaming session/update notifications through the console if verbose.
func (a *Adapter) Prompt(ctx context.Context, prompt string, verbose bool) (*PromptResult, error) {
	a.mu.Lock()
	client := a.client
	session := a.session
	sessionID := a.sessionID
	a.mu.Unlock()

	if client == nil || session == nil {
		return nil, rpcerr.New(rpcerr.NotRunning, "adapter not initialized")
	}

	a.verbose.Store(verbose)
	session.Reset()

	if verbose {
		a.cfg.Formatter.Header(fmt.Sprintf("ACP AGENT (%s)", a.cfg.AgentCommand))
		a.cfg.Formatter.Status("Processing prompt...")
	}

	promptCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	result, err := client.SendRequest(promptCtx, "session/prompt", map[string]any{
		"sessionId": sessionID,
		"prompt":    []map[string]string{{"type": "text", "text": prompt}},
	})
	if err != nil {
		if rpcerr.Is(err, rpcerr.Timeout) {
			if verbose {
				a.cfg.Formatter.Separator()
				a.cfg.Formatter.Error(fmt.Sprintf("Timeout after %s", a.cfg.Timeout))
			}
			return &PromptResult{
				Success:   false,
				Output:    session.Output(),
				Error:     fmt.Sprintf("prompt execution timed out after %s", a.cfg.Timeout),
				SessionID: sessionID,
			}, nil
		}
		return nil, err
	}

	var response struct {
		StopReason string `json:"stopReason"`
		Error      *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	_ = json.Unmarshal(result, &response)
	if response.StopReason == "" {
		response.StopReason = "unknown"
	}

	if response.StopReason == "error" {
		msg := "Unknown error from agent"
		if response.Error != nil && response.Error.Message != "" {
			msg = response.Error.Message
		}
		if verbose {
			a.cfg.Formatter.Separator()
			a.cfg.Formatter.Error(fmt.Sprintf("Agent error: %s", msg))
		}
		return &PromptResult{
			Success:    false,
			Output:     session.Output(),
			Error:      msg,
			StopReason: response.StopReason,
			SessionID:  sessionID,
		}, nil
	}

	toolCalls := session.ToolCalls()
	if verbose {
		a.cfg.Formatter.Separator()
		a.cfg.Formatter.Success(fmt.Sprintf("Agent completed (tools: %d)", len(toolCalls)))
	}

	return &PromptResult{
		Success:        true,
		Output:         session.Output(),
		StopReason:     response.StopReason,
		SessionID:      sessionID,
		ToolCallsCount: len(toolCalls),
		HasThoughts:    len(session.Thoughts()) > 0,
	}, nil
}

// Shutdown kills any live terminals, stops the subprocess, and resets
// adapter state so Initialize can be called again.
func (a *Adapter) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	client := a.client
	dispatcher := a.dispatcher
	a.mu.Unlock()

	if dispatcher != nil && dispatcher.Terminal != nil {
		for _, id := range dispatcher.Terminal.IDs() {
			_ = dispatcher.Terminal.Release(id)
		}
	}

	var err error
	if client != nil {
		err = client.Stop(ctx)
	}

	a.mu.Lock()
	a.client = nil
	a.sessionID = ""
	a.session = nil
	a.initialized = false
	a.mu.Unlock()

	return err
}

// KillSubprocessSync terminates the agent subprocess immediately, safe to
// call from a signal handler goroutine: it never blocks longer than the
// client's own grace period.
func (a *Adapter) KillSubprocessSync() {
	a.mu.Lock()
	client := a.client
	a.mu.Unlock()
	if client != nil {
		_ = client.Stop(context.Background())
	}
}

// installSignalHandlers arranges for SIGINT/SIGTERM to kill the
// subprocess before the process's default disposition (or any
// previously-installed Go signal handler reading the same channel) takes
// over; the signal is re-raised after cleanup so normal shutdown still
// happens.
func (a *Adapter) installSignalHandlers() {
	a.sigCh = make(chan os.Signal, 2)
	signal.Notify(a.sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig, ok := <-a.sigCh
		if !ok {
			return
		}
		a.shutdownRequested.Store(true)
		a.KillSubprocessSync()
		signal.Stop(a.sigCh)

		if proc, err := os.FindProcess(os.Getpid()); err == nil {
			_ = proc.Signal(sig)
		}
	}()
}

// GetPermissionHistory returns every permission decision made this
// session.
func (a *Adapter) GetPermissionHistory() []tools.PermissionDecision {
	return a.permHist.Snapshot()
}

// GetPermissionStats returns approve/deny counts.
func (a *Adapter) GetPermissionStats() (approved, denied int) {
	return a.permHist.Stats()
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
