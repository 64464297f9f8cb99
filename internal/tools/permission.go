package tools

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/titan/ralph-orchestrator/internal/protocol"
)

// PermissionOutcome is the ACP-shaped result of a permission decision,
// handed back to the adapter for JSON-RPC response encoding.
type PermissionOutcome struct {
	Outcome OutcomeBody `json:"outcome"`
}

// OutcomeBody is the nested outcome object ACP expects.
type OutcomeBody struct {
	Outcome  string `json:"outcome"` // "selected" or "cancelled"
	OptionID string `json:"optionId,omitempty"`
}

// PermissionHandler resolves session/request_permission calls against the
// configured mode and records every decision to history.
type PermissionHandler struct {
	Mode      PermissionMode
	Allowlist []string
	Prompter  UserPrompter
	History   *PermissionHistory
}

// Handle resolves a permission request into an ACP outcome, recording the
// decision.
func (h *PermissionHandler) Handle(req PermissionRequest) (*PermissionOutcome, error) {
	allowed, reason := h.decide(req)

	h.History.Record(PermissionDecision{
		Request: req,
		Allowed: allowed,
		Reason:  reason,
		Mode:    h.Mode,
	})

	if !allowed {
		return &PermissionOutcome{Outcome: OutcomeBody{Outcome: "cancelled"}}, nil
	}

	return &PermissionOutcome{Outcome: OutcomeBody{Outcome: "selected", OptionID: h.firstAllowOption(req)}}, nil
}

func (h *PermissionHandler) firstAllowOption(req PermissionRequest) string {
	for _, opt := range req.Options {
		if opt.Type == "allow" {
			return opt.ID
		}
	}
	if len(req.Options) > 0 {
		return req.Options[0].ID
	}
	return "proceed_once"
}

func (h *PermissionHandler) decide(req PermissionRequest) (allowed bool, reason string) {
	switch h.Mode {
	case ModeAutoApprove:
		return true, "auto_approve"
	case ModeDenyAll:
		return false, "deny_all"
	case ModeAllowlist:
		return h.evaluateAllowlist(req)
	case ModeInteractive:
		return h.evaluateInteractive(req)
	default:
		return false, fmt.Sprintf("unknown permission mode: %s", h.Mode)
	}
}

func (h *PermissionHandler) evaluateAllowlist(req PermissionRequest) (bool, string) {
	for _, pattern := range h.Allowlist {
		if matchesPattern(req.Operation, pattern) {
			return true, fmt.Sprintf("matches allowlist pattern: %s", pattern)
		}
	}
	return false, "no matching allowlist pattern"
}

func (h *PermissionHandler) evaluateInteractive(req PermissionRequest) (bool, string) {
	if h.Prompter == nil {
		return false, "no TTY available"
	}
	allow, err := h.Prompter.Prompt(req.Operation)
	if err != nil {
		return false, fmt.Sprintf("prompt error (treated as deny): %v", err)
	}
	if allow {
		return true, "user approved"
	}
	return false, "user denied"
}

// matchesPattern checks operation against a pattern that may be an exact
// string, a glob (using * and ?), or a /regex/ delimited by slashes.
func matchesPattern(operation, pattern string) bool {
	if len(pattern) >= 2 && strings.HasPrefix(pattern, "/") && strings.HasSuffix(pattern, "/") {
		re, err := regexp.Compile(pattern[1 : len(pattern)-1])
		if err != nil {
			return false
		}
		return re.MatchString(operation)
	}

	if strings.ContainsAny(pattern, "*?") {
		matched, err := path.Match(pattern, operation)
		if err != nil {
			return false
		}
		return matched
	}

	return operation == pattern
}

// ApplicationError builds the JSON-RPC application error used when a tool
// handler fails in a way the agent should see.
func ApplicationError(code int, format string, args ...any) error {
	return &protocol.RPCError{Code: code, Message: fmt.Sprintf(format, args...)}
}
