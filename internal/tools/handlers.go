package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/titan/ralph-orchestrator/internal/protocol"
)

// Dispatcher routes inbound agent->host requests (fs/*, terminal/*,
// session/request_permission) to the concrete handlers, matching the
// subprocess.RequestHandler signature.
type Dispatcher struct {
	FS         FSHandler
	Terminal   *TerminalTable
	Permission *PermissionHandler
}

// NewDispatcher wires a ready-to-use dispatcher.
func NewDispatcher(permission *PermissionHandler) *Dispatcher {
	return &Dispatcher{
		FS:         FSHandler{},
		Terminal:   NewTerminalTable(),
		Permission: permission,
	}
}

// Handle implements subprocess.RequestHandler.
func (d *Dispatcher) Handle(ctx context.Context, method string, params json.RawMessage) (any, error) {
	switch method {
	case "fs/read_text_file":
		var p ReadTextFileParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, badParams(err)
		}
		return d.FS.ReadTextFile(p)

	case "fs/write_text_file":
		var p WriteTextFileParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, badParams(err)
		}
		return d.FS.WriteTextFile(p)

	case "terminal/create":
		var p CreateTerminalParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, badParams(err)
		}
		return d.Terminal.Create(p)

	case "terminal/output":
		var p struct {
			TerminalID string `json:"terminalId"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, badParams(err)
		}
		return d.Terminal.Output(p.TerminalID)

	case "terminal/wait_for_exit":
		var p struct {
			TerminalID string `json:"terminalId"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, badParams(err)
		}
		return d.Terminal.WaitForExit(ctx, p.TerminalID)

	case "terminal/kill":
		var p struct {
			TerminalID string `json:"terminalId"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, badParams(err)
		}
		if err := d.Terminal.Kill(p.TerminalID); err != nil {
			return nil, err
		}
		return struct{}{}, nil

	case "terminal/release":
		var p struct {
			TerminalID string `json:"terminalId"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, badParams(err)
		}
		if err := d.Terminal.Release(p.TerminalID); err != nil {
			return nil, err
		}
		return struct{}{}, nil

	case "session/request_permission":
		var p PermissionRequest
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, badParams(err)
		}
		return d.Permission.Handle(p)

	default:
		return nil, &protocol.RPCError{Code: protocol.ErrCodeMethodNotFound, Message: fmt.Sprintf("Method not found: %s", method)}
	}
}

func badParams(err error) error {
	return &protocol.RPCError{Code: protocol.ErrCodeInvalidParams, Message: fmt.Sprintf("invalid params: %v", err)}
}
