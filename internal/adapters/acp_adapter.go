package adapters

import (
	"context"

	"github.com/titan/ralph-orchestrator/internal/acp"
)

// ACPAdapter wraps an *acp.Adapter as a ToolAdapter, lazily initializing
// the subprocess on first use.
type ACPAdapter struct {
	name       string
	underlying *acp.Adapter
}

// NewACPAdapter returns a ToolAdapter backed by underlying, registered
// under name (normally "acp").
func NewACPAdapter(name string, underlying *acp.Adapter) *ACPAdapter {
	return &ACPAdapter{name: name, underlying: underlying}
}

func (a *ACPAdapter) Name() string { return a.name }

// Execute initializes the adapter if needed and forwards one prompt.
// promptFile is accepted for interface symmetry with other backends but
// unused here: the ACP wire protocol only carries the prompt text.
func (a *ACPAdapter) Execute(ctx context.Context, prompt, promptFile string, verbose bool) (ExecuteResult, error) {
	if err := a.underlying.Initialize(ctx); err != nil {
		return ExecuteResult{}, err
	}

	result, err := a.underlying.Prompt(ctx, prompt, verbose)
	if err != nil {
		return ExecuteResult{}, err
	}

	return ExecuteResult{
		Success:    result.Success,
		Output:     result.Output,
		StopReason: result.StopReason,
		Error:      result.Error,
	}, nil
}

// Underlying exposes the wrapped adapter for callers that need
// lifecycle control beyond the ToolAdapter contract (shutdown, signal
// handling, permission stats).
func (a *ACPAdapter) Underlying() *acp.Adapter {
	return a.underlying
}
