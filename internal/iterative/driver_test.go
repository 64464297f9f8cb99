package iterative

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/titan/ralph-orchestrator/internal/adapters"
	promptctx "github.com/titan/ralph-orchestrator/internal/context"
	"github.com/titan/ralph-orchestrator/internal/cost"
	"github.com/titan/ralph-orchestrator/internal/metrics"
	"github.com/titan/ralph-orchestrator/internal/safety"
)

func noSleep(ctx context.Context, d time.Duration) {}

type scriptedAdapter struct {
	name    string
	results []adapters.ExecuteResult
	errs    []error
	calls   int
}

func (s *scriptedAdapter) Name() string { return s.name }

func (s *scriptedAdapter) Execute(ctx context.Context, prompt, promptFile string, verbose bool) (adapters.ExecuteResult, error) {
	i := s.calls
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	s.calls++
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	return s.results[i], err
}

func newDriverDeps(t *testing.T, limits safety.Limits) (Deps, *metrics.Metrics) {
	t.Helper()
	dir := t.TempDir()
	m := metrics.New()
	deps := Deps{
		Safety:    safety.New(limits),
		Assembler: promptctx.New("", "# prompt", 8000, filepath.Join(dir, "cache")),
		Cost:      cost.NewTracker(),
		Metrics:   m,
		Stats:     metrics.NewIterationStats(),
		Registry:  adapters.NewRegistry(),
	}
	return deps, m
}

func TestDriver_SafetyLimitStopsLoopAfterOneIteration(t *testing.T) {
	deps, m := newDriverDeps(t, safety.Limits{MaxIterations: 1})
	adapter := &scriptedAdapter{name: "acp", results: []adapters.ExecuteResult{{Success: true, Output: "ok"}}}
	deps.Registry.Register(adapter)

	d := New(Config{PrimaryAdapterName: "acp"}, deps)
	d.SetSleeper(noSleep)

	require.NoError(t, d.Run(context.Background()))
	assert.Equal(t, 1, m.Snapshot().Iterations)
	assert.Equal(t, 1, adapter.calls)
}

func TestDriver_CompletionMarkerStopsBeforeExecuting(t *testing.T) {
	dir := t.TempDir()
	promptFile := filepath.Join(dir, "prompt.md")
	require.NoError(t, os.WriteFile(promptFile, []byte("do the thing\n- [x] TASK_COMPLETE\n"), 0o644))

	deps, m := newDriverDeps(t, safety.Limits{})
	adapter := &scriptedAdapter{name: "acp", results: []adapters.ExecuteResult{{Success: true, Output: "ok"}}}
	deps.Registry.Register(adapter)

	d := New(Config{PrimaryAdapterName: "acp", PromptFile: promptFile}, deps)
	d.SetSleeper(noSleep)

	require.NoError(t, d.Run(context.Background()))
	assert.Equal(t, 0, m.Snapshot().Iterations)
	assert.Equal(t, 0, adapter.calls)
}

func TestDriver_FallbackAdapterUsedOnPrimaryFailure(t *testing.T) {
	deps, m := newDriverDeps(t, safety.Limits{MaxIterations: 1})
	primary := &scriptedAdapter{name: "acp", results: []adapters.ExecuteResult{{Success: false}}}
	fallback := &scriptedAdapter{name: "gemini", results: []adapters.ExecuteResult{{Success: true, Output: "fallback worked"}}}
	deps.Registry.Register(primary)
	deps.Registry.Register(fallback)

	d := New(Config{PrimaryAdapterName: "acp"}, deps)
	d.SetSleeper(noSleep)

	require.NoError(t, d.Run(context.Background()))
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, fallback.calls)
	assert.Equal(t, 1, m.Snapshot().Successful)
	assert.Equal(t, "fallback worked", d.LastOutput())
}

func TestDriver_LoopDetectionStopsTheRun(t *testing.T) {
	deps, m := newDriverDeps(t, safety.Limits{})
	adapter := &scriptedAdapter{name: "acp", results: []adapters.ExecuteResult{
		{Success: true, Output: "same output every time"},
		{Success: true, Output: "same output every time"},
	}}
	deps.Registry.Register(adapter)

	d := New(Config{PrimaryAdapterName: "acp"}, deps)
	d.SetSleeper(noSleep)

	require.NoError(t, d.Run(context.Background()))
	assert.Equal(t, 2, m.Snapshot().Iterations)
	assert.True(t, d.StopRequested())
}

func TestDriver_RecordsExceptionalErrorAndResetsAfterFive(t *testing.T) {
	deps, m := newDriverDeps(t, safety.Limits{})
	adapter := &scriptedAdapter{
		name: "acp",
		results: []adapters.ExecuteResult{{}, {}, {}, {}, {}, {}},
		errs: []error{
			assertErr("boom1"), assertErr("boom2"), assertErr("boom3"),
			assertErr("boom4"), assertErr("boom5"), assertErr("boom6"),
		},
	}
	deps.Registry.Register(adapter)

	d := New(Config{PrimaryAdapterName: "acp"}, deps)
	d.SetSleeper(noSleep)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		d.runIteration(ctx, TriggerInitial)
	}
	assert.Equal(t, 5, m.Snapshot().Errors)

	// the 6th exceptional error pushes the count past the threshold (> 5)
	// and resetState zeroes the counters back out.
	d.runIteration(ctx, TriggerInitial)
	assert.Equal(t, 0, m.Snapshot().Iterations)
	assert.Equal(t, 0, m.Snapshot().Errors)
	assert.Equal(t, 6, adapter.calls)
}

func TestDriver_HandleFailure_BacksOffBetweenFailures(t *testing.T) {
	deps, m := newDriverDeps(t, safety.Limits{MaxIterations: 2})
	adapter := &scriptedAdapter{name: "acp", results: []adapters.ExecuteResult{{Success: false}, {Success: false}}}
	deps.Registry.Register(adapter)

	var sleeps []time.Duration
	d := New(Config{PrimaryAdapterName: "acp"}, deps)
	d.SetSleeper(func(ctx context.Context, dur time.Duration) {
		sleeps = append(sleeps, dur)
	})

	require.NoError(t, d.Run(context.Background()))
	assert.Equal(t, 2, m.Snapshot().Failed)
	// each failed iteration sleeps a backoff (2s, then 4s) and then a pacing sleep
	require.GreaterOrEqual(t, len(sleeps), 2)
	assert.Equal(t, 2*time.Second, sleeps[0])
}

type errString string

func (e errString) Error() string { return string(e) }

func assertErr(msg string) error {
	return errString(msg)
}

func TestDetermineTriggerReason_InitialOnZeroIterations(t *testing.T) {
	reason := determineTriggerReason(metrics.Snapshot{})
	assert.Equal(t, TriggerInitial, reason)
}

func TestDetermineTriggerReason_TaskIncompleteAfterFirstSuccess(t *testing.T) {
	// First iteration just completed successfully: iterations=1,
	// successful=1. successful == iterations-1 is false (1 != 0), so this
	// is task_incomplete, not previous_success.
	reason := determineTriggerReason(metrics.Snapshot{Iterations: 1, Successful: 1})
	assert.Equal(t, TriggerTaskIncomplete, reason)
}

func TestDetermineTriggerReason_PreviousSuccessOnTheIterationAfter(t *testing.T) {
	// One iteration further on, the one success now sits at iterations-1.
	reason := determineTriggerReason(metrics.Snapshot{Iterations: 2, Successful: 1})
	assert.Equal(t, TriggerPreviousSuccess, reason)
}

func TestDetermineTriggerReason_RecoveryWhenFailuresDominate(t *testing.T) {
	reason := determineTriggerReason(metrics.Snapshot{Iterations: 3, Successful: 0, Failed: 3})
	assert.Equal(t, TriggerRecovery, reason)
}

func TestDetermineTriggerReason_RecoveryRequiresStrictMajority(t *testing.T) {
	// failed/iterations == 0.5 exactly must not trigger recovery.
	reason := determineTriggerReason(metrics.Snapshot{Iterations: 2, Successful: 1, Failed: 1})
	assert.Equal(t, TriggerPreviousSuccess, reason)
}
