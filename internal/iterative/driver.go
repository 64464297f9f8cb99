// Package iterative implements the bounded iteration loop: completion
// marker detection, safety checks, trigger classification, primary and
// fallback adapter invocation, checkpointing, and error recovery (spec
// §4.8).
package iterative

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/titan/ralph-orchestrator/internal/adapters"
	"github.com/titan/ralph-orchestrator/internal/archive"
	"github.com/titan/ralph-orchestrator/internal/checkpoint"
	"github.com/titan/ralph-orchestrator/internal/console"
	promptctx "github.com/titan/ralph-orchestrator/internal/context"
	"github.com/titan/ralph-orchestrator/internal/cost"
	"github.com/titan/ralph-orchestrator/internal/metrics"
	"github.com/titan/ralph-orchestrator/internal/safety"
	"github.com/titan/ralph-orchestrator/internal/telemetry"
)

// TriggerReason records why an iteration was started, for telemetry.
type TriggerReason string

const (
	TriggerInitial         TriggerReason = "initial"
	TriggerRecovery        TriggerReason = "recovery"
	TriggerPreviousSuccess TriggerReason = "previous_success"
	TriggerTaskIncomplete  TriggerReason = "task_incomplete"
	TriggerLoopDetected    TriggerReason = "loop_detected"
)

// taskCompleteMarkers are the exact trimmed lines that signal the task
// is done.
var taskCompleteMarkers = map[string]bool{
	"- [x] TASK_COMPLETE": true,
	"[x] TASK_COMPLETE":   true,
}

const maxConsecutiveErrors = 5
const maxFailuresBeforeRollback = 3

// Config holds the knobs the CLI surface exposes for one driver run.
type Config struct {
	PromptFile         string
	PrimaryAdapterName string
	CheckpointInterval int
	PaceInterval       time.Duration
	Verbose            bool
}

// Deps bundles the collaborators the driver reads and writes each
// iteration. Checkpointer, ArchiveIndex, and Telemetry are optional:
// a nil value disables that side effect without touching core loop
// semantics.
type Deps struct {
	Safety       *safety.Guard
	Assembler    *promptctx.Assembler
	Cost         *cost.Tracker
	Metrics      *metrics.Metrics
	Stats        *metrics.IterationStats
	Checkpointer *checkpoint.Checkpointer
	ArchiveIndex *archive.Index
	Telemetry    *telemetry.Instruments
	Console      console.Formatter
	Registry     *adapters.Registry
	Tasks        *TaskTracker
}

// Driver runs the bounded iteration loop against its Deps.
type Driver struct {
	cfg  Config
	deps Deps

	stopRequested atomic.Bool
	lastOutput    string

	sleep func(ctx context.Context, d time.Duration)
}

// New constructs a Driver. Missing optional Deps fields get inert
// defaults (a NoOpFormatter, a fresh TaskTracker).
func New(cfg Config, deps Deps) *Driver {
	if deps.Console == nil {
		deps.Console = console.NoOpFormatter{}
	}
	if deps.Tasks == nil {
		deps.Tasks = NewTaskTracker()
	}
	if cfg.PaceInterval <= 0 {
		cfg.PaceInterval = 2 * time.Second
	}
	if cfg.PrimaryAdapterName == "" {
		cfg.PrimaryAdapterName = "acp"
	}
	return &Driver{cfg: cfg, deps: deps, sleep: sleepCtx}
}

// SetSleeper overrides the pacing/backoff sleep function; used by tests
// to run the loop without real wall-clock delays.
func (d *Driver) SetSleeper(sleep func(ctx context.Context, dur time.Duration)) {
	d.sleep = sleep
}

// RequestStop asks the loop to stop before its next iteration (or
// immediately, if a fallback pass is in progress).
func (d *Driver) RequestStop() {
	d.stopRequested.Store(true)
}

// StopRequested reports whether a stop has been requested.
func (d *Driver) StopRequested() bool {
	return d.stopRequested.Load()
}

// LastOutput returns the most recent successful iteration's output.
func (d *Driver) LastOutput() string {
	return d.lastOutput
}

// Run executes the bounded loop until stop, a safety limit, the
// completion marker, or loop detection ends it, or ctx is canceled.
func (d *Driver) Run(ctx context.Context) error {
	start := time.Now()

	for !d.stopRequested.Load() {
		if err := ctx.Err(); err != nil {
			return err
		}

		snap := d.deps.Metrics.Snapshot()
		elapsed := time.Since(start).Seconds()
		check := d.deps.Safety.Check(snap.Iterations, elapsed, d.deps.Cost.Total())
		if !check.Passed {
			d.deps.Console.Info(fmt.Sprintf("safety limit reached: %s", check.Reason))
			break
		}

		if d.checkCompletionMarker() {
			d.deps.Console.Success("task completion marker detected - stopping orchestration")
			break
		}

		trigger := determineTriggerReason(snap)
		d.runIteration(ctx, trigger)

		if d.stopRequested.Load() {
			break
		}
		d.sleep(ctx, d.cfg.PaceInterval)
	}
	return nil
}

// runIteration executes exactly one pass of the loop body: adapter
// invocation, bookkeeping, checkpoint, and telemetry recording.
func (d *Driver) runIteration(ctx context.Context, trigger TriggerReason) {
	iterStart := time.Now()

	success, output, tokens, costDelta, err := d.executeOnce(ctx)

	errMsg := ""
	loopDetected := false

	if err != nil {
		d.deps.Metrics.RecordAttempt()
		errMsg = err.Error()
		d.deps.Console.Error(fmt.Sprintf("error in iteration: %v", err))
		d.archivePrompt()
		d.deps.Metrics.RecordError()
		if d.deps.Metrics.Snapshot().Errors > maxConsecutiveErrors {
			d.resetState()
		}
	} else {
		d.deps.Metrics.RecordIterationResult(success)

		if success {
			d.deps.Safety.RecordSuccess()
			d.lastOutput = output
			d.deps.Console.Success(fmt.Sprintf("iteration %d completed successfully", d.deps.Metrics.Snapshot().Iterations))
			if len(output) > 1000 {
				d.deps.Assembler.UpdateContext(output)
			}
			if OutputIndicatesCompletion(output) {
				d.deps.Tasks.CompleteCurrent()
			}
			if d.deps.Safety.DetectLoop(output) {
				loopDetected = true
				trigger = TriggerLoopDetected
				d.deps.Console.Status("loop detected - agent producing repetitive outputs")
			}
		} else {
			d.deps.Safety.RecordFailure()
			errMsg = "iteration failed"
			d.deps.Console.Info(fmt.Sprintf("iteration %d failed", d.deps.Metrics.Snapshot().Iterations))
			d.handleFailure(ctx)
		}

		iterationNumber := d.deps.Metrics.Snapshot().Iterations
		if d.cfg.CheckpointInterval > 0 && iterationNumber%d.cfg.CheckpointInterval == 0 {
			d.createCheckpoint(ctx, iterationNumber)
		}
	}

	d.recordTelemetry(ctx, iterStart, success, errMsg, trigger, output, tokens, costDelta)

	if loopDetected {
		d.RequestStop()
	}
}

// executeOnce runs the primary adapter, falling back through the
// registry in registration order on failure, and records token/cost
// usage for whichever adapter ultimately succeeded.
func (d *Driver) executeOnce(ctx context.Context) (success bool, output string, tokens int, costDelta float64, err error) {
	prompt := d.deps.Assembler.GetPrompt()
	d.deps.Tasks.ExtractFromPrompt(prompt)
	d.deps.Tasks.ClaimNext(d.deps.Metrics.Snapshot().Iterations + 1)

	primary, ok := d.deps.Registry.Get(d.cfg.PrimaryAdapterName)
	if !ok {
		return false, "", 0, 0, fmt.Errorf("primary adapter %q not registered", d.cfg.PrimaryAdapterName)
	}

	result, execErr := primary.Execute(ctx, prompt, d.cfg.PromptFile, d.cfg.Verbose)
	used := primary

	if (execErr != nil || !result.Success) && !d.stopRequested.Load() && d.deps.Registry.Len() > 1 {
		for _, alt := range d.deps.Registry.Ordered() {
			if d.stopRequested.Load() {
				break
			}
			if alt.Name() == primary.Name() {
				continue
			}
			d.deps.Console.Status(fmt.Sprintf("falling back to %s", alt.Name()))
			result, execErr = alt.Execute(ctx, prompt, d.cfg.PromptFile, d.cfg.Verbose)
			used = alt
			if execErr == nil && result.Success {
				break
			}
		}
	}

	if execErr != nil {
		return false, "", 0, 0, execErr
	}

	if result.Success && result.Output != "" {
		tokens = result.TokensUsed
		if tokens == 0 {
			tokens = cost.EstimateTokens(result.Output)
		}
		costDelta = d.deps.Cost.AddUsage(used.Name(), tokens, tokens/4)
	}

	return result.Success, result.Output, tokens, costDelta, nil
}

// determineTriggerReason classifies why this iteration is firing, using
// the pre-increment iteration snapshot exactly as the source does.
func determineTriggerReason(snap metrics.Snapshot) TriggerReason {
	if snap.Iterations == 0 {
		return TriggerInitial
	}
	if snap.Failed > 0 {
		rate := float64(snap.Failed) / float64(maxInt(1, snap.Iterations))
		if rate > 0.5 {
			return TriggerRecovery
		}
	}
	if snap.Successful == snap.Iterations-1 {
		return TriggerPreviousSuccess
	}
	return TriggerTaskIncomplete
}

// handleFailure backs off exponentially, then rolls back once failures
// have piled up past the threshold.
func (d *Driver) handleFailure(ctx context.Context) {
	failed := d.deps.Metrics.Snapshot().Failed
	backoff := time.Duration(minInt64(1<<uint(failed), 60)) * time.Second
	d.sleep(ctx, backoff)

	if failed > maxFailuresBeforeRollback && d.deps.Checkpointer != nil {
		if err := d.deps.Checkpointer.Rollback(ctx); err != nil {
			d.deps.Console.Error(fmt.Sprintf("rollback failed: %v", err))
			return
		}
		d.deps.Metrics.RecordRollback()
		if d.deps.ArchiveIndex != nil {
			_ = d.deps.ArchiveIndex.RecordRollback(ctx, d.deps.Metrics.Snapshot().Iterations)
		}
	}
}

// createCheckpoint commits a git checkpoint and records it.
func (d *Driver) createCheckpoint(ctx context.Context, iteration int) {
	if d.deps.Checkpointer == nil {
		return
	}
	if !d.deps.Checkpointer.Create(ctx, iteration) {
		return
	}
	d.deps.Metrics.RecordCheckpoint()
	d.deps.Console.Info(fmt.Sprintf("checkpoint %d created", d.deps.Metrics.Snapshot().Checkpoints))
	if d.deps.ArchiveIndex != nil {
		_ = d.deps.ArchiveIndex.RecordCheckpoint(ctx, iteration, "")
	}
}

// archivePrompt snapshots the raw prompt file on an exceptional error.
func (d *Driver) archivePrompt() {
	if d.deps.Checkpointer == nil || d.cfg.PromptFile == "" {
		return
	}
	content, err := os.ReadFile(d.cfg.PromptFile)
	if err != nil {
		return
	}
	path, err := d.deps.Checkpointer.ArchivePrompt(string(content))
	if err != nil {
		d.deps.Console.Error(fmt.Sprintf("failed to archive prompt: %v", err))
		return
	}
	d.deps.Console.Info(fmt.Sprintf("archived prompt to %s", path))
	if d.deps.ArchiveIndex != nil {
		_ = d.deps.ArchiveIndex.RecordPromptArchive(context.Background(), d.deps.Metrics.Snapshot().Iterations, path)
	}
}

// resetState rebuilds metrics, cost tracking, and context state after
// too many consecutive exceptional errors.
func (d *Driver) resetState() {
	d.deps.Console.Info("too many errors, resetting state")
	d.deps.Metrics.Reset()
	d.deps.Cost.Reset()
	d.deps.Assembler.Reset()
}

// checkCompletionMarker reports whether the prompt file contains a
// literal TASK_COMPLETE checkbox line.
func (d *Driver) checkCompletionMarker() bool {
	if d.cfg.PromptFile == "" {
		return false
	}
	content, err := os.ReadFile(d.cfg.PromptFile)
	if err != nil {
		return false
	}
	for _, line := range strings.Split(string(content), "\n") {
		if taskCompleteMarkers[strings.TrimSpace(line)] {
			return true
		}
	}
	return false
}

func (d *Driver) recordTelemetry(ctx context.Context, iterStart time.Time, success bool, errMsg string, trigger TriggerReason, output string, tokens int, costDelta float64) {
	duration := time.Since(iterStart).Seconds()
	iterationNumber := d.deps.Metrics.Snapshot().Iterations

	if d.deps.Stats != nil {
		d.deps.Stats.RecordIteration(metrics.IterationRecord{
			Iteration:     iterationNumber,
			DurationSec:   duration,
			Success:       success,
			Error:         errMsg,
			TriggerReason: string(trigger),
			OutputPreview: output,
			TokensUsed:    tokens,
			Cost:          costDelta,
		})
	}
	if d.deps.Telemetry != nil {
		d.deps.Telemetry.RecordIteration(ctx, iterationNumber, duration, success, costDelta)
	}
}

// sleepCtx sleeps for d or until ctx is canceled, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt64(a, b int) int64 {
	if a < b {
		return int64(a)
	}
	return int64(b)
}
