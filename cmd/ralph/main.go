// Command ralph is the CLI entrypoint for the iterative orchestrator: it
// wires configuration, the adapter registry, checkpoint/archive, and
// telemetry into an internal/iterative.Driver and runs it to completion
// or until a safety ceiling, a signal, or the task-completion marker ends
// it (spec §6).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/titan/ralph-orchestrator/internal/acp"
	"github.com/titan/ralph-orchestrator/internal/adapters"
	"github.com/titan/ralph-orchestrator/internal/archive"
	"github.com/titan/ralph-orchestrator/internal/checkpoint"
	"github.com/titan/ralph-orchestrator/internal/config"
	"github.com/titan/ralph-orchestrator/internal/console"
	promptctx "github.com/titan/ralph-orchestrator/internal/context"
	"github.com/titan/ralph-orchestrator/internal/cost"
	"github.com/titan/ralph-orchestrator/internal/iterative"
	"github.com/titan/ralph-orchestrator/internal/metrics"
	"github.com/titan/ralph-orchestrator/internal/safety"
	"github.com/titan/ralph-orchestrator/internal/telemetry"
	"github.com/titan/ralph-orchestrator/internal/tools"
	"github.com/titan/ralph-orchestrator/internal/vlog"
)

var (
	flagConfigFile         string
	flagAgent              string
	flagACPAgent           string
	flagACPPermissionMode  string
	flagMaxIterations      int
	flagMaxRuntimeSeconds  float64
	flagMaxCost            float64
	flagCheckpointInterval int
	flagArchiveDir         string
	flagPromptFile         string
	flagPromptText         string
	flagVerbose            bool
	flagDryRun             bool
)

var rootCmd = &cobra.Command{
	Use:   "ralph",
	Short: "Run the bounded AI-agent iteration loop",
	Long: `ralph drives an ACP-compliant coding agent through a bounded loop:
assemble a prompt, run the agent, check safety ceilings and the completion
marker, checkpoint progress, and repeat until the task is done or a limit
is hit.`,
	RunE: runRalph,
}

func init() {
	rootCmd.Flags().StringVar(&flagConfigFile, "config", "", "path to a YAML config file")
	rootCmd.Flags().StringVarP(&flagAgent, "agent", "a", "", "agent backend: claude,q,qchat,gemini,acp,auto")
	rootCmd.Flags().StringVar(&flagACPAgent, "acp-agent", "", "ACP agent binary to spawn")
	rootCmd.Flags().StringVar(&flagACPPermissionMode, "acp-permission-mode", "", "auto_approve,deny_all,allowlist,interactive")
	rootCmd.Flags().IntVar(&flagMaxIterations, "max-iterations", 0, "iteration ceiling (0 = unbounded)")
	rootCmd.Flags().Float64Var(&flagMaxRuntimeSeconds, "max-runtime", 0, "runtime ceiling in seconds (0 = unbounded)")
	rootCmd.Flags().Float64Var(&flagMaxCost, "max-cost", 0, "cost ceiling in dollars (0 = unbounded)")
	rootCmd.Flags().IntVar(&flagCheckpointInterval, "checkpoint-interval", 0, "commit a git checkpoint every N iterations (0 = never)")
	rootCmd.Flags().StringVar(&flagArchiveDir, "archive-dir", "", "directory to archive prompt snapshots into")
	rootCmd.Flags().StringVar(&flagPromptFile, "prompt-file", "", "path to the prompt file")
	rootCmd.Flags().StringVar(&flagPromptText, "prompt-text", "", "prompt text, in place of --prompt-file")
	rootCmd.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "verbose agent output")
	rootCmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "validate configuration and exit 0 without running")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runRalph(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(flagConfigFile)
	if err != nil {
		return err
	}
	applyFlagOverrides(cmd, &cfg)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if flagDryRun {
		fmt.Println("configuration valid")
		return nil
	}

	formatter := console.New()

	logPath := filepath.Join(".agent", "ralph.log")
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err == nil {
		if logger, err := vlog.Open(logPath); err == nil {
			defer logger.Close()
		}
	}

	deps, cleanup, err := buildDriverDeps(cfg, formatter)
	if err != nil {
		return err
	}
	defer cleanup()

	driverCfg := iterative.Config{
		PromptFile:         cfg.PromptFile,
		PrimaryAdapterName: primaryAdapterName(cfg.Agent),
		CheckpointInterval: cfg.CheckpointInterval,
		Verbose:            cfg.Verbose,
	}
	driver := iterative.New(driverCfg, deps)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		formatter.Info("shutdown signal received, stopping")
		driver.RequestStop()
		cancel()
	}()

	return driver.Run(ctx)
}

// primaryAdapterName maps the "auto" agent selection to the ACP backend,
// the only backend this build implements end to end.
func primaryAdapterName(agent string) string {
	if agent == "" || agent == "auto" {
		return "acp"
	}
	return agent
}

func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("agent") {
		cfg.Agent = flagAgent
	}
	if flags.Changed("acp-agent") {
		cfg.ACPAgent = flagACPAgent
	}
	if flags.Changed("acp-permission-mode") {
		cfg.ACPPermissionMode = flagACPPermissionMode
	}
	if flags.Changed("max-iterations") {
		cfg.MaxIterations = flagMaxIterations
	}
	if flags.Changed("max-runtime") {
		cfg.MaxRuntimeSeconds = flagMaxRuntimeSeconds
	}
	if flags.Changed("max-cost") {
		cfg.MaxCost = flagMaxCost
	}
	if flags.Changed("checkpoint-interval") {
		cfg.CheckpointInterval = flagCheckpointInterval
	}
	if flags.Changed("archive-dir") {
		cfg.ArchiveDir = flagArchiveDir
	}
	if flags.Changed("prompt-file") {
		cfg.PromptFile = flagPromptFile
	}
	if flags.Changed("prompt-text") {
		cfg.PromptText = flagPromptText
	}
	if flags.Changed("verbose") {
		cfg.Verbose = flagVerbose
	}
}

// buildDriverDeps assembles the driver's collaborators from cfg. The
// returned cleanup func closes every resource that needs an orderly
// shutdown (checkpointer's git process has none, but the archive index
// and telemetry provider do).
func buildDriverDeps(cfg config.Config, formatter console.Formatter) (iterative.Deps, func(), error) {
	registry := adapters.NewRegistry()

	permMode := tools.PermissionMode(cfg.ACPPermissionMode)
	var prompter tools.UserPrompter
	if permMode == tools.ModeInteractive {
		p, err := acp.NewTTYPrompter()
		if err != nil {
			return iterative.Deps{}, nil, fmt.Errorf("interactive permission mode requires a TTY: %w", err)
		}
		prompter = p
	}

	acpAdapter := acp.New(acp.Config{
		AgentCommand:        cfg.ACPAgent,
		Timeout:             cfg.Timeout,
		PermissionMode:      permMode,
		PermissionAllowlist: cfg.ACPAllowlist,
		Prompter:            prompter,
		Formatter:           formatter,
	})
	registry.Register(adapters.NewACPAdapter("acp", acpAdapter))
	for _, stub := range []string{"claude", "q", "qchat", "gemini"} {
		registry.Register(adapters.NewStubAdapter(stub))
	}

	assembler := promptctx.New(cfg.PromptFile, cfg.PromptText, 8000, filepath.Join(".agent", "cache"))

	var checkpointer *checkpoint.Checkpointer
	if cfg.CheckpointInterval > 0 {
		cp, err := checkpoint.New(context.Background(), ".", cfg.ArchiveDir, formatter)
		if err == nil {
			checkpointer = cp
		} else {
			formatter.Info(fmt.Sprintf("checkpointing disabled: %v", err))
		}
	}

	var archiveIndex *archive.Index
	if cfg.ArchiveDir != "" {
		if idx, err := archive.Open(filepath.Join(cfg.ArchiveDir, "index.db")); err == nil {
			archiveIndex = idx
		}
	}

	instruments, shutdownTelemetry, err := telemetry.Init()
	if err != nil {
		instruments = nil
	}

	deps := iterative.Deps{
		Safety: safety.New(safety.Limits{
			MaxIterations:     cfg.MaxIterations,
			MaxRuntimeSeconds: cfg.MaxRuntimeSeconds,
			MaxCost:           cfg.MaxCost,
		}),
		Assembler:    assembler,
		Cost:         cost.NewTracker(),
		Metrics:      metrics.New(),
		Stats:        metrics.NewIterationStats(),
		Checkpointer: checkpointer,
		ArchiveIndex: archiveIndex,
		Telemetry:    instruments,
		Console:      formatter,
		Registry:     registry,
		Tasks:        iterative.NewTaskTracker(),
	}

	cleanup := func() {
		if archiveIndex != nil {
			archiveIndex.Close()
		}
		if shutdownTelemetry != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			shutdownTelemetry(ctx)
		}
	}

	return deps, cleanup, nil
}
