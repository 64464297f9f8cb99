// Package checkpoint wraps the git commit/reset pair the iteration driver
// uses to snapshot and roll back working-tree state, plus the
// timestamped prompt archive written on exceptional errors (spec §4.9).
// Commit and status plumbing delegates to internal/git.GitOperations; the
// hard reset used on rollback has no equivalent there and runs directly.
package checkpoint

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/titan/ralph-orchestrator/internal/console"
	"github.com/titan/ralph-orchestrator/internal/git"
)

// Checkpointer commits and rolls back a git working tree on behalf of
// the iteration driver, and archives prompt snapshots alongside it.
type Checkpointer struct {
	gitPath    string
	ops        git.GitOperations
	repoPath   string
	archiveDir string
	log        console.Formatter
	now        func() time.Time
}

// New verifies git is on PATH and returns a Checkpointer rooted at
// repoPath, archiving prompts under archiveDir.
func New(ctx context.Context, repoPath, archiveDir string, log console.Formatter) (*Checkpointer, error) {
	gitPath, err := exec.LookPath("git")
	if err != nil {
		return nil, fmt.Errorf("git not found in PATH: %w", err)
	}
	ops, err := git.NewGit(ctx)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = console.NoOpFormatter{}
	}
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create archive dir: %w", err)
	}
	return &Checkpointer{
		gitPath:    gitPath,
		ops:        ops,
		repoPath:   repoPath,
		archiveDir: archiveDir,
		log:        log,
		now:        time.Now,
	}, nil
}

// Create stages and commits the working tree via CommitChanges(AddAll: true).
// Per spec this is best-effort: no uncommitted changes, or a failed add/commit,
// is logged and treated as "no checkpoint taken" rather than a driver error.
func (c *Checkpointer) Create(ctx context.Context, iteration int) bool {
	hasChanges, err := c.ops.HasUncommittedChanges(ctx, c.repoPath)
	if err != nil {
		c.log.Error(fmt.Sprintf("checkpoint: git status failed: %v", err))
		return false
	}
	if !hasChanges {
		c.log.Info(fmt.Sprintf("checkpoint: nothing to commit at iteration %d", iteration))
		return false
	}

	message := fmt.Sprintf("Ralph checkpoint %d", iteration)
	if _, err := c.ops.CommitChanges(ctx, c.repoPath, git.CommitOptions{Message: message, AddAll: true}); err != nil {
		c.log.Error(fmt.Sprintf("checkpoint: commit failed at iteration %d: %v", iteration, err))
		return false
	}

	c.log.Success(fmt.Sprintf("checkpoint: committed iteration %d", iteration))
	return true
}

// CreateAsync runs Create in a goroutine, matching the spec's
// "both steps asynchronous" requirement so a caller need not block on a
// slow commit. done, if non-nil, receives the result. The iteration driver
// calls the synchronous Create instead.
func (c *Checkpointer) CreateAsync(ctx context.Context, iteration int, done func(ok bool)) {
	go func() {
		ok := c.Create(ctx, iteration)
		if done != nil {
			done(ok)
		}
	}()
}

// Rollback runs "git reset --hard HEAD~1". Reserved for repeated-failure
// recovery, never for a single failed iteration.
func (c *Checkpointer) Rollback(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, c.gitPath, "-C", c.repoPath, "reset", "--hard", "HEAD~1")
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("git reset failed: %w: %s", err, strings.TrimSpace(string(out)))
	}
	c.log.Status("rollback: reset to previous commit")
	return nil
}

// ArchivePrompt copies the current prompt content to
// <archive_dir>/prompt_<YYYYmmdd_HHMMSS>.md and returns the path
// written.
func (c *Checkpointer) ArchivePrompt(content string) (string, error) {
	name := fmt.Sprintf("prompt_%s.md", c.now().Format("20060102_150405"))
	path := filepath.Join(c.archiveDir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("failed to archive prompt: %w", err)
	}
	return path, nil
}

// SetClock overrides the time source; used by tests to get
// deterministic archive filenames.
func (c *Checkpointer) SetClock(now func() time.Time) {
	c.now = now
}
