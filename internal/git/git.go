// Package git wraps the git CLI operations the checkpointer needs:
// detecting uncommitted changes and committing them. It does not attempt
// to cover git generally — no rebase, no conflict resolution, no branch
// management; internal/checkpoint's needs are limited to those two calls.
package git

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Git implements GitOperations by shelling out to the git CLI.
type Git struct {
	gitPath string
}

// NewGit locates git on PATH and verifies it runs.
func NewGit(ctx context.Context) (*Git, error) {
	gitPath, err := exec.LookPath("git")
	if err != nil {
		return nil, fmt.Errorf("git not found in PATH: %w", err)
	}
	if err := exec.CommandContext(ctx, gitPath, "version").Run(); err != nil {
		return nil, fmt.Errorf("git command failed: %w", err)
	}
	return &Git{gitPath: gitPath}, nil
}

// HasUncommittedChanges reports whether repoPath has staged or unstaged
// changes.
// SECURITY: repoPath must be a validated, trusted path; this function
// performs no path validation or sandboxing of its own.
func (g *Git) HasUncommittedChanges(ctx context.Context, repoPath string) (bool, error) {
	status, err := g.getStatus(ctx, repoPath)
	if err != nil {
		return false, fmt.Errorf("failed to check uncommitted changes in %s: %w", repoPath, err)
	}
	return status.HasChanges, nil
}

// getStatus parses `git status --porcelain` into a Status.
func (g *Git) getStatus(ctx context.Context, repoPath string) (*Status, error) {
	cmd := exec.CommandContext(ctx, g.gitPath, "-C", repoPath, "status", "--porcelain")
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("git status failed in %s: %w", repoPath, err)
	}

	status := &Status{}
	scanner := bufio.NewScanner(strings.NewReader(string(output)))
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) < 3 {
			continue
		}

		statusCode := line[0:2]
		filePath := line[3:]

		// XY where X=index, Y=working tree; see
		// https://git-scm.com/docs/git-status#_short_format
		switch {
		case strings.HasPrefix(statusCode, "??"):
			status.Untracked = append(status.Untracked, filePath)
		case strings.HasPrefix(statusCode, "A "), strings.HasPrefix(statusCode, "AM"):
			status.Added = append(status.Added, filePath)
		case strings.HasPrefix(statusCode, "M "), strings.HasPrefix(statusCode, " M"), strings.HasPrefix(statusCode, "MM"):
			status.Modified = append(status.Modified, filePath)
		case strings.HasPrefix(statusCode, "D "), strings.HasPrefix(statusCode, " D"):
			status.Deleted = append(status.Deleted, filePath)
		case strings.HasPrefix(statusCode, "R "):
			status.Renamed = append(status.Renamed, filePath)
		default:
			status.Modified = append(status.Modified, filePath)
		}

		status.HasChanges = true
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to parse git status: %w", err)
	}

	return status, nil
}

// CommitChanges creates a git commit per opts and returns the resulting
// commit hash.
// SECURITY: repoPath must be a validated, trusted path; this function
// performs no path validation or sandboxing of its own.
func (g *Git) CommitChanges(ctx context.Context, repoPath string, opts CommitOptions) (string, error) {
	if opts.Message == "" {
		return "", fmt.Errorf("commit message is required")
	}

	if opts.AddAll {
		if err := exec.CommandContext(ctx, g.gitPath, "-C", repoPath, "add", "-A").Run(); err != nil {
			return "", fmt.Errorf("git add failed in %s: %w", repoPath, err)
		}
	}

	message := opts.Message
	for _, coAuthor := range opts.CoAuthors {
		message += fmt.Sprintf("\n\nCo-Authored-By: %s", coAuthor)
	}

	args := []string{"-C", repoPath, "commit", "-m", message}
	if opts.Author != "" {
		args = append(args, "--author", opts.Author)
	}
	if opts.AllowEmpty {
		args = append(args, "--allow-empty")
	}
	if err := exec.CommandContext(ctx, g.gitPath, args...).Run(); err != nil {
		return "", fmt.Errorf("git commit failed in %s: %w", repoPath, err)
	}

	hashOutput, err := exec.CommandContext(ctx, g.gitPath, "-C", repoPath, "rev-parse", "HEAD").Output()
	if err != nil {
		return "", fmt.Errorf("failed to get commit hash in %s: %w", repoPath, err)
	}

	return strings.TrimSpace(string(hashOutput)), nil
}
