package git

import (
	"context"
)

// GitOperations is the subset of git plumbing internal/checkpoint needs to
// snapshot and inspect the working tree between iterations: has anything
// changed, and commit it if so.
type GitOperations interface {
	// HasUncommittedChanges reports whether repoPath has staged or
	// unstaged changes.
	HasUncommittedChanges(ctx context.Context, repoPath string) (bool, error)

	// CommitChanges creates a commit with the given options and returns
	// the resulting commit hash.
	CommitChanges(ctx context.Context, repoPath string, opts CommitOptions) (string, error)
}

// Status is a parsed `git status --porcelain` result.
type Status struct {
	Modified  []string
	Untracked []string
	Deleted   []string
	Added     []string
	Renamed   []string

	// HasChanges is true if any of the above is non-empty.
	HasChanges bool
}

// CommitOptions configures a git commit.
type CommitOptions struct {
	// Message is the commit message.
	Message string

	// Author overrides the commit author (git config's default is used
	// when empty).
	Author string

	// CoAuthors appends one Co-Authored-By trailer per entry.
	CoAuthors []string

	// AddAll stages all changes before committing (git add -A).
	AddAll bool

	// AllowEmpty permits a commit with no staged changes.
	AllowEmpty bool
}
