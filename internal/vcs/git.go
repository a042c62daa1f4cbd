// Package vcs records finished work in version control. Commits are
// bookkeeping only; scheduling never depends on them.
package vcs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ShayCichocki/triad/internal/exec"
)

// ErrNothingToCommit is returned by Commit when the index is clean.
var ErrNothingToCommit = errors.New("nothing to commit")

// Committer stages and commits the working tree.
type Committer interface {
	StageAll(ctx context.Context) error
	Commit(ctx context.Context, message string) (commitID string, err error)
}

// Git implements Committer with the git CLI.
type Git struct {
	repoPath string
	runner   exec.CommandRunner
}

// NewGit creates a committer for the repository at repoPath.
func NewGit(repoPath string, runner exec.CommandRunner) *Git {
	if runner == nil {
		runner = exec.NewRunner()
	}
	return &Git{repoPath: repoPath, runner: runner}
}

func (g *Git) run(ctx context.Context, args ...string) (string, error) {
	out, err := g.runner.Run(ctx, g.repoPath, "git", args...)
	if err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}

// IsRepo reports whether repoPath is inside a git work tree.
func (g *Git) IsRepo(ctx context.Context) bool {
	out, err := g.run(ctx, "rev-parse", "--is-inside-work-tree")
	return err == nil && out == "true"
}

// StageAll stages every change, including deletions and new files.
func (g *Git) StageAll(ctx context.Context) error {
	_, err := g.run(ctx, "add", "-A")
	return err
}

// Commit commits the index and returns the new HEAD.
func (g *Git) Commit(ctx context.Context, message string) (string, error) {
	status, err := g.run(ctx, "status", "--porcelain", "--untracked-files=no")
	if err != nil {
		return "", err
	}
	if status == "" {
		return "", ErrNothingToCommit
	}
	if _, err := g.run(ctx, "commit", "-m", message); err != nil {
		return "", err
	}
	return g.run(ctx, "rev-parse", "HEAD")
}

var _ Committer = (*Git)(nil)
