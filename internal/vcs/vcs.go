// Package vcs adapts git plumbing for the coordinator: worktree
// cleanliness checks, commits, and per-proposal worktree/branch lifecycle.
// Every operation shells out via exec.CommandContext with a bounded
// timeout, mirroring the teacher's RPI worktree helper rather than linking
// a Go git library.
package vcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

var (
	ErrNotGitRepo        = errors.New("vcs: not a git repository")
	ErrWorktreeCollision = errors.New("vcs: worktree path collision persisted across retries")
	ErrCommitFailed      = errors.New("vcs: commit failed")
)

// Adapter performs git operations against Root with a bounded per-call
// timeout.
type Adapter struct {
	Root    string
	Timeout time.Duration
}

// NewAdapter returns an Adapter with a sensible default timeout.
func NewAdapter(root string) *Adapter {
	return &Adapter{Root: root, Timeout: 30 * time.Second}
}

func (a *Adapter) run(ctx context.Context, args ...string) (string, string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.Timeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = a.Root
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	if err != nil && ctx.Err() == context.DeadlineExceeded {
		return stdout.String(), stderr.String(), fmt.Errorf("git %s timed out after %s", args[0], a.Timeout)
	}
	return stdout.String(), stderr.String(), err
}

// IsClean reports whether porcelain status is empty after filtering
// untracked paths under ignoredUntrackedPrefixes.
func (a *Adapter) IsClean(ctx context.Context, ignoredUntrackedPrefixes []string) (bool, error) {
	out, _, err := a.run(ctx, "status", "--porcelain")
	if err != nil {
		return false, fmt.Errorf("vcs: status: %w", err)
	}
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if strings.HasPrefix(line, "??") {
			path := strings.TrimSpace(strings.TrimPrefix(line, "??"))
			ignored := false
			for _, prefix := range ignoredUntrackedPrefixes {
				if strings.HasPrefix(path, prefix) {
					ignored = true
					break
				}
			}
			if ignored {
				continue
			}
		}
		return false, nil
	}
	return true, nil
}

// HasStagedChanges reports whether the index differs from HEAD.
func (a *Adapter) HasStagedChanges(ctx context.Context) (bool, error) {
	_, _, err := a.run(ctx, "diff", "--cached", "--quiet")
	if err == nil {
		return false, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return true, nil
	}
	return false, fmt.Errorf("vcs: diff --cached: %w", err)
}

// Commit configures local identity and commits staged changes. "nothing to
// commit" is treated as success, since the apply step may have been a
// no-op idempotent re-application.
func (a *Adapter) Commit(ctx context.Context, message, authorName, authorEmail string) error {
	if authorName != "" {
		if _, _, err := a.run(ctx, "config", "user.name", authorName); err != nil {
			return fmt.Errorf("%w: configure author name: %v", ErrCommitFailed, err)
		}
	}
	if authorEmail != "" {
		if _, _, err := a.run(ctx, "config", "user.email", authorEmail); err != nil {
			return fmt.Errorf("%w: configure author email: %v", ErrCommitFailed, err)
		}
	}
	out, stderr, err := a.run(ctx, "commit", "-m", message)
	if err != nil {
		combined := out + stderr
		if strings.Contains(combined, "nothing to commit") {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrCommitFailed, strings.TrimSpace(combined))
	}
	return nil
}

// CreateWorktree creates a worktree at path on a new branch from ref,
// forcibly removing any stale worktree at the same path first.
func (a *Adapter) CreateWorktree(ctx context.Context, branch, path, ref string) error {
	_, _, _ = a.run(ctx, "worktree", "remove", "--force", path)
	_, stderr, err := a.run(ctx, "worktree", "add", "-b", branch, path, ref)
	if err != nil {
		return fmt.Errorf("vcs: create worktree: %w (%s)", err, strings.TrimSpace(stderr))
	}
	return nil
}

// RemoveWorktree removes the worktree directory. Per spec §4.13 step 5 and
// confirmed by the Python original's worktrees.py, the worktree must be
// removed before the branch is deleted (git refuses to delete a branch
// checked out in a worktree).
func (a *Adapter) RemoveWorktree(ctx context.Context, path string) error {
	_, stderr, err := a.run(ctx, "worktree", "remove", "--force", path)
	if err != nil {
		return fmt.Errorf("vcs: remove worktree: %w (%s)", err, strings.TrimSpace(stderr))
	}
	return nil
}

// DeleteBranch deletes branch. Callers are expected to have already torn
// down any worktree referencing it.
func (a *Adapter) DeleteBranch(ctx context.Context, branch string) error {
	_, stderr, err := a.run(ctx, "branch", "-D", branch)
	if err != nil {
		return fmt.Errorf("vcs: delete branch: %w (%s)", err, strings.TrimSpace(stderr))
	}
	return nil
}

// RepoRoot returns the git repository root for dir.
func RepoRoot(ctx context.Context, dir string, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--show-toplevel")
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return "", ErrNotGitRepo
	}
	return strings.TrimSpace(string(out)), nil
}
