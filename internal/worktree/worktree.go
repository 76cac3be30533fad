// Package worktree manages per-proposal review worktrees: each surviving
// proposal from a cycle gets its own branch, worktree checkout, and
// on-disk patch artifact, so N proposals can be independently applied and
// verified without clobbering each other's working tree state. The
// retry-on-path-collision behavior mirrors the teacher's RPI worktree
// creation exactly (3 attempts, retry only on "already exists").
package worktree

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/boshu2/ambient/internal/ambtypes"
	"github.com/boshu2/ambient/internal/vcs"
)

// ErrWorktreeCollision is returned when 3 attempts all hit a path collision.
var ErrWorktreeCollision = errors.New("worktree: path collision persisted across retries")

// Manager creates and tears down review worktrees under Root/ReviewDir.
type Manager struct {
	Root         string
	ReviewDir    string
	BranchPrefix string
	Adapter      *vcs.Adapter
}

// NewManager returns a Manager rooted at root, storing review worktrees
// under root/.ambient/review and branches under refs named BranchPrefix.
func NewManager(root string) *Manager {
	return &Manager{
		Root:         root,
		ReviewDir:    filepath.Join(root, ".ambient", "review"),
		BranchPrefix: "ambient-review",
		Adapter:      vcs.NewAdapter(root),
	}
}

// generateID returns a 12-char crypto-random hex identifier, matching the
// run-ID shape used elsewhere in the coordinator.
func generateID() string {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%012x", time.Now().UnixNano()&0xffffffffffff)
	}
	return hex.EncodeToString(b)
}

func slugify(title string) string {
	s := strings.ToLower(strings.TrimSpace(title))
	var b strings.Builder
	lastDash := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	slug := strings.Trim(b.String(), "-")
	if len(slug) > 40 {
		slug = slug[:40]
	}
	if slug == "" {
		slug = "proposal"
	}
	return slug
}

// Create materializes review worktree number idx for p under a run
// scoped by runID, branch named "<prefix>/<run_id>/<NN>-<slug>" per the
// original worktrees.py convention, retrying up to 3 times on a path
// collision.
func (m *Manager) Create(ctx context.Context, runID string, idx int, p ambtypes.Proposal) (ambtypes.ReviewCandidate, error) {
	slug := slugify(p.Title)
	branch := fmt.Sprintf("%s/%s/%02d-%s", m.BranchPrefix, runID, idx, slug)

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		suffix := generateID()
		wtPath := filepath.Join(m.ReviewDir, runID, fmt.Sprintf("%02d-%s-%s", idx, slug, suffix))

		if err := m.Adapter.CreateWorktree(ctx, branch, wtPath, "HEAD"); err != nil {
			if strings.Contains(err.Error(), "already exists") {
				lastErr = err
				continue
			}
			return ambtypes.ReviewCandidate{}, err
		}

		patchPath, err := m.writePatchArtifact(runID, idx, slug, p.Diff)
		if err != nil {
			_ = m.Adapter.RemoveWorktree(ctx, wtPath)
			return ambtypes.ReviewCandidate{}, err
		}

		return ambtypes.ReviewCandidate{
			Index:        idx,
			Slug:         slug,
			Branch:       branch,
			WorktreePath: wtPath,
			PatchPath:    patchPath,
		}, nil
	}
	return ambtypes.ReviewCandidate{}, fmt.Errorf("%w: %v", ErrWorktreeCollision, lastErr)
}

func (m *Manager) writePatchArtifact(runID string, idx int, slug, diff string) (string, error) {
	dir := filepath.Join(m.ReviewDir, runID, "patches")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("worktree: create patch dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("%02d-%s.patch", idx, slug))
	if err := os.WriteFile(path, []byte(diff), 0o644); err != nil {
		return "", fmt.Errorf("worktree: write patch artifact: %w", err)
	}
	return path, nil
}

// Teardown removes the worktree and deletes its branch. Per
// original_source/src/ambient/worktrees.py, the worktree must be removed
// before the branch is deleted.
func (m *Manager) Teardown(ctx context.Context, candidate ambtypes.ReviewCandidate) error {
	if err := m.Adapter.RemoveWorktree(ctx, candidate.WorktreePath); err != nil {
		return err
	}
	return m.Adapter.DeleteBranch(ctx, candidate.Branch)
}

// TeardownAll tears down every candidate, collecting (not stopping on)
// individual failures so one bad worktree cannot strand the rest.
func (m *Manager) TeardownAll(ctx context.Context, candidates []ambtypes.ReviewCandidate) []error {
	var errs []error
	for _, c := range candidates {
		if err := m.Teardown(ctx, c); err != nil {
			errs = append(errs, fmt.Errorf("teardown %s: %w", c.Branch, err))
		}
	}
	return errs
}
