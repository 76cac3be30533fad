// Package safety centralizes the repository-confinement guard that every
// path-accepting operation in the coordinator (context builder, patch
// engine, sandbox mounts, review worktrees) must pass through.
//
// # Threat model
//
// Agents emit diffs and file paths as free text. Without confinement, a
// crafted path (absolute, containing "..", or a symlink that resolves
// outside the repository) could read or write files beyond the repo the
// coordinator was pointed at. ResolveSafe is the single choke point: every
// candidate path is canonicalized against a canonicalized root before any
// filesystem operation touches it.
package safety

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/boshu2/ambient/internal/ambtypes"
)

// ForbiddenComponents is the set of path components that can never appear
// in a safe relative path, regardless of where they sit in the tree.
var ForbiddenComponents = []string{".git", ".env", ".ssh"}

// ResolveSafe canonicalizes root and resolves candidate (a repo-relative
// path) against it, failing with ambtypes.ErrUnsafePath when the candidate
// is absolute, escapes root after symlink resolution, or contains a
// forbidden component. secretStoreDir, if non-empty, is added to the
// forbidden-component set (the configured secret-store directory name).
func ResolveSafe(root, candidate, secretStoreDir string) (string, error) {
	if filepath.IsAbs(candidate) {
		return "", errUnsafe("absolute path not allowed: " + candidate)
	}

	canonicalRoot, err := canonicalize(root)
	if err != nil {
		return "", errUnsafe("cannot canonicalize root: " + err.Error())
	}

	forbidden := ForbiddenComponents
	if strings.TrimSpace(secretStoreDir) != "" {
		forbidden = append(append([]string(nil), forbidden...), secretStoreDir)
	}
	for _, part := range strings.Split(filepath.ToSlash(candidate), "/") {
		for _, f := range forbidden {
			if part == f {
				return "", errUnsafe("forbidden path component: " + part)
			}
		}
	}

	joined := filepath.Join(canonicalRoot, candidate)
	canonicalCandidate, err := canonicalize(joined)
	if err != nil {
		// The path may not exist yet (e.g. a new file the patch engine is
		// about to create); fall back to Clean-based comparison so writes
		// to not-yet-existing files are still confinement-checked.
		canonicalCandidate = filepath.Clean(joined)
	}

	rel, err := filepath.Rel(canonicalRoot, canonicalCandidate)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errUnsafe("path escapes repository root: " + candidate)
	}

	return canonicalCandidate, nil
}

// canonicalize resolves symlinks when the path exists; for paths whose
// parent exists but whose leaf does not, it resolves the parent and
// rejoins the leaf so new-file writes still get escape-checked correctly.
func canonicalize(path string) (string, error) {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved, nil
	}
	parent := filepath.Dir(path)
	if resolvedParent, err := filepath.EvalSymlinks(parent); err == nil {
		return filepath.Join(resolvedParent, filepath.Base(path)), nil
	}
	if _, err := os.Stat(path); err != nil && !os.IsNotExist(err) {
		return "", err
	}
	return filepath.Clean(path), nil
}

func errUnsafe(detail string) error {
	return fmt.Errorf("%w: %s", ambtypes.ErrUnsafePath, detail)
}
