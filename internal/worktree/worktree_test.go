package worktree

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/boshu2/ambient/internal/ambtypes"
)

func initRepo(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = root
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v\n%s", args, err, out)
		}
	}
	run("init")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "test")
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("seed\n"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	run("add", "-A")
	run("commit", "-m", "seed")
	return root
}

func TestSlugifyProducesLowercaseDashedSlug(t *testing.T) {
	got := slugify("Fix Race Condition In Watcher!!")
	want := "fix-race-condition-in-watcher"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestCreateAndTeardown(t *testing.T) {
	root := initRepo(t)
	m := NewManager(root)
	ctx := context.Background()

	p, err := ambtypes.NewProposal("agentA", "Fix race condition", "desc", "diff --git a/x b/x\n", ambtypes.RiskLow, "rationale", []string{"x"}, 1, nil)
	if err != nil {
		t.Fatalf("NewProposal: %v", err)
	}

	candidate, err := m.Create(ctx, "run123", 1, p)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if candidate.Slug != "fix-race-condition" {
		t.Fatalf("unexpected slug: %q", candidate.Slug)
	}
	if _, err := os.Stat(candidate.WorktreePath); err != nil {
		t.Fatalf("expected worktree directory to exist: %v", err)
	}
	if _, err := os.Stat(candidate.PatchPath); err != nil {
		t.Fatalf("expected patch artifact to exist: %v", err)
	}

	if err := m.Teardown(ctx, candidate); err != nil {
		t.Fatalf("Teardown: %v", err)
	}
	if _, err := os.Stat(candidate.WorktreePath); !os.IsNotExist(err) {
		t.Fatalf("expected worktree directory removed, stat err=%v", err)
	}
}
