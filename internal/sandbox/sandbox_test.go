package sandbox

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestRunRejectsNewlineInArgv(t *testing.T) {
	r, err := NewRunner(Config{StubMode: true})
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	res := r.Run(context.Background(), t.TempDir(), []string{"echo", "hello\nworld"}, time.Second, nil)
	if !res.Rejected || res.ExitCode != 126 {
		t.Fatalf("expected rejection with exit 126, got %+v", res)
	}
}

func TestRunFailsClosedOnEmptyAllowlist(t *testing.T) {
	r, err := NewRunner(Config{StubMode: true, EnforceAllowlist: true})
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	res := r.Run(context.Background(), t.TempDir(), []string{"echo", "hi"}, time.Second, nil)
	if !res.Rejected || res.ExitCode != 126 {
		t.Fatalf("expected fail-closed rejection, got %+v", res)
	}
}

func TestRunAllowsPrefixMatchedArgv(t *testing.T) {
	r, err := NewRunner(Config{
		StubMode:         true,
		EnforceAllowlist: true,
		AllowedArgv:      [][]string{{"echo"}},
	})
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	res := r.Run(context.Background(), t.TempDir(), []string{"echo", "hi"}, 2*time.Second, nil)
	if res.Rejected {
		t.Fatalf("expected allowlisted argv to run, got %+v", res)
	}
	if res.ExitCode != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%q", res.ExitCode, res.Stderr)
	}
}

func TestRunRejectsArgvNotMatchingAllowlist(t *testing.T) {
	r, err := NewRunner(Config{
		StubMode:         true,
		EnforceAllowlist: true,
		AllowedArgv:      [][]string{{"ls"}},
	})
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	res := r.Run(context.Background(), t.TempDir(), []string{"echo", "hi"}, time.Second, nil)
	if !res.Rejected || res.ExitCode != 126 {
		t.Fatalf("expected rejection for non-allowlisted argv, got %+v", res)
	}
}

func TestRunReportsMissingRuntime(t *testing.T) {
	r, err := NewRunner(Config{StubMode: true})
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	res := r.Run(context.Background(), t.TempDir(), []string{"definitely-not-a-real-binary-xyz"}, time.Second, nil)
	if res.ExitCode != 127 {
		t.Fatalf("expected exit 127 for missing runtime, got %+v", res)
	}
}

func TestResolveWorktreeGitDirDetectsPointerFile(t *testing.T) {
	root := t.TempDir()
	gitFile := root + "/.git"
	if err := os.WriteFile(gitFile, []byte("gitdir: /main/repo/.git/worktrees/foo\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	dir, ok := resolveWorktreeGitDir(root)
	if !ok {
		t.Fatalf("expected worktree pointer to be detected")
	}
	if dir != "/main/repo/.git/worktrees/foo" {
		t.Fatalf("unexpected gitdir: %q", dir)
	}
}
