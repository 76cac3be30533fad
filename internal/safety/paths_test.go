package safety

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/boshu2/ambient/internal/ambtypes"
)

func TestResolveSafeRejectsAbsolutePath(t *testing.T) {
	root := t.TempDir()
	_, err := ResolveSafe(root, "/etc/passwd", "")
	if !errors.Is(err, ambtypes.ErrUnsafePath) {
		t.Fatalf("expected ErrUnsafePath, got %v", err)
	}
}

func TestResolveSafeRejectsEscape(t *testing.T) {
	root := t.TempDir()
	_, err := ResolveSafe(root, "../../etc/passwd", "")
	if !errors.Is(err, ambtypes.ErrUnsafePath) {
		t.Fatalf("expected ErrUnsafePath, got %v", err)
	}
}

func TestResolveSafeRejectsForbiddenComponent(t *testing.T) {
	root := t.TempDir()
	for _, candidate := range []string{".git/config", "sub/.ssh/id_rsa", ".env"} {
		if _, err := ResolveSafe(root, candidate, ""); !errors.Is(err, ambtypes.ErrUnsafePath) {
			t.Fatalf("candidate %q: expected ErrUnsafePath, got %v", candidate, err)
		}
	}
}

func TestResolveSafeRejectsConfiguredSecretStoreDir(t *testing.T) {
	root := t.TempDir()
	if _, err := ResolveSafe(root, "vault/secret.yaml", "vault"); !errors.Is(err, ambtypes.ErrUnsafePath) {
		t.Fatalf("expected ErrUnsafePath for configured secret store dir, got %v", err)
	}
}

func TestResolveSafeAllowsOrdinaryPath(t *testing.T) {
	root := t.TempDir()
	resolved, err := ResolveSafe(root, "src/main.go", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := filepath.Join(root, "src/main.go")
	if canon, err := filepath.EvalSymlinks(root); err == nil {
		want = filepath.Join(canon, "src/main.go")
	}
	if resolved != want {
		t.Fatalf("resolved = %q, want %q", resolved, want)
	}
}

func TestResolveSafeFollowsSymlinkEscape(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	if err := os.WriteFile(filepath.Join(outside, "secret.txt"), []byte("x"), 0600); err != nil {
		t.Fatalf("seed outside file: %v", err)
	}
	link := filepath.Join(root, "escape")
	if err := os.Symlink(outside, link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	if _, err := ResolveSafe(root, "escape/secret.txt", ""); !errors.Is(err, ambtypes.ErrUnsafePath) {
		t.Fatalf("expected ErrUnsafePath for symlink escaping root, got %v", err)
	}
}
