package contextbuild

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/boshu2/ambient/internal/ambtypes"
	"github.com/boshu2/ambient/internal/impact"
)

func writeFixture(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	write := func(rel, content string) {
		full := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", rel, err)
		}
	}
	write("go.mod", "module example.com/app\n\ngo 1.23\n")
	write("pkg/a.go", "package pkg\n\nfunc A() {}\n")
	write("pkg/a_test.go", "package pkg\n\nimport \"testing\"\n\nfunc TestA(t *testing.T) {}\n")
	return root
}

func TestBuildIncludesFileTreeAndConfigs(t *testing.T) {
	root := writeFixture(t)
	b := NewBuilder(root)
	ctx := b.Build(ambtypes.AmbientEvent{Kind: "manual_trigger"}, impact.Radius{}, "", "", nil)

	if ctx.FileCount == 0 {
		t.Fatalf("expected non-empty file tree")
	}
	if _, ok := ctx.ConfigContents["go.mod"]; !ok {
		t.Fatalf("expected go.mod in config contents, got %v", ctx.ConfigContents)
	}
	if ctx.Conventions["test_framework"] != "stdlib testing" {
		t.Fatalf("expected stdlib testing convention, got %q", ctx.Conventions["test_framework"])
	}
	if ctx.Conventions["module_path"] != "example.com/app" {
		t.Fatalf("expected module path convention, got %q", ctx.Conventions["module_path"])
	}
}

func TestBuildRedactsAndTruncatesLogs(t *testing.T) {
	root := writeFixture(t)
	b := NewBuilder(root)
	b.Cfg.MaxLogBytes = 5
	ctx := b.Build(ambtypes.AmbientEvent{}, impact.Radius{}, "line one\nline two\n", "", nil)
	if len(ctx.FailingLogs) > 40 {
		t.Fatalf("expected truncated logs, got %d bytes", len(ctx.FailingLogs))
	}
}

func TestBuildImpactContentsRespectsFileBudget(t *testing.T) {
	root := writeFixture(t)
	b := NewBuilder(root)
	b.Cfg.MaxFiles = 1
	radius := impact.Radius{
		Dependencies: []string{filepath.Join(root, "pkg", "a.go")},
		Dependents:   []string{filepath.Join(root, "pkg", "a_test.go")},
	}
	ctx := b.Build(ambtypes.AmbientEvent{}, radius, "", "", nil)
	if len(ctx.ImpactContents) != 1 {
		t.Fatalf("expected exactly 1 impact file under budget, got %d", len(ctx.ImpactContents))
	}
}
