package impact

import (
	"os"
	"path/filepath"
	"testing"
)

// writeModule lays out a tiny three-package module: root imports "mid",
// mid imports "leaf". root_test.go exists to exercise test-path discovery.
func writeModule(t *testing.T) string {
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

	write("leaf/leaf.go", "package leaf\n\nfunc Leaf() int { return 1 }\n")
	write("mid/mid.go", "package mid\n\nimport \"example.com/app/leaf\"\n\nfunc Mid() int { return leaf.Leaf() }\n")
	write("mid/mid_test.go", "package mid\n\nimport \"testing\"\n\nfunc TestMid(t *testing.T) {}\n")
	write("root/root.go", "package root\n\nimport \"example.com/app/mid\"\n\nfunc Root() int { return mid.Mid() }\n")
	return root
}

func TestComputeForwardDependenciesFollowTransitiveImports(t *testing.T) {
	root := writeModule(t)
	g, err := BuildGraph(root, "example.com/app")
	if err != nil {
		t.Fatalf("BuildGraph: %v", err)
	}
	radius := g.Compute([]string{filepath.Join(root, "root", "root.go")}, 0)

	wantLeaf := filepath.Join(root, "leaf", "leaf.go")
	wantMid := filepath.Join(root, "mid", "mid.go")
	if !contains(radius.Dependencies, wantLeaf) {
		t.Fatalf("expected leaf.go in dependencies, got %v", radius.Dependencies)
	}
	if !contains(radius.Dependencies, wantMid) {
		t.Fatalf("expected mid.go in dependencies, got %v", radius.Dependencies)
	}
}

func TestComputeReverseDependentsFindImporters(t *testing.T) {
	root := writeModule(t)
	g, err := BuildGraph(root, "example.com/app")
	if err != nil {
		t.Fatalf("BuildGraph: %v", err)
	}
	radius := g.Compute([]string{filepath.Join(root, "leaf", "leaf.go")}, 0)

	wantMid := filepath.Join(root, "mid", "mid.go")
	wantRoot := filepath.Join(root, "root", "root.go")
	if !contains(radius.Dependents, wantMid) {
		t.Fatalf("expected mid.go in dependents, got %v", radius.Dependents)
	}
	if !contains(radius.Dependents, wantRoot) {
		t.Fatalf("expected root.go in dependents, got %v", radius.Dependents)
	}
}

func TestComputeCollectsExistingTestPaths(t *testing.T) {
	root := writeModule(t)
	g, err := BuildGraph(root, "example.com/app")
	if err != nil {
		t.Fatalf("BuildGraph: %v", err)
	}
	radius := g.Compute([]string{filepath.Join(root, "leaf", "leaf.go")}, 0)

	wantTest := filepath.Join(root, "mid", "mid_test.go")
	if !contains(radius.TestPaths, wantTest) {
		t.Fatalf("expected mid_test.go in test paths, got %v", radius.TestPaths)
	}
}

func TestComputeTruncatesAtCap(t *testing.T) {
	root := writeModule(t)
	g, err := BuildGraph(root, "example.com/app")
	if err != nil {
		t.Fatalf("BuildGraph: %v", err)
	}
	radius := g.Compute([]string{filepath.Join(root, "root", "root.go")}, 1)
	if !radius.Truncated {
		t.Fatalf("expected truncation with cap=1")
	}
	if len(radius.Dependencies) != 1 {
		t.Fatalf("expected exactly 1 dependency file, got %d", len(radius.Dependencies))
	}
}

func contains(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}
