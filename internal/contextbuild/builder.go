// Package contextbuild assembles the RepoContext snapshot handed to every
// agent in a cycle, bounding it the same way the teacher's context package
// bounds a session's token budget: fixed per-file and total caps rather
// than a live token count, since the cycle context is built once up front
// and never grows mid-cycle.
package contextbuild

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/boshu2/ambient/internal/ambtypes"
	"github.com/boshu2/ambient/internal/impact"
	"github.com/boshu2/ambient/internal/redact"
)

// Config bounds what the builder reads off disk.
type Config struct {
	MaxFileBytes     int
	MaxFiles         int
	MaxLogBytes      int
	MaxDiffBytes     int
	ImportantConfigs []string
}

// DefaultConfig matches the caps named in spec §4.2: 200kB per file, 50
// files total.
func DefaultConfig() Config {
	return Config{
		MaxFileBytes: 200 * 1024,
		MaxFiles:     50,
		MaxLogBytes:  64 * 1024,
		MaxDiffBytes: 128 * 1024,
		ImportantConfigs: []string{
			"go.mod", "go.sum", "Makefile", ".golangci.yml", ".golangci.yaml",
		},
	}
}

// Builder assembles RepoContext snapshots rooted at Root.
type Builder struct {
	Root string
	Cfg  Config
}

// NewBuilder returns a Builder with DefaultConfig.
func NewBuilder(root string) *Builder {
	return &Builder{Root: root, Cfg: DefaultConfig()}
}

// Build assembles a RepoContext for task, folding in the impact radius,
// failing-check logs, the current working diff, and hot paths observed by
// the watcher.
func (b *Builder) Build(task ambtypes.AmbientEvent, radius impact.Radius, failingLogs, currentDiff string, hotPaths []string) ambtypes.RepoContext {
	tree, count := b.fileTree()

	return ambtypes.RepoContext{
		Task:           task,
		FileTree:       tree,
		FileCount:      count,
		ConfigContents: b.importantConfigs(),
		ImpactContents: b.impactContents(radius),
		FailingLogs:    redact.Text(failingLogs, b.Cfg.MaxLogBytes),
		CurrentDiff:    redact.Text(currentDiff, b.Cfg.MaxDiffBytes),
		HotPaths:       append([]string(nil), hotPaths...),
		Conventions:    b.conventions(),
	}
}

// fileTree walks Root, returning relative paths of tracked-looking files,
// skipping VCS metadata, vendor trees, and build artifacts.
func (b *Builder) fileTree() ([]string, int) {
	var paths []string
	_ = filepath.Walk(b.Root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		rel, relErr := filepath.Rel(b.Root, path)
		if relErr != nil {
			return nil
		}
		if info.IsDir() {
			switch info.Name() {
			case ".git", "vendor", "node_modules", "_examples":
				return filepath.SkipDir
			}
			return nil
		}
		paths = append(paths, rel)
		return nil
	})
	sort.Strings(paths)
	return paths, len(paths)
}

// importantConfigs reads each configured config file present at Root,
// truncating per MaxFileBytes.
func (b *Builder) importantConfigs() map[string]string {
	out := map[string]string{}
	for _, name := range b.Cfg.ImportantConfigs {
		path := filepath.Join(b.Root, name)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		out[name] = redact.Text(string(data), b.Cfg.MaxFileBytes)
	}
	return out
}

// impactContents reads the files named by radius, capped at MaxFiles total
// across dependencies and dependents combined.
func (b *Builder) impactContents(radius impact.Radius) map[string]string {
	out := map[string]string{}
	budget := b.Cfg.MaxFiles

	read := func(files []string) {
		for _, f := range files {
			if budget <= 0 {
				return
			}
			data, err := os.ReadFile(f)
			if err != nil {
				continue
			}
			rel, relErr := filepath.Rel(b.Root, f)
			if relErr != nil {
				rel = f
			}
			out[rel] = redact.Text(string(data), b.Cfg.MaxFileBytes)
			budget--
		}
	}
	read(radius.Dependencies)
	read(radius.Dependents)
	return out
}

// conventions detects a handful of repo conventions agents should respect
// so proposed diffs match the house style rather than a generic default.
func (b *Builder) conventions() map[string]string {
	out := map[string]string{}

	if usesTestify(b.Root) {
		out["test_framework"] = "testify"
	} else {
		out["test_framework"] = "stdlib testing"
	}

	if data, err := os.ReadFile(filepath.Join(b.Root, "go.mod")); err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			if strings.HasPrefix(line, "module ") {
				out["module_path"] = strings.TrimSpace(strings.TrimPrefix(line, "module"))
				break
			}
		}
	}

	return out
}

func usesTestify(root string) bool {
	found := false
	_ = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || found {
			return nil
		}
		if info.IsDir() {
			if info.Name() == "_examples" || info.Name() == "vendor" || info.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, "_test.go") {
			return nil
		}
		data, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil
		}
		if strings.Contains(string(data), "stretchr/testify") {
			found = true
		}
		return nil
	})
	return found
}
