// Package impact computes the blast radius of a set of changed files: the
// packages they depend on, the packages that depend on them, and
// conventional test paths likely to exercise the change. The graph walk
// mirrors the directory-walking, extension-probing idiom of the resolver
// package: no import of a dedicated Go tooling library, since the teacher
// pack resolves file relationships by hand in exactly this style.
package impact

import (
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultCap bounds the number of files returned in a Radius so a single
// sweeping change cannot make the context builder ingest the whole repo.
const DefaultCap = 120

// Radius is the computed impact of a change: the packages it depends on
// (Dependencies), the packages that depend on it (Dependents), and
// candidate test files for both sets.
type Radius struct {
	Dependencies []string
	Dependents   []string
	TestPaths    []string
	Truncated    bool
}

// pkgInfo is one Go package directory's import edges, keyed by import path.
type pkgInfo struct {
	dir     string
	files   []string
	imports map[string]bool
}

// Graph is a module-scoped package import graph.
type Graph struct {
	modulePath string
	root       string
	packages   map[string]*pkgInfo // import path -> info
	dirToPkg   map[string]string   // directory -> import path
}

// BuildGraph walks root (a Go module root) and constructs the import graph
// for every package under it, using modulePath to resolve which imports are
// in-module (the only edges that matter for impact analysis).
func BuildGraph(root, modulePath string) (*Graph, error) {
	g := &Graph{
		modulePath: modulePath,
		root:       root,
		packages:   map[string]*pkgInfo{},
		dirToPkg:   map[string]string{},
	}

	fset := token.NewFileSet()
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			base := info.Name()
			if base == "_examples" || base == "vendor" || strings.HasPrefix(base, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		dir := filepath.Dir(rel)
		importPath := modulePath
		if dir != "." {
			importPath = modulePath + "/" + filepath.ToSlash(dir)
		}

		file, err := parser.ParseFile(fset, path, nil, parser.ImportsOnly)
		if err != nil {
			return nil // best-effort: skip unparsable files rather than aborting the sweep
		}

		pi, ok := g.packages[importPath]
		if !ok {
			pi = &pkgInfo{dir: filepath.Join(root, dir), imports: map[string]bool{}}
			g.packages[importPath] = pi
			g.dirToPkg[pi.dir] = importPath
		}
		pi.files = append(pi.files, path)
		for _, imp := range file.Imports {
			importedPath := strings.Trim(imp.Path.Value, `"`)
			if importedPath == importPath {
				continue
			}
			if strings.HasPrefix(importedPath, modulePath) {
				pi.imports[importedPath] = true
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return g, nil
}

// packageForFile returns the import path of the package containing file.
func (g *Graph) packageForFile(file string) (string, bool) {
	abs := file
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(g.root, file)
	}
	dir := filepath.Dir(abs)
	pkg, ok := g.dirToPkg[dir]
	return pkg, ok
}

// Compute returns the impact Radius for changedFiles, capped at maxFiles.
func (g *Graph) Compute(changedFiles []string, maxFiles int) Radius {
	if maxFiles <= 0 {
		maxFiles = DefaultCap
	}

	seedPkgs := map[string]bool{}
	for _, f := range changedFiles {
		if pkg, ok := g.packageForFile(f); ok {
			seedPkgs[pkg] = true
		}
	}

	deps := g.closureForward(seedPkgs)
	dependents := g.closureReverse(seedPkgs)

	depFiles, depTrunc := g.filesFor(deps, maxFiles)
	remaining := maxFiles - len(depFiles)
	dependentFiles, dependentTrunc := g.filesFor(dependents, remaining)

	testPaths := g.testPathsFor(unionKeys(seedPkgs, deps, dependents))

	return Radius{
		Dependencies: depFiles,
		Dependents:   dependentFiles,
		TestPaths:    testPaths,
		Truncated:    depTrunc || dependentTrunc,
	}
}

func (g *Graph) closureForward(seed map[string]bool) map[string]bool {
	visited := map[string]bool{}
	var visit func(pkg string)
	visit = func(pkg string) {
		if visited[pkg] {
			return
		}
		visited[pkg] = true
		info, ok := g.packages[pkg]
		if !ok {
			return
		}
		for imp := range info.imports {
			visit(imp)
		}
	}
	for pkg := range seed {
		info, ok := g.packages[pkg]
		if !ok {
			continue
		}
		for imp := range info.imports {
			visit(imp)
		}
	}
	return visited
}

func (g *Graph) closureReverse(seed map[string]bool) map[string]bool {
	reverse := map[string][]string{}
	for pkg, info := range g.packages {
		for imp := range info.imports {
			reverse[imp] = append(reverse[imp], pkg)
		}
	}

	visited := map[string]bool{}
	var visit func(pkg string)
	visit = func(pkg string) {
		if visited[pkg] {
			return
		}
		visited[pkg] = true
		for _, dependent := range reverse[pkg] {
			visit(dependent)
		}
	}
	for pkg := range seed {
		for _, dependent := range reverse[pkg] {
			visit(dependent)
		}
	}
	return visited
}

func (g *Graph) filesFor(pkgs map[string]bool, cap int) ([]string, bool) {
	var names []string
	for pkg := range pkgs {
		names = append(names, pkg)
	}
	sort.Strings(names)

	var out []string
	truncated := false
	for _, pkg := range names {
		info := g.packages[pkg]
		if info == nil {
			continue
		}
		files := append([]string(nil), info.files...)
		sort.Strings(files)
		for _, f := range files {
			if cap > 0 && len(out) >= cap {
				truncated = true
				break
			}
			out = append(out, f)
		}
		if cap > 0 && len(out) >= cap {
			truncated = truncated || len(names) > 0
			break
		}
	}
	return out, truncated
}

// testPathsFor returns _test.go files that already exist alongside pkgs'
// source files, the conventional location the teacher pack always uses.
func (g *Graph) testPathsFor(pkgs map[string]bool) []string {
	var out []string
	seen := map[string]bool{}
	var names []string
	for pkg := range pkgs {
		names = append(names, pkg)
	}
	sort.Strings(names)
	for _, pkg := range names {
		info := g.packages[pkg]
		if info == nil {
			continue
		}
		entries, err := os.ReadDir(info.dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), "_test.go") {
				continue
			}
			full := filepath.Join(info.dir, e.Name())
			if !seen[full] {
				seen[full] = true
				out = append(out, full)
			}
		}
	}
	return out
}

func unionKeys(maps ...map[string]bool) map[string]bool {
	out := map[string]bool{}
	for _, m := range maps {
		for k := range m {
			out[k] = true
		}
	}
	return out
}
