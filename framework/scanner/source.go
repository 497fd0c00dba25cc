package scanner

import (
	"archive/zip"
	"bufio"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Environment identifies the module-loading environment a source serves.
type Environment string

const (
	EnvDevelopment     Environment = "development"
	EnvFrozenArchive   Environment = "frozen-archive"
	EnvFrozenDirectory Environment = "frozen-directory"
	EnvExplicit        Environment = "explicit"
)

// Candidate is one discovered module identifier.
type Candidate struct {
	ID            string
	AlreadyLoaded bool
}

// Source yields candidate module identifiers for one environment. The core
// consumes only this interface plus a load function — never the
// environment-specific probing directly.
type Source interface {
	Environment() Environment
	Modules() ([]Candidate, error)
}

// ── ExplicitListSource ────────────────────────────────────────────────────────

// ExplicitListSource serves an embedder-supplied module list. This is the
// zero-cost path when scanning is disabled: no filesystem or archive
// traversal happens.
type ExplicitListSource struct {
	IDs []string
}

func (s ExplicitListSource) Environment() Environment { return EnvExplicit }

func (s ExplicitListSource) Modules() ([]Candidate, error) {
	out := make([]Candidate, len(s.IDs))
	for i, id := range s.IDs {
		out[i] = Candidate{ID: id}
	}
	return out, nil
}

// ── DevelopmentSource ─────────────────────────────────────────────────────────

// DevelopmentSource walks a source tree and yields one module per directory
// containing Go files. Hidden directories, vendor, testdata and underscore
// prefixes are skipped.
type DevelopmentSource struct {
	Root string
}

func (s DevelopmentSource) Environment() Environment { return EnvDevelopment }

func (s DevelopmentSource) Modules() ([]Candidate, error) {
	root := s.Root
	if root == "" {
		root = "."
	}
	seen := make(map[string]bool)
	var ids []string

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if skipDir(d.Name()) && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(d.Name(), ".go") || strings.HasSuffix(d.Name(), "_test.go") {
			return nil
		}
		rel, relErr := filepath.Rel(root, filepath.Dir(path))
		if relErr != nil {
			return relErr
		}
		id := filepath.ToSlash(rel)
		if id == "." {
			return nil
		}
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanner: walk %s: %w", root, err)
	}
	sort.Strings(ids)
	return toCandidates(ids), nil
}

func skipDir(name string) bool {
	return strings.HasPrefix(name, ".") ||
		strings.HasPrefix(name, "_") ||
		name == "vendor" || name == "testdata" || name == "node_modules"
}

// ── FrozenArchiveSource ───────────────────────────────────────────────────────

// ManifestName is the per-image module manifest: one module id per line,
// '#' comments allowed. Frozen layouts prefer it over deriving ids from the
// packaged file tree.
const ManifestName = "modules.txt"

// FrozenArchiveSource reads module ids from a packaged zip image: the
// manifest when present, otherwise the directories of packaged Go files.
type FrozenArchiveSource struct {
	Path string
}

func (s FrozenArchiveSource) Environment() Environment { return EnvFrozenArchive }

func (s FrozenArchiveSource) Modules() ([]Candidate, error) {
	r, err := zip.OpenReader(s.Path)
	if err != nil {
		return nil, fmt.Errorf("scanner: open archive %s: %w", s.Path, err)
	}
	defer r.Close()

	for _, f := range r.File {
		if f.Name == ManifestName {
			rc, err := f.Open()
			if err != nil {
				return nil, fmt.Errorf("scanner: read manifest in %s: %w", s.Path, err)
			}
			defer rc.Close()
			ids, err := readManifest(rc)
			if err != nil {
				return nil, err
			}
			return toCandidates(ids), nil
		}
	}

	seen := make(map[string]bool)
	var ids []string
	for _, f := range r.File {
		if !strings.HasSuffix(f.Name, ".go") || strings.HasSuffix(f.Name, "_test.go") {
			continue
		}
		id := filepath.ToSlash(filepath.Dir(f.Name))
		if id == "." || id == "/" {
			continue
		}
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return toCandidates(ids), nil
}

// ── FrozenDirectorySource ─────────────────────────────────────────────────────

// FrozenDirectorySource reads module ids from a directory-based frozen
// layout: the manifest when present, otherwise the directory tree.
type FrozenDirectorySource struct {
	Dir string
}

func (s FrozenDirectorySource) Environment() Environment { return EnvFrozenDirectory }

func (s FrozenDirectorySource) Modules() ([]Candidate, error) {
	manifest := filepath.Join(s.Dir, ManifestName)
	if f, err := os.Open(manifest); err == nil {
		defer f.Close()
		ids, err := readManifest(f)
		if err != nil {
			return nil, err
		}
		return toCandidates(ids), nil
	}
	return DevelopmentSource{Root: s.Dir}.Modules()
}

// ── helpers ───────────────────────────────────────────────────────────────────

func readManifest(r io.Reader) ([]string, error) {
	var ids []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ids = append(ids, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scanner: read manifest: %w", err)
	}
	return ids, nil
}

func toCandidates(ids []string) []Candidate {
	out := make([]Candidate, len(ids))
	for i, id := range ids {
		out[i] = Candidate{ID: id}
	}
	return out
}

// Detect probes environment markers and selects the source: a frozen archive
// when the packaged image is present, a frozen directory layout next, and the
// development source tree otherwise. Probing runs once at startup.
func Detect(archivePath, frozenDir, devRoot string) Source {
	if archivePath == "" {
		if exe, err := os.Executable(); err == nil {
			archivePath = filepath.Join(filepath.Dir(exe), "modules.zip")
		}
	}
	if archivePath != "" {
		if fi, err := os.Stat(archivePath); err == nil && !fi.IsDir() {
			return FrozenArchiveSource{Path: archivePath}
		}
	}
	if frozenDir == "" {
		if exe, err := os.Executable(); err == nil {
			frozenDir = filepath.Join(filepath.Dir(exe), "modules.d")
		}
	}
	if frozenDir != "" {
		if fi, err := os.Stat(frozenDir); err == nil && fi.IsDir() {
			return FrozenDirectorySource{Dir: frozenDir}
		}
	}
	if devRoot == "" {
		devRoot = "."
	}
	return DevelopmentSource{Root: devRoot}
}
