package vee

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/veepm/vee/internal/catalog"
)

// Home is the root directory R containing all caches, builds, installs,
// opt symlinks, environments, and the catalog (spec Glossary).
//
// Grounded on the teacher's distri.go (Repo{Path, PkgPath}) and
// internal/env/env.go (root-relative path resolution via an environment
// variable -- there DISTRIROOT, here VEE_HOME).
type Home struct {
	Root string
	DB   *catalog.Catalog
}

// VEEHomeEnvVar is the environment variable used to locate a Home root when
// one isn't passed explicitly, mirroring the teacher's DISTRIROOT.
const VEEHomeEnvVar = "VEE_HOME"

// Open opens (creating directory structure and catalog as needed) the Home
// rooted at root.
func Open(root string) (*Home, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve home root %s: %w", root, err)
	}
	for _, sub := range []string{"packages", "builds", "installs", "opt", "environments"} {
		if err := os.MkdirAll(filepath.Join(abs, sub), 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", sub, err)
		}
	}
	db, err := catalog.Open(filepath.Join(abs, "catalog.db"))
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	return &Home{Root: abs, DB: db}, nil
}

// Close releases the catalog handle.
func (h *Home) Close() error { return h.DB.Close() }

func (h *Home) absPath(kind, rel string) string {
	if rel == "" {
		return ""
	}
	return filepath.Join(h.Root, kind, rel)
}

// PackagePath returns R/packages/{packageName}.
func (h *Home) PackagePath(packageName string) string { return h.absPath("packages", packageName) }

// BuildPath returns R/builds/{buildName}.
func (h *Home) BuildPath(buildName string) string { return h.absPath("builds", buildName) }

// InstallPath returns R/installs/{installName}.
func (h *Home) InstallPath(installName string) string { return h.absPath("installs", installName) }

// OptPath returns R/opt/{name}, the symlink target for a named install
// (spec §4.1).
func (h *Home) OptPath(name string) string { return h.absPath("opt", name) }

// LinkOpt atomically replaces R/opt/{name} with a symlink to installPath.
func (h *Home) LinkOpt(name, installPath string) error {
	if name == "" {
		return nil
	}
	optLink := h.OptPath(name)
	if err := os.MkdirAll(filepath.Dir(optLink), 0o755); err != nil {
		return fmt.Errorf("create opt dir: %w", err)
	}
	tmp := optLink + ".tmp"
	os.Remove(tmp)
	if err := os.Symlink(installPath, tmp); err != nil {
		return fmt.Errorf("symlink opt/%s: %w", name, err)
	}
	if err := os.Rename(tmp, optLink); err != nil {
		return fmt.Errorf("replace opt/%s: %w", name, err)
	}
	return nil
}

// Doctor performs a self-check of the home root: directory structure
// exists and opt/ links resolve. It does not check the catalog itself;
// Open has already opened and migrated it before Doctor can be called.
// Supplements the CLI-less core with the operation named in
// original_source/vee/commands/doctor.py (see SPEC_FULL.md §9).
func (h *Home) Doctor() []string {
	var problems []string
	for _, sub := range []string{"packages", "builds", "installs", "opt", "environments"} {
		if st, err := os.Stat(filepath.Join(h.Root, sub)); err != nil || !st.IsDir() {
			problems = append(problems, fmt.Sprintf("missing directory: %s", sub))
		}
	}
	entries, err := os.ReadDir(filepath.Join(h.Root, "opt"))
	if err != nil {
		problems = append(problems, fmt.Sprintf("cannot list opt/: %v", err))
		return problems
	}
	for _, e := range entries {
		target := filepath.Join(h.Root, "opt", e.Name())
		if _, err := os.Stat(target); err != nil {
			problems = append(problems, fmt.Sprintf("opt/%s does not resolve: %v", e.Name(), err))
		}
	}
	return problems
}
