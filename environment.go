package vee

import (
	"fmt"
	"os"
	"path/filepath"
)

// Environment is the external collaborator spec §1 calls out as
// out-of-scope beyond its link-tree and record operations: "a named
// directory of symlinks into install trees; composition unit exposed to
// end users" (Glossary). Package.Link and Package.ResolveExisting depend
// only on this interface.
type Environment interface {
	// Name identifies the environment for catalog bookkeeping.
	Name() string
	// LinkDirectory merges installPath's contents into the environment's
	// link tree.
	LinkDirectory(installPath string) error
}

// LinkedEnv is a minimal symlink-farm Environment, generalizing the
// teacher's opt/{name} convention (vee/packages/base.py's install() tail)
// from one symlink per package name to one symlink per top-level entry of
// an install tree, so the Package Driver is exercisable end-to-end without
// a full external environment manager.
type LinkedEnv struct {
	name string
	root string
}

// NewLinkedEnv returns a LinkedEnv rooted at R/environments/{name}.
func NewLinkedEnv(home *Home, name string) (*LinkedEnv, error) {
	root := filepath.Join(home.Root, "environments", name)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create environment %s: %w", name, err)
	}
	return &LinkedEnv{name: name, root: root}, nil
}

func (e *LinkedEnv) Name() string { return e.name }

// LinkDirectory symlinks every top-level entry of installPath into the
// environment root, atomically replacing any existing link with the same
// basename.
func (e *LinkedEnv) LinkDirectory(installPath string) error {
	entries, err := os.ReadDir(installPath)
	if err != nil {
		return fmt.Errorf("read install tree %s: %w", installPath, err)
	}
	for _, entry := range entries {
		src := filepath.Join(installPath, entry.Name())
		dst := filepath.Join(e.root, entry.Name())
		tmp := dst + ".tmp"
		os.Remove(tmp)
		if err := os.Symlink(src, tmp); err != nil {
			return fmt.Errorf("symlink %s: %w", entry.Name(), err)
		}
		if err := os.Rename(tmp, dst); err != nil {
			return fmt.Errorf("replace link %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// RequirementRepo is the requirement-file repository collaborator spec §1
// calls out as out of scope ("a versioned list of requirements stored in a
// Git tree"), named here only as an interface so BakeRevision (SPEC_FULL.md
// §9) has a caller-supplied persistence target instead of writing files
// itself.
type RequirementRepo interface {
	// IterGitRequirements yields every requirement in the repo whose URL
	// uses the git transport, mirroring
	// original_source/vee/commands/add.py's req_repo.iter_git_requirements.
	IterGitRequirements() ([]Requirement, error)
}
