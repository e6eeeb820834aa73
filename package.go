package vee

import (
	"context"
	"fmt"
	"os"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/veepm/vee/internal/buildsteps"
	"github.com/veepm/vee/internal/catalog"
	"github.com/veepm/vee/internal/pipeline"
	"github.com/veepm/vee/internal/relocate"
	"github.com/veepm/vee/internal/transport"
)

// Package is the Package Driver (spec §4.6): it owns a single
// *pipeline.State (the mutable identity record steps act on), the Home it
// belongs to, and the catalog row id once one has been assigned.
//
// Grounded on the teacher's distri.go Repo type for the "one struct holds
// the paths, everything else is methods on it" shape, generalized here to
// also own the pipeline's state machine and catalog bookkeeping -- which
// the teacher doesn't need, since its packages are immutable artifacts in
// a shared repo rather than driven through a fetch/build/install pipeline.
type Package struct {
	*pipeline.State

	home *Home
	id   int64 // catalog row id, 0 until inserted

	abstractRequirement string
}

// NewRegistry assembles the default pipeline.Registry: every transport and
// build factory this module ships with, in the priority order spec §4.3
// calls for (the git and PyPI transports at 1000, the HTTP transport at
// 10, the Python builder at 5000 so it outranks
// generic configure/make detection, the generic builder at 1, and the
// shared extract default at the very bottom).
func NewRegistry() *pipeline.Registry {
	r := pipeline.NewRegistry()
	r.Register(transport.GitFactory{})
	r.Register(transport.PyPIFactory{})
	r.Register(transport.HTTPFactory{})
	r.Register(buildsteps.PythonFactory{})
	r.Register(buildsteps.GenericFactory{})
	pipeline.RegisterGenericExtract(r)
	return r
}

// NewPackage creates a Package from a Requirement, ready to drive through
// the pipeline.
func NewPackage(home *Home, req Requirement) (*Package, error) {
	abstract, err := req.ToJSON()
	if err != nil {
		return nil, fmt.Errorf("serialize requirement: %w", err)
	}
	return &Package{
		State: &pipeline.State{
			HomeRoot:        home.Root,
			URL:             string(req.URL),
			Name:            string(req.Name),
			Revision:        string(req.Revision),
			Checksum:        string(req.Checksum),
			ETag:            req.ETag,
			Config:          req.Config,
			Environ:         req.Environ,
			ForceFetch:      req.ForceFetch,
			HardLink:        req.HardLink,
			DeferSetupBuild: req.DeferSetupBuild,
			Relocate:        req.Relocate,
		},
		home:                home,
		abstractRequirement: abstract,
	}, nil
}

// ResolveExisting implements spec §4.6's resolve_existing: it queries the
// catalog for any row matching the currently-known identity fields
// (conjunctive equality on whichever of url/name/revision/etag/
// package_name/build_name/install_name are non-empty), preferring rows
// already linked into env if one is given, and tolerating (skipping) rows
// whose install_path no longer exists on disk.
func (p *Package) ResolveExisting(env Environment) (bool, error) {
	filter := catalog.IdentityFilter{
		URL:         p.URL,
		Name:        p.Name,
		Revision:    p.Revision,
		ETag:        p.ETag,
		PackageName: p.PackageName,
		BuildName:   p.BuildName,
		InstallName: p.InstallName,
	}
	var envID *int64
	if env != nil {
		id, err := p.home.DB.EnsureEnvironment(env.Name())
		if err != nil {
			return false, &CatalogConsistencyError{Reason: "ensure environment", Err: err}
		}
		envID = &id
	}

	rows, err := p.home.DB.FindExisting(filter, envID)
	if err != nil {
		return false, &CatalogConsistencyError{Reason: "resolve_existing query", Err: err}
	}
	for _, row := range rows {
		if row.InstallPath == "" {
			continue
		}
		if _, err := os.Stat(row.InstallPath); err != nil {
			continue // stale row; tolerate and keep looking
		}
		p.id = row.ID
		p.PackageName = row.PackageName
		p.BuildName = row.BuildName
		p.InstallName = row.InstallName
		p.Revision = row.Revision
		p.ETag = row.ETag
		return true, nil
	}
	return false, nil
}

// AutoInstall runs ResolveExisting first and only drives the pipeline if
// nothing usable was found, per spec §4.6's auto_install. force is
// threaded straight through to Install: resolve_existing in the original
// is only skipped by its CLI caller when --force is given, but
// auto_install itself always re-checks and uninstalls as it goes, so a
// caller wanting a forced reinstall should still route through here.
func (p *Package) AutoInstall(ctx context.Context, reg *pipeline.Registry, env Environment, force bool) error {
	if !force {
		found, err := p.ResolveExisting(env)
		if err != nil {
			return err
		}
		if found {
			if env != nil {
				return p.Link(env, false)
			}
			return nil
		}
	}
	return p.Install(ctx, reg, env, force)
}

// Install drives the package through every phase of the pipeline in order
// (spec §4.3), then records the resulting row in the catalog and,
// if env is non-nil, links it.
//
// Per spec §4.6 and original_source/vee/packages/base.py's auto_install,
// installed-ness is re-checked (and, with force, uninstalled) three times:
// before anything runs, after fetch, and after extract -- a transport may
// only learn the package's true revision (and hence its final install
// path) once it has fetched (git resolving a ref) or extracted and read
// metadata (a tarball whose name didn't carry a version).
func (p *Package) Install(ctx context.Context, reg *pipeline.Registry, env Environment, force bool) error {
	if err := p.reinstallCheck(force); err != nil {
		return err
	}

	var current pipeline.Step
	var transportType string
	for _, phase := range []pipeline.Phase{
		pipeline.PhaseInit,
		pipeline.PhaseFetch,
		pipeline.PhaseExtract,
		pipeline.PhaseInspect,
		pipeline.PhaseBuild,
		pipeline.PhaseInstall,
	} {
		step, err := reg.NextStep(current, phase, p.State)
		if err != nil {
			return err
		}
		if err := step.Run(ctx, phase, p.State); err != nil {
			return translatePipelineError(phase, err)
		}
		current = step
		if p.TransportType != "" {
			transportType = p.TransportType
		}

		switch phase {
		case pipeline.PhaseFetch, pipeline.PhaseExtract:
			if err := p.reinstallCheck(force); err != nil {
				return err
			}
		}
	}

	if err := p.recordInstall(ctx, transportType); err != nil {
		return err
	}
	if env != nil {
		return p.Link(env, true)
	}
	return nil
}

// reinstallCheck implements base.py's _reinstall_check: once enough
// identity fields are known to resolve an install path, an existing
// install there is either removed (force) or reported as
// AlreadyInstalledError. Called before the pipeline runs and again after
// each phase that might newly resolve the install path.
func (p *Package) reinstallCheck(force bool) error {
	if err := p.SetDefaultNames(false, false, true); err != nil {
		return err
	}
	if p.InstallName == "" {
		return nil
	}
	if _, err := os.Stat(p.InstallPath()); err != nil {
		return nil
	}
	if force {
		return p.Uninstall()
	}
	return &AlreadyInstalledError{Requirement: p.abstractRequirement}
}

// Uninstall removes the install tree without touching any catalog rows
// (spec §4.6 / original_source/vee/packages/base.py:262's uninstall),
// e.g. so a forced reinstall can clear a stale tree before driving the
// pipeline again.
func (p *Package) Uninstall() error {
	if err := p.SetDefaultNames(false, false, true); err != nil {
		return err
	}
	if p.InstallName == "" {
		return fmt.Errorf("uninstall: no install name resolved")
	}
	path := p.InstallPath()
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("uninstall: package is not installed at %s", path)
	}
	return os.RemoveAll(path)
}

// Develop runs only the develop phase against an already-built-in-place
// checkout (spec §9), used for local edit-install workflows rather than a
// full fetch/build/install cycle.
func (p *Package) Develop(ctx context.Context, reg *pipeline.Registry) error {
	step, err := reg.NextStep(nil, pipeline.PhaseDevelop, p.State)
	if err != nil {
		return err
	}
	return step.Run(ctx, pipeline.PhaseDevelop, p.State)
}

// InstallDependencies installs every dependency discovered during inspect
// (spec §5: "independent subtrees of the dependency graph install
// concurrently; a shared errgroup.Group bounds the total in flight and
// propagates the first failure"). Each dependency becomes its own Package
// against the same Home, sharing the catalog and filesystem but not the
// parent's pipeline.State.
func (p *Package) InstallDependencies(ctx context.Context, reg *pipeline.Registry, env Environment, limit int) error {
	if len(p.Dependencies) == 0 {
		return nil
	}
	g, ctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for _, dep := range p.Dependencies {
		dep := dep
		g.Go(func() error {
			child, err := NewPackage(p.home, Requirement{URL: URL(dep.URL), Name: Name(dep.Name)})
			if err != nil {
				return fmt.Errorf("create dependency package %s: %w", dep.Name, err)
			}
			if err := child.AutoInstall(ctx, reg, env, false); err != nil {
				var already *AlreadyInstalledError
				if asAlreadyInstalled(err, &already) {
					return nil
				}
				return fmt.Errorf("install dependency %s: %w", dep.Name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func asAlreadyInstalled(err error, target **AlreadyInstalledError) bool {
	if e, ok := err.(*AlreadyInstalledError); ok {
		*target = e
		return true
	}
	return false
}

func translatePipelineError(phase pipeline.Phase, err error) error {
	switch phase {
	case pipeline.PhaseFetch:
		return &TransportFailureError{Err: err}
	case pipeline.PhaseBuild, pipeline.PhaseInstall:
		return &BuildFailureError{Step: string(phase), Err: err}
	default:
		return err
	}
}

func (p *Package) relocate(ctx context.Context) error {
	records, err := relocate.Tree(ctx, p.InstallPath(), p.Relocate)
	if err != nil {
		return fmt.Errorf("relocate %s: %w", p.InstallPath(), err)
	}
	byBinary := map[string][]relocate.Record{}
	for _, r := range records {
		byBinary[r.BinaryPath] = append(byBinary[r.BinaryPath], r)
	}
	for binPath, recs := range byBinary {
		var deps []string
		var soname string
		var unresolved []string
		for _, r := range recs {
			if r.LibraryPath != "" {
				deps = append(deps, r.LibraryPath)
			}
			if r.SONAME != "" {
				soname = r.SONAME
			}
			if len(r.Unresolved) > 0 {
				unresolved = r.Unresolved
			}
		}
		if err := p.home.DB.InsertSharedLibrary(catalog.SharedLibraryRow{
			PackageID:  p.id,
			Path:       binPath,
			SONAME:     soname,
			Deps:       strings.Join(deps, ","),
			Unresolved: strings.Join(unresolved, ","),
		}); err != nil {
			return &CatalogConsistencyError{Reason: "record shared libraries", Err: err}
		}
	}
	return nil
}

// BakeRevision resolves a floating requirement (a branch name, a version
// expression) into a concrete, reproducible one now that the pipeline has
// pinned p.Revision to an exact value, per SPEC_FULL.md §9 (supplementing
// original_source/vee/commands/add.py's baking of exact revisions back
// into a requirements file).
func (p *Package) BakeRevision(req Requirement) Requirement {
	baked := req
	baked.Revision = Revision(p.Revision)
	if p.Checksum != "" {
		baked.Checksum = Checksum(p.Checksum)
	}
	return baked
}

// recordInstall inserts a new catalog row for this package on every call;
// existing rows are never updated (spec §4.6, §5: "a transactional write boundary is
// required around each catalog insert").
func (p *Package) recordInstall(ctx context.Context, transportType string) error {
	abstract := p.abstractRequirement
	concrete, err := (Requirement{
		URL:      URL(p.URL),
		Name:     Name(p.Name),
		Revision: Revision(p.Revision),
		Checksum: Checksum(p.Checksum),
		ETag:     p.ETag,
	}).ToJSON()
	if err != nil {
		return fmt.Errorf("serialize concrete requirement: %w", err)
	}

	id, err := p.home.DB.InsertPackage(catalog.PackageRow{
		AbstractRequirement: abstract,
		ConcreteRequirement: concrete,
		PackageType:         transportType,
		URL:                 p.URL,
		Name:                p.Name,
		Revision:            p.Revision,
		ETag:                p.ETag,
		PackageName:         p.PackageName,
		BuildName:           p.BuildName,
		InstallName:         p.InstallName,
		PackagePath:         p.PackagePath(),
		BuildPath:           p.BuildPath(),
		InstallPath:         p.InstallPath(),
	})
	if err != nil {
		return &CatalogConsistencyError{Reason: "insert package row", Err: err}
	}
	p.id = id
	if p.Relocate != "" {
		if err := p.relocate(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Link records a (package, environment) link in the catalog and merges the
// install tree into env, implementing spec §4.6's link. Without force, an
// existing link for the same pair returns AlreadyLinkedError.
func (p *Package) Link(env Environment, force bool) error {
	if p.id == 0 {
		return &CatalogConsistencyError{Reason: "link called before install recorded the package row"}
	}
	envID, err := p.home.DB.EnsureEnvironment(env.Name())
	if err != nil {
		return &CatalogConsistencyError{Reason: "ensure environment", Err: err}
	}
	existing, err := p.home.DB.FindLink(p.id, envID)
	if err != nil {
		return &CatalogConsistencyError{Reason: "find existing link", Err: err}
	}
	if existing != nil && !force {
		return &AlreadyLinkedError{Requirement: p.abstractRequirement, LinkID: existing.ID}
	}
	if _, err := p.home.DB.InsertLink(p.id, envID, p.abstractRequirement); err != nil {
		return &CatalogConsistencyError{Reason: "insert link", Err: err}
	}
	if err := env.LinkDirectory(p.InstallPath()); err != nil {
		return fmt.Errorf("link install tree into %s: %w", env.Name(), err)
	}
	return p.home.LinkOpt(p.Name, p.InstallPath())
}

// DBID returns the catalog row id assigned to this package, or 0 if it
// hasn't been installed/resolved yet.
func (p *Package) DBID() int64 { return p.id }
