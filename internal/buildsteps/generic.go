// Package buildsteps implements the build-phase Steps for packages that
// aren't handled by a more specific transport/build pairing: autotools and
// plain Makefile projects (generic.go) and Python source/wheel packages
// (python.go).
package buildsteps

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/veepm/vee/internal/envresolve"
	"github.com/veepm/vee/internal/pipeline"
	"github.com/veepm/vee/internal/subproc"
)

// GenericFactory produces the build Step for any package whose build_path
// contains a "configure" script or a "Makefile", the fallback catch-all
// every other build factory outranks. Grounded on the teacher's
// cmd/distri/buildc.go (CBuilder: cp-to-builddir, optional autoreconf,
// ./configure --prefix=..., make, make install DESTDIR=...), adapted from
// distri's cross-compiling package-build sense to vee's single-host
// install-in-place sense.
type GenericFactory struct{}

func (GenericFactory) Priority() int { return 1 }

func (GenericFactory) Create(phase pipeline.Phase, s *pipeline.State) (pipeline.Step, bool) {
	if phase != pipeline.PhaseBuild {
		return nil, false
	}
	dir := s.BuildPath()
	if dir == "" {
		return nil, false
	}
	if fileExists(filepath.Join(dir, "configure")) || fileExists(filepath.Join(dir, "Makefile")) || fileExists(filepath.Join(dir, "makefile")) {
		return genericBuildStep{}, true
	}
	return nil, false
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

type genericBuildStep struct{}

func (genericBuildStep) GetNext(phase pipeline.Phase) pipeline.Step { return nil }

// Run configures (if needed), builds, and installs an autotools/make
// project straight into its install prefix -- DESTDIR-less, since
// install_path is already a private, package-specific tree (spec §4.1),
// unlike distri's cross-built, DESTDIR-staged packages.
func (genericBuildStep) Run(ctx context.Context, phase pipeline.Phase, s *pipeline.State) error {
	if err := s.SetDefaultNames(false, false, true); err != nil {
		return err
	}
	dir := s.BuildPath()
	prefix := s.InstallPathFromBuild()
	if err := os.MkdirAll(prefix, 0o755); err != nil {
		return fmt.Errorf("create install prefix %s: %w", prefix, err)
	}

	base := baseEnviron()
	env := envresolve.AsSlice(base, envresolve.Resolve(base, s.Environ, s.HomeRoot))

	if fileExists(filepath.Join(dir, "configure")) {
		argv := append([]string{"./configure", "--prefix=" + prefix}, s.Config...)
		if err := subproc.Call(ctx, argv, subproc.Options{Dir: dir, Env: env}); err != nil {
			return &buildFailure{step: "configure", argv: argv, err: err}
		}
	}

	makeArgv := []string{"make"}
	if err := subproc.Call(ctx, makeArgv, subproc.Options{Dir: dir, Env: env}); err != nil {
		return &buildFailure{step: "make", argv: makeArgv, err: err}
	}

	installArgv := []string{"make", "install"}
	if err := subproc.Call(ctx, installArgv, subproc.Options{Dir: dir, Env: env}); err != nil {
		return &buildFailure{step: "make install", argv: installArgv, err: err}
	}
	return nil
}

func baseEnviron() map[string]string {
	base := map[string]string{}
	for _, kv := range os.Environ() {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				base[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	return base
}

type buildFailure struct {
	step string
	argv []string
	err  error
}

func (e *buildFailure) Error() string { return fmt.Sprintf("%s failed: %v", e.step, e.err) }
func (e *buildFailure) Unwrap() error  { return e.err }
