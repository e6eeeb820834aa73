// Package pipeline implements the step-oriented state machine that drives
// a package from an abstract requirement through init -> fetch -> extract
// -> inspect -> build -> install -> (optional) develop (spec §4.3).
//
// It has no dependency on the root vee package or on the catalog, so it
// can be imported by both without an import cycle: the root Package type
// embeds *State and layers catalog/driver behavior on top.
package pipeline

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// Phase is one step of the pipeline. Exactly one Step runs each phase
// (spec §4.3).
type Phase string

const (
	PhaseInit    Phase = "init"
	PhaseFetch   Phase = "fetch"
	PhaseExtract Phase = "extract"
	PhaseInspect Phase = "inspect"
	PhaseBuild   Phase = "build"
	PhaseInstall Phase = "install"
	PhaseDevelop Phase = "develop"
)

// Dependency is a package discovered during inspect (spec §3: "dependencies:
// ordered list of discovered child requirements").
type Dependency struct {
	Name string
	URL  string
}

// State is the driver-owned mutable record passed by exclusive reference
// into each step (Design Notes: "represent the Package as an explicit
// driver-owned record passed by exclusive reference into each step; steps
// may mutate it but never retain a reference past their call").
//
// Field names mirror vee/packages/base.py's BasePackage attributes.
type State struct {
	HomeRoot string // R, for path computation only

	URL      string
	Name     string
	Revision string
	Checksum string
	ETag     string

	Config  []string
	Environ map[string]string

	ForceFetch      bool
	HardLink        bool
	DeferSetupBuild bool
	Relocate        string

	// TransportType tags which transport normalized this package during
	// init (spec §4.1: "prefixing the transport type"), e.g. "git", "http",
	// "pypi".
	TransportType string

	PackageName string
	BuildName   string
	InstallName string

	BuildSubdir   string
	InstallPrefix string

	Dependencies []Dependency
}

func (s *State) absPath(kind, rel string) string {
	if rel == "" {
		return ""
	}
	return filepath.Join(s.HomeRoot, kind, rel)
}

// PackagePath is where the package is cached.
func (s *State) PackagePath() string { return s.absPath("packages", s.PackageName) }

// BuildPath is where the package is built.
func (s *State) BuildPath() string { return s.absPath("builds", s.BuildName) }

// InstallPath is the final location of the built package.
func (s *State) InstallPath() string { return s.absPath("installs", s.InstallName) }

// BuildPathToInstall is build_path/build_subdir, the tree that gets copied
// (or setup.py-installed) into the install location.
func (s *State) BuildPathToInstall() string {
	return strings.TrimRight(filepath.Join(s.BuildPath(), s.BuildSubdir), "/")
}

// InstallPathFromBuild is install_path/install_prefix.
func (s *State) InstallPathFromBuild() string {
	return strings.TrimRight(filepath.Join(s.InstallPath(), s.InstallPrefix), "/")
}

var (
	schemeRe        = regexp.MustCompile(`^[\w._+-]+:`)
	repeatedSlashRe = regexp.MustCompile(`:?/+:?`)
	archiveSuffixRe = regexp.MustCompile(`(\.(tar|gz|tgz|zip))+$`)
)

// SetDefaultNames derives package_name/install_name/build_name from
// whatever identity fields are already known, matching
// vee/packages/base.py's _set_default_names. It only fills in names that
// are still empty, so a transport step that has already set PackageName
// (e.g. the PyPI transport, which derives it from the chosen artifact
// filename) is not overridden.
func (s *State) SetDefaultNames(wantPackage, wantBuild, wantInstall bool) error {
	if (wantPackage || wantBuild || wantInstall) && s.PackageName == "" && s.URL != "" {
		name := schemeRe.ReplaceAllString(s.URL, "")
		name = repeatedSlashRe.ReplaceAllString(name, "/")
		name = strings.Trim(name, "/")
		if name != "" {
			s.PackageName = s.TransportType + "/" + name
		}
	}
	if (wantInstall || wantBuild) && s.InstallName == "" {
		if s.Name != "" && s.Revision != "" {
			s.InstallName = s.Name + "/" + s.Revision
		} else if s.PackageName != "" {
			s.InstallName = archiveSuffixRe.ReplaceAllString(s.PackageName, "")
		}
	}
	if wantBuild && s.BuildName == "" && s.InstallName != "" {
		var buf [4]byte
		if _, err := rand.Read(buf[:]); err != nil {
			return fmt.Errorf("generate build suffix: %w", err)
		}
		s.BuildName = fmt.Sprintf("%s/%s-%s", s.InstallName, time.Now().UTC().Format("060102150405"), hex.EncodeToString(buf[:]))
	}
	return nil
}
