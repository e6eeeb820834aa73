package buildsteps

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/veepm/vee/internal/envresolve"
	"github.com/veepm/vee/internal/pipeline"
	"github.com/veepm/vee/internal/subproc"
)

var pythonVersion = "3.11"

func sitePackages() string { return filepath.Join("lib", "python"+pythonVersion, "site-packages") }

// PythonFactory produces the inspect Step for any package whose build tree
// contains a setup.py, an *.egg-info/EGG-INFO directory, or an
// *.dist-info directory, translating
// original_source/vee/pipeline/python.py's PythonBuilder.factory. Once
// matched, the step self-chains through build/install/develop exactly the
// way PythonBuilder.get_next does.
type PythonFactory struct{}

func (PythonFactory) Priority() int { return 5000 }

func (PythonFactory) Create(phase pipeline.Phase, s *pipeline.State) (pipeline.Step, bool) {
	if phase != pipeline.PhaseInspect {
		return nil, false
	}
	dir := s.BuildPath()
	setupPath := findInTree(dir, "setup.py", false)
	eggPath := findFirstGlobDir(dir, "EGG-INFO")
	if eggPath == "" {
		eggPath = findFirstGlobDir(dir, "*.egg-info")
	}
	distInfo := findFirstGlobDir(dir, "*.dist-info")
	if setupPath == "" && eggPath == "" && distInfo == "" {
		return nil, false
	}
	return &pythonStep{setupPath: setupPath, eggPath: eggPath, distInfoDir: distInfo}, true
}

type pythonStep struct {
	setupPath   string
	eggPath     string
	distInfoDir string
}

func (p *pythonStep) GetNext(phase pipeline.Phase) pipeline.Step {
	switch phase {
	case pipeline.PhaseBuild, pipeline.PhaseInstall, pipeline.PhaseDevelop:
		return p
	}
	return nil
}

func (p *pythonStep) Run(ctx context.Context, phase pipeline.Phase, s *pipeline.State) error {
	switch phase {
	case pipeline.PhaseInspect:
		return p.inspect(ctx, s)
	case pipeline.PhaseBuild:
		return p.build(ctx, s)
	case pipeline.PhaseInstall:
		return p.install(ctx, s)
	case pipeline.PhaseDevelop:
		return p.develop(ctx, s)
	default:
		return fmt.Errorf("python builder asked to run unexpected phase %q", phase)
	}
}

var requiresNameRe = regexp.MustCompile(`^([\w.-]+)`)

// inspect discovers dependencies from egg-info's requires.txt or
// dist-info's METADATA Requires-Dist headers, translating
// PythonBuilder.inspect. When a source checkout has a setup.py but no
// egg-info yet, it first runs `setup.py egg_info` (under the package's
// resolved environment) to generate one, exactly as the original does,
// since requires.txt doesn't exist until that's been run at least once.
func (p *pythonStep) inspect(ctx context.Context, s *pipeline.State) error {
	if p.setupPath != "" && p.eggPath == "" {
		if err := runSetupPy(ctx, setupPyArgv(p.setupPath, "egg_info"), p.setupPath, s); err != nil {
			return err
		}
		p.eggPath = findFirstGlobDir(filepath.Dir(p.setupPath), "*.egg-info")
	}

	if p.eggPath != "" {
		requiresPath := filepath.Join(p.eggPath, "requires.txt")
		if f, err := os.Open(requiresPath); err == nil {
			defer f.Close()
			sc := bufio.NewScanner(f)
			for sc.Scan() {
				line := sc.Text()
				if strings.HasPrefix(line, "[") {
					break // start of "extras" section
				}
				if m := requiresNameRe.FindStringSubmatch(line); m != nil {
					name := strings.ToLower(m[1])
					s.Dependencies = append(s.Dependencies, pipeline.Dependency{Name: name, URL: "pypi:" + name})
				}
			}
		}
	}

	if p.distInfoDir != "" {
		metaPath := filepath.Join(p.distInfoDir, "METADATA")
		if f, err := os.Open(metaPath); err == nil {
			defer f.Close()
			sc := bufio.NewScanner(f)
			for sc.Scan() {
				line := strings.TrimSpace(sc.Text())
				if line == "" {
					break
				}
				key, value, ok := strings.Cut(line, ": ")
				if !ok {
					continue
				}
				if strings.ToLower(key) != "requires-dist" {
					continue
				}
				if strings.Contains(value, ";") {
					continue // extras, not handled
				}
				m := requiresNameRe.FindStringSubmatch(value)
				if m == nil {
					continue
				}
				name := m[1]
				s.Dependencies = append(s.Dependencies, pipeline.Dependency{Name: name, URL: "pypi:" + name})
			}
		}
	}
	return nil
}

// build runs `setup.py build` for a source checkout, or lays out an
// already-built egg/wheel's contents under build_subdir, translating
// PythonBuilder.build.
func (p *pythonStep) build(ctx context.Context, s *pipeline.State) error {
	if p.setupPath != "" {
		if s.DeferSetupBuild {
			return nil
		}
		argv := append(setupPyArgv(p.setupPath, "build"), s.Config...)
		return runSetupPy(ctx, argv, p.setupPath, s)
	}

	if p.eggPath != "" {
		if err := p.renameEggInfo(); err != nil {
			return err
		}
		s.BuildSubdir = filepath.Dir(p.eggPath)
		s.InstallPrefix = sitePackages()
		return nil
	}

	if p.distInfoDir != "" {
		topLevelDir := filepath.Dir(p.distInfoDir)
		buildDir := filepath.Join(topLevelDir, "build")
		s.BuildSubdir = buildDir

		libDir := filepath.Join(buildDir, sitePackages())
		if err := os.MkdirAll(libDir, 0o755); err != nil {
			return err
		}
		if err := copyTree(p.distInfoDir, filepath.Join(libDir, filepath.Base(p.distInfoDir))); err != nil {
			return err
		}

		topLevelList := filepath.Join(p.distInfoDir, "top_level.txt")
		if names, err := readLines(topLevelList); err == nil {
			for _, name := range names {
				if name == "" {
					continue
				}
				src := filepath.Join(topLevelDir, name)
				info, err := os.Stat(src)
				if err != nil {
					continue
				}
				if info.IsDir() {
					if err := copyTree(src, filepath.Join(libDir, name)); err != nil {
						return err
					}
				} else {
					if err := copyFile(src, filepath.Join(libDir, name)); err != nil {
						return err
					}
				}
			}
		}

		wheelBasename := strings.TrimSuffix(filepath.Base(p.distInfoDir), filepath.Ext(p.distInfoDir))
		dataDir := filepath.Join(topLevelDir, wheelBasename+".data")
		if entries, err := os.ReadDir(dataDir); err == nil {
			for _, e := range entries {
				if strings.HasPrefix(e.Name(), ".") {
					continue
				}
				if e.Name() == "scripts" {
					if err := copyTree(filepath.Join(dataDir, e.Name()), filepath.Join(buildDir, "bin")); err != nil {
						return err
					}
				}
			}
		}
		return nil
	}
	return nil
}

// renameEggInfo moves a prebuilt egg's EGG-INFO (or already-named
// *.egg-info) directory to {name}-{version}.egg-info, the name pip's own
// install machinery expects, reading the canonical name/version out of
// PKG-INFO the way PythonBuilder.build does. A missing or malformed
// PKG-INFO leaves the egg-info directory under its original name, same as
// the original (it only warns).
func (p *pythonStep) renameEggInfo() error {
	pkgInfoPath := filepath.Join(p.eggPath, "PKG-INFO")
	fields, err := readPkgInfo(pkgInfoPath)
	if err != nil {
		return nil
	}
	name, version := fields["name"], fields["version"]
	if name == "" || version == "" {
		return nil
	}
	newEggPath := filepath.Join(filepath.Dir(p.eggPath), fmt.Sprintf("%s-%s.egg-info", name, version))
	if newEggPath == p.eggPath {
		return nil
	}
	if err := os.Rename(p.eggPath, newEggPath); err != nil {
		return fmt.Errorf("rename %s to %s: %w", p.eggPath, newEggPath, err)
	}
	p.eggPath = newEggPath
	return nil
}

// readPkgInfo parses a PKG-INFO (or METADATA) file's leading "Key: value"
// header block into a lowercase-keyed map, stopping at the first blank
// line the way the email-message format these files follow requires.
func readPkgInfo(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	fields := map[string]string{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			break
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		fields[strings.ToLower(strings.TrimSpace(key))] = strings.TrimSpace(value)
	}
	return fields, sc.Err()
}

// install runs `setup.py install --root=install_path`, translating
// PythonBuilder.install. Packages that arrived as a pre-built egg/wheel
// have nothing left to run here: build() already laid out their install
// tree under build_subdir, so this step copies it to the install prefix
// with genericInstall.
func (p *pythonStep) install(ctx context.Context, s *pipeline.State) error {
	if p.setupPath == "" {
		return genericInstall(s)
	}

	installPath := s.InstallPath()
	installSitePackages := filepath.Join(installPath, sitePackages())

	if _, err := os.Stat(installPath); err == nil {
		if err := os.RemoveAll(installPath); err != nil {
			return fmt.Errorf("remove existing install %s: %w", installPath, err)
		}
	}
	if err := os.MkdirAll(installSitePackages, 0o755); err != nil {
		return err
	}

	argv := []string{
		"install",
		"--root", installPath,
		"--prefix", ".",
		"--install-lib", sitePackages(),
		"--single-version-externally-managed",
	}
	if !s.DeferSetupBuild {
		argv = append(argv, "--skip-build")
	}
	return runSetupPy(ctx, setupPyArgv(p.setupPath, argv...), p.setupPath, s)
}

// develop runs `setup.py vee_develop` and splices the resulting
// build/scripts and egg-info top-level package directories into PATH and
// PYTHONPATH, translating PythonBuilder.develop almost verbatim (spec §9's
// develop phase).
func (p *pythonStep) develop(ctx context.Context, s *pipeline.State) error {
	if p.setupPath == "" {
		return nil
	}
	if err := runSetupPy(ctx, setupPyArgv(p.setupPath, "vee_develop"), p.setupPath, s); err != nil {
		return err
	}

	eggInfo := findFirstGlobDir(filepath.Dir(p.setupPath), "*.egg-info")
	if eggInfo == "" {
		return fmt.Errorf("could not find built egg-info after develop")
	}

	if s.Environ == nil {
		s.Environ = map[string]string{}
	}

	dirsToLink := map[string]bool{}
	names, err := readLines(filepath.Join(eggInfo, "top_level.txt"))
	if err == nil {
		for _, name := range names {
			dirsToLink[filepath.Dir(name)] = true
		}
	}
	sortedDirs := make([]string, 0, len(dirsToLink))
	for d := range dirsToLink {
		sortedDirs = append(sortedDirs, d)
	}
	sort.Strings(sortedDirs)
	for _, name := range sortedDirs {
		prior := s.Environ["PYTHONPATH"]
		if prior == "" {
			prior = "@"
		}
		s.Environ["PYTHONPATH"] = joinEnvPath("./"+name, prior)
	}

	scripts := filepath.Join(filepath.Dir(p.setupPath), "build", "scripts")
	if _, err := os.Stat(scripts); err == nil {
		prior := s.Environ["PATH"]
		if prior == "" {
			prior = "@"
		}
		s.Environ["PATH"] = joinEnvPath("./build/scripts", prior)
	}
	return nil
}

func joinEnvPath(head, tail string) string {
	if tail == "" {
		return head
	}
	return head + string(os.PathListSeparator) + tail
}

func setupPyArgv(setupPath string, args ...string) []string {
	argv := []string{"python", setupPath}
	return append(argv, args...)
}

func runSetupPy(ctx context.Context, argv []string, setupPath string, s *pipeline.State) error {
	base := baseEnviron()
	diff := envresolve.Resolve(base, s.Environ, s.HomeRoot)
	env := envresolve.AsSlice(base, diff)
	opts := subproc.Options{Dir: filepath.Dir(setupPath), Env: env}
	if err := subproc.Call(ctx, argv, opts); err != nil {
		return &buildFailure{step: "setup.py " + strings.Join(argv[2:], " "), argv: argv, err: err}
	}
	return nil
}

// genericInstall copies build_path/build_subdir into
// install_path/install_prefix, used for prebuilt eggs and wheels which have
// no setup.py left to run.
func genericInstall(s *pipeline.State) error {
	src := s.BuildPathToInstall()
	dst := s.InstallPathFromBuild()
	if err := os.RemoveAll(dst); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	return copyTree(src, dst)
}

func findInTree(root, name string, dirOnly bool) string {
	var found string
	filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || found != "" {
			return nil
		}
		if info.Name() == name && info.IsDir() == dirOnly {
			found = path
			return filepath.SkipDir
		}
		return nil
	})
	return found
}

func findFirstGlobDir(root, pattern string) string {
	var found string
	filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || found != "" || !info.IsDir() {
			return nil
		}
		if ok, _ := filepath.Match(pattern, info.Name()); ok {
			found = path
			return filepath.SkipDir
		}
		return nil
	})
	return found
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines, sc.Err()
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode())
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target)
	})
}
