package pipeline

import (
	"archive/tar"
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// genericExtractFactory produces the default extract Step for every
// package regardless of transport, mirroring vee/packages/base.py's
// BasePackage.extract (which is not transport-specific: any package's
// package_path is unpacked into its build_path the same way).
type genericExtractFactory struct{}

// Priority is the lowest in the registry: any transport wanting a custom
// extract behavior can register a higher-priority factory to override it.
func (genericExtractFactory) Priority() int { return 0 }

func (genericExtractFactory) Create(phase Phase, s *State) (Step, bool) {
	if phase != PhaseExtract {
		return nil, false
	}
	return genericExtractStep{}, true
}

// RegisterGenericExtract installs the default extract Step into r. Callers
// assemble their registry with this plus whichever transport/build
// factories they need.
func RegisterGenericExtract(r *Registry) { r.Register(genericExtractFactory{}) }

type genericExtractStep struct{}

func (genericExtractStep) GetNext(phase Phase) Step { return nil }

var (
	tgzRe = regexp.MustCompile(`(\.tgz|\.tar\.gz)$`)
	zipRe = regexp.MustCompile(`(\.zip|\.egg|\.whl)$`)
)

// Run extracts package_path into a cleaned build_path: tarballs, zip files
// (including Python wheels/eggs, which are zip files), and directories
// (copied or hard-linked). Grounded on vee/packages/base.py's extract().
func (genericExtractStep) Run(ctx context.Context, phase Phase, s *State) error {
	if err := s.SetDefaultNames(true, true, false); err != nil {
		return err
	}
	if s.PackagePath() == "" {
		return nil
	}
	buildPath := s.BuildPath()
	if buildPath == "" {
		return fmt.Errorf("need build path for default extract")
	}

	packagePath := s.PackagePath()
	switch {
	case tgzRe.MatchString(packagePath):
		if err := cleanDir(buildPath); err != nil {
			return err
		}
		return extractTarGz(packagePath, buildPath)

	case zipRe.MatchString(packagePath):
		if err := cleanDir(buildPath); err != nil {
			return err
		}
		return extractZip(packagePath, buildPath)

	default:
		info, err := os.Stat(packagePath)
		if err != nil {
			return fmt.Errorf("stat package path %s: %w", packagePath, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("unknown package type %q", packagePath)
		}
		if err := os.RemoveAll(buildPath); err != nil {
			return err
		}
		if s.HardLink {
			return linkTree(packagePath, buildPath)
		}
		return copyTree(packagePath, buildPath)
	}
}

func cleanDir(path string) error {
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("clean build dir: %w", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create build dir: %w", err)
	}
	return nil
}

func extractTarGz(src, dest string) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open archive %s: %w", src, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("open gzip stream %s: %w", src, err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read tar entry in %s: %w", src, err)
		}
		target := filepath.Join(dest, hdr.Name)
		if !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) && target != filepath.Clean(dest) {
			return fmt.Errorf("tar entry %s escapes destination", hdr.Name)
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeSymlink:
			os.MkdirAll(filepath.Dir(target), 0o755)
			os.Symlink(hdr.Linkname, target)
		default:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(hdr.Mode)&0o777)
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return err
			}
			out.Close()
		}
	}
}

func extractZip(src, dest string) error {
	zr, err := zip.OpenReader(src)
	if err != nil {
		return fmt.Errorf("open zip %s: %w", src, err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		target := filepath.Join(dest, f.Name)
		if !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) && target != filepath.Clean(dest) {
			return fmt.Errorf("zip entry %s escapes destination", f.Name)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("open zip entry %s: %w", f.Name, err)
		}
		out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, f.Mode()&0o777|0o200)
		if err != nil {
			rc.Close()
			return err
		}
		_, err = io.Copy(out, rc)
		rc.Close()
		out.Close()
		if err != nil {
			return fmt.Errorf("extract zip entry %s: %w", f.Name, err)
		}
	}
	return nil
}

func copyTree(src, dest string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Name() == ".git" && info.IsDir() {
			return filepath.SkipDir
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if info.Mode()&os.ModeSymlink != 0 {
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		}
		in, err := os.Open(path)
		if err != nil {
			return err
		}
		defer in.Close()
		out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode())
		if err != nil {
			return err
		}
		defer out.Close()
		_, err = io.Copy(out, in)
		return err
	})
}

// linkTree hard-links src's tree into dest, used when HardLink is set
// (spec §3's hard_link requirement flag), grounded on the teacher's
// linktree helper referenced from vee/packages/base.py's extract().
func linkTree(src, dest string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Name() == ".git" && info.IsDir() {
			return filepath.SkipDir
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if info.Mode()&os.ModeSymlink != 0 {
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		}
		return os.Link(path, target)
	})
}
