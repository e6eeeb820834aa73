package relocate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Record is one relocation performed (or library dependency discovered)
// under an install tree, suitable for persisting into the catalog's
// shared_libraries table. SONAME and Unresolved describe the binary as a
// whole (spec §4.7) and are repeated on every Record sharing a BinaryPath,
// so callers that key off BinaryPath only need to read them once.
type Record struct {
	BinaryPath  string
	LibraryPath string
	RPath       string
	SONAME      string
	Unresolved  []string
}

// Tree walks installRoot looking for ELF/Mach-O executables and shared
// libraries, rewrites each one's rpath to the value rpathFor composes from
// relocateSpec (the package's Relocate field, a comma-list of library
// directories such as "lib,lib64", giving "$ORIGIN/lib:$ORIGIN/lib64" on
// Linux or "@loader_path/lib:@loader_path/lib64" on Darwin), and returns one Record per resolved
// dependency discovered (ldd on Linux, a native load-command walk on
// Darwin), regardless of whether the rewrite actually changed anything (a
// binary with no rpath to rewrite still documents what it links against).
// A binary with no resolved dependencies but a SONAME or unresolved
// dependency of its own still produces a single Record so that metadata
// isn't lost.
func Tree(ctx context.Context, installRoot string, relocateSpec string) ([]Record, error) {
	if relocateSpec == "" {
		return nil, nil
	}
	newRPath := rpathFor(relocateSpec)

	var records []Record
	err := filepath.Walk(installRoot, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() || info.Mode()&os.ModeSymlink != 0 {
			return nil
		}
		if !looksLikeBinary(path, info) {
			return nil
		}

		if err := SetRPath(path, newRPath); err != nil && !errors.Is(err, ErrPathTooLong) {
			// Most files under an install tree are plain data, not linked
			// objects; debug/elf and debug/macho reject those outright, so
			// a parse failure here is expected and not a real error.
			return nil
		}

		soname := SONAME(path)
		deps, unresolved, err := Dependencies(ctx, path)
		if err != nil {
			return nil
		}
		if len(deps) == 0 {
			if soname == "" && len(unresolved) == 0 {
				return nil
			}
			records = append(records, Record{BinaryPath: path, RPath: newRPath, SONAME: soname, Unresolved: unresolved})
			return nil
		}
		for _, dep := range deps {
			records = append(records, Record{BinaryPath: path, LibraryPath: dep.Path, RPath: newRPath, SONAME: soname, Unresolved: unresolved})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk install tree %s: %w", installRoot, err)
	}
	return records, nil
}

// rpathFor turns a comma-list of relative library directories (e.g.
// "lib,lib64") into a platform-appropriate rpath expression using the
// dynamic-loader's "relative to me" token: $ORIGIN on Linux, @loader_path
// on Darwin.
func rpathFor(spec string) string {
	token := "$ORIGIN"
	if runtime.GOOS == "darwin" {
		token = "@loader_path"
	}
	dirs := strings.Split(spec, ",")
	parts := make([]string, 0, len(dirs))
	for _, d := range dirs {
		d = strings.TrimSpace(d)
		if d == "" {
			continue
		}
		parts = append(parts, token+"/"+d)
	}
	sep := ":"
	return strings.Join(parts, sep)
}

func looksLikeBinary(path string, info os.FileInfo) bool {
	if info.Mode()&0o111 != 0 {
		return true
	}
	ext := filepath.Ext(path)
	return ext == ".so" || ext == ".dylib" || strings.Contains(filepath.Base(path), ".so.")
}
