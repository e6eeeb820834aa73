//go:build linux

package relocate

import (
	"context"
	"debug/elf"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/veepm/vee/internal/subproc"
)

// SetRPath rewrites a Linux ELF binary's or shared library's DT_RPATH or
// DT_RUNPATH dynamic-string-table entry in place to newPath, per spec
// §4.1: "rewrites embedded dynamic-library paths". Only one of
// DT_RPATH/DT_RUNPATH is patched (whichever the binary actually carries);
// binaries with neither are left untouched, since there is nothing to
// rewrite.
func SetRPath(path string, newPath string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	ef, err := elf.NewFile(f)
	if err != nil {
		return fmt.Errorf("parse ELF %s: %w", path, err)
	}

	dynTag, strTabOff, strTabSize, oldOffset, oldLen, err := findRPathDynEntry(ef)
	if err != nil {
		return err
	}
	if dynTag == 0 {
		return nil // no DT_RPATH/DT_RUNPATH present; nothing to do
	}
	_ = strTabSize

	buf := make([]byte, oldLen)
	if err := patchNullTerminated(buf, 0, oldLen, newPath); err != nil {
		return fmt.Errorf("rewrite rpath in %s: %w", path, err)
	}
	if _, err := f.WriteAt(buf, strTabOff+oldOffset); err != nil {
		return fmt.Errorf("write rpath in %s: %w", path, err)
	}
	return nil
}

// findRPathDynEntry locates the DT_RPATH or DT_RUNPATH entry's offset into
// the dynamic string table and the space available for its value (computed
// as the gap to the next string in the table, since the ELF format itself
// stores no explicit length for a dynamic string).
func findRPathDynEntry(ef *elf.File) (tag elf.DynTag, strTabOff int64, strTabSize int64, valOffset int64, valSpace int, err error) {
	dynSection := ef.Section(".dynamic")
	if dynSection == nil {
		return 0, 0, 0, 0, 0, nil
	}
	strTabSection := ef.Section(".dynstr")
	if strTabSection == nil {
		return 0, 0, 0, 0, 0, nil
	}
	strTabOff = int64(strTabSection.Offset)
	strTabSize = int64(strTabSection.Size)

	rpath, rpathErr := ef.DynString(elf.DT_RPATH)
	runpath, runpathErr := ef.DynString(elf.DT_RUNPATH)

	var value string
	switch {
	case runpathErr == nil && len(runpath) > 0:
		tag, value = elf.DT_RUNPATH, runpath[0]
	case rpathErr == nil && len(rpath) > 0:
		tag, value = elf.DT_RPATH, rpath[0]
	default:
		return 0, 0, 0, 0, 0, nil
	}

	data, err := strTabSection.Data()
	if err != nil {
		return 0, 0, 0, 0, 0, fmt.Errorf("read dynstr: %w", err)
	}
	idx := indexOfNullTerminated(data, value)
	if idx < 0 {
		return 0, 0, 0, 0, 0, fmt.Errorf("could not locate %q in dynstr table", value)
	}
	// Available space runs to the next NUL byte after the string itself.
	end := idx + len(value)
	for end < len(data) && data[end] != 0 {
		end++
	}
	return tag, strTabOff, strTabSize, int64(idx), end - idx + 1, nil
}

func indexOfNullTerminated(haystack []byte, needle string) int {
	n := len(needle)
	for i := 0; i+n <= len(haystack); i++ {
		if string(haystack[i:i+n]) == needle && (i+n == len(haystack) || haystack[i+n] == 0) {
			return i
		}
	}
	return -1
}

// SONAME returns the DT_SONAME dynamic entry of an ELF shared library, or
// "" if path has none (executables typically don't).
func SONAME(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()
	ef, err := elf.NewFile(f)
	if err != nil {
		return ""
	}
	names, err := ef.DynString(elf.DT_SONAME)
	if err != nil || len(names) == 0 {
		return ""
	}
	return names[0]
}

var lddResolvedRe = regexp.MustCompile(`^\t?(\S+) => (\S+)`)
var lddDirectRe = regexp.MustCompile(`^\t?(/\S+)\s+\(0x`)
var lddUnresolvedRe = regexp.MustCompile(`^\t?(\S+) => not found`)

// Dependencies runs ldd against path via internal/subproc and splits its
// output into resolved shared-library paths and the names of any it
// couldn't find, translating the teacher's findShlibDeps (which only
// handles the resolved case, since distri's /ro tree never has missing
// dependencies).
func Dependencies(ctx context.Context, path string) ([]Dependency, []string, error) {
	out, err := subproc.Output(ctx, []string{"ldd", path}, subproc.Options{})
	if err != nil {
		return nil, nil, fmt.Errorf("ldd %s: %w", path, err)
	}
	var deps []Dependency
	var unresolved []string
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if m := lddUnresolvedRe.FindStringSubmatch(line); m != nil {
			unresolved = append(unresolved, m[1])
			continue
		}
		var resolved string
		if m := lddResolvedRe.FindStringSubmatch(line); m != nil {
			resolved = m[2]
		} else if m := lddDirectRe.FindStringSubmatch(line); m != nil {
			resolved = m[1]
		} else {
			continue
		}
		real, err := filepath.EvalSymlinks(resolved)
		if err != nil {
			real = resolved
		}
		deps = append(deps, Dependency{Path: real, Basename: filepath.Base(resolved)})
	}
	return deps, unresolved, nil
}
