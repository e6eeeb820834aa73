//go:build darwin

package relocate

import (
	"context"
	"debug/macho"
	"fmt"
	"os"
	"path/filepath"
)

// SetRPath rewrites a Mach-O binary's or dylib's first LC_RPATH load
// command (or, for a dylib's own identity, LC_ID_DYLIB) in place to
// newPath, translating the Linux ELF DT_RPATH/DT_RUNPATH rewrite to
// Darwin's load-command string tables, which follow the same fixed-size,
// NUL-padded-in-place constraint.
func SetRPath(path string, newPath string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	mf, err := macho.NewFile(f)
	if err != nil {
		return fmt.Errorf("parse Mach-O %s: %w", path, err)
	}

	for _, load := range mf.Loads {
		raw, ok := load.(interface{ Raw() []byte })
		if !ok {
			continue
		}
		data := raw.Raw()
		if len(data) < 8 {
			continue
		}
		cmd := mf.ByteOrder.Uint32(data[0:4])
		if macho.LoadCmd(cmd) != macho.LoadCmdRpath && macho.LoadCmd(cmd) != macho.LoadCmdDylib && macho.LoadCmd(cmd) != macho.LoadCmdIdDylib {
			continue
		}

		// The path string starts at the offset recorded in the command
		// (LC_RPATH/LC_DYLIB both store a 4-byte "offset of string, from
		// start of command" field right after the common header).
		strOffsetField := uint32(8)
		if int(strOffsetField)+4 > len(data) {
			continue
		}
		strOffset := mf.ByteOrder.Uint32(data[strOffsetField : strOffsetField+4])
		if int(strOffset) >= len(data) {
			continue
		}
		available := len(data) - int(strOffset)
		current := cString(data[strOffset:])
		if current == "" {
			continue
		}
		patched := make([]byte, available)
		if err := patchNullTerminated(patched, 0, available, newPath); err != nil {
			return fmt.Errorf("rewrite rpath in %s: %w", path, err)
		}

		// Find the load command's file offset so we can patch it on disk.
		cmdFileOffset, ok := loadCommandFileOffset(mf, load)
		if !ok {
			continue
		}
		if _, err := f.WriteAt(patched, cmdFileOffset+int64(strOffset)); err != nil {
			return fmt.Errorf("write rpath in %s: %w", path, err)
		}
		return nil
	}
	return nil // no rewritable load command present
}

// loadCommandFileOffset recovers the on-disk offset of a parsed load
// command by re-walking the Mach-O header and summing command sizes,
// since debug/macho does not expose this directly.
func loadCommandFileOffset(mf *macho.File, target macho.Load) (int64, bool) {
	offset := int64(32) // sizeof(mach_header_64); 64-bit is assumed for vee's supported hosts
	if mf.Magic == macho.Magic32 {
		offset = 28
	}
	for _, l := range mf.Loads {
		raw, ok := l.(interface{ Raw() []byte })
		if !ok {
			return 0, false
		}
		size := int64(len(raw.Raw()))
		if l == target {
			return offset, true
		}
		offset += size
	}
	return 0, false
}

// SONAME returns the install name recorded in a dylib's own LC_ID_DYLIB
// load command (the Mach-O analogue of an ELF DT_SONAME entry), or "" for
// an executable, which carries no LC_ID_DYLIB.
func SONAME(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()
	mf, err := macho.NewFile(f)
	if err != nil {
		return ""
	}
	for _, l := range mf.Loads {
		if d, ok := l.(*macho.Dylib); ok && d.Cmd == macho.LoadCmdIdDylib {
			return filepath.Base(d.Name)
		}
	}
	return ""
}

// Dependencies walks a Mach-O binary's or dylib's LC_LOAD_DYLIB/
// LC_LOAD_WEAK_DYLIB load commands directly via debug/macho rather than
// shelling out to otool -L, since the parsed load-command list already
// gives structured dylib names. Darwin's dynamic linker resolves most
// dependencies lazily against @rpath at load time, so unlike ldd on Linux
// there is no static "not found" signal available here; Dependencies
// always reports its findings as resolved.
func Dependencies(ctx context.Context, path string) ([]Dependency, []string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	mf, err := macho.NewFile(f)
	if err != nil {
		return nil, nil, fmt.Errorf("parse Mach-O %s: %w", path, err)
	}
	var deps []Dependency
	for _, l := range mf.Loads {
		d, ok := l.(*macho.Dylib)
		if !ok || d.Cmd == macho.LoadCmdIdDylib {
			continue
		}
		resolved := d.Name
		if filepath.IsAbs(resolved) {
			if real, err := filepath.EvalSymlinks(resolved); err == nil {
				resolved = real
			}
		}
		deps = append(deps, Dependency{Path: resolved, Basename: filepath.Base(d.Name)})
	}
	return deps, nil, nil
}
