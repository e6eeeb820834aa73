//go:build !linux && !darwin

package relocate

import (
	"context"
	"fmt"
)

// SetRPath is unimplemented on platforms other than Linux and Darwin: vee's
// install trees are only relocated on the two binary formats the spec
// names (ELF and Mach-O).
func SetRPath(path string, newPath string) error {
	return fmt.Errorf("relocate: unsupported platform")
}

// Dependencies is unimplemented on platforms other than Linux and Darwin.
func Dependencies(ctx context.Context, path string) ([]Dependency, []string, error) {
	return nil, nil, fmt.Errorf("relocate: unsupported platform")
}

// SONAME is unimplemented on platforms other than Linux and Darwin.
func SONAME(path string) string { return "" }
