// Package platform decides which PyPI wheel tags this host can use, a leaf
// concern shared by the root package and the PyPI transport, kept in its
// own package so internal/transport doesn't need to import the root module
// (which itself imports internal/transport to assemble the pipeline
// registry).
package platform

import "strings"

// usablePythonTags are the wheel python-tags this system will install,
// mirroring "host's equivalent set" in spec §4.4 point 3. Grounded on the
// teacher's archs.go, which maps a fixed set of recognized identifiers the
// same way (there, build architectures; here, wheel tags).
var usablePythonTags = map[string]bool{
	"py2":     true,
	"py27":    true,
	"py3":     true,
	"py2.py3": true,
	"py38":    true,
	"py39":    true,
	"py310":   true,
	"py311":   true,
	"py312":   true,
}

var manylinuxTags = map[string]bool{
	"manylinux1_x86_64":     true,
	"manylinux2010_x86_64":  true,
	"manylinux2014_x86_64":  true,
	"manylinux_2_17_x86_64": true,
	"manylinux_2_28_x86_64": true,
}

// WheelMatches reports whether a wheel's platform-tag is installable on
// goos, per spec §4.4 point 3: "any", "macosx*" on Darwin, or
// "manylinux1_x86_64" (and its modern manylinux2010/2014/_2_* successors)
// on Linux amd64.
func WheelMatches(goos, platformTag string) bool {
	if platformTag == "any" {
		return true
	}
	switch goos {
	case "darwin":
		return strings.HasPrefix(platformTag, "macosx")
	case "linux":
		return manylinuxTags[platformTag]
	}
	return false
}

// UsablePythonTag reports whether a wheel's python-tag is acceptable.
func UsablePythonTag(tag string) bool { return usablePythonTags[tag] }
