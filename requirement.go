package vee

import (
	"encoding/json"
	"fmt"
)

// URL is the scheme-prefixed locator for a package, e.g. "git+https://...",
// "pypi:requests", or a bare path/http(s) URL handled by the generic
// transport. Wrapped in a distinct type per the source's string-typed
// identity fields, to keep url/name/revision/checksum from being swapped
// at a call site.
type URL string

// Name is a package's user-facing identity, e.g. "requests". Distinct from
// PackageName (the cache-relative identity) and InstallName.
type Name string

// Revision is a version tag, branch, commit prefix, or version expression
// (e.g. ">=2.20,<3" for PyPI). Its meaning is transport-dependent.
type Revision string

// Checksum is "algo:hex", e.g. "md5:deadbeef...".
type Checksum string

// Requirement is an immutable, user-visible description of a package to
// install. See spec §3.
type Requirement struct {
	URL      URL
	Name     Name
	Revision Revision
	Checksum Checksum
	ETag     string

	Config  []string          // pass-through build flags, in order
	Environ map[string]string // build-time variable overrides

	ForceFetch      bool
	HardLink        bool
	DeferSetupBuild bool
	Relocate        string // comma-list of relocation specs, or empty
}

// requirementJSON mirrors Requirement for JSON (de)serialization; the
// abstract_requirement and concrete_requirement catalog columns store this
// encoding (spec §3: "abstract requirement (opaque string)").
type requirementJSON struct {
	URL             string            `json:"url"`
	Name            string            `json:"name,omitempty"`
	Revision        string            `json:"revision,omitempty"`
	Checksum        string            `json:"checksum,omitempty"`
	ETag            string            `json:"etag,omitempty"`
	Config          []string          `json:"config,omitempty"`
	Environ         map[string]string `json:"environ,omitempty"`
	ForceFetch      bool              `json:"force_fetch,omitempty"`
	HardLink        bool              `json:"hard_link,omitempty"`
	DeferSetupBuild bool              `json:"defer_setup_build,omitempty"`
	Relocate        string            `json:"relocate,omitempty"`
}

// ToJSON serializes the Requirement to its abstract form.
func (r Requirement) ToJSON() (string, error) {
	b, err := json.Marshal(requirementJSON{
		URL:             string(r.URL),
		Name:            string(r.Name),
		Revision:        string(r.Revision),
		Checksum:        string(r.Checksum),
		ETag:            r.ETag,
		Config:          r.Config,
		Environ:         r.Environ,
		ForceFetch:      r.ForceFetch,
		HardLink:        r.HardLink,
		DeferSetupBuild: r.DeferSetupBuild,
		Relocate:        r.Relocate,
	})
	if err != nil {
		return "", fmt.Errorf("serialize requirement: %w", err)
	}
	return string(b), nil
}

// ParseRequirementJSON is the inverse of ToJSON; see spec §8 round-trip
// property ("serialized to its abstract form and re-parsed yields an
// identical Requirement modulo whitespace").
func ParseRequirementJSON(s string) (Requirement, error) {
	var rj requirementJSON
	if err := json.Unmarshal([]byte(s), &rj); err != nil {
		return Requirement{}, fmt.Errorf("parse requirement: %w", err)
	}
	return Requirement{
		URL:             URL(rj.URL),
		Name:            Name(rj.Name),
		Revision:        Revision(rj.Revision),
		Checksum:        Checksum(rj.Checksum),
		ETag:            rj.ETag,
		Config:          rj.Config,
		Environ:         rj.Environ,
		ForceFetch:      rj.ForceFetch,
		HardLink:        rj.HardLink,
		DeferSetupBuild: rj.DeferSetupBuild,
		Relocate:        rj.Relocate,
	}, nil
}

func (r Requirement) String() string {
	s, err := r.ToJSON()
	if err != nil {
		return string(r.URL)
	}
	return s
}
