// Package semver implements PEP-440-flavored version parsing, ordering and
// constraint evaluation for the Python index transport (spec §4.4, §9).
//
// Ordering follows the Design Notes fixture: 1.0a1 < 1.0 < 1.0.post1 < 1.1.
// The numeric release segment is compared with github.com/hashicorp/go-version
// (already used by replicate-cog and openshift-ci-tools for this kind of
// comparison); the pre-release/post-release suffix, which that library
// doesn't model the way PEP 440 does, is layered on top by hand, grounded on
// the ordering rules PEP 440 itself defines.
package semver

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	hcversion "github.com/hashicorp/go-version"
)

// Version is a parsed release version, e.g. "2.25.1", "1.0a1", "3.0.0a1",
// "1.0.post1".
type Version struct {
	raw     string
	release *hcversion.Version // numeric release segment, e.g. "2.25.1"
	preKind string             // "a", "b", "rc", or "" if none
	preNum  int
	isPost  bool
	postNum int
}

var preReleaseRe = regexp.MustCompile(`^(.*?)(a|b|rc)(\d*)$`)
var postReleaseRe = regexp.MustCompile(`^(.*?)\.?post(\d*)$`)

// Parse parses a version string into a Version. The release segment left
// after stripping any pre/post-release suffix is parsed with
// hashicorp/go-version; a segment it rejects is returned as an error.
func Parse(s string) (Version, error) {
	v := Version{raw: s}
	rest := s

	if m := postReleaseRe.FindStringSubmatch(rest); m != nil {
		v.isPost = true
		if m[2] != "" {
			n, err := strconv.Atoi(m[2])
			if err != nil {
				return Version{}, fmt.Errorf("parse post-release number in %q: %w", s, err)
			}
			v.postNum = n
		}
		rest = m[1]
	}

	if m := preReleaseRe.FindStringSubmatch(rest); m != nil {
		v.preKind = m[2]
		if m[3] != "" {
			n, err := strconv.Atoi(m[3])
			if err != nil {
				return Version{}, fmt.Errorf("parse pre-release number in %q: %w", s, err)
			}
			v.preNum = n
		}
		rest = m[1]
	}

	rest = strings.TrimSuffix(rest, ".")
	if rest == "" {
		rest = "0"
	}
	release, err := hcversion.NewVersion(rest)
	if err != nil {
		return Version{}, fmt.Errorf("parse release segment %q of %q: %w", rest, s, err)
	}
	v.release = release
	return v, nil
}

func (v Version) String() string { return v.raw }

// preRank orders the "phase" of a version for comparison purposes: a
// pre-release sorts before the final release, which sorts before a
// post-release.
func (v Version) preRank() int {
	switch {
	case v.preKind != "":
		switch v.preKind {
		case "a":
			return 0
		case "b":
			return 1
		case "rc":
			return 2
		}
	case v.isPost:
		return 4
	}
	return 3 // final release
}

// Compare returns -1, 0, or 1 as v is less than, equal to, or greater than
// other.
func (v Version) Compare(other Version) int {
	if c := v.release.Compare(other.release); c != 0 {
		return c
	}
	if v.preRank() != other.preRank() {
		if v.preRank() < other.preRank() {
			return -1
		}
		return 1
	}
	switch v.preRank() {
	case 0, 1, 2: // pre-release: compare numbers
		if v.preNum != other.preNum {
			if v.preNum < other.preNum {
				return -1
			}
			return 1
		}
	case 4: // post-release
		if v.postNum != other.postNum {
			if v.postNum < other.postNum {
				return -1
			}
			return 1
		}
	}
	return 0
}

func (v Version) Less(other Version) bool { return v.Compare(other) < 0 }

// constraint is one comma-separated clause of a VersionExpr, e.g. ">=2.20".
type constraint struct {
	op  string
	val Version
}

// VersionExpr is a comma-separated list of constraints, all of which must
// hold (spec §4.4: "treat it as a version expression; filter releases whose
// version satisfies it").
type VersionExpr struct {
	raw         string
	constraints []constraint
}

var constraintRe = regexp.MustCompile(`^(==|!=|<=|>=|<|>)\s*(.+)$`)

// ParseExpr parses a comma-separated version expression, e.g. ">=2.20,<3".
func ParseExpr(s string) (VersionExpr, error) {
	expr := VersionExpr{raw: s}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		m := constraintRe.FindStringSubmatch(part)
		op, valStr := "==", part
		if m != nil {
			op, valStr = m[1], m[2]
		}
		val, err := Parse(strings.TrimSpace(valStr))
		if err != nil {
			return VersionExpr{}, fmt.Errorf("parse version expression %q: %w", s, err)
		}
		expr.constraints = append(expr.constraints, constraint{op: op, val: val})
	}
	return expr, nil
}

func (e VersionExpr) String() string { return e.raw }

// Eval reports whether v satisfies every constraint in the expression.
func (e VersionExpr) Eval(v Version) bool {
	for _, c := range e.constraints {
		cmp := v.Compare(c.val)
		var ok bool
		switch c.op {
		case "==":
			ok = cmp == 0
		case "!=":
			ok = cmp != 0
		case "<":
			// A pre-release of the bound's own release (3.0.0a1 against
			// "<3") does not satisfy it unless the bound is a pre-release.
			ok = cmp < 0 && !(v.preKind != "" && c.val.preKind == "" && v.release.Compare(c.val.release) == 0)
		case "<=":
			ok = cmp <= 0
		case ">":
			ok = cmp > 0
		case ">=":
			ok = cmp >= 0
		}
		if !ok {
			return false
		}
	}
	return true
}
