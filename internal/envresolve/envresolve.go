// Package envresolve implements the Environment Resolver (spec §4.2): "@",
// "$VAR", "${VAR}", and "%VAR%" placeholder substitution against a base
// environment plus the injected VEE sentinel.
//
// It lives under internal/ (rather than directly in the root package, as
// the surface wrapper in environ.go used to be) so that internal/buildsteps
// can resolve a step's declared environ without importing the root module,
// which itself imports internal/buildsteps to assemble the pipeline
// registry.
package envresolve

import (
	"regexp"
	"strings"
)

// substitutionRe matches the four placeholder forms the resolver supports:
// "${NAME}", "$NAME", "%NAME%", and the bare literal "@". Grounded on
// vee/packages/base.py's _resolve_environ regex.
var substitutionRe = regexp.MustCompile(`\$\{(\w+)\}|\$(\w+)|%(\w+)%|(@)`)

// Resolve implements the Environment Resolver: given a base environment and
// a package's declared environ overrides, it returns a diff map with every
// placeholder substituted. It never mutates base.
func Resolve(base map[string]string, environ map[string]string, homeRoot string) map[string]string {
	source := make(map[string]string, len(base)+1)
	for k, v := range base {
		source[k] = v
	}
	source["VEE"] = homeRoot // injected binding, always available

	diff := make(map[string]string, len(environ))
	for k, v := range environ {
		diff[k] = substitute(v, source, k)
	}
	return diff
}

func substitute(value string, source map[string]string, selfKey string) string {
	return substitutionRe.ReplaceAllStringFunc(value, func(match string) string {
		switch {
		case strings.HasPrefix(match, "${"):
			return source[match[2:len(match)-1]]
		case strings.HasPrefix(match, "$"):
			return source[match[1:]]
		case strings.HasPrefix(match, "%"):
			return source[match[1:len(match)-1]]
		case match == "@":
			return source[selfKey] // prior value of the variable being set
		}
		return ""
	})
}

// Display elides secrets/verbosity back to their symbolic form for logging:
// homeRoot becomes "$VEE", and any value previously held by the same key in
// base is elided back to "@" (spec §4.2).
func Display(diff map[string]string, base map[string]string, homeRoot string) map[string]string {
	display := make(map[string]string, len(diff))
	for k, v := range diff {
		if old, ok := base[k]; ok && old != "" {
			v = strings.ReplaceAll(v, old, "@")
		}
		v = strings.ReplaceAll(v, homeRoot, "$VEE")
		display[k] = v
	}
	return display
}

// AsSlice merges diff on top of base and returns the result in "K=V" form
// suitable for exec.Cmd.Env.
func AsSlice(base map[string]string, diff map[string]string) []string {
	merged := make(map[string]string, len(base)+len(diff))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range diff {
		merged[k] = v
	}
	out := make([]string, 0, len(merged))
	for k, v := range merged {
		out = append(out, k+"="+v)
	}
	return out
}
