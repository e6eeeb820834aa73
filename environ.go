package vee

import "github.com/veepm/vee/internal/envresolve"

// ResolveEnviron implements the Environment Resolver (spec §4.2): given a
// base environment and a package's declared environ overrides, it returns a
// diff map with every placeholder ("@", "$VAR", "${VAR}", "%VAR%")
// substituted. It never mutates base. The injected VEE sentinel resolves to
// homeRoot.
func ResolveEnviron(base map[string]string, environ map[string]string, homeRoot string) map[string]string {
	return envresolve.Resolve(base, environ, homeRoot)
}

// DisplayEnviron elides secrets/verbosity back to their symbolic form for
// logging: homeRoot becomes "$VEE", and any value previously held by the
// same key in base is elided back to "@" (spec §4.2 "Logging elides R back
// to $VEE and the prior variable value back to @ for display").
func DisplayEnviron(diff map[string]string, base map[string]string, homeRoot string) map[string]string {
	return envresolve.Display(diff, base, homeRoot)
}
