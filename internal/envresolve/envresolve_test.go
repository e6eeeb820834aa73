package envresolve

import "testing"

func TestResolveSubstitutesAllForms(t *testing.T) {
	base := map[string]string{"PATH": "/usr/bin", "PYTHONPATH": "/old/path"}
	environ := map[string]string{
		"PATH":       "${VEE}/bin:$PATH",
		"PYTHONPATH": "./lib:%PYTHONPATH%",
		"SELF":       "prefix-@",
	}
	diff := Resolve(base, environ, "/home/vee")

	if got, want := diff["PATH"], "/home/vee/bin:/usr/bin"; got != want {
		t.Errorf("PATH = %q, want %q", got, want)
	}
	if got, want := diff["PYTHONPATH"], "./lib:/old/path"; got != want {
		t.Errorf("PYTHONPATH = %q, want %q", got, want)
	}
	if got, want := diff["SELF"], "prefix-"; got != want {
		t.Errorf("SELF = %q, want %q (no prior value to substitute for @)", got, want)
	}
}

func TestResolveDoesNotMutateBase(t *testing.T) {
	base := map[string]string{"PATH": "/usr/bin"}
	Resolve(base, map[string]string{"PATH": "$PATH:/extra"}, "/home/vee")
	if base["PATH"] != "/usr/bin" {
		t.Fatalf("base was mutated: %v", base)
	}
}

func TestDisplayElidesHomeRootAndPriorValue(t *testing.T) {
	base := map[string]string{"PATH": "/usr/bin"}
	diff := map[string]string{"PATH": "/home/vee/bin:/usr/bin"}
	display := Display(diff, base, "/home/vee")
	if got, want := display["PATH"], "$VEE/bin:@"; got != want {
		t.Errorf("display = %q, want %q", got, want)
	}
}

func TestAsSliceMergesBaseAndDiff(t *testing.T) {
	base := map[string]string{"A": "1", "B": "2"}
	diff := map[string]string{"B": "3"}
	slice := AsSlice(base, diff)
	seen := map[string]bool{}
	for _, kv := range slice {
		seen[kv] = true
	}
	if !seen["A=1"] || !seen["B=3"] {
		t.Fatalf("unexpected merged env: %v", slice)
	}
}
