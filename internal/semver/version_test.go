package semver

import "testing"

func mustParse(t *testing.T, s string) Version {
	t.Helper()
	v, err := Parse(s)
	if err != nil {
		t.Fatalf("Parse(%q): %v", s, err)
	}
	return v
}

// TestOrdering matches the Design Notes fixture: release ordering must
// respect PEP-440-style pre-release semantics.
func TestOrdering(t *testing.T) {
	ordered := []string{"1.0a1", "1.0", "1.0.post1", "1.1"}
	for i := 0; i < len(ordered)-1; i++ {
		a := mustParse(t, ordered[i])
		b := mustParse(t, ordered[i+1])
		if !a.Less(b) {
			t.Errorf("expected %s < %s", a, b)
		}
		if b.Less(a) {
			t.Errorf("expected !(%s < %s)", b, a)
		}
	}
}

func TestCompareEqual(t *testing.T) {
	a := mustParse(t, "2.25.1")
	b := mustParse(t, "2.25.1")
	if a.Compare(b) != 0 {
		t.Errorf("expected %s == %s", a, b)
	}
}

func TestPreReleaseKinds(t *testing.T) {
	alpha := mustParse(t, "1.0a1")
	beta := mustParse(t, "1.0b1")
	rc := mustParse(t, "1.0rc1")
	final := mustParse(t, "1.0")
	for _, pair := range [][2]Version{{alpha, beta}, {beta, rc}, {rc, final}} {
		if !pair[0].Less(pair[1]) {
			t.Errorf("expected %s < %s", pair[0], pair[1])
		}
	}
}

func TestExprEval(t *testing.T) {
	expr, err := ParseExpr(">=2.20,<3")
	if err != nil {
		t.Fatalf("ParseExpr: %v", err)
	}
	cases := map[string]bool{
		"2.19.0": false,
		"2.25.1": true,
		"3.0.0a1": false,
	}
	for raw, want := range cases {
		v := mustParse(t, raw)
		if got := expr.Eval(v); got != want {
			t.Errorf("Eval(%s) = %v, want %v", raw, got, want)
		}
	}
}

func TestExprEvalOrdering(t *testing.T) {
	expr, err := ParseExpr(">=2.20,<3")
	if err != nil {
		t.Fatalf("ParseExpr: %v", err)
	}
	releases := []string{"2.19.0", "2.25.1", "3.0.0a1"}
	var matching []Version
	for _, r := range releases {
		v := mustParse(t, r)
		if expr.Eval(v) {
			matching = append(matching, v)
		}
	}
	if len(matching) != 1 || matching[0].String() != "2.25.1" {
		t.Fatalf("expected exactly 2.25.1 to match, got %v", matching)
	}
}
