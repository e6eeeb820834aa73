package vee

import (
	"reflect"
	"testing"
)

func TestRequirementJSONRoundTrip(t *testing.T) {
	req := Requirement{
		URL:             "pypi:flask",
		Name:            "flask",
		Revision:        ">=2.0,<3",
		Checksum:        "md5:deadbeef",
		ETag:            `"abc123"`,
		Config:          []string{"--with-extra"},
		Environ:         map[string]string{"PYTHONPATH": "./lib"},
		ForceFetch:      true,
		HardLink:        false,
		DeferSetupBuild: true,
		Relocate:        "lib,lib64",
	}

	encoded, err := req.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON: %v", err)
	}

	decoded, err := ParseRequirementJSON(encoded)
	if err != nil {
		t.Fatalf("ParseRequirementJSON: %v", err)
	}
	if !reflect.DeepEqual(decoded, req) {
		t.Fatalf("round trip mismatch:\n got  %+v\n want %+v", decoded, req)
	}
}

func TestRequirementStringIsNonEmpty(t *testing.T) {
	req := Requirement{URL: "pypi:flask"}
	if s := req.String(); s == "" {
		t.Fatal("expected non-empty String()")
	}
}
