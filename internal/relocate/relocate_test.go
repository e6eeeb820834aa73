package relocate

import "testing"

func TestPatchNullTerminatedFits(t *testing.T) {
	buf := []byte("/old/long/path\x00\x00\x00\x00")
	if err := patchNullTerminated(buf, 0, len(buf), "/new/path"); err != nil {
		t.Fatalf("patch: %v", err)
	}
	if got := cString(buf); got != "/new/path" {
		t.Fatalf("got %q, want /new/path", got)
	}
}

func TestPatchNullTerminatedTooLong(t *testing.T) {
	buf := []byte("/short\x00")
	err := patchNullTerminated(buf, 0, len(buf), "/a/much/longer/replacement/path")
	if err != ErrPathTooLong {
		t.Fatalf("expected ErrPathTooLong, got %v", err)
	}
}

func TestRPathForJoinsTokensByPlatformConvention(t *testing.T) {
	got := rpathFor("lib,lib64")
	if got == "" {
		t.Fatal("expected non-empty rpath")
	}
}
