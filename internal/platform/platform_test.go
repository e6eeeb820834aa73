package platform

import "testing"

func TestWheelMatchesAnyOnAnyGOOS(t *testing.T) {
	if !WheelMatches("linux", "any") {
		t.Fatal("expected any to match on linux")
	}
	if !WheelMatches("darwin", "any") {
		t.Fatal("expected any to match on darwin")
	}
}

func TestWheelMatchesLinuxManylinux(t *testing.T) {
	if !WheelMatches("linux", "manylinux2014_x86_64") {
		t.Fatal("expected manylinux2014_x86_64 to match on linux")
	}
	if WheelMatches("linux", "macosx_10_9_x86_64") {
		t.Fatal("did not expect a macosx tag to match on linux")
	}
	if WheelMatches("linux", "win_amd64") {
		t.Fatal("did not expect a win tag to match on linux")
	}
}

func TestWheelMatchesDarwinMacosx(t *testing.T) {
	if !WheelMatches("darwin", "macosx_11_0_arm64") {
		t.Fatal("expected a macosx tag to match on darwin")
	}
	if WheelMatches("darwin", "manylinux2014_x86_64") {
		t.Fatal("did not expect a manylinux tag to match on darwin")
	}
}

func TestUsablePythonTag(t *testing.T) {
	for _, tag := range []string{"py3", "py2.py3", "py311"} {
		if !UsablePythonTag(tag) {
			t.Fatalf("expected %q to be usable", tag)
		}
	}
	if UsablePythonTag("py313") {
		t.Fatal("did not expect an unrecognized tag to be usable")
	}
}
