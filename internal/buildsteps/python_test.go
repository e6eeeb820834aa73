package buildsteps

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/veepm/vee/internal/pipeline"
)

func TestInspectParsesEggInfoRequires(t *testing.T) {
	eggPath := filepath.Join(t.TempDir(), "widget.egg-info")
	if err := os.MkdirAll(eggPath, 0o755); err != nil {
		t.Fatal(err)
	}
	requires := "click>=7.0\nrequests==2.0\n\n[extras]\npytest\n"
	if err := os.WriteFile(filepath.Join(eggPath, "requires.txt"), []byte(requires), 0o644); err != nil {
		t.Fatal(err)
	}

	p := &pythonStep{eggPath: eggPath}
	s := &pipeline.State{}
	if err := p.inspect(context.Background(), s); err != nil {
		t.Fatalf("inspect: %v", err)
	}

	want := map[string]bool{"click": true, "requests": true}
	if len(s.Dependencies) != 2 {
		t.Fatalf("got %d dependencies, want 2: %+v", len(s.Dependencies), s.Dependencies)
	}
	for _, d := range s.Dependencies {
		if !want[d.Name] {
			t.Fatalf("unexpected dependency %q (extras section should have been excluded)", d.Name)
		}
		if d.URL != "pypi:"+d.Name {
			t.Fatalf("got URL %q, want pypi:%s", d.URL, d.Name)
		}
	}
}

func TestInspectParsesDistInfoMetadataRequiresDist(t *testing.T) {
	distInfo := filepath.Join(t.TempDir(), "widget-1.0.dist-info")
	if err := os.MkdirAll(distInfo, 0o755); err != nil {
		t.Fatal(err)
	}
	metadata := "Metadata-Version: 2.1\n" +
		"Name: widget\n" +
		"Requires-Dist: click (>=7.0)\n" +
		"Requires-Dist: pytest ; extra == 'test'\n" +
		"\n" +
		"A long description that should not be parsed.\n"
	if err := os.WriteFile(filepath.Join(distInfo, "METADATA"), []byte(metadata), 0o644); err != nil {
		t.Fatal(err)
	}

	p := &pythonStep{distInfoDir: distInfo}
	s := &pipeline.State{}
	if err := p.inspect(context.Background(), s); err != nil {
		t.Fatalf("inspect: %v", err)
	}

	if len(s.Dependencies) != 1 {
		t.Fatalf("got %d dependencies, want 1 (extras-gated Requires-Dist excluded): %+v", len(s.Dependencies), s.Dependencies)
	}
	if s.Dependencies[0].Name != "click" {
		t.Fatalf("got dependency %q, want click", s.Dependencies[0].Name)
	}
}

func TestFindFirstGlobDirMatchesWildcard(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "widget.egg-info")
	if err := os.MkdirAll(target, 0o755); err != nil {
		t.Fatal(err)
	}
	got := findFirstGlobDir(root, "*.egg-info")
	if got != target {
		t.Fatalf("got %q, want %q", got, target)
	}
}

func TestJoinEnvPathPrependsHead(t *testing.T) {
	if got := joinEnvPath("./lib", "@"); got != "./lib"+string(os.PathListSeparator)+"@" {
		t.Fatalf("got %q", got)
	}
}
