package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/veepm/vee/internal/pipeline"
	"github.com/veepm/vee/internal/platform"
)

func TestWheelUsableMatchesPlatformTagsForGOOS(t *testing.T) {
	got := wheelUsable("widget-1.0.0-py3-none-manylinux2014_x86_64.whl")
	want := platform.WheelMatches(runtime.GOOS, "manylinux2014_x86_64")
	if got != want {
		t.Fatalf("got %v, want %v for GOOS=%s", got, want, runtime.GOOS)
	}
}

func TestWheelUsableRejectsWrongABI(t *testing.T) {
	if wheelUsable("widget-1.0.0-py3-cp311-manylinux2014_x86_64.whl") {
		t.Fatal("expected a non-none ABI tag to be rejected")
	}
}

func TestWheelUsableRejectsMalformedFilename(t *testing.T) {
	if wheelUsable("not-a-wheel.tar.gz") {
		t.Fatal("expected a non-wheel filename to be rejected")
	}
}

func TestPyPIFactoryMatchesPypiScheme(t *testing.T) {
	f := PyPIFactory{}
	s := &pipeline.State{URL: "pypi:flask"}
	if _, ok := f.Create(pipeline.PhaseInit, s); !ok {
		t.Fatal("expected pypi: URL to match at init")
	}
	if _, ok := f.Create(pipeline.PhaseInit, &pipeline.State{URL: "https://example.com/x.tar.gz"}); ok {
		t.Fatal("did not expect an http URL to match")
	}
}

func TestPypiInitLowercasesAndNormalizesURL(t *testing.T) {
	s := &pipeline.State{URL: "pypi+Flask"}
	if err := pypiInit(s); err != nil {
		t.Fatalf("pypiInit: %v", err)
	}
	if s.URL != "pypi:flask" {
		t.Fatalf("got %q, want pypi:flask", s.URL)
	}
	if s.TransportType != "pypi" {
		t.Fatalf("got TransportType %q, want pypi", s.TransportType)
	}
}

// TestPypiFetchPicksHighestUsableVersion runs pypiFetch against cached
// index metadata and a fake download server for two versions, one of which ships
// only a wheel with an unusable python tag, confirming the candidate
// sort/filter in pypiFetch picks the newest release with an installable
// artifact rather than simply the newest release.
func TestPypiFetchPicksHighestUsableVersion(t *testing.T) {
	var downloadURL string
	mux := http.NewServeMux()
	mux.HandleFunc("/pypi/widget/json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{
			"releases": {
				"1.0.0": [{"packagetype": "sdist", "filename": "widget-1.0.0.tar.gz", "url": %q, "md5_digest": "abc"}],
				"2.0.0": [{"packagetype": "bdist_wheel", "filename": "widget-2.0.0-cp99-cp99-linux_unknown.whl", "url": "http://unused/x", "md5_digest": "def"}]
			}
		}`, downloadURL)
	})
	mux.HandleFunc("/download", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("package bytes"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	downloadURL = srv.URL + "/download"

	home := t.TempDir()
	s := &pipeline.State{HomeRoot: home, URL: "pypi:widget"}

	// Point pypiMetaFor at our fake server by pre-seeding the meta.json
	// cache file it reads before making any HTTP call, avoiding the need
	// to override the package-level pypiURLPattern constant.
	cachePath := filepath.Join(home, "packages", "pypi", "widget", "meta.json")
	if err := os.MkdirAll(filepath.Dir(cachePath), 0o755); err != nil {
		t.Fatal(err)
	}
	metaJSON := fmt.Sprintf(`{"releases": {
		"1.0.0": [{"packagetype": "sdist", "filename": "widget-1.0.0.tar.gz", "url": %q, "md5_digest": "abc"}],
		"2.0.0": [{"packagetype": "bdist_wheel", "filename": "widget-2.0.0-cp99-cp99-linux_unknown.whl", "url": "http://unused/x", "md5_digest": "def"}]
	}}`, downloadURL)
	if err := os.WriteFile(cachePath, []byte(metaJSON), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := pypiFetch(context.Background(), s); err != nil {
		t.Fatalf("pypiFetch: %v", err)
	}
	if s.Revision != "1.0.0" {
		t.Fatalf("got revision %q, want 1.0.0 (only usable release)", s.Revision)
	}
	if s.Checksum != "md5:abc" {
		t.Fatalf("got checksum %q, want md5:abc", s.Checksum)
	}
	data, err := os.ReadFile(s.PackagePath())
	if err != nil {
		t.Fatalf("expected package to be downloaded: %v", err)
	}
	if string(data) != "package bytes" {
		t.Fatalf("got package contents %q", data)
	}
}
