package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"strings"

	"github.com/google/renameio"

	"github.com/veepm/vee/internal/platform"
	"github.com/veepm/vee/internal/pipeline"
	"github.com/veepm/vee/internal/semver"
)

const pypiURLPattern = "https://pypi.org/pypi/%s/json"

var pypiSchemeRe = regexp.MustCompile(`^pypi[:+]`)

// PyPIFactory produces the init and fetch Steps for any requirement whose
// URL is prefixed "pypi:" or "pypi+", translating
// original_source/vee/pipeline/pypi.py's PyPiTransport onto
// internal/semver for PEP-440 ordering and internal/platform for wheel-tag
// filtering.
type PyPIFactory struct{}

func (PyPIFactory) Priority() int { return 1000 }

func (PyPIFactory) Create(phase pipeline.Phase, s *pipeline.State) (pipeline.Step, bool) {
	if phase != pipeline.PhaseInit {
		return nil, false
	}
	if !pypiSchemeRe.MatchString(s.URL) {
		return nil, false
	}
	return pypiStep{}, true
}

type pypiStep struct{}

// GetNext self-chains init -> fetch, matching PyPiTransport.get_next.
func (pypiStep) GetNext(phase pipeline.Phase) pipeline.Step {
	if phase == pipeline.PhaseFetch {
		return pypiStep{}
	}
	return nil
}

func (pypiStep) Run(ctx context.Context, phase pipeline.Phase, s *pipeline.State) error {
	switch phase {
	case pipeline.PhaseInit:
		return pypiInit(s)
	case pipeline.PhaseFetch:
		return pypiFetch(ctx, s)
	default:
		return fmt.Errorf("pypi transport asked to run unexpected phase %q", phase)
	}
}

func pypiInit(s *pipeline.State) error {
	s.TransportType = "pypi"
	name := strings.ToLower(pypiSchemeRe.ReplaceAllString(s.URL, ""))
	s.URL = "pypi:" + name
	return nil
}

type pypiRelease struct {
	PackageType string `json:"packagetype"`
	Filename    string `json:"filename"`
	URL         string `json:"url"`
	MD5Digest   string `json:"md5_digest"`
}

type pypiMeta struct {
	Releases map[string][]pypiRelease `json:"releases"`
}

var wheelFilenameRe = regexp.MustCompile(`^(.+)-([^-]+)-([^-]+)-([^-]+)-([^-]+)\.whl$`)

type candidate struct {
	version semver.Version
	rank    int // 0 = sdist, 1 = bdist_wheel; higher preferred
	release pypiRelease
}

// pypiFetch resolves the best release satisfying s.Revision (treated as a
// version expression, per spec §4.4) and downloads it, translating
// PyPiTransport.fetch almost clause-for-clause: sdists always usable,
// wheels filtered by python/abi/platform tag, ties broken in favor of
// wheels over sdists and higher versions over lower ones.
func pypiFetch(ctx context.Context, s *pipeline.State) error {
	name := strings.TrimPrefix(s.URL, "pypi:")

	meta, err := pypiMetaFor(ctx, s.HomeRoot, name)
	if err != nil {
		return &transportFailure{url: s.URL, err: err}
	}

	var expr semver.VersionExpr
	hasExpr := s.Revision != ""
	if hasExpr {
		expr, err = semver.ParseExpr(s.Revision)
		if err != nil {
			return fmt.Errorf("parse revision expression %q: %w", s.Revision, err)
		}
	}

	var candidates []candidate
	for versionStr, releases := range meta.Releases {
		version, err := semver.Parse(versionStr)
		if err != nil {
			continue
		}
		if hasExpr && !expr.Eval(version) {
			continue
		}
		for _, release := range releases {
			switch release.PackageType {
			case "sdist":
				candidates = append(candidates, candidate{version: version, rank: 0, release: release})
			case "bdist_wheel":
				if wheelUsable(release.Filename) {
					candidates = append(candidates, candidate{version: version, rank: 1, release: release})
				}
			}
		}
	}
	if len(candidates) == 0 {
		return fmt.Errorf("no usable release of %s %s on the Python index", name, s.Revision)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if c := candidates[i].version.Compare(candidates[j].version); c != 0 {
			return c < 0
		}
		return candidates[i].rank < candidates[j].rank
	})
	best := candidates[len(candidates)-1]

	s.Revision = best.version.String()
	if best.release.MD5Digest != "" {
		s.Checksum = "md5:" + best.release.MD5Digest
	}
	s.PackageName = filepath.Join(name, filepath.Base(best.release.URL))
	s.TransportType = "pypi"

	if _, err := os.Stat(s.PackagePath()); err == nil {
		return nil
	}

	child := *s
	child.URL = best.release.URL
	return httpFetchStep{}.Run(ctx, pipeline.PhaseFetch, &child)
}

func wheelUsable(filename string) bool {
	m := wheelFilenameRe.FindStringSubmatch(filename)
	if m == nil {
		return false
	}
	pythonTag, abiTag, platformTag := m[3], m[4], m[5]
	if !platform.UsablePythonTag(pythonTag) {
		return false
	}
	if abiTag != "none" {
		return false
	}
	return platform.WheelMatches(runtime.GOOS, platformTag)
}

// pypiMetaFor returns the parsed PyPI JSON metadata for name, caching it at
// {home}/packages/pypi/{name}/meta.json (PyPiTransport._meta) and writing
// it atomically via renameio rather than the original's manual
// path+".tmp"/os.rename pair.
func pypiMetaFor(ctx context.Context, homeRoot, name string) (*pypiMeta, error) {
	path := filepath.Join(homeRoot, "packages", "pypi", name, "meta.json")

	if data, err := os.ReadFile(path); err == nil {
		var meta pypiMeta
		if err := json.Unmarshal(data, &meta); err == nil {
			return &meta, nil
		}
	}

	url := fmt.Sprintf(pypiURLPattern, name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: HTTP status %s", url, resp.Status)
	}

	var meta pypiMeta
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return nil, fmt.Errorf("decode PyPI metadata for %s: %w", name, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	pretty, err := json.MarshalIndent(meta, "", "    ")
	if err == nil {
		renameio.WriteFile(path, pretty, 0o644)
	}
	return &meta, nil
}
