// Package transport implements the fetch-phase Steps for each supported
// requirement scheme: plain HTTP(S), git, and the Python package index
// (spec §4.4).
package transport

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio"
	"github.com/mattn/go-isatty"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/veepm/vee/internal/pipeline"
)

// httpClient mirrors the teacher's internal/repo/reader.go: disable
// transport-level compression so the explicit Accept-Encoding/gzip.Reader
// handling below stays in control of decoding, and keep a modest
// per-host idle pool for repeated fetches against the same index.
var httpClient = &http.Client{Transport: &http.Transport{
	MaxIdleConnsPerHost: 10,
	DisableCompression:  true,
}}

// HTTPFactory produces the fetch Step for any requirement whose URL uses
// the plain http/https scheme (i.e. wasn't claimed by a more specific
// transport such as git or pypi).
type HTTPFactory struct{}

func (HTTPFactory) Priority() int { return 10 }

func (HTTPFactory) Create(phase pipeline.Phase, s *pipeline.State) (pipeline.Step, bool) {
	if phase != pipeline.PhaseFetch {
		return nil, false
	}
	if !strings.HasPrefix(s.URL, "http://") && !strings.HasPrefix(s.URL, "https://") {
		return nil, false
	}
	return httpFetchStep{}, true
}

type httpFetchStep struct{}

func (httpFetchStep) GetNext(phase pipeline.Phase) pipeline.Step { return nil }

// Run fetches s.URL into the package cache, honoring If-Modified-Since via
// the cached file's mtime and ETag/s.ETag, transparently decoding a gzip
// response body, and writing the result atomically via
// github.com/google/renameio -- translating the teacher's
// closeFuncReadCloser tee-to-cache-file pattern from a streaming reader
// into an atomic rename once the whole body is fetched, since the package
// cache here is addressed by name rather than streamed straight into a
// consumer.
func (httpFetchStep) Run(ctx context.Context, phase pipeline.Phase, s *pipeline.State) error {
	s.TransportType = "http"
	if err := s.SetDefaultNames(true, false, false); err != nil {
		return err
	}
	dest := s.PackagePath()
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return fmt.Errorf("build request for %s: %w", s.URL, err)
	}
	if !s.ForceFetch {
		if st, err := os.Stat(dest); err == nil {
			req.Header.Set("If-Modified-Since", st.ModTime().UTC().Format(http.TimeFormat))
		}
		if s.ETag != "" {
			req.Header.Set("If-None-Match", s.ETag)
		}
	}
	req.Header.Set("Accept-Encoding", "gzip")

	resp, err := httpClient.Do(req)
	if err != nil {
		return &transportFailure{url: s.URL, err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		return &transportFailure{url: s.URL, err: fmt.Errorf("HTTP status %s", resp.Status)}
	}

	var body io.Reader = resp.Body
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return &transportFailure{url: s.URL, err: err}
		}
		defer gz.Close()
		body = gz
	}

	length := resp.ContentLength
	if length > 0 && isatty.IsTerminal(os.Stderr.Fd()) {
		progress := mpb.New(mpb.WithOutput(os.Stderr))
		bar := progress.New(length,
			mpb.BarStyle().Rbound("|"),
			mpb.PrependDecorators(decor.Name(filepath.Base(s.URL))),
			mpb.AppendDecorators(decor.CountersKibiByte("% .1f / % .1f")),
		)
		body = bar.ProxyReader(body)
		defer progress.Wait()
	}

	pending, err := renameio.TempFile("", dest)
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", dest, err)
	}
	defer pending.Cleanup()

	if _, err := io.Copy(pending, body); err != nil {
		return &transportFailure{url: s.URL, err: err}
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("commit %s: %w", dest, err)
	}

	if etag := resp.Header.Get("ETag"); etag != "" {
		s.ETag = etag
	}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if mtime, err := time.Parse(http.TimeFormat, lm); err == nil {
			os.Chtimes(dest, mtime, mtime)
		}
	}
	return nil
}

type transportFailure struct {
	url string
	err error
}

func (e *transportFailure) Error() string { return fmt.Sprintf("fetch %s: %v", e.url, e.err) }
func (e *transportFailure) Unwrap() error { return e.err }
