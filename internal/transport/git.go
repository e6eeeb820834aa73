package transport

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport/http"

	"github.com/veepm/vee/internal/pipeline"
)

var gitSchemeRe = regexp.MustCompile(`^git[:+]`)

// NormalizeGitURL strips a leading "git:" or "git+" prefix (kept in the
// requirement URL itself so SetDefaultNames's package-name derivation can
// distinguish git packages from plain HTTP ones) and returns the underlying
// remote URL, mirroring vee/git.py's normalize_git_url.
func NormalizeGitURL(url string) string { return gitSchemeRe.ReplaceAllString(url, "") }

// GitFactory produces the init and fetch Steps for any requirement whose
// URL is prefixed "git:" or "git+", translating vee/pipeline/git.py's
// GitTransport (factory_priority 1000, matching "^git[:+]" at init and
// self-chaining from init through fetch) onto go-git/go-git/v5, since the
// teacher has no Git dependency of its own.
type GitFactory struct{}

func (GitFactory) Priority() int { return 1000 }

func (GitFactory) Create(phase pipeline.Phase, s *pipeline.State) (pipeline.Step, bool) {
	if phase != pipeline.PhaseInit {
		return nil, false
	}
	if !gitSchemeRe.MatchString(s.URL) {
		return nil, false
	}
	return gitStep{}, true
}

type gitStep struct{}

// GetNext self-chains init -> fetch, matching GitTransport.get_next.
func (gitStep) GetNext(phase pipeline.Phase) pipeline.Step {
	if phase == pipeline.PhaseFetch {
		return gitStep{}
	}
	return nil
}

func (gitStep) Run(ctx context.Context, phase pipeline.Phase, s *pipeline.State) error {
	switch phase {
	case pipeline.PhaseInit:
		return gitInit(s)
	case pipeline.PhaseFetch:
		return gitFetch(ctx, s)
	default:
		return fmt.Errorf("git transport asked to run unexpected phase %q", phase)
	}
}

func gitInit(s *pipeline.State) error {
	s.TransportType = "git"
	s.URL = "git+" + NormalizeGitURL(s.URL)
	return nil
}

// gitFetch clones (if needed) and checks out s.Revision (defaulting to
// HEAD) into the package cache, then bakes the resolved commit's short
// hash back into s.Revision -- translating GitTransport.fetch's
// repo.clone_if_not_exists()/repo.checkout(rev, fetch=True)/pkg.revision =
// repo.head[:8].
func gitFetch(ctx context.Context, s *pipeline.State) error {
	if err := s.SetDefaultNames(true, false, false); err != nil {
		return err
	}
	remote := NormalizeGitURL(s.URL)
	dest := s.PackagePath()

	repo, err := git.PlainOpen(dest)
	if err == git.ErrRepositoryNotExists {
		repo, err = git.PlainCloneContext(ctx, dest, false, &git.CloneOptions{
			URL:  remote,
			Tags: git.AllTags,
			Auth: gitAuth(remote),
		})
	}
	if err != nil {
		return &transportFailure{url: s.URL, err: err}
	}

	wt, err := repo.Worktree()
	if err != nil {
		return &transportFailure{url: s.URL, err: err}
	}

	remoteObj, err := repo.Remote("origin")
	if err == nil {
		if fetchErr := remoteObj.FetchContext(ctx, &git.FetchOptions{
			RefSpecs: []config.RefSpec{"+refs/heads/*:refs/remotes/origin/*"},
			Tags:     git.AllTags,
			Auth:     gitAuth(remote),
		}); fetchErr != nil && fetchErr != git.NoErrAlreadyUpToDate {
			return &transportFailure{url: s.URL, err: fmt.Errorf("fetch: %w", fetchErr)}
		}
	}

	rev := s.Revision
	if rev == "" {
		rev = "HEAD"
	}
	hash, err := repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		if alt, altErr := repo.ResolveRevision(plumbing.Revision("origin/" + strings.TrimPrefix(rev, "origin/"))); altErr == nil {
			hash = alt
		} else {
			return &transportFailure{url: s.URL, err: fmt.Errorf("resolve revision %q: %w", rev, err)}
		}
	}

	if err := wt.Checkout(&git.CheckoutOptions{Hash: *hash, Force: true}); err != nil {
		return &transportFailure{url: s.URL, err: fmt.Errorf("checkout %s: %w", hash, err)}
	}

	s.Revision = hash.String()[:8]
	return nil
}

func gitAuth(remote string) *http.BasicAuth {
	if token := os.Getenv("VEE_GIT_TOKEN"); token != "" && strings.HasPrefix(remote, "https://") {
		return &http.BasicAuth{Username: "x-access-token", Password: token}
	}
	return nil
}
