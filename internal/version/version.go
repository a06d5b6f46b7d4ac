package version

import (
	"errors"

	"github.com/go-git/go-git/v5"
)

// Version contains the application version information.
// This should be set via build-time ldflags in production:
// go build -ldflags "-X git.home.luguber.info/inful/frontbuild/internal/version.Version=v0.3.0".
var Version = "unknown"

// BuildInfo contains additional build metadata.
var (
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// ErrNoRepository is returned when the project is not inside a git work tree.
var ErrNoRepository = errors.New("not a git repository")

// ProjectRevision returns the short HEAD commit of the git repository containing dir.
// Builds stamp it into the banner and the bundle report.
func ProjectRevision(dir string) (string, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return "", ErrNoRepository
		}
		return "", err
	}
	head, err := repo.Head()
	if err != nil {
		return "", err
	}
	rev := head.Hash().String()
	if len(rev) > 7 {
		rev = rev[:7]
	}
	return rev, nil
}
