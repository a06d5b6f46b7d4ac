package version

import (
	"testing"

	"github.com/go-git/go-git/v5"
	"github.com/stretchr/testify/require"
)

func TestVersion(t *testing.T) {
	if Version == "" {
		t.Error("Version should not be empty")
	}
	if BuildTime == "" {
		t.Error("BuildTime should be initialized")
	}
	if GitCommit == "" {
		t.Error("GitCommit should be initialized")
	}
}

func TestProjectRevision_NoRepository(t *testing.T) {
	_, err := ProjectRevision(t.TempDir())
	require.ErrorIs(t, err, ErrNoRepository)
}

func TestProjectRevision_EmptyRepositoryHasNoHead(t *testing.T) {
	dir := t.TempDir()
	_, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	_, err = ProjectRevision(dir)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrNoRepository)
}
