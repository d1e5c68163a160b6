package gitsnap

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	git "github.com/go-git/go-git/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newClonePair builds an upstream repo with one snapshot and a clone of it,
// using filesystem paths as the transport.
func newClonePair(t *testing.T) (*Manager, string, *Manager, string) {
	t.Helper()

	upstreamDir := t.TempDir()
	upstream, err := Init(upstreamDir)
	require.NoError(t, err)
	write(t, upstreamDir, "pyproject.toml", "[project]\nname = 'e'\n")
	_, err = upstream.Commit("first")
	require.NoError(t, err)

	cloneDir := t.TempDir()
	_, err = git.PlainClone(cloneDir, false, &git.CloneOptions{URL: upstreamDir})
	require.NoError(t, err)
	clone, err := Open(cloneDir)
	require.NoError(t, err)

	return upstream, upstreamDir, clone, cloneDir
}

func TestPullFastForwardsAndReconciles(t *testing.T) {
	upstream, upstreamDir, clone, cloneDir := newClonePair(t)

	write(t, upstreamDir, "workflows/w.json", `{"nodes":[]}`)
	_, err := upstream.Commit("add workflow")
	require.NoError(t, err)

	reconciled := false
	err = clone.Pull(t.Context(), "origin", false, func() error {
		reconciled = true
		_, statErr := os.Stat(filepath.Join(cloneDir, "workflows", "w.json"))
		assert.NoError(t, statErr, "reconcile sees the merged state")
		return nil
	})
	require.NoError(t, err)
	assert.True(t, reconciled)

	clean, err := clone.IsClean()
	require.NoError(t, err)
	assert.True(t, clean)
}

func TestPullRevertsOnReconcileFailure(t *testing.T) {
	upstream, upstreamDir, clone, cloneDir := newClonePair(t)

	head, err := Open(cloneDir)
	require.NoError(t, err)
	preEntries, err := head.Log(0)
	require.NoError(t, err)

	write(t, upstreamDir, "workflows/w.json", `{"nodes":[]}`)
	_, err = upstream.Commit("add workflow")
	require.NoError(t, err)

	err = clone.Pull(t.Context(), "origin", false, func() error {
		return errors.New("node install failed: unreachable host")
	})
	require.Error(t, err)

	// The environment ends in the pre-pull state: no new commits, no
	// half-merged files.
	postEntries, err := clone.Log(0)
	require.NoError(t, err)
	assert.Equal(t, len(preEntries), len(postEntries))
	_, statErr := os.Stat(filepath.Join(cloneDir, "workflows", "w.json"))
	assert.True(t, os.IsNotExist(statErr))

	clean, err := clone.IsClean()
	require.NoError(t, err)
	assert.True(t, clean)
}

func TestPullRefusesDirtyTree(t *testing.T) {
	_, _, clone, cloneDir := newClonePair(t)
	write(t, cloneDir, "pyproject.toml", "[project]\nname = 'dirty'\n")

	err := clone.Pull(t.Context(), "origin", false, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "uncommitted")
}

func TestPullForceDiscardsLocalChanges(t *testing.T) {
	_, _, clone, cloneDir := newClonePair(t)
	write(t, cloneDir, "pyproject.toml", "[project]\nname = 'dirty'\n")

	err := clone.Pull(t.Context(), "origin", true, nil)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(cloneDir, "pyproject.toml"))
	require.NoError(t, err)
	assert.Equal(t, "[project]\nname = 'e'\n", string(data))
}
