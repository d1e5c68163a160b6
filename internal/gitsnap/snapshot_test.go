package gitsnap

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) (*Manager, string) {
	t.Helper()
	dir := t.TempDir()
	mgr, err := Init(dir)
	require.NoError(t, err)
	return mgr, dir
}

func write(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestInitIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	_, err := Init(dir)
	require.NoError(t, err)
	_, err = Init(dir)
	require.NoError(t, err)
}

func TestCommitAssignsMonotonicTags(t *testing.T) {
	mgr, dir := newTestRepo(t)

	write(t, dir, "pyproject.toml", "[project]\nname = 'e'\n")
	tag, err := mgr.Commit("first")
	require.NoError(t, err)
	assert.Equal(t, "v1", tag)

	write(t, dir, "workflows/w.json", "{}")
	tag, err = mgr.Commit("second")
	require.NoError(t, err)
	assert.Equal(t, "v2", tag)

	clean, err := mgr.IsClean()
	require.NoError(t, err)
	assert.True(t, clean)
}

func TestCommitCleanTreeFails(t *testing.T) {
	mgr, dir := newTestRepo(t)
	write(t, dir, "a.txt", "x")
	_, err := mgr.Commit("first")
	require.NoError(t, err)

	_, err = mgr.Commit("empty")
	assert.Error(t, err)
}

func TestRollbackDeletesLaterFiles(t *testing.T) {
	mgr, dir := newTestRepo(t)

	write(t, dir, "pyproject.toml", "[project]\n")
	write(t, dir, "workflows/w.json", `{"nodes":[]}`)
	_, err := mgr.Commit("v1 state")
	require.NoError(t, err)

	write(t, dir, "workflows/w2.json", `{"nodes":[1]}`)
	_, err = mgr.Commit("v2 state")
	require.NoError(t, err)

	mirrorRan := false
	tag, err := mgr.Rollback("v1", func() error {
		mirrorRan = true
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "v3", tag, "rollback appends a snapshot, never rewinds the counter")
	assert.True(t, mirrorRan)

	// The file created after v1 is gone from the tracked tree.
	_, statErr := os.Stat(filepath.Join(dir, "workflows", "w2.json"))
	assert.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(filepath.Join(dir, "workflows", "w.json"))
	assert.NoError(t, statErr)

	clean, err := mgr.IsClean()
	require.NoError(t, err)
	assert.True(t, clean, "working tree ends clean")

	entries, err := mgr.Log(1)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.True(t, strings.HasPrefix(entries[0].Message, "Rollback to v1"))
}

func TestRollbackFailureRestoresPreState(t *testing.T) {
	mgr, dir := newTestRepo(t)

	write(t, dir, "a.txt", "one")
	_, err := mgr.Commit("first")
	require.NoError(t, err)
	write(t, dir, "b.txt", "two")
	_, err = mgr.Commit("second")
	require.NoError(t, err)

	_, err = mgr.Rollback("v1", func() error {
		return os.ErrPermission
	})
	require.Error(t, err)

	// The pre-rollback tree is back.
	_, statErr := os.Stat(filepath.Join(dir, "b.txt"))
	assert.NoError(t, statErr)
	clean, err := mgr.IsClean()
	require.NoError(t, err)
	assert.True(t, clean)
}

func TestRollbackToSameStateStillSnapshots(t *testing.T) {
	mgr, dir := newTestRepo(t)
	write(t, dir, "a.txt", "one")
	_, err := mgr.Commit("first")
	require.NoError(t, err)

	tag, err := mgr.Rollback("v1", nil)
	require.NoError(t, err)
	assert.Equal(t, "v2", tag)
}

func TestResolveTargetForms(t *testing.T) {
	mgr, dir := newTestRepo(t)
	write(t, dir, "a.txt", "one")
	_, err := mgr.Commit("first")
	require.NoError(t, err)
	write(t, dir, "a.txt", "two")
	_, err = mgr.Commit("second")
	require.NoError(t, err)

	byTag, err := mgr.ResolveTarget("v1")
	require.NoError(t, err)
	byRel, err := mgr.ResolveTarget("HEAD~1")
	require.NoError(t, err)
	assert.Equal(t, byTag, byRel)

	bySHA, err := mgr.ResolveTarget(byTag.String()[:8])
	require.NoError(t, err)
	assert.Equal(t, byTag, bySHA)

	_, err = mgr.ResolveTarget("v99")
	assert.Error(t, err)
}

func TestLogListsNewestFirst(t *testing.T) {
	mgr, dir := newTestRepo(t)
	write(t, dir, "a.txt", "one")
	_, err := mgr.Commit("first")
	require.NoError(t, err)
	write(t, dir, "a.txt", "two")
	_, err = mgr.Commit("second")
	require.NoError(t, err)

	entries, err := mgr.Log(10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "v2", entries[0].Tag)
	assert.Equal(t, "v1", entries[1].Tag)
}

func TestPushRefusesDirtyTree(t *testing.T) {
	mgr, dir := newTestRepo(t)
	write(t, dir, "a.txt", "one")
	_, err := mgr.Commit("first")
	require.NoError(t, err)
	write(t, dir, "a.txt", "dirty")

	err = mgr.Push(t.Context(), "origin", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "uncommitted")
}

func TestRemoteManagement(t *testing.T) {
	mgr, _ := newTestRepo(t)

	require.NoError(t, mgr.RemoteAdd("origin", "https://example.com/repo.git"))
	assert.Error(t, mgr.RemoteAdd("origin", "https://example.com/other.git"))

	remotes, err := mgr.RemoteList()
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.com/repo.git"}, remotes["origin"])

	require.NoError(t, mgr.RemoteRemove("origin"))
	remotes, err = mgr.RemoteList()
	require.NoError(t, err)
	assert.Empty(t, remotes)
}
