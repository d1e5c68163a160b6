package nodes

import (
	"os"
	"path/filepath"
	"testing"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"comfygit/pkg/cgerr"
)

func initRepo(t *testing.T, dir string, remoteURL string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0755))
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	if remoteURL != "" {
		_, err = repo.CreateRemote(&config.RemoteConfig{Name: "origin", URLs: []string{remoteURL}})
		require.NoError(t, err)
	}
}

func TestDetectConflictFreePath(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "missing")
	assert.Nil(t, DetectConflict(dir, "pkg", "https://github.com/a/b"))
}

func TestDetectConflictDirectoryExists(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "plain")
	require.NoError(t, os.MkdirAll(dir, 0755))

	conflict := DetectConflict(dir, "pkg", "https://github.com/a/b")
	require.NotNil(t, conflict)
	assert.Equal(t, cgerr.DirectoryExists, conflict.Kind)
}

func TestDetectConflictLocalRepo(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "local")
	initRepo(t, dir, "")

	conflict := DetectConflict(dir, "pkg", "https://github.com/a/b")
	require.NotNil(t, conflict)
	assert.Equal(t, cgerr.LocalRepo, conflict.Kind)
}

func TestDetectConflictSameRepoDifferentCase(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "ImpactPack")
	initRepo(t, dir, "https://github.com/ltdrdata/ComfyUI-Impact-Pack.git")

	conflict := DetectConflict(dir, "comfyui-impact-pack", "https://github.com/LTDRDATA/comfyui-impact-pack")
	require.NotNil(t, conflict)
	assert.Equal(t, cgerr.SameRepo, conflict.Kind)
	assert.NotEmpty(t, conflict.Hint())
}

func TestDetectConflictDifferentRepo(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "other")
	initRepo(t, dir, "https://github.com/someone/else")

	conflict := DetectConflict(dir, "pkg", "https://github.com/a/b")
	require.NotNil(t, conflict)
	assert.Equal(t, cgerr.DifferentRepo, conflict.Kind)
	assert.Equal(t, "https://github.com/someone/else", conflict.Remote)
}
