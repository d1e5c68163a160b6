package workspace

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"comfygit/internal/gitsnap"
	"comfygit/internal/manifest"
	"comfygit/pkg/models"
)

// newTestEnv builds an environment shell by hand so the factory's ComfyUI
// clone (network) is not needed.
func newTestEnv(t *testing.T) (*Store, *Env) {
	t.Helper()
	store := newTestStore(t)
	_, err := store.Init()
	require.NoError(t, err)

	paths := store.EnvironmentPaths("e1")
	for _, dir := range []string{
		paths.CECDir,
		filepath.Join(paths.CECDir, "workflows"),
		filepath.Join(paths.CECDir, "dev_nodes"),
		filepath.Join(paths.ComfyUIDir, "custom_nodes"),
		filepath.Join(paths.ComfyUIDir, "user", "default", "workflows"),
	} {
		require.NoError(t, os.MkdirAll(dir, 0755))
	}
	_, err = gitsnap.Init(paths.CECDir)
	require.NoError(t, err)

	m, err := manifest.Load(paths.CECDir)
	require.NoError(t, err)
	m.Document().Project.Name = "e1"
	require.NoError(t, m.Save())

	env, err := store.OpenEnvironment("e1", nil, nil, nil)
	require.NoError(t, err)
	return store, env
}

func TestCommitCapturesWorkflowsAndTags(t *testing.T) {
	_, env := newTestEnv(t)

	content := `{"nodes":[{"id":4,"type":"CheckpointLoaderSimple","widgets_values":["SD1.5/photon.safetensors"]}]}`
	require.NoError(t, os.WriteFile(filepath.Join(env.Mirror.ActiveDir, "w.json"), []byte(content), 0644))

	states, err := env.Mirror.Status()
	require.NoError(t, err)
	assert.Equal(t, "new", string(states["w.json"]))

	tag, err := env.Commit("first snapshot", false)
	require.NoError(t, err)
	assert.Equal(t, "v1", tag)

	committed, err := os.ReadFile(filepath.Join(env.Mirror.CommittedDir, "w.json"))
	require.NoError(t, err)
	assert.Equal(t, content, string(committed), "committed copy is byte-identical to the active one")

	clean, err := env.Snap.IsClean()
	require.NoError(t, err)
	assert.True(t, clean)
}

func TestCommitBlockedByUnresolvedModels(t *testing.T) {
	_, env := newTestEnv(t)

	env.Manifest.UpsertWorkflowModel("w", models.WorkflowModel{
		Filename:    "missing.safetensors",
		Status:      models.StatusUnresolved,
		Criticality: models.ModelCategoryRequired,
	})
	require.NoError(t, env.Manifest.Save())

	_, err := env.Commit("blocked", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unresolved")

	// --allow-issues overrides the predicate.
	_, err = env.Commit("forced", true)
	require.NoError(t, err)
}

func TestCommitAllowsExplicitlyOptionalEntries(t *testing.T) {
	_, env := newTestEnv(t)

	env.Manifest.UpsertWorkflowModel("w", models.WorkflowModel{
		Filename:    "rare.safetensors",
		Status:      models.StatusUnresolved,
		Criticality: models.ModelCategoryOptional,
	})
	require.NoError(t, env.Manifest.Save())

	_, err := env.Commit("ok", false)
	require.NoError(t, err)
}

func TestRollbackDeletesLaterWorkflowsEverywhere(t *testing.T) {
	_, env := newTestEnv(t)

	require.NoError(t, os.WriteFile(filepath.Join(env.Mirror.ActiveDir, "w.json"), []byte(`{"nodes":[]}`), 0644))
	_, err := env.Commit("first", false)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(env.Mirror.ActiveDir, "w2.json"), []byte(`{"nodes":[1]}`), 0644))
	_, err = env.Commit("second", false)
	require.NoError(t, err)

	tag, err := env.Rollback("v1")
	require.NoError(t, err)
	assert.Equal(t, "v3", tag)

	for _, path := range []string{
		filepath.Join(env.Mirror.CommittedDir, "w2.json"),
		filepath.Join(env.Mirror.ActiveDir, "w2.json"),
	} {
		_, err := os.Stat(path)
		assert.True(t, os.IsNotExist(err), "%s must not survive the rollback", path)
	}
	_, err = os.Stat(filepath.Join(env.Mirror.ActiveDir, "w.json"))
	assert.NoError(t, err)

	clean, err := env.Snap.IsClean()
	require.NoError(t, err)
	assert.True(t, clean)

	entries, err := env.Snap.Log(1)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.True(t, strings.HasPrefix(entries[0].Message, "Rollback to v1"))
}

func TestCommitDropsManifestEntryForDeletedWorkflow(t *testing.T) {
	_, env := newTestEnv(t)

	require.NoError(t, os.WriteFile(filepath.Join(env.Mirror.ActiveDir, "w.json"), []byte(`{}`), 0644))
	env.Manifest.SetWorkflowNodes("w", []string{"some-pack"})
	require.NoError(t, env.Manifest.Save())
	_, err := env.Commit("first", false)
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(env.Mirror.ActiveDir, "w.json")))
	_, err = env.Commit("second", false)
	require.NoError(t, err)

	_, ok := env.Manifest.GetWorkflow("w")
	assert.False(t, ok, "deleting the active workflow untracks it on commit")
}
