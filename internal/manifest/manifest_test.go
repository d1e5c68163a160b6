package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"comfygit/pkg/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Load(t.TempDir())
	require.NoError(t, err)
	return store
}

func TestLoadMissingFileYieldsEmptyDocument(t *testing.T) {
	store := newTestStore(t)
	assert.Empty(t, store.ListNodes())
	assert.Empty(t, store.ListWorkflows())
	assert.Empty(t, store.MainDependencies())
}

func TestSaveAndReloadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := Load(dir)
	require.NoError(t, err)

	store.AddNode(models.NodeEntry{
		PackageID:  "comfyui-impact-pack",
		Name:       "ComfyUI-Impact-Pack",
		Repository: "https://github.com/ltdrdata/ComfyUI-Impact-Pack",
		Version:    "abc1234",
		Source:     models.NodeSourceRegistry,
	})
	store.AddDependency("numpy>=1.26", "")
	store.AddConstraint("pillow<11")
	store.SetWorkflowNodes("portrait", []string{"comfyui-impact-pack"})
	store.UpsertWorkflowModel("portrait", models.WorkflowModel{
		Filename: "photon.safetensors",
		Hash:     "deadbeef",
		Category: "checkpoints",
		Status:   models.StatusResolved,
		Nodes: []models.WorkflowModelNode{
			{NodeID: "4", NodeType: "CheckpointLoaderSimple", WidgetIndex: 0, WidgetValue: "SD1.5/photon.safetensors"},
		},
	})
	store.UpsertModel(models.ModelCategoryRequired, models.ModelEntry{
		Hash: "deadbeef", Filename: "photon.safetensors", Size: 123, RelativePath: "checkpoints/photon.safetensors",
	})
	require.NoError(t, store.Save())

	reloaded, err := Load(dir)
	require.NoError(t, err)

	node, ok := reloaded.GetNode("comfyui-impact-pack")
	require.True(t, ok)
	assert.Equal(t, "ComfyUI-Impact-Pack", node.Name)
	assert.Equal(t, models.NodeSourceRegistry, node.Source)

	wf, ok := reloaded.GetWorkflow("portrait")
	require.True(t, ok)
	require.Len(t, wf.Models, 1)
	assert.Equal(t, int64(0), wf.Models[0].Nodes[0].WidgetIndex)
	assert.Equal(t, models.StatusResolved, wf.Models[0].Status)

	entry, category, ok := reloaded.GetModel("deadbeef")
	require.True(t, ok)
	assert.Equal(t, models.ModelCategoryRequired, category)
	assert.Equal(t, int64(123), entry.Size)
}

func TestSaveIsDeterministic(t *testing.T) {
	dir := t.TempDir()
	store, err := Load(dir)
	require.NoError(t, err)

	store.AddNode(models.NodeEntry{PackageID: "b-pack", Name: "B", Source: models.NodeSourceGit})
	store.AddNode(models.NodeEntry{PackageID: "a-pack", Name: "A", Source: models.NodeSourceGit})
	require.NoError(t, store.Save())
	first, err := os.ReadFile(store.Path())
	require.NoError(t, err)

	reloaded, err := Load(dir)
	require.NoError(t, err)
	require.NoError(t, reloaded.Save())
	second, err := os.ReadFile(reloaded.Path())
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second))
}

func TestRemoveNodeCascades(t *testing.T) {
	store := newTestStore(t)

	store.AddNode(models.NodeEntry{PackageID: "was-node-suite", Name: "WAS", Source: models.NodeSourceGit})
	store.AddFromRequirements(NodeGroup("was-node-suite"), []string{"opencv-python"})
	store.SetCustomNodeMapEntry("portrait", "WAS_Image_Blend", "was-node-suite")
	store.SetCustomNodeMapEntry("portrait", "OtherNode", "other-pack")

	store.RemoveNode("was-node-suite")

	_, ok := store.GetNode("was-node-suite")
	assert.False(t, ok)
	_, ok = store.AllDependencies()[NodeGroup("was-node-suite")]
	assert.False(t, ok)

	wf, _ := store.GetWorkflow("portrait")
	_, ok = wf.CustomNodeMap["WAS_Image_Blend"]
	assert.False(t, ok, "map entries pointing at the removed package go away")
	assert.Equal(t, "other-pack", wf.CustomNodeMap["OtherNode"])
}

func TestAddRemoveNodeLeavesManifestUnchanged(t *testing.T) {
	dir := t.TempDir()
	store, err := Load(dir)
	require.NoError(t, err)
	require.NoError(t, store.Save())
	before, err := os.ReadFile(store.Path())
	require.NoError(t, err)

	store.AddNode(models.NodeEntry{PackageID: "x", Name: "X", Source: models.NodeSourceRegistry})
	store.AddFromRequirements(NodeGroup("x"), []string{"requests"})
	store.RemoveNode("x")
	require.NoError(t, store.Save())
	after, err := os.ReadFile(store.Path())
	require.NoError(t, err)

	assert.Equal(t, string(before), string(after))
}

func TestConstraintAddReplaces(t *testing.T) {
	store := newTestStore(t)
	store.AddConstraint("numpy<2")
	store.AddConstraint("numpy<2.1")
	constraints := store.ListConstraints()
	require.Len(t, constraints, 1)
	assert.Equal(t, "numpy<2.1", constraints[0])
}

func TestRemoveConstraintKeepsOthers(t *testing.T) {
	store := newTestStore(t)
	store.AddConstraint("numpy<2")
	store.AddConstraint("pillow<11")
	store.RemoveConstraint("numpy")
	assert.Equal(t, []string{"pillow<11"}, store.ListConstraints())
}

func TestRequirementName(t *testing.T) {
	cases := map[string]string{
		"numpy":                      "numpy",
		"numpy>=1.26":                "numpy",
		"Pillow<11":                  "pillow",
		"opencv_python==4.9.0.80":    "opencv-python",
		"requests[socks]>=2":         "requests",
		"torch ; sys_platform=='l'":  "torch",
		"  scipy~=1.11  ":            "scipy",
	}
	for spec, want := range cases {
		if got := RequirementName(spec); got != want {
			t.Errorf("RequirementName(%q) = %q, want %q", spec, got, want)
		}
	}
}

func TestParseErrorCarriesPosition(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("[project\nname = 1"), 0644))

	_, err := Load(dir)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "parse error"))
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := Load(dir)
	require.NoError(t, err)
	store.AddDependency("numpy", "")
	require.NoError(t, store.Save())

	// No stray temp files survive the atomic rename.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, FileName, entries[0].Name())
}
