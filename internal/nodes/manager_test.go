package nodes

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"comfygit/internal/manifest"
	"comfygit/internal/sources"
	"comfygit/pkg/models"
)

type fakeRegistry struct {
	packages map[string]*sources.RegistryPackage
}

func (f *fakeRegistry) GetPackage(ctx context.Context, id string) (*sources.RegistryPackage, error) {
	if pkg, ok := f.packages[id]; ok {
		return pkg, nil
	}
	return nil, os.ErrNotExist
}

func (f *fakeRegistry) NodeMappings(ctx context.Context) ([]models.NodeMapping, error) {
	return nil, nil
}

func newTestManager(t *testing.T) (*Manager, *manifest.Store, string) {
	t.Helper()
	store, err := manifest.Load(t.TempDir())
	require.NoError(t, err)

	customNodes := filepath.Join(t.TempDir(), "custom_nodes")
	require.NoError(t, os.MkdirAll(customNodes, 0755))

	cache := NewArchiveCache(t.TempDir(), nil)
	devNodes := filepath.Join(t.TempDir(), "dev_nodes")
	mgr := NewManager(store, &fakeRegistry{packages: map[string]*sources.RegistryPackage{}}, cache, customNodes, devNodes, nil)
	return mgr, store, customNodes
}

func writeDevNode(t *testing.T, customNodes, name string, requirements string) string {
	t.Helper()
	dir := filepath.Join(customNodes, name)
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "__init__.py"), []byte("NODE_CLASS_MAPPINGS = {}\n"), 0644))
	if requirements != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "requirements.txt"), []byte(requirements), 0644))
	}
	return dir
}

func TestDevInstallAdoptsLocalDirectory(t *testing.T) {
	mgr, store, customNodes := newTestManager(t)
	writeDevNode(t, customNodes, "MySharpen", "opencv-python\nnumpy>=1.26\n")

	result, err := mgr.Install(context.Background(), "MySharpen", InstallOptions{Dev: true})
	require.NoError(t, err)
	assert.Equal(t, "mysharpen", result.PackageID)
	assert.Equal(t, models.NodeSourceDevelopment, result.Source)
	assert.Equal(t, []string{"opencv-python", "numpy>=1.26"}, result.Requirements)

	entry, ok := store.GetNode("mysharpen")
	require.True(t, ok)
	assert.Empty(t, entry.Repository, "development nodes record no repository")

	deps := store.AllDependencies()
	assert.Contains(t, deps, manifest.NodeGroup("mysharpen"))
}

func TestDevRemoveDisablesInsteadOfDeleting(t *testing.T) {
	mgr, store, customNodes := newTestManager(t)
	dir := writeDevNode(t, customNodes, "MySharpen", "")
	_, err := mgr.Install(context.Background(), "MySharpen", InstallOptions{Dev: true})
	require.NoError(t, err)

	require.NoError(t, mgr.Remove("mysharpen"))

	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err), "active directory is gone")
	_, err = os.Stat(dir + DisabledSuffix)
	assert.NoError(t, err, "source survives as .disabled")

	_, ok := store.GetNode("mysharpen")
	assert.False(t, ok)
}

func TestDevAddRemoveReAddKeepsSource(t *testing.T) {
	mgr, _, customNodes := newTestManager(t)
	dir := writeDevNode(t, customNodes, "MySharpen", "")
	marker := filepath.Join(dir, "my_code.py")
	require.NoError(t, os.WriteFile(marker, []byte("# precious user code\n"), 0644))

	ctx := context.Background()
	_, err := mgr.Install(ctx, "MySharpen", InstallOptions{Dev: true})
	require.NoError(t, err)
	require.NoError(t, mgr.Remove("mysharpen"))

	// Re-adding re-enables the .disabled directory in place.
	_, err = mgr.Install(ctx, "MySharpen", InstallOptions{Dev: true})
	require.NoError(t, err)

	data, err := os.ReadFile(marker)
	require.NoError(t, err)
	assert.Equal(t, "# precious user code\n", string(data))
	_, err = os.Stat(dir + DisabledSuffix)
	assert.True(t, os.IsNotExist(err))

	// The holding-area copy is untouched across the whole cycle.
	held, err := os.ReadFile(filepath.Join(mgr.devNodesDir, "MySharpen", "my_code.py"))
	require.NoError(t, err)
	assert.Equal(t, "# precious user code\n", string(held))
}

func TestInstallConflictRefusesMutation(t *testing.T) {
	mgr, store, customNodes := newTestManager(t)

	dir := filepath.Join(customNodes, "ImpactPack")
	initRepo(t, dir, "https://github.com/ltdrdata/ComfyUI-Impact-Pack.git")

	reg := &fakeRegistry{packages: map[string]*sources.RegistryPackage{
		"comfyui-impact-pack": {
			ID:         "comfyui-impact-pack",
			Name:       "ImpactPack",
			Repository: "https://github.com/LTDRDATA/comfyui-impact-pack",
		},
	}}
	mgr.registry = reg

	_, err := mgr.Install(context.Background(), "comfyui-impact-pack", InstallOptions{})
	require.Error(t, err)

	var conflict interface{ Hint() string }
	require.ErrorAs(t, err, &conflict)

	// Nothing moved: the checkout is intact, the manifest untouched.
	_, statErr := os.Stat(dir)
	assert.NoError(t, statErr)
	_, ok := store.GetNode("comfyui-impact-pack")
	assert.False(t, ok)
}

func TestRegistryRemoveDeletesDirectory(t *testing.T) {
	mgr, store, customNodes := newTestManager(t)

	dir := writeDevNode(t, customNodes, "SomePack", "")
	store.AddNode(models.NodeEntry{
		PackageID: "somepack", Name: "SomePack",
		Repository: "https://github.com/a/SomePack", Source: models.NodeSourceRegistry,
	})
	require.NoError(t, store.Save())

	require.NoError(t, mgr.Remove("somepack"))

	_, err := os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(dir + DisabledSuffix)
	assert.True(t, os.IsNotExist(err), "registry removals do not leave .disabled behind")
}

func TestPruneRemovesUnreferencedNodes(t *testing.T) {
	mgr, store, customNodes := newTestManager(t)

	writeDevNode(t, customNodes, "Used", "")
	writeDevNode(t, customNodes, "Unused", "")
	writeDevNode(t, customNodes, "Kept", "")
	for _, name := range []string{"Used", "Unused", "Kept"} {
		store.AddNode(models.NodeEntry{PackageID: nameToID(name), Name: name, Source: models.NodeSourceRegistry})
	}
	store.SetWorkflowNodes("w", []string{"used"})
	require.NoError(t, store.Save())

	removed, err := mgr.Prune([]string{"kept"})
	require.NoError(t, err)
	assert.Equal(t, []string{"unused"}, removed)

	_, ok := store.GetNode("used")
	assert.True(t, ok)
	_, ok = store.GetNode("kept")
	assert.True(t, ok)
}

func TestPruneCountsCustomNodeMapReferences(t *testing.T) {
	mgr, store, customNodes := newTestManager(t)

	writeDevNode(t, customNodes, "MappedOnly", "")
	store.AddNode(models.NodeEntry{PackageID: "mappedonly", Name: "MappedOnly", Source: models.NodeSourceRegistry})
	store.SetCustomNodeMapEntry("w", "SomeNodeType", "mappedonly")
	require.NoError(t, store.Save())

	removed, err := mgr.Prune(nil)
	require.NoError(t, err)
	assert.Empty(t, removed, "custom_node_map targets count as references")
}

func TestScanRequirementsSkipsCommentsAndOptions(t *testing.T) {
	dir := t.TempDir()
	content := "# deps\nnumpy>=1.26  # math\n\n-r extra.txt\n--index-url https://example\nopencv-python\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "requirements.txt"), []byte(content), 0644))

	specs, err := ScanRequirements(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"numpy>=1.26", "opencv-python"}, specs)
}

func TestScanRequirementsMissingFile(t *testing.T) {
	specs, err := ScanRequirements(t.TempDir())
	require.NoError(t, err)
	assert.Nil(t, specs)
}

func nameToID(name string) string {
	out := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}
