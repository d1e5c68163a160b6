package resolve

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"comfygit/internal/db"
	"comfygit/internal/db/repositories"
	"comfygit/internal/manifest"
	"comfygit/pkg/models"
)

type fixture struct {
	engine   *Engine
	store    *manifest.Store
	repos    *repositories.Repositories
	strategy *ScriptedStrategy
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	database, err := db.NewTest(t)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	repos := repositories.New(database)

	store, err := manifest.Load(t.TempDir())
	require.NoError(t, err)

	strategy := &ScriptedStrategy{
		NodeDecisions:  map[string]NodeDecision{},
		ModelDecisions: map[string]ModelDecision{},
	}
	return &fixture{
		engine:   NewEngine(store, repos, strategy, nil),
		store:    store,
		repos:    repos,
		strategy: strategy,
	}
}

func (f *fixture) indexModel(t *testing.T, hash, relativePath string) {
	t.Helper()
	tx, err := f.repos.BeginTx()
	require.NoError(t, err)
	require.NoError(t, f.repos.Models.Upsert(tx, &models.Model{Hash: hash, FileSize: 100, LastModified: time.Now()}))
	require.NoError(t, f.repos.Models.UpsertLocation(tx, &models.ModelLocation{
		ModelHash:    hash,
		RelativePath: relativePath,
		Filename:     base(relativePath),
		FileSize:     100,
		MTime:        time.Now(),
	}))
	require.NoError(t, tx.Commit())
}

func base(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			return p[i+1:]
		}
	}
	return p
}

func analysisWith(refs []models.ModelReference, customTypes ...string) *models.WorkflowAnalysis {
	return &models.WorkflowAnalysis{
		ContentHash:     "testhash",
		CustomNodeTypes: customTypes,
		ModelReferences: refs,
	}
}

func checkpointRef(value string) models.ModelReference {
	return models.ModelReference{
		NodeID: "4", NodeType: "CheckpointLoaderSimple",
		WidgetIndex: 0, WidgetValue: value, Category: "checkpoints",
	}
}

func TestExactPathAutoResolves(t *testing.T) {
	f := newFixture(t)
	f.indexModel(t, "hash-photon", "checkpoints/SD1.5/photon.safetensors")

	result, err := f.engine.ResolveWorkflow("w", analysisWith([]models.ModelReference{checkpointRef("SD1.5/photon.safetensors")}))
	require.NoError(t, err)

	require.Len(t, result.Models, 1)
	assert.Equal(t, OutcomeResolved, result.Models[0].Outcome)
	assert.Equal(t, "hash-photon", result.Models[0].Hash)
	assert.True(t, result.Models[0].AutoResolved)
	assert.Empty(t, f.strategy.Calls, "auto resolution must not consult the strategy")

	// The decision is persisted in the manifest.
	wf, ok := f.store.GetWorkflow("w")
	require.True(t, ok)
	require.Len(t, wf.Models, 1)
	assert.Equal(t, models.StatusResolved, wf.Models[0].Status)
	assert.Equal(t, "hash-photon", wf.Models[0].Hash)

	_, category, ok := f.store.GetModel("hash-photon")
	require.True(t, ok)
	assert.Equal(t, models.ModelCategoryRequired, category)
}

func TestUniqueFilenameAutoResolves(t *testing.T) {
	f := newFixture(t)
	f.indexModel(t, "hash-a", "checkpoints/elsewhere/photon.safetensors")

	result, err := f.engine.ResolveWorkflow("w", analysisWith([]models.ModelReference{checkpointRef("photon.safetensors")}))
	require.NoError(t, err)
	assert.Equal(t, OutcomeResolved, result.Models[0].Outcome)
	assert.Equal(t, "hash-a", result.Models[0].Hash)
}

func TestAmbiguousCandidatesGoToStrategy(t *testing.T) {
	f := newFixture(t)
	f.indexModel(t, "hash-1", "checkpoints/sd15-v1.0.safetensors")
	f.indexModel(t, "hash-2", "checkpoints/sd15-v1.5.safetensors")
	f.strategy.ModelDecisions["sd15.safetensors"] = ModelDecision{
		Kind: DecisionChoose, RelativePath: "checkpoints/sd15-v1.5.safetensors",
	}

	result, err := f.engine.ResolveWorkflow("w", analysisWith([]models.ModelReference{checkpointRef("sd15.safetensors")}))
	require.NoError(t, err)
	assert.Equal(t, OutcomeResolved, result.Models[0].Outcome)
	assert.Equal(t, "hash-2", result.Models[0].Hash)
	assert.False(t, result.Models[0].AutoResolved, "user selections are not auto-resolved")
	assert.Contains(t, f.strategy.Calls, "model:sd15.safetensors")
}

func TestSavedMappingSkipsStrategy(t *testing.T) {
	f := newFixture(t)
	f.indexModel(t, "hash-1", "checkpoints/sd15-v1.0.safetensors")
	f.indexModel(t, "hash-2", "checkpoints/sd15-v1.5.safetensors")
	f.strategy.ModelDecisions["sd15.safetensors"] = ModelDecision{
		Kind: DecisionChoose, RelativePath: "checkpoints/sd15-v1.5.safetensors",
	}

	analysis := analysisWith([]models.ModelReference{checkpointRef("sd15.safetensors")})
	_, err := f.engine.ResolveWorkflow("w", analysis)
	require.NoError(t, err)
	callsAfterFirst := len(f.strategy.Calls)

	// Re-running returns the recorded decision without prompting again.
	result, err := f.engine.ResolveWorkflow("w", analysis)
	require.NoError(t, err)
	assert.Equal(t, OutcomeResolved, result.Models[0].Outcome)
	assert.Equal(t, "hash-2", result.Models[0].Hash)
	assert.Len(t, f.strategy.Calls, callsAfterFirst)
}

func TestDeletedFileDemotesToUnresolved(t *testing.T) {
	f := newFixture(t)
	f.indexModel(t, "hash-gone", "checkpoints/chosen.safetensors")

	analysis := analysisWith([]models.ModelReference{checkpointRef("chosen.safetensors")})
	first, err := f.engine.ResolveWorkflow("w", analysis)
	require.NoError(t, err)
	require.Equal(t, OutcomeResolved, first.Models[0].Outcome)

	// Simulate deletion: prune every location for the hash.
	tx, err := f.repos.BeginTx()
	require.NoError(t, err)
	_, err = tx.Exec(`DELETE FROM model_locations WHERE model_hash = ?`, "hash-gone")
	require.NoError(t, err)
	_, err = tx.Exec(`DELETE FROM models WHERE hash = ?`, "hash-gone")
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	require.NoError(t, f.repos.ResolutionCache.Invalidate())

	second, err := f.engine.ResolveWorkflow("w", analysis)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnresolved, second.Models[0].Outcome)

	wf, _ := f.store.GetWorkflow("w")
	assert.Equal(t, models.StatusUnresolved, wf.Models[0].Status)
}

func TestNodeDeclaredMapWins(t *testing.T) {
	f := newFixture(t)
	f.store.SetCustomNodeMapEntry("w", "WAS_Image_Blend", "was-node-suite")

	result, err := f.engine.ResolveWorkflow("w", analysisWith(nil, "WAS_Image_Blend"))
	require.NoError(t, err)
	require.Len(t, result.Nodes, 1)
	assert.Equal(t, OutcomeResolved, result.Nodes[0].Outcome)
	assert.Equal(t, "was-node-suite", result.Nodes[0].PackageID)
	assert.Empty(t, f.strategy.Calls)
}

func TestNodeDeclaredFalseIsOptional(t *testing.T) {
	f := newFixture(t)
	f.store.SetCustomNodeMapEntry("w", "RareNode", false)

	result, err := f.engine.ResolveWorkflow("w", analysisWith(nil, "RareNode"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeOptional, result.Nodes[0].Outcome)
}

func TestNodeSingleMappingAutoResolves(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.repos.NodeMappings.Put(&models.NodeMapping{
		NodeType: "UltralyticsDetectorProvider", PackageIDs: []string{"comfyui-impact-subpack"},
	}))

	result, err := f.engine.ResolveWorkflow("w", analysisWith(nil, "UltralyticsDetectorProvider"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeResolved, result.Nodes[0].Outcome)
	assert.Equal(t, "comfyui-impact-subpack", result.Nodes[0].PackageID)
	assert.True(t, result.Nodes[0].AutoResolved)

	wf, _ := f.store.GetWorkflow("w")
	assert.Equal(t, "comfyui-impact-subpack", wf.CustomNodeMap["UltralyticsDetectorProvider"])
	assert.Equal(t, []string{"comfyui-impact-subpack"}, wf.Nodes)
}

func TestNodeSkipIsUnresolved(t *testing.T) {
	f := newFixture(t)

	result, err := f.engine.ResolveWorkflow("w", analysisWith(nil, "UnknownNode"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnresolved, result.Nodes[0].Outcome)
	assert.Equal(t, 1, result.UnresolvedCount())
}

func TestManualDownloadURLRecordsIntent(t *testing.T) {
	f := newFixture(t)
	f.strategy.ModelDecisions["rare.safetensors"] = ModelDecision{
		Kind: DecisionManual, SourceURL: "https://civitai.com/api/download/models/999",
	}

	result, err := f.engine.ResolveWorkflow("w", analysisWith([]models.ModelReference{checkpointRef("rare.safetensors")}))
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnresolved, result.Models[0].Outcome)

	wf, _ := f.store.GetWorkflow("w")
	require.Len(t, wf.Models, 1)
	assert.Equal(t, models.StatusUnresolved, wf.Models[0].Status)
	assert.Equal(t, []string{"https://civitai.com/api/download/models/999"}, wf.Models[0].Sources)
}
