package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"comfygit/internal/db"
	"comfygit/internal/db/repositories"
)

const sampleWorkflow = `{
  "id": "wf-1",
  "revision": 3,
  "frontend_version": "1.24.0",
  "nodes": [
    {"id": 4, "type": "CheckpointLoaderSimple", "widgets_values": ["SD1.5/photon.safetensors"]},
    {"id": 5, "type": "KSampler", "widgets_values": [812345, "randomize", 20, 7.5, "euler", "normal", 1]},
    {"id": 6, "type": "CLIPTextEncode", "widgets_values": ["a photo"]},
    {"id": 7, "type": "UltralyticsDetectorProvider", "widgets_values": ["bbox/face_yolov8m.pt", 0.5]},
    {"id": 9, "type": "c0ffee00-1111-2222-3333-444455556666"}
  ],
  "links": [],
  "groups": [],
  "extra": {"ds": {"scale": 1.2, "offset": [10, 20]}},
  "definitions": {
    "subgraphs": [
      {
        "id": "c0ffee00-1111-2222-3333-444455556666",
        "name": "upscale-pass",
        "nodes": [
          {"id": 2, "type": "UpscaleModelLoader", "widgets_values": ["4x_foolhardy.pth"]},
          {"id": 3, "type": "MyCustomSharpen", "widgets_values": ["extra/sharpen_lut.bin", 3]}
        ]
      }
    ]
  }
}`

func newTestAnalyzer(t *testing.T) (*Analyzer, *repositories.Repositories) {
	t.Helper()
	database, err := db.NewTest(t)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	repos := repositories.New(database)
	return NewAnalyzer(repos, nil, nil), repos
}

func TestAnalyzeClassifiesNodeTypes(t *testing.T) {
	analyzer, _ := newTestAnalyzer(t)

	analysis, err := analyzer.Analyze([]byte(sampleWorkflow))
	require.NoError(t, err)

	assert.Equal(t, []string{"MyCustomSharpen", "UltralyticsDetectorProvider"}, analysis.CustomNodeTypes)
	assert.Contains(t, analysis.BuiltinTypes, "KSampler")
	assert.Contains(t, analysis.BuiltinTypes, "CheckpointLoaderSimple")
	assert.NotContains(t, analysis.CustomNodeTypes, "c0ffee00-1111-2222-3333-444455556666",
		"subgraph reference nodes are not node types")
}

func TestAnalyzeExtractsModelReferences(t *testing.T) {
	analyzer, _ := newTestAnalyzer(t)

	analysis, err := analyzer.Analyze([]byte(sampleWorkflow))
	require.NoError(t, err)

	byValue := map[string]string{}
	categories := map[string]string{}
	for _, ref := range analysis.ModelReferences {
		byValue[ref.WidgetValue] = ref.NodeID
		categories[ref.WidgetValue] = ref.Category
	}

	assert.Equal(t, "4", byValue["SD1.5/photon.safetensors"])
	assert.Equal(t, "checkpoints", categories["SD1.5/photon.safetensors"])

	// Custom nodes are scanned by extension, with no category.
	assert.Equal(t, "7", byValue["bbox/face_yolov8m.pt"])
	assert.Equal(t, "", categories["bbox/face_yolov8m.pt"])

	// Subgraph nodes carry scoped identities.
	assert.Equal(t, "c0ffee00-1111-2222-3333-444455556666:2", byValue["4x_foolhardy.pth"])
	assert.Equal(t, "upscale_models", categories["4x_foolhardy.pth"])
	assert.Equal(t, "c0ffee00-1111-2222-3333-444455556666:3", byValue["extra/sharpen_lut.bin"])
}

func TestAnalyzeUsesCache(t *testing.T) {
	analyzer, repos := newTestAnalyzer(t)

	first, err := analyzer.Analyze([]byte(sampleWorkflow))
	require.NoError(t, err)

	cached, err := repos.AnalysisCache.Get(first.ContentHash)
	require.NoError(t, err)
	require.NotNil(t, cached)

	second, err := analyzer.Analyze([]byte(sampleWorkflow))
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestReconstructIsByteIdentical(t *testing.T) {
	doc, err := Parse([]byte(sampleWorkflow))
	require.NoError(t, err)
	assert.Equal(t, []byte(sampleWorkflow), doc.Reconstruct())
}

func TestSubgraphRawPreservesAllFields(t *testing.T) {
	doc, err := Parse([]byte(sampleWorkflow))
	require.NoError(t, err)
	require.Len(t, doc.Subgraphs, 1)
	raw := string(doc.Subgraphs[0].Raw())
	assert.Contains(t, raw, `"upscale-pass"`)
	assert.Contains(t, raw, `"MyCustomSharpen"`)
}

func TestFlattenSkipsReferenceNodes(t *testing.T) {
	doc, err := Parse([]byte(sampleWorkflow))
	require.NoError(t, err)

	for _, fn := range doc.Flatten() {
		assert.NotEqual(t, "c0ffee00-1111-2222-3333-444455556666", fn.Node.Type)
	}
}

func TestParseRejectsInvalidJSON(t *testing.T) {
	_, err := Parse([]byte("{not json"))
	require.Error(t, err)
}
