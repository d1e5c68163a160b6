package pyenv

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const uvConflictOutput = `  × No solution found when resolving dependencies:
  ╰─▶ Because onnxruntime==1.15.0 depends on numpy>=1.24 and your project requires numpy<1.24,
      we can conclude that your project's requirements are unsatisfiable.
`

func TestParseResolutionConflict(t *testing.T) {
	conflict := ParseResolutionConflict(uvConflictOutput)

	assert.Equal(t, "onnxruntime", conflict.Subject)
	assert.Contains(t, conflict.Requirements, "numpy>=1.24")
	assert.Contains(t, conflict.Requirements, "numpy<1.24")
	assert.NotEmpty(t, conflict.Chain)
	assert.Equal(t, uvConflictOutput, conflict.RawOutput)
	assert.Contains(t, conflict.Error(), "onnxruntime")
}

func TestParseResolutionConflictUnstructured(t *testing.T) {
	conflict := ParseResolutionConflict("something went wrong")
	assert.Equal(t, "", conflict.Subject)
	assert.Equal(t, "dependency resolution failed", conflict.Error())
}

func TestTorchIndexURL(t *testing.T) {
	assert.Equal(t, "https://download.pytorch.org/whl/cu128", TorchIndexURL("cu128"))
	assert.Equal(t, "https://download.pytorch.org/whl/cpu", TorchIndexURL("cpu"))
	assert.Equal(t, "https://download.pytorch.org/whl/rocm6.3", TorchIndexURL("rocm6.3"))
	assert.Equal(t, "", TorchIndexURL(""))
}
