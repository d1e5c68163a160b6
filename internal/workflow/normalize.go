package workflow

import (
	"encoding/hex"
	"encoding/json"
	"strings"

	"lukechampine.com/blake3"
)

// randomizeControl is the control_after_generate widget state that marks the
// preceding widget as a volatile seed; other control states leave the seed
// as content.
const randomizeControl = "randomize"

// Normalizer computes content hashes that are invariant under editor noise:
// pan/zoom state, frontend version counters, and re-randomized seeds.
type Normalizer struct {
	// IgnoreFields are dotted top-level paths dropped before hashing.
	IgnoreFields []string
}

// DefaultNormalizer drops the volatile fields observed in current workflow
// schema versions.
func DefaultNormalizer() *Normalizer {
	return &Normalizer{IgnoreFields: []string{"extra.ds", "frontend_version", "revision"}}
}

// ContentHash returns the blake3-256 hex digest of the normalized document.
func (n *Normalizer) ContentHash(doc *Document) (string, error) {
	tree := deepCopyTree(doc.tree)

	for _, field := range n.IgnoreFields {
		dropPath(tree, strings.Split(field, "."))
	}
	zeroRandomizedSeeds(tree)

	// encoding/json emits map keys in sorted order, so the normalized form
	// is canonical.
	canonical, err := json.Marshal(tree)
	if err != nil {
		return "", err
	}
	sum := blake3.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

func deepCopyTree(tree map[string]interface{}) map[string]interface{} {
	raw, _ := json.Marshal(tree)
	var out map[string]interface{}
	_ = json.Unmarshal(raw, &out)
	return out
}

func dropPath(tree map[string]interface{}, path []string) {
	if len(path) == 0 {
		return
	}
	if len(path) == 1 {
		delete(tree, path[0])
		return
	}
	child, ok := tree[path[0]].(map[string]interface{})
	if !ok {
		return
	}
	dropPath(child, path[1:])
}

// zeroRandomizedSeeds walks every widgets_values array in the tree and zeros
// any value immediately followed by the "randomize" control string.
func zeroRandomizedSeeds(value interface{}) {
	switch v := value.(type) {
	case map[string]interface{}:
		if widgets, ok := v["widgets_values"].([]interface{}); ok {
			for i := 0; i+1 < len(widgets); i++ {
				if control, ok := widgets[i+1].(string); ok && control == randomizeControl {
					widgets[i] = float64(0)
				}
			}
		}
		for _, child := range v {
			zeroRandomizedSeeds(child)
		}
	case []interface{}:
		for _, child := range v {
			zeroRandomizedSeeds(child)
		}
	}
}
