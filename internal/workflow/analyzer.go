package workflow

import (
	"sort"
	"strings"

	"github.com/tidwall/gjson"

	"comfygit/internal/db/repositories"
	"comfygit/pkg/models"
)

// Analyzer converts workflow documents into node type sets and model
// references, caching results against the normalized content hash.
type Analyzer struct {
	repos      *repositories.Repositories
	normalizer *Normalizer
	extensions []string
}

// NewAnalyzer builds an analyzer. repos may be nil to disable caching.
func NewAnalyzer(repos *repositories.Repositories, normalizer *Normalizer, extensions []string) *Analyzer {
	if normalizer == nil {
		normalizer = DefaultNormalizer()
	}
	if len(extensions) == 0 {
		extensions = []string{".safetensors", ".ckpt", ".pt", ".pth", ".bin", ".onnx"}
	}
	return &Analyzer{repos: repos, normalizer: normalizer, extensions: extensions}
}

// Analyze parses and analyzes raw workflow JSON.
func (a *Analyzer) Analyze(raw []byte) (*models.WorkflowAnalysis, error) {
	doc, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	return a.AnalyzeDocument(doc)
}

// AnalyzeDocument analyzes an already parsed document.
func (a *Analyzer) AnalyzeDocument(doc *Document) (*models.WorkflowAnalysis, error) {
	contentHash, err := a.normalizer.ContentHash(doc)
	if err != nil {
		return nil, err
	}

	if a.repos != nil {
		if cached, err := a.repos.AnalysisCache.Get(contentHash); err == nil && cached != nil {
			return cached, nil
		}
	}

	analysis := &models.WorkflowAnalysis{ContentHash: contentHash}

	customSet := map[string]bool{}
	builtinSet := map[string]bool{}

	for _, fn := range doc.Flatten() {
		nodeType := fn.Node.Type
		if IsBuiltin(nodeType) {
			builtinSet[nodeType] = true
			analysis.ModelReferences = append(analysis.ModelReferences, a.extractBuiltinRefs(fn)...)
			continue
		}
		customSet[nodeType] = true
		analysis.ModelReferences = append(analysis.ModelReferences, a.extractCustomRefs(fn)...)
	}

	analysis.CustomNodeTypes = sortedKeys(customSet)
	analysis.BuiltinTypes = sortedKeys(builtinSet)

	if a.repos != nil {
		if err := a.repos.AnalysisCache.Put(analysis); err != nil {
			return nil, err
		}
	}
	return analysis, nil
}

// extractBuiltinRefs reads the loader table's widget slots.
func (a *Analyzer) extractBuiltinRefs(fn FlatNode) []models.ModelReference {
	slots := LoaderWidgets(fn.Node.Type)
	if len(slots) == 0 {
		return nil
	}
	widgets, ok := fn.Node.Widgets()
	if !ok {
		return nil
	}
	var refs []models.ModelReference
	for _, slot := range slots {
		if slot.Index >= int64(len(widgets)) {
			continue
		}
		value, ok := widgets[slot.Index].(string)
		if !ok || value == "" {
			continue
		}
		refs = append(refs, models.ModelReference{
			NodeID:      fn.ScopedID,
			NodeType:    fn.Node.Type,
			WidgetIndex: slot.Index,
			WidgetValue: value,
			Category:    slot.Category,
		})
	}
	return refs
}

// extractCustomRefs has no class table to consult; it scans every widget
// string for a known model file extension.
func (a *Analyzer) extractCustomRefs(fn FlatNode) []models.ModelReference {
	if len(fn.Node.WidgetsValues) == 0 {
		return nil
	}
	parsed := gjson.ParseBytes(fn.Node.WidgetsValues)
	if !parsed.IsArray() {
		return nil
	}
	var refs []models.ModelReference
	parsed.ForEach(func(key, value gjson.Result) bool {
		if value.Type == gjson.String && a.hasModelExtension(value.Str) {
			refs = append(refs, models.ModelReference{
				NodeID:      fn.ScopedID,
				NodeType:    fn.Node.Type,
				WidgetIndex: key.Int(),
				WidgetValue: value.Str,
			})
		}
		return true
	})
	return refs
}

func (a *Analyzer) hasModelExtension(value string) bool {
	lower := strings.ToLower(value)
	for _, ext := range a.extensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
