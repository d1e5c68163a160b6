package resolve

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"

	"lukechampine.com/blake3"

	"comfygit/internal/db/repositories"
	"comfygit/internal/logging"
	"comfygit/internal/manifest"
	"comfygit/pkg/models"
)

// Engine decides which package supplies each custom node and which indexed
// model satisfies each reference, persisting decisions in the manifest so
// they are not re-solicited.
type Engine struct {
	manifest *manifest.Store
	repos    *repositories.Repositories
	strategy Strategy
	scorer   Scorer // optional
}

func NewEngine(store *manifest.Store, repos *repositories.Repositories, strategy Strategy, scorer Scorer) *Engine {
	return &Engine{manifest: store, repos: repos, strategy: strategy, scorer: scorer}
}

// ResolveWorkflow runs the node and model chains for one analyzed workflow.
// Every decision is written to the manifest as it is made; a cancellation
// mid-run preserves prior choices.
func (e *Engine) ResolveWorkflow(workflowName string, analysis *models.WorkflowAnalysis) (*Result, error) {
	cacheKey := e.cacheKey(workflowName, analysis)
	if raw, err := e.repos.ResolutionCache.Get(cacheKey); err == nil && raw != nil {
		var cached Result
		if json.Unmarshal(raw, &cached) == nil {
			logging.Debug("resolution cache hit for workflow %s", workflowName)
			return &cached, nil
		}
	}

	result := &Result{Workflow: workflowName}

	for _, nodeType := range analysis.CustomNodeTypes {
		res, err := e.resolveNodeType(workflowName, nodeType)
		if err != nil {
			result.Partial = true
			result.Nodes = append(result.Nodes, NodeResolution{
				NodeType: nodeType, Outcome: OutcomeUnresolved, Reason: err.Error(),
			})
			return result, err
		}
		result.Nodes = append(result.Nodes, res)
	}

	for _, group := range groupReferences(analysis.ModelReferences) {
		res, err := e.resolveModelGroup(workflowName, group)
		if err != nil {
			result.Partial = true
			result.Models = append(result.Models, ModelResolution{
				Filename: group.filename, References: group.refs,
				Outcome: OutcomeUnresolved, Reason: err.Error(),
			})
			return result, err
		}
		result.Models = append(result.Models, res)
	}

	e.persistWorkflowNodes(workflowName, result)

	if !result.Partial {
		if raw, err := json.Marshal(result); err == nil {
			if err := e.repos.ResolutionCache.Put(cacheKey, raw); err != nil {
				logging.Debug("resolution cache write failed: %v", err)
			}
		}
	}
	return result, nil
}

// resolveNodeType walks the node strategy chain: declared map, registry
// mapping table, optional scorer, then the user strategy.
func (e *Engine) resolveNodeType(workflowName, nodeType string) (NodeResolution, error) {
	wf, _ := e.manifest.GetWorkflow(workflowName)

	// 1. Declared map.
	if target, ok := wf.CustomNodeMap[nodeType]; ok {
		switch v := target.(type) {
		case string:
			return NodeResolution{NodeType: nodeType, Outcome: OutcomeResolved, PackageID: v}, nil
		case bool:
			if !v {
				return NodeResolution{NodeType: nodeType, Outcome: OutcomeOptional}, nil
			}
		}
	}

	// 2. Registry mapping table.
	var candidates []string
	if mapping, err := e.repos.NodeMappings.Get(nodeType); err == nil && mapping != nil {
		candidates = mapping.PackageIDs
	}
	if len(candidates) == 1 {
		e.persistNodeChoice(workflowName, nodeType, candidates[0])
		return NodeResolution{NodeType: nodeType, Outcome: OutcomeResolved, PackageID: candidates[0], AutoResolved: true}, nil
	}

	// 3. Optional scorer reorders ambiguous candidates.
	if e.scorer != nil && len(candidates) > 1 {
		candidates = e.scorer.ScorePackages(nodeType, candidates)
	}

	// 4. User strategy.
	decision, err := e.strategy.ResolveNode(nodeType, candidates)
	if err != nil {
		return NodeResolution{}, err
	}
	switch decision.Kind {
	case DecisionChoose:
		e.persistNodeChoice(workflowName, nodeType, decision.PackageID)
		return NodeResolution{NodeType: nodeType, Outcome: OutcomeResolved, PackageID: decision.PackageID, Candidates: candidates}, nil
	case DecisionManual:
		id := PackageIDFromRef(decision.ManualRef)
		e.persistNodeChoice(workflowName, nodeType, id)
		return NodeResolution{NodeType: nodeType, Outcome: OutcomeResolved, PackageID: id}, nil
	case DecisionOptional:
		e.manifest.SetCustomNodeMapEntry(workflowName, nodeType, false)
		e.saveManifest()
		return NodeResolution{NodeType: nodeType, Outcome: OutcomeOptional}, nil
	default:
		outcome := OutcomeUnresolved
		if len(candidates) > 1 {
			outcome = OutcomeAmbiguous
		}
		return NodeResolution{NodeType: nodeType, Outcome: outcome, Candidates: candidates, Reason: "no package selected"}, nil
	}
}

func (e *Engine) persistNodeChoice(workflowName, nodeType, packageID string) {
	e.manifest.SetCustomNodeMapEntry(workflowName, nodeType, packageID)
	e.saveManifest()
}

// refGroup collects every reference to the same model filename.
type refGroup struct {
	filename string
	refs     []models.ModelReference
}

func groupReferences(refs []models.ModelReference) []refGroup {
	byFile := map[string][]models.ModelReference{}
	for _, ref := range refs {
		name := path.Base(strings.ReplaceAll(ref.WidgetValue, "\\", "/"))
		byFile[name] = append(byFile[name], ref)
	}
	names := make([]string, 0, len(byFile))
	for n := range byFile {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]refGroup, 0, len(names))
	for _, n := range names {
		out = append(out, refGroup{filename: n, refs: byFile[n]})
	}
	return out
}

// resolveModelGroup walks the model strategy chain: saved mapping, exact
// path, unique filename, fuzzy-in-category, then the user strategy.
func (e *Engine) resolveModelGroup(workflowName string, group refGroup) (ModelResolution, error) {
	wf, _ := e.manifest.GetWorkflow(workflowName)

	// 1. Saved mapping, verified against the index.
	for _, saved := range wf.Models {
		if saved.Filename != group.filename {
			continue
		}
		if saved.Status != models.StatusResolved || saved.Hash == "" {
			break
		}
		locations, err := e.repos.Models.LocationsByHash(saved.Hash)
		if err != nil {
			return ModelResolution{}, err
		}
		if len(locations) > 0 {
			return ModelResolution{
				Filename: group.filename, References: group.refs,
				Outcome: OutcomeResolved, Hash: saved.Hash,
				RelativePath: locations[0].RelativePath,
				Category:     saved.Category,
				AutoResolved: saved.AutoResolved,
			}, nil
		}
		// The file backing the saved hash is gone; demote and fall through.
		e.persistModelDecision(workflowName, group, ModelResolution{
			Filename: group.filename, Outcome: OutcomeUnresolved,
			Category: saved.Category, Reason: "indexed file deleted",
		})
		break
	}

	category := categoryOf(group.refs)

	// 2. Exact path lookup.
	for _, candidate := range exactPathCandidates(category, group.refs) {
		loc, err := e.repos.Models.FindByExactPath(candidate)
		if err != nil {
			return ModelResolution{}, err
		}
		if loc != nil {
			res := e.resolvedFromLocation(group, loc, true)
			e.persistModelDecision(workflowName, group, res)
			return res, nil
		}
	}

	// 3. Filename lookup: a single match wins.
	matches, err := e.repos.Models.FindByFilename(group.filename)
	if err != nil {
		return ModelResolution{}, err
	}
	if len(matches) == 1 {
		res := e.resolvedFromLocation(group, matches[0], true)
		e.persistModelDecision(workflowName, group, res)
		return res, nil
	}

	// 4. Fuzzy lookup within the category.
	candidates, err := e.fuzzyCandidates(category, group.filename)
	if err != nil {
		return ModelResolution{}, err
	}
	if len(candidates) == 0 && len(matches) > 1 {
		for _, m := range matches {
			candidates = append(candidates, ModelCandidate{Location: m, Score: 1, Confidence: ConfidenceHigh})
		}
	}

	// 5. User strategy.
	decision, err := e.strategy.ResolveModel(group.filename, group.refs, candidates)
	if err != nil {
		return ModelResolution{}, err
	}
	switch decision.Kind {
	case DecisionChoose:
		loc, err := e.repos.Models.FindByExactPath(decision.RelativePath)
		if err != nil {
			return ModelResolution{}, err
		}
		if loc == nil {
			return ModelResolution{Filename: group.filename, References: group.refs, Outcome: OutcomeUnresolved,
				Reason: fmt.Sprintf("selected path %s is not indexed", decision.RelativePath)}, nil
		}
		res := e.resolvedFromLocation(group, loc, false)
		e.persistModelDecision(workflowName, group, res)
		return res, nil
	case DecisionManual:
		res := ModelResolution{
			Filename: group.filename, References: group.refs,
			Outcome: OutcomeUnresolved, Category: firstNonEmpty(decision.Category, category),
			SourceURL: decision.SourceURL, Reason: "download intent recorded",
		}
		e.persistModelDecision(workflowName, group, res)
		return res, nil
	case DecisionOptional:
		res := ModelResolution{Filename: group.filename, References: group.refs, Outcome: OutcomeOptional, Category: category}
		e.persistModelDecision(workflowName, group, res)
		return res, nil
	default:
		return ModelResolution{
			Filename: group.filename, References: group.refs,
			Outcome: OutcomeUnresolved, Candidates: candidates, Category: category,
			Reason: "no index entry selected",
		}, nil
	}
}

func (e *Engine) resolvedFromLocation(group refGroup, loc *models.ModelLocation, auto bool) ModelResolution {
	return ModelResolution{
		Filename:     group.filename,
		References:   group.refs,
		Outcome:      OutcomeResolved,
		Hash:         loc.ModelHash,
		RelativePath: loc.RelativePath,
		Category:     loc.Category(),
		AutoResolved: auto,
	}
}

// fuzzyCandidates scores every index entry in the category against the
// wanted filename and keeps matches above the threshold, best first.
func (e *Engine) fuzzyCandidates(category, filename string) ([]ModelCandidate, error) {
	if category == "" {
		return nil, nil
	}
	locations, err := e.repos.Models.GetByCategory(category)
	if err != nil {
		return nil, err
	}
	var out []ModelCandidate
	for _, loc := range locations {
		score := similarity(filename, loc.Filename)
		if score <= fuzzyThreshold {
			continue
		}
		out = append(out, ModelCandidate{Location: loc, Score: score, Confidence: confidenceFor(score)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}

// persistModelDecision writes one model record to the manifest immediately.
func (e *Engine) persistModelDecision(workflowName string, group refGroup, res ModelResolution) {
	nodes := make([]models.WorkflowModelNode, 0, len(group.refs))
	for _, ref := range group.refs {
		nodes = append(nodes, models.WorkflowModelNode{
			NodeID:      ref.NodeID,
			NodeType:    ref.NodeType,
			WidgetIndex: ref.WidgetIndex,
			WidgetValue: ref.WidgetValue,
		})
	}

	status := models.StatusUnresolved
	if res.Outcome == OutcomeResolved {
		status = models.StatusResolved
	}
	criticality := models.ModelCategoryRequired
	if res.Outcome == OutcomeOptional {
		criticality = models.ModelCategoryOptional
	}

	wm := models.WorkflowModel{
		Filename:     res.Filename,
		Hash:         res.Hash,
		Category:     res.Category,
		Criticality:  criticality,
		Status:       status,
		AutoResolved: res.AutoResolved,
		Nodes:        nodes,
	}
	if res.SourceURL != "" {
		wm.Sources = []string{res.SourceURL}
	}
	e.manifest.UpsertWorkflowModel(workflowName, wm)

	if res.Outcome == OutcomeResolved && res.Hash != "" {
		manifestCategory := models.ModelCategoryRequired
		if criticality == models.ModelCategoryOptional {
			manifestCategory = models.ModelCategoryOptional
		}
		entry := models.ModelEntry{
			Hash:         res.Hash,
			Filename:     res.Filename,
			RelativePath: res.RelativePath,
		}
		if m, err := e.repos.Models.GetByHash(res.Hash); err == nil && m != nil {
			entry.Size = m.FileSize
			if m.Blake3Hash != nil {
				entry.Blake3Hash = *m.Blake3Hash
			}
			if m.SHA256Hash != nil {
				entry.SHA256Hash = *m.SHA256Hash
			}
		}
		if srcs, err := e.repos.Models.SourcesByHash(res.Hash); err == nil {
			for _, s := range srcs {
				entry.Sources = append(entry.Sources, s.SourceURL)
			}
		}
		e.manifest.UpsertModel(manifestCategory, entry)
	}

	e.saveManifest()
}

// persistWorkflowNodes records the union of resolved packages on the
// workflow entry.
func (e *Engine) persistWorkflowNodes(workflowName string, result *Result) {
	seen := map[string]bool{}
	var ids []string
	for _, n := range result.Nodes {
		if n.Outcome == OutcomeResolved && n.PackageID != "" && !seen[n.PackageID] {
			seen[n.PackageID] = true
			ids = append(ids, n.PackageID)
		}
	}
	e.manifest.SetWorkflowNodes(workflowName, ids)
	e.saveManifest()
}

func (e *Engine) saveManifest() {
	if err := e.manifest.Save(); err != nil {
		logging.Error("manifest save failed: %v", err)
	}
}

// cacheKey combines the workflow content hash, the relevant manifest slice
// (the workflow's own entries plus the node-mapping table), and the index
// subset the workflow can see. Unrelated manifest edits do not invalidate.
func (e *Engine) cacheKey(workflowName string, analysis *models.WorkflowAnalysis) string {
	h := blake3.New(32, nil)
	h.Write([]byte(analysis.ContentHash))

	if wf, ok := e.manifest.GetWorkflow(workflowName); ok {
		if raw, err := json.Marshal(wf); err == nil {
			h.Write(raw)
		}
	}

	for _, nodeType := range analysis.CustomNodeTypes {
		h.Write([]byte(nodeType))
		if mapping, err := e.repos.NodeMappings.Get(nodeType); err == nil && mapping != nil {
			for _, id := range mapping.PackageIDs {
				h.Write([]byte(id))
			}
		}
	}

	// Index subset: filename matches plus category listings for every
	// reference the workflow makes.
	seen := map[string]bool{}
	for _, group := range groupReferences(analysis.ModelReferences) {
		if locs, err := e.repos.Models.FindByFilename(group.filename); err == nil {
			for _, l := range locs {
				key := l.RelativePath + "\x00" + l.ModelHash
				if !seen[key] {
					seen[key] = true
				}
			}
		}
		if cat := categoryOf(group.refs); cat != "" {
			if locs, err := e.repos.Models.GetByCategory(cat); err == nil {
				for _, l := range locs {
					key := l.RelativePath + "\x00" + l.ModelHash
					if !seen[key] {
						seen[key] = true
					}
				}
			}
		}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.Write([]byte(k))
	}

	return hex.EncodeToString(h.Sum(nil))
}

func categoryOf(refs []models.ModelReference) string {
	for _, ref := range refs {
		if ref.Category != "" {
			return ref.Category
		}
	}
	return ""
}

// exactPathCandidates combines the loader category with the widget value to
// form candidate relative paths inside the pool.
func exactPathCandidates(category string, refs []models.ModelReference) []string {
	seen := map[string]bool{}
	var out []string
	add := func(p string) {
		p = strings.TrimPrefix(path.Clean(strings.ReplaceAll(p, "\\", "/")), "./")
		if p != "" && p != "." && !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	for _, ref := range refs {
		value := ref.WidgetValue
		if category != "" {
			add(category + "/" + value)
		}
		add(value)
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// PackageIDFromRef normalizes a manual reference (registry id or git URL)
// into a lowercase package id.
func PackageIDFromRef(ref string) string {
	ref = strings.TrimSpace(ref)
	ref = strings.TrimSuffix(ref, ".git")
	if i := strings.LastIndexAny(ref, "/:"); i >= 0 {
		ref = ref[i+1:]
	}
	return strings.ToLower(ref)
}
