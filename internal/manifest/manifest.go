package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/pelletier/go-toml/v2"

	"comfygit/pkg/cgerr"
	"comfygit/pkg/models"
)

// FileName is the manifest file inside the environment's .cec directory.
const FileName = "pyproject.toml"

// Document is the typed view of .cec/pyproject.toml.
type Document struct {
	Project Project `toml:"project"`
	Tool    Tool    `toml:"tool"`
}

type Project struct {
	Name                 string              `toml:"name"`
	RequiresPython       string              `toml:"requires-python,omitempty"`
	Dependencies         []string            `toml:"dependencies"`
	OptionalDependencies map[string][]string `toml:"optional-dependencies,omitempty"`
}

type Tool struct {
	Comfygit ComfygitTool `toml:"comfygit"`
	UV       UVTool       `toml:"uv"`
}

type ComfygitTool struct {
	Environment models.EnvironmentConfig               `toml:"environment"`
	Nodes       map[string]models.NodeEntry            `toml:"nodes"`
	Models      map[string]map[string]models.ModelEntry `toml:"models"`
	Workflows   map[string]models.WorkflowEntry        `toml:"workflows"`
}

type UVTool struct {
	ConstraintDependencies []string `toml:"constraint-dependencies"`
}

// Store reads, mutates, and atomically persists one environment's manifest.
type Store struct {
	path string
	doc  *Document
}

// Load parses the manifest at cecDir/pyproject.toml. A missing file yields an
// empty document so a fresh environment starts from a clean manifest.
func Load(cecDir string) (*Store, error) {
	path := filepath.Join(cecDir, FileName)
	s := &Store{path: path, doc: newDocument()}

	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, cgerr.New(cgerr.KindFilesystem, "manifest load", "check permissions on "+path, err)
	}

	if err := toml.Unmarshal(raw, s.doc); err != nil {
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			row, col := derr.Position()
			return nil, cgerr.New(cgerr.KindManifest, fmt.Sprintf("manifest parse error at %s:%d:%d", path, row, col),
				"fix the syntax error or restore the file from a snapshot", err)
		}
		return nil, cgerr.New(cgerr.KindManifest, "manifest parse error", "restore the file from a snapshot", err)
	}
	s.normalize()
	return s, nil
}

func newDocument() *Document {
	return &Document{
		Project: Project{
			Dependencies:         []string{},
			OptionalDependencies: map[string][]string{},
		},
		Tool: Tool{
			Comfygit: ComfygitTool{
				Nodes:     map[string]models.NodeEntry{},
				Models:    map[string]map[string]models.ModelEntry{},
				Workflows: map[string]models.WorkflowEntry{},
			},
		},
	}
}

// normalize ensures every map is non-nil so accessors never branch on nil
// and emptied sections survive a save.
func (s *Store) normalize() {
	if s.doc.Project.Dependencies == nil {
		s.doc.Project.Dependencies = []string{}
	}
	if s.doc.Project.OptionalDependencies == nil {
		s.doc.Project.OptionalDependencies = map[string][]string{}
	}
	if s.doc.Tool.Comfygit.Nodes == nil {
		s.doc.Tool.Comfygit.Nodes = map[string]models.NodeEntry{}
	}
	if s.doc.Tool.Comfygit.Models == nil {
		s.doc.Tool.Comfygit.Models = map[string]map[string]models.ModelEntry{}
	}
	if s.doc.Tool.Comfygit.Workflows == nil {
		s.doc.Tool.Comfygit.Workflows = map[string]models.WorkflowEntry{}
	}
}

// Path returns the manifest file path.
func (s *Store) Path() string { return s.path }

// Document exposes the typed view for read-only walks.
func (s *Store) Document() *Document { return s.doc }

// Save writes the manifest atomically: sibling temp file, fsync, rename.
// The previous file stays intact on any failure.
func (s *Store) Save() error {
	raw, err := toml.Marshal(s.doc)
	if err != nil {
		return cgerr.New(cgerr.KindInternal, "manifest encode", "", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return cgerr.New(cgerr.KindFilesystem, "manifest save", "check permissions on "+dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".pyproject-*.toml")
	if err != nil {
		return cgerr.New(cgerr.KindFilesystem, "manifest save", "check permissions on "+dir, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return cgerr.New(cgerr.KindFilesystem, "manifest save", "", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return cgerr.New(cgerr.KindFilesystem, "manifest save", "", err)
	}
	if err := tmp.Close(); err != nil {
		return cgerr.New(cgerr.KindFilesystem, "manifest save", "", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return cgerr.New(cgerr.KindFilesystem, "manifest save", "", err)
	}
	return nil
}

// Environment config

func (s *Store) EnvironmentConfig() models.EnvironmentConfig {
	return s.doc.Tool.Comfygit.Environment
}

func (s *Store) SetEnvironmentConfig(cfg models.EnvironmentConfig) {
	s.doc.Tool.Comfygit.Environment = cfg
}

// Nodes

// NodeGroup returns the optional-dependency group name for a package id.
func NodeGroup(packageID string) string { return "node/" + packageID }

func (s *Store) AddNode(entry models.NodeEntry) {
	s.doc.Tool.Comfygit.Nodes[entry.PackageID] = entry
}

func (s *Store) GetNode(packageID string) (models.NodeEntry, bool) {
	e, ok := s.doc.Tool.Comfygit.Nodes[packageID]
	if ok {
		e.PackageID = packageID
	}
	return e, ok
}

func (s *Store) ListNodes() []models.NodeEntry {
	ids := make([]string, 0, len(s.doc.Tool.Comfygit.Nodes))
	for id := range s.doc.Tool.Comfygit.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]models.NodeEntry, 0, len(ids))
	for _, id := range ids {
		e := s.doc.Tool.Comfygit.Nodes[id]
		e.PackageID = id
		out = append(out, e)
	}
	return out
}

// RemoveNode deletes a node entry and cascades: the node/<id> dependency
// group goes away, and so does every workflow custom_node_map entry that
// points at the package.
func (s *Store) RemoveNode(packageID string) {
	delete(s.doc.Tool.Comfygit.Nodes, packageID)
	delete(s.doc.Project.OptionalDependencies, NodeGroup(packageID))

	for name, wf := range s.doc.Tool.Comfygit.Workflows {
		changed := false
		for nodeType, target := range wf.CustomNodeMap {
			if id, ok := target.(string); ok && id == packageID {
				delete(wf.CustomNodeMap, nodeType)
				changed = true
			}
		}
		if changed {
			s.doc.Tool.Comfygit.Workflows[name] = wf
		}
	}
}

// Workflows

func (s *Store) GetWorkflow(name string) (models.WorkflowEntry, bool) {
	wf, ok := s.doc.Tool.Comfygit.Workflows[name]
	if ok {
		wf.Name = name
	}
	return wf, ok
}

func (s *Store) ListWorkflows() []models.WorkflowEntry {
	names := make([]string, 0, len(s.doc.Tool.Comfygit.Workflows))
	for n := range s.doc.Tool.Comfygit.Workflows {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]models.WorkflowEntry, 0, len(names))
	for _, n := range names {
		wf := s.doc.Tool.Comfygit.Workflows[n]
		wf.Name = n
		out = append(out, wf)
	}
	return out
}

func (s *Store) SetWorkflowNodes(name string, packageIDs []string) {
	wf := s.doc.Tool.Comfygit.Workflows[name]
	sorted := append([]string(nil), packageIDs...)
	sort.Strings(sorted)
	wf.Nodes = sorted
	s.doc.Tool.Comfygit.Workflows[name] = wf
}

// SetCustomNodeMapEntry maps a node type to a package id, or to false to
// mark the type optional.
func (s *Store) SetCustomNodeMapEntry(name, nodeType string, target interface{}) {
	wf := s.doc.Tool.Comfygit.Workflows[name]
	if wf.CustomNodeMap == nil {
		wf.CustomNodeMap = map[string]interface{}{}
	}
	wf.CustomNodeMap[nodeType] = target
	s.doc.Tool.Comfygit.Workflows[name] = wf
}

func (s *Store) SetWorkflowModels(name string, wfModels []models.WorkflowModel) {
	wf := s.doc.Tool.Comfygit.Workflows[name]
	wf.Models = wfModels
	s.doc.Tool.Comfygit.Workflows[name] = wf
}

// UpsertWorkflowModel records a single model decision, keyed by filename.
// Used for progressive persistence during resolution.
func (s *Store) UpsertWorkflowModel(name string, wm models.WorkflowModel) {
	wf := s.doc.Tool.Comfygit.Workflows[name]
	for i, existing := range wf.Models {
		if existing.Filename == wm.Filename {
			wf.Models[i] = wm
			s.doc.Tool.Comfygit.Workflows[name] = wf
			return
		}
	}
	wf.Models = append(wf.Models, wm)
	s.doc.Tool.Comfygit.Workflows[name] = wf
}

func (s *Store) DeleteWorkflow(name string) {
	delete(s.doc.Tool.Comfygit.Workflows, name)
}

// Models

func (s *Store) UpsertModel(category string, entry models.ModelEntry) {
	if s.doc.Tool.Comfygit.Models[category] == nil {
		s.doc.Tool.Comfygit.Models[category] = map[string]models.ModelEntry{}
	}
	s.doc.Tool.Comfygit.Models[category][entry.Hash] = entry
}

func (s *Store) GetModel(hash string) (models.ModelEntry, string, bool) {
	for category, byHash := range s.doc.Tool.Comfygit.Models {
		if e, ok := byHash[hash]; ok {
			e.Hash = hash
			return e, category, true
		}
	}
	return models.ModelEntry{}, "", false
}

// DeleteModel removes a model record from whichever category holds it.
func (s *Store) DeleteModel(hash string) {
	for _, byHash := range s.doc.Tool.Comfygit.Models {
		delete(byHash, hash)
	}
}

func (s *Store) ListModels(category string) []models.ModelEntry {
	byHash := s.doc.Tool.Comfygit.Models[category]
	hashes := make([]string, 0, len(byHash))
	for h := range byHash {
		hashes = append(hashes, h)
	}
	sort.Strings(hashes)
	out := make([]models.ModelEntry, 0, len(hashes))
	for _, h := range hashes {
		e := byHash[h]
		e.Hash = h
		out = append(out, e)
	}
	return out
}
