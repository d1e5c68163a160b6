package models

// NodeSource distinguishes how a custom node package was obtained.
type NodeSource string

const (
	NodeSourceRegistry    NodeSource = "registry"
	NodeSourceGit         NodeSource = "git"
	NodeSourceDevelopment NodeSource = "development"
)

// NodeEntry is a declared custom node package in the manifest.
type NodeEntry struct {
	PackageID  string     `toml:"-"`
	Name       string     `toml:"name"`
	Repository string     `toml:"repository,omitempty"`
	Version    string     `toml:"version,omitempty"`
	Source     NodeSource `toml:"source"`
}

// ModelEntry is a declared model in the manifest, keyed by quick hash within
// a category table.
type ModelEntry struct {
	Hash         string   `toml:"-"`
	Filename     string   `toml:"filename"`
	Size         int64    `toml:"size"`
	RelativePath string   `toml:"relative_path"`
	Blake3Hash   string   `toml:"blake3_hash,omitempty"`
	SHA256Hash   string   `toml:"sha256_hash,omitempty"`
	Sources      []string `toml:"sources,omitempty"`
}

// Model manifest categories.
const (
	ModelCategoryRequired = "required"
	ModelCategoryOptional = "optional"
)

// ResolutionStatus tracks whether a workflow model reference is satisfied.
type ResolutionStatus string

const (
	StatusResolved   ResolutionStatus = "resolved"
	StatusUnresolved ResolutionStatus = "unresolved"
)

// WorkflowModelNode records the provenance of a model reference inside a
// workflow: which node and widget carried the path string.
type WorkflowModelNode struct {
	NodeID      string `toml:"node_id"`
	NodeType    string `toml:"node_type"`
	WidgetIndex int64  `toml:"widget_index"`
	WidgetValue string `toml:"widget_value"`
}

// WorkflowModel is one model reference tracked for a workflow. WidgetValue
// mapping to a hash lives only here; the workflow JSON is never rewritten.
type WorkflowModel struct {
	Filename     string              `toml:"filename"`
	Hash         string              `toml:"hash,omitempty"`
	Category     string              `toml:"category,omitempty"`
	Criticality  string              `toml:"criticality,omitempty"`
	Status       ResolutionStatus    `toml:"status"`
	AutoResolved bool                `toml:"auto_resolved,omitempty"`
	Sources      []string            `toml:"sources,omitempty"`
	Nodes        []WorkflowModelNode `toml:"nodes"`
}

// WorkflowEntry is the manifest record for a tracked workflow.
//
// CustomNodeMap maps a node class name to the package id supplying it, or to
// boolean false to mark the type optional.
type WorkflowEntry struct {
	Name          string                 `toml:"-"`
	Nodes         []string               `toml:"nodes,omitempty"`
	CustomNodeMap map[string]interface{} `toml:"custom_node_map,omitempty"`
	Models        []WorkflowModel        `toml:"models,omitempty"`
}

// EnvironmentConfig is the authoritative environment declaration.
type EnvironmentConfig struct {
	ComfyUIRef    string `toml:"comfyui_ref,omitempty"`
	PythonVersion string `toml:"python_version,omitempty"`
	TorchBackend  string `toml:"torch_backend,omitempty"`
	TorchVersion  string `toml:"torch_version,omitempty"`
	TorchIndexURL string `toml:"torch_index_url,omitempty"`
}
