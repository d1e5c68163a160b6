package resolve

import (
	"comfygit/pkg/models"
)

// Outcome tags the result for a single node type or model reference.
type Outcome string

const (
	OutcomeResolved   Outcome = "resolved"
	OutcomeAmbiguous  Outcome = "ambiguous"
	OutcomeUnresolved Outcome = "unresolved"
	OutcomeOptional   Outcome = "optional"
	OutcomeSkipped    Outcome = "skipped"
)

// NodeResolution is the engine's verdict for one custom node type.
type NodeResolution struct {
	NodeType     string   `json:"node_type"`
	Outcome      Outcome  `json:"outcome"`
	PackageID    string   `json:"package_id,omitempty"`
	Candidates   []string `json:"candidates,omitempty"`
	Reason       string   `json:"reason,omitempty"`
	AutoResolved bool     `json:"auto_resolved,omitempty"`
}

// Confidence bands for fuzzy model candidates.
const (
	ConfidenceHigh     = "high"
	ConfidenceGood     = "good"
	ConfidencePossible = "possible"
)

// ModelCandidate is one indexed file proposed for a model reference.
type ModelCandidate struct {
	Location   *models.ModelLocation `json:"location"`
	Score      float64               `json:"score"`
	Confidence string                `json:"confidence,omitempty"`
}

// ModelResolution is the engine's verdict for one model reference group.
type ModelResolution struct {
	Filename     string                 `json:"filename"`
	References   []models.ModelReference `json:"references"`
	Outcome      Outcome                `json:"outcome"`
	Hash         string                 `json:"hash,omitempty"`
	RelativePath string                 `json:"relative_path,omitempty"`
	Category     string                 `json:"category,omitempty"`
	Candidates   []ModelCandidate       `json:"candidates,omitempty"`
	Reason       string                 `json:"reason,omitempty"`
	AutoResolved bool                   `json:"auto_resolved,omitempty"`
	SourceURL    string                 `json:"source_url,omitempty"`
}

// Result is the per-workflow resolution output.
type Result struct {
	Workflow string           `json:"workflow"`
	Nodes    []NodeResolution `json:"nodes"`
	Models   []ModelResolution `json:"models"`
	// Partial is set when an external failure cut the run short; unresolved
	// items keep enough context to retry.
	Partial bool `json:"partial,omitempty"`
}

// UnresolvedCount reports entries that are neither resolved nor explicitly
// optional. This feeds the commit safety predicate.
func (r *Result) UnresolvedCount() int {
	n := 0
	for _, node := range r.Nodes {
		if node.Outcome == OutcomeUnresolved || node.Outcome == OutcomeAmbiguous {
			n++
		}
	}
	for _, m := range r.Models {
		if m.Outcome == OutcomeUnresolved || m.Outcome == OutcomeAmbiguous {
			n++
		}
	}
	return n
}

// DecisionKind is what a strategy chose to do.
type DecisionKind string

const (
	DecisionChoose   DecisionKind = "choose"
	DecisionManual   DecisionKind = "manual"
	DecisionOptional DecisionKind = "optional"
	DecisionSkip     DecisionKind = "skip"
)

// NodeDecision is a strategy's answer for an unresolved node type.
type NodeDecision struct {
	Kind      DecisionKind
	PackageID string // for Choose
	ManualRef string // for Manual: registry id or git URL
}

// ModelDecision is a strategy's answer for an unresolved model reference.
type ModelDecision struct {
	Kind         DecisionKind
	RelativePath string // for Choose: the selected index location
	SourceURL    string // for Manual: a download intent
	Category     string // for Manual: target category
}

// Strategy is the pluggable decision point. Interactive, auto, and scripted
// implementations exist; all three are safe to call repeatedly.
type Strategy interface {
	ResolveNode(nodeType string, candidates []string) (NodeDecision, error)
	ResolveModel(filename string, refs []models.ModelReference, candidates []ModelCandidate) (ModelDecision, error)
}

// Scorer ranks candidate packages for a node type. It is an optional
// collaborator; the default build runs without one.
type Scorer interface {
	ScorePackages(nodeType string, candidates []string) []string
}
