package workflow

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"comfygit/pkg/cgerr"
)

// Node is one node instance in a workflow graph.
type Node struct {
	ID            json.Number       `json:"id"`
	Type          string            `json:"type"`
	WidgetsValues json.RawMessage   `json:"widgets_values,omitempty"`

	raw json.RawMessage
}

// Widgets decodes widgets_values when it is the common array form. Some
// custom nodes store an object instead; those return (nil, false).
func (n *Node) Widgets() ([]interface{}, bool) {
	if len(n.WidgetsValues) == 0 {
		return nil, false
	}
	var values []interface{}
	if err := json.Unmarshal(n.WidgetsValues, &values); err != nil {
		return nil, false
	}
	return values, true
}

// Raw returns the node's original JSON.
func (n *Node) Raw() json.RawMessage { return n.raw }

// Subgraph is a reusable graph definition under definitions.subgraphs. The
// full field set is retained verbatim in raw; only the fields the analyzer
// needs are decoded.
type Subgraph struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Nodes []Node `json:"nodes"`

	raw json.RawMessage
}

// Raw returns the subgraph's original JSON, every field intact.
func (s *Subgraph) Raw() json.RawMessage { return s.raw }

// Document is a parsed workflow. The original bytes are retained: the core
// never rewrites workflow JSON, so reconstruction is exact.
type Document struct {
	Nodes     []Node
	Subgraphs []Subgraph

	raw  []byte
	tree map[string]interface{}
}

type docEnvelope struct {
	Nodes       []json.RawMessage `json:"nodes"`
	Definitions *struct {
		Subgraphs []json.RawMessage `json:"subgraphs"`
	} `json:"definitions"`
}

// Parse decodes a workflow JSON document.
func Parse(raw []byte) (*Document, error) {
	var envelope docEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, cgerr.New(cgerr.KindUser, "workflow parse", "the file is not valid workflow JSON", err)
	}

	var tree map[string]interface{}
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, cgerr.New(cgerr.KindUser, "workflow parse", "the file is not valid workflow JSON", err)
	}

	doc := &Document{raw: append([]byte(nil), raw...), tree: tree}

	for i, rawNode := range envelope.Nodes {
		var n Node
		if err := json.Unmarshal(rawNode, &n); err != nil {
			return nil, cgerr.New(cgerr.KindUser, fmt.Sprintf("workflow parse: node %d", i), "", err)
		}
		n.raw = rawNode
		doc.Nodes = append(doc.Nodes, n)
	}

	if envelope.Definitions != nil {
		for i, rawSub := range envelope.Definitions.Subgraphs {
			var sg Subgraph
			if err := json.Unmarshal(rawSub, &sg); err != nil {
				return nil, cgerr.New(cgerr.KindUser, fmt.Sprintf("workflow parse: subgraph %d", i), "", err)
			}
			sg.raw = rawSub
			doc.Subgraphs = append(doc.Subgraphs, sg)
		}
	}

	return doc, nil
}

// Reconstruct returns the workflow bytes. Analysis never mutates the
// document, so this is the identity on the parsed input.
func (d *Document) Reconstruct() []byte {
	return append([]byte(nil), d.raw...)
}

// SubgraphIDs returns the set of defined subgraph UUIDs.
func (d *Document) SubgraphIDs() map[string]bool {
	ids := make(map[string]bool, len(d.Subgraphs))
	for _, sg := range d.Subgraphs {
		ids[sg.ID] = true
	}
	return ids
}

// IsSubgraphReference reports whether a node type instantiates a subgraph
// rather than naming a node class: the type is a defined subgraph id, or at
// least parses as a UUID.
func (d *Document) IsSubgraphReference(nodeType string) bool {
	if d.SubgraphIDs()[nodeType] {
		return true
	}
	_, err := uuid.Parse(nodeType)
	return err == nil
}

// FlatNode is a node with a scoped identity: top-level nodes keep their id,
// subgraph nodes get "<subgraph-uuid>:<inner-id>".
type FlatNode struct {
	ScopedID string
	Node     *Node
}

// Flatten produces the virtual node list: all top-level real nodes plus the
// nodes inside each subgraph. Subgraph reference nodes are skipped.
func (d *Document) Flatten() []FlatNode {
	var out []FlatNode
	for i := range d.Nodes {
		n := &d.Nodes[i]
		if d.IsSubgraphReference(n.Type) {
			continue
		}
		out = append(out, FlatNode{ScopedID: n.ID.String(), Node: n})
	}
	for si := range d.Subgraphs {
		sg := &d.Subgraphs[si]
		for ni := range sg.Nodes {
			n := &sg.Nodes[ni]
			if d.IsSubgraphReference(n.Type) {
				continue
			}
			out = append(out, FlatNode{
				ScopedID: fmt.Sprintf("%s:%s", sg.ID, n.ID.String()),
				Node:     n,
			})
		}
	}
	return out
}
