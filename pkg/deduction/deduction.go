// Package deduction maintains the player-built graph of statements,
// evidence, and suspects and computes which suspect the graph implicates.
// The graph is user-editable and may contain cycles; traversal keeps a
// per-branch visited set so cycles terminate while diamond shapes are
// still fully explored.
package deduction

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Sentinel errors.
var (
	// ErrGraphFrozen is returned for mutations after the graph is frozen.
	ErrGraphFrozen = errors.New("deduction: graph frozen")

	// ErrNodeNotFound is returned when an edge endpoint does not exist.
	ErrNodeNotFound = errors.New("deduction: node not found")

	// ErrEdgeNotFound is returned when removing an unknown edge.
	ErrEdgeNotFound = errors.New("deduction: edge not found")

	// ErrDuplicateNode is returned when adding a node with a taken ID.
	ErrDuplicateNode = errors.New("deduction: duplicate node")
)

// NodeType classifies a graph node.
type NodeType int

const (
	NodeUnknown NodeType = iota
	NodeStatement
	NodeEvidence
	NodeSuspect
)

// String returns the string representation of the node type.
func (nt NodeType) String() string {
	switch nt {
	case NodeStatement:
		return "statement"
	case NodeEvidence:
		return "evidence"
	case NodeSuspect:
		return "suspect"
	default:
		return "unknown"
	}
}

// MarshalJSON implements json.Marshaler.
func (nt NodeType) MarshalJSON() ([]byte, error) {
	return json.Marshal(nt.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (nt *NodeType) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	switch name {
	case "statement":
		*nt = NodeStatement
	case "evidence":
		*nt = NodeEvidence
	case "suspect":
		*nt = NodeSuspect
	default:
		*nt = NodeUnknown
	}
	return nil
}

// EdgeType classifies a directed edge.
type EdgeType int

const (
	EdgeUnknown EdgeType = iota
	EdgeImplicates
	EdgeSupports
	EdgeContradicts
)

// String returns the string representation of the edge type.
func (et EdgeType) String() string {
	switch et {
	case EdgeImplicates:
		return "implicates"
	case EdgeSupports:
		return "supports"
	case EdgeContradicts:
		return "contradicts"
	default:
		return "unknown"
	}
}

// MarshalJSON implements json.Marshaler.
func (et EdgeType) MarshalJSON() ([]byte, error) {
	return json.Marshal(et.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (et *EdgeType) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	switch name {
	case "implicates":
		*et = EdgeImplicates
	case "supports":
		*et = EdgeSupports
	case "contradicts":
		*et = EdgeContradicts
	default:
		*et = EdgeUnknown
	}
	return nil
}

// Node is an element of the deduction graph.
type Node struct {
	ID   string   `json:"id" msgpack:"id"`
	Type NodeType `json:"type" msgpack:"type"`

	// Speaker and Text carry the payload for statement/evidence nodes.
	Speaker string `json:"speaker,omitempty" msgpack:"speaker,omitempty"`
	Text    string `json:"text,omitempty" msgpack:"text,omitempty"`

	// SuspectID identifies the suspect for suspect nodes.
	SuspectID string `json:"suspect_id,omitempty" msgpack:"suspect_id,omitempty"`
}

// Edge is a typed directed edge between two nodes (a "lead").
type Edge struct {
	ID     string   `json:"id" msgpack:"id"`
	Source string   `json:"source" msgpack:"source"`
	Target string   `json:"target" msgpack:"target"`
	Type   EdgeType `json:"type" msgpack:"type"`
}

// Graph is the deduction graph arena. It is not safe for concurrent use;
// the owning session worker serializes all access.
type Graph struct {
	nodes     map[string]*Node
	nodeOrder []string
	edges     map[string]*Edge
	edgeOrder []string
	out       map[string][]string // node ID -> outgoing edge IDs, insertion order
	frozen    bool
}

// NewGraph creates an empty deduction graph.
func NewGraph() *Graph {
	return &Graph{
		nodes: make(map[string]*Node),
		edges: make(map[string]*Edge),
		out:   make(map[string][]string),
	}
}

// AddNode inserts a node. The ID must be unique; an empty ID is assigned
// one. Suspect nodes must carry a SuspectID.
func (g *Graph) AddNode(n Node) (*Node, error) {
	if g.frozen {
		return nil, ErrGraphFrozen
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if _, ok := g.nodes[n.ID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateNode, n.ID)
	}
	if n.Type == NodeSuspect && n.SuspectID == "" {
		return nil, fmt.Errorf("deduction: suspect node %s has no suspect id", n.ID)
	}
	cp := n
	g.nodes[n.ID] = &cp
	g.nodeOrder = append(g.nodeOrder, n.ID)
	return &cp, nil
}

// AddEdge inserts a directed edge between two existing nodes.
func (g *Graph) AddEdge(source, target string, typ EdgeType) (*Edge, error) {
	if g.frozen {
		return nil, ErrGraphFrozen
	}
	if _, ok := g.nodes[source]; !ok {
		return nil, fmt.Errorf("%w: source %s", ErrNodeNotFound, source)
	}
	if _, ok := g.nodes[target]; !ok {
		return nil, fmt.Errorf("%w: target %s", ErrNodeNotFound, target)
	}
	e := &Edge{
		ID:     uuid.NewString(),
		Source: source,
		Target: target,
		Type:   typ,
	}
	g.edges[e.ID] = e
	g.edgeOrder = append(g.edgeOrder, e.ID)
	g.out[source] = append(g.out[source], e.ID)
	return e, nil
}

// RemoveEdge deletes an edge by ID.
func (g *Graph) RemoveEdge(id string) error {
	if g.frozen {
		return ErrGraphFrozen
	}
	e, ok := g.edges[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrEdgeNotFound, id)
	}
	delete(g.edges, id)
	g.edgeOrder = remove(g.edgeOrder, id)
	g.out[e.Source] = remove(g.out[e.Source], id)
	return nil
}

func remove(s []string, v string) []string {
	for i, x := range s {
		if x == v {
			return append(s[:i], s[i+1:]...)
		}
	}
	return s
}

// Freeze makes the graph read-only. Safe to call twice.
func (g *Graph) Freeze() {
	g.frozen = true
}

// Frozen reports whether the graph is read-only.
func (g *Graph) Frozen() bool {
	return g.frozen
}

// Node returns the node with the given ID, or nil.
func (g *Graph) Node(id string) *Node {
	return g.nodes[id]
}

// Nodes returns all nodes in insertion order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, 0, len(g.nodeOrder))
	for _, id := range g.nodeOrder {
		out = append(out, g.nodes[id])
	}
	return out
}

// Edges returns all edges in insertion order.
func (g *Graph) Edges() []*Edge {
	out := make([]*Edge, 0, len(g.edgeOrder))
	for _, id := range g.edgeOrder {
		out = append(out, g.edges[id])
	}
	return out
}
