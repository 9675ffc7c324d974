package deduction

// Snapshot is a serializable copy of the graph, used in session snapshots.
type Snapshot struct {
	Nodes  []Node `json:"nodes" msgpack:"nodes"`
	Edges  []Edge `json:"edges" msgpack:"edges"`
	Frozen bool   `json:"frozen" msgpack:"frozen"`
}

// Snapshot copies the graph into a serializable form, preserving insertion
// order.
func (g *Graph) Snapshot() *Snapshot {
	s := &Snapshot{Frozen: g.frozen}
	for _, id := range g.nodeOrder {
		s.Nodes = append(s.Nodes, *g.nodes[id])
	}
	for _, id := range g.edgeOrder {
		s.Edges = append(s.Edges, *g.edges[id])
	}
	return s
}

// FromSnapshot rebuilds a graph from a snapshot. A nil snapshot yields an
// empty graph.
func FromSnapshot(s *Snapshot) *Graph {
	g := NewGraph()
	if s == nil {
		return g
	}
	for _, n := range s.Nodes {
		cp := n
		g.nodes[n.ID] = &cp
		g.nodeOrder = append(g.nodeOrder, n.ID)
	}
	for _, e := range s.Edges {
		cp := e
		g.edges[e.ID] = &cp
		g.edgeOrder = append(g.edgeOrder, e.ID)
		g.out[e.Source] = append(g.out[e.Source], e.ID)
	}
	g.frozen = s.Frozen
	return g
}
