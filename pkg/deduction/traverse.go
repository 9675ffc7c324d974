package deduction

// Verdict is the outcome of evaluating the deduction graph.
type Verdict struct {
	// SuspectID is the implicated suspect, or "" when no implicates
	// edge reaches a suspect.
	SuspectID string

	// Counts holds the per-suspect implication counters.
	Counts map[string]int
}

// ComputeImplicatedSuspect runs a depth-first traversal from every node
// and counts, per suspect, the implicates edges encountered. The visited
// set is per branch: a node is marked on entry and unmarked on exit, so a
// diamond (two distinct paths to the same node) is explored twice while a
// true cycle cannot recurse forever. The suspect with the highest counter
// wins; ties go to the suspect first encountered in traversal order.
func (g *Graph) ComputeImplicatedSuspect() Verdict {
	counts := make(map[string]int)
	var firstSeen []string
	seen := make(map[string]bool)

	onBranch := make(map[string]bool)

	var visit func(nodeID string)
	visit = func(nodeID string) {
		if onBranch[nodeID] {
			return
		}
		onBranch[nodeID] = true
		defer delete(onBranch, nodeID)

		for _, edgeID := range g.out[nodeID] {
			e := g.edges[edgeID]
			if e.Type == EdgeImplicates {
				if target := g.nodes[e.Target]; target != nil && target.Type == NodeSuspect {
					sid := target.SuspectID
					counts[sid]++
					if !seen[sid] {
						seen[sid] = true
						firstSeen = append(firstSeen, sid)
					}
				}
			}
			visit(e.Target)
		}
	}

	for _, id := range g.nodeOrder {
		visit(id)
	}

	v := Verdict{Counts: counts}
	best := 0
	for _, sid := range firstSeen {
		if counts[sid] > best {
			best = counts[sid]
			v.SuspectID = sid
		}
	}
	return v
}

// Warmth derives a feedback score in [0,100] from the density of support
// behind the implicated suspect. It grows monotonically with the number
// of implicates/supports edges that point directly at the implicated
// suspect's node and saturates toward 100.
func (g *Graph) Warmth() int {
	verdict := g.ComputeImplicatedSuspect()
	if verdict.SuspectID == "" {
		return 0
	}

	n := 0
	for _, id := range g.edgeOrder {
		e := g.edges[id]
		if e.Type == EdgeContradicts {
			continue
		}
		target := g.nodes[e.Target]
		if target != nil && target.Type == NodeSuspect && target.SuspectID == verdict.SuspectID {
			n++
		}
	}
	// n/(n+2) maps 1 edge to 33, 2 to 50, 6 to 75, approaching 100.
	return 100 * n / (n + 2)
}
