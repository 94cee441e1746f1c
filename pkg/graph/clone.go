package graph

import (
	"fmt"
)

// Snapshot is a self-contained, deep-copied view of a graph. It is the unit
// of export and persistence.
type Snapshot struct {
	Nodes      []*Node      `json:"nodes" yaml:"nodes"`
	Edges      []*Edge      `json:"edges" yaml:"edges"`
	Hyperedges []*Hyperedge `json:"hyperedges" yaml:"hyperedges"`
	Layers     []Layer      `json:"layers" yaml:"layers"`
	Counters   Counters     `json:"counters" yaml:"counters"`
}

// Clone returns a deep copy of the graph.
func (g *Graph) Clone() *Graph {
	c := &Graph{
		nodes:          make(map[NodeID]*Node, len(g.nodes)),
		edges:          make(map[EdgeID]*Edge, len(g.edges)),
		hyperedges:     make(map[HyperedgeID]*Hyperedge, len(g.hyperedges)),
		outgoing:       make(map[NodeID]map[EdgeID]struct{}, len(g.outgoing)),
		incoming:       make(map[NodeID]map[EdgeID]struct{}, len(g.incoming)),
		nodeOrder:      append([]NodeID(nil), g.nodeOrder...),
		edgeOrder:      append([]EdgeID(nil), g.edgeOrder...),
		hyperedgeOrder: append([]HyperedgeID(nil), g.hyperedgeOrder...),
		edgeSeq:        make(map[EdgeID]uint64, len(g.edgeSeq)),
		nextSeq:        g.nextSeq,
		layers:         append([]Layer(nil), g.layers...),
		counters:       g.counters.clone(),
	}
	for id, n := range g.nodes {
		c.nodes[id] = CopyNode(n)
	}
	for id, e := range g.edges {
		c.edges[id] = CopyEdge(e)
	}
	for id, h := range g.hyperedges {
		c.hyperedges[id] = CopyHyperedge(h)
	}
	for id, set := range g.outgoing {
		c.outgoing[id] = copySet(set)
	}
	for id, set := range g.incoming {
		c.incoming[id] = copySet(set)
	}
	for id, seq := range g.edgeSeq {
		c.edgeSeq[id] = seq
	}
	return c
}

// Snapshot returns a deep-copied snapshot in insertion order.
func (g *Graph) Snapshot() *Snapshot {
	s := &Snapshot{
		Nodes:      make([]*Node, 0, len(g.nodeOrder)),
		Edges:      make([]*Edge, 0, len(g.edgeOrder)),
		Hyperedges: make([]*Hyperedge, 0, len(g.hyperedgeOrder)),
		Layers:     g.Layers(),
		Counters:   g.counters.clone(),
	}
	for _, n := range g.Nodes() {
		s.Nodes = append(s.Nodes, CopyNode(n))
	}
	for _, e := range g.Edges() {
		s.Edges = append(s.Edges, CopyEdge(e))
	}
	for _, h := range g.Hyperedges() {
		s.Hyperedges = append(s.Hyperedges, CopyHyperedge(h))
	}
	return s
}

// FromSnapshot rebuilds a graph. The snapshot is copied, not adopted.
func FromSnapshot(s *Snapshot) (*Graph, error) {
	if s == nil {
		return nil, ErrInvalidData
	}
	layers := s.Layers
	if len(layers) == 0 {
		layers = DefaultLayers()
	}
	g := New(layers)
	for _, n := range s.Nodes {
		if err := g.AddNode(CopyNode(n)); err != nil {
			return nil, fmt.Errorf("restoring node: %w", err)
		}
	}
	for _, e := range s.Edges {
		if err := g.AddEdge(CopyEdge(e)); err != nil {
			return nil, fmt.Errorf("restoring edge: %w", err)
		}
	}
	for _, h := range s.Hyperedges {
		if err := g.AddHyperedge(CopyHyperedge(h)); err != nil {
			return nil, fmt.Errorf("restoring hyperedge: %w", err)
		}
	}
	g.counters = s.Counters.clone()
	return g, nil
}

// CopyNode deep-copies a node.
func CopyNode(n *Node) *Node {
	if n == nil {
		return nil
	}
	c := *n
	c.Metadata.DisciplinaryTags = copyStrings(n.Metadata.DisciplinaryTags)
	c.Metadata.BiasFlags = copyStrings(n.Metadata.BiasFlags)
	c.Metadata.Attribution = copyStrings(n.Metadata.Attribution)
	if n.Metadata.RevisionHistory != nil {
		c.Metadata.RevisionHistory = append([]Revision(nil), n.Metadata.RevisionHistory...)
	}
	if n.Metadata.ConfidenceVariance != nil {
		v := *n.Metadata.ConfidenceVariance
		c.Metadata.ConfidenceVariance = &v
	}
	if n.Hypothesis != nil {
		h := *n.Hypothesis
		h.ResearchPlan = copyStrings(n.Hypothesis.ResearchPlan)
		c.Hypothesis = &h
	}
	if n.Evidence != nil {
		e := *n.Evidence
		e.Sources = copyStrings(n.Evidence.Sources)
		if n.Evidence.StatisticalPower != nil {
			sp := *n.Evidence.StatisticalPower
			if sp.ConfidenceInterval != nil {
				sp.ConfidenceInterval = append([]float64(nil), sp.ConfidenceInterval...)
			}
			e.StatisticalPower = &sp
		}
		c.Evidence = &e
	}
	if n.Bridge != nil {
		c.Bridge = &BridgeDetails{SourceIDs: append([]NodeID(nil), n.Bridge.SourceIDs...)}
	}
	if n.Merged != nil {
		c.Merged = &MergedDetails{
			OriginalIDs:  append([]NodeID(nil), n.Merged.OriginalIDs...),
			OriginalKind: n.Merged.OriginalKind,
		}
	}
	if n.Gap != nil {
		gap := *n.Gap
		c.Gap = &gap
	}
	return &c
}

// CopyEdge deep-copies an edge.
func CopyEdge(e *Edge) *Edge {
	if e == nil {
		return nil
	}
	c := *e
	if e.Causal != nil {
		causal := *e.Causal
		causal.Confounders = copyStrings(e.Causal.Confounders)
		c.Causal = &causal
	}
	if e.Temporal != nil {
		temporal := *e.Temporal
		c.Temporal = &temporal
	}
	return &c
}

// CopyHyperedge deep-copies a hyperedge.
func CopyHyperedge(h *Hyperedge) *Hyperedge {
	if h == nil {
		return nil
	}
	c := *h
	c.MemberIDs = append([]NodeID(nil), h.MemberIDs...)
	return &c
}

func copyStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}

func copySet(set map[EdgeID]struct{}) map[EdgeID]struct{} {
	out := make(map[EdgeID]struct{}, len(set))
	for k := range set {
		out[k] = struct{}{}
	}
	return out
}

// Verify checks every structural invariant and returns the first violation
// wrapped in ErrInconsistent. When requireRoot is set the root node must be
// present.
func (g *Graph) Verify(requireRoot bool) error {
	fail := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInconsistent, fmt.Sprintf(format, args...))
	}

	if len(g.nodes) != len(g.nodeOrder) || len(g.edges) != len(g.edgeOrder) || len(g.hyperedges) != len(g.hyperedgeOrder) {
		return fail("order index out of sync with records")
	}

	if requireRoot {
		root, ok := g.nodes[RootID]
		if !ok {
			return fail("root node %s missing", RootID)
		}
		if root.Kind != KindRoot {
			return fail("root node %s has kind %s", RootID, root.Kind)
		}
	}

	for _, id := range g.nodeOrder {
		n, ok := g.nodes[id]
		if !ok {
			return fail("ordered node %s has no record", id)
		}
		if err := n.Validate(); err != nil {
			return fail("%v", err)
		}
		switch n.Kind {
		case KindRoot:
			if n.ID != RootID {
				return fail("root kind on non-root id %s", n.ID)
			}
		case KindDimension:
			if !IsDimensionID(n.ID) {
				return fail("dimension id %s does not match 2.<k>", n.ID)
			}
		case KindHypothesis:
			if !IsHypothesisID(n.ID) {
				return fail("hypothesis id %s does not match 3.<dim>.<k>", n.ID)
			}
		}
		if _, ok := g.outgoing[id]; !ok {
			return fail("node %s has no adjacency entry", id)
		}
	}

	for _, id := range g.edgeOrder {
		e, ok := g.edges[id]
		if !ok {
			return fail("ordered edge %s has no record", id)
		}
		if !g.HasNode(e.Source) || !g.HasNode(e.Target) {
			return fail("edge %s references missing node (%s -> %s)", e.ID, e.Source, e.Target)
		}
		if _, ok := g.outgoing[e.Source][id]; !ok {
			return fail("edge %s missing from outgoing list of %s", id, e.Source)
		}
		if _, ok := g.incoming[e.Target][id]; !ok {
			return fail("edge %s missing from incoming list of %s", id, e.Target)
		}
	}
	for nid, set := range g.outgoing {
		for eid := range set {
			if _, ok := g.edges[eid]; !ok {
				return fail("node %s lists dangling edge %s", nid, eid)
			}
		}
	}

	for _, id := range g.hyperedgeOrder {
		h, ok := g.hyperedges[id]
		if !ok {
			return fail("ordered hyperedge %s has no record", id)
		}
		if err := h.Validate(); err != nil {
			return fail("%v", err)
		}
		if !g.HasNode(h.Target) {
			return fail("hyperedge %s targets missing node %s", id, h.Target)
		}
		for _, m := range h.MemberIDs {
			if !g.HasNode(m) {
				return fail("hyperedge %s member %s missing", id, m)
			}
		}
	}
	return nil
}

// ReachableFrom returns the set of nodes reachable from start following edges
// in either direction.
func (g *Graph) ReachableFrom(start NodeID) map[NodeID]bool {
	seen := map[NodeID]bool{}
	if !g.HasNode(start) {
		return seen
	}
	queue := []NodeID{start}
	seen[start] = true
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range g.Neighbors(cur) {
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	return seen
}

// CutNodes returns the nodes whose removal would leave some other node
// without a path to root, following edges in either direction. Root itself
// is never reported, and nodes already unreachable from root never are.
func (g *Graph) CutNodes(root NodeID) map[NodeID]bool {
	cut := map[NodeID]bool{}
	if !g.HasNode(root) {
		return cut
	}
	disc := make(map[NodeID]int, len(g.nodes))
	low := make(map[NodeID]int, len(g.nodes))

	var visit func(v NodeID, via EdgeID)
	visit = func(v NodeID, via EdgeID) {
		disc[v] = len(disc) + 1
		low[v] = disc[v]
		for _, eid := range g.sortedIncident(v) {
			if eid == via {
				continue
			}
			e := g.edges[eid]
			w := e.Target
			if w == v {
				w = e.Source
			}
			if w == v {
				continue
			}
			if d, seen := disc[w]; seen {
				low[v] = min(low[v], d)
				continue
			}
			visit(w, eid)
			low[v] = min(low[v], low[w])
			if v != root && low[w] >= disc[v] {
				cut[v] = true
			}
		}
	}
	visit(root, "")
	return cut
}
