package graph

import (
	"fmt"
	"sort"
)

// Graph is an adjacency-list store of nodes, edges and hyperedges.
//
// Nodes, edges and hyperedges are kept in insertion order so iteration is
// deterministic. Each node has an outgoing and an incoming edge-id set for
// O(degree) traversal.
//
// Accessors return the stored pointers. Mutating a returned record mutates the
// graph; take a Clone first when the change must be discardable.
type Graph struct {
	nodes      map[NodeID]*Node
	edges      map[EdgeID]*Edge
	hyperedges map[HyperedgeID]*Hyperedge

	outgoing map[NodeID]map[EdgeID]struct{}
	incoming map[NodeID]map[EdgeID]struct{}

	nodeOrder      []NodeID
	edgeOrder      []EdgeID
	hyperedgeOrder []HyperedgeID

	// edgeSeq orders adjacency listings by insertion.
	edgeSeq map[EdgeID]uint64
	nextSeq uint64

	layers   []Layer
	counters Counters
}

// New creates an empty graph with the given layers. A nil slice means
// DefaultLayers().
func New(layers []Layer) *Graph {
	if layers == nil {
		layers = DefaultLayers()
	}
	g := &Graph{
		nodes:      make(map[NodeID]*Node),
		edges:      make(map[EdgeID]*Edge),
		hyperedges: make(map[HyperedgeID]*Hyperedge),
		outgoing:   make(map[NodeID]map[EdgeID]struct{}),
		incoming:   make(map[NodeID]map[EdgeID]struct{}),
		edgeSeq:    make(map[EdgeID]uint64),
		layers:     append([]Layer(nil), layers...),
		counters: Counters{
			Hypotheses: make(map[NodeID]int),
			Evidence:   make(map[NodeID]int),
		},
	}
	return g
}

// ===== Layers =====

// Layers returns a copy of the layer list.
func (g *Graph) Layers() []Layer {
	return append([]Layer(nil), g.layers...)
}

// HasLayer reports whether a layer id is registered.
func (g *Graph) HasLayer(id string) bool {
	for _, l := range g.layers {
		if l.ID == id {
			return true
		}
	}
	return false
}

// AddLayer registers a new layer.
func (g *Graph) AddLayer(l Layer) error {
	if l.ID == "" {
		return ErrInvalidID
	}
	if g.HasLayer(l.ID) {
		return fmt.Errorf("layer %s: %w", l.ID, ErrAlreadyExists)
	}
	g.layers = append(g.layers, l)
	return nil
}

// ===== Nodes =====

// AddNode validates and stores a node.
func (g *Graph) AddNode(n *Node) error {
	if err := n.Validate(); err != nil {
		return err
	}
	if _, exists := g.nodes[n.ID]; exists {
		return fmt.Errorf("node %s: %w", n.ID, ErrAlreadyExists)
	}
	if n.Metadata.LayerID != "" && !g.HasLayer(n.Metadata.LayerID) {
		return fmt.Errorf("%w: node %s references unknown layer %q", ErrInvalidData, n.ID, n.Metadata.LayerID)
	}
	n.Metadata.DisciplinaryTags = NormalizeTags(n.Metadata.DisciplinaryTags)
	g.nodes[n.ID] = n
	g.outgoing[n.ID] = make(map[EdgeID]struct{})
	g.incoming[n.ID] = make(map[EdgeID]struct{})
	g.nodeOrder = append(g.nodeOrder, n.ID)
	return nil
}

// Node returns the stored node or ErrNotFound.
func (g *Graph) Node(id NodeID) (*Node, error) {
	if id == "" {
		return nil, ErrInvalidID
	}
	n, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node %s: %w", id, ErrNotFound)
	}
	return n, nil
}

// HasNode reports whether id exists.
func (g *Graph) HasNode(id NodeID) bool {
	_, ok := g.nodes[id]
	return ok
}

// Nodes returns every node in insertion order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, 0, len(g.nodeOrder))
	for _, id := range g.nodeOrder {
		out = append(out, g.nodes[id])
	}
	return out
}

// NodesByKind returns nodes of one kind in insertion order.
func (g *Graph) NodesByKind(kind Kind) []*Node {
	var out []*Node
	for _, id := range g.nodeOrder {
		if n := g.nodes[id]; n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

// NodeCount returns the number of nodes.
func (g *Graph) NodeCount() int { return len(g.nodes) }

// RemoveNode deletes a node, its incident edges and any hyperedge that no
// longer qualifies. It returns the removed edge ids.
func (g *Graph) RemoveNode(id NodeID) ([]EdgeID, error) {
	if _, ok := g.nodes[id]; !ok {
		return nil, fmt.Errorf("node %s: %w", id, ErrNotFound)
	}

	var removed []EdgeID
	for _, eid := range g.sortedIncident(id) {
		g.removeEdge(eid)
		removed = append(removed, eid)
	}
	delete(g.outgoing, id)
	delete(g.incoming, id)
	delete(g.nodes, id)
	g.nodeOrder = removeID(g.nodeOrder, id)

	g.dropHyperedgesReferencing(id)
	return removed, nil
}

// ReplaceNode swaps every reference to any of olds for replacement, which
// must already be stored. Self-loops produced by the rewiring are dropped,
// as are duplicate edges of the same type between the same endpoints. The
// old nodes are removed.
func (g *Graph) ReplaceNode(olds []NodeID, replacement NodeID) error {
	if !g.HasNode(replacement) {
		return fmt.Errorf("replacement %s: %w", replacement, ErrNotFound)
	}
	oldSet := make(map[NodeID]bool, len(olds))
	for _, o := range olds {
		if !g.HasNode(o) {
			return fmt.Errorf("node %s: %w", o, ErrNotFound)
		}
		oldSet[o] = true
	}
	rewrite := func(id NodeID) NodeID {
		if oldSet[id] {
			return replacement
		}
		return id
	}

	for _, old := range olds {
		for _, eid := range g.sortedIncident(old) {
			e := g.edges[eid]
			src, dst := rewrite(e.Source), rewrite(e.Target)
			g.removeEdge(eid)
			if src == dst || g.hasParallel(src, dst, e.Type) {
				continue
			}
			e.Source, e.Target = src, dst
			g.insertEdge(e)
		}
	}

	for _, hid := range append([]HyperedgeID(nil), g.hyperedgeOrder...) {
		h := g.hyperedges[hid]
		h.Target = rewrite(h.Target)
		seen := make(map[NodeID]bool, len(h.MemberIDs))
		members := h.MemberIDs[:0]
		for _, m := range h.MemberIDs {
			m = rewrite(m)
			if seen[m] || m == h.Target {
				continue
			}
			seen[m] = true
			members = append(members, m)
		}
		h.MemberIDs = members
		if len(h.MemberIDs) < MinHyperedgeMembers {
			g.removeHyperedge(hid)
		}
	}

	for _, old := range olds {
		delete(g.outgoing, old)
		delete(g.incoming, old)
		delete(g.nodes, old)
		g.nodeOrder = removeID(g.nodeOrder, old)
	}
	return nil
}

// ===== Edges =====

// AddEdge validates and stores an edge between existing nodes.
func (g *Graph) AddEdge(e *Edge) error {
	if err := e.Validate(); err != nil {
		return err
	}
	if _, exists := g.edges[e.ID]; exists {
		return fmt.Errorf("edge %s: %w", e.ID, ErrAlreadyExists)
	}
	if !g.HasNode(e.Source) || !g.HasNode(e.Target) {
		return fmt.Errorf("edge %s (%s -> %s): %w", e.ID, e.Source, e.Target, ErrInvalidEdge)
	}
	g.insertEdge(e)
	return nil
}

// Edge returns the stored edge or ErrNotFound.
func (g *Graph) Edge(id EdgeID) (*Edge, error) {
	e, ok := g.edges[id]
	if !ok {
		return nil, fmt.Errorf("edge %s: %w", id, ErrNotFound)
	}
	return e, nil
}

// Edges returns every edge in insertion order.
func (g *Graph) Edges() []*Edge {
	out := make([]*Edge, 0, len(g.edgeOrder))
	for _, id := range g.edgeOrder {
		out = append(out, g.edges[id])
	}
	return out
}

// EdgeCount returns the number of edges.
func (g *Graph) EdgeCount() int { return len(g.edges) }

// RemoveEdge deletes one edge.
func (g *Graph) RemoveEdge(id EdgeID) error {
	if _, ok := g.edges[id]; !ok {
		return fmt.Errorf("edge %s: %w", id, ErrNotFound)
	}
	g.removeEdge(id)
	return nil
}

// Outgoing returns edges leaving id, ordered by edge id allocation.
func (g *Graph) Outgoing(id NodeID) []*Edge {
	return g.collect(g.outgoing[id])
}

// Incoming returns edges entering id, ordered by edge id allocation.
func (g *Graph) Incoming(id NodeID) []*Edge {
	return g.collect(g.incoming[id])
}

// OutDegree returns the number of edges leaving id.
func (g *Graph) OutDegree(id NodeID) int { return len(g.outgoing[id]) }

// InDegree returns the number of edges entering id.
func (g *Graph) InDegree(id NodeID) int { return len(g.incoming[id]) }

// Neighbors returns the distinct ids adjacent to id in either direction.
func (g *Graph) Neighbors(id NodeID) []NodeID {
	seen := make(map[NodeID]bool)
	var out []NodeID
	for _, e := range g.Outgoing(id) {
		if !seen[e.Target] {
			seen[e.Target] = true
			out = append(out, e.Target)
		}
	}
	for _, e := range g.Incoming(id) {
		if !seen[e.Source] {
			seen[e.Source] = true
			out = append(out, e.Source)
		}
	}
	return out
}

func (g *Graph) insertEdge(e *Edge) {
	g.edges[e.ID] = e
	g.outgoing[e.Source][e.ID] = struct{}{}
	g.incoming[e.Target][e.ID] = struct{}{}
	g.edgeOrder = append(g.edgeOrder, e.ID)
	g.nextSeq++
	g.edgeSeq[e.ID] = g.nextSeq
}

func (g *Graph) removeEdge(id EdgeID) {
	e := g.edges[id]
	if e == nil {
		return
	}
	if out := g.outgoing[e.Source]; out != nil {
		delete(out, id)
	}
	if in := g.incoming[e.Target]; in != nil {
		delete(in, id)
	}
	delete(g.edges, id)
	delete(g.edgeSeq, id)
	g.edgeOrder = removeID(g.edgeOrder, id)
}

func (g *Graph) hasParallel(src, dst NodeID, t EdgeType) bool {
	for eid := range g.outgoing[src] {
		e := g.edges[eid]
		if e.Target == dst && e.Type == t {
			return true
		}
	}
	return false
}

func (g *Graph) sortedIncident(id NodeID) []EdgeID {
	ids := make([]EdgeID, 0, len(g.outgoing[id])+len(g.incoming[id]))
	for eid := range g.outgoing[id] {
		ids = append(ids, eid)
	}
	for eid := range g.incoming[id] {
		if _, dup := g.outgoing[id][eid]; !dup {
			ids = append(ids, eid)
		}
	}
	g.sortEdgeIDs(ids)
	return ids
}

func (g *Graph) collect(set map[EdgeID]struct{}) []*Edge {
	ids := make([]EdgeID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	g.sortEdgeIDs(ids)
	out := make([]*Edge, 0, len(ids))
	for _, id := range ids {
		out = append(out, g.edges[id])
	}
	return out
}

func (g *Graph) sortEdgeIDs(ids []EdgeID) {
	sort.Slice(ids, func(i, j int) bool { return g.edgeSeq[ids[i]] < g.edgeSeq[ids[j]] })
}

// ===== Hyperedges =====

// AddHyperedge validates and stores a hyperedge over existing nodes.
func (g *Graph) AddHyperedge(h *Hyperedge) error {
	if err := h.Validate(); err != nil {
		return err
	}
	if _, exists := g.hyperedges[h.ID]; exists {
		return fmt.Errorf("hyperedge %s: %w", h.ID, ErrAlreadyExists)
	}
	if !g.HasNode(h.Target) {
		return fmt.Errorf("hyperedge %s target %s: %w", h.ID, h.Target, ErrNotFound)
	}
	for _, m := range h.MemberIDs {
		if !g.HasNode(m) {
			return fmt.Errorf("hyperedge %s member %s: %w", h.ID, m, ErrNotFound)
		}
	}
	g.hyperedges[h.ID] = h
	g.hyperedgeOrder = append(g.hyperedgeOrder, h.ID)
	return nil
}

// Hyperedges returns every hyperedge in insertion order.
func (g *Graph) Hyperedges() []*Hyperedge {
	out := make([]*Hyperedge, 0, len(g.hyperedgeOrder))
	for _, id := range g.hyperedgeOrder {
		out = append(out, g.hyperedges[id])
	}
	return out
}

// HyperedgeFor returns the hyperedge targeting id with the given descriptor.
func (g *Graph) HyperedgeFor(target NodeID, descriptor string) (*Hyperedge, bool) {
	for _, id := range g.hyperedgeOrder {
		h := g.hyperedges[id]
		if h.Target == target && h.Descriptor == descriptor {
			return h, true
		}
	}
	return nil, false
}

func (g *Graph) removeHyperedge(id HyperedgeID) {
	delete(g.hyperedges, id)
	g.hyperedgeOrder = removeID(g.hyperedgeOrder, id)
}

// dropHyperedgesReferencing removes id from every hyperedge and drops the
// ones that lose their target or fall below the member minimum.
func (g *Graph) dropHyperedgesReferencing(id NodeID) {
	for _, hid := range append([]HyperedgeID(nil), g.hyperedgeOrder...) {
		h := g.hyperedges[hid]
		if h.Target == id {
			g.removeHyperedge(hid)
			continue
		}
		members := h.MemberIDs[:0]
		for _, m := range h.MemberIDs {
			if m != id {
				members = append(members, m)
			}
		}
		h.MemberIDs = members
		if len(h.MemberIDs) < MinHyperedgeMembers {
			g.removeHyperedge(hid)
		}
	}
}

func removeID[T comparable](ids []T, id T) []T {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
