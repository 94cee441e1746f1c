// Package topology computes structural metrics over a reasoning graph.
//
// Metrics Implemented:
//   - Degree, in/out degree and degree centrality: deg(v) / (N-1)
//   - Local clustering coefficient: links among neighbors / possible links
//   - Density: 2E / (N(N-1)) for N > 1, else 0
//   - Average degree: 2E / N for N > 0, else 0
//   - Causal path search: best product-of-confidence path, hop-capped
//
// Metrics are informational. Nothing here gates correctness of the engine;
// the values are written into node metadata and extraction results.
//
// Usage Example:
//
//	adj := topology.Build(g, true)
//	fmt.Printf("clustering of 2.1: %.2f\n", adj.Clustering("2.1"))
//
//	path, ok := topology.CausalPath(g, "4.1.1.1", "3.1.1", topology.PathOptions{})
//	if ok {
//		fmt.Printf("%v (%.2f)\n", path.Nodes, path.Confidence)
//	}
//
// ELI12 (Explain Like I'm 12):
//
// Picture everyone in your class holding strings to their friends. Degree is
// how many strings you hold. Clustering asks "do my friends hold strings to
// each other too?" Density asks "out of every string that could exist, how
// many actually do?"
package topology

import (
	"github.com/orneryd/thoughtgraph/pkg/graph"
)

// Adjacency is a graph as an adjacency map.
//
// Example:
//
//	adj := Adjacency{
//		"n0":  {"2.1": {}, "2.2": {}},
//		"2.1": {"n0": {}},
//	}
type Adjacency map[graph.NodeID]NodeSet

// NodeSet is a set of node ids.
type NodeSet map[graph.NodeID]struct{}

// Build constructs an Adjacency from g. Self-loops are ignored.
//
// Parameters:
//   - g: the reasoning graph
//   - undirected: if true, every edge is added in both directions
func Build(g *graph.Graph, undirected bool) Adjacency {
	adj := make(Adjacency, g.NodeCount())
	for _, n := range g.Nodes() {
		adj[n.ID] = make(NodeSet)
	}
	for _, e := range g.Edges() {
		if e.Source == e.Target {
			continue
		}
		adj[e.Source][e.Target] = struct{}{}
		if undirected {
			adj[e.Target][e.Source] = struct{}{}
		}
	}
	return adj
}

// Contains checks if a node exists in a set.
func (ns NodeSet) Contains(id graph.NodeID) bool {
	_, exists := ns[id]
	return exists
}

// Size returns the number of nodes in the set.
func (ns NodeSet) Size() int {
	return len(ns)
}

// Degree returns the number of neighbors of node.
func (a Adjacency) Degree(node graph.NodeID) int {
	return len(a[node])
}

// Neighbors returns the neighbor set for a node.
func (a Adjacency) Neighbors(node graph.NodeID) NodeSet {
	if neighbors, exists := a[node]; exists {
		return neighbors
	}
	return make(NodeSet)
}

// Clustering returns the local clustering coefficient of node, treating the
// adjacency as undirected. Nodes with fewer than two neighbors score 0.
func (a Adjacency) Clustering(node graph.NodeID) float64 {
	neighbors := a.Neighbors(node)
	k := len(neighbors)
	if k < 2 {
		return 0
	}
	links := 0
	for u := range neighbors {
		for v := range neighbors {
			if u < v && (a[u].Contains(v) || a[v].Contains(u)) {
				links++
			}
		}
	}
	return float64(2*links) / float64(k*(k-1))
}

// Density is 2E / (N(N-1)) for N > 1, else 0.
func Density(nodes, edges int) float64 {
	if nodes <= 1 {
		return 0
	}
	return float64(2*edges) / float64(nodes*(nodes-1))
}

// AverageDegree is 2E / N, or 0 for an empty graph.
func AverageDegree(nodes, edges int) float64 {
	if nodes == 0 {
		return 0
	}
	return float64(2*edges) / float64(nodes)
}

// NodeMetrics computes metrics for one node from its local neighborhood only,
// so refreshing a handful of touched nodes does not rebuild the whole graph.
func NodeMetrics(g *graph.Graph, id graph.NodeID) graph.TopologyMetrics {
	neighbors := g.Neighbors(id)
	local := Adjacency{id: make(NodeSet, len(neighbors))}
	for _, n := range neighbors {
		local[id][n] = struct{}{}
		set := make(NodeSet)
		for _, m := range g.Neighbors(n) {
			set[m] = struct{}{}
		}
		local[n] = set
	}

	m := graph.TopologyMetrics{
		Degree:     len(neighbors),
		InDegree:   g.InDegree(id),
		OutDegree:  g.OutDegree(id),
		Clustering: local.Clustering(id),
	}
	if total := g.NodeCount(); total > 1 {
		m.DegreeCentrality = float64(len(neighbors)) / float64(total-1)
	}
	return m
}

// Refresh writes NodeMetrics into the metadata of every listed node that
// still exists.
func Refresh(g *graph.Graph, ids ...graph.NodeID) {
	for _, id := range ids {
		n, err := g.Node(id)
		if err != nil {
			continue
		}
		n.Metadata.Topology = NodeMetrics(g, id)
	}
}
