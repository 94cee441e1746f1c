package topology

import (
	"github.com/orneryd/thoughtgraph/pkg/graph"
)

// DefaultMaxDepth bounds causal path search when PathOptions.MaxDepth is 0.
const DefaultMaxDepth = 8

// Path is a directed walk through the graph.
type Path struct {
	Nodes      []graph.NodeID `json:"nodes"`
	Edges      []graph.EdgeID `json:"edges"`
	Confidence float64        `json:"confidence"`
}

// PathOptions configures CausalPath.
type PathOptions struct {
	// MaxDepth caps the number of hops. Zero means DefaultMaxDepth.
	MaxDepth int
	// Follow selects traversable edges. Nil follows Causal edges only.
	Follow func(*graph.Edge) bool
}

type label struct {
	path  []graph.NodeID
	edges []graph.EdgeID
	score float64
}

// CausalPath finds the path from→to with the highest product of edge
// confidences using at most MaxDepth hops.
//
// The search expands breadth-first, one hop per round, and only keeps a
// partial path when it strictly beats every earlier path to the same node.
// Edge confidences never exceed 1, so going around a cycle can never win and
// the search terminates on cyclic graphs. When cycles make several routes
// possible, the best one found within the cap is returned.
func CausalPath(g *graph.Graph, from, to graph.NodeID, opts PathOptions) (Path, bool) {
	if !g.HasNode(from) || !g.HasNode(to) {
		return Path{}, false
	}
	if from == to {
		return Path{Nodes: []graph.NodeID{from}, Confidence: 1}, true
	}
	maxDepth := opts.MaxDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	follow := opts.Follow
	if follow == nil {
		follow = func(e *graph.Edge) bool { return e.Type == graph.EdgeCausal }
	}

	best := map[graph.NodeID]float64{from: 1}
	frontier := []label{{path: []graph.NodeID{from}, score: 1}}
	var found *label

	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		var next []label
		for _, cur := range frontier {
			tail := cur.path[len(cur.path)-1]
			for _, e := range g.Outgoing(tail) {
				if !follow(e) {
					continue
				}
				score := cur.score * e.Confidence
				if prev, seen := best[e.Target]; seen && score <= prev {
					continue
				}
				best[e.Target] = score
				l := label{
					path:  append(append([]graph.NodeID(nil), cur.path...), e.Target),
					edges: append(append([]graph.EdgeID(nil), cur.edges...), e.ID),
					score: score,
				}
				if e.Target == to {
					found = &l
					continue
				}
				next = append(next, l)
			}
		}
		frontier = next
	}

	if found == nil {
		return Path{}, false
	}
	return Path{Nodes: found.path, Edges: found.edges, Confidence: found.score}, true
}
