package graph

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Id scheme:
//
//	n0            root
//	2.<k>         dimension k
//	3.<d>.<k>     hypothesis k of dimension d
//	4.<d>.<h>.<k> evidence k of hypothesis 3.<d>.<h>
//	b.<n> m.<n> g.<n>  bridge, merged and knowledge-gap nodes
//	e.<n> h.<n>   edges and hyperedges
//
// Counters only ever grow, so an id is never reused within a graph even after
// the node it named has been pruned.

var (
	dimensionPattern  = regexp.MustCompile(`^2\.([1-9][0-9]*)$`)
	hypothesisPattern = regexp.MustCompile(`^3\.([1-9][0-9]*)\.([1-9][0-9]*)$`)
)

// Counters holds the id allocation state of a graph.
type Counters struct {
	Dimensions int            `json:"dimensions" yaml:"dimensions"`
	Hypotheses map[NodeID]int `json:"hypotheses,omitempty" yaml:"hypotheses,omitempty"`
	Evidence   map[NodeID]int `json:"evidence,omitempty" yaml:"evidence,omitempty"`
	Edges      int            `json:"edges" yaml:"edges"`
	Hyperedges int            `json:"hyperedges" yaml:"hyperedges"`
	Bridges    int            `json:"bridges" yaml:"bridges"`
	Merged     int            `json:"merged" yaml:"merged"`
	Gaps       int            `json:"gaps" yaml:"gaps"`
}

func (c Counters) clone() Counters {
	out := c
	out.Hypotheses = make(map[NodeID]int, len(c.Hypotheses))
	for k, v := range c.Hypotheses {
		out.Hypotheses[k] = v
	}
	out.Evidence = make(map[NodeID]int, len(c.Evidence))
	for k, v := range c.Evidence {
		out.Evidence[k] = v
	}
	return out
}

// DimensionID formats the id of dimension ordinal k.
func DimensionID(k int) NodeID {
	return NodeID(fmt.Sprintf("2.%d", k))
}

// HypothesisID formats the id of hypothesis k under dimension ordinal d.
func HypothesisID(d, k int) NodeID {
	return NodeID(fmt.Sprintf("3.%d.%d", d, k))
}

// EvidenceID formats the id of evidence k for hypothesis 3.<d>.<h>.
func EvidenceID(d, h, k int) NodeID {
	return NodeID(fmt.Sprintf("4.%d.%d.%d", d, h, k))
}

// IsDimensionID reports whether id has the dimension shape.
func IsDimensionID(id NodeID) bool {
	return dimensionPattern.MatchString(string(id))
}

// IsHypothesisID reports whether id has the hypothesis shape.
func IsHypothesisID(id NodeID) bool {
	return hypothesisPattern.MatchString(string(id))
}

// DimensionOrdinal parses the k out of "2.<k>".
func DimensionOrdinal(id NodeID) (int, error) {
	m := dimensionPattern.FindStringSubmatch(string(id))
	if m == nil {
		return 0, fmt.Errorf("%w: %q is not a dimension id", ErrInvalidID, id)
	}
	return strconv.Atoi(m[1])
}

// HypothesisOrdinals parses d and k out of "3.<d>.<k>".
func HypothesisOrdinals(id NodeID) (d, k int, err error) {
	m := hypothesisPattern.FindStringSubmatch(string(id))
	if m == nil {
		return 0, 0, fmt.Errorf("%w: %q is not a hypothesis id", ErrInvalidID, id)
	}
	d, _ = strconv.Atoi(m[1])
	k, _ = strconv.Atoi(m[2])
	return d, k, nil
}

// NextDimensionID allocates the next dimension id.
func (g *Graph) NextDimensionID() NodeID {
	g.counters.Dimensions++
	return DimensionID(g.counters.Dimensions)
}

// NextHypothesisID allocates the next hypothesis id under dimension.
func (g *Graph) NextHypothesisID(dimension NodeID) (NodeID, error) {
	d, err := DimensionOrdinal(dimension)
	if err != nil {
		return "", err
	}
	g.counters.Hypotheses[dimension]++
	return HypothesisID(d, g.counters.Hypotheses[dimension]), nil
}

// NextEvidenceID allocates the next evidence id for hypothesis. Merged
// hypotheses take their numbering from the merged id.
func (g *Graph) NextEvidenceID(hypothesis NodeID) NodeID {
	g.counters.Evidence[hypothesis]++
	k := g.counters.Evidence[hypothesis]
	if d, h, err := HypothesisOrdinals(hypothesis); err == nil {
		return EvidenceID(d, h, k)
	}
	return NodeID(fmt.Sprintf("4.%s.%d", strings.ReplaceAll(string(hypothesis), ".", "_"), k))
}

// NextEdgeID allocates an edge id.
func (g *Graph) NextEdgeID() EdgeID {
	g.counters.Edges++
	return EdgeID(fmt.Sprintf("e.%d", g.counters.Edges))
}

// NextHyperedgeID allocates a hyperedge id.
func (g *Graph) NextHyperedgeID() HyperedgeID {
	g.counters.Hyperedges++
	return HyperedgeID(fmt.Sprintf("h.%d", g.counters.Hyperedges))
}

// NextBridgeID allocates a bridge node id.
func (g *Graph) NextBridgeID() NodeID {
	g.counters.Bridges++
	return NodeID(fmt.Sprintf("b.%d", g.counters.Bridges))
}

// NextMergedID allocates a merged node id.
func (g *Graph) NextMergedID() NodeID {
	g.counters.Merged++
	return NodeID(fmt.Sprintf("m.%d", g.counters.Merged))
}

// NextGapID allocates a knowledge-gap node id.
func (g *Graph) NextGapID() NodeID {
	g.counters.Gaps++
	return NodeID(fmt.Sprintf("g.%d", g.counters.Gaps))
}

// Counters returns a copy of the id allocation state.
func (g *Graph) Counters() Counters {
	return g.counters.clone()
}
