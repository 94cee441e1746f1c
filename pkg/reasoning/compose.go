package reasoning

import (
	"time"

	"github.com/orneryd/thoughtgraph/pkg/graph"
)

// ComposeOutput emits one structured claim per hypothesis in the latest
// extraction and moves the engine from stage 6 to 7.
//
// Claims reference their hypothesis node, the types of the edges that
// evidence attaches with (Hypothesis when there is no evidence) and the
// evidence ids. No node or edge is changed;
// turning claims into prose is left to the caller.
func (e *Engine) ComposeOutput(opts ComposeOptions) (res *ComposeResult, err error) {
	start := time.Now()
	defer func() { recordOperation(OpComposeOutput, start, err) }()

	next, err := e.begin(OpComposeOutput)
	if err != nil {
		return nil, err
	}
	if err = Validate(OpComposeOutput, e.stage, opts); err != nil {
		return nil, err
	}

	claims := []Claim{}
	if e.latest != nil {
		for _, n := range e.latest.Nodes {
			if n.EffectiveKind() != graph.KindHypothesis {
				continue
			}
			if n.MeanConfidence() < opts.MinConfidence {
				continue
			}
			claims = append(claims, e.claimFor(n))
		}
	}

	if err = e.commit(OpComposeOutput, e.g, next); err != nil {
		return nil, err
	}
	e.logger.Info("output composed", "claims", len(claims))
	return &ComposeResult{Claims: claims, Stage: e.stage}, nil
}

func (e *Engine) claimFor(n *graph.Node) Claim {
	c := Claim{
		NodeID:         n.ID,
		Statement:      n.Content,
		Confidence:     n.Confidence,
		MeanConfidence: n.MeanConfidence(),
		EdgeTypes:      []graph.EdgeType{},
		EvidenceIDs:    []graph.NodeID{},
	}
	if n.Hypothesis != nil {
		c.Falsifiable = n.Hypothesis.Falsifiable()
		c.FalsificationCriteria = n.Hypothesis.FalsificationCriteria
	}

	seenType := map[graph.EdgeType]bool{}
	seenEvidence := map[graph.NodeID]bool{}
	for _, edge := range e.g.Incoming(n.ID) {
		src, err := e.g.Node(edge.Source)
		if err != nil || src.EffectiveKind() != graph.KindEvidence {
			continue
		}
		if !seenType[edge.Type] {
			seenType[edge.Type] = true
			c.EdgeTypes = append(c.EdgeTypes, edge.Type)
		}
		if !seenEvidence[src.ID] {
			seenEvidence[src.ID] = true
			c.EvidenceIDs = append(c.EvidenceIDs, src.ID)
		}
	}
	if len(c.EdgeTypes) == 0 {
		// Without evidence the claim rests on the edge it was generated under.
		c.EdgeTypes = append(c.EdgeTypes, graph.EdgeHypothesis)
	}
	return c
}
