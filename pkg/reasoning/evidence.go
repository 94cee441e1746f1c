package reasoning

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/orneryd/thoughtgraph/pkg/confidence"
	"github.com/orneryd/thoughtgraph/pkg/graph"
	"github.com/orneryd/thoughtgraph/pkg/heuristics"
	"github.com/orneryd/thoughtgraph/pkg/topology"
)

// DescriptorNonAdditive labels hyperedges built from evidence contributors.
const DescriptorNonAdditive = "non_additive_influence"

// priorObservations seeds the pseudo-observation count used for the
// confidence variance estimate.
const priorObservations = 10

// IntegrateEvidence attaches an evidence node to a hypothesis and updates the
// hypothesis confidence.
//
// The first call moves the engine from stage 3 to 4; later calls stay at 4.
// One call performs, atomically:
//   - evidence node creation with heuristic bias flags
//   - a typed evidence -> hypothesis edge carrying optional causal and
//     temporal metadata
//   - the confidence update through the configured Updater
//   - a bridge node when the evidence links disjoint disciplines
//   - contributor edges and a hyperedge when more than two contributors exist
//   - temporal decay of every evidence node on the hypothesis
//   - topology refresh of touched nodes
//
// Example:
//
//	res, err := engine.IntegrateEvidence("3.1.1", reasoning.EvidenceInput{
//		Content:      "Randomized trial, n=120, effect 0.4",
//		Confidence:   []float64{0.9, 0.9, 0.9, 0.9},
//		Relationship: "Supportive",
//		StatisticalPower: &graph.StatisticalPower{SampleSize: 120, Power: 0.9},
//	})
//	if err != nil {
//		return err
//	}
//	fmt.Println(res.PreviousConfidence, "->", res.UpdatedConfidence)
//
// ELI12 (Explain Like I'm 12):
//
// You guessed "plants grow faster with music". A friend shows you a
// measurement that agrees. That makes you a bit more sure of your guess, more
// so if the measurement was careful (power) and told you something new
// (novelty). A measurement that disagrees makes you a bit less sure. Old
// measurements count for less every day they sit around (decay).
func (e *Engine) IntegrateEvidence(hypothesisID graph.NodeID, in EvidenceInput) (res *EvidenceResult, err error) {
	start := time.Now()
	defer func() { recordOperation(OpIntegrateEvidence, start, err) }()

	next, err := e.begin(OpIntegrateEvidence)
	if err != nil {
		return nil, err
	}
	if err = Validate(OpIntegrateEvidence, e.stage, in); err != nil {
		return nil, err
	}
	prep, err := e.prepareEvidence(hypothesisID, in)
	if err != nil {
		return nil, err
	}

	work := e.g.Clone()
	protected := map[graph.NodeID]bool{graph.RootID: true, prep.hypothesisID: true}
	for _, c := range prep.contributors {
		protected[c] = true
	}
	addNodes, addEdges := 1, 1+len(prep.contributors)
	if prep.bridge {
		addNodes++
		addEdges += 2
	}
	evicted, err := e.ensureCapacity(OpIntegrateEvidence, work, addNodes, addEdges, protected)
	if err != nil {
		return nil, err
	}

	hyp, gerr := work.Node(prep.hypothesisID)
	if gerr != nil {
		return nil, inconsistencyError(OpIntegrateEvidence, e.stage, gerr)
	}
	now := e.clock()

	existing := e.evidenceContents(work, hyp.ID)
	novelty := e.novelty.Novelty(prep.content, existing)
	flags := e.bias.Detect(heuristics.BiasInput{
		Content:       prep.content,
		HasStatistics: in.StatisticalPower != nil,
		Sources:       in.Sources,
	})

	evID := work.NextEvidenceID(hyp.ID)
	label := trimmed(in.Label)
	if label == "" {
		label = fmt.Sprintf("Evidence %s", evID)
	}
	provenance := in.Provenance
	if provenance == "" {
		provenance = "evidence_integration"
	}
	ev := &graph.Node{
		ID:         evID,
		Label:      label,
		Kind:       graph.KindEvidence,
		Content:    prep.content,
		Confidence: e.decay.ApplyAt(prep.conf, prep.observedAt, now),
		Metadata: graph.Metadata{
			Provenance:       provenance,
			EpistemicStatus:  "observed",
			DisciplinaryTags: prep.tags,
			BiasFlags:        flags,
			LayerID:          prep.layer,
			ImpactScore:      prep.impact,
			Attribution:      in.Attribution,
			CreatedAt:        now,
			UpdatedAt:        now,
		},
		Evidence: &graph.EvidenceDetails{
			HypothesisID:     hyp.ID,
			StatisticalPower: in.StatisticalPower,
			BaseConfidence:   prep.conf,
			ObservedAt:       prep.observedAt,
			Relationship:     prep.relationship,
			Sources:          in.Sources,
		},
	}
	if aerr := work.AddNode(ev); aerr != nil {
		return nil, validationError(OpIntegrateEvidence, e.stage, string(evID), "%v", aerr)
	}
	if aerr := work.AddEdge(&graph.Edge{
		ID:         work.NextEdgeID(),
		Source:     evID,
		Target:     hyp.ID,
		Type:       prep.relationship,
		Confidence: prep.edgeConfidence,
		Causal:     in.CausalMetadata,
		Temporal:   in.TemporalMetadata,
		CreatedAt:  now,
	}); aerr != nil {
		return nil, validationError(OpIntegrateEvidence, e.stage, string(evID), "%v", aerr)
	}

	// Confidence update.
	previous := hyp.Confidence
	power := confidence.DefaultPower
	if sp := in.StatisticalPower; sp != nil && sp.Power > 0 {
		power = sp.Power
	}
	updated := e.updater.Update(previous, confidence.Signal{
		Strength:   prep.conf.Mean(),
		Power:      power,
		Novelty:    novelty,
		Multiplier: confidence.RelationshipMultiplier(string(prep.relationship)),
	})
	hyp.Confidence = updated
	hyp.Metadata.UpdatedAt = now
	hyp.Metadata.EpistemicStatus = "evidence_integrated"
	hyp.Metadata.RevisionHistory = append(hyp.Metadata.RevisionHistory, graph.Revision{
		At:       now,
		Reason:   "evidence",
		SourceID: evID,
		Previous: previous,
		Current:  updated,
	})
	observations := float64(priorObservations + len(existing) + 1)
	var variance confidence.Vector
	for i, c := range updated {
		variance[i] = confidence.Variance(c, observations)
	}
	hyp.Metadata.ConfidenceVariance = &variance
	confidenceUpdates.WithLabelValues(string(prep.relationship)).Observe(updated.Mean() - previous.Mean())

	res = &EvidenceResult{
		EvidenceID:         evID,
		PreviousConfidence: previous,
		UpdatedConfidence:  updated,
		Novelty:            novelty,
		BiasFlags:          flags,
		EvictedIDs:         evicted,
	}
	touched := []graph.NodeID{evID, hyp.ID}

	// Contributors and the joint-influence hyperedge.
	for _, cid := range prep.contributors {
		c, cerr := work.Node(cid)
		if cerr != nil {
			return nil, inconsistencyError(OpIntegrateEvidence, e.stage, cerr)
		}
		if lerr := e.link(work, cid, evID, graph.EdgeSupportive, c.MeanConfidence(), now); lerr != nil {
			return nil, inconsistencyError(OpIntegrateEvidence, e.stage, lerr)
		}
		touched = append(touched, cid)
	}
	if work.InDegree(evID) > 2 {
		hid, herr := e.refreshHyperedge(work, evID)
		if herr != nil {
			return nil, inconsistencyError(OpIntegrateEvidence, e.stage, herr)
		}
		res.HyperedgeID = hid
	}

	// Interdisciplinary bridge.
	if prep.bridge {
		bridgeID, berr := e.addBridge(work, hyp, ev, prep.similarity, now)
		if berr != nil {
			return nil, inconsistencyError(OpIntegrateEvidence, e.stage, berr)
		}
		res.BridgeID = bridgeID
		touched = append(touched, bridgeID)
	}

	// Decay is recomputed from each node's base confidence, so repeating it
	// at the same instant changes nothing.
	for _, edge := range work.Incoming(hyp.ID) {
		n, nerr := work.Node(edge.Source)
		if nerr != nil || n.Evidence == nil {
			continue
		}
		n.Confidence = e.decay.ApplyAt(n.Evidence.BaseConfidence, n.Evidence.ObservedAt, now)
	}

	if hyp.Hypothesis != nil {
		res.ResolvedGapIDs = resolveGaps(work, hyp.Hypothesis.DimensionID, now)
		touched = append(touched, hyp.Hypothesis.DimensionID)
	}

	topology.Refresh(work, touched...)

	created := []graph.NodeID{evID}
	if res.BridgeID != "" {
		created = append(created, res.BridgeID)
	}
	if err = e.commit(OpIntegrateEvidence, work, next, created...); err != nil {
		return nil, err
	}
	res.Stage = e.stage
	e.logger.Info("evidence integrated",
		"hypothesis", hyp.ID,
		"evidence", evID,
		"relationship", string(prep.relationship),
		"previous_mean", previous.Mean(),
		"updated_mean", updated.Mean(),
		"novelty", novelty,
		"bias_flags", flags,
		"bridge", string(res.BridgeID),
		"evicted", len(evicted),
	)
	return res, nil
}

// evidencePlan holds validated, normalized evidence input.
type evidencePlan struct {
	hypothesisID   graph.NodeID
	content        string
	conf           confidence.Vector
	relationship   graph.EdgeType
	layer          string
	impact         float64
	edgeConfidence float64
	observedAt     time.Time
	tags           []string
	contributors   []graph.NodeID
	bridge         bool
	similarity     float64
}

// prepareEvidence validates in against the current graph without touching it.
func (e *Engine) prepareEvidence(hypothesisID graph.NodeID, in EvidenceInput) (*evidencePlan, error) {
	op, stage := OpIntegrateEvidence, e.stage
	hid := graph.NodeID(trimmed(string(hypothesisID)))
	hyp, err := e.g.Node(hid)
	if err != nil {
		return nil, validationError(op, stage, string(hid), "hypothesis not found")
	}
	if hyp.Kind != graph.KindHypothesis {
		return nil, validationError(op, stage, string(hid), "node is a %s, not a hypothesis", hyp.Kind)
	}
	if !e.g.ReachableFrom(graph.RootID)[hid] {
		return nil, validationError(op, stage, string(hid), "hypothesis is not reachable from root")
	}

	p := &evidencePlan{hypothesisID: hid, content: trimmed(in.Content)}
	if p.content == "" {
		return nil, validationError(op, stage, "content", "evidence content is empty")
	}

	p.conf = confidence.Uniform(defaultHypothesisConfidence)
	if len(in.Confidence) > 0 {
		if p.conf, err = confidence.Parse(in.Confidence); err != nil {
			return nil, validationError(op, stage, "confidence", "%v", err)
		}
	}

	p.relationship = graph.EdgeSupportive
	if rel := trimmed(in.Relationship); rel != "" {
		if p.relationship, err = graph.ParseEdgeType(rel); err != nil {
			return nil, validationError(op, stage, "relationship", "%v", err)
		}
	}

	p.layer = in.Layer
	if p.layer == "" {
		p.layer = graph.LayerEmpirical
	}
	if !e.g.HasLayer(p.layer) {
		return nil, validationError(op, stage, "layer", "unknown layer %q", p.layer)
	}

	p.impact = e.cfg.DefaultImpact
	if in.ImpactScore != nil {
		p.impact = *in.ImpactScore
	}
	p.edgeConfidence = p.conf.Mean()
	if in.EdgeConfidence != nil {
		p.edgeConfidence = *in.EdgeConfidence
	}

	if sp := in.StatisticalPower; sp != nil && (sp.Power < 0 || sp.Power > 1) {
		return nil, validationError(op, stage, "statistical_power.power", "power %.4f outside [0,1]", sp.Power)
	}
	if tm := in.TemporalMetadata; tm != nil && !tm.Pattern.Valid() {
		return nil, validationError(op, stage, "temporal_metadata.pattern", "unknown temporal pattern %q", tm.Pattern)
	}

	p.observedAt = e.clock()
	if in.ObservedAt != nil && !in.ObservedAt.IsZero() {
		p.observedAt = in.ObservedAt.UTC()
	}

	seen := make(map[graph.NodeID]bool, len(in.ContributorIDs))
	for i, raw := range in.ContributorIDs {
		cid := graph.NodeID(trimmed(raw))
		if !e.g.HasNode(cid) {
			return nil, validationError(op, stage, fieldf("contributor_ids", i), "contributor %s not found", cid)
		}
		if seen[cid] {
			continue
		}
		seen[cid] = true
		p.contributors = append(p.contributors, cid)
	}

	p.tags = graph.NormalizeTags(in.DisciplinaryTags)
	hypTags := hyp.Metadata.DisciplinaryTags
	if len(p.tags) > 0 && len(hypTags) > 0 && graph.TagsDisjoint(p.tags, hypTags) && e.g.HasLayer(graph.LayerInterdisciplinary) {
		p.similarity = e.similarity.Similarity(p.content, hyp.Content)
		p.bridge = p.similarity > e.cfg.BridgeSimilarity
	}
	return p, nil
}

// evidenceContents returns the content of every evidence node linked to
// hypothesis, for novelty scoring.
func (e *Engine) evidenceContents(work *graph.Graph, hypothesis graph.NodeID) []string {
	var out []string
	for _, edge := range work.Incoming(hypothesis) {
		n, err := work.Node(edge.Source)
		if err != nil || n.EffectiveKind() != graph.KindEvidence {
			continue
		}
		out = append(out, n.Content)
	}
	return out
}

// refreshHyperedge creates or updates the non-additive hyperedge over every
// node feeding target.
func (e *Engine) refreshHyperedge(work *graph.Graph, target graph.NodeID) (graph.HyperedgeID, error) {
	seen := map[graph.NodeID]bool{}
	var members []graph.NodeID
	for _, edge := range work.Incoming(target) {
		if !seen[edge.Source] {
			seen[edge.Source] = true
			members = append(members, edge.Source)
		}
	}
	sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })

	sum := 0.0
	for _, m := range members {
		n, err := work.Node(m)
		if err != nil {
			return "", err
		}
		sum += n.MeanConfidence()
	}
	conf := sum / float64(len(members))

	if h, ok := work.HyperedgeFor(target, DescriptorNonAdditive); ok {
		h.MemberIDs = members
		h.Confidence = conf
		return h.ID, h.Validate()
	}
	h := &graph.Hyperedge{
		ID:         work.NextHyperedgeID(),
		MemberIDs:  members,
		Target:     target,
		Descriptor: DescriptorNonAdditive,
		Confidence: conf,
	}
	return h.ID, work.AddHyperedge(h)
}

// addBridge creates a bridge node linking a hypothesis and an evidence node
// from disjoint disciplines.
func (e *Engine) addBridge(work *graph.Graph, hyp, ev *graph.Node, similarity float64, now time.Time) (graph.NodeID, error) {
	var conf confidence.Vector
	for i := range conf {
		conf[i] = (hyp.Confidence[i] + ev.Confidence[i]) / 2
	}
	impact := hyp.Metadata.ImpactScore
	if ev.Metadata.ImpactScore > impact {
		impact = ev.Metadata.ImpactScore
	}
	tags := graph.UnionTags(hyp.Metadata.DisciplinaryTags, ev.Metadata.DisciplinaryTags)

	b := &graph.Node{
		ID:         work.NextBridgeID(),
		Label:      "Interdisciplinary Bridge",
		Kind:       graph.KindBridge,
		Content:    fmt.Sprintf("Connects %s with %s", strings.Join(hyp.Metadata.DisciplinaryTags, ", "), strings.Join(ev.Metadata.DisciplinaryTags, ", ")),
		Confidence: conf.Bounded(),
		Metadata: graph.Metadata{
			Provenance:       "bridge_detection",
			EpistemicStatus:  "inferred",
			DisciplinaryTags: tags,
			LayerID:          graph.LayerInterdisciplinary,
			ImpactScore:      impact,
			CreatedAt:        now,
			UpdatedAt:        now,
		},
		Bridge: &graph.BridgeDetails{SourceIDs: []graph.NodeID{hyp.ID, ev.ID}},
	}
	if err := work.AddNode(b); err != nil {
		return "", err
	}
	for _, src := range []graph.NodeID{ev.ID, hyp.ID} {
		if err := e.link(work, src, b.ID, graph.EdgeCorrelative, similarity, now); err != nil {
			return "", err
		}
	}
	return b.ID, nil
}

// resolveGaps marks unresolved gaps under dimension as resolved.
func resolveGaps(work *graph.Graph, dimension graph.NodeID, now time.Time) []graph.NodeID {
	var resolved []graph.NodeID
	for _, n := range work.NodesByKind(graph.KindPlaceholderGap) {
		if n.Gap == nil || n.Gap.Resolved || n.Gap.DimensionID != dimension {
			continue
		}
		n.Gap.Resolved = true
		n.Metadata.EpistemicStatus = "resolved"
		n.Metadata.UpdatedAt = now
		resolved = append(resolved, n.ID)
	}
	return resolved
}
