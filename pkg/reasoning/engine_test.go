package reasoning

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/thoughtgraph/pkg/confidence"
	"github.com/orneryd/thoughtgraph/pkg/decay"
	"github.com/orneryd/thoughtgraph/pkg/graph"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestEngine(cfg *Config) *Engine {
	return New(cfg, WithClock(func() time.Time { return testNow }))
}

func uniform(v float64) []float64 { return []float64{v, v, v, v} }

func ptr[T any](v T) *T { return &v }

func initialized(t *testing.T, cfg *Config) *Engine {
	t.Helper()
	e := newTestEngine(cfg)
	_, err := e.Initialize(InitializeInput{Task: "Study X", Confidence: uniform(0.8)})
	require.NoError(t, err)
	return e
}

func threeHypotheses() []HypothesisInput {
	return []HypothesisInput{
		{Content: "Retrieval augmentation improves factual recall", FalsificationCriteria: "No recall gain on a held-out set"},
		{Content: "Longer context windows reduce hallucination rates", FalsificationCriteria: "Hallucination rate unchanged at 4x context"},
		{Content: "Prompt phrasing has negligible effect", FalsificationCriteria: "Rephrasing shifts accuracy by 5 points", Confidence: uniform(0.05), ImpactScore: ptr(0.1)},
	}
}

// atHypothesis returns an engine at stage 3 with default dimensions and
// hypotheses under the given dimension.
func atHypothesis(t *testing.T, cfg *Config, dim string, hyps []HypothesisInput) *Engine {
	t.Helper()
	e := initialized(t, cfg)
	_, err := e.Decompose(DecomposeInput{})
	require.NoError(t, err)
	_, err = e.GenerateHypotheses(GenerateHypothesesInput{DimensionID: dim, Hypotheses: hyps})
	require.NoError(t, err)
	return e
}

func requireKind(t *testing.T, err error, kind ErrorKind) *Error {
	t.Helper()
	require.Error(t, err)
	var rerr *Error
	require.True(t, errors.As(err, &rerr), "expected *reasoning.Error, got %T", err)
	assert.Equal(t, kind, rerr.Kind)
	return rerr
}

// ===== Scenario =====

func TestEngine_FullScenario(t *testing.T) {
	e := newTestEngine(nil)
	stages := []Stage{e.Stage()}
	track := func() { stages = append(stages, e.Stage()) }

	root, err := e.Initialize(InitializeInput{Task: "Study X", Confidence: uniform(0.8)})
	require.NoError(t, err)
	track()
	assert.Equal(t, graph.RootID, root.NodeID)
	rootNode, err := e.Node(graph.RootID)
	require.NoError(t, err)
	assert.Equal(t, confidence.Uniform(0.8), rootNode.Confidence)
	assert.Equal(t, graph.KindRoot, rootNode.Kind)

	dims, err := e.Decompose(DecomposeInput{})
	require.NoError(t, err)
	track()
	assert.Equal(t, []graph.NodeID{"2.1", "2.2", "2.3", "2.4", "2.5", "2.6", "2.7"}, dims.DimensionIDs)
	biases, err := e.Node("2.6")
	require.NoError(t, err)
	assert.Equal(t, DimensionPotentialBiases, biases.Label)
	gaps, err := e.Node("2.7")
	require.NoError(t, err)
	assert.Equal(t, DimensionKnowledgeGaps, gaps.Label)
	assert.Equal(t, []graph.NodeID{"g.1"}, dims.GapIDs)

	hyps, err := e.GenerateHypotheses(GenerateHypothesesInput{DimensionID: "2.1", Hypotheses: threeHypotheses()})
	require.NoError(t, err)
	track()
	assert.Equal(t, []graph.NodeID{"3.1.1", "3.1.2", "3.1.3"}, hyps.HypothesisIDs)

	before, err := e.Node("3.1.1")
	require.NoError(t, err)
	ev, err := e.IntegrateEvidence("3.1.1", EvidenceInput{
		Content:          "Recall rose 12% across 3 benchmarks",
		Confidence:       uniform(0.9),
		Relationship:     "Supportive",
		StatisticalPower: &graph.StatisticalPower{Power: 0.9},
	})
	require.NoError(t, err)
	track()
	assert.Equal(t, graph.NodeID("4.1.1.1"), ev.EvidenceID)
	for i := range before.Confidence {
		assert.Greater(t, ev.UpdatedConfidence[i], before.Confidence[i])
		assert.InDelta(t, 0.5*(1+0.9*0.9*0.3), ev.UpdatedConfidence[i], 1e-9)
	}
	assert.Empty(t, ev.BiasFlags)

	refined, err := e.PruneAndMerge(PruneMergeInput{PruningThreshold: ptr(0.2), MergingThreshold: ptr(0.8)})
	require.NoError(t, err)
	track()
	assert.Equal(t, []graph.NodeID{"3.1.3"}, refined.PrunedIDs)
	assert.Empty(t, refined.Merges)

	sub, err := e.ExtractSubgraph(ExtractCriteria{MinConfidence: 0.5})
	require.NoError(t, err)
	track()
	assert.False(t, sub.Contains("3.1.3"))
	assert.True(t, sub.Contains("3.1.1"))
	assert.True(t, sub.Contains(graph.RootID))
	assert.Same(t, sub, e.LatestExtraction())

	out, err := e.ComposeOutput(ComposeOptions{})
	require.NoError(t, err)
	track()
	require.Len(t, out.Claims, 2)
	assert.Equal(t, graph.NodeID("3.1.1"), out.Claims[0].NodeID)
	assert.Equal(t, []graph.NodeID{"4.1.1.1"}, out.Claims[0].EvidenceIDs)
	assert.Equal(t, []graph.EdgeType{graph.EdgeSupportive}, out.Claims[0].EdgeTypes)
	assert.True(t, out.Claims[0].Falsifiable)
	assert.Equal(t, graph.NodeID("3.1.2"), out.Claims[1].NodeID)
	assert.Empty(t, out.Claims[1].EvidenceIDs)
	assert.Equal(t, []graph.EdgeType{graph.EdgeHypothesis}, out.Claims[1].EdgeTypes)

	audit, err := e.PerformAudit(AuditInput{})
	require.NoError(t, err)
	track()
	assert.Equal(t, AuditChecks, audit.ChecksPerformed)
	assert.Len(t, audit.Checks, len(AuditChecks))
	assert.GreaterOrEqual(t, audit.QualityScore, 0.0)
	assert.LessOrEqual(t, audit.QualityScore, 1.0)
	assert.Len(t, audit.Issues, len(audit.Recommendations))

	assert.Equal(t, []Stage{0, 1, 2, 3, 4, 5, 6, 7, 8}, stages)
	assert.Equal(t, StageReflection, e.Stage())

	_, err = e.PerformAudit(AuditInput{})
	requireKind(t, err, KindStageViolation)
}

// ===== Stage gating =====

func TestEngine_StageViolation(t *testing.T) {
	e := newTestEngine(nil)

	_, err := e.Decompose(DecomposeInput{})
	rerr := requireKind(t, err, KindStageViolation)
	assert.True(t, errors.Is(err, ErrStageViolation))
	assert.Equal(t, StageInitialization, rerr.Expected)
	assert.Equal(t, StageUninitialized, rerr.Stage)
	assert.Equal(t, OpDecompose, rerr.Op)
	assert.Equal(t, StageUninitialized, e.Stage())

	e = initialized(t, nil)
	_, err = e.IntegrateEvidence("3.1.1", EvidenceInput{Content: "x"})
	rerr = requireKind(t, err, KindStageViolation)
	assert.Equal(t, StageHypothesis, rerr.Expected)

	_, err = e.Initialize(InitializeInput{Task: "again", Confidence: uniform(0.5)})
	requireKind(t, err, KindStageViolation)
}

func TestEngine_RepeatedEvidenceStaysAtStageFour(t *testing.T) {
	e := atHypothesis(t, nil, "2.1", threeHypotheses())

	for i := 0; i < 3; i++ {
		res, err := e.IntegrateEvidence("3.1.2", EvidenceInput{Content: "Observation with 2 samples", Confidence: uniform(0.7)})
		require.NoError(t, err)
		assert.Equal(t, StageEvidence, res.Stage)
	}
	assert.Equal(t, StageEvidence, e.Stage())
	n, err := e.Node("3.1.2")
	require.NoError(t, err)
	assert.Len(t, n.Metadata.RevisionHistory, 3)
	assert.Equal(t, graph.NodeID("4.1.2.3"), n.Metadata.RevisionHistory[2].SourceID)
	require.NotNil(t, n.Metadata.ConfidenceVariance)
}

// ===== Builder =====

func TestInitialize_Validation(t *testing.T) {
	tests := []struct {
		name string
		in   InitializeInput
	}{
		{"three components", InitializeInput{Task: "Study X", Confidence: []float64{0.5, 0.5, 0.5}}},
		{"component above one", InitializeInput{Task: "Study X", Confidence: []float64{0.5, 1.5, 0.5, 0.5}}},
		{"negative component", InitializeInput{Task: "Study X", Confidence: []float64{0.5, -0.1, 0.5, 0.5}}},
		{"missing task", InitializeInput{Confidence: uniform(0.5)}},
		{"blank task", InitializeInput{Task: "   ", Confidence: uniform(0.5)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(nil)
			_, err := e.Initialize(tt.in)
			requireKind(t, err, KindValidation)
			assert.True(t, errors.Is(err, ErrValidation))
			assert.Equal(t, StageUninitialized, e.Stage())
			assert.Zero(t, e.NodeCount())
		})
	}
}

func TestDecompose_CustomLabels(t *testing.T) {
	t.Run("mandatory dimensions appended", func(t *testing.T) {
		e := initialized(t, nil)
		res, err := e.Decompose(DecomposeInput{Dimensions: []string{"A", "B"}})
		require.NoError(t, err)
		assert.Equal(t, []graph.NodeID{"2.1", "2.2", "2.3", "2.4"}, res.DimensionIDs)
		n, err := e.Node("2.4")
		require.NoError(t, err)
		assert.Equal(t, DimensionKnowledgeGaps, n.Label)
	})

	t.Run("skip mandatory", func(t *testing.T) {
		e := initialized(t, nil)
		res, err := e.Decompose(DecomposeInput{Dimensions: []string{"A", "B"}, SkipMandatory: true})
		require.NoError(t, err)
		assert.Equal(t, []graph.NodeID{"2.1", "2.2"}, res.DimensionIDs)
		assert.Empty(t, res.GapIDs)
		assert.Equal(t, 3, e.NodeCount())
		assert.Equal(t, 2, e.EdgeCount())
	})

	t.Run("duplicate label is atomic failure", func(t *testing.T) {
		e := initialized(t, nil)
		_, err := e.Decompose(DecomposeInput{Dimensions: []string{"A", "B", "a"}})
		requireKind(t, err, KindValidation)
		assert.Equal(t, StageInitialization, e.Stage())
		assert.Equal(t, 1, e.NodeCount())
		assert.Zero(t, e.EdgeCount())
	})
}

func TestDecompose_DimensionsLinkedFromRoot(t *testing.T) {
	e := initialized(t, nil)
	res, err := e.Decompose(DecomposeInput{})
	require.NoError(t, err)
	for _, id := range res.DimensionIDs {
		n, err := e.Node(id)
		require.NoError(t, err)
		assert.Equal(t, confidence.Uniform(0.8), n.Confidence)
		in := e.g.Incoming(id)
		require.Len(t, in, 1)
		assert.Equal(t, graph.RootID, in[0].Source)
		assert.Equal(t, graph.EdgeDecomposition, in[0].Type)
	}
	gap, err := e.Node("g.1")
	require.NoError(t, err)
	require.NotNil(t, gap.Gap)
	assert.True(t, gap.Gap.Critical)
	assert.False(t, gap.Gap.Resolved)
	assert.Equal(t, graph.NodeID("2.7"), gap.Gap.DimensionID)
}

func TestGenerateHypotheses_Bounds(t *testing.T) {
	hyp := HypothesisInput{Content: "h"}

	t.Run("more than five keeps the first five", func(t *testing.T) {
		e := initialized(t, nil)
		_, err := e.Decompose(DecomposeInput{})
		require.NoError(t, err)
		sixth := HypothesisInput{Content: "sixth"}
		res, err := e.GenerateHypotheses(GenerateHypothesesInput{DimensionID: "2.1", Hypotheses: []HypothesisInput{hyp, hyp, hyp, hyp, hyp, sixth}})
		require.NoError(t, err)
		assert.Equal(t, []graph.NodeID{"3.1.1", "3.1.2", "3.1.3", "3.1.4", "3.1.5"}, res.HypothesisIDs)
		assert.Equal(t, 1, res.DroppedCount)
		assert.Equal(t, StageHypothesis, e.Stage())
		for _, n := range e.g.NodesByKind(graph.KindHypothesis) {
			assert.NotEqual(t, "sixth", n.Content)
		}
	})

	t.Run("fewer than three", func(t *testing.T) {
		e := initialized(t, nil)
		_, err := e.Decompose(DecomposeInput{})
		require.NoError(t, err)
		_, err = e.GenerateHypotheses(GenerateHypothesesInput{DimensionID: "2.1", Hypotheses: []HypothesisInput{hyp, hyp}})
		requireKind(t, err, KindValidation)

		res, err := e.GenerateHypotheses(GenerateHypothesesInput{DimensionID: "2.1", Hypotheses: []HypothesisInput{hyp, hyp}, AllowFewer: true})
		require.NoError(t, err)
		assert.Equal(t, []graph.NodeID{"3.1.1", "3.1.2"}, res.HypothesisIDs)
	})

	t.Run("target must be a dimension", func(t *testing.T) {
		e := initialized(t, nil)
		_, err := e.Decompose(DecomposeInput{})
		require.NoError(t, err)
		_, err = e.GenerateHypotheses(GenerateHypothesesInput{DimensionID: "n0", Hypotheses: []HypothesisInput{hyp, hyp, hyp}})
		rerr := requireKind(t, err, KindValidation)
		assert.Equal(t, "n0", rerr.ID)
		_, err = e.GenerateHypotheses(GenerateHypothesesInput{DimensionID: "2.99", Hypotheses: []HypothesisInput{hyp, hyp, hyp}})
		requireKind(t, err, KindValidation)
	})
}

func TestGenerateHypotheses_Defaults(t *testing.T) {
	e := atHypothesis(t, nil, "2.3", threeHypotheses())
	n, err := e.Node("3.3.2")
	require.NoError(t, err)
	assert.Equal(t, confidence.Uniform(0.5), n.Confidence)
	assert.Equal(t, graph.LayerTheoretical, n.Metadata.LayerID)
	assert.Equal(t, 0.5, n.Metadata.ImpactScore)
	require.NotNil(t, n.Hypothesis)
	assert.Equal(t, graph.NodeID("2.3"), n.Hypothesis.DimensionID)

	in := e.g.Incoming("3.3.2")
	require.Len(t, in, 1)
	assert.Equal(t, graph.EdgeHypothesis, in[0].Type)
}

// ===== Evidence =====

func TestIntegrateEvidence_ContradictoryLowersConfidence(t *testing.T) {
	e := atHypothesis(t, nil, "2.1", threeHypotheses())
	res, err := e.IntegrateEvidence("3.1.1", EvidenceInput{
		Content:      "Recall fell 4% on 2 datasets",
		Confidence:   uniform(0.8),
		Relationship: "contradictory",
	})
	require.NoError(t, err)
	for i := range res.UpdatedConfidence {
		assert.Less(t, res.UpdatedConfidence[i], res.PreviousConfidence[i])
	}
	edges := e.g.Outgoing(res.EvidenceID)
	require.Len(t, edges, 1)
	assert.Equal(t, graph.EdgeContradictory, edges[0].Type)
}

func TestIntegrateEvidence_ConfidenceStaysBounded(t *testing.T) {
	hyps := threeHypotheses()
	hyps[0].Confidence = uniform(0.95)
	e := atHypothesis(t, nil, "2.1", hyps)
	for i := 0; i < 20; i++ {
		res, err := e.IntegrateEvidence("3.1.1", EvidenceInput{
			Content:          "Replication 7 matched",
			Confidence:       uniform(1),
			Relationship:     "Causal",
			StatisticalPower: &graph.StatisticalPower{Power: 1},
		})
		require.NoError(t, err)
		for _, c := range res.UpdatedConfidence {
			assert.LessOrEqual(t, c, confidence.MaxConfidence)
			assert.GreaterOrEqual(t, c, confidence.MinConfidence)
		}
	}
}

func TestIntegrateEvidence_BiasFlags(t *testing.T) {
	e := atHypothesis(t, nil, "2.1", threeHypotheses())
	res, err := e.IntegrateEvidence("3.1.1", EvidenceInput{
		Content: "This always works",
		Sources: []string{"blog"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"absolute_claim", "no_quantitative_support", "single_source"}, res.BiasFlags)
	n, err := e.Node(res.EvidenceID)
	require.NoError(t, err)
	assert.Equal(t, res.BiasFlags, n.Metadata.BiasFlags)
	assert.Equal(t, graph.LayerEmpirical, n.Metadata.LayerID)
}

func TestIntegrateEvidence_Bridge(t *testing.T) {
	hyps := threeHypotheses()
	hyps[0].Content = "neural spikes encode memory traces"
	hyps[0].DisciplinaryTags = []string{"Neuroscience"}
	e := atHypothesis(t, nil, "2.1", hyps)

	res, err := e.IntegrateEvidence("3.1.1", EvidenceInput{
		Content:          "neural spikes encode memory traces",
		DisciplinaryTags: []string{"physics"},
	})
	require.NoError(t, err)
	require.Equal(t, graph.NodeID("b.1"), res.BridgeID)

	b, err := e.Node("b.1")
	require.NoError(t, err)
	assert.Equal(t, graph.KindBridge, b.Kind)
	assert.Equal(t, graph.LayerInterdisciplinary, b.Metadata.LayerID)
	assert.Equal(t, []string{"neuroscience", "physics"}, b.Metadata.DisciplinaryTags)
	assert.Equal(t, []graph.NodeID{"3.1.1", res.EvidenceID}, b.Bridge.SourceIDs)

	in := e.g.Incoming("b.1")
	require.Len(t, in, 2)
	for _, edge := range in {
		assert.Equal(t, graph.EdgeCorrelative, edge.Type)
	}
}

func TestIntegrateEvidence_NoBridgeForSharedTags(t *testing.T) {
	hyps := threeHypotheses()
	hyps[0].DisciplinaryTags = []string{"nlp"}
	e := atHypothesis(t, nil, "2.1", hyps)

	res, err := e.IntegrateEvidence("3.1.1", EvidenceInput{
		Content:          hyps[0].Content,
		DisciplinaryTags: []string{"nlp", "ml"},
	})
	require.NoError(t, err)
	assert.Empty(t, res.BridgeID)
}

func TestIntegrateEvidence_Hyperedge(t *testing.T) {
	e := atHypothesis(t, nil, "2.1", threeHypotheses())
	res, err := e.IntegrateEvidence("3.1.1", EvidenceInput{
		Content:        "Joint effect of 3 factors",
		ContributorIDs: []string{"2.3", "2.2", "2.4"},
	})
	require.NoError(t, err)
	require.Equal(t, graph.HyperedgeID("h.1"), res.HyperedgeID)

	h, ok := e.g.HyperedgeFor(res.EvidenceID, DescriptorNonAdditive)
	require.True(t, ok)
	assert.Equal(t, []graph.NodeID{"2.2", "2.3", "2.4"}, h.MemberIDs)
	assert.InDelta(t, 0.8, h.Confidence, 1e-9)
	assert.Equal(t, 3, e.g.InDegree(res.EvidenceID))
}

func TestIntegrateEvidence_TwoContributorsNoHyperedge(t *testing.T) {
	e := atHypothesis(t, nil, "2.1", threeHypotheses())
	res, err := e.IntegrateEvidence("3.1.1", EvidenceInput{
		Content:        "Pairwise effect of 2 factors",
		ContributorIDs: []string{"2.2", "2.3"},
	})
	require.NoError(t, err)
	assert.Empty(t, res.HyperedgeID)
	assert.Empty(t, e.g.Hyperedges())
}

func TestIntegrateEvidence_ResolvesKnowledgeGap(t *testing.T) {
	e := atHypothesis(t, nil, "2.7", threeHypotheses())
	res, err := e.IntegrateEvidence("3.7.1", EvidenceInput{Content: "Survey of 40 papers"})
	require.NoError(t, err)
	assert.Equal(t, []graph.NodeID{"g.1"}, res.ResolvedGapIDs)

	gap, err := e.Node("g.1")
	require.NoError(t, err)
	assert.True(t, gap.Gap.Resolved)
}

func TestIntegrateEvidence_DecayIsIdempotent(t *testing.T) {
	e := atHypothesis(t, nil, "2.1", threeHypotheses())
	first, err := e.IntegrateEvidence("3.1.1", EvidenceInput{
		Content:    "Old measurement of 10 units",
		Confidence: uniform(0.9),
		ObservedAt: ptr(testNow.Add(-10 * decay.Day)),
	})
	require.NoError(t, err)

	want := 0.9 * math.Pow(0.95, 10)
	n, err := e.Node(first.EvidenceID)
	require.NoError(t, err)
	for _, c := range n.Confidence {
		assert.InDelta(t, want, c, 1e-9)
	}
	assert.Equal(t, confidence.Uniform(0.9), n.Evidence.BaseConfidence)

	_, err = e.IntegrateEvidence("3.1.1", EvidenceInput{Content: "Fresh measurement of 11 units"})
	require.NoError(t, err)
	again, err := e.Node(first.EvidenceID)
	require.NoError(t, err)
	assert.Equal(t, n.Confidence, again.Confidence)
}

func TestIntegrateEvidence_AtomicOnValidationError(t *testing.T) {
	tests := []struct {
		name string
		hyp  graph.NodeID
		in   EvidenceInput
	}{
		{"unknown hypothesis", "3.9.9", EvidenceInput{Content: "x"}},
		{"dimension as hypothesis", "2.1", EvidenceInput{Content: "x"}},
		{"unknown relationship", "3.1.1", EvidenceInput{Content: "x", Relationship: "Foo"}},
		{"unknown contributor", "3.1.1", EvidenceInput{Content: "x", ContributorIDs: []string{"2.1", "nope"}}},
		{"bad confidence", "3.1.1", EvidenceInput{Content: "x", Confidence: []float64{0.5}}},
		{"bad power", "3.1.1", EvidenceInput{Content: "x", StatisticalPower: &graph.StatisticalPower{Power: 2}}},
		{"unknown layer", "3.1.1", EvidenceInput{Content: "x", Layer: "astral"}},
		{"bad temporal pattern", "3.1.1", EvidenceInput{Content: "x", TemporalMetadata: &graph.TemporalMetadata{Pattern: "sideways"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := atHypothesis(t, nil, "2.1", threeHypotheses())
			nodes, edges := e.NodeCount(), e.EdgeCount()

			_, err := e.IntegrateEvidence(tt.hyp, tt.in)
			requireKind(t, err, KindValidation)

			assert.Equal(t, StageHypothesis, e.Stage())
			assert.Equal(t, nodes, e.NodeCount())
			assert.Equal(t, edges, e.EdgeCount())
			assert.NoError(t, e.Err())
		})
	}
}

// ===== Capacity =====

func TestCapacity_EvictsLowestConfidenceFirst(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxNodes = 12
	hyps := threeHypotheses()
	hyps[1].Confidence = uniform(0.3)
	hyps[2].Confidence = uniform(0.3)
	hyps[2].ImpactScore = nil
	e := atHypothesis(t, cfg, "2.1", hyps)
	require.Equal(t, 12, e.NodeCount())

	requireRooted := func() {
		t.Helper()
		reach := e.g.ReachableFrom(graph.RootID)
		for _, n := range e.g.Nodes() {
			assert.True(t, reach[n.ID], "%s is cut off from root", n.ID)
		}
	}

	res, err := e.IntegrateEvidence("3.1.1", EvidenceInput{Content: "Measured 5 runs", Confidence: uniform(0.9)})
	require.NoError(t, err)
	assert.Equal(t, []graph.NodeID{"3.1.2"}, res.EvictedIDs)
	assert.Equal(t, 12, e.NodeCount())
	_, err = e.Node("3.1.2")
	requireKind(t, err, KindValidation)
	_, err = e.Node("3.1.3")
	assert.NoError(t, err)
	requireRooted()

	// Once only dimensions and strong evidence are left, the parent
	// dimension of the hypothesis holds it to root and must stay.
	var evicted []graph.NodeID
	for i := 0; i < 3; i++ {
		res, err = e.IntegrateEvidence("3.1.1", EvidenceInput{Content: fmt.Sprintf("Measured %d more runs", i+6), Confidence: uniform(0.9)})
		require.NoError(t, err)
		assert.Equal(t, 12, e.NodeCount())
		evicted = append(evicted, res.EvictedIDs...)
		requireRooted()
	}
	assert.Equal(t, []graph.NodeID{"3.1.3", "g.1", "2.2"}, evicted)

	hyp, err := e.Node("3.1.1")
	require.NoError(t, err)
	_, err = e.Node(hyp.Hypothesis.DimensionID)
	assert.NoError(t, err)
}

func TestCapacity_NeverCutsNodesOffFromRoot(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxNodes = 3
	e := initialized(t, cfg)
	_, err := e.Decompose(DecomposeInput{Dimensions: []string{"Only"}, SkipMandatory: true})
	require.NoError(t, err)
	_, err = e.GenerateHypotheses(GenerateHypothesesInput{DimensionID: "2.1", AllowFewer: true, Hypotheses: []HypothesisInput{
		{Content: "A strong hypothesis under a weaker dimension", Confidence: uniform(0.9)},
	}})
	require.NoError(t, err)
	require.Equal(t, 3, e.NodeCount())

	// 2.1 is the cheapest node but the only link between 3.1.1 and root.
	_, err = e.IntegrateEvidence("3.1.1", EvidenceInput{Content: "first observation", Confidence: uniform(0.9)})
	requireKind(t, err, KindCapacityExceeded)
	assert.Equal(t, 3, e.NodeCount())
	_, err = e.Node("2.1")
	assert.NoError(t, err)
}

func TestIntegrateEvidence_RejectsHypothesisCutOffFromRoot(t *testing.T) {
	e := atHypothesis(t, nil, "2.1", threeHypotheses())
	for _, edge := range e.g.Incoming("3.1.1") {
		require.NoError(t, e.g.RemoveEdge(edge.ID))
	}

	_, err := e.IntegrateEvidence("3.1.1", EvidenceInput{Content: "Measured 5 runs"})
	rerr := requireKind(t, err, KindValidation)
	assert.Equal(t, "3.1.1", rerr.ID)
	assert.Equal(t, StageHypothesis, e.Stage())
	assert.NoError(t, e.Err())
}

func TestCommit_PoisonsWhenCreatedNodeIsUnreachable(t *testing.T) {
	e := initialized(t, nil)
	work := e.g.Clone()
	require.NoError(t, work.AddNode(&graph.Node{
		ID:         "2.1",
		Label:      "Floating",
		Kind:       graph.KindDimension,
		Confidence: confidence.Uniform(0.8),
		Metadata:   graph.Metadata{LayerID: graph.LayerBase},
	}))

	err := e.commit(OpDecompose, work, StageDecomposition, "2.1")
	requireKind(t, err, KindInternalInconsistency)
	assert.ErrorIs(t, err, graph.ErrInconsistent)
	assert.Equal(t, StageInitialization, e.Stage())
}

func TestCapacity_ExceededWhenNothingEvictable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxNodes = 3
	e := initialized(t, cfg)

	_, err := e.Decompose(DecomposeInput{Dimensions: []string{"A", "B", "C"}, SkipMandatory: true})
	requireKind(t, err, KindCapacityExceeded)
	assert.True(t, errors.Is(err, ErrCapacityExceeded))
	assert.Equal(t, StageInitialization, e.Stage())
	assert.Equal(t, 1, e.NodeCount())
}

// ===== Refinement =====

func TestPruneAndMerge_MergePreservesMaxima(t *testing.T) {
	e := initialized(t, nil)
	_, err := e.Decompose(DecomposeInput{Dimensions: []string{"Method"}, SkipMandatory: true})
	require.NoError(t, err)
	_, err = e.GenerateHypotheses(GenerateHypothesesInput{DimensionID: "2.1", Hypotheses: []HypothesisInput{
		{Content: "alpha beta gamma delta", Confidence: uniform(0.6), FalsificationCriteria: "f1"},
		{Content: "alpha beta gamma delta", Confidence: []float64{0.4, 0.9, 0.4, 0.4}, FalsificationCriteria: "f2", DisciplinaryTags: []string{"ml"}},
		{Content: "unrelated weak claim", Confidence: uniform(0.1)},
	}})
	require.NoError(t, err)
	_, err = e.IntegrateEvidence("3.1.3", EvidenceInput{Content: "measured 3 samples", Confidence: uniform(0.9)})
	require.NoError(t, err)

	res, err := e.PruneAndMerge(PruneMergeInput{})
	require.NoError(t, err)
	assert.Equal(t, StageRefinement, res.Stage)
	assert.Equal(t, []graph.NodeID{"3.1.3"}, res.PrunedIDs)
	require.Len(t, res.Merges, 1)
	assert.Equal(t, Merge{MergedID: "m.1", Originals: [2]graph.NodeID{"3.1.1", "3.1.2"}}, res.Merges[0])

	m, err := e.Node("m.1")
	require.NoError(t, err)
	assert.Equal(t, graph.KindMerged, m.Kind)
	assert.Equal(t, graph.KindHypothesis, m.EffectiveKind())
	assert.Equal(t, confidence.Vector{0.6, 0.9, 0.6, 0.6}, m.Confidence)
	assert.Equal(t, []string{"ml"}, m.Metadata.DisciplinaryTags)
	assert.Equal(t, "alpha beta gamma delta\nalpha beta gamma delta", m.Content)

	out := e.g.Outgoing("2.1")
	require.Len(t, out, 1)
	assert.Equal(t, graph.NodeID("m.1"), out[0].Target)
	for _, edge := range e.g.Edges() {
		assert.NotEqual(t, edge.Source, edge.Target)
	}

	_, err = e.Node(graph.RootID)
	assert.NoError(t, err)
}

func TestPruneAndMerge_MergedNodeMergesAgain(t *testing.T) {
	e := initialized(t, nil)
	_, err := e.Decompose(DecomposeInput{Dimensions: []string{"Performance"}, SkipMandatory: true})
	require.NoError(t, err)
	_, err = e.GenerateHypotheses(GenerateHypothesesInput{DimensionID: "2.1", Hypotheses: []HypothesisInput{
		{Content: "cache warming lowers tail latency", Confidence: uniform(0.6), FalsificationCriteria: "f1"},
		{Content: "Cache warming lowers tail latency", Confidence: []float64{0.4, 0.9, 0.4, 0.4}, FalsificationCriteria: "f2"},
		{Content: "cache warming lowers tail latency significantly", Confidence: []float64{0.5, 0.5, 0.95, 0.5}, FalsificationCriteria: "f3"},
		{Content: "memory pressure triggers garbage collection stalls", Confidence: uniform(0.7), FalsificationCriteria: "f4"},
	}})
	require.NoError(t, err)
	_, err = e.IntegrateEvidence("3.1.4", EvidenceInput{Content: "GC pauses doubled under load", Confidence: uniform(0.9)})
	require.NoError(t, err)

	res, err := e.PruneAndMerge(PruneMergeInput{MergingThreshold: ptr(0.8)})
	require.NoError(t, err)
	assert.Empty(t, res.PrunedIDs)
	assert.Equal(t, []Merge{
		{MergedID: "m.1", Originals: [2]graph.NodeID{"3.1.1", "3.1.2"}},
		{MergedID: "m.2", Originals: [2]graph.NodeID{"3.1.3", "m.1"}},
	}, res.Merges)

	_, err = e.Node("m.1")
	requireKind(t, err, KindValidation)
	m, err := e.Node("m.2")
	require.NoError(t, err)
	assert.Equal(t, graph.KindHypothesis, m.EffectiveKind())
	assert.Equal(t, confidence.Vector{0.6, 0.9, 0.95, 0.6}, m.Confidence)
	assert.Equal(t, []graph.NodeID{"3.1.3", "m.1"}, m.Merged.OriginalIDs)

	var targets []graph.NodeID
	for _, edge := range e.g.Outgoing("2.1") {
		targets = append(targets, edge.Target)
	}
	assert.ElementsMatch(t, []graph.NodeID{"3.1.4", "m.2"}, targets)
	for _, edge := range e.g.Edges() {
		assert.NotEqual(t, edge.Source, edge.Target)
	}
}

func TestPruneAndMerge_KeepsHighImpactAndRoot(t *testing.T) {
	hyps := threeHypotheses()
	hyps[2].ImpactScore = ptr(0.9)
	e := atHypothesis(t, nil, "2.1", hyps)
	_, err := e.IntegrateEvidence("3.1.1", EvidenceInput{Content: "Measured 5 runs"})
	require.NoError(t, err)

	res, err := e.PruneAndMerge(PruneMergeInput{PruningThreshold: ptr(0.99)})
	require.NoError(t, err)
	assert.NotContains(t, res.PrunedIDs, graph.NodeID("3.1.3"))
	assert.NotContains(t, res.PrunedIDs, graph.RootID)
	root, err := e.Node(graph.RootID)
	require.NoError(t, err)
	assert.Equal(t, graph.KindRoot, root.Kind)
}

func TestPruneAndMerge_UnfalsifiableHypothesisPrunedOnConfidence(t *testing.T) {
	hyps := threeHypotheses()
	hyps[2].FalsificationCriteria = ""
	hyps[2].ImpactScore = ptr(0.9)
	e := atHypothesis(t, nil, "2.1", hyps)
	_, err := e.IntegrateEvidence("3.1.1", EvidenceInput{Content: "Measured 5 runs"})
	require.NoError(t, err)

	res, err := e.PruneAndMerge(PruneMergeInput{})
	require.NoError(t, err)
	assert.Contains(t, res.PrunedIDs, graph.NodeID("3.1.3"))
}

// ===== Extraction =====

func TestExtractSubgraph_Filters(t *testing.T) {
	hyps := threeHypotheses()
	hyps[0].DisciplinaryTags = []string{"nlp"}
	e := atHypothesis(t, nil, "2.1", hyps)
	_, err := e.IntegrateEvidence("3.1.1", EvidenceInput{Content: "Measured 5 runs", Confidence: uniform(0.9)})
	require.NoError(t, err)
	_, err = e.PruneAndMerge(PruneMergeInput{})
	require.NoError(t, err)

	sub, err := e.ExtractSubgraph(ExtractCriteria{
		Kinds:     []graph.Kind{graph.KindHypothesis, graph.KindEvidence},
		EdgeTypes: []graph.EdgeType{"supportive"},
	})
	require.NoError(t, err)
	require.Len(t, sub.Nodes, 3)
	require.Len(t, sub.Edges, 1)
	assert.Equal(t, graph.EdgeSupportive, sub.Edges[0].Type)
	assert.InDelta(t, 1.0/3.0, sub.Density, 1e-9)
	assert.InDelta(t, 2.0/3.0, sub.AverageDegree, 1e-9)
	assert.Equal(t, StageExtraction, sub.Stage)
}

func TestExtractSubgraph_RejectsUnknownFilters(t *testing.T) {
	e := atHypothesis(t, nil, "2.1", threeHypotheses())
	_, err := e.IntegrateEvidence("3.1.1", EvidenceInput{Content: "Measured 5 runs"})
	require.NoError(t, err)
	_, err = e.PruneAndMerge(PruneMergeInput{})
	require.NoError(t, err)

	_, err = e.ExtractSubgraph(ExtractCriteria{Kinds: []graph.Kind{"wizard"}})
	requireKind(t, err, KindValidation)
	_, err = e.ExtractSubgraph(ExtractCriteria{EdgeTypes: []graph.EdgeType{"Sideways"}})
	requireKind(t, err, KindValidation)
	assert.Equal(t, StageRefinement, e.Stage())
}

// ===== Audit =====

func TestPerformAudit_SelectedChecks(t *testing.T) {
	e := atHypothesis(t, nil, "2.1", threeHypotheses())
	_, err := e.IntegrateEvidence("3.1.1", EvidenceInput{
		Content:        "Dose drives response in 12 trials",
		Relationship:   "Causal",
		CausalMetadata: &graph.CausalMetadata{Mechanism: "receptor binding"},
	})
	require.NoError(t, err)
	_, err = e.PruneAndMerge(PruneMergeInput{})
	require.NoError(t, err)
	_, err = e.ExtractSubgraph(ExtractCriteria{})
	require.NoError(t, err)
	_, err = e.ComposeOutput(ComposeOptions{})
	require.NoError(t, err)

	res, err := e.PerformAudit(AuditInput{Checks: []string{CheckCausalValidity, CheckFalsifiability, CheckCausalValidity}})
	require.NoError(t, err)
	require.Equal(t, []string{CheckCausalValidity, CheckFalsifiability}, res.ChecksPerformed)

	causal := res.Checks[0]
	assert.True(t, causal.Measured)
	assert.False(t, causal.Passed)
	assert.Equal(t, 0.0, causal.Value)

	falsifiable := res.Checks[1]
	assert.True(t, falsifiable.Passed)
	assert.Equal(t, 1.0, falsifiable.Value)

	assert.Equal(t, 0.5, res.QualityScore)
	require.Len(t, res.Issues, 1)
	assert.Contains(t, res.Issues[0], CheckCausalValidity)
}

func TestPerformAudit_NothingToMeasurePasses(t *testing.T) {
	e := atHypothesis(t, nil, "2.1", threeHypotheses())
	_, err := e.IntegrateEvidence("3.1.1", EvidenceInput{Content: "Measured 5 runs"})
	require.NoError(t, err)
	_, err = e.PruneAndMerge(PruneMergeInput{})
	require.NoError(t, err)
	_, err = e.ExtractSubgraph(ExtractCriteria{})
	require.NoError(t, err)
	_, err = e.ComposeOutput(ComposeOptions{})
	require.NoError(t, err)

	res, err := e.PerformAudit(AuditInput{Checks: []string{CheckTemporalConsistency}})
	require.NoError(t, err)
	require.Len(t, res.Checks, 1)
	assert.True(t, res.Checks[0].Passed)
	assert.False(t, res.Checks[0].Measured)
	assert.Equal(t, 1.0, res.QualityScore)
}

func TestPerformAudit_UnknownCheck(t *testing.T) {
	e := atHypothesis(t, nil, "2.1", threeHypotheses())
	_, err := e.IntegrateEvidence("3.1.1", EvidenceInput{Content: "Measured 5 runs"})
	require.NoError(t, err)
	_, err = e.PruneAndMerge(PruneMergeInput{})
	require.NoError(t, err)
	_, err = e.ExtractSubgraph(ExtractCriteria{})
	require.NoError(t, err)
	_, err = e.ComposeOutput(ComposeOptions{})
	require.NoError(t, err)

	_, err = e.PerformAudit(AuditInput{Checks: []string{"vibes"}})
	requireKind(t, err, KindValidation)
	assert.Equal(t, StageComposition, e.Stage())
}

// ===== Poisoning =====

func TestEngine_InconsistencyPoisons(t *testing.T) {
	e := initialized(t, nil)
	root, err := e.g.Node(graph.RootID)
	require.NoError(t, err)
	root.Kind = graph.KindDimension

	_, err = e.Decompose(DecomposeInput{})
	requireKind(t, err, KindInternalInconsistency)
	assert.True(t, errors.Is(err, ErrInternalInconsistency))
	assert.Equal(t, StageInitialization, e.Stage())
	require.Error(t, e.Err())

	_, err = e.Decompose(DecomposeInput{})
	requireKind(t, err, KindInternalInconsistency)
	_, err = e.Snapshot()
	requireKind(t, err, KindInternalInconsistency)
}

// ===== Causal paths =====

func TestEngine_CausalPath(t *testing.T) {
	e := atHypothesis(t, nil, "2.1", threeHypotheses())
	res, err := e.IntegrateEvidence("3.1.1", EvidenceInput{
		Content:        "Exposure precedes onset in 30 cohorts",
		Relationship:   "Causal",
		EdgeConfidence: ptr(0.7),
	})
	require.NoError(t, err)

	p, ok, err := e.CausalPath(res.EvidenceID, "3.1.1", 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []graph.NodeID{res.EvidenceID, "3.1.1"}, p.Nodes)
	assert.InDelta(t, 0.7, p.Confidence, 1e-9)

	_, ok, err = e.CausalPath("3.1.1", res.EvidenceID, 0)
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = e.CausalPath("nope", "3.1.1", 0)
	requireKind(t, err, KindValidation)
}

// ===== Snapshot & restore =====

func TestSnapshot_RestoreThroughJSON(t *testing.T) {
	e := atHypothesis(t, nil, "2.1", threeHypotheses())
	_, err := e.IntegrateEvidence("3.1.1", EvidenceInput{Content: "Measured 5 runs", Confidence: uniform(0.9)})
	require.NoError(t, err)
	_, err = e.PruneAndMerge(PruneMergeInput{})
	require.NoError(t, err)
	sub, err := e.ExtractSubgraph(ExtractCriteria{MinConfidence: 0.5})
	require.NoError(t, err)

	snap, err := e.Snapshot()
	require.NoError(t, err)
	data, err := json.Marshal(snap)
	require.NoError(t, err)

	var decoded Snapshot
	require.NoError(t, json.Unmarshal(data, &decoded))
	restored, err := Restore(&decoded, nil, WithClock(func() time.Time { return testNow }))
	require.NoError(t, err)

	assert.Equal(t, StageExtraction, restored.Stage())
	assert.Equal(t, "Study X", restored.Task())
	assert.Equal(t, e.NodeCount(), restored.NodeCount())
	assert.Equal(t, e.EdgeCount(), restored.EdgeCount())
	require.NotNil(t, restored.LatestExtraction())
	assert.Len(t, restored.LatestExtraction().Nodes, len(sub.Nodes))

	orig, err := e.Node("3.1.1")
	require.NoError(t, err)
	got, err := restored.Node("3.1.1")
	require.NoError(t, err)
	assert.Equal(t, orig.Confidence, got.Confidence)
	assert.Equal(t, orig.Metadata.RevisionHistory, got.Metadata.RevisionHistory)

	out, err := restored.ComposeOutput(ComposeOptions{})
	require.NoError(t, err)
	assert.NotEmpty(t, out.Claims)

	// Ids keep counting after a restore.
	assert.Equal(t, e.g.Counters(), restored.g.Counters())
}

func TestRestore_RejectsBrokenSnapshots(t *testing.T) {
	_, err := Restore(nil, nil)
	requireKind(t, err, KindValidation)

	_, err = Restore(&Snapshot{Stage: StageEvidence}, nil)
	requireKind(t, err, KindValidation)

	_, err = Restore(&Snapshot{Stage: Stage(42)}, nil)
	requireKind(t, err, KindValidation)
}
