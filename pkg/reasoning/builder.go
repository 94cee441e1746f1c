package reasoning

import (
	"fmt"
	"strings"
	"time"

	"github.com/orneryd/thoughtgraph/pkg/confidence"
	"github.com/orneryd/thoughtgraph/pkg/graph"
	"github.com/orneryd/thoughtgraph/pkg/topology"
)

// dimensionConfidence is assigned to every dimension node.
const dimensionConfidence = 0.8

// defaultHypothesisConfidence is used when a hypothesis carries none.
const defaultHypothesisConfidence = 0.5

// Initialize creates the root node for the task and moves the engine to
// stage 1.
//
// The initial confidence must have exactly four components in [0,1]. Extra
// layers in the input are registered before the root is created.
func (e *Engine) Initialize(in InitializeInput) (res *InitializeResult, err error) {
	start := time.Now()
	defer func() { recordOperation(OpInitialize, start, err) }()

	next, err := e.begin(OpInitialize)
	if err != nil {
		return nil, err
	}
	if err = Validate(OpInitialize, e.stage, in); err != nil {
		return nil, err
	}
	task := trimmed(in.Task)
	if task == "" {
		return nil, validationError(OpInitialize, e.stage, "task", "task text is empty")
	}
	conf, perr := confidence.Parse(in.Confidence)
	if perr != nil {
		return nil, validationError(OpInitialize, e.stage, "confidence", "%v", perr)
	}

	work := e.g.Clone()
	for _, l := range in.Layers {
		if lerr := work.AddLayer(l); lerr != nil {
			return nil, validationError(OpInitialize, e.stage, l.ID, "cannot register layer: %v", lerr)
		}
	}

	now := e.clock()
	provenance := in.Provenance
	if provenance == "" {
		provenance = "task"
	}
	root := &graph.Node{
		ID:         graph.RootID,
		Label:      "Task",
		Kind:       graph.KindRoot,
		Content:    task,
		Confidence: conf,
		Metadata: graph.Metadata{
			Provenance:       provenance,
			EpistemicStatus:  "task",
			DisciplinaryTags: in.DisciplinaryTags,
			LayerID:          graph.LayerBase,
			ImpactScore:      1,
			CreatedAt:        now,
			UpdatedAt:        now,
		},
	}
	if aerr := work.AddNode(root); aerr != nil {
		return nil, validationError(OpInitialize, e.stage, string(root.ID), "cannot create root: %v", aerr)
	}

	if err = e.commit(OpInitialize, work, next); err != nil {
		return nil, err
	}
	e.task = task
	e.logger.Info("reasoning session initialized", "task", task, "confidence", conf.Slice())
	return &InitializeResult{NodeID: root.ID, Stage: e.stage}, nil
}

// Decompose creates one dimension node per label, linked from root with a
// Decomposition edge, and moves the engine to stage 2.
//
// With no labels the defaults are used. Potential Biases and Knowledge Gaps
// are appended when missing unless SkipMandatory is set. The Knowledge Gaps
// dimension receives a critical, unresolved placeholder_gap child.
func (e *Engine) Decompose(in DecomposeInput) (res *DecomposeResult, err error) {
	start := time.Now()
	defer func() { recordOperation(OpDecompose, start, err) }()

	next, err := e.begin(OpDecompose)
	if err != nil {
		return nil, err
	}
	if err = Validate(OpDecompose, e.stage, in); err != nil {
		return nil, err
	}
	labels, err := e.dimensionLabels(in)
	if err != nil {
		return nil, err
	}

	gaps := 0
	for _, l := range labels {
		if strings.EqualFold(l, DimensionKnowledgeGaps) {
			gaps++
		}
	}

	work := e.g.Clone()
	protected := map[graph.NodeID]bool{graph.RootID: true}
	if _, err = e.ensureCapacity(OpDecompose, work, len(labels)+gaps, len(labels)+gaps, protected); err != nil {
		return nil, err
	}

	now := e.clock()
	res = &DecomposeResult{}
	for _, label := range labels {
		dim := &graph.Node{
			ID:         work.NextDimensionID(),
			Label:      label,
			Kind:       graph.KindDimension,
			Content:    label,
			Confidence: confidence.Uniform(dimensionConfidence),
			Metadata: graph.Metadata{
				Provenance:      "decomposition",
				EpistemicStatus: "dimension",
				LayerID:         graph.LayerBase,
				ImpactScore:     e.cfg.DefaultImpact,
				CreatedAt:       now,
				UpdatedAt:       now,
			},
		}
		if aerr := work.AddNode(dim); aerr != nil {
			return nil, validationError(OpDecompose, e.stage, string(dim.ID), "cannot create dimension: %v", aerr)
		}
		if aerr := e.link(work, graph.RootID, dim.ID, graph.EdgeDecomposition, dimensionConfidence, now); aerr != nil {
			return nil, inconsistencyError(OpDecompose, e.stage, aerr)
		}
		res.DimensionIDs = append(res.DimensionIDs, dim.ID)

		if strings.EqualFold(label, DimensionKnowledgeGaps) {
			gap := &graph.Node{
				ID:         work.NextGapID(),
				Label:      "Knowledge Gap",
				Kind:       graph.KindPlaceholderGap,
				Content:    fmt.Sprintf("Unresolved knowledge gap for: %s", e.task),
				Confidence: confidence.Uniform(defaultHypothesisConfidence),
				Metadata: graph.Metadata{
					Provenance:      "decomposition",
					EpistemicStatus: "unknown",
					LayerID:         graph.LayerBase,
					ImpactScore:     e.cfg.DefaultImpact,
					CreatedAt:       now,
					UpdatedAt:       now,
				},
				Gap: &graph.GapDetails{DimensionID: dim.ID, Critical: true},
			}
			if aerr := work.AddNode(gap); aerr != nil {
				return nil, inconsistencyError(OpDecompose, e.stage, aerr)
			}
			if aerr := e.link(work, dim.ID, gap.ID, graph.EdgeDecomposition, 0.5, now); aerr != nil {
				return nil, inconsistencyError(OpDecompose, e.stage, aerr)
			}
			res.GapIDs = append(res.GapIDs, gap.ID)
		}
	}
	topology.Refresh(work, append(res.DimensionIDs, graph.RootID)...)

	created := append(append([]graph.NodeID{}, res.DimensionIDs...), res.GapIDs...)
	if err = e.commit(OpDecompose, work, next, created...); err != nil {
		return nil, err
	}
	res.Stage = e.stage
	e.logger.Info("task decomposed", "dimensions", len(res.DimensionIDs), "gaps", len(res.GapIDs))
	return res, nil
}

func (e *Engine) dimensionLabels(in DecomposeInput) ([]string, error) {
	source := in.Dimensions
	if len(source) == 0 {
		source = e.cfg.DefaultDimensions
	}
	if len(source) == 0 {
		source = DefaultDimensions
	}

	seen := make(map[string]bool, len(source))
	labels := make([]string, 0, len(source)+2)
	for i, raw := range source {
		label := trimmed(raw)
		if label == "" {
			return nil, validationError(OpDecompose, e.stage, fieldf("dimensions", i), "dimension label is empty")
		}
		key := strings.ToLower(label)
		if seen[key] {
			return nil, validationError(OpDecompose, e.stage, fieldf("dimensions", i), "duplicate dimension label %q", label)
		}
		seen[key] = true
		labels = append(labels, label)
	}
	if !in.SkipMandatory {
		for _, mandatory := range []string{DimensionPotentialBiases, DimensionKnowledgeGaps} {
			if !seen[strings.ToLower(mandatory)] {
				labels = append(labels, mandatory)
			}
		}
	}
	return labels, nil
}

// GenerateHypotheses creates hypothesis nodes under one dimension and moves
// the engine to stage 3.
//
// At most MaxHypotheses inputs are accepted; the rest are dropped and
// counted in DroppedCount. AllowFewer lifts the MinHypotheses minimum but at
// least one hypothesis is always required.
// Hypotheses without falsification criteria are accepted here and penalized
// during pruning.
func (e *Engine) GenerateHypotheses(in GenerateHypothesesInput) (res *HypothesesResult, err error) {
	start := time.Now()
	defer func() { recordOperation(OpGenerateHypotheses, start, err) }()

	next, err := e.begin(OpGenerateHypotheses)
	if err != nil {
		return nil, err
	}
	if err = Validate(OpGenerateHypotheses, e.stage, in); err != nil {
		return nil, err
	}
	dimID := graph.NodeID(trimmed(in.DimensionID))
	dim, gerr := e.g.Node(dimID)
	if gerr != nil {
		return nil, validationError(OpGenerateHypotheses, e.stage, string(dimID), "dimension not found")
	}
	if dim.Kind != graph.KindDimension {
		return nil, validationError(OpGenerateHypotheses, e.stage, string(dimID), "node is a %s, not a dimension", dim.Kind)
	}
	if !e.g.ReachableFrom(graph.RootID)[dimID] {
		return nil, validationError(OpGenerateHypotheses, e.stage, string(dimID), "dimension is not reachable from root")
	}
	inputs := in.Hypotheses
	dropped := 0
	if len(inputs) > e.cfg.MaxHypotheses {
		dropped = len(inputs) - e.cfg.MaxHypotheses
		inputs = inputs[:e.cfg.MaxHypotheses]
	}
	count := len(inputs)
	if count < e.cfg.MinHypotheses && !in.AllowFewer {
		return nil, validationError(OpGenerateHypotheses, e.stage, "hypotheses", "at least %d hypotheses required, got %d (set allow_fewer to override)", e.cfg.MinHypotheses, count)
	}

	work := e.g.Clone()
	protected := map[graph.NodeID]bool{graph.RootID: true, dimID: true}
	if _, err = e.ensureCapacity(OpGenerateHypotheses, work, count, count, protected); err != nil {
		return nil, err
	}

	now := e.clock()
	res = &HypothesesResult{DroppedCount: dropped}
	for i, h := range inputs {
		field := fieldf("hypotheses", i)
		content := trimmed(h.Content)
		if content == "" {
			return nil, validationError(OpGenerateHypotheses, e.stage, field, "hypothesis content is empty")
		}
		conf := confidence.Uniform(defaultHypothesisConfidence)
		if len(h.Confidence) > 0 {
			parsed, perr := confidence.Parse(h.Confidence)
			if perr != nil {
				return nil, validationError(OpGenerateHypotheses, e.stage, field, "%v", perr)
			}
			conf = parsed
		}
		layer := h.Layer
		if layer == "" {
			layer = graph.LayerTheoretical
		}
		if !work.HasLayer(layer) {
			return nil, validationError(OpGenerateHypotheses, e.stage, field, "unknown layer %q", layer)
		}
		impact := e.cfg.DefaultImpact
		if h.ImpactScore != nil {
			impact = *h.ImpactScore
		}

		id, ierr := work.NextHypothesisID(dimID)
		if ierr != nil {
			return nil, validationError(OpGenerateHypotheses, e.stage, string(dimID), "%v", ierr)
		}
		label := h.Label
		if label == "" {
			label = fmt.Sprintf("Hypothesis %d", i+1)
		}
		node := &graph.Node{
			ID:         id,
			Label:      label,
			Kind:       graph.KindHypothesis,
			Content:    content,
			Confidence: conf,
			Metadata: graph.Metadata{
				Provenance:       "hypothesis_generation",
				EpistemicStatus:  "untested",
				DisciplinaryTags: h.DisciplinaryTags,
				LayerID:          layer,
				ImpactScore:      impact,
				Attribution:      h.Attribution,
				CreatedAt:        now,
				UpdatedAt:        now,
			},
			Hypothesis: &graph.HypothesisDetails{
				DimensionID:           dimID,
				FalsificationCriteria: trimmed(h.FalsificationCriteria),
				ResearchPlan:          h.ResearchPlan,
			},
		}
		if aerr := work.AddNode(node); aerr != nil {
			return nil, validationError(OpGenerateHypotheses, e.stage, field, "%v", aerr)
		}
		if aerr := e.link(work, dimID, id, graph.EdgeHypothesis, conf.Mean(), now); aerr != nil {
			return nil, inconsistencyError(OpGenerateHypotheses, e.stage, aerr)
		}
		res.HypothesisIDs = append(res.HypothesisIDs, id)
	}
	topology.Refresh(work, append(res.HypothesisIDs, dimID)...)

	if err = e.commit(OpGenerateHypotheses, work, next, res.HypothesisIDs...); err != nil {
		return nil, err
	}
	res.Stage = e.stage
	if dropped > 0 {
		e.logger.Warn("hypotheses over the cap were dropped", "dimension", dimID, "max", e.cfg.MaxHypotheses, "dropped", dropped)
	}
	e.logger.Info("hypotheses generated", "dimension", dimID, "count", len(res.HypothesisIDs))
	return res, nil
}

// link adds a typed edge with a fresh id.
func (e *Engine) link(work *graph.Graph, src, dst graph.NodeID, typ graph.EdgeType, conf float64, now time.Time) error {
	return work.AddEdge(&graph.Edge{
		ID:         work.NextEdgeID(),
		Source:     src,
		Target:     dst,
		Type:       typ,
		Confidence: conf,
		CreatedAt:  now,
	})
}
