package reasoning

import (
	"time"

	"github.com/orneryd/thoughtgraph/pkg/graph"
	"github.com/orneryd/thoughtgraph/pkg/heuristics"
	"github.com/orneryd/thoughtgraph/pkg/topology"
)

// PruneAndMerge removes weak nodes and consolidates near-duplicates, moving
// the engine from stage 4 to 5.
//
// Pruning removes every non-root node whose mean confidence is below the
// pruning threshold and whose impact is below Config.PruneImpactCeiling. A
// hypothesis without falsification criteria is pruned on confidence alone.
//
// Merging then repeatedly replaces the first pair of same-kind nodes whose
// content similarity reaches the merging threshold with a merged node, until
// no pair qualifies. The merged node takes the component-wise maximum
// confidence, the union of tags and the maximum impact. Edges are rewired to
// it and self-loops dropped. Knowledge-gap placeholders are never merged.
func (e *Engine) PruneAndMerge(in PruneMergeInput) (res *PruneMergeResult, err error) {
	start := time.Now()
	defer func() { recordOperation(OpPruneAndMerge, start, err) }()

	next, err := e.begin(OpPruneAndMerge)
	if err != nil {
		return nil, err
	}
	if err = Validate(OpPruneAndMerge, e.stage, in); err != nil {
		return nil, err
	}
	pruneAt, mergeAt := e.cfg.PruningThreshold, e.cfg.MergingThreshold
	if in.PruningThreshold != nil {
		pruneAt = *in.PruningThreshold
	}
	if in.MergingThreshold != nil {
		mergeAt = *in.MergingThreshold
	}

	work := e.g.Clone()
	res = &PruneMergeResult{PrunedIDs: []graph.NodeID{}, Merges: []Merge{}}

	for _, n := range work.Nodes() {
		if !e.prunable(n, pruneAt) {
			continue
		}
		if _, rerr := work.RemoveNode(n.ID); rerr != nil {
			return nil, inconsistencyError(OpPruneAndMerge, e.stage, rerr)
		}
		res.PrunedIDs = append(res.PrunedIDs, n.ID)
	}

	merges, err := e.mergeAll(work, mergeAt)
	if err != nil {
		return nil, err
	}
	res.Merges = merges

	ids := make([]graph.NodeID, 0, work.NodeCount())
	for _, n := range work.Nodes() {
		ids = append(ids, n.ID)
	}
	topology.Refresh(work, ids...)

	if err = e.commit(OpPruneAndMerge, work, next); err != nil {
		return nil, err
	}
	res.Stage = e.stage
	e.logger.Info("graph refined",
		"pruning_threshold", pruneAt,
		"merging_threshold", mergeAt,
		"pruned", len(res.PrunedIDs),
		"merged", len(res.Merges),
		"nodes", work.NodeCount(),
	)
	return res, nil
}

func (e *Engine) prunable(n *graph.Node, threshold float64) bool {
	if n.ID == graph.RootID || n.Kind == graph.KindRoot {
		return false
	}
	if n.MeanConfidence() >= threshold {
		return false
	}
	if n.Kind == graph.KindHypothesis && !n.Hypothesis.Falsifiable() {
		return true
	}
	return n.Metadata.ImpactScore < e.cfg.PruneImpactCeiling
}

// mergeAll runs pairwise merges to a fixed point. Every merge removes one
// node, so the loop ends after at most NodeCount iterations.
func (e *Engine) mergeAll(work *graph.Graph, threshold float64) ([]Merge, error) {
	merges := []Merge{}
	words := map[graph.NodeID]map[string]struct{}{}
	wordsOf := func(n *graph.Node) map[string]struct{} {
		w, ok := words[n.ID]
		if !ok {
			w = heuristics.Words(n.Content)
			words[n.ID] = w
		}
		return w
	}
	_, jaccard := e.similarity.(heuristics.Jaccard)
	similar := func(a, b *graph.Node) bool {
		if jaccard {
			return heuristics.JaccardSets(wordsOf(a), wordsOf(b)) >= threshold
		}
		return e.similarity.Similarity(a.Content, b.Content) >= threshold
	}

	for {
		a, b, found := e.findMergePair(work, similar)
		if !found {
			return merges, nil
		}
		merged, err := e.mergePair(work, a, b)
		if err != nil {
			return nil, inconsistencyError(OpPruneAndMerge, e.stage, err)
		}
		delete(words, a.ID)
		delete(words, b.ID)
		merges = append(merges, Merge{MergedID: merged, Originals: [2]graph.NodeID{a.ID, b.ID}})
		e.logger.Debug("nodes merged", "merged", merged, "a", a.ID, "b", b.ID)
	}
}

func (e *Engine) findMergePair(work *graph.Graph, similar func(a, b *graph.Node) bool) (*graph.Node, *graph.Node, bool) {
	var candidates []*graph.Node
	for _, n := range work.Nodes() {
		if n.Kind == graph.KindRoot || n.Kind == graph.KindPlaceholderGap {
			continue
		}
		candidates = append(candidates, n)
	}
	for i, a := range candidates {
		for _, b := range candidates[i+1:] {
			if a.EffectiveKind() != b.EffectiveKind() {
				continue
			}
			if similar(a, b) {
				return a, b, true
			}
		}
	}
	return nil, nil, false
}

func (e *Engine) mergePair(work *graph.Graph, a, b *graph.Node) (graph.NodeID, error) {
	now := e.clock()
	impact := a.Metadata.ImpactScore
	if b.Metadata.ImpactScore > impact {
		impact = b.Metadata.ImpactScore
	}
	m := &graph.Node{
		ID:         work.NextMergedID(),
		Label:      a.Label,
		Kind:       graph.KindMerged,
		Content:    a.Content + "\n" + b.Content,
		Confidence: a.Confidence.Max(b.Confidence),
		Metadata: graph.Metadata{
			Provenance:       "merge",
			EpistemicStatus:  "merged",
			DisciplinaryTags: graph.UnionTags(a.Metadata.DisciplinaryTags, b.Metadata.DisciplinaryTags),
			BiasFlags:        graph.UnionTags(a.Metadata.BiasFlags, b.Metadata.BiasFlags),
			LayerID:          a.Metadata.LayerID,
			ImpactScore:      impact,
			Attribution:      unionOrdered(a.Metadata.Attribution, b.Metadata.Attribution),
			CreatedAt:        now,
			UpdatedAt:        now,
		},
		Merged: &graph.MergedDetails{
			OriginalIDs:  []graph.NodeID{a.ID, b.ID},
			OriginalKind: a.EffectiveKind(),
		},
	}
	if err := work.AddNode(m); err != nil {
		return "", err
	}
	if err := work.ReplaceNode([]graph.NodeID{a.ID, b.ID}, m.ID); err != nil {
		return "", err
	}
	return m.ID, nil
}

// unionOrdered concatenates a and b without duplicates, keeping first-seen
// order.
func unionOrdered(a, b []string) []string {
	if len(a)+len(b) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range append(append([]string(nil), a...), b...) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
