// Package reasoning implements the stage-gated research reasoning engine.
//
// An Engine owns one reasoning graph and walks it through eight stages:
// initialization, decomposition, hypothesis generation, evidence
// integration, refinement, extraction, composition and reflection. Every
// mutating operation checks the current stage, works on a clone of the graph
// and swaps the clone in only when the whole operation succeeded, so a failed
// call never leaves partial nodes behind.
//
// Example Usage:
//
//	engine := reasoning.New(reasoning.DefaultConfig())
//
//	root, err := engine.Initialize(reasoning.InitializeInput{
//		Task:       "Study X",
//		Confidence: []float64{0.8, 0.8, 0.8, 0.8},
//	})
//	if err != nil {
//		return err
//	}
//
//	dims, _ := engine.Decompose(reasoning.DecomposeInput{})
//	hyps, _ := engine.GenerateHypotheses(reasoning.GenerateHypothesesInput{
//		DimensionID: string(dims.DimensionIDs[0]),
//		Hypotheses:  []reasoning.HypothesisInput{{Content: "..."}, {Content: "..."}, {Content: "..."}},
//	})
//	ev, _ := engine.IntegrateEvidence(hyps.HypothesisIDs[0], reasoning.EvidenceInput{
//		Content:      "Recall improved 12% (n=40)",
//		Confidence:   []float64{0.9, 0.9, 0.9, 0.9},
//		Relationship: "Supportive",
//	})
//	fmt.Println(root.NodeID, ev.UpdatedConfidence)
//
// Thread Safety:
//
//	Engine is NOT safe for concurrent use. Host one Engine per session and
//	serialize calls; see pkg/session.
//
// ELI12 (Explain Like I'm 12):
//
// Think of a science fair project. First you write down the question (root).
// Then you split it into parts (dimensions). For one part you guess some
// answers (hypotheses). Then you collect clues (evidence) that make each guess
// look better or worse. Finally you throw away weak guesses, combine guesses
// that say the same thing, pick the best bits for your poster, and check your
// own work. The engine makes sure you do those steps in order.
package reasoning

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/orneryd/thoughtgraph/pkg/confidence"
	"github.com/orneryd/thoughtgraph/pkg/decay"
	"github.com/orneryd/thoughtgraph/pkg/graph"
	"github.com/orneryd/thoughtgraph/pkg/heuristics"
	"github.com/orneryd/thoughtgraph/pkg/topology"
)

// Dimension labels with special handling.
const (
	DimensionPotentialBiases = "Potential Biases"
	DimensionKnowledgeGaps   = "Knowledge Gaps"
)

// DefaultDimensions is the label set used when Decompose gets no labels.
var DefaultDimensions = []string{
	"Scope", "Objectives", "Constraints", "Data Needs", "Use Cases",
	DimensionPotentialBiases, DimensionKnowledgeGaps,
}

// Config holds engine limits and thresholds.
//
// Example:
//
//	cfg := reasoning.DefaultConfig()
//	cfg.MaxNodes = 500
//	engine := reasoning.New(cfg)
type Config struct {
	// MaxNodes caps the vertex count. Default: 10,000
	MaxNodes int
	// MaxEdges caps the edge count. Default: 50,000
	MaxEdges int

	// PruningThreshold is the default mean-confidence floor. Default: 0.2
	PruningThreshold float64
	// PruneImpactCeiling protects nodes with at least this impact. Default: 0.3
	PruneImpactCeiling float64
	// MergingThreshold is the default content similarity for merging. Default: 0.8
	MergingThreshold float64

	// BridgeSimilarity is the content similarity a cross-discipline
	// evidence/hypothesis pair must exceed to spawn a bridge. Default: 0.5
	BridgeSimilarity float64

	// MinHypotheses and MaxHypotheses bound GenerateHypotheses. Default: 3, 5
	MinHypotheses int
	MaxHypotheses int

	// DefaultImpact is used when an input carries no impact score. Default: 0.5
	DefaultImpact float64

	// DecayFactor is the per-day evidence decay. Default: 0.95
	DecayFactor float64

	// CausalMaxDepth caps causal path search. Default: 8
	CausalMaxDepth int

	// DefaultDimensions replaces the built-in decomposition labels when set.
	DefaultDimensions []string

	// Layers replaces the built-in layer set when set.
	Layers []graph.Layer
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxNodes:           10000,
		MaxEdges:           50000,
		PruningThreshold:   0.2,
		PruneImpactCeiling: 0.3,
		MergingThreshold:   0.8,
		BridgeSimilarity:   0.5,
		MinHypotheses:      3,
		MaxHypotheses:      5,
		DefaultImpact:      0.5,
		DecayFactor:        0.95,
		CausalMaxDepth:     topology.DefaultMaxDepth,
	}
}

// Option customizes an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger. Default: discard.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithUpdater replaces the confidence update rule.
func WithUpdater(u confidence.Updater) Option {
	return func(e *Engine) {
		if u != nil {
			e.updater = u
		}
	}
}

// WithBiasDetector replaces the bias flag heuristic.
func WithBiasDetector(d heuristics.BiasDetector) Option {
	return func(e *Engine) {
		if d != nil {
			e.bias = d
		}
	}
}

// WithNoveltyScorer replaces the novelty heuristic.
func WithNoveltyScorer(n heuristics.NoveltyScorer) Option {
	return func(e *Engine) {
		if n != nil {
			e.novelty = n
		}
	}
}

// WithSimilarity replaces the content similarity used for bridges and merges.
func WithSimilarity(s heuristics.Similarity) Option {
	return func(e *Engine) {
		if s != nil {
			e.similarity = s
		}
	}
}

// WithClock sets the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// Engine is a single reasoning session's state machine.
type Engine struct {
	cfg   *Config
	g     *graph.Graph
	stage Stage
	task  string

	// poisoned is set once an invariant check fails; every later call
	// returns it.
	poisoned *Error

	latest         *Subgraph
	latestCriteria *ExtractCriteria

	logger     *slog.Logger
	updater    confidence.Updater
	bias       heuristics.BiasDetector
	novelty    heuristics.NoveltyScorer
	similarity heuristics.Similarity
	decay      *decay.Manager
	now        func() time.Time
}

// New creates an Engine at stage 0. If cfg is nil, DefaultConfig() is used.
func New(cfg *Config, opts ...Option) *Engine {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	e := &Engine{
		cfg:        cfg,
		stage:      StageUninitialized,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		updater:    confidence.NewMultiplicativeUpdater(),
		bias:       heuristics.NewKeywordBiasDetector(),
		novelty:    heuristics.NewOverlapNovelty(),
		similarity: heuristics.Jaccard{},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	factor := cfg.DecayFactor
	if factor <= 0 || factor > 1 {
		factor = decay.DefaultConfig().Factor
	}
	e.decay = decay.New(&decay.Config{Factor: factor})
	e.decay.SetClock(e.clock)
	e.g = graph.New(cfg.Layers)
	return e
}

func (e *Engine) clock() time.Time { return e.now().UTC() }

// Stage returns the current stage.
func (e *Engine) Stage() Stage { return e.stage }

// Task returns the task text given to Initialize.
func (e *Engine) Task() string { return e.task }

// Config returns the engine configuration.
func (e *Engine) Config() Config { return *e.cfg }

// Err returns the poisoning error, if any.
func (e *Engine) Err() error {
	if e.poisoned == nil {
		return nil
	}
	return e.poisoned
}

// Node returns a copy of a node.
func (e *Engine) Node(id graph.NodeID) (*graph.Node, error) {
	if e.poisoned != nil {
		return nil, e.poisoned
	}
	n, err := e.g.Node(id)
	if err != nil {
		return nil, validationError("node", e.stage, string(id), "node not found")
	}
	return graph.CopyNode(n), nil
}

// NodeCount returns the number of nodes in the graph.
func (e *Engine) NodeCount() int { return e.g.NodeCount() }

// EdgeCount returns the number of edges in the graph.
func (e *Engine) EdgeCount() int { return e.g.EdgeCount() }

// LatestExtraction returns the subgraph produced by the last ExtractSubgraph.
func (e *Engine) LatestExtraction() *Subgraph { return e.latest }

// CausalPath returns the highest-confidence causal path between two nodes,
// searching at most maxDepth hops (Config.CausalMaxDepth when <= 0).
func (e *Engine) CausalPath(from, to graph.NodeID, maxDepth int) (topology.Path, bool, error) {
	if e.poisoned != nil {
		return topology.Path{}, false, e.poisoned
	}
	for _, id := range []graph.NodeID{from, to} {
		if !e.g.HasNode(id) {
			return topology.Path{}, false, validationError(OpCausalPath, e.stage, string(id), "node not found")
		}
	}
	if maxDepth <= 0 {
		maxDepth = e.cfg.CausalMaxDepth
	}
	p, ok := topology.CausalPath(e.g, from, to, topology.PathOptions{MaxDepth: maxDepth})
	return p, ok, nil
}

// ===== Mutation protocol =====

// begin checks poisoning and stage for op and returns the next stage.
func (e *Engine) begin(op string) (Stage, error) {
	if e.poisoned != nil {
		return e.stage, e.poisoned
	}
	return checkStage(op, e.stage)
}

// commit verifies work and swaps it in. Every id in created must be
// reachable from root. A failed verification poisons the engine.
func (e *Engine) commit(op string, work *graph.Graph, next Stage, created ...graph.NodeID) error {
	err := work.Verify(next >= StageInitialization)
	if err == nil && len(created) > 0 {
		reach := work.ReachableFrom(graph.RootID)
		for _, id := range created {
			if !reach[id] {
				err = fmt.Errorf("%w: node %s is not reachable from root", graph.ErrInconsistent, id)
				break
			}
		}
	}
	if err != nil {
		e.poisoned = inconsistencyError(op, e.stage, err)
		e.logger.Error("graph invariant violated", "op", op, "stage", e.stage.String(), "error", err)
		return e.poisoned
	}
	prev := e.stage
	e.g = work
	e.stage = next
	e.logger.Debug("stage advanced", "op", op, "from", prev.String(), "to", next.String(),
		"nodes", work.NodeCount(), "edges", work.EdgeCount())
	return nil
}

// ensureCapacity evicts lowest-mean-confidence nodes from work until
// addNodes and addEdges fit under the caps. Root and protected nodes are
// never evicted, nor is any node whose removal would cut another node off
// from root. Ties go to the oldest node.
func (e *Engine) ensureCapacity(op string, work *graph.Graph, addNodes, addEdges int, protected map[graph.NodeID]bool) ([]graph.NodeID, error) {
	fits := func() bool {
		return work.NodeCount()+addNodes <= e.cfg.MaxNodes && work.EdgeCount()+addEdges <= e.cfg.MaxEdges
	}
	if fits() {
		return nil, nil
	}

	type candidate struct {
		id    graph.NodeID
		mean  float64
		order int
	}
	var candidates []candidate
	for i, n := range work.Nodes() {
		if n.ID == graph.RootID || n.Kind == graph.KindRoot || protected[n.ID] {
			continue
		}
		candidates = append(candidates, candidate{id: n.ID, mean: n.MeanConfidence(), order: i})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].mean != candidates[j].mean {
			return candidates[i].mean < candidates[j].mean
		}
		return candidates[i].order < candidates[j].order
	})

	var evicted []graph.NodeID
	for !fits() {
		cut := work.CutNodes(graph.RootID)
		pick := -1
		for i, c := range candidates {
			if !cut[c.id] {
				pick = i
				break
			}
		}
		if pick < 0 {
			break
		}
		id := candidates[pick].id
		candidates = append(candidates[:pick], candidates[pick+1:]...)
		if _, err := work.RemoveNode(id); err != nil {
			return evicted, inconsistencyError(op, e.stage, err)
		}
		evicted = append(evicted, id)
	}
	if len(evicted) > 0 {
		capacityEvictions.Add(float64(len(evicted)))
		e.logger.Warn("capacity cleanup evicted nodes", "op", op, "evicted", len(evicted),
			"nodes", work.NodeCount(), "edges", work.EdgeCount())
	}
	if !fits() {
		return evicted, capacityError(op, e.stage,
			"graph would hold %d nodes (max %d) and %d edges (max %d) even after cleanup",
			work.NodeCount()+addNodes, e.cfg.MaxNodes, work.EdgeCount()+addEdges, e.cfg.MaxEdges)
	}
	return evicted, nil
}

// ===== Snapshot & restore =====

// Snapshot is the complete serializable state of an Engine.
type Snapshot struct {
	Task  string `json:"task" yaml:"task"`
	Stage Stage  `json:"stage" yaml:"stage"`
	// ExtractionCriteria reproduces the latest extraction on restore.
	ExtractionCriteria *ExtractCriteria `json:"extraction_criteria,omitempty" yaml:"extraction_criteria,omitempty"`
	graph.Snapshot     `yaml:",inline"`
}

// Snapshot returns a deep copy of the engine state.
func (e *Engine) Snapshot() (*Snapshot, error) {
	if e.poisoned != nil {
		return nil, e.poisoned
	}
	s := &Snapshot{
		Task:     e.task,
		Stage:    e.stage,
		Snapshot: *e.g.Snapshot(),
	}
	if e.latestCriteria != nil {
		c := *e.latestCriteria
		s.ExtractionCriteria = &c
	}
	return s, nil
}

// Restore rebuilds an Engine from a Snapshot.
func Restore(s *Snapshot, cfg *Config, opts ...Option) (*Engine, error) {
	e := New(cfg, opts...)
	if s == nil {
		return nil, validationError("restore", StageUninitialized, "", "snapshot is nil")
	}
	if s.Stage < StageUninitialized || s.Stage > StageReflection {
		return nil, validationError("restore", StageUninitialized, "", "snapshot stage %d out of range", int(s.Stage))
	}
	g, err := graph.FromSnapshot(&s.Snapshot)
	if err != nil {
		return nil, &Error{Kind: KindValidation, Op: "restore", Message: "snapshot does not describe a valid graph", Err: err}
	}
	if err := g.Verify(s.Stage >= StageInitialization); err != nil {
		return nil, &Error{Kind: KindValidation, Op: "restore", Message: "snapshot violates graph invariants", Err: err}
	}
	e.g = g
	e.stage = s.Stage
	e.task = s.Task
	if s.ExtractionCriteria != nil && s.Stage >= StageExtraction {
		c := *s.ExtractionCriteria
		e.latestCriteria = &c
		e.latest = e.extract(c)
	}
	return e, nil
}
