// Package graph defines the entity schema of a reasoning graph and an
// adjacency-list store for it.
//
// A reasoning graph records how a research task was worked through:
//   - one root node holding the task
//   - dimension nodes that split the task into facets
//   - hypothesis nodes under each dimension
//   - evidence nodes linked to hypotheses by typed edges
//   - bridge, merged and knowledge-gap nodes derived along the way
//
// Nodes carry a 4-component confidence vector and rich metadata. Edges are
// typed from a closed set. Hyperedges express joint influence of more than two
// nodes on a single target.
//
// Example Usage:
//
//	g := graph.New(graph.DefaultLayers())
//
//	root := &graph.Node{
//		ID:         graph.RootID,
//		Label:      "Task",
//		Kind:       graph.KindRoot,
//		Content:    "Study X",
//		Confidence: confidence.Uniform(0.8),
//		Metadata:   graph.Metadata{LayerID: graph.LayerBase},
//	}
//	if err := g.AddNode(root); err != nil {
//		return err
//	}
//
//	for _, n := range g.Nodes() {
//		fmt.Printf("%s %s %.2f\n", n.ID, n.Kind, n.Confidence.Mean())
//	}
//
// Thread Safety:
//
//	Graph is NOT safe for concurrent use. Callers serialize access; the
//	session layer holds one lock per graph.
package graph

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/orneryd/thoughtgraph/pkg/confidence"
)

// Errors returned by graph operations.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidID     = errors.New("invalid id")
	ErrInvalidData   = errors.New("invalid data")
	ErrInvalidEdge   = errors.New("invalid edge: source or target node not found")
	ErrInconsistent  = errors.New("graph invariant violated")
)

// NodeID uniquely identifies a node. Ids are deterministic; see ids.go.
type NodeID string

// EdgeID uniquely identifies an edge.
type EdgeID string

// HyperedgeID uniquely identifies a hyperedge.
type HyperedgeID string

// RootID is the id of the single root node.
const RootID NodeID = "n0"

// Kind tags the variant of a Node.
type Kind string

// Node kinds.
const (
	KindRoot           Kind = "root"
	KindDimension      Kind = "dimension"
	KindHypothesis     Kind = "hypothesis"
	KindEvidence       Kind = "evidence"
	KindBridge         Kind = "bridge"
	KindPlaceholderGap Kind = "placeholder_gap"
	KindMerged         Kind = "merged"
)

var validKinds = map[Kind]bool{
	KindRoot: true, KindDimension: true, KindHypothesis: true, KindEvidence: true,
	KindBridge: true, KindPlaceholderGap: true, KindMerged: true,
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool { return validKinds[k] }

// EdgeType is the closed set of relationships an edge can express.
type EdgeType string

// Edge types.
const (
	EdgeCorrelative        EdgeType = "Correlative"
	EdgeSupportive         EdgeType = "Supportive"
	EdgeContradictory      EdgeType = "Contradictory"
	EdgePrerequisite       EdgeType = "Prerequisite"
	EdgeGeneralization     EdgeType = "Generalization"
	EdgeSpecialization     EdgeType = "Specialization"
	EdgeDecomposition      EdgeType = "Decomposition"
	EdgeHypothesis         EdgeType = "Hypothesis"
	EdgeCausal             EdgeType = "Causal"
	EdgeCounterfactual     EdgeType = "Counterfactual"
	EdgeConfounded         EdgeType = "Confounded"
	EdgeTemporalPrecedence EdgeType = "TemporalPrecedence"
	EdgeCyclic             EdgeType = "Cyclic"
	EdgeDelayed            EdgeType = "Delayed"
	EdgeSequential         EdgeType = "Sequential"
	EdgeOther              EdgeType = "Other"
)

// EdgeTypes lists every edge type in declaration order.
var EdgeTypes = []EdgeType{
	EdgeCorrelative, EdgeSupportive, EdgeContradictory, EdgePrerequisite,
	EdgeGeneralization, EdgeSpecialization, EdgeDecomposition, EdgeHypothesis,
	EdgeCausal, EdgeCounterfactual, EdgeConfounded, EdgeTemporalPrecedence,
	EdgeCyclic, EdgeDelayed, EdgeSequential, EdgeOther,
}

// Valid reports whether t is in the closed edge type set.
func (t EdgeType) Valid() bool {
	for _, et := range EdgeTypes {
		if et == t {
			return true
		}
	}
	return false
}

// ParseEdgeType resolves a case-insensitive edge type name.
func ParseEdgeType(s string) (EdgeType, error) {
	for _, et := range EdgeTypes {
		if strings.EqualFold(string(et), s) {
			return et, nil
		}
	}
	return "", fmt.Errorf("%w: unknown edge type %q", ErrInvalidData, s)
}

// IsCausal reports whether the edge type asserts a causal claim.
func (t EdgeType) IsCausal() bool {
	return t == EdgeCausal || t == EdgeCounterfactual || t == EdgeConfounded
}

// IsTemporal reports whether the edge type asserts a temporal relationship.
func (t EdgeType) IsTemporal() bool {
	switch t {
	case EdgeTemporalPrecedence, EdgeCyclic, EdgeDelayed, EdgeSequential:
		return true
	}
	return false
}

// TemporalPattern describes how a temporal edge unfolds.
type TemporalPattern string

// Temporal patterns.
const (
	PatternStatic     TemporalPattern = "static"
	PatternPrecedence TemporalPattern = "precedence"
	PatternDelayed    TemporalPattern = "delayed"
	PatternCyclic     TemporalPattern = "cyclic"
	PatternSequential TemporalPattern = "sequential"
)

// Valid reports whether p is a known pattern.
func (p TemporalPattern) Valid() bool {
	switch p {
	case PatternStatic, PatternPrecedence, PatternDelayed, PatternCyclic, PatternSequential:
		return true
	}
	return false
}

// Built-in layer ids.
const (
	LayerBase              = "base"
	LayerMethodological    = "methodological"
	LayerEmpirical         = "empirical"
	LayerTheoretical       = "theoretical"
	LayerInterdisciplinary = "interdisciplinary"
)

// Layer is a named partition of the node set.
type Layer struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// DefaultLayers returns the five built-in layers.
func DefaultLayers() []Layer {
	return []Layer{
		{ID: LayerBase, Name: "Base", Description: "Task structure"},
		{ID: LayerMethodological, Name: "Methodological", Description: "Methods and study design"},
		{ID: LayerEmpirical, Name: "Empirical", Description: "Observations and data"},
		{ID: LayerTheoretical, Name: "Theoretical", Description: "Theory and models"},
		{ID: LayerInterdisciplinary, Name: "Interdisciplinary", Description: "Cross-discipline connections"},
	}
}

// ===== Metadata =====

// StatisticalPower is caller-supplied study statistics. The engine reads
// Power and treats the rest as opaque.
type StatisticalPower struct {
	SampleSize         int       `json:"sample_size,omitempty" yaml:"sample_size,omitempty"`
	EffectSize         float64   `json:"effect_size,omitempty" yaml:"effect_size,omitempty"`
	Power              float64   `json:"power,omitempty" yaml:"power,omitempty"`
	ConfidenceInterval []float64 `json:"confidence_interval,omitempty" yaml:"confidence_interval,omitempty"`
}

// Revision is one entry in a node's revision history.
type Revision struct {
	At       time.Time         `json:"at" yaml:"at"`
	Reason   string            `json:"reason" yaml:"reason"`
	SourceID NodeID            `json:"source_id,omitempty" yaml:"source_id,omitempty"`
	Previous confidence.Vector `json:"previous" yaml:"previous"`
	Current  confidence.Vector `json:"current" yaml:"current"`
}

// TopologyMetrics are recomputed, informational structure metrics.
type TopologyMetrics struct {
	Degree           int     `json:"degree" yaml:"degree"`
	InDegree         int     `json:"in_degree" yaml:"in_degree"`
	OutDegree        int     `json:"out_degree" yaml:"out_degree"`
	Clustering       float64 `json:"clustering" yaml:"clustering"`
	DegreeCentrality float64 `json:"degree_centrality" yaml:"degree_centrality"`
}

// Metadata is shared by every node kind.
type Metadata struct {
	Provenance         string             `json:"provenance,omitempty" yaml:"provenance,omitempty"`
	EpistemicStatus    string             `json:"epistemic_status,omitempty" yaml:"epistemic_status,omitempty"`
	DisciplinaryTags   []string           `json:"disciplinary_tags,omitempty" yaml:"disciplinary_tags,omitempty"`
	BiasFlags          []string           `json:"bias_flags,omitempty" yaml:"bias_flags,omitempty"`
	RevisionHistory    []Revision         `json:"revision_history,omitempty" yaml:"revision_history,omitempty"`
	LayerID            string             `json:"layer_id" yaml:"layer_id"`
	Topology           TopologyMetrics    `json:"topology_metrics" yaml:"topology_metrics"`
	ImpactScore        float64            `json:"impact_score" yaml:"impact_score"`
	Attribution        []string           `json:"attribution,omitempty" yaml:"attribution,omitempty"`
	ConfidenceVariance *confidence.Vector `json:"confidence_variance,omitempty" yaml:"confidence_variance,omitempty"`
	CreatedAt          time.Time          `json:"created_at" yaml:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at" yaml:"updated_at"`
}

// ===== Variants =====

// HypothesisDetails is the variant carried by hypothesis nodes.
type HypothesisDetails struct {
	DimensionID           NodeID   `json:"dimension_id" yaml:"dimension_id"`
	FalsificationCriteria string   `json:"falsification_criteria,omitempty" yaml:"falsification_criteria,omitempty"`
	ResearchPlan          []string `json:"research_plan,omitempty" yaml:"research_plan,omitempty"`
}

// Falsifiable reports whether non-blank falsification criteria are present.
func (h *HypothesisDetails) Falsifiable() bool {
	return h != nil && strings.TrimSpace(h.FalsificationCriteria) != ""
}

// EvidenceDetails is the variant carried by evidence nodes.
type EvidenceDetails struct {
	HypothesisID     NodeID            `json:"hypothesis_id" yaml:"hypothesis_id"`
	StatisticalPower *StatisticalPower `json:"statistical_power,omitempty" yaml:"statistical_power,omitempty"`
	// BaseConfidence is the undecayed confidence decay is computed from.
	BaseConfidence confidence.Vector `json:"base_confidence" yaml:"base_confidence"`
	ObservedAt     time.Time         `json:"observed_at" yaml:"observed_at"`
	Relationship   EdgeType          `json:"relationship" yaml:"relationship"`
	Sources        []string          `json:"sources,omitempty" yaml:"sources,omitempty"`
}

// BridgeDetails is the variant carried by bridge nodes.
type BridgeDetails struct {
	SourceIDs []NodeID `json:"source_ids" yaml:"source_ids"`
}

// MergedDetails is the variant carried by merged nodes.
type MergedDetails struct {
	OriginalIDs  []NodeID `json:"original_ids" yaml:"original_ids"`
	OriginalKind Kind     `json:"original_kind" yaml:"original_kind"`
}

// GapDetails is the variant carried by placeholder_gap nodes.
type GapDetails struct {
	DimensionID NodeID `json:"dimension_id" yaml:"dimension_id"`
	Critical    bool   `json:"critical" yaml:"critical"`
	Resolved    bool   `json:"resolved" yaml:"resolved"`
}

// ===== Records =====

// Node is a vertex in the reasoning graph.
//
// Exactly one variant pointer matching Kind may be set; root and dimension
// nodes carry none. Validate enforces this.
type Node struct {
	ID         NodeID            `json:"id" yaml:"id"`
	Label      string            `json:"label" yaml:"label"`
	Kind       Kind              `json:"kind" yaml:"kind"`
	Content    string            `json:"content" yaml:"content"`
	Confidence confidence.Vector `json:"confidence" yaml:"confidence"`
	Metadata   Metadata          `json:"metadata" yaml:"metadata"`

	Hypothesis *HypothesisDetails `json:"hypothesis,omitempty" yaml:"hypothesis,omitempty"`
	Evidence   *EvidenceDetails   `json:"evidence,omitempty" yaml:"evidence,omitempty"`
	Bridge     *BridgeDetails     `json:"bridge,omitempty" yaml:"bridge,omitempty"`
	Merged     *MergedDetails     `json:"merged,omitempty" yaml:"merged,omitempty"`
	Gap        *GapDetails        `json:"gap,omitempty" yaml:"gap,omitempty"`
}

// Validate checks the node's kind, confidence and variant.
func (n *Node) Validate() error {
	if n == nil {
		return ErrInvalidData
	}
	if n.ID == "" {
		return ErrInvalidID
	}
	if !n.Kind.Valid() {
		return fmt.Errorf("%w: node %s has unknown kind %q", ErrInvalidData, n.ID, n.Kind)
	}
	if err := n.Confidence.Validate(); err != nil {
		return fmt.Errorf("node %s: %w", n.ID, err)
	}
	if n.Metadata.ImpactScore < 0 || n.Metadata.ImpactScore > 1 {
		return fmt.Errorf("%w: node %s impact score %.4f outside [0,1]", ErrInvalidData, n.ID, n.Metadata.ImpactScore)
	}

	want := map[Kind]bool{
		KindHypothesis:     n.Hypothesis != nil,
		KindEvidence:       n.Evidence != nil,
		KindBridge:         n.Bridge != nil,
		KindMerged:         n.Merged != nil,
		KindPlaceholderGap: n.Gap != nil,
	}
	for kind, present := range want {
		if kind == n.Kind && !present {
			return fmt.Errorf("%w: %s node %s is missing its details", ErrInvalidData, n.Kind, n.ID)
		}
		if kind != n.Kind && present {
			return fmt.Errorf("%w: %s node %s carries %s details", ErrInvalidData, n.Kind, n.ID, kind)
		}
	}
	if n.Merged != nil && n.Merged.OriginalKind == KindRoot {
		return fmt.Errorf("%w: merged node %s cannot originate from root", ErrInvalidData, n.ID)
	}
	return nil
}

// MeanConfidence is the mean of the confidence vector.
func (n *Node) MeanConfidence() float64 {
	return n.Confidence.Mean()
}

// EffectiveKind is the kind used for same-kind comparisons. Merged nodes
// report the kind they were merged from.
func (n *Node) EffectiveKind() Kind {
	if n.Kind == KindMerged && n.Merged != nil && n.Merged.OriginalKind != "" {
		return n.Merged.OriginalKind
	}
	return n.Kind
}

// HasAnyTag reports whether the node carries at least one of tags.
func (n *Node) HasAnyTag(tags []string) bool {
	for _, want := range tags {
		for _, have := range n.Metadata.DisciplinaryTags {
			if strings.EqualFold(want, have) {
				return true
			}
		}
	}
	return false
}

// CausalMetadata annotates a causal claim.
type CausalMetadata struct {
	Mechanism   string   `json:"mechanism,omitempty" yaml:"mechanism,omitempty"`
	Confounders []string `json:"confounders,omitempty" yaml:"confounders,omitempty"`
	Strength    float64  `json:"strength,omitempty" yaml:"strength,omitempty"`
}

// Complete reports whether both a mechanism and confounders are recorded.
func (c *CausalMetadata) Complete() bool {
	return c != nil && strings.TrimSpace(c.Mechanism) != "" && len(c.Confounders) > 0
}

// TemporalMetadata annotates a temporal claim.
type TemporalMetadata struct {
	Pattern  TemporalPattern `json:"pattern" yaml:"pattern"`
	Delay    time.Duration   `json:"delay,omitempty" yaml:"delay,omitempty"`
	Sequence int             `json:"sequence,omitempty" yaml:"sequence,omitempty"`
}

// Edge is a directed, typed, confidence-weighted relationship.
type Edge struct {
	ID         EdgeID            `json:"id" yaml:"id"`
	Source     NodeID            `json:"source" yaml:"source"`
	Target     NodeID            `json:"target" yaml:"target"`
	Type       EdgeType          `json:"edge_type" yaml:"edge_type"`
	Confidence float64           `json:"confidence" yaml:"confidence"`
	Causal     *CausalMetadata   `json:"causal_metadata,omitempty" yaml:"causal_metadata,omitempty"`
	Temporal   *TemporalMetadata `json:"temporal_metadata,omitempty" yaml:"temporal_metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at" yaml:"created_at"`
}

// Validate checks the edge fields, not its endpoints.
func (e *Edge) Validate() error {
	if e == nil {
		return ErrInvalidData
	}
	if e.ID == "" || e.Source == "" || e.Target == "" {
		return ErrInvalidID
	}
	if !e.Type.Valid() {
		return fmt.Errorf("%w: edge %s has unknown type %q", ErrInvalidData, e.ID, e.Type)
	}
	if e.Confidence < 0 || e.Confidence > 1 {
		return fmt.Errorf("%w: edge %s confidence %.4f outside [0,1]", ErrInvalidData, e.ID, e.Confidence)
	}
	if e.Temporal != nil && !e.Temporal.Pattern.Valid() {
		return fmt.Errorf("%w: edge %s has unknown temporal pattern %q", ErrInvalidData, e.ID, e.Temporal.Pattern)
	}
	return nil
}

// Hyperedge joins more than two member nodes with non-additive influence
// on Target.
type Hyperedge struct {
	ID         HyperedgeID `json:"id" yaml:"id"`
	MemberIDs  []NodeID    `json:"member_ids" yaml:"member_ids"`
	Target     NodeID      `json:"target" yaml:"target"`
	Descriptor string      `json:"relationship_descriptor" yaml:"relationship_descriptor"`
	Confidence float64     `json:"confidence" yaml:"confidence"`
}

// MinHyperedgeMembers is the smallest legal hyperedge.
const MinHyperedgeMembers = 3

// Validate checks member count and confidence.
func (h *Hyperedge) Validate() error {
	if h == nil {
		return ErrInvalidData
	}
	if h.ID == "" || h.Target == "" {
		return ErrInvalidID
	}
	if len(h.MemberIDs) < MinHyperedgeMembers {
		return fmt.Errorf("%w: hyperedge %s has %d members, needs more than two", ErrInvalidData, h.ID, len(h.MemberIDs))
	}
	if h.Confidence < 0 || h.Confidence > 1 {
		return fmt.Errorf("%w: hyperedge %s confidence %.4f outside [0,1]", ErrInvalidData, h.ID, h.Confidence)
	}
	return nil
}

// ===== Tag sets =====

// NormalizeTags returns tags lower-cased, trimmed, de-duplicated and sorted.
func NormalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	if len(out) == 0 {
		return nil
	}
	return out
}

// UnionTags returns the normalized union of a and b.
func UnionTags(a, b []string) []string {
	all := make([]string, 0, len(a)+len(b))
	all = append(all, a...)
	all = append(all, b...)
	return NormalizeTags(all)
}

// TagsDisjoint reports whether a and b share no tag.
func TagsDisjoint(a, b []string) bool {
	set := make(map[string]struct{}, len(a))
	for _, t := range a {
		set[t] = struct{}{}
	}
	for _, t := range b {
		if _, ok := set[t]; ok {
			return false
		}
	}
	return true
}
