package reasoning

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/orneryd/thoughtgraph/pkg/confidence"
	"github.com/orneryd/thoughtgraph/pkg/graph"
)

// validate is shared by every input type. validator.Validate caches struct
// metadata and is safe for concurrent use.
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate runs struct tag validation on any input type and returns a
// ValidationError naming the first offending field.
func Validate(op string, stage Stage, in any) error {
	if err := validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return validationError(op, stage, fe.Namespace(), "field %s failed %q (value %v)", fe.Field(), fe.Tag(), fe.Value())
		}
		return validationError(op, stage, "", "%v", err)
	}
	return nil
}

// InitializeInput starts a reasoning session.
type InitializeInput struct {
	Task             string        `json:"task" yaml:"task" validate:"required"`
	Confidence       []float64     `json:"confidence" yaml:"confidence" validate:"len=4,dive,gte=0,lte=1"`
	DisciplinaryTags []string      `json:"disciplinary_tags,omitempty" yaml:"disciplinary_tags,omitempty"`
	Provenance       string        `json:"provenance,omitempty" yaml:"provenance,omitempty"`
	Layers           []graph.Layer `json:"layers,omitempty" yaml:"layers,omitempty"`
}

// InitializeResult reports the root node.
type InitializeResult struct {
	NodeID graph.NodeID `json:"node_id"`
	Stage  Stage        `json:"stage"`
}

// DecomposeInput selects dimension labels. An empty list uses the defaults.
type DecomposeInput struct {
	Dimensions []string `json:"dimensions,omitempty" yaml:"dimensions,omitempty" validate:"omitempty,dive,required"`
	// SkipMandatory suppresses appending Potential Biases and Knowledge Gaps.
	SkipMandatory bool `json:"skip_mandatory,omitempty" yaml:"skip_mandatory,omitempty"`
}

// DecomposeResult lists created dimension and knowledge-gap nodes.
type DecomposeResult struct {
	DimensionIDs []graph.NodeID `json:"dimension_node_ids"`
	GapIDs       []graph.NodeID `json:"gap_node_ids,omitempty"`
	Stage        Stage          `json:"stage"`
}

// HypothesisInput describes one candidate hypothesis.
type HypothesisInput struct {
	Content               string    `json:"content" yaml:"content" validate:"required"`
	Label                 string    `json:"label,omitempty" yaml:"label,omitempty"`
	Confidence            []float64 `json:"confidence,omitempty" yaml:"confidence,omitempty" validate:"omitempty,len=4,dive,gte=0,lte=1"`
	FalsificationCriteria string    `json:"falsification_criteria,omitempty" yaml:"falsification_criteria,omitempty"`
	ImpactScore           *float64  `json:"impact_score,omitempty" yaml:"impact_score,omitempty" validate:"omitempty,gte=0,lte=1"`
	DisciplinaryTags      []string  `json:"disciplinary_tags,omitempty" yaml:"disciplinary_tags,omitempty"`
	ResearchPlan          []string  `json:"research_plan,omitempty" yaml:"research_plan,omitempty"`
	Attribution           []string  `json:"attribution,omitempty" yaml:"attribution,omitempty"`
	Layer                 string    `json:"layer,omitempty" yaml:"layer,omitempty"`
}

// GenerateHypothesesInput attaches hypotheses to one dimension.
type GenerateHypothesesInput struct {
	DimensionID string            `json:"dimension_id" yaml:"dimension_id" validate:"required"`
	Hypotheses  []HypothesisInput `json:"hypotheses" yaml:"hypotheses" validate:"required,dive"`
	// AllowFewer lifts the three-hypothesis minimum.
	AllowFewer bool `json:"allow_fewer,omitempty" yaml:"allow_fewer,omitempty"`
}

// HypothesesResult lists created hypothesis ids.
type HypothesesResult struct {
	HypothesisIDs []graph.NodeID `json:"hypothesis_node_ids"`
	// DroppedCount is the number of inputs past MaxHypotheses.
	DroppedCount  int            `json:"dropped_count,omitempty"`
	Stage         Stage          `json:"stage"`
}

// EvidenceInput describes one observation.
type EvidenceInput struct {
	Content    string    `json:"content" yaml:"content" validate:"required"`
	Label      string    `json:"label,omitempty" yaml:"label,omitempty"`
	Confidence []float64 `json:"confidence,omitempty" yaml:"confidence,omitempty" validate:"omitempty,len=4,dive,gte=0,lte=1"`
	// Relationship is an edge type name; empty means Supportive.
	Relationship     string                  `json:"relationship,omitempty" yaml:"relationship,omitempty"`
	DisciplinaryTags []string                `json:"disciplinary_tags,omitempty" yaml:"disciplinary_tags,omitempty"`
	StatisticalPower *graph.StatisticalPower `json:"statistical_power,omitempty" yaml:"statistical_power,omitempty"`
	Sources          []string                `json:"sources,omitempty" yaml:"sources,omitempty"`
	Provenance       string                  `json:"provenance,omitempty" yaml:"provenance,omitempty"`
	ObservedAt       *time.Time              `json:"observed_at,omitempty" yaml:"observed_at,omitempty"`
	ImpactScore      *float64                `json:"impact_score,omitempty" yaml:"impact_score,omitempty" validate:"omitempty,gte=0,lte=1"`
	EdgeConfidence   *float64                `json:"edge_confidence,omitempty" yaml:"edge_confidence,omitempty" validate:"omitempty,gte=0,lte=1"`
	CausalMetadata   *graph.CausalMetadata   `json:"causal_metadata,omitempty" yaml:"causal_metadata,omitempty"`
	TemporalMetadata *graph.TemporalMetadata `json:"temporal_metadata,omitempty" yaml:"temporal_metadata,omitempty"`
	// ContributorIDs are existing nodes that jointly produced this evidence.
	ContributorIDs []string `json:"contributor_ids,omitempty" yaml:"contributor_ids,omitempty" validate:"omitempty,dive,required"`
	Attribution    []string `json:"attribution,omitempty" yaml:"attribution,omitempty"`
	Layer          string   `json:"layer,omitempty" yaml:"layer,omitempty"`
}

// EvidenceResult reports the evidence node and the hypothesis update.
type EvidenceResult struct {
	EvidenceID         graph.NodeID      `json:"evidence_node_id"`
	PreviousConfidence confidence.Vector `json:"previous_confidence"`
	UpdatedConfidence  confidence.Vector `json:"updated_confidence"`
	Novelty            float64           `json:"novelty"`
	BiasFlags          []string          `json:"bias_flags,omitempty"`
	BridgeID           graph.NodeID      `json:"bridge_node_id,omitempty"`
	HyperedgeID        graph.HyperedgeID `json:"hyperedge_id,omitempty"`
	ResolvedGapIDs     []graph.NodeID    `json:"resolved_gap_ids,omitempty"`
	EvictedIDs         []graph.NodeID    `json:"evicted_node_ids,omitempty"`
	Stage              Stage             `json:"stage"`
}

// PruneMergeInput overrides the refinement thresholds.
type PruneMergeInput struct {
	PruningThreshold *float64 `json:"pruning_threshold,omitempty" yaml:"pruning_threshold,omitempty" validate:"omitempty,gte=0,lte=1"`
	MergingThreshold *float64 `json:"merging_threshold,omitempty" yaml:"merging_threshold,omitempty" validate:"omitempty,gte=0,lte=1"`
}

// Merge records one pairwise consolidation.
type Merge struct {
	MergedID  graph.NodeID    `json:"merged_id"`
	Originals [2]graph.NodeID `json:"originals"`
}

// PruneMergeResult reports what refinement removed.
type PruneMergeResult struct {
	PrunedIDs []graph.NodeID `json:"pruned_ids"`
	Merges    []Merge        `json:"merges"`
	Stage     Stage          `json:"stage"`
}

// ExtractCriteria filters the extracted subgraph. Zero values select
// everything.
type ExtractCriteria struct {
	MinConfidence  float64          `json:"min_confidence,omitempty" yaml:"min_confidence,omitempty" validate:"gte=0,lte=1"`
	MinImpact      float64          `json:"min_impact,omitempty" yaml:"min_impact,omitempty" validate:"gte=0,lte=1"`
	Kinds          []graph.Kind     `json:"kinds,omitempty" yaml:"kinds,omitempty"`
	Layers         []string         `json:"layers,omitempty" yaml:"layers,omitempty"`
	Tags           []string         `json:"tags,omitempty" yaml:"tags,omitempty"`
	EdgeTypes      []graph.EdgeType `json:"edge_types,omitempty" yaml:"edge_types,omitempty"`
	ExcludeBridges bool             `json:"exclude_bridges,omitempty" yaml:"exclude_bridges,omitempty"`
}

func (c *ExtractCriteria) check(op string, stage Stage) error {
	for _, k := range c.Kinds {
		if !k.Valid() {
			return validationError(op, stage, string(k), "unknown node kind %q", k)
		}
	}
	for i, t := range c.EdgeTypes {
		parsed, err := graph.ParseEdgeType(string(t))
		if err != nil {
			return validationError(op, stage, string(t), "unknown edge type %q", t)
		}
		c.EdgeTypes[i] = parsed
	}
	return nil
}

// Subgraph is an induced, filtered view of the graph.
type Subgraph struct {
	Nodes         []*graph.Node      `json:"nodes"`
	Edges         []*graph.Edge      `json:"edges"`
	Hyperedges    []*graph.Hyperedge `json:"hyperedges,omitempty"`
	Density       float64            `json:"density"`
	AverageDegree float64            `json:"average_degree"`
	Stage         Stage              `json:"stage"`
}

// Contains reports whether the subgraph selected id.
func (s *Subgraph) Contains(id graph.NodeID) bool {
	if s == nil {
		return false
	}
	for _, n := range s.Nodes {
		if n.ID == id {
			return true
		}
	}
	return false
}

// ComposeOptions tunes claim emission.
type ComposeOptions struct {
	// MinConfidence drops claims whose hypothesis mean confidence is lower.
	MinConfidence float64 `json:"min_confidence,omitempty" yaml:"min_confidence,omitempty" validate:"gte=0,lte=1"`
}

// Claim is one structured statement derived from a hypothesis.
type Claim struct {
	NodeID                graph.NodeID      `json:"node_id"`
	Statement             string            `json:"statement"`
	Confidence            confidence.Vector `json:"confidence"`
	MeanConfidence        float64           `json:"mean_confidence"`
	EdgeTypes             []graph.EdgeType  `json:"edge_types"`
	EvidenceIDs           []graph.NodeID    `json:"evidence_ids"`
	Falsifiable           bool              `json:"falsifiable"`
	FalsificationCriteria string            `json:"falsification_criteria,omitempty"`
}

// ComposeResult holds the emitted claims.
type ComposeResult struct {
	Claims []Claim `json:"claims"`
	Stage  Stage   `json:"stage"`
}

// AuditInput optionally restricts the audit to named checks.
type AuditInput struct {
	Checks []string `json:"checks,omitempty" yaml:"checks,omitempty" validate:"omitempty,dive,required"`
}

// CheckResult is the outcome of one audit check.
type CheckResult struct {
	Name      string  `json:"name"`
	Passed    bool    `json:"passed"`
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
	// Measured is false when the check had nothing to measure and passed.
	Measured bool   `json:"measured"`
	Detail   string `json:"detail"`
}

// AuditResult is the audit battery outcome.
type AuditResult struct {
	ChecksPerformed []string      `json:"checks_performed"`
	Checks          []CheckResult `json:"checks"`
	Issues          []string      `json:"issues"`
	Recommendations []string      `json:"recommendations"`
	QualityScore    float64       `json:"quality_score"`
	Stage           Stage         `json:"stage"`
}

func trimmed(s string) string { return strings.TrimSpace(s) }

func fieldf(name string, i int) string { return fmt.Sprintf("%s[%d]", name, i) }
