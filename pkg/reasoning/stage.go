package reasoning

import (
	"fmt"
	"strconv"
	"strings"
)

// Stage is the position of an Engine in the reasoning lifecycle.
//
// Stages only move forward, by exactly one per successful operation:
//
//	0 uninitialized  -> Initialize
//	1 initialization -> Decompose
//	2 decomposition  -> GenerateHypotheses
//	3 hypothesis     -> IntegrateEvidence (first call)
//	4 evidence       -> IntegrateEvidence (repeatable) | PruneAndMerge
//	5 refinement     -> ExtractSubgraph
//	6 extraction     -> ComposeOutput
//	7 composition    -> PerformAudit
//	8 reflection     (terminal)
type Stage int

// Lifecycle stages.
const (
	StageUninitialized Stage = iota
	StageInitialization
	StageDecomposition
	StageHypothesis
	StageEvidence
	StageRefinement
	StageExtraction
	StageComposition
	StageReflection
)

var stageNames = [...]string{
	"uninitialized",
	"initialization",
	"decomposition",
	"hypothesis",
	"evidence",
	"refinement",
	"extraction",
	"composition",
	"reflection",
}

// String returns "<n>:<name>".
func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return fmt.Sprintf("%d:unknown", int(s))
	}
	return fmt.Sprintf("%d:%s", int(s), stageNames[s])
}

// Name returns the bare stage name.
func (s Stage) Name() string {
	if s < 0 || int(s) >= len(stageNames) {
		return "unknown"
	}
	return stageNames[s]
}

// ParseStage accepts a stage number or name.
func ParseStage(v string) (Stage, error) {
	if n, err := strconv.Atoi(v); err == nil && n >= 0 && n < len(stageNames) {
		return Stage(n), nil
	}
	for i, name := range stageNames {
		if strings.EqualFold(name, v) {
			return Stage(i), nil
		}
	}
	return 0, fmt.Errorf("unknown stage %q", v)
}

// Operation names, used in errors, logs and metrics.
const (
	OpInitialize         = "initialize"
	OpDecompose          = "decompose"
	OpGenerateHypotheses = "generate_hypotheses"
	OpIntegrateEvidence  = "integrate_evidence"
	OpPruneAndMerge      = "prune_and_merge"
	OpExtractSubgraph    = "extract_subgraph"
	OpComposeOutput      = "compose_output"
	OpPerformAudit       = "perform_audit"
	OpSnapshot           = "snapshot"
	OpCausalPath         = "causal_path"
)

// transition is the stage an operation accepts and the stage it moves to.
type transition struct {
	from []Stage
	to   func(Stage) Stage
}

func advance(s Stage) Stage { return s + 1 }

var transitions = map[string]transition{
	OpInitialize:         {from: []Stage{StageUninitialized}, to: advance},
	OpDecompose:          {from: []Stage{StageInitialization}, to: advance},
	OpGenerateHypotheses: {from: []Stage{StageDecomposition}, to: advance},
	OpIntegrateEvidence:  {from: []Stage{StageHypothesis, StageEvidence}, to: func(Stage) Stage { return StageEvidence }},
	OpPruneAndMerge:      {from: []Stage{StageEvidence}, to: advance},
	OpExtractSubgraph:    {from: []Stage{StageRefinement}, to: advance},
	OpComposeOutput:      {from: []Stage{StageExtraction}, to: advance},
	OpPerformAudit:       {from: []Stage{StageComposition}, to: advance},
}

// checkStage returns the next stage for op, or a stage violation.
func checkStage(op string, current Stage) (Stage, error) {
	t, ok := transitions[op]
	if !ok {
		return current, fmt.Errorf("no stage transition registered for %s", op)
	}
	for _, s := range t.from {
		if s == current {
			return t.to(current), nil
		}
	}
	return current, stageViolation(op, t.from, current)
}

// RequiredStages lists the stages op may run in.
func RequiredStages(op string) []Stage {
	return append([]Stage(nil), transitions[op].from...)
}
