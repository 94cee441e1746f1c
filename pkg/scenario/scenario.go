// Package scenario drives a reasoning engine through its stages from a YAML
// description, for batch runs and reproducible examples.
//
// A scenario lists the input for each stage. Stages run in order and the run
// stops early at StopAfter, or at the first error.
//
// Example File:
//
//	name: latency regression
//	task: Why did p99 latency double after the deploy?
//	confidence: [0.8, 0.8, 0.8, 0.8]
//	generate:
//	  dimension_id: "2.1"
//	  hypotheses:
//	    - content: A cache was disabled
//	      falsification_criteria: hit ratio unchanged
//	    - content: GC pauses grew
//	      falsification_criteria: pause times unchanged
//	    - content: A dependency slowed down
//	      falsification_criteria: dependency latency flat
//	evidence:
//	  - hypothesis_id: "3.1.1"
//	    content: Cache hit ratio fell from 92% to 40%
//	    confidence: [0.9, 0.9, 0.9, 0.9]
//	    statistical_power: {sample_size: 1200, power: 0.9}
//
// Example Usage:
//
//	sc, err := scenario.Load("latency.yaml")
//	if err != nil {
//		return err
//	}
//	report, err := scenario.Run(ctx, reasoning.New(nil), sc)
//	report.WriteText(os.Stdout)
package scenario

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/orneryd/thoughtgraph/pkg/graph"
	"github.com/orneryd/thoughtgraph/pkg/reasoning"
)

// Scenario is the input for one full run.
type Scenario struct {
	Name string `yaml:"name,omitempty"`

	reasoning.InitializeInput `yaml:",inline"`

	Decompose reasoning.DecomposeInput          `yaml:"decompose,omitempty"`
	Generate  reasoning.GenerateHypothesesInput `yaml:"generate"`
	Evidence  []EvidenceStep                    `yaml:"evidence,omitempty"`
	Refine    reasoning.PruneMergeInput         `yaml:"refine,omitempty"`
	Extract   reasoning.ExtractCriteria         `yaml:"extract,omitempty"`
	Compose   reasoning.ComposeOptions          `yaml:"compose,omitempty"`
	Audit     reasoning.AuditInput              `yaml:"audit,omitempty"`

	// StopAfter ends the run once the engine reaches this stage. Accepts a
	// stage name or number. Empty runs through the audit.
	StopAfter string `yaml:"stop_after,omitempty"`
}

// EvidenceStep attaches one observation to a hypothesis.
type EvidenceStep struct {
	HypothesisID            string `yaml:"hypothesis_id"`
	reasoning.EvidenceInput `yaml:",inline"`
}

// ErrInvalidScenario is returned for scenarios that fail to parse or check.
var ErrInvalidScenario = errors.New("invalid scenario")

// Parse decodes a YAML scenario. Unknown keys are rejected.
func Parse(data []byte) (*Scenario, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var sc Scenario
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScenario, err)
	}
	if err := sc.check(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// Load reads and parses a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario: %w", err)
	}
	return Parse(data)
}

func (sc *Scenario) check() error {
	if strings.TrimSpace(sc.Task) == "" {
		return fmt.Errorf("%w: task is required", ErrInvalidScenario)
	}
	for i, step := range sc.Evidence {
		if step.HypothesisID == "" {
			return fmt.Errorf("%w: evidence[%d] has no hypothesis_id", ErrInvalidScenario, i)
		}
	}
	if _, err := sc.stopStage(); err != nil {
		return fmt.Errorf("%w: stop_after: %v", ErrInvalidScenario, err)
	}
	return nil
}

func (sc *Scenario) stopStage() (reasoning.Stage, error) {
	if sc.StopAfter == "" {
		return reasoning.StageReflection, nil
	}
	return reasoning.ParseStage(sc.StopAfter)
}

// Report collects every stage result of a run. Stages that did not run are
// nil.
type Report struct {
	Name       string                      `json:"name,omitempty" yaml:"name,omitempty"`
	Task       string                      `json:"task" yaml:"task"`
	Stage      reasoning.Stage             `json:"stage" yaml:"stage"`
	Root       *reasoning.InitializeResult `json:"root,omitempty" yaml:"root,omitempty"`
	Dimensions *reasoning.DecomposeResult  `json:"dimensions,omitempty" yaml:"dimensions,omitempty"`
	Hypotheses *reasoning.HypothesesResult `json:"hypotheses,omitempty" yaml:"hypotheses,omitempty"`
	Evidence   []*reasoning.EvidenceResult `json:"evidence,omitempty" yaml:"evidence,omitempty"`
	Refinement *reasoning.PruneMergeResult `json:"refinement,omitempty" yaml:"refinement,omitempty"`
	Subgraph   *reasoning.Subgraph         `json:"subgraph,omitempty" yaml:"subgraph,omitempty"`
	Output     *reasoning.ComposeResult    `json:"output,omitempty" yaml:"output,omitempty"`
	Audit      *reasoning.AuditResult      `json:"audit,omitempty" yaml:"audit,omitempty"`
}

// Run executes sc on e. The engine must be fresh (stage 0). On failure the
// partial report is returned along with the error.
func Run(ctx context.Context, e *reasoning.Engine, sc *Scenario) (*Report, error) {
	stop, err := sc.stopStage()
	if err != nil {
		return nil, fmt.Errorf("%w: stop_after: %v", ErrInvalidScenario, err)
	}
	rep := &Report{Name: sc.Name, Task: sc.Task}

	steps := []struct {
		op  string
		run func() error
	}{
		{reasoning.OpInitialize, func() (err error) {
			rep.Root, err = e.Initialize(sc.InitializeInput)
			return err
		}},
		{reasoning.OpDecompose, func() (err error) {
			rep.Dimensions, err = e.Decompose(sc.Decompose)
			return err
		}},
		{reasoning.OpGenerateHypotheses, func() (err error) {
			rep.Hypotheses, err = e.GenerateHypotheses(sc.Generate)
			return err
		}},
		{reasoning.OpIntegrateEvidence, func() error {
			for i, step := range sc.Evidence {
				if err := ctx.Err(); err != nil {
					return err
				}
				res, err := e.IntegrateEvidence(graph.NodeID(step.HypothesisID), step.EvidenceInput)
				if err != nil {
					return fmt.Errorf("evidence[%d]: %w", i, err)
				}
				rep.Evidence = append(rep.Evidence, res)
			}
			return nil
		}},
		{reasoning.OpPruneAndMerge, func() (err error) {
			rep.Refinement, err = e.PruneAndMerge(sc.Refine)
			return err
		}},
		{reasoning.OpExtractSubgraph, func() (err error) {
			rep.Subgraph, err = e.ExtractSubgraph(sc.Extract)
			return err
		}},
		{reasoning.OpComposeOutput, func() (err error) {
			rep.Output, err = e.ComposeOutput(sc.Compose)
			return err
		}},
		{reasoning.OpPerformAudit, func() (err error) {
			rep.Audit, err = e.PerformAudit(sc.Audit)
			return err
		}},
	}

	for _, step := range steps {
		if e.Stage() >= stop {
			break
		}
		if err := ctx.Err(); err != nil {
			rep.Stage = e.Stage()
			return rep, err
		}
		if err := step.run(); err != nil {
			rep.Stage = e.Stage()
			return rep, fmt.Errorf("scenario step %s: %w", step.op, err)
		}
	}
	rep.Stage = e.Stage()
	return rep, nil
}

// WriteText prints a human-readable summary of the report.
func (r *Report) WriteText(w io.Writer) error {
	var b strings.Builder
	if r.Name != "" {
		fmt.Fprintf(&b, "Scenario: %s\n", r.Name)
	}
	fmt.Fprintf(&b, "Task:     %s\n", r.Task)
	fmt.Fprintf(&b, "Stage:    %s\n", r.Stage)

	if r.Dimensions != nil {
		fmt.Fprintf(&b, "Dimensions: %d (%d knowledge gaps)\n", len(r.Dimensions.DimensionIDs), len(r.Dimensions.GapIDs))
	}
	if r.Hypotheses != nil {
		fmt.Fprintf(&b, "Hypotheses: %d\n", len(r.Hypotheses.HypothesisIDs))
	}
	for _, ev := range r.Evidence {
		fmt.Fprintf(&b, "  evidence %s: confidence %.3f -> %.3f", ev.EvidenceID,
			ev.PreviousConfidence.Mean(), ev.UpdatedConfidence.Mean())
		if len(ev.BiasFlags) > 0 {
			fmt.Fprintf(&b, " bias=%s", strings.Join(ev.BiasFlags, ","))
		}
		b.WriteString("\n")
	}
	if r.Refinement != nil {
		fmt.Fprintf(&b, "Refinement: %d pruned, %d merged\n", len(r.Refinement.PrunedIDs), len(r.Refinement.Merges))
	}
	if r.Subgraph != nil {
		fmt.Fprintf(&b, "Subgraph: %d nodes, %d edges, density %.3f\n",
			len(r.Subgraph.Nodes), len(r.Subgraph.Edges), r.Subgraph.Density)
	}
	if r.Output != nil {
		fmt.Fprintf(&b, "Claims: %d\n", len(r.Output.Claims))
		for _, c := range r.Output.Claims {
			fmt.Fprintf(&b, "  [%s] %.3f %s (evidence: %d)\n", c.NodeID, c.MeanConfidence, c.Statement, len(c.EvidenceIDs))
		}
	}
	if r.Audit != nil {
		fmt.Fprintf(&b, "Audit: quality %.3f\n", r.Audit.QualityScore)
		for _, c := range r.Audit.Checks {
			status := "pass"
			if !c.Passed {
				status = "FAIL"
			}
			fmt.Fprintf(&b, "  %-16s %s  %s\n", c.Name, status, c.Detail)
		}
		for _, rec := range r.Audit.Recommendations {
			fmt.Fprintf(&b, "  - %s\n", rec)
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}
