// Package mcp provides tool definitions for the thoughtgraph MCP server.
package mcp

import (
	"encoding/json"
)

// ToolName constants for type-safe tool references
const (
	ToolSessionCreate      = "session_create"
	ToolSessionClose       = "session_close"
	ToolInitializeGraph    = "initialize_graph"
	ToolDecomposeTask      = "decompose_task"
	ToolGenerateHypotheses = "generate_hypotheses"
	ToolIntegrateEvidence  = "integrate_evidence"
	ToolPruneAndMerge      = "prune_and_merge"
	ToolExtractSubgraph    = "extract_subgraph"
	ToolComposeOutput      = "compose_output"
	ToolPerformAudit       = "perform_audit"
	ToolExportGraph        = "export_graph"
	ToolSaveSnapshot       = "save_snapshot"
	ToolLoadSnapshot       = "load_snapshot"
)

// AllTools returns all tool names in stage order.
func AllTools() []string {
	return []string{
		ToolSessionCreate,
		ToolSessionClose,
		ToolInitializeGraph,
		ToolDecomposeTask,
		ToolGenerateHypotheses,
		ToolIntegrateEvidence,
		ToolPruneAndMerge,
		ToolExtractSubgraph,
		ToolComposeOutput,
		ToolPerformAudit,
		ToolExportGraph,
		ToolSaveSnapshot,
		ToolLoadSnapshot,
	}
}

// IsValidTool checks if a tool name is valid
func IsValidTool(name string) bool {
	for _, t := range AllTools() {
		if t == name {
			return true
		}
	}
	return false
}

// GetToolDefinitions returns all MCP tool definitions with JSON schemas.
//
// The reasoning tools must be called in stage order on one session:
// initialize_graph, decompose_task, generate_hypotheses, integrate_evidence
// (repeatable), prune_and_merge, extract_subgraph, compose_output,
// perform_audit. Out-of-order calls fail with STAGE_VIOLATION.
func GetToolDefinitions() []Tool {
	return []Tool{
		getSessionCreateTool(),
		getSessionCloseTool(),
		getInitializeGraphTool(),
		getDecomposeTaskTool(),
		getGenerateHypothesesTool(),
		getIntegrateEvidenceTool(),
		getPruneAndMergeTool(),
		getExtractSubgraphTool(),
		getComposeOutputTool(),
		getPerformAuditTool(),
		getExportGraphTool(),
		getSaveSnapshotTool(),
		getLoadSnapshotTool(),
	}
}

// ===== schema helpers =====

func objectSchema(props map[string]interface{}, required ...string) json.RawMessage {
	if required == nil {
		required = []string{}
	}
	schema := map[string]interface{}{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
	schemaJSON, _ := json.Marshal(schema)
	return schemaJSON
}

func stringProp(desc string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "description": desc}
}

func stringArrayProp(desc string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "array",
		"items":       map[string]interface{}{"type": "string"},
		"description": desc,
	}
}

func unitProp(desc string) map[string]interface{} {
	return map[string]interface{}{"type": "number", "minimum": 0, "maximum": 1, "description": desc}
}

func confidenceProp(desc string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "array",
		"items":       map[string]interface{}{"type": "number", "minimum": 0, "maximum": 1},
		"minItems":    4,
		"maxItems":    4,
		"description": desc + " Four values in [0,1]: empirical support, theoretical basis, methodological rigor, consensus alignment.",
	}
}

func sessionProp() map[string]interface{} {
	return stringProp("Session ID returned by session_create.")
}

// ===== session tools =====

func getSessionCreateTool() Tool {
	return Tool{
		Name: ToolSessionCreate,
		Description: `Open a new reasoning session and return its session_id.
Pass snapshot (a JSON export from export_graph) to resume a previous graph.

Examples:
- session_create()
- session_create(snapshot={...})`,
		InputSchema: objectSchema(map[string]interface{}{
			"snapshot": map[string]interface{}{
				"type":        "object",
				"description": "Optional JSON export to restore.",
			},
		}),
	}
}

func getSessionCloseTool() Tool {
	return Tool{
		Name:        ToolSessionClose,
		Description: `Close a session and free its graph. Save it first with save_snapshot if you need it later.`,
		InputSchema: objectSchema(map[string]interface{}{"session_id": sessionProp()}, "session_id"),
	}
}

// ===== reasoning tools =====

func getInitializeGraphTool() Tool {
	return Tool{
		Name: ToolInitializeGraph,
		Description: `Stage 1. Create the root node for a research task.

Examples:
- initialize_graph(session_id="...", task="Why did p99 latency double?", confidence=[0.8,0.8,0.8,0.8])`,
		InputSchema: objectSchema(map[string]interface{}{
			"session_id":        sessionProp(),
			"task":              stringProp("The research question."),
			"confidence":        confidenceProp("Initial root confidence."),
			"disciplinary_tags": stringArrayProp("Disciplines the task belongs to."),
			"provenance":        stringProp("Where the task came from. Default: task"),
		}, "session_id", "task", "confidence"),
	}
}

func getDecomposeTaskTool() Tool {
	return Tool{
		Name: ToolDecomposeTask,
		Description: `Stage 2. Split the task into dimension nodes. Without dimensions the default set is used.
"Potential Biases" and "Knowledge Gaps" are always added unless skip_mandatory is true.

Examples:
- decompose_task(session_id="...")
- decompose_task(session_id="...", dimensions=["Scope","Data Needs"])`,
		InputSchema: objectSchema(map[string]interface{}{
			"session_id":     sessionProp(),
			"dimensions":     stringArrayProp("Dimension labels."),
			"skip_mandatory": map[string]interface{}{"type": "boolean", "default": false},
		}, "session_id"),
	}
}

func getGenerateHypothesesTool() Tool {
	hypothesis := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"content":                stringProp("The hypothesis statement."),
			"label":                  stringProp("Short label."),
			"confidence":             confidenceProp("Prior confidence. Default 0.5 each."),
			"falsification_criteria": stringProp("Observation that would prove it wrong."),
			"impact_score":           unitProp("Expected impact. Default 0.5"),
			"disciplinary_tags":      stringArrayProp("Disciplines."),
			"research_plan":          stringArrayProp("Follow-up steps."),
			"attribution":            stringArrayProp("Authors or sources."),
			"layer":                  stringProp("Layer id. Default: theoretical"),
		},
		"required": []string{"content"},
	}
	return Tool{
		Name: ToolGenerateHypotheses,
		Description: `Stage 3. Attach 3-5 hypotheses to one dimension node. Inputs past the fifth are dropped and counted.

Examples:
- generate_hypotheses(session_id="...", dimension_id="2.1", hypotheses=[{content:"..."},{content:"..."},{content:"..."}])`,
		InputSchema: objectSchema(map[string]interface{}{
			"session_id":   sessionProp(),
			"dimension_id": stringProp("Dimension node id, e.g. 2.1"),
			"hypotheses": map[string]interface{}{
				"type":     "array",
				"items":    hypothesis,
				"minItems": 1,
			},
			"allow_fewer": map[string]interface{}{"type": "boolean", "default": false},
		}, "session_id", "dimension_id", "hypotheses"),
	}
}

func getIntegrateEvidenceTool() Tool {
	return Tool{
		Name: ToolIntegrateEvidence,
		Description: `Stage 4 (repeatable). Attach evidence to a hypothesis and update its confidence.
relationship is an edge type such as Supportive, Contradictory, Correlative, Causal,
Counterfactual, Confounded, TemporalPrecedence, Cyclic, Delayed or Sequential.

Examples:
- integrate_evidence(session_id="...", hypothesis_id="3.1.1", content="Latency fell 40% (n=200)", confidence=[0.9,0.8,0.8,0.7], relationship="Supportive")`,
		InputSchema: objectSchema(map[string]interface{}{
			"session_id":        sessionProp(),
			"hypothesis_id":     stringProp("Hypothesis node id, e.g. 3.1.1"),
			"content":           stringProp("The observation."),
			"label":             stringProp("Short label."),
			"confidence":        confidenceProp("Evidence confidence."),
			"relationship":      stringProp("Edge type. Default: Supportive"),
			"disciplinary_tags": stringArrayProp("Disciplines."),
			"statistical_power": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"sample_size": map[string]interface{}{"type": "integer", "minimum": 0},
					"power":       unitProp("Statistical power."),
					"effect_size": map[string]interface{}{"type": "number"},
					"confidence_interval": map[string]interface{}{
						"type":  "array",
						"items": map[string]interface{}{"type": "number"},
					},
				},
			},
			"sources":         stringArrayProp("Source references."),
			"observed_at":     map[string]interface{}{"type": "string", "format": "date-time"},
			"impact_score":    unitProp("Expected impact. Default 0.5"),
			"edge_confidence": unitProp("Confidence of the evidence edge."),
			"causal_metadata": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"mechanism":   stringProp("How the cause produces the effect."),
					"confounders": stringArrayProp("Known confounders."),
				},
			},
			"temporal_metadata": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"pattern": map[string]interface{}{
						"type": "string",
						"enum": []string{"static", "precedence", "delayed", "cyclic", "sequential"},
					},
					"delay": map[string]interface{}{"type": "integer", "description": "Delay in nanoseconds."},
				},
			},
			"contributor_ids": stringArrayProp("Other nodes that jointly produced this evidence."),
			"attribution":     stringArrayProp("Authors or sources."),
			"layer":           stringProp("Layer id. Default: empirical"),
		}, "session_id", "hypothesis_id", "content"),
	}
}

func getPruneAndMergeTool() Tool {
	return Tool{
		Name: ToolPruneAndMerge,
		Description: `Stage 5. Remove low-confidence, low-impact nodes and merge near-duplicates.

Examples:
- prune_and_merge(session_id="...")
- prune_and_merge(session_id="...", pruning_threshold=0.3, merging_threshold=0.9)`,
		InputSchema: objectSchema(map[string]interface{}{
			"session_id":        sessionProp(),
			"pruning_threshold": unitProp("Mean-confidence floor. Default 0.2"),
			"merging_threshold": unitProp("Content similarity for merging. Default 0.8"),
		}, "session_id"),
	}
}

func getExtractSubgraphTool() Tool {
	return Tool{
		Name: ToolExtractSubgraph,
		Description: `Stage 6. Select the nodes worth reporting. Can be called again to replace the selection.

Examples:
- extract_subgraph(session_id="...", min_confidence=0.6, kinds=["hypothesis","evidence"])`,
		InputSchema: objectSchema(map[string]interface{}{
			"session_id":      sessionProp(),
			"min_confidence":  unitProp("Mean-confidence floor."),
			"min_impact":      unitProp("Impact floor."),
			"kinds":           stringArrayProp("Node kinds to keep."),
			"layers":          stringArrayProp("Layer ids to keep."),
			"tags":            stringArrayProp("Keep nodes carrying any of these tags."),
			"edge_types":      stringArrayProp("Edge types to keep."),
			"exclude_bridges": map[string]interface{}{"type": "boolean", "default": false},
		}, "session_id"),
	}
}

func getComposeOutputTool() Tool {
	return Tool{
		Name:        ToolComposeOutput,
		Description: `Stage 7. Return one structured claim per extracted hypothesis, with its evidence ids.`,
		InputSchema: objectSchema(map[string]interface{}{
			"session_id":     sessionProp(),
			"min_confidence": unitProp("Skip hypotheses below this mean confidence."),
		}, "session_id"),
	}
}

func getPerformAuditTool() Tool {
	return Tool{
		Name: ToolPerformAudit,
		Description: `Stage 8. Run quality checks and return a score with issues and recommendations.
Checks: high_value_coverage, bias_flag_density, unresolved_critical_gaps, falsifiability_coverage,
causal_validity, temporal_consistency, statistical_rigor, attribution_coverage.`,
		InputSchema: objectSchema(map[string]interface{}{
			"session_id": sessionProp(),
			"checks":     stringArrayProp("Checks to run. Default: all."),
		}, "session_id"),
	}
}

// ===== persistence tools =====

func getExportGraphTool() Tool {
	return Tool{
		Name: ToolExportGraph,
		Description: `Export the session graph as json (lossless, restorable), yaml or graphml.

Examples:
- export_graph(session_id="...", format="graphml")`,
		InputSchema: objectSchema(map[string]interface{}{
			"session_id": sessionProp(),
			"format": map[string]interface{}{
				"type":    "string",
				"enum":    []string{"json", "yaml", "graphml"},
				"default": "json",
			},
		}, "session_id"),
	}
}

func getSaveSnapshotTool() Tool {
	return Tool{
		Name:        ToolSaveSnapshot,
		Description: `Persist the session to the server's snapshot store under its session_id.`,
		InputSchema: objectSchema(map[string]interface{}{"session_id": sessionProp()}, "session_id"),
	}
}

func getLoadSnapshotTool() Tool {
	return Tool{
		Name:        ToolLoadSnapshot,
		Description: `Reopen a saved session by session_id, replacing the open session with that id.`,
		InputSchema: objectSchema(map[string]interface{}{"session_id": sessionProp()}, "session_id"),
	}
}

// InferOperation classifies a tool call for the audit log.
func InferOperation(tool string) string {
	switch tool {
	case ToolSessionCreate, ToolInitializeGraph, ToolDecomposeTask, ToolGenerateHypotheses:
		return "create"
	case ToolIntegrateEvidence, ToolPruneAndMerge, ToolLoadSnapshot:
		return "update"
	case ToolExtractSubgraph, ToolComposeOutput, ToolPerformAudit, ToolExportGraph:
		return "read"
	case ToolSaveSnapshot:
		return "persist"
	case ToolSessionClose:
		return "delete"
	default:
		return "unknown"
	}
}
