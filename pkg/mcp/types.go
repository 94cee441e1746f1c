package mcp

import (
	"encoding/json"
	"errors"

	"github.com/orneryd/thoughtgraph/pkg/reasoning"
	"github.com/orneryd/thoughtgraph/pkg/session"
	"github.com/orneryd/thoughtgraph/pkg/store"
)

// ============================================================================
// MCP Protocol Types
// ============================================================================

// Tool represents an MCP tool definition
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// InitRequest is the MCP initialize request
type InitRequest struct {
	ProtocolVersion string                 `json:"protocolVersion"`
	Capabilities    map[string]interface{} `json:"capabilities"`
	ClientInfo      ClientInfo             `json:"clientInfo"`
}

// ClientInfo contains client metadata
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitResponse is the MCP initialize response
type InitResponse struct {
	ProtocolVersion string                 `json:"protocolVersion"`
	Capabilities    map[string]interface{} `json:"capabilities"`
	ServerInfo      ServerInfo             `json:"serverInfo"`
}

// ServerInfo contains server metadata
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ListToolsResponse returns available tools
type ListToolsResponse struct {
	Tools []Tool `json:"tools"`
}

// CallToolRequest executes a tool
type CallToolRequest struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// CallToolResponse returns tool execution result
type CallToolResponse struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// Content represents tool response content
type Content struct {
	Type string `json:"type"` // "text" or "resource"
	Text string `json:"text,omitempty"`
}

// RPCRequest is a JSON-RPC 2.0 request.
type RPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSON-RPC error codes.
const (
	rpcParseError     = -32700
	rpcInvalidRequest = -32600
	rpcMethodNotFound = -32601
	rpcInvalidParams  = -32602
)

// ============================================================================
// Tool Input/Output Types
// ============================================================================

// Embedded engine inputs carry their own validate tags, which the engine
// checks; `validate:"-"` keeps the transport validator to the tool's own
// fields so engine validation failures keep their VALIDATION_ERROR kind.

// SessionParams - Input for tools that only address a session
type SessionParams struct {
	SessionID string `json:"session_id" validate:"required,uuid"`
}

// SessionCreateParams - Input for session_create
type SessionCreateParams struct {
	// Snapshot optionally seeds the session from a JSON export.
	Snapshot json.RawMessage `json:"snapshot,omitempty"`
}

// SessionCloseResult - Output from session_close
type SessionCloseResult struct {
	SessionID string `json:"session_id"`
	Closed    bool   `json:"closed"`
}

// InitializeGraphParams - Input for initialize_graph
type InitializeGraphParams struct {
	SessionID                 string `json:"session_id" validate:"required,uuid"`
	reasoning.InitializeInput `validate:"-"`
}

// DecomposeTaskParams - Input for decompose_task
type DecomposeTaskParams struct {
	SessionID                string `json:"session_id" validate:"required,uuid"`
	reasoning.DecomposeInput `validate:"-"`
}

// GenerateHypothesesParams - Input for generate_hypotheses
type GenerateHypothesesParams struct {
	SessionID                         string `json:"session_id" validate:"required,uuid"`
	reasoning.GenerateHypothesesInput `validate:"-"`
}

// IntegrateEvidenceParams - Input for integrate_evidence
type IntegrateEvidenceParams struct {
	SessionID               string `json:"session_id" validate:"required,uuid"`
	HypothesisID            string `json:"hypothesis_id" validate:"required"`
	reasoning.EvidenceInput `validate:"-"`
}

// PruneAndMergeParams - Input for prune_and_merge
type PruneAndMergeParams struct {
	SessionID                 string `json:"session_id" validate:"required,uuid"`
	reasoning.PruneMergeInput `validate:"-"`
}

// ExtractSubgraphParams - Input for extract_subgraph
type ExtractSubgraphParams struct {
	SessionID                 string `json:"session_id" validate:"required,uuid"`
	reasoning.ExtractCriteria `validate:"-"`
}

// ComposeOutputParams - Input for compose_output
type ComposeOutputParams struct {
	SessionID                string `json:"session_id" validate:"required,uuid"`
	reasoning.ComposeOptions `validate:"-"`
}

// PerformAuditParams - Input for perform_audit
type PerformAuditParams struct {
	SessionID            string `json:"session_id" validate:"required,uuid"`
	reasoning.AuditInput `validate:"-"`
}

// ExportGraphParams - Input for export_graph
type ExportGraphParams struct {
	SessionID string `json:"session_id" validate:"required,uuid"`
	Format    string `json:"format,omitempty" validate:"omitempty,oneof=json yaml yml graphml xml JSON YAML GRAPHML"`
}

// ExportGraphResult - Output from export_graph
type ExportGraphResult struct {
	SessionID   string `json:"session_id"`
	Format      string `json:"format"`
	ContentType string `json:"content_type"`
	Data        string `json:"data"`
}

// SnapshotResult - Output from save_snapshot
type SnapshotResult struct {
	SessionID string          `json:"session_id"`
	Saved     bool            `json:"saved"`
	Stage     reasoning.Stage `json:"stage"`
}

// ============================================================================
// Tool errors
// ============================================================================

// Error kinds reported by the transport, in addition to reasoning.ErrorKind.
const (
	KindInvalidArguments = "INVALID_ARGUMENTS"
	KindUnknownTool      = "UNKNOWN_TOOL"
	KindSessionNotFound  = "SESSION_NOT_FOUND"
	KindTooManySessions  = "TOO_MANY_SESSIONS"
	KindSnapshotNotFound = "SNAPSHOT_NOT_FOUND"
	KindPermissionDenied = "PERMISSION_DENIED"
	KindStoreUnavailable = "STORE_UNAVAILABLE"
	KindInternal         = "INTERNAL"
)

// ToolError is the body of an isError tool result.
type ToolError struct {
	Kind    string           `json:"kind"`
	Message string           `json:"message"`
	Detail  *reasoning.Error `json:"detail,omitempty"`
}

// Error implements error.
func (e *ToolError) Error() string { return e.Kind + ": " + e.Message }

var (
	errUnknownTool      = errors.New("unknown tool")
	errInvalidArguments = errors.New("invalid arguments")
	errPermissionDenied = errors.New("permission denied")
)

// toToolError classifies err for the client.
func toToolError(err error) *ToolError {
	var te *ToolError
	if errors.As(err, &te) {
		return te
	}
	var rerr *reasoning.Error
	if errors.As(err, &rerr) {
		return &ToolError{Kind: string(rerr.Kind), Message: err.Error(), Detail: rerr}
	}
	kind := KindInternal
	switch {
	case errors.Is(err, errInvalidArguments):
		kind = KindInvalidArguments
	case errors.Is(err, errUnknownTool):
		kind = KindUnknownTool
	case errors.Is(err, errPermissionDenied):
		kind = KindPermissionDenied
	case errors.Is(err, session.ErrSessionNotFound):
		kind = KindSessionNotFound
	case errors.Is(err, session.ErrTooManySessions):
		kind = KindTooManySessions
	case errors.Is(err, store.ErrSnapshotNotFound):
		kind = KindSnapshotNotFound
	case errors.Is(err, session.ErrNoStore), errors.Is(err, store.ErrStoreClosed):
		kind = KindStoreUnavailable
	}
	return &ToolError{Kind: kind, Message: err.Error()}
}
