// Package mcp provides a native Go MCP (Model Context Protocol) server for
// thoughtgraph.
//
// Each tool maps onto one reasoning engine operation or session action. An
// LLM client opens a session, then walks the stages in order:
//
//	session_create -> initialize_graph -> decompose_task -> generate_hypotheses
//	  -> integrate_evidence (repeat) -> prune_and_merge -> extract_subgraph
//	  -> compose_output -> perform_audit
//
// export_graph, save_snapshot and load_snapshot work at any stage.
//
// Example Usage:
//
//	mgr := session.NewManager(session.DefaultConfig(), session.WithStore(st))
//	server := mcp.NewServer(mgr, nil)
//
//	if err := server.Start(":9042"); err != nil {
//		log.Fatal(err)
//	}
//
// MCP Protocol:
//
// The server implements the MCP JSON-RPC protocol:
//   - initialize: Initialize connection and exchange capabilities
//   - tools/list: List available tools
//   - tools/call: Execute a tool
//
// Failed tool calls are returned as results with isError set and a JSON
// ToolError body, never as JSON-RPC errors, so clients can read the kind.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/orneryd/thoughtgraph/pkg/export"
	"github.com/orneryd/thoughtgraph/pkg/graph"
	"github.com/orneryd/thoughtgraph/pkg/reasoning"
	"github.com/orneryd/thoughtgraph/pkg/session"
)

// Version is reported in initialize and health responses.
var Version = "dev"

const protocolVersion = "2024-11-05"

var toolCalls = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "thoughtgraph",
	Subsystem: "mcp",
	Name:      "tool_calls_total",
	Help:      "MCP tool calls by tool and result kind",
}, []string{"tool", "result"})

// Server implements the MCP protocol for thoughtgraph.
type Server struct {
	sessions *session.Manager
	config   *ServerConfig
	auth     *AuthMiddleware
	logger   *slog.Logger
	validate *validator.Validate

	// HTTP server
	httpServer *http.Server
	mu         sync.RWMutex
	started    time.Time
	closed     bool

	// Tool handlers
	handlers map[string]ToolHandler
}

// ServerConfig holds MCP server configuration.
type ServerConfig struct {
	// Address to bind to (default: "localhost")
	Address string `yaml:"address"`
	// Port to listen on (default: 9042)
	Port int `yaml:"port"`
	// ReadTimeout for requests
	ReadTimeout time.Duration `yaml:"read_timeout"`
	// WriteTimeout for responses
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// MaxRequestSize in bytes (default: 10MB)
	MaxRequestSize int64 `yaml:"max_request_size"`
	// EnableCORS for cross-origin requests
	EnableCORS bool `yaml:"enable_cors"`
	// CORSOrigin is the allowed origin (default: "*")
	CORSOrigin string `yaml:"cors_origin"`
}

// DefaultServerConfig returns sensible defaults for the MCP server.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Address:        "localhost",
		Port:           9042,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   60 * time.Second,
		MaxRequestSize: 10 * 1024 * 1024, // 10MB
		EnableCORS:     true,
		CORSOrigin:     "*",
	}
}

// ToolHandler is a function that handles a tool call
type ToolHandler func(ctx context.Context, args json.RawMessage) (interface{}, error)

// ServerOption customizes a Server.
type ServerOption func(*Server)

// WithAuth enables authentication, authorization and audit logging.
func WithAuth(m *AuthMiddleware) ServerOption {
	return func(s *Server) { s.auth = m }
}

// WithServerLogger sets the logger.
func WithServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer creates a new MCP server over a session manager.
func NewServer(sessions *session.Manager, config *ServerConfig, opts ...ServerOption) *Server {
	if config == nil {
		config = DefaultServerConfig()
	}

	s := &Server{
		sessions: sessions,
		config:   config,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		handlers: make(map[string]ToolHandler),
		started:  time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.registerHandlers()
	return s
}

// registerHandlers registers all MCP tool handlers.
func (s *Server) registerHandlers() {
	// Session tools
	s.handlers[ToolSessionCreate] = s.handleSessionCreate
	s.handlers[ToolSessionClose] = s.handleSessionClose

	// Reasoning tools, in stage order
	s.handlers[ToolInitializeGraph] = s.handleInitializeGraph
	s.handlers[ToolDecomposeTask] = s.handleDecomposeTask
	s.handlers[ToolGenerateHypotheses] = s.handleGenerateHypotheses
	s.handlers[ToolIntegrateEvidence] = s.handleIntegrateEvidence
	s.handlers[ToolPruneAndMerge] = s.handlePruneAndMerge
	s.handlers[ToolExtractSubgraph] = s.handleExtractSubgraph
	s.handlers[ToolComposeOutput] = s.handleComposeOutput
	s.handlers[ToolPerformAudit] = s.handlePerformAudit

	// Persistence tools
	s.handlers[ToolExportGraph] = s.handleExportGraph
	s.handlers[ToolSaveSnapshot] = s.handleSaveSnapshot
	s.handlers[ToolLoadSnapshot] = s.handleLoadSnapshot
}

// RegisterRoutes registers MCP handlers on an existing http.ServeMux.
//
// Routes registered:
//   - POST /mcp           - Main JSON-RPC endpoint
//   - POST /mcp/initialize - Initialize MCP connection
//   - GET/POST /mcp/tools/list - List available tools
//   - POST /mcp/tools/call - Execute a tool
//   - GET /mcp/health     - MCP health check
//   - GET /metrics        - Prometheus metrics
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/mcp", s.handleMCP)
	mux.HandleFunc("/mcp/initialize", s.handleInitialize)
	mux.HandleFunc("/mcp/tools/list", s.handleListTools)
	mux.HandleFunc("/mcp/tools/call", s.handleCallTool)
	mux.HandleFunc("/mcp/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
}

// Handler returns the routes wrapped in auth and CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	var handler http.Handler = mux
	if s.auth != nil {
		handler = s.auth.Middleware(handler)
	}
	if s.config.EnableCORS {
		handler = s.corsMiddleware(handler)
	}
	return handler
}

// Start begins listening for HTTP connections.
func (s *Server) Start(addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("server already closed")
	}

	if addr == "" {
		addr = fmt.Sprintf("%s:%d", s.config.Address, s.config.Port)
	}

	s.started = time.Now()
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("MCP server error", slog.String("error", err.Error()))
		}
	}()

	s.logger.Info("MCP server started", slog.String("addr", addr))
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	origin := s.config.CORSOrigin
	if origin == "" {
		origin = "*"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Authorization, X-API-Key")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// MCP Protocol Handlers
// =============================================================================

// handleMCP is the main MCP JSON-RPC endpoint.
func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, s.config.MaxRequestSize))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var req RPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeJSONRPCError(w, nil, rpcParseError, "Parse error", err.Error())
		return
	}
	if req.JSONRPC != "2.0" {
		s.writeJSONRPCError(w, req.ID, rpcInvalidRequest, "Invalid Request", `jsonrpc must be "2.0"`)
		return
	}

	switch req.Method {
	case "initialize":
		s.writeJSONRPCResult(w, req.ID, s.doInitialize())
	case "tools/list":
		s.writeJSONRPCResult(w, req.ID, s.doListTools())
	case "tools/call":
		var call CallToolRequest
		if err := json.Unmarshal(req.Params, &call); err != nil || call.Name == "" {
			s.writeJSONRPCError(w, req.ID, rpcInvalidParams, "Invalid params", "params must carry a tool name")
			return
		}
		s.writeJSONRPCResult(w, req.ID, s.callTool(r.Context(), call))
	default:
		s.writeJSONRPCError(w, req.ID, rpcMethodNotFound, "Method not found", req.Method)
	}
}

// handleInitialize handles the initialize request.
func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}

	var req InitRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, s.config.MaxRequestSize)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("client initialized", slog.String("client", req.ClientInfo.Name), slog.String("protocol", req.ProtocolVersion))
	s.writeJSON(w, http.StatusOK, s.doInitialize())
}

// handleListTools returns the list of available tools.
func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "GET or POST required")
		return
	}
	s.writeJSON(w, http.StatusOK, s.doListTools())
}

// handleCallTool executes a tool.
func (s *Server) handleCallTool(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}

	var req CallToolRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, s.config.MaxRequestSize)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.writeJSON(w, http.StatusOK, s.callTool(r.Context(), req))
}

// handleHealth returns server health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "healthy",
		"uptime":   time.Since(s.started).String(),
		"version":  Version,
		"sessions": s.sessions.Len(),
	})
}

// =============================================================================
// MCP Protocol Implementation
// =============================================================================

func (s *Server) doInitialize() InitResponse {
	return InitResponse{
		ProtocolVersion: protocolVersion,
		Capabilities: map[string]interface{}{
			"tools": map[string]interface{}{
				"listChanged": false,
			},
		},
		ServerInfo: ServerInfo{
			Name:    "thoughtgraph MCP Server",
			Version: Version,
		},
	}
}

func (s *Server) doListTools() ListToolsResponse {
	return ListToolsResponse{Tools: GetToolDefinitions()}
}

// callTool runs a tool and wraps the outcome in MCP content format.
func (s *Server) callTool(ctx context.Context, req CallToolRequest) CallToolResponse {
	start := time.Now()
	result, err := s.doCallTool(ctx, req.Name, req.Arguments)
	elapsed := time.Since(start)

	sessionID := sessionIDOf(req.Arguments, result)
	if err != nil {
		te := toToolError(err)
		toolCalls.WithLabelValues(metricToolName(req.Name), te.Kind).Inc()
		if s.auth != nil {
			s.auth.LogToolCall(ctx, req.Name, sessionID, false, te.Kind, elapsed)
		}
		s.logger.Info("tool call failed",
			slog.String("tool", req.Name),
			slog.String("session", sessionID),
			slog.String("kind", te.Kind),
			slog.String("error", te.Message),
		)
		body, _ := json.Marshal(te)
		return CallToolResponse{
			Content: []Content{{Type: "text", Text: string(body)}},
			IsError: true,
		}
	}

	toolCalls.WithLabelValues(metricToolName(req.Name), "ok").Inc()
	if s.auth != nil {
		s.auth.LogToolCall(ctx, req.Name, sessionID, true, "", elapsed)
	}
	body, err := json.Marshal(result)
	if err != nil {
		te := &ToolError{Kind: KindInternal, Message: "encoding result: " + err.Error()}
		body, _ = json.Marshal(te)
		return CallToolResponse{Content: []Content{{Type: "text", Text: string(body)}}, IsError: true}
	}
	return CallToolResponse{Content: []Content{{Type: "text", Text: string(body)}}}
}

func (s *Server) doCallTool(ctx context.Context, name string, args json.RawMessage) (interface{}, error) {
	handler, ok := s.handlers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errUnknownTool, name)
	}
	if s.auth != nil {
		if err := s.auth.CheckToolAccess(ctx, name); err != nil {
			return nil, err
		}
	}
	return handler(ctx, args)
}

// metricToolName keeps label cardinality bounded.
func metricToolName(name string) string {
	if IsValidTool(name) {
		return name
	}
	return "unknown"
}

// sessionIDOf finds the session a call addressed, for logs.
func sessionIDOf(args json.RawMessage, result interface{}) string {
	var p struct {
		SessionID string `json:"session_id"`
	}
	if len(args) > 0 && json.Unmarshal(args, &p) == nil && p.SessionID != "" {
		return p.SessionID
	}
	if info, ok := result.(*session.Info); ok && info != nil {
		return info.ID
	}
	return ""
}

// decodeArgs unmarshals tool arguments into dst and validates it.
func (s *Server) decodeArgs(args json.RawMessage, dst interface{}) error {
	if len(args) == 0 || string(args) == "null" {
		args = json.RawMessage(`{}`)
	}
	if err := json.Unmarshal(args, dst); err != nil {
		return fmt.Errorf("%w: %v", errInvalidArguments, err)
	}
	if err := s.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: field %s failed %q", errInvalidArguments, jsonFieldName(fe.Field()), fe.Tag())
		}
		return fmt.Errorf("%w: %v", errInvalidArguments, err)
	}
	return nil
}

func jsonFieldName(field string) string {
	switch field {
	case "SessionID":
		return "session_id"
	case "HypothesisID":
		return "hypothesis_id"
	}
	return strings.ToLower(field)
}

// withEngine runs fn on a session's engine and returns its result.
func withEngine[T any](ctx context.Context, m *session.Manager, id, op string, fn func(e *reasoning.Engine) (T, error)) (T, error) {
	var out T
	err := m.Do(ctx, id, op, func(e *reasoning.Engine) error {
		var err error
		out, err = fn(e)
		return err
	})
	return out, err
}

// =============================================================================
// Tool Handlers
// =============================================================================

func (s *Server) handleSessionCreate(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var p SessionCreateParams
	if err := s.decodeArgs(args, &p); err != nil {
		return nil, err
	}
	if len(p.Snapshot) == 0 || string(p.Snapshot) == "null" {
		return s.sessions.Create(ctx)
	}
	snap, err := export.ImportJSON(p.Snapshot)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidArguments, err)
	}
	return s.sessions.Restore(ctx, snap)
}

func (s *Server) handleSessionClose(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var p SessionParams
	if err := s.decodeArgs(args, &p); err != nil {
		return nil, err
	}
	if err := s.sessions.Close(ctx, p.SessionID); err != nil {
		return nil, err
	}
	return SessionCloseResult{SessionID: p.SessionID, Closed: true}, nil
}

func (s *Server) handleInitializeGraph(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var p InitializeGraphParams
	if err := s.decodeArgs(args, &p); err != nil {
		return nil, err
	}
	return withEngine(ctx, s.sessions, p.SessionID, reasoning.OpInitialize, func(e *reasoning.Engine) (*reasoning.InitializeResult, error) {
		return e.Initialize(p.InitializeInput)
	})
}

func (s *Server) handleDecomposeTask(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var p DecomposeTaskParams
	if err := s.decodeArgs(args, &p); err != nil {
		return nil, err
	}
	return withEngine(ctx, s.sessions, p.SessionID, reasoning.OpDecompose, func(e *reasoning.Engine) (*reasoning.DecomposeResult, error) {
		return e.Decompose(p.DecomposeInput)
	})
}

func (s *Server) handleGenerateHypotheses(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var p GenerateHypothesesParams
	if err := s.decodeArgs(args, &p); err != nil {
		return nil, err
	}
	return withEngine(ctx, s.sessions, p.SessionID, reasoning.OpGenerateHypotheses, func(e *reasoning.Engine) (*reasoning.HypothesesResult, error) {
		return e.GenerateHypotheses(p.GenerateHypothesesInput)
	})
}

func (s *Server) handleIntegrateEvidence(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var p IntegrateEvidenceParams
	if err := s.decodeArgs(args, &p); err != nil {
		return nil, err
	}
	return withEngine(ctx, s.sessions, p.SessionID, reasoning.OpIntegrateEvidence, func(e *reasoning.Engine) (*reasoning.EvidenceResult, error) {
		return e.IntegrateEvidence(graph.NodeID(p.HypothesisID), p.EvidenceInput)
	})
}

func (s *Server) handlePruneAndMerge(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var p PruneAndMergeParams
	if err := s.decodeArgs(args, &p); err != nil {
		return nil, err
	}
	return withEngine(ctx, s.sessions, p.SessionID, reasoning.OpPruneAndMerge, func(e *reasoning.Engine) (*reasoning.PruneMergeResult, error) {
		return e.PruneAndMerge(p.PruneMergeInput)
	})
}

func (s *Server) handleExtractSubgraph(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var p ExtractSubgraphParams
	if err := s.decodeArgs(args, &p); err != nil {
		return nil, err
	}
	return withEngine(ctx, s.sessions, p.SessionID, reasoning.OpExtractSubgraph, func(e *reasoning.Engine) (*reasoning.Subgraph, error) {
		return e.ExtractSubgraph(p.ExtractCriteria)
	})
}

func (s *Server) handleComposeOutput(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var p ComposeOutputParams
	if err := s.decodeArgs(args, &p); err != nil {
		return nil, err
	}
	return withEngine(ctx, s.sessions, p.SessionID, reasoning.OpComposeOutput, func(e *reasoning.Engine) (*reasoning.ComposeResult, error) {
		return e.ComposeOutput(p.ComposeOptions)
	})
}

func (s *Server) handlePerformAudit(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var p PerformAuditParams
	if err := s.decodeArgs(args, &p); err != nil {
		return nil, err
	}
	return withEngine(ctx, s.sessions, p.SessionID, reasoning.OpPerformAudit, func(e *reasoning.Engine) (*reasoning.AuditResult, error) {
		return e.PerformAudit(p.AuditInput)
	})
}

func (s *Server) handleExportGraph(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var p ExportGraphParams
	if err := s.decodeArgs(args, &p); err != nil {
		return nil, err
	}
	format := export.FormatJSON
	if p.Format != "" {
		f, err := export.ParseFormat(p.Format)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errInvalidArguments, err)
		}
		format = f
	}

	snap, err := withEngine(ctx, s.sessions, p.SessionID, reasoning.OpSnapshot, func(e *reasoning.Engine) (*reasoning.Snapshot, error) {
		return e.Snapshot()
	})
	if err != nil {
		return nil, err
	}
	data, err := export.Export(snap, format)
	if err != nil {
		return nil, err
	}
	return ExportGraphResult{
		SessionID:   p.SessionID,
		Format:      string(format),
		ContentType: format.ContentType(),
		Data:        string(data),
	}, nil
}

func (s *Server) handleSaveSnapshot(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var p SessionParams
	if err := s.decodeArgs(args, &p); err != nil {
		return nil, err
	}
	if err := s.sessions.Save(ctx, p.SessionID); err != nil {
		return nil, err
	}
	info, err := s.sessions.Info(p.SessionID)
	if err != nil {
		return nil, err
	}
	return SnapshotResult{SessionID: p.SessionID, Saved: true, Stage: info.Stage}, nil
}

func (s *Server) handleLoadSnapshot(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var p SessionParams
	if err := s.decodeArgs(args, &p); err != nil {
		return nil, err
	}
	return s.sessions.Load(ctx, p.SessionID)
}

// =============================================================================
// Response Helpers
// =============================================================================

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) writeJSONRPCResult(w http.ResponseWriter, id interface{}, result interface{}) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"result":  result,
	})
}

func (s *Server) writeJSONRPCError(w http.ResponseWriter, id interface{}, code int, message, data string) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
			"data":    data,
		},
	})
}
