// Package mcp provides MCP-specific authentication and authorization.
//
// Security Model:
//   - Clients send an API key as "Authorization: Bearer <key>" or "X-API-Key".
//   - The server stores only bcrypt hashes of keys, each bound to a role.
//   - A key's first characters are kept in clear as a lookup prefix so only
//     matching hashes are compared.
//   - Requests are throttled per key with a token bucket.
//   - Tool calls are written to an audit log asynchronously.
//
// Role Hierarchy:
//   - admin: every tool
//   - researcher: sessions, reasoning and export; no snapshot store access
//   - viewer: export only
package mcp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"
)

// ============================================================================
// API keys
// ============================================================================

const (
	// TokenPrefix is the prefix for API keys.
	TokenPrefix = "tg_sk_" // #nosec G101 -- prefix pattern, not a credential

	// TokenPrefixLength is the number of secret characters kept as lookup prefix.
	TokenPrefixLength = 8

	// TokenLength is the random part of a key in bytes (hex encoded).
	TokenLength = 32

	// DefaultBcryptCost is the bcrypt cost used by HashToken.
	DefaultBcryptCost = 12
)

// GenerateToken returns a new API key and its lookup prefix.
// Format: tg_sk_<64 hex chars>
func GenerateToken() (token, prefix string, err error) {
	b := make([]byte, TokenLength)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("generate token: %w", err)
	}
	secret := hex.EncodeToString(b)
	return TokenPrefix + secret, secret[:TokenPrefixLength], nil
}

// HashToken creates a bcrypt hash of a key. cost <= 0 uses DefaultBcryptCost.
func HashToken(token string, cost int) (string, error) {
	if cost <= 0 {
		cost = DefaultBcryptCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(strings.TrimPrefix(token, TokenPrefix)), cost)
	if err != nil {
		return "", fmt.Errorf("hash token: %w", err)
	}
	return string(hash), nil
}

// VerifyToken checks a key against a bcrypt hash.
func VerifyToken(token, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(strings.TrimPrefix(token, TokenPrefix))) == nil
}

// ExtractTokenPrefix returns the lookup prefix of a key.
func ExtractTokenPrefix(token string) string {
	secret := strings.TrimPrefix(token, TokenPrefix)
	if len(secret) < TokenPrefixLength {
		return secret
	}
	return secret[:TokenPrefixLength]
}

// MaskToken returns a printable form of a key.
func MaskToken(token string) string {
	if len(token) < len(TokenPrefix)+TokenPrefixLength {
		return "****"
	}
	return token[:len(TokenPrefix)+TokenPrefixLength] + "****"
}

// APIKey is a configured key.
type APIKey struct {
	Name string `yaml:"name" mapstructure:"name"`
	// Hash is the bcrypt hash from HashToken.
	Hash string `yaml:"hash" mapstructure:"hash"`
	// Prefix is the lookup prefix. Empty keys are compared on every request.
	Prefix string  `yaml:"prefix" mapstructure:"prefix"`
	Role   MCPRole `yaml:"role" mapstructure:"role"`
}

// ============================================================================
// MCP Roles and Permissions
// ============================================================================

// MCPRole represents an MCP-specific role with tool access permissions.
type MCPRole string

const (
	// RoleAdmin has full access
	RoleAdmin MCPRole = "admin"
	// RoleResearcher runs reasoning sessions
	RoleResearcher MCPRole = "researcher"
	// RoleViewer can only export
	RoleViewer MCPRole = "viewer"
)

// MCPPermission represents a permission for MCP operations.
type MCPPermission string

const (
	// PermissionSession allows opening and closing sessions
	PermissionSession MCPPermission = "session"
	// PermissionReason allows the stage operations
	PermissionReason MCPPermission = "reason"
	// PermissionRead allows exporting graphs
	PermissionRead MCPPermission = "read"
	// PermissionPersist allows snapshot store access
	PermissionPersist MCPPermission = "persist"
)

// MCPRolePermissions maps each MCP role to its allowed permissions.
var MCPRolePermissions = map[MCPRole][]MCPPermission{
	RoleAdmin:      {PermissionSession, PermissionReason, PermissionRead, PermissionPersist},
	RoleResearcher: {PermissionSession, PermissionReason, PermissionRead},
	RoleViewer:     {PermissionRead},
}

// ToolPermissions maps each MCP tool to its required permission.
var ToolPermissions = map[string]MCPPermission{
	ToolSessionCreate:      PermissionSession,
	ToolSessionClose:       PermissionSession,
	ToolInitializeGraph:    PermissionReason,
	ToolDecomposeTask:      PermissionReason,
	ToolGenerateHypotheses: PermissionReason,
	ToolIntegrateEvidence:  PermissionReason,
	ToolPruneAndMerge:      PermissionReason,
	ToolExtractSubgraph:    PermissionReason,
	ToolComposeOutput:      PermissionReason,
	ToolPerformAudit:       PermissionReason,
	ToolExportGraph:        PermissionRead,
	ToolSaveSnapshot:       PermissionPersist,
	ToolLoadSnapshot:       PermissionPersist,
}

// RoleFromString converts a string to an MCPRole.
func RoleFromString(s string) (MCPRole, error) {
	switch MCPRole(strings.ToLower(strings.TrimSpace(s))) {
	case RoleAdmin:
		return RoleAdmin, nil
	case RoleResearcher:
		return RoleResearcher, nil
	case RoleViewer:
		return RoleViewer, nil
	default:
		return "", fmt.Errorf("unknown MCP role: %s", s)
	}
}

// HasPermission checks if a role has a specific permission.
func HasPermission(role MCPRole, perm MCPPermission) bool {
	for _, p := range MCPRolePermissions[role] {
		if p == perm {
			return true
		}
	}
	return false
}

// CanUseTool checks if a role can use a specific MCP tool.
func CanUseTool(role MCPRole, tool string) bool {
	perm, ok := ToolPermissions[tool]
	if !ok {
		return false
	}
	return HasPermission(role, perm)
}

// ============================================================================
// Rate Limiting
// ============================================================================

// RateLimit is a token bucket configuration.
type RateLimit struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int     `yaml:"burst" mapstructure:"burst"`
}

// DefaultRateLimits returns default rate limits per role.
var DefaultRateLimits = map[MCPRole]RateLimit{
	RoleAdmin:      {RequestsPerSecond: 50, Burst: 100},
	RoleResearcher: {RequestsPerSecond: 20, Burst: 40},
	RoleViewer:     {RequestsPerSecond: 5, Burst: 10},
}

// RateLimiter keeps one token bucket per client.
type RateLimiter struct {
	mu       sync.Mutex
	limits   map[MCPRole]RateLimit
	limiters map[string]*rate.Limiter
}

// NewRateLimiter creates a rate limiter. nil limits use DefaultRateLimits.
func NewRateLimiter(limits map[MCPRole]RateLimit) *RateLimiter {
	merged := make(map[MCPRole]RateLimit, len(DefaultRateLimits))
	for role, l := range DefaultRateLimits {
		merged[role] = l
	}
	for role, l := range limits {
		merged[role] = l
	}
	return &RateLimiter{limits: merged, limiters: make(map[string]*rate.Limiter)}
}

// Allow reports whether clientID may make another request now.
func (r *RateLimiter) Allow(clientID string, role MCPRole) bool {
	r.mu.Lock()
	lim, ok := r.limiters[clientID]
	if !ok {
		cfg, known := r.limits[role]
		if !known {
			cfg = RateLimit{RequestsPerSecond: 1, Burst: 5}
		}
		lim = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)
		r.limiters[clientID] = lim
	}
	r.mu.Unlock()
	return lim.Allow()
}

// ============================================================================
// Audit Logging (fire-and-forget)
// ============================================================================

// AuditSink defines an interface for audit log destinations.
type AuditSink interface {
	Log(event MCPAuditEvent) error
}

// MCPAuditEvent represents an MCP-specific audit event.
type MCPAuditEvent struct {
	Timestamp time.Time     `json:"timestamp"`
	RequestID string        `json:"request_id"`
	ClientID  string        `json:"client_id"`
	Role      string        `json:"role"`
	Tool      string        `json:"tool"`
	Operation string        `json:"operation"`
	SessionID string        `json:"session_id,omitempty"`
	IPAddress string        `json:"ip_address,omitempty"`
	Success   bool          `json:"success"`
	ErrorKind string        `json:"error_kind,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// AuditLogger manages multi-sink audit logging.
type AuditLogger struct {
	mu    sync.RWMutex
	sinks []AuditSink
	wg    sync.WaitGroup
}

// NewAuditLogger creates a new audit logger.
func NewAuditLogger() *AuditLogger {
	return &AuditLogger{sinks: make([]AuditSink, 0)}
}

// AddSink adds an audit sink.
func (a *AuditLogger) AddSink(sink AuditSink) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sinks = append(a.sinks, sink)
}

// Log logs an event to all sinks asynchronously (fire-and-forget).
func (a *AuditLogger) Log(event MCPAuditEvent) {
	a.mu.RLock()
	sinks := a.sinks
	a.mu.RUnlock()

	for _, sink := range sinks {
		a.wg.Add(1)
		go func(s AuditSink) {
			defer a.wg.Done()
			_ = s.Log(event)
		}(sink)
	}
}

// Flush waits for pending events to reach their sinks.
func (a *AuditLogger) Flush() {
	a.wg.Wait()
}

// SlogSink writes audit events to a structured logger.
type SlogSink struct {
	Logger *slog.Logger
}

// Log implements AuditSink.
func (s *SlogSink) Log(event MCPAuditEvent) error {
	s.Logger.Info("audit",
		slog.String("request_id", event.RequestID),
		slog.String("client", event.ClientID),
		slog.String("role", event.Role),
		slog.String("tool", event.Tool),
		slog.String("operation", event.Operation),
		slog.String("session", event.SessionID),
		slog.Bool("success", event.Success),
		slog.String("error_kind", event.ErrorKind),
		slog.Duration("duration", event.Duration),
	)
	return nil
}

// ============================================================================
// Authentication Middleware
// ============================================================================

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	// Enabled turns on API key checks. Disabled means every caller is admin.
	Enabled bool
	// Keys are the accepted API keys.
	Keys []APIKey
	// RateLimitEnabled enables per-key throttling
	RateLimitEnabled bool
	// RateLimits overrides DefaultRateLimits per role.
	RateLimits map[MCPRole]RateLimit
	// AuditEnabled enables audit logging
	AuditEnabled bool
}

// DefaultAuthConfig returns default auth configuration.
func DefaultAuthConfig() AuthConfig {
	return AuthConfig{
		Enabled:          true,
		RateLimitEnabled: true,
		AuditEnabled:     true,
	}
}

// AuthMiddleware provides MCP authentication and authorization.
type AuthMiddleware struct {
	config      AuthConfig
	rateLimiter *RateLimiter
	auditLogger *AuditLogger
}

// NewAuthMiddleware creates a new auth middleware.
func NewAuthMiddleware(config AuthConfig) *AuthMiddleware {
	return &AuthMiddleware{
		config:      config,
		rateLimiter: NewRateLimiter(config.RateLimits),
		auditLogger: NewAuditLogger(),
	}
}

// SetAuditLogger sets the audit logger.
func (m *AuthMiddleware) SetAuditLogger(logger *AuditLogger) {
	m.auditLogger = logger
}

// AuthContext holds authentication context for a request.
type AuthContext struct {
	ClientID  string
	Role      MCPRole
	IPAddress string
	Timestamp time.Time
}

// contextKey is a custom type for context keys.
type contextKey string

const authContextKey contextKey = "mcp_auth_context"

// GetAuthContext retrieves the auth context from request context.
func GetAuthContext(ctx context.Context) (*AuthContext, bool) {
	ac, ok := ctx.Value(authContextKey).(*AuthContext)
	return ac, ok
}

// WithAuthContext returns ctx carrying ac.
func WithAuthContext(ctx context.Context, ac *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey, ac)
}

// Middleware returns an HTTP middleware that authenticates requests.
func (m *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Skip auth for health checks and metrics
		if r.URL.Path == "/mcp/health" || r.URL.Path == "/metrics" || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		if !m.config.Enabled {
			ac := &AuthContext{ClientID: "anonymous", Role: RoleAdmin, IPAddress: r.RemoteAddr, Timestamp: time.Now()}
			next.ServeHTTP(w, r.WithContext(WithAuthContext(r.Context(), ac)))
			return
		}

		token := m.extractToken(r)
		if token == "" {
			writeAuthError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		key := m.authenticate(token)
		if key == nil {
			writeAuthError(w, http.StatusUnauthorized, "invalid API key")
			return
		}

		if m.config.RateLimitEnabled && !m.rateLimiter.Allow(key.Name, key.Role) {
			writeAuthError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		ac := &AuthContext{ClientID: key.Name, Role: key.Role, IPAddress: r.RemoteAddr, Timestamp: time.Now()}
		next.ServeHTTP(w, r.WithContext(WithAuthContext(r.Context(), ac)))
	})
}

func writeAuthError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error":%q}`, msg)
}

// extractToken extracts the key from request headers.
// Priority: Authorization Bearer > X-API-Key
func (m *AuthMiddleware) extractToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

// authenticate returns the configured key matching token, or nil.
func (m *AuthMiddleware) authenticate(token string) *APIKey {
	prefix := ExtractTokenPrefix(token)
	for i := range m.config.Keys {
		k := &m.config.Keys[i]
		if k.Prefix != "" && k.Prefix != prefix {
			continue
		}
		if VerifyToken(token, k.Hash) {
			return k
		}
	}
	return nil
}

// CheckToolAccess verifies if the current caller can use a tool.
func (m *AuthMiddleware) CheckToolAccess(ctx context.Context, tool string) error {
	ac, ok := GetAuthContext(ctx)
	if !ok {
		return fmt.Errorf("%w: no authentication context", errPermissionDenied)
	}
	if !CanUseTool(ac.Role, tool) {
		return fmt.Errorf("%w: role %s cannot use tool %s", errPermissionDenied, ac.Role, tool)
	}
	return nil
}

// LogToolCall logs a tool call for audit (fire-and-forget).
func (m *AuthMiddleware) LogToolCall(ctx context.Context, tool, sessionID string, success bool, errKind string, duration time.Duration) {
	if !m.config.AuditEnabled || m.auditLogger == nil {
		return
	}
	event := MCPAuditEvent{
		Timestamp: time.Now().UTC(),
		RequestID: uuid.NewString(),
		ClientID:  "anonymous",
		Role:      "unknown",
		Tool:      tool,
		Operation: InferOperation(tool),
		SessionID: sessionID,
		Success:   success,
		ErrorKind: errKind,
		Duration:  duration,
	}
	if ac, ok := GetAuthContext(ctx); ok {
		event.ClientID = ac.ClientID
		event.Role = string(ac.Role)
		event.IPAddress = ac.IPAddress
	}
	m.auditLogger.Log(event)
}
