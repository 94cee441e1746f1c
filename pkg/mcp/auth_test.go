package mcp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// =============================================================================
// Token Tests
// =============================================================================

func testKey(t *testing.T, name string, role MCPRole) (string, APIKey) {
	t.Helper()
	token, prefix, err := GenerateToken()
	require.NoError(t, err)
	hash, err := HashToken(token, bcrypt.MinCost)
	require.NoError(t, err)
	return token, APIKey{Name: name, Hash: hash, Prefix: prefix, Role: role}
}

func TestGenerateToken(t *testing.T) {
	token, prefix, err := GenerateToken()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(token, TokenPrefix))
	assert.Len(t, token, len(TokenPrefix)+TokenLength*2)
	assert.Equal(t, prefix, ExtractTokenPrefix(token))

	other, _, err := GenerateToken()
	require.NoError(t, err)
	assert.NotEqual(t, token, other)
}

func TestHashAndVerifyToken(t *testing.T) {
	token, _, err := GenerateToken()
	require.NoError(t, err)
	hash, err := HashToken(token, bcrypt.MinCost)
	require.NoError(t, err)

	assert.True(t, VerifyToken(token, hash))
	assert.False(t, VerifyToken(token+"x", hash))
	assert.False(t, VerifyToken(token, "not-a-hash"))
}

func TestMaskToken(t *testing.T) {
	assert.Equal(t, "****", MaskToken("short"))
	assert.Equal(t, "tg_sk_abcdefgh****", MaskToken("tg_sk_abcdefghijklmnop"))
}

// =============================================================================
// Role and Permission Tests
// =============================================================================

func TestRoleFromString(t *testing.T) {
	tests := []struct {
		input    string
		expected MCPRole
		wantErr  bool
	}{
		{"admin", RoleAdmin, false},
		{"Researcher", RoleResearcher, false},
		{" viewer ", RoleViewer, false},
		{"super_admin", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := RoleFromString(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("RoleFromString(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
				return
			}
			if got != tt.expected {
				t.Errorf("RoleFromString(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestCanUseTool(t *testing.T) {
	tests := []struct {
		role     MCPRole
		tool     string
		expected bool
	}{
		{RoleAdmin, ToolLoadSnapshot, true},
		{RoleAdmin, ToolIntegrateEvidence, true},
		{RoleResearcher, ToolIntegrateEvidence, true},
		{RoleResearcher, ToolSessionCreate, true},
		{RoleResearcher, ToolSaveSnapshot, false},
		{RoleViewer, ToolExportGraph, true},
		{RoleViewer, ToolInitializeGraph, false},
		{RoleAdmin, "unknown", false},
		{MCPRole("nobody"), ToolExportGraph, false},
	}
	for _, tt := range tests {
		if got := CanUseTool(tt.role, tt.tool); got != tt.expected {
			t.Errorf("CanUseTool(%s, %s) = %v, want %v", tt.role, tt.tool, got, tt.expected)
		}
	}
}

// =============================================================================
// Rate Limiter Tests
// =============================================================================

func TestRateLimiter_Burst(t *testing.T) {
	rl := NewRateLimiter(map[MCPRole]RateLimit{
		RoleViewer: {RequestsPerSecond: 0.001, Burst: 3},
	})

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("client-a", RoleViewer), "request %d", i)
	}
	assert.False(t, rl.Allow("client-a", RoleViewer))

	// Buckets are per client.
	assert.True(t, rl.Allow("client-b", RoleViewer))
}

func TestRateLimiter_KeepsDefaultsForOtherRoles(t *testing.T) {
	rl := NewRateLimiter(map[MCPRole]RateLimit{RoleViewer: {RequestsPerSecond: 1, Burst: 1}})
	for i := 0; i < DefaultRateLimits[RoleAdmin].Burst; i++ {
		require.True(t, rl.Allow("admin", RoleAdmin))
	}
}

// =============================================================================
// Audit Logger Tests
// =============================================================================

type recordingSink struct {
	mu     sync.Mutex
	events []MCPAuditEvent
}

func (r *recordingSink) Log(e MCPAuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingSink) all() []MCPAuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]MCPAuditEvent(nil), r.events...)
}

func TestAuthMiddleware_LogToolCall(t *testing.T) {
	sink := &recordingSink{}
	audit := NewAuditLogger()
	audit.AddSink(sink)

	m := NewAuthMiddleware(AuthConfig{AuditEnabled: true})
	m.SetAuditLogger(audit)

	ctx := WithAuthContext(context.Background(), &AuthContext{ClientID: "ci", Role: RoleResearcher})
	m.LogToolCall(ctx, ToolIntegrateEvidence, "sess-1", false, "STAGE_VIOLATION", 5*time.Millisecond)
	audit.Flush()

	events := sink.all()
	require.Len(t, events, 1)
	e := events[0]
	assert.Equal(t, "ci", e.ClientID)
	assert.Equal(t, "researcher", e.Role)
	assert.Equal(t, "update", e.Operation)
	assert.Equal(t, "sess-1", e.SessionID)
	assert.False(t, e.Success)
	assert.Equal(t, "STAGE_VIOLATION", e.ErrorKind)
	assert.NotEmpty(t, e.RequestID)
}

func TestAuthMiddleware_AuditDisabled(t *testing.T) {
	sink := &recordingSink{}
	audit := NewAuditLogger()
	audit.AddSink(sink)
	m := NewAuthMiddleware(AuthConfig{})
	m.SetAuditLogger(audit)

	m.LogToolCall(context.Background(), ToolExportGraph, "", true, "", time.Millisecond)
	audit.Flush()
	assert.Empty(t, sink.all())
}

// =============================================================================
// Middleware Tests
// =============================================================================

func echoRole(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ac, ok := GetAuthContext(r.Context())
		if !ok {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(string(ac.Role) + ":" + ac.ClientID))
	})
}

func TestMiddleware_Disabled(t *testing.T) {
	m := NewAuthMiddleware(AuthConfig{Enabled: false})
	rec := httptest.NewRecorder()
	m.Middleware(echoRole(t)).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/mcp", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "admin:anonymous", rec.Body.String())
}

func TestMiddleware_APIKeys(t *testing.T) {
	researcherToken, researcher := testKey(t, "ci", RoleResearcher)
	viewerToken, viewer := testKey(t, "dash", RoleViewer)
	m := NewAuthMiddleware(AuthConfig{Enabled: true, Keys: []APIKey{researcher, viewer}})
	handler := m.Middleware(echoRole(t))

	tests := []struct {
		name   string
		header string
		value  string
		status int
		body   string
	}{
		{"bearer", "Authorization", "Bearer " + researcherToken, http.StatusOK, "researcher:ci"},
		{"x-api-key", "X-API-Key", viewerToken, http.StatusOK, "viewer:dash"},
		{"missing", "", "", http.StatusUnauthorized, ""},
		{"wrong", "Authorization", "Bearer tg_sk_0000000000", http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/mcp/tools/call", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
			if tt.body != "" {
				assert.Equal(t, tt.body, rec.Body.String())
			}
		})
	}
}

func TestMiddleware_KeyWithoutPrefix(t *testing.T) {
	token, key := testKey(t, "legacy", RoleAdmin)
	key.Prefix = ""
	m := NewAuthMiddleware(AuthConfig{Enabled: true, Keys: []APIKey{key}})

	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	req.Header.Set("X-API-Key", token)
	rec := httptest.NewRecorder()
	m.Middleware(echoRole(t)).ServeHTTP(rec, req)
	assert.Equal(t, "admin:legacy", rec.Body.String())
}

func TestMiddleware_HealthAndMetricsSkipAuth(t *testing.T) {
	m := NewAuthMiddleware(AuthConfig{Enabled: true})
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	for _, path := range []string{"/mcp/health", "/metrics"} {
		rec := httptest.NewRecorder()
		m.Middleware(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestMiddleware_RateLimit(t *testing.T) {
	token, key := testKey(t, "busy", RoleViewer)
	m := NewAuthMiddleware(AuthConfig{
		Enabled:          true,
		Keys:             []APIKey{key},
		RateLimitEnabled: true,
		RateLimits:       map[MCPRole]RateLimit{RoleViewer: {RequestsPerSecond: 0.001, Burst: 2}},
	})
	handler := m.Middleware(echoRole(t))

	codes := make([]int, 3)
	for i := range codes {
		req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		codes[i] = rec.Code
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestCheckToolAccess(t *testing.T) {
	m := NewAuthMiddleware(AuthConfig{Enabled: true})

	err := m.CheckToolAccess(context.Background(), ToolExportGraph)
	assert.ErrorIs(t, err, errPermissionDenied)

	ctx := WithAuthContext(context.Background(), &AuthContext{Role: RoleViewer})
	assert.NoError(t, m.CheckToolAccess(ctx, ToolExportGraph))
	assert.ErrorIs(t, m.CheckToolAccess(ctx, ToolDecomposeTask), errPermissionDenied)
}
