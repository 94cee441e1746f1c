// Package config loads thoughtgraph configuration from YAML and the
// environment.
//
// Every setting has a default, so a config file is optional. Values are
// resolved in this order, last wins:
//
//  1. Built-in defaults (DefaultConfig)
//  2. The YAML file passed to Load, if any
//  3. THOUGHTGRAPH_* environment variables
//
// Environment variable names are the upper-cased key path joined with
// underscores, so engine.max_nodes becomes THOUGHTGRAPH_ENGINE_MAX_NODES.
//
// Example Usage:
//
//	cfg, err := config.Load("thoughtgraph.yaml")
//	if err != nil {
//		log.Fatalf("Invalid config: %v", err)
//	}
//
//	logger, err := cfg.Logging.NewLogger(os.Stderr)
//	engineCfg := cfg.Engine.Reasoning()
//	storeOpts := cfg.Store.Options()
//
// Example File:
//
//	engine:
//	  max_nodes: 5000
//	  pruning_threshold: 0.25
//	server:
//	  port: 9042
//	auth:
//	  enabled: true
//	  keys:
//	    - name: ci
//	      prefix: a1b2c3d4
//	      hash: $2a$12$...
//	      role: researcher
//	store:
//	  data_dir: ./data
//	logging:
//	  level: debug
//	  format: json
package config

import (
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/orneryd/thoughtgraph/pkg/graph"
	"github.com/orneryd/thoughtgraph/pkg/mcp"
	"github.com/orneryd/thoughtgraph/pkg/reasoning"
	"github.com/orneryd/thoughtgraph/pkg/session"
	"github.com/orneryd/thoughtgraph/pkg/store"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "THOUGHTGRAPH"

// Config holds all thoughtgraph configuration.
//
// Configuration is organized into logical sections:
//   - Engine: graph caps and reasoning thresholds
//   - Server: MCP HTTP listener
//   - Auth: API keys and rate limits
//   - Store: badger snapshot storage
//   - Session: session manager limits
//   - Memory: Go runtime memory tuning
//   - Logging: slog level and format
type Config struct {
	Engine  EngineConfig  `mapstructure:"engine" yaml:"engine"`
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Auth    AuthConfig    `mapstructure:"auth" yaml:"auth"`
	Store   StoreConfig   `mapstructure:"store" yaml:"store"`
	Session SessionConfig `mapstructure:"session" yaml:"session"`
	Memory  MemoryConfig  `mapstructure:"memory" yaml:"memory"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// EngineConfig mirrors reasoning.Config.
type EngineConfig struct {
	MaxNodes           int           `mapstructure:"max_nodes" yaml:"max_nodes"`
	MaxEdges           int           `mapstructure:"max_edges" yaml:"max_edges"`
	PruningThreshold   float64       `mapstructure:"pruning_threshold" yaml:"pruning_threshold"`
	PruneImpactCeiling float64       `mapstructure:"prune_impact_ceiling" yaml:"prune_impact_ceiling"`
	MergingThreshold   float64       `mapstructure:"merging_threshold" yaml:"merging_threshold"`
	BridgeSimilarity   float64       `mapstructure:"bridge_similarity" yaml:"bridge_similarity"`
	MinHypotheses      int           `mapstructure:"min_hypotheses" yaml:"min_hypotheses"`
	MaxHypotheses      int           `mapstructure:"max_hypotheses" yaml:"max_hypotheses"`
	DefaultImpact      float64       `mapstructure:"default_impact" yaml:"default_impact"`
	DecayFactor        float64       `mapstructure:"decay_factor" yaml:"decay_factor"`
	CausalMaxDepth     int           `mapstructure:"causal_max_depth" yaml:"causal_max_depth"`
	DefaultDimensions  []string      `mapstructure:"default_dimensions" yaml:"default_dimensions,omitempty"`
	Layers             []graph.Layer `mapstructure:"layers" yaml:"layers,omitempty"`
}

// ServerConfig mirrors mcp.ServerConfig.
type ServerConfig struct {
	Address        string        `mapstructure:"address" yaml:"address"`
	Port           int           `mapstructure:"port" yaml:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	MaxRequestSize int64         `mapstructure:"max_request_size" yaml:"max_request_size"`
	EnableCORS     bool          `mapstructure:"enable_cors" yaml:"enable_cors"`
	CORSOrigin     string        `mapstructure:"cors_origin" yaml:"cors_origin"`
}

// AuthConfig configures API key authentication for the MCP server.
type AuthConfig struct {
	Enabled          bool                     `mapstructure:"enabled" yaml:"enabled"`
	Keys             []mcp.APIKey             `mapstructure:"keys" yaml:"keys,omitempty"`
	RateLimitEnabled bool                     `mapstructure:"rate_limit_enabled" yaml:"rate_limit_enabled"`
	RateLimits       map[string]mcp.RateLimit `mapstructure:"rate_limits" yaml:"rate_limits,omitempty"`
	AuditEnabled     bool                     `mapstructure:"audit_enabled" yaml:"audit_enabled"`
}

// StoreConfig configures snapshot persistence.
type StoreConfig struct {
	// Enabled opens a store. Without one, save_snapshot and load_snapshot fail.
	Enabled            bool   `mapstructure:"enabled" yaml:"enabled"`
	DataDir            string `mapstructure:"data_dir" yaml:"data_dir"`
	InMemory           bool   `mapstructure:"in_memory" yaml:"in_memory"`
	SyncWrites         bool   `mapstructure:"sync_writes" yaml:"sync_writes"`
	DisableCompression bool   `mapstructure:"disable_compression" yaml:"disable_compression"`
}

// SessionConfig configures the session manager.
type SessionConfig struct {
	MaxSessions int  `mapstructure:"max_sessions" yaml:"max_sessions"`
	SaveOnClose bool `mapstructure:"save_on_close" yaml:"save_on_close"`
	// IdleTimeout closes sessions unused for this long. 0 disables eviction.
	IdleTimeout time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
}

// MemoryConfig tunes the Go runtime.
type MemoryConfig struct {
	// RuntimeLimit is a soft heap limit such as "2GB". "0" or "unlimited"
	// leaves the runtime default.
	RuntimeLimit string `mapstructure:"runtime_limit" yaml:"runtime_limit"`
	// GCPercent is passed to debug.SetGCPercent when not 100.
	GCPercent int `mapstructure:"gc_percent" yaml:"gc_percent"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string `mapstructure:"level" yaml:"level"`
	// Format is text or json.
	Format string `mapstructure:"format" yaml:"format"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	engine := reasoning.DefaultConfig()
	server := mcp.DefaultServerConfig()
	auth := mcp.DefaultAuthConfig()
	sessions := session.DefaultConfig()

	return &Config{
		Engine: EngineConfig{
			MaxNodes:           engine.MaxNodes,
			MaxEdges:           engine.MaxEdges,
			PruningThreshold:   engine.PruningThreshold,
			PruneImpactCeiling: engine.PruneImpactCeiling,
			MergingThreshold:   engine.MergingThreshold,
			BridgeSimilarity:   engine.BridgeSimilarity,
			MinHypotheses:      engine.MinHypotheses,
			MaxHypotheses:      engine.MaxHypotheses,
			DefaultImpact:      engine.DefaultImpact,
			DecayFactor:        engine.DecayFactor,
			CausalMaxDepth:     engine.CausalMaxDepth,
		},
		Server: ServerConfig{
			Address:        server.Address,
			Port:           server.Port,
			ReadTimeout:    server.ReadTimeout,
			WriteTimeout:   server.WriteTimeout,
			MaxRequestSize: server.MaxRequestSize,
			EnableCORS:     server.EnableCORS,
			CORSOrigin:     server.CORSOrigin,
		},
		// Auth stays off until keys are configured.
		Auth: AuthConfig{
			Enabled:          false,
			RateLimitEnabled: auth.RateLimitEnabled,
			AuditEnabled:     auth.AuditEnabled,
		},
		Store: StoreConfig{
			Enabled: true,
			DataDir: "./data",
		},
		Session: SessionConfig{
			MaxSessions: sessions.MaxSessions,
			IdleTimeout: 30 * time.Minute,
		},
		Memory: MemoryConfig{
			RuntimeLimit: "0",
			GCPercent:    100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration from path (optional) and the environment, then
// validates it.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every scalar key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("engine.max_nodes", d.Engine.MaxNodes)
	v.SetDefault("engine.max_edges", d.Engine.MaxEdges)
	v.SetDefault("engine.pruning_threshold", d.Engine.PruningThreshold)
	v.SetDefault("engine.prune_impact_ceiling", d.Engine.PruneImpactCeiling)
	v.SetDefault("engine.merging_threshold", d.Engine.MergingThreshold)
	v.SetDefault("engine.bridge_similarity", d.Engine.BridgeSimilarity)
	v.SetDefault("engine.min_hypotheses", d.Engine.MinHypotheses)
	v.SetDefault("engine.max_hypotheses", d.Engine.MaxHypotheses)
	v.SetDefault("engine.default_impact", d.Engine.DefaultImpact)
	v.SetDefault("engine.decay_factor", d.Engine.DecayFactor)
	v.SetDefault("engine.causal_max_depth", d.Engine.CausalMaxDepth)
	v.SetDefault("engine.default_dimensions", []string{})

	v.SetDefault("server.address", d.Server.Address)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.max_request_size", d.Server.MaxRequestSize)
	v.SetDefault("server.enable_cors", d.Server.EnableCORS)
	v.SetDefault("server.cors_origin", d.Server.CORSOrigin)

	v.SetDefault("auth.enabled", d.Auth.Enabled)
	v.SetDefault("auth.rate_limit_enabled", d.Auth.RateLimitEnabled)
	v.SetDefault("auth.audit_enabled", d.Auth.AuditEnabled)

	v.SetDefault("store.enabled", d.Store.Enabled)
	v.SetDefault("store.data_dir", d.Store.DataDir)
	v.SetDefault("store.in_memory", d.Store.InMemory)
	v.SetDefault("store.sync_writes", d.Store.SyncWrites)
	v.SetDefault("store.disable_compression", d.Store.DisableCompression)

	v.SetDefault("session.max_sessions", d.Session.MaxSessions)
	v.SetDefault("session.save_on_close", d.Session.SaveOnClose)
	v.SetDefault("session.idle_timeout", d.Session.IdleTimeout)

	v.SetDefault("memory.runtime_limit", d.Memory.RuntimeLimit)
	v.SetDefault("memory.gc_percent", d.Memory.GCPercent)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
}

// Validate checks the configuration for invalid values.
//
// Example:
//
//	cfg := config.DefaultConfig()
//	cfg.Server.Port = 0
//	err := cfg.Validate() // invalid server port: 0
func (c *Config) Validate() error {
	e := c.Engine
	if e.MaxNodes <= 0 {
		return fmt.Errorf("invalid engine.max_nodes: %d", e.MaxNodes)
	}
	if e.MaxEdges <= 0 {
		return fmt.Errorf("invalid engine.max_edges: %d", e.MaxEdges)
	}
	for name, val := range map[string]float64{
		"pruning_threshold":    e.PruningThreshold,
		"prune_impact_ceiling": e.PruneImpactCeiling,
		"merging_threshold":    e.MergingThreshold,
		"bridge_similarity":    e.BridgeSimilarity,
		"default_impact":       e.DefaultImpact,
	} {
		if val < 0 || val > 1 {
			return fmt.Errorf("engine.%s must be within [0,1], got %v", name, val)
		}
	}
	if e.DecayFactor <= 0 || e.DecayFactor > 1 {
		return fmt.Errorf("engine.decay_factor must be within (0,1], got %v", e.DecayFactor)
	}
	if e.MinHypotheses < 1 || e.MaxHypotheses < e.MinHypotheses {
		return fmt.Errorf("invalid hypothesis bounds: min %d, max %d", e.MinHypotheses, e.MaxHypotheses)
	}
	if e.CausalMaxDepth <= 0 {
		return fmt.Errorf("invalid engine.causal_max_depth: %d", e.CausalMaxDepth)
	}
	for i, l := range e.Layers {
		if l.ID == "" {
			return fmt.Errorf("engine.layers[%d] has no id", i)
		}
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.MaxRequestSize <= 0 {
		return fmt.Errorf("invalid server.max_request_size: %d", c.Server.MaxRequestSize)
	}

	if _, err := c.Auth.MCP(); err != nil {
		return err
	}

	if c.Store.Enabled && !c.Store.InMemory && c.Store.DataDir == "" {
		return fmt.Errorf("store.data_dir is required unless store.in_memory is set")
	}

	if c.Session.MaxSessions < 0 {
		return fmt.Errorf("invalid session.max_sessions: %d", c.Session.MaxSessions)
	}
	if c.Session.IdleTimeout < 0 {
		return fmt.Errorf("invalid session.idle_timeout: %v", c.Session.IdleTimeout)
	}

	if c.Memory.Limit() < 0 {
		return fmt.Errorf("invalid memory.runtime_limit: %q", c.Memory.RuntimeLimit)
	}

	if _, err := c.Logging.level(); err != nil {
		return err
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("invalid logging.format %q: want text or json", c.Logging.Format)
	}
	return nil
}

// String returns a safe string representation of the Config.
//
// Key hashes are never included, making this safe for logging.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Server: %s:%d, Auth: %v (%d keys), Store: %s, MaxNodes: %d, MaxSessions: %d, Memory: %s}",
		c.Server.Address, c.Server.Port,
		c.Auth.Enabled, len(c.Auth.Keys),
		c.storeDescription(),
		c.Engine.MaxNodes, c.Session.MaxSessions,
		c.Memory.describe(),
	)
}

func (c *Config) storeDescription() string {
	switch {
	case !c.Store.Enabled:
		return "disabled"
	case c.Store.InMemory:
		return "memory"
	}
	return c.Store.DataDir
}

// YAML renders the effective configuration with key hashes masked.
func (c *Config) YAML() ([]byte, error) {
	out := *c
	out.Auth.Keys = make([]mcp.APIKey, len(c.Auth.Keys))
	for i, k := range c.Auth.Keys {
		k.Hash = "****"
		out.Auth.Keys[i] = k
	}
	return yaml.Marshal(&out)
}

// Reasoning converts the section into an engine config.
func (e EngineConfig) Reasoning() *reasoning.Config {
	cfg := reasoning.DefaultConfig()
	cfg.MaxNodes = e.MaxNodes
	cfg.MaxEdges = e.MaxEdges
	cfg.PruningThreshold = e.PruningThreshold
	cfg.PruneImpactCeiling = e.PruneImpactCeiling
	cfg.MergingThreshold = e.MergingThreshold
	cfg.BridgeSimilarity = e.BridgeSimilarity
	cfg.MinHypotheses = e.MinHypotheses
	cfg.MaxHypotheses = e.MaxHypotheses
	cfg.DefaultImpact = e.DefaultImpact
	cfg.DecayFactor = e.DecayFactor
	cfg.CausalMaxDepth = e.CausalMaxDepth
	if len(e.DefaultDimensions) > 0 {
		cfg.DefaultDimensions = append([]string(nil), e.DefaultDimensions...)
	}
	if len(e.Layers) > 0 {
		cfg.Layers = append([]graph.Layer(nil), e.Layers...)
	}
	return cfg
}

// MCP converts the section into an MCP server config.
func (s ServerConfig) MCP() *mcp.ServerConfig {
	return &mcp.ServerConfig{
		Address:        s.Address,
		Port:           s.Port,
		ReadTimeout:    s.ReadTimeout,
		WriteTimeout:   s.WriteTimeout,
		MaxRequestSize: s.MaxRequestSize,
		EnableCORS:     s.EnableCORS,
		CORSOrigin:     s.CORSOrigin,
	}
}

// MCP converts the section into an MCP auth config, checking roles.
func (a AuthConfig) MCP() (mcp.AuthConfig, error) {
	out := mcp.AuthConfig{
		Enabled:          a.Enabled,
		RateLimitEnabled: a.RateLimitEnabled,
		AuditEnabled:     a.AuditEnabled,
		Keys:             make([]mcp.APIKey, 0, len(a.Keys)),
	}
	for i, k := range a.Keys {
		role, err := mcp.RoleFromString(string(k.Role))
		if err != nil {
			return out, fmt.Errorf("auth.keys[%d]: %w", i, err)
		}
		if k.Hash == "" {
			return out, fmt.Errorf("auth.keys[%d] (%s) has no hash", i, k.Name)
		}
		k.Role = role
		out.Keys = append(out.Keys, k)
	}
	if a.Enabled && len(out.Keys) == 0 {
		return out, fmt.Errorf("auth enabled but no keys configured")
	}
	if len(a.RateLimits) > 0 {
		out.RateLimits = make(map[mcp.MCPRole]mcp.RateLimit, len(a.RateLimits))
		for name, limit := range a.RateLimits {
			role, err := mcp.RoleFromString(name)
			if err != nil {
				return out, fmt.Errorf("auth.rate_limits: %w", err)
			}
			if limit.RequestsPerSecond <= 0 || limit.Burst <= 0 {
				return out, fmt.Errorf("auth.rate_limits.%s must be positive", name)
			}
			out.RateLimits[role] = limit
		}
	}
	return out, nil
}

// Options converts the section into store options.
func (s StoreConfig) Options() store.Options {
	return store.Options{
		DataDir:            s.DataDir,
		InMemory:           s.InMemory,
		SyncWrites:         s.SyncWrites,
		DisableCompression: s.DisableCompression,
	}
}

// Manager converts the section into a session manager config.
func (s SessionConfig) Manager(engine *reasoning.Config) session.Config {
	return session.Config{
		MaxSessions: s.MaxSessions,
		Engine:      engine,
		SaveOnClose: s.SaveOnClose,
	}
}

func (l LoggingConfig) level() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return lvl, fmt.Errorf("invalid logging.level %q: %w", l.Level, err)
	}
	return lvl, nil
}

// NewLogger builds a slog logger writing to w.
func (l LoggingConfig) NewLogger(w io.Writer) (*slog.Logger, error) {
	lvl, err := l.level()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(l.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

// Limit returns RuntimeLimit in bytes. 0 means unlimited and -1 invalid.
func (m MemoryConfig) Limit() int64 {
	return parseMemorySize(m.RuntimeLimit)
}

// ApplyRuntimeMemory applies the runtime memory settings to the Go runtime.
// Should be called early in main() before heavy allocations.
func (m MemoryConfig) ApplyRuntimeMemory() {
	if limit := m.Limit(); limit > 0 {
		debug.SetMemoryLimit(limit)
	}
	if m.GCPercent != 100 && m.GCPercent != 0 {
		debug.SetGCPercent(m.GCPercent)
	}
}

func (m MemoryConfig) describe() string {
	if limit := m.Limit(); limit > 0 {
		return FormatMemorySize(limit)
	}
	return "unlimited"
}

// parseMemorySize parses a human-readable memory size string such as "1024",
// "512MB" or "2GB". "0", "unlimited" and "" mean no limit; anything
// unparseable or negative yields -1.
func parseMemorySize(s string) int64 {
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" || s == "0" || s == "UNLIMITED" {
		return 0
	}

	s = strings.TrimSuffix(s, "B")

	var multiplier int64 = 1
	switch {
	case strings.HasSuffix(s, "K"):
		multiplier = 1024
		s = strings.TrimSuffix(s, "K")
	case strings.HasSuffix(s, "M"):
		multiplier = 1024 * 1024
		s = strings.TrimSuffix(s, "M")
	case strings.HasSuffix(s, "G"):
		multiplier = 1024 * 1024 * 1024
		s = strings.TrimSuffix(s, "G")
	case strings.HasSuffix(s, "T"):
		multiplier = 1024 * 1024 * 1024 * 1024
		s = strings.TrimSuffix(s, "T")
	}

	val, err := strconv.ParseInt(s, 10, 64)
	if err != nil || val < 0 {
		return -1
	}
	return val * multiplier
}

// FormatMemorySize formats bytes as human-readable string.
func FormatMemorySize(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
		TB = GB * 1024
	)

	switch {
	case bytes >= TB:
		return fmt.Sprintf("%.2f TB", float64(bytes)/float64(TB))
	case bytes >= GB:
		return fmt.Sprintf("%.2f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
