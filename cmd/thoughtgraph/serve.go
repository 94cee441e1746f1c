package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/orneryd/thoughtgraph/pkg/config"
	"github.com/orneryd/thoughtgraph/pkg/mcp"
	"github.com/orneryd/thoughtgraph/pkg/session"
	"github.com/orneryd/thoughtgraph/pkg/store"
)

const shutdownTimeout = 30 * time.Second

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	applyServeFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := cfg.Logging.NewLogger(os.Stderr)
	if err != nil {
		return err
	}
	cfg.Memory.ApplyRuntimeMemory()
	mcp.Version = version

	sessionOpts := []session.Option{session.WithLogger(logger)}
	if cfg.Store.Enabled {
		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()
		sessionOpts = append(sessionOpts, session.WithStore(st))
	}
	manager := session.NewManager(cfg.Session.Manager(cfg.Engine.Reasoning()), sessionOpts...)

	authCfg, err := cfg.Auth.MCP()
	if err != nil {
		return err
	}
	serverOpts := []mcp.ServerOption{mcp.WithServerLogger(logger)}
	if authCfg.Enabled || authCfg.AuditEnabled {
		auth := mcp.NewAuthMiddleware(authCfg)
		if authCfg.AuditEnabled {
			audit := mcp.NewAuditLogger()
			audit.AddSink(&mcp.SlogSink{Logger: logger.With(slog.String("component", "audit"))})
			auth.SetAuditLogger(audit)
			defer audit.Flush()
		}
		serverOpts = append(serverOpts, mcp.WithAuth(auth))
	}

	server := mcp.NewServer(manager, cfg.Server.MCP(), serverOpts...)
	addr := fmt.Sprintf("%s:%d", cfg.Server.Address, cfg.Server.Port)
	if err := server.Start(addr); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}

	logger.Info("thoughtgraph ready",
		slog.String("version", version),
		slog.String("mcp", "http://"+addr+"/mcp"),
		slog.Bool("auth", authCfg.Enabled),
		slog.String("config", cfg.String()),
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Session.IdleTimeout > 0 {
		go evictIdle(ctx, manager, cfg.Session.IdleTimeout, logger)
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("stopping server: %w", err)
	}
	if err := manager.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("closing sessions: %w", err)
	}
	logger.Info("server stopped gracefully")
	return nil
}

// applyServeFlags lets command line flags override the loaded config.
func applyServeFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("address") {
		cfg.Server.Address, _ = flags.GetString("address")
	}
	if flags.Changed("port") {
		cfg.Server.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("data-dir") {
		cfg.Store.DataDir, _ = flags.GetString("data-dir")
		cfg.Store.Enabled = true
	}
	if flags.Changed("in-memory") {
		cfg.Store.InMemory, _ = flags.GetBool("in-memory")
	}
	if noAuth, _ := flags.GetBool("no-auth"); noAuth {
		cfg.Auth.Enabled = false
	}
}

// openStore opens the snapshot store, creating the data directory.
func openStore(cfg *config.Config) (*store.Store, error) {
	if !cfg.Store.InMemory {
		if err := os.MkdirAll(cfg.Store.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}
	st, err := store.Open(cfg.Store.Options())
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	return st, nil
}

// evictIdle closes idle sessions until ctx is done. It checks four times per
// timeout period, and at most once a second.
func evictIdle(ctx context.Context, m *session.Manager, maxIdle time.Duration, logger *slog.Logger) {
	interval := maxIdle / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ids := m.EvictIdle(ctx, maxIdle); len(ids) > 0 {
				logger.Info("evicted idle sessions", slog.Int("count", len(ids)))
			}
		}
	}
}
