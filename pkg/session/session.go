// Package session hosts reasoning engines, one per session.
//
// A reasoning.Engine is not safe for concurrent use, so the Manager gives each
// session its own mutex and serializes every call through Do. The session map
// has a separate RWMutex, which lets calls on different sessions run in
// parallel.
//
// Sessions can be persisted to a SnapshotStore (see pkg/store) and restored
// later, possibly in another process.
//
// Example:
//
//	mgr := session.NewManager(session.Config{MaxSessions: 100}, session.WithStore(st))
//
//	info, err := mgr.Create(ctx)
//	if err != nil {
//		return err
//	}
//	err = mgr.Do(ctx, info.ID, "initialize", func(e *reasoning.Engine) error {
//		_, err := e.Initialize(reasoning.InitializeInput{Task: "Study X", Confidence: c})
//		return err
//	})
//	_ = mgr.Save(ctx, info.ID)
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/orneryd/thoughtgraph/pkg/reasoning"
)

var tracer = otel.Tracer("thoughtgraph.session")

var (
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "thoughtgraph",
		Subsystem: "session",
		Name:      "active",
		Help:      "Number of open reasoning sessions",
	})

	sessionEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "thoughtgraph",
		Subsystem: "session",
		Name:      "events_total",
		Help:      "Session lifecycle events",
	}, []string{"event"})
)

// Errors returned by the Manager.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrTooManySessions = errors.New("too many open sessions")
	ErrNoStore         = errors.New("no snapshot store configured")
	ErrManagerClosed   = errors.New("session manager is closed")
)

// SnapshotStore persists engine snapshots. *store.Store implements it.
type SnapshotStore interface {
	Save(ctx context.Context, id string, snap *reasoning.Snapshot) error
	Load(ctx context.Context, id string) (*reasoning.Snapshot, error)
	Delete(ctx context.Context, id string) error
}

// Config bounds the Manager.
type Config struct {
	// MaxSessions caps open sessions. 0 means unlimited. Default: 100
	MaxSessions int
	// Engine is passed to every new engine. nil uses reasoning defaults.
	Engine *reasoning.Config
	// SaveOnClose persists a session's snapshot before it is closed.
	SaveOnClose bool
}

// DefaultConfig returns the default Manager limits.
func DefaultConfig() Config {
	return Config{MaxSessions: 100, Engine: reasoning.DefaultConfig()}
}

// Option customizes a Manager.
type Option func(*Manager)

// WithStore enables Save and Load.
func WithStore(s SnapshotStore) Option {
	return func(m *Manager) { m.store = s }
}

// WithLogger sets the logger. Engines receive the same logger with a
// session attribute.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithEngineOptions adds options applied to every engine the Manager builds.
func WithEngineOptions(opts ...reasoning.Option) Option {
	return func(m *Manager) { m.engineOpts = append(m.engineOpts, opts...) }
}

// WithClock replaces time.Now for session bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Info describes an open session.
type Info struct {
	ID        string          `json:"session_id"`
	Stage     reasoning.Stage `json:"stage"`
	Task      string          `json:"task,omitempty"`
	Nodes     int             `json:"nodes"`
	Edges     int             `json:"edges"`
	CreatedAt time.Time       `json:"created_at"`
	LastUsed  time.Time       `json:"last_used"`
}

type session struct {
	id        string
	createdAt time.Time

	mu       sync.Mutex
	engine   *reasoning.Engine
	lastUsed time.Time
	closed   bool
}

func (s *session) info() Info {
	return Info{
		ID:        s.id,
		Stage:     s.engine.Stage(),
		Task:      s.engine.Task(),
		Nodes:     s.engine.NodeCount(),
		Edges:     s.engine.EdgeCount(),
		CreatedAt: s.createdAt,
		LastUsed:  s.lastUsed,
	}
}

// Manager owns the open sessions.
//
// Thread Safety:
//
//	Safe for concurrent use. Calls on one session are serialized.
type Manager struct {
	cfg        Config
	store      SnapshotStore
	logger     *slog.Logger
	engineOpts []reasoning.Option
	now        func() time.Time

	mu       sync.RWMutex
	sessions map[string]*session
	closed   bool
}

// NewManager creates a Manager.
func NewManager(cfg Config, opts ...Option) *Manager {
	if cfg.Engine == nil {
		cfg.Engine = reasoning.DefaultConfig()
	}
	m := &Manager{
		cfg:      cfg,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:      time.Now,
		sessions: make(map[string]*session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) newEngine(id string) *reasoning.Engine {
	opts := append([]reasoning.Option{
		reasoning.WithLogger(m.logger.With(slog.String("session", id))),
	}, m.engineOpts...)
	cfg := *m.cfg.Engine
	return reasoning.New(&cfg, opts...)
}

// add registers s, enforcing MaxSessions. replace allows an existing id to
// be overwritten.
func (m *Manager) add(s *session, replace bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrManagerClosed
	}
	_, exists := m.sessions[s.id]
	if exists && !replace {
		return fmt.Errorf("session %s already open", s.id)
	}
	if !exists && m.cfg.MaxSessions > 0 && len(m.sessions) >= m.cfg.MaxSessions {
		return fmt.Errorf("%w: limit is %d", ErrTooManySessions, m.cfg.MaxSessions)
	}
	if old, ok := m.sessions[s.id]; ok {
		old.mu.Lock()
		old.closed = true
		old.mu.Unlock()
	} else {
		activeSessions.Inc()
	}
	m.sessions[s.id] = s
	return nil
}

func (m *Manager) get(id string) (*session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrManagerClosed
	}
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// Create opens a new, uninitialized session with a random id.
func (m *Manager) Create(ctx context.Context) (*Info, error) {
	_, span := tracer.Start(ctx, "session.Create")
	defer span.End()

	id := uuid.NewString()
	now := m.now().UTC()
	s := &session{id: id, createdAt: now, lastUsed: now, engine: m.newEngine(id)}
	if err := m.add(s, false); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("session.id", id))
	sessionEvents.WithLabelValues("created").Inc()
	m.logger.Info("session created", slog.String("session", id))

	info := s.info()
	return &info, nil
}

// Do runs fn against the session's engine while holding the session lock.
// op names the span and log entries.
func (m *Manager) Do(ctx context.Context, id, op string, fn func(e *reasoning.Engine) error) error {
	ctx, span := tracer.Start(ctx, "session."+op,
		trace.WithAttributes(attribute.String("session.id", id)),
	)
	defer span.End()

	s, err := m.get(id)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	s.lastUsed = m.now().UTC()

	err = fn(s.engine)
	span.SetAttributes(attribute.Int("session.stage", int(s.engine.Stage())))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		m.logger.Warn("session operation failed",
			slog.String("session", id),
			slog.String("op", op),
			slog.String("error", err.Error()),
		)
	}
	return err
}

// Info returns a description of one session.
func (m *Manager) Info(id string) (*Info, error) {
	s, err := m.get(id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	info := s.info()
	return &info, nil
}

// List describes every open session, ordered by creation time.
func (m *Manager) List() []Info {
	m.mu.RLock()
	all := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.RUnlock()

	out := make([]Info, 0, len(all))
	for _, s := range all {
		s.mu.Lock()
		out = append(out, s.info())
		s.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Len returns the number of open sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Close removes a session. With SaveOnClose and a store, the snapshot is
// saved first; a failed save keeps the session open.
func (m *Manager) Close(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "session.Close",
		trace.WithAttributes(attribute.String("session.id", id)),
	)
	defer span.End()

	if m.cfg.SaveOnClose && m.store != nil {
		if err := m.Save(ctx, id); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return err
		}
	}

	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
		activeSessions.Dec()
	}
	m.mu.Unlock()
	if !ok {
		err := fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	sessionEvents.WithLabelValues("closed").Inc()
	m.logger.Info("session closed", slog.String("session", id))
	return nil
}

// Save persists the session's snapshot under its id.
func (m *Manager) Save(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "session.Save",
		trace.WithAttributes(attribute.String("session.id", id)),
	)
	defer span.End()

	if m.store == nil {
		return ErrNoStore
	}
	s, err := m.get(id)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	s.mu.Lock()
	snap, err := s.engine.Snapshot()
	s.mu.Unlock()
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if err := m.store.Save(ctx, id, snap); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("saving session %s: %w", id, err)
	}
	sessionEvents.WithLabelValues("saved").Inc()
	m.logger.Info("session saved", slog.String("session", id), slog.Int("nodes", len(snap.Nodes)))
	return nil
}

// Load restores a stored snapshot into an open session with the same id.
// An open session with that id is replaced.
func (m *Manager) Load(ctx context.Context, id string) (*Info, error) {
	ctx, span := tracer.Start(ctx, "session.Load",
		trace.WithAttributes(attribute.String("session.id", id)),
	)
	defer span.End()

	if m.store == nil {
		return nil, ErrNoStore
	}
	snap, err := m.store.Load(ctx, id)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("loading session %s: %w", id, err)
	}
	return m.restore(id, snap)
}

// Restore opens a session from a snapshot that did not come from the store,
// such as an imported JSON export. A new id is assigned.
func (m *Manager) Restore(ctx context.Context, snap *reasoning.Snapshot) (*Info, error) {
	_, span := tracer.Start(ctx, "session.Restore")
	defer span.End()
	info, err := m.restore(uuid.NewString(), snap)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return info, err
}

func (m *Manager) restore(id string, snap *reasoning.Snapshot) (*Info, error) {
	opts := append([]reasoning.Option{
		reasoning.WithLogger(m.logger.With(slog.String("session", id))),
	}, m.engineOpts...)
	cfg := *m.cfg.Engine
	engine, err := reasoning.Restore(snap, &cfg, opts...)
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()
	s := &session{id: id, createdAt: now, lastUsed: now, engine: engine}
	if err := m.add(s, true); err != nil {
		return nil, err
	}
	sessionEvents.WithLabelValues("restored").Inc()
	m.logger.Info("session restored", slog.String("session", id), slog.String("stage", engine.Stage().String()))
	info := s.info()
	return &info, nil
}

// EvictIdle closes sessions unused for longer than maxIdle and returns
// their ids.
func (m *Manager) EvictIdle(ctx context.Context, maxIdle time.Duration) []string {
	cutoff := m.now().UTC().Add(-maxIdle)

	m.mu.RLock()
	var idle []string
	for id, s := range m.sessions {
		s.mu.Lock()
		if s.lastUsed.Before(cutoff) {
			idle = append(idle, id)
		}
		s.mu.Unlock()
	}
	m.mu.RUnlock()

	sort.Strings(idle)
	evicted := make([]string, 0, len(idle))
	for _, id := range idle {
		if err := m.Close(ctx, id); err != nil {
			m.logger.Warn("idle session not evicted", slog.String("session", id), slog.String("error", err.Error()))
			continue
		}
		evicted = append(evicted, id)
	}
	return evicted
}

// Shutdown closes every session. With SaveOnClose, snapshots are saved
// first. Later calls return ErrManagerClosed.
func (m *Manager) Shutdown(ctx context.Context) error {
	var errs []error
	for _, info := range m.List() {
		if err := m.Close(ctx, info.ID); err != nil {
			errs = append(errs, err)
		}
	}
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return errors.Join(errs...)
}
