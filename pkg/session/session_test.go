package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/thoughtgraph/pkg/reasoning"
	"github.com/orneryd/thoughtgraph/pkg/store"
)

var testConfidence = []float64{0.8, 0.8, 0.8, 0.8}

func initialize(t *testing.T, m *Manager, id, task string) {
	t.Helper()
	err := m.Do(context.Background(), id, "initialize", func(e *reasoning.Engine) error {
		_, err := e.Initialize(reasoning.InitializeInput{Task: task, Confidence: testConfidence})
		return err
	})
	require.NoError(t, err)
}

func newStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(store.Options{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestManager_CreateAndDo(t *testing.T) {
	m := NewManager(DefaultConfig())
	ctx := context.Background()

	info, err := m.Create(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, info.ID)
	assert.Equal(t, reasoning.StageUninitialized, info.Stage)
	assert.Equal(t, 1, m.Len())

	initialize(t, m, info.ID, "Why is the build slow?")

	got, err := m.Info(info.ID)
	require.NoError(t, err)
	assert.Equal(t, reasoning.StageInitialization, got.Stage)
	assert.Equal(t, "Why is the build slow?", got.Task)
	assert.Equal(t, 1, got.Nodes)
}

func TestManager_DoPropagatesEngineErrors(t *testing.T) {
	m := NewManager(DefaultConfig())
	info, err := m.Create(context.Background())
	require.NoError(t, err)

	err = m.Do(context.Background(), info.ID, "decompose", func(e *reasoning.Engine) error {
		_, err := e.Decompose(reasoning.DecomposeInput{})
		return err
	})
	assert.True(t, errors.Is(err, reasoning.ErrStageViolation))
}

func TestManager_UnknownSession(t *testing.T) {
	m := NewManager(DefaultConfig())
	ctx := context.Background()

	err := m.Do(ctx, "nope", "initialize", func(*reasoning.Engine) error { return nil })
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = m.Info("nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, m.Close(ctx, "nope"), ErrSessionNotFound)
}

func TestManager_MaxSessions(t *testing.T) {
	m := NewManager(Config{MaxSessions: 2})
	ctx := context.Background()

	a, err := m.Create(ctx)
	require.NoError(t, err)
	_, err = m.Create(ctx)
	require.NoError(t, err)

	_, err = m.Create(ctx)
	assert.ErrorIs(t, err, ErrTooManySessions)

	require.NoError(t, m.Close(ctx, a.ID))
	_, err = m.Create(ctx)
	assert.NoError(t, err)
}

func TestManager_SessionsAreIsolated(t *testing.T) {
	m := NewManager(DefaultConfig())
	ctx := context.Background()

	a, err := m.Create(ctx)
	require.NoError(t, err)
	b, err := m.Create(ctx)
	require.NoError(t, err)

	initialize(t, m, a.ID, "task a")

	ib, err := m.Info(b.ID)
	require.NoError(t, err)
	assert.Equal(t, reasoning.StageUninitialized, ib.Stage)
	assert.Empty(t, ib.Task)
}

func TestManager_ConcurrentCallsAreSerialized(t *testing.T) {
	m := NewManager(DefaultConfig())
	ctx := context.Background()
	info, err := m.Create(ctx)
	require.NoError(t, err)
	initialize(t, m, info.ID, "parallel")

	var wg sync.WaitGroup
	results := make([]error, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = m.Do(ctx, info.ID, "decompose", func(e *reasoning.Engine) error {
				_, err := e.Decompose(reasoning.DecomposeInput{})
				return err
			})
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range results {
		if err == nil {
			ok++
			continue
		}
		assert.True(t, errors.Is(err, reasoning.ErrStageViolation))
	}
	assert.Equal(t, 1, ok)
}

func TestManager_SaveAndLoad(t *testing.T) {
	st := newStore(t)
	m := NewManager(DefaultConfig(), WithStore(st))
	ctx := context.Background()

	info, err := m.Create(ctx)
	require.NoError(t, err)
	initialize(t, m, info.ID, "persist me")
	require.NoError(t, m.Save(ctx, info.ID))

	other := NewManager(DefaultConfig(), WithStore(st))
	loaded, err := other.Load(ctx, info.ID)
	require.NoError(t, err)
	assert.Equal(t, info.ID, loaded.ID)
	assert.Equal(t, reasoning.StageInitialization, loaded.Stage)
	assert.Equal(t, "persist me", loaded.Task)

	err = other.Do(ctx, info.ID, "decompose", func(e *reasoning.Engine) error {
		_, err := e.Decompose(reasoning.DecomposeInput{})
		return err
	})
	assert.NoError(t, err)
}

func TestManager_LoadReplacesOpenSession(t *testing.T) {
	st := newStore(t)
	m := NewManager(DefaultConfig(), WithStore(st))
	ctx := context.Background()

	info, err := m.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, m.Save(ctx, info.ID))
	initialize(t, m, info.ID, "newer")

	loaded, err := m.Load(ctx, info.ID)
	require.NoError(t, err)
	assert.Equal(t, reasoning.StageUninitialized, loaded.Stage)
	assert.Equal(t, 1, m.Len())
}

func TestManager_StoreErrors(t *testing.T) {
	m := NewManager(DefaultConfig())
	ctx := context.Background()
	info, err := m.Create(ctx)
	require.NoError(t, err)

	assert.ErrorIs(t, m.Save(ctx, info.ID), ErrNoStore)
	_, err = m.Load(ctx, info.ID)
	assert.ErrorIs(t, err, ErrNoStore)

	withStore := NewManager(DefaultConfig(), WithStore(newStore(t)))
	_, err = withStore.Load(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrSnapshotNotFound)
}

func TestManager_SaveOnClose(t *testing.T) {
	st := newStore(t)
	cfg := DefaultConfig()
	cfg.SaveOnClose = true
	m := NewManager(cfg, WithStore(st))
	ctx := context.Background()

	info, err := m.Create(ctx)
	require.NoError(t, err)
	initialize(t, m, info.ID, "closing")
	require.NoError(t, m.Close(ctx, info.ID))

	snap, err := st.Load(ctx, info.ID)
	require.NoError(t, err)
	assert.Equal(t, "closing", snap.Task)
}

func TestManager_Restore(t *testing.T) {
	m := NewManager(DefaultConfig())
	ctx := context.Background()
	info, err := m.Create(ctx)
	require.NoError(t, err)
	initialize(t, m, info.ID, "copy me")

	var snap *reasoning.Snapshot
	require.NoError(t, m.Do(ctx, info.ID, "snapshot", func(e *reasoning.Engine) error {
		var err error
		snap, err = e.Snapshot()
		return err
	}))

	restored, err := m.Restore(ctx, snap)
	require.NoError(t, err)
	assert.NotEqual(t, info.ID, restored.ID)
	assert.Equal(t, "copy me", restored.Task)
	assert.Equal(t, 2, m.Len())

	_, err = m.Restore(ctx, nil)
	assert.True(t, errors.Is(err, reasoning.ErrValidation))
}

func TestManager_EvictIdle(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := NewManager(DefaultConfig(), WithClock(func() time.Time { return now }))
	ctx := context.Background()

	old, err := m.Create(ctx)
	require.NoError(t, err)
	now = now.Add(time.Hour)
	fresh, err := m.Create(ctx)
	require.NoError(t, err)

	now = now.Add(10 * time.Minute)
	evicted := m.EvictIdle(ctx, 30*time.Minute)
	assert.Equal(t, []string{old.ID}, evicted)

	list := m.List()
	require.Len(t, list, 1)
	assert.Equal(t, fresh.ID, list[0].ID)
}

func TestManager_Shutdown(t *testing.T) {
	m := NewManager(DefaultConfig())
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := m.Create(ctx)
		require.NoError(t, err)
	}

	require.NoError(t, m.Shutdown(ctx))
	assert.Equal(t, 0, m.Len())
	_, err := m.Create(ctx)
	assert.ErrorIs(t, err, ErrManagerClosed)
}
