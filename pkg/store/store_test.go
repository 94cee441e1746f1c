package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/thoughtgraph/pkg/reasoning"
)

func newTestStore(t *testing.T, opts Options) *Store {
	t.Helper()
	opts.InMemory = true
	st, err := Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func testSnapshot(t *testing.T) *reasoning.Snapshot {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e := reasoning.New(nil, reasoning.WithClock(func() time.Time { return now }))
	_, err := e.Initialize(reasoning.InitializeInput{Task: "Why do caches miss?", Confidence: []float64{0.8, 0.8, 0.8, 0.8}})
	require.NoError(t, err)
	_, err = e.Decompose(reasoning.DecomposeInput{})
	require.NoError(t, err)
	snap, err := e.Snapshot()
	require.NoError(t, err)
	return snap
}

func TestStore_SaveLoad(t *testing.T) {
	for name, opts := range map[string]Options{
		"compressed": {},
		"plain":      {DisableCompression: true},
	} {
		t.Run(name, func(t *testing.T) {
			st := newTestStore(t, opts)
			ctx := context.Background()
			snap := testSnapshot(t)

			require.NoError(t, st.Save(ctx, "s1", snap))
			back, err := st.Load(ctx, "s1")
			require.NoError(t, err)
			assert.Equal(t, snap, back)

			restored, err := reasoning.Restore(back, nil)
			require.NoError(t, err)
			assert.Equal(t, reasoning.StageDecomposition, restored.Stage())
		})
	}
}

func TestStore_SaveReplaces(t *testing.T) {
	st := newTestStore(t, Options{})
	ctx := context.Background()
	snap := testSnapshot(t)

	require.NoError(t, st.Save(ctx, "s1", snap))
	snap.Task = "changed"
	require.NoError(t, st.Save(ctx, "s1", snap))

	back, err := st.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "changed", back.Task)
}

func TestStore_NotFound(t *testing.T) {
	st := newTestStore(t, Options{})
	ctx := context.Background()

	_, err := st.Load(ctx, "missing")
	assert.True(t, errors.Is(err, ErrSnapshotNotFound))
	assert.True(t, errors.Is(st.Delete(ctx, "missing"), ErrSnapshotNotFound))
}

func TestStore_Delete(t *testing.T) {
	st := newTestStore(t, Options{})
	ctx := context.Background()
	require.NoError(t, st.Save(ctx, "s1", testSnapshot(t)))

	require.NoError(t, st.Delete(ctx, "s1"))
	_, err := st.Load(ctx, "s1")
	assert.True(t, errors.Is(err, ErrSnapshotNotFound))

	entries, err := st.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStore_List(t *testing.T) {
	st := newTestStore(t, Options{})
	ctx := context.Background()
	snap := testSnapshot(t)
	before := time.Now().UTC().Add(-time.Second)

	for _, id := range []string{"b", "a", "c"} {
		require.NoError(t, st.Save(ctx, id, snap))
	}

	entries, err := st.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "a", entries[0].SessionID)
	assert.Equal(t, "b", entries[1].SessionID)
	assert.Equal(t, "c", entries[2].SessionID)
	for _, e := range entries {
		assert.True(t, e.SavedAt.After(before), e.SessionID)
		assert.Greater(t, e.Size, 1)
	}
}

func TestStore_ReadsPlainValuesWhenCompressing(t *testing.T) {
	st := newTestStore(t, Options{})
	snap := testSnapshot(t)

	raw, err := json.Marshal(snap)
	require.NoError(t, err)
	require.NoError(t, st.db.Update(func(txn *badger.Txn) error {
		return txn.Set(snapshotKey("legacy"), append([]byte{encodingJSON}, raw...))
	}))

	back, err := st.Load(context.Background(), "legacy")
	require.NoError(t, err)
	assert.Equal(t, snap.Task, back.Task)
}

func TestStore_CorruptValues(t *testing.T) {
	st := newTestStore(t, Options{})
	values := map[string][]byte{
		"empty":    {},
		"encoding": {0x7f, '{', '}'},
		"zstd":     {encodingZstdJSON, 1, 2, 3},
		"json":     append([]byte{encodingJSON}, "{not json"...),
	}
	for id, v := range values {
		require.NoError(t, st.db.Update(func(txn *badger.Txn) error {
			return txn.Set(snapshotKey(id), v)
		}))
		_, err := st.Load(context.Background(), id)
		assert.True(t, errors.Is(err, ErrCorruptSnapshot), id)
	}
}

func TestStore_Validation(t *testing.T) {
	st := newTestStore(t, Options{})
	ctx := context.Background()

	assert.ErrorIs(t, st.Save(ctx, "", testSnapshot(t)), ErrInvalidID)
	assert.Error(t, st.Save(ctx, "s1", nil))
	_, err := st.Load(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidID)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, st.Save(cancelled, "s1", testSnapshot(t)), context.Canceled)

	_, err = Open(Options{})
	assert.Error(t, err)
}

func TestStore_Closed(t *testing.T) {
	st, err := Open(Options{InMemory: true})
	require.NoError(t, err)
	require.NoError(t, st.Close())
	require.NoError(t, st.Close())

	ctx := context.Background()
	assert.ErrorIs(t, st.Save(ctx, "s1", testSnapshot(t)), ErrStoreClosed)
	_, err = st.Load(ctx, "s1")
	assert.ErrorIs(t, err, ErrStoreClosed)
	_, err = st.List(ctx)
	assert.ErrorIs(t, err, ErrStoreClosed)
}
