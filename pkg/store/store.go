// Package store persists reasoning session snapshots in BadgerDB.
//
// Each snapshot is stored as one value keyed by its session id. Values are
// JSON encoded and, unless disabled, zstd compressed. A small header byte in
// front of every value records the encoding so stores written with
// compression off can still be read after it is switched on.
//
// Key Layout:
//   - 0x01 + sessionID -> snapshot value
//   - 0x02 + sessionID -> last save time (unix nanoseconds, big endian)
//
// Example:
//
//	st, err := store.Open(store.Options{DataDir: "./data/sessions"})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer st.Close()
//
//	snap, _ := engine.Snapshot()
//	if err := st.Save(ctx, "session-1", snap); err != nil {
//		return err
//	}
//	back, err := st.Load(ctx, "session-1")
package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/klauspost/compress/zstd"

	"github.com/orneryd/thoughtgraph/pkg/reasoning"
)

// Key prefixes.
const (
	prefixSnapshot = byte(0x01)
	prefixSavedAt  = byte(0x02)
)

// Value headers.
const (
	encodingJSON     = byte(0x00)
	encodingZstdJSON = byte(0x01)
)

// Errors returned by the store.
var (
	ErrSnapshotNotFound = errors.New("snapshot not found")
	ErrStoreClosed      = errors.New("store is closed")
	ErrInvalidID        = errors.New("invalid session id")
	ErrCorruptSnapshot  = errors.New("corrupt snapshot value")
)

// Options configures a Store.
type Options struct {
	// DataDir is the badger directory. Ignored when InMemory is set.
	DataDir string

	// InMemory keeps everything in RAM. Data is lost on Close.
	InMemory bool

	// SyncWrites fsyncs every write.
	SyncWrites bool

	// DisableCompression stores plain JSON.
	DisableCompression bool

	// Logger receives badger's internal logs. nil silences them.
	Logger badger.Logger
}

// Entry describes one stored snapshot.
type Entry struct {
	SessionID string    `json:"session_id"`
	SavedAt   time.Time `json:"saved_at"`
	Size      int       `json:"size"`
}

// Store is a badger-backed snapshot store.
//
// Thread Safety:
//
//	Safe for concurrent use from multiple goroutines.
type Store struct {
	db       *badger.DB
	compress bool
	enc      *zstd.Encoder
	dec      *zstd.Decoder

	mu     sync.RWMutex
	closed bool
}

// Open opens (or creates) a snapshot store.
//
// The low-memory badger settings match what a sidecar process needs: snapshots
// are small, written rarely and read on session restore.
//
// Example 1 - On disk:
//
//	st, err := store.Open(store.Options{DataDir: "./data"})
//
// Example 2 - Tests:
//
//	st, err := store.Open(store.Options{InMemory: true})
func Open(opts Options) (*Store, error) {
	if !opts.InMemory && opts.DataDir == "" {
		return nil, errors.New("store: data directory is required unless in-memory")
	}

	badgerOpts := badger.DefaultOptions(opts.DataDir)
	if opts.InMemory {
		badgerOpts = badgerOpts.WithInMemory(true).WithDir("").WithValueDir("")
	}
	if opts.SyncWrites {
		badgerOpts = badgerOpts.WithSyncWrites(true)
	}
	badgerOpts = badgerOpts.WithLogger(opts.Logger)

	badgerOpts = badgerOpts.
		WithMemTableSize(16 << 20).
		WithValueLogFileSize(64 << 20).
		WithNumMemtables(2).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithBlockCacheSize(16 << 20).
		WithIndexCacheSize(8 << 20)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	s := &Store{db: db, compress: !opts.DisableCompression}

	// The decoder is always needed: compressed values may exist even when
	// new writes are uncompressed.
	s.dec, err = zstd.NewReader(nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	if s.compress {
		s.enc, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			s.dec.Close()
			db.Close()
			return nil, fmt.Errorf("creating zstd encoder: %w", err)
		}
	}
	return s, nil
}

func snapshotKey(id string) []byte {
	return append([]byte{prefixSnapshot}, []byte(id)...)
}

func savedAtKey(id string) []byte {
	return append([]byte{prefixSavedAt}, []byte(id)...)
}

func (s *Store) checkOpen(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Save stores snap under id, replacing any earlier snapshot.
func (s *Store) Save(ctx context.Context, id string, snap *reasoning.Snapshot) error {
	if id == "" {
		return ErrInvalidID
	}
	if snap == nil {
		return errors.New("store: snapshot is nil")
	}
	if err := s.checkOpen(ctx); err != nil {
		return err
	}

	value, err := s.encode(snap)
	if err != nil {
		return err
	}
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(time.Now().UTC().UnixNano()))

	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(snapshotKey(id), value); err != nil {
			return err
		}
		return txn.Set(savedAtKey(id), ts[:])
	})
}

// Load returns the snapshot stored under id.
func (s *Store) Load(ctx context.Context, id string) (*reasoning.Snapshot, error) {
	if id == "" {
		return nil, ErrInvalidID
	}
	if err := s.checkOpen(ctx); err != nil {
		return nil, err
	}

	var snap *reasoning.Snapshot
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(snapshotKey(id))
		if err == badger.ErrKeyNotFound {
			return ErrSnapshotNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var decodeErr error
			snap, decodeErr = s.decode(val)
			return decodeErr
		})
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// Delete removes the snapshot stored under id.
func (s *Store) Delete(ctx context.Context, id string) error {
	if id == "" {
		return ErrInvalidID
	}
	if err := s.checkOpen(ctx); err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(snapshotKey(id)); err == badger.ErrKeyNotFound {
			return ErrSnapshotNotFound
		} else if err != nil {
			return err
		}
		if err := txn.Delete(snapshotKey(id)); err != nil {
			return err
		}
		return txn.Delete(savedAtKey(id))
	})
}

// List returns every stored snapshot, ordered by session id.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	if err := s.checkOpen(ctx); err != nil {
		return nil, err
	}

	entries := []Entry{}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte{prefixSnapshot}
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			id := string(item.Key()[1:])
			entry := Entry{SessionID: id, Size: int(item.ValueSize())}

			tsItem, err := txn.Get(savedAtKey(id))
			if err == nil {
				_ = tsItem.Value(func(val []byte) error {
					if len(val) == 8 {
						entry.SavedAt = time.Unix(0, int64(binary.BigEndian.Uint64(val))).UTC()
					}
					return nil
				})
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].SessionID < entries[j].SessionID })
	return entries, nil
}

// Close releases the database and codecs. Calling Close twice is a no-op.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.enc != nil {
		s.enc.Close()
	}
	s.dec.Close()
	return s.db.Close()
}

func (s *Store) encode(snap *reasoning.Snapshot) ([]byte, error) {
	raw, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encoding snapshot: %w", err)
	}
	if !s.compress {
		return append([]byte{encodingJSON}, raw...), nil
	}
	out := make([]byte, 1, len(raw)/2+1)
	out[0] = encodingZstdJSON
	return s.enc.EncodeAll(raw, out), nil
}

func (s *Store) decode(val []byte) (*reasoning.Snapshot, error) {
	if len(val) == 0 {
		return nil, ErrCorruptSnapshot
	}
	raw := val[1:]
	switch val[0] {
	case encodingJSON:
	case encodingZstdJSON:
		var err error
		raw, err = s.dec.DecodeAll(raw, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
		}
	default:
		return nil, fmt.Errorf("%w: unknown encoding 0x%02x", ErrCorruptSnapshot, val[0])
	}
	var snap reasoning.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	return &snap, nil
}
