// Package cache provides the concrete internal/core.Cache backends: a
// persistent store keyed by bbolt, and an in-memory map for --no-cache /
// cold builds. The Python original keeps its cache in a shelve (pickle on
// dbm); bbolt is this pack's equivalent embedded key/value file, and
// encoding/gob is this module's pickle — see DESIGN.md for why no
// third-party serializer from the pack fits a store whose value type is an
// arbitrary task-defined interface{}.
package cache

import (
	"bytes"
	"encoding/gob"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
	"go.etcd.io/bbolt"
	"golang.org/x/xerrors"

	"github.com/distr1/erect/internal/core"
)

func init() {
	// Cover the InputMetadata shapes task bodies are expected to report
	// (spec §4.4): strings, string slices, and the fingerprint-adjacent
	// scalars gcctask/template report. map[string]interface{} and
	// []interface{} cover a blueprint's template.Render.Data, which is
	// itself an interface-valued map nested inside InputMetadata's
	// interface-valued map; float64 covers a Data map's numeric literals,
	// which is how the encoding/json family (and blueprint authors copying
	// that convention) represents untyped numbers. Task-defined Result
	// types register themselves from their own package init (see
	// gcctask.init).
	gob.Register("")
	gob.Register([]string{})
	gob.Register(0)
	gob.Register(int64(0))
	gob.Register(float64(0))
	gob.Register(false)
	gob.Register(map[string]string{})
	gob.Register(map[string]interface{}{})
	gob.Register([]interface{}{})
}

// Register makes v's concrete type decodable out of a CacheRecord.Result
// (or out of an InputMetadata value) previously encoded by Store.Set. Task
// packages whose Body.Run returns a type other than the ones registered in
// this package's init call Register once, typically from their own init.
func Register(v interface{}) {
	gob.Register(v)
}

const bucketName = "erect"

// Store is a bbolt-backed core.Cache. One bucket, keyed by TaskID.Mangled.
type Store struct {
	db *bbolt.DB
}

// Open opens (creating if necessary) the cache file at path.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0644, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, xerrors.Errorf("cache: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, xerrors.Errorf("cache: init bucket: %w", err)
	}
	return &Store{db: db}, nil
}

// Get implements core.Cache. A corrupt or unreadable record is treated as a
// cache miss rather than an error: the worst case is an unnecessary rebuild,
// never a wrong result.
func (s *Store) Get(key string) (core.CacheRecord, bool) {
	var rec core.CacheRecord
	var found bool
	s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte(bucketName)).Get([]byte(key))
		if v == nil {
			return nil
		}
		decoded, err := decode(v)
		if err != nil {
			return nil
		}
		rec = decoded
		found = true
		return nil
	})
	return rec, found
}

// Set implements core.Cache.
func (s *Store) Set(key string, rec core.CacheRecord) error {
	buf, err := encode(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Put([]byte(key), buf)
	})
}

// Close implements core.Cache.
func (s *Store) Close() error {
	return s.db.Close()
}

func encode(rec core.CacheRecord) ([]byte, error) {
	var raw bytes.Buffer
	if err := gob.NewEncoder(&raw).Encode(rec); err != nil {
		return nil, xerrors.Errorf("cache: encode: %w", err)
	}
	var compressed bytes.Buffer
	gw := gzip.NewWriter(&compressed)
	if _, err := gw.Write(raw.Bytes()); err != nil {
		return nil, xerrors.Errorf("cache: compress: %w", err)
	}
	if err := gw.Close(); err != nil {
		return nil, xerrors.Errorf("cache: compress: %w", err)
	}
	return compressed.Bytes(), nil
}

func decode(b []byte) (core.CacheRecord, error) {
	gr, err := gzip.NewReader(bytes.NewReader(b))
	if err != nil {
		return core.CacheRecord{}, xerrors.Errorf("cache: decompress: %w", err)
	}
	defer gr.Close()
	var rec core.CacheRecord
	if err := gob.NewDecoder(gr).Decode(&rec); err != nil {
		return core.CacheRecord{}, xerrors.Errorf("cache: decode: %w", err)
	}
	return rec, nil
}

// MemoryStore is a core.Cache backed by a plain map, guarded by a mutex.
// Selected by --no-cache: every task runs up-to-date checks against records
// written earlier in the same process only, never against a previous
// invocation's cache file.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string]core.CacheRecord
}

// NewMemoryStore returns an empty in-memory cache.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]core.CacheRecord)}
}

// Get implements core.Cache.
func (m *MemoryStore) Get(key string) (core.CacheRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.data[key]
	return rec, ok
}

// Set implements core.Cache.
func (m *MemoryStore) Set(key string, rec core.CacheRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = rec
	return nil
}

// Close implements core.Cache. A no-op: there is nothing to flush.
func (m *MemoryStore) Close() error {
	return nil
}
