// Package vectorkv is an embedded vector-capable key-value storage core:
// a page/disk manager, an LRU-K buffered pool, a write-ahead log, and an
// LSM-tree write path (memtable, Bloom-filtered SSTables, manifest, and
// leveled compaction). This file is the public façade, binding the
// internal lsm coordinator to an Open/Close/Put/Get/Delete surface in the
// same spirit as the teacher's top-level k4.Open/K4 type.
package vectorkv

import (
	"strings"

	"github.com/guycipher/vectorkv/lsm"
	"github.com/guycipher/vectorkv/wal"
)

// vectorKeyPrefix distinguishes VectorBlob entries from ordinary
// key-value pairs without requiring the storage core to understand HNSW
// or any other vector-index algorithm.
const vectorKeyPrefix = "vec:"

// SyncMode re-exports the WAL's durability modes for callers configuring
// Open.
type SyncMode = wal.SyncMode

const (
	SyncNone       = wal.SyncNone
	SyncEveryWrite = wal.SyncEveryWrite
	SyncPeriodic   = wal.SyncPeriodic
)

// Config collects the optional inputs to Open; zero values take the
// defaults applied by lsm.Open.
type Config struct {
	Directory           string
	FlushThresholdBytes int64
	BufferPoolPages     int
	LRUK                int
	WALSyncMode         SyncMode
	DirectIO            bool
	Logging             bool
}

// DB is an open handle to a vectorkv data directory.
type DB struct {
	core *lsm.LSM
}

// Open creates or reopens a database rooted at cfg.Directory. Only one
// process may hold a directory open at a time; a second Open fails with a
// storageerr.AlreadyExists-kinded error.
func Open(cfg Config) (*DB, error) {
	core, err := lsm.Open(lsm.Config{
		Directory:           cfg.Directory,
		FlushThresholdBytes: cfg.FlushThresholdBytes,
		BufferPoolPages:     cfg.BufferPoolPages,
		LRUK:                cfg.LRUK,
		WALSyncMode:         cfg.WALSyncMode,
		DirectIO:            cfg.DirectIO,
		Logging:             cfg.Logging,
	})
	if err != nil {
		return nil, err
	}
	return &DB{core: core}, nil
}

// Close flushes outstanding data, closes the WAL and manifest, and
// releases the directory lock.
func (db *DB) Close() error {
	return db.core.Close()
}

// Put inserts or overwrites key.
func (db *DB) Put(key, value string) error {
	return db.core.Put(key, value)
}

// Delete stores a tombstone for key.
func (db *DB) Delete(key string) error {
	return db.core.Delete(key)
}

// Get returns the value for key, or (_, false) if absent or deleted.
func (db *DB) Get(key string) (string, bool) {
	return db.core.Get(key)
}

// GetAllEntries returns every live key-value pair (tombstones excluded).
func (db *DB) GetAllEntries() map[string]string {
	return db.core.GetAllEntries()
}

// Checkpoint forces a MemTable flush, logs a WAL checkpoint record, and
// durably syncs the buffer pool and disk manager.
func (db *DB) Checkpoint() error {
	return db.core.Checkpoint()
}

// Stats returns the LSM-level counters described on lsm.Stats.
func (db *DB) Stats() lsm.Stats {
	return db.core.Stats()
}

// PutVector stores an opaque vector payload under key, namespaced so it
// cannot collide with an ordinary string value stored under the same
// plain key. The core never interprets blob's contents.
func (db *DB) PutVector(key string, blob []byte) error {
	return db.core.Put(vectorKeyPrefix+key, string(blob))
}

// GetVector retrieves a vector payload previously stored with PutVector.
// The error return exists so a future HNSW layer can surface its own
// lookup failures through this entry point without an API break; the
// storage core's own Get never fails, so it is always nil today.
func (db *DB) GetVector(key string) ([]byte, bool, error) {
	v, ok := db.core.Get(vectorKeyPrefix + key)
	if !ok {
		return nil, false, nil
	}
	return []byte(v), true, nil
}

// IsVectorKey reports whether key names a VectorBlob entry, useful for
// callers enumerating GetAllEntries who want to separate the two
// namespaces.
func IsVectorKey(key string) bool {
	return strings.HasPrefix(key, vectorKeyPrefix)
}
