// Package memtable implements the newest-writes-win in-memory sorted index
// described in SPEC_FULL.md §4.6. Ordering is delegated to
// github.com/zhangyunhao116/skipmap's StringMap, a concurrent skip-list
// ordered map — grounded in the LSM-tree-shaped repo referenced by
// other_examples/manifests/AndrewTheMaster-... , whose go.mod carries the
// same dependency for exactly this role. Size accounting and the
// tombstone sentinel still mirror the teacher's memtable bookkeeping (a
// single mutex guarding a running byte total, entries keyed by string).
package memtable

import (
	"sync"

	"github.com/zhangyunhao116/skipmap"
)

// Tombstone is the distinguished sentinel value marking a deleted key. It
// is exported so the SSTable writer/reader and the LSM coordinator share
// exactly one definition of "deleted" across the whole write path.
const Tombstone = "\x00__vectorkv_tombstone__\x00"

// Entry is a materialized key/value pair, used by GetAllSorted.
type Entry struct {
	Key   string
	Value string
}

// MemTable is a sorted string->string map with incremental byte-size
// accounting. Ordering and concurrent access to the entries themselves are
// handled by the skip list; sizeMu guards only the running byte total,
// since skipmap does not expose atomic read-modify-write across Store
// calls.
type MemTable struct {
	m      *skipmap.StringMap
	sizeMu sync.Mutex
	size   int64
}

// New creates an empty MemTable.
func New() *MemTable {
	return &MemTable{m: skipmap.NewString()}
}

func (mt *MemTable) adjustSize(delta int64) {
	mt.sizeMu.Lock()
	mt.size += delta
	mt.sizeMu.Unlock()
}

// Put inserts or overwrites key with value. The size delta on overwrite
// accounts only for the value-size change, per SPEC_FULL.md §4.6.
func (mt *MemTable) Put(key, value string) {
	old, existed := mt.m.Load(key)
	mt.m.Store(key, value)
	if existed {
		mt.adjustSize(int64(len(value)) - int64(len(old.(string))))
	} else {
		mt.adjustSize(int64(len(key)) + int64(len(value)))
	}
}

// Delete stores the tombstone sentinel for key.
func (mt *MemTable) Delete(key string) {
	mt.Put(key, Tombstone)
}

// Get returns the value for key, or (zero, false) if absent or tombstoned.
// Callers that must distinguish "absent" from "deleted" (the LSM
// coordinator's layered Get) should use Lookup instead.
func (mt *MemTable) Get(key string) (string, bool) {
	value, found, tombstoned := mt.Lookup(key)
	if !found || tombstoned {
		return "", false
	}
	return value, true
}

// Lookup reports the raw state of key: found is whether any entry (live or
// tombstoned) exists for key, and tombstoned is whether that entry is the
// deletion sentinel. A caller merging multiple layers newest-to-oldest
// must stop at the first layer with found=true, returning not-found
// immediately when tombstoned is also true rather than falling through to
// an older layer.
func (mt *MemTable) Lookup(key string) (value string, found bool, tombstoned bool) {
	v, ok := mt.m.Load(key)
	if !ok {
		return "", false, false
	}
	s := v.(string)
	if s == Tombstone {
		return "", true, true
	}
	return s, true, false
}

// Size returns the number of entries, including tombstones.
func (mt *MemTable) Size() int {
	return mt.m.Len()
}

// ApproximateSizeBytes returns the incrementally maintained byte estimate:
// sum over entries of len(key)+len(value).
func (mt *MemTable) ApproximateSizeBytes() int64 {
	mt.sizeMu.Lock()
	defer mt.sizeMu.Unlock()
	return mt.size
}

// GetAllSorted returns a key-ascending snapshot of all entries, tombstones
// included (callers that want live data only must filter Tombstone
// themselves — the LSM coordinator's flush path intentionally keeps
// tombstones so deletes are visible in the resulting SSTable).
func (mt *MemTable) GetAllSorted() []Entry {
	out := make([]Entry, 0, mt.m.Len())
	mt.m.Range(func(key string, value interface{}) bool {
		out = append(out, Entry{Key: key, Value: value.(string)})
		return true
	})
	return out
}

// Clear empties the structure in place, used after a successful flush.
func (mt *MemTable) Clear() {
	mt.m = skipmap.NewString()
	mt.sizeMu.Lock()
	mt.size = 0
	mt.sizeMu.Unlock()
}
