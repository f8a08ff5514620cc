// Package lsm ties the write-ahead log, MemTable, leveled SSTable store,
// and manifest into the Put/Get/Delete surface and Open/Close recovery
// procedure described in SPEC_FULL.md §4.11. Its shape — a config struct
// with sane defaults, an exported Open/Close lifecycle, and a logging field
// gated through a printLog-style helper — follows the teacher's top-level
// K4 type (legacy/k4.go)
// almost field-for-field, generalized from the teacher's skiplist/pager
// pairing to this module's memtable/sstable/manifest/level/wal/buffer
// stack.
package lsm

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/guycipher/vectorkv/buffer"
	"github.com/guycipher/vectorkv/diskmanager"
	"github.com/guycipher/vectorkv/internal/lockfile"
	"github.com/guycipher/vectorkv/level"
	"github.com/guycipher/vectorkv/manifest"
	"github.com/guycipher/vectorkv/memtable"
	"github.com/guycipher/vectorkv/sstable"
	"github.com/guycipher/vectorkv/storageerr"
	"github.com/guycipher/vectorkv/wal"
)

// defaultFlushThresholdBytes is the MemTable size at which a flush to L0
// is triggered (SPEC_FULL.md §4.6).
const defaultFlushThresholdBytes = 4 * 1024 * 1024

// defaultBufferPoolPages and defaultLRUK size the buffer pool over the
// directory's pages.db file. The WAL writes its own file and does not go
// through the pool.
const defaultBufferPoolPages = 128
const defaultLRUK = 2

const maxScannedLevels = 6
const walFileName = "wal.log"
const manifestFileName = "MANIFEST"

// Config collects the optional inputs to Open, all defaulted if zero.
type Config struct {
	Directory           string
	FlushThresholdBytes int64
	BufferPoolPages     int
	LRUK                int
	WALSyncMode         wal.SyncMode
	DirectIO            bool
	Logging             bool
}

func (c *Config) setDefaults() {
	if c.FlushThresholdBytes <= 0 {
		c.FlushThresholdBytes = defaultFlushThresholdBytes
	}
	if c.BufferPoolPages <= 0 {
		c.BufferPoolPages = defaultBufferPoolPages
	}
	if c.LRUK <= 0 {
		c.LRUK = defaultLRUK
	}
}

// Stats reports memtable bytes and entries, the live SSTable count, and
// total gets and puts (Delete counts as a put). WAL size, Bloom-filter
// counters and average operation latencies are not reported.
type Stats struct {
	MemtableBytes   int64
	MemtableEntries int
	SSTableCount    int
	TotalGets       uint64
	TotalPuts       uint64
}

// LSM is the coordinator binding WAL, MemTable, Leveled Store, and
// Manifest into the public storage-core surface.
type LSM struct {
	mu sync.RWMutex

	dir      string
	flushAt  int64
	logging  bool
	logFile  *os.File

	lock     *lockfile.Lock
	disk     *diskmanager.Manager
	pool     *buffer.Pool
	logMgr   *wal.Manager
	mt       *memtable.MemTable
	levels   *level.Store
	man      *manifest.Manifest
	nextID   uint64

	totalGets atomic.Uint64
	totalPuts atomic.Uint64

	open bool
}

// Open creates/verifies the directory layout, acquires the lockfile,
// replays the manifest to discover live SSTables, opens or replays the
// WAL into the MemTable, and returns a ready coordinator.
func Open(cfg Config) (*LSM, error) {
	const op = "lsm.Open"
	cfg.setDefaults()

	if err := os.MkdirAll(cfg.Directory, 0o755); err != nil {
		return nil, storageerr.New(op, storageerr.IoError, err)
	}

	lock, err := lockfile.Acquire(cfg.Directory)
	if err != nil {
		return nil, err
	}

	l := &LSM{
		dir:     cfg.Directory,
		flushAt: cfg.FlushThresholdBytes,
		logging: cfg.Logging,
		lock:    lock,
		mt:      memtable.New(),
		levels:  level.New(),
		nextID:  1,
	}

	if cfg.Logging {
		logFile, err := os.OpenFile(filepath.Join(cfg.Directory, "vectorkv.log"), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
		if err != nil {
			lock.Release()
			return nil, storageerr.New(op, storageerr.IoError, err)
		}
		l.logFile = logFile
		log.SetOutput(logFile)
	}

	diskPath := filepath.Join(cfg.Directory, "pages.db")
	disk, err := diskmanager.Open(diskPath, diskmanager.WithDirectIO(cfg.DirectIO))
	if err != nil {
		lock.Release()
		return nil, err
	}
	l.disk = disk
	l.pool = buffer.New(disk, cfg.BufferPoolPages, cfg.LRUK)

	man, err := manifest.Open(filepath.Join(cfg.Directory, manifestFileName))
	if err != nil {
		lock.Release()
		return nil, err
	}
	l.man = man

	if err := l.recoverFromManifest(); err != nil {
		man.Close()
		lock.Release()
		return nil, err
	}

	logMgr, err := wal.Open(filepath.Join(cfg.Directory, walFileName), cfg.WALSyncMode)
	if err != nil {
		man.Close()
		lock.Release()
		return nil, err
	}
	l.logMgr = logMgr

	if err := l.replayWAL(); err != nil {
		logMgr.Close()
		man.Close()
		lock.Release()
		return nil, err
	}

	l.open = true
	l.logf("vectorkv opened at %s", cfg.Directory)
	return l, nil
}

func (l *LSM) logf(format string, args ...any) {
	if l.logging {
		log.Printf(format, args...)
	}
}

// recoverFromManifest replays the manifest to obtain the live SSTable id
// set, locates each file by scanning level_0..level_N (falling back to
// the flat data directory for compatibility), and places every recovered
// table into L0 since per-level placement is not tracked by the manifest
// in this version (see DESIGN.md open-question decisions).
func (l *LSM) recoverFromManifest() error {
	ids, err := l.man.GetActiveSSTables()
	if err != nil {
		return err
	}

	maxID := uint64(0)
	for _, id := range ids {
		path, err := l.locateSSTableFile(id)
		if err != nil {
			return err
		}
		reader, err := sstable.OpenReader(path)
		if err != nil {
			return err
		}
		l.levels.AddL0SSTable(id, path, reader)
		if id > maxID {
			maxID = id
		}
	}
	l.nextID = maxID + 1
	return nil
}

func (l *LSM) locateSSTableFile(id uint64) (string, error) {
	const op = "lsm.locateSSTableFile"
	for n := 0; n <= maxScannedLevels; n++ {
		candidate := filepath.Join(l.dir, fmt.Sprintf("level_%d", n), fmt.Sprintf("sstable_%d.sst", id))
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	legacy := filepath.Join(l.dir, fmt.Sprintf("sstable_%d.sst", id))
	if _, err := os.Stat(legacy); err == nil {
		return legacy, nil
	}
	return "", storageerr.Newf(op, storageerr.Corruption, "manifest references sstable id %d with no file on disk", id)
}

// replayWAL applies every Put/Delete record to the MemTable in order.
func (l *LSM) replayWAL() error {
	return l.logMgr.ScanForward(0, func(r wal.Record) error {
		switch r.Kind {
		case wal.KindPut:
			l.mt.Put(string(r.Key), string(r.Value))
		case wal.KindDelete:
			l.mt.Delete(string(r.Key))
		}
		return nil
	})
}

// Put appends a WAL record, inserts into the MemTable, and flushes if the
// size threshold has been reached.
func (l *LSM) Put(key, value string) error {
	const op = "lsm.Put"
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.open {
		return storageerr.New(op, storageerr.Internal, fmt.Errorf("lsm is closed"))
	}
	if _, err := l.logMgr.AppendPut([]byte(key), []byte(value)); err != nil {
		return err
	}
	l.mt.Put(key, value)
	l.totalPuts.Add(1)

	if l.mt.ApproximateSizeBytes() >= l.flushAt {
		return l.flushMemTableLocked()
	}
	return nil
}

// Delete appends a WAL tombstone record and stores it in the MemTable.
func (l *LSM) Delete(key string) error {
	const op = "lsm.Delete"
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.open {
		return storageerr.New(op, storageerr.Internal, fmt.Errorf("lsm is closed"))
	}
	if _, err := l.logMgr.AppendDelete([]byte(key)); err != nil {
		return err
	}
	l.mt.Delete(key)
	l.totalPuts.Add(1)

	if l.mt.ApproximateSizeBytes() >= l.flushAt {
		return l.flushMemTableLocked()
	}
	return nil
}

// Get consults the MemTable first, then every SSTable in search order
// (L0 newest-first, then L1, L2, ...), stopping at the first layer that
// has any entry for key. A tombstone stops the search immediately and
// reports not-found — it must not be treated as "keep looking in older
// layers", or a Delete following an already-flushed Put would be masked
// by the stale value still sitting in that older SSTable.
func (l *LSM) Get(key string) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	l.totalGets.Add(1)
	if !l.open {
		return "", false
	}
	if value, found, tombstoned := l.mt.Lookup(key); found {
		if tombstoned {
			return "", false
		}
		return value, true
	}
	for _, r := range l.levels.GetAllSSTables() {
		if value, found, tombstoned := r.Lookup(key); found {
			if tombstoned {
				return "", false
			}
			return value, true
		}
	}
	return "", false
}

// FlushMemTable writes the current MemTable to a new L0 SSTable, records
// the manifest ADD, clears the MemTable, and runs MaybeCompact.
func (l *LSM) FlushMemTable() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.flushMemTableLocked()
}

func (l *LSM) flushMemTableLocked() error {
	const op = "lsm.flushMemTableLocked"
	if l.mt.Size() == 0 {
		return nil
	}

	id := l.nextID
	l.nextID++

	dir := filepath.Join(l.dir, "level_0")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return storageerr.New(op, storageerr.IoError, err)
	}
	path := filepath.Join(dir, fmt.Sprintf("sstable_%d.sst", id))

	w, err := sstable.Open(path)
	if err != nil {
		return err
	}
	for _, e := range l.mt.GetAllSorted() {
		w.Add(e.Key, e.Value)
	}
	if err := w.Finish(); err != nil {
		return err
	}

	if err := l.man.AddSSTable(id); err != nil {
		return err
	}

	reader, err := sstable.OpenReader(path)
	if err != nil {
		return err
	}
	l.levels.AddL0SSTable(id, path, reader)
	l.mt.Clear()
	l.logf("flushed memtable to %s", path)

	result, err := l.levels.MaybeCompact(l.dir, &l.nextID)
	if err != nil {
		return err
	}
	if result.Performed {
		if err := l.man.RemoveSSTables(result.RemovedIDs); err != nil {
			return err
		}
		if err := l.man.AddSSTable(result.AddedIDs[0]); err != nil {
			return err
		}
		if err := level.DeleteSSTableFiles(result.RemovedPaths); err != nil {
			return err
		}
		l.logf("compacted %d sstables into id %d", len(result.RemovedIDs), result.AddedIDs[0])
	}
	return nil
}

// GetAllEntries merges all live data newest-wins: SSTables oldest to
// newest, then the MemTable overlaid last, with tombstones dropped from
// the result.
func (l *LSM) GetAllEntries() map[string]string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	merged := make(map[string]string)
	readers := l.levels.GetAllSSTables()
	for i := len(readers) - 1; i >= 0; i-- {
		for _, e := range readers[i].GetAllSorted() {
			merged[e.Key] = e.Value
		}
	}
	for _, e := range l.mt.GetAllSorted() {
		merged[e.Key] = e.Value
	}
	for k, v := range merged {
		if v == memtable.Tombstone {
			delete(merged, k)
		}
	}
	return merged
}

// Checkpoint forces a MemTable flush, appends a WAL checkpoint record
// (with no active transactions, since this version has none), and flushes
// the buffer pool plus a durability sync.
func (l *LSM) Checkpoint() error {
	l.mu.Lock()
	if err := l.flushMemTableLocked(); err != nil {
		l.mu.Unlock()
		return err
	}
	l.mu.Unlock()

	if _, err := l.logMgr.AppendCheckpoint(nil); err != nil {
		return err
	}
	l.pool.FlushAllPages()
	return l.disk.Sync()
}

// Stats returns a snapshot of the LSM-level observability counters.
func (l *LSM) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return Stats{
		MemtableBytes:   l.mt.ApproximateSizeBytes(),
		MemtableEntries: l.mt.Size(),
		SSTableCount:    len(l.levels.GetAllSSTables()),
		TotalGets:       l.totalGets.Load(),
		TotalPuts:       l.totalPuts.Load(),
	}
}

// Close flushes outstanding data, closes the WAL and manifest, and
// releases the directory lock.
func (l *LSM) Close() error {
	l.mu.Lock()
	if !l.open {
		l.mu.Unlock()
		return nil
	}
	l.open = false
	flushErr := l.flushMemTableLocked()
	l.mu.Unlock()

	var firstErr error
	if flushErr != nil {
		firstErr = flushErr
	}
	if err := l.logMgr.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := l.man.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := l.disk.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if l.logFile != nil {
		l.logFile.Close()
	}
	if err := l.lock.Release(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
