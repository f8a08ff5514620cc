// Package level organizes SSTables into numbered levels and drives
// compaction, per SPEC_FULL.md §4.10. The level/table bookkeeping and the
// count-triggered-L0 / size-triggered-Ln+ compaction split are grounded in
// the LevelManager retrieved from other_examples (AndrewTheMaster's
// pkg/persistance/levels.go), adapted to this module's sstable.Reader/
// Writer types and to the spec's exact size thresholds and newest-wins
// merge ordering.
package level

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/guycipher/vectorkv/sstable"
	"github.com/guycipher/vectorkv/storageerr"
)

// l0CompactionTrigger is the L0 table count at or above which a compaction
// into L1 is due (overlap across L0 makes count, not size, the right
// metric).
const l0CompactionTrigger = 4

// baseLevelBytes is the L1 byte-size trigger; level n>=1 triggers at
// baseLevelBytes * 10^(n-1).
const baseLevelBytes = 10 * 1024 * 1024

// tableEntry pairs an open reader with its SSTable id and on-disk path,
// the latter needed only so a completed compaction's source files can be
// deleted once the coordinator has durably recorded the manifest change.
type tableEntry struct {
	ID     uint64
	Path   string
	Reader *sstable.Reader
}

type levelData struct {
	num    int
	tables []tableEntry
}

// CompactionResult reports what MaybeCompact did, if anything, so the
// caller (the LSM coordinator) can persist the manifest change before any
// physical file is deleted.
type CompactionResult struct {
	Performed    bool
	AddedIDs     []uint64
	RemovedIDs   []uint64
	RemovedPaths []string
}

// Store organizes SSTable readers into levels 0..N and performs
// compaction in place.
type Store struct {
	mu     sync.RWMutex
	levels []*levelData
}

// New returns an empty Store.
func New() *Store {
	return &Store{}
}

func (s *Store) ensureLevel(n int) *levelData {
	for len(s.levels) <= n {
		s.levels = append(s.levels, &levelData{num: len(s.levels)})
	}
	return s.levels[n]
}

// AddL0SSTable appends a newly flushed (or recovered) SSTable to level 0.
func (s *Store) AddL0SSTable(id uint64, path string, r *sstable.Reader) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lvl := s.ensureLevel(0)
	lvl.tables = append(lvl.tables, tableEntry{ID: id, Path: path, Reader: r})
}

// GetLevel returns a snapshot of level n's readers (empty if n doesn't
// exist yet).
func (s *Store) GetLevel(n int) []*sstable.Reader {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n >= len(s.levels) {
		return nil
	}
	out := make([]*sstable.Reader, len(s.levels[n].tables))
	for i, e := range s.levels[n].tables {
		out[i] = e.Reader
	}
	return out
}

// GetAllSSTables returns every reader in search order: all of L0
// newest-first, then L1, L2, ... in stored order (levels >=1 never
// overlap, so within-level order does not affect read correctness).
func (s *Store) GetAllSSTables() []*sstable.Reader {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*sstable.Reader
	if len(s.levels) > 0 {
		l0 := s.levels[0].tables
		for i := len(l0) - 1; i >= 0; i-- {
			out = append(out, l0[i].Reader)
		}
	}
	for n := 1; n < len(s.levels); n++ {
		for _, e := range s.levels[n].tables {
			out = append(out, e.Reader)
		}
	}
	return out
}

func levelSizeBytes(lvl *levelData) int64 {
	var total int64
	for _, e := range lvl.tables {
		total += e.Reader.SizeBytes()
	}
	return total
}

func thresholdForLevel(n int) int64 {
	threshold := int64(baseLevelBytes)
	for i := 1; i < n; i++ {
		threshold *= 10
	}
	return threshold
}

// MaybeCompact checks compaction triggers in level order (L0 count, then
// Ln>=1 size) and performs at most one compaction per call. New SSTable
// files are written under dataDir/level_<n>/sstable_<id>.sst before this
// function returns; the caller is responsible for persisting the manifest
// REMOVE+ADD pair and then calling DeleteSSTableFiles for the removed ids.
func (s *Store) MaybeCompact(dataDir string, nextID *uint64) (CompactionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.levels) > 0 && len(s.levels[0].tables) >= l0CompactionTrigger {
		return s.compactL0ToL1(dataDir, nextID)
	}
	for n := 1; n < len(s.levels); n++ {
		if levelSizeBytes(s.levels[n]) >= thresholdForLevel(n) {
			return s.compactLevelToNext(n, dataDir, nextID)
		}
	}
	return CompactionResult{}, nil
}

// mergeNewestWins flattens groups of tables into a single key->value map.
// Groups are applied in the order given; within a group, tables are
// applied in the order stored. Later applications overwrite earlier ones,
// so callers must order groups/tables from oldest to newest.
func mergeNewestWins(groups ...[]tableEntry) map[string]string {
	merged := make(map[string]string)
	for _, group := range groups {
		for _, e := range group {
			for _, entry := range e.Reader.GetAllSorted() {
				merged[entry.Key] = entry.Value
			}
		}
	}
	return merged
}

func writeMergedTable(dataDir string, level int, id uint64, merged map[string]string) (string, *sstable.Reader, error) {
	const op = "level.writeMergedTable"

	dir := filepath.Join(dataDir, fmt.Sprintf("level_%d", level))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", nil, storageerr.New(op, storageerr.IoError, err)
	}
	path := filepath.Join(dir, fmt.Sprintf("sstable_%d.sst", id))

	w, err := sstable.Open(path)
	if err != nil {
		return "", nil, err
	}
	for k, v := range merged {
		w.Add(k, v)
	}
	if err := w.Finish(); err != nil {
		return "", nil, err
	}

	r, err := sstable.OpenReader(path)
	if err != nil {
		return "", nil, err
	}
	return path, r, nil
}

func tableIDs(entries []tableEntry) []uint64 {
	ids := make([]uint64, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func tablePaths(groups ...[]tableEntry) []string {
	var paths []string
	for _, group := range groups {
		for _, e := range group {
			paths = append(paths, e.Path)
		}
	}
	return paths
}

// compactL0ToL1 merges every L0 table with every L1 table (L0 overlaps,
// so the whole level participates). Tombstones are preserved: this
// function never drops a key, only overwrites it, since a lower level
// might still shadow the same key in a future release of this policy.
func (s *Store) compactL0ToL1(dataDir string, nextID *uint64) (CompactionResult, error) {
	l0 := s.levels[0].tables
	l1 := s.ensureLevel(1).tables

	merged := mergeNewestWins(l1, l0)

	id := *nextID
	*nextID++
	path, reader, err := writeMergedTable(dataDir, 1, id, merged)
	if err != nil {
		return CompactionResult{}, err
	}

	removed := append(tableIDs(l1), tableIDs(l0)...)
	sort.Slice(removed, func(i, j int) bool { return removed[i] < removed[j] })
	removedPaths := tablePaths(l1, l0)

	s.levels[0].tables = nil
	s.levels[1].tables = []tableEntry{{ID: id, Path: path, Reader: reader}}

	return CompactionResult{Performed: true, AddedIDs: []uint64{id}, RemovedIDs: removed, RemovedPaths: removedPaths}, nil
}

// compactLevelToNext merges all of level n with all of level n+1 (a v1
// simplification: a full-level merge rather than a selective/overlapping
// merge). Level n is newer than n+1, so its entries are applied last.
func (s *Store) compactLevelToNext(n int, dataDir string, nextID *uint64) (CompactionResult, error) {
	source := s.levels[n].tables
	target := s.ensureLevel(n + 1).tables

	merged := mergeNewestWins(target, source)

	id := *nextID
	*nextID++
	path, reader, err := writeMergedTable(dataDir, n+1, id, merged)
	if err != nil {
		return CompactionResult{}, err
	}

	removed := append(tableIDs(target), tableIDs(source)...)
	sort.Slice(removed, func(i, j int) bool { return removed[i] < removed[j] })
	removedPaths := tablePaths(target, source)

	s.levels[n].tables = nil
	s.levels[n+1].tables = []tableEntry{{ID: id, Path: path, Reader: reader}}

	return CompactionResult{Performed: true, AddedIDs: []uint64{id}, RemovedIDs: removed, RemovedPaths: removedPaths}, nil
}

// DeleteSSTableFiles removes the on-disk files at the given paths, as
// returned in a CompactionResult. Intended to run only after the
// coordinator has durably appended the corresponding manifest REMOVE
// records, so a crash between manifest write and file deletion leaves
// only an orphaned file (which no startup sweep removes) rather than a
// live manifest entry pointing at nothing.
func DeleteSSTableFiles(paths []string) error {
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return storageerr.New("level.DeleteSSTableFiles", storageerr.IoError, err)
		}
	}
	return nil
}
