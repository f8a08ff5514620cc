// Package sstable implements the immutable, sorted, Bloom-gated on-disk
// file format described in SPEC_FULL.md §4.8: magic "SSTB", entry count,
// Bloom section, then length-prefixed key/value pairs sorted ascending by
// key. The shape of Writer/Open/Add/Finish and Reader/Get/GetAllSorted is
// grounded in the sstable writer-then-reader idiom retrieved from
// other_examples (ChinmayNoob-lsm-go's sstable.go), adapted to the exact
// wire layout the spec requires and to this module's bloom package.
package sstable

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"
	"sort"

	"github.com/guycipher/vectorkv/bloom"
	"github.com/guycipher/vectorkv/memtable"
	"github.com/guycipher/vectorkv/storageerr"
)

var magic = [4]byte{'S', 'S', 'T', 'B'}

// maxSaneBloomLen bounds the Bloom-section length read from an untrusted
// file header so a corrupt length field can't trigger a huge allocation.
const maxSaneBloomLen = 1 << 32

// entry is an in-memory sorted record, reused by both Writer (pre-sort
// staging) and Reader (fully materialized table).
type entry struct {
	Key   string
	Value string
}

// Writer accumulates unordered key/value pairs and emits a sorted SSTable
// file on Finish.
type Writer struct {
	path    string
	entries []entry
}

// Open begins a new SSTable at path. The file itself is not created until
// Finish; Add only buffers in memory, matching the teacher idiom of
// building the whole table before a single sequential write.
func Open(path string) (*Writer, error) {
	return &Writer{path: path}, nil
}

// Add stages a key/value pair. Input order is irrelevant; Finish sorts.
func (w *Writer) Add(key, value string) {
	w.entries = append(w.entries, entry{Key: key, Value: value})
}

// Finish sorts the staged entries ascending by key (stable, so the last
// Add for a duplicate key wins), builds a Bloom filter over the keys, and
// writes the file atomically via a temp-file-then-rename so a reader can
// never observe a partially written table. The output replaces any
// existing file at the target path.
func (w *Writer) Finish() error {
	const op = "sstable.Finish"

	sort.SliceStable(w.entries, func(i, j int) bool { return w.entries[i].Key < w.entries[j].Key })
	// Collapse each run of equal keys to its last element (the last Add).
	deduped := w.entries[:0]
	for i, e := range w.entries {
		if i+1 < len(w.entries) && w.entries[i+1].Key == e.Key {
			continue
		}
		deduped = append(deduped, e)
	}
	w.entries = deduped

	filter := bloom.New(maxInt(len(w.entries), 1), 10, 3)
	for _, e := range w.entries {
		filter.Add([]byte(e.Key))
	}
	bloomBytes := filter.Serialize()

	tmpPath := w.path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return storageerr.New(op, storageerr.IoError, err)
	}
	bw := bufio.NewWriter(f)

	if _, err := bw.Write(magic[:]); err != nil {
		f.Close()
		return storageerr.New(op, storageerr.IoError, err)
	}
	if err := writeU32(bw, uint32(len(w.entries))); err != nil {
		f.Close()
		return storageerr.New(op, storageerr.IoError, err)
	}
	if err := writeU32(bw, uint32(len(bloomBytes))); err != nil {
		f.Close()
		return storageerr.New(op, storageerr.IoError, err)
	}
	if _, err := bw.Write(bloomBytes); err != nil {
		f.Close()
		return storageerr.New(op, storageerr.IoError, err)
	}
	for _, e := range w.entries {
		if err := writeRecord(bw, e.Key, e.Value); err != nil {
			f.Close()
			return storageerr.New(op, storageerr.IoError, err)
		}
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return storageerr.New(op, storageerr.IoError, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return storageerr.New(op, storageerr.IoError, err)
	}
	if err := f.Close(); err != nil {
		return storageerr.New(op, storageerr.IoError, err)
	}
	if err := os.Rename(tmpPath, w.path); err != nil {
		return storageerr.New(op, storageerr.IoError, err)
	}
	return nil
}

func writeU32(w io.Writer, v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func writeRecord(w io.Writer, key, value string) error {
	if err := writeU32(w, uint32(len(key))); err != nil {
		return err
	}
	if err := writeU32(w, uint32(len(value))); err != nil {
		return err
	}
	if _, err := io.WriteString(w, key); err != nil {
		return err
	}
	if _, err := io.WriteString(w, value); err != nil {
		return err
	}
	return nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Stats holds the per-reader Bloom-filter counters the spec asks SSTables
// to expose, aggregated by the level/coordinator layers above.
type Stats struct {
	BloomChecks         uint64
	BloomHits           uint64
	BloomFalsePositives uint64
}

// Reader is a fully materialized, in-memory view of an SSTable file: v1
// trades index paging for simplicity, per SPEC_FULL.md §4.8.
type Reader struct {
	Path    string
	entries []entry
	filter  *bloom.Filter
	stats   Stats
}

// OpenReader parses path's magic, counts, and optional Bloom section
// (tolerating legacy/corrupt Bloom headers by operating without a
// filter), then loads every record into memory sorted as stored.
func OpenReader(path string) (*Reader, error) {
	const op = "sstable.OpenReader"

	f, err := os.Open(path)
	if err != nil {
		return nil, storageerr.New(op, storageerr.IoError, err)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	var gotMagic [4]byte
	if _, err := io.ReadFull(br, gotMagic[:]); err != nil {
		return nil, storageerr.New(op, storageerr.Corruption, err)
	}
	if gotMagic != magic {
		return nil, storageerr.Newf(op, storageerr.Corruption, "bad magic %q", gotMagic[:])
	}

	count, err := readU32(br)
	if err != nil {
		return nil, storageerr.New(op, storageerr.Corruption, err)
	}
	bloomLen, err := readU32(br)
	if err != nil {
		return nil, storageerr.New(op, storageerr.Corruption, err)
	}

	var filter *bloom.Filter
	if bloomLen > 0 && uint64(bloomLen) < maxSaneBloomLen {
		bloomBytes := make([]byte, bloomLen)
		if _, err := io.ReadFull(br, bloomBytes); err != nil {
			return nil, storageerr.New(op, storageerr.Corruption, err)
		}
		filter = bloom.Deserialize(bloomBytes)
	} else if bloomLen > 0 {
		if _, err := io.CopyN(io.Discard, br, int64(bloomLen)); err != nil {
			return nil, storageerr.New(op, storageerr.Corruption, err)
		}
	}

	entries := make([]entry, 0, count)
	for i := uint32(0); i < count; i++ {
		keyLen, err := readU32(br)
		if err != nil {
			return nil, storageerr.New(op, storageerr.Corruption, err)
		}
		valLen, err := readU32(br)
		if err != nil {
			return nil, storageerr.New(op, storageerr.Corruption, err)
		}
		key := make([]byte, keyLen)
		if _, err := io.ReadFull(br, key); err != nil {
			return nil, storageerr.New(op, storageerr.Corruption, err)
		}
		val := make([]byte, valLen)
		if _, err := io.ReadFull(br, val); err != nil {
			return nil, storageerr.New(op, storageerr.Corruption, err)
		}
		entries = append(entries, entry{Key: string(key), Value: string(val)})
	}

	return &Reader{Path: path, entries: entries, filter: filter}, nil
}

func readU32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

// Get consults the Bloom filter first (when present) and returns (value,
// found=false) immediately on a negative. A positive or missing filter
// falls through to binary search; a hit equal to the tombstone sentinel
// is reported as not found to the caller, matching MemTable semantics.
// Callers merging multiple layers (the LSM coordinator's Get) should use
// Lookup instead, which exposes the tombstone distinctly from "absent".
func (r *Reader) Get(key string) (string, bool) {
	value, found, tombstoned := r.Lookup(key)
	if !found || tombstoned {
		return "", false
	}
	return value, true
}

// Lookup reports the raw state of key in this table: found is whether any
// record (live or tombstoned) exists for key, and tombstoned is whether
// that record is the deletion sentinel. A caller merging multiple layers
// newest-to-oldest must stop at the first layer with found=true,
// returning not-found immediately when tombstoned is also true rather
// than falling through to an older layer.
func (r *Reader) Lookup(key string) (value string, found bool, tombstoned bool) {
	if r.filter != nil {
		r.stats.BloomChecks++
		if !r.filter.MayContain([]byte(key)) {
			r.stats.BloomHits++
			return "", false, false
		}
	}

	i := sort.Search(len(r.entries), func(i int) bool { return r.entries[i].Key >= key })
	if i >= len(r.entries) || r.entries[i].Key != key {
		if r.filter != nil {
			r.stats.BloomFalsePositives++
		}
		return "", false, false
	}
	if r.entries[i].Value == memtable.Tombstone {
		return "", true, true
	}
	return r.entries[i].Value, true, false
}

// GetAllSorted returns every record, tombstones included, in on-disk
// (ascending key) order.
func (r *Reader) GetAllSorted() []memtable.Entry {
	out := make([]memtable.Entry, len(r.entries))
	for i, e := range r.entries {
		out[i] = memtable.Entry{Key: e.Key, Value: e.Value}
	}
	return out
}

// Stats returns the reader's accumulated Bloom-filter counters.
func (r *Reader) Stats() Stats {
	return r.stats
}

// SizeBytes approximates the file's on-disk footprint from its
// materialized entries, used by level size-triggered compaction.
func (r *Reader) SizeBytes() int64 {
	var n int64
	for _, e := range r.entries {
		n += int64(len(e.Key) + len(e.Value) + 8)
	}
	return n
}
