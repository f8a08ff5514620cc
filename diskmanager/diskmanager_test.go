package diskmanager

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dsnet/golib/memfile"

	"github.com/guycipher/vectorkv/page"
)

// memBackedFile adapts memfile.File (an in-memory []byte-backed file) to
// the diskmanager's file interface, so the bulk of these tests run without
// touching the real filesystem. Grounded in
// ryogrid-bltree-go-for-embedding/go.mod, which declares the same
// dependency for its own page-storage tests.
type memBackedFile struct {
	*memfile.File
	size int64
}

func newMemBackedFile() *memBackedFile {
	return &memBackedFile{File: memfile.New(nil)}
}

func (m *memBackedFile) WriteAt(p []byte, off int64) (int, error) {
	n, err := m.File.WriteAt(p, off)
	if end := off + int64(n); end > m.size {
		m.size = end
	}
	return n, err
}

func (m *memBackedFile) Truncate(size int64) error {
	m.size = size
	return nil
}

func (m *memBackedFile) Sync() error { return nil }

func (m *memBackedFile) Stat() (os.FileInfo, error) {
	return memStat{size: m.size}, nil
}

type memStat struct{ size int64 }

func (s memStat) Name() string       { return "memfile" }
func (s memStat) Size() int64        { return s.size }
func (s memStat) Mode() os.FileMode  { return 0o644 }
func (s memStat) ModTime() time.Time { return time.Time{} }
func (s memStat) IsDir() bool        { return false }
func (s memStat) Sys() any           { return nil }

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := Open(filepath.Join(t.TempDir(), "unused.db"), withBackingFile(newMemBackedFile()))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return m
}

func TestOpenInitializesSuperblock(t *testing.T) {
	m := newTestManager(t)
	if got := m.NumPages(); got != 1 {
		t.Fatalf("NumPages = %d, want 1", got)
	}

	var sb page.Page
	if err := m.ReadPage(0, &sb); err == nil {
		t.Fatalf("ReadPage(0) should reject the superblock id, got nil error")
	}
}

func TestAllocateWriteReadRoundTrip(t *testing.T) {
	m := newTestManager(t)

	id, err := m.AllocatePage()
	if err != nil {
		t.Fatalf("AllocatePage: %v", err)
	}
	if id == 0 {
		t.Fatalf("AllocatePage returned the reserved superblock id")
	}

	p := page.New()
	p.Reset(id)
	copy(p.Data(), []byte("hello world"))
	p.UpdateChecksum()

	if err := m.WritePage(id, p); err != nil {
		t.Fatalf("WritePage: %v", err)
	}

	var out page.Page
	if err := m.ReadPage(id, &out); err != nil {
		t.Fatalf("ReadPage: %v", err)
	}
	if out.ID() != id {
		t.Fatalf("ID = %d, want %d", out.ID(), id)
	}
	if string(out.Data()[:11]) != "hello world" {
		t.Fatalf("Data = %q", out.Data()[:11])
	}
	if !out.VerifyChecksum() {
		t.Fatalf("VerifyChecksum = false after a clean write-then-read")
	}
}

func TestReadPageRejectsOutOfRangeIDs(t *testing.T) {
	m := newTestManager(t)

	var p page.Page
	if err := m.ReadPage(0, &p); err == nil {
		t.Fatalf("ReadPage(0) should fail (superblock id)")
	}
	if err := m.ReadPage(uint64(m.NumPages()+10), &p); err == nil {
		t.Fatalf("ReadPage(out of range) should fail")
	}
}

func TestWritePageRejectsBadChecksum(t *testing.T) {
	m := newTestManager(t)
	id, err := m.AllocatePage()
	if err != nil {
		t.Fatalf("AllocatePage: %v", err)
	}

	p := page.New()
	p.Reset(id)
	// Deliberately do not call UpdateChecksum.
	if err := m.WritePage(id, p); err == nil {
		t.Fatalf("WritePage should reject a page whose checksum does not verify")
	}
}

func TestChecksumFailureIncrementsCounterExactlyOnce(t *testing.T) {
	m := newTestManager(t)
	id, err := m.AllocatePage()
	if err != nil {
		t.Fatalf("AllocatePage: %v", err)
	}

	p := page.New()
	p.Reset(id)
	p.UpdateChecksum()
	if err := m.WritePage(id, p); err != nil {
		t.Fatalf("WritePage: %v", err)
	}

	// Corrupt the on-disk bytes directly, bypassing the manager.
	corrupt := make([]byte, page.Size)
	copy(corrupt, p.Bytes())
	corrupt[page.HeaderSize] ^= 0xFF
	if _, err := m.f.WriteAt(corrupt, int64(id)*page.Size); err != nil {
		t.Fatalf("direct corruption write: %v", err)
	}

	var out page.Page
	before := m.Stats().ChecksumFailures
	if err := m.ReadPage(id, &out); err == nil {
		t.Fatalf("ReadPage should surface Corruption for a bad checksum")
	}
	after := m.Stats().ChecksumFailures
	if after != before+1 {
		t.Fatalf("ChecksumFailures went from %d to %d, want +1", before, after)
	}
}

func TestContiguousRoundTrip(t *testing.T) {
	m := newTestManager(t)

	var first uint64
	for i := 0; i < 4; i++ {
		id, err := m.AllocatePage()
		if err != nil {
			t.Fatalf("AllocatePage: %v", err)
		}
		if i == 0 {
			first = id
		}
	}

	buf := make([]byte, 4*page.Size)
	for i := range buf {
		buf[i] = byte(i % 251)
	}
	if err := m.WriteContiguous(first, 4, buf); err != nil {
		t.Fatalf("WriteContiguous: %v", err)
	}

	out := make([]byte, 4*page.Size)
	if err := m.ReadContiguous(first, 4, out); err != nil {
		t.Fatalf("ReadContiguous: %v", err)
	}
	for i := range buf {
		if buf[i] != out[i] {
			t.Fatalf("byte %d mismatch: wrote %d read %d", i, buf[i], out[i])
		}
	}
}

func TestAllocationsAreMonotonicAndUnique(t *testing.T) {
	m := newTestManager(t)
	seen := make(map[uint64]bool)
	for i := 0; i < 50; i++ {
		id, err := m.AllocatePage()
		if err != nil {
			t.Fatalf("AllocatePage: %v", err)
		}
		if seen[id] {
			t.Fatalf("duplicate page id %d", id)
		}
		seen[id] = true
	}
	if got := m.Stats().Allocations; got != 50 {
		t.Fatalf("Allocations = %d, want 50", got)
	}
}
