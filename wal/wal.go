// Package wal implements the write-ahead log (SPEC_FULL.md §4.5): a
// durable, totally ordered append stream of tagged log records whose LSNs
// are assigned at append time and are strictly monotonic per process.
//
// On-disk record format: a 4-byte little-endian length prefix, followed by
// a common header {LSN, txn id, previous LSN, kind} and kind-specific
// bytes, all little-endian fixed-width integers — no gob, unlike the
// teacher's Operation encoding, because the spec fixes an exact wire
// layout recovery must be able to parse byte-for-byte across versions.
package wal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"sync"
	"time"

	"github.com/guycipher/vectorkv/storageerr"
)

// defaultFlushInterval is how often the SyncPeriodic background goroutine
// forces a flush; Open takes no interval parameter, so it is always used.
const defaultFlushInterval = 200 * time.Millisecond

// Kind tags the variant payload of a log record.
type Kind uint8

const (
	KindBegin Kind = iota
	KindCommit
	KindAbort
	KindUpdate
	KindCLR
	KindCheckpoint
	// KindPut and KindDelete are this module's data-path records: the LSM
	// coordinator has no transaction manager in v1, so every Put/Delete is
	// wrapped in its own implicit Begin/Update/Commit collapsed into one
	// record kind for replay efficiency. This is additive to, not a
	// replacement for, the Begin/Commit/Abort/Update/CLR/Checkpoint kinds
	// spec.md names; those remain available for a future transaction
	// manager layered on top.
	KindPut
	KindDelete
)

const headerSize = 8 + 8 + 8 + 1 // LSN, txn id, prev LSN, kind

// Record is a decoded log record.
type Record struct {
	LSN     uint64
	TxnID   uint64
	PrevLSN uint64
	Kind    Kind

	// Update/CLR fields.
	PageID     uint64
	Offset     uint32
	Before     []byte
	After      []byte
	UndoNextLS uint64

	// Checkpoint field.
	ActiveTxns []uint64

	// Put/Delete fields.
	Key   []byte
	Value []byte
}

// SyncMode controls how aggressively ForceFlush reaches durability.
type SyncMode int

const (
	SyncNone SyncMode = iota
	SyncEveryWrite
	SyncPeriodic
)

// Manager is the WAL's append/scan surface. A single mutex serializes
// appends, flushes, and LSN assignment, per SPEC_FULL.md §5. When opened
// with SyncPeriodic, a background goroutine (grounded in the teacher's
// own periodic/escalating sync goroutine in legacy/pager) force-flushes on
// a fixed interval instead of on every append.
type Manager struct {
	mu       sync.Mutex
	f        *os.File
	w        *bufio.Writer
	nextLSN  uint64
	syncMode SyncMode

	stopPeriodic chan struct{}
	periodicDone chan struct{}
}

// Open opens (creating if necessary) the WAL file at path and determines
// the next LSN to assign by scanning any existing records. If mode is
// SyncPeriodic, a background goroutine begins force-flushing every
// defaultFlushInterval until Close.
func Open(path string, mode SyncMode) (*Manager, error) {
	const op = "wal.Open"
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, storageerr.New(op, storageerr.IoError, err)
	}

	m := &Manager{f: f, syncMode: mode, nextLSN: 1}
	if err := m.ScanForward(0, func(r Record) error {
		if r.LSN >= m.nextLSN {
			m.nextLSN = r.LSN + 1
		}
		return nil
	}); err != nil {
		_ = f.Close()
		return nil, err
	}

	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		_ = f.Close()
		return nil, storageerr.New(op, storageerr.IoError, err)
	}
	m.w = bufio.NewWriter(f)

	if mode == SyncPeriodic {
		m.stopPeriodic = make(chan struct{})
		m.periodicDone = make(chan struct{})
		go m.runPeriodicFlush(defaultFlushInterval)
	}
	return m, nil
}

// runPeriodicFlush force-flushes on a fixed interval until stopPeriodic is
// closed. Flush errors are swallowed here; the next AppendX call or an
// explicit ForceFlush will surface the same underlying I/O failure.
func (m *Manager) runPeriodicFlush(interval time.Duration) {
	defer close(m.periodicDone)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			m.mu.Lock()
			_ = m.forceFlushLocked()
			m.mu.Unlock()
		case <-m.stopPeriodic:
			return
		}
	}
}

func encodeU64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}

func encodeU32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

func encodeBytes(buf []byte, b []byte) []byte {
	buf = encodeU32(buf, uint32(len(b)))
	return append(buf, b...)
}

func (r *Record) encodePayload() []byte {
	buf := make([]byte, 0, 64)
	buf = encodeU64(buf, r.LSN)
	buf = encodeU64(buf, r.TxnID)
	buf = encodeU64(buf, r.PrevLSN)
	buf = append(buf, byte(r.Kind))

	switch r.Kind {
	case KindUpdate:
		buf = encodeU64(buf, r.PageID)
		buf = encodeU32(buf, r.Offset)
		buf = encodeBytes(buf, r.Before)
		buf = encodeBytes(buf, r.After)
	case KindCLR:
		buf = encodeU64(buf, r.PageID)
		buf = encodeU32(buf, r.Offset)
		buf = encodeBytes(buf, r.Before)
		buf = encodeU64(buf, r.UndoNextLS)
	case KindCheckpoint:
		buf = encodeU32(buf, uint32(len(r.ActiveTxns)))
		for _, t := range r.ActiveTxns {
			buf = encodeU64(buf, t)
		}
	case KindPut:
		buf = encodeBytes(buf, r.Key)
		buf = encodeBytes(buf, r.Value)
	case KindDelete:
		buf = encodeBytes(buf, r.Key)
	case KindBegin, KindCommit, KindAbort:
		// header only
	}
	return buf
}

func (m *Manager) append(r Record) (uint64, error) {
	const op = "wal.append"
	m.mu.Lock()
	defer m.mu.Unlock()

	r.LSN = m.nextLSN
	payload := r.encodePayload()

	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)))

	if _, err := m.w.Write(lenBuf[:]); err != nil {
		return 0, storageerr.New(op, storageerr.IoError, err)
	}
	if _, err := m.w.Write(payload); err != nil {
		return 0, storageerr.New(op, storageerr.IoError, err)
	}
	m.nextLSN++

	if m.syncMode == SyncEveryWrite {
		if err := m.forceFlushLocked(); err != nil {
			return 0, err
		}
	}
	return r.LSN, nil
}

// AppendBegin appends a Begin record for txnID.
func (m *Manager) AppendBegin(txnID uint64) (uint64, error) {
	return m.append(Record{TxnID: txnID, Kind: KindBegin})
}

// AppendCommit appends a Commit record for txnID.
func (m *Manager) AppendCommit(txnID uint64) (uint64, error) {
	return m.append(Record{TxnID: txnID, Kind: KindCommit})
}

// AppendAbort appends an Abort record for txnID.
func (m *Manager) AppendAbort(txnID uint64) (uint64, error) {
	return m.append(Record{TxnID: txnID, Kind: KindAbort})
}

// AppendUpdate appends an Update record describing a physical page change.
func (m *Manager) AppendUpdate(txnID, prevLSN, pageID uint64, offset uint32, before, after []byte) (uint64, error) {
	return m.append(Record{TxnID: txnID, PrevLSN: prevLSN, Kind: KindUpdate, PageID: pageID, Offset: offset, Before: before, After: after})
}

// AppendCLR appends a compensation log record.
func (m *Manager) AppendCLR(txnID, prevLSN, pageID uint64, offset uint32, undoImage []byte, undoNextLSN uint64) (uint64, error) {
	return m.append(Record{TxnID: txnID, PrevLSN: prevLSN, Kind: KindCLR, PageID: pageID, Offset: offset, Before: undoImage, UndoNextLS: undoNextLSN})
}

// AppendCheckpoint appends a Checkpoint record listing active txn ids.
func (m *Manager) AppendCheckpoint(activeTxns []uint64) (uint64, error) {
	return m.append(Record{Kind: KindCheckpoint, ActiveTxns: activeTxns})
}

// AppendPut appends a data-path Put record.
func (m *Manager) AppendPut(key, value []byte) (uint64, error) {
	return m.append(Record{Kind: KindPut, Key: key, Value: value})
}

// AppendDelete appends a data-path Delete (tombstone) record.
func (m *Manager) AppendDelete(key []byte) (uint64, error) {
	return m.append(Record{Kind: KindDelete, Key: key})
}

func (m *Manager) forceFlushLocked() error {
	const op = "wal.ForceFlush"
	if err := m.w.Flush(); err != nil {
		return storageerr.New(op, storageerr.IoError, err)
	}
	if m.syncMode != SyncNone {
		if err := m.f.Sync(); err != nil {
			return storageerr.New(op, storageerr.IoError, err)
		}
	}
	return nil
}

// ForceFlush drains buffered writes to the OS and, unless the sync mode is
// SyncNone, requests a durability barrier.
func (m *Manager) ForceFlush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.forceFlushLocked()
}

// decodePayload parses a record's payload (without the length prefix).
func decodePayload(b []byte) (Record, error) {
	if len(b) < headerSize {
		return Record{}, errors.New("wal: truncated record header")
	}
	var r Record
	r.LSN = binary.LittleEndian.Uint64(b[0:8])
	r.TxnID = binary.LittleEndian.Uint64(b[8:16])
	r.PrevLSN = binary.LittleEndian.Uint64(b[16:24])
	r.Kind = Kind(b[24])
	rest := b[headerSize:]

	readU64 := func() (uint64, error) {
		if len(rest) < 8 {
			return 0, errors.New("wal: truncated field")
		}
		v := binary.LittleEndian.Uint64(rest[:8])
		rest = rest[8:]
		return v, nil
	}
	readU32 := func() (uint32, error) {
		if len(rest) < 4 {
			return 0, errors.New("wal: truncated field")
		}
		v := binary.LittleEndian.Uint32(rest[:4])
		rest = rest[4:]
		return v, nil
	}
	readBytes := func() ([]byte, error) {
		n, err := readU32()
		if err != nil {
			return nil, err
		}
		if uint32(len(rest)) < n {
			return nil, errors.New("wal: truncated bytes field")
		}
		v := rest[:n]
		rest = rest[n:]
		return v, nil
	}

	var err error
	switch r.Kind {
	case KindUpdate:
		if r.PageID, err = readU64(); err != nil {
			return r, err
		}
		if r.Offset, err = readU32(); err != nil {
			return r, err
		}
		if r.Before, err = readBytes(); err != nil {
			return r, err
		}
		if r.After, err = readBytes(); err != nil {
			return r, err
		}
	case KindCLR:
		if r.PageID, err = readU64(); err != nil {
			return r, err
		}
		if r.Offset, err = readU32(); err != nil {
			return r, err
		}
		if r.Before, err = readBytes(); err != nil {
			return r, err
		}
		if r.UndoNextLS, err = readU64(); err != nil {
			return r, err
		}
	case KindCheckpoint:
		n, err := readU32()
		if err != nil {
			return r, err
		}
		r.ActiveTxns = make([]uint64, 0, n)
		for i := uint32(0); i < n; i++ {
			v, err := readU64()
			if err != nil {
				return r, err
			}
			r.ActiveTxns = append(r.ActiveTxns, v)
		}
	case KindPut:
		if r.Key, err = readBytes(); err != nil {
			return r, err
		}
		if r.Value, err = readBytes(); err != nil {
			return r, err
		}
	case KindDelete:
		if r.Key, err = readBytes(); err != nil {
			return r, err
		}
	case KindBegin, KindCommit, KindAbort:
	default:
		return r, errors.New("wal: unknown record kind")
	}
	return r, nil
}

// ScanForward replays every record with LSN >= fromLSN in file order,
// invoking cb for each. A length-prefix truncated at a record boundary
// (a short or missing tail) is treated as the recoverable end of the log;
// a truncation inside a record's declared length is Corruption.
func (m *Manager) ScanForward(fromLSN uint64, cb func(Record) error) error {
	const op = "wal.ScanForward"
	f, err := os.Open(m.pathForScan())
	if err != nil {
		return storageerr.New(op, storageerr.IoError, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	for {
		var lenBuf [4]byte
		n, err := io.ReadFull(r, lenBuf[:])
		if err != nil {
			if n == 0 && errors.Is(err, io.EOF) {
				return nil
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return nil // partial length prefix: recoverable truncation
			}
			return storageerr.New(op, storageerr.IoError, err)
		}
		payloadLen := binary.LittleEndian.Uint32(lenBuf[:])
		payload := make([]byte, payloadLen)
		if _, err := io.ReadFull(r, payload); err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
				return storageerr.New(op, storageerr.Corruption, errors.New("record truncated inside its declared length"))
			}
			return storageerr.New(op, storageerr.IoError, err)
		}

		rec, err := decodePayload(payload)
		if err != nil {
			return storageerr.New(op, storageerr.Corruption, err)
		}
		if rec.LSN < fromLSN {
			continue
		}
		if err := cb(rec); err != nil {
			return err
		}
	}
}

// ScanBackward is reserved; v1 only requires forward recovery scans.
func (m *Manager) ScanBackward(uint64, func(Record) error) error {
	return storageerr.New("wal.ScanBackward", storageerr.Unimplemented, nil)
}

// GetLogRecord scans the file for the record with the given LSN. O(file);
// an offset index is not required by the spec.
func (m *Manager) GetLogRecord(lsn uint64) (Record, bool, error) {
	var found Record
	ok := false
	err := m.ScanForward(lsn, func(r Record) error {
		if !ok && r.LSN == lsn {
			found = r
			ok = true
		}
		return nil
	})
	return found, ok, err
}

func (m *Manager) pathForScan() string { return m.f.Name() }

// Close stops the periodic-flush goroutine (if running), flushes, and
// closes the WAL file.
func (m *Manager) Close() error {
	const op = "wal.Close"
	if m.stopPeriodic != nil {
		close(m.stopPeriodic)
		<-m.periodicDone
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.forceFlushLocked(); err != nil {
		return err
	}
	if err := m.f.Close(); err != nil {
		return storageerr.New(op, storageerr.IoError, err)
	}
	return nil
}
