// Package page defines the fixed-size, self-describing disk frame used by
// the diskmanager and buffer pool. Layout follows the on-disk format in
// SPEC_FULL.md §3: a 64-byte header (page id, LSN, pin count, dirty flag,
// CRC32) followed by 4032 bytes of payload.
package page

import (
	"encoding/binary"
	"hash/crc32"
)

const (
	Size       = 4096 // total on-disk frame size
	HeaderSize = 64
	DataSize   = Size - HeaderSize

	// InvalidID marks an unallocated / superblock-adjacent page id.
	InvalidID uint64 = 0

	offsetID       = 0
	offsetLSN      = 8
	offsetPinCount = 16
	offsetDirty    = 20
	offsetCRC      = 24
	// bytes [28, 64) of the header are reserved padding for future
	// format revisions (e.g. a version/options field living on the
	// superblock); they are zeroed and covered by the CRC.
)

// Page is a single 4096-byte frame. The zero value is an all-zero page
// (id InvalidID) whose stored checksum has not been computed.
type Page struct {
	buf [Size]byte
}

// New returns a pointer to an all-zero page, ready for
// Reset/UpdateChecksum by a caller that owns a fresh allocation.
func New() *Page {
	return &Page{}
}

// Reset zeroes the payload and header and stamps id into the header. The
// caller must call UpdateChecksum before the page is written to disk.
func (p *Page) Reset(id uint64) {
	for i := range p.buf {
		p.buf[i] = 0
	}
	binary.LittleEndian.PutUint64(p.buf[offsetID:], id)
}

// Bytes returns the full 4096-byte on-disk representation.
func (p *Page) Bytes() []byte { return p.buf[:] }

// LoadBytes overwrites the page's contents from a 4096-byte buffer read
// from disk. Panics if src is not exactly Size bytes — callers must ensure
// a full-page read before calling this.
func (p *Page) LoadBytes(src []byte) {
	if len(src) != Size {
		panic("page: LoadBytes requires exactly Size bytes")
	}
	copy(p.buf[:], src)
}

func (p *Page) ID() uint64 {
	return binary.LittleEndian.Uint64(p.buf[offsetID:])
}

func (p *Page) SetID(id uint64) {
	binary.LittleEndian.PutUint64(p.buf[offsetID:], id)
}

func (p *Page) GetLSN() uint64 {
	return binary.LittleEndian.Uint64(p.buf[offsetLSN:])
}

func (p *Page) SetLSN(lsn uint64) {
	binary.LittleEndian.PutUint64(p.buf[offsetLSN:], lsn)
}

func (p *Page) GetPinCount() uint32 {
	return binary.LittleEndian.Uint32(p.buf[offsetPinCount:])
}

func (p *Page) setPinCount(v uint32) {
	binary.LittleEndian.PutUint32(p.buf[offsetPinCount:], v)
}

// IncrementPinCount increases the pin count by one.
func (p *Page) IncrementPinCount() {
	p.setPinCount(p.GetPinCount() + 1)
}

// DecrementPinCount decreases the pin count by one; no-op at zero.
func (p *Page) DecrementPinCount() {
	if c := p.GetPinCount(); c > 0 {
		p.setPinCount(c - 1)
	}
}

func (p *Page) IsDirty() bool {
	return p.buf[offsetDirty] != 0
}

func (p *Page) MarkDirty() {
	p.buf[offsetDirty] = 1
}

func (p *Page) ClearDirty() {
	p.buf[offsetDirty] = 0
}

// Data returns the mutable 4032-byte payload region.
func (p *Page) Data() []byte {
	return p.buf[HeaderSize:]
}

// checksumDomain hashes bytes [8, Size) excluding the 4-byte CRC field
// itself at [offsetCRC, offsetCRC+4) — the page id's 8 bytes are excluded
// so that re-stamping an id (during allocation reuse) does not by itself
// invalidate the page's content hash, and the CRC field is excluded so
// that storing the sum doesn't change the bytes the sum was computed over.
func (p *Page) checksumDomain() uint32 {
	h := crc32.NewIEEE()
	h.Write(p.buf[offsetID+8 : offsetCRC])
	h.Write(p.buf[offsetCRC+4:])
	return h.Sum32()
}

// UpdateChecksum recomputes and stores the CRC32 over the page's checksum
// domain.
func (p *Page) UpdateChecksum() {
	sum := p.checksumDomain()
	binary.LittleEndian.PutUint32(p.buf[offsetCRC:], sum)
}

// VerifyChecksum recomputes the CRC32 over the page's checksum domain and
// compares it to the stored value. This is the only trusted test of page
// integrity after a read.
func (p *Page) VerifyChecksum() bool {
	sum := p.checksumDomain()
	stored := binary.LittleEndian.Uint32(p.buf[offsetCRC:])
	return sum == stored
}
