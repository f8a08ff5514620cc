// Package bloom implements the probabilistic membership filter embedded in
// every SSTable (SPEC_FULL.md §4.7 / §3 "Bloom filter"). It keeps the
// teacher bloomfilter package's double-hashing approach and its murmur
// dependency, but replaces the bool-slice + map bookkeeping with a packed
// bit array (github.com/bits-and-blooms/bitset, grounded in
// PriyanshuSharma23-FlashLog/go.mod) and the exact wire format the spec
// requires: 8-byte M (bits) + 8-byte K + byte-packed bits.
package bloom

import (
	"encoding/binary"

	"github.com/bits-and-blooms/bitset"

	"github.com/guycipher/vectorkv/murmur"
)

// salt is fixed and public: it only needs to differ from zero so h2 is a
// distinct hash family from h1, not to be secret.
var salt = []byte{0x5b, 0x7f, 0xe1, 0x9a, 0x13, 0xd4, 0x6c, 0x02}

// Filter is a Bloom filter over an M-bit array with K double-hashed probe
// slots per key.
type Filter struct {
	bits *bitset.BitSet
	m    uint64
	k    uint64
}

// New builds a filter sized for n expected keys at bitsPerKey density
// (recommended ~10) using k hash slots (recommended 3). M is rounded up to
// a byte boundary.
func New(n int, bitsPerKey, k int) *Filter {
	if bitsPerKey < 1 {
		bitsPerKey = 10
	}
	if k < 1 {
		k = 3
	}
	if n < 1 {
		n = 1
	}
	m := uint64(n * bitsPerKey)
	if rem := m % 8; rem != 0 {
		m += 8 - rem
	}
	if m == 0 {
		m = 8
	}
	return &Filter{bits: bitset.New(uint(m)), m: m, k: uint64(k)}
}

func (f *Filter) indices(key []byte) []uint64 {
	h1 := murmur.Hash64(key, 0)
	h2 := murmur.Hash64(append(append([]byte{}, key...), salt...), 0)

	idx := make([]uint64, f.k)
	for i := uint64(0); i < f.k; i++ {
		idx[i] = (h1 + i*h2) % f.m
	}
	return idx
}

// Add records key in the filter.
func (f *Filter) Add(key []byte) {
	for _, i := range f.indices(key) {
		f.bits.Set(uint(i))
	}
}

// MayContain reports whether key might be present. False means definitely
// absent; true means maybe present (subject to the filter's
// false-positive rate).
func (f *Filter) MayContain(key []byte) bool {
	for _, i := range f.indices(key) {
		if !f.bits.Test(uint(i)) {
			return false
		}
	}
	return true
}

// Serialize encodes the filter as 8-byte M + 8-byte K + byte-packed bits.
func (f *Filter) Serialize() []byte {
	nbytes := (f.m + 7) / 8
	out := make([]byte, 16+nbytes)
	binary.LittleEndian.PutUint64(out[0:8], f.m)
	binary.LittleEndian.PutUint64(out[8:16], f.k)

	packBitsetBytes(out[16:], f.bits, f.m)
	return out
}

// packBitsetBytes writes m bits from bs into dst, byte 0 holding bits
// [0,8), matching the teacher bloomfilter's bit-per-byte iteration order
// but packed 8 bits per output byte as the spec's wire format requires.
func packBitsetBytes(dst []byte, bs *bitset.BitSet, m uint64) {
	for i := uint64(0); i < m; i++ {
		if bs.Test(uint(i)) {
			dst[i/8] |= 1 << (i % 8)
		}
	}
}

// maxSaneBits bounds M during Deserialize so a corrupt or legacy length
// field can't trigger a multi-gigabyte allocation.
const maxSaneBits = 1 << 32

// Deserialize parses a filter previously produced by Serialize. Returns
// nil (not an error) when the header fields fail sanity checks, matching
// the SSTable reader's "Bloom section is optional for backward
// compatibility" contract: callers fall back to operating without a
// filter rather than failing the whole read.
func Deserialize(data []byte) *Filter {
	if len(data) < 16 {
		return nil
	}
	m := binary.LittleEndian.Uint64(data[0:8])
	k := binary.LittleEndian.Uint64(data[8:16])
	if m == 0 || m > maxSaneBits || k == 0 || k > 64 {
		return nil
	}
	nbytes := (m + 7) / 8
	if uint64(len(data)-16) < nbytes {
		return nil
	}

	bits := bitset.New(uint(m))
	body := data[16 : 16+nbytes]
	for i := uint64(0); i < m; i++ {
		if body[i/8]&(1<<(i%8)) != 0 {
			bits.Set(uint(i))
		}
	}
	return &Filter{bits: bits, m: m, k: k}
}
