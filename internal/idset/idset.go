// Package idset adapts the teacher's hashset package (bucket-array with
// murmur hashing and load-factor-triggered resize) to a uint64 key
// domain. The manifest package uses it to replay ADD/REMOVE records into
// the live SSTable id set without the overhead of boxing every id through
// an interface{}-keyed map, while keeping the teacher's bucket/resize
// shape instead of reaching for a bare Go map.
package idset

import (
	"sort"

	"github.com/guycipher/vectorkv/murmur"
)

const initialCapacity = 32
const loadFactorThreshold = 0.7

// Set is an open, resizable hash set of uint64 ids.
type Set struct {
	buckets  [][]uint64
	size     int
	capacity int
}

// New returns an empty Set.
func New() *Set {
	return &Set{buckets: make([][]uint64, initialCapacity), capacity: initialCapacity}
}

func (s *Set) hash(id uint64, capacity int) int {
	var key [8]byte
	for i := 0; i < 8; i++ {
		key[i] = byte(id >> (8 * i))
	}
	return int(murmur.Hash64(key[:], 4) % uint64(capacity))
}

// Add inserts id, a no-op if already present.
func (s *Set) Add(id uint64) {
	idx := s.hash(id, s.capacity)
	for _, v := range s.buckets[idx] {
		if v == id {
			return
		}
	}
	s.buckets[idx] = append(s.buckets[idx], id)
	s.size++
	if float64(s.size)/float64(s.capacity) > loadFactorThreshold {
		s.resize()
	}
}

func (s *Set) resize() {
	newCapacity := s.capacity * 2
	newBuckets := make([][]uint64, newCapacity)
	for _, bucket := range s.buckets {
		for _, id := range bucket {
			idx := s.hash(id, newCapacity)
			newBuckets[idx] = append(newBuckets[idx], id)
		}
	}
	s.buckets = newBuckets
	s.capacity = newCapacity
}

// Remove deletes id, a no-op if absent.
func (s *Set) Remove(id uint64) {
	idx := s.hash(id, s.capacity)
	for i, v := range s.buckets[idx] {
		if v == id {
			s.buckets[idx] = append(s.buckets[idx][:i], s.buckets[idx][i+1:]...)
			s.size--
			return
		}
	}
}

// Contains reports whether id is a member.
func (s *Set) Contains(id uint64) bool {
	idx := s.hash(id, s.capacity)
	for _, v := range s.buckets[idx] {
		if v == id {
			return true
		}
	}
	return false
}

// Len returns the current member count.
func (s *Set) Len() int {
	return s.size
}

// SortedSlice returns every member in ascending order.
func (s *Set) SortedSlice() []uint64 {
	out := make([]uint64, 0, s.size)
	for _, bucket := range s.buckets {
		out = append(out, bucket...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
