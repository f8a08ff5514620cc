// Package replacer implements the LRU-K eviction policy used by the buffer
// pool (SPEC_FULL.md §4.3): select a victim frame by maximum backward
// k-distance, where a frame with fewer than k recorded accesses has
// effectively infinite distance (highest eviction priority).
package replacer

import (
	"sort"
	"sync"
)

// history is per-frame bookkeeping: a circular buffer of the k most recent
// access timestamps, the true access count, and whether the frame is
// currently a candidate for eviction.
type history struct {
	timestamps []int64 // circular buffer, length k
	count      int64   // total recorded accesses; only compared against k
	next       int     // next slot to overwrite in timestamps
	evictable  bool
}

// LRUK selects eviction victims among a fixed set of frame indices
// [0, numFrames). It knows nothing about page ids — only frame indices.
type LRUK struct {
	mu      sync.Mutex
	k       int
	frames  map[int]*history
	clock   int64 // logical clock, incremented on every RecordAccess
	evictCt int   // number of currently-evictable frames
}

// New creates a replacer for numFrames frames with backward k-distance k.
func New(numFrames, k int) *LRUK {
	if k < 1 {
		k = 1
	}
	r := &LRUK{
		k:      k,
		frames: make(map[int]*history, numFrames),
	}
	return r
}

func (r *LRUK) entry(frame int) *history {
	h, ok := r.frames[frame]
	if !ok {
		h = &history{timestamps: make([]int64, r.k)}
		r.frames[frame] = h
	}
	return h
}

// RecordAccess notes that frame was just accessed. O(1).
func (r *LRUK) RecordAccess(frame int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.clock++
	h := r.entry(frame)
	h.timestamps[h.next] = r.clock
	h.next = (h.next + 1) % r.k
	h.count++
}

// Pin marks frame non-evictable (a caller currently holds it pinned).
func (r *LRUK) Pin(frame int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h := r.entry(frame)
	if h.evictable {
		h.evictable = false
		r.evictCt--
	}
}

// Unpin marks frame evictable (its pin count just reached zero).
func (r *LRUK) Unpin(frame int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h := r.entry(frame)
	if !h.evictable {
		h.evictable = true
		r.evictCt++
	}
}

// kDistance returns the backward k-distance for h, where "infinite" is
// represented as the max int64 so fewer-than-k-access frames always win a
// max-distance comparison.
func (h *history) kDistance(now int64) int64 {
	if h.count < int64(cap(h.timestamps)) {
		return int64(1<<63 - 1)
	}
	// The oldest of the k recorded timestamps sits at h.next (the slot
	// about to be overwritten next).
	oldest := h.timestamps[h.next]
	return now - oldest
}

// Evict selects and removes the frame with maximum backward k-distance
// among evictable frames, ties broken by lowest frame index. The chosen
// frame is marked non-evictable before return. O(numFrames).
func (r *LRUK) Evict() (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	bestFrame := -1
	var bestDist int64 = -1

	// Deterministic iteration order: ascending frame index, so ties break
	// toward the lowest index without extra bookkeeping.
	frames := make([]int, 0, len(r.frames))
	for f := range r.frames {
		frames = append(frames, f)
	}
	sort.Ints(frames)

	for _, f := range frames {
		h := r.frames[f]
		if !h.evictable {
			continue
		}
		d := h.kDistance(r.clock)
		if d > bestDist {
			bestDist = d
			bestFrame = f
		}
	}

	if bestFrame == -1 {
		return 0, false
	}

	h := r.frames[bestFrame]
	h.evictable = false
	r.evictCt--
	return bestFrame, true
}

// Size returns the number of currently evictable frames.
func (r *LRUK) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.evictCt
}
