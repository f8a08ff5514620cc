// Package buffer implements the fixed-size buffer pool manager
// (SPEC_FULL.md §4.4): a bounded set of page frames backed by
// diskmanager, with LRU-K eviction, pin-count safety, and dirty-page
// writeback.
package buffer

import (
	"sync"

	"github.com/guycipher/vectorkv/diskmanager"
	"github.com/guycipher/vectorkv/page"
	"github.com/guycipher/vectorkv/replacer"
	"github.com/guycipher/vectorkv/storageerr"
)

// Stats holds the counters exposed to hosts per SPEC_FULL.md §6.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Flushes   uint64
}

// HitRate returns Hits/(Hits+Misses), or 0 when there have been no fetches.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

type frame struct {
	page  *page.Page
	id    uint64
	valid bool
}

// Pool is a fixed pool of page frames with a page table, free list, and
// LRU-K-driven eviction. All exported methods are safe for concurrent use;
// a single reader/writer lock guards the page table and free list, as
// specified in SPEC_FULL.md §4.4.
type Pool struct {
	mu sync.RWMutex

	disk     *diskmanager.Manager
	replacer *replacer.LRUK

	frames   []frame
	pageTbl  map[uint64]int // page id -> frame index
	freeList []int

	hits, misses, evictions, flushes uint64
}

// New builds a pool of poolSize frames over disk, using LRU-K with the
// given k.
func New(disk *diskmanager.Manager, poolSize, k int) *Pool {
	p := &Pool{
		disk:     disk,
		replacer: replacer.New(poolSize, k),
		frames:   make([]frame, poolSize),
		pageTbl:  make(map[uint64]int, poolSize),
		freeList: make([]int, poolSize),
	}
	for i := range p.frames {
		p.frames[i].page = page.New()
		p.freeList[i] = poolSize - 1 - i
	}
	return p
}

// acquireFrame returns a free frame index, or evicts one via the
// replacer, writing it back first if dirty. Caller must hold mu (write
// lock).
func (p *Pool) acquireFrame() (int, error) {
	if n := len(p.freeList); n > 0 {
		idx := p.freeList[n-1]
		p.freeList = p.freeList[:n-1]
		return idx, nil
	}

	victim, ok := p.replacer.Evict()
	if !ok {
		return 0, storageerr.New("buffer.acquireFrame", storageerr.Internal, nil)
	}
	p.evictions++

	fr := &p.frames[victim]
	if fr.valid && fr.page.IsDirty() {
		fr.page.UpdateChecksum()
		if err := p.disk.WritePage(fr.id, fr.page); err != nil {
			// Leave the frame pointing at nothing usable; do not hand
			// back a frame whose writeback failed.
			fr.valid = false
			delete(p.pageTbl, fr.id)
			return 0, err
		}
		fr.page.ClearDirty()
	}
	if fr.valid {
		delete(p.pageTbl, fr.id)
	}
	fr.valid = false
	return victim, nil
}

// FetchPage returns the page for id, reading it from disk on a miss. Nil
// is returned if every frame is pinned, or if the page fails checksum
// verification on read.
func (p *Pool) FetchPage(id uint64) *page.Page {
	p.mu.Lock()
	defer p.mu.Unlock()

	if idx, ok := p.pageTbl[id]; ok {
		fr := &p.frames[idx]
		fr.page.IncrementPinCount()
		p.replacer.RecordAccess(idx)
		p.replacer.Pin(idx)
		p.hits++
		return fr.page
	}

	idx, err := p.acquireFrame()
	if err != nil {
		p.misses++
		return nil
	}

	fr := &p.frames[idx]
	if err := p.disk.ReadPage(id, fr.page); err != nil {
		p.freeList = append(p.freeList, idx)
		p.misses++
		return nil
	}

	fr.id = id
	fr.valid = true
	p.pageTbl[id] = idx
	fr.page.IncrementPinCount()
	p.replacer.RecordAccess(idx)
	p.replacer.Pin(idx)
	p.misses++
	return fr.page
}

// UnpinPage decrements id's pin count and ORs its dirty flag with
// isDirty. When the pin count reaches zero the frame becomes evictable.
// Returns false if the page is not resident or already unpinned.
func (p *Pool) UnpinPage(id uint64, isDirty bool) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	idx, ok := p.pageTbl[id]
	if !ok {
		return false
	}
	fr := &p.frames[idx]
	if fr.page.GetPinCount() == 0 {
		return false
	}
	if isDirty {
		fr.page.MarkDirty()
	}
	fr.page.DecrementPinCount()
	if fr.page.GetPinCount() == 0 {
		p.replacer.Unpin(idx)
	}
	return true
}

// NewPage allocates a fresh page id via disk, pins it in a frame, and
// returns it. The caller must eventually Unpin with dirty=true to
// guarantee persistence.
func (p *Pool) NewPage() (uint64, *page.Page) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id, err := p.disk.AllocatePage()
	if err != nil {
		return 0, nil
	}

	idx, err := p.acquireFrame()
	if err != nil {
		return 0, nil
	}

	fr := &p.frames[idx]
	fr.page.Reset(id)
	fr.page.UpdateChecksum()
	fr.page.MarkDirty()
	fr.id = id
	fr.valid = true
	p.pageTbl[id] = idx
	fr.page.IncrementPinCount()
	p.replacer.RecordAccess(idx)
	p.replacer.Pin(idx)
	return id, fr.page
}

// FlushPage writes id to disk if dirty. No-op (and true) if the page is
// clean or not resident.
func (p *Pool) FlushPage(id uint64) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	idx, ok := p.pageTbl[id]
	if !ok {
		return true
	}
	fr := &p.frames[idx]
	if !fr.page.IsDirty() {
		return true
	}
	fr.page.UpdateChecksum()
	if err := p.disk.WritePage(id, fr.page); err != nil {
		return false
	}
	fr.page.ClearDirty()
	p.flushes++
	return true
}

// FlushAllPages flushes every resident dirty page, then syncs the disk.
func (p *Pool) FlushAllPages() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id, idx := range p.pageTbl {
		fr := &p.frames[idx]
		if !fr.page.IsDirty() {
			continue
		}
		fr.page.UpdateChecksum()
		if err := p.disk.WritePage(id, fr.page); err != nil {
			return false
		}
		fr.page.ClearDirty()
		p.flushes++
	}
	return p.disk.Sync() == nil
}

// DeletePage removes a non-pinned resident page from the pool. The disk
// file itself is not reclaimed (space is append-only by design).
func (p *Pool) DeletePage(id uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx, ok := p.pageTbl[id]
	if !ok {
		return true
	}
	fr := &p.frames[idx]
	if fr.page.GetPinCount() != 0 {
		return false
	}
	delete(p.pageTbl, id)
	fr.valid = false
	p.freeList = append(p.freeList, idx)
	return true
}

// Stats returns a snapshot of the pool's counters.
func (p *Pool) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Stats{Hits: p.hits, Misses: p.misses, Evictions: p.evictions, Flushes: p.flushes}
}
