package surfcache

// PageTableEntry maps one page of one card mip either to nothing or to
// a physical atlas rectangle. Unmapped entries carry no GPU memory
// cost.
//
// Invariant: Mapped is true if and only if a physical page slot is
// reserved for the entry in the atlas allocator.
type PageTableEntry struct {
	// Card and ResLevel identify the owning mip.
	Card     CardIndex
	ResLevel int32

	// PageX/PageY are the page coordinates inside the mip grid.
	PageX int32
	PageY int32

	// CardUV is the card sub-rectangle this page covers.
	CardUV UVRect

	// Atlas is the physical texel rectangle once mapped.
	Atlas PageRect

	// Mapped reports whether the entry holds a physical page.
	Mapped bool

	// slot is the physical page slot index, InvalidIndex when
	// unmapped.
	slot int32
}

// allocKey identifies one physical allocation unit: the residency of
// one resolution level of one card.
type allocKey struct {
	card  CardIndex
	level int32
}

// pagePos records a newly mapped page for the scheduler's capture
// queue.
type pagePos struct {
	x int32
	y int32
}

// surfaceAllocator is the two-level surface cache allocator: a virtual
// per-card mip-page table over a physical page allocator for the
// fixed-size atlas.
//
// Physical pages are fixed PageTexelSize-square slots tracked by a free
// stack. Unlocked allocations additionally sit in an LRU list keyed by
// (card, level); locked mips never enter the list and therefore never
// evict. All methods run on the sequential allocator stage; the struct
// is not safe for concurrent use.
type surfaceAllocator struct {
	atlasTexels  int32
	pagesPerSide int32
	totalSlots   int32

	// freeSlots is a stack of free physical page slots.
	freeSlots []int32

	// ptes is the page table entry pool; pteFree recycles indices.
	ptes    []PageTableEntry
	pteFree []int32

	// lru orders unlocked allocations by access recency.
	lru      lruList[allocKey]
	lruNodes map[allocKey]*lruNode[allocKey]

	// frame is the monotonic usage counter; pages mapped or touched
	// this frame are semi-protected from non-forced eviction.
	frame uint64

	// scratch for realloc page gathering, reused across calls.
	newlyMapped []pagePos
}

// newSurfaceAllocator creates an allocator for a square atlas of the
// given texel dimension.
func newSurfaceAllocator(atlasTexels int32) *surfaceAllocator {
	a := &surfaceAllocator{}
	a.resize(atlasTexels)
	return a
}

// resize reinitializes the allocator for a new atlas size, dropping
// every allocation. Callers must clear per-card residency themselves:
// page coordinates are atlas-size-relative, so incremental remap is
// deliberately not attempted.
func (a *surfaceAllocator) resize(atlasTexels int32) {
	a.atlasTexels = atlasTexels
	a.pagesPerSide = atlasTexels / PageTexelSize
	a.totalSlots = a.pagesPerSide * a.pagesPerSide

	a.freeSlots = a.freeSlots[:0]
	// Stack order makes the first allocations come from slot 0 upward.
	for s := a.totalSlots - 1; s >= 0; s-- {
		a.freeSlots = append(a.freeSlots, s)
	}
	a.ptes = a.ptes[:0]
	a.pteFree = a.pteFree[:0]
	a.lru.Clear()
	a.lruNodes = make(map[allocKey]*lruNode[allocKey])
}

// physPagesTotal returns the atlas capacity in pages.
func (a *surfaceAllocator) physPagesTotal() int { return int(a.totalSlots) }

// physPagesFree returns the number of unreserved physical pages.
func (a *surfaceAllocator) physPagesFree() int { return len(a.freeSlots) }

// physPagesUsed returns the number of reserved physical pages.
func (a *surfaceAllocator) physPagesUsed() int {
	return int(a.totalSlots) - len(a.freeSlots)
}

// pageTableLen returns the page table entry pool size, the bound for
// GPU page table serialization.
func (a *surfaceAllocator) pageTableLen() int32 { return int32(len(a.ptes)) }

// pte returns the entry at index i.
func (a *surfaceAllocator) pte(i int32) *PageTableEntry { return &a.ptes[i] }

// slotRect converts a physical slot index and page texel size into the
// atlas texel rectangle.
func (a *surfaceAllocator) slotRect(slot, w, h int32) PageRect {
	return PageRect{
		X: (slot % a.pagesPerSide) * PageTexelSize,
		Y: (slot / a.pagesPerSide) * PageTexelSize,
		W: w,
		H: h,
	}
}

// isPhysicalSpaceAvailable answers whether the not-yet-mapped pages of
// the level (or a single page) fit in the free pool without evicting.
func (a *surfaceAllocator) isPhysicalSpaceAvailable(card *Card, level int32, singlePage bool) bool {
	if singlePage {
		return len(a.freeSlots) >= 1
	}
	ext := cardMipExtent(card.halfExtents, level)
	needed := ext.pages() - card.mip(level).mappedPages
	return int32(len(a.freeSlots)) >= needed
}

// allocPTE reserves a page table entry index.
func (a *surfaceAllocator) allocPTE() int32 {
	if n := len(a.pteFree); n > 0 {
		idx := a.pteFree[n-1]
		a.pteFree = a.pteFree[:n-1]
		a.ptes[idx] = PageTableEntry{slot: InvalidIndex}
		return idx
	}
	a.ptes = append(a.ptes, PageTableEntry{slot: InvalidIndex})
	return int32(len(a.ptes) - 1)
}

// freePTE recycles a page table entry index.
func (a *surfaceAllocator) freePTE(idx int32) {
	a.ptes[idx] = PageTableEntry{slot: InvalidIndex}
	a.pteFree = append(a.pteFree, idx)
}

// ensurePageTable lazily sizes a mip's page grid for its level.
func ensurePageTable(mip *SurfaceMipMap, ext mipExtent) {
	if mip.pageTable != nil {
		return
	}
	mip.sizeInPagesX = ext.pagesX
	mip.sizeInPagesY = ext.pagesY
	mip.resX = ext.resX
	mip.resY = ext.resY
	mip.pageTable = make([]int32, ext.pages())
	for i := range mip.pageTable {
		mip.pageTable[i] = InvalidIndex
	}
}

// mapPage reserves a physical slot for page (px, py) of the level.
// The caller guarantees free space. Returns false only when the free
// pool is unexpectedly empty.
func (a *surfaceAllocator) mapPage(ci CardIndex, card *Card, level, px, py int32) bool {
	n := len(a.freeSlots)
	if n == 0 {
		return false
	}
	slot := a.freeSlots[n-1]
	a.freeSlots = a.freeSlots[:n-1]

	ext := cardMipExtent(card.halfExtents, level)
	mip := card.mip(level)
	ensurePageTable(mip, ext)

	w, h := ext.pageTexels(px, py)
	idx := a.allocPTE()
	*a.pte(idx) = PageTableEntry{
		Card:     ci,
		ResLevel: level,
		PageX:    px,
		PageY:    py,
		CardUV:   ext.pageUV(px, py),
		Atlas:    a.slotRect(slot, w, h),
		Mapped:   true,
		slot:     slot,
	}
	mip.pageTable[py*ext.pagesX+px] = idx
	mip.mappedPages++
	mip.lastUsed = a.frame
	return true
}

// touch refreshes the access recency of an unlocked allocation.
func (a *surfaceAllocator) touch(ci CardIndex, card *Card, level int32) {
	card.mip(level).lastUsed = a.frame
	if node, ok := a.lruNodes[allocKey{card: ci, level: level}]; ok {
		a.lru.MoveToFront(node)
	}
}

// trackUnlocked inserts the allocation into the LRU list if absent.
func (a *surfaceAllocator) trackUnlocked(key allocKey) {
	if node, ok := a.lruNodes[key]; ok {
		a.lru.MoveToFront(node)
		return
	}
	a.lruNodes[key] = a.lru.PushFront(key)
}

// untrack removes the allocation from the LRU list.
func (a *surfaceAllocator) untrack(key allocKey) {
	if node, ok := a.lruNodes[key]; ok {
		a.lru.Remove(node)
		delete(a.lruNodes, key)
	}
}

// reallocVirtualSurface grows or shrinks a card's resident mip set so
// that level becomes the locked base: every page of the level is
// mapped and exempt from eviction, and all coarser levels (including a
// previous locked mip at a different level) are freed.
//
// Returns the pages newly mapped by this call, for capture scheduling.
// The slice is allocator-owned scratch, valid until the next call.
// The caller must have ensured physical space; on slot exhaustion the
// level is left partially mapped and ok is false (the next frame
// re-derives and retries).
func (a *surfaceAllocator) reallocVirtualSurface(ci CardIndex, card *Card, level int32, dirty *dirtyCardSet) (newPages []pagePos, ok bool) {
	a.newlyMapped = a.newlyMapped[:0]

	ext := cardMipExtent(card.halfExtents, level)
	mip := card.mip(level)
	ensurePageTable(mip, ext)

	// Lock before mapping so eviction triggered by a later request in
	// the same pass can never select this level.
	mip.locked = true
	a.untrack(allocKey{card: ci, level: level})

	for py := int32(0); py < ext.pagesY; py++ {
		for px := int32(0); px < ext.pagesX; px++ {
			if mip.pageTable[py*ext.pagesX+px] != InvalidIndex {
				continue
			}
			if !a.mapPage(ci, card, level, px, py) {
				dirty.add(ci)
				card.recomputeMinAllocated()
				return a.newlyMapped, false
			}
			a.newlyMapped = append(a.newlyMapped, pagePos{x: px, y: py})
		}
	}
	mip.lastUsed = a.frame

	// Drop the previous locked mip and anything coarser than the new
	// base; those pages are below the card's new minimum.
	if prev := card.lockedResLevel; prev != InvalidIndex && prev != level {
		card.mip(prev).locked = false
		if prev > level {
			// The card got coarser: the old finer locked mip becomes
			// optional detail and joins the LRU instead of being
			// thrown away.
			a.trackUnlocked(allocKey{card: ci, level: prev})
		}
	}
	for lv := int32(MinResLevel); lv < level; lv++ {
		if card.mip(lv).isMapped() {
			a.freeMipLevel(ci, card, lv)
		}
	}

	card.lockedResLevel = level
	card.recomputeMinAllocated()
	dirty.add(ci)
	return a.newlyMapped, true
}

// mapOptionalPage maps one page of an optional hi-res level. Returns
// whether the page is newly mapped (false when already resident, which
// only refreshes recency).
func (a *surfaceAllocator) mapOptionalPage(ci CardIndex, card *Card, level, pageIndex int32) (mapped bool, ok bool) {
	ext := cardMipExtent(card.halfExtents, level)
	mip := card.mip(level)
	ensurePageTable(mip, ext)

	if pageIndex < 0 || pageIndex >= ext.pages() {
		return false, false
	}
	key := allocKey{card: ci, level: level}
	if mip.pageTable[pageIndex] != InvalidIndex {
		a.touch(ci, card, level)
		return false, true
	}
	px := pageIndex % ext.pagesX
	py := pageIndex / ext.pagesX
	if !a.mapPage(ci, card, level, px, py) {
		return false, false
	}
	a.trackUnlocked(key)
	card.recomputeMinAllocated()
	return true, true
}

// freeMipLevel unmaps every page of one level and returns its physical
// slots to the free pool.
func (a *surfaceAllocator) freeMipLevel(ci CardIndex, card *Card, level int32) {
	mip := card.mip(level)
	if mip.pageTable == nil {
		return
	}
	for i, pteIdx := range mip.pageTable {
		if pteIdx == InvalidIndex {
			continue
		}
		entry := a.pte(pteIdx)
		a.freeSlots = append(a.freeSlots, entry.slot)
		a.freePTE(pteIdx)
		mip.pageTable[i] = InvalidIndex
	}
	mip.mappedPages = 0
	mip.locked = false
	a.untrack(allocKey{card: ci, level: level})
}

// freeVirtualSurface unmaps all page table entries of the card in the
// inclusive resolution level range.
func (a *surfaceAllocator) freeVirtualSurface(ci CardIndex, card *Card, fromLevel, toLevel int32) {
	if fromLevel < MinResLevel {
		fromLevel = MinResLevel
	}
	if toLevel > MaxResLevel {
		toLevel = MaxResLevel
	}
	for lv := fromLevel; lv <= toLevel; lv++ {
		a.freeMipLevel(ci, card, lv)
	}
	if card.lockedResLevel >= fromLevel && card.lockedResLevel <= toLevel {
		card.lockedResLevel = InvalidIndex
	}
	card.recomputeMinAllocated()
}

// evictOldestAllocation removes the least-recently-used unlocked
// allocation. Allocations touched this frame are semi-protected and
// reclaimed only under forceEvict, which is reserved for locked-mip
// placement. Locked mips are never in the list and never evict.
//
// The evicted card joins the dirty set; evictions are never silently
// dropped from bookkeeping. Returns false when nothing evictable
// remains.
func (a *surfaceAllocator) evictOldestAllocation(forceEvict bool, store *cardStore, dirty *dirtyCardSet, stats *UpdateStats) bool {
	for node := a.lru.Oldest(); node != nil; {
		prev := node.prev
		key := node.key
		card := store.at(key.card)
		mip := card.mip(key.level)

		if !forceEvict && mip.lastUsed == a.frame {
			node = prev
			continue
		}

		pages := int(mip.mappedPages)
		a.freeMipLevel(key.card, card, key.level)
		card.recomputeMinAllocated()
		dirty.add(key.card)
		if stats != nil {
			stats.PagesEvicted += pages
		}
		Logger().Debug("surfcache: evicted allocation",
			"card", key.card, "resLevel", key.level, "pages", pages)
		return true
	}
	return false
}

// freeAllCardResidency drops every allocation of a card, for removal
// or hiding.
func (a *surfaceAllocator) freeAllCardResidency(ci CardIndex, card *Card) {
	a.freeVirtualSurface(ci, card, MinResLevel, MaxResLevel)
	card.lockedResLevel = InvalidIndex
}
