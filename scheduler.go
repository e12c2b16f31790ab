package surfcache

import "sort"

// sortRequests orders a request class by ascending priority with a
// full tie-break chain so equal-priority requests schedule in the same
// order every frame.
func sortRequests(reqs []surfaceCacheRequest) {
	sort.SliceStable(reqs, func(a, b int) bool {
		ra, rb := &reqs[a], &reqs[b]
		if ra.priority != rb.priority {
			return ra.priority < rb.priority
		}
		if ra.card != rb.card {
			return ra.card < rb.card
		}
		if ra.resLevel != rb.resLevel {
			return ra.resLevel < rb.resLevel
		}
		return ra.pageIndex < rb.pageIndex
	})
}

// runScheduler admits this frame's capture requests against three
// budgets: the per-frame capture page cap, the transient capture atlas
// capacity, and the physical atlas (with eviction).
//
// Locked requests run strictly before hi-res ones and may force-evict
// allocations touched this frame; hi-res requests only take what
// normal LRU eviction can free. A dropped request costs nothing: the
// evaluator re-derives it next frame from card state.
func (s *Scene) runScheduler(requests []surfaceCacheRequest, dirty *dirtyCardSet, stats *UpdateStats) []captureJob {
	var locked, hiRes []surfaceCacheRequest
	for i := range requests {
		if requests[i].locked {
			locked = append(locked, requests[i])
		} else {
			hiRes = append(hiRes, requests[i])
		}
	}
	stats.LockedRequests = len(locked)
	stats.HiResRequests = len(hiRes)
	sortRequests(locked)
	sortRequests(hiRes)

	s.captureAtlas.Reset()
	budget := s.cfg.MaxCapturePagesPerFrame

	var jobs []captureJob
	for i := range locked {
		jobs = s.scheduleLocked(&locked[i], jobs, budget, dirty, stats)
	}
	for i := range hiRes {
		jobs = s.scheduleHiRes(&hiRes[i], jobs, budget, dirty, stats)
	}
	return jobs
}

// scheduleLocked places one locked-mip request: evicts until the whole
// level fits, reallocates the card's base residency, and queues every
// newly mapped page for capture.
func (s *Scene) scheduleLocked(req *surfaceCacheRequest, jobs []captureJob, budget int, dirty *dirtyCardSet, stats *UpdateStats) []captureJob {
	card := s.cards.at(req.card)
	ext := cardMipExtent(card.halfExtents, req.resLevel)
	needed := int(ext.pages() - card.mip(req.resLevel).mappedPages)
	if needed <= 0 {
		// Level mapping matches but the lock was elsewhere; realloc
		// still moves the lock and frees the old base.
		if _, ok := s.alloc.reallocVirtualSurface(req.card, card, req.resLevel, dirty); !ok {
			stats.RequestsDropped++
		}
		return jobs
	}

	if stats.PagesCaptured+needed > budget {
		stats.RequestsDropped++
		return jobs
	}
	if !s.captureAtlas.IsSpaceAvailable(int32(needed)) {
		stats.CaptureAtlasOverflows++
		stats.RequestsDropped++
		return jobs
	}
	if !s.evictForSpace(card, req.resLevel, false, true, dirty, stats) {
		stats.RequestsDropped++
		return jobs
	}

	newPages, ok := s.alloc.reallocVirtualSurface(req.card, card, req.resLevel, dirty)
	if !ok {
		stats.RequestsDropped++
	}
	for _, p := range newPages {
		jobs = s.appendCaptureJob(jobs, req.card, card, req.resLevel, p.x, p.y, stats)
	}
	return jobs
}

// scheduleHiRes places one optional single-page request. Hi-res pages
// never force-evict: they yield to anything still in use this frame.
func (s *Scene) scheduleHiRes(req *surfaceCacheRequest, jobs []captureJob, budget int, dirty *dirtyCardSet, stats *UpdateStats) []captureJob {
	if stats.PagesCaptured+1 > budget {
		stats.RequestsDropped++
		return jobs
	}
	if !s.captureAtlas.IsSpaceAvailable(1) {
		stats.CaptureAtlasOverflows++
		stats.RequestsDropped++
		return jobs
	}
	card := s.cards.at(req.card)
	if !s.evictForSpace(card, req.resLevel, true, false, dirty, stats) {
		stats.RequestsDropped++
		return jobs
	}
	mapped, ok := s.alloc.mapOptionalPage(req.card, card, req.resLevel, req.pageIndex)
	if !ok {
		stats.RequestsDropped++
		return jobs
	}
	if !mapped {
		return jobs
	}
	dirty.add(req.card)
	ext := cardMipExtent(card.halfExtents, req.resLevel)
	px := req.pageIndex % ext.pagesX
	py := req.pageIndex / ext.pagesX
	return s.appendCaptureJob(jobs, req.card, card, req.resLevel, px, py, stats)
}

// evictForSpace frees physical pages until the request fits. The
// normal pass respects semi-protection; allowForce escalates to
// reclaiming pages touched this frame, reserved for locked-mip
// placement.
func (s *Scene) evictForSpace(card *Card, level int32, singlePage, allowForce bool, dirty *dirtyCardSet, stats *UpdateStats) bool {
	for !s.alloc.isPhysicalSpaceAvailable(card, level, singlePage) {
		if s.alloc.evictOldestAllocation(false, &s.cards, dirty, stats) {
			continue
		}
		if !allowForce || !s.alloc.evictOldestAllocation(true, &s.cards, dirty, stats) {
			return false
		}
	}
	return true
}

// appendCaptureJob reserves a staging rectangle and emits the capture
// job for one freshly mapped page. Space in the capture atlas was
// checked before mapping, so Allocate cannot fail here.
func (s *Scene) appendCaptureJob(jobs []captureJob, ci CardIndex, card *Card, level, px, py int32, stats *UpdateStats) []captureJob {
	ext := cardMipExtent(card.halfExtents, level)
	w, h := ext.pageTexels(px, py)

	mip := card.mip(level)
	pteIdx := mip.pageTable[py*ext.pagesX+px]
	atlasRect := s.alloc.pte(pteIdx).Atlas

	stats.PagesCaptured++
	return append(jobs, captureJob{
		card:        ci,
		resLevel:    level,
		pageX:       px,
		pageY:       py,
		captureRect: s.captureAtlas.Allocate(w, h),
		atlasRect:   atlasRect,
	})
}
