package surfcache

import (
	"cogentcore.org/core/math32"
	scalar "github.com/chewxy/math32"

	"github.com/gogpu/surfcache/internal/parallel"
)

// resolutionChunk is the private output of one card evaluation chunk.
// Card field writes happen in place (disjoint per card); everything
// that feeds shared structures is gathered here and merged in chunk
// order.
type resolutionChunk struct {
	requests []surfaceCacheRequest
	touches  []allocKey
	hides    []CardIndex
	visible  int
}

// desiredCardResolution derives a card's target resolution level from
// its projected on-screen size. Returns the level and whether the card
// is large enough to be visible at all.
func (s *Scene) desiredCardResolution(card *Card, camera math32.Vector3) (int32, bool) {
	if card.distantScene {
		// Distant-scene cards are the final fallback representation;
		// they stay resident at the floor resolution regardless of
		// distance.
		return MinResLevel, true
	}

	local := card.localPoint(camera)
	dist := scalar.Max(card.localBounds().DistanceToPoint(local), 1)

	extent := card.maxPlaneExtent()
	projected := s.cfg.TexelDensityScale * extent * card.resolutionScale / dist
	if maxTexels := s.cfg.MaxTexelDensity * extent; projected > maxTexels {
		projected = maxTexels
	}
	// Cap before converting: huge nearby geometry can project to more
	// texels than int32 holds.
	if ceiling := float32(int32(1) << MaxResLevel); projected > ceiling {
		projected = ceiling
	}

	snapped := nextPow2(int32(scalar.Ceil(projected)))
	if snapped < MinCardTexels {
		return InvalidIndex, false
	}

	level := int32(MinResLevel)
	for (int32(1) << level) < snapped {
		level++
	}
	if level > MaxResLevel {
		level = MaxResLevel
	}
	return level, true
}

// lockedTargetLevel caps the desired level at the always-resident tier.
func lockedTargetLevel(desired int32) int32 {
	if desired > MaxLockedResLevel {
		return MaxLockedResLevel
	}
	return desired
}

// reallocPriority is the scheduling priority of a locked-mip request:
// the view distance, pushed back by a hysteresis penalty when the card
// already has a usable locked mip and the resolution change is small.
// One-level flips near a snapping boundary thus lose to fresh captures
// and large corrections instead of churning the atlas every frame.
func (s *Scene) reallocPriority(card *Card, dist float32, target int32) float32 {
	if card.lockedResLevel == InvalidIndex {
		return dist
	}
	delta := target - card.lockedResLevel
	if delta < 0 {
		delta = -delta
	}
	urgency := float32(delta+1) / s.cfg.HysteresisDeltaDivisor
	if urgency > 1 {
		urgency = 1
	}
	return dist + (1-urgency)*s.cfg.HysteresisPenalty
}

// runCardEvaluation scans every allocated card, decides visibility and
// desired resolution, and gathers the frame's capture requests:
//
//   - a locked request when the base mip is absent or at the wrong
//     level, covering the whole level;
//   - per-page hi-res requests for the first not-fully-mapped optional
//     level up to the desired one, finer detail waiting for coarser
//     detail to land first;
//   - recency touches for optional levels that are resident and still
//     wanted, keeping them out of eviction's reach this frame.
//
// Cards that drop below the visibility floor go on the hide list and
// have their residency freed in the sequential merge.
func (s *Scene) runCardEvaluation(camera math32.Vector3, dirty *dirtyCardSet, stats *UpdateStats) []surfaceCacheRequest {
	n := s.cards.len()
	ranges := parallel.Chunks(n, s.cfg.scanChunkSize())
	if len(ranges) == 0 {
		return nil
	}

	chunks := make([]resolutionChunk, len(ranges))
	s.runChunks(len(ranges), func(ci int) {
		r := ranges[ci]
		out := &chunks[ci]
		for i := r.Start; i < r.End; i++ {
			card := s.cards.at(i)
			if !card.allocated {
				continue
			}
			s.evaluateCard(i, card, camera, out)
		}
	})

	var requests []surfaceCacheRequest
	for i := range chunks {
		stats.CardsVisible += chunks[i].visible
		requests = append(requests, chunks[i].requests...)
		for _, key := range chunks[i].touches {
			s.alloc.touch(key.card, s.cards.at(key.card), key.level)
		}
		for _, ci := range chunks[i].hides {
			card := s.cards.at(ci)
			s.alloc.freeAllCardResidency(ci, card)
			dirty.add(ci)
			stats.CardsHidden++
		}
	}
	return requests
}

// evaluateCard computes one card's visibility, desired level, and
// requests. Writes only the card's own fields and the chunk output.
func (s *Scene) evaluateCard(ci CardIndex, card *Card, camera math32.Vector3, out *resolutionChunk) {
	desired, visible := s.desiredCardResolution(card, camera)
	if !visible {
		card.desiredResLevel = InvalidIndex
		if card.visible || card.minAllocated != InvalidIndex {
			card.visible = false
			out.hides = append(out.hides, ci)
		}
		return
	}

	wasVisible := card.visible
	card.visible = true
	card.desiredResLevel = desired
	out.visible++

	local := card.localPoint(camera)
	dist := scalar.Max(card.localBounds().DistanceToPoint(local), 1)

	target := lockedTargetLevel(desired)
	if card.lockedResLevel != target || !card.mip(target).isFullyMapped() {
		priority := dist
		if wasVisible {
			priority = s.reallocPriority(card, dist, target)
		}
		out.requests = append(out.requests, surfaceCacheRequest{
			card:      ci,
			resLevel:  target,
			pageIndex: InvalidIndex,
			locked:    true,
			priority:  priority,
		})
	}

	// Touch resident optional detail first, then request pages of the
	// first incomplete level. Levels beyond it wait for their turn.
	for level := target + 1; level <= desired; level++ {
		mip := card.mip(level)
		if mip.isFullyMapped() {
			out.touches = append(out.touches, allocKey{card: ci, level: level})
			continue
		}
		if mip.isMapped() {
			out.touches = append(out.touches, allocKey{card: ci, level: level})
		}
		ext := cardMipExtent(card.halfExtents, level)
		for page := int32(0); page < ext.pages(); page++ {
			if mip.pageTable != nil && mip.pageTable[page] != InvalidIndex {
				continue
			}
			out.requests = append(out.requests, surfaceCacheRequest{
				card:      ci,
				resLevel:  level,
				pageIndex: page,
				priority:  dist,
			})
		}
		break
	}
}
