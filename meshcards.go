package surfcache

import (
	"cogentcore.org/core/math32"

	"github.com/gogpu/surfcache/internal/arena"
)

// addMeshCards allocates a MeshCards block and its cards for the group
// at slot index groupIdx. A box proxy yields up to six cards through
// the fixed orientation table; groups with explicit card build
// descriptors use those instead.
//
// No-op (returns false) if the group is gone, invalid for cards, or
// already has cards.
func (s *Scene) addMeshCards(groupIdx int32) bool {
	g := s.groups.At(groupIdx)
	if g == nil || !g.validForCards || g.hasMeshCards() {
		return false
	}
	groupHandle, ok := s.groups.HandleAt(groupIdx)
	if !ok {
		return false
	}

	numCards := int32(len(g.CardBuilds))
	if numCards == 0 {
		numCards = NumCardOrientations
	}

	firstCard := s.cards.allocSpan(numCards)
	mcHandle := s.meshCards.Alloc(MeshCards{
		group:     groupHandle,
		firstCard: firstCard,
		numCards:  numCards,
	})

	for i := int32(0); i < numCards; i++ {
		card := s.cards.at(firstCard + i)
		*card = Card{
			allocated:       true,
			meshCards:       mcHandle,
			group:           groupHandle,
			distantScene:    g.DistantScene,
			resolutionScale: g.ResolutionScale,
			lockedResLevel:  InvalidIndex,
			minAllocated:    InvalidIndex,
		}
		if card.resolutionScale <= 0 {
			card.resolutionScale = 1
		}
		if len(g.CardBuilds) > 0 {
			b := g.CardBuilds[i]
			card.origin = b.Origin
			card.axisX = b.AxisX
			card.axisY = b.AxisY
			card.axisZ = b.AxisZ
			card.halfExtents = b.HalfExtents
		} else {
			card.orientation = uint8(i)
			card.origin, card.axisX, card.axisY, card.axisZ, card.halfExtents =
				buildBoxCard(g.Center, g.Axes, g.HalfExtents, int(i))
		}
	}

	g.meshCards = mcHandle
	return true
}

// removeMeshCards frees all of the group's cards (virtual and physical
// allocations included) and releases the MeshCards block. Idempotent
// against double removal and safe against stale handles: a group whose
// card set is already gone is a no-op.
func (s *Scene) removeMeshCards(g *PrimitiveGroup) bool {
	if g == nil || g.meshCards.IsNil() {
		return false
	}
	mc, ok := s.meshCards.Get(g.meshCards)
	if !ok {
		// Stale reference left behind by an earlier removal.
		g.meshCards = arena.Nil
		return false
	}

	for i := int32(0); i < mc.numCards; i++ {
		ci := mc.firstCard + i
		card := s.cards.at(ci)
		s.alloc.freeAllCardResidency(ci, card)
	}
	firstCard, numCards := mc.firstCard, mc.numCards

	s.meshCards.Free(g.meshCards)
	g.meshCards = arena.Nil
	s.cards.freeSpan(firstCard, numCards)
	return true
}

// applyStructuralChanges consumes the admission filter's output:
// removals first (they return capacity), then adds in ascending
// distance order, capped per frame so a camera teleport cannot absorb
// an unbounded backlog in one update. Groups left pending stay "in
// range but unadmitted" and are re-emitted by the filter next frame.
func (s *Scene) applyStructuralChanges(adds []groupAdd, removes []int32, stats *UpdateStats) {
	for _, idx := range removes {
		g := s.groups.At(idx)
		if g == nil {
			continue
		}
		if s.removeMeshCards(g) {
			stats.MeshCardsRemoved++
		}
	}

	budget := s.cfg.maxMeshCardsAddsPerFrame()
	for i, add := range adds {
		if stats.MeshCardsAdded >= budget {
			stats.MeshCardsAddsPending = len(adds) - i
			break
		}
		if s.addMeshCards(add.group) {
			stats.MeshCardsAdded++
		}
	}
}

// validateGroupDesc checks a registration for the minimum the cache
// needs to build cards.
func validateGroupDesc(desc *GroupDesc) error {
	if desc.Bounds.IsEmpty() && len(desc.CardBuilds) == 0 {
		return ErrInvalidGroup
	}
	return nil
}

// normalizeGroupDesc fills defaulted fields in place.
func normalizeGroupDesc(desc *GroupDesc) {
	zero := math32.Vector3{}
	if desc.Axes[0] == zero && desc.Axes[1] == zero && desc.Axes[2] == zero {
		desc.Axes = [3]math32.Vector3{
			math32.Vec3(1, 0, 0),
			math32.Vec3(0, 1, 0),
			math32.Vec3(0, 0, 1),
		}
	}
	if desc.Center == zero && !desc.Bounds.IsEmpty() {
		desc.Center = desc.Bounds.Center()
	}
	if desc.HalfExtents == zero && !desc.Bounds.IsEmpty() {
		desc.HalfExtents = desc.Bounds.Size().MulScalar(0.5)
	}
	if desc.ResolutionScale <= 0 {
		desc.ResolutionScale = 1
	}
}
