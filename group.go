package surfcache

import (
	"cogentcore.org/core/math32"

	"github.com/gogpu/surfcache/internal/arena"
)

// PrimitiveGroup is a logical unit of geometry that can be
// surface-cached together. Groups live in a sparse, densely-iterated
// arena and are referenced by index, never by pointer.
type PrimitiveGroup struct {
	Bounds             math32.Box3
	Center             math32.Vector3
	Axes               [3]math32.Vector3
	HalfExtents        math32.Vector3
	ResolutionScale    float32
	DistantScene       bool
	FixedInstanceIndex int32
	Primitives         []Primitive
	CardBuilds         []CardBuildDesc

	// validForCards gates card generation; groups with degenerate
	// bounds are tracked but never admitted.
	validForCards bool

	// meshCards is the group's card set, Nil while unadmitted.
	meshCards arena.Handle
}

// hasMeshCards reports whether the group currently owns a card set.
func (g *PrimitiveGroup) hasMeshCards() bool { return !g.meshCards.IsNil() }

// maxBoxExtent is the largest half extent of the group's proxy box,
// floored against degenerate geometry.
func (g *PrimitiveGroup) maxBoxExtent() float32 {
	e := g.HalfExtents.X
	if g.HalfExtents.Y > e {
		e = g.HalfExtents.Y
	}
	if g.HalfExtents.Z > e {
		e = g.HalfExtents.Z
	}
	if e < minCardExtent {
		e = minCardExtent
	}
	return e
}

// MeshCards is the set of cards generated for one admitted primitive
// group: a contiguous index range into the global card array,
// exclusively owned by its group.
type MeshCards struct {
	group     arena.Handle
	firstCard CardIndex
	numCards  int32
}

// FirstCard returns the start of the owned card range.
func (m *MeshCards) FirstCard() CardIndex { return m.firstCard }

// NumCards returns the length of the owned card range.
func (m *MeshCards) NumCards() int32 { return m.numCards }
