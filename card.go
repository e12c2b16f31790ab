package surfcache

import (
	"math/bits"

	"cogentcore.org/core/math32"

	"github.com/gogpu/surfcache/internal/arena"
)

// minCardExtent floors card half-extents so degenerate geometry never
// divides by zero in the resolution formulas.
const minCardExtent = 1e-3

// SurfaceMipMap tracks the residency of one resolution level of one
// card: a 2D grid of page table entry indices.
//
// A mip is "locked" at the card's base resolution level: locked pages
// are exempt from eviction, guaranteeing the card always has some valid
// representation once captured. Higher levels are optional detail.
type SurfaceMipMap struct {
	// sizeInPagesX/Y are the page grid dimensions.
	sizeInPagesX int32
	sizeInPagesY int32

	// resX/resY are the mip dimensions in texels.
	resX int32
	resY int32

	// pageTable holds one page table entry index per page, or
	// InvalidIndex for unmapped pages. Nil until the level is touched.
	pageTable []int32

	// locked marks the always-resident base mip.
	locked bool

	// mappedPages counts pages currently backed by physical memory.
	mappedPages int32

	// lastUsed is the frame of the most recent successful map or
	// touch, driving LRU eviction order.
	lastUsed uint64
}

// isMapped reports whether any page of the level is resident.
func (m *SurfaceMipMap) isMapped() bool { return m.mappedPages > 0 }

// isFullyMapped reports whether every page of the level is resident.
func (m *SurfaceMipMap) isFullyMapped() bool {
	return m.mappedPages > 0 && m.mappedPages == m.sizeInPagesX*m.sizeInPagesY
}

// Card is one oriented rectangular capture surface. The card frame is
// world-space: origin at the proxy box center, axisZ is the capture
// direction, axisX/axisY span the capture plane. Half extents are in
// the card's local axes (X/Y plane, Z depth).
type Card struct {
	// allocated marks the slot live inside the contiguous card store.
	allocated bool

	meshCards arena.Handle
	group     arena.Handle

	// orientation is the box face index for box-derived cards
	// (0..NumCardOrientations-1), 0 for descriptor-built cards.
	orientation uint8

	distantScene bool

	origin math32.Vector3
	axisX  math32.Vector3
	axisY  math32.Vector3
	axisZ  math32.Vector3

	halfExtents     math32.Vector3
	resolutionScale float32

	// visible is the result of the last resolution evaluation.
	visible bool

	// desiredResLevel is the camera-derived target level; meaningful
	// only while visible.
	desiredResLevel int32

	// lockedResLevel is the level of the currently locked mip, or
	// InvalidIndex before first capture.
	lockedResLevel int32

	// minAllocated is the coarsest level actually backed by physical
	// pages, or InvalidIndex when nothing is resident.
	minAllocated int32

	mips [NumResLevels]SurfaceMipMap
}

// MinAllocatedResLevel returns the coarsest resolution level currently
// backed by physical pages, or InvalidIndex when the card has no
// resident pages.
func (c *Card) MinAllocatedResLevel() int32 { return c.minAllocated }

// Visible reports whether the card passed the last resolution
// evaluation.
func (c *Card) Visible() bool { return c.visible }

// mip returns the mip state for a resolution level.
func (c *Card) mip(level int32) *SurfaceMipMap {
	return &c.mips[level-MinResLevel]
}

// recomputeMinAllocated rescans the mip table after residency changes.
func (c *Card) recomputeMinAllocated() {
	c.minAllocated = InvalidIndex
	for level := int32(MinResLevel); level <= MaxResLevel; level++ {
		if c.mip(level).isMapped() {
			c.minAllocated = level
			return
		}
	}
}

// localPoint transforms a world-space point into the card frame.
func (c *Card) localPoint(world math32.Vector3) math32.Vector3 {
	rel := world.Sub(c.origin)
	return math32.Vec3(rel.Dot(c.axisX), rel.Dot(c.axisY), rel.Dot(c.axisZ))
}

// localBounds is the card's local-space box.
func (c *Card) localBounds() math32.Box3 {
	return math32.Box3{
		Min: c.halfExtents.Negate(),
		Max: c.halfExtents,
	}
}

// maxPlaneExtent is the larger of the card's in-plane half extents,
// floored against degenerate geometry.
func (c *Card) maxPlaneExtent() float32 {
	e := c.halfExtents.X
	if c.halfExtents.Y > e {
		e = c.halfExtents.Y
	}
	if e < minCardExtent {
		e = minCardExtent
	}
	return e
}

// mipExtent is the texel and page geometry of one card resolution
// level.
type mipExtent struct {
	resX   int32
	resY   int32
	pagesX int32
	pagesY int32
}

// pages returns the page count of the level.
func (e mipExtent) pages() int32 { return e.pagesX * e.pagesY }

// nextPow2 rounds up to a power of two. Zero and one map to one.
func nextPow2(v int32) int32 {
	if v <= 1 {
		return 1
	}
	return int32(1) << bits.Len32(uint32(v-1))
}

// cardMipExtent derives the texel resolution of a card at a level: the
// major in-plane axis gets 1<<level texels, the minor axis is scaled by
// the extent ratio, snapped up to a power of two and floored at
// MinCardTexels.
func cardMipExtent(halfExtents math32.Vector3, level int32) mipExtent {
	hx := halfExtents.X
	if hx < minCardExtent {
		hx = minCardExtent
	}
	hy := halfExtents.Y
	if hy < minCardExtent {
		hy = minCardExtent
	}

	major := int32(1) << level
	var resX, resY int32
	if hx >= hy {
		resX = major
		resY = snapMinorAxis(major, hy/hx)
	} else {
		resY = major
		resX = snapMinorAxis(major, hx/hy)
	}

	return mipExtent{
		resX:   resX,
		resY:   resY,
		pagesX: (resX + PageTexelSize - 1) / PageTexelSize,
		pagesY: (resY + PageTexelSize - 1) / PageTexelSize,
	}
}

// snapMinorAxis scales the major resolution by the extent ratio and
// snaps to the supported range.
func snapMinorAxis(major int32, ratio float32) int32 {
	scaled := nextPow2(int32(float32(major)*ratio + 0.5))
	if scaled < MinCardTexels {
		scaled = MinCardTexels
	}
	if scaled > major {
		scaled = major
	}
	return scaled
}

// pageTexels returns the texel size of page (px, py) inside a mip;
// edge pages of non-page-aligned mips are partial.
func (e mipExtent) pageTexels(px, py int32) (w, h int32) {
	w = e.resX - px*PageTexelSize
	if w > PageTexelSize {
		w = PageTexelSize
	}
	h = e.resY - py*PageTexelSize
	if h > PageTexelSize {
		h = PageTexelSize
	}
	return w, h
}

// pageUV returns the card UV sub-rectangle covered by page (px, py).
func (e mipExtent) pageUV(px, py int32) UVRect {
	w, h := e.pageTexels(px, py)
	return UVRect{
		MinX: float32(px*PageTexelSize) / float32(e.resX),
		MinY: float32(py*PageTexelSize) / float32(e.resY),
		MaxX: float32(px*PageTexelSize+w) / float32(e.resX),
		MaxY: float32(py*PageTexelSize+h) / float32(e.resY),
	}
}

// cardOrientation is one row of the fixed per-orientation rotation
// table: box axis indices and signs deriving an orthonormal,
// right-handed card frame for each box face.
type cardOrientation struct {
	xAxis, yAxis, zAxis int
	xSign, ySign, zSign float32
}

// cardOrientations maps the six box faces (-X +X -Y +Y -Z +Z) to card
// frames with axisZ pointing out of the face.
var cardOrientations = [NumCardOrientations]cardOrientation{
	{xAxis: 2, yAxis: 1, zAxis: 0, xSign: 1, ySign: 1, zSign: -1},  // -X
	{xAxis: 1, yAxis: 2, zAxis: 0, xSign: 1, ySign: 1, zSign: 1},   // +X
	{xAxis: 0, yAxis: 2, zAxis: 1, xSign: 1, ySign: 1, zSign: -1},  // -Y
	{xAxis: 2, yAxis: 0, zAxis: 1, xSign: 1, ySign: 1, zSign: 1},   // +Y
	{xAxis: 1, yAxis: 0, zAxis: 2, xSign: 1, ySign: 1, zSign: -1},  // -Z
	{xAxis: 0, yAxis: 1, zAxis: 2, xSign: 1, ySign: 1, zSign: 1},   // +Z
}

// buildBoxCard derives the world-space card frame for one face of an
// oriented box.
func buildBoxCard(center math32.Vector3, axes [3]math32.Vector3, halfExtents math32.Vector3, orientation int) (origin, ax, ay, az math32.Vector3, extents math32.Vector3) {
	o := cardOrientations[orientation]
	h := [3]float32{halfExtents.X, halfExtents.Y, halfExtents.Z}

	ax = axes[o.xAxis].MulScalar(o.xSign)
	ay = axes[o.yAxis].MulScalar(o.ySign)
	az = axes[o.zAxis].MulScalar(o.zSign)
	extents = math32.Vec3(h[o.xAxis], h[o.yAxis], h[o.zAxis])
	return center, ax, ay, az, extents
}

// cardSpan is a free span inside the contiguous card store.
type cardSpan struct {
	start int32
	count int32
}

// cardStore owns the global contiguous Card array. MeshCards allocate
// contiguous sub-ranges so card iteration stays compact; freed ranges
// go on a coalescing free-span list for reuse.
type cardStore struct {
	cards []Card

	// spans is the free list, kept sorted by start for coalescing.
	spans []cardSpan
}

// allocSpan reserves n contiguous card slots (first fit) and returns
// the start index.
func (s *cardStore) allocSpan(n int32) int32 {
	for i := range s.spans {
		sp := &s.spans[i]
		if sp.count < n {
			continue
		}
		start := sp.start
		if sp.count == n {
			s.spans = append(s.spans[:i], s.spans[i+1:]...)
		} else {
			sp.start += n
			sp.count -= n
		}
		return start
	}
	start := int32(len(s.cards))
	s.cards = append(s.cards, make([]Card, n)...)
	return start
}

// freeSpan returns n slots starting at start to the free list,
// clearing them and coalescing adjacent spans.
func (s *cardStore) freeSpan(start, n int32) {
	for i := start; i < start+n; i++ {
		s.cards[i] = Card{}
	}

	// Insert sorted by start.
	pos := len(s.spans)
	for i := range s.spans {
		if s.spans[i].start > start {
			pos = i
			break
		}
	}
	s.spans = append(s.spans, cardSpan{})
	copy(s.spans[pos+1:], s.spans[pos:])
	s.spans[pos] = cardSpan{start: start, count: n}

	// Coalesce with the next span, then with the previous one.
	if pos+1 < len(s.spans) && s.spans[pos].start+s.spans[pos].count == s.spans[pos+1].start {
		s.spans[pos].count += s.spans[pos+1].count
		s.spans = append(s.spans[:pos+1], s.spans[pos+2:]...)
	}
	if pos > 0 && s.spans[pos-1].start+s.spans[pos-1].count == s.spans[pos].start {
		s.spans[pos-1].count += s.spans[pos].count
		s.spans = append(s.spans[:pos], s.spans[pos+1:]...)
	}
}

// at returns the card at index i. The index must come from a live
// MeshCards range.
func (s *cardStore) at(i CardIndex) *Card { return &s.cards[i] }

// len returns the card iteration bound.
func (s *cardStore) len() int32 { return int32(len(s.cards)) }
