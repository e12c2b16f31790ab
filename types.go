package surfcache

import (
	"cogentcore.org/core/math32"

	"github.com/gogpu/surfcache/internal/arena"
)

// Virtual texture addressing constants. All card mips are virtualized
// at a fixed page granularity; a page is the unit of both the page
// table and physical atlas occupancy.
const (
	// PageTexelSize is the page granularity in texels.
	PageTexelSize = 128

	// MaxAtlasTexels is the largest supported atlas dimension. Atlas
	// rects are packed as uint16 texel coordinates in the GPU page
	// table, so slot origins must stay below 1<<16.
	MaxAtlasTexels = 1 << 16

	// MinResLevel is the coarsest supported resolution level
	// (1<<MinResLevel = 8 texels on the card's major axis).
	MinResLevel = 3

	// MaxResLevel is the finest supported resolution level
	// (1<<MaxResLevel = 2048 texels on the card's major axis).
	MaxResLevel = 11

	// MaxLockedResLevel caps the resolution of locked (always resident)
	// mips at one page per axis. Levels above it are optional hi-res
	// detail and stay evictable.
	MaxLockedResLevel = 7

	// NumResLevels is the number of addressable resolution levels.
	NumResLevels = MaxResLevel - MinResLevel + 1

	// MinCardTexels is the resolution floor: a card whose projected
	// size snaps below this is not visible at all.
	MinCardTexels = 1 << MinResLevel

	// NumCardOrientations is the number of cards generated for a box
	// proxy, one per axis direction.
	NumCardOrientations = 6

	// cardCaptureBorderTexels widens each captured page window so
	// bilinear filtering does not bleed across page boundaries.
	cardCaptureBorderTexels = 1
)

// CardIndex addresses one card in the scene's contiguous card storage.
type CardIndex = int32

// InvalidIndex marks an unassigned CardIndex or page table reference.
const InvalidIndex int32 = -1

// GroupHandle identifies a registered primitive group.
type GroupHandle struct {
	h arena.Handle
}

// IsNil reports whether the handle refers to no group.
func (g GroupHandle) IsNil() bool { return g.h.IsNil() }

// PageRect is a texel rectangle inside an atlas texture.
type PageRect struct {
	X int32
	Y int32
	W int32
	H int32
}

// IsValid reports whether the rect has positive dimensions.
func (r PageRect) IsValid() bool { return r.W > 0 && r.H > 0 }

// UVRect is a normalized sub-rectangle of a card's surface.
type UVRect struct {
	MinX float32
	MinY float32
	MaxX float32
	MaxY float32
}

// PrimitiveKind discriminates the two draw paths a primitive can take
// when its card pages are captured. The set is closed: render-data
// gathering switches over it rather than using dynamic dispatch.
type PrimitiveKind uint8

const (
	// PrimitiveConventional primitives are captured through cached
	// per-LOD mesh draw commands.
	PrimitiveConventional PrimitiveKind = iota

	// PrimitiveNanite primitives are captured through a bulk
	// multi-view cull/raster pass keyed by instance IDs.
	PrimitiveNanite
)

// Primitive is one renderable element of a primitive group.
type Primitive struct {
	// Kind selects the capture path.
	Kind PrimitiveKind

	// LODCommands holds cached draw command IDs per LOD for
	// conventional primitives. Index 0 is the finest LOD; higher
	// indices are progressively coarser.
	LODCommands [][]uint32

	// InstanceIDs holds the instances of a Nanite primitive.
	InstanceIDs []uint32
}

// CardBuildDesc describes one card frame for groups whose surface
// proxy is not a plain box. Origin and axes are world-space; the axes
// must be orthonormal with Z as the capture direction.
type CardBuildDesc struct {
	Origin      math32.Vector3
	AxisX       math32.Vector3
	AxisY       math32.Vector3
	AxisZ       math32.Vector3
	HalfExtents math32.Vector3
}

// GroupDesc describes a cacheable primitive group at registration.
type GroupDesc struct {
	// Bounds is the world-space axis-aligned bounding box, used by the
	// admission filter.
	Bounds math32.Box3

	// Center is the oriented box center. Defaults to the bounds center
	// when zero and bounds are set.
	Center math32.Vector3

	// Axes are the oriented box axes (unit length). All-zero axes
	// default to the world axes.
	Axes [3]math32.Vector3

	// HalfExtents are the oriented box half extents along Axes.
	HalfExtents math32.Vector3

	// ResolutionScale scales the desired card resolution. Zero means 1.
	ResolutionScale float32

	// DistantScene marks groups rendered through the distant-scene
	// path: always admitted, captured with near clipping disabled.
	DistantScene bool

	// FixedInstanceIndex optionally pins the group to a stable GPU
	// instance slot. Negative when unused.
	FixedInstanceIndex int32

	// Primitives is the renderable content captured into this group's
	// cards.
	Primitives []Primitive

	// CardBuilds overrides the default box-derived card set when
	// non-empty.
	CardBuilds []CardBuildDesc
}

// FrameView carries the per-frame camera state that drives admission
// and resolution decisions.
type FrameView struct {
	// CameraOrigin is the world-space view origin.
	CameraOrigin math32.Vector3

	// FullCacheReset forces all cached allocations to be dropped
	// before this frame's update runs.
	FullCacheReset bool
}

// surfaceCacheRequest asks the scheduler to make one mip (or one page
// of one mip) of a card resident. Requests are rebuilt from card state
// every frame and never persist.
type surfaceCacheRequest struct {
	card     CardIndex
	resLevel int32

	// pageIndex selects a single page of the mip for optional hi-res
	// requests; InvalidIndex means all pages (locked-mip requests).
	pageIndex int32

	// locked marks correctness-critical base-mip requests, processed
	// strictly before hi-res ones.
	locked bool

	// priority is the sort distance, hysteresis-adjusted. Lower is
	// more urgent.
	priority float32
}

// captureJob is one admitted page capture: the page is mapped in the
// persistent atlas and has a staging rectangle reserved in the
// transient capture atlas.
type captureJob struct {
	card     CardIndex
	resLevel int32
	pageX    int32
	pageY    int32

	captureRect PageRect
	atlasRect   PageRect
}
