package surfcache

import "github.com/gogpu/gputypes"

// AtlasLayer identifies one texture layer of the persistent surface
// cache atlas. All layers share the same texel layout; a page occupies
// the same rectangle in every layer.
type AtlasLayer int

const (
	// AtlasLayerAlbedo holds base color.
	AtlasLayerAlbedo AtlasLayer = iota

	// AtlasLayerNormal holds encoded surface normals.
	AtlasLayerNormal

	// AtlasLayerEmissive holds emissive color.
	AtlasLayerEmissive

	// AtlasLayerDepth holds capture depth for parallax correction.
	AtlasLayerDepth

	// NumAtlasLayers is the layer count.
	NumAtlasLayers
)

// String returns the layer name used for texture labels.
func (l AtlasLayer) String() string {
	switch l {
	case AtlasLayerAlbedo:
		return "albedo"
	case AtlasLayerNormal:
		return "normal"
	case AtlasLayerEmissive:
		return "emissive"
	case AtlasLayerDepth:
		return "depth"
	}
	return "unknown"
}

// AtlasTextureDesc describes the GPU textures backing the cache: the
// persistent atlas layers plus the transient capture atlas the same
// layers are staged in. Both are square.
type AtlasTextureDesc struct {
	// AtlasTexels is the persistent atlas dimension.
	AtlasTexels int32

	// CaptureTexels is the transient capture atlas dimension.
	CaptureTexels int32

	// LayerFormats are the per-layer pixel formats.
	LayerFormats [NumAtlasLayers]gputypes.TextureFormat
}

// DefaultLayerFormats returns the standard color and depth layout.
func DefaultLayerFormats() [NumAtlasLayers]gputypes.TextureFormat {
	return [NumAtlasLayers]gputypes.TextureFormat{
		AtlasLayerAlbedo:   gputypes.TextureFormatRGBA8Unorm,
		AtlasLayerNormal:   gputypes.TextureFormatRGBA8Unorm,
		AtlasLayerEmissive: gputypes.TextureFormatRGBA8Unorm,
		AtlasLayerDepth:    gputypes.TextureFormatR32Float,
	}
}

// TextureBackend owns the GPU-resident state of the cache: the atlas
// textures and the page table, card, and mesh-cards buffers.
//
// The scene calls EnsureAtlas whenever the atlas geometry changes (first
// update, Reconfigure) and UploadBuffers once per update with that
// frame's buffer changes. Implementations decide residency details;
// backend/wgpu provides one over a gogpu/wgpu HAL device.
type TextureBackend interface {
	// EnsureAtlas creates or recreates the atlas textures for desc.
	EnsureAtlas(desc AtlasTextureDesc) error

	// UploadBuffers applies one frame's buffer updates.
	UploadBuffers(up *GPUBuffers) error

	// Release frees all GPU resources held by the backend.
	Release()
}

// DrawBackend rasterizes conventional primitives into capture pages.
// Each page carries its own view, projection, and pre-selected draw
// command list.
type DrawBackend interface {
	CaptureCardPages(pages []CardPageRenderData) error
}

// NaniteBackend rasterizes Nanite instances into capture pages. Pages
// are delivered as one batch so the backend can run a single
// multi-view cull pass over the union of instances.
type NaniteBackend interface {
	CaptureViews(pages []CardPageRenderData) error
}
