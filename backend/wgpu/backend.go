// Package wgpu provides a surface cache texture backend over gogpu/wgpu
// HAL devices.
package wgpu

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/surfcache"
)

// Backend errors.
var (
	// ErrNilDevice is returned when creating a backend without a HAL
	// device or queue.
	ErrNilDevice = errors.New("wgpu: HAL device is nil")

	// ErrReleased is returned when operating on a released backend.
	ErrReleased = errors.New("wgpu: backend has been released")
)

// TextureBackend implements surfcache.TextureBackend on a gogpu/wgpu
// HAL device: one texture per atlas layer for the persistent and
// capture atlases, and storage buffers for the page table, card, and
// mesh-cards data.
//
// All methods are safe for concurrent use.
type TextureBackend struct {
	mu       sync.Mutex
	device   hal.Device
	queue    hal.Queue
	released bool

	atlas   [surfcache.NumAtlasLayers]hal.Texture
	capture [surfcache.NumAtlasLayers]hal.Texture

	pageTable gpuBuffer
	cards     gpuBuffer
	meshCards gpuBuffer
}

// gpuBuffer is one persistent storage buffer with its allocated
// capacity.
type gpuBuffer struct {
	buf hal.Buffer
	cap uint64
}

// NewTextureBackend creates a backend over the device and queue.
func NewTextureBackend(device hal.Device, queue hal.Queue) (*TextureBackend, error) {
	if device == nil || queue == nil {
		return nil, ErrNilDevice
	}
	return &TextureBackend{device: device, queue: queue}, nil
}

// convertFormat maps the shared gputypes format to the HAL format.
func convertFormat(format gputypes.TextureFormat) gputypes.TextureFormat {
	switch format {
	case gputypes.TextureFormatRGBA8Unorm:
		return gputypes.TextureFormatRGBA8Unorm
	case gputypes.TextureFormatR32Float:
		return gputypes.TextureFormatR32Float
	default:
		return gputypes.TextureFormatRGBA8Unorm
	}
}

// EnsureAtlas (re)creates the atlas layer textures for desc, dropping
// any previous set.
func (b *TextureBackend) EnsureAtlas(desc surfcache.AtlasTextureDesc) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return ErrReleased
	}

	b.destroyTexturesLocked()

	for layer := surfcache.AtlasLayer(0); layer < surfcache.NumAtlasLayers; layer++ {
		format := convertFormat(desc.LayerFormats[layer])

		tex, err := b.createTextureLocked(
			fmt.Sprintf("surfcache atlas %s", layer), desc.AtlasTexels, format)
		if err != nil {
			b.destroyTexturesLocked()
			return fmt.Errorf("wgpu: creating atlas layer %s: %w", layer, err)
		}
		b.atlas[layer] = tex

		capTex, err := b.createTextureLocked(
			fmt.Sprintf("surfcache capture %s", layer), desc.CaptureTexels, format)
		if err != nil {
			b.destroyTexturesLocked()
			return fmt.Errorf("wgpu: creating capture layer %s: %w", layer, err)
		}
		b.capture[layer] = capTex
	}

	surfcache.Logger().Info("wgpu: atlas textures created",
		"atlasTexels", desc.AtlasTexels,
		"captureTexels", desc.CaptureTexels,
		"layers", int(surfcache.NumAtlasLayers))
	return nil
}

// createTextureLocked creates one square 2D texture.
func (b *TextureBackend) createTextureLocked(label string, texels int32, format gputypes.TextureFormat) (hal.Texture, error) {
	desc := &hal.TextureDescriptor{
		Label: label,
		Size: hal.Extent3D{
			Width:              uint32(texels),
			Height:             uint32(texels),
			DepthOrArrayLayers: 1,
		},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        format,
		Usage: gputypes.TextureUsageCopySrc | gputypes.TextureUsageCopyDst |
			gputypes.TextureUsageTextureBinding | gputypes.TextureUsageRenderAttachment,
	}
	return b.device.CreateTexture(desc)
}

// UploadBuffers applies one frame's buffer payload. The page table and
// mesh-cards buffers are rewritten whole; the card buffer takes ranged
// updates unless it had to grow, in which case the full snapshot is
// written.
func (b *TextureBackend) UploadBuffers(up *surfcache.GPUBuffers) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return ErrReleased
	}
	if up == nil {
		return nil
	}

	if err := b.writeWhole(&b.pageTable, "surfcache page table", up.PageTable); err != nil {
		return err
	}
	if err := b.writeWhole(&b.meshCards, "surfcache mesh cards", up.MeshCards); err != nil {
		return err
	}

	grown, err := b.ensureBuffer(&b.cards, "surfcache cards", uint64(len(up.Cards)))
	if err != nil {
		return err
	}
	switch {
	case grown:
		if len(up.Cards) > 0 {
			b.queue.WriteBuffer(b.cards.buf, 0, up.Cards)
		}
	default:
		for _, u := range up.CardUpdates {
			b.queue.WriteBuffer(b.cards.buf, u.Offset, u.Data)
		}
	}
	return nil
}

// writeWhole sizes a buffer for data and rewrites it completely.
func (b *TextureBackend) writeWhole(gb *gpuBuffer, label string, data []byte) error {
	if _, err := b.ensureBuffer(gb, label, uint64(len(data))); err != nil {
		return err
	}
	if len(data) > 0 {
		b.queue.WriteBuffer(gb.buf, 0, data)
	}
	return nil
}

// ensureBuffer guarantees capacity for size bytes, growing in
// power-of-two steps. Reports whether the buffer was (re)created.
func (b *TextureBackend) ensureBuffer(gb *gpuBuffer, label string, size uint64) (bool, error) {
	if gb.buf != nil && gb.cap >= size {
		return false, nil
	}
	newCap := gb.cap
	if newCap == 0 {
		newCap = 4096
	}
	for newCap < size {
		newCap *= 2
	}
	buf, err := b.device.CreateBuffer(&hal.BufferDescriptor{
		Label: label,
		Size:  newCap,
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return false, fmt.Errorf("wgpu: creating %s buffer: %w", label, err)
	}
	if gb.buf != nil {
		b.device.DestroyBuffer(gb.buf)
	}
	gb.buf = buf
	gb.cap = newCap
	return true, nil
}

// Release destroys all GPU resources. Safe to call more than once.
func (b *TextureBackend) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return
	}
	b.released = true
	b.destroyTexturesLocked()
	for _, gb := range []*gpuBuffer{&b.pageTable, &b.cards, &b.meshCards} {
		if gb.buf != nil {
			b.device.DestroyBuffer(gb.buf)
			gb.buf = nil
			gb.cap = 0
		}
	}
}

// destroyTexturesLocked drops both texture sets.
func (b *TextureBackend) destroyTexturesLocked() {
	for i := range b.atlas {
		if b.atlas[i] != nil {
			b.device.DestroyTexture(b.atlas[i])
			b.atlas[i] = nil
		}
		if b.capture[i] != nil {
			b.device.DestroyTexture(b.capture[i])
			b.capture[i] = nil
		}
	}
}

// AtlasTexture returns the persistent atlas texture of one layer, for
// binding by the host's capture and shading passes.
func (b *TextureBackend) AtlasTexture(layer surfcache.AtlasLayer) hal.Texture {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.atlas[layer]
}

// CaptureTexture returns the transient capture atlas texture of one
// layer.
func (b *TextureBackend) CaptureTexture(layer surfcache.AtlasLayer) hal.Texture {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.capture[layer]
}
