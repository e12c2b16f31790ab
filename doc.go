// Package surfcache implements a bounded, incrementally-updated GPU
// surface cache for dynamic 3D scenes.
//
// # Overview
//
// surfcache decides, every frame, which parts of a scene need a cached
// "card" representation (a flattened orthographic capture of a mesh
// surface), at what resolution, and manages a fixed-capacity physical
// texture atlas of such captures while the camera moves and the scene
// changes. It is the CPU-side allocation and scheduling engine; the
// actual rasterization of card pages is delegated to external draw
// backends.
//
// # Quick Start
//
//	import "github.com/gogpu/surfcache"
//
//	scene, err := surfcache.NewScene(surfcache.DefaultConfig())
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer scene.Close()
//
//	// Register cacheable geometry.
//	handle, _ := scene.RegisterGroup(surfcache.GroupDesc{
//		Bounds: math32.B3(-50, -50, -50, 50, 50, 50),
//	})
//	_ = handle
//
//	// Optional: attach backends so updates reach the GPU directly.
//	backend, _ := wgpu.NewTextureBackend(device, queue)
//	_ = scene.SetTextureBackend(backend)
//
//	// Every frame: run the update pipeline. Page render jobs are
//	// dispatched to the attached backends and also returned for
//	// hosts that drive their own capture passes.
//	out, _ := scene.Update(surfcache.FrameView{CameraOrigin: camPos})
//	for _, page := range out.ConventionalPages {
//		_ = page // view, projection, capture and atlas rects
//	}
//
// # Architecture
//
// The per-frame pipeline runs as a fixed sequence of stages:
//
//   - Spatial admission filter: which primitive groups are in range
//   - Mesh-cards registry: structural add/remove of card sets
//   - Resolution evaluator: desired resolution level per card
//   - Capture scheduler: prioritized allocation with LRU eviction
//   - Render-data builder: per-page view/projection and draw gathering
//   - Atlas and page-table upload: serialized GPU-facing buffers
//
// The two scan stages (admission and resolution) run chunked across a
// worker pool; allocator and scheduler work is strictly sequential so
// eviction side effects stay ordered.
//
// # Resource Model
//
// The persistent surface cache is a fixed-size atlas virtualized by a
// page table at 128-texel page granularity. Each card keeps one always
// resident "locked" mip and optionally finer, evictable mips. Under
// pressure the cache degrades to lower resolutions or delays new cards
// by a few frames; it never fails the caller.
package surfcache
