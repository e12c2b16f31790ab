package surfcache

import (
	"fmt"
	"sync"

	"github.com/gogpu/surfcache/internal/arena"
	"github.com/gogpu/surfcache/internal/parallel"
)

// FrameOutput is the result of one Scene.Update: the capture work for
// the frame's backends and the GPU buffer payload.
type FrameOutput struct {
	// Stats are the frame's diagnostics.
	Stats UpdateStats

	// ConventionalPages and NanitePages are the pages to capture this
	// frame, split by capture path.
	ConventionalPages []CardPageRenderData
	NanitePages       []CardPageRenderData

	// Buffers is the frame's GPU buffer payload.
	Buffers *GPUBuffers
}

// Scene is the surface cache: it tracks primitive groups, maintains
// their cards' atlas residency against the camera, and emits per-frame
// capture work and GPU state updates.
//
// All methods are safe for concurrent use; Update itself is internally
// parallel but externally serialized like every other method.
type Scene struct {
	mu     sync.Mutex
	closed bool

	cfg   Config
	frame uint64

	groups    *arena.Arena[PrimitiveGroup]
	meshCards *arena.Arena[MeshCards]
	cards     cardStore

	alloc        *surfaceAllocator
	captureAtlas *captureAtlasAllocator
	pool         *parallel.WorkerPool
	dirty        dirtyCardSet

	texBackend    TextureBackend
	drawBackend   DrawBackend
	naniteBackend NaniteBackend

	// atlasReady is cleared whenever the atlas geometry changes, so the
	// next update re-runs EnsureAtlas on the texture backend.
	atlasReady bool
}

// NewScene creates a surface cache scene for the configuration.
func NewScene(cfg Config) (*Scene, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Scene{
		cfg:          cfg,
		groups:       arena.New[PrimitiveGroup](256),
		meshCards:    arena.New[MeshCards](256),
		alloc:        newSurfaceAllocator(cfg.AtlasTexels),
		captureAtlas: newCaptureAtlasAllocator(cfg.CaptureAtlasFactor * cfg.MaxCapturePagesPerFrame),
	}
	if cfg.ParallelUpdate {
		s.pool = parallel.NewWorkerPool(cfg.Workers)
	}
	Logger().Info("surfcache: scene created",
		"atlasTexels", cfg.AtlasTexels,
		"physPages", s.alloc.physPagesTotal(),
		"captureAtlasTexels", s.captureAtlas.Texels())
	return s, nil
}

// Close releases the scene's worker pool and any installed backend's
// GPU resources. The scene is unusable afterwards.
func (s *Scene) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSceneClosed
	}
	s.closed = true
	if s.pool != nil {
		s.pool.Close()
	}
	if s.texBackend != nil {
		s.texBackend.Release()
	}
	return nil
}

// SetTextureBackend installs the GPU resource backend. The next update
// creates the atlas textures through it.
func (s *Scene) SetTextureBackend(b TextureBackend) error {
	if b == nil {
		return ErrNilBackend
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSceneClosed
	}
	s.texBackend = b
	s.atlasReady = false
	return nil
}

// SetDrawBackend installs the conventional capture backend.
func (s *Scene) SetDrawBackend(b DrawBackend) error {
	if b == nil {
		return ErrNilBackend
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSceneClosed
	}
	s.drawBackend = b
	return nil
}

// SetNaniteBackend installs the Nanite capture backend.
func (s *Scene) SetNaniteBackend(b NaniteBackend) error {
	if b == nil {
		return ErrNilBackend
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSceneClosed
	}
	s.naniteBackend = b
	return nil
}

// RegisterGroup adds a primitive group to the scene. The group starts
// without cards; the admission filter decides per frame whether it is
// close enough to deserve them.
func (s *Scene) RegisterGroup(desc GroupDesc) (GroupHandle, error) {
	if err := validateGroupDesc(&desc); err != nil {
		return GroupHandle{h: arena.Nil}, err
	}
	normalizeGroupDesc(&desc)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return GroupHandle{h: arena.Nil}, ErrSceneClosed
	}
	h := s.groups.Alloc(PrimitiveGroup{
		Bounds:             desc.Bounds,
		Center:             desc.Center,
		Axes:               desc.Axes,
		HalfExtents:        desc.HalfExtents,
		ResolutionScale:    desc.ResolutionScale,
		DistantScene:       desc.DistantScene,
		FixedInstanceIndex: desc.FixedInstanceIndex,
		Primitives:         desc.Primitives,
		CardBuilds:         desc.CardBuilds,
		validForCards:      true,
		meshCards:          arena.Nil,
	})
	return GroupHandle{h: h}, nil
}

// UnregisterGroup removes a group and frees its cards and residency
// immediately. Stale handles are rejected.
func (s *Scene) UnregisterGroup(h GroupHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSceneClosed
	}
	g, ok := s.groups.Get(h.h)
	if !ok {
		return ErrInvalidGroup
	}
	s.removeMeshCards(g)
	s.groups.Free(h.h)
	return nil
}

// ResetCache drops every cached allocation. Locked mips included: the
// next update rebuilds residency from scratch.
func (s *Scene) ResetCache() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSceneClosed
	}
	s.resetCacheLocked()
	return nil
}

// resetCacheLocked clears all card residency and reinitializes the
// physical allocator. Every allocated card joins the dirty set so the
// GPU card buffer reflects the loss.
func (s *Scene) resetCacheLocked() {
	n := s.cards.len()
	for i := int32(0); i < n; i++ {
		card := s.cards.at(i)
		if !card.allocated {
			continue
		}
		card.mips = [NumResLevels]SurfaceMipMap{}
		card.lockedResLevel = InvalidIndex
		card.minAllocated = InvalidIndex
		s.dirty.add(i)
	}
	s.alloc.resize(s.cfg.AtlasTexels)
	Logger().Info("surfcache: full cache reset", "frame", s.frame)
}

// Reconfigure applies a new configuration. Changing the atlas or
// capture atlas geometry forces a full cache reset; page coordinates
// are atlas-size-relative and cannot be remapped in place.
func (s *Scene) Reconfigure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSceneClosed
	}

	atlasChanged := cfg.AtlasTexels != s.cfg.AtlasTexels
	captureChanged := cfg.CaptureAtlasFactor*cfg.MaxCapturePagesPerFrame !=
		s.cfg.CaptureAtlasFactor*s.cfg.MaxCapturePagesPerFrame
	poolChanged := cfg.ParallelUpdate != s.cfg.ParallelUpdate || cfg.Workers != s.cfg.Workers

	s.cfg = cfg

	if captureChanged {
		s.captureAtlas = newCaptureAtlasAllocator(cfg.CaptureAtlasFactor * cfg.MaxCapturePagesPerFrame)
	}
	if atlasChanged {
		s.resetCacheLocked()
	}
	if atlasChanged || captureChanged {
		s.atlasReady = false
	}
	if poolChanged {
		if s.pool != nil {
			s.pool.Close()
			s.pool = nil
		}
		if cfg.ParallelUpdate {
			s.pool = parallel.NewWorkerPool(cfg.Workers)
		}
	}
	return nil
}

// Update runs one frame of scene management: admission, structural
// changes, per-card resolution evaluation, capture scheduling against
// the frame budgets, and GPU state assembly. Installed backends
// receive their work before Update returns.
func (s *Scene) Update(view FrameView) (*FrameOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSceneClosed
	}

	s.frame++
	s.alloc.frame = s.frame

	stats := UpdateStats{Frame: s.frame}
	if view.FullCacheReset {
		s.resetCacheLocked()
	}

	adds, removes := s.runAdmissionFilter(view.CameraOrigin, &stats)
	s.applyStructuralChanges(adds, removes, &stats)

	requests := s.runCardEvaluation(view.CameraOrigin, &s.dirty, &stats)
	jobs := s.runScheduler(requests, &s.dirty, &stats)
	conventional, nanite := s.buildCaptureRenderData(jobs)

	out := &FrameOutput{
		ConventionalPages: conventional,
		NanitePages:       nanite,
		Buffers:           s.buildGPUBuffers(&s.dirty),
	}
	// Consumed into Buffers; out-of-band dirtying (ResetCache between
	// updates) accumulates into the next frame instead.
	s.dirty.reset()
	stats.PhysPagesUsed = s.alloc.physPagesUsed()
	stats.PhysPagesFree = s.alloc.physPagesFree()
	out.Stats = stats

	if err := s.dispatchBackends(out); err != nil {
		return out, err
	}
	return out, nil
}

// dispatchBackends forwards the frame's work to whichever backends are
// installed. Backends are optional: a host may consume FrameOutput
// directly instead.
func (s *Scene) dispatchBackends(out *FrameOutput) error {
	if s.texBackend != nil {
		if !s.atlasReady {
			desc := AtlasTextureDesc{
				AtlasTexels:   s.cfg.AtlasTexels,
				CaptureTexels: s.captureAtlas.Texels(),
				LayerFormats:  DefaultLayerFormats(),
			}
			if err := s.texBackend.EnsureAtlas(desc); err != nil {
				return fmt.Errorf("surfcache: creating atlas textures: %w", err)
			}
			s.atlasReady = true
		}
		if err := s.texBackend.UploadBuffers(out.Buffers); err != nil {
			return fmt.Errorf("surfcache: uploading buffers: %w", err)
		}
	}
	if s.drawBackend != nil && len(out.ConventionalPages) > 0 {
		if err := s.drawBackend.CaptureCardPages(out.ConventionalPages); err != nil {
			return fmt.Errorf("surfcache: conventional capture: %w", err)
		}
	}
	if s.naniteBackend != nil && len(out.NanitePages) > 0 {
		if err := s.naniteBackend.CaptureViews(out.NanitePages); err != nil {
			return fmt.Errorf("surfcache: nanite capture: %w", err)
		}
	}
	return nil
}

// MeshCardsFor returns the card range of a group, if it currently has
// one.
func (s *Scene) MeshCardsFor(h GroupHandle) (first CardIndex, count int32, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, found := s.groups.Get(h.h)
	if !found || g.meshCards.IsNil() {
		return 0, 0, false
	}
	mc, found := s.meshCards.Get(g.meshCards)
	if !found {
		return 0, 0, false
	}
	return mc.firstCard, mc.numCards, true
}

// NumGroups returns the number of registered groups.
func (s *Scene) NumGroups() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.groups.Len()
}
