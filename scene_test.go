package surfcache

import (
	"errors"
	"testing"

	"cogentcore.org/core/math32"
)

func TestSceneLifecycle(t *testing.T) {
	s := newTestScene(t, nil)

	h, err := s.RegisterGroup(boxGroupDesc(math32.Vec3(0, 0, 12), 1))
	if err != nil {
		t.Fatalf("RegisterGroup: %v", err)
	}
	if s.NumGroups() != 1 {
		t.Fatalf("NumGroups = %d, want 1", s.NumGroups())
	}

	out := runFrame(t, s, math32.Vec3(0, 0, 0))
	if out.Stats.MeshCardsAdded != 1 {
		t.Fatalf("MeshCardsAdded = %d, want 1", out.Stats.MeshCardsAdded)
	}
	if _, count, ok := s.MeshCardsFor(h); !ok || count != NumCardOrientations {
		t.Fatalf("cards = %d (ok=%v), want %d", count, ok, NumCardOrientations)
	}
	// Every card captures its one-page locked base on the first frame.
	if out.Stats.PagesCaptured != NumCardOrientations {
		t.Fatalf("PagesCaptured = %d, want %d", out.Stats.PagesCaptured, NumCardOrientations)
	}
	if len(out.ConventionalPages) != NumCardOrientations {
		t.Fatalf("ConventionalPages = %d, want %d", len(out.ConventionalPages), NumCardOrientations)
	}
	if out.Stats.PhysPagesUsed != NumCardOrientations {
		t.Fatalf("PhysPagesUsed = %d, want %d", out.Stats.PhysPagesUsed, NumCardOrientations)
	}

	// A steady frame captures nothing new.
	out = runFrame(t, s, math32.Vec3(0, 0, 0))
	if out.Stats.PagesCaptured != 0 || out.Stats.PagesEvicted != 0 {
		t.Fatalf("steady frame captured %d, evicted %d",
			out.Stats.PagesCaptured, out.Stats.PagesEvicted)
	}

	if err := s.UnregisterGroup(h); err != nil {
		t.Fatalf("UnregisterGroup: %v", err)
	}
	out = runFrame(t, s, math32.Vec3(0, 0, 0))
	if out.Stats.PhysPagesUsed != 0 {
		t.Fatalf("PhysPagesUsed = %d after unregister, want 0", out.Stats.PhysPagesUsed)
	}

	// Stale handle.
	if err := s.UnregisterGroup(h); !errors.Is(err, ErrInvalidGroup) {
		t.Fatalf("stale unregister error = %v, want ErrInvalidGroup", err)
	}
}

func TestSceneCameraApproach(t *testing.T) {
	s := newTestScene(t, nil)

	h, err := s.RegisterGroup(boxGroupDesc(math32.Vec3(0, 0, 0), 1))
	if err != nil {
		t.Fatalf("RegisterGroup: %v", err)
	}

	// Too far for cards at all.
	out := runFrame(t, s, math32.Vec3(0, 0, 200))
	if out.Stats.MeshCardsAdded != 0 {
		t.Fatal("far camera admitted the group")
	}

	// Approach: cards appear and capture at a coarse level.
	runFrame(t, s, math32.Vec3(0, 0, 15))
	first, _, ok := s.MeshCardsFor(h)
	if !ok {
		t.Fatal("approach did not add cards")
	}
	coarse := s.cards.at(first).lockedResLevel
	if coarse == InvalidIndex {
		t.Fatal("no locked base after approach")
	}

	// Closer: the base reallocates to a finer level.
	for i := 0; i < 3; i++ {
		runFrame(t, s, math32.Vec3(0, 0, 3))
	}
	fine := s.cards.at(first).lockedResLevel
	if fine <= coarse {
		t.Fatalf("locked level %d did not refine from %d", fine, coarse)
	}

	// Retreat out of range: cards and residency go away.
	out = runFrame(t, s, math32.Vec3(0, 0, 200))
	if out.Stats.MeshCardsRemoved != 1 {
		t.Fatalf("MeshCardsRemoved = %d, want 1", out.Stats.MeshCardsRemoved)
	}
	if out.Stats.PhysPagesUsed != 0 {
		t.Fatalf("PhysPagesUsed = %d after retreat, want 0", out.Stats.PhysPagesUsed)
	}
}

func TestSceneFullCacheReset(t *testing.T) {
	s := newTestScene(t, nil)

	if _, err := s.RegisterGroup(boxGroupDesc(math32.Vec3(0, 0, 12), 1)); err != nil {
		t.Fatalf("RegisterGroup: %v", err)
	}
	out := runFrame(t, s, math32.Vec3(0, 0, 0))
	captured := out.Stats.PagesCaptured
	if captured == 0 {
		t.Fatal("nothing captured on first frame")
	}

	// The reset drops everything and the same frame re-captures it.
	out, err := s.Update(FrameView{CameraOrigin: math32.Vec3(0, 0, 0), FullCacheReset: true})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if out.Stats.PagesCaptured != captured {
		t.Fatalf("post-reset captured %d, want %d", out.Stats.PagesCaptured, captured)
	}
}

func TestSceneClosedErrors(t *testing.T) {
	s, err := NewScene(DefaultConfig())
	if err != nil {
		t.Fatalf("NewScene: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := s.Update(FrameView{}); !errors.Is(err, ErrSceneClosed) {
		t.Fatalf("Update error = %v, want ErrSceneClosed", err)
	}
	if _, err := s.RegisterGroup(boxGroupDesc(math32.Vec3(0, 0, 0), 1)); !errors.Is(err, ErrSceneClosed) {
		t.Fatalf("RegisterGroup error = %v, want ErrSceneClosed", err)
	}
	if err := s.ResetCache(); !errors.Is(err, ErrSceneClosed) {
		t.Fatalf("ResetCache error = %v, want ErrSceneClosed", err)
	}
	if err := s.Close(); !errors.Is(err, ErrSceneClosed) {
		t.Fatalf("second Close error = %v, want ErrSceneClosed", err)
	}
}

func TestSceneRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AtlasTexels = 100 // not a page multiple
	if _, err := NewScene(cfg); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("NewScene error = %v, want ErrInvalidConfig", err)
	}
}

func TestSceneReconfigureAtlasResets(t *testing.T) {
	s := newTestScene(t, nil)

	if _, err := s.RegisterGroup(boxGroupDesc(math32.Vec3(0, 0, 12), 1)); err != nil {
		t.Fatalf("RegisterGroup: %v", err)
	}
	runFrame(t, s, math32.Vec3(0, 0, 0))
	if s.alloc.physPagesUsed() == 0 {
		t.Fatal("nothing resident before reconfigure")
	}

	cfg := s.cfg
	cfg.AtlasTexels = 2048
	if err := s.Reconfigure(cfg); err != nil {
		t.Fatalf("Reconfigure: %v", err)
	}
	if s.alloc.physPagesUsed() != 0 {
		t.Fatal("residency survived an atlas resize")
	}
	if s.alloc.atlasTexels != 2048 {
		t.Fatalf("atlasTexels = %d, want 2048", s.alloc.atlasTexels)
	}

	// The next frame recovers.
	out := runFrame(t, s, math32.Vec3(0, 0, 0))
	if out.Stats.PagesCaptured == 0 {
		t.Fatal("no recapture after reconfigure")
	}
}

func TestScenePrimitivesReachRenderData(t *testing.T) {
	s := newTestScene(t, nil)

	desc := boxGroupDesc(math32.Vec3(0, 0, 12), 1)
	desc.Primitives = []Primitive{
		{
			Kind: PrimitiveConventional,
			LODCommands: [][]uint32{
				{100, 101}, // finest
				{200},      // coarsest
			},
		},
		{
			Kind:        PrimitiveNanite,
			InstanceIDs: []uint32{7, 8, 9},
		},
	}
	if _, err := s.RegisterGroup(desc); err != nil {
		t.Fatalf("RegisterGroup: %v", err)
	}

	out := runFrame(t, s, math32.Vec3(0, 0, 0))
	if len(out.ConventionalPages) == 0 || len(out.NanitePages) == 0 {
		t.Fatalf("pages conv/nanite = %d/%d, want both non-empty",
			len(out.ConventionalPages), len(out.NanitePages))
	}

	page := out.ConventionalPages[0]
	// Coarse capture level picks the coarsest LOD.
	if len(page.DrawCommands) != 1 || page.DrawCommands[0] != 200 {
		t.Fatalf("DrawCommands = %v, want [200]", page.DrawCommands)
	}
	if len(page.NaniteInstances) != 0 {
		t.Fatal("conventional page carries nanite instances")
	}

	np := out.NanitePages[0]
	if len(np.NaniteInstances) != 3 {
		t.Fatalf("NaniteInstances = %v, want 3 IDs", np.NaniteInstances)
	}
	if np.CaptureRect != page.CaptureRect {
		t.Fatal("split pages must share the same staging rectangle")
	}
}

func TestSceneBackendDispatch(t *testing.T) {
	s := newTestScene(t, nil)

	tb := &recordingTextureBackend{}
	db := &recordingDrawBackend{}
	if err := s.SetTextureBackend(tb); err != nil {
		t.Fatalf("SetTextureBackend: %v", err)
	}
	if err := s.SetDrawBackend(db); err != nil {
		t.Fatalf("SetDrawBackend: %v", err)
	}
	if err := s.SetTextureBackend(nil); !errors.Is(err, ErrNilBackend) {
		t.Fatalf("nil backend error = %v, want ErrNilBackend", err)
	}

	if _, err := s.RegisterGroup(boxGroupDesc(math32.Vec3(0, 0, 12), 1)); err != nil {
		t.Fatalf("RegisterGroup: %v", err)
	}
	runFrame(t, s, math32.Vec3(0, 0, 0))

	if tb.ensureCalls != 1 {
		t.Fatalf("EnsureAtlas calls = %d, want 1", tb.ensureCalls)
	}
	if tb.lastDesc.AtlasTexels != s.cfg.AtlasTexels {
		t.Fatalf("atlas desc texels = %d, want %d", tb.lastDesc.AtlasTexels, s.cfg.AtlasTexels)
	}
	if tb.uploadCalls != 1 {
		t.Fatalf("UploadBuffers calls = %d, want 1", tb.uploadCalls)
	}
	if db.pages != NumCardOrientations {
		t.Fatalf("captured pages = %d, want %d", db.pages, NumCardOrientations)
	}

	// Atlas is created once, not per frame.
	runFrame(t, s, math32.Vec3(0, 0, 0))
	if tb.ensureCalls != 1 || tb.uploadCalls != 2 {
		t.Fatalf("ensure/upload = %d/%d, want 1/2", tb.ensureCalls, tb.uploadCalls)
	}
}

type recordingTextureBackend struct {
	ensureCalls int
	uploadCalls int
	lastDesc    AtlasTextureDesc
	released    bool
}

func (b *recordingTextureBackend) EnsureAtlas(desc AtlasTextureDesc) error {
	b.ensureCalls++
	b.lastDesc = desc
	return nil
}

func (b *recordingTextureBackend) UploadBuffers(*GPUBuffers) error {
	b.uploadCalls++
	return nil
}

func (b *recordingTextureBackend) Release() { b.released = true }

type recordingDrawBackend struct {
	pages int
}

func (b *recordingDrawBackend) CaptureCardPages(pages []CardPageRenderData) error {
	b.pages += len(pages)
	return nil
}

func TestSceneParallelMatchesSequential(t *testing.T) {
	frame := func(parallel bool) []UpdateStats {
		s := newTestScene(t, func(cfg *Config) {
			cfg.ParallelUpdate = parallel
			cfg.ScanChunkSize = 3
		})
		for i := 0; i < 12; i++ {
			desc := boxGroupDesc(math32.Vec3(float32(i%5)*4, float32(i/5)*4, 10+float32(i)), 1)
			if _, err := s.RegisterGroup(desc); err != nil {
				t.Fatalf("RegisterGroup: %v", err)
			}
		}
		var history []UpdateStats
		cameras := []math32.Vector3{
			{Z: 0}, {Z: 5}, {Z: 40}, {Z: 5}, {Z: 0},
		}
		for _, cam := range cameras {
			out := runFrame(t, s, cam)
			history = append(history, out.Stats)
		}
		return history
	}

	seq := frame(false)
	par := frame(true)
	for i := range seq {
		if seq[i] != par[i] {
			t.Fatalf("frame %d stats differ:\nseq: %+v\npar: %+v", i, seq[i], par[i])
		}
	}
}
