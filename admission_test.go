package surfcache

import (
	"testing"

	"cogentcore.org/core/math32"
)

func newTestScene(t *testing.T, mutate func(*Config)) *Scene {
	t.Helper()
	cfg := DefaultConfig()
	cfg.ParallelUpdate = false
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := NewScene(cfg)
	if err != nil {
		t.Fatalf("NewScene: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func boxGroupDesc(center math32.Vector3, half float32) GroupDesc {
	size := math32.Vec3(half*2, half*2, half*2)
	var b math32.Box3
	b.SetFromCenterAndSize(center, size)
	return GroupDesc{
		Bounds:             b,
		FixedInstanceIndex: -1,
	}
}

func TestShouldHaveMeshCardsDistance(t *testing.T) {
	s := newTestScene(t, nil)

	h, err := s.RegisterGroup(boxGroupDesc(math32.Vec3(0, 0, 0), 1))
	if err != nil {
		t.Fatalf("RegisterGroup: %v", err)
	}
	g, _ := s.groups.Get(h.h)

	// Close camera: comfortably above the projected-size floor.
	in, _ := s.shouldHaveMeshCards(g, math32.Vec3(0, 0, 10))
	if !in {
		t.Fatal("nearby group not admitted")
	}

	// Past the projected-size floor: 100*1/d < 2 once d > 50.
	in, _ = s.shouldHaveMeshCards(g, math32.Vec3(0, 0, 100))
	if in {
		t.Fatal("tiny projected size still admitted")
	}

	// Beyond the hard range cutoff.
	in, _ = s.shouldHaveMeshCards(g, math32.Vec3(0, 0, s.cfg.MaxDistance+100))
	if in {
		t.Fatal("group beyond MaxDistance admitted")
	}
}

func TestDistantSceneBypassesRange(t *testing.T) {
	s := newTestScene(t, nil)

	desc := boxGroupDesc(math32.Vec3(0, 0, 0), 1)
	desc.DistantScene = true
	h, err := s.RegisterGroup(desc)
	if err != nil {
		t.Fatalf("RegisterGroup: %v", err)
	}
	g, _ := s.groups.Get(h.h)

	in, _ := s.shouldHaveMeshCards(g, math32.Vec3(0, 0, s.cfg.MaxDistance*2))
	if !in {
		t.Fatal("distant-scene group must always be admitted")
	}
}

func TestAdmissionAddsSortedByDistance(t *testing.T) {
	s := newTestScene(t, nil)

	// Register far-to-near so arena order disagrees with distance
	// order.
	for _, z := range []float32{30, 20, 10} {
		if _, err := s.RegisterGroup(boxGroupDesc(math32.Vec3(0, 0, z), 1)); err != nil {
			t.Fatalf("RegisterGroup: %v", err)
		}
	}

	var stats UpdateStats
	adds, removes := s.runAdmissionFilter(math32.Vec3(0, 0, 0), &stats)
	if len(removes) != 0 {
		t.Fatalf("removes = %d, want 0", len(removes))
	}
	if len(adds) != 3 || stats.GroupsInRange != 3 {
		t.Fatalf("adds = %d, in range = %d, want 3/3", len(adds), stats.GroupsInRange)
	}
	for i := 1; i < len(adds); i++ {
		if adds[i].distSq < adds[i-1].distSq {
			t.Fatalf("adds not sorted by distance: %v", adds)
		}
	}
	// Nearest group was registered last, at arena slot 2.
	if adds[0].group != 2 {
		t.Fatalf("closest add = group %d, want 2", adds[0].group)
	}
}

func TestAdmissionDeterministicAcrossParallelism(t *testing.T) {
	run := func(parallel bool) []groupAdd {
		s := newTestScene(t, func(cfg *Config) {
			cfg.ParallelUpdate = parallel
			cfg.ScanChunkSize = 2
		})
		for i := 0; i < 40; i++ {
			z := float32(5 + i%13)
			x := float32(i % 7)
			if _, err := s.RegisterGroup(boxGroupDesc(math32.Vec3(x, 0, z), 1)); err != nil {
				t.Fatalf("RegisterGroup: %v", err)
			}
		}
		var stats UpdateStats
		adds, _ := s.runAdmissionFilter(math32.Vec3(0, 0, 0), &stats)
		return adds
	}

	seq := run(false)
	par := run(true)
	if len(seq) != len(par) {
		t.Fatalf("add counts differ: %d vs %d", len(seq), len(par))
	}
	for i := range seq {
		if seq[i] != par[i] {
			t.Fatalf("add %d differs: %+v vs %+v", i, seq[i], par[i])
		}
	}
}

func TestAdmissionEmitsRemovals(t *testing.T) {
	s := newTestScene(t, nil)

	h, err := s.RegisterGroup(boxGroupDesc(math32.Vec3(0, 0, 10), 1))
	if err != nil {
		t.Fatalf("RegisterGroup: %v", err)
	}

	var stats UpdateStats
	adds, _ := s.runAdmissionFilter(math32.Vec3(0, 0, 0), &stats)
	s.applyStructuralChanges(adds, nil, &stats)
	if _, _, ok := s.MeshCardsFor(h); !ok {
		t.Fatal("group has no cards after admission")
	}

	// Teleport far away: the group must be emitted for removal.
	stats = UpdateStats{}
	adds, removes := s.runAdmissionFilter(math32.Vec3(0, 0, 5000), &stats)
	if len(adds) != 0 || len(removes) != 1 {
		t.Fatalf("adds/removes = %d/%d, want 0/1", len(adds), len(removes))
	}
	s.applyStructuralChanges(adds, removes, &stats)
	if _, _, ok := s.MeshCardsFor(h); ok {
		t.Fatal("cards not removed after leaving range")
	}
}
