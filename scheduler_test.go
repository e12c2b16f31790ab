package surfcache

import (
	"testing"

	"cogentcore.org/core/math32"
)

func runFrame(t *testing.T, s *Scene, camera math32.Vector3) *FrameOutput {
	t.Helper()
	out, err := s.Update(FrameView{CameraOrigin: camera})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	return out
}

func TestSchedulerCaptureBudget(t *testing.T) {
	s := newTestScene(t, func(cfg *Config) {
		cfg.MaxCapturePagesPerFrame = 4
	})
	// Three groups, six cards each, one locked page per card: 18
	// wanted pages against a budget of 4.
	for i := 0; i < 3; i++ {
		if _, err := s.RegisterGroup(boxGroupDesc(math32.Vec3(float32(i)*5, 0, 12), 1)); err != nil {
			t.Fatalf("RegisterGroup: %v", err)
		}
	}

	out := runFrame(t, s, math32.Vec3(0, 0, 0))
	if out.Stats.PagesCaptured > 4 {
		t.Fatalf("PagesCaptured = %d, over budget 4", out.Stats.PagesCaptured)
	}
	if out.Stats.RequestsDropped == 0 {
		t.Fatal("over-budget frame dropped nothing")
	}

	// The backlog drains over subsequent frames.
	total := out.Stats.PagesCaptured
	for frame := 0; frame < 8 && total < 18; frame++ {
		out = runFrame(t, s, math32.Vec3(0, 0, 0))
		if out.Stats.PagesCaptured > 4 {
			t.Fatalf("frame %d: PagesCaptured = %d, over budget", frame, out.Stats.PagesCaptured)
		}
		total += out.Stats.PagesCaptured
	}
	if total != 18 {
		t.Fatalf("total captured = %d, want 18", total)
	}
}

func TestSchedulerLockedBeforeHiRes(t *testing.T) {
	reqs := []surfaceCacheRequest{
		{card: 0, resLevel: 9, pageIndex: 0, locked: false, priority: 1},
		{card: 1, resLevel: 5, pageIndex: InvalidIndex, locked: true, priority: 100},
	}
	s := newTestScene(t, nil)
	admitGroup(t, s, boxGroupDesc(math32.Vec3(0, 0, 0), 1))
	admitGroup(t, s, boxGroupDesc(math32.Vec3(10, 0, 0), 1))

	var dirty dirtyCardSet
	var stats UpdateStats
	jobs := s.runScheduler(reqs, &dirty, &stats)
	if len(jobs) < 2 {
		t.Fatalf("jobs = %d, want >= 2", len(jobs))
	}
	// The locked request schedules first despite its worse priority.
	if jobs[0].card != 1 || jobs[0].resLevel != 5 {
		t.Fatalf("first job = card %d level %d, want locked card 1 level 5", jobs[0].card, jobs[0].resLevel)
	}
}

func TestSchedulerForcedEvictionForLocked(t *testing.T) {
	// 4-page atlas. One card's optional detail fills a page this
	// frame; a locked request for 4 pages must force it out.
	s := newTestScene(t, nil)
	_, first, _ := admitGroup(t, s, boxGroupDesc(math32.Vec3(0, 0, 0), 1))
	s.alloc.resize(256) // 2x2 = 4 pages
	s.alloc.frame = 1
	card := s.cards.at(first)
	var dirty dirtyCardSet
	if _, ok := s.alloc.reallocVirtualSurface(first, card, 6, &dirty); !ok {
		t.Fatal("base realloc failed")
	}
	if _, ok := s.alloc.mapOptionalPage(first, card, 7, 0); !ok {
		t.Fatal("optional map failed")
	}
	if s.alloc.physPagesFree() != 2 {
		t.Fatalf("free pages = %d, want 2", s.alloc.physPagesFree())
	}

	// Second card of the same group wants a 4-page locked level 8:
	// needs the optional page plus the old base gone. Only unlocked
	// allocations can yield, so the request must reclaim the optional
	// page (semi-protected, same frame) via force and then still fail
	// for the locked remainder.
	reqs := []surfaceCacheRequest{
		{card: first + 1, resLevel: 8, pageIndex: InvalidIndex, locked: true, priority: 0},
	}
	var stats UpdateStats
	jobs := s.runScheduler(reqs, &dirty, &stats)
	if len(jobs) != 0 {
		t.Fatalf("jobs = %d, want 0 (locked pages cannot evict)", len(jobs))
	}
	if stats.RequestsDropped != 1 {
		t.Fatalf("RequestsDropped = %d, want 1", stats.RequestsDropped)
	}
	// The force pass reclaimed the optional detail on the way.
	if card.mip(7).isMapped() {
		t.Fatal("semi-protected optional page not force-evicted")
	}
	// The locked base survived.
	if !card.mip(6).isFullyMapped() {
		t.Fatal("locked base evicted")
	}
}

func TestSchedulerHiResNeverForces(t *testing.T) {
	s := newTestScene(t, nil)
	_, first, _ := admitGroup(t, s, boxGroupDesc(math32.Vec3(0, 0, 0), 1))
	s.alloc.resize(128) // single page atlas

	s.alloc.frame = 1
	card := s.cards.at(first)
	var dirty dirtyCardSet
	if _, ok := s.alloc.mapOptionalPage(first, card, 7, 0); !ok {
		t.Fatal("optional map failed")
	}

	// Another hi-res request cannot displace this frame's detail.
	reqs := []surfaceCacheRequest{
		{card: first + 1, resLevel: 7, pageIndex: 0, locked: false, priority: 0},
	}
	var stats UpdateStats
	jobs := s.runScheduler(reqs, &dirty, &stats)
	if len(jobs) != 0 || stats.RequestsDropped != 1 {
		t.Fatalf("jobs/dropped = %d/%d, want 0/1", len(jobs), stats.RequestsDropped)
	}
	if !card.mip(7).isMapped() {
		t.Fatal("semi-protected page displaced by hi-res request")
	}
}

func TestSchedulerCaptureAtlasOverflow(t *testing.T) {
	s := newTestScene(t, func(cfg *Config) {
		// Budget larger than the capture atlas can stage.
		cfg.MaxCapturePagesPerFrame = 64
		cfg.CaptureAtlasFactor = 1
	})
	// Force a one-slot capture atlas.
	s.captureAtlas = newCaptureAtlasAllocator(1)

	admitGroup(t, s, boxGroupDesc(math32.Vec3(0, 0, 0), 1))
	admitGroup(t, s, boxGroupDesc(math32.Vec3(10, 0, 0), 1))

	reqs := []surfaceCacheRequest{
		{card: 0, resLevel: 5, pageIndex: InvalidIndex, locked: true, priority: 0},
		{card: 6, resLevel: 5, pageIndex: InvalidIndex, locked: true, priority: 1},
	}
	var dirty dirtyCardSet
	var stats UpdateStats
	jobs := s.runScheduler(reqs, &dirty, &stats)
	if len(jobs) != 1 {
		t.Fatalf("jobs = %d, want 1 (one staging slot)", len(jobs))
	}
	if stats.CaptureAtlasOverflows != 1 || stats.RequestsDropped != 1 {
		t.Fatalf("overflows/dropped = %d/%d, want 1/1",
			stats.CaptureAtlasOverflows, stats.RequestsDropped)
	}
}

func TestSortRequestsTieBreaks(t *testing.T) {
	reqs := []surfaceCacheRequest{
		{card: 2, resLevel: 5, pageIndex: 1, priority: 1},
		{card: 1, resLevel: 6, pageIndex: 0, priority: 1},
		{card: 1, resLevel: 5, pageIndex: 2, priority: 1},
		{card: 1, resLevel: 5, pageIndex: 0, priority: 1},
		{card: 0, resLevel: 9, pageIndex: 0, priority: 2},
	}
	sortRequests(reqs)

	want := []surfaceCacheRequest{
		{card: 1, resLevel: 5, pageIndex: 0, priority: 1},
		{card: 1, resLevel: 5, pageIndex: 2, priority: 1},
		{card: 1, resLevel: 6, pageIndex: 0, priority: 1},
		{card: 2, resLevel: 5, pageIndex: 1, priority: 1},
		{card: 0, resLevel: 9, pageIndex: 0, priority: 2},
	}
	for i := range want {
		if reqs[i] != want[i] {
			t.Fatalf("position %d: got %+v, want %+v", i, reqs[i], want[i])
		}
	}
}
