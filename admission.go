package surfcache

import (
	"sort"

	"cogentcore.org/core/math32"
	scalar "github.com/chewxy/math32"

	"github.com/gogpu/surfcache/internal/parallel"
)

// admissionEpsilon keeps groups on the projected-size boundary from
// flickering in and out of range between frames.
const admissionEpsilon = 0.01

// minAdmissionTexels is the coarse projected-size floor for admission;
// the real resolution decision happens later, per card.
const minAdmissionTexels = 2

// groupAdd is one admission candidate, carrying the squared distance
// used to prioritize the closest new cards under the per-frame add
// budget.
type groupAdd struct {
	group  int32
	distSq float32
}

// admissionChunk is the private output of one admission scan chunk.
type admissionChunk struct {
	adds         []groupAdd
	removes      []int32
	groupsInRange int
}

// shouldHaveMeshCards is the admission predicate: a pure function of
// one group's own data and the camera, so chunking never changes the
// result.
func (s *Scene) shouldHaveMeshCards(g *PrimitiveGroup, camera math32.Vector3) (bool, float32) {
	if !g.validForCards {
		return false, 0
	}
	dist := g.Bounds.DistanceToPoint(camera)
	distSq := dist * dist

	if g.DistantScene {
		// Distant-scene groups bypass the range test; they are the
		// fallback representation past the detail range.
		return true, distSq
	}
	if distSq > s.cfg.MaxDistance*s.cfg.MaxDistance {
		return false, distSq
	}
	projected := s.cfg.TexelDensityScale * g.maxBoxExtent() / scalar.Max(dist, 1)
	return projected+admissionEpsilon >= minAdmissionTexels, distSq
}

// runAdmissionFilter partitions all primitive groups into "should have
// mesh cards" and "should not", returning the structural change lists.
// The group array is scanned in fixed-size chunks with no shared
// mutable state; chunk outputs are merged in chunk-index order and the
// adds are sorted by ascending distance (ties by group index) so the
// closest new cards win the per-frame add budget deterministically.
func (s *Scene) runAdmissionFilter(camera math32.Vector3, stats *UpdateStats) (adds []groupAdd, removes []int32) {
	n := s.groups.Slots()
	ranges := parallel.Chunks(n, s.cfg.scanChunkSize())
	if len(ranges) == 0 {
		return nil, nil
	}

	chunks := make([]admissionChunk, len(ranges))
	s.runChunks(len(ranges), func(ci int) {
		r := ranges[ci]
		out := &chunks[ci]
		for i := r.Start; i < r.End; i++ {
			g := s.groups.At(i)
			if g == nil {
				continue
			}
			inRange, distSq := s.shouldHaveMeshCards(g, camera)
			if inRange {
				out.groupsInRange++
			}
			switch {
			case inRange && !g.hasMeshCards():
				out.adds = append(out.adds, groupAdd{group: i, distSq: distSq})
			case !inRange && g.hasMeshCards():
				out.removes = append(out.removes, i)
			}
		}
	})

	for i := range chunks {
		stats.GroupsInRange += chunks[i].groupsInRange
		adds = append(adds, chunks[i].adds...)
		removes = append(removes, chunks[i].removes...)
	}

	sort.SliceStable(adds, func(a, b int) bool {
		if adds[a].distSq != adds[b].distSq {
			return adds[a].distSq < adds[b].distSq
		}
		return adds[a].group < adds[b].group
	})
	return adds, removes
}

// runChunks executes n chunk closures, across the worker pool when
// parallel updates are enabled, inline otherwise. Closures receive
// their chunk index and must write only to their own output slot.
func (s *Scene) runChunks(n int, fn func(chunk int)) {
	if !s.cfg.ParallelUpdate || s.pool == nil || n == 1 {
		for i := 0; i < n; i++ {
			fn(i)
		}
		return
	}
	work := make([]func(), n)
	for i := 0; i < n; i++ {
		idx := i
		work[i] = func() { fn(idx) }
	}
	s.pool.ExecuteAll(work)
}
