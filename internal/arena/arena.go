// Package arena provides an index-stable slot arena with generation
// handles.
//
// The arena backs the sparse, densely-iterated collections of the
// surface cache (primitive groups, mesh-cards). Elements are referenced
// by Handle, never by pointer: slots are reused through a free list, and
// a per-slot generation counter detects stale handles after reuse.
package arena

// Handle identifies one live element in an Arena.
//
// The zero Handle is not valid; use Nil for an explicit "no element"
// value. A Handle becomes stale once its element is freed, and stale
// handles are rejected by Get and Free.
type Handle struct {
	// Index is the slot index. Negative for Nil.
	Index int32
	// Gen is the slot generation the handle was created with.
	Gen uint32
}

// Nil is the invalid handle.
var Nil = Handle{Index: -1}

// IsNil reports whether the handle is the explicit "no element" value.
func (h Handle) IsNil() bool { return h.Index < 0 }

// slot holds one element together with its liveness state.
type slot[T any] struct {
	value T
	gen   uint32
	live  bool
}

// Arena is a growable pool of slots with free-list reuse.
//
// Arena is not safe for concurrent mutation. Concurrent read-only
// access (At, IsLive, Len) is safe as long as no Alloc/Free/Clear runs
// at the same time, which is the access pattern of the parallel scan
// stages.
type Arena[T any] struct {
	slots []slot[T]
	free  []int32
	count int
}

// New creates an arena with room for capacityHint elements before the
// first growth.
func New[T any](capacityHint int) *Arena[T] {
	if capacityHint < 0 {
		capacityHint = 0
	}
	return &Arena[T]{
		slots: make([]slot[T], 0, capacityHint),
	}
}

// Alloc stores v in a free slot and returns its handle.
func (a *Arena[T]) Alloc(v T) Handle {
	if n := len(a.free); n > 0 {
		idx := a.free[n-1]
		a.free = a.free[:n-1]
		s := &a.slots[idx]
		s.value = v
		s.live = true
		a.count++
		return Handle{Index: idx, Gen: s.gen}
	}
	a.slots = append(a.slots, slot[T]{value: v, live: true})
	a.count++
	return Handle{Index: int32(len(a.slots) - 1), Gen: 0}
}

// Get returns a pointer to the element for h, or (nil, false) if h is
// nil, stale, or out of range.
func (a *Arena[T]) Get(h Handle) (*T, bool) {
	if h.Index < 0 || int(h.Index) >= len(a.slots) {
		return nil, false
	}
	s := &a.slots[h.Index]
	if !s.live || s.gen != h.Gen {
		return nil, false
	}
	return &s.value, true
}

// At returns a pointer to the live element at slot index i, or nil if
// the slot is free or out of range. Used by dense iteration where the
// caller walks indices 0..Slots().
func (a *Arena[T]) At(i int32) *T {
	if i < 0 || int(i) >= len(a.slots) || !a.slots[i].live {
		return nil
	}
	return &a.slots[i].value
}

// IsLive reports whether slot index i holds a live element.
func (a *Arena[T]) IsLive(i int32) bool {
	return i >= 0 && int(i) < len(a.slots) && a.slots[i].live
}

// HandleAt returns the current handle for the live element at slot
// index i.
func (a *Arena[T]) HandleAt(i int32) (Handle, bool) {
	if !a.IsLive(i) {
		return Nil, false
	}
	return Handle{Index: i, Gen: a.slots[i].gen}, true
}

// Free releases the element for h and recycles its slot.
// Freeing a nil or stale handle is a no-op and returns false.
func (a *Arena[T]) Free(h Handle) bool {
	if h.Index < 0 || int(h.Index) >= len(a.slots) {
		return false
	}
	s := &a.slots[h.Index]
	if !s.live || s.gen != h.Gen {
		return false
	}
	var zero T
	s.value = zero
	s.live = false
	s.gen++
	a.free = append(a.free, h.Index)
	a.count--
	return true
}

// Len returns the number of live elements.
func (a *Arena[T]) Len() int { return a.count }

// Slots returns the iteration bound: one past the highest slot index
// ever allocated. Slots in [0, Slots()) may be free; check At or IsLive.
func (a *Arena[T]) Slots() int32 { return int32(len(a.slots)) }

// Clear frees every element. Generations survive so handles issued
// before Clear stay invalid.
func (a *Arena[T]) Clear() {
	for i := range a.slots {
		if a.slots[i].live {
			var zero T
			a.slots[i].value = zero
			a.slots[i].live = false
			a.slots[i].gen++
			a.free = append(a.free, int32(i))
		}
	}
	a.count = 0
}
