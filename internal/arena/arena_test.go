package arena

import "testing"

func TestAllocGet(t *testing.T) {
	a := New[string](4)
	h := a.Alloc("first")
	if h.IsNil() {
		t.Fatal("Alloc returned nil handle")
	}
	v, ok := a.Get(h)
	if !ok {
		t.Fatal("Get failed for live handle")
	}
	if *v != "first" {
		t.Errorf("expected %q, got %q", "first", *v)
	}
	if a.Len() != 1 {
		t.Errorf("expected Len 1, got %d", a.Len())
	}
}

func TestFreeInvalidatesHandle(t *testing.T) {
	a := New[int](0)
	h := a.Alloc(7)
	if !a.Free(h) {
		t.Fatal("Free failed for live handle")
	}
	if _, ok := a.Get(h); ok {
		t.Error("Get succeeded for freed handle")
	}
	if a.Free(h) {
		t.Error("double Free succeeded")
	}
	if a.Len() != 0 {
		t.Errorf("expected Len 0, got %d", a.Len())
	}
}

func TestSlotReuseBumpsGeneration(t *testing.T) {
	a := New[int](0)
	h1 := a.Alloc(1)
	a.Free(h1)

	h2 := a.Alloc(2)
	if h2.Index != h1.Index {
		t.Fatalf("expected slot reuse, got index %d vs %d", h2.Index, h1.Index)
	}
	if h2.Gen == h1.Gen {
		t.Error("generation did not advance on reuse")
	}
	if _, ok := a.Get(h1); ok {
		t.Error("stale handle resolved after slot reuse")
	}
	v, ok := a.Get(h2)
	if !ok || *v != 2 {
		t.Errorf("new handle did not resolve, ok=%v", ok)
	}
}

func TestDenseIteration(t *testing.T) {
	a := New[int](0)
	h0 := a.Alloc(10)
	a.Alloc(20)
	h2 := a.Alloc(30)
	a.Free(h0)

	var sum int
	var live int
	for i := int32(0); i < a.Slots(); i++ {
		v := a.At(i)
		if v == nil {
			continue
		}
		live++
		sum += *v
	}
	if live != 2 || sum != 50 {
		t.Errorf("expected 2 live elements summing 50, got %d/%d", live, sum)
	}

	h, ok := a.HandleAt(h2.Index)
	if !ok || h != h2 {
		t.Errorf("HandleAt mismatch: %v vs %v", h, h2)
	}
	if _, ok := a.HandleAt(h0.Index); ok {
		t.Error("HandleAt succeeded for freed slot")
	}
}

func TestClear(t *testing.T) {
	a := New[int](0)
	h := a.Alloc(1)
	a.Alloc(2)
	a.Clear()

	if a.Len() != 0 {
		t.Errorf("expected empty arena, got %d", a.Len())
	}
	if _, ok := a.Get(h); ok {
		t.Error("handle survived Clear")
	}
	// Slots are recycled after Clear.
	h2 := a.Alloc(3)
	if v, ok := a.Get(h2); !ok || *v != 3 {
		t.Error("Alloc after Clear failed")
	}
}
