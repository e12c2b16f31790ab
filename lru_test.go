package surfcache

import "testing"

// keys returns list contents from oldest to newest.
func keys(l *lruList[int]) []int {
	var out []int
	for n := l.Oldest(); n != nil; n = n.prev {
		out = append(out, n.key)
	}
	return out
}

func TestLRUOrder(t *testing.T) {
	var l lruList[int]
	if l.Oldest() != nil || l.Len() != 0 {
		t.Fatal("empty list not empty")
	}

	a := l.PushFront(1)
	l.PushFront(2)
	c := l.PushFront(3)

	got := keys(&l)
	want := []int{1, 2, 3}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order %v, want %v", got, want)
		}
	}

	l.MoveToFront(a)
	if l.Oldest().key != 2 {
		t.Fatalf("oldest = %d after moving 1 to front, want 2", l.Oldest().key)
	}
	// Moving the head is a no-op.
	l.MoveToFront(a)
	if l.Len() != 3 {
		t.Fatalf("Len = %d after head move, want 3", l.Len())
	}

	l.Remove(c)
	if l.Len() != 2 || l.contains(3) {
		t.Fatal("removed node still present")
	}

	l.Clear()
	if l.Len() != 0 || l.Oldest() != nil {
		t.Fatal("Clear left nodes behind")
	}
}

func (l *lruList[K]) contains(key K) bool {
	for n := l.head; n != nil; n = n.next {
		if n.key == key {
			return true
		}
	}
	return false
}

func TestLRURemoveEndpoints(t *testing.T) {
	var l lruList[int]
	a := l.PushFront(1)
	b := l.PushFront(2)
	c := l.PushFront(3)

	l.Remove(a) // tail
	if l.Oldest() != b {
		t.Fatal("tail removal did not promote next node")
	}
	l.Remove(c) // head
	if l.head != b || l.tail != b || l.Len() != 1 {
		t.Fatal("head removal broke single-node list")
	}
	l.Remove(b)
	if l.head != nil || l.tail != nil || l.Len() != 0 {
		t.Fatal("final removal left list non-empty")
	}
}

func TestDirtyCardSetDedup(t *testing.T) {
	var d dirtyCardSet
	for _, ci := range []CardIndex{5, 200, 5, 7, 200} {
		d.add(ci)
	}
	got := d.cards()
	want := []CardIndex{5, 200, 7}
	if len(got) != len(want) {
		t.Fatalf("cards = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("cards = %v, want %v", got, want)
		}
	}
	if !d.contains(200) || d.contains(6) {
		t.Fatal("membership wrong")
	}

	d.reset()
	if d.len() != 0 || d.contains(5) {
		t.Fatal("reset did not clear the set")
	}
	d.add(7)
	if d.len() != 1 || !d.contains(7) {
		t.Fatal("set unusable after reset")
	}
}
