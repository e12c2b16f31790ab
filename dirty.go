package surfcache

// dirtyCardSet is an insertion-ordered set of card indices touched by
// allocation or eviction during one update.
//
// Ordering is correctness-relevant: the post-scheduler mip hierarchy
// recompute and GPU card-buffer update must observe the final allocator
// state for every touched card exactly once, in a deterministic order.
// Membership uses a grown-on-demand bitmap (one bit per card index) so
// the sequential scheduler pass stays allocation-light.
type dirtyCardSet struct {
	order []CardIndex
	bits  []uint64
}

// add inserts a card index, keeping first-insertion order.
func (d *dirtyCardSet) add(card CardIndex) {
	word := int(card >> 6)
	bit := uint64(1) << (card & 63)
	for word >= len(d.bits) {
		d.bits = append(d.bits, 0)
	}
	if d.bits[word]&bit != 0 {
		return
	}
	d.bits[word] |= bit
	d.order = append(d.order, card)
}

// contains reports membership.
func (d *dirtyCardSet) contains(card CardIndex) bool {
	word := int(card >> 6)
	if word >= len(d.bits) {
		return false
	}
	return d.bits[word]&(uint64(1)<<(card&63)) != 0
}

// cards returns the members in insertion order. The slice is owned by
// the set and valid until the next reset.
func (d *dirtyCardSet) cards() []CardIndex { return d.order }

// len returns the member count.
func (d *dirtyCardSet) len() int { return len(d.order) }

// reset clears the set, retaining capacity for the next frame.
func (d *dirtyCardSet) reset() {
	d.order = d.order[:0]
	for i := range d.bits {
		d.bits[i] = 0
	}
}
