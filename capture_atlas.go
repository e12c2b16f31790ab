package surfcache

// captureAtlasAllocator manages the transient capture atlas: the
// scratch texture that newly captured pages are rasterized into before
// being copied into the persistent surface cache.
//
// Card pages are at most one physical page in size, so the capture
// atlas is carved into PageTexelSize-square staging slots and
// allocation degenerates to a free-slot count: space checks are exact
// and allocation after a successful check cannot fail. The allocator
// is reset at the start of every frame; nothing in it survives a
// frame, which bounds transient GPU memory independent of the
// persistent atlas's occupancy.
type captureAtlasAllocator struct {
	texels       int32
	slotsPerSide int32
	totalSlots   int32
	nextSlot     int32
}

// newCaptureAtlasAllocator sizes a square capture atlas with room for
// at least capacityPages staging slots.
func newCaptureAtlasAllocator(capacityPages int) *captureAtlasAllocator {
	if capacityPages < 1 {
		capacityPages = 1
	}
	// Smallest power-of-two slot grid holding the requested capacity.
	side := int32(1)
	for side*side < int32(capacityPages) {
		side <<= 1
	}
	return &captureAtlasAllocator{
		texels:       side * PageTexelSize,
		slotsPerSide: side,
		totalSlots:   side * side,
	}
}

// Texels returns the capture atlas dimension in texels (square).
func (c *captureAtlasAllocator) Texels() int32 { return c.texels }

// Capacity returns the staging slot capacity.
func (c *captureAtlasAllocator) Capacity() int { return int(c.totalSlots) }

// Reset recycles the whole atlas for a new frame.
func (c *captureAtlasAllocator) Reset() { c.nextSlot = 0 }

// IsSpaceAvailable reports whether n more staging slots fit this
// frame.
func (c *captureAtlasAllocator) IsSpaceAvailable(n int32) bool {
	return c.nextSlot+n <= c.totalSlots
}

// Allocate reserves one staging slot for a page of w x h texels and
// returns its capture atlas rectangle. Returns an invalid rect when
// the atlas is exhausted; callers check IsSpaceAvailable first, so an
// invalid rect indicates a scheduler bookkeeping bug rather than a
// recoverable condition.
func (c *captureAtlasAllocator) Allocate(w, h int32) PageRect {
	if c.nextSlot >= c.totalSlots {
		return PageRect{}
	}
	slot := c.nextSlot
	c.nextSlot++
	return PageRect{
		X: (slot % c.slotsPerSide) * PageTexelSize,
		Y: (slot / c.slotsPerSide) * PageTexelSize,
		W: w,
		H: h,
	}
}
