package surfcache

// UpdateStats collects the per-frame diagnostics of one Scene.Update
// call. The struct is reset at the start of each update and threaded
// through the pipeline stages; none of its fields are ambient globals.
type UpdateStats struct {
	// Frame is the monotonic update counter.
	Frame uint64

	// GroupsInRange is the number of primitive groups inside the
	// admission range this frame.
	GroupsInRange int

	// MeshCardsAdded and MeshCardsRemoved count structural changes.
	MeshCardsAdded   int
	MeshCardsRemoved int

	// MeshCardsAddsPending counts in-range groups whose add did not
	// fit this frame's budget; the admission filter re-emits them.
	MeshCardsAddsPending int

	// CardsVisible is the number of cards visible after evaluation;
	// CardsHidden counts cards hidden this frame.
	CardsVisible int
	CardsHidden  int

	// LockedRequests and HiResRequests count the gathered capture
	// requests by class.
	LockedRequests int
	HiResRequests  int

	// PagesCaptured is the number of pages queued for capture;
	// PagesEvicted is the number of physical pages reclaimed.
	PagesCaptured int
	PagesEvicted  int

	// RequestsDropped counts requests that could not be satisfied this
	// frame (atlas pressure or capture-atlas overflow). Non-fatal:
	// they are re-derived next frame.
	RequestsDropped int

	// CaptureAtlasOverflows counts requests rejected specifically by
	// the transient capture atlas.
	CaptureAtlasOverflows int

	// PhysPagesUsed and PhysPagesFree snapshot atlas occupancy at the
	// end of the update.
	PhysPagesUsed int
	PhysPagesFree int
}
