package surfcache

import "cogentcore.org/core/math32"

// CardPageRenderData is everything a capture backend needs to
// rasterize one page: the camera for the page's card-space window, the
// staging rectangle in the capture atlas, the destination rectangle in
// the persistent atlas, and the pre-gathered draw content.
type CardPageRenderData struct {
	Card     CardIndex
	ResLevel int32
	PageX    int32
	PageY    int32

	// CaptureRect is the staging target in the transient capture
	// atlas; AtlasRect is the final location in the persistent atlas.
	CaptureRect PageRect
	AtlasRect   PageRect

	// View transforms world space into the card capture camera frame;
	// Projection is the page window's orthographic projection.
	View       math32.Matrix4
	Projection math32.Matrix4

	// NearClipDisabled marks distant-scene captures, which must accept
	// geometry behind the card plane.
	NearClipDisabled bool

	// DrawCommands are the LOD-selected cached draw commands of the
	// card's conventional primitives.
	DrawCommands []uint32

	// NaniteInstances are the instance IDs of the card's Nanite
	// primitives.
	NaniteInstances []uint32
}

// cardCaptureView builds the view matrix of a card's capture camera:
// positioned on the card's front plane, looking along -axisZ, axisY
// up.
func cardCaptureView(card *Card) math32.Matrix4 {
	var basis math32.Matrix4
	basis[0], basis[1], basis[2] = card.axisX.X, card.axisX.Y, card.axisX.Z
	basis[4], basis[5], basis[6] = card.axisY.X, card.axisY.Y, card.axisY.Z
	basis[8], basis[9], basis[10] = card.axisZ.X, card.axisZ.Y, card.axisZ.Z
	basis[15] = 1

	var rot math32.Quat
	rot.SetFromRotationMatrix(&basis)

	eye := card.origin.Add(card.axisZ.MulScalar(card.halfExtents.Z))
	var world math32.Matrix4
	world.SetTransform(eye, rot, math32.Vec3(1, 1, 1))
	view, _ := world.Inverse()
	return *view
}

// orthographicOffCenter builds a zero-to-one depth orthographic
// projection over an off-center window, for a camera looking along -Z.
func orthographicOffCenter(left, right, bottom, top, near, far float32) math32.Matrix4 {
	var m math32.Matrix4
	m[0] = 2 / (right - left)
	m[5] = 2 / (top - bottom)
	m[10] = -1 / (far - near)
	m[12] = -(right + left) / (right - left)
	m[13] = -(top + bottom) / (top - bottom)
	m[14] = -near / (far - near)
	m[15] = 1
	return m
}

// cardPageProjection builds the orthographic projection of one page of
// one card mip. The window is the page's card-space rectangle widened
// by the capture border so edge texels have valid neighbors for
// filtering.
func (s *Scene) cardPageProjection(card *Card, level, px, py int32) math32.Matrix4 {
	ext := cardMipExtent(card.halfExtents, level)
	uv := ext.pageUV(px, py)

	hx := card.halfExtents.X
	if hx < minCardExtent {
		hx = minCardExtent
	}
	hy := card.halfExtents.Y
	if hy < minCardExtent {
		hy = minCardExtent
	}

	left := (uv.MinX*2 - 1) * hx
	right := (uv.MaxX*2 - 1) * hx
	bottom := (uv.MinY*2 - 1) * hy
	top := (uv.MaxY*2 - 1) * hy

	borderX := float32(cardCaptureBorderTexels) * (2 * hx / float32(ext.resX))
	borderY := float32(cardCaptureBorderTexels) * (2 * hy / float32(ext.resY))
	left -= borderX
	right += borderX
	bottom -= borderY
	top += borderY

	near := float32(0)
	if card.distantScene {
		// Distant-scene content sits far behind the card plane; the
		// near plane moves back to keep it in the capture volume.
		near = -s.cfg.MaxDistance
	}
	far := 2 * card.halfExtents.Z
	if far < minCardExtent {
		far = minCardExtent
	}
	return orthographicOffCenter(left, right, bottom, top, near, far)
}

// selectDrawLOD picks the cached draw command list of a conventional
// primitive for a capture at the given resolution level: the finest
// LOD at MaxResLevel, one step coarser per level below it, clamped to
// the coarsest available.
func selectDrawLOD(prim *Primitive, level int32) []uint32 {
	n := len(prim.LODCommands)
	if n == 0 {
		return nil
	}
	idx := int(MaxResLevel - level)
	if idx >= n {
		idx = n - 1
	}
	return prim.LODCommands[idx]
}

// buildCaptureRenderData turns the scheduler's capture jobs into
// backend-ready page render data, split by capture path. Pages of
// cards whose group vanished mid-frame are skipped; their content is
// re-requested next frame.
func (s *Scene) buildCaptureRenderData(jobs []captureJob) (conventional, nanite []CardPageRenderData) {
	for i := range jobs {
		job := &jobs[i]
		card := s.cards.at(job.card)
		group, ok := s.groups.Get(card.group)
		if !ok {
			continue
		}

		page := CardPageRenderData{
			Card:             job.card,
			ResLevel:         job.resLevel,
			PageX:            job.pageX,
			PageY:            job.pageY,
			CaptureRect:      job.captureRect,
			AtlasRect:        job.atlasRect,
			View:             cardCaptureView(card),
			Projection:       s.cardPageProjection(card, job.resLevel, job.pageX, job.pageY),
			NearClipDisabled: card.distantScene,
		}

		for p := range group.Primitives {
			prim := &group.Primitives[p]
			switch prim.Kind {
			case PrimitiveConventional:
				page.DrawCommands = append(page.DrawCommands, selectDrawLOD(prim, job.resLevel)...)
			case PrimitiveNanite:
				page.NaniteInstances = append(page.NaniteInstances, prim.InstanceIDs...)
			}
		}

		if len(page.NaniteInstances) > 0 {
			if len(page.DrawCommands) > 0 {
				// Mixed content captures through both paths into the
				// same staging rectangle.
				conv := page
				conv.NaniteInstances = nil
				conventional = append(conventional, conv)
				page.DrawCommands = nil
			}
			nanite = append(nanite, page)
			continue
		}
		conventional = append(conventional, page)
	}
	return conventional, nanite
}
