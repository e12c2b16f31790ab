package surfcache

import (
	"encoding/binary"
	"math"

	"cogentcore.org/core/math32"
)

// GPU buffer record strides in bytes. The layouts are std430-friendly:
// every field is 4-byte aligned and records are multiples of 16.
const (
	// pageTableEntryStride: card, resLevel, packed page coords, flags,
	// atlas rect (4 x u16), card UV (4 x f32).
	pageTableEntryStride = 40

	// cardRecordStride: origin, three axes, half extents (5 x vec3),
	// locked level, min allocated level, flags, group index, desired
	// level.
	cardRecordStride = 80

	// meshCardsRecordStride: group index, first card, card count, pad.
	meshCardsRecordStride = 16
)

// pteFlagMapped marks a page table entry backed by a physical page.
const pteFlagMapped = 1 << 0

// Card record flag bits.
const (
	cardFlagAllocated = 1 << 0
	cardFlagVisible   = 1 << 1
	cardFlagDistant   = 1 << 2
)

// BufferUpdate is one ranged write into a persistent GPU buffer.
type BufferUpdate struct {
	Offset uint64
	Data   []byte
}

// GPUBuffers is one frame's buffer payload for the texture backend.
// The page table and mesh-cards buffers are rewritten whole; the card
// buffer is updated only for cards the frame touched.
type GPUBuffers struct {
	// PageTable is the full page table buffer.
	PageTable []byte

	// Cards is the full card buffer snapshot, used when a backend has
	// to (re)create its card buffer.
	Cards []byte

	// CardUpdates are the ranged card record writes for this frame's
	// dirty cards, in deterministic first-touch order. Backends whose
	// card buffer is already sized apply these instead of Cards.
	CardUpdates []BufferUpdate

	// MeshCards is the full mesh-cards buffer.
	MeshCards []byte
}

// putFloat32 writes one little-endian float32.
func putFloat32(b []byte, v float32) {
	binary.LittleEndian.PutUint32(b, math.Float32bits(v))
}

// putVector3 writes one vector as three little-endian float32s.
func putVector3(b []byte, v math32.Vector3) {
	putFloat32(b[0:], v.X)
	putFloat32(b[4:], v.Y)
	putFloat32(b[8:], v.Z)
}

// encodePageTableEntry serializes one entry into b.
func encodePageTableEntry(b []byte, e *PageTableEntry) {
	binary.LittleEndian.PutUint32(b[0:], uint32(e.Card))
	binary.LittleEndian.PutUint32(b[4:], uint32(e.ResLevel))
	binary.LittleEndian.PutUint32(b[8:], uint32(e.PageX)|uint32(e.PageY)<<16)
	var flags uint32
	if e.Mapped {
		flags |= pteFlagMapped
	}
	binary.LittleEndian.PutUint32(b[12:], flags)
	binary.LittleEndian.PutUint16(b[16:], uint16(e.Atlas.X))
	binary.LittleEndian.PutUint16(b[18:], uint16(e.Atlas.Y))
	binary.LittleEndian.PutUint16(b[20:], uint16(e.Atlas.W))
	binary.LittleEndian.PutUint16(b[22:], uint16(e.Atlas.H))
	putFloat32(b[24:], e.CardUV.MinX)
	putFloat32(b[28:], e.CardUV.MinY)
	putFloat32(b[32:], e.CardUV.MaxX)
	putFloat32(b[36:], e.CardUV.MaxY)
}

// encodeCardRecord serializes one card into b.
func encodeCardRecord(b []byte, card *Card) {
	putVector3(b[0:], card.origin)
	putVector3(b[12:], card.axisX)
	putVector3(b[24:], card.axisY)
	putVector3(b[36:], card.axisZ)
	putVector3(b[48:], card.halfExtents)

	binary.LittleEndian.PutUint32(b[60:], uint32(card.lockedResLevel))
	binary.LittleEndian.PutUint32(b[64:], uint32(card.minAllocated))
	var flags uint32
	if card.allocated {
		flags |= cardFlagAllocated
	}
	if card.visible {
		flags |= cardFlagVisible
	}
	if card.distantScene {
		flags |= cardFlagDistant
	}
	binary.LittleEndian.PutUint32(b[68:], flags)
	binary.LittleEndian.PutUint32(b[72:], uint32(card.group.Index))
	binary.LittleEndian.PutUint32(b[76:], uint32(card.desiredResLevel))
}

// buildGPUBuffers assembles the frame's buffer payload: the whole page
// table, ranged card updates for the dirty set, and the whole
// mesh-cards table.
func (s *Scene) buildGPUBuffers(dirty *dirtyCardSet) *GPUBuffers {
	out := &GPUBuffers{}

	n := s.alloc.pageTableLen()
	out.PageTable = make([]byte, int(n)*pageTableEntryStride)
	for i := int32(0); i < n; i++ {
		encodePageTableEntry(out.PageTable[int(i)*pageTableEntryStride:], s.alloc.pte(i))
	}

	numCards := s.cards.len()
	out.Cards = make([]byte, int(numCards)*cardRecordStride)
	for i := int32(0); i < numCards; i++ {
		encodeCardRecord(out.Cards[int(i)*cardRecordStride:], s.cards.at(i))
	}

	for _, ci := range dirty.cards() {
		out.CardUpdates = append(out.CardUpdates, BufferUpdate{
			Offset: uint64(ci) * cardRecordStride,
			Data:   out.Cards[int(ci)*cardRecordStride : int(ci+1)*cardRecordStride],
		})
	}

	slots := s.meshCards.Slots()
	out.MeshCards = make([]byte, int(slots)*meshCardsRecordStride)
	for i := int32(0); i < slots; i++ {
		mc := s.meshCards.At(i)
		if mc == nil {
			continue
		}
		b := out.MeshCards[int(i)*meshCardsRecordStride:]
		binary.LittleEndian.PutUint32(b[0:], uint32(mc.group.Index))
		binary.LittleEndian.PutUint32(b[4:], uint32(mc.firstCard))
		binary.LittleEndian.PutUint32(b[8:], uint32(mc.numCards))
	}
	return out
}
