package objarray

import (
	"regscan/internal/layout"
	"regscan/internal/memory"
)

const (
	itemHeaderSearchEnd = 0x10
	itemStrideSearchEnd = 0x38

	indexProbeA         = 0x374
	indexProbeB         = 0x106
	indexFieldStart     = 0x8
	indexFieldSearchEnd = 0x20
)

// LearnItemLayout finds where the object pointer sits inside an item record
// and the distance between records, starting from the first record.
//
// The header offset is the first of 0, 4, 8, 12 holding a valid pointer. The
// stride is confirmed only when the next two records' object pointers, and
// the vtables they point to, are all readable. ok is false when no stride
// was found; offset and stride are then left at what was learned (possibly 0).
func LearnItemLayout(v memory.View, first uint64) (offset, stride int32, ok bool) {
	for i := int32(0); i < itemHeaderSearchEnd; i += 4 {
		if v.ValidPtr(v.Ptr(first + uint64(i))) {
			offset = i
			break
		}
	}

	for i := offset + 8; i <= itemStrideSearchEnd; i += 4 {
		second := v.Ptr(first + uint64(i))
		third := v.Ptr(first + uint64(i*2-offset))

		if v.ValidPtr(second) && v.ValidPtr(v.Ptr(second)) &&
			v.ValidPtr(third) && v.ValidPtr(v.Ptr(third)) {
			return offset, i - offset, true
		}
	}
	return offset, 0, false
}

// LearnChunkSize tells the two historical chunk capacities apart. It reads an
// object past the first chunk as if chunks held 0x10000 objects; if that
// object's own index disagrees with the index asked for, chunks are larger.
// The item layout must already be learned.
func (h *Handle) LearnChunkSize() int32 {
	indexOffset := h.findIndexField()

	// Chunks are allocated in order, so the first empty table slot ends the
	// walk. idx is 64 bits wide so a corrupt count cannot wrap it.
	table := h.objects()
	for idx := int64(layout.ChunkSizeLarge); idx < int64(h.Num()); idx += layout.ChunkSizeLarge {
		if h.view.Ptr(table+uint64(idx/layout.ChunkSizeDefault)*memory.PointerSize) == 0 {
			break
		}
		obj := h.byIndex(int32(idx), h.itemSize, h.itemOffset, layout.ChunkSizeDefault)
		if obj == 0 {
			continue
		}
		if h.view.Int32(obj+uint64(indexOffset)) != int32(idx) {
			return layout.ChunkSizeLarge
		}
		return layout.ChunkSizeDefault
	}
	return layout.ChunkSizeDefault
}

// findIndexField locates the object's own-index field by finding the offset at
// which two objects from the first chunk both report their index.
func (h *Handle) findIndexField() int32 {
	a := h.byIndex(indexProbeA, h.itemSize, h.itemOffset, layout.ChunkSizeDefault)
	b := h.byIndex(indexProbeB, h.itemSize, h.itemOffset, layout.ChunkSizeDefault)

	for i := int32(indexFieldStart); i < indexFieldSearchEnd; i++ {
		if h.view.Int32(a+uint64(i)) == indexProbeA && h.view.Int32(b+uint64(i)) == indexProbeB {
			return i
		}
	}
	return 0
}
