package objarray

import (
	"regscan/internal/layout"
	"regscan/internal/memory"
)

// ByIndex returns the address of the object stored at index, or 0 if the
// index is outside [0, Num()) or any pointer on the way is unreadable.
// A 0 inside the range is a hole left by a destroyed object.
func (h *Handle) ByIndex(index int32) uint64 {
	return h.byIndex(index, h.itemSize, h.itemOffset, h.chunkSize)
}

// GetByIndex wraps the object at index with wrap. Out-of-range indices and
// holes are passed to wrap as 0, its null value.
func GetByIndex[T any](h *Handle, index int32, wrap func(addr uint64) T) T {
	return wrap(h.ByIndex(index))
}

// byIndex resolves an index under explicit item and chunk parameters, so the
// chunk-size probe can try a capacity before one is known.
func (h *Handle) byIndex(index, itemSize, itemOffset, perChunk int32) uint64 {
	if itemSize <= 0 {
		return 0
	}
	if index < 0 || index >= h.Num() {
		return 0
	}

	objects := h.objects()
	if objects == 0 {
		return 0
	}

	switch h.kind {
	case layout.KindFlat:
		item := objects + uint64(index)*uint64(itemSize)
		return h.view.Ptr(item + uint64(itemOffset))

	case layout.KindChunked:
		if perChunk <= 0 {
			return 0
		}
		chunk := h.view.Ptr(objects + uint64(index/perChunk)*memory.PointerSize)
		if chunk == 0 {
			return 0
		}
		item := chunk + uint64(index%perChunk)*uint64(itemSize)
		return h.view.Ptr(item + uint64(itemOffset))

	default:
		return 0
	}
}

// objects returns the decrypted items pointer, or the chunk table for a
// chunked registry.
func (h *Handle) objects() uint64 {
	return h.decrypt.Decrypt(h.view.Ptr(h.base + uint64(h.ptrOffset)))
}
