package objarray

import (
	"regscan/internal/decrypt"
	"regscan/internal/layout"
	"regscan/internal/memory"
)

const (
	flatMaxElements = 0x400000
	flatMinElements = 0x1000

	chunkedMinChunks    = 0x1
	chunkedMaxChunks    = 0x14
	chunkedMinMaxChunks = 0x6
	chunkedMaxMaxChunks = 0x22F
)

// ValidateFlat reports whether addr looks like a flat registry header under l.
// The discriminating check is that the sixth live object, reached through a
// provisional item stride, reports its own index as 5.
func ValidateFlat(v memory.View, d decrypt.Decryptor, addr uint64, l layout.Flat) bool {
	objects := v.Ptr(addr + uint64(l.ObjectsOffset))
	maxElements := v.Int32(addr + uint64(l.MaxOffset))
	numElements := v.Int32(addr + uint64(l.NumOffset))

	items := d.Decrypt(objects)

	if numElements > maxElements {
		return false
	}
	if maxElements > flatMaxElements {
		return false
	}
	if numElements < flatMinElements {
		return false
	}
	if !v.ValidPtr(items) {
		return false
	}

	fifth := v.Ptr(items + 5*layout.ProvisionalItemSize)
	if !v.ValidPtr(fifth) {
		return false
	}

	return v.Int32(fifth+layout.ProvisionalIndexOffset) == 5
}

// ValidateChunked reports whether addr looks like a chunked registry header
// under l. On success it returns the offset of the chunk-table pointer inside
// the header, which the accessor needs later.
func ValidateChunked(v memory.View, d decrypt.Decryptor, addr uint64, l layout.Chunked) (int32, bool) {
	objects := v.Ptr(addr + uint64(l.ObjectsOffset))
	maxElements := v.Int32(addr + uint64(l.MaxElementsOffset))
	numElements := v.Int32(addr + uint64(l.NumElementsOffset))
	maxChunks := v.Int32(addr + uint64(l.MaxChunksOffset))
	numChunks := v.Int32(addr + uint64(l.NumChunksOffset))

	table := d.Decrypt(objects)

	if numChunks > chunkedMaxChunks || numChunks < chunkedMinChunks {
		return 0, false
	}
	if maxChunks > chunkedMaxMaxChunks || maxChunks < chunkedMinMaxChunks {
		return 0, false
	}
	if numElements > maxElements || numChunks > maxChunks {
		return 0, false
	}

	// There are never too many or too few chunks for the elements, under
	// either of the two chunk sizes in use.
	numFits, maxFits := false, false
	for _, size := range layout.ChunkSizes {
		if numElements/size+1 == numChunks {
			numFits = true
		}
		if maxElements/size == maxChunks {
			maxFits = true
		}
	}
	if !numFits || !maxFits {
		return 0, false
	}

	if !v.ValidPtr(table) {
		return 0, false
	}
	for i := int32(0); i < numChunks; i++ {
		if !v.ValidPtr(v.Ptr(table + uint64(i)*memory.PointerSize)) {
			return 0, false
		}
	}

	return l.ObjectsOffset, true
}
