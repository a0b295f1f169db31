// Package objarray discovers and reads the engine's live-object registry.
//
// Discovery slides over a window of the target image, checks each 4-byte
// aligned address against the known header layouts, and on the first match
// learns the item record layout (and, for chunked registries, the chunk
// capacity) by probing. The resulting Handle is read-only and gives indexed
// and iterator access to every live object.
package objarray

import (
	"regscan/internal/decrypt"
	"regscan/internal/layout"
	"regscan/internal/memory"
)

// Handle is a discovered registry. It is created once by a Scanner and not
// changed afterwards; every read goes to live memory.
type Handle struct {
	view    memory.View
	decrypt decrypt.Decryptor

	base      uint64
	imageBase uint64
	kind      layout.Kind
	variant   string

	numOffset  int32
	ptrOffset  int32
	itemOffset int32
	itemSize   int32
	chunkSize  int32
}

// Info is a snapshot of a Handle's discovered constants, for reports.
type Info struct {
	Layout            string `json:"layout"`
	Variant           string `json:"variant"`
	Address           uint64 `json:"address"`
	Offset            uint64 `json:"offset"`
	NumOffset         int32  `json:"num_offset"`
	ObjectsOffset     int32  `json:"objects_offset"`
	ItemOffset        int32  `json:"item_offset"`
	ItemSize          int32  `json:"item_size"`
	ChunkSize         int32  `json:"chunk_size,omitempty"`
	Num               int32  `json:"num"`
	Decryption        string `json:"decryption"`
	ItemLayoutLearned bool   `json:"item_layout_learned"`
}

// Kind returns the registry shape.
func (h *Handle) Kind() layout.Kind {
	return h.kind
}

// Address returns the absolute address of the registry header.
func (h *Handle) Address() uint64 {
	return h.base
}

// Offset returns the registry header's offset from the image base.
func (h *Handle) Offset() uint64 {
	return h.base - h.imageBase
}

// Num returns the current element count, read from memory on every call.
func (h *Handle) Num() int32 {
	return h.view.Int32(h.base + uint64(h.numOffset))
}

// ItemLayout returns the learned self-pointer offset and stride of item records.
func (h *Handle) ItemLayout() (offset, stride int32) {
	return h.itemOffset, h.itemSize
}

// ChunkSize returns the objects per chunk, or 0 for flat registries.
func (h *Handle) ChunkSize() int32 {
	if h.kind != layout.KindChunked {
		return 0
	}
	return h.chunkSize
}

// Info returns the discovered constants together with the current count.
func (h *Handle) Info() Info {
	return Info{
		Layout:            h.kind.String(),
		Variant:           h.variant,
		Address:           h.base,
		Offset:            h.Offset(),
		NumOffset:         h.numOffset,
		ObjectsOffset:     h.ptrOffset,
		ItemOffset:        h.itemOffset,
		ItemSize:          h.itemSize,
		ChunkSize:         h.ChunkSize(),
		Num:               h.Num(),
		Decryption:        h.decrypt.String(),
		ItemLayoutLearned: h.itemSize != 0,
	}
}

// View returns the memory the handle reads from.
func (h *Handle) View() memory.View {
	return h.view
}
