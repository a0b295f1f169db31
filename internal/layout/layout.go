// Package layout holds the candidate field-offset layouts of the engine's
// live-object registry. Offsets are build constants; the catalog carries one or
// more entries per shape to cover known deviations.
package layout

// Kind tags which registry shape was found.
type Kind int

const (
	KindUnknown Kind = iota
	KindFlat
	KindChunked
)

func (k Kind) String() string {
	switch k {
	case KindFlat:
		return "FFixedUObjectArray"
	case KindChunked:
		return "FChunkedFixedUObjectArray"
	default:
		return "unknown"
	}
}

// Registry constants shared by validation and probing.
const (
	// ChunkSizeDefault and ChunkSizeLarge are the two historical chunk capacities.
	ChunkSizeDefault = 0x10000
	ChunkSizeLarge   = 0x10400

	// FlatNumOffset and ChunkedNumOffset locate the element count in the
	// registry header once a shape has been picked.
	FlatNumOffset    = 0xC
	ChunkedNumOffset = 0x14

	// ProvisionalItemSize is the item stride assumed while validating a flat
	// candidate, before the real stride has been learned.
	ProvisionalItemSize = 0x18

	// ProvisionalIndexOffset is where an object's own index is assumed to sit
	// during flat validation.
	ProvisionalIndexOffset = 0xC

	// ScanTailMargin is cut from the end of a scan window so validating the
	// last candidates cannot read past the mapped range.
	ScanTailMargin = 0x50
)

// Flat is the header layout of a single contiguous item array.
type Flat struct {
	Label         string
	ObjectsOffset int32
	MaxOffset     int32
	NumOffset     int32
}

// Chunked is the header layout of a table of fixed-capacity chunks.
type Chunked struct {
	Label             string
	ObjectsOffset     int32
	MaxElementsOffset int32
	NumElementsOffset int32
	MaxChunksOffset   int32
	NumChunksOffset   int32
}

// FlatLayouts are tried first at every candidate address, in order.
var FlatLayouts = []Flat{
	{
		Label:         "UE4.11 - UE4.20",
		ObjectsOffset: 0x0,
		MaxOffset:     0x8,
		NumOffset:     0xC,
	},
}

// ChunkedLayouts are tried after all flat layouts, in order.
var ChunkedLayouts = []Chunked{
	{
		Label:             "UE4.21+",
		ObjectsOffset:     0x00,
		MaxElementsOffset: 0x10,
		NumElementsOffset: 0x14,
		MaxChunksOffset:   0x18,
		NumChunksOffset:   0x1C,
	},
	{
		// Objects pointer moved behind the counters.
		Label:             "Back4Blood",
		ObjectsOffset:     0x10,
		MaxElementsOffset: 0x00,
		NumElementsOffset: 0x04,
		MaxChunksOffset:   0x08,
		NumChunksOffset:   0x0C,
	},
}

// ChunkSizes lists the chunk capacities a chunked registry may use.
var ChunkSizes = [...]int32{ChunkSizeDefault, ChunkSizeLarge}
