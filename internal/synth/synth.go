// Package synth builds synthetic process images holding a live-object
// registry, so discovery can be exercised without a target process.
package synth

import (
	"fmt"

	"regscan/internal/decrypt"
	"regscan/internal/layout"
	"regscan/internal/memory"
)

// Image geometry. The image is one readable mapping with a code range and
// a data section; everything the registry points to is allocated after it.
const (
	ImageBase  = 0x140000000
	ImageSize  = 0x40000
	TextOffset = 0x1000
	TextSize   = 0xF000
	DataOffset = 0x20000
	DataSize   = 0x10000

	// DefaultRegistryOffset places the header inside the data section.
	DefaultRegistryOffset = DataOffset + 0x1230

	// ObjectSize is the size of each fake object; its vtable pointer is at 0.
	ObjectSize = 0x40

	// IndexOffset is where each fake object stores its own index.
	IndexOffset = 0xC
)

// Options describes the registry to build. Zero values pick defaults.
type Options struct {
	Num        int32
	Max        int32
	ItemOffset int32
	ItemSize   int32

	// ChunkSize is the real objects-per-chunk of a chunked registry.
	ChunkSize int32
	// MaxChunks is the header's chunk capacity of a chunked registry.
	MaxChunks int32

	// RegistryOffset is the header offset from ImageBase.
	RegistryOffset uint64

	// Holes lists indices whose item holds no object.
	Holes []int32

	// Encrypt is applied to the stored objects pointer; Decrypt must undo it.
	Encrypt decrypt.Func

	Flat    layout.Flat
	Chunked layout.Chunked
}

// Section is a named range inside the image.
type Section struct {
	Addr, Size uint64
}

// Image is a built address space with its registry.
type Image struct {
	Mem      *memory.Synthetic
	Base     uint64
	Size     uint64
	Sections map[string]Section

	// Registry is the absolute address of the registry header.
	Registry uint64
	// Objects maps an index to its object address (0 for holes).
	Objects []uint64
	Opts    Options
}

// Bounds returns the image base and size.
func (im *Image) Bounds() (uint64, uint64) {
	return im.Base, im.Size
}

// Section returns a section's absolute address and size.
func (im *Image) Section(name string) (uint64, uint64, error) {
	s, ok := im.Sections[name]
	if !ok {
		return 0, 0, fmt.Errorf("section %q not present", name)
	}
	return s.Addr, s.Size, nil
}

// Offset returns the registry offset from the image base.
func (im *Image) Offset() uint64 {
	return im.Registry - im.Base
}

func newImage(o Options) *Image {
	mem := memory.NewSynthetic(ImageBase)
	if err := mem.Map(ImageBase, ImageSize, "image"); err != nil {
		panic(err)
	}
	im := &Image{
		Mem:  mem,
		Base: ImageBase,
		Size: ImageSize,
		Sections: map[string]Section{
			".text": {ImageBase + TextOffset, TextSize},
			".data": {ImageBase + DataOffset, DataSize},
		},
		Registry: ImageBase + o.RegistryOffset,
		Opts:     o,
	}
	im.buildObjects()
	return im
}

func (o *Options) defaults(chunked bool) {
	if o.Num == 0 {
		o.Num = 0x2000
	}
	if o.ItemSize == 0 {
		o.ItemSize = layout.ProvisionalItemSize
	}
	if o.RegistryOffset == 0 {
		o.RegistryOffset = DefaultRegistryOffset
	}
	if o.Encrypt == nil {
		o.Encrypt = decrypt.Identity.Fn
	}
	if chunked {
		if o.ChunkSize == 0 {
			o.ChunkSize = layout.ChunkSizeDefault
		}
		if o.MaxChunks == 0 {
			o.MaxChunks = 0x20
		}
		if o.Max == 0 {
			o.Max = o.MaxChunks * layout.ChunkSizeDefault
		}
		if o.Chunked == (layout.Chunked{}) {
			o.Chunked = layout.ChunkedLayouts[0]
		}
	} else {
		if o.Max == 0 {
			o.Max = 0x10000
		}
		if o.Flat == (layout.Flat{}) {
			o.Flat = layout.FlatLayouts[0]
		}
	}
}

// buildObjects allocates every object with a shared vtable and its own index.
func (im *Image) buildObjects() {
	n := uint64(im.Opts.Num)
	vtable := im.Mem.Alloc(0x100, "vtable")
	objects := im.Mem.Alloc(n*ObjectSize, "objects")

	holes := make(map[int32]bool, len(im.Opts.Holes))
	for _, h := range im.Opts.Holes {
		holes[h] = true
	}

	im.Objects = make([]uint64, n)
	for i := int32(0); i < im.Opts.Num; i++ {
		if holes[i] {
			continue
		}
		obj := objects + uint64(i)*ObjectSize
		im.Mem.PutPtr(obj, vtable)
		im.Mem.PutInt32(obj+IndexOffset, i)
		im.Objects[i] = obj
	}
}

// putItem writes the object pointer for index into the item record at item.
func (im *Image) putItem(item uint64, index int32) {
	im.Mem.PutPtr(item+uint64(im.Opts.ItemOffset), im.Objects[index])
}

// NewFlat builds an image with a flat registry.
func NewFlat(o Options) *Image {
	o.defaults(false)
	im := newImage(o)

	// Two spare records past the end keep the stride probe's reads mapped.
	items := im.Mem.Alloc(uint64(o.Num+2)*uint64(o.ItemSize), "items")
	for i := int32(0); i < o.Num; i++ {
		im.putItem(items+uint64(i)*uint64(o.ItemSize), i)
	}

	hdr := im.Registry
	im.Mem.PutPtr(hdr+uint64(o.Flat.ObjectsOffset), o.Encrypt(items))
	im.Mem.PutInt32(hdr+uint64(o.Flat.MaxOffset), o.Max)
	im.Mem.PutInt32(hdr+uint64(o.Flat.NumOffset), o.Num)
	return im
}

// NewChunked builds an image with a chunked registry.
func NewChunked(o Options) *Image {
	o.defaults(true)
	im := newImage(o)

	numChunks := o.Num/o.ChunkSize + 1
	table := im.Mem.Alloc(uint64(o.MaxChunks)*memory.PointerSize, "chunks")

	for c := int32(0); c < numChunks; c++ {
		first := c * o.ChunkSize
		count := min(o.ChunkSize, o.Num-first)
		chunk := im.Mem.Alloc(uint64(count+2)*uint64(o.ItemSize), fmt.Sprintf("chunk%d", c))
		im.Mem.PutPtr(table+uint64(c)*memory.PointerSize, chunk)
		for i := int32(0); i < count; i++ {
			im.putItem(chunk+uint64(i)*uint64(o.ItemSize), first+i)
		}
	}

	hdr := im.Registry
	l := o.Chunked
	im.Mem.PutPtr(hdr+uint64(l.ObjectsOffset), o.Encrypt(table))
	im.Mem.PutInt32(hdr+uint64(l.MaxElementsOffset), o.Max)
	im.Mem.PutInt32(hdr+uint64(l.NumElementsOffset), o.Num)
	im.Mem.PutInt32(hdr+uint64(l.MaxChunksOffset), o.MaxChunks)
	im.Mem.PutInt32(hdr+uint64(l.NumChunksOffset), numChunks)
	return im
}

// Live returns the number of non-hole objects.
func (im *Image) Live() int {
	n := 0
	for _, obj := range im.Objects {
		if obj != 0 {
			n++
		}
	}
	return n
}
