package objarray

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"

	"regscan/internal/decrypt"
	"regscan/internal/layout"
	"regscan/internal/memory"
)

var (
	// ErrNotFound means no layout matched anywhere in the searched windows.
	ErrNotFound = errors.New("objarray: registry not found")

	// ErrOutsideImage is returned for an explicit offset that is not inside the image.
	ErrOutsideImage = errors.New("objarray: offset outside image")
)

// DataSection is the section searched before falling back to the whole image.
const DataSection = ".data"

// Image is the loaded module the registry lives in.
type Image interface {
	// Bounds returns the image base address and mapped size.
	Bounds() (base, size uint64)
	// Section returns the absolute address and size of a named section.
	Section(name string) (addr, size uint64, err error)
}

// Scanner finds the registry inside an image.
type Scanner struct {
	Memory    memory.Memory
	Image     Image
	Decryptor decrypt.Decryptor
	Logger    *log.Logger

	// Flat and Chunked are the candidate layouts, in precedence order.
	Flat    []layout.Flat
	Chunked []layout.Chunked

	// CachePages bounds the page cache used while scanning. Zero disables it.
	CachePages int
}

// NewScanner returns a Scanner using the built-in layout catalog.
func NewScanner(mem memory.Memory, img Image, dec decrypt.Decryptor, lg *log.Logger) *Scanner {
	if lg == nil {
		lg = log.Default()
	}
	return &Scanner{
		Memory:     mem,
		Image:      img,
		Decryptor:  dec,
		Logger:     lg,
		Flat:       layout.FlatLayouts,
		Chunked:    layout.ChunkedLayouts,
		CachePages: 4096,
	}
}

// Discover searches the data section, or the whole image when wholeImage is
// set or the image has no data section. A miss in the data section is retried
// once over the whole image. The first address matching any layout wins.
func (s *Scanner) Discover(wholeImage bool) (*Handle, error) {
	h, searchedWhole, err := s.scan(wholeImage)
	if errors.Is(err, ErrNotFound) && !searchedWhole {
		s.Logger.Warn("registry not in data section, scanning whole image")
		h, _, err = s.scan(true)
	}
	return h, err
}

func (s *Scanner) scan(wholeImage bool) (*Handle, bool, error) {
	imageBase, imageSize := s.Image.Bounds()
	start, size := imageBase, imageSize

	if !wholeImage {
		addr, length, err := s.Image.Section(DataSection)
		if err == nil && addr != 0 && length != 0 {
			start, size = addr, length
		} else {
			s.Logger.Debug("no data section, using whole image", "err", err)
			wholeImage = true
		}
	}

	if size <= layout.ScanTailMargin {
		return nil, wholeImage, fmt.Errorf("window of 0x%x bytes at 0x%x: %w", size, start, ErrNotFound)
	}
	size -= layout.ScanTailMargin

	s.Logger.Info("searching for registry",
		"start", fmt.Sprintf("0x%x", start),
		"size", humanize.IBytes(size),
		"whole_image", wholeImage,
		"decryption", s.Decryptor.String())

	view, err := s.scanView()
	if err != nil {
		return nil, wholeImage, err
	}

	for off := uint64(0); off < size; off += 4 {
		addr := start + off

		for _, l := range s.Flat {
			if ValidateFlat(view, s.Decryptor, addr, l) {
				return s.installFlat(addr, l), wholeImage, nil
			}
		}
		for _, l := range s.Chunked {
			if ptrOffset, ok := ValidateChunked(view, s.Decryptor, addr, l); ok {
				return s.installChunked(addr, l, ptrOffset), wholeImage, nil
			}
		}
	}

	return nil, wholeImage, fmt.Errorf("window of %s at 0x%x: %w", humanize.IBytes(size), start, ErrNotFound)
}

// scanView returns the view validation reads through. Probing and the
// installed accessors always read live memory.
func (s *Scanner) scanView() (memory.View, error) {
	if s.CachePages <= 0 {
		return memory.NewView(s.Memory), nil
	}
	c, err := memory.NewPageCache(s.Memory, s.CachePages)
	if err != nil {
		return memory.View{}, err
	}
	return memory.NewView(c), nil
}

func (s *Scanner) newHandle(addr uint64, kind layout.Kind, variant string) *Handle {
	imageBase, _ := s.Image.Bounds()
	return &Handle{
		view:      memory.NewView(s.Memory),
		decrypt:   s.Decryptor,
		base:      addr,
		imageBase: imageBase,
		kind:      kind,
		variant:   variant,
	}
}

func (s *Scanner) installFlat(addr uint64, l layout.Flat) *Handle {
	h := s.newHandle(addr, layout.KindFlat, l.Label)
	h.numOffset = l.NumOffset
	h.ptrOffset = l.ObjectsOffset

	s.Logger.Info("found registry", "layout", h.kind, "variant", l.Label, "offset", fmt.Sprintf("0x%x", h.Offset()))

	s.learnItemLayout(h)
	return h
}

func (s *Scanner) installChunked(addr uint64, l layout.Chunked, ptrOffset int32) *Handle {
	h := s.newHandle(addr, layout.KindChunked, l.Label)
	h.numOffset = l.NumElementsOffset
	h.ptrOffset = ptrOffset
	h.chunkSize = layout.ChunkSizeDefault

	s.Logger.Info("found registry", "layout", h.kind, "variant", l.Label, "offset", fmt.Sprintf("0x%x", h.Offset()))

	if s.learnItemLayout(h) {
		h.chunkSize = h.LearnChunkSize()
		s.Logger.Debug("learned chunk size", "chunk_size", fmt.Sprintf("0x%x", h.chunkSize))
	}
	return h
}

// firstItem returns the address of item record 0.
func (h *Handle) firstItem() uint64 {
	objects := h.decrypt.Decrypt(h.view.Ptr(h.base + uint64(h.ptrOffset)))
	if h.kind == layout.KindChunked {
		return h.view.Ptr(objects)
	}
	return objects
}

func (s *Scanner) learnItemLayout(h *Handle) bool {
	offset, stride, ok := LearnItemLayout(h.view, h.firstItem())
	h.itemOffset, h.itemSize = offset, stride
	if !ok {
		// Left at zero: the handle is returned, but ByIndex yields nothing.
		s.Logger.Warn("could not learn item layout", "offset", fmt.Sprintf("0x%x", offset))
		return false
	}
	s.Logger.Debug("learned item layout",
		"item_offset", fmt.Sprintf("0x%x", offset),
		"item_size", fmt.Sprintf("0x%x", stride))
	return true
}

// DiscoverAt skips scanning and trusts a known registry offset from the image
// base. The item layout is still learned. A zero chunkSize on a chunked
// registry is learned as well.
func (s *Scanner) DiscoverAt(offset uint64, chunkSize int32, chunked bool) (*Handle, error) {
	imageBase, imageSize := s.Image.Bounds()
	if offset >= imageSize {
		return nil, fmt.Errorf("offset 0x%x, image size 0x%x: %w", offset, imageSize, ErrOutsideImage)
	}

	kind, numOffset := layout.KindFlat, int32(layout.FlatNumOffset)
	if chunked {
		kind, numOffset = layout.KindChunked, layout.ChunkedNumOffset
	}

	h := s.newHandle(imageBase+offset, kind, "explicit")
	h.numOffset = numOffset
	h.chunkSize = chunkSize

	s.Logger.Info("using registry", "layout", kind, "address", fmt.Sprintf("0x%x", h.base))

	if s.learnItemLayout(h) && chunked && chunkSize <= 0 {
		h.chunkSize = h.LearnChunkSize()
	}
	return h, nil
}
