package objarray

import (
	"bytes"
	"errors"
	"io"
	"math"
	"strings"
	"testing"

	"github.com/charmbracelet/log"

	"regscan/internal/decrypt"
	"regscan/internal/layout"
	"regscan/internal/synth"
)

func TestDiscover(t *testing.T) {
	tests := []struct {
		name       string
		build      func() *synth.Image
		kind       layout.Kind
		numOffset  int32
		ptrOffset  int32
		itemOffset int32
		itemSize   int32
	}{
		{
			name:      "flat",
			build:     func() *synth.Image { return synth.NewFlat(synth.Options{}) },
			kind:      layout.KindFlat,
			numOffset: layout.FlatNumOffset,
			itemSize:  0x18,
		},
		{
			name: "chunked with item header",
			build: func() *synth.Image {
				return synth.NewChunked(synth.Options{ItemOffset: 4, ItemSize: 0x18})
			},
			kind:       layout.KindChunked,
			numOffset:  layout.ChunkedNumOffset,
			itemOffset: 4,
			itemSize:   0x18,
		},
		{
			name:      "chunked",
			build:     func() *synth.Image { return synth.NewChunked(synth.Options{}) },
			kind:      layout.KindChunked,
			numOffset: layout.ChunkedNumOffset,
			itemSize:  0x18,
		},
		{
			name: "chunked reordered header",
			build: func() *synth.Image {
				return synth.NewChunked(synth.Options{Chunked: layout.ChunkedLayouts[1]})
			},
			kind:      layout.KindChunked,
			numOffset: 0x04,
			ptrOffset: 0x10,
			itemSize:  0x18,
		},
		{
			name: "unaligned to eight bytes",
			build: func() *synth.Image {
				return synth.NewFlat(synth.Options{RegistryOffset: synth.DataOffset + 0x2224})
			},
			kind:      layout.KindFlat,
			numOffset: layout.FlatNumOffset,
			itemSize:  0x18,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			im := tt.build()
			h := discover(t, im)

			if h.Kind() != tt.kind {
				t.Errorf("Kind() = %v, want %v", h.Kind(), tt.kind)
			}
			if h.Offset() != im.Offset() || h.Address() != im.Registry {
				t.Errorf("Offset() = 0x%x, want 0x%x", h.Offset(), im.Offset())
			}
			if h.Num() != im.Opts.Num {
				t.Errorf("Num() = 0x%x, want 0x%x", h.Num(), im.Opts.Num)
			}

			info := h.Info()
			if info.NumOffset != tt.numOffset {
				t.Errorf("NumOffset = 0x%x, want 0x%x", info.NumOffset, tt.numOffset)
			}
			if info.ObjectsOffset != tt.ptrOffset {
				t.Errorf("ObjectsOffset = 0x%x, want 0x%x", info.ObjectsOffset, tt.ptrOffset)
			}
			if off, size := h.ItemLayout(); off != tt.itemOffset || size != tt.itemSize {
				t.Errorf("ItemLayout() = (0x%x, 0x%x), want (0x%x, 0x%x)", off, size, tt.itemOffset, tt.itemSize)
			}
			if !info.ItemLayoutLearned {
				t.Error("ItemLayoutLearned = false")
			}
		})
	}
}

func TestDiscoverRetriesWholeImage(t *testing.T) {
	// Header in the code range, outside the data section.
	im := synth.NewFlat(synth.Options{RegistryOffset: synth.TextOffset + 0x800})

	var buf bytes.Buffer
	s := NewScanner(im.Mem, im, decrypt.Identity, log.New(&buf))

	if _, searchedWhole, err := s.scan(false); !errors.Is(err, ErrNotFound) || searchedWhole {
		t.Fatalf("narrow scan = (%v, %v), want ErrNotFound over the data section", searchedWhole, err)
	}

	buf.Reset()
	h, err := s.Discover(false)
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if h.Offset() != im.Offset() {
		t.Errorf("Offset() = 0x%x, want 0x%x", h.Offset(), im.Offset())
	}
	if !strings.Contains(buf.String(), "scanning whole image") {
		t.Errorf("no retry logged:\n%s", buf.String())
	}
}

func TestDiscoverWholeImageDoesNotRetry(t *testing.T) {
	im := synth.NewFlat(synth.Options{})
	// Wipe the header so nothing matches.
	im.Mem.Write(im.Registry, make([]byte, 0x10))

	var buf bytes.Buffer
	s := NewScanner(im.Mem, im, decrypt.Identity, log.New(&buf))

	if _, err := s.Discover(true); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Discover(true) error = %v, want ErrNotFound", err)
	}
	if strings.Contains(buf.String(), "scanning whole image") {
		t.Errorf("whole-image scan was retried:\n%s", buf.String())
	}
}

func TestDiscoverNotFound(t *testing.T) {
	im := synth.NewFlat(synth.Options{})
	im.Mem.Write(im.Registry, make([]byte, 0x10))

	if _, err := quietScanner(im, decrypt.Identity).Discover(false); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Discover() error = %v, want ErrNotFound", err)
	}
}

func TestDiscoverWithoutDataSection(t *testing.T) {
	im := synth.NewFlat(synth.Options{RegistryOffset: synth.TextOffset + 0x40})
	delete(im.Sections, DataSection)

	h, err := quietScanner(im, decrypt.Identity).Discover(false)
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if h.Offset() != im.Offset() {
		t.Errorf("Offset() = 0x%x, want 0x%x", h.Offset(), im.Offset())
	}
}

func TestDiscoverEncrypted(t *testing.T) {
	dec, err := decrypt.Parse("xor:0x00ff00ff00000000|ror:13")
	if err != nil {
		t.Fatal(err)
	}
	// Inverse of dec: rotate back, then xor.
	enc := func(p uint64) uint64 { return ((p << 13) | (p >> 51)) ^ 0x00ff00ff00000000 }

	for _, chunked := range []bool{false, true} {
		name := "flat"
		if chunked {
			name = "chunked"
		}
		t.Run(name, func(t *testing.T) {
			opts := synth.Options{Encrypt: enc, Holes: []int32{9}}
			im := synth.NewFlat(opts)
			if chunked {
				im = synth.NewChunked(opts)
			}

			if _, err := quietScanner(im, decrypt.Identity).Discover(false); err == nil {
				t.Error("encrypted registry found without decryption")
			}

			h, err := quietScanner(im, dec).Discover(false)
			if err != nil {
				t.Fatalf("Discover() error = %v", err)
			}
			if got := h.ByIndex(0x100); got != im.Objects[0x100] {
				t.Errorf("ByIndex(0x100) = 0x%x, want 0x%x", got, im.Objects[0x100])
			}
			if got := h.ByIndex(9); got != 0 {
				t.Errorf("ByIndex(9) = 0x%x, want hole", got)
			}
			if h.Info().Decryption != dec.Label {
				t.Errorf("Decryption = %q, want %q", h.Info().Decryption, dec.Label)
			}
		})
	}
}

func TestDiscoverUncached(t *testing.T) {
	im := synth.NewChunked(synth.Options{})
	s := quietScanner(im, decrypt.Identity)
	s.CachePages = 0

	h, err := s.Discover(false)
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if h.Offset() != im.Offset() {
		t.Errorf("Offset() = 0x%x, want 0x%x", h.Offset(), im.Offset())
	}
}

func TestDiscoverAt(t *testing.T) {
	tests := []struct {
		name      string
		build     func() *synth.Image
		chunkSize int32
		chunked   bool
		wantChunk int32
	}{
		{
			name:  "flat",
			build: func() *synth.Image { return synth.NewFlat(synth.Options{}) },
		},
		{
			name:      "chunked with given chunk size",
			build:     func() *synth.Image { return synth.NewChunked(synth.Options{}) },
			chunkSize: layout.ChunkSizeDefault,
			chunked:   true,
			wantChunk: layout.ChunkSizeDefault,
		},
		{
			name: "chunked learns chunk size",
			build: func() *synth.Image {
				return synth.NewChunked(synth.Options{
					Num:       0x10900,
					ChunkSize: layout.ChunkSizeLarge,
					MaxChunks: 0x10,
					Max:       0x10 * layout.ChunkSizeLarge,
				})
			},
			chunked:   true,
			wantChunk: layout.ChunkSizeLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			im := tt.build()
			h, err := quietScanner(im, decrypt.Identity).DiscoverAt(im.Offset(), tt.chunkSize, tt.chunked)
			if err != nil {
				t.Fatalf("DiscoverAt() error = %v", err)
			}
			if h.Num() != im.Opts.Num {
				t.Errorf("Num() = 0x%x, want 0x%x", h.Num(), im.Opts.Num)
			}
			if h.ChunkSize() != tt.wantChunk {
				t.Errorf("ChunkSize() = 0x%x, want 0x%x", h.ChunkSize(), tt.wantChunk)
			}
			last := im.Opts.Num - 1
			if got := h.ByIndex(last); got != im.Objects[last] {
				t.Errorf("ByIndex(0x%x) = 0x%x, want 0x%x", last, got, im.Objects[last])
			}
		})
	}
}

func TestDiscoverAtCorruptCount(t *testing.T) {
	im := synth.NewChunked(synth.Options{Num: 0x3000})
	im.Mem.PutInt32(im.Registry+layout.ChunkedNumOffset, math.MaxInt32)

	h, err := quietScanner(im, decrypt.Identity).DiscoverAt(im.Offset(), 0, true)
	if err != nil {
		t.Fatalf("DiscoverAt() error = %v", err)
	}
	if got := h.ChunkSize(); got != layout.ChunkSizeDefault {
		t.Errorf("ChunkSize() = 0x%x, want 0x%x", got, layout.ChunkSizeDefault)
	}
	if got := h.ByIndex(0x2FFF); got != im.Objects[0x2FFF] {
		t.Errorf("ByIndex(0x2FFF) = 0x%x, want 0x%x", got, im.Objects[0x2FFF])
	}
}

func TestDiscoverAtOutsideImage(t *testing.T) {
	im := synth.NewFlat(synth.Options{})
	_, err := quietScanner(im, decrypt.Identity).DiscoverAt(synth.ImageSize, 0, false)
	if !errors.Is(err, ErrOutsideImage) {
		t.Fatalf("DiscoverAt() error = %v, want ErrOutsideImage", err)
	}
}

func TestNewScannerDefaultLogger(t *testing.T) {
	im := synth.NewFlat(synth.Options{})
	s := NewScanner(im.Mem, im, decrypt.Identity, nil)
	if s.Logger == nil {
		t.Fatal("Logger is nil")
	}
	s.Logger = log.New(io.Discard)
	if _, err := s.Discover(false); err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
}
