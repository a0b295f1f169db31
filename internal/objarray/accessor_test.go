package objarray

import (
	"testing"

	"regscan/internal/decrypt"
	"regscan/internal/layout"
	"regscan/internal/synth"
)

type object struct {
	addr uint64
}

func (o object) IsNull() bool { return o.addr == 0 }

func TestByIndexFlat(t *testing.T) {
	im := synth.NewFlat(synth.Options{Num: 0x2000, Holes: []int32{0x10}})
	h := discover(t, im)
	num := h.Num()

	tests := []struct {
		name  string
		index int32
		want  uint64
	}{
		{"first", 0, im.Objects[0]},
		{"middle", 0x1234, im.Objects[0x1234]},
		{"last", num - 1, im.Objects[num-1]},
		{"hole", 0x10, 0},
		{"count", num, 0},
		{"past count", num + 1, 0},
		{"negative", -1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := h.ByIndex(tt.index); got != tt.want {
				t.Errorf("ByIndex(0x%x) = 0x%x, want 0x%x", tt.index, got, tt.want)
			}
		})
	}
}

func TestByIndexChunked(t *testing.T) {
	const num = 0x10100
	im := synth.NewChunked(synth.Options{Num: num})
	h := discover(t, im)

	if h.ChunkSize() != layout.ChunkSizeDefault {
		t.Fatalf("ChunkSize() = 0x%x, want 0x%x", h.ChunkSize(), layout.ChunkSizeDefault)
	}

	tests := []struct {
		name  string
		index int32
		want  uint64
	}{
		{"first", 0, im.Objects[0]},
		{"last of first chunk", layout.ChunkSizeDefault - 1, im.Objects[layout.ChunkSizeDefault-1]},
		{"first of second chunk", layout.ChunkSizeDefault, im.Objects[layout.ChunkSizeDefault]},
		{"last", num - 1, im.Objects[num-1]},
		{"count", num, 0},
		{"negative", -1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := h.ByIndex(tt.index); got != tt.want {
				t.Errorf("ByIndex(0x%x) = 0x%x, want 0x%x", tt.index, got, tt.want)
			}
		})
	}
}

func TestByIndexFollowsCount(t *testing.T) {
	im := synth.NewFlat(synth.Options{Num: 0x2000})
	h := discover(t, im)

	// The count is re-read on every access.
	im.Mem.PutInt32(im.Registry+layout.FlatNumOffset, 0x1800)
	if got := h.Num(); got != 0x1800 {
		t.Fatalf("Num() = 0x%x, want 0x1800", got)
	}
	if got := h.ByIndex(0x1900); got != 0 {
		t.Errorf("ByIndex(0x1900) = 0x%x after shrinking, want 0", got)
	}
	if got := h.ByIndex(0x17FF); got != im.Objects[0x17FF] {
		t.Errorf("ByIndex(0x17FF) = 0x%x, want 0x%x", got, im.Objects[0x17FF])
	}
}

func TestGetByIndex(t *testing.T) {
	im := synth.NewFlat(synth.Options{Holes: []int32{3}})
	h := discover(t, im)
	wrap := func(addr uint64) object { return object{addr} }

	if got := GetByIndex(h, 2, wrap); got.addr != im.Objects[2] {
		t.Errorf("GetByIndex(2) = 0x%x, want 0x%x", got.addr, im.Objects[2])
	}
	if got := GetByIndex(h, 3, wrap); !got.IsNull() {
		t.Errorf("GetByIndex(3) on a hole = 0x%x, want null", got.addr)
	}
	if got := GetByIndex(h, h.Num(), wrap); !got.IsNull() {
		t.Errorf("GetByIndex(Num) = 0x%x, want null", got.addr)
	}
}

func TestByIndexWithoutItemLayout(t *testing.T) {
	im := synth.NewFlat(synth.Options{})
	s := quietScanner(im, decrypt.Identity)

	// Point at a zeroed part of the data section: nothing to learn from.
	h, err := s.DiscoverAt(synth.DataOffset+0x8000, 0, false)
	if err != nil {
		t.Fatalf("DiscoverAt() error = %v", err)
	}
	if h.Info().ItemLayoutLearned {
		t.Fatal("item layout learned from zeroed memory")
	}
	if got := h.ByIndex(0); got != 0 {
		t.Errorf("ByIndex(0) = 0x%x, want 0", got)
	}
}
