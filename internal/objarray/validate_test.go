package objarray

import (
	"testing"

	"regscan/internal/decrypt"
	"regscan/internal/layout"
	"regscan/internal/memory"
	"regscan/internal/synth"
)

func TestValidateFlat(t *testing.T) {
	tests := []struct {
		name   string
		opts   synth.Options
		mutate func(im *synth.Image)
		want   bool
	}{
		{
			name: "valid",
			want: true,
		},
		{
			name: "minimum count",
			opts: synth.Options{Num: 0x1000, Max: 0x1000},
			want: true,
		},
		{
			name: "count above max",
			mutate: func(im *synth.Image) {
				im.Mem.PutInt32(im.Registry+0x8, 0x1FFF)
			},
		},
		{
			name: "max above sanity bound",
			mutate: func(im *synth.Image) {
				im.Mem.PutInt32(im.Registry+0x8, 0x400001)
			},
		},
		{
			name: "count below bootstrap size",
			mutate: func(im *synth.Image) {
				im.Mem.PutInt32(im.Registry+0xC, 0xFFF)
			},
		},
		{
			name: "sixth object reports wrong index",
			mutate: func(im *synth.Image) {
				im.Mem.PutInt32(im.Objects[5]+synth.IndexOffset, 6)
			},
		},
		{
			name: "sixth slot empty",
			opts: synth.Options{Holes: []int32{5}},
		},
		{
			name: "objects pointer unreadable",
			mutate: func(im *synth.Image) {
				im.Mem.PutPtr(im.Registry, 0xdead0000)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			im := synth.NewFlat(tt.opts)
			if tt.mutate != nil {
				tt.mutate(im)
			}
			v := memory.NewView(im.Mem)
			got := ValidateFlat(v, decrypt.Identity, im.Registry, layout.FlatLayouts[0])
			if got != tt.want {
				t.Errorf("ValidateFlat() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidateFlatDecrypts(t *testing.T) {
	dec, err := decrypt.Parse("xor:0x5a5a000000000000")
	if err != nil {
		t.Fatal(err)
	}
	im := synth.NewFlat(synth.Options{Encrypt: dec.Fn})
	v := memory.NewView(im.Mem)

	if ValidateFlat(v, decrypt.Identity, im.Registry, layout.FlatLayouts[0]) {
		t.Error("encrypted header validated without decryption")
	}
	if !ValidateFlat(v, dec, im.Registry, layout.FlatLayouts[0]) {
		t.Error("encrypted header rejected with decryption")
	}
}

func TestValidateChunked(t *testing.T) {
	hdr := layout.ChunkedLayouts[0]

	tests := []struct {
		name   string
		opts   synth.Options
		mutate func(im *synth.Image)
		want   bool
	}{
		{
			name: "valid default chunk size",
			opts: synth.Options{Num: 0x12000},
			want: true,
		},
		{
			name: "valid large chunk size",
			opts: synth.Options{Num: 0x10500, ChunkSize: layout.ChunkSizeLarge, MaxChunks: 0x10, Max: 0x10 * layout.ChunkSizeLarge},
			want: true,
		},
		{
			name: "num chunks zero",
			mutate: func(im *synth.Image) {
				im.Mem.PutInt32(im.Registry+uint64(hdr.NumChunksOffset), 0)
			},
		},
		{
			name: "num chunks above bound",
			mutate: func(im *synth.Image) {
				im.Mem.PutInt32(im.Registry+uint64(hdr.NumChunksOffset), 0x15)
			},
		},
		{
			name: "max chunks below bound",
			opts: synth.Options{MaxChunks: 5},
		},
		{
			name: "max chunks above bound",
			opts: synth.Options{MaxChunks: 0x230},
		},
		{
			name: "elements above max",
			mutate: func(im *synth.Image) {
				im.Mem.PutInt32(im.Registry+uint64(hdr.MaxElementsOffset), 0x1000)
			},
		},
		{
			name: "num chunks do not fit elements",
			mutate: func(im *synth.Image) {
				im.Mem.PutInt32(im.Registry+uint64(hdr.NumChunksOffset), 2)
			},
		},
		{
			name: "max chunks do not fit max elements",
			mutate: func(im *synth.Image) {
				im.Mem.PutInt32(im.Registry+uint64(hdr.MaxElementsOffset), 0x1F0000)
			},
		},
		{
			name: "null chunk pointer",
			opts: synth.Options{Num: 0x12000},
			mutate: func(im *synth.Image) {
				table := memory.NewView(im.Mem).Ptr(im.Registry)
				im.Mem.PutPtr(table+memory.PointerSize, 0)
			},
		},
		{
			name: "unreadable chunk pointer",
			mutate: func(im *synth.Image) {
				table := memory.NewView(im.Mem).Ptr(im.Registry)
				im.Mem.PutPtr(table, 0xdead0000)
			},
		},
		{
			name: "unreadable chunk table",
			mutate: func(im *synth.Image) {
				im.Mem.PutPtr(im.Registry, 0xdead0000)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			im := synth.NewChunked(tt.opts)
			if tt.mutate != nil {
				tt.mutate(im)
			}
			v := memory.NewView(im.Mem)
			off, got := ValidateChunked(v, decrypt.Identity, im.Registry, hdr)
			if got != tt.want {
				t.Fatalf("ValidateChunked() = %v, want %v", got, tt.want)
			}
			if got && off != hdr.ObjectsOffset {
				t.Errorf("discriminator offset = 0x%x, want 0x%x", off, hdr.ObjectsOffset)
			}
		})
	}
}

func TestValidateChunkedReorderedLayout(t *testing.T) {
	back4Blood := layout.ChunkedLayouts[1]
	im := synth.NewChunked(synth.Options{Chunked: back4Blood})
	v := memory.NewView(im.Mem)

	if _, ok := ValidateChunked(v, decrypt.Identity, im.Registry, layout.ChunkedLayouts[0]); ok {
		t.Error("reordered header matched the default layout")
	}
	off, ok := ValidateChunked(v, decrypt.Identity, im.Registry, back4Blood)
	if !ok {
		t.Fatal("reordered header rejected")
	}
	if off != 0x10 {
		t.Errorf("discriminator offset = 0x%x, want 0x10", off)
	}
}
