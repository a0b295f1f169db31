package memory

import (
	"strings"
	"testing"
)

func TestViewGuardedReads(t *testing.T) {
	s := NewSynthetic(0x10000)
	a := s.Alloc(0x100, "a")
	s.PutPtr(a, 0x1122334455667788)
	s.PutInt32(a+8, -7)
	s.PutUint32(a+0xFC, 0xdeadbeef)

	v := NewView(s)

	tests := []struct {
		name string
		got  uint64
		want uint64
	}{
		{"pointer", v.Ptr(a), 0x1122334455667788},
		{"int32", uint64(uint32(v.Int32(a + 8))), uint64(uint32(0xfffffff9))},
		{"uint32 at end", uint64(v.Uint32(a + 0xFC)), 0xdeadbeef},
		{"null", v.Ptr(0), 0},
		{"unmapped", v.Ptr(a + 0x2000), 0},
		{"straddles end", v.Ptr(a + 0xFC), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got 0x%x, want 0x%x", tt.got, tt.want)
			}
		})
	}

	// Misaligned reads are legal; only readability matters.
	if !v.CanRead(a+3, 8) {
		t.Error("misaligned in-bounds read reported unreadable")
	}
	if v.ValidPtr(0) {
		t.Error("null pointer reported valid")
	}
	if !v.ValidPtr(a) {
		t.Error("mapped pointer reported invalid")
	}
	if v.ValidPtr(^uint64(0) - 2) {
		t.Error("wrapping pointer reported valid")
	}
}

func TestSegmentsRange(t *testing.T) {
	s := NewSynthetic(0)
	if err := s.Map(0x1000, 0x1000, "lo"); err != nil {
		t.Fatal(err)
	}
	if err := s.Map(0x2000, 0x1000, "hi"); err != nil {
		t.Fatal(err)
	}
	if err := s.Map(0x1800, 0x10, "overlap"); err == nil {
		t.Fatal("overlapping map succeeded")
	}

	segs := s.Segments()
	if !segs.IsRangeReadable(0x1ff8, 0x10) {
		t.Error("range across adjacent segments reported unreadable")
	}
	if segs.IsRangeReadable(0x2ff8, 0x10) {
		t.Error("range past the last segment reported readable")
	}
	if seg, ok := segs.Find(0x2abc); !ok || seg.Name != "hi" {
		t.Errorf("Find(0x2abc) = %v, %v", seg, ok)
	}
	if _, ok := segs.Find(0xfff); ok {
		t.Error("Find below first segment succeeded")
	}

	s.Unmap(0x2000)
	if s.IsReadable(0x2000) {
		t.Error("unmapped segment still readable")
	}
}

func TestParseMaps(t *testing.T) {
	const maps = `55d0c6a00000-55d0c6a2c000 r--p 00000000 08:01 1311 /opt/game/Binaries/Game-Linux-Shipping
55d0c6a2c000-55d0c8000000 r-xp 0002c000 08:01 1311 /opt/game/Binaries/Game-Linux-Shipping
55d0c8000000-55d0c8400000 rw-p 015d4000 08:01 1311 /opt/game/Binaries/Game-Linux-Shipping
7ffd1c000000-7ffd1c021000 rw-p 00000000 00:00 0 [stack]
ffffffffff600000-ffffffffff601000 --xp 00000000 00:00 0 [vsyscall]
garbage line
`
	segs, err := ParseMaps(strings.NewReader(maps))
	if err != nil {
		t.Fatal(err)
	}
	if len(segs) != 5 {
		t.Fatalf("got %d segments, want 5", len(segs))
	}
	if got := len(segs.Named("/opt/game/Binaries/Game-Linux-Shipping")); got != 3 {
		t.Errorf("named segments = %d, want 3", got)
	}
	if segs.IsReadable(0xffffffffff600000) {
		t.Error("execute-only vsyscall page reported readable")
	}
	if !segs.IsReadable(0x7ffd1c000010) {
		t.Error("stack reported unreadable")
	}
}

func TestPageCache(t *testing.T) {
	s := NewSynthetic(0x100000)
	a := s.Alloc(0x3000, "data")
	s.PutPtr(a+0xFFC, 0xaabbccddeeff0011)

	c, err := NewPageCache(s, 4)
	if err != nil {
		t.Fatal(err)
	}
	v := NewView(c)
	if got := v.Ptr(a + 0xFFC); got != 0xaabbccddeeff0011 {
		t.Fatalf("read across pages = 0x%x", got)
	}
	if c.Len() != 2 {
		t.Errorf("cached pages = %d, want 2", c.Len())
	}

	// Cached pages do not observe later writes.
	s.PutPtr(a+0xFFC, 1)
	if got := v.Ptr(a + 0xFFC); got != 0xaabbccddeeff0011 {
		t.Errorf("cached read = 0x%x, want stale value", got)
	}
	if v.Ptr(a+0x5000) != 0 {
		t.Error("unmapped read through cache returned data")
	}
}
