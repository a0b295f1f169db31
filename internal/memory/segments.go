package memory

import (
	"fmt"
	"sort"
)

// Segment describes a range of a target's virtual memory.
type Segment struct {
	Addr uint64
	Size uint64
	Perm string // "rwxp" style, as in /proc/<pid>/maps
	Name string

	data []byte // backing store for synthetic segments
}

func (s Segment) String() string {
	return fmt.Sprintf("Segment{addr:0x%x, size:0x%x, perm:%s, name:%q}", s.Addr, s.Size, s.Perm, s.Name)
}

// End returns the first address past the segment.
func (s Segment) End() uint64 {
	return s.Addr + s.Size
}

// Readable reports whether the segment was mapped readable.
func (s Segment) Readable() bool {
	return len(s.Perm) > 0 && s.Perm[0] == 'r'
}

// Contains reports whether the segment contains the given address.
func (s Segment) Contains(addr uint64) bool {
	return s.Addr <= addr && addr < s.End()
}

// Segments is a list of non-overlapping segments sorted by address.
type Segments []Segment

func (ss Segments) Len() int           { return len(ss) }
func (ss Segments) Swap(i, k int)      { ss[i], ss[k] = ss[k], ss[i] }
func (ss Segments) Less(i, k int) bool { return ss[i].Addr < ss[k].Addr }

// Find finds the segment that contains the given address.
func (ss Segments) Find(addr uint64) (Segment, bool) {
	// Binary search for an upper-bound segment, then check
	// if the previous segment contains addr.
	k := sort.Search(len(ss), func(k int) bool {
		return addr < ss[k].Addr
	})
	k--
	if k >= 0 && ss[k].Contains(addr) {
		return ss[k], true
	}
	return Segment{}, false
}

// IsReadable reports whether addr falls in a readable segment.
func (ss Segments) IsReadable(addr uint64) bool {
	s, ok := ss.Find(addr)
	return ok && s.Readable()
}

// IsRangeReadable reports whether [addr, addr+size) is covered by readable
// segments. Adjacent segments are walked, so a range may straddle mappings.
func (ss Segments) IsRangeReadable(addr, size uint64) bool {
	end := addr + size
	if end < addr {
		return false
	}
	for addr < end {
		s, ok := ss.Find(addr)
		if !ok || !s.Readable() {
			return false
		}
		addr = s.End()
	}
	return true
}

// Named returns all segments with the given name, in address order.
func (ss Segments) Named(name string) Segments {
	var out Segments
	for _, s := range ss {
		if s.Name == name {
			out = append(out, s)
		}
	}
	return out
}

// insert adds s, keeping the list sorted. It fails if s overlaps an existing segment.
func (ss *Segments) insert(s Segment) error {
	k := sort.Search(len(*ss), func(k int) bool {
		return (*ss)[k].End() > s.Addr
	})
	if k < len(*ss) && (*ss)[k].Addr < s.End() {
		return fmt.Errorf("%s overlaps %s", s, (*ss)[k])
	}
	*ss = append(*ss, Segment{})
	copy((*ss)[k+1:], (*ss)[k:])
	(*ss)[k] = s
	return nil
}
