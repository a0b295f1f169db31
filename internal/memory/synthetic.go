package memory

import (
	"encoding/binary"
	"fmt"
)

const pageSize = 0x1000

// Synthetic is an in-memory address space made of explicitly mapped segments.
// Everything outside a mapped segment is unreadable. It is used to build
// registry images without a target process.
type Synthetic struct {
	segs Segments
	next uint64
}

// NewSynthetic returns an empty address space. Alloc hands out addresses
// starting at base.
func NewSynthetic(base uint64) *Synthetic {
	return &Synthetic{next: base}
}

// Map maps a zero-filled readable segment at [addr, addr+size).
func (s *Synthetic) Map(addr, size uint64, name string) error {
	if size == 0 {
		return fmt.Errorf("map 0x%x: zero size", addr)
	}
	seg := Segment{Addr: addr, Size: size, Perm: "rw-p", Name: name, data: make([]byte, size)}
	if err := s.segs.insert(seg); err != nil {
		return fmt.Errorf("map 0x%x: %w", addr, err)
	}
	if end := alignUp(addr+size, pageSize) + pageSize; end > s.next {
		s.next = end
	}
	return nil
}

// Unmap removes the segment starting at addr.
func (s *Synthetic) Unmap(addr uint64) {
	for i, seg := range s.segs {
		if seg.Addr == addr {
			s.segs = append(s.segs[:i], s.segs[i+1:]...)
			return
		}
	}
}

// Alloc maps a fresh segment of the given size and returns its address.
// Consecutive allocations are separated by an unmapped guard page.
func (s *Synthetic) Alloc(size uint64, name string) uint64 {
	addr := alignUp(s.next, pageSize)
	if err := s.Map(addr, size, name); err != nil {
		panic(err)
	}
	return addr
}

// Segments returns the mapped segments.
func (s *Synthetic) Segments() Segments {
	return s.segs
}

// IsReadable implements Memory.
func (s *Synthetic) IsReadable(addr uint64) bool {
	return s.segs.IsReadable(addr)
}

// IsRangeReadable implements RangeChecker.
func (s *Synthetic) IsRangeReadable(addr, size uint64) bool {
	return s.segs.IsRangeReadable(addr, size)
}

// Read implements Memory.
func (s *Synthetic) Read(addr uint64, p []byte) error {
	for len(p) > 0 {
		seg, ok := s.segs.Find(addr)
		if !ok {
			return fmt.Errorf("read at 0x%x: %w", addr, ErrUnreadable)
		}
		n := copy(p, seg.data[addr-seg.Addr:])
		p = p[n:]
		addr += uint64(n)
	}
	return nil
}

// Write copies p into mapped memory at addr. It panics if the range is not mapped,
// since that is a mistake in the image being built.
func (s *Synthetic) Write(addr uint64, p []byte) {
	for len(p) > 0 {
		seg, ok := s.segs.Find(addr)
		if !ok {
			panic(fmt.Sprintf("synthetic write at unmapped 0x%x", addr))
		}
		n := copy(seg.data[addr-seg.Addr:], p)
		p = p[n:]
		addr += uint64(n)
	}
}

// PutPtr writes a little-endian pointer at addr.
func (s *Synthetic) PutPtr(addr, v uint64) {
	var buf [PointerSize]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	s.Write(addr, buf[:])
}

// PutInt32 writes a little-endian int32 at addr.
func (s *Synthetic) PutInt32(addr uint64, v int32) {
	s.PutUint32(addr, uint32(v))
}

// PutUint32 writes a little-endian uint32 at addr.
func (s *Synthetic) PutUint32(addr uint64, v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	s.Write(addr, buf[:])
}

func alignUp(v, a uint64) uint64 {
	return (v + a - 1) &^ (a - 1)
}
