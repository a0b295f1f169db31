// Package memory provides guarded access to the address space of a target process.
// Every typed read probes readability first, so no read through an unvalidated
// pointer can fault, whichever backend (live process, synthetic image) serves it.
package memory

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// PointerSize is the width of a pointer in the supported targets.
const PointerSize = 8

var (
	// ErrUnreadable is returned when any byte of a requested range is not readable.
	ErrUnreadable = errors.New("memory: unreadable")

	// ErrUnsupported is returned by backends that do not exist on this platform.
	ErrUnsupported = errors.New("memory: unsupported platform")
)

// Memory is a readable address space.
type Memory interface {
	// IsReadable reports whether the byte at addr can be read.
	// It must never fault, for any value of addr.
	IsReadable(addr uint64) bool

	// Read fills p with the bytes starting at addr. It returns ErrUnreadable
	// (possibly wrapped) if the range is not fully readable.
	Read(addr uint64, p []byte) error
}

// View adds typed, guarded reads on top of a Memory.
type View struct {
	Memory
	Order binary.ByteOrder
}

// NewView returns a little-endian View over m.
func NewView(m Memory) View {
	return View{Memory: m, Order: binary.LittleEndian}
}

// RangeChecker is implemented by backends that can check a whole range at once.
type RangeChecker interface {
	IsRangeReadable(addr, size uint64) bool
}

// CanRead reports whether the whole range [addr, addr+size) is readable.
func (v View) CanRead(addr, size uint64) bool {
	if size == 0 {
		return v.IsReadable(addr)
	}
	if addr+size < addr {
		return false
	}
	if rc, ok := v.Memory.(RangeChecker); ok {
		return rc.IsRangeReadable(addr, size)
	}
	return v.IsReadable(addr) && v.IsReadable(addr+size-1)
}

// ValidPtr reports whether p is non-null and points at readable memory.
func (v View) ValidPtr(p uint64) bool {
	return p != 0 && v.CanRead(p, PointerSize)
}

// Ptr reads a pointer at addr. It returns 0 if addr is not readable.
func (v View) Ptr(addr uint64) uint64 {
	var buf [PointerSize]byte
	if !v.CanRead(addr, PointerSize) || v.Read(addr, buf[:]) != nil {
		return 0
	}
	return v.Order.Uint64(buf[:])
}

// Int32 reads a signed 32-bit integer at addr. It returns 0 if addr is not readable.
func (v View) Int32(addr uint64) int32 {
	return int32(v.Uint32(addr))
}

// Uint32 reads an unsigned 32-bit integer at addr. It returns 0 if addr is not readable.
func (v View) Uint32(addr uint64) uint32 {
	var buf [4]byte
	if !v.CanRead(addr, 4) || v.Read(addr, buf[:]) != nil {
		return 0
	}
	return v.Order.Uint32(buf[:])
}

// Bytes reads size bytes at addr.
func (v View) Bytes(addr uint64, size int) ([]byte, error) {
	if size <= 0 {
		return []byte{}, nil
	}
	if !v.CanRead(addr, uint64(size)) {
		return nil, fmt.Errorf("read 0x%x bytes at 0x%x: %w", size, addr, ErrUnreadable)
	}
	buf := make([]byte, size)
	if err := v.Read(addr, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
