//go:build linux

package memory

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Process reads the address space of another process on Linux.
// Readability comes from the permissions in /proc/<pid>/maps; reads go through
// process_vm_readv, falling back to /proc/<pid>/mem when the syscall is refused.
type Process struct {
	pid int

	mu   sync.RWMutex
	segs Segments
	mem  *os.File
}

// OpenProcess opens pid for reading and loads its memory map.
func OpenProcess(pid int) (*Process, error) {
	p := &Process{pid: pid}
	if err := p.Refresh(); err != nil {
		return nil, err
	}
	return p, nil
}

// PID returns the target process id.
func (p *Process) PID() int {
	return p.pid
}

// Refresh re-reads /proc/<pid>/maps.
func (p *Process) Refresh() error {
	f, err := os.Open(fmt.Sprintf("/proc/%d/maps", p.pid))
	if err != nil {
		return fmt.Errorf("open maps: %w", err)
	}
	defer f.Close()

	segs, err := ParseMaps(f)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.segs = segs
	p.mu.Unlock()
	return nil
}

// Segments returns the last loaded memory map.
func (p *Process) Segments() Segments {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.segs
}

// IsReadable implements Memory.
func (p *Process) IsReadable(addr uint64) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.segs.IsReadable(addr)
}

// IsRangeReadable implements RangeChecker.
func (p *Process) IsRangeReadable(addr, size uint64) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.segs.IsRangeReadable(addr, size)
}

// Read implements Memory.
func (p *Process) Read(addr uint64, buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	local := []unix.Iovec{{Base: (*byte)(unsafe.Pointer(&buf[0]))}}
	local[0].SetLen(len(buf))
	remote := []unix.RemoteIovec{{Base: uintptr(addr), Len: len(buf)}}

	n, err := unix.ProcessVMReadv(p.pid, local, remote, 0)
	switch {
	case err == nil && n == len(buf):
		return nil
	case err == nil:
		return fmt.Errorf("read 0x%x bytes at 0x%x: short read %d: %w", len(buf), addr, n, ErrUnreadable)
	case errors.Is(err, unix.ENOSYS) || errors.Is(err, unix.EPERM):
		return p.readFile(addr, buf)
	default:
		return fmt.Errorf("read 0x%x bytes at 0x%x: %v: %w", len(buf), addr, err, ErrUnreadable)
	}
}

func (p *Process) readFile(addr uint64, buf []byte) error {
	p.mu.Lock()
	if p.mem == nil {
		f, err := os.Open(fmt.Sprintf("/proc/%d/mem", p.pid))
		if err != nil {
			p.mu.Unlock()
			return fmt.Errorf("open mem: %w", err)
		}
		p.mem = f
	}
	f := p.mem
	p.mu.Unlock()

	if _, err := f.ReadAt(buf, int64(addr)); err != nil {
		return fmt.Errorf("read 0x%x bytes at 0x%x: %v: %w", len(buf), addr, err, ErrUnreadable)
	}
	return nil
}

// Close releases the /proc/<pid>/mem handle if one was opened.
func (p *Process) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.mem == nil {
		return nil
	}
	err := p.mem.Close()
	p.mem = nil
	return err
}
