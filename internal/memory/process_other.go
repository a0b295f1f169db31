//go:build !linux

package memory

// Process is only implemented on Linux.
type Process struct{}

// OpenProcess always fails outside Linux.
func OpenProcess(pid int) (*Process, error) {
	return nil, ErrUnsupported
}

func (p *Process) PID() int                               { return 0 }
func (p *Process) Refresh() error                         { return ErrUnsupported }
func (p *Process) Segments() Segments                     { return nil }
func (p *Process) IsReadable(addr uint64) bool            { return false }
func (p *Process) IsRangeReadable(addr, size uint64) bool { return false }
func (p *Process) Read(addr uint64, buf []byte) error     { return ErrUnsupported }
func (p *Process) Close() error                           { return nil }
