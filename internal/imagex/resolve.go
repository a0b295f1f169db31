package imagex

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"regscan/internal/memory"
)

// ErrModuleNotFound is returned when no mapping of a process belongs to the named module.
var ErrModuleNotFound = errors.New("imagex: module not mapped")

// Module is the mapped extent of one file in a process.
type Module struct {
	Path string
	Base uint64
	Size uint64
}

// FindModule locates a module among a process's mappings. name may be a full
// path or a base name; base names match case-insensitively, since PE modules
// loaded through a compatibility layer keep their Windows spelling. The extent
// runs from the lowest to the highest mapping of the same file, including gaps.
func FindModule(segs memory.Segments, name string) (Module, error) {
	var m Module
	for _, s := range segs {
		if s.Name == "" || !matchModule(s.Name, name) {
			continue
		}
		if m.Path == "" {
			m = Module{Path: s.Name, Base: s.Addr, Size: s.Size}
			continue
		}
		if s.Name != m.Path {
			continue
		}
		if s.Addr < m.Base {
			m.Size += m.Base - s.Addr
			m.Base = s.Addr
		}
		if s.End() > m.Base+m.Size {
			m.Size = s.End() - m.Base
		}
	}
	if m.Path == "" {
		return Module{}, fmt.Errorf("%q: %w", name, ErrModuleNotFound)
	}
	return m, nil
}

func matchModule(path, name string) bool {
	if path == name {
		return true
	}
	if strings.ContainsRune(name, '/') {
		return false
	}
	return strings.EqualFold(filepath.Base(path), name)
}

// Resolve finds the named module in a running process and parses its file.
// An empty name selects the process's main executable.
func Resolve(pid int, name string, segs memory.Segments) (*Image, error) {
	if name == "" {
		exe, err := os.Readlink(fmt.Sprintf("/proc/%d/exe", pid))
		if err != nil {
			return nil, fmt.Errorf("main executable of %d: %w", pid, err)
		}
		name = exe
	}

	m, err := FindModule(segs, name)
	if err != nil {
		return nil, err
	}

	im, err := OpenFile(m.Path)
	if err != nil {
		return nil, err
	}
	im.Rebase(m.Base, m.Size)
	return im, nil
}
