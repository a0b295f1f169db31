// Package imagex describes a loaded module: where it is mapped, which
// sections it has and what symbols it exports. Section tables come from the
// on-disk ELF or PE file; the load address comes from the target process.
package imagex

import (
	"debug/elf"
	"debug/pe"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
)

var (
	// ErrSectionNotFound is returned when an image has no section of a given name.
	ErrSectionNotFound = errors.New("imagex: section not found")

	// ErrFormat is returned for files that are neither ELF nor PE.
	ErrFormat = errors.New("imagex: unrecognized image format")
)

// Format is the on-disk container of an image.
type Format string

const (
	FormatELF       Format = "elf"
	FormatPE        Format = "pe"
	FormatSynthetic Format = "synthetic"
)

// Machine is the instruction set the image was built for.
type Machine string

const (
	MachineAMD64   Machine = "amd64"
	MachineARM64   Machine = "arm64"
	MachineUnknown Machine = "unknown"
)

// Section is a named range of the image. VA is relative to the image base.
type Section struct {
	Name     string
	VA       uint64
	Size     uint64
	Off      uint64
	FileSize uint64
}

// End returns the first relative address past the section.
func (s Section) End() uint64 {
	return s.VA + s.Size
}

// Image is a module mapped at Base.
type Image struct {
	Path    string
	Format  Format
	Machine Machine

	Base uint64
	Size uint64

	Sections []Section
	// Syms are sorted by address; Addr is relative to the image base.
	Syms []Symbol

	f io.ReaderAt
	c io.Closer
}

// OpenFile parses the section and symbol tables of an ELF or PE file.
// Base is the file's preferred load address until Rebase is called.
func OpenFile(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}

	im := &Image{Path: path, f: f, c: f}
	if ef, err := elf.NewFile(f); err == nil {
		err = im.loadELF(ef)
		if err != nil {
			f.Close()
			return nil, err
		}
		return im, nil
	}
	if pf, err := pe.NewFile(f); err == nil {
		err = im.loadPE(pf)
		if err != nil {
			f.Close()
			return nil, err
		}
		return im, nil
	}

	f.Close()
	return nil, fmt.Errorf("%s: %w", path, ErrFormat)
}

// FromSegments builds an image without a backing file, for targets whose
// layout is known some other way.
func FromSegments(base, size uint64, sections []Section) *Image {
	im := &Image{
		Format:   FormatSynthetic,
		Machine:  MachineUnknown,
		Base:     base,
		Size:     size,
		Sections: append([]Section(nil), sections...),
	}
	sort.Slice(im.Sections, func(i, k int) bool { return im.Sections[i].VA < im.Sections[k].VA })
	return im
}

func (im *Image) loadELF(f *elf.File) error {
	im.Format = FormatELF
	switch f.Machine {
	case elf.EM_X86_64:
		im.Machine = MachineAMD64
	case elf.EM_AARCH64:
		im.Machine = MachineARM64
	default:
		im.Machine = MachineUnknown
	}

	// The lowest PT_LOAD is mapped at the image base.
	var lo, hi uint64
	first := true
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		start := p.Vaddr &^ 0xfff
		end := p.Vaddr + p.Memsz
		if first || start < lo {
			lo = start
		}
		if end > hi {
			hi = end
		}
		first = false
	}
	if first {
		return fmt.Errorf("%s: no loadable segments", im.Path)
	}
	im.Base, im.Size = lo, hi-lo

	for _, s := range f.Sections {
		if s.Flags&elf.SHF_ALLOC == 0 || s.Addr < lo {
			continue
		}
		sec := Section{Name: s.Name, VA: s.Addr - lo, Size: s.Size, Off: s.Offset}
		if s.Type != elf.SHT_NOBITS {
			sec.FileSize = s.FileSize
		}
		im.Sections = append(im.Sections, sec)
	}

	// Static symbols first; stripped binaries fall back to the dynamic table.
	syms, err := f.Symbols()
	if err != nil || len(syms) == 0 {
		syms, _ = f.DynamicSymbols()
	}
	for _, s := range syms {
		if s.Value < lo || s.Name == "" {
			continue
		}
		switch elf.ST_TYPE(s.Info) {
		case elf.STT_FUNC, elf.STT_OBJECT:
		default:
			continue
		}
		im.Syms = append(im.Syms, Symbol{Name: s.Name, Addr: s.Value - lo, Size: s.Size})
	}
	im.sortSymbols()
	return nil
}

func (im *Image) loadPE(f *pe.File) error {
	im.Format = FormatPE
	switch f.Machine {
	case pe.IMAGE_FILE_MACHINE_AMD64:
		im.Machine = MachineAMD64
	case pe.IMAGE_FILE_MACHINE_ARM64:
		im.Machine = MachineARM64
	default:
		im.Machine = MachineUnknown
	}

	switch oh := f.OptionalHeader.(type) {
	case *pe.OptionalHeader64:
		im.Base, im.Size = oh.ImageBase, uint64(oh.SizeOfImage)
	case *pe.OptionalHeader32:
		im.Base, im.Size = uint64(oh.ImageBase), uint64(oh.SizeOfImage)
	default:
		return fmt.Errorf("%s: no optional header", im.Path)
	}

	for _, s := range f.Sections {
		im.Sections = append(im.Sections, Section{
			Name:     s.Name,
			VA:       uint64(s.VirtualAddress),
			Size:     uint64(max(s.VirtualSize, s.Size)),
			Off:      uint64(s.Offset),
			FileSize: uint64(s.Size),
		})
	}

	// Release builds rarely carry COFF symbols, but mingw ones do.
	for _, s := range f.Symbols {
		if s.SectionNumber <= 0 || int(s.SectionNumber) > len(f.Sections) {
			continue
		}
		sec := f.Sections[s.SectionNumber-1]
		im.Syms = append(im.Syms, Symbol{Name: s.Name, Addr: uint64(sec.VirtualAddress) + uint64(s.Value)})
	}
	im.sortSymbols()
	return nil
}

// Close releases the backing file, if any.
func (im *Image) Close() error {
	if im.c == nil {
		return nil
	}
	err := im.c.Close()
	im.c, im.f = nil, nil
	return err
}

// Rebase moves the image to where the target process mapped it.
func (im *Image) Rebase(base, size uint64) {
	im.Base = base
	if size > im.Size {
		im.Size = size
	}
}

// Bounds returns the image base and its mapped size.
func (im *Image) Bounds() (uint64, uint64) {
	return im.Base, im.Size
}

// Lookup returns the first section with the given name.
func (im *Image) Lookup(name string) (Section, error) {
	for _, s := range im.Sections {
		if s.Name == name {
			return s, nil
		}
	}
	return Section{}, fmt.Errorf("%q: %w", name, ErrSectionNotFound)
}

// Section returns the absolute address and size of a named section.
func (im *Image) Section(name string) (uint64, uint64, error) {
	s, err := im.Lookup(name)
	if err != nil {
		return 0, 0, err
	}
	return im.Base + s.VA, s.Size, nil
}

// SectionAt returns the section holding the absolute address va.
func (im *Image) SectionAt(va uint64) (Section, bool) {
	if va < im.Base {
		return Section{}, false
	}
	rva := va - im.Base
	for _, s := range im.Sections {
		if rva >= s.VA && rva < s.End() {
			return s, true
		}
	}
	return Section{}, false
}

// SectionData reads a section's bytes from the backing file. Bytes the file
// does not store (such as .bss) are not returned.
func (im *Image) SectionData(name string) ([]byte, error) {
	s, err := im.Lookup(name)
	if err != nil {
		return nil, err
	}
	if im.f == nil {
		return nil, fmt.Errorf("section %q: image has no backing file", name)
	}
	buf := make([]byte, s.FileSize)
	if _, err := im.f.ReadAt(buf, int64(s.Off)); err != nil {
		return nil, fmt.Errorf("read section %q: %w", name, err)
	}
	return buf, nil
}

// Contains reports whether va falls inside the image.
func (im *Image) Contains(va uint64) bool {
	return va >= im.Base && va-im.Base < im.Size
}
