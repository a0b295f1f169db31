package imagex

import (
	"sort"
	"sync"

	"github.com/ianlancetaylor/demangle"
)

// Symbol is a named address in the image, relative to the image base.
type Symbol struct {
	Name string
	Addr uint64
	Size uint64
}

// Demangled returns the symbol's name with C++ and Rust mangling removed.
func (s Symbol) Demangled() string {
	return Demangle(s.Name)
}

var demangleCache sync.Map // mangled -> demangled

// Demangle demangles name, returning it unchanged if it is not mangled.
// Results are cached.
func Demangle(name string) string {
	if v, ok := demangleCache.Load(name); ok {
		return v.(string)
	}
	d := demangle.Filter(name, demangle.NoClones)
	demangleCache.Store(name, d)
	return d
}

func (im *Image) sortSymbols() {
	sort.SliceStable(im.Syms, func(i, k int) bool { return im.Syms[i].Addr < im.Syms[k].Addr })
}

// SymbolAt returns the symbol covering the absolute address va together with
// the offset of va into it. Sized symbols must contain va; unsized ones match
// when they are the nearest symbol below va in the same section.
func (im *Image) SymbolAt(va uint64) (Symbol, uint64, bool) {
	if va < im.Base || len(im.Syms) == 0 {
		return Symbol{}, 0, false
	}
	rva := va - im.Base

	k := sort.Search(len(im.Syms), func(k int) bool { return im.Syms[k].Addr > rva }) - 1
	if k < 0 {
		return Symbol{}, 0, false
	}
	s := im.Syms[k]
	off := rva - s.Addr

	if s.Size != 0 {
		if off >= s.Size {
			return Symbol{}, 0, false
		}
		return s, off, true
	}

	sec, ok := im.SectionAt(va)
	if !ok || s.Addr < sec.VA {
		return Symbol{}, 0, false
	}
	return s, off, true
}

// LookupSymbol returns the first symbol with the given name, mangled or demangled.
func (im *Image) LookupSymbol(name string) (Symbol, bool) {
	for _, s := range im.Syms {
		if s.Name == name || s.Demangled() == name {
			return s, true
		}
	}
	return Symbol{}, false
}
