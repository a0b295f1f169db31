// Package xref finds instructions that materialize an address, so a found
// registry can be tied back to the code that uses it.
package xref

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/arch/arm64/arm64asm"
	"golang.org/x/arch/x86/x86asm"

	"regscan/internal/imagex"
)

// ErrMachine is returned for images whose instruction set is not decoded.
var ErrMachine = errors.New("xref: unsupported machine")

// pageWindow is how many instructions an ADRP result is trusted for.
const pageWindow = 32

// Kind names the instruction pattern that produced a reference.
type Kind string

const (
	KindADRPAdd  Kind = "adrp+add"
	KindADRPLoad Kind = "adrp+ldst"
	KindRIPRel   Kind = "rip-relative"
)

// Ref is one instruction referencing an address in the searched range.
type Ref struct {
	VA     uint64 `json:"va"`
	Target uint64 `json:"target"`
	Kind   Kind   `json:"kind"`
	Text   string `json:"text"`
}

// Range is the half-open span of addresses a scan looks for.
type Range struct {
	Start, End uint64
}

// Contains reports whether addr is in the range.
func (r Range) Contains(addr uint64) bool {
	return addr >= r.Start && addr < r.End
}

// Find scans the image's code section for references into r.
func Find(im *imagex.Image, section string, r Range) ([]Ref, error) {
	code, err := im.SectionData(section)
	if err != nil {
		return nil, err
	}
	sec, err := im.Lookup(section)
	if err != nil {
		return nil, err
	}
	return Scan(im.Machine, code, im.Base+sec.VA, r)
}

// Scan decodes code loaded at base and returns the references into r.
func Scan(m imagex.Machine, code []byte, base uint64, r Range) ([]Ref, error) {
	switch m {
	case imagex.MachineARM64:
		return ScanARM64(code, base, r), nil
	case imagex.MachineAMD64:
		return ScanAMD64(code, base, r), nil
	default:
		return nil, fmt.Errorf("%s: %w", m, ErrMachine)
	}
}

type page struct {
	addr uint64
	pc   uint64
}

// ScanARM64 pairs each ADRP with a later ADD or load/store on the same
// register within a small window.
func ScanARM64(code []byte, base uint64, r Range) []Ref {
	var refs []Ref
	pages := make(map[arm64asm.Reg]page)

	for i := 0; i+4 <= len(code); i += 4 {
		pc := base + uint64(i)
		inst, err := arm64asm.Decode(code[i : i+4])
		if err != nil {
			continue
		}

		live := func(reg arm64asm.Reg) (uint64, bool) {
			p, ok := pages[reg]
			if !ok || pc-p.pc > pageWindow*4 {
				return 0, false
			}
			return p.addr, true
		}

		switch inst.Op {
		case arm64asm.ADRP:
			rel, ok1 := inst.Args[1].(arm64asm.PCRel)
			dst, ok2 := inst.Args[0].(arm64asm.Reg)
			if ok1 && ok2 {
				pages[dst] = page{addr: uint64(int64(pc)+int64(rel)) &^ 0xfff, pc: pc}
			}
			continue

		case arm64asm.ADD:
			src, ok := regOf(inst.Args[1])
			if !ok {
				break
			}
			pg, ok := live(src)
			if !ok {
				break
			}
			imm, ok := immShift(inst.Args[2])
			if !ok {
				break
			}
			if addr := pg + imm; r.Contains(addr) {
				refs = append(refs, Ref{VA: pc, Target: addr, Kind: KindADRPAdd, Text: arm64asm.GNUSyntax(inst)})
			}
		}

		for _, arg := range inst.Args {
			mem, ok := arg.(arm64asm.MemImmediate)
			if !ok || mem.Mode != arm64asm.AddrOffset {
				continue
			}
			pg, ok := live(arm64asm.Reg(mem.Base))
			if !ok {
				continue
			}
			if addr := pg + memOffset(mem); r.Contains(addr) {
				refs = append(refs, Ref{VA: pc, Target: addr, Kind: KindADRPLoad, Text: arm64asm.GNUSyntax(inst)})
			}
		}

		// Any other write to a tracked register ends its page.
		if dst, ok := regOf(inst.Args[0]); ok && writesFirstArg(inst.Op) {
			delete(pages, dst)
		}
	}
	return refs
}

func regOf(arg arm64asm.Arg) (arm64asm.Reg, bool) {
	switch a := arg.(type) {
	case arm64asm.Reg:
		return a, true
	case arm64asm.RegSP:
		return arm64asm.Reg(a), true
	}
	return 0, false
}

func writesFirstArg(op arm64asm.Op) bool {
	switch op {
	case arm64asm.STR, arm64asm.STRB, arm64asm.STRH, arm64asm.STP, arm64asm.STUR,
		arm64asm.CMP, arm64asm.CMN, arm64asm.TST, arm64asm.B, arm64asm.BL,
		arm64asm.BR, arm64asm.BLR, arm64asm.RET, arm64asm.CBZ, arm64asm.CBNZ:
		return false
	}
	return true
}

// immShift reads "#0x230" or "#0x1, LSL #12"; the type keeps its fields private.
func immShift(arg arm64asm.Arg) (uint64, bool) {
	switch a := arg.(type) {
	case arm64asm.Imm:
		return uint64(a.Imm), true
	case arm64asm.ImmShift:
		s := a.String()
		val, shift, _ := strings.Cut(s, ", LSL #")
		v, err := strconv.ParseUint(strings.TrimPrefix(val, "#0x"), 16, 64)
		if err != nil {
			return 0, false
		}
		if shift != "" {
			n, err := strconv.Atoi(shift)
			if err != nil {
				return 0, false
			}
			v <<= n
		}
		return v, true
	}
	return 0, false
}

// memOffset reads the signed offset of "[X8,#560]".
func memOffset(m arm64asm.MemImmediate) uint64 {
	s := m.String()
	i := strings.Index(s, "#")
	if i < 0 {
		return 0
	}
	n, err := strconv.ParseInt(strings.TrimSuffix(s[i+1:], "]"), 10, 64)
	if err != nil {
		return 0
	}
	return uint64(n)
}

// ScanAMD64 sweeps code linearly and reports every RIP-relative operand
// landing in r. Undecodable bytes are skipped one at a time.
func ScanAMD64(code []byte, base uint64, r Range) []Ref {
	var refs []Ref
	for i := 0; i < len(code); {
		pc := base + uint64(i)
		inst, err := x86asm.Decode(code[i:], 64)
		if err != nil || inst.Len == 0 {
			i++
			continue
		}

		for _, arg := range inst.Args {
			mem, ok := arg.(x86asm.Mem)
			if !ok || mem.Base != x86asm.RIP {
				continue
			}
			addr := pc + uint64(inst.Len) + uint64(mem.Disp)
			if r.Contains(addr) {
				refs = append(refs, Ref{VA: pc, Target: addr, Kind: KindRIPRel, Text: x86asm.IntelSyntax(inst, pc, nil)})
			}
		}
		i += inst.Len
	}
	return refs
}
