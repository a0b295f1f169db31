// Package disasm decodes short instruction listings for display, using the
// same decoders the reference scanner uses.
package disasm

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/arch/arm64/arm64asm"
	"golang.org/x/arch/x86/x86asm"

	"regscan/internal/imagex"
)

// Inst is a simplified decoded instruction.
type Inst struct {
	VA   uint64 // virtual address of instruction
	Text string // formatted disassembly string
	Op   string // mnemonic in lowercase
	Len  int
}

// Stream is a linear sequence of instructions, sorted by VA.
type Stream []Inst

// Decode disassembles code loaded at base for the machine.
func Decode(m imagex.Machine, code []byte, base uint64) (Stream, error) {
	switch m {
	case imagex.MachineARM64:
		return ARM64(code, base), nil
	case imagex.MachineAMD64:
		return AMD64(code, base), nil
	default:
		return nil, fmt.Errorf("disasm: unsupported machine %s", m)
	}
}

// ARM64 decodes every 4-byte word. Undecodable words become ".word".
func ARM64(code []byte, base uint64) Stream {
	s := make(Stream, 0, len(code)/4)
	for i := 0; i+4 <= len(code); i += 4 {
		va := base + uint64(i)
		inst, err := arm64asm.Decode(code[i : i+4])
		if err != nil {
			s = append(s, Inst{VA: va, Text: fmt.Sprintf(".word 0x%02x%02x%02x%02x", code[i+3], code[i+2], code[i+1], code[i]), Op: ".word", Len: 4})
			continue
		}
		s = append(s, Inst{VA: va, Text: arm64asm.GNUSyntax(inst), Op: strings.ToLower(inst.Op.String()), Len: 4})
	}
	return s
}

// AMD64 decodes linearly. Undecodable bytes become one-byte ".byte" entries.
func AMD64(code []byte, base uint64) Stream {
	var s Stream
	for i := 0; i < len(code); {
		va := base + uint64(i)
		inst, err := x86asm.Decode(code[i:], 64)
		if err != nil || inst.Len == 0 {
			s = append(s, Inst{VA: va, Text: fmt.Sprintf(".byte 0x%02x", code[i]), Op: ".byte", Len: 1})
			i++
			continue
		}
		s = append(s, Inst{VA: va, Text: x86asm.IntelSyntax(inst, va, nil), Op: strings.ToLower(inst.Op.String()), Len: inst.Len})
		i += inst.Len
	}
	return s
}

// Around returns the instruction starting at va with up to before
// instructions preceding it and after following it. It returns nil when no
// instruction starts at va.
func (s Stream) Around(va uint64, before, after int) Stream {
	i := sort.Search(len(s), func(i int) bool { return s[i].VA >= va })
	if i == len(s) || s[i].VA != va {
		return nil
	}
	return s[max(0, i-before):min(len(s), i+after+1)]
}

// Format writes one instruction per line. The instruction at mark, if any,
// is flagged.
func (s Stream) Format(mark uint64) string {
	var b strings.Builder
	for _, inst := range s {
		flag := "  "
		if inst.VA == mark {
			flag = "=>"
		}
		fmt.Fprintf(&b, "%s 0x%x  %s\n", flag, inst.VA, inst.Text)
	}
	return b.String()
}
