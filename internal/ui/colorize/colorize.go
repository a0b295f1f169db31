package colorize

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/quick"
	"github.com/alecthomas/chroma/v2/styles"
)

// Enabled reports whether output may carry ANSI colors.
func Enabled() bool {
	return os.Getenv("REGSCAN_NO_COLOR") == ""
}

// getAssemblyLexer returns an assembly lexer for the machine with fallbacks
func getAssemblyLexer(machine string) chroma.Lexer {
	candidates := []string{"nasm", "gas"}
	if machine == "arm64" {
		candidates = []string{"armasm", "gas", "nasm"}
	}
	for _, name := range candidates {
		if lexer := lexers.Get(name); lexer != nil {
			return lexer
		}
	}
	return nil
}

// getStyle returns the regscan style with fallbacks
func getStyle() *chroma.Style {
	candidates := []string{"regscan-dark", "dracula", "monokai"}
	for _, name := range candidates {
		if style := styles.Get(name); style != nil {
			return style
		}
	}
	return styles.Fallback
}

// getTerminalFormatter returns an appropriate terminal formatter
func getTerminalFormatter() chroma.Formatter {
	candidates := []string{"terminal16m", "terminal256"}
	for _, name := range candidates {
		if formatter := formatters.Get(name); formatter != nil {
			return formatter
		}
	}
	return formatters.Fallback
}

func highlight(lexer chroma.Lexer, code string) (string, error) {
	if !Enabled() || lexer == nil {
		return code, nil
	}

	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return code, err
	}

	var buf strings.Builder
	if err := getTerminalFormatter().Format(&buf, getStyle(), iterator); err != nil {
		return code, err
	}
	return buf.String(), nil
}

// Assembly highlights disassembly text for the given machine ("amd64", "arm64").
func Assembly(machine, code string) string {
	out, err := highlight(getAssemblyLexer(machine), code)
	if err != nil {
		return code
	}
	return out
}

// Hexdump highlights text produced by Dump.
func Hexdump(dump string) string {
	out, err := highlight(lexers.Get("hexdump"), dump)
	if err != nil {
		return dump
	}
	return out
}

// WriteJSON writes data to w, highlighted when colors are enabled.
func WriteJSON(w io.Writer, data []byte) error {
	if !Enabled() {
		_, err := fmt.Fprintln(w, string(data))
		return err
	}
	if err := quick.Highlight(w, string(data)+"\n", "json", "terminal256", "regscan-dark"); err != nil {
		return fmt.Errorf("failed to highlight json: %w", err)
	}
	return nil
}

// Dump formats data read at addr in the canonical hexdump layout, with
// absolute addresses in the offset column.
func Dump(addr uint64, data []byte) string {
	var b strings.Builder
	for off := 0; off < len(data); off += 16 {
		line := data[off:min(off+16, len(data))]

		fmt.Fprintf(&b, "%016x  ", addr+uint64(off))
		for i := 0; i < 16; i++ {
			if i < len(line) {
				fmt.Fprintf(&b, "%02x ", line[i])
			} else {
				b.WriteString("   ")
			}
			if i == 7 {
				b.WriteByte(' ')
			}
		}

		b.WriteString(" |")
		for _, c := range line {
			if c < 0x20 || c > 0x7e {
				c = '.'
			}
			b.WriteByte(c)
		}
		b.WriteString("|\n")
	}
	return b.String()
}

// stripANSI removes ANSI escape codes
func stripANSI(s string) string {
	var result strings.Builder
	inEscape := false

	for _, r := range s {
		if r == '\x1b' {
			inEscape = true
		} else if inEscape {
			if r == 'm' {
				inEscape = false
			}
		} else {
			result.WriteRune(r)
		}
	}

	return result.String()
}
