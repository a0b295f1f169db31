package colorize

import (
	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/styles"
)

func init() {
	_ = RegscanDark
}

// Palette shared with the report and browser styles.
const (
	ColorForeground = "#D4D4D4"
	ColorAddress    = "#858585"
	ColorNumber     = "#FF5F87"
	ColorRegister   = "#7C9C9D"
	ColorString     = "#EACD53"
	ColorKey        = "#9CDCFE"
	ColorBackground = "#1E1E1E"
)

// RegscanDark highlights disassembly, hexdumps and JSON.
var RegscanDark = styles.Register(chroma.MustNewStyle("regscan-dark", chroma.StyleEntries{
	chroma.Text:           ColorForeground,
	chroma.Background:     "bg:" + ColorBackground,
	chroma.Comment:        ColorAddress,
	chroma.CommentPreproc: ColorAddress,

	chroma.Keyword:         "#FFFFFF",
	chroma.KeywordPseudo:   "#FFFFFF",
	chroma.KeywordConstant: "#569CD6",
	chroma.Name:            ColorRegister,
	chroma.NameBuiltin:     ColorRegister,
	chroma.NameVariable:    ColorRegister,
	chroma.NameTag:         ColorKey,

	chroma.LiteralNumber:        ColorNumber,
	chroma.LiteralNumberHex:     ColorNumber,
	chroma.LiteralNumberBin:     ColorNumber,
	chroma.LiteralNumberOct:     ColorNumber,
	chroma.LiteralNumberInteger: ColorNumber,
	chroma.LiteralNumberFloat:   ColorNumber,

	chroma.NameLabel:    "#FFD700",
	chroma.NameFunction: "#FFFFFF",

	chroma.Operator:    ColorForeground,
	chroma.Punctuation: ColorForeground,

	chroma.String: ColorString,
}))
