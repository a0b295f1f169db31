package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/x/term"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"regscan/internal/imagex"
	"regscan/internal/objarray"
	"regscan/internal/regscan/styles"
	"regscan/internal/ui/colorize"
)

// report is what discover prints about a registry.
type report struct {
	objarray.Info
	Module string `json:"module,omitempty"`
	Symbol string `json:"symbol,omitempty"`
	Live   int    `json:"live"`
}

func newReport(h *objarray.Handle, im *imagex.Image) report {
	r := report{Info: h.Info()}
	for range h.All() {
		r.Live++
	}
	if im == nil {
		return r
	}
	r.Module = im.Path
	if s, off, ok := im.SymbolAt(h.Address()); ok {
		r.Symbol = s.Demangled()
		if off != 0 {
			r.Symbol += fmt.Sprintf("+0x%x", off)
		}
	}
	return r
}

// rows are the label/value pairs shared by the markdown and plain forms.
func (r report) rows() [][2]string {
	rows := [][2]string{
		{"Layout", fmt.Sprintf("%s (%s)", r.Layout, r.Variant)},
		{"Address", fmt.Sprintf("0x%x", r.Address)},
		{"Offset", fmt.Sprintf("0x%x", r.Offset)},
	}
	if r.Module != "" {
		rows = append([][2]string{{"Module", r.Module}}, rows...)
	}
	if r.Symbol != "" {
		rows = append(rows, [2]string{"Symbol", r.Symbol})
	}
	rows = append(rows,
		[2]string{"Count offset", fmt.Sprintf("0x%x", r.NumOffset)},
		[2]string{"Objects offset", fmt.Sprintf("0x%x", r.ObjectsOffset)},
		[2]string{"Item self offset", fmt.Sprintf("0x%x", r.ItemOffset)},
		[2]string{"Item size", fmt.Sprintf("0x%x", r.ItemSize)},
	)
	if r.ChunkSize != 0 {
		rows = append(rows, [2]string{"Chunk size", fmt.Sprintf("0x%x", r.ChunkSize)})
	}
	rows = append(rows,
		[2]string{"Count", humanize.Comma(int64(r.Num))},
		[2]string{"Live objects", humanize.Comma(int64(r.Live))},
		[2]string{"Decryption", r.Decryption},
	)
	return rows
}

// Markdown renders the report as a table for glamour.
func (r report) Markdown() string {
	var b strings.Builder
	b.WriteString("# Object registry\n\n")
	b.WriteString("| Field | Value |\n|---|---|\n")
	for _, row := range r.rows() {
		fmt.Fprintf(&b, "| %s | `%s` |\n", row[0], row[1])
	}
	if !r.ItemLayoutLearned {
		b.WriteString("\n> The item layout could not be learned; indexed access returns nothing.\n")
	}
	return b.String()
}

// WritePlain writes one "label: value" line per field.
func (r report) WritePlain(w io.Writer) error {
	for _, row := range r.rows() {
		if _, err := fmt.Fprintf(w, "%-17s %s\n", row[0]+":", row[1]); err != nil {
			return err
		}
	}
	if !r.ItemLayoutLearned {
		_, err := fmt.Fprintln(w, "warning: item layout not learned")
		return err
	}
	return nil
}

func printReport(w io.Writer, r report, asJSON, plain bool) error {
	switch {
	case asJSON:
		data, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal report: %w", err)
		}
		return colorize.WriteJSON(w, data)
	case plain:
		return r.WritePlain(w)
	}

	width := 80
	if tw, _, err := term.GetSize(os.Stdout.Fd()); err == nil && tw > 0 {
		width = tw
	}
	renderer, err := styles.GetMarkdownRenderer(width)
	if err != nil {
		return r.WritePlain(w)
	}
	out, err := renderer.Render(r.Markdown())
	if err != nil {
		return r.WritePlain(w)
	}
	_, err = io.WriteString(w, out)
	return err
}

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Find the registry and print its layout",
	Long: `Find the registry in the target process and print the discovered layout:
header address, count and objects offsets, item record layout, chunk size
and the number of live objects.`,
	Example: `
# Report as markdown
regscan discover --pid 4242

# Machine readable
regscan discover --pid 4242 --json
  `,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := settings(cmd)
		if err != nil {
			return err
		}
		t, err := attach(c)
		if err != nil {
			return err
		}
		defer t.Close()

		asJSON, _ := cmd.Flags().GetBool("json")
		noTUI, _ := cmd.Flags().GetBool("no-tui")
		plain := noTUI || !colorize.Enabled()
		return printReport(cmd.OutOrStdout(), newReport(t.handle, t.image), asJSON, plain)
	},
}

func init() {
	rootCmd.AddCommand(discoverCmd)
}
