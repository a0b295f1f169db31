package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"regscan/internal/disasm"
	"regscan/internal/imagex"
	"regscan/internal/ui/colorize"
	"regscan/internal/xref"
)

// headerSpan covers every header layout, so references to the count or
// objects field are found along with references to the header itself.
const headerSpan = 0x20

type located struct {
	xref.Ref
	Function string `json:"function,omitempty"`
}

func locate(im *imagex.Image, refs []xref.Ref) []located {
	out := make([]located, len(refs))
	for i, ref := range refs {
		out[i].Ref = ref
		if s, off, ok := im.SymbolAt(ref.VA); ok {
			out[i].Function = fmt.Sprintf("%s+0x%x", s.Demangled(), off)
		}
	}
	return out
}

func writeRefs(w io.Writer, machine imagex.Machine, refs []located) error {
	var b strings.Builder
	for _, r := range refs {
		fmt.Fprintf(&b, "0x%x  %-12s  %-40s  ; 0x%x", r.VA, r.Kind, r.Text, r.Target)
		if r.Function != "" {
			fmt.Fprintf(&b, " in %s", r.Function)
		}
		b.WriteByte('\n')
	}
	_, err := io.WriteString(w, colorize.Assembly(string(machine), b.String()))
	return err
}

var xrefsCmd = &cobra.Command{
	Use:   "xrefs",
	Short: "List code that references the registry",
	Long: `Disassemble the module's code section from the file on disk and list
instructions that materialize the registry address: ADRP+ADD and
ADRP+LDR/STR pairs on arm64, RIP-relative operands on x86-64.`,
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

		section, _ := cmd.Flags().GetString("section")
		addr := t.handle.Address()
		refs, err := xref.Find(t.image, section, xref.Range{Start: addr, End: addr + headerSpan})
		if err != nil {
			return err
		}
		t.logger.Info("scanned for references", "section", section, "refs", len(refs))

		found := locate(t.image, refs)
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			data, err := json.MarshalIndent(found, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to marshal references: %w", err)
			}
			return colorize.WriteJSON(cmd.OutOrStdout(), data)
		}
		if len(found) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "No references to 0x%x in %s\n", addr, section)
			return nil
		}
		if n, _ := cmd.Flags().GetInt("context"); n > 0 {
			return writeContext(cmd.OutOrStdout(), t.image, section, found, n)
		}
		return writeRefs(cmd.OutOrStdout(), t.image.Machine, found)
	},
}

// writeContext prints each reference with n instructions on either side.
func writeContext(w io.Writer, im *imagex.Image, section string, refs []located, n int) error {
	code, err := im.SectionData(section)
	if err != nil {
		return err
	}
	sec, err := im.Lookup(section)
	if err != nil {
		return err
	}
	stream, err := disasm.Decode(im.Machine, code, im.Base+sec.VA)
	if err != nil {
		return err
	}

	for _, r := range refs {
		header := fmt.Sprintf("; 0x%x -> 0x%x (%s)", r.VA, r.Target, r.Kind)
		if r.Function != "" {
			header += " in " + r.Function
		}
		listing := stream.Around(r.VA, n, n).Format(r.VA)
		if _, err := fmt.Fprintf(w, "%s\n%s\n", header, colorize.Assembly(string(im.Machine), listing)); err != nil {
			return err
		}
	}
	return nil
}

func init() {
	xrefsCmd.Flags().String("section", ".text", "Code section to disassemble")
	xrefsCmd.Flags().IntP("context", "C", 0, "Instructions to show around each reference")
	rootCmd.AddCommand(xrefsCmd)
}
