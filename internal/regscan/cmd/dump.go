package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"regscan/internal/objarray"
)

// DumpFile is the default output of the dump command.
const DumpFile = "Objects-Dump.txt"

// writeDump writes a header with the current count, then one line per live
// object. It returns the number of objects written.
func writeDump(w io.Writer, h *objarray.Handle) (int, error) {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "Object dump by regscan\n\nCount: %d\n\n\n", h.Num())

	n := 0
	for index, obj := range h.All() {
		if _, err := fmt.Fprintf(bw, "[%08X] {0x%x}\n", index, obj); err != nil {
			return n, err
		}
		n++
	}
	return n, bw.Flush()
}

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Write the address of every live object to a file",
	Example: `
# Write Objects-Dump.txt in the current directory
regscan dump --pid 4242

# Print to stdout
regscan dump --pid 4242 -O -
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

		out, _ := cmd.Flags().GetString("output")
		if out == "-" {
			_, err := writeDump(cmd.OutOrStdout(), t.handle)
			return err
		}

		f, err := os.Create(out)
		if err != nil {
			return fmt.Errorf("failed to create dump: %w", err)
		}
		n, err := writeDump(f, t.handle)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("failed to write dump: %w", err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s objects to %s\n", humanize.Comma(int64(n)), out)
		return nil
	},
}

func init() {
	dumpCmd.Flags().StringP("output", "O", DumpFile, "Output file, or - for stdout")
	rootCmd.AddCommand(dumpCmd)
}
