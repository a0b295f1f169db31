package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"regscan/internal/config"
	"regscan/internal/decrypt"
	"regscan/internal/layout"
	"regscan/internal/logging"
	"regscan/internal/regscan/styles"
	"regscan/internal/synth"
	"regscan/internal/ui/colorize"
)

const selftestKey = "xor:0x00ff00ff00000000"

type selftestCase struct {
	name   string
	build  func() *synth.Image
	config config.Config
}

func selftestCases() []selftestCase {
	key, err := decrypt.Parse(selftestKey)
	if err != nil {
		panic(err)
	}
	large := synth.Options{
		Num:       0x10900,
		MaxChunks: 0x10,
		Max:       0x10 * layout.ChunkSizeLarge,
		ChunkSize: layout.ChunkSizeLarge,
	}

	return []selftestCase{
		{
			name:  "flat",
			build: func() *synth.Image { return synth.NewFlat(synth.Options{}) },
		},
		{
			name: "flat, holes",
			build: func() *synth.Image {
				return synth.NewFlat(synth.Options{Num: 0x1800, Holes: []int32{0, 7, 0x400, 0x17FF}})
			},
		},
		{
			name: "chunked, item header",
			build: func() *synth.Image {
				return synth.NewChunked(synth.Options{ItemOffset: 8, ItemSize: 0x10, Holes: []int32{7, 0x100}})
			},
		},
		{
			name:  "chunked",
			build: func() *synth.Image { return synth.NewChunked(synth.Options{}) },
		},
		{
			name:  "chunked, large chunks",
			build: func() *synth.Image { return synth.NewChunked(large) },
		},
		{
			name: "chunked, reordered header",
			build: func() *synth.Image {
				return synth.NewChunked(synth.Options{Chunked: layout.ChunkedLayouts[1]})
			},
		},
		{
			name: "flat, encrypted",
			build: func() *synth.Image {
				return synth.NewFlat(synth.Options{Encrypt: key.Fn})
			},
			config: config.Config{Decrypt: selftestKey},
		},
		{
			name: "flat, outside data section",
			build: func() *synth.Image {
				return synth.NewFlat(synth.Options{RegistryOffset: synth.TextOffset + 0x800})
			},
		},
		{
			name:   "chunked, known offset",
			build:  func() *synth.Image { return synth.NewChunked(large) },
			config: config.Config{Offset: fmt.Sprintf("0x%x", synth.DefaultRegistryOffset), Chunked: true},
		},
	}
}

// check discovers the registry of a synthetic image and compares everything
// the handle reports with what was built.
func (tc selftestCase) check(lg *log.Logger) error {
	im := tc.build()
	h, err := discover(im.Mem, im, tc.config, lg)
	if err != nil {
		return err
	}

	if h.Offset() != im.Offset() {
		return fmt.Errorf("offset 0x%x, built at 0x%x", h.Offset(), im.Offset())
	}
	if off, size := h.ItemLayout(); off != im.Opts.ItemOffset || size != im.Opts.ItemSize {
		return fmt.Errorf("item layout (0x%x, 0x%x), built (0x%x, 0x%x)", off, size, im.Opts.ItemOffset, im.Opts.ItemSize)
	}
	if h.Kind() == layout.KindChunked && h.ChunkSize() != im.Opts.ChunkSize {
		return fmt.Errorf("chunk size 0x%x, built 0x%x", h.ChunkSize(), im.Opts.ChunkSize)
	}
	if h.Num() != im.Opts.Num {
		return fmt.Errorf("count %d, built %d", h.Num(), im.Opts.Num)
	}
	for i, want := range im.Objects {
		if got := h.ByIndex(int32(i)); got != want {
			return fmt.Errorf("index %d resolves to 0x%x, want 0x%x", i, got, want)
		}
	}

	live := 0
	for range h.All() {
		live++
	}
	if live != im.Live() {
		return fmt.Errorf("iterated %d objects, %d live", live, im.Live())
	}
	return nil
}

// runSelftest runs every case and writes one line per case. It returns the
// number of failures.
func runSelftest(w io.Writer, lg *log.Logger) int {
	failed := 0
	for _, tc := range selftestCases() {
		start := time.Now()
		err := tc.check(lg)
		took := time.Since(start).Round(time.Millisecond)

		status := "ok  "
		if err != nil {
			failed++
			status = "FAIL"
			if colorize.Enabled() {
				status = styles.Error.Render(status)
			}
		}
		fmt.Fprintf(w, "%s  %-28s %s\n", status, tc.name, took)
		if err != nil {
			fmt.Fprintf(w, "      %v\n", err)
		}
	}
	return failed
}

var selftestCmd = &cobra.Command{
	Use:   "selftest",
	Short: "Run discovery against synthetic registries",
	Long: `Build flat and chunked registries in synthetic memory, run discovery on
each and compare the result with what was built. No target process is needed.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		lg := logging.NewLogger()
		defer lg.Close()

		start := time.Now()
		failed := runSelftest(cmd.OutOrStdout(), lg.Logger)
		fmt.Fprintf(cmd.OutOrStdout(), "\n%d cases, %d failed in %s\n",
			len(selftestCases()), failed, time.Since(start).Round(time.Millisecond))
		if failed > 0 {
			return fmt.Errorf("%d selftest cases failed", failed)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(selftestCmd)
}
