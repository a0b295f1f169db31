package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"regscan/internal/config"
	"regscan/internal/objarray"
	"regscan/internal/regscan/log"
)

// fatalDelay keeps the message on screen when the tool was started from a
// launcher that closes its console on exit.
var fatalDelay = 3 * time.Second

var rootCmd = &cobra.Command{
	Use:   "regscan",
	Short: "Find the live-object registry of a running engine process",
	Long: `regscan locates the global live-object registry inside a running game
process without symbols or signatures. It slides over the module's data
section (then the whole image), matches known header layouts, learns the
item record layout by probing and lists every live object.`,
	Example: `
# Discover the registry of a running process
regscan discover --pid 4242

# Look in a specific module and use a known pointer decryption
regscan discover --pid 4242 --module libUnreal.so --decrypt 'xor:0x5a5a5a5a|ror:13'

# Trust a known offset and dump every live object
regscan dump --pid 4242 --offset 0x2a3230 --chunked

# Run discovery against synthetic images
regscan selftest
  `,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		debug, err := debugEnabled(cmd)
		if err != nil {
			return err
		}
		if debug {
			os.Setenv("REGSCAN_LOG_LEVEL", "debug")
		}
		log.Setup(os.Getenv("REGSCAN_SLOG_FILE"), debug)

		noTUI, _ := cmd.Flags().GetBool("no-tui")
		if noTUI || !term.IsTerminal(os.Stdout.Fd()) {
			os.Setenv("REGSCAN_NO_COLOR", "1")
		}
		return nil
	},
}

func init() {
	addTargetFlags(rootCmd.PersistentFlags())
}

// addTargetFlags registers the flags settings reads.
func addTargetFlags(pf *pflag.FlagSet) {
	pf.IntP("pid", "p", 0, "Target process ID")
	pf.StringP("module", "m", "", "Module holding the registry (default: main executable)")
	pf.Bool("whole-image", false, "Scan the whole image instead of the data section first")
	pf.StringP("offset", "o", "", "Known registry offset from the image base, in hex; skips scanning")
	pf.Int32("chunk-size", 0, "Objects per chunk at a known offset (0x10000 or 0x10400); 0 learns it")
	pf.Bool("chunked", false, "Treat the registry at --offset as chunked")
	pf.String("decrypt", "", "Objects pointer decryption, e.g. 'xor:0x5a5a|ror:13'")
	pf.Int("cache-pages", 0, "Pages cached while scanning; 0 uses the default")
	pf.StringP("config", "c", "", "JSON config file; flags override its values")
	pf.Bool("json", false, "Print JSON instead of a report")
	pf.BoolP("no-tui", "n", false, "Plain output without colors or interactive views")
	pf.BoolP("debug", "d", false, "Enable debug logging")
}

// debugEnabled reports whether --debug or the config file's debug key asks for
// debug logging. An explicit flag wins.
func debugEnabled(cmd *cobra.Command) (bool, error) {
	flags := cmd.Flags()
	if flags.Changed("debug") {
		return flags.GetBool("debug")
	}
	path, _ := flags.GetString("config")
	if path == "" {
		return false, nil
	}
	c, err := config.Load(path)
	if err != nil {
		return false, err
	}
	return c.Debug, nil
}

// settings merges the config file with the flags that were set explicitly.
func settings(cmd *cobra.Command) (config.Config, error) {
	var c config.Config
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		var err error
		if c, err = config.Load(path); err != nil {
			return config.Config{}, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("pid") {
		c.PID, _ = flags.GetInt("pid")
	}
	if flags.Changed("module") {
		c.Module, _ = flags.GetString("module")
	}
	if flags.Changed("whole-image") {
		c.WholeImage, _ = flags.GetBool("whole-image")
	}
	if flags.Changed("offset") {
		c.Offset, _ = flags.GetString("offset")
	}
	if flags.Changed("chunk-size") {
		c.ChunkSize, _ = flags.GetInt32("chunk-size")
	}
	if flags.Changed("chunked") {
		c.Chunked, _ = flags.GetBool("chunked")
	}
	if flags.Changed("decrypt") {
		c.Decrypt, _ = flags.GetString("decrypt")
	}
	if flags.Changed("cache-pages") {
		c.CachePages, _ = flags.GetInt("cache-pages")
	}
	if flags.Changed("debug") {
		c.Debug, _ = flags.GetBool("debug")
	}

	if err := c.Validate(); err != nil {
		return config.Config{}, err
	}
	return c, nil
}

// fatal terminates after a failed discovery whose error was already printed,
// leaving it on screen for fatalDelay.
func fatal() {
	fmt.Fprintf(os.Stderr, "exiting in %s\n", fatalDelay)
	time.Sleep(fatalDelay)
	os.Exit(1)
}

func Execute() {
	// --no-tui and pipes bypass fang so its styled help and errors stay out
	// of plain output.
	noTUI := !term.IsTerminal(os.Stdout.Fd())
	for _, arg := range os.Args[1:] {
		if arg == "--no-tui" || arg == "-n" || arg == "--json" {
			noTUI = true
			break
		}
	}

	var err error
	if noTUI {
		if err = rootCmd.Execute(); err != nil {
			fmt.Fprintf(rootCmd.ErrOrStderr(), "Error: %v\n", err)
		}
	} else {
		// fang prints the error itself.
		err = fang.Execute(
			context.Background(),
			rootCmd,
			fang.WithNotifySignal(os.Interrupt),
		)
	}
	if err == nil {
		return
	}
	if errors.Is(err, objarray.ErrNotFound) {
		fatal()
	}
	os.Exit(1)
}
