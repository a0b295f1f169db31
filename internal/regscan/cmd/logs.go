package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/nxadm/tail"
	"github.com/spf13/cobra"

	"regscan/internal/logging"
)

// lastLines returns up to n trailing lines of path.
func lastLines(path string, n int) ([]string, error) {
	t, err := tail.TailFile(path, tail.Config{
		MustExist: true,
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return nil, err
	}
	defer t.Cleanup()

	var lines []string
	for line := range t.Lines {
		if line.Err != nil {
			return nil, line.Err
		}
		lines = append(lines, line.Text)
		if len(lines) > n {
			lines = lines[1:]
		}
	}
	return lines, nil
}

// follow copies lines appended to path to w until ctx is done.
func follow(ctx context.Context, w io.Writer, path string) error {
	t, err := tail.TailFile(path, tail.Config{
		Follow:    true,
		ReOpen:    true,
		MustExist: true,
		Location:  &tail.SeekInfo{Offset: 0, Whence: io.SeekEnd},
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return err
	}
	defer t.Cleanup()

	for {
		select {
		case <-ctx.Done():
			return t.Stop()
		case line, ok := <-t.Lines:
			if !ok {
				return t.Err()
			}
			if line.Err != nil {
				return line.Err
			}
			fmt.Fprintln(w, line.Text)
		}
	}
}

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show the newest debug log",
	Long: `Show the newest regscan-*-debug.log in the current directory. Log files
are written when REGSCAN_LOG_TO_FILE=1.`,
	Example: `
# Last 50 lines
regscan logs

# Keep printing new lines
regscan logs -f
  `,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, _ := cmd.Flags().GetString("dir")
		n, _ := cmd.Flags().GetInt("tail")
		followLog, _ := cmd.Flags().GetBool("follow")

		path, err := logging.Latest(dir)
		if err != nil {
			return err
		}

		lines, err := lastLines(path, n)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		for _, line := range lines {
			fmt.Fprintln(cmd.OutOrStdout(), line)
		}

		if !followLog {
			return nil
		}
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		return follow(ctx, cmd.OutOrStdout(), path)
	},
}

func init() {
	logsCmd.Flags().String("dir", ".", "Directory holding the log files")
	logsCmd.Flags().IntP("tail", "t", 50, "Number of lines to show")
	logsCmd.Flags().BoolP("follow", "f", false, "Keep printing new lines")
	rootCmd.AddCommand(logsCmd)
}
