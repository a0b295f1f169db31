package cmd

import (
	"bytes"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"regscan/internal/config"
	"regscan/internal/logging"
	"regscan/internal/objarray"
	"regscan/internal/synth"
)

func newSettingsCmd(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "test"}
	addTargetFlags(cmd.Flags())
	if err := cmd.Flags().Parse(args); err != nil {
		t.Fatal(err)
	}
	return cmd
}

func TestSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "regscan.json")
	file := `{"pid": 100, "module": "Game.exe", "decrypt": "xor:0x10", "cachePages": 64}`
	if err := os.WriteFile(path, []byte(file), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		args    []string
		want    config.Config
		wantErr error
	}{
		{
			name: "flags only",
			args: []string{"--pid", "42", "--whole-image"},
			want: config.Config{PID: 42, WholeImage: true},
		},
		{
			name: "file only",
			args: []string{"--config", path},
			want: config.Config{PID: 100, Module: "Game.exe", Decrypt: "xor:0x10", CachePages: 64},
		},
		{
			name: "flags override file",
			args: []string{"-c", path, "-p", "7", "--decrypt", "none", "--offset", "2a3230", "--chunked"},
			want: config.Config{PID: 7, Module: "Game.exe", Decrypt: "none", CachePages: 64, Offset: "2a3230", Chunked: true},
		},
		{
			name:    "chunked without offset",
			args:    []string{"--pid", "1", "--chunked"},
			wantErr: config.ErrInvalid,
		},
		{
			name:    "bad chunk size",
			args:    []string{"--offset", "0x10", "--chunk-size", "4096"},
			wantErr: config.ErrInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := settings(newSettingsCmd(t, tt.args...))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("settings() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("settings() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("settings() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDebugEnabled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "regscan.json")
	if err := os.WriteFile(path, []byte(`{"debug": true}`), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		args []string
		want bool
	}{
		{"default", nil, false},
		{"flag", []string{"-d"}, true},
		{"config file", []string{"--config", path}, true},
		{"flag overrides file", []string{"--config", path, "--debug=false"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := debugEnabled(newSettingsCmd(t, tt.args...))
			if err != nil {
				t.Fatalf("debugEnabled() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("debugEnabled() = %v, want %v", got, tt.want)
			}
		})
	}

	if _, err := debugEnabled(newSettingsCmd(t, "--config", filepath.Join(t.TempDir(), "missing.json"))); err == nil {
		t.Error("debugEnabled() with a missing config file succeeded")
	}
}

// TestExecuteNotFound runs Execute in a child process against an image with
// no registry and checks the exit status and what reached stderr.
func TestExecuteNotFound(t *testing.T) {
	if os.Getenv("REGSCAN_EXECUTE_CHILD") == "1" {
		fatalDelay = 10 * time.Millisecond
		rootCmd.AddCommand(&cobra.Command{
			Use:    "scan-empty",
			Hidden: true,
			RunE: func(cmd *cobra.Command, args []string) error {
				im := synth.NewFlat(synth.Options{})
				im.Mem.Write(im.Registry, make([]byte, 0x10))
				_, err := discover(im.Mem, im, config.Config{}, log.New(io.Discard))
				return err
			},
		})
		os.Args = []string{"regscan", "scan-empty", "--no-tui"}
		Execute()
		os.Exit(0)
	}

	child := exec.Command(os.Args[0], "-test.run=^TestExecuteNotFound$")
	child.Env = append(os.Environ(), "REGSCAN_EXECUTE_CHILD=1")
	var stderr bytes.Buffer
	child.Stderr = &stderr

	err := child.Run()
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) || exitErr.ExitCode() != 1 {
		t.Fatalf("child exited with %v, want status 1\nstderr:\n%s", err, stderr.String())
	}

	out := stderr.String()
	if n := strings.Count(out, objarray.ErrNotFound.Error()); n != 1 {
		t.Errorf("error printed %d times, want 1:\n%s", n, out)
	}
	if !strings.Contains(out, "Error: ") || !strings.Contains(out, "exiting in 10ms") {
		t.Errorf("stderr =\n%s", out)
	}
}

func TestAttachRequiresPID(t *testing.T) {
	if _, err := attachWith(config.Config{}, logging.NewLoggerWithWriter(io.Discard)); err == nil {
		t.Fatal("attachWith() without a pid succeeded")
	}
}

func TestCommandsRegistered(t *testing.T) {
	for _, name := range []string{"discover", "dump", "browse", "xrefs", "selftest", "logs", "schema"} {
		if c, _, err := rootCmd.Find([]string{name}); err != nil || c.Name() != name {
			t.Errorf("command %q not registered", name)
		}
	}
}
