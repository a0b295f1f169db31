package cmd

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/log"

	"regscan/internal/config"
	"regscan/internal/imagex"
	"regscan/internal/logging"
	"regscan/internal/memory"
	"regscan/internal/objarray"
)

// target is an attached process with its discovered registry.
type target struct {
	proc   *memory.Process
	image  *imagex.Image
	handle *objarray.Handle
	logger *logging.LoggerCloser
}

// attach opens the process in c, resolves its module and discovers the
// registry. The caller must Close the result.
func attach(c config.Config) (*target, error) {
	return attachWith(c, logging.NewLogger())
}

// attachWith is attach logging to lg. The target owns lg afterwards.
func attachWith(c config.Config, lg *logging.LoggerCloser) (*target, error) {
	t := &target{logger: lg}
	if c.PID <= 0 {
		t.Close()
		return nil, errors.New("no target: set --pid or pid in the config file")
	}

	proc, err := memory.OpenProcess(c.PID)
	if err != nil {
		t.Close()
		return nil, fmt.Errorf("attach to %d: %w", c.PID, err)
	}
	t.proc = proc

	im, err := imagex.Resolve(c.PID, c.Module, proc.Segments())
	if err != nil {
		t.Close()
		return nil, err
	}
	t.image = im
	t.logger.Debug("resolved module",
		"path", im.Path,
		"format", im.Format,
		"machine", im.Machine,
		"base", fmt.Sprintf("0x%x", im.Base))

	h, err := discover(proc, im, c, t.logger.Logger)
	if err != nil {
		t.Close()
		return nil, err
	}
	t.handle = h
	return t, nil
}

// Close releases the process, the module file and the log file. It may be
// called more than once.
func (t *target) Close() {
	if t.image != nil {
		t.image.Close()
		t.image = nil
	}
	if t.proc != nil {
		t.proc.Close()
		t.proc = nil
	}
	if t.logger != nil {
		t.logger.Close()
		t.logger = nil
	}
}

// discover runs a scan, or trusts the configured offset when one is set.
func discover(mem memory.Memory, img objarray.Image, c config.Config, lg *log.Logger) (*objarray.Handle, error) {
	dec, err := c.Decryptor()
	if err != nil {
		return nil, err
	}

	s := objarray.NewScanner(mem, img, dec, lg)
	if c.CachePages > 0 {
		s.CachePages = c.CachePages
	}

	offset, ok, err := c.OffsetValue()
	if err != nil {
		return nil, err
	}
	if ok {
		return s.DiscoverAt(offset, c.ChunkSize, c.Chunked)
	}
	return s.Discover(c.WholeImage)
}
