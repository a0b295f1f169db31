// Package config holds the discovery settings that can be kept in a JSON
// file instead of repeated on the command line.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/invopop/jsonschema"

	"regscan/internal/decrypt"
	"regscan/internal/layout"
)

// ErrInvalid is returned for settings that cannot be used together or at all.
var ErrInvalid = errors.New("config: invalid")

// Config describes one discovery run.
type Config struct {
	PID        int    `json:"pid,omitempty" jsonschema:"title=Process ID,description=Target process to attach to"`
	Module     string `json:"module,omitempty" jsonschema:"title=Module,description=Module holding the registry; empty selects the main executable"`
	WholeImage bool   `json:"wholeImage,omitempty" jsonschema:"title=Whole Image,description=Scan the whole image instead of the data section first"`
	Offset     string `json:"offset,omitempty" jsonschema:"title=Offset,description=Known registry offset from the image base; skips scanning,pattern=^(0x)?[0-9a-fA-F]+$"`
	Chunked    bool   `json:"chunked,omitempty" jsonschema:"title=Chunked,description=Treat the registry at offset as chunked"`
	ChunkSize  int32  `json:"chunkSize,omitempty" jsonschema:"title=Chunk Size,description=Objects per chunk for a known offset; 0 learns it,enum=0,enum=65536,enum=66560"`
	Decrypt    string `json:"decrypt,omitempty" jsonschema:"title=Decryption,description=Pointer decryption pipeline such as xor:0x5a5a|ror:13,default=none"`
	CachePages int    `json:"cachePages,omitempty" jsonschema:"title=Cache Pages,description=Pages cached while scanning; 0 uses the default,minimum=0"`
	Debug      bool   `json:"debug,omitempty" jsonschema:"title=Debug,description=Enable debug logging"`
}

// Load reads a config file. Unknown keys are rejected.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var c Config
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&c); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Validate checks field values and combinations.
func (c Config) Validate() error {
	if c.PID < 0 {
		return fmt.Errorf("%w: pid %d", ErrInvalid, c.PID)
	}
	if _, _, err := c.OffsetValue(); err != nil {
		return err
	}
	if c.ChunkSize != 0 && c.ChunkSize != layout.ChunkSizeDefault && c.ChunkSize != layout.ChunkSizeLarge {
		return fmt.Errorf("%w: chunk size 0x%x is neither 0x%x nor 0x%x",
			ErrInvalid, c.ChunkSize, layout.ChunkSizeDefault, layout.ChunkSizeLarge)
	}
	if (c.Chunked || c.ChunkSize != 0) && c.Offset == "" {
		return fmt.Errorf("%w: chunked and chunkSize need an offset", ErrInvalid)
	}
	if _, err := decrypt.Parse(c.Decrypt); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if c.CachePages < 0 {
		return fmt.Errorf("%w: cache pages %d", ErrInvalid, c.CachePages)
	}
	return nil
}

// OffsetValue parses Offset. ok is false when no offset is set.
func (c Config) OffsetValue() (offset uint64, ok bool, err error) {
	if c.Offset == "" {
		return 0, false, nil
	}
	// Offsets are always hex, with or without the prefix.
	s := strings.TrimPrefix(strings.ToLower(c.Offset), "0x")
	offset, err = strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, false, fmt.Errorf("%w: offset %q", ErrInvalid, c.Offset)
	}
	return offset, true, nil
}

// Decryptor builds the configured decryption hook.
func (c Config) Decryptor() (decrypt.Decryptor, error) {
	return decrypt.Parse(c.Decrypt)
}

// Schema returns the JSON schema of the config file.
func Schema() ([]byte, error) {
	reflector := new(jsonschema.Reflector)
	bts, err := json.MarshalIndent(reflector.Reflect(&Config{}), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	return bts, nil
}
