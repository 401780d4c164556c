// Package config loads x2trace.toml, the optional per-directory defaults
// for the convert and symbolize commands. Command-line flags override it.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"x2trace/internal/chrome"
	"x2trace/internal/decode"
)

// FileName is the name looked up when walking up from the start directory.
const FileName = "x2trace.toml"

// Config is a decoded x2trace.toml.
type Config struct {
	// Path is the file the config came from; empty for defaults.
	Path    string  `toml:"-"`
	Convert Convert `toml:"convert"`
	Symbols Symbols `toml:"symbols"`
}

// Convert holds [convert].
type Convert struct {
	Output         string `toml:"output"`
	Epoch          string `toml:"epoch"`
	Width          string `toml:"width"`
	Format         string `toml:"format"`
	Leftover       string `toml:"leftover"`
	PID            int    `toml:"pid"`
	Jobs           int    `toml:"jobs"`
	KeepGoing      bool   `toml:"keep_going"`
	Container      string `toml:"container"`
	Indent         bool   `toml:"indent"`
	ThreadNames    bool   `toml:"thread_names"`
	NormalizeNames bool   `toml:"normalize_names"`
	MaxWarnings    int    `toml:"max_warnings"`
}

// Symbols holds [symbols].
type Symbols struct {
	Binary     string `toml:"binary"`
	Objdump    string `toml:"objdump"`
	BaseOffset string `toml:"base_offset"`
	ProcMaps   string `toml:"proc_maps"`
	Module     string `toml:"module"`
	Cache      bool   `toml:"cache"`
	CacheDir   string `toml:"cache_dir"`
}

// Default returns the settings used when no file is found.
func Default() *Config {
	return &Config{
		Convert: Convert{
			Output:      "out.json",
			Epoch:       "current",
			Width:       "auto",
			Format:      "auto",
			Leftover:    "drop",
			PID:         1,
			Container:   "array",
			Indent:      true,
			MaxWarnings: 100,
		},
		Symbols: Symbols{
			Cache: true,
		},
	}
}

// Find walks up from startDir looking for FileName.
func Find(startDir string) (string, bool, error) {
	if startDir == "" {
		startDir = "."
	}
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve start directory: %w", err)
	}
	for {
		candidate := filepath.Join(dir, FileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", false, fmt.Errorf("failed to stat %q: %w", candidate, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false, nil
}

// Discover finds and loads the nearest config, or returns Default when
// there is none.
func Discover(startDir string) (*Config, error) {
	path, ok, err := Find(startDir)
	if err != nil {
		return nil, err
	}
	if !ok {
		return Default(), nil
	}
	return Load(path)
}

// Load decodes path over Default. Unknown keys and bad enum values are
// errors.
func Load(path string) (*Config, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("%s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	if meta.IsDefined("symbols", "objdump") && strings.TrimSpace(cfg.Symbols.Objdump) == "" {
		return nil, fmt.Errorf("%s: [symbols].objdump is empty", path)
	}
	cfg.Path = path
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks every enumerated value.
func (c *Config) Validate() error {
	if _, err := decode.ParseEpoch(c.Convert.Epoch); err != nil {
		return fmt.Errorf("[convert].epoch: %w", err)
	}
	if _, err := decode.ParseWidth(c.Convert.Width); err != nil {
		return fmt.Errorf("[convert].width: %w", err)
	}
	if _, err := ParseFormat(c.Convert.Format); err != nil {
		return fmt.Errorf("[convert].format: %w", err)
	}
	if _, err := decode.ParseLeftoverPolicy(c.Convert.Leftover); err != nil {
		return fmt.Errorf("[convert].leftover: %w", err)
	}
	if _, err := chrome.ParseContainer(c.Convert.Container); err != nil {
		return fmt.Errorf("[convert].container: %w", err)
	}
	if c.Convert.Jobs < 0 {
		return fmt.Errorf("[convert].jobs must be >= 0, got %d", c.Convert.Jobs)
	}
	if c.Convert.MaxWarnings < 0 {
		return fmt.Errorf("[convert].max_warnings must be >= 0, got %d", c.Convert.MaxWarnings)
	}
	if _, err := c.Symbols.Offset(); err != nil {
		return fmt.Errorf("[symbols].base_offset: %w", err)
	}
	return nil
}

// Offset parses BaseOffset; "0x" is optional and the value is hex.
func (s Symbols) Offset() (uint64, error) {
	return ParseOffset(s.BaseOffset)
}

// ParseOffset reads a hex base offset such as "0x555555554000". Empty
// means zero.
func ParseOffset(s string) (uint64, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 64)
	if err != nil {
		return 0, fmt.Errorf("bad hex offset %q", s)
	}
	return v, nil
}

// Format selects the input decoder.
type Format uint8

const (
	FormatAuto Format = iota
	FormatBinary
	FormatText
)

// String returns the string representation of Format.
func (f Format) String() string {
	switch f {
	case FormatBinary:
		return "binary"
	case FormatText:
		return "text"
	default:
		return "auto"
	}
}

// ParseFormat accepts auto, binary and text.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return FormatAuto, nil
	case "binary", "bin":
		return FormatBinary, nil
	case "text", "txt":
		return FormatText, nil
	}
	return FormatAuto, fmt.Errorf("invalid input format: %q (expected: auto|binary|text)", s)
}

// FormatFor resolves FormatAuto from the file extension: .txt and .log are
// text, everything else binary.
func FormatFor(f Format, path string) Format {
	if f != FormatAuto {
		return f
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".log":
		return FormatText
	}
	return FormatBinary
}
