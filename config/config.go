// Package config handles weave.toml rewrite session configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"
)

// FileName is the name of the configuration file.
const FileName = "weave.toml"

// Config is one rewrite session. It is built once, before any unit is
// rewritten, and is not modified afterwards.
type Config struct {
	// Enabled is the global switch. When false every unit passes through
	// unchanged.
	Enabled bool `toml:"enabled"`

	// Instrumentation categories.
	Methods   bool `toml:"methods"`
	Fields    bool `toml:"fields"`
	Variables bool `toml:"variables"`

	// Verify re-analyzes every rewritten method and falls back to the
	// original unit on failure.
	Verify bool `toml:"verify"`

	// Trace writes the disassembly of every rewritten unit to TraceDir.
	Trace    bool   `toml:"trace"`
	TraceDir string `toml:"trace_dir"`

	// CoalesceExits reports at most one normal exit per source line.
	CoalesceExits bool `toml:"coalesce_exits"`

	// Workers bounds concurrent unit rewrites in a batch.
	Workers int `toml:"workers"`

	// Exclude lists unit name substrings never rewritten, in addition to
	// the built-in blacklist.
	Exclude []string `toml:"exclude"`

	// Dir is the directory containing the weave.toml file (set at load time).
	Dir string `toml:"-"`
}

// Default returns the configuration used when no file is present: every
// category on, verification on, tracing off.
func Default() *Config {
	return &Config{
		Enabled:       true,
		Methods:       true,
		Fields:        true,
		Variables:     true,
		Verify:        true,
		TraceDir:      "weave-trace",
		CoalesceExits: true,
		Workers:       runtime.NumCPU(),
	}
}

// Disabled reports whether rewriting is a no-op: the global switch is
// off or every category is off.
func (c *Config) Disabled() bool {
	return !c.Enabled || !(c.Methods || c.Fields || c.Variables)
}

// Parse decodes configuration text over the defaults. Unknown keys are
// an error.
func Parse(data string) (*Config, error) {
	c := Default()
	md, err := toml.Decode(data, c)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks value ranges and fills derived defaults.
func (c *Config) Validate() error {
	if c.Workers < 0 {
		return fmt.Errorf("workers must not be negative, got %d", c.Workers)
	}
	if c.Workers == 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.Trace && c.TraceDir == "" {
		return fmt.Errorf("trace is enabled but trace_dir is empty")
	}
	for _, e := range c.Exclude {
		if e == "" {
			return fmt.Errorf("exclude contains an empty pattern")
		}
	}
	return nil
}

// Load parses the weave.toml file in the given directory.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	c, err := Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	c.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	if !filepath.IsAbs(c.TraceDir) {
		c.TraceDir = filepath.Join(c.Dir, c.TraceDir)
	}
	return c, nil
}

// FindAndLoad walks up from startDir to find a weave.toml file, then
// loads it. Returns the defaults if no file is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return Default(), nil
		}
		dir = parent
	}
}
