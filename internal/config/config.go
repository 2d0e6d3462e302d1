// Package config loads debugger configuration from TOML files.
package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Config holds the settings for one debugging session.
type Config struct {
	// Program is the path of the script to debug.
	Program string `toml:"program"`

	// DebugInfo is the path of the debug information document. Empty
	// disables persistence.
	DebugInfo string `toml:"debug_info"`

	// Listen is a TCP address to serve the debug protocol on. Empty
	// selects stdio.
	Listen string `toml:"listen"`

	// BreakOnStart pauses execution at the first statement.
	BreakOnStart bool `toml:"break_on_start"`

	// ContextLines is the number of lines shown around the current
	// line in source listings.
	ContextLines int `toml:"context_lines"`

	// LogFile receives session logs. Empty logs to stderr.
	LogFile string `toml:"log_file"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		ContextLines: 5,
	}
}

// ParseError describes a malformed configuration file.
type ParseError struct {
	Path    string
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing %s: %s", e.Path, e.Message)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Load reads configuration from path. A missing file is not an
// error; the defaults are returned.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config file %s: %w", path, err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, &ParseError{Path: path, Message: err.Error(), Err: err}
	}

	if cfg.ContextLines < 0 {
		cfg.ContextLines = Default().ContextLines
	}

	return cfg, nil
}
