// Package config loads the optional runtime configuration file for the
// sandbox process.
//
// The construction payload from the host always wins; the config file only
// supplies operator-tunable defaults (timeout, diagnostic log level) for
// installations that need them.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Runtime holds sandbox-process tunables.
type Runtime struct {
	// TimeoutMS overrides the default RPC/bootstrap timeout when the
	// construction payload does not specify one. Zero means unset.
	TimeoutMS int `toml:"timeout_ms"`

	// LogLevel sets the stderr diagnostic level (debug, info, warn,
	// error). Empty means info.
	LogLevel string `toml:"log_level"`
}

// Timeout returns the configured timeout as a duration, or zero if unset.
func (r Runtime) Timeout() time.Duration {
	return time.Duration(r.TimeoutMS) * time.Millisecond
}

// Load reads a Runtime config from a TOML file. A missing file is not an
// error and yields the zero value.
func Load(path string) (Runtime, error) {
	var cfg Runtime

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("reading config file %s: %w", path, err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return cfg, nil
}
