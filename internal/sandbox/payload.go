package sandbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

// DefaultTimeout bounds RPC calls and entry script execution when the
// construction payload carries no timeout.
const DefaultTimeout = 15 * time.Second

// Payload is the construction message the host sends at spawn time.
type Payload struct {
	PluginID    string          `json:"pluginId"`
	PluginPath  string          `json:"pluginPath"`
	Manifest    *Manifest       `json:"manifest,omitempty"`
	Permissions map[string]bool `json:"permissions,omitempty"`
	StoragePath string          `json:"storagePath,omitempty"`
	TimeoutMS   int             `json:"timeout,omitempty"`
}

// Payload errors.
var (
	ErrMissingPluginID   = errors.New("payload: pluginId is required")
	ErrMissingPluginPath = errors.New("payload: pluginPath is required")
)

// DecodePayload parses and validates a construction payload.
func DecodePayload(raw []byte) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("parsing payload: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks required fields and that the plugin path is a
// directory.
func (p *Payload) Validate() error {
	if p.PluginID == "" {
		return ErrMissingPluginID
	}
	if p.PluginPath == "" {
		return ErrMissingPluginPath
	}
	info, err := os.Stat(p.PluginPath)
	if err != nil {
		return fmt.Errorf("payload: plugin path: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("payload: plugin path %s is not a directory", p.PluginPath)
	}
	return nil
}

// Timeout returns the configured timeout, defaulting when absent or
// non-positive.
func (p *Payload) Timeout() time.Duration {
	if p.TimeoutMS <= 0 {
		return DefaultTimeout
	}
	return time.Duration(p.TimeoutMS) * time.Millisecond
}
