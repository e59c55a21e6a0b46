package sandbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Manifest describes a plugin's identity and requirements. Immutable
// for the life of one sandbox instance.
type Manifest struct {
	ID          string   `json:"id" yaml:"id"`
	Name        string   `json:"name" yaml:"name"`
	Version     string   `json:"version" yaml:"version"`
	Entry       string   `json:"entry" yaml:"entry"`
	Permissions []string `json:"permissions" yaml:"permissions"`
}

// Validation errors.
var (
	ErrMissingManifestID = errors.New("manifest: id is required")
	ErrInvalidManifestID = errors.New("manifest: id must be alphanumeric with hyphens or dots")
	ErrInvalidVersion    = errors.New("manifest: version must be valid semver")
	ErrInvalidEntry      = errors.New("manifest: entry must be a .lua file")
	ErrNoManifest        = errors.New("manifest: no plugin.json or plugin.yaml found")
)

// idPattern validates plugin ids.
var idPattern = regexp.MustCompile(`^[a-z][a-z0-9.-]*[a-z0-9]$|^[a-z]$`)

// semverPattern validates version strings (simplified semver).
var semverPattern = regexp.MustCompile(`^\d+\.\d+\.\d+(-[a-zA-Z0-9.-]+)?(\+[a-zA-Z0-9.-]+)?$`)

// applyDefaults sets default values for optional fields.
func (m *Manifest) applyDefaults() {
	if m.Entry == "" {
		m.Entry = "init.lua"
	}
	if m.Version == "" {
		m.Version = "0.0.0"
	}
	if m.Name == "" {
		m.Name = m.ID
	}
}

// Validate checks that the manifest is valid.
func (m *Manifest) Validate() error {
	if m.ID == "" {
		return ErrMissingManifestID
	}
	if !idPattern.MatchString(m.ID) {
		return fmt.Errorf("%w: %s", ErrInvalidManifestID, m.ID)
	}
	if !semverPattern.MatchString(m.Version) {
		return fmt.Errorf("%w: %s", ErrInvalidVersion, m.Version)
	}
	if filepath.Ext(m.Entry) != ".lua" {
		return fmt.Errorf("%w: %s", ErrInvalidEntry, m.Entry)
	}
	return nil
}

// EntryPath returns the entry script path under the plugin directory.
func (m *Manifest) EntryPath(dir string) string {
	return filepath.Join(dir, m.Entry)
}

// String returns a short description of the manifest.
func (m *Manifest) String() string {
	name := m.Name
	if name == "" {
		name = m.ID
	}
	return fmt.Sprintf("%s v%s", name, m.Version)
}

// LoadManifest reads and validates a manifest from a plugin directory,
// trying plugin.json first and plugin.yaml second.
func LoadManifest(dir string) (*Manifest, error) {
	if m, err := loadManifestFile(filepath.Join(dir, "plugin.json"), json.Unmarshal); err == nil {
		return m, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	if m, err := loadManifestFile(filepath.Join(dir, "plugin.yaml"), yaml.Unmarshal); err == nil {
		return m, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	return nil, fmt.Errorf("%w in %s", ErrNoManifest, dir)
}

func loadManifestFile(path string, unmarshal func([]byte, any) error) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}

	var m Manifest
	if err := unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
	}

	m.applyDefaults()
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}
