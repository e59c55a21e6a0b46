// Package storage provides the plugin-scoped key/value store exposed as
// storage.getItem/setItem/removeItem/clear on the SDK facade.
//
// Values follow localStorage semantics: keys and values are strings, and
// entries persist across sandbox restarts. The backing file is the JSON
// document at the storagePath the host supplies at spawn time, with each
// plugin's entries held under its own top-level key so multiple plugins
// can share one document without seeing each other's data.
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ErrEmptyKey is returned for operations on an empty key.
var ErrEmptyKey = errors.New("storage: key must not be empty")

// Store reads and writes one plugin's partition of the storage document.
type Store struct {
	mu       sync.Mutex
	path     string
	pluginID string
}

// NewStore creates a store for the given plugin backed by the document at
// path. The file is created on first write.
func NewStore(path, pluginID string) *Store {
	return &Store{path: path, pluginID: pluginID}
}

// GetItem returns the value for key and whether it was present.
func (s *Store) GetItem(key string) (string, bool, error) {
	if key == "" {
		return "", false, ErrEmptyKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return "", false, err
	}

	value := gjson.GetBytes(doc, s.itemPath(key))
	if !value.Exists() {
		return "", false, nil
	}
	return value.String(), true, nil
}

// SetItem stores value under key, replacing any previous value.
func (s *Store) SetItem(key, value string) error {
	if key == "" {
		return ErrEmptyKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return err
	}

	doc, err = sjson.SetBytes(doc, s.itemPath(key), value)
	if err != nil {
		return fmt.Errorf("storage: set %q: %w", key, err)
	}
	return s.write(doc)
}

// RemoveItem deletes key. Removing an absent key is not an error.
func (s *Store) RemoveItem(key string) error {
	if key == "" {
		return ErrEmptyKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return err
	}

	doc, err = sjson.DeleteBytes(doc, s.itemPath(key))
	if err != nil {
		return fmt.Errorf("storage: remove %q: %w", key, err)
	}
	return s.write(doc)
}

// Clear removes every entry belonging to this plugin. Other plugins'
// partitions in a shared document are untouched.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return err
	}

	doc, err = sjson.DeleteBytes(doc, escapePath(s.pluginID))
	if err != nil {
		return fmt.Errorf("storage: clear: %w", err)
	}
	return s.write(doc)
}

// Keys returns this plugin's stored keys, in document order.
func (s *Store) Keys() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return nil, err
	}

	partition := gjson.GetBytes(doc, escapePath(s.pluginID))
	if !partition.Exists() {
		return nil, nil
	}

	var keys []string
	partition.ForEach(func(key, _ gjson.Result) bool {
		keys = append(keys, key.String())
		return true
	})
	return keys, nil
}

func (s *Store) itemPath(key string) string {
	return escapePath(s.pluginID) + "." + escapePath(key)
}

// escapePath escapes gjson/sjson path metacharacters so arbitrary plugin
// ids and keys address single document fields.
func escapePath(component string) string {
	replacer := strings.NewReplacer(
		`\`, `\\`,
		`.`, `\.`,
		`*`, `\*`,
		`?`, `\?`,
		`|`, `\|`,
		`#`, `\#`,
		`@`, `\@`,
	)
	return replacer.Replace(component)
}

func (s *Store) read() ([]byte, error) {
	doc, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return []byte("{}"), nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", s.path, err)
	}
	if len(doc) == 0 {
		return []byte("{}"), nil
	}
	return doc, nil
}

// write replaces the document atomically: temp file in the same
// directory, then rename.
func (s *Store) write(doc []byte) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("storage: mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".storage-*")
	if err != nil {
		return fmt.Errorf("storage: temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(doc); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("storage: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("storage: close: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("storage: rename: %w", err)
	}
	return nil
}
