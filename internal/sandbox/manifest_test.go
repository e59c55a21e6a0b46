package sandbox

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadManifestJSON(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "plugin.json", `{
		"id": "daily-quote",
		"name": "Daily Quote",
		"version": "1.2.0",
		"entry": "main.lua",
		"permissions": ["notes.read", "ui"]
	}`)

	m, err := LoadManifest(dir)
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	if m.ID != "daily-quote" || m.Version != "1.2.0" || m.Entry != "main.lua" {
		t.Errorf("manifest = %+v", m)
	}
	if len(m.Permissions) != 2 {
		t.Errorf("permissions = %v", m.Permissions)
	}
	if got := m.EntryPath(dir); got != filepath.Join(dir, "main.lua") {
		t.Errorf("EntryPath = %s", got)
	}
}

func TestLoadManifestYAMLFallback(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "plugin.yaml", "id: quote\nversion: 0.1.0\n")

	m, err := LoadManifest(dir)
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	if m.ID != "quote" {
		t.Errorf("id = %q", m.ID)
	}
	// defaults applied
	if m.Entry != "init.lua" {
		t.Errorf("entry = %q, want init.lua", m.Entry)
	}
	if m.Name != "quote" {
		t.Errorf("name = %q, want id fallback", m.Name)
	}
}

func TestLoadManifestMissing(t *testing.T) {
	_, err := LoadManifest(t.TempDir())
	if !errors.Is(err, ErrNoManifest) {
		t.Errorf("err = %v, want ErrNoManifest", err)
	}
}

func TestLoadManifestBadJSON(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "plugin.json", `{not json`)

	if _, err := LoadManifest(dir); err == nil {
		t.Error("malformed manifest should fail")
	}
}

func TestManifestValidate(t *testing.T) {
	tests := []struct {
		name     string
		manifest Manifest
		wantErr  error
	}{
		{"valid", Manifest{ID: "a-plugin", Version: "1.0.0", Entry: "init.lua"}, nil},
		{"missing id", Manifest{Version: "1.0.0", Entry: "init.lua"}, ErrMissingManifestID},
		{"bad id", Manifest{ID: "Bad_Name!", Version: "1.0.0", Entry: "init.lua"}, ErrInvalidManifestID},
		{"bad version", Manifest{ID: "a", Version: "one", Entry: "init.lua"}, ErrInvalidVersion},
		{"prerelease version", Manifest{ID: "a", Version: "1.0.0-beta.1", Entry: "init.lua"}, nil},
		{"bad entry", Manifest{ID: "a", Version: "1.0.0", Entry: "init.js"}, ErrInvalidEntry},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.manifest.Validate()
			if tt.wantErr == nil && err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
