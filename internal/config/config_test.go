package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "patchnar.yaml")
	content := `
prefix: /data/data/com.termux.nix/files/usr
glibc: /nix/store/NEW-glibc-android
old-glibc: /nix/store/OLD-glibc
mappings:
  - "/nix/store/AAA-bash /nix/store/BBB-bash"
add-prefix-to:
  - /nix/var/
skip:
  - share/doc/**
jobs: 4
compression: zstd
debug: true
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cf, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cf.Prefix != "/data/data/com.termux.nix/files/usr" {
		t.Errorf("prefix: %q", cf.Prefix)
	}
	if cf.Glibc != "/nix/store/NEW-glibc-android" || cf.OldGlibc != "/nix/store/OLD-glibc" {
		t.Errorf("libroots: %q %q", cf.Glibc, cf.OldGlibc)
	}
	if len(cf.Mappings) != 1 || len(cf.AddPrefixTo) != 1 || len(cf.Skip) != 1 {
		t.Errorf("lists: %+v", cf)
	}
	if cf.Jobs != 4 || cf.Compression != "zstd" || !cf.Debug {
		t.Errorf("scalars: %+v", cf)
	}
}

func TestLoadMissing(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte(":\n\t- broken"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for invalid yaml")
	}
}
