// Package config loads the stream transform's settings. Flags are the
// primary source; a YAML file can carry the same settings for
// deployments that ship a fixed configuration, and prefix/libroot
// defaults can be baked at build time via -ldflags.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Build-time defaults, overridable with
// -ldflags "-X .../internal/config.DefaultPrefix=...".
var (
	DefaultPrefix     string
	DefaultOldLibroot string
	DefaultNewLibroot string
)

// File mirrors the flag surface.
type File struct {
	Prefix       string   `yaml:"prefix"`
	Glibc        string   `yaml:"glibc"`
	OldGlibc     string   `yaml:"old-glibc"`
	Mappings     []string `yaml:"mappings"`      // "OLD NEW" pairs
	MappingFiles []string `yaml:"mapping-files"` // paths to mappings files
	AddPrefixTo  []string `yaml:"add-prefix-to"`
	Skip         []string `yaml:"skip"`
	Jobs         int      `yaml:"jobs"`
	Compression  string   `yaml:"compression"`
	Audit        string   `yaml:"audit"`
	Debug        bool     `yaml:"debug"`
}

// Load reads a YAML config file.
func Load(path string) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &f, nil
}
