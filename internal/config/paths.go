// Package config provides configuration management for bsdci.
package config

import (
	"os"
	"path/filepath"
)

// Paths holds directory paths used by bsdci.
type Paths struct {
	// ConfigDir is the directory for configuration files.
	// ~/.config/bsdci, or $XDG_CONFIG_HOME/bsdci if set.
	ConfigDir string

	// DataDir is the working directory for disk images, transcripts and state.
	DataDir string

	// CacheDir is where provisioned image archives and tag snapshots live.
	// CI platforms persist this directory across runs.
	CacheDir string

	// ConfigFile is the path to the main config file.
	ConfigFile string
}

// GetPaths returns the directory layout for bsdci.
// BSDCI_CACHE_DIR overrides the cache location so a CI job can point it at
// the platform's persisted cache volume.
func GetPaths() (*Paths, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	p := &Paths{}

	p.DataDir = filepath.Join(home, ".bsdci")

	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		p.ConfigDir = filepath.Join(xdgConfig, "bsdci")
	} else {
		p.ConfigDir = filepath.Join(home, ".config", "bsdci")
	}

	if cacheDir := os.Getenv("BSDCI_CACHE_DIR"); cacheDir != "" {
		p.CacheDir = cacheDir
	} else {
		p.CacheDir = filepath.Join(p.DataDir, "cache")
	}

	p.ConfigFile = filepath.Join(p.DataDir, "config.yaml")

	return p, nil
}

// EnsureDirectories creates the config, data and cache directories if they
// don't exist.
func (p *Paths) EnsureDirectories() error {
	for _, dir := range []string{p.ConfigDir, p.DataDir, p.CacheDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}
