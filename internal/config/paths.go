// Package config provides configuration loading and path management.
package config

import (
	"os"
	"path/filepath"
)

// Paths contains the standard directories for arche data.
type Paths struct {
	Data   string // ~/.local/share/arche
	Config string // ~/.config/arche
	Cache  string // ~/.cache/arche
	State  string // ~/.local/state/arche
}

// GetPaths returns the standard XDG paths for arche data.
func GetPaths() *Paths {
	home := os.Getenv("HOME")
	return &Paths{
		Data:   filepath.Join(envOr("XDG_DATA_HOME", filepath.Join(home, ".local", "share")), "arche"),
		Config: filepath.Join(envOr("XDG_CONFIG_HOME", filepath.Join(home, ".config")), "arche"),
		Cache:  filepath.Join(envOr("XDG_CACHE_HOME", filepath.Join(home, ".cache")), "arche"),
		State:  filepath.Join(envOr("XDG_STATE_HOME", filepath.Join(home, ".local", "state")), "arche"),
	}
}

// EnsurePaths creates all required directories.
func (p *Paths) EnsurePaths() error {
	for _, dir := range []string{p.Data, p.Config, p.Cache, p.State} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}

// StoragePath returns the snapshot storage directory.
func (p *Paths) StoragePath() string {
	return filepath.Join(p.Data, "storage")
}

// GlobalConfigPath returns the path to the global config file.
func GlobalConfigPath() string {
	return filepath.Join(GetPaths().Config, "arche.json")
}

// ProjectConfigPath returns the path to a project's config file.
func ProjectConfigPath(directory string) string {
	return filepath.Join(directory, ".arche", "arche.json")
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
