package config

import (
	"os"
	"path/filepath"
)

// RootFileName is the entry-point configuration file.
const RootFileName = "declarch.kdl"

// ConfigRoot returns the user's configuration directory,
// $XDG_CONFIG_HOME/declarch or ~/.config/declarch.
func ConfigRoot() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "declarch")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "declarch")
	}
	return filepath.Join(home, ".config", "declarch")
}

// RootConfigPath returns the path of the root configuration file.
func RootConfigPath() string {
	return filepath.Join(ConfigRoot(), RootFileName)
}

// ModulesDir returns the user modules directory.
func ModulesDir() string {
	return filepath.Join(ConfigRoot(), "modules")
}

// BackendsDir returns the per-backend definition directory.
func BackendsDir() string {
	return filepath.Join(ConfigRoot(), "backends")
}

// GlobalBackendsPath returns the aggregate backend definition file.
func GlobalBackendsPath() string {
	return filepath.Join(ConfigRoot(), "backends.kdl")
}
