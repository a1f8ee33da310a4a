package state

import (
	"os"
	"path/filepath"
)

// DefaultDir returns the per-host state directory,
// $XDG_STATE_HOME/declarch or ~/.local/state/declarch.
func DefaultDir() string {
	if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
		return filepath.Join(xdg, "declarch")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".local", "state", "declarch")
	}
	return filepath.Join(home, ".local", "state", "declarch")
}
