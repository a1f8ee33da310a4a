// Package manager drives the underlying package managers. Each backend is
// described by a declarative BackendConfig (command templates plus output
// parsing rules); a GenericManager executes those templates through a
// CommandRunner. The registry resolves backend names to configurations and
// hands out Manager instances on demand.
package manager

import (
	"errors"
	"fmt"

	"github.com/nixval/declarch/core"
)

// Standard errors for backend operations.
var (
	ErrOperationNotSupported = errors.New("operation not supported by this backend")
	ErrBackendUnavailable    = errors.New("backend binary not found on PATH")
	ErrUnknownBackend        = errors.New("unknown backend")
)

// Manager is the capability set a backend exposes. Operations a backend does
// not declare return ErrOperationNotSupported rather than failing silently.
//
// Listing and searching never retry; mutating operations (Install, Remove,
// Update, Upgrade) retry with backoff per the manager's retry policy.
type Manager interface {
	// Name returns the backend name this manager serves.
	Name() core.Backend

	// IsAvailable reports whether the backend's primary binary resolves on
	// PATH (or the fallback backend's, when a fallback is configured).
	IsAvailable() bool

	// ListInstalled returns the installed packages as reported by the
	// backend's list command. A backend without a list command returns an
	// empty map, never an error.
	ListInstalled() (map[string]core.PackageMetadata, error)

	// Search queries the backend for packages matching query. With local set,
	// the locally-installed search command is preferred.
	Search(query string, local bool) ([]SearchResult, error)

	// Install installs the named packages.
	Install(names []string) error

	// Remove uninstalls the named packages.
	Remove(names []string) error

	// Update refreshes the backend's package database.
	Update() error

	// Upgrade upgrades all packages under this backend.
	Upgrade() error

	// CacheClean clears the backend's download caches.
	CacheClean() error
}

// SearchResult is one hit from a backend search.
type SearchResult struct {
	Name        string
	Version     string
	Description string
	Backend     string
	Installed   bool
}

// CommandError reports a child process that failed to spawn, timed out, or
// exited abnormally.
type CommandError struct {
	Command string
	Reason  string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("system command '%s' failed: %s", e.Command, e.Reason)
}

// PackageManagerError reports that a backend tool returned a non-zero exit or
// produced output the configured parser could not understand.
type PackageManagerError struct {
	Backend   string
	Operation string
	Packages  []string
	Cause     error
}

func (e *PackageManagerError) Error() string {
	if len(e.Packages) > 0 {
		return fmt.Sprintf("%s %s failed for packages %v: %v", e.Backend, e.Operation, e.Packages, e.Cause)
	}
	return fmt.Sprintf("%s %s failed: %v", e.Backend, e.Operation, e.Cause)
}

func (e *PackageManagerError) Unwrap() error {
	return e.Cause
}
