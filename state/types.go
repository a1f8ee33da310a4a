// Package state persists the per-host record of packages declarch installed
// or adopted. The store writes atomically under an exclusive advisory file
// lock, keeps rotating backups, and migrates older schema versions on load.
package state

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// CurrentSchemaVersion is the schema this build reads and writes. Older
// states migrate forward on load; the version never moves backwards.
const CurrentSchemaVersion = 3

// InstallReasonAdopted marks entries that were found on the system and
// claimed, as opposed to installed by declarch.
const InstallReasonAdopted = "adopted"

// PackageState is one managed-package record. ProvidesName is the primary
// identity the backend lists the package under; ActualPackageName captures
// the variant that satisfies it (e.g. hyprland-git providing hyprland).
type PackageState struct {
	Backend           string            `json:"backend"`
	ConfigName        string            `json:"config_name"`
	ProvidesName      string            `json:"provides_name"`
	ActualPackageName string            `json:"actual_package_name,omitempty"`
	InstalledAt       time.Time         `json:"installed_at"`
	Version           string            `json:"version,omitempty"`
	InstallReason     string            `json:"install_reason,omitempty"`
	SourceModule      string            `json:"source_module,omitempty"`
	LastSeenAt        *time.Time        `json:"last_seen_at,omitempty"`
	BackendMeta       map[string]string `json:"backend_meta,omitempty"`
}

// Meta is the state header.
type Meta struct {
	SchemaVersion int       `json:"schema_version"`
	LastSync      time.Time `json:"last_sync"`
	Hostname      string    `json:"hostname"`
	StateRevision int       `json:"state_revision,omitempty"`
	Generator     string    `json:"generator,omitempty"`
}

// State is the full persisted document: header plus packages keyed by
// "<lowercase backend>:<config name>".
type State struct {
	Meta     Meta                    `json:"meta"`
	Packages map[string]PackageState `json:"packages"`
}

// Default returns an empty state for the given host.
func Default(hostname, generator string) *State {
	return &State{
		Meta: Meta{
			SchemaVersion: CurrentSchemaVersion,
			LastSync:      time.Now().UTC(),
			Hostname:      hostname,
			Generator:     generator,
		},
		Packages: make(map[string]PackageState),
	}
}

// Key builds the canonical state key for a backend and config name.
func Key(backend, configName string) string {
	return strings.ToLower(backend) + ":" + configName
}

// Get looks up a package record by backend and config name.
func (s *State) Get(backend, configName string) (PackageState, bool) {
	ps, ok := s.Packages[Key(backend, configName)]
	return ps, ok
}

// Insert records a package under its canonical key.
func (s *State) Insert(ps PackageState) {
	if s.Packages == nil {
		s.Packages = make(map[string]PackageState)
	}
	s.Packages[Key(ps.Backend, ps.ConfigName)] = ps
}

// Remove drops a package record. It reports whether an entry existed.
func (s *State) Remove(backend, configName string) bool {
	key := Key(backend, configName)
	_, ok := s.Packages[key]
	delete(s.Packages, key)
	return ok
}

// Keys returns all state keys, sorted.
func (s *State) Keys() []string {
	keys := make([]string, 0, len(s.Packages))
	for k := range s.Packages {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// CorruptError reports an unreadable state file after backup recovery was
// exhausted.
type CorruptError struct {
	Path   string
	Reason string
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("state file %s is corrupted: %s", e.Path, e.Reason)
}

// LockError reports that another process holds the state lock.
type LockError struct {
	Message string
}

func (e *LockError) Error() string {
	return e.Message
}
