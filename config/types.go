// Package config parses and merges the hierarchical declarch configuration:
// the desired package set, exclusions, conflicts, policies, lifecycle hooks,
// backend options, and imports across files.
package config

import (
	"fmt"

	"github.com/nixval/declarch/core"
)

// ActionType says which privileges a lifecycle action runs with.
type ActionType string

const (
	ActionUser ActionType = "user"
	ActionRoot ActionType = "root"
)

// Phase is the reconciliation point a lifecycle action attaches to.
type Phase string

const (
	PhasePreSync     Phase = "pre-sync"
	PhasePostSync    Phase = "post-sync"
	PhaseOnSuccess   Phase = "on-success"
	PhaseOnFailure   Phase = "on-failure"
	PhasePreInstall  Phase = "pre-install"
	PhasePostInstall Phase = "post-install"
	PhasePreRemove   Phase = "pre-remove"
	PhasePostRemove  Phase = "post-remove"
	PhaseOnUpdate    Phase = "on-update"
)

// knownPhases guards hook parsing.
var knownPhases = map[Phase]bool{
	PhasePreSync: true, PhasePostSync: true, PhaseOnSuccess: true,
	PhaseOnFailure: true, PhasePreInstall: true, PhasePostInstall: true,
	PhasePreRemove: true, PhasePostRemove: true, PhaseOnUpdate: true,
}

// ErrorBehavior controls how a failing lifecycle action affects the run.
type ErrorBehavior string

const (
	// BehaviorWarn logs the failure and continues.
	BehaviorWarn ErrorBehavior = "warn"
	// BehaviorRequired aborts the whole operation on failure.
	BehaviorRequired ErrorBehavior = "required"
	// BehaviorIgnore swallows the failure silently.
	BehaviorIgnore ErrorBehavior = "ignore"
)

// Action is one lifecycle hook: a command bound to a phase, optionally scoped
// to a package.
type Action struct {
	Command       string
	Type          ActionType
	Phase         Phase
	Package       string
	Conditions    []string
	ErrorBehavior ErrorBehavior
}

// ConflictRule forbids mutual coexistence of the named packages.
type ConflictRule struct {
	Packages  []string
	Condition string
}

// Policy holds prune-related configuration.
type Policy struct {
	Protected []string
	// Orphans is "keep", "remove", "ask", or empty when unset.
	Orphans string
}

// MCPConfig carries the MCP adapter settings declared in config. The adapter
// itself lives outside the core; the loader only preserves its knobs.
type MCPConfig struct {
	Mode       string
	AllowTools []string
}

// MergedConfig is the read-only merged view of every loaded configuration
// file. Package order preserves first declaration; duplicate declarations
// accumulate their source files.
type MergedConfig struct {
	packageOrder   []core.PackageId
	packageSources map[core.PackageId][]string

	Excludes       []string
	Conflicts      []ConflictRule
	BackendOptions map[string]map[string]string
	Env            map[string][]string
	PackageSources map[string][]string
	Policy         Policy
	Actions        []Action

	ProjectMeta  map[string]string
	Editor       string
	Experimental []string
	MCP          MCPConfig

	// Imports and BackendImports record resolved paths for lint.
	Imports        []string
	BackendImports []string
}

// NewMergedConfig creates an empty merged view.
func NewMergedConfig() *MergedConfig {
	return &MergedConfig{
		packageSources: make(map[core.PackageId][]string),
		BackendOptions: make(map[string]map[string]string),
		Env:            make(map[string][]string),
		PackageSources: make(map[string][]string),
		ProjectMeta:    make(map[string]string),
	}
}

// AddPackage records a desired package and the file that declared it.
// Re-declaring the same package from the same file is idempotent.
func (m *MergedConfig) AddPackage(id core.PackageId, source string) {
	sources, seen := m.packageSources[id]
	if !seen {
		m.packageOrder = append(m.packageOrder, id)
	}
	for _, s := range sources {
		if s == source {
			return
		}
	}
	m.packageSources[id] = append(sources, source)
}

// PackageIds returns desired packages in first-declared order.
func (m *MergedConfig) PackageIds() []core.PackageId {
	return m.packageOrder
}

// Sources returns the files that declared a package.
func (m *MergedConfig) Sources(id core.PackageId) []string {
	return m.packageSources[id]
}

// HasPackage reports whether the package is declared.
func (m *MergedConfig) HasPackage(id core.PackageId) bool {
	_, ok := m.packageSources[id]
	return ok
}

// Backends returns every backend that has at least one declared package, in
// first-seen order.
func (m *MergedConfig) Backends() []core.Backend {
	var order []core.Backend
	seen := make(map[core.Backend]bool)
	for _, id := range m.packageOrder {
		if !seen[id.Backend] {
			seen[id.Backend] = true
			order = append(order, id.Backend)
		}
	}
	return order
}

// IsExcluded reports whether a name is in the exclusion set.
func (m *MergedConfig) IsExcluded(name string) bool {
	for _, e := range m.Excludes {
		if e == name {
			return true
		}
	}
	return false
}

// IsProtected reports whether a name may never be pruned.
func (m *MergedConfig) IsProtected(name string) bool {
	for _, p := range m.Policy.Protected {
		if p == name {
			return true
		}
	}
	return false
}

// ActionsFor returns the actions bound to a phase, preserving document order.
// Package-scoped actions are included only when pkg matches.
func (m *MergedConfig) ActionsFor(phase Phase, pkg string) []Action {
	var actions []Action
	for _, a := range m.Actions {
		if a.Phase != phase {
			continue
		}
		if a.Package != "" && a.Package != pkg {
			continue
		}
		actions = append(actions, a)
	}
	return actions
}

// ConfigError is a validation or semantic configuration failure.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error: %s", e.Message)
}

// NewConfigError formats a ConfigError.
func NewConfigError(format string, args ...interface{}) *ConfigError {
	return &ConfigError{Message: fmt.Sprintf(format, args...)}
}

// ConfigNotFoundError reports a missing required configuration file.
type ConfigNotFoundError struct {
	Path string
}

func (e *ConfigNotFoundError) Error() string {
	return fmt.Sprintf("config file not found at: %s (run 'declarch init' to create one)", e.Path)
}
