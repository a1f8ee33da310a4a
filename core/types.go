// Package core provides the shared identity types for packages managed by
// declarch: which backend a package belongs to, how packages are named, and
// the transaction model the resolver and executor exchange.
package core

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Backend identifies an underlying package manager. It is a case-insensitive
// name, either one of the well-known kinds or a custom backend defined by the
// user in a backend definition file.
type Backend struct {
	name string
}

// Well-known backend names. Custom backends are just other names; nothing in
// the engine switches on these beyond default configuration.
const (
	BackendAur     = "aur"
	BackendFlatpak = "flatpak"
	BackendSoar    = "soar"
	BackendNpm     = "npm"
	BackendPip     = "pip"
	BackendCargo   = "cargo"
	BackendBrew    = "brew"
)

// NewBackend creates a Backend from a name. Names are normalized to lowercase
// so that "AUR" and "aur" compare equal.
func NewBackend(name string) Backend {
	return Backend{name: strings.ToLower(strings.TrimSpace(name))}
}

// Name returns the normalized backend name.
func (b Backend) Name() string {
	return b.name
}

// IsZero reports whether the backend has no name.
func (b Backend) IsZero() bool {
	return b.name == ""
}

func (b Backend) String() string {
	return b.name
}

// PackageId identifies a package as it exists under a specific backend.
// Two ids are equal iff both name and backend match exactly, which makes
// PackageId usable as a map key for snapshots and desired sets.
type PackageId struct {
	Name    string
	Backend Backend
}

// NewPackageId builds a PackageId for the given backend name and package name.
func NewPackageId(backend, name string) PackageId {
	return PackageId{Name: name, Backend: NewBackend(backend)}
}

// ParsePackageId parses the canonical "<backend>:<name>" form. A string
// without a backend prefix resolves against defaultBackend.
func ParsePackageId(s, defaultBackend string) PackageId {
	if backend, name, ok := strings.Cut(s, ":"); ok && backend != "" && name != "" {
		return NewPackageId(backend, name)
	}
	return NewPackageId(defaultBackend, s)
}

// String renders the canonical "<backend>:<name>" form.
func (p PackageId) String() string {
	return fmt.Sprintf("%s:%s", p.Backend.Name(), p.Name)
}

// PackageMetadata carries opaque per-package details reported by a backend
// listing or recorded in state. Version is preserved verbatim; declarch never
// interprets version strings.
type PackageMetadata struct {
	Version     string
	InstalledAt time.Time
	SourceFile  string
	Variant     string
}

// Snapshot is the merged view of installed packages across the backends under
// consideration, keyed by PackageId. Insertion order does not matter.
type Snapshot map[PackageId]PackageMetadata

// Transaction is the plan produced by the resolver: what to install, what to
// adopt into state without installing, what to prune, and whose recorded
// metadata needs refreshing. The three main sets are mutually disjoint.
type Transaction struct {
	ToInstall        []PackageId
	ToAdopt          []PackageId
	ToPrune          []PackageId
	ToUpdateMetadata []PackageId
}

// IsEmpty reports whether the transaction would perform no work.
func (t *Transaction) IsEmpty() bool {
	return len(t.ToInstall) == 0 && len(t.ToAdopt) == 0 && len(t.ToPrune) == 0
}

// Sort orders every vector stably by (backend, name) so plans render and
// apply deterministically.
func (t *Transaction) Sort() {
	for _, ids := range [][]PackageId{t.ToInstall, t.ToAdopt, t.ToPrune, t.ToUpdateMetadata} {
		sortIds(ids)
	}
}

func sortIds(ids []PackageId) {
	sort.SliceStable(ids, func(i, j int) bool {
		if ids[i].Backend.Name() != ids[j].Backend.Name() {
			return ids[i].Backend.Name() < ids[j].Backend.Name()
		}
		return ids[i].Name < ids[j].Name
	})
}

// SyncTargetKind discriminates SyncTarget values.
type SyncTargetKind int

const (
	// TargetAll syncs every declared package.
	TargetAll SyncTargetKind = iota
	// TargetBackend restricts the sync to one backend.
	TargetBackend
	// TargetNamed restricts the sync to a package name or module path.
	TargetNamed
)

// SyncTarget filters which part of the desired set a sync operates on without
// changing transaction semantics.
type SyncTarget struct {
	Kind    SyncTargetKind
	Backend Backend
	Name    string
}

// AllTarget matches everything.
func AllTarget() SyncTarget {
	return SyncTarget{Kind: TargetAll}
}

// BackendTarget matches only packages under the named backend.
func BackendTarget(name string) SyncTarget {
	return SyncTarget{Kind: TargetBackend, Backend: NewBackend(name)}
}

// NamedTarget matches packages by name or by declaring module path.
func NamedTarget(name string) SyncTarget {
	return SyncTarget{Kind: TargetNamed, Name: name}
}

// IncludesBackend reports whether packages of the given backend are in scope
// for this target. Named targets cannot be scoped by backend alone, so they
// include every backend.
func (s SyncTarget) IncludesBackend(b Backend) bool {
	if s.Kind == TargetBackend {
		return s.Backend == b
	}
	return true
}

// TargetNotFoundError reports that a named sync/search target matched nothing.
type TargetNotFoundError struct {
	Target string
}

func (e *TargetNotFoundError) Error() string {
	return fmt.Sprintf("target not found: %s", e.Target)
}
