package core

import "strings"

// PackageIdentity distinguishes the three names a managed package may carry:
// the name the user wrote in config (ConfigName), the name the backend lists
// it under (ProvidesName), and the backend-internal package that actually
// satisfies it (ActualPackageName, e.g. "hyprland-git" providing "hyprland").
type PackageIdentity struct {
	Backend           Backend
	ConfigName        string
	ProvidesName      string
	ActualPackageName string
}

// NewPackageIdentity builds an identity where all three names coincide.
func NewPackageIdentity(backend Backend, name string) PackageIdentity {
	return PackageIdentity{
		Backend:      backend,
		ConfigName:   name,
		ProvidesName: name,
	}
}

// StateKey returns the canonical key under which this identity is recorded in
// state: lowercase backend, a colon, and the config name verbatim.
func (p PackageIdentity) StateKey() string {
	return StateKey(p.Backend, p.ConfigName)
}

// StateKey builds the canonical state key for a backend and config name.
func StateKey(backend Backend, configName string) string {
	return strings.ToLower(backend.Name()) + ":" + configName
}

// IsSamePackage reports whether two identities refer to the same logical
// package: same backend and same provides name, regardless of which variant
// actually satisfies them.
func IsSamePackage(a, b PackageIdentity) bool {
	return a.Backend == b.Backend && a.ProvidesName == b.ProvidesName
}

// IsVariantTransition reports whether moving from a to b keeps the logical
// package but changes the installed variant (e.g. hyprland -> hyprland-git).
func IsVariantTransition(a, b PackageIdentity) bool {
	return IsSamePackage(a, b) && a.ActualPackageName != b.ActualPackageName
}
