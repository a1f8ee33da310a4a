package core

import "strings"

// variantSuffixes are the known suffixes that mark alternate builds of the
// same logical package. They apply to any backend, not just the AUR.
var variantSuffixes = []string{
	"-bin", "-git", "-hg", "-nightly", "-beta", "-wayland",
	"-appimage", "-fs", "-alpha", "-rc", "-pre",
}

// PackageMatcher finds packages in an installed snapshot across variants and
// naming schemes. Matching runs three strategies in order and the first hit
// wins: exact id, variant suffix add/strip, then case-insensitive substring
// within the same backend (for reverse-DNS ids like com.spotify.Client).
type PackageMatcher struct{}

// NewPackageMatcher creates a matcher.
func NewPackageMatcher() *PackageMatcher {
	return &PackageMatcher{}
}

// FindPackage locates target in the snapshot, returning the matched id and
// true, or the zero id and false when nothing matches.
func (m *PackageMatcher) FindPackage(target PackageId, snapshot Snapshot) (PackageId, bool) {
	if _, ok := snapshot[target]; ok {
		return target, true
	}
	if id, ok := m.findVariantMatch(target, snapshot); ok {
		return id, true
	}
	return m.findFuzzyMatch(target, snapshot)
}

// findVariantMatch tries appending each known suffix to the target name, then
// stripping each known suffix from it.
func (m *PackageMatcher) findVariantMatch(target PackageId, snapshot Snapshot) (PackageId, bool) {
	for _, suffix := range variantSuffixes {
		alt := PackageId{Name: target.Name + suffix, Backend: target.Backend}
		if _, ok := snapshot[alt]; ok {
			return alt, true
		}
	}
	for _, suffix := range variantSuffixes {
		base, found := strings.CutSuffix(target.Name, suffix)
		if !found {
			continue
		}
		alt := PackageId{Name: base, Backend: target.Backend}
		if _, ok := snapshot[alt]; ok {
			return alt, true
		}
	}
	return PackageId{}, false
}

// findFuzzyMatch matches case-insensitively when either name contains the
// other, restricted to the target's backend.
func (m *PackageMatcher) findFuzzyMatch(target PackageId, snapshot Snapshot) (PackageId, bool) {
	search := strings.ToLower(target.Name)
	for installed := range snapshot {
		if installed.Backend != target.Backend {
			continue
		}
		name := strings.ToLower(installed.Name)
		if strings.Contains(name, search) || strings.Contains(search, name) {
			return installed, true
		}
	}
	return PackageId{}, false
}

// IsSameLogicalPackage reports whether two ids refer to the same package,
// treating known variant suffixes as equivalent.
func (m *PackageMatcher) IsSameLogicalPackage(a, b PackageId) bool {
	if a.Backend != b.Backend {
		return false
	}
	if a.Name == b.Name {
		return true
	}
	return StripVariantSuffix(a.Name) == StripVariantSuffix(b.Name)
}

// GetVariants enumerates the base name plus every suffixed candidate form.
func (m *PackageMatcher) GetVariants(base string) []string {
	variants := make([]string, 0, len(variantSuffixes)+1)
	variants = append(variants, base)
	for _, suffix := range variantSuffixes {
		variants = append(variants, base+suffix)
	}
	return variants
}

// StripVariantSuffix removes the first matching known suffix from name.
func StripVariantSuffix(name string) string {
	for _, suffix := range variantSuffixes {
		if base, found := strings.CutSuffix(name, suffix); found {
			return base
		}
	}
	return name
}

// IsVariantName reports whether name carries a known variant suffix.
func IsVariantName(name string) bool {
	for _, suffix := range variantSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}
