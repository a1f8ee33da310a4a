package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func mockMetadata() PackageMetadata {
	return PackageMetadata{Version: "1.0.0", InstalledAt: time.Now()}
}

func TestFindPackageExactMatch(t *testing.T) {
	matcher := NewPackageMatcher()
	pkg := NewPackageId("aur", "hyprland")
	snapshot := Snapshot{pkg: mockMetadata()}

	got, ok := matcher.FindPackage(pkg, snapshot)
	assert.True(t, ok)
	assert.Equal(t, "hyprland", got.Name)
}

func TestFindPackageSuffixMatch(t *testing.T) {
	matcher := NewPackageMatcher()
	snapshot := Snapshot{NewPackageId("aur", "hyprland-git"): mockMetadata()}

	got, ok := matcher.FindPackage(NewPackageId("aur", "hyprland"), snapshot)
	assert.True(t, ok)
	assert.Equal(t, "hyprland-git", got.Name)
}

func TestFindPackagePrefixMatch(t *testing.T) {
	matcher := NewPackageMatcher()
	snapshot := Snapshot{NewPackageId("aur", "hyprland"): mockMetadata()}

	got, ok := matcher.FindPackage(NewPackageId("aur", "hyprland-git"), snapshot)
	assert.True(t, ok)
	assert.Equal(t, "hyprland", got.Name)
}

func TestFindPackageFuzzyMatch(t *testing.T) {
	matcher := NewPackageMatcher()
	snapshot := Snapshot{NewPackageId("flatpak", "com.spotify.Client"): mockMetadata()}

	got, ok := matcher.FindPackage(NewPackageId("flatpak", "spotify"), snapshot)
	assert.True(t, ok)
	assert.Equal(t, "com.spotify.Client", got.Name)
}

func TestFindPackageDoesNotCrossBackends(t *testing.T) {
	matcher := NewPackageMatcher()
	snapshot := Snapshot{NewPackageId("flatpak", "hyprland"): mockMetadata()}

	_, ok := matcher.FindPackage(NewPackageId("aur", "hyprland"), snapshot)
	assert.False(t, ok)
}

func TestFindPackageNoMatch(t *testing.T) {
	matcher := NewPackageMatcher()
	snapshot := Snapshot{NewPackageId("aur", "wayland"): mockMetadata()}

	_, ok := matcher.FindPackage(NewPackageId("aur", "xorg"), snapshot)
	assert.False(t, ok)
}

func TestVariantDetectionWorksForAnyBackend(t *testing.T) {
	matcher := NewPackageMatcher()
	snapshot := Snapshot{NewPackageId("custom", "myapp-git"): mockMetadata()}

	got, ok := matcher.FindPackage(NewPackageId("custom", "myapp"), snapshot)
	assert.True(t, ok)
	assert.Equal(t, "myapp-git", got.Name)
}

func TestIsSameLogicalPackage(t *testing.T) {
	matcher := NewPackageMatcher()

	tests := []struct {
		name string
		a, b PackageId
		want bool
	}{
		{"variant pair", NewPackageId("aur", "hyprland"), NewPackageId("aur", "hyprland-git"), true},
		{"identical", NewPackageId("aur", "bat"), NewPackageId("aur", "bat"), true},
		{"different packages", NewPackageId("aur", "hyprland"), NewPackageId("aur", "wayland"), false},
		{"different backends", NewPackageId("aur", "bat"), NewPackageId("npm", "bat"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, matcher.IsSameLogicalPackage(tt.a, tt.b))
		})
	}
}

func TestGetVariants(t *testing.T) {
	matcher := NewPackageMatcher()
	variants := matcher.GetVariants("hyprland")

	assert.Equal(t, "hyprland", variants[0])
	assert.Contains(t, variants, "hyprland-git")
	assert.Contains(t, variants, "hyprland-bin")
	assert.Len(t, variants, len(variantSuffixes)+1)
}

func TestStripVariantSuffix(t *testing.T) {
	assert.Equal(t, "hyprland", StripVariantSuffix("hyprland-git"))
	assert.Equal(t, "firefox", StripVariantSuffix("firefox-nightly"))
	assert.Equal(t, "plain", StripVariantSuffix("plain"))
}
