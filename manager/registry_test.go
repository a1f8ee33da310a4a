package manager

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryContainsBuiltins(t *testing.T) {
	r := NewRegistry(NewMockCommandRunner())
	for _, name := range []string{"aur", "flatpak", "npm", "pip", "cargo", "brew"} {
		_, ok := r.Lookup(name)
		assert.True(t, ok, "builtin %s missing", name)
	}
}

func TestRegistryLookupIsCaseInsensitive(t *testing.T) {
	r := NewRegistry(NewMockCommandRunner())
	_, ok := r.Lookup("AUR")
	assert.True(t, ok)
}

func TestRegistryUserDefinitionOverridesBuiltin(t *testing.T) {
	r := NewRegistry(NewMockCommandRunner())

	custom := NewBackendConfig("npm")
	custom.Binary = []string{"my-npm"}
	custom.InstallCmd = "{binary} custom-install {packages}"
	require.NoError(t, r.Register(custom))

	cfg, ok := r.Lookup("npm")
	require.True(t, ok)
	assert.Equal(t, []string{"my-npm"}, cfg.Binary)
}

func TestRegistryRejectsInvalidDefinition(t *testing.T) {
	r := NewRegistry(NewMockCommandRunner())
	bad := NewBackendConfig("bad")
	assert.Error(t, r.Register(bad))
}

func TestRegistryLookupReturnsClone(t *testing.T) {
	r := NewRegistry(NewMockCommandRunner())
	cfg, ok := r.Lookup("aur")
	require.True(t, ok)

	cfg.Binary[0] = "mutated"
	again, _ := r.Lookup("aur")
	assert.NotEqual(t, "mutated", again.Binary[0])
}

func TestRegistryManagerUnknownBackend(t *testing.T) {
	r := NewRegistry(NewMockCommandRunner())
	_, err := r.Manager("definitely-not-a-backend")
	assert.ErrorIs(t, err, ErrUnknownBackend)
}

func TestRegistryManagerAppliesOverrides(t *testing.T) {
	r := NewRegistry(NewMockCommandRunner())
	r.SetOverrides(map[string]map[string]string{
		"npm": {"install": "{binary} install --omit=dev -g {packages}"},
	})

	mgr, err := r.Manager("npm")
	require.NoError(t, err)
	assert.Equal(t, "{binary} install --omit=dev -g {packages}", mgr.Config().InstallCmd)

	// The canonical definition is untouched.
	cfg, _ := r.Lookup("npm")
	assert.Equal(t, "{binary} install -g {packages}", cfg.InstallCmd)
}

func TestRegistryManagerWiresFallback(t *testing.T) {
	r := NewRegistry(NewMockCommandRunner())
	mgr, err := r.Manager("aur")
	require.NoError(t, err)
	require.NotNil(t, mgr.fallback)
	assert.Equal(t, "pacman", mgr.fallback.Name().Name())
}

func TestRegistryManagerDetectsFallbackCycle(t *testing.T) {
	r := NewRegistry(NewMockCommandRunner())

	a := NewBackendConfig("cyc-a")
	a.Binary = []string{"cyc-a"}
	a.InstallCmd = "{binary} i {packages}"
	a.Fallback = "cyc-b"
	require.NoError(t, r.Register(a))

	b := NewBackendConfig("cyc-b")
	b.Binary = []string{"cyc-b"}
	b.InstallCmd = "{binary} i {packages}"
	b.Fallback = "cyc-a"
	require.NoError(t, r.Register(b))

	// Cycle is tolerated: the chain stops where it would loop.
	mgr, err := r.Manager("cyc-a")
	require.NoError(t, err)
	require.NotNil(t, mgr.fallback)
	assert.Nil(t, mgr.fallback.fallback)
}

func TestRegistryManagersSkipsUnknown(t *testing.T) {
	r := NewRegistry(NewMockCommandRunner())
	managers := r.Managers([]string{"npm", "nope"})
	assert.Len(t, managers, 1)
	assert.Contains(t, managers, "npm")
}
