package resolver

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nixval/declarch/config"
	"github.com/nixval/declarch/core"
	"github.com/nixval/declarch/state"
)

func desiredConfig(ids ...core.PackageId) *config.MergedConfig {
	cfg := config.NewMergedConfig()
	for _, id := range ids {
		cfg.AddPackage(id, "/cfg/declarch.kdl")
	}
	return cfg
}

func stateWith(ids ...core.PackageId) *state.State {
	st := state.Default("testhost", "declarch/test")
	for _, id := range ids {
		st.Insert(state.PackageState{
			Backend:      id.Backend.Name(),
			ConfigName:   id.Name,
			ProvidesName: id.Name,
			InstalledAt:  time.Now(),
		})
	}
	return st
}

func snapshotWith(ids ...core.PackageId) core.Snapshot {
	snap := core.Snapshot{}
	for _, id := range ids {
		snap[id] = core.PackageMetadata{Version: "1.0.0", InstalledAt: time.Now()}
	}
	return snap
}

func TestEmptyStateFirstSync(t *testing.T) {
	alpha := core.NewPackageId("mockpm", "alpha")
	plan, err := Resolve(Request{
		Config:   desiredConfig(alpha),
		State:    state.Default("h", "g"),
		Snapshot: core.Snapshot{},
		Target:   core.AllTarget(),
	})
	require.NoError(t, err)

	assert.Equal(t, []core.PackageId{alpha}, plan.Transaction.ToInstall)
	assert.Empty(t, plan.Transaction.ToAdopt)
	assert.Empty(t, plan.Transaction.ToPrune)
}

func TestAdoptionOfInstalledButUntracked(t *testing.T) {
	alpha := core.NewPackageId("mockpm", "alpha")
	plan, err := Resolve(Request{
		Config:   desiredConfig(alpha),
		State:    state.Default("h", "g"),
		Snapshot: snapshotWith(alpha),
		Target:   core.AllTarget(),
	})
	require.NoError(t, err)

	assert.Empty(t, plan.Transaction.ToInstall)
	assert.Equal(t, []core.PackageId{alpha}, plan.Transaction.ToAdopt)
	assert.False(t, plan.Matches[alpha].Variant)
}

func TestTrackedAndInstalledIsNoop(t *testing.T) {
	alpha := core.NewPackageId("mockpm", "alpha")
	plan, err := Resolve(Request{
		Config:   desiredConfig(alpha),
		State:    stateWith(alpha),
		Snapshot: snapshotWith(alpha),
		Target:   core.AllTarget(),
		Prune:    true,
	})
	require.NoError(t, err)
	assert.True(t, plan.Transaction.IsEmpty())
}

func TestVariantDetectionAdoptsWithActualName(t *testing.T) {
	hyprland := core.NewPackageId("aur", "hyprland")
	hyprlandGit := core.NewPackageId("aur", "hyprland-git")

	plan, err := Resolve(Request{
		Config:   desiredConfig(hyprland),
		State:    state.Default("h", "g"),
		Snapshot: snapshotWith(hyprlandGit),
		Target:   core.AllTarget(),
	})
	require.NoError(t, err)

	require.Equal(t, []core.PackageId{hyprland}, plan.Transaction.ToAdopt)
	match := plan.Matches[hyprland]
	assert.True(t, match.Variant)
	assert.Equal(t, "hyprland-git", match.Installed.Name)
}

func TestOrphanPrune(t *testing.T) {
	bat := core.NewPackageId("aur", "bat")
	old := core.NewPackageId("aur", "old")

	plan, err := Resolve(Request{
		Config:   desiredConfig(bat),
		State:    stateWith(bat, old),
		Snapshot: snapshotWith(bat, old),
		Target:   core.AllTarget(),
		Prune:    true,
	})
	require.NoError(t, err)
	assert.Equal(t, []core.PackageId{old}, plan.Transaction.ToPrune)
}

func TestProtectedNamesAreNeverPruned(t *testing.T) {
	bat := core.NewPackageId("aur", "bat")
	old := core.NewPackageId("aur", "old")
	cfg := desiredConfig(bat)
	cfg.Policy.Protected = []string{"old"}

	plan, err := Resolve(Request{
		Config:   cfg,
		State:    stateWith(bat, old),
		Snapshot: snapshotWith(bat, old),
		Target:   core.AllTarget(),
		Prune:    true,
	})
	require.NoError(t, err)
	assert.Empty(t, plan.Transaction.ToPrune)
}

func TestPruneDisabledYieldsNoPrunes(t *testing.T) {
	bat := core.NewPackageId("aur", "bat")
	plan, err := Resolve(Request{
		Config:   desiredConfig(),
		State:    stateWith(bat),
		Snapshot: snapshotWith(bat),
		Target:   core.AllTarget(),
	})
	require.NoError(t, err)
	assert.Empty(t, plan.Transaction.ToPrune)
}

func TestExcludedNamesAreSkipped(t *testing.T) {
	bat := core.NewPackageId("aur", "bat")
	cfg := desiredConfig(bat)
	cfg.Excludes = []string{"bat"}

	plan, err := Resolve(Request{
		Config:   cfg,
		State:    state.Default("h", "g"),
		Snapshot: core.Snapshot{},
		Target:   core.AllTarget(),
	})
	require.NoError(t, err)
	assert.True(t, plan.Transaction.IsEmpty())
}

func TestBackendTargetScopesInstallAndPrune(t *testing.T) {
	aurPkg := core.NewPackageId("aur", "bat")
	npmPkg := core.NewPackageId("npm", "typescript")
	npmOrphan := core.NewPackageId("npm", "left-behind")

	plan, err := Resolve(Request{
		Config:   desiredConfig(aurPkg, npmPkg),
		State:    stateWith(npmOrphan),
		Snapshot: core.Snapshot{},
		Target:   core.BackendTarget("npm"),
		Prune:    true,
	})
	require.NoError(t, err)

	assert.Equal(t, []core.PackageId{npmPkg}, plan.Transaction.ToInstall)
	assert.Equal(t, []core.PackageId{npmOrphan}, plan.Transaction.ToPrune)
}

func TestNamedTargetMatchesPackage(t *testing.T) {
	bat := core.NewPackageId("aur", "bat")
	rip := core.NewPackageId("aur", "ripgrep")

	plan, err := Resolve(Request{
		Config:   desiredConfig(bat, rip),
		State:    state.Default("h", "g"),
		Snapshot: core.Snapshot{},
		Target:   core.NamedTarget("bat"),
	})
	require.NoError(t, err)
	assert.Equal(t, []core.PackageId{bat}, plan.Transaction.ToInstall)
}

func TestNamedTargetMatchesModulePath(t *testing.T) {
	cfg := config.NewMergedConfig()
	dev := core.NewPackageId("npm", "typescript")
	cfg.AddPackage(dev, "/cfg/modules/dev.kdl")
	cfg.AddPackage(core.NewPackageId("aur", "steam"), "/cfg/modules/gaming.kdl")

	plan, err := Resolve(Request{
		Config:   cfg,
		State:    state.Default("h", "g"),
		Snapshot: core.Snapshot{},
		Target:   core.NamedTarget("modules/dev"),
	})
	require.NoError(t, err)
	assert.Equal(t, []core.PackageId{dev}, plan.Transaction.ToInstall)
}

func TestNamedTargetNotFound(t *testing.T) {
	_, err := Resolve(Request{
		Config:   desiredConfig(core.NewPackageId("aur", "bat")),
		State:    state.Default("h", "g"),
		Snapshot: core.Snapshot{},
		Target:   core.NamedTarget("nope"),
	})
	require.Error(t, err)
	var notFound *core.TargetNotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestConflictRefusal(t *testing.T) {
	vim := core.NewPackageId("aur", "vim")
	neovim := core.NewPackageId("aur", "neovim")
	cfg := desiredConfig(vim, neovim)
	cfg.Conflicts = []config.ConflictRule{{Packages: []string{"vim", "neovim"}}}

	_, err := Resolve(Request{
		Config:   cfg,
		State:    state.Default("h", "g"),
		Snapshot: core.Snapshot{},
		Target:   core.AllTarget(),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vim")
	assert.Contains(t, err.Error(), "neovim")
}

func TestConflictWithSingleMemberDesiredIsFine(t *testing.T) {
	vim := core.NewPackageId("aur", "vim")
	cfg := desiredConfig(vim)
	cfg.Conflicts = []config.ConflictRule{{Packages: []string{"vim", "neovim"}}}

	_, err := Resolve(Request{
		Config:   cfg,
		State:    state.Default("h", "g"),
		Snapshot: core.Snapshot{},
		Target:   core.AllTarget(),
	})
	assert.NoError(t, err)
}

func TestTransactionSetsAreDisjoint(t *testing.T) {
	installed := core.NewPackageId("aur", "present")
	missing := core.NewPackageId("aur", "missing")
	orphan := core.NewPackageId("aur", "orphan")

	plan, err := Resolve(Request{
		Config:   desiredConfig(installed, missing),
		State:    stateWith(orphan),
		Snapshot: snapshotWith(installed),
		Target:   core.AllTarget(),
		Prune:    true,
	})
	require.NoError(t, err)

	inSet := func(ids []core.PackageId, id core.PackageId) bool {
		for _, x := range ids {
			if x == id {
				return true
			}
		}
		return false
	}
	tx := plan.Transaction
	for _, id := range tx.ToInstall {
		assert.False(t, inSet(tx.ToAdopt, id))
		assert.False(t, inSet(tx.ToPrune, id))
	}
	for _, id := range tx.ToAdopt {
		assert.False(t, inSet(tx.ToPrune, id))
	}
}

func TestSecondSyncIsEmpty(t *testing.T) {
	// After a successful first sync the state mirrors the config and system,
	// so re-resolving yields an empty transaction.
	alpha := core.NewPackageId("mockpm", "alpha")
	plan, err := Resolve(Request{
		Config:   desiredConfig(alpha),
		State:    stateWith(alpha),
		Snapshot: snapshotWith(alpha),
		Target:   core.AllTarget(),
		Prune:    true,
	})
	require.NoError(t, err)
	assert.True(t, plan.Transaction.IsEmpty())
}
