package config

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nixval/declarch/core"
)

func writeFiles(t *testing.T, files map[string]string) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	for path, content := range files {
		require.NoError(t, afero.WriteFile(fs, path, []byte(content), 0o644))
	}
	return fs
}

func loadWith(t *testing.T, fs afero.Fs, root string) *MergedConfig {
	t.Helper()
	merged, err := NewLoader(fs).Load(root)
	require.NoError(t, err)
	return merged
}

func TestLoadPackagesFromPkgBlock(t *testing.T) {
	fs := writeFiles(t, map[string]string{
		"/cfg/declarch.kdl": `
pkg {
    aur {
        hyprland
        bat
    }
    flatpak { com.spotify.Client }
}
`,
	})
	merged := loadWith(t, fs, "/cfg/declarch.kdl")

	ids := merged.PackageIds()
	assert.Equal(t, []core.PackageId{
		core.NewPackageId("aur", "hyprland"),
		core.NewPackageId("aur", "bat"),
		core.NewPackageId("flatpak", "com.spotify.Client"),
	}, ids)
	assert.Equal(t, []string{"/cfg/declarch.kdl"}, merged.Sources(ids[0]))
}

func TestLoadPkgShorthandForms(t *testing.T) {
	fs := writeFiles(t, map[string]string{
		"/cfg/declarch.kdl": `
pkg:npm { typescript eslint }
pkg { aur:zoxide }
flatpak:org.gimp.GIMP
`,
	})
	merged := loadWith(t, fs, "/cfg/declarch.kdl")

	assert.True(t, merged.HasPackage(core.NewPackageId("npm", "typescript")))
	assert.True(t, merged.HasPackage(core.NewPackageId("npm", "eslint")))
	assert.True(t, merged.HasPackage(core.NewPackageId("aur", "zoxide")))
	assert.True(t, merged.HasPackage(core.NewPackageId("flatpak", "org.gimp.GIMP")))
}

func TestEmptyPkgBlockContributesNothing(t *testing.T) {
	fs := writeFiles(t, map[string]string{"/cfg/declarch.kdl": "pkg {}\n"})
	merged := loadWith(t, fs, "/cfg/declarch.kdl")
	assert.Empty(t, merged.PackageIds())
}

func TestImportsMergeInOrder(t *testing.T) {
	fs := writeFiles(t, map[string]string{
		"/cfg/declarch.kdl": `
imports {
    "modules/dev.kdl"
}
pkg { aur { bat } }
`,
		"/cfg/modules/dev.kdl": `pkg { npm { typescript } }`,
	})
	merged := loadWith(t, fs, "/cfg/declarch.kdl")

	// Imported file contributes first (imports precede the pkg node).
	assert.Equal(t, []core.PackageId{
		core.NewPackageId("npm", "typescript"),
		core.NewPackageId("aur", "bat"),
	}, merged.PackageIds())
	assert.Contains(t, merged.Imports, "/cfg/modules/dev.kdl")
}

func TestImportMissingExtensionTriesKdl(t *testing.T) {
	fs := writeFiles(t, map[string]string{
		"/cfg/declarch.kdl":       `import "modules/dev"`,
		"/cfg/modules/dev.kdl":    `pkg { aur { bat } }`,
		"/cfg/modules/unused.kdl": ``,
	})
	merged := loadWith(t, fs, "/cfg/declarch.kdl")
	assert.True(t, merged.HasPackage(core.NewPackageId("aur", "bat")))
}

func TestImportCycleFails(t *testing.T) {
	fs := writeFiles(t, map[string]string{
		"/cfg/a.kdl": `import "b.kdl"`,
		"/cfg/b.kdl": `import "a.kdl"`,
	})
	_, err := NewLoader(fs).Load("/cfg/a.kdl")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Circular import detected")
	assert.Contains(t, err.Error(), "/cfg/a.kdl")
	assert.Contains(t, err.Error(), "/cfg/b.kdl")
}

func TestDiamondImportContributesOnce(t *testing.T) {
	fs := writeFiles(t, map[string]string{
		"/cfg/root.kdl":   "imports {\n    \"left.kdl\"\n    \"right.kdl\"\n}\n",
		"/cfg/left.kdl":   `import "shared.kdl"`,
		"/cfg/right.kdl":  `import "shared.kdl"`,
		"/cfg/shared.kdl": `pkg { aur { bat } }`,
	})
	merged := loadWith(t, fs, "/cfg/root.kdl")

	assert.Len(t, merged.PackageIds(), 1)
	assert.Equal(t, []string{"/cfg/shared.kdl"}, merged.Sources(core.NewPackageId("aur", "bat")))
}

func TestPathTraversalBlocked(t *testing.T) {
	fs := writeFiles(t, map[string]string{
		"/cfg/declarch.kdl": `import "../outside.kdl"`,
		"/outside.kdl":      `pkg { aur { evil } }`,
	})
	_, err := NewLoader(fs).Load("/cfg/declarch.kdl")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Path traversal blocked")
}

func TestTildeImportResolvesAgainstHome(t *testing.T) {
	fs := writeFiles(t, map[string]string{
		"/cfg/declarch.kdl":    `import "~/extra.kdl"`,
		"/home/tuxie/extra.kdl": `pkg { aur { bat } }`,
	})
	loader := NewLoader(fs)
	loader.SetHome("/home/tuxie")
	merged, err := loader.Load("/cfg/declarch.kdl")
	require.NoError(t, err)
	assert.True(t, merged.HasPackage(core.NewPackageId("aur", "bat")))
}

func TestMissingRootConfig(t *testing.T) {
	_, err := NewLoader(afero.NewMemMapFs()).Load("/cfg/declarch.kdl")
	require.Error(t, err)
	_, ok := err.(*ConfigNotFoundError)
	assert.True(t, ok)
}

func TestProfileAndHostSelectors(t *testing.T) {
	src := `
pkg { aur { base } }
profile "work" {
    pkg { aur { slack } }
}
profile "home" {
    pkg { aur { steam } }
}
host "laptop" {
    pkg { aur { tlp } }
}
`
	fs := writeFiles(t, map[string]string{"/cfg/declarch.kdl": src})

	loader := NewLoader(fs)
	loader.SetSelectors(Selectors{Profile: "work", Host: "laptop"})
	merged, err := loader.Load("/cfg/declarch.kdl")
	require.NoError(t, err)

	assert.True(t, merged.HasPackage(core.NewPackageId("aur", "base")))
	assert.True(t, merged.HasPackage(core.NewPackageId("aur", "slack")))
	assert.True(t, merged.HasPackage(core.NewPackageId("aur", "tlp")))
	assert.False(t, merged.HasPackage(core.NewPackageId("aur", "steam")))
}

func TestUnknownSelectorExpandsToNothing(t *testing.T) {
	fs := writeFiles(t, map[string]string{
		"/cfg/declarch.kdl": `
profile "other" { pkg { aur { slack } } }
`,
	})
	merged := loadWith(t, fs, "/cfg/declarch.kdl")
	assert.Empty(t, merged.PackageIds())
}

func TestExcludesConflictsAndPolicy(t *testing.T) {
	fs := writeFiles(t, map[string]string{
		"/cfg/declarch.kdl": `
excludes vim nano
conflicts vim neovim
policy {
    protected { linux systemd }
    orphans "remove"
}
`,
	})
	merged := loadWith(t, fs, "/cfg/declarch.kdl")

	assert.Equal(t, []string{"vim", "nano"}, merged.Excludes)
	require.Len(t, merged.Conflicts, 1)
	assert.Equal(t, []string{"vim", "neovim"}, merged.Conflicts[0].Packages)
	assert.True(t, merged.IsProtected("linux"))
	assert.True(t, merged.IsProtected("systemd"))
	assert.Equal(t, "remove", merged.Policy.Orphans)
}

func TestBackendOptionsLastWriterWins(t *testing.T) {
	fs := writeFiles(t, map[string]string{
		"/cfg/declarch.kdl": `
import "extra.kdl"
options:npm {
    install "{binary} install -g {packages}"
    needs_sudo "false"
}
`,
		"/cfg/extra.kdl": `
options:npm {
    install "{binary} old-install {packages}"
}
`,
	})
	merged := loadWith(t, fs, "/cfg/declarch.kdl")

	// extra.kdl loads first; the root file's later value wins.
	assert.Equal(t, "{binary} install -g {packages}", merged.BackendOptions["npm"]["install"])
	assert.Equal(t, "false", merged.BackendOptions["npm"]["needs_sudo"])
}

func TestEnvAndRepos(t *testing.T) {
	fs := writeFiles(t, map[string]string{
		"/cfg/declarch.kdl": `
env { GLOBAL "1" }
env:npm {
    NPM_CONFIG_FUND "false"
}
repos:flatpak { "flathub" "flathub-beta" }
repos:flatpak { "flathub" }
`,
	})
	merged := loadWith(t, fs, "/cfg/declarch.kdl")

	assert.Equal(t, []string{"GLOBAL=1"}, merged.Env[""])
	assert.Equal(t, []string{"NPM_CONFIG_FUND=false"}, merged.Env["npm"])
	assert.Equal(t, []string{"flathub", "flathub-beta"}, merged.PackageSources["flatpak"])
}

func TestHooksParsing(t *testing.T) {
	fs := writeFiles(t, map[string]string{
		"/cfg/declarch.kdl": `
hooks {
    pre-sync "mkdir -p ~/.cache" --ignore
    post-sync "notify-send done" --sudo --required
    hyprland {
        post-install "systemctl --user restart hyprland"
    }
    zsh:post-install "chsh -s /bin/zsh"
}
on-sync "echo synced"
on-pre-sync "echo starting"
`,
	})
	merged := loadWith(t, fs, "/cfg/declarch.kdl")
	require.Len(t, merged.Actions, 6)

	pre := merged.Actions[0]
	assert.Equal(t, PhasePreSync, pre.Phase)
	assert.Equal(t, BehaviorIgnore, pre.ErrorBehavior)
	assert.Equal(t, ActionUser, pre.Type)

	post := merged.Actions[1]
	assert.Equal(t, ActionRoot, post.Type)
	assert.Equal(t, BehaviorRequired, post.ErrorBehavior)

	scoped := merged.Actions[2]
	assert.Equal(t, "hyprland", scoped.Package)
	assert.Equal(t, PhasePostInstall, scoped.Phase)

	shorthand := merged.Actions[3]
	assert.Equal(t, "zsh", shorthand.Package)

	assert.Equal(t, PhasePostSync, merged.Actions[4].Phase)
	assert.Equal(t, PhasePreSync, merged.Actions[5].Phase)
}

func TestHooksUnknownPhaseFails(t *testing.T) {
	fs := writeFiles(t, map[string]string{
		"/cfg/declarch.kdl": `hooks { not-a-phase "cmd" }`,
	})
	_, err := NewLoader(fs).Load("/cfg/declarch.kdl")
	assert.Error(t, err)
}

func TestActionsForFiltersPhaseAndPackage(t *testing.T) {
	merged := NewMergedConfig()
	merged.Actions = []Action{
		{Command: "a", Phase: PhasePreSync},
		{Command: "b", Phase: PhasePostInstall, Package: "zsh"},
		{Command: "c", Phase: PhasePostInstall, Package: "other"},
	}

	assert.Len(t, merged.ActionsFor(PhasePreSync, ""), 1)
	actions := merged.ActionsFor(PhasePostInstall, "zsh")
	require.Len(t, actions, 1)
	assert.Equal(t, "b", actions[0].Command)
}

func TestMetaEditorExperimentalMCP(t *testing.T) {
	fs := writeFiles(t, map[string]string{
		"/cfg/declarch.kdl": `
meta {
    title "my setup"
    author "tux"
}
editor "hx"
experimental "parallel-sync"
mcp {
    mode "read-only"
    allow-tools "search" "info"
}
`,
	})
	merged := loadWith(t, fs, "/cfg/declarch.kdl")

	assert.Equal(t, "my setup", merged.ProjectMeta["title"])
	assert.Equal(t, "hx", merged.Editor)
	assert.Equal(t, []string{"parallel-sync"}, merged.Experimental)
	assert.Equal(t, "read-only", merged.MCP.Mode)
	assert.Equal(t, []string{"search", "info"}, merged.MCP.AllowTools)
}

func TestBackendImportsRecorded(t *testing.T) {
	fs := writeFiles(t, map[string]string{
		"/cfg/declarch.kdl": "backends {\n    \"backends/nix.kdl\"\n}\n",
	})
	merged := loadWith(t, fs, "/cfg/declarch.kdl")
	assert.Equal(t, []string{"/cfg/backends/nix.kdl"}, merged.BackendImports)
}

func TestCollectModeGathersIssuesInsteadOfAborting(t *testing.T) {
	fs := writeFiles(t, map[string]string{
		"/cfg/declarch.kdl": `
import "missing.kdl"
pkg { aur { bat } }
`,
	})
	loader := NewLoader(fs)
	loader.SetCollectIssues(true)
	merged, err := loader.Load("/cfg/declarch.kdl")
	require.NoError(t, err)

	assert.NotEmpty(t, loader.Issues)
	assert.True(t, merged.HasPackage(core.NewPackageId("aur", "bat")))
}

func TestDuplicateDeclarationAccumulatesSources(t *testing.T) {
	fs := writeFiles(t, map[string]string{
		"/cfg/declarch.kdl": `
import "extra.kdl"
pkg { aur { bat } }
`,
		"/cfg/extra.kdl": `pkg { aur { bat } }`,
	})
	merged := loadWith(t, fs, "/cfg/declarch.kdl")

	assert.Len(t, merged.PackageIds(), 1)
	assert.Equal(t, []string{"/cfg/extra.kdl", "/cfg/declarch.kdl"},
		merged.Sources(core.NewPackageId("aur", "bat")))
}
