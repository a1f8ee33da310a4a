package commands

import (
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/nixval/declarch/config"
	"github.com/nixval/declarch/core"
)

// InstallOptions mirror the install command surface.
type InstallOptions struct {
	// Packages are "<backend>:<name>" or bare names resolved against
	// DefaultBackend.
	Packages []string
	// Module names a file under modules/ to declare the packages in; empty
	// targets the root config.
	Module         string
	DefaultBackend string
	NoSync         bool
	Yes            bool
	Noconfirm      bool
}

// Install declares packages in the configuration and then syncs, so the
// config stays the single source of truth even for ad-hoc installs.
func Install(deps *Deps, opts InstallOptions) error {
	if len(opts.Packages) == 0 {
		return errors.New("no packages given")
	}
	defaultBackend := opts.DefaultBackend
	if defaultBackend == "" {
		defaultBackend = core.BackendAur
	}

	ids := make([]core.PackageId, 0, len(opts.Packages))
	for _, raw := range opts.Packages {
		id := core.ParsePackageId(raw, defaultBackend)
		if _, ok := deps.Registry.Lookup(id.Backend.Name()); !ok {
			return errors.Errorf("unknown backend '%s' in '%s'", id.Backend.Name(), raw)
		}
		ids = append(ids, id)
	}

	target := deps.configPath()
	if opts.Module != "" {
		module := opts.Module
		if filepath.Ext(module) == "" {
			module += ".kdl"
		}
		target = filepath.Join(filepath.Dir(deps.configPath()), "modules", module)
	}

	editor := config.NewEditor(deps.Fs)
	if err := editor.AddPackages(target, ids); err != nil {
		return err
	}
	deps.printf("Declared %d package(s) in %s\n", len(ids), target)

	// A module file must be imported to take effect; remind rather than
	// rewrite the root config behind the user's back.
	if opts.Module != "" {
		merged, err := deps.loadConfig()
		if err == nil && !importsInclude(merged.Imports, target) {
			deps.printf("note: %s is not imported from %s yet\n", target, deps.configPath())
		}
	}

	if opts.NoSync {
		return nil
	}
	return Sync(deps, SyncOptions{Yes: opts.Yes, Noconfirm: opts.Noconfirm})
}

func importsInclude(imports []string, target string) bool {
	for _, imported := range imports {
		if imported == target {
			return true
		}
	}
	return false
}
