package commands

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nixval/declarch/state"
)

// SwitchOptions mirror the switch command surface.
type SwitchOptions struct {
	Old     string
	New     string
	Backend string
	Yes     bool
}

// Switch replaces one installed package with another on the same backend:
// remove old, install new, transactionally. If the install fails after a
// successful removal, the old package is reinstalled and the state restored
// from an in-memory snapshot.
//
// Cross-backend switches are refused: there is no atomic way to migrate
// state and hooks between two different managers.
func Switch(deps *Deps, opts SwitchOptions) error {
	backend, oldName, newName, err := resolveSwitchBackend(deps, opts)
	if err != nil {
		return err
	}

	mgr, err := deps.Registry.Manager(backend)
	if err != nil {
		return err
	}
	if !mgr.IsAvailable() {
		return errors.Errorf("backend '%s' is not available on this system", backend)
	}
	mgr.SetNoconfirm(opts.Yes)
	mgr.SetInteractive(!opts.Yes)

	if !opts.Yes && deps.Confirm != nil {
		if !deps.Confirm("Switch " + backend + ":" + oldName + " -> " + backend + ":" + newName + "?") {
			return nil
		}
	}

	lock, err := deps.Store.Acquire()
	if err != nil {
		return err
	}
	defer lock.Release()

	st, err := deps.Store.Load()
	if err != nil {
		return err
	}

	// Snapshot for rollback before any mutation.
	restore := make(map[string]state.PackageState, len(st.Packages))
	for k, v := range st.Packages {
		restore[k] = v
	}

	if err := mgr.Remove([]string{oldName}); err != nil {
		return errors.Wrapf(err, "removing '%s'", oldName)
	}
	st.Remove(backend, oldName)

	if err := mgr.Install([]string{newName}); err != nil {
		// Roll back: put the old package and the old state back.
		logrus.WithField("package", newName).WithError(err).
			Error("install failed after removal, rolling back")
		if rbErr := mgr.Install([]string{oldName}); rbErr != nil {
			logrus.WithField("package", oldName).WithError(rbErr).
				Error("rollback reinstall failed; system and state may diverge")
		}
		st.Packages = restore
		if saveErr := deps.Store.Save(st); saveErr != nil {
			logrus.WithError(saveErr).Error("restoring state failed")
		}
		return errors.Wrapf(err, "installing '%s'", newName)
	}

	st.Insert(state.PackageState{
		Backend:      backend,
		ConfigName:   newName,
		ProvidesName: newName,
		InstalledAt:  time.Now().UTC(),
	})
	state.Touch(st)
	if err := deps.Store.Save(st); err != nil {
		return err
	}

	deps.printf("Switched %s:%s -> %s:%s\n", backend, oldName, backend, newName)
	return nil
}

// resolveSwitchBackend applies the backend detection rules: an explicit
// --backend flag wins; otherwise prefixes on the package names must agree;
// otherwise the single backend recording the old package is used.
func resolveSwitchBackend(deps *Deps, opts SwitchOptions) (backend, oldName, newName string, err error) {
	oldBackend, oldName := splitPrefix(opts.Old)
	newBackend, newName := splitPrefix(opts.New)

	switch {
	case opts.Backend != "":
		backend = strings.ToLower(opts.Backend)
	case oldBackend != "" && newBackend != "":
		if oldBackend != newBackend {
			return "", "", "", errors.Errorf(
				"cross-backend switch is not supported (%s vs %s)", oldBackend, newBackend)
		}
		backend = oldBackend
	case oldBackend != "":
		backend = oldBackend
	case newBackend != "":
		backend = newBackend
	default:
		// Fall back to the backend that recorded the old package.
		st, loadErr := deps.Store.Load()
		if loadErr != nil {
			return "", "", "", loadErr
		}
		var candidates []string
		for _, ps := range st.Packages {
			if ps.ConfigName == oldName {
				candidates = append(candidates, ps.Backend)
			}
		}
		switch len(candidates) {
		case 0:
			return "", "", "", errors.Errorf(
				"cannot determine backend for '%s': not in state; use --backend or a '<backend>:' prefix", oldName)
		case 1:
			backend = candidates[0]
		default:
			return "", "", "", errors.Errorf(
				"'%s' is managed by multiple backends (%s); use --backend", oldName, strings.Join(candidates, ", "))
		}
	}

	if oldBackend != "" && oldBackend != backend {
		return "", "", "", errors.Errorf("prefix '%s' contradicts backend '%s'", oldBackend, backend)
	}
	if newBackend != "" && newBackend != backend {
		return "", "", "", errors.Errorf("prefix '%s' contradicts backend '%s'", newBackend, backend)
	}
	return backend, oldName, newName, nil
}

func splitPrefix(s string) (backend, name string) {
	if b, n, ok := strings.Cut(s, ":"); ok && b != "" && n != "" {
		return strings.ToLower(b), n
	}
	return "", s
}
